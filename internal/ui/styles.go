package ui

import (
	"fmt"

	"github.com/alfredjeanlab/kgate/internal/model"
)

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent = 74  // blue
	colorCmd    = 250 // light gray
	colorMuted  = 245 // medium gray
	colorPass   = 114 // green
	colorFail   = 203 // red
	colorWarn   = 179 // amber
)

var noColor bool

func paint(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return paint(colorCmd, s) }

// RenderPass returns s in the success color.
func RenderPass(s string) string { return paint(colorPass, s) }

// RenderFail returns s in the failure color.
func RenderFail(s string) string { return paint(colorFail, s) }

// RenderWarn returns s in the warning color.
func RenderWarn(s string) string { return paint(colorWarn, s) }

// RenderStatus colors a gate status. The empty status renders as "unset".
func RenderStatus(s model.RunStatus) string {
	switch s {
	case model.RunPassed:
		return RenderPass(string(s))
	case model.RunFailed, model.RunError:
		return RenderFail(string(s))
	case model.RunPending:
		return RenderWarn(string(s))
	case "":
		return RenderMuted("unset")
	default:
		return RenderMuted(string(s))
	}
}

// RenderState colors a lifecycle state.
func RenderState(s model.State) string {
	switch s {
	case model.StateInProgress:
		return RenderAccent(string(s))
	case model.StateGated:
		return RenderWarn(string(s))
	case model.StateDone:
		return RenderPass(string(s))
	case model.StateBacklog, model.StateArchived:
		return RenderMuted(string(s))
	default:
		return string(s)
	}
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
