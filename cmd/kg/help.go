package main

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/kgate/internal/model"
	"github.com/alfredjeanlab/kgate/internal/ui"
)

// helpRule rewrites one kind of token in cobra's plain help text.
type helpRule struct {
	re     *regexp.Regexp
	render func(parts []string) string
}

var helpRules = []helpRule{
	// Section headers: unindented line ending with ":" ("Gates:", "Flags:").
	{
		re:     regexp.MustCompile(`(?m)^([A-Z][^\n]*:)\s*$`),
		render: func(p []string) string { return ui.RenderAccent(strings.TrimSpace(p[0])) },
	},
	// Command names: two-space indent, a word, then the description gap.
	{
		re:     regexp.MustCompile(`(?m)^(  )(\S+)(  )`),
		render: func(p []string) string { return p[1] + ui.RenderCommand(p[2]) + p[3] },
	},
	// Flag type annotations such as "--ttl duration".
	{
		re:     regexp.MustCompile(`(--?\S+\s+)(string|int|duration|strings|stringArray|stringSlice)\b`),
		render: func(p []string) string { return p[1] + ui.RenderMuted(p[2]) },
	},
	{
		re:     regexp.MustCompile(`\(default "?[^)]*"?\)`),
		render: func(p []string) string { return ui.RenderMuted(p[0]) },
	},
	// Lifecycle states named in long descriptions.
	{
		re:     regexp.MustCompile(`\b(backlog|ready|in_progress|gated|done|archived)\b`),
		render: func(p []string) string { return ui.RenderState(model.State(p[1])) },
	},
}

// colorizedHelpFunc returns a cobra help function that styles the default
// help text when stdout supports color.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		if !ui.ShouldUseColor() {
			_ = cmd.Usage()
			return
		}

		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(out)
		fmt.Fprint(out, colorizeHelpOutput(buf.String()))
	}
}

func colorizeHelpOutput(s string) string {
	for _, rule := range helpRules {
		s = rule.re.ReplaceAllStringFunc(s, func(match string) string {
			parts := rule.re.FindStringSubmatch(match)
			if parts == nil {
				return match
			}
			return rule.render(parts)
		})
	}
	return s
}
