package ui

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// ShouldUseColor reports whether ANSI colors should be used on stdout.
func ShouldUseColor() bool {
	return ShouldUseColorOn(os.Stdout)
}

// ShouldUseColorOn reports whether ANSI colors should be used on f.
// NO_COLOR beats CLICOLOR_FORCE=1, which beats CLICOLOR=0 and TERM=dumb.
// Otherwise color follows whether f is a terminal.
func ShouldUseColorOn(f *os.File) bool {
	switch {
	case os.Getenv("NO_COLOR") != "":
		return false
	case envIs("CLICOLOR_FORCE", "1"):
		return true
	case envIs("CLICOLOR", "0"), envIs("TERM", "dumb"):
		return false
	}
	return f != nil && term.IsTerminal(int(f.Fd()))
}

func envIs(key, want string) bool {
	return strings.TrimSpace(os.Getenv(key)) == want
}
