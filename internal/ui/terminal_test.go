package ui

import (
	"os"
	"path/filepath"
	"testing"
)

func TestShouldUseColorOn(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	tests := []struct {
		name     string
		noColor  string
		force    string
		clicolor string
		term     string
		want     bool
	}{
		{"plain file", "", "", "", "xterm", false},
		{"forced", "", "1", "", "xterm", true},
		{"no_color beats force", "1", "1", "", "xterm", false},
		{"clicolor off", "", "", "0", "xterm", false},
		{"force beats dumb terminal", "", "1", "", "dumb", true},
		{"dumb terminal", "", "", "", "dumb", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("NO_COLOR", tt.noColor)
			t.Setenv("CLICOLOR_FORCE", tt.force)
			t.Setenv("CLICOLOR", tt.clicolor)
			t.Setenv("TERM", tt.term)
			if got := ShouldUseColorOn(f); got != tt.want {
				t.Errorf("ShouldUseColorOn = %v, want %v", got, tt.want)
			}
		})
	}
}
