package checker

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/alfredjeanlab/kgate/internal/model"
)

// ExcerptLines is the number of output lines quoted in failure reports.
const ExcerptLines = 5

// maxExcerptBytes caps how much of a log is scanned.
const maxExcerptBytes = 64 * 1024

// Excerpt returns up to n leading non-empty lines of stderr, falling back
// to stdout when stderr has none.
func Excerpt(stdoutPath, stderrPath string, n int) string {
	if s := headLines(stderrPath, n); s != "" {
		return s
	}
	return headLines(stdoutPath, n)
}

// ExcerptOf returns the output excerpt of a stored run, or "" when the run
// captured no output.
func ExcerptOf(run *model.GateRunResult) string {
	if run.Evidence == nil {
		return ""
	}
	return Excerpt(run.Evidence.StdoutPath, run.Evidence.StderrPath, ExcerptLines)
}

func headLines(path string, n int) string {
	if path == "" {
		return ""
	}
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(io.LimitReader(f, maxExcerptBytes))
	for sc.Scan() && len(lines) < n {
		line := strings.TrimRight(sc.Text(), " \t\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
