package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/kgate/internal/checker"
	"github.com/alfredjeanlab/kgate/internal/lifecycle"
	"github.com/alfredjeanlab/kgate/internal/model"
	"github.com/alfredjeanlab/kgate/internal/ui"
)

const timeLayout = "2006-01-02 15:04:05"

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}

func gateSummary(issue *model.Issue) string {
	if len(issue.GatesRequired) == 0 {
		return "-"
	}
	passed := 0
	for _, k := range issue.GatesRequired {
		if issue.GateStatusOf(k) == model.RunPassed {
			passed++
		}
	}
	return fmt.Sprintf("%d/%d", passed, len(issue.GatesRequired))
}

func printIssueTable(issues []*model.Issue) {
	w := newTable()
	fmt.Fprintln(w, "ID\tSTATE\tPRI\tGATES\tTITLE")
	for _, issue := range issues {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", issue.ID, issue.State, issue.Priority, gateSummary(issue), issue.Title)
	}
	w.Flush()
}

// printIssue writes the detailed view used by show and the workflow commands.
func printIssue(issue *model.Issue, gates map[string]*model.GateDefinition, claim *model.Claim, blockers []string) {
	fmt.Printf("%s  %s\n", ui.RenderAccent(issue.ID), issue.Title)
	fmt.Printf("  State:     %s\n", ui.RenderState(issue.State))
	fmt.Printf("  Priority:  %d\n", issue.Priority)
	if issue.CreatedBy != "" {
		fmt.Printf("  Created:   %s by %s\n", issue.CreatedAt.Local().Format(timeLayout), issue.CreatedBy)
	} else {
		fmt.Printf("  Created:   %s\n", issue.CreatedAt.Local().Format(timeLayout))
	}
	fmt.Printf("  Updated:   %s\n", issue.UpdatedAt.Local().Format(timeLayout))
	if claim != nil {
		line := claim.Holder
		if claim.ExpiresAt != nil {
			line += " until " + claim.ExpiresAt.Local().Format(timeLayout)
		}
		fmt.Printf("  Claimed:   %s\n", line)
	}
	if len(issue.Dependencies) > 0 {
		fmt.Printf("  Depends:   %s\n", strings.Join(issue.Dependencies, ", "))
	}
	if len(blockers) > 0 {
		fmt.Printf("  Blocked:   %s\n", ui.RenderWarn(strings.Join(blockers, ", ")))
	}
	if issue.Description != "" {
		fmt.Printf("\n%s\n", issue.Description)
	}
	if len(issue.GatesRequired) == 0 {
		return
	}

	fmt.Println()
	w := newTable()
	fmt.Fprintln(w, "  GATE\tSTAGE\tMODE\tSTATUS\tBY\tRUN")
	for _, key := range issue.GatesRequired {
		stage, mode := "?", "?"
		if def := gates[key]; def != nil {
			stage, mode = string(def.Stage), string(def.Mode)
		}
		gs := issue.GatesStatus[key]
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\t%s\n", key, stage, mode, ui.RenderStatus(gs.Status), dash(gs.UpdatedBy), dash(gs.LastRunID))
	}
	w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func printGateTable(defs []*model.GateDefinition) {
	w := newTable()
	fmt.Fprintln(w, "KEY\tSTAGE\tMODE\tCHECKER\tTITLE")
	for _, def := range defs {
		check := "-"
		if def.Checker != nil {
			check = def.Checker.Describe()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", def.Key, def.Stage, def.Mode, check, def.Title)
	}
	w.Flush()
}

func printRunTable(runs []*model.GateRunResult) {
	w := newTable()
	fmt.Fprintln(w, "RUN\tGATE\tSTATUS\tEXIT\tDURATION\tBY\tSTARTED")
	for _, run := range runs {
		exit := "-"
		if code, ok := run.ExitCode(); ok {
			exit = fmt.Sprint(code)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", run.RunID, run.GateKey, ui.RenderStatus(run.Status), exit,
			run.Duration().Round(time.Millisecond), run.By, run.StartedAt.Local().Format(timeLayout))
	}
	w.Flush()
}

// writeFailures itemizes gate failures with their output excerpts.
func writeFailures(w io.Writer, failures []lifecycle.GateFailure) {
	for _, f := range failures {
		fmt.Fprintf(w, "  %s %s\n", ui.RenderFail("✗"), f.String())
		for _, line := range strings.Split(f.Excerpt, "\n") {
			if line != "" {
				fmt.Fprintf(w, "      %s\n", ui.RenderMuted(line))
			}
		}
	}
}

// outcomeView is the JSON shape of one checker execution.
type outcomeView struct {
	Key        string          `json:"key"`
	RunID      string          `json:"run_id,omitempty"`
	Status     model.RunStatus `json:"status,omitempty"`
	ExitCode   *int            `json:"exit_code,omitempty"`
	DurationMs int64           `json:"duration_ms,omitempty"`
	Message    string          `json:"message,omitempty"`
	Excerpt    string          `json:"excerpt,omitempty"`
	Error      string          `json:"error,omitempty"`
}

func viewOutcome(o lifecycle.GateOutcome) outcomeView {
	v := outcomeView{Key: o.Key, Excerpt: o.Excerpt}
	if o.Run != nil {
		v.RunID = o.Run.RunID
		v.Status = o.Run.Status
		v.DurationMs = o.Run.DurationMs
		v.Message = o.Run.Message
		if code, ok := o.Run.ExitCode(); ok {
			v.ExitCode = &code
		}
	}
	if o.Err != nil {
		v.Error = o.Err.Error()
	}
	return v
}

func printOutcomes(outcomes []lifecycle.GateOutcome) {
	for _, o := range outcomes {
		if o.Err != nil {
			fmt.Printf("  %s %s: %v\n", ui.RenderFail("✗"), o.Key, o.Err)
			continue
		}
		run := o.Run
		mark := ui.RenderPass("✓")
		if run.Status != model.RunPassed {
			mark = ui.RenderFail("✗")
		}
		detail := run.Duration().Round(time.Millisecond).String()
		if code, ok := run.ExitCode(); ok {
			detail = fmt.Sprintf("exit %d, %s", code, detail)
		}
		fmt.Printf("  %s %s: %s (%s) %s\n", mark, o.Key, ui.RenderStatus(run.Status), detail, ui.RenderMuted(run.RunID))
		if run.Status != model.RunPassed {
			excerpt := o.Excerpt
			if excerpt == "" {
				excerpt = checker.ExcerptOf(run)
			}
			for _, line := range strings.Split(excerpt, "\n") {
				if line != "" {
					fmt.Printf("      %s\n", ui.RenderMuted(line))
				}
			}
		}
	}
}

type bulkErrorView struct {
	IssueID string `json:"issue_id"`
	Error   string `json:"error"`
}

type bulkView struct {
	Succeeded []string        `json:"succeeded"`
	Skipped   []string        `json:"skipped"`
	Errors    []bulkErrorView `json:"errors"`
}

// reportBulk prints a bulk result and returns an error when any issue failed.
func reportBulk(res *lifecycle.BulkResult, verb string) error {
	if jsonOutput {
		v := bulkView{Succeeded: res.Succeeded, Skipped: res.Skipped, Errors: []bulkErrorView{}}
		if v.Succeeded == nil {
			v.Succeeded = []string{}
		}
		if v.Skipped == nil {
			v.Skipped = []string{}
		}
		for _, e := range res.Errors {
			v.Errors = append(v.Errors, bulkErrorView{IssueID: e.IssueID, Error: e.Err.Error()})
		}
		if err := printJSON(v); err != nil {
			return err
		}
	} else {
		for _, id := range res.Succeeded {
			fmt.Printf("%s %s %s\n", ui.RenderPass("✓"), verb, id)
		}
		for _, id := range res.Skipped {
			fmt.Printf("%s %s %s\n", ui.RenderMuted("-"), id, ui.RenderMuted("(no change)"))
		}
		for _, e := range res.Errors {
			fmt.Fprintf(os.Stderr, "%s %s: %v\n", ui.RenderFail("✗"), e.IssueID, e.Err)
		}
	}
	if n := len(res.Errors); n > 0 {
		total := n + len(res.Succeeded) + len(res.Skipped)
		return fmt.Errorf("%d of %d issues failed", n, total)
	}
	return nil
}
