package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/kgate/internal/checker"
	"github.com/alfredjeanlab/kgate/internal/lifecycle"
	"github.com/alfredjeanlab/kgate/internal/model"
	"github.com/alfredjeanlab/kgate/internal/ui"
)

// explain itemizes gate failures carried by err and returns a short error
// for main to print.
func explain(err error) error {
	var gf *lifecycle.GuardFailedError
	if !errors.As(err, &gf) {
		return err
	}
	if jsonOutput {
		_ = printJSON(map[string]any{
			"issue_id": gf.IssueID,
			"stage":    gf.Stage,
			"failures": gf.Failures,
		})
	} else {
		fmt.Fprintf(os.Stderr, "%s %s gates not passed for %s:\n", ui.RenderFail("✗"), gf.Stage, gf.IssueID)
		writeFailures(os.Stderr, gf.Failures)
	}
	return fmt.Errorf("issue %s: %d %s gate(s) not passed", gf.IssueID, len(gf.Failures), gf.Stage)
}

func printMoved(issue *model.Issue) error {
	if jsonOutput {
		return printJSON(issue)
	}
	fmt.Printf("%s is %s\n", issue.ID, ui.RenderState(issue.State))
	return nil
}

// transitionCommand builds a command that moves one or more issues along
// the edge op takes. A single issue has its errors explained in full.
func transitionCommand(use, short string, to model.State, op func(cmd *cobra.Command, id string) (*model.Issue, error)) *cobra.Command {
	return &cobra.Command{
		Use:     use + " <id>...",
		Short:   short,
		GroupID: "workflow",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 1 {
				res := kg.machine.BulkApply(cmd.Context(), args, to, func(_ context.Context, id string) (*model.Issue, error) {
					return op(cmd, id)
				})
				return reportBulk(res, "moved to "+string(to)+":")
			}
			issue, err := op(cmd, args[0])
			if err != nil {
				return explain(err)
			}
			return printMoved(issue)
		},
	}
}

var startCmd = transitionCommand("start", "Run prechecks and begin work (ready -> in_progress)", model.StateInProgress,
	func(cmd *cobra.Command, id string) (*model.Issue, error) {
		issue, err := kg.machine.Start(cmd.Context(), id, actor)
		if err != nil {
			return nil, err
		}
		if claim, _ := cmd.Flags().GetBool("claim"); claim {
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if _, err := kg.claims.Claim(cmd.Context(), id, actor, ttl); err != nil {
				return nil, fmt.Errorf("started, but claiming failed: %w", err)
			}
		}
		return issue, nil
	})

var completeCmd = &cobra.Command{
	Use:     "complete <id>...",
	Short:   "Declare work done and run postchecks (in_progress -> gated)",
	GroupID: "workflow",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 1 {
			return reportBulk(kg.machine.BulkTransition(cmd.Context(), args, model.StateGated, actor), "completed")
		}
		if checker.Uncommitted(cmd.Context(), kg.repoRoot) {
			fmt.Fprintln(os.Stderr, ui.RenderWarn("warning: uncommitted changes; postchecks run against the work tree"))
		}
		res, err := kg.machine.Complete(cmd.Context(), args[0], actor)
		if err != nil {
			return explain(err)
		}
		if jsonOutput {
			checks := make([]outcomeView, len(res.Checks))
			for i, o := range res.Checks {
				checks[i] = viewOutcome(o)
			}
			blocking := res.Blocking
			if blocking == nil {
				blocking = []lifecycle.GateFailure{}
			}
			return printJSON(map[string]any{"issue": res.Issue, "checks": checks, "blocking": blocking})
		}
		printOutcomes(res.Checks)
		fmt.Printf("%s is %s\n", res.Issue.ID, ui.RenderState(res.Issue.State))
		if len(res.Blocking) > 0 {
			fmt.Println("Waiting on:")
			writeFailures(os.Stdout, res.Blocking)
		}
		return nil
	},
}

var reopenCmd = transitionCommand("reopen", "Resume work on a gated or done issue", model.StateInProgress,
	func(cmd *cobra.Command, id string) (*model.Issue, error) {
		return kg.machine.Reopen(cmd.Context(), id, actor)
	})

var unclaimCmd = transitionCommand("abort", "Abandon work on an issue (in_progress -> ready)", model.StateReady,
	func(cmd *cobra.Command, id string) (*model.Issue, error) {
		return kg.machine.Abort(cmd.Context(), id, actor)
	})

var archiveCmd = transitionCommand("archive", "Retire an issue that is not done", model.StateArchived,
	func(cmd *cobra.Command, id string) (*model.Issue, error) {
		return kg.machine.Archive(cmd.Context(), id, actor)
	})

var promoteCmd = &cobra.Command{
	Use:     "promote [id]",
	Short:   "Move backlog issues with done prerequisites to ready",
	GroupID: "workflow",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			issue, err := kg.machine.Promote(cmd.Context(), args[0], actor)
			if err != nil {
				return err
			}
			return printMoved(issue)
		}
		promoted, err := kg.machine.PromoteAll(cmd.Context(), actor)
		if jsonOutput {
			if promoted == nil {
				promoted = []string{}
			}
			if jerr := printJSON(map[string][]string{"promoted": promoted}); jerr != nil {
				return jerr
			}
		} else if len(promoted) == 0 {
			fmt.Println("Nothing to promote.")
		} else {
			for _, id := range promoted {
				fmt.Printf("%s %s is ready\n", ui.RenderPass("✓"), id)
			}
		}
		return err
	},
}

var transitionCmd = &cobra.Command{
	Use:     "transition <state> <id>...",
	Short:   "Request a lifecycle state for one or more issues",
	GroupID: "workflow",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		to := model.State(args[0])
		if !to.IsValid() {
			return fmt.Errorf("unknown state %q", args[0])
		}
		ids := args[1:]
		if len(ids) > 1 {
			return reportBulk(kg.machine.BulkTransition(cmd.Context(), ids, to, actor), "moved to "+string(to)+":")
		}
		issue, err := kg.machine.Transition(cmd.Context(), ids[0], to, actor)
		if err != nil {
			return explain(err)
		}
		return printMoved(issue)
	},
}

var claimCmd = &cobra.Command{
	Use:     "claim <id>",
	Short:   "Claim an issue for exclusive work",
	GroupID: "workflow",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if _, err := kg.store.GetIssue(cmd.Context(), args[0]); err != nil {
			return err
		}
		claim, err := kg.claims.Claim(cmd.Context(), args[0], actor, ttl)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(claim)
		}
		if claim.ExpiresAt != nil {
			fmt.Printf("%s claimed by %s until %s\n", claim.IssueID, claim.Holder, claim.ExpiresAt.Local().Format(timeLayout))
		} else {
			fmt.Printf("%s claimed by %s\n", claim.IssueID, claim.Holder)
		}
		return nil
	},
}

var releaseCmd = &cobra.Command{
	Use:     "release <id>",
	Short:   "Release your claim on an issue",
	GroupID: "workflow",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := kg.claims.Release(cmd.Context(), args[0], actor); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]string{"released": args[0]})
		}
		fmt.Printf("Released %s\n", args[0])
		return nil
	},
}

var claimsCmd = &cobra.Command{
	Use:     "claims",
	Short:   "List live claims",
	GroupID: "workflow",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := kg.claims.List(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			if list == nil {
				list = []*model.Claim{}
			}
			return printJSON(list)
		}
		if len(list) == 0 {
			fmt.Println("No live claims.")
			return nil
		}
		w := newTable()
		fmt.Fprintln(w, "ISSUE\tHOLDER\tSINCE\tEXPIRES")
		for _, c := range list {
			expires := "-"
			if c.ExpiresAt != nil {
				expires = time.Until(*c.ExpiresAt).Round(time.Second).String()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.IssueID, c.Holder, c.AcquiredAt.Local().Format(timeLayout), expires)
		}
		w.Flush()
		return nil
	},
}

func init() {
	startCmd.Flags().Bool("claim", false, "claim the issue as the actor once started")
	startCmd.Flags().Duration("ttl", 0, "claim lifetime with --claim (0 = until released)")
	claimCmd.Flags().Duration("ttl", 0, "claim lifetime (0 = until released)")
}
