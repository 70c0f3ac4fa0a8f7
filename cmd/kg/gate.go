package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/kgate/internal/lifecycle"
	"github.com/alfredjeanlab/kgate/internal/model"
	"github.com/alfredjeanlab/kgate/internal/ui"
)

var gateCmd = &cobra.Command{
	Use:     "gate",
	Short:   "Define gates and record their results",
	GroupID: "gates",
}

var gateDefineCmd = &cobra.Command{
	Use:   "define <key>",
	Short: "Add a gate to the registry",
	Long: `Add a gate to the registry.

A precheck gate must pass before an issue moves from ready to in_progress.
A postcheck gate must pass before a gated issue reaches done. Auto gates
run --command through the shell; manual gates are passed or failed by a
person with 'kg gate pass' and 'kg gate fail'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		desc, _ := cmd.Flags().GetString("description")
		stage, _ := cmd.Flags().GetString("stage")
		mode, _ := cmd.Flags().GetString("mode")
		command, _ := cmd.Flags().GetString("command")
		timeout, _ := cmd.Flags().GetInt("timeout")
		workdir, _ := cmd.Flags().GetString("workdir")
		envPairs, _ := cmd.Flags().GetStringArray("env")

		def := model.GateDefinition{
			Key:         args[0],
			Title:       title,
			Description: desc,
			Stage:       model.Stage(stage),
			Mode:        model.Mode(mode),
		}
		if command != "" {
			def.Checker = model.NewExecChecker(command, timeout)
			def.Checker.Exec.WorkingDir = workdir
			env, err := parseEnv(envPairs)
			if err != nil {
				return err
			}
			def.Checker.Exec.Env = env
		}

		stored, err := kg.reg.Define(cmd.Context(), def, actor)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(stored)
		}
		fmt.Printf("Defined gate %s (%s, %s)\n", stored.Key, stored.Stage, stored.Mode)
		return nil
	},
}

func parseEnv(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --env %q, want KEY=VALUE", p)
		}
		env[k] = v
	}
	return env, nil
}

var gateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List defined gates",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		defs := kg.reg.List()
		if jsonOutput {
			if defs == nil {
				defs = []*model.GateDefinition{}
			}
			return printJSON(defs)
		}
		if len(defs) == 0 {
			fmt.Println("No gates defined.")
			return nil
		}
		printGateTable(defs)
		return nil
	},
}

var gateShowCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Show a gate definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		def, err := kg.reg.Lookup(args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(def)
		}
		fmt.Printf("%s  %s\n", ui.RenderAccent(def.Key), def.Title)
		fmt.Printf("  Stage:    %s\n", def.Stage)
		fmt.Printf("  Mode:     %s\n", def.Mode)
		if def.Checker != nil {
			fmt.Printf("  Checker:  %s\n", def.Checker.Describe())
			if c := def.Checker.Exec; c != nil {
				if c.TimeoutSeconds > 0 {
					fmt.Printf("  Timeout:  %ds\n", c.TimeoutSeconds)
				}
				if c.WorkingDir != "" {
					fmt.Printf("  Workdir:  %s\n", c.WorkingDir)
				}
				for k, v := range c.Env {
					fmt.Printf("  Env:      %s=%s\n", k, v)
				}
			}
		}
		if def.Description != "" {
			fmt.Printf("\n%s\n", def.Description)
		}
		return nil
	},
}

var gateRemoveCmd = &cobra.Command{
	Use:   "remove <key>",
	Short: "Remove a gate no issue requires",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := kg.machine.RemoveGate(cmd.Context(), args[0], actor); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]string{"removed": args[0]})
		}
		fmt.Printf("Removed gate %s\n", args[0])
		return nil
	},
}

var gateAttachCmd = &cobra.Command{
	Use:   "attach <issue-id>... --gate <key>",
	Short: "Require gates on one or more issues",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, _ := cmd.Flags().GetStringSlice("gate")
		if len(keys) == 0 {
			return errors.New("at least one --gate is required")
		}
		res := kg.machine.BulkAttach(cmd.Context(), attachRequests(args, keys), actor)
		return reportBulk(res, "attached "+strings.Join(keys, ", ")+" to")
	},
}

var gateDetachCmd = &cobra.Command{
	Use:   "detach <issue-id>... --gate <key>",
	Short: "Stop requiring gates on one or more issues",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, _ := cmd.Flags().GetStringSlice("gate")
		if len(keys) == 0 {
			return errors.New("at least one --gate is required")
		}
		res := kg.machine.BulkDetach(cmd.Context(), attachRequests(args, keys), actor)
		return reportBulk(res, "detached "+strings.Join(keys, ", ")+" from")
	},
}

func attachRequests(ids, keys []string) []lifecycle.AttachRequest {
	reqs := make([]lifecycle.AttachRequest, len(ids))
	for i, id := range ids {
		reqs[i] = lifecycle.AttachRequest{IssueID: id, Keys: keys}
	}
	return reqs
}

func voteCommand(use, short string, vote func(cmd *cobra.Command, id, key, message string) (*model.Issue, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <issue-id> <key>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			message, _ := cmd.Flags().GetString("message")
			issue, err := vote(cmd, args[0], args[1], message)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(issue)
			}
			fmt.Printf("%s %s on %s: %s (issue %s)\n", ui.RenderAccent(actor), use, issue.ID, args[1], ui.RenderState(issue.State))
			return nil
		},
	}
	cmd.Flags().StringP("message", "m", "", "note recorded with the vote")
	return cmd
}

var gatePassCmd = voteCommand("pass", "Record a manual pass", func(cmd *cobra.Command, id, key, message string) (*model.Issue, error) {
	return kg.machine.PassGate(cmd.Context(), id, key, actor, message)
})

var gateFailCmd = voteCommand("fail", "Record a manual failure", func(cmd *cobra.Command, id, key, message string) (*model.Issue, error) {
	return kg.machine.FailGate(cmd.Context(), id, key, actor, message)
})

var gateCheckCmd = &cobra.Command{
	Use:   "check <issue-id> [key]",
	Short: "Run auto gate checkers now",
	Long: `Run the checker of one auto gate, or of every attached auto gate when no
key is given. A gated issue moves to done once all its gates pass.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var (
			outcomes []lifecycle.GateOutcome
			err      error
		)
		if len(args) == 2 {
			var out *lifecycle.GateOutcome
			out, err = kg.machine.CheckGate(ctx, args[0], args[1], actor)
			if out != nil && out.Err == nil {
				outcomes = []lifecycle.GateOutcome{*out}
			}
		} else {
			outcomes, err = kg.machine.CheckAll(ctx, args[0], actor)
		}
		if err != nil {
			return err
		}

		if jsonOutput {
			views := make([]outcomeView, len(outcomes))
			for i, o := range outcomes {
				views[i] = viewOutcome(o)
			}
			return printJSON(views)
		}
		if len(outcomes) == 0 {
			fmt.Println("No auto gates to run.")
			return nil
		}
		printOutcomes(outcomes)
		issue, err := kg.store.GetIssue(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s is %s\n", issue.ID, ui.RenderState(issue.State))
		return nil
	},
}

var gateRunsCmd = &cobra.Command{
	Use:   "runs [issue-id]",
	Short: "List recorded gate runs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var issueID string
		if len(args) == 1 {
			issueID = args[0]
		}
		key, _ := cmd.Flags().GetString("gate")
		runs, err := kg.store.ListRuns(cmd.Context(), issueID)
		if err != nil {
			return err
		}
		out := runs[:0]
		for _, run := range runs {
			if key == "" || run.GateKey == key {
				out = append(out, run)
			}
		}
		if jsonOutput {
			if out == nil {
				out = []*model.GateRunResult{}
			}
			return printJSON(out)
		}
		if len(out) == 0 {
			fmt.Fprintln(os.Stderr, "No runs recorded.")
			return nil
		}
		printRunTable(out)
		return nil
	},
}

func init() {
	gateDefineCmd.Flags().String("title", "", "human readable name (default the key)")
	gateDefineCmd.Flags().String("description", "", "what the gate verifies")
	gateDefineCmd.Flags().String("stage", string(model.StagePostcheck), "precheck or postcheck")
	gateDefineCmd.Flags().String("mode", string(model.ModeManual), "manual or auto")
	gateDefineCmd.Flags().String("command", "", "shell command for auto gates")
	gateDefineCmd.Flags().Int("timeout", 0, "checker timeout in seconds (default from config)")
	gateDefineCmd.Flags().String("workdir", "", "checker working directory, relative to the repository")
	gateDefineCmd.Flags().StringArray("env", nil, "extra checker environment as KEY=VALUE")

	gateAttachCmd.Flags().StringSliceP("gate", "g", nil, "gate keys")
	gateDetachCmd.Flags().StringSliceP("gate", "g", nil, "gate keys")
	gateRunsCmd.Flags().String("gate", "", "only runs of this gate")

	gateCmd.AddCommand(gateDefineCmd)
	gateCmd.AddCommand(gateListCmd)
	gateCmd.AddCommand(gateShowCmd)
	gateCmd.AddCommand(gateRemoveCmd)
	gateCmd.AddCommand(gateAttachCmd)
	gateCmd.AddCommand(gateDetachCmd)
	gateCmd.AddCommand(gatePassCmd)
	gateCmd.AddCommand(gateFailCmd)
	gateCmd.AddCommand(gateCheckCmd)
	gateCmd.AddCommand(gateRunsCmd)
}
