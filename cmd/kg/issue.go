package main

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/kgate/internal/lifecycle"
	"github.com/alfredjeanlab/kgate/internal/model"
	"github.com/alfredjeanlab/kgate/internal/store"
)

var createCmd = &cobra.Command{
	Use:     "create <title>",
	Short:   "Create an issue",
	GroupID: "issues",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		desc, _ := cmd.Flags().GetString("description")
		priority, _ := cmd.Flags().GetInt("priority")
		deps, _ := cmd.Flags().GetStringSlice("depends-on")
		gates, _ := cmd.Flags().GetStringSlice("gate")
		id, _ := cmd.Flags().GetString("id")

		issue, err := kg.machine.Create(cmd.Context(), lifecycle.NewIssue{
			ID:           id,
			Title:        args[0],
			Description:  desc,
			Priority:     priority,
			Dependencies: deps,
			Gates:        gates,
		}, actor)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(issue)
		}
		fmt.Printf("Created %s (%s)\n", issue.ID, issue.State)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:     "show <id>",
	Short:   "Show an issue with its gates",
	GroupID: "issues",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		issue, err := kg.store.GetIssue(ctx, args[0])
		if err != nil {
			return err
		}
		blockers, err := kg.machine.Blocked(ctx, issue.ID)
		if err != nil {
			return err
		}
		claim, err := kg.claims.Current(ctx, issue.ID)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(struct {
				*model.Issue
				BlockedBy []string     `json:"blocked_by,omitempty"`
				Claim     *model.Claim `json:"claim,omitempty"`
			}{issue, blockers, claim})
		}
		printIssue(issue, gateDefs(issue.GatesRequired), claim, blockers)
		return nil
	},
}

// gateDefs resolves keys against the registry, skipping undefined ones.
func gateDefs(keys []string) map[string]*model.GateDefinition {
	defs := make(map[string]*model.GateDefinition, len(keys))
	for _, k := range keys {
		if def, err := kg.reg.Lookup(k); err == nil {
			defs[k] = def
		}
	}
	return defs
}

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List issues",
	GroupID: "issues",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		states, _ := cmd.Flags().GetStringSlice("state")
		all, _ := cmd.Flags().GetBool("all")
		gate, _ := cmd.Flags().GetString("gate")
		for _, s := range states {
			if !model.State(s).IsValid() {
				return fmt.Errorf("unknown state %q", s)
			}
		}

		issues, err := kg.store.ListIssues(ctx)
		if err != nil {
			return err
		}
		var out []*model.Issue
		for _, issue := range issues {
			if len(states) > 0 && !slices.Contains(states, string(issue.State)) {
				continue
			}
			if len(states) == 0 && !all && issue.State == model.StateArchived {
				continue
			}
			if gate != "" && !issue.HasGate(gate) {
				continue
			}
			out = append(out, issue)
		}
		slices.SortStableFunc(out, func(a, b *model.Issue) int { return a.Priority - b.Priority })

		if jsonOutput {
			if out == nil {
				out = []*model.Issue{}
			}
			return printJSON(out)
		}
		if len(out) == 0 {
			fmt.Println("No issues found.")
			return nil
		}
		printIssueTable(out)
		return nil
	},
}

var depCmd = &cobra.Command{
	Use:     "dep",
	Short:   "Manage issue dependencies",
	GroupID: "issues",
}

var depAddCmd = &cobra.Command{
	Use:   "add <id> <depends-on-id>",
	Short: "Make an issue depend on another",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		added, err := kg.graph.Add(cmd.Context(), args[0], args[1], actor)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]any{"issue_id": args[0], "depends_on": args[1], "changed": added})
		}
		if added {
			fmt.Printf("%s now depends on %s\n", args[0], args[1])
		} else {
			fmt.Printf("%s already depends on %s\n", args[0], args[1])
		}
		return nil
	},
}

var depRemoveCmd = &cobra.Command{
	Use:   "remove <id> <depends-on-id>",
	Short: "Remove a dependency",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		removed, err := kg.graph.Remove(cmd.Context(), args[0], args[1], actor)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]any{"issue_id": args[0], "depends_on": args[1], "changed": removed})
		}
		if removed {
			fmt.Printf("Removed dependency %s -> %s\n", args[0], args[1])
		} else {
			fmt.Printf("%s does not depend on %s\n", args[0], args[1])
		}
		return nil
	},
}

var depListCmd = &cobra.Command{
	Use:   "list <id>",
	Short: "List prerequisites and dependents of an issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		issue, err := kg.store.GetIssue(ctx, args[0])
		if err != nil {
			return err
		}
		dependents, err := kg.graph.Dependents(ctx, issue.ID)
		if err != nil {
			return err
		}
		var prereqs []*model.Issue
		for _, dep := range issue.Dependencies {
			d, err := kg.store.GetIssue(ctx, dep)
			if errors.Is(err, store.ErrNotFound) {
				prereqs = append(prereqs, &model.Issue{ID: dep, Title: "(missing)"})
				continue
			}
			if err != nil {
				return err
			}
			prereqs = append(prereqs, d)
		}

		if jsonOutput {
			ids := make([]string, len(prereqs))
			for i, p := range prereqs {
				ids[i] = p.ID
			}
			return printJSON(map[string][]string{"depends_on": ids, "dependents": dependents})
		}
		fmt.Printf("%s depends on:\n", issue.ID)
		if len(prereqs) == 0 {
			fmt.Println("  (none)")
		}
		for _, p := range prereqs {
			fmt.Printf("  %s  %-12s %s\n", p.ID, p.State, p.Title)
		}
		fmt.Println("Depended on by:")
		if len(dependents) == 0 {
			fmt.Println("  (none)")
		}
		for _, id := range dependents {
			fmt.Printf("  %s\n", id)
		}
		return nil
	},
}

var blockedCmd = &cobra.Command{
	Use:     "blocked [id]",
	Short:   "Show incomplete prerequisites",
	GroupID: "issues",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var ids []string
		if len(args) == 1 {
			ids = args
		} else {
			issues, err := kg.store.ListIssues(ctx)
			if err != nil {
				return err
			}
			for _, issue := range issues {
				ids = append(ids, issue.ID)
			}
		}

		out := map[string][]string{}
		var order []string
		for _, id := range ids {
			blockers, err := kg.machine.Blocked(ctx, id)
			if err != nil {
				return err
			}
			if len(blockers) > 0 {
				out[id] = blockers
				order = append(order, id)
			}
		}
		if jsonOutput {
			return printJSON(out)
		}
		if len(order) == 0 {
			fmt.Println("Nothing is blocked.")
			return nil
		}
		w := newTable()
		fmt.Fprintln(w, "ID\tBLOCKED BY")
		for _, id := range order {
			fmt.Fprintf(w, "%s\t%s\n", id, strings.Join(out[id], ", "))
		}
		w.Flush()
		return nil
	},
}

func init() {
	createCmd.Flags().StringP("description", "d", "", "issue description")
	createCmd.Flags().IntP("priority", "p", 2, "priority (0 = highest)")
	createCmd.Flags().StringSlice("depends-on", nil, "prerequisite issue ids")
	createCmd.Flags().StringSliceP("gate", "g", nil, "gate keys to require")
	createCmd.Flags().String("id", "", "explicit issue id (default generated)")

	listCmd.Flags().StringSliceP("state", "s", nil, "filter by state")
	listCmd.Flags().Bool("all", false, "include archived issues")
	listCmd.Flags().String("gate", "", "only issues requiring this gate")

	depCmd.AddCommand(depAddCmd)
	depCmd.AddCommand(depRemoveCmd)
	depCmd.AddCommand(depListCmd)
}
