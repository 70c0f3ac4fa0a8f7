package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/kgate/internal/ui"
)

var (
	dataDir    string
	jsonOutput bool
	actor      string
	verbose    bool

	kg *app
)

// skipOpen marks commands that run without an initialized data dir.
const skipOpen = "kg/skip-open"

func defaultActor() string {
	out, err := exec.Command("git", "config", "user.name").Output()
	if err == nil {
		name := strings.TrimSpace(string(out))
		if name != "" {
			return name
		}
	}
	return "unknown"
}

var rootCmd = &cobra.Command{
	Use:           "kg <command>",
	Short:         "Quality-gated issue lifecycle for agents sharing a repository",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations[skipOpen] != "" {
			return nil
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		kg = a
		if actor == "" {
			actor = a.cfg.Actor
		}
		if actor == "" {
			actor = defaultActor()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "dir", "", "data directory (default $KG_DIR or .kg)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", "", "actor identity recorded on changes (default $KG_ACTOR or git user.name)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddGroup(
		&cobra.Group{ID: "issues", Title: "Issues:"},
		&cobra.Group{ID: "workflow", Title: "Workflow:"},
		&cobra.Group{ID: "gates", Title: "Gates:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Issues
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(depCmd)
	rootCmd.AddCommand(blockedCmd)

	// Workflow
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(reopenCmd)
	rootCmd.AddCommand(unclaimCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(promoteCmd)
	rootCmd.AddCommand(transitionCmd)
	rootCmd.AddCommand(claimCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(claimsCmd)

	// Gates
	rootCmd.AddCommand(gateCmd)

	// System
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(cleanCmd)
}

func main() {
	// Color is all or nothing across stdout and stderr.
	if !ui.ShouldUseColor() || !ui.ShouldUseColorOn(os.Stderr) {
		ui.ForceNoColor()
	}
	err := rootCmd.ExecuteContext(context.Background())
	if kg != nil {
		kg.Close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
