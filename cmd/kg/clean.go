package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/kgate/internal/store/filestore"
	"github.com/alfredjeanlab/kgate/internal/ui"
)

var cleanCmd = &cobra.Command{
	Use:     "clean",
	Short:   "Remove temp files left behind by interrupted writes",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		removed, err := kg.store.CleanupTemp(olderThan)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]any{"removed": nonNil(removed)})
		}
		if len(removed) == 0 {
			fmt.Println(ui.RenderMuted("No orphaned temp files"))
			return nil
		}
		for _, p := range removed {
			rel, err := filepath.Rel(kg.store.Dir(), p)
			if err != nil {
				rel = p
			}
			fmt.Printf("%s %s\n", ui.RenderPass("removed"), rel)
		}
		return nil
	},
}

func init() {
	cleanCmd.Flags().Duration("older-than", filestore.DefaultTempAge, "only remove temp files older than this")
}
