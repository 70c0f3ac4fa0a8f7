package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/kgate/internal/config"
	"github.com/alfredjeanlab/kgate/internal/store/filestore"
)

var initCmd = &cobra.Command{
	Use:         "init",
	Short:       "Create the data directory in the current repository",
	GroupID:     "system",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{skipOpen: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(dataDir)
		if err != nil {
			return err
		}
		if err := filestore.Init(cfg.Dir); err != nil {
			return err
		}

		path := filepath.Join(cfg.Dir, config.FileName)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			natsURL, _ := cmd.Flags().GetString("nats-url")
			f := config.File{Actor: actor, NATSURL: natsURL}
			if err := config.WriteFile(cfg.Dir, f); err != nil {
				return fmt.Errorf("writing %s: %w", config.FileName, err)
			}
		}

		if jsonOutput {
			return printJSON(map[string]string{"dir": cfg.Dir})
		}
		fmt.Printf("Initialized %s\n", cfg.Dir)
		return nil
	},
}

func init() {
	initCmd.Flags().String("nats-url", "", "NATS server for live event fan-out")
}
