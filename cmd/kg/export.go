package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	kgsync "github.com/alfredjeanlab/kgate/internal/sync"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export issues, gates and runs as JSONL",
	Long: `Export issues, gates and runs as JSONL.

Without a destination the export is written to stdout. --s3 and --git use
the [export] settings of config.toml. --interval keeps exporting until
interrupted.`,
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		output, _ := cmd.Flags().GetString("output")
		useS3, _ := cmd.Flags().GetBool("s3")
		useGit, _ := cmd.Flags().GetBool("git")
		interval, _ := cmd.Flags().GetDuration("interval")
		cfg := kg.cfg

		var dests []kgsync.Destination
		if output != "" && output != "-" {
			dests = append(dests, kgsync.NewFileDestination(output))
		}
		if useS3 {
			if cfg.ExportS3Bucket == "" {
				return errors.New("--s3 needs export.s3_bucket in config or KG_EXPORT_S3_BUCKET")
			}
			s3Dest, err := kgsync.NewS3Destination(ctx, cfg.ExportS3Bucket, cfg.ExportS3Key, cfg.ExportS3Region, cfg.ExportS3Endpoint)
			if err != nil {
				return fmt.Errorf("creating S3 destination: %w", err)
			}
			dests = append(dests, s3Dest)
		}
		if useGit {
			if cfg.ExportGitRepo == "" {
				return errors.New("--git needs export.git_repo in config or KG_EXPORT_GIT_REPO")
			}
			dests = append(dests, kgsync.NewGitDestination(cfg.ExportGitRepo, cfg.ExportGitFile, cfg.ExportGitBranch))
		}

		if len(dests) == 0 {
			if interval > 0 {
				return errors.New("--interval needs a destination")
			}
			return kgsync.ExportJSONL(ctx, kg.store, os.Stdout)
		}

		scheduler := kgsync.NewScheduler(kg.store, dests, interval, kg.logger)
		if interval <= 0 {
			if err := scheduler.Once(ctx); err != nil {
				return err
			}
			for _, d := range dests {
				fmt.Fprintf(os.Stderr, "Exported to %s\n", d)
			}
			return nil
		}

		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		scheduler.Start(ctx)
		kg.logger.Info("export scheduler started", "interval", interval, "destinations", len(dests))
		<-ctx.Done()
		scheduler.Stop()
		return nil
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "write to this file (- for stdout)")
	exportCmd.Flags().Bool("s3", false, "upload to the configured S3 bucket")
	exportCmd.Flags().Bool("git", false, "commit to the configured git clone")
	exportCmd.Flags().Duration("interval", 0, "repeat the export on this interval")
}
