package main

import (
	"fmt"
	"time"

	"starmus-recorder/conf"
	"starmus-recorder/logging"
	"starmus-recorder/service/upload_service"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	var (
		dir    string
		maxAge time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete abandoned temp chunk files once",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := conf.InitConfig(); err != nil {
				return err
			}
			if dir == "" {
				dir = conf.Cfg.Uploader.StagingDir
			}
			if maxAge <= 0 {
				maxAge = conf.Cfg.Uploader.TempMaxAge
			}
			logger, err := logging.NewZap(conf.IsDevelopment())
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer logger.Sync()
			return runSweep(cmd, upload_service.NewSweeper(dir, maxAge, logger))
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Staging directory (default from config)")
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "Delete temp files older than this (default from config)")
	return cmd
}

func runSweep(cmd *cobra.Command, sweeper *upload_service.Sweeper) error {
	candidates, err := sweeper.Candidates()
	if err != nil {
		return err
	}

	bar := progressbar.Default(int64(len(candidates)), "sweeping")
	result, err := sweeper.SweepWithProgress(time.Now(), func() {
		_ = bar.Add(1)
	})
	_ = bar.Finish()
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d deleted=%d kept=%d failed=%d freed=%d bytes\n",
		result.Scanned, result.Deleted, result.Kept, result.Failed, result.FreedBytes)
	return nil
}
