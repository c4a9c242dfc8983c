package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seractech/planwatch/internal/metrics"
	"github.com/seractech/planwatch/internal/planning"
)

var (
	errRunFailed  = errors.New("run failed")
	errRunPartial = errors.New("run partially failed")
)

func newRunCmd() *cobra.Command {
	var (
		failOnPartial bool
		printSummary  bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one ingestion pass over every enabled council",
		Long: `Searches each enabled council from its watermark to today, geocodes
new applications and merges them into the shard files. Exits non-zero when
the run failed, or when it was partial and --fail-on-partial is set.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := a.Config()
			logger := a.Logger()

			if cfg.Metrics.ListenAddr != "" {
				stop := startListener(a, cfg.Metrics.ListenAddr)
				defer stop()
			}

			summary, runErr := a.Run(cmd.Context())

			if cfg.Metrics.PushgatewayURL != "" && summary.RunID != "" {
				pushCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 10*time.Second)
				if err := metrics.Push(pushCtx, cfg.Metrics.PushgatewayURL, cfg.Metrics.JobName, summary.RunID); err != nil {
					logger.Warn("push metrics", zap.Error(err))
				}
				cancel()
			}
			if printSummary && summary.RunID != "" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(summary); err != nil {
					return fmt.Errorf("print summary: %w", err)
				}
			}
			if runErr != nil {
				return runErr
			}
			return runStatusError(summary, failOnPartial)
		},
	}
	cmd.Flags().BoolVar(&failOnPartial, "fail-on-partial", false, "exit non-zero when any council failed or was skipped")
	cmd.Flags().BoolVar(&printSummary, "print-summary", false, "write the run summary as JSON to stdout")
	return cmd
}

func runStatusError(summary planning.RunSummary, failOnPartial bool) error {
	switch summary.Status {
	case planning.RunFailed:
		return fmt.Errorf("%w: run %s", errRunFailed, summary.RunID)
	case planning.RunPartial:
		if failOnPartial {
			return fmt.Errorf("%w: run %s", errRunPartial, summary.RunID)
		}
	}
	return nil
}
