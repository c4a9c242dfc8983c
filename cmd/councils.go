package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/seractech/planwatch/internal/planning"
)

func newCouncilsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "councils",
		Short: "Show the last run and the window the next run would search per council",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			meta, err := a.Store().LoadMetadata(cmd.Context())
			if err != nil {
				return fmt.Errorf("load metadata: %w", err)
			}
			summary, ok, err := a.Store().LoadSummary(cmd.Context())
			if err != nil {
				return fmt.Errorf("load summary: %w", err)
			}
			if ok {
				fmt.Fprintf(cmd.OutOrStdout(), "last run %s: %s, finished %s\n\n",
					summary.RunID, summary.Status, summary.FinishedAt.Format("2006-01-02 15:04"))
			}
			now := a.Clock().Now()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPORTAL\tENABLED\tFROM\tTO\tLAST STATUS\tLAST RUN")
			for _, c := range a.Config().PlanningCouncils() {
				window := a.Store().Window(meta, c, now)
				entry, seen := meta[c.ID]
				status, lastRun := "-", "-"
				if seen {
					status = string(entry.LastStatus)
					lastRun = entry.LastRunTimestamp.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\t%s\t%s\n",
					c.ID, c.Portal, c.Enabled, window.From.Format(planning.DateLayout),
					window.To.Format(planning.DateLayout), status, lastRun)
			}
			if err := w.Flush(); err != nil {
				return fmt.Errorf("write councils: %w", err)
			}
			return nil
		},
	}
}
