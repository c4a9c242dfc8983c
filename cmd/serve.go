package cmd

import (
	"errors"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics and shard lookups until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			addr := a.Config().Metrics.ListenAddr
			if addr == "" {
				return errors.New("metrics.listen_addr is required for serve")
			}
			stop := startListener(a, addr)
			defer stop()
			<-cmd.Context().Done()
			return nil
		},
	}
}
