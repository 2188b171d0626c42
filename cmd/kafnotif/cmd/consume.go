package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"kafnotif/internal/engine"
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Run the consumption pool until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := engine.Bootstrap(ctx, cfg)
		if err != nil {
			return err
		}
		return e.Run(ctx)
	},
}
