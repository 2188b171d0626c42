package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"kafnotif/internal/engine"
	"kafnotif/internal/logging"
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Create the channel and dead-letter topics that are missing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := timeoutContext()
		defer cancel()
		created, err := engine.EnsureTopics(ctx, cfg, logging.For("topics"))
		if err != nil {
			return err
		}
		if len(created) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "all topics exist")
			return nil
		}
		for _, t := range created {
			fmt.Fprintln(cmd.OutOrStdout(), "created", t)
		}
		return nil
	},
}
