// Package cmd is the kafnotif command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"kafnotif/internal/config"
	"kafnotif/internal/engine"
)

var (
	configFlag  string
	timeoutFlag time.Duration

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "kafnotif",
	Short: "Consume notification topics and deliver them to their channels",
	Long: `kafnotif consumes notification events from Kafka and delivers them
through email, SMS, push, Slack, Discord and webhook handlers, retrying
failures and routing exhausted messages to dead-letter topics.

Configuration comes from an optional YAML file overlaid with
KAFNOTIF__SECTION__KEY environment variables.`,
	PersistentPreRunE: loadConfig,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "kafnotif.yaml",
		"Config file (env: KAFNOTIF__*)")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 30*time.Second,
		"Timeout for one-shot commands")

	rootCmd.AddCommand(consumeCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(topicsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(healthCmd)
}

func loadConfig(*cobra.Command, []string) error {
	var err error
	cfg, err = config.Load(configFlag)
	if err != nil {
		return err
	}
	engine.Configure(cfg)
	return nil
}

func timeoutContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeoutFlag)
}
