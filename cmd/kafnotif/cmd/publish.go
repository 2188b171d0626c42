package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"kafnotif/internal/engine"
	"kafnotif/internal/event"
)

var (
	publishFile     string
	publishPriority string
)

var publishCmd = &cobra.Command{
	Use:   "publish [notification-json]",
	Short: "Publish one notification to its channel topic",
	Long: `Publish one notification. The body is the flat JSON form with a
notificationType field, given inline or with --file (- for stdin).

Examples:
  kafnotif publish '{"notificationType":"SMS","recipient":"+14155550100","message":"hi"}'
  kafnotif publish -f email.json --priority HIGH`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().StringVarP(&publishFile, "file", "f", "", "Read the notification from a file")
	publishCmd.Flags().StringVar(&publishPriority, "priority", "", "Override the priority (LOW..CRITICAL)")
}

func runPublish(cmd *cobra.Command, args []string) error {
	raw, err := readBody(args)
	if err != nil {
		return err
	}
	n, err := event.Decode(raw)
	if err != nil {
		return err
	}
	if publishPriority != "" {
		p, err := event.ParsePriority(publishPriority)
		if err != nil {
			return err
		}
		n.Priority = p
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	pub, prod, err := engine.OpenPublisher(cfg)
	if err != nil {
		return err
	}
	defer prod.Close()

	ctx, cancel := timeoutContext()
	defer cancel()
	if err := pub.Publish(ctx, n); err != nil {
		return err
	}
	out, _ := json.Marshal(map[string]string{"id": n.ID, "topic": pub.Topic(n.Channel)})
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func readBody(args []string) ([]byte, error) {
	switch {
	case publishFile == "-":
		return io.ReadAll(os.Stdin)
	case publishFile != "":
		return os.ReadFile(publishFile)
	case len(args) == 1:
		return []byte(args[0]), nil
	}
	return nil, errors.New("a notification body or --file is required")
}
