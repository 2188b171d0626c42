package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"

	"kafnotif/internal/transport"
)

var healthAddr string

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Query the gRPC health service of a running consumer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		addr := healthAddr
		if addr == "" {
			addr = fmt.Sprintf("localhost:%d", cfg.GRPC.Port)
		}
		c, err := transport.Dial(addr)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := timeoutContext()
		defer cancel()
		resp, err := c.Check(ctx, transport.Service)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), protojson.Format(resp))
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			return errors.New("consumer is not serving")
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().StringVar(&healthAddr, "addr", "", "gRPC address (default localhost:<grpc.port>)")
}
