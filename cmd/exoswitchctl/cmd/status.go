package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/exoswitch/exoswitch/pkg/protocol"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show exoswitchd status and whether the machine is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp protocol.StatusResponse
			if err := apiGet(cmd.Context(), "/api/v1/status", &resp); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Status:       %s\n", resp.Status)
			fmt.Fprintf(out, "Uptime:       %s\n", resp.Uptime)
			fmt.Fprintf(out, "NATS Running: %v\n", resp.NATSRunning)
			fmt.Fprintf(out, "Started At:   %s\n", resp.StartedAt.Format("2006-01-02 15:04:05"))
			fmt.Fprintf(out, "Endpoint:     %s\n", resp.Endpoint)
			fmt.Fprintf(out, "Server ID:    %s\n", resp.ServerID)

			var m protocol.MachineResponse
			if err := apiGet(cmd.Context(), "/api/v1/machine", &m); err != nil {
				fmt.Fprintf(out, "Machine:      unknown (%v)\n", err)
				return nil
			}
			state := "stopped"
			if m.Running {
				state = "running"
			}
			fmt.Fprintf(out, "Machine:      %s\n", state)
			return nil
		},
	}
}
