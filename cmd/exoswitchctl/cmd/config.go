package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/exoswitch/exoswitch/pkg/protocol"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage daemon configuration",
	}

	cmd.AddCommand(newConfigReloadCmd())

	return cmd
}

func newConfigReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Make exoswitchd re-read its config file and environment",
		Long: `Asks exoswitchd to reload its configuration. The daemon builds a new
Exoscale client from the fresh settings and keeps the old one if they are
invalid. Listener addresses are not changed by a reload.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp protocol.ConfigReloadResponse
			if err := apiPost(cmd.Context(), "/api/v1/config/reload", &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config %s\n", resp.Status)
			return nil
		},
	}
}
