package cmd

import (
	"github.com/spf13/cobra"

	"github.com/exoswitch/exoswitch/pkg/sockpath"
)

var (
	socketPath string

	// Version is set by the main package via ldflags.
	Version = "dev"
)

// NewRootCmd creates the root exoswitchctl command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "exoswitchctl",
		Short:   "exoswitch CLI: control the exoswitchd daemon",
		Version: Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			socketPath = sockpath.Resolve(socketPath)
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "exoswitchd Unix socket path (default: $EXOSWITCH_SOCKET or the per-user runtime dir)")

	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newStopCmd())
	rootCmd.AddCommand(newJobCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newSecretsCmd())

	return rootCmd
}
