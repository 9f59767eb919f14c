// Package sockpath provides the default Unix socket path for exoswitchd.
// exoswitchd, exoswitchctl and exoswitch-mcp all use it to agree on the default.
package sockpath

import (
	"os"
	"path/filepath"
)

// EnvSocket overrides the default socket path for the clients.
const EnvSocket = "EXOSWITCH_SOCKET"

// DefaultSocketPath prefers $XDG_RUNTIME_DIR/exoswitch/exoswitchd.sock and
// falls back to ~/.config/exoswitch/exoswitchd.sock.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "exoswitch", "exoswitchd.sock")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "exoswitch", "exoswitchd.sock")
}

// Resolve returns flagValue, then $EXOSWITCH_SOCKET, then the default.
func Resolve(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(EnvSocket); env != "" {
		return env
	}
	return DefaultSocketPath()
}
