package mcp

import (
	"github.com/spf13/viper"

	"github.com/exoswitch/exoswitch/pkg/sockpath"
)

// Config holds all configuration for the MCP server.
type Config struct {
	Daemon DaemonConfig `mapstructure:"daemon"`
}

// DaemonConfig holds settings for connecting to the exoswitchd control API.
type DaemonConfig struct {
	Socket string `mapstructure:"socket"`
}

// LoadConfig reads the MCP server configuration from file, env vars, and defaults.
func LoadConfig(cfgFile string) (Config, error) {
	v := viper.New()

	v.SetDefault("daemon.socket", sockpath.DefaultSocketPath())

	v.SetConfigType("toml")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("exoswitch-mcp")
		v.AddConfigPath("/etc/exoswitch")
		v.AddConfigPath("$HOME/.config/exoswitch")
		v.AddConfigPath(".")
	}

	v.BindEnv("daemon.socket", sockpath.EnvSocket)

	_ = v.ReadInConfig() // config file is optional

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
