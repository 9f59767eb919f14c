package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/viper"

	"github.com/exoswitch/exoswitch/internal/metrics"
	"github.com/exoswitch/exoswitch/internal/secrets"
	"github.com/exoswitch/exoswitch/pkg/exoscale"
	"github.com/exoswitch/exoswitch/pkg/sockpath"
)

// Config is the top-level daemon configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Web      WebConfig      `mapstructure:"web"`
	Machine  MachineConfig  `mapstructure:"machine"`
	Exoscale ExoscaleConfig `mapstructure:"exoscale"`
	Notify   NotifyConfig   `mapstructure:"notify"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

// ServerConfig holds control socket settings.
type ServerConfig struct {
	Socket string `mapstructure:"socket"`
}

// NATSConfig holds embedded NATS settings.
type NATSConfig struct {
	Host  string `mapstructure:"host"`
	Port  int    `mapstructure:"port"`
	Token string `mapstructure:"token"`
}

// WebConfig holds web UI settings.
type WebConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Listen   string `mapstructure:"listen"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"` // #nosec G117 -- config deserialization, not hardcoded
}

// MachineConfig identifies the managed VM.
type MachineConfig struct {
	ServerID string `mapstructure:"server_id"`
}

// ExoscaleConfig holds the compute API credentials.
type ExoscaleConfig struct {
	Endpoint  string        `mapstructure:"endpoint"`
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"` // #nosec G117 -- config deserialization, not hardcoded
	Timeout   time.Duration `mapstructure:"timeout"`
}

// NotifyConfig holds Slack notification settings. Empty token disables it.
type NotifyConfig struct {
	SlackToken string `mapstructure:"slack_token"`
	Channel    string `mapstructure:"channel"`
}

// LoadConfig reads configuration from file and env. Sealed ENC[...] values
// are opened before unmarshalling.
func LoadConfig(cfgFile string) (Config, error) {
	v := viper.New()

	v.SetDefault("server.socket", sockpath.DefaultSocketPath())
	v.SetDefault("nats.port", 4222)
	v.SetDefault("web.enabled", true)
	v.SetDefault("web.listen", "127.0.0.1:5000")
	v.SetDefault("exoscale.endpoint", exoscale.DefaultEndpoint)
	v.SetDefault("exoscale.timeout", time.Duration(0))

	v.SetConfigType("toml")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("exoswitch")
		v.AddConfigPath("/etc/exoswitch")
		v.AddConfigPath("$HOME/.config/exoswitch")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("EXOSWITCH")
	v.AutomaticEnv()

	v.BindEnv("machine.server_id", "FACTORIO_SERVER_ID", "EXOSWITCH_SERVER_ID")
	v.BindEnv("exoscale.api_key", "EXOSCALE_API_KEY")
	v.BindEnv("exoscale.api_secret", "EXOSCALE_API_SECRET")
	v.BindEnv("exoscale.endpoint", "EXOSCALE_ENDPOINT")
	v.BindEnv("nats.token", "EXOSWITCH_NATS_TOKEN")
	v.BindEnv("web.username", "EXOSWITCH_WEB_USERNAME")
	v.BindEnv("web.password", "EXOSWITCH_WEB_PASSWORD")
	v.BindEnv("notify.slack_token", "EXOSWITCH_SLACK_TOKEN")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// An explicit file must exist; the search path is optional.
		if cfgFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if _, err := secrets.OpenViperConfig(v); err != nil {
		return Config{}, fmt.Errorf("open secrets: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	return cfg, nil
}

// Validate checks the settings required to talk to the provider.
func (c Config) Validate() error {
	var errs []error
	if c.Machine.ServerID == "" {
		errs = append(errs, errors.New("machine.server_id (FACTORIO_SERVER_ID) is required"))
	}
	if c.Exoscale.APIKey == "" {
		errs = append(errs, errors.New("exoscale.api_key (EXOSCALE_API_KEY) is required"))
	}
	if c.Exoscale.APISecret == "" {
		errs = append(errs, errors.New("exoscale.api_secret (EXOSCALE_API_SECRET) is required"))
	}
	if c.Notify.SlackToken != "" && c.Notify.Channel == "" {
		errs = append(errs, errors.New("notify.channel is required when notify.slack_token is set"))
	}
	if c.Exoscale.Timeout < 0 {
		errs = append(errs, errors.New("exoscale.timeout must not be negative"))
	}
	return errors.Join(errs...)
}

// ClientConfig returns the provider client settings. Outbound requests are
// instrumented with Prometheus.
func (c Config) ClientConfig() exoscale.Config {
	return exoscale.Config{
		Endpoint:  c.Exoscale.Endpoint,
		APIKey:    c.Exoscale.APIKey,
		APISecret: c.Exoscale.APISecret,
		Timeout:   c.Exoscale.Timeout,
		Transport: metrics.InstrumentTransport(http.DefaultTransport),
	}
}

// NewClient validates c and builds a provider client from it.
func (c Config) NewClient() (*exoscale.Client, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return exoscale.New(c.ClientConfig())
}
