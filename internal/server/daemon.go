// Package server wires the exoswitchd process together: embedded NATS, the
// machine controller, the web UI, the control API, Slack notifications and
// the config watcher.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/exoswitch/exoswitch/internal/api"
	"github.com/exoswitch/exoswitch/internal/machine"
	"github.com/exoswitch/exoswitch/internal/natsserver"
	"github.com/exoswitch/exoswitch/internal/notify"
	"github.com/exoswitch/exoswitch/internal/web"
	"github.com/exoswitch/exoswitch/pkg/protocol"
)

// Daemon is the exoswitchd process.
type Daemon struct {
	logger    zerolog.Logger
	startedAt time.Time

	mu  sync.RWMutex
	cfg Config

	nats      *natsserver.Server
	publisher *machine.NATSPublisher
	ctl       *machine.Controller
	apiServer *api.Server
	webServer *web.Server
	notifier  *notify.Notifier
	watcher   *configWatcher

	ready    chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewDaemon creates a Daemon from config.
func NewDaemon(cfg Config, logger zerolog.Logger) *Daemon {
	return &Daemon{
		cfg:    cfg,
		logger: logger,
		ready:  make(chan struct{}),
		stopCh: make(chan struct{}),
	}
}

// Run starts all subsystems and blocks until a signal is received or Stop is called.
func (d *Daemon) Run() error {
	d.startedAt = time.Now()
	cfg := d.config()

	client, err := cfg.NewClient()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// 1. Embedded NATS carries lifecycle events.
	ns, err := natsserver.New(natsserver.Config{
		Host:  cfg.NATS.Host,
		Port:  cfg.NATS.Port,
		Token: cfg.NATS.Token,
	}, d.logger)
	if err != nil {
		return fmt.Errorf("start nats: %w", err)
	}
	d.nats = ns
	d.publisher = machine.NewNATSPublisher(ns.Conn(), d.logger)

	// 2. Machine controller.
	d.ctl = machine.New(cfg.Machine.ServerID, client, d.publisher, d.logger)

	errCh := make(chan error, 2)

	// 3. Control API on the Unix socket.
	d.apiServer = api.New(cfg.Server.Socket, d.ctl, d, d.startedAt, d.logger)
	apiLn, err := d.apiServer.Listen()
	if err != nil {
		ns.Shutdown()
		return fmt.Errorf("api listen: %w", err)
	}
	go func() {
		errCh <- fmt.Errorf("api: %w", d.apiServer.Serve(apiLn))
	}()

	// 4. Web UI.
	if cfg.Web.Enabled {
		d.webServer = web.New(web.Config{
			Listen:   cfg.Web.Listen,
			Username: cfg.Web.Username,
			Password: cfg.Web.Password,
		}, d.ctl, ns.Conn(), d.logger)
		webLn, err := d.webServer.Listen()
		if err != nil {
			d.apiServer.Shutdown(context.Background())
			ns.Shutdown()
			return fmt.Errorf("web listen: %w", err)
		}
		go func() {
			errCh <- fmt.Errorf("web: %w", d.webServer.Serve(webLn))
		}()
	}

	// 5. Slack notifications.
	if cfg.Notify.SlackToken != "" {
		d.notifier = notify.New(ns.Conn(), notify.NewSlackClient(notify.Config{Token: cfg.Notify.SlackToken}),
			cfg.Notify.Channel, d.logger)
		if err := d.notifier.Start(); err != nil {
			d.logger.Error().Err(err).Msg("slack notifications disabled")
			d.notifier = nil
		}
	}

	// 6. Config watcher.
	if cfg.File != "" {
		w, err := newConfigWatcher(cfg.File, d.reloadFromWatcher, d.logger)
		if err != nil {
			d.logger.Warn().Err(err).Str("file", cfg.File).Msg("config hot reload disabled")
		} else {
			d.watcher = w
		}
	}

	d.logger.Info().
		Str("socket", cfg.Server.Socket).
		Str("server_id", cfg.Machine.ServerID).
		Str("endpoint", client.Endpoint()).
		Msg("exoswitchd started")
	close(d.ready)

	// 7. Wait for signal, stop call, or listener error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		d.logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-d.stopCh:
		d.logger.Info().Msg("stop requested, shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error().Err(err).Msg("listener error")
			runErr = err
		}
	}

	d.shutdown()
	return runErr
}

// Ready is closed once all subsystems are up.
func (d *Daemon) Ready() <-chan struct{} { return d.ready }

// Stop signals the daemon to shut down. Safe to call from another goroutine.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

// NATSRunning reports whether the embedded NATS server is up.
func (d *Daemon) NATSRunning() bool {
	return d.nats != nil && d.nats.Running()
}

// Endpoint returns the compute API base URL in use.
func (d *Daemon) Endpoint() string {
	return d.config().Exoscale.Endpoint
}

// ReloadConfig re-reads the config file and environment and swaps in a new
// provider client. Listener addresses and the NATS setup are not changed.
func (d *Daemon) ReloadConfig() error {
	cfg, err := LoadConfig(d.config().File)
	if err != nil {
		return err
	}
	client, err := cfg.NewClient()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	d.mu.Lock()
	d.cfg.Machine = cfg.Machine
	d.cfg.Exoscale = cfg.Exoscale
	d.mu.Unlock()

	d.ctl.SetClient(cfg.Machine.ServerID, client)
	d.logger.Info().Str("server_id", cfg.Machine.ServerID).Str("endpoint", client.Endpoint()).Msg("config reloaded")
	d.publisher.Publish(protocol.NewEvent(protocol.EventConfigReloaded, protocol.SourceDaemon, map[string]any{
		"server_id": cfg.Machine.ServerID,
	}))
	return nil
}

func (d *Daemon) reloadFromWatcher() {
	if err := d.ReloadConfig(); err != nil {
		d.logger.Error().Err(err).Msg("config reload failed, keeping previous settings")
	}
}

func (d *Daemon) config() Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

func (d *Daemon) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if d.watcher != nil {
		d.watcher.Close()
	}
	if d.notifier != nil {
		d.notifier.Close()
	}
	if d.webServer != nil {
		d.webServer.Shutdown(ctx)
	}
	if d.apiServer != nil {
		d.apiServer.Shutdown(ctx)
	}
	if d.nats != nil {
		d.nats.Shutdown()
	}
	os.Remove(d.config().Server.Socket)
}
