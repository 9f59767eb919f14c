// Package api serves the exoswitchd control API over a Unix socket.
package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/exoswitch/exoswitch/internal/machine"
	"github.com/exoswitch/exoswitch/pkg/protocol"
)

// Controller is the machine surface the API drives.
type Controller interface {
	ServerID() string
	IsRunning(ctx context.Context) (bool, error)
	Start(ctx context.Context) (string, error)
	Stop(ctx context.Context) (string, error)
	JobStatus(ctx context.Context, jobID string) (map[string]any, error)
}

// Daemon exposes the process-level state the API reports on.
type Daemon interface {
	NATSRunning() bool
	Endpoint() string
	ReloadConfig() error
}

// Server serves the control API.
type Server struct {
	socketPath string
	ctl        Controller
	daemon     Daemon
	startedAt  time.Time
	httpServer *http.Server
	logger     zerolog.Logger
}

// New creates an API server.
func New(socketPath string, ctl Controller, daemon Daemon, startedAt time.Time, logger zerolog.Logger) *Server {
	s := &Server{
		socketPath: socketPath,
		ctl:        ctl,
		daemon:     daemon,
		startedAt:  startedAt,
		logger:     logger.With().Str("component", "api").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/machine", s.handleMachine)
	mux.HandleFunc("POST /api/v1/machine/start", s.handleStart)
	mux.HandleFunc("POST /api/v1/machine/stop", s.handleStop)
	mux.HandleFunc("GET /api/v1/jobs/{id}", s.handleJob)
	mux.HandleFunc("POST /api/v1/config/reload", s.handleConfigReload)

	s.httpServer = &http.Server{Handler: mux}
	return s
}

// Handler returns the API's HTTP handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Listen creates the socket, replacing a stale one, and restricts it to the
// owner.
func (s *Server) Listen() (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0700); err != nil {
		return nil, err
	}
	os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		ln.Close()
		return nil, err
	}
	return ln, nil
}

// Serve serves the API on ln. Blocks until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info().Str("socket", s.socketPath).Msg("API server listening")
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.StatusResponse{
		Status:      "ok",
		Uptime:      time.Since(s.startedAt).Truncate(time.Second).String(),
		NATSRunning: s.daemon.NATSRunning(),
		StartedAt:   s.startedAt,
		ServerID:    s.ctl.ServerID(),
		Endpoint:    s.daemon.Endpoint(),
	})
}

func (s *Server) handleMachine(w http.ResponseWriter, r *http.Request) {
	running, err := s.ctl.IsRunning(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.MachineResponse{ServerID: s.ctl.ServerID(), Running: running})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	jobID, err := s.ctl.Start(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.JobStartedResponse{JobID: jobID})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	jobID, err := s.ctl.Stop(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.JobStartedResponse{JobID: jobID})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	result, err := s.ctl.JobStatus(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.JobStatusResponse{JobID: jobID, Result: result})
}

func (s *Server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.ReloadConfig(); err != nil {
		s.logger.Error().Err(err).Msg("config reload failed")
		writeJSON(w, http.StatusInternalServerError, protocol.ErrorResponse{Error: err.Error(), Kind: "config_error"})
		return
	}
	writeJSON(w, http.StatusOK, protocol.ConfigReloadResponse{Status: "reloaded"})
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, machine.HTTPStatus(err), protocol.ErrorResponse{Error: err.Error(), Kind: machine.Outcome(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
