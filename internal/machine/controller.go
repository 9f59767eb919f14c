// Package machine binds the configured server id to the Exoscale client and
// is the single entry point the web and API layers use to check, start, stop
// and poll the game server VM.
package machine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/golang/groupcache/lru"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/exoswitch/exoswitch/internal/metrics"
	"github.com/exoswitch/exoswitch/pkg/exoscale"
	"github.com/exoswitch/exoswitch/pkg/protocol"
)

// Job status values reported by queryAsyncJobResult.
const (
	JobPending = 0
	JobSuccess = 1
	JobFailure = 2
)

// ComputeAPI is the subset of *exoscale.Client the controller uses.
type ComputeAPI interface {
	IsMachineRunning(ctx context.Context, serverID string) (bool, error)
	StartMachine(ctx context.Context, serverID string) (string, error)
	StopMachine(ctx context.Context, serverID string) (string, error)
	JobResult(ctx context.Context, jobID string) (map[string]any, error)
}

// Publisher delivers lifecycle events.
type Publisher interface {
	Publish(ev protocol.Event)
}

// reportedJobs bounds how many finished job ids are remembered so that
// job.finished is published once per job.
const reportedJobs = 256

type binding struct {
	serverID string
	api      ComputeAPI
}

// Controller is safe for concurrent use. Each call works on one snapshot of
// the server id and client; SetClient replaces both together.
type Controller struct {
	current atomic.Pointer[binding]
	pub     Publisher
	logger  zerolog.Logger

	mu       sync.Mutex
	finished *lru.Cache
}

// New returns a Controller for serverID. pub may be nil.
func New(serverID string, client ComputeAPI, pub Publisher, logger zerolog.Logger) *Controller {
	c := &Controller{
		pub:      pub,
		logger:   logger.With().Str("component", "machine").Logger(),
		finished: lru.New(reportedJobs),
	}
	c.SetClient(serverID, client)
	return c
}

// SetClient swaps in a new server id and client, e.g. after a config reload.
func (c *Controller) SetClient(serverID string, client ComputeAPI) {
	c.current.Store(&binding{serverID: serverID, api: client})
}

// ServerID returns the id of the managed machine.
func (c *Controller) ServerID() string { return c.current.Load().serverID }

// IsRunning reports whether the machine is in the Running state.
func (c *Controller) IsRunning(ctx context.Context) (bool, error) {
	b := c.current.Load()
	serverID := b.serverID
	running, err := b.api.IsMachineRunning(ctx, serverID)
	c.observe(exoscale.CommandListVirtualMachines, err)
	if err != nil {
		c.logger.Error().Err(err).Str("server_id", serverID).Msg("status check failed")
		return false, err
	}
	c.logger.Debug().Str("server_id", serverID).Bool("running", running).Msg("status checked")
	c.publish(protocol.EventStatusChecked, map[string]any{"server_id": serverID, "running": running})
	return running, nil
}

// Start requests the machine start and returns the provider job id.
func (c *Controller) Start(ctx context.Context) (string, error) {
	b := c.current.Load()
	return c.lifecycle(ctx, b.serverID, exoscale.CommandStartVirtualMachine, protocol.EventStartRequested, b.api.StartMachine)
}

// Stop requests the machine stop and returns the provider job id.
func (c *Controller) Stop(ctx context.Context) (string, error) {
	b := c.current.Load()
	return c.lifecycle(ctx, b.serverID, exoscale.CommandStopVirtualMachine, protocol.EventStopRequested, b.api.StopMachine)
}

func (c *Controller) lifecycle(ctx context.Context, serverID, command, eventType string,
	call func(context.Context, string) (string, error)) (string, error) {

	jobID, err := call(ctx, serverID)
	c.observe(command, err)
	if err != nil {
		c.logger.Error().Err(err).Str("command", command).Str("server_id", serverID).Msg("command failed")
		return "", err
	}
	c.logger.Info().Str("command", command).Str("server_id", serverID).Str("jobid", jobID).Msg("command accepted")
	c.publish(eventType, map[string]any{"server_id": serverID, "jobid": jobID})
	return jobID, nil
}

// JobStatus returns the provider's job result envelope untouched. The first
// poll that sees the job no longer pending publishes job.finished.
func (c *Controller) JobStatus(ctx context.Context, jobID string) (map[string]any, error) {
	if jobID == "" {
		return nil, ErrMissingJobID
	}
	b := c.current.Load()
	result, err := b.api.JobResult(ctx, jobID)
	c.observe(exoscale.CommandQueryAsyncJobResult, err)
	if err != nil {
		c.logger.Error().Err(err).Str("jobid", jobID).Msg("job status failed")
		return nil, err
	}

	status, ok := JobStatusCode(result)
	if ok && status != JobPending && c.markFinished(jobID) {
		c.logger.Info().Str("jobid", jobID).Int("jobstatus", status).Msg("job finished")
		c.publish(protocol.EventJobFinished, map[string]any{
			"server_id":     b.serverID,
			"jobid":         jobID,
			"jobstatus":     status,
			"jobresultcode": result["jobresultcode"],
		})
	}
	return result, nil
}

// markFinished records jobID and reports whether it was not seen before.
func (c *Controller) markFinished(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, seen := c.finished.Get(jobID); seen {
		return false
	}
	c.finished.Add(jobID, struct{}{})
	return true
}

// ErrMissingJobID is returned by JobStatus for an empty job id.
var ErrMissingJobID = errors.New("job id is required")

// JobStatusCode extracts the numeric jobstatus field from a job result.
func JobStatusCode(result map[string]any) (int, bool) {
	switch v := result["jobstatus"].(type) {
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case int:
		return v, true
	}
	return 0, false
}

func (c *Controller) observe(command string, err error) {
	metrics.ObserveCommand(command, Outcome(err))
}

func (c *Controller) publish(eventType string, payload map[string]any) {
	if c.pub == nil {
		return
	}
	c.pub.Publish(protocol.NewEvent(eventType, protocol.SourceMachine, payload))
}

// Outcome classifies err into a short label for logs and metrics.
func Outcome(err error) string {
	var (
		te *exoscale.TransportError
		de *exoscale.DecodeError
		se *exoscale.ShapeError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, exoscale.ErrMissingCredentials), errors.Is(err, exoscale.ErrReservedParam):
		return "config_error"
	case errors.As(err, &te):
		return "transport_error"
	case errors.As(err, &de):
		return "decode_error"
	case errors.As(err, &se):
		return "shape_error"
	default:
		return "error"
	}
}

// HTTPStatus maps err to the status the web and control API answer with.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, exoscale.ErrMachineNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrMissingJobID):
		return http.StatusBadRequest
	case errors.Is(err, exoscale.ErrMissingCredentials), errors.Is(err, exoscale.ErrReservedParam):
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

// NATSPublisher publishes events on exoswitch.events.<source>.
type NATSPublisher struct {
	nc     *nats.Conn
	logger zerolog.Logger
}

// NewNATSPublisher returns a Publisher backed by nc.
func NewNATSPublisher(nc *nats.Conn, logger zerolog.Logger) *NATSPublisher {
	return &NATSPublisher{nc: nc, logger: logger.With().Str("component", "events").Logger()}
}

// Publish marshals ev and sends it. Failures are logged, not returned.
func (p *NATSPublisher) Publish(ev protocol.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error().Err(err).Str("type", ev.Type).Msg("marshal event")
		return
	}
	subject := protocol.SubjectEvents(ev.Source)
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Error().Err(err).Str("type", ev.Type).Str("subject", subject).Msg("publish event")
	}
}
