// Package exoscale signs and sends requests to the Exoscale compute API.
//
// Every request is a GET whose query string carries the command name, the API
// key and a signature: base64(HMAC-SHA1(secret, lower(canonical string))).
// A Client is immutable once built and safe for concurrent use.
package exoscale

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultEndpoint is the compute API base URL.
const DefaultEndpoint = "https://api.exoscale.com/compute"

// Command names used by this package.
const (
	CommandListVirtualMachines = "listVirtualMachines"
	CommandStartVirtualMachine = "startVirtualMachine"
	CommandStopVirtualMachine  = "stopVirtualMachine"
	CommandQueryAsyncJobResult = "queryAsyncJobResult"
)

// StateRunning is the machine state reported for a running VM.
const StateRunning = "Running"

// maxErrorBody caps how much of a non-2xx body is kept in a TransportError.
const maxErrorBody = 4096

// Response is a decoded API response envelope.
type Response map[string]any

// Config holds the settings for New.
type Config struct {
	Endpoint  string        // defaults to DefaultEndpoint
	APIKey    string        // required
	APISecret string        // required
	Timeout   time.Duration // 0 = no client-side timeout
	Transport http.RoundTripper
}

// Client issues signed requests. It holds no mutable state.
type Client struct {
	signer   Signer
	endpoint string
	http     *http.Client
}

// New builds a Client. It fails with ErrMissingCredentials before any
// network activity when the key or secret is empty.
func New(cfg Config) (*Client, error) {
	signer, err := NewSigner(cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, err
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		signer:   signer,
		endpoint: strings.TrimRight(endpoint, "?"),
		http:     &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
	}, nil
}

// Endpoint returns the API base URL.
func (c *Client) Endpoint() string { return c.endpoint }

// SignedURL returns the full request URL for command and params.
func (c *Client) SignedURL(command string, params map[string]string) (string, error) {
	query, err := c.signer.BuildSignedQuery(command, params)
	if err != nil {
		return "", err
	}
	return c.endpoint + "?" + query, nil
}

// Send performs one signed GET and returns the decoded JSON object as-is.
// There is no retry.
func (c *Client) Send(ctx context.Context, command string, params map[string]string) (Response, error) {
	u, err := c.SignedURL(command, params)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req) // #nosec G107 -- URL is the configured API endpoint
	if err != nil {
		return nil, &TransportError{Command: command, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &TransportError{
			Command:    command,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &DecodeError{Command: command, Err: err}
	}
	if out == nil {
		return nil, &DecodeError{Command: command, Err: fmt.Errorf("response is null")}
	}
	return out, nil
}

// EnvelopeKey returns the response key the provider uses for command.
func EnvelopeKey(command string) string {
	return strings.ToLower(command) + "response"
}

// envelope sends command and returns the payload under its envelope key.
func (c *Client) envelope(ctx context.Context, command string, params map[string]string) (map[string]any, error) {
	resp, err := c.Send(ctx, command, params)
	if err != nil {
		return nil, err
	}
	key := EnvelopeKey(command)
	payload, ok := resp[key].(map[string]any)
	if !ok {
		return nil, &ShapeError{Command: command, Path: key}
	}
	return payload, nil
}

// IsMachineRunning reports whether the first machine listed for serverID is
// in the Running state. An empty listing is an error wrapping
// ErrMachineNotFound, not "not running".
func (c *Client) IsMachineRunning(ctx context.Context, serverID string) (bool, error) {
	payload, err := c.envelope(ctx, CommandListVirtualMachines, map[string]string{"id": serverID})
	if err != nil {
		return false, err
	}
	path := EnvelopeKey(CommandListVirtualMachines) + ".virtualmachine"
	machines, ok := payload["virtualmachine"].([]any)
	if !ok || len(machines) == 0 {
		return false, &ShapeError{Command: CommandListVirtualMachines, Path: path, Err: ErrMachineNotFound}
	}
	first, ok := machines[0].(map[string]any)
	if !ok {
		return false, &ShapeError{Command: CommandListVirtualMachines, Path: path + "[0]"}
	}
	state, ok := first["state"].(string)
	if !ok {
		return false, &ShapeError{Command: CommandListVirtualMachines, Path: path + "[0].state"}
	}
	return state == StateRunning, nil
}

// StartMachine asks the provider to start serverID and returns the job id.
func (c *Client) StartMachine(ctx context.Context, serverID string) (string, error) {
	return c.jobCommand(ctx, CommandStartVirtualMachine, serverID)
}

// StopMachine asks the provider to stop serverID and returns the job id.
func (c *Client) StopMachine(ctx context.Context, serverID string) (string, error) {
	return c.jobCommand(ctx, CommandStopVirtualMachine, serverID)
}

func (c *Client) jobCommand(ctx context.Context, command, serverID string) (string, error) {
	payload, err := c.envelope(ctx, command, map[string]string{"id": serverID})
	if err != nil {
		return "", err
	}
	jobID, ok := payload["jobid"].(string)
	if !ok {
		return "", &ShapeError{Command: command, Path: EnvelopeKey(command) + ".jobid"}
	}
	return jobID, nil
}

// JobResult returns the queryAsyncJobResult envelope for jobID without
// interpreting it.
func (c *Client) JobResult(ctx context.Context, jobID string) (map[string]any, error) {
	return c.envelope(ctx, CommandQueryAsyncJobResult, map[string]string{"jobid": jobID})
}
