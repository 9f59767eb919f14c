package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	"github.com/exoswitch/exoswitch/pkg/protocol"
)

// DaemonAPI is the interface for talking to the exoswitchd control API.
// Implemented by APIClient; tests can provide a mock.
type DaemonAPI interface {
	GetStatus(ctx context.Context) (*protocol.StatusResponse, error)
	GetMachine(ctx context.Context) (*protocol.MachineResponse, error)
	StartMachine(ctx context.Context) (*protocol.JobStartedResponse, error)
	StopMachine(ctx context.Context) (*protocol.JobStartedResponse, error)
	GetJob(ctx context.Context, jobID string) (*protocol.JobStatusResponse, error)
	ReloadConfig(ctx context.Context) error
}

// APIClient talks to exoswitchd over its Unix socket HTTP API.
type APIClient struct {
	client *http.Client
}

// NewAPIClient creates an APIClient connected to the daemon's Unix socket.
func NewAPIClient(socketPath string) *APIClient {
	return &APIClient{
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					return (&net.Dialer{}).DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

func (c *APIClient) GetStatus(ctx context.Context) (*protocol.StatusResponse, error) {
	var resp protocol.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) GetMachine(ctx context.Context) (*protocol.MachineResponse, error) {
	var resp protocol.MachineResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/machine", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) StartMachine(ctx context.Context) (*protocol.JobStartedResponse, error) {
	var resp protocol.JobStartedResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/machine/start", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) StopMachine(ctx context.Context) (*protocol.JobStartedResponse, error) {
	var resp protocol.JobStartedResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/machine/stop", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) GetJob(ctx context.Context, jobID string) (*protocol.JobStatusResponse, error) {
	var resp protocol.JobStatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(jobID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) ReloadConfig(ctx context.Context) error {
	var resp protocol.ConfigReloadResponse
	return c.do(ctx, http.MethodPost, "/api/v1/config/reload", &resp)
}

func (c *APIClient) do(ctx context.Context, method, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, method, "http://exoswitchd"+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr protocol.ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, bytes.TrimSpace(body))
	}
	return json.Unmarshal(body, dst)
}
