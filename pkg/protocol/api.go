package protocol

import "time"

// StatusResponse is returned by GET /api/v1/status.
type StatusResponse struct {
	Status      string    `json:"status"`
	Uptime      string    `json:"uptime"`
	NATSRunning bool      `json:"nats_running"`
	StartedAt   time.Time `json:"started_at"`
	ServerID    string    `json:"server_id"`
	Endpoint    string    `json:"endpoint"`
}

// MachineResponse is returned by GET /api/v1/machine.
type MachineResponse struct {
	ServerID string `json:"server_id"`
	Running  bool   `json:"running"`
}

// JobStartedResponse is returned by the start and stop endpoints.
type JobStartedResponse struct {
	JobID string `json:"jobid"`
}

// JobStatusResponse is returned by GET /api/v1/jobs/{id}. Result is the
// provider's queryasyncjobresultresponse object, passed through untouched.
type JobStatusResponse struct {
	JobID  string         `json:"jobid"`
	Result map[string]any `json:"result"`
}

// ErrorResponse is the JSON body of a failed API call.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// ConfigReloadResponse is returned by POST /api/v1/config/reload.
type ConfigReloadResponse struct {
	Status string `json:"status"`
}
