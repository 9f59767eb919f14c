package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *MCPServer) handleGetStatus(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	status, err := s.api.GetStatus(ctx)
	if err != nil {
		return textError("failed to get status: " + err.Error()), nil
	}
	return textJSON(status)
}

func (s *MCPServer) handleMachineStatus(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	m, err := s.api.GetMachine(ctx)
	if err != nil {
		return textError("failed to check machine: " + err.Error()), nil
	}
	return textJSON(m)
}

func (s *MCPServer) handleStartMachine(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	job, err := s.api.StartMachine(ctx)
	if err != nil {
		return textError("failed to start machine: " + err.Error()), nil
	}
	return textJSON(job)
}

func (s *MCPServer) handleStopMachine(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	job, err := s.api.StopMachine(ctx)
	if err != nil {
		return textError("failed to stop machine: " + err.Error()), nil
	}
	return textJSON(job)
}

func (s *MCPServer) handleJobStatus(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	jobID, err := req.RequireString("job_id")
	if err != nil || jobID == "" {
		return textError("missing required parameter: job_id"), nil
	}
	job, err := s.api.GetJob(ctx, jobID)
	if err != nil {
		return textError("failed to get job status: " + err.Error()), nil
	}
	return textJSON(job)
}

func (s *MCPServer) handleReloadConfig(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if err := s.api.ReloadConfig(ctx); err != nil {
		return textError("failed to reload config: " + err.Error()), nil
	}
	return textResult(`{"status":"reloaded"}`), nil
}

// textResult returns a successful text result.
func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
	}
}

// textError returns an error text result.
func textError(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

// textJSON marshals v to indented JSON and returns it as a text result.
func textJSON(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return textError("failed to marshal response: " + err.Error()), nil
	}
	return textResult(string(data)), nil
}
