package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/exoswitch/exoswitch/pkg/protocol"
)

// apiClient returns an http.Client that connects over the Unix socket.
func apiClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return (&net.Dialer{}).DialContext(ctx, "unix", socketPath)
			},
		},
	}
}

// apiGet performs a GET and decodes the JSON response.
func apiGet(ctx context.Context, path string, dest any) error {
	return apiDo(ctx, http.MethodGet, path, dest)
}

// apiPost performs a POST and decodes the JSON response.
func apiPost(ctx context.Context, path string, dest any) error {
	return apiDo(ctx, http.MethodPost, path, dest)
}

func apiDo(ctx context.Context, method, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, method, "http://exoswitchd"+path, nil)
	if err != nil {
		return err
	}
	resp, err := apiClient().Do(req)
	if err != nil {
		return fmt.Errorf("cannot connect to exoswitchd at %s: %w", socketPath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr protocol.ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("exoswitchd returned HTTP %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("exoswitchd returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if dest != nil {
		return json.NewDecoder(resp.Body).Decode(dest)
	}
	return nil
}
