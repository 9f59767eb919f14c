package exoscale

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"
)

// fakeAPI records requests and serves a canned body per command.
type fakeAPI struct {
	mu       sync.Mutex
	requests []url.Values
	bodies   map[string]string
	status   int
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f.mu.Lock()
	f.requests = append(f.requests, q)
	f.mu.Unlock()

	if f.status != 0 {
		w.WriteHeader(f.status)
		w.Write([]byte(`{"errortext":"denied"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(f.bodies[q.Get("command")]))
}

func (f *fakeAPI) last() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	ts := httptest.NewServer(api)
	t.Cleanup(ts.Close)

	c, err := New(Config{Endpoint: ts.URL, APIKey: "K", APISecret: "S"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewRequiresCredentials(t *testing.T) {
	if _, err := New(Config{APIKey: "k"}); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("err = %v, want ErrMissingCredentials", err)
	}
	if _, err := New(Config{APISecret: "s"}); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("err = %v, want ErrMissingCredentials", err)
	}
}

func TestNewDefaultsEndpoint(t *testing.T) {
	c, err := New(Config{APIKey: "k", APISecret: "s"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Endpoint() != DefaultEndpoint {
		t.Fatalf("endpoint = %q, want %q", c.Endpoint(), DefaultEndpoint)
	}
}

func TestSignedURL(t *testing.T) {
	c, _ := New(Config{APIKey: "K", APISecret: "S"})
	u, err := c.SignedURL(CommandListVirtualMachines, map[string]string{"id": "abc-123"})
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	want := DefaultEndpoint + "?apikey=K&command=listVirtualMachines&id=abc-123&signature=pBozpmM6ZwOSS6mrDzfJGYDtafc%3D"
	if u != want {
		t.Fatalf("SignedURL = %q, want %q", u, want)
	}
}

func TestSendSignsRequest(t *testing.T) {
	api := &fakeAPI{bodies: map[string]string{
		CommandListVirtualMachines: `{"listvirtualmachinesresponse":{"count":0}}`,
	}}
	c := newTestClient(t, api)

	resp, err := c.Send(context.Background(), CommandListVirtualMachines, map[string]string{"id": "abc-123"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, ok := resp["listvirtualmachinesresponse"]; !ok {
		t.Fatalf("response missing envelope: %v", resp)
	}

	q := api.last()
	if q.Get("apikey") != "K" || q.Get("command") != CommandListVirtualMachines || q.Get("id") != "abc-123" {
		t.Fatalf("unexpected query: %v", q)
	}
	if q.Get("signature") != "pBozpmM6ZwOSS6mrDzfJGYDtafc=" {
		t.Fatalf("signature = %q", q.Get("signature"))
	}
}

func TestSendTransportErrorOnStatus(t *testing.T) {
	api := &fakeAPI{status: http.StatusUnauthorized}
	c := newTestClient(t, api)

	_, err := c.Send(context.Background(), CommandListVirtualMachines, nil)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TransportError", err)
	}
	if te.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", te.StatusCode)
	}
	if te.Body != `{"errortext":"denied"}` {
		t.Errorf("body = %q", te.Body)
	}
}

func TestSendTransportErrorOnConnection(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	endpoint := ts.URL
	ts.Close()

	c, _ := New(Config{Endpoint: endpoint, APIKey: "K", APISecret: "S"})
	_, err := c.Send(context.Background(), CommandListVirtualMachines, nil)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TransportError", err)
	}
	if te.StatusCode != 0 {
		t.Errorf("status = %d, want 0", te.StatusCode)
	}
}

func TestSendHonoursContextDeadline(t *testing.T) {
	block := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(block)

	c, _ := New(Config{Endpoint: ts.URL, APIKey: "K", APISecret: "S"})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Send(ctx, CommandListVirtualMachines, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestSendDecodeError(t *testing.T) {
	for name, body := range map[string]string{
		"not json": `<html>oops</html>`,
		"array":    `[1,2,3]`,
		"null":     `null`,
	} {
		t.Run(name, func(t *testing.T) {
			api := &fakeAPI{bodies: map[string]string{CommandListVirtualMachines: body}}
			c := newTestClient(t, api)
			_, err := c.Send(context.Background(), CommandListVirtualMachines, nil)
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("err = %v, want *DecodeError", err)
			}
		})
	}
}

func TestSendRejectsReservedParams(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api)
	_, err := c.Send(context.Background(), CommandListVirtualMachines, map[string]string{"apikey": "evil"})
	if !errors.Is(err, ErrReservedParam) {
		t.Fatalf("err = %v, want ErrReservedParam", err)
	}
	if len(api.requests) != 0 {
		t.Fatalf("expected no request, got %d", len(api.requests))
	}
}

func TestIsMachineRunning(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    bool
		wantErr bool
	}{
		{
			name: "running",
			body: `{"listvirtualmachinesresponse":{"count":1,"virtualmachine":[{"id":"vm-1","state":"Running"}]}}`,
			want: true,
		},
		{
			name: "stopped",
			body: `{"listvirtualmachinesresponse":{"count":1,"virtualmachine":[{"id":"vm-1","state":"Stopped"}]}}`,
			want: false,
		},
		{
			name: "first machine wins",
			body: `{"listvirtualmachinesresponse":{"virtualmachine":[{"state":"Starting"},{"state":"Running"}]}}`,
			want: false,
		},
		{
			name: "lowercase state is not running",
			body: `{"listvirtualmachinesresponse":{"virtualmachine":[{"state":"running"}]}}`,
			want: false,
		},
		{
			name:    "missing state",
			body:    `{"listvirtualmachinesresponse":{"virtualmachine":[{"id":"vm-1"}]}}`,
			wantErr: true,
		},
		{
			name:    "missing envelope",
			body:    `{"errorresponse":{}}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{bodies: map[string]string{CommandListVirtualMachines: tt.body}}
			c := newTestClient(t, api)

			got, err := c.IsMachineRunning(context.Background(), "vm-1")
			if tt.wantErr {
				var se *ShapeError
				if !errors.As(err, &se) {
					t.Fatalf("err = %v, want *ShapeError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("IsMachineRunning: %v", err)
			}
			if got != tt.want {
				t.Fatalf("IsMachineRunning = %v, want %v", got, tt.want)
			}
			if id := api.last().Get("id"); id != "vm-1" {
				t.Errorf("id = %q, want vm-1", id)
			}
		})
	}
}

func TestIsMachineRunningEmptyListIsNotFound(t *testing.T) {
	for name, body := range map[string]string{
		"empty list":   `{"listvirtualmachinesresponse":{"count":0,"virtualmachine":[]}}`,
		"missing list": `{"listvirtualmachinesresponse":{}}`,
	} {
		t.Run(name, func(t *testing.T) {
			api := &fakeAPI{bodies: map[string]string{CommandListVirtualMachines: body}}
			c := newTestClient(t, api)

			running, err := c.IsMachineRunning(context.Background(), "vm-1")
			if !errors.Is(err, ErrMachineNotFound) {
				t.Fatalf("err = %v, want ErrMachineNotFound", err)
			}
			var se *ShapeError
			if !errors.As(err, &se) {
				t.Fatalf("err = %v, want *ShapeError", err)
			}
			if running {
				t.Fatal("expected running=false alongside the error")
			}
		})
	}
}

func TestStartStopMachineReturnJobID(t *testing.T) {
	api := &fakeAPI{bodies: map[string]string{
		CommandStartVirtualMachine: `{"startvirtualmachineresponse":{"jobid":"job-start"}}`,
		CommandStopVirtualMachine:  `{"stopvirtualmachineresponse":{"jobid":"job-stop"}}`,
	}}
	c := newTestClient(t, api)

	jobID, err := c.StartMachine(context.Background(), "vm-1")
	if err != nil {
		t.Fatalf("StartMachine: %v", err)
	}
	if jobID != "job-start" {
		t.Errorf("start jobid = %q", jobID)
	}
	if q := api.last(); q.Get("command") != CommandStartVirtualMachine || q.Get("id") != "vm-1" {
		t.Errorf("unexpected start query: %v", q)
	}

	jobID, err = c.StopMachine(context.Background(), "vm-1")
	if err != nil {
		t.Fatalf("StopMachine: %v", err)
	}
	if jobID != "job-stop" {
		t.Errorf("stop jobid = %q", jobID)
	}
	if q := api.last(); q.Get("command") != CommandStopVirtualMachine {
		t.Errorf("unexpected stop query: %v", q)
	}
}

func TestStartMachineMissingJobID(t *testing.T) {
	api := &fakeAPI{bodies: map[string]string{
		CommandStartVirtualMachine: `{"startvirtualmachineresponse":{}}`,
		CommandStopVirtualMachine:  `{"somethingelse":{"jobid":"x"}}`,
	}}
	c := newTestClient(t, api)

	_, err := c.StartMachine(context.Background(), "vm-1")
	var se *ShapeError
	if !errors.As(err, &se) {
		t.Fatalf("start err = %v, want *ShapeError", err)
	}
	if se.Path != "startvirtualmachineresponse.jobid" {
		t.Errorf("path = %q", se.Path)
	}

	_, err = c.StopMachine(context.Background(), "vm-1")
	if !errors.As(err, &se) {
		t.Fatalf("stop err = %v, want *ShapeError", err)
	}
	if se.Path != "stopvirtualmachineresponse" {
		t.Errorf("path = %q", se.Path)
	}
}

func TestJobResultReturnsEnvelope(t *testing.T) {
	api := &fakeAPI{bodies: map[string]string{
		CommandQueryAsyncJobResult: `{"queryasyncjobresultresponse":{"jobid":"job-1","jobstatus":1,"jobresultcode":0}}`,
	}}
	c := newTestClient(t, api)

	res, err := c.JobResult(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("JobResult: %v", err)
	}
	if res["jobid"] != "job-1" {
		t.Errorf("jobid = %v", res["jobid"])
	}
	if res["jobstatus"] != float64(1) {
		t.Errorf("jobstatus = %v", res["jobstatus"])
	}
	if q := api.last(); q.Get("jobid") != "job-1" || q.Get("id") != "" {
		t.Errorf("unexpected query: %v", q)
	}
}

func TestEnvelopeKey(t *testing.T) {
	if got := EnvelopeKey("listVirtualMachines"); got != "listvirtualmachinesresponse" {
		t.Fatalf("EnvelopeKey = %q", got)
	}
}

func TestClientConcurrentUse(t *testing.T) {
	api := &fakeAPI{bodies: map[string]string{
		CommandQueryAsyncJobResult: `{"queryasyncjobresultresponse":{"jobstatus":0}}`,
	}}
	c := newTestClient(t, api)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.JobResult(context.Background(), "job"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent JobResult: %v", err)
	}
}
