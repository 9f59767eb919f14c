package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/exoswitch/exoswitch/internal/machine"
	"github.com/exoswitch/exoswitch/pkg/protocol"
)

// IndexData is the template data for the index page.
type IndexData struct {
	ServerID  string
	Running   bool
	Button    string
	Action    string
	CSRFToken string
	Events    []EventData
}

// ErrorData is the template data for the error page.
type ErrorData struct {
	Status  int
	Title   string
	Message string
}

// EventData holds a single event for the template.
type EventData struct {
	Time    string
	Type    string
	Payload string
}

// buttonFor maps the running state to the single button the page shows.
func buttonFor(running bool) (label, action string) {
	if running {
		return "stop", "/stop"
	}
	return "start", "/start"
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	running, err := s.ctl.IsRunning(r.Context())
	if err != nil {
		s.renderError(w, machine.HTTPStatus(err), err)
		return
	}

	label, action := buttonFor(running)
	data := IndexData{
		ServerID:  s.ctl.ServerID(),
		Running:   running,
		Button:    label,
		Action:    action,
		CSRFToken: csrfToken(r),
		Events:    s.buildRecentEvents(),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, "index", data); err != nil {
		s.logger.Error().Err(err).Msg("render index")
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	jobID, err := s.ctl.Start(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.JobStartedResponse{JobID: jobID})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	jobID, err := s.ctl.Stop(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.JobStartedResponse{JobID: jobID})
}

// handleJobStatus returns the provider's job result envelope unmodified.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Error: "job_id is required"})
		return
	}
	result, err := s.ctl.JobStatus(r.Context(), jobID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok\n"))
}

func (s *Server) renderError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	data := ErrorData{Status: status, Title: http.StatusText(status), Message: err.Error()}
	if err := s.templates.ExecuteTemplate(w, "error", data); err != nil {
		s.logger.Error().Err(err).Msg("render error page")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	writeJSON(w, machine.HTTPStatus(err), protocol.ErrorResponse{Error: err.Error(), Kind: machine.Outcome(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) buildRecentEvents() []EventData {
	raw := s.eventBus.Recent()
	events := make([]EventData, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		if ed, ok := decodeEvent(raw[i]); ok {
			events = append(events, ed)
		}
	}
	return events
}

func decodeEvent(data []byte) (EventData, bool) {
	var evt protocol.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return EventData{}, false
	}
	payload, _ := json.Marshal(evt.Payload)
	return EventData{
		Time:    time.Unix(evt.Timestamp, 0).Format("2006-01-02 15:04:05"),
		Type:    evt.Type,
		Payload: string(payload),
	}, true
}
