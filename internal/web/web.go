// Package web serves the exoswitch page and the JSON endpoints it polls.
package web

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"embed"
	"encoding/hex"
	"html/template"
	"io/fs"
	"net"
	"net/http"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/exoswitch/exoswitch/internal/metrics"
	"github.com/exoswitch/exoswitch/pkg/protocol"
)

//go:embed static templates
var content embed.FS

const (
	csrfCookieName = "exoswitch_csrf"
	csrfHeaderName = "X-CSRF-Token"
	csrfFormField  = "csrf_token"
)

// Config holds web UI settings passed to New.
type Config struct {
	Listen   string
	Username string // HTTP Basic Auth username (empty = no auth).
	Password string // HTTP Basic Auth password (empty = no auth).
}

// Controller is the machine surface the handlers drive.
type Controller interface {
	ServerID() string
	IsRunning(ctx context.Context) (bool, error)
	Start(ctx context.Context) (string, error)
	Stop(ctx context.Context) (string, error)
	JobStatus(ctx context.Context, jobID string) (map[string]any, error)
}

// Server serves the web UI on a TCP port.
type Server struct {
	listen     string
	ctl        Controller
	nc         *nats.Conn
	sub        *nats.Subscription
	httpServer *http.Server
	logger     zerolog.Logger
	templates  *template.Template
	eventBus   *EventBus
	username   string
	password   string
}

// New creates a web UI server. nc may be nil, in which case the live event
// feed stays empty. If cfg.Username and cfg.Password are non-empty, HTTP
// Basic Auth is required for all routes.
func New(cfg Config, ctl Controller, nc *nats.Conn, logger zerolog.Logger) *Server {
	s := &Server{
		listen:   cfg.Listen,
		ctl:      ctl,
		nc:       nc,
		logger:   logger.With().Str("component", "web").Logger(),
		eventBus: NewEventBus(50),
		username: cfg.Username,
		password: cfg.Password,
	}

	tmplFS, _ := fs.Sub(content, "templates")
	s.templates = template.Must(template.New("").ParseFS(tmplFS, "*.html", "partials/*.html"))

	mux := http.NewServeMux()

	staticFS, _ := fs.Sub(content, "static")
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /start", s.handleStart)
	mux.HandleFunc("POST /stop", s.handleStop)
	mux.HandleFunc("GET /job_status", s.handleJobStatus)
	mux.HandleFunc("GET /events/stream", s.handleEventStream)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", metrics.Handler())

	s.httpServer = &http.Server{Handler: metrics.Middleware(s.securityMiddleware(s.csrfMiddleware(mux)))}
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// securityMiddleware adds security headers and optional HTTP Basic Auth to all responses.
func (s *Server) securityMiddleware(next http.Handler) http.Handler {
	authEnabled := s.username != "" && s.password != ""
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "same-origin")
		h.Set("Content-Security-Policy", "default-src 'none'; script-src 'self'; style-src 'self'; img-src 'self'; connect-src 'self'; form-action 'self'")

		if authEnabled {
			user, pass, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte(s.username)) != 1 ||
				subtle.ConstantTimeCompare([]byte(pass), []byte(s.password)) != 1 {
				h.Set("WWW-Authenticate", `Basic realm="exoswitch"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// csrfMiddleware issues a double-submit token cookie on safe requests and
// checks it on POST.
func (s *Server) csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			if _, err := r.Cookie(csrfCookieName); err != nil {
				token, err := newCSRFToken()
				if err != nil {
					http.Error(w, "internal error", http.StatusInternalServerError)
					return
				}
				http.SetCookie(w, &http.Cookie{
					Name:     csrfCookieName,
					Value:    token,
					Path:     "/",
					SameSite: http.SameSiteStrictMode,
				})
				r.AddCookie(&http.Cookie{Name: csrfCookieName, Value: token})
			}
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(csrfCookieName)
		if err != nil || cookie.Value == "" {
			http.Error(w, "missing CSRF cookie", http.StatusForbidden)
			return
		}
		sent := r.Header.Get(csrfHeaderName)
		if sent == "" {
			sent = r.PostFormValue(csrfFormField)
		}
		if subtle.ConstantTimeCompare([]byte(sent), []byte(cookie.Value)) != 1 {
			http.Error(w, "invalid CSRF token", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func newCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func csrfToken(r *http.Request) string {
	if c, err := r.Cookie(csrfCookieName); err == nil {
		return c.Value
	}
	return ""
}

// Listen binds the configured TCP address.
func (s *Server) Listen() (net.Listener, error) {
	return net.Listen("tcp", s.listen)
}

// Serve feeds the event bus from NATS and serves on ln.
func (s *Server) Serve(ln net.Listener) error {
	if s.nc != nil {
		sub, err := s.nc.Subscribe(protocol.SubjectAllEvents, func(msg *nats.Msg) {
			s.eventBus.Publish(msg.Data)
		})
		if err != nil {
			ln.Close()
			return err
		}
		s.sub = sub
	}

	s.logger.Info().Str("listen", ln.Addr().String()).Msg("web UI listening")
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the web server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	return s.httpServer.Shutdown(ctx)
}
