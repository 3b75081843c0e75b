// Package api exposes the CarePipe pipeline and appointment store over HTTP.
//
// Every request gets its own conversation state; the server itself only holds immutable
// collaborators and is safe for concurrent use.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/CarePipe/internal/appointments"
	"github.com/BTreeMap/CarePipe/internal/models"
)

// Server defaults.
const (
	DefaultAddr            = ":8080"
	DefaultRequestTimeout  = 60 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	maxBodyBytes           = 1 << 20
)

// ChatHandler answers one chat message. *flow.Pipeline implements it.
type ChatHandler interface {
	Handle(ctx context.Context, message string) (models.ChatResponse, error)
}

// EmailDrafter drafts the patient's appointment email. *flow.EmailDrafter implements it.
type EmailDrafter interface {
	Draft(ctx context.Context, req models.EmailRequest) models.EmailDraft
}

// Opts holds configuration options for the server.
type Opts struct {
	Addr           string
	RequestTimeout time.Duration
	AllowedOrigin  string
}

// Option defines a configuration option for the server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithRequestTimeout bounds the time a handler may spend on one request.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.RequestTimeout = d
	}
}

// WithAllowedOrigin sets the Access-Control-Allow-Origin value. Empty disables CORS headers.
func WithAllowedOrigin(origin string) Option {
	return func(o *Opts) {
		o.AllowedOrigin = origin
	}
}

// Server serves the chat, email and appointment endpoints.
type Server struct {
	chat    ChatHandler
	drafter EmailDrafter
	store   appointments.Store
	opts    Opts
	started time.Time
}

// NewServer creates a server over its collaborators.
func NewServer(chat ChatHandler, drafter EmailDrafter, store appointments.Store, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, RequestTimeout: DefaultRequestTimeout, AllowedOrigin: "*"}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{chat: chat, drafter: drafter, store: store, opts: cfg, started: time.Now()}
}

// Handler returns the routed handler with CORS and request logging applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", s.chatHandler)
	mux.HandleFunc("/api/email", s.emailHandler)
	mux.HandleFunc("/api/appointments", s.appointmentsHandler)
	mux.HandleFunc("/api/appointments/update", s.appointmentsUpdateHandler)
	mux.HandleFunc("/healthz", s.healthHandler)
	return s.withLogging(s.withCORS(mux))
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.AllowedOrigin != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", s.opts.AllowedOrigin)
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("Server: request served", "method", r.Method, "path", r.URL.Path, "status", rec.status, "elapsed", time.Since(start))
	})
}

// requestContext bounds a handler's work by the configured timeout.
func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.opts.RequestTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), s.opts.RequestTimeout)
}
