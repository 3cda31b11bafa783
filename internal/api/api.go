// Package api exposes the dialogue engine over HTTP.
//
// It serves a JSON endpoint for web and mobile clients plus a Twilio SMS
// webhook, both funneling into the same dispatcher.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sifxtreme/jarvis-sub000/internal/messaging"
	"github.com/sifxtreme/jarvis-sub000/internal/models"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// messageProcessor is the server's view of the dialogue engine.
type messageProcessor interface {
	Process(ctx context.Context, msg models.Message) models.Response
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address, e.g. ":8080".
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server routes inbound HTTP traffic to the dispatcher.
type Server struct {
	dispatcher messageProcessor
	msgService messaging.Service
	addr       string
	httpServer *http.Server
}

// NewServer creates the API server. msgService may be nil; the Twilio webhook
// then responds inline instead of sending an SMS.
func NewServer(dispatcher messageProcessor, msgService messaging.Service, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	slog.Debug("Creating API server", "addr", cfg.Addr)
	return &Server{dispatcher: dispatcher, msgService: msgService, addr: cfg.Addr}
}

// Handler returns the server's route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/messages", s.messagesHandler)
	mux.HandleFunc("/webhook/twilio", s.twilioWebhookHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Run starts the HTTP server and blocks until the context is cancelled or the
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
