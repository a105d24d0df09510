// Package api exposes the operator dashboard over HTTP.
//
// It serves the alert feed, conversation inspection, the order ledger,
// admin commands, the knowledge-base editor, and the Twilio inbound
// webhook, plus /health and /metrics for operations.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/herbalis/salesbot/internal/alerts"
	"github.com/herbalis/salesbot/internal/knowledge"
	"github.com/herbalis/salesbot/internal/store"
)

// DefaultAddr is the address the dashboard listens on when none is
// configured.
const DefaultAddr = ":8080"

// AdminRunner executes operator commands on behalf of the dashboard.
type AdminRunner interface {
	Interpret(ctx context.Context, targetPhone, command string) (string, error)
}

// Opts holds server configuration collected from functional options.
type Opts struct {
	Addr      string
	APIKey    string
	Registry  *prometheus.Registry
	Knowledge *knowledge.Store
}

// Option configures the Server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithAPIKey requires the given bearer token on every /api endpoint.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithRegistry serves /metrics from the given registry instead of the
// process default.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(o *Opts) { o.Registry = registry }
}

// WithKnowledge enables the script editor endpoints over the given
// knowledge store.
func WithKnowledge(kb *knowledge.Store) Option {
	return func(o *Opts) { o.Knowledge = kb }
}

// Server wires the dashboard endpoints to the bot's collaborators.
type Server struct {
	store      store.Store
	alerts     *alerts.Manager
	admin      AdminRunner
	webhook    http.HandlerFunc // inbound Twilio handler, optional
	opts       Opts
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds the dashboard server. store is required; alerts,
// admin and webhook may be nil, their endpoints then answer 503.
func NewServer(st store.Store, am *alerts.Manager, admin AdminRunner, webhook http.HandlerFunc, options ...Option) (*Server, error) {
	if st == nil {
		return nil, errors.New("api: store is required")
	}
	opts := Opts{Addr: DefaultAddr}
	for _, opt := range options {
		opt(&opts)
	}
	s := &Server{
		store:   st,
		alerts:  am,
		admin:   admin,
		webhook: webhook,
		opts:    opts,
		logger:  slog.Default(),
	}
	mux := http.NewServeMux()
	s.routes(mux)
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return s, nil
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.healthHandler)

	metricsHandler := promhttp.Handler()
	if s.opts.Registry != nil {
		metricsHandler = promhttp.HandlerFor(s.opts.Registry, promhttp.HandlerOpts{})
	}
	mux.Handle("GET /metrics", metricsHandler)

	if s.webhook != nil {
		mux.HandleFunc("POST /webhook/twilio", s.webhook)
	}

	mux.HandleFunc("GET /api/alerts", s.auth(s.listAlertsHandler))
	mux.HandleFunc("DELETE /api/alerts/{phone}", s.auth(s.clearAlertsHandler))
	mux.HandleFunc("GET /api/conversations", s.auth(s.listConversationsHandler))
	mux.HandleFunc("GET /api/conversations/{phone}", s.auth(s.getConversationHandler))
	mux.HandleFunc("POST /api/conversations/{phone}/pause", s.auth(s.pauseHandler))
	mux.HandleFunc("POST /api/conversations/{phone}/resume", s.auth(s.resumeHandler))
	mux.HandleFunc("GET /api/orders", s.auth(s.listOrdersHandler))
	mux.HandleFunc("POST /api/admin/command", s.auth(s.adminCommandHandler))
	mux.HandleFunc("GET /api/knowledge", s.auth(s.getKnowledgeHandler))
	mux.HandleFunc("PUT /api/knowledge", s.auth(s.updateKnowledgeHandler))
}

// auth enforces the bearer token when one is configured.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	if s.opts.APIKey == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.opts.APIKey {
			writeJSONResponse(w, http.StatusUnauthorized, errorResponse("Unauthorized"))
			return
		}
		next(w, r)
	}
}

// Run serves until the listener fails. It blocks.
func (s *Server) Run() error {
	s.logger.Info("Server.Run: dashboard listening", "addr", s.opts.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("dashboard server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the routed mux for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
