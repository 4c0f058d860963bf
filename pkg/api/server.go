// Package api exposes reconciliation and bank integration over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"bank-recon/pkg/audit"
	"bank-recon/pkg/bank"
	"bank-recon/pkg/chain"
	"bank-recon/pkg/integration"
	"bank-recon/pkg/logging"
	"bank-recon/pkg/recon"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Integration is the bank integration surface the handlers drive.
// *integration.Service implements it.
type Integration interface {
	SyncTransactions(ctx context.Context, actor audit.Actor, accountID int64) (*integration.SyncResult, error)
	SyncCompany(ctx context.Context, actor audit.Actor, companyID int64, banks ...string) ([]integration.SyncResult, error)
	RefreshBalance(ctx context.Context, actor audit.Actor, accountID int64) (*bank.Balance, error)
	RegisterWebhook(ctx context.Context, actor audit.Actor, accountID int64, url string) error
	CheckAccountStatus(ctx context.Context, accountID int64) (bool, error)
	AccountDetails(ctx context.Context, accountID int64) (*bank.AccountDetails, error)
	ReconcileTransaction(ctx context.Context, actor audit.Actor, bankTxID, systemTxID int64) error
	Unreconcile(ctx context.Context, actor audit.Actor, bankTxID int64) error
	DispatchWebhook(ctx context.Context, bankCode string, payload []byte) error
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the server routes to.
type Deps struct {
	Recon       recon.Service
	Integration Integration
	// Chain and DB are optional; /health reports on them when set.
	Chain *chain.Chain
	DB    Pinger
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	// Address to listen on (e.g., ":8080")
	Address string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// JWTSecret verifies HS256 bearer tokens. Empty disables authentication.
	JWTSecret string
	// JWTIssuer, when set, must match the token's iss claim.
	JWTIssuer string

	// MaxWebhookBytes bounds webhook payloads.
	MaxWebhookBytes int64

	// Registry receives the HTTP metrics and backs /metrics. A fresh
	// registry is used when nil.
	Registry *prometheus.Registry
	Logger   *logging.Logger
}

// DefaultServerConfig returns a default configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:         ":8080",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    60 * time.Second,
		IdleTimeout:     60 * time.Second,
		MaxWebhookBytes: 1 << 20,
	}
}

// Server routes HTTP requests to the reconciliation and integration services.
type Server struct {
	deps    Deps
	config  ServerConfig
	auth    *Authenticator
	logger  *logging.Logger
	router  *mux.Router
	server  *http.Server
	started time.Time
}

// NewServer builds the router. It fails only when the HTTP metrics cannot
// be registered.
func NewServer(deps Deps, config ServerConfig) (*Server, error) {
	if config.Logger == nil {
		config.Logger = logging.Global()
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}
	if config.MaxWebhookBytes <= 0 {
		config.MaxWebhookBytes = 1 << 20
	}

	s := &Server{
		deps:    deps,
		config:  config,
		logger:  config.Logger.Named("api"),
		started: time.Now(),
	}
	if config.JWTSecret != "" {
		s.auth = NewAuthenticator([]byte(config.JWTSecret), config.JWTIssuer)
	} else {
		s.logger.Warn("JWT secret not configured, API runs without authentication")
	}

	httpMetrics, err := newHTTPMetrics(config.Registry)
	if err != nil {
		return nil, err
	}

	r := mux.NewRouter()
	r.Use(requestIDMiddleware(s.logger))
	r.Use(httpMetrics.middleware())

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(config.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/webhooks/{bank}", s.handleWebhook).Methods(http.MethodPost)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(authMiddleware(s.auth))

	v1.HandleFunc("/reconciliations", s.handleStartReconciliation).Methods(http.MethodPost)
	v1.HandleFunc("/reconciliations", s.handleListReconciliations).Methods(http.MethodGet)
	v1.HandleFunc("/reconciliations/{id:[0-9]+}", s.handleGetReconciliation).Methods(http.MethodGet)
	v1.HandleFunc("/reconciliations/{id:[0-9]+}/process", s.handleProcessReconciliation).Methods(http.MethodPost)
	v1.HandleFunc("/transactions/pending", s.handlePending).Methods(http.MethodGet)
	v1.HandleFunc("/transactions/reconciled", s.handleReconciled).Methods(http.MethodGet)
	v1.HandleFunc("/balance/reconciled", s.handleReconciledBalance).Methods(http.MethodGet)

	v1.HandleFunc("/accounts/{id:[0-9]+}/sync", s.handleSyncAccount).Methods(http.MethodPost)
	v1.HandleFunc("/accounts/{id:[0-9]+}/balance", s.handleRefreshBalance).Methods(http.MethodPost)
	v1.HandleFunc("/accounts/{id:[0-9]+}/webhook", s.handleRegisterWebhook).Methods(http.MethodPost)
	v1.HandleFunc("/accounts/{id:[0-9]+}/status", s.handleAccountStatus).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{id:[0-9]+}/details", s.handleAccountDetails).Methods(http.MethodGet)
	v1.HandleFunc("/companies/{id:[0-9]+}/sync", s.handleSyncCompany).Methods(http.MethodPost)
	v1.HandleFunc("/bank-transactions/{id:[0-9]+}/reconcile", s.handleReconcileTransaction).Methods(http.MethodPost)
	v1.HandleFunc("/bank-transactions/{id:[0-9]+}/reconcile", s.handleUnreconcile).Methods(http.MethodDelete)
	v1.HandleFunc("/error-codes/{code}", s.handleErrorCode).Methods(http.MethodGet)

	s.router = r
	s.server = &http.Server{
		Addr:         config.Address,
		Handler:      r,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s, nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks until the server stops. It returns nil after Stop.
func (s *Server) ListenAndServe() error {
	s.logger.Info("server listening", zap.String("address", s.config.Address))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(s.started).String(),
	}

	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.DB.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			response["status"] = "unhealthy"
			response["database"] = err.Error()
		} else {
			response["database"] = "ok"
		}
	}

	if s.deps.Chain != nil {
		layers := make(map[string]string)
		for name, state := range s.deps.Chain.States() {
			layers[name] = state.String()
		}
		response["cache"] = layers
	}

	writeJSON(w, status, response)
}
