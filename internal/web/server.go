// Package web exposes the engine over HTTP: the workflow control API,
// the provider webhook endpoints, the OAuth connect flow, and a
// WebSocket feed of execution status changes.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mailflow/mailflow/internal/engine"
	"github.com/mailflow/mailflow/internal/store"
	"github.com/mailflow/mailflow/internal/trigger"
	"golang.org/x/oauth2"
)

// webhookTimeout bounds the asynchronous processing of one webhook
// delivery. The HTTP response is sent before processing starts.
const webhookTimeout = 30 * time.Second

// WorkflowEngine is the engine surface the HTTP layer drives.
type WorkflowEngine interface {
	// Launch validates and starts the workflow for a scope.
	Launch(
		ctx context.Context, workspaceID, userID string,
	) (store.WorkflowExecution, error)

	// Stop pauses the active workflow for a scope.
	Stop(
		ctx context.Context, workspaceID, userID string,
	) (store.WorkflowExecution, error)

	// Status returns the active execution and watch expiry for a
	// scope.
	Status(
		ctx context.Context, workspaceID, userID string,
	) (engine.ScopeStatus, error)

	// History returns all executions for a scope, newest first.
	History(
		ctx context.Context, workspaceID, userID string,
	) ([]store.WorkflowExecution, error)

	// HandleEvents feeds normalized trigger events into dispatch.
	HandleEvents(ctx context.Context, events []trigger.Event)

	// OnStatusChange registers an execution status listener.
	OnStatusChange(listener engine.StatusListener)
}

// Normalizer turns one webhook delivery body into trigger events.
type Normalizer interface {
	Normalize(ctx context.Context, body []byte) ([]trigger.Event, error)
}

// OAuthConfigSource resolves the OAuth configuration per provider.
type OAuthConfigSource interface {
	OAuthConfig(p store.Provider) (*oauth2.Config, error)
}

// Config holds the web server configuration.
type Config struct {
	Addr string
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr: ":8080",
	}
}

// Server is the HTTP front of the engine.
type Server struct {
	store  store.Store
	engine WorkflowEngine
	oauth  OAuthConfigSource

	normalizers map[store.Provider]Normalizer

	hub *Hub
	mux *http.ServeMux
	srv *http.Server

	addr string
	log  *slog.Logger
}

// NewServer creates a web server over the engine and its stores.
func NewServer(
	cfg *Config, st store.Store, eng WorkflowEngine,
	oauth OAuthConfigSource, gmailNorm, outlookNorm Normalizer,
	log *slog.Logger,
) *Server {

	s := &Server{
		store:  st,
		engine: eng,
		oauth:  oauth,
		normalizers: map[store.Provider]Normalizer{
			store.ProviderGmail:   gmailNorm,
			store.ProviderOutlook: outlookNorm,
		},
		mux:  http.NewServeMux(),
		addr: cfg.Addr,
		log:  log,
	}

	s.registerRoutes()

	s.hub = NewHub(log)
	go s.hub.Run()
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)

	// Execution status changes stream out over the hub.
	eng.OnStatusChange(func(
		workspaceID, executionID string, status store.ExecutionStatus,
	) {
		s.hub.BroadcastToWorkspace(workspaceID, &WSMessage{
			Type: WSMsgTypeExecutionStatus,
			Payload: map[string]any{
				"workspace_id": workspaceID,
				"execution_id": executionID,
				"status":       string(status),
			},
		})
	})

	return s
}

// registerRoutes wires all API endpoints.
func (s *Server) registerRoutes() {
	api := func(handler http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			handler(w, r)
		}
	}

	s.mux.HandleFunc("GET /api/v1/health", api(s.handleHealth))

	s.mux.HandleFunc(
		"POST /api/v1/workflows/{workspace}/launch",
		api(s.handleLaunch),
	)
	s.mux.HandleFunc(
		"POST /api/v1/workflows/{workspace}/stop",
		api(s.handleStop),
	)
	s.mux.HandleFunc(
		"GET /api/v1/workflows/{workspace}/status",
		api(s.handleStatus),
	)
	s.mux.HandleFunc(
		"GET /api/v1/workflows/{workspace}/executions",
		api(s.handleExecutions),
	)

	s.mux.HandleFunc(
		"PUT /api/v1/workspaces/{workspace}/blocks",
		api(s.handleReplaceBlocks),
	)
	s.mux.HandleFunc(
		"GET /api/v1/workspaces/{workspace}/blocks",
		api(s.handleListBlocks),
	)
	s.mux.HandleFunc(
		"GET /api/v1/workspaces/{workspace}/blocks/{block}/config",
		api(s.handleGetBlockConfig),
	)
	s.mux.HandleFunc(
		"PUT /api/v1/workspaces/{workspace}/blocks/{block}/config",
		api(s.handleSetBlockConfig),
	)

	s.mux.HandleFunc("POST /webhooks/gmail", s.handleGmailWebhook)
	s.mux.HandleFunc("POST /webhooks/outlook", s.handleOutlookWebhook)

	s.mux.HandleFunc("GET /auth/{provider}", s.handleAuthStart)
	s.mux.HandleFunc(
		"GET /auth/{provider}/callback", s.handleAuthCallback,
	)
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info("Starting web server", "addr", s.addr)

	if err := s.srv.ListenAndServe(); err != nil &&
		err != http.ErrServerClosed {

		return fmt.Errorf("web server: %w", err)
	}

	return nil
}

// Shutdown gracefully stops the server and the WebSocket hub.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Stop()
	}

	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}

	return nil
}

// Handler returns the server's routing handler, used directly in tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}
