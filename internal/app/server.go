package app

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/artifact-index/internal/artifacts"
	"github.com/sha1n/artifact-index/internal/auth"
	"github.com/sha1n/artifact-index/internal/config"
)

// IndexHealth reports the readiness of the index behind the server.
// *artifacts.Service implements it.
type IndexHealth interface {
	IsReady() bool
	Statuses() []artifacts.ContextStatus
}

// Health states reported by /health.
const (
	HealthOK       = "ok"
	HealthIndexing = "indexing"
)

// HealthResponse is the /health body.
type HealthResponse struct {
	Status   string                    `json:"status"`
	Contexts []artifacts.ContextStatus `json:"contexts,omitempty"`
}

// StartSSEServer starts the SSE server with authentication
func StartSSEServer(s *mcp.Server, health IndexHealth, settings *config.Settings) error {
	srv, err := NewSSEServer(s, health, settings)
	if err != nil {
		return err
	}

	slog.Info("Server listening (HTTP)", "addr", srv.Addr, "auth_type", settings.Auth.Type)
	return srv.ListenAndServe()
}

// NewSSEServer creates a new SSE server with authentication middleware.
// health may be nil, in which case /health always reports ok.
func NewSSEServer(s *mcp.Server, health IndexHealth, settings *config.Settings) (*http.Server, error) {
	sseHandler := mcp.NewSSEHandler(func(r *http.Request) *mcp.Server {
		return s
	}, nil)

	mux := http.NewServeMux()
	mux.Handle("/health", healthHandler(health))
	mux.Handle("/sse", sseHandler)

	authMiddleware, err := auth.NewMiddleware(settings.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth middleware: %w", err)
	}

	return &http.Server{
		Addr:    fmt.Sprintf("%s:%d", settings.Host, settings.Port),
		Handler: authMiddleware(mux),
	}, nil
}

// healthHandler answers 200 once a generation is searchable and 503 while
// the first sync is still running. The body lists the per-context status.
func healthHandler(health IndexHealth) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: HealthOK}
		code := http.StatusOK
		if health != nil {
			resp.Contexts = health.Statuses()
			if !health.IsReady() {
				resp.Status = HealthIndexing
				code = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.Debug("Failed to write health response", "error", err)
		}
	})
}
