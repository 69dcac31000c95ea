package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/artifact-index/internal/artifacts"
	"github.com/sha1n/artifact-index/internal/config"
	mcputil "github.com/sha1n/artifact-index/internal/mcp"
	"github.com/spf13/pflag"
)

// ServerName is the MCP implementation name announced to clients
const ServerName = "artifact-index"

// RunParams contains dependencies for the run function
type RunParams struct {
	LoadSettings      func(*pflag.FlagSet) (*config.Settings, error)
	ValidSettings     func(*config.Settings) error
	StartSSEServer    func(*mcp.Server, IndexHealth, *config.Settings) error
	CreateServer      func(*config.Settings) (*mcp.Server, IndexHealth, func(), error)
	CustomIOTransport mcp.Transport // Optional: for testing with custom IO

	// NewService creates the index service of the update and search commands.
	NewService func(*config.IndexSettings) (*artifacts.Service, error)
	Stdout     io.Writer
	Stderr     io.Writer
}

// DefaultRunParams returns production dependencies
func DefaultRunParams() RunParams {
	return RunParams{
		LoadSettings:   config.LoadSettingsWithFlags,
		ValidSettings:  config.ValidateSettings,
		StartSSEServer: StartSSEServer,
		CreateServer:   CreateMCPServer,
		NewService:     artifacts.NewService,
		Stdout:         os.Stdout,
		Stderr:         os.Stderr,
	}
}

func (p RunParams) stdout() io.Writer {
	if p.Stdout == nil {
		return os.Stdout
	}
	return p.Stdout
}

func (p RunParams) stderr() io.Writer {
	if p.Stderr == nil {
		return os.Stderr
	}
	return p.Stderr
}

// RunWithDeps executes the server with the provided dependencies
func RunWithDeps(ctx context.Context, params RunParams, flags *pflag.FlagSet, version string) error {
	settings, err := loadValidSettings(params, flags)
	if err != nil {
		return err
	}

	slog.Info("Starting artifact index server", "version", version)
	config.Log(settings)

	mcpServer, health, cleanup, err := params.CreateServer(settings)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	// Start server
	if settings.Transport == "stdio" {
		// Use custom transport if provided (for testing), otherwise use stdio
		transport := params.CustomIOTransport
		if transport == nil {
			transport = &mcp.StdioTransport{}
		}
		return mcpServer.Run(ctx, transport)
	}
	slog.Info("Starting SSE server", "host", settings.Host, "port", settings.Port)
	return params.StartSSEServer(mcpServer, health, settings)
}

// loadValidSettings loads and validates settings, then installs the default
// logger. Logs always go to stderr; stdout belongs to the stdio transport.
func loadValidSettings(params RunParams, flags *pflag.FlagSet) (*config.Settings, error) {
	settings, err := params.LoadSettings(flags)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	if err := params.ValidSettings(settings); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	slog.SetDefault(config.NewLogger(settings, params.stderr()))
	return settings, nil
}

// CreateMCPServer creates the MCP server with registered tools. The returned
// IndexHealth is the service behind the tools.
func CreateMCPServer(settings *config.Settings) (*mcp.Server, IndexHealth, func(), error) {
	svc, err := artifacts.NewService(&settings.Index)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create artifact index service: %w", err)
	}

	// Initialize in background context (not tied to request context).
	// Contexts that could not be updated keep serving their last generation.
	if err := svc.Initialize(context.Background(), nil); err != nil {
		slog.Error("Artifact index initialization failed", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.RunPeriodicUpdates(ctx)
	}()

	cleanup := func() {
		cancel()
		<-done
		if err := svc.Close(); err != nil {
			slog.Error("Failed to close artifact index service", "error", err)
		}
	}

	server := mcputil.CreateServer(mcputil.ServerConfig{
		Name:    ServerName,
		Version: "1.0.0",
		Service: svc,
	})

	return server, svc, cleanup, nil
}
