package testkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sha1n/artifact-index/internal/app"
	"github.com/sha1n/artifact-index/internal/artifacts"
	"github.com/sha1n/artifact-index/internal/config"
	"github.com/sha1n/artifact-index/internal/domain"
	"github.com/sha1n/artifact-index/internal/indexfmt"
	mcputil "github.com/sha1n/artifact-index/internal/mcp"
	"github.com/sha1n/artifact-index/internal/remote"
	"github.com/spf13/pflag"
)

// Service represents a test service that can be started and stopped
type Service interface {
	Start() (map[string]any, error)
	Stop() error
	GetName() string
}

// TestEnvContext provides access to properties collected during environment startup
type TestEnvContext interface {
	GetProperties() map[string]any
	GetProperty(name string) (any, bool)
}

// TestEnv manages the lifecycle of test services
type TestEnv interface {
	Start() (map[string]any, error)
	Stop() error
	GetContext() TestEnvContext
}

type testEnvContextImpl struct {
	properties map[string]any
}

func (c *testEnvContextImpl) GetProperties() map[string]any {
	return c.properties
}

func (c *testEnvContextImpl) GetProperty(name string) (any, bool) {
	val, ok := c.properties[name]
	return val, ok
}

type testEnvImpl struct {
	services []Service
	context  *testEnvContextImpl
}

// NewTestEnv creates a new test environment with the given services
func NewTestEnv(services ...Service) TestEnv {
	return &testEnvImpl{
		services: services,
		context:  &testEnvContextImpl{properties: make(map[string]any)},
	}
}

func (e *testEnvImpl) Start() (map[string]any, error) {
	for _, s := range e.services {
		props, err := s.Start()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.GetName(), err)
		}
		for k, v := range props {
			e.context.properties[k] = v
		}
	}
	return e.context.properties, nil
}

func (e *testEnvImpl) Stop() error {
	var errs []error
	// Stop in reverse order
	for i := len(e.services) - 1; i >= 0; i-- {
		if err := e.services[i].Stop(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.services[i].GetName(), err))
		}
	}
	return errors.Join(errs...)
}

func (e *testEnvImpl) GetContext() TestEnvContext {
	return e.context
}

// RemoteIndex serves a remote artifact index over HTTP.
// Start publishes "<name>.url" with the index base URL.
type RemoteIndex struct {
	*artifacts.RemoteFixture

	name   string
	server *httptest.Server

	mu       sync.Mutex
	requests []string
	agents   map[string]bool
}

// NewRemoteIndex creates a remote index publishing records as its full index.
func NewRemoteIndex(t testing.TB, name string, records []domain.ArtifactRecord) *RemoteIndex {
	t.Helper()
	return &RemoteIndex{
		RemoteFixture: artifacts.NewRemoteFixture(t, name, records),
		name:          name,
		agents:        make(map[string]bool),
	}
}

func (r *RemoteIndex) Start() (map[string]any, error) {
	r.server = httptest.NewServer(http.HandlerFunc(r.serve))
	return map[string]any{r.name + ".url": r.URL()}, nil
}

func (r *RemoteIndex) Stop() error {
	if r.server != nil {
		r.server.Close()
	}
	return nil
}

func (r *RemoteIndex) GetName() string {
	return "remote-index-" + r.name
}

// URL returns the index base URL.
func (r *RemoteIndex) URL() string {
	return r.server.URL + "/" + r.name
}

// Repository returns the repository specification of the index.
func (r *RemoteIndex) Repository() string {
	return r.name + "=" + r.URL()
}

// Requests returns the requested resource names, in order.
func (r *RemoteIndex) Requests() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.requests...)
}

// CountRequests returns how many times resource was requested.
func (r *RemoteIndex) CountRequests(resource string) int {
	n := 0
	for _, req := range r.Requests() {
		if req == resource {
			n++
		}
	}
	return n
}

// SawUserAgent reports whether any request carried the given User-Agent.
func (r *RemoteIndex) SawUserAgent(agent string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agents[agent]
}

func (r *RemoteIndex) serve(w http.ResponseWriter, req *http.Request) {
	resource, ok := strings.CutPrefix(req.URL.Path, "/"+r.name+"/")
	if !ok || req.Method != http.MethodGet {
		http.NotFound(w, req)
		return
	}

	r.mu.Lock()
	r.requests = append(r.requests, resource)
	r.agents[req.UserAgent()] = true
	r.mu.Unlock()

	rc, err := r.Store.Fetch(req.Context(), resource, nil)
	if err != nil {
		if remote.IsNotFound(err) {
			http.NotFound(w, req)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer func() { _ = rc.Close() }()

	if strings.HasSuffix(resource, ".properties") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	} else {
		w.Header().Set("Content-Type", "application/gzip")
	}
	_, _ = io.Copy(w, rc)
}

// Corrupt replaces a published resource with bytes that do not decode.
func (r *RemoteIndex) Corrupt(resource string) {
	r.Store.Put(resource, []byte("this is not "+indexfmt.Magic))
}

// MCPServer runs the SSE transport of the MCP server on a free port.
// Start publishes "mcp.url" with the server base URL.
type MCPServer struct {
	settings *config.Settings
	service  *artifacts.Service
	srv      *http.Server
	done     chan error
}

// NewMCPServer creates an SSE server exposing service. Host and port of
// settings are replaced by a free local port.
func NewMCPServer(settings *config.Settings, service *artifacts.Service) *MCPServer {
	return &MCPServer{settings: settings, service: service}
}

func (m *MCPServer) Start() (map[string]any, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	server := mcputil.CreateServer(mcputil.ServerConfig{
		Name:    app.ServerName,
		Version: "test",
		Service: m.service,
	})
	var health app.IndexHealth
	if m.service != nil {
		health = m.service
	}
	srv, err := app.NewSSEServer(server, health, m.settings)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}
	m.srv = srv
	m.done = make(chan error, 1)
	go func() {
		m.done <- srv.Serve(listener)
	}()

	return map[string]any{"mcp.url": "http://" + listener.Addr().String()}, nil
}

func (m *MCPServer) Stop() error {
	if m.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.srv.Shutdown(ctx); err != nil {
		// Streams still open after the grace period are cut.
		_ = m.srv.Close()
	}
	if err := <-m.done; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (m *MCPServer) GetName() string {
	return "mcp-server"
}

// GetFreePort returns a free port from the kernel
func GetFreePort() (int, error) {
	return getFreePortWithAddr("localhost:0")
}

// MustGetFreePort returns a free port or fails the test
func MustGetFreePort(t testing.TB) int {
	t.Helper()
	port, err := GetFreePort()
	if err != nil {
		t.Fatalf("Failed to get free port: %v", err)
	}
	return port
}

func getFreePortWithAddr(addrStr string) (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", addrStr)
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// FlagOptions configures NewTestFlags
type FlagOptions struct {
	Port         int      // Uses free port if 0
	Transport    string   // Defaults to "sse"
	AuthType     string   // Defaults to "none"
	Host         string   // Defaults to "localhost"
	BaseDir      string   // Defaults to a temporary directory
	Repositories []string // name=url specifications
	// UpdateOnStart is passed as --update-on-start; false by default.
	UpdateOnStart bool
}

// NewTestFlags creates a configured pflag.FlagSet for testing
func NewTestFlags(t testing.TB, opts *FlagOptions) *pflag.FlagSet {
	t.Helper()

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	app.RegisterFlags(flags)

	o := FlagOptions{Transport: "sse", AuthType: config.AuthTypeNone, Host: "localhost"}
	if opts != nil {
		if opts.Port != 0 {
			o.Port = opts.Port
		}
		if opts.Transport != "" {
			o.Transport = opts.Transport
		}
		if opts.AuthType != "" {
			o.AuthType = opts.AuthType
		}
		if opts.Host != "" {
			o.Host = opts.Host
		}
		o.BaseDir = opts.BaseDir
		o.Repositories = opts.Repositories
		o.UpdateOnStart = opts.UpdateOnStart
	}
	if o.Port == 0 {
		o.Port = MustGetFreePort(t)
	}
	if o.BaseDir == "" {
		o.BaseDir = t.TempDir()
	}

	set := func(name, value string) {
		if err := flags.Set(name, value); err != nil {
			t.Fatalf("Failed to set --%s: %v", name, err)
		}
	}
	set("port", fmt.Sprintf("%d", o.Port))
	set("transport", o.Transport)
	set("auth-type", o.AuthType)
	set("host", o.Host)
	set("base-dir", o.BaseDir)
	set("update-on-start", fmt.Sprintf("%t", o.UpdateOnStart))
	set("log-level", "error")
	for _, repo := range o.Repositories {
		set("repository", repo)
	}

	return flags
}
