package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/artifact-index/internal/app"
	"github.com/sha1n/artifact-index/internal/artifacts"
	"github.com/sha1n/artifact-index/internal/config"
	"github.com/sha1n/artifact-index/internal/remote"
	"github.com/sha1n/artifact-index/tests/integration/testkit"
)

// ========================================
// Helpers
// ========================================

func startEnv(t *testing.T, services ...testkit.Service) testkit.TestEnv {
	t.Helper()
	env := testkit.NewTestEnv(services...)
	if _, err := env.Start(); err != nil {
		t.Fatalf("Failed to start test environment: %v", err)
	}
	t.Cleanup(func() {
		if err := env.Stop(); err != nil {
			t.Errorf("Failed to stop test environment: %v", err)
		}
	})
	return env
}

func indexSettings(baseDir string, remotes ...*testkit.RemoteIndex) *config.IndexSettings {
	settings := &config.IndexSettings{
		BaseDir:            baseDir,
		LockTimeout:        5 * time.Second,
		FetchTimeout:       5 * time.Second,
		MaxParallelUpdates: 2,
		MaxResults:         20,
		FallbackOnGap:      true,
		QueryCacheSize:     32,
	}
	for _, r := range remotes {
		settings.Repositories = append(settings.Repositories, r.Repository())
	}
	return settings
}

func openService(t *testing.T, settings *config.IndexSettings) *artifacts.Service {
	t.Helper()
	svc, err := artifacts.NewService(settings)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	t.Cleanup(func() {
		if err := svc.Close(); err != nil {
			t.Errorf("Failed to close service: %v", err)
		}
	})
	return svc
}

func mustUpdate(t *testing.T, svc *artifacts.Service, name string) artifacts.Outcome {
	t.Helper()
	outcome, err := svc.Update(context.Background(), name, nil)
	if err != nil {
		t.Fatalf("Update of %s failed: %v", name, err)
	}
	return outcome
}

func search(t *testing.T, svc *artifacts.Service, name string, criteria artifacts.Criteria) *artifacts.SearchResult {
	t.Helper()
	result, err := svc.Search(context.Background(), name, artifacts.SearchRequest{Expression: criteria.Expression()})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	return result
}

// ========================================
// Synchronization over HTTP
// ========================================

func TestSync_FullThenIncremental(t *testing.T) {
	central := testkit.NewRemoteIndex(t, "central", artifacts.SampleRecords(0, 20))
	startEnv(t, central)
	svc := openService(t, indexSettings(t.TempDir(), central))

	first := mustUpdate(t, svc, "central")
	if first.Kind != artifacts.OutcomeFull || first.DocumentCount != 20 {
		t.Fatalf("Expected full update of 20 documents, got %+v", first)
	}

	central.AddChunk(artifacts.FixtureEpoch+1000, artifacts.Added(artifacts.SampleRecord(20)))
	central.AddChunk(artifacts.FixtureEpoch+2000, artifacts.Deleted(artifacts.SampleRecord(0)))

	second := mustUpdate(t, svc, "central")
	if second.Kind != artifacts.OutcomeIncremental || second.Chunks != 2 {
		t.Fatalf("Expected incremental update of 2 chunks, got %+v", second)
	}
	if second.PreviousTimestamp != artifacts.FixtureEpoch || second.Timestamp != artifacts.FixtureEpoch+2000 {
		t.Errorf("Unexpected covered period %d - %d", second.PreviousTimestamp, second.Timestamp)
	}
	if got := central.CountRequests(remote.FullIndexResource); got != 1 {
		t.Errorf("Expected the full index to be fetched once, got %d", got)
	}
	if got := central.CountRequests(remote.ChunkResource(1)); got != 1 {
		t.Errorf("Expected chunk 1 to be fetched once, got %d", got)
	}

	added := artifacts.SampleRecord(20)
	if result := search(t, svc, "central", artifacts.Criteria{SHA1: added.SHA1}); result.TotalMatches != 1 {
		t.Errorf("Expected the added record to be searchable, got %d matches", result.TotalMatches)
	}
	removed := artifacts.SampleRecord(0)
	if result := search(t, svc, "central", artifacts.Criteria{SHA1: removed.SHA1}); result.TotalMatches != 0 {
		t.Errorf("Expected the deleted record to be gone, got %d matches", result.TotalMatches)
	}

	third := mustUpdate(t, svc, "central")
	if third.Kind != artifacts.OutcomeNoChange {
		t.Errorf("Expected no change, got %s", third.Kind)
	}
}

func TestSync_SendsUserAgent(t *testing.T) {
	central := testkit.NewRemoteIndex(t, "central", artifacts.SampleRecords(0, 3))
	startEnv(t, central)
	svc := openService(t, indexSettings(t.TempDir(), central))

	mustUpdate(t, svc, "central")

	if !central.SawUserAgent(artifacts.UserAgent) {
		t.Errorf("Expected requests with User-Agent %q", artifacts.UserAgent)
	}
}

func TestSync_MissingChunkFallsBackToFull(t *testing.T) {
	central := testkit.NewRemoteIndex(t, "central", artifacts.SampleRecords(0, 10))
	startEnv(t, central)
	svc := openService(t, indexSettings(t.TempDir(), central))
	mustUpdate(t, svc, "central")

	missing := central.AddChunk(artifacts.FixtureEpoch+1000, artifacts.Added(artifacts.SampleRecord(10)))
	central.AddChunk(artifacts.FixtureEpoch+2000, artifacts.Added(artifacts.SampleRecord(11)))
	central.DropChunk(missing)

	outcome := mustUpdate(t, svc, "central")
	if outcome.Kind != artifacts.OutcomeFull {
		t.Fatalf("Expected full update after a missing chunk, got %s", outcome.Kind)
	}
	if outcome.DocumentCount != 12 {
		t.Errorf("Expected 12 documents, got %d", outcome.DocumentCount)
	}
	if got := central.CountRequests(remote.FullIndexResource); got != 2 {
		t.Errorf("Expected a second full index fetch, got %d", got)
	}
}

func TestSync_CorruptChunkKeepsPublishedIndex(t *testing.T) {
	central := testkit.NewRemoteIndex(t, "central", artifacts.SampleRecords(0, 10))
	startEnv(t, central)
	svc := openService(t, indexSettings(t.TempDir(), central))
	first := mustUpdate(t, svc, "central")

	counter := central.AddChunk(artifacts.FixtureEpoch+1000, artifacts.Added(artifacts.SampleRecord(10)))
	central.Corrupt(remote.ChunkResource(counter))

	if _, err := svc.Update(context.Background(), "central", nil); err == nil {
		t.Fatal("Expected update to fail on a corrupt chunk")
	}

	ic, err := svc.Context("central")
	if err != nil {
		t.Fatalf("Context failed: %v", err)
	}
	status := ic.Status()
	if status.Timestamp != first.Timestamp || status.DocumentCount != 10 {
		t.Errorf("Expected the previous generation to stay published, got %+v", status)
	}
	if result := search(t, svc, "", artifacts.Criteria{GroupPrefix: "org.example"}); result.TotalMatches != 10 {
		t.Errorf("Expected 10 searchable records, got %d", result.TotalMatches)
	}
}

func TestSync_MultipleRepositories(t *testing.T) {
	central := testkit.NewRemoteIndex(t, "central", artifacts.SampleRecords(0, 10))
	snapshots := testkit.NewRemoteIndex(t, "snapshots", artifacts.SampleRecords(100, 5))
	startEnv(t, central, snapshots)
	svc := openService(t, indexSettings(t.TempDir(), central, snapshots))

	results, err := svc.UpdateAll(context.Background(), nil)
	if err != nil {
		t.Fatalf("UpdateAll failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}

	result := search(t, svc, "", artifacts.Criteria{GroupPrefix: "org.example"})
	if result.TotalMatches != 15 {
		t.Errorf("Expected 15 matches across repositories, got %d", result.TotalMatches)
	}
	seen := map[string]int{}
	for _, hit := range result.Hits {
		seen[hit.Context]++
	}
	if seen["central"] != 10 || seen["snapshots"] != 5 {
		t.Errorf("Unexpected hits per context: %v", seen)
	}
}

// ========================================
// Shared base directory
// ========================================

func TestSharedBaseDir_ConcurrentServicesFetchOnce(t *testing.T) {
	central := testkit.NewRemoteIndex(t, "central", artifacts.SampleRecords(0, 25))
	startEnv(t, central)
	baseDir := t.TempDir()

	const instances = 3
	services := make([]*artifacts.Service, instances)
	for i := range services {
		services[i] = openService(t, indexSettings(baseDir, central))
	}

	var wg sync.WaitGroup
	errs := make([]error, instances)
	for i, svc := range services {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.UpdateAll(context.Background(), nil)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Instance %d failed: %v", i, err)
		}
	}
	if got := central.CountRequests(remote.FullIndexResource); got != 1 {
		t.Errorf("Expected the full index to be fetched once, got %d", got)
	}
	for i, svc := range services {
		if !svc.IsReady() {
			t.Errorf("Instance %d is not ready", i)
			continue
		}
		if result := search(t, svc, "central", artifacts.Criteria{GroupPrefix: "org.example"}); result.TotalMatches != 25 {
			t.Errorf("Instance %d: expected 25 matches, got %d", i, result.TotalMatches)
		}
	}
}

func TestSharedBaseDir_RestartResumesIncrementally(t *testing.T) {
	central := testkit.NewRemoteIndex(t, "central", artifacts.SampleRecords(0, 10))
	startEnv(t, central)
	baseDir := t.TempDir()

	first, err := artifacts.NewService(indexSettings(baseDir, central))
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	mustUpdate(t, first, "central")
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	central.AddChunk(artifacts.FixtureEpoch+1000, artifacts.Added(artifacts.SampleRecord(10)))

	restarted := openService(t, indexSettings(baseDir, central))
	if !restarted.IsReady() {
		t.Fatal("Expected the restarted service to restore its index")
	}
	outcome := mustUpdate(t, restarted, "central")
	if outcome.Kind != artifacts.OutcomeIncremental {
		t.Errorf("Expected incremental update after restart, got %s", outcome.Kind)
	}
	if got := central.CountRequests(remote.FullIndexResource); got != 1 {
		t.Errorf("Expected no further full index fetch, got %d", got)
	}
}

// ========================================
// MCP over SSE
// ========================================

func TestMCP_SSE(t *testing.T) {
	central := testkit.NewRemoteIndex(t, "central", artifacts.SampleRecords(0, 10))
	startEnv(t, central)

	svc := openService(t, indexSettings(t.TempDir(), central))
	mustUpdate(t, svc, "central")

	settings := &config.Settings{Transport: "sse", Auth: config.AuthSettings{Type: config.AuthTypeNone}}
	env := startEnv(t, testkit.NewMCPServer(settings, svc))
	value, ok := env.GetContext().GetProperty("mcp.url")
	if !ok {
		t.Fatal("Expected mcp.url property")
	}
	baseURL := value.(string)

	t.Run("health", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/health")
		if err != nil {
			t.Fatalf("Health request failed: %v", err)
		}
		defer func() { _ = resp.Body.Close() }()
		var health app.HealthResponse
		if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
			t.Fatalf("Failed to decode health response: %v", err)
		}
		if resp.StatusCode != http.StatusOK || health.Status != app.HealthOK {
			t.Errorf("Unexpected health response %d %+v", resp.StatusCode, health)
		}
		if len(health.Contexts) != 1 || !health.Contexts[0].Ready || health.Contexts[0].DocumentCount != 10 {
			t.Errorf("Expected the central context to be ready with 10 documents, got %+v", health.Contexts)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := mcp.NewClient(&mcp.Implementation{Name: "integration", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, &mcp.SSEClientTransport{Endpoint: baseURL + "/sse"}, nil)
	if err != nil {
		t.Fatalf("Client connect failed: %v", err)
	}
	defer func() { _ = session.Close() }()

	t.Run("list tools", func(t *testing.T) {
		tools, err := session.ListTools(ctx, nil)
		if err != nil {
			t.Fatalf("ListTools failed: %v", err)
		}
		names := map[string]bool{}
		for _, tool := range tools.Tools {
			names[tool.Name] = true
		}
		for _, want := range []string{"search_artifacts", "get_artifact", "index_status", "update_index"} {
			if !names[want] {
				t.Errorf("Expected tool %s, got %v", want, names)
			}
		}
	})

	t.Run("search", func(t *testing.T) {
		target := artifacts.SampleRecord(4)
		result, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name:      "search_artifacts",
			Arguments: map[string]any{"sha1": strings.ToUpper(target.SHA1)},
		})
		if err != nil {
			t.Fatalf("CallTool failed: %v", err)
		}
		if result.IsError || len(result.Content) == 0 {
			t.Fatalf("Unexpected result: %+v", result)
		}
		text, ok := result.Content[0].(*mcp.TextContent)
		if !ok {
			t.Fatalf("Expected text content, got %T", result.Content[0])
		}
		if !strings.Contains(text.Text, "Found 1 artifacts") || !strings.Contains(text.Text, target.Coordinates()) {
			t.Errorf("Unexpected search result:\n%s", text.Text)
		}
	})

	t.Run("update", func(t *testing.T) {
		central.AddChunk(artifacts.FixtureEpoch+1000, artifacts.Added(artifacts.SampleRecord(10)))
		result, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name:      "update_index",
			Arguments: map[string]any{"context": "central"},
		})
		if err != nil {
			t.Fatalf("CallTool failed: %v", err)
		}
		text := result.Content[0].(*mcp.TextContent).Text
		if result.IsError || !strings.Contains(text, "Incremental update happened") {
			t.Errorf("Unexpected update result:\n%s", text)
		}
	})
}

func TestMCP_SSE_WithoutService(t *testing.T) {
	settings := &config.Settings{Transport: "sse", Auth: config.AuthSettings{Type: config.AuthTypeNone}}
	env := startEnv(t, testkit.NewMCPServer(settings, nil))
	value, _ := env.GetContext().GetProperty("mcp.url")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := mcp.NewClient(&mcp.Implementation{Name: "integration", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, &mcp.SSEClientTransport{Endpoint: value.(string) + "/sse"}, nil)
	if err != nil {
		t.Fatalf("Client connect failed: %v", err)
	}
	defer func() { _ = session.Close() }()

	if err := session.Ping(ctx, nil); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestMCP_SSE_APIKey(t *testing.T) {
	settings := &config.Settings{
		Transport: "sse",
		Auth:      config.AuthSettings{Type: config.AuthTypeAPIKey, APIKeys: []string{"secret"}},
	}
	env := startEnv(t, testkit.NewMCPServer(settings, nil))
	value, _ := env.GetContext().GetProperty("mcp.url")
	baseURL := value.(string)

	resp, err := http.Get(baseURL + "/sse")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without a key, got %d", resp.StatusCode)
	}

	resp, err = http.Get(baseURL + "/health")
	if err != nil {
		t.Fatalf("Health request failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected /health to bypass auth, got %d", resp.StatusCode)
	}
}
