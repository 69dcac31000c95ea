package artifacts

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/sha1n/artifact-index/internal/config"
	"github.com/sha1n/artifact-index/internal/domain"
	"github.com/sha1n/artifact-index/internal/remote"
	"golang.org/x/sync/errgroup"
)

const (
	// LockFilename is the name of the update lock file
	LockFilename = "update.lock"

	// ContextsDir is the directory holding one subdirectory per context
	ContextsDir = "contexts"

	// UserAgent identifies HTTP requests to remote indexes
	UserAgent = "artifact-index"
)

// StoreFactory creates the chunk store serving a repository.
type StoreFactory func(repo Repository) (remote.ChunkStore, error)

// ProgressFactory returns the transfer listener for updates of a context. It
// may return nil.
type ProgressFactory func(contextName string) remote.ProgressFunc

// UpdateResult is the result of updating one context.
type UpdateResult struct {
	Context string
	Outcome Outcome
	Err     error
}

// Hit is one search match attributed to its context.
type Hit struct {
	Context string                `json:"context"`
	Record  domain.ArtifactRecord `json:"record"`
}

// SearchResult is one page of matches across contexts.
type SearchResult struct {
	Hits         []Hit `json:"hits"`
	TotalMatches int   `json:"total_matches"`
}

type contextEntry struct {
	ic    *IndexContext
	store remote.ChunkStore
}

// Service is the registry of configured index contexts. It coordinates
// updates across processes and answers searches.
type Service struct {
	settings *config.IndexSettings
	updater  *Updater
	engine   *QueryEngine
	lock     *FileLock

	names    []string
	contexts map[string]*contextEntry

	// updateMu serializes leader election within the process.
	updateMu sync.Mutex

	mu     sync.RWMutex
	closed bool
}

// DefaultStoreFactory returns a factory selecting the store by URL scheme.
func DefaultStoreFactory(settings *config.IndexSettings) StoreFactory {
	return func(repo Repository) (remote.ChunkStore, error) {
		return remote.New(repo.URL, remote.Options{
			HTTP: remote.HTTPOptions{
				Timeout:           settings.FetchTimeout,
				RequestsPerSecond: settings.RequestsPerSecond,
				UserAgent:         UserAgent,
			},
		})
	}
}

// NewService creates the registry for the configured repositories, restoring
// each context from its local state.
func NewService(settings *config.IndexSettings) (*Service, error) {
	if settings == nil {
		return nil, fmt.Errorf("settings cannot be nil")
	}
	return NewServiceWithStores(settings, DefaultStoreFactory(settings))
}

// NewServiceWithStores creates the registry using stores created by newStore.
func NewServiceWithStores(settings *config.IndexSettings, newStore StoreFactory) (*Service, error) {
	if settings == nil {
		return nil, fmt.Errorf("settings cannot be nil")
	}

	creators, err := ParseCreators(settings.Creators)
	if err != nil {
		return nil, err
	}

	repos := make([]Repository, 0, len(settings.Repositories))
	seen := make(map[string]bool)
	for _, spec := range settings.Repositories {
		repo, err := ParseRepository(spec)
		if err != nil {
			return nil, err
		}
		if seen[repo.Name] {
			return nil, fmt.Errorf("%w: duplicate context name %q", ErrInvalidRepository, repo.Name)
		}
		seen[repo.Name] = true
		repos = append(repos, repo)
	}

	contextsDir := filepath.Join(settings.BaseDir, ContextsDir)
	if err := os.MkdirAll(contextsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create contexts directory: %w", err)
	}

	engine, err := NewQueryEngine(settings.QueryCacheSize, settings.MaxResults)
	if err != nil {
		return nil, err
	}

	s := &Service{
		settings: settings,
		updater:  NewUpdater(UpdaterOptions{FallbackOnGap: settings.FallbackOnGap}),
		engine:   engine,
		lock:     NewFileLock(filepath.Join(settings.BaseDir, LockFilename)),
		contexts: make(map[string]*contextEntry),
	}

	for _, repo := range repos {
		store, err := newStore(repo)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("context %s: %w", repo.Name, err)
		}
		ic, err := OpenContext(repo.Name, repo.URL, filepath.Join(contextsDir, repo.Name), creators)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("context %s: %w", repo.Name, err)
		}
		s.names = append(s.names, repo.Name)
		s.contexts[repo.Name] = &contextEntry{ic: ic, store: store}
	}

	return s, nil
}

// Initialize runs the start-up update when enabled. One process becomes the
// update leader; followers wait for it and reload what it committed.
func (s *Service) Initialize(ctx context.Context, progress ProgressFactory) error {
	if !s.settings.UpdateOnStart || len(s.names) == 0 {
		return nil
	}
	_, err := s.UpdateAll(ctx, progress)
	return err
}

// UpdateAll updates every context, at most MaxParallelUpdates at a time. Each
// context succeeds or fails on its own; the joined failures are returned.
func (s *Service) UpdateAll(ctx context.Context, progress ProgressFactory) ([]UpdateResult, error) {
	var results []UpdateResult
	err := s.asLeader(ctx, func() error {
		results = make([]UpdateResult, len(s.names))

		var g errgroup.Group
		g.SetLimit(max(1, s.settings.MaxParallelUpdates))
		for i, name := range s.names {
			g.Go(func() error {
				entry := s.contexts[name]
				outcome, err := s.updater.Update(ctx, entry.ic, entry.store, listener(progress, name))
				results[i] = UpdateResult{Context: name, Outcome: outcome, Err: err}
				if err != nil {
					return fmt.Errorf("update %s: %w", name, err)
				}
				return nil
			})
		}
		if err := g.Wait(); err == nil {
			return nil
		}

		var errs []error
		for _, r := range results {
			if r.Err != nil {
				errs = append(errs, fmt.Errorf("update %s: %w", r.Context, r.Err))
			}
		}
		return errors.Join(errs...)
	})
	return results, err
}

// Update updates a single context.
func (s *Service) Update(ctx context.Context, name string, progress ProgressFactory) (Outcome, error) {
	entry, err := s.entry(name)
	if err != nil {
		return Outcome{}, err
	}

	var outcome Outcome
	err = s.asLeader(ctx, func() error {
		var uerr error
		outcome, uerr = s.updater.Update(ctx, entry.ic, entry.store, listener(progress, name))
		return uerr
	})
	return outcome, err
}

// asLeader runs fn while holding the cross-process update lock. When another
// process holds it, the call waits for up to LockTimeout.
func (s *Service) asLeader(ctx context.Context, fn func() error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	acquired, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		slog.Info("Another instance is updating, waiting for completion")
		if err := s.lock.LockWithContext(ctx, s.settings.LockTimeout); err != nil {
			if errors.Is(err, ErrLockTimeout) {
				slog.Warn("Timeout waiting for update, using existing indexes", "error", err)
				s.RefreshAll()
			}
			return err
		}
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			slog.Error("Failed to unlock", "error", err)
		}
	}()

	// Pick up whatever another process committed before updating on top of it.
	s.RefreshAll()
	return fn()
}

// RefreshAll reloads contexts whose local store holds a newer generation.
func (s *Service) RefreshAll() {
	for _, name := range s.names {
		if _, err := s.contexts[name].ic.Refresh(); err != nil {
			slog.Warn("Failed to reload local index", "context", name, "error", err)
		}
	}
}

// RunPeriodicUpdates updates all contexts every UpdateInterval until ctx is
// done. It returns immediately when the interval is not positive.
func (s *Service) RunPeriodicUpdates(ctx context.Context) {
	interval := s.settings.UpdateInterval
	if interval <= 0 || len(s.names) == 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("Periodic updates enabled", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.UpdateAll(ctx, nil); err != nil && ctx.Err() == nil {
				slog.Error("Periodic update failed", "error", err)
			}
		}
	}
}

// Search runs req against the named context, or against all contexts when
// name is empty. Cross-context results are ordered by coordinates.
func (s *Service) Search(ctx context.Context, name string, req SearchRequest) (*SearchResult, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if req.Offset < 0 {
		return nil, fmt.Errorf("%w: negative offset", ErrInvalidExpression)
	}

	names := s.names
	if name != "" {
		if _, err := s.entry(name); err != nil {
			return nil, err
		}
		names = []string{name}
	}
	if req.Limit <= 0 {
		req.Limit = s.settings.MaxResults
	}

	if len(names) == 1 {
		rs, err := s.engine.Search(ctx, s.contexts[names[0]].ic, req)
		if err != nil {
			return nil, err
		}
		return toSearchResult(rs), nil
	}

	// Every context contributes its first offset+limit matches; the merged page
	// is cut from their union.
	perContext := req
	perContext.Offset = 0
	perContext.Limit = req.Offset + req.Limit

	merged := &SearchResult{}
	for _, n := range names {
		rs, err := s.engine.Search(ctx, s.contexts[n].ic, perContext)
		if err != nil {
			return nil, fmt.Errorf("search %s: %w", n, err)
		}
		merged.TotalMatches += rs.TotalMatches
		merged.Hits = append(merged.Hits, toSearchResult(rs).Hits...)
	}

	slices.SortStableFunc(merged.Hits, compareHits)
	start := min(req.Offset, len(merged.Hits))
	end := min(start+req.Limit, len(merged.Hits))
	merged.Hits = merged.Hits[start:end]
	return merged, nil
}

func toSearchResult(rs *ResultSet) *SearchResult {
	out := &SearchResult{TotalMatches: rs.TotalMatches, Hits: make([]Hit, 0, len(rs.Records))}
	for _, rec := range rs.Records {
		out.Hits = append(out.Hits, Hit{Context: rs.Context, Record: rec})
	}
	return out
}

func compareHits(a, b Hit) int {
	return cmp.Or(
		cmp.Compare(a.Record.GroupID, b.Record.GroupID),
		cmp.Compare(a.Record.ArtifactID, b.Record.ArtifactID),
		cmp.Compare(a.Record.Version, b.Record.Version),
		cmp.Compare(a.Record.Key(), b.Record.Key()),
		cmp.Compare(a.Context, b.Context),
	)
}

// Context returns the named context.
func (s *Service) Context(name string) (*IndexContext, error) {
	entry, err := s.entry(name)
	if err != nil {
		return nil, err
	}
	return entry.ic, nil
}

// Contexts returns the configured context names in configuration order.
func (s *Service) Contexts() []string {
	return slices.Clone(s.names)
}

// Statuses returns the status of every context.
func (s *Service) Statuses() []ContextStatus {
	out := make([]ContextStatus, 0, len(s.names))
	for _, name := range s.names {
		out = append(out, s.contexts[name].ic.Status())
	}
	return out
}

// IsReady reports whether at least one context has a published generation.
func (s *Service) IsReady() bool {
	if s.checkOpen() != nil {
		return false
	}
	for _, name := range s.names {
		if s.contexts[name].ic.pool.CurrentID() > 0 {
			return true
		}
	}
	return false
}

// GetSettings returns the service settings.
func (s *Service) GetSettings() *config.IndexSettings {
	return s.settings
}

func (s *Service) entry(name string) (*contextEntry, error) {
	entry, ok := s.contexts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContext, name)
	}
	return entry, nil
}

func (s *Service) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrServiceClosed
	}
	return nil
}

// Close releases all contexts. Outstanding handles stay valid until released.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	for _, name := range s.names {
		if err := s.contexts[name].ic.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	s.engine.Purge()
	return errors.Join(errs...)
}

func listener(progress ProgressFactory, name string) remote.ProgressFunc {
	if progress == nil {
		return nil
	}
	return progress(name)
}
