package artifacts

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// ContextStatus is a point-in-time view of an index context.
type ContextStatus struct {
	Name          string    `json:"name"`
	RemoteURL     string    `json:"remote_url"`
	Ready         bool      `json:"ready"`
	GenerationID  uint64    `json:"generation_id"`
	Timestamp     int64     `json:"timestamp"`
	DocumentCount int       `json:"document_count"`
	ForceFull     bool      `json:"force_full"`
	LastAttempt   time.Time `json:"last_attempt,omitzero"`
	LastUpdate    time.Time `json:"last_update,omitzero"`
	LastOutcome   string    `json:"last_outcome,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// IndexContext owns the persistent state and the searchable generations of
// one named remote index.
type IndexContext struct {
	name      string
	remoteURL string
	dir       string
	creators  []Creator

	pool  *SearcherPool
	store *RecordStore

	// updateMu serializes updates of this context and guards committed.
	updateMu  sync.Mutex
	committed uint64
	forceFull atomic.Bool

	propsMu sync.Mutex
	props   *LocalProperties
}

// OpenContext opens the context stored under dir, restoring the last committed
// generation. A missing or corrupt local state leaves the context empty and
// flagged for a full update.
func OpenContext(name, remoteURL, dir string, creators []Creator) (*IndexContext, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create context directory: %w", err)
	}
	if len(creators) == 0 {
		creators = DefaultCreators
	}

	ic := &IndexContext{
		name:      name,
		remoteURL: remoteURL,
		dir:       dir,
		creators:  creators,
		pool:      NewSearcherPool(),
		store:     NewRecordStore(filepath.Join(dir, RecordsFilename)),
	}

	if err := ic.restore(); err != nil {
		ic.pool.Close()
		return nil, err
	}
	return ic, nil
}

// restore loads local properties and the record store into a first generation.
func (ic *IndexContext) restore() error {
	props, err := LoadLocalProperties(ic.propertiesPath())
	if err != nil {
		slog.Warn("Discarding unreadable context properties", "context", ic.name, "error", err)
		props = nil
	}

	if props != nil && props.RemoteURL != ic.remoteURL {
		slog.Info("Remote URL changed, discarding local index", "context", ic.name, "old", props.RemoteURL, "new", ic.remoteURL)
		if err := ic.store.Remove(); err != nil {
			return err
		}
		lastID := props.GenerationID
		props = NewLocalProperties(ic.name, ic.remoteURL)
		props.GenerationID = lastID
	}
	if props == nil {
		props = NewLocalProperties(ic.name, ic.remoteURL)
	}
	ic.props = props
	ic.forceFull.Store(props.ForceFull)

	state, err := ic.store.Load()
	if err != nil {
		if !errors.Is(err, ErrCorruptStore) {
			return fmt.Errorf("failed to load local index for %s: %w", ic.name, err)
		}
		slog.Warn("Local index is corrupt, a full update is required", "context", ic.name, "error", err)
		if rerr := ic.store.Remove(); rerr != nil {
			return rerr
		}
		ic.forceFull.Store(true)
		return ic.saveProperties()
	}
	if state == nil {
		slog.Info("No local index yet", "context", ic.name)
		return ic.saveProperties()
	}

	id := max(ic.props.GenerationID, 1)
	if err := ic.publishStored(id, state); err != nil {
		return err
	}
	slog.Info("Restored local index", "context", ic.name, "generation", id,
		"timestamp", state.Timestamp, "documents", len(state.Records))
	return ic.saveProperties()
}

// publishStored publishes the stored state as generation id.
func (ic *IndexContext) publishStored(id uint64, state *StoredState) error {
	gen, err := buildGeneration(id, state.Timestamp, state.Records, ic.creators)
	if err != nil {
		return err
	}
	if err := ic.pool.Publish(gen); err != nil {
		gen.release()
		return err
	}
	ic.committed = state.Sequence

	ic.propsMu.Lock()
	ic.props.Timestamp = state.Timestamp
	ic.props.GenerationID = id
	ic.props.DocumentCount = len(state.Records)
	ic.propsMu.Unlock()
	return nil
}

// Refresh reloads the record store when another process committed to it
// since this context last did. It reports whether a new generation was
// published.
func (ic *IndexContext) Refresh() (bool, error) {
	ic.updateMu.Lock()
	defer ic.updateMu.Unlock()

	seq, err := ic.store.Sequence()
	if err != nil || seq == 0 || seq == ic.committed {
		return false, err
	}
	state, err := ic.store.Load()
	if err != nil || state == nil {
		return false, err
	}

	id := ic.nextGenerationID(nil)
	if current := ic.pool.CurrentID(); current > 0 {
		id = current + 1
	}
	if err := ic.publishStored(id, state); err != nil {
		return false, err
	}
	ic.forceFull.Store(false)
	if err := ic.saveProperties(); err != nil {
		slog.Error("Failed to save context properties", "context", ic.name, "error", err)
	}

	slog.Info("Reloaded local index", "context", ic.name, "generation", id, "timestamp", state.Timestamp)
	return true, nil
}

// Name returns the context name.
func (ic *IndexContext) Name() string {
	return ic.name
}

// RemoteURL returns the remote index base URL.
func (ic *IndexContext) RemoteURL() string {
	return ic.remoteURL
}

// Dir returns the local cache directory.
func (ic *IndexContext) Dir() string {
	return ic.dir
}

// Acquire returns a handle on the current generation or nil when none is published.
// The handle must be released.
func (ic *IndexContext) Acquire() *Handle {
	return ic.pool.Acquire()
}

// Timestamp returns the remote timestamp of the current generation, or 0.
func (ic *IndexContext) Timestamp() int64 {
	h := ic.pool.Acquire()
	if h == nil {
		return 0
	}
	defer h.Release()
	return h.Generation().RemoteTimestamp()
}

// Status returns a snapshot of the context state.
func (ic *IndexContext) Status() ContextStatus {
	st := ContextStatus{
		Name:      ic.name,
		RemoteURL: ic.remoteURL,
		ForceFull: ic.forceFull.Load(),
	}
	if h := ic.pool.Acquire(); h != nil {
		g := h.Generation()
		st.Ready = true
		st.GenerationID = g.ID()
		st.Timestamp = g.RemoteTimestamp()
		st.DocumentCount = g.DocumentCount()
		h.Release()
	}

	ic.propsMu.Lock()
	st.LastAttempt = ic.props.LastAttempt
	st.LastUpdate = ic.props.LastUpdate
	st.LastOutcome = ic.props.LastOutcome
	st.Error = ic.props.Error
	ic.propsMu.Unlock()
	return st
}

// nextGenerationID returns the id for the generation following base.
func (ic *IndexContext) nextGenerationID(base *Generation) uint64 {
	if base != nil {
		return base.ID() + 1
	}
	ic.propsMu.Lock()
	defer ic.propsMu.Unlock()
	return ic.props.GenerationID + 1
}

// recordAttempt stores the result of an update attempt in the local properties.
func (ic *IndexContext) recordAttempt(outcome Outcome, err error) {
	ic.propsMu.Lock()
	now := time.Now()
	ic.props.LastAttempt = now
	ic.props.LastOutcome = outcome.Kind.String()
	if err != nil {
		ic.props.LastOutcome = OutcomeFailed
		ic.props.Error = err.Error()
	} else {
		ic.props.Error = ""
	}
	if err == nil && (outcome.Kind == OutcomeFull || outcome.Kind == OutcomeIncremental) {
		ic.props.LastUpdate = now
		ic.props.Timestamp = outcome.Timestamp
		ic.props.GenerationID = outcome.GenerationID
		ic.props.DocumentCount = outcome.DocumentCount
	}
	ic.propsMu.Unlock()

	if serr := ic.saveProperties(); serr != nil {
		slog.Error("Failed to save context properties", "context", ic.name, "error", serr)
	}
}

func (ic *IndexContext) propertiesPath() string {
	return filepath.Join(ic.dir, PropertiesFilename)
}

func (ic *IndexContext) saveProperties() error {
	ic.propsMu.Lock()
	snapshot := *ic.props
	ic.propsMu.Unlock()
	snapshot.ForceFull = ic.forceFull.Load()
	return snapshot.Save(ic.propertiesPath())
}

// Close releases the current generation. Outstanding handles stay valid.
func (ic *IndexContext) Close() error {
	ic.pool.Close()
	return nil
}
