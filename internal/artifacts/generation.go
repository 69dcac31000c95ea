package artifacts

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync/atomic"

	"github.com/blevesearch/bleve/v2"
	"github.com/sha1n/artifact-index/internal/domain"
)

// MaxBatchSize is the maximum number of documents per index batch
const MaxBatchSize = 1000

// Generation is an immutable snapshot of an index: its records plus an
// in-memory inverted index over them. Generations are reference counted and
// their search index is closed when the last reference is released.
type Generation struct {
	id              uint64
	remoteTimestamp int64
	records         map[string]domain.ArtifactRecord
	fields          map[string]FieldKind
	index           bleve.Index

	refs     atomic.Int64
	disposed atomic.Bool
}

// buildGeneration creates a generation owning records. The caller must not
// modify records afterwards. The returned generation holds one reference.
func buildGeneration(id uint64, remoteTimestamp int64, records map[string]domain.ArtifactRecord, creators []Creator) (*Generation, error) {
	fields := indexedFields(creators)
	index, err := bleve.NewMemOnly(createIndexMapping(fields))
	if err != nil {
		return nil, fmt.Errorf("failed to create search index: %w", err)
	}

	batch := index.NewBatch()
	for key, rec := range records {
		if err := batch.Index(key, buildDocument(creators, rec)); err != nil {
			_ = index.Close()
			return nil, fmt.Errorf("failed to index %s: %w", key, err)
		}
		if batch.Size() >= MaxBatchSize {
			if err := index.Batch(batch); err != nil {
				_ = index.Close()
				return nil, fmt.Errorf("batch index failed: %w", err)
			}
			batch = index.NewBatch()
		}
	}
	if batch.Size() > 0 {
		if err := index.Batch(batch); err != nil {
			_ = index.Close()
			return nil, fmt.Errorf("final batch index failed: %w", err)
		}
	}

	g := &Generation{
		id:              id,
		remoteTimestamp: remoteTimestamp,
		records:         records,
		fields:          fields,
		index:           index,
	}
	g.refs.Store(1)
	return g, nil
}

// ID returns the generation id.
func (g *Generation) ID() uint64 {
	return g.id
}

// RemoteTimestamp returns the remote index timestamp this generation reflects.
func (g *Generation) RemoteTimestamp() int64 {
	return g.remoteTimestamp
}

// DocumentCount returns the number of records.
func (g *Generation) DocumentCount() int {
	return len(g.records)
}

// Record returns the record with the given identity key.
func (g *Generation) Record(key string) (domain.ArtifactRecord, bool) {
	r, ok := g.records[key]
	return r, ok
}

// Records returns all records ordered by identity key.
func (g *Generation) Records() []domain.ArtifactRecord {
	keys := slices.Sorted(maps.Keys(g.records))
	out := make([]domain.ArtifactRecord, 0, len(keys))
	for _, k := range keys {
		out = append(out, g.records[k])
	}
	return out
}

// Disposed reports whether the search index has been released.
func (g *Generation) Disposed() bool {
	return g.disposed.Load()
}

// cloneRecords returns a working copy of the record map for copy-on-write updates.
func (g *Generation) cloneRecords() map[string]domain.ArtifactRecord {
	return maps.Clone(g.records)
}

func (g *Generation) hasField(name string) (FieldKind, bool) {
	kind, ok := g.fields[name]
	return kind, ok
}

func (g *Generation) retain() {
	g.refs.Add(1)
}

// release drops one reference and disposes the generation on the last one.
func (g *Generation) release() {
	n := g.refs.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		slog.Error("Generation released more times than retained", "generation", g.id)
		return
	}
	if g.disposed.CompareAndSwap(false, true) {
		if err := g.index.Close(); err != nil {
			slog.Warn("Failed to close generation index", "generation", g.id, "error", err)
		}
	}
}

func (g *Generation) String() string {
	return fmt.Sprintf("generation %d (timestamp %d, %d documents)", g.id, g.remoteTimestamp, len(g.records))
}
