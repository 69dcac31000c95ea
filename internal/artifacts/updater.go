package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sha1n/artifact-index/internal/domain"
	"github.com/sha1n/artifact-index/internal/indexfmt"
	"github.com/sha1n/artifact-index/internal/remote"
)

// OutcomeKind classifies the result of an update attempt.
type OutcomeKind int

const (
	// OutcomeNoChange means the local index already matches the remote one.
	OutcomeNoChange OutcomeKind = iota
	// OutcomeIncremental means chunks were applied on top of the previous generation.
	OutcomeIncremental
	// OutcomeFull means the index was replaced from the full remote snapshot.
	OutcomeFull
	// OutcomeCancelled means the caller cancelled the attempt; nothing was published.
	OutcomeCancelled
)

// OutcomeFailed is the outcome recorded in the context status for an attempt
// that returned an error.
const OutcomeFailed = "failed"

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNoChange:
		return "no-change"
	case OutcomeIncremental:
		return "incremental"
	case OutcomeFull:
		return "full"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome reports the result of one update attempt.
type Outcome struct {
	Kind OutcomeKind
	// Timestamp is the remote timestamp of the current generation after the attempt.
	Timestamp int64
	// PreviousTimestamp is the timestamp before the attempt, 0 for an empty context.
	PreviousTimestamp int64
	GenerationID      uint64
	DocumentCount     int
	// Chunks is the number of incremental chunks applied.
	Chunks int
}

// UpdaterOptions configures an Updater.
type UpdaterOptions struct {
	// FallbackOnGap makes an incremental attempt that hits a gap in the chunk
	// sequence continue with a full update. When false the *GapError is
	// returned and the next attempt is a full update.
	FallbackOnGap bool
}

// Updater brings index contexts up to date with their remote index.
type Updater struct {
	fallbackOnGap bool
}

// NewUpdater creates an updater.
func NewUpdater(opts UpdaterOptions) *Updater {
	return &Updater{fallbackOnGap: opts.FallbackOnGap}
}

// Update synchronizes ic with the remote index served by store.
//
// A failed attempt never publishes anything: readers keep seeing the previous
// generation. Cancelling ctx yields OutcomeCancelled with a nil error. Updates
// of one context are serialized.
func (u *Updater) Update(ctx context.Context, ic *IndexContext, store remote.ChunkStore, progress remote.ProgressFunc) (Outcome, error) {
	ic.updateMu.Lock()
	defer ic.updateMu.Unlock()

	start := time.Now()
	outcome, err := u.update(ctx, ic, store, progress)
	if err != nil && isCancellation(ctx, err) {
		slog.Info("Update cancelled", "context", ic.name)
		outcome.Kind = OutcomeCancelled
		outcome.Timestamp = outcome.PreviousTimestamp
		err = nil
	}
	ic.recordAttempt(outcome, err)

	if err != nil {
		slog.Error("Update failed", "context", ic.name, "error", err, "duration", time.Since(start))
		return outcome, err
	}
	slog.Info("Update finished", "context", ic.name, "outcome", outcome.Kind, "timestamp", outcome.Timestamp,
		"generation", outcome.GenerationID, "documents", outcome.DocumentCount, "duration", time.Since(start))
	return outcome, nil
}

func (u *Updater) update(ctx context.Context, ic *IndexContext, store remote.ChunkStore, progress remote.ProgressFunc) (Outcome, error) {
	handle := ic.pool.Acquire()
	defer handle.Release()

	var base *Generation
	out := Outcome{}
	if handle != nil {
		base = handle.Generation()
		out.PreviousTimestamp = base.RemoteTimestamp()
		out.Timestamp = base.RemoteTimestamp()
		out.GenerationID = base.ID()
		out.DocumentCount = base.DocumentCount()
	}

	if err := checkCancelled(ctx); err != nil {
		return out, err
	}
	props, err := fetchProperties(ctx, store, progress)
	if err != nil {
		return out, err
	}

	if base != nil {
		local := base.RemoteTimestamp()
		if props.Timestamp < local {
			return out, fmt.Errorf("%w: remote %d, local %d", ErrRemoteRegressed, props.Timestamp, local)
		}
		if !ic.forceFull.Load() {
			if props.Timestamp == local {
				out.Kind = OutcomeNoChange
				return out, nil
			}

			refs, first, ok := props.ChunksSince(local)
			if ok {
				result, err := u.incremental(ctx, ic, store, base, refs, first, progress)
				if err == nil || !IsGapError(err) {
					return result, err
				}
				ic.forceFull.Store(true)
				slog.Warn("Gap in remote chunk sequence", "context", ic.name, "error", err)
				if !u.fallbackOnGap {
					return out, err
				}
			} else {
				slog.Info("Local timestamp is not in remote chunk history", "context", ic.name, "timestamp", local)
			}
		}
	}

	return u.full(ctx, ic, store, base, out, progress)
}

// incremental applies refs in order to a copy of base. first is the counter
// the sequence must start at.
func (u *Updater) incremental(ctx context.Context, ic *IndexContext, store remote.ChunkStore, base *Generation,
	refs []indexfmt.ChunkRef, first int, progress remote.ProgressFunc) (Outcome, error) {

	out := Outcome{
		PreviousTimestamp: base.RemoteTimestamp(),
		Timestamp:         base.RemoteTimestamp(),
		GenerationID:      base.ID(),
		DocumentCount:     base.DocumentCount(),
	}

	working := base.cloneRecords()
	touched := make(map[string]struct{})
	ts := base.RemoteTimestamp()
	expected := first

	for _, ref := range refs {
		if err := checkCancelled(ctx); err != nil {
			return out, err
		}
		if ref.Counter != expected {
			return out, &GapError{Counter: expected, Err: errors.New("chunk not listed by remote")}
		}

		chunk, err := fetchChunk(ctx, store, ref.Counter, progress)
		if err != nil {
			if remote.IsNotFound(err) {
				return out, &GapError{Counter: ref.Counter, Err: err}
			}
			return out, err
		}
		if chunk.Timestamp != ref.Timestamp {
			return out, &GapError{
				Counter: ref.Counter,
				Err:     fmt.Errorf("chunk timestamp %d does not match listed %d", chunk.Timestamp, ref.Timestamp),
			}
		}
		if chunk.Timestamp <= ts {
			return out, fmt.Errorf("%w: chunk %d at %d, index at %d", ErrChunkOutOfOrder, ref.Counter, chunk.Timestamp, ts)
		}

		applyChunk(working, touched, chunk)
		ts = chunk.Timestamp
		expected++
		slog.Debug("Applied chunk", "context", ic.name, "counter", ref.Counter, "timestamp", ts, "changes", len(chunk.Changes))
	}

	var upserts []domain.ArtifactRecord
	var deletes []string
	for key := range touched {
		if rec, ok := working[key]; ok {
			upserts = append(upserts, rec)
		} else {
			deletes = append(deletes, key)
		}
	}

	id := ic.nextGenerationID(base)
	gen, err := buildGeneration(id, ts, working, ic.creators)
	if err != nil {
		return out, err
	}
	err = u.commit(ctx, ic, gen, func() (uint64, error) {
		return ic.store.ApplyChanges(ic.committed, ts, upserts, deletes, len(working))
	})
	if err != nil {
		if errors.Is(err, ErrStaleGeneration) {
			// Another process committed since this context loaded the store.
			ic.forceFull.Store(true)
		}
		return out, err
	}

	return Outcome{
		Kind:              OutcomeIncremental,
		Timestamp:         ts,
		PreviousTimestamp: base.RemoteTimestamp(),
		GenerationID:      id,
		DocumentCount:     len(working),
		Chunks:            len(refs),
	}, nil
}

// full replaces the context content with the remote snapshot.
func (u *Updater) full(ctx context.Context, ic *IndexContext, store remote.ChunkStore, base *Generation,
	out Outcome, progress remote.ProgressFunc) (Outcome, error) {

	if err := checkCancelled(ctx); err != nil {
		return out, err
	}
	snapshot, err := fetchFullIndex(ctx, store, progress)
	if err != nil {
		return out, err
	}
	if base != nil && snapshot.Timestamp < base.RemoteTimestamp() {
		return out, fmt.Errorf("%w: full index at %d, local %d", ErrRemoteRegressed, snapshot.Timestamp, base.RemoteTimestamp())
	}

	records := make(map[string]domain.ArtifactRecord, len(snapshot.Records))
	for _, r := range snapshot.Records {
		r = r.Normalize()
		records[r.Key()] = r
	}

	id := ic.nextGenerationID(base)
	gen, err := buildGeneration(id, snapshot.Timestamp, records, ic.creators)
	if err != nil {
		return out, err
	}
	err = u.commit(ctx, ic, gen, func() (uint64, error) {
		return ic.store.ReplaceAll(snapshot.Timestamp, records)
	})
	if err != nil {
		return out, err
	}

	return Outcome{
		Kind:              OutcomeFull,
		Timestamp:         snapshot.Timestamp,
		PreviousTimestamp: out.PreviousTimestamp,
		GenerationID:      id,
		DocumentCount:     len(records),
	}, nil
}

// commit persists and then publishes gen. On failure gen is disposed and the
// published generation stays in place.
func (u *Updater) commit(ctx context.Context, ic *IndexContext, gen *Generation, persist func() (uint64, error)) error {
	if err := checkCancelled(ctx); err != nil {
		gen.release()
		return err
	}
	seq, err := persist()
	if err != nil {
		gen.release()
		return err
	}
	ic.committed = seq
	if err := ic.pool.Publish(gen); err != nil {
		gen.release()
		return err
	}
	ic.forceFull.Store(false)
	return nil
}

func applyChunk(working map[string]domain.ArtifactRecord, touched map[string]struct{}, chunk *indexfmt.Chunk) {
	for _, change := range chunk.Changes {
		rec := change.Record.Normalize()
		key := rec.Key()
		switch change.Op {
		case indexfmt.OpAdd:
			working[key] = rec
		case indexfmt.OpDelete:
			delete(working, key)
		}
		touched[key] = struct{}{}
	}
}

func fetchProperties(ctx context.Context, store remote.ChunkStore, progress remote.ProgressFunc) (*indexfmt.Properties, error) {
	return fetchDecoded(ctx, store, remote.PropertiesResource, progress, indexfmt.DecodeProperties)
}

func fetchChunk(ctx context.Context, store remote.ChunkStore, counter int, progress remote.ProgressFunc) (*indexfmt.Chunk, error) {
	return fetchDecoded(ctx, store, remote.ChunkResource(counter), progress, indexfmt.DecodeChunk)
}

func fetchFullIndex(ctx context.Context, store remote.ChunkStore, progress remote.ProgressFunc) (*indexfmt.FullIndex, error) {
	return fetchDecoded(ctx, store, remote.FullIndexResource, progress, indexfmt.DecodeFullIndex)
}

// fetchDecoded fetches resource and decodes it. A read failure of the
// transport surfaces as a *remote.FetchError even when the decoder reports it.
func fetchDecoded[T any](ctx context.Context, store remote.ChunkStore, resource string, progress remote.ProgressFunc,
	decode func(io.Reader) (T, error)) (T, error) {

	rc, err := store.Fetch(ctx, resource, progress)
	if err != nil {
		var zero T
		return zero, err
	}
	defer rc.Close()

	body := &transportReader{r: rc}
	v, err := decode(body)
	if err != nil && body.err != nil {
		return v, &remote.FetchError{Resource: resource, Err: body.err}
	}
	return v, err
}

// transportReader remembers the first read error other than io.EOF.
type transportReader struct {
	r   io.Reader
	err error
}

func (t *transportReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}

func checkCancelled(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ErrCancelled
	}
	return nil
}

// isCancellation reports whether a failed attempt was aborted by the caller
// cancelling ctx. A cancelled transfer may surface as a truncated stream, so
// any failure on a cancelled ctx counts. Deadlines are failures.
func isCancellation(ctx context.Context, err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(ctx.Err(), context.Canceled)
}
