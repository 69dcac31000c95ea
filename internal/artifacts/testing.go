package artifacts

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"maps"
	"slices"
	"testing"

	"github.com/sha1n/artifact-index/internal/domain"
	"github.com/sha1n/artifact-index/internal/indexfmt"
	"github.com/sha1n/artifact-index/internal/remote"
)

// FixtureEpoch is the remote timestamp of fixtures created by NewRemoteFixture.
const FixtureEpoch int64 = 1_700_000_000_000

// RemoteFixture publishes a remote index into a MemoryStore and keeps its
// properties, full snapshot and chunk history consistent.
// This is exported for use in tests of dependent packages.
type RemoteFixture struct {
	Store *remote.MemoryStore

	t         testing.TB
	id        string
	timestamp int64
	base      int64
	next      int
	chunks    []indexfmt.ChunkRef
	records   map[string]domain.ArtifactRecord
}

// NewRemoteFixture publishes records as a full index at FixtureEpoch.
func NewRemoteFixture(t testing.TB, id string, records []domain.ArtifactRecord) *RemoteFixture {
	t.Helper()
	f := &RemoteFixture{
		Store:     remote.NewMemoryStore(),
		t:         t,
		id:        id,
		timestamp: FixtureEpoch,
		base:      FixtureEpoch,
		next:      1,
		records:   make(map[string]domain.ArtifactRecord),
	}
	for _, r := range records {
		f.records[r.Key()] = r
	}
	f.publish()
	return f
}

// AddChunk publishes a chunk moving the index to timestamp and returns its
// counter. The full snapshot is republished to match.
func (f *RemoteFixture) AddChunk(timestamp int64, changes ...indexfmt.Change) int {
	f.t.Helper()
	counter := f.next
	f.next++

	if err := f.Store.PutChunk(counter, &indexfmt.Chunk{Timestamp: timestamp, Changes: changes}); err != nil {
		f.t.Fatalf("Failed to publish chunk %d: %v", counter, err)
	}
	for _, ch := range changes {
		if ch.Op == indexfmt.OpDelete {
			delete(f.records, ch.Record.Key())
		} else {
			f.records[ch.Record.Key()] = ch.Record
		}
	}
	f.chunks = append(f.chunks, indexfmt.ChunkRef{Counter: counter, Timestamp: timestamp})
	f.timestamp = timestamp
	f.publish()
	return counter
}

// DropChunk removes a published chunk resource while keeping it listed.
func (f *RemoteFixture) DropChunk(counter int) {
	f.Store.Remove(remote.ChunkResource(counter))
}

// Timestamp returns the current remote timestamp.
func (f *RemoteFixture) Timestamp() int64 {
	return f.timestamp
}

// Records returns the current remote content ordered by key.
func (f *RemoteFixture) Records() []domain.ArtifactRecord {
	out := make([]domain.ArtifactRecord, 0, len(f.records))
	for _, key := range slices.Sorted(maps.Keys(f.records)) {
		out = append(out, f.records[key])
	}
	return out
}

func (f *RemoteFixture) publish() {
	f.t.Helper()
	props := &indexfmt.Properties{
		ID:        f.id,
		Timestamp: f.timestamp,
		ChunkBase: f.base,
		Chunks:    slices.Clone(f.chunks),
	}
	if err := f.Store.PutProperties(props); err != nil {
		f.t.Fatalf("Failed to publish properties: %v", err)
	}
	full := &indexfmt.FullIndex{Timestamp: f.timestamp, Records: f.Records()}
	if err := f.Store.PutFullIndex(full); err != nil {
		f.t.Fatalf("Failed to publish full index: %v", err)
	}
}

// SampleRecord returns a deterministic jar record numbered i.
func SampleRecord(i int) domain.ArtifactRecord {
	r := domain.ArtifactRecord{
		GroupID:      fmt.Sprintf("org.example.g%d", i%5),
		ArtifactID:   fmt.Sprintf("lib-%03d", i),
		Version:      fmt.Sprintf("1.0.%d", i),
		Packaging:    "jar",
		LastModified: FixtureEpoch - int64(i)*1000,
		Extra: map[string]string{
			domain.FieldName: fmt.Sprintf("Library %d", i),
		},
	}
	sum := sha1.Sum([]byte(r.Key()))
	r.SHA1 = hex.EncodeToString(sum[:])
	return r
}

// SampleRecords returns SampleRecord(from) up to SampleRecord(from+n-1).
func SampleRecords(from, n int) []domain.ArtifactRecord {
	out := make([]domain.ArtifactRecord, n)
	for i := range out {
		out[i] = SampleRecord(from + i)
	}
	return out
}

// Added returns an addition of r.
func Added(r domain.ArtifactRecord) indexfmt.Change {
	return indexfmt.Change{Op: indexfmt.OpAdd, Record: r}
}

// Deleted returns a deletion of r.
func Deleted(r domain.ArtifactRecord) indexfmt.Change {
	return indexfmt.Change{Op: indexfmt.OpDelete, Record: r}
}
