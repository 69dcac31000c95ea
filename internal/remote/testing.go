package remote

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/sha1n/artifact-index/internal/indexfmt"
)

// MemoryStore is an in-memory ChunkStore.
// This is exported for use in tests of dependent packages.
type MemoryStore struct {
	mu        sync.Mutex
	resources map[string][]byte
	failures  map[string]error
	fetches   []string
	onFetch   func(resource string)
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		resources: make(map[string][]byte),
		failures:  make(map[string]error),
	}
}

// Put stores raw bytes under a resource name.
func (m *MemoryStore) Put(resource string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[resource] = bytes.Clone(data)
}

// Remove deletes a resource.
func (m *MemoryStore) Remove(resource string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resources, resource)
}

// FailWith makes fetches of resource fail with err until cleared with a nil err.
func (m *MemoryStore) FailWith(resource string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, resource)
		return
	}
	m.failures[resource] = err
}

// OnFetch registers a hook invoked before every fetch.
func (m *MemoryStore) OnFetch(hook func(resource string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFetch = hook
}

// PutProperties encodes and stores the properties resource.
func (m *MemoryStore) PutProperties(p *indexfmt.Properties) error {
	var buf bytes.Buffer
	if err := indexfmt.EncodeProperties(&buf, p); err != nil {
		return err
	}
	m.Put(PropertiesResource, buf.Bytes())
	return nil
}

// PutFullIndex encodes and stores the full index resource.
func (m *MemoryStore) PutFullIndex(f *indexfmt.FullIndex) error {
	var buf bytes.Buffer
	if err := indexfmt.EncodeFullIndex(&buf, f); err != nil {
		return err
	}
	m.Put(FullIndexResource, buf.Bytes())
	return nil
}

// PutChunk encodes and stores an incremental chunk.
func (m *MemoryStore) PutChunk(counter int, c *indexfmt.Chunk) error {
	var buf bytes.Buffer
	if err := indexfmt.EncodeChunk(&buf, c); err != nil {
		return err
	}
	m.Put(ChunkResource(counter), buf.Bytes())
	return nil
}

// Fetches returns the resource names fetched so far, in order.
func (m *MemoryStore) Fetches() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.fetches))
	copy(out, m.fetches)
	return out
}

// ResetFetches clears the recorded fetches.
func (m *MemoryStore) ResetFetches() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches = nil
}

// Fetch returns a reader over the stored bytes.
func (m *MemoryStore) Fetch(ctx context.Context, resource string, progress ProgressFunc) (io.ReadCloser, error) {
	m.mu.Lock()
	hook := m.onFetch
	m.fetches = append(m.fetches, resource)
	failure := m.failures[resource]
	data, ok := m.resources[resource]
	m.mu.Unlock()

	if hook != nil {
		hook(resource)
	}
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{Resource: resource, Err: err}
	}
	if failure != nil {
		return nil, &FetchError{Resource: resource, Err: failure}
	}
	if !ok {
		return nil, &FetchError{Resource: resource, Err: ErrNotFound}
	}
	return withProgress(io.NopCloser(bytes.NewReader(data)), resource, int64(len(data)), progress), nil
}
