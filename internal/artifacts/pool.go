package artifacts

import (
	"errors"
	"fmt"
	"sync"
)

// SearcherPool publishes generations of one index context and hands out
// reference counted handles to the current one.
//
// Acquire only takes a read lock for the pointer read and the reference count
// increment, so readers never wait on an update in progress. Publish calls are
// serialized; a superseded generation is disposed once the last handle on it
// is released.
type SearcherPool struct {
	mu        sync.RWMutex
	publishMu sync.Mutex
	current   *Generation
	closed    bool
}

// NewSearcherPool creates an empty pool.
func NewSearcherPool() *SearcherPool {
	return &SearcherPool{}
}

// Handle pins one generation until released.
type Handle struct {
	gen  *Generation
	once sync.Once
}

// Generation returns the pinned generation.
func (h *Handle) Generation() *Generation {
	return h.gen
}

// Release unpins the generation. It is safe to call on a nil handle and more than once.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.once.Do(h.gen.release)
}

// Acquire returns a handle on the current generation, or nil when nothing has
// been published yet.
func (p *SearcherPool) Acquire() *Handle {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return nil
	}
	p.current.retain()
	return &Handle{gen: p.current}
}

// Publish installs gen as the current generation. gen must directly follow the
// current generation (id + 1); an empty pool accepts any id. On success the
// pool takes over the caller's reference on gen.
func (p *SearcherPool) Publish(gen *Generation) error {
	if gen == nil {
		return errors.New("cannot publish nil generation")
	}

	p.publishMu.Lock()
	defer p.publishMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	old := p.current
	if old != nil && gen.id != old.id+1 {
		p.mu.Unlock()
		return fmt.Errorf("%w: got %d, current is %d", ErrStaleGeneration, gen.id, old.id)
	}
	p.current = gen
	p.mu.Unlock()

	if old != nil {
		old.release()
	}
	return nil
}

// CurrentID returns the id of the current generation, or 0 when empty.
func (p *SearcherPool) CurrentID() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return 0
	}
	return p.current.id
}

// Close drops the pool's reference on the current generation. Outstanding
// handles stay valid until released.
func (p *SearcherPool) Close() {
	p.publishMu.Lock()
	defer p.publishMu.Unlock()

	p.mu.Lock()
	old := p.current
	p.current = nil
	p.closed = true
	p.mu.Unlock()

	if old != nil {
		old.release()
	}
}
