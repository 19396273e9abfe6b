package consistency

import (
	"context"
	"sync"
)

// handle serializes check-and-commit on one stream and its metastream.
type handle struct {
	sem  chan struct{}
	refs int
}

// handleTable hands out per-stream handles. A handle lives as long as some
// caller holds or waits for it and is evicted afterwards, so the table only
// grows with the number of streams being written concurrently.
type handleTable struct {
	mu      sync.Mutex
	handles map[string]*handle
}

func newHandleTable() *handleTable {
	return &handleTable{handles: make(map[string]*handle)}
}

// acquire blocks until the caller exclusively holds the handle of stream or
// ctx is done. The returned func releases the handle and is safe to call
// more than once.
func (t *handleTable) acquire(ctx context.Context, stream string) (func(), error) {
	t.mu.Lock()
	h, ok := t.handles[stream]
	if !ok {
		h = &handle{sem: make(chan struct{}, 1)}
		t.handles[stream] = h
	}
	h.refs++
	t.mu.Unlock()

	select {
	case h.sem <- struct{}{}:
	case <-ctx.Done():
		t.unref(stream, h)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-h.sem
			t.unref(stream, h)
		})
	}, nil
}

func (t *handleTable) unref(stream string, h *handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h.refs--
	if h.refs == 0 {
		delete(t.handles, stream)
	}
}

func (t *handleTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handles)
}
