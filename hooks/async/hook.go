// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    PlannedEvery: 100, // sample batch logs: ~every 100th batch
//	})
//
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	sink, _ := cachesink.New(cachesink.Options{
//	    Topology: topo,
//	    Hooks:    hooks, // or `raw` if you don’t want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/cachesink"
)

// Hooks forwards events to inner on a bounded queue. Events that do not fit
// are dropped and counted; the Put path never blocks on a slow hook.
type Hooks struct {
	inner cachesink.Hooks
	q     chan func()
	wg    sync.WaitGroup

	mu      sync.RWMutex // guards closed against sends on q
	closed  bool
	dropped atomic.Uint64
}

var _ cachesink.Hooks = (*Hooks)(nil)

func New(inner cachesink.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains the queue and stops the workers. Later events are dropped.
func (h *Hooks) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.q)
	h.mu.Unlock()
	h.wg.Wait()
}

// Dropped reports events lost to a full queue or a closed wrapper.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) SessionOpened(mode string) { h.try(func() { h.inner.SessionOpened(mode) }) }
func (h *Hooks) SessionClosed(mode string, err error) {
	h.try(func() { h.inner.SessionClosed(mode, err) })
}
func (h *Hooks) BatchPlanned(events, upserts, deletes int) {
	h.try(func() { h.inner.BatchPlanned(events, upserts, deletes) })
}
func (h *Hooks) WritesSuppressed(n int) { h.try(func() { h.inner.WritesSuppressed(n) }) }
func (h *Hooks) FlushCompleted(upserts, deletes int, elapsed time.Duration) {
	h.try(func() { h.inner.FlushCompleted(upserts, deletes, elapsed) })
}
func (h *Hooks) FlushFailed(op string, keys [][]byte, err error) {
	// keys belong to the caller once this returns
	cp := make([][]byte, len(keys))
	for i, k := range keys {
		cp[i] = append([]byte(nil), k...)
	}
	h.try(func() { h.inner.FlushFailed(op, cp, err) })
}
func (h *Hooks) FlushTimedOut(pending []string, deadline time.Duration) {
	h.try(func() { h.inner.FlushTimedOut(pending, deadline) })
}
