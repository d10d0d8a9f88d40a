package sloghooks

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/cachesink"
	"github.com/unkn0wn-root/cachesink/internal/util"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	PlannedEvery   uint64
	CompletedEvery uint64
	// How many failed keys to name per failure; 0 => 3.
	MaxKeys int
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func([]byte) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	plannedCtr   atomic.Uint64
	completedCtr atomic.Uint64
}

var _ cachesink.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	if opts.MaxKeys <= 0 {
		opts.MaxKeys = 3
	}
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k []byte) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	return util.Redact(k)
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) SessionOpened(mode string) {
	if h.l == nil {
		return
	}
	h.l.Info("cachesink.session_opened", "mode", mode)
}

func (h *Hooks) SessionClosed(mode string, err error) {
	if h.l == nil {
		return
	}
	if err != nil {
		h.l.Warn("cachesink.session_closed", "mode", mode, "err", err)
		return
	}
	h.l.Info("cachesink.session_closed", "mode", mode)
}

func (h *Hooks) BatchPlanned(events, upserts, deletes int) {
	if h.l == nil || !sample(h.opts.PlannedEvery, &h.plannedCtr) {
		return
	}
	h.l.Debug("cachesink.batch_planned",
		"events", events,
		"upserts", upserts,
		"deletes", deletes)
}

func (h *Hooks) WritesSuppressed(count int) {
	if h.l == nil {
		return
	}
	h.l.Debug("cachesink.writes_suppressed", "count", count)
}

func (h *Hooks) FlushCompleted(upserts, deletes int, elapsed time.Duration) {
	if h.l == nil || !sample(h.opts.CompletedEvery, &h.completedCtr) {
		return
	}
	h.l.Debug("cachesink.flush_completed",
		"upserts", upserts,
		"deletes", deletes,
		"elapsed", elapsed)
}

func (h *Hooks) FlushFailed(op string, keys [][]byte, err error) {
	if h.l == nil {
		return
	}
	n := len(keys)
	if n > h.opts.MaxKeys {
		n = h.opts.MaxKeys
	}
	named := make([]string, n)
	for i := 0; i < n; i++ {
		named[i] = h.redact(keys[i])
	}
	h.l.Error("cachesink.flush_failed",
		"op", op,
		"keys", len(keys),
		"sample", named,
		"err", err)
}

func (h *Hooks) FlushTimedOut(pending []string, deadline time.Duration) {
	if h.l == nil {
		return
	}
	h.l.Warn("cachesink.flush_timed_out",
		"pending", pending,
		"deadline", deadline)
}
