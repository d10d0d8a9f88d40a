package main

import (
	"time"

	"github.com/unkn0wn-root/cachesink"
)

type multiHooks []cachesink.Hooks

var _ cachesink.Hooks = multiHooks(nil)

func (m multiHooks) SessionOpened(mode string) {
	for _, h := range m {
		h.SessionOpened(mode)
	}
}

func (m multiHooks) SessionClosed(mode string, err error) {
	for _, h := range m {
		h.SessionClosed(mode, err)
	}
}

func (m multiHooks) BatchPlanned(events, upserts, deletes int) {
	for _, h := range m {
		h.BatchPlanned(events, upserts, deletes)
	}
}

func (m multiHooks) WritesSuppressed(count int) {
	for _, h := range m {
		h.WritesSuppressed(count)
	}
}

func (m multiHooks) FlushCompleted(upserts, deletes int, elapsed time.Duration) {
	for _, h := range m {
		h.FlushCompleted(upserts, deletes, elapsed)
	}
}

func (m multiHooks) FlushFailed(op string, keys [][]byte, err error) {
	for _, h := range m {
		h.FlushFailed(op, keys, err)
	}
}

func (m multiHooks) FlushTimedOut(pending []string, deadline time.Duration) {
	for _, h := range m {
		h.FlushTimedOut(pending, deadline)
	}
}
