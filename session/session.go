// Package session defines the backend abstraction used by cachesink.
//
// A Session owns exactly one live handle to the cache backend for its whole
// lifetime. Callers issue commands through AsyncCommands and never branch on
// the topology behind it (standalone, cluster, sentinel or embedded memory).
//
// Implementations MUST be byte-for-byte transparent: a value written with MSet
// is returned unchanged by MGet. Keys are opaque; equality is byte-exact.
package session

import (
	"context"
)

// Pair is one key/value written by MSet.
type Pair struct {
	Key   []byte
	Value []byte
}

// Session is a live connection (or pool) to the backend.
// Not safe for Close racing in-flight commands; the owner serializes that.
type Session interface {
	// Mode reports the topology variant selected at open.
	Mode() Mode

	// Async returns the command interface. Every call submits the command
	// immediately and returns a handle without waiting for the reply.
	Async() AsyncCommands

	// Close releases the connection. Idempotent.
	Close(ctx context.Context) error
}

// AsyncCommands is the uniform command surface over all topologies.
type AsyncCommands interface {
	// MSet writes all pairs. Cluster variants split it per hash slot.
	MSet(ctx context.Context, pairs []Pair) *Future[struct{}]

	// Del removes keys and resolves to the number actually removed.
	Del(ctx context.Context, keys [][]byte) *Future[int64]

	// Exists resolves to how many of keys are present.
	Exists(ctx context.Context, keys [][]byte) *Future[int64]

	// MGet resolves to one entry per key, in order; nil marks a miss.
	MGet(ctx context.Context, keys [][]byte) *Future[[][]byte]
}

// Opener opens a session for a resolved topology.
type Opener func(ctx context.Context, topo Topology) (Session, error)
