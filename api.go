package cachesink

import (
	"context"
	"time"

	"github.com/unkn0wn-root/cachesink/codec"
	"github.com/unkn0wn-root/cachesink/session"
	"github.com/unkn0wn-root/cachesink/suppress"
)

// Sink is the lifecycle the stream consumer drives.
//
// Calls are expected in this order: Assign (any time), Start, Put*, Stop.
// Put calls must not overlap each other; Stop waits for an in-flight Put.
type Sink interface {
	// Start opens the backend session. It fails with *session.ConnectionError
	// when any configured endpoint does not answer.
	Start(ctx context.Context) error
	// Stop closes the session. Safe before Start and when called twice.
	Stop(ctx context.Context) error

	// Assign / Revoke track the partitions handed to this sink.
	Assign(tps ...TopicPartition)
	Revoke(tps ...TopicPartition)
	Assignment() []TopicPartition

	// Put projects batch into the cache and returns once every command is
	// acknowledged, the flush deadline passes or a command fails.
	Put(ctx context.Context, batch []Event) error

	// StoredOffsets reads the positions written with TrackOffsets.
	// Partitions never flushed are absent from the result.
	StoredOffsets(ctx context.Context, tps []TopicPartition) (map[TopicPartition]int64, error)

	// Ready reports whether a session is open.
	Ready() bool

	// Session returns the open session, or nil. For diagnostics and tests;
	// writes must go through Put.
	Session() session.Session
}

// Options configure a Sink. Only Topology is required; others have sensible defaults.
type Options struct {
	// Required
	Topology session.Topology // Mode "" => standalone

	Opener       session.Opener // nil => chosen by Topology.Mode
	FlushTimeout time.Duration  // per Put; 0 => 10s
	KeyPrefix    string         // prepended to every stored key
	Codec        codec.Codec    // nil => codec.Raw
	Suppress     suppress.Store // nil => every upsert is written
	TrackOffsets bool           // store the flushed offset per partition alongside the data
	Logger       Logger         // if nil, NopLogger is used
	Hooks        Hooks          // if nil, NopHooks is used
}

func New(opts Options) (Sink, error) {
	s, err := newSink(opts)
	if err != nil {
		return nil, err
	}
	return s, nil
}
