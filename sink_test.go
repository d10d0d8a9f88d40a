package cachesink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unkn0wn-root/cachesink/codec"
	"github.com/unkn0wn-root/cachesink/session"
	"github.com/unkn0wn-root/cachesink/session/memory"
	"github.com/unkn0wn-root/cachesink/suppress"
)

var tp0 = TopicPartition{Topic: "t", Partition: 0}

// memOpener hands out one embedded session and keeps it for inspection.
type memOpener struct {
	cfg  memory.Config
	sess *memory.Session
	err  error
}

func (o *memOpener) open(ctx context.Context, topo session.Topology) (session.Session, error) {
	if o.err != nil {
		return nil, o.err
	}
	s, err := memory.New(ctx, o.cfg)
	if err != nil {
		return nil, err
	}
	o.sess = s
	return s, nil
}

func newTestSink(t *testing.T, mo *memOpener, optsOpt func(*Options)) Sink {
	t.Helper()
	opts := Options{
		Topology:     session.Topology{Mode: session.ModeMemory},
		Opener:       mo.open,
		FlushTimeout: time.Second,
	}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func mustImpl(t *testing.T, s Sink) *sink {
	t.Helper()
	impl, ok := s.(*sink)
	if !ok {
		t.Fatalf("unexpected concrete type for Sink")
	}
	return impl
}

func startSink(t *testing.T, s Sink) {
	t.Helper()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
}

func mget(t *testing.T, s Sink, keys ...string) [][]byte {
	t.Helper()
	bk := make([][]byte, len(keys))
	for i, k := range keys {
		bk[i] = []byte(k)
	}
	ctx := context.Background()
	vals, err := s.Session().Async().MGet(ctx, bk).Get(ctx)
	if err != nil {
		t.Fatalf("MGet: %v", err)
	}
	return vals
}

func exists(t *testing.T, s Sink, keys ...string) int64 {
	t.Helper()
	bk := make([][]byte, len(keys))
	for i, k := range keys {
		bk[i] = []byte(k)
	}
	ctx := context.Background()
	n, err := s.Session().Async().Exists(ctx, bk).Get(ctx)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	return n
}

// TestPutConvergesToLastWrite runs the canonical mixed batch end to end.
func TestPutConvergesToLastWrite(t *testing.T) {
	ctx := context.Background()
	mo := &memOpener{}
	s := newTestSink(t, mo, nil)
	startSink(t, s)
	s.Assign(tp0)

	batch := []Event{ev("K1", "A", 1), ev("K2", "B", 2), del("K1", 3), ev("K3", "C", 4), ev("K2", "D", 5)}
	if err := s.Put(ctx, batch); err != nil {
		t.Fatalf("Put: %v", err)
	}

	vals := mget(t, s, "K1", "K2", "K3")
	if vals[0] != nil || string(vals[1]) != "D" || string(vals[2]) != "C" {
		t.Fatalf("unexpected state K1=%q K2=%q K3=%q", vals[0], vals[1], vals[2])
	}
	// one MSET + one DEL, plus the MGET above
	if got := mo.sess.Commands(); got != 3 {
		t.Fatalf("expected 2 write commands, session saw %d commands total", got)
	}
}

func TestPutWriteThenDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestSink(t, &memOpener{}, nil)
	startSink(t, s)
	s.Assign(tp0)

	if err := s.Put(ctx, []Event{ev("k", "v", 1)}); err != nil {
		t.Fatalf("Put upsert: %v", err)
	}
	if n := exists(t, s, "k"); n != 1 {
		t.Fatalf("exists after upsert=%d", n)
	}
	if err := s.Put(ctx, []Event{del("k", 2)}); err != nil {
		t.Fatalf("Put delete: %v", err)
	}
	if n := exists(t, s, "k"); n != 0 {
		t.Fatalf("exists after delete=%d", n)
	}
}

func TestPutNoIO(t *testing.T) {
	ctx := context.Background()

	t.Run("empty batch", func(t *testing.T) {
		mo := &memOpener{}
		s := newTestSink(t, mo, nil)
		startSink(t, s)
		s.Assign(tp0)
		if err := s.Put(ctx, nil); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if mo.sess.Commands() != 0 {
			t.Fatalf("expected zero commands, got %d", mo.sess.Commands())
		}
	})

	t.Run("empty assignment", func(t *testing.T) {
		mo := &memOpener{}
		s := newTestSink(t, mo, nil)
		startSink(t, s)
		if err := s.Put(ctx, []Event{ev("a", "1", 1)}); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if mo.sess.Commands() != 0 {
			t.Fatalf("expected zero commands, got %d", mo.sess.Commands())
		}
	})

	t.Run("revoked", func(t *testing.T) {
		mo := &memOpener{}
		s := newTestSink(t, mo, nil)
		startSink(t, s)
		s.Assign(tp0)
		s.Revoke(tp0)
		if err := s.Put(ctx, []Event{ev("a", "1", 1)}); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if mo.sess.Commands() != 0 {
			t.Fatalf("expected zero commands, got %d", mo.sess.Commands())
		}
	})

	t.Run("nil key rejects the batch", func(t *testing.T) {
		mo := &memOpener{}
		s := newTestSink(t, mo, nil)
		startSink(t, s)
		s.Assign(tp0)
		err := s.Put(ctx, []Event{ev("a", "1", 1), {Key: nil, Value: []byte("x"), Topic: "t", Offset: 7}})
		var ie *InvalidEventError
		if !errors.As(err, &ie) || ie.Offset != 7 {
			t.Fatalf("expected *InvalidEventError at offset 7, got %v", err)
		}
		if mo.sess.Commands() != 0 {
			t.Fatalf("expected zero commands, got %d", mo.sess.Commands())
		}
	})
}

func TestPutIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestSink(t, &memOpener{}, nil)
	startSink(t, s)
	s.Assign(tp0)

	batch := []Event{ev("a", "1", 1), ev("b", "2", 2), del("a", 3)}
	for i := 0; i < 2; i++ {
		if err := s.Put(ctx, batch); err != nil {
			t.Fatalf("Put #%d: %v", i, err)
		}
		vals := mget(t, s, "a", "b")
		if vals[0] != nil || string(vals[1]) != "2" {
			t.Fatalf("run %d: a=%q b=%q", i, vals[0], vals[1])
		}
	}
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("put before start", func(t *testing.T) {
		s := newTestSink(t, &memOpener{}, nil)
		s.Assign(tp0)
		if err := s.Put(ctx, []Event{ev("a", "1", 1)}); !errors.Is(err, ErrNotStarted) {
			t.Fatalf("expected ErrNotStarted, got %v", err)
		}
	})

	t.Run("start twice", func(t *testing.T) {
		s := newTestSink(t, &memOpener{}, nil)
		startSink(t, s)
		if err := s.Start(ctx); !errors.Is(err, ErrAlreadyStarted) {
			t.Fatalf("expected ErrAlreadyStarted, got %v", err)
		}
	})

	t.Run("stop without start", func(t *testing.T) {
		s := newTestSink(t, &memOpener{}, nil)
		if err := s.Stop(ctx); err != nil {
			t.Fatalf("Stop: %v", err)
		}
		if s.Session() != nil || s.Ready() {
			t.Fatalf("no session expected")
		}
	})

	t.Run("stop twice then put", func(t *testing.T) {
		s := newTestSink(t, &memOpener{}, nil)
		startSink(t, s)
		if !s.Ready() {
			t.Fatalf("expected ready after Start")
		}
		if err := s.Stop(ctx); err != nil {
			t.Fatalf("Stop: %v", err)
		}
		if err := s.Stop(ctx); err != nil {
			t.Fatalf("second Stop: %v", err)
		}
		s.Assign(tp0)
		if err := s.Put(ctx, []Event{ev("a", "1", 1)}); !errors.Is(err, ErrNotStarted) {
			t.Fatalf("expected ErrNotStarted after Stop, got %v", err)
		}
	})

	t.Run("open failure", func(t *testing.T) {
		boom := &session.ConnectionError{Mode: session.ModeMemory, Endpoint: "x", Err: errors.New("refused")}
		s := newTestSink(t, &memOpener{err: boom}, nil)
		var ce *session.ConnectionError
		if err := s.Start(ctx); !errors.As(err, &ce) {
			t.Fatalf("expected *session.ConnectionError, got %v", err)
		}
		if s.Ready() {
			t.Fatalf("must not be ready after failed Start")
		}
	})

	t.Run("stop waits for in-flight put", func(t *testing.T) {
		release := make(chan struct{})
		entered := make(chan struct{}, 1)
		mo := &memOpener{cfg: memory.Config{Intercept: func(_ context.Context, cmd string, _ [][]byte) error {
			if cmd == memory.CmdMSet {
				entered <- struct{}{}
				<-release
			}
			return nil
		}}}
		s := newTestSink(t, mo, nil)
		startSink(t, s)
		s.Assign(tp0)

		putErr := make(chan error, 1)
		go func() { putErr <- s.Put(ctx, []Event{ev("a", "1", 1)}) }()
		<-entered

		stopped := make(chan struct{})
		go func() {
			_ = s.Stop(ctx)
			close(stopped)
		}()
		select {
		case <-stopped:
			t.Fatalf("Stop returned while Put was in flight")
		case <-time.After(30 * time.Millisecond):
		}
		close(release)
		if err := <-putErr; err != nil {
			t.Fatalf("Put: %v", err)
		}
		<-stopped
	})
}

func TestNewValidates(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"standalone without address", Options{Topology: session.Topology{Mode: session.ModeStandalone}}},
		{"default mode without address", Options{}},
		{"sentinel without master", Options{Topology: session.Topology{Mode: session.ModeSentinel, Addrs: []string{"s:26379"}}}},
		{"negative flush timeout", Options{Topology: session.Topology{Mode: session.ModeMemory}, FlushTimeout: -time.Second}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.opts); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestPutFlushErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("timeout", func(t *testing.T) {
		hang := make(chan struct{})
		defer close(hang)
		mo := &memOpener{cfg: memory.Config{Intercept: func(_ context.Context, cmd string, _ [][]byte) error {
			if cmd == memory.CmdDel {
				<-hang
			}
			return nil
		}}}
		rec := &recHooks{}
		s := newTestSink(t, mo, func(o *Options) {
			o.FlushTimeout = 40 * time.Millisecond
			o.Hooks = rec
		})
		startSink(t, s)
		s.Assign(tp0)

		err := s.Put(ctx, []Event{ev("a", "1", 1), del("b", 2)})
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("expected ErrTimeout, got %v", err)
		}
		if rec.count("timeout") != 1 {
			t.Fatalf("FlushTimedOut not reported")
		}
	})

	t.Run("partial", func(t *testing.T) {
		mo := &memOpener{cfg: memory.Config{Intercept: func(_ context.Context, cmd string, _ [][]byte) error {
			if cmd == memory.CmdDel {
				return errors.New("READONLY")
			}
			return nil
		}}}
		rec := &recHooks{}
		s := newTestSink(t, mo, func(o *Options) { o.Hooks = rec })
		startSink(t, s)
		s.Assign(tp0)

		err := s.Put(ctx, []Event{ev("a", "1", 1), del("b", 2)})
		var pf *PartialFailure
		if !errors.As(err, &pf) {
			t.Fatalf("expected *PartialFailure, got %v", err)
		}
		if rec.count("failed") != 1 || rec.count("completed") != 0 {
			t.Fatalf("hooks: %v", rec.events())
		}
		if vals := mget(t, s, "a"); string(vals[0]) != "1" {
			t.Fatalf("upsert side should have landed, got %q", vals[0])
		}
	})

	t.Run("encode", func(t *testing.T) {
		mo := &memOpener{}
		s := newTestSink(t, mo, func(o *Options) { o.Codec = codec.JSON{} })
		startSink(t, s)
		s.Assign(tp0)

		err := s.Put(ctx, []Event{ev("a", "{not json", 9)})
		var ee *EncodeError
		if !errors.As(err, &ee) || ee.Offset != 9 {
			t.Fatalf("expected *EncodeError at offset 9, got %v", err)
		}
		if mo.sess.Commands() != 0 {
			t.Fatalf("expected zero commands, got %d", mo.sess.Commands())
		}
	})
}

func TestPutKeyPrefixAndCodec(t *testing.T) {
	ctx := context.Background()
	s := newTestSink(t, &memOpener{}, func(o *Options) {
		o.KeyPrefix = "app:"
		o.Codec = codec.JSON{}
	})
	startSink(t, s)
	s.Assign(tp0)

	if err := s.Put(ctx, []Event{ev("u1", `{ "name" : "Ada" }`, 1)}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	vals := mget(t, s, "u1", "app:u1")
	if vals[0] != nil {
		t.Fatalf("unprefixed key must not be written")
	}
	if string(vals[1]) != `{"name":"Ada"}` {
		t.Fatalf("stored %q", vals[1])
	}
}

func TestTrackOffsets(t *testing.T) {
	ctx := context.Background()
	mo := &memOpener{}
	s := newTestSink(t, mo, func(o *Options) { o.TrackOffsets = true })
	startSink(t, s)
	tp1 := TopicPartition{Topic: "t", Partition: 1}
	s.Assign(tp0, tp1)

	batch := []Event{
		ev("a", "1", 10),
		{Key: []byte("b"), Value: []byte("2"), Topic: "t", Partition: 1, Offset: 4},
		del("a", 12),
		ev("c", "3", 11),
	}
	if err := s.Put(ctx, batch); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.StoredOffsets(ctx, []TopicPartition{tp0, tp1, {Topic: "other", Partition: 0}})
	if err != nil {
		t.Fatalf("StoredOffsets: %v", err)
	}
	if len(got) != 2 || got[tp0] != 12 || got[tp1] != 4 {
		t.Fatalf("offsets=%v", got)
	}

	raw := mget(t, s, "__kafka.offset.t.0")[0]
	var st struct {
		Topic     string `json:"topic"`
		Partition int32  `json:"partition"`
		Offset    int64  `json:"offset"`
	}
	if err := json.Unmarshal(raw, &st); err != nil || st.Topic != "t" || st.Offset != 12 {
		t.Fatalf("stored offset record %q err=%v", raw, err)
	}
}

func TestStoredOffsetWaitsForAcknowledgedData(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		timeout time.Duration
		fail    func(hang <-chan struct{}) error
		wantErr func(error) bool
	}{
		{
			name:    "partial failure",
			timeout: time.Second,
			fail:    func(<-chan struct{}) error { return errors.New("READONLY") },
			wantErr: func(err error) bool { var pf *PartialFailure; return errors.As(err, &pf) },
		},
		{
			name:    "timeout",
			timeout: 40 * time.Millisecond,
			fail:    func(hang <-chan struct{}) error { <-hang; return nil },
			wantErr: func(err error) bool { return errors.Is(err, ErrTimeout) },
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			hang := make(chan struct{})
			defer close(hang)
			var failing atomic.Bool
			mo := &memOpener{cfg: memory.Config{Intercept: func(_ context.Context, cmd string, _ [][]byte) error {
				if cmd == memory.CmdDel && failing.Load() {
					return tc.fail(hang)
				}
				return nil
			}}}
			s := newTestSink(t, mo, func(o *Options) {
				o.TrackOffsets = true
				o.FlushTimeout = tc.timeout
			})
			startSink(t, s)
			s.Assign(tp0)

			if err := s.Put(ctx, []Event{ev("gone", "v", 1)}); err != nil {
				t.Fatalf("Put: %v", err)
			}
			failing.Store(true)
			err := s.Put(ctx, []Event{del("gone", 2), ev("x", "1", 3)})
			if !tc.wantErr(err) {
				t.Fatalf("unexpected error %v", err)
			}

			got, err := s.StoredOffsets(ctx, []TopicPartition{tp0})
			if err != nil {
				t.Fatalf("StoredOffsets: %v", err)
			}
			if got[tp0] != 1 {
				t.Fatalf("stored offset %d moved past an unapplied delete", got[tp0])
			}
			if n := exists(t, s, "gone"); n != 1 {
				t.Fatalf("tombstoned key should still be present, exists=%d", n)
			}
		})
	}

	t.Run("retry advances", func(t *testing.T) {
		var failing atomic.Bool
		failing.Store(true)
		mo := &memOpener{cfg: memory.Config{Intercept: func(_ context.Context, cmd string, _ [][]byte) error {
			if cmd == memory.CmdDel && failing.Load() {
				return errors.New("READONLY")
			}
			return nil
		}}}
		s := newTestSink(t, mo, func(o *Options) { o.TrackOffsets = true })
		startSink(t, s)
		s.Assign(tp0)

		batch := []Event{ev("gone", "v", 1), ev("x", "1", 2), del("gone", 3)}
		if err := s.Put(ctx, batch); err == nil {
			t.Fatalf("expected the delete to fail")
		}
		failing.Store(false)
		if err := s.Put(ctx, batch); err != nil {
			t.Fatalf("retry: %v", err)
		}
		got, err := s.StoredOffsets(ctx, []TopicPartition{tp0})
		if err != nil || got[tp0] != 3 {
			t.Fatalf("offsets=%v err=%v", got, err)
		}
		if n := exists(t, s, "gone"); n != 0 {
			t.Fatalf("tombstoned key still present")
		}
	})
}

func TestSuppressUnchanged(t *testing.T) {
	ctx := context.Background()
	store, err := suppress.New(suppress.Config{MaxKeys: 1024})
	if err != nil {
		t.Fatalf("suppress.New: %v", err)
	}
	defer store.Close()

	mo := &memOpener{}
	rec := &recHooks{}
	s := newTestSink(t, mo, func(o *Options) {
		o.Suppress = store
		o.Hooks = rec
	})
	startSink(t, s)
	s.Assign(tp0)

	if err := s.Put(ctx, []Event{ev("a", "1", 1), ev("b", "2", 2)}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	store.Wait()
	before := mo.sess.Commands()

	if err := s.Put(ctx, []Event{ev("a", "1", 3), ev("b", "2", 4)}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if mo.sess.Commands() != before {
		t.Fatalf("unchanged batch reached the backend")
	}
	if rec.count("suppressed") != 1 {
		t.Fatalf("WritesSuppressed not reported: %v", rec.events())
	}

	if err := s.Put(ctx, []Event{ev("a", "1", 5), ev("b", "3", 6)}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if vals := mget(t, s, "b"); string(vals[0]) != "3" {
		t.Fatalf("changed value must be written, got %q", vals[0])
	}
}

func TestAssignment(t *testing.T) {
	s := newTestSink(t, &memOpener{}, nil)
	s.Assign(TopicPartition{"b", 1}, TopicPartition{"a", 2}, TopicPartition{"a", 0})
	s.Revoke(TopicPartition{"b", 1})
	got := s.Assignment()
	if len(got) != 2 || got[0].String() != "a/0" || got[1].String() != "a/2" {
		t.Fatalf("assignment=%v", got)
	}
}

func TestDefaultOpenerByMode(t *testing.T) {
	s, err := New(Options{Topology: session.Topology{Mode: session.ModeMemory}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())
	if s.Session().Mode() != session.ModeMemory {
		t.Fatalf("mode=%s", s.Session().Mode())
	}
	if mustImpl(t, s).flushTimeout != defaultFlushTimeout {
		t.Fatalf("flush timeout default not applied")
	}
}

type recHooks struct {
	NopHooks
	mu  sync.Mutex
	evs []string
}

func (r *recHooks) add(e string) {
	r.mu.Lock()
	r.evs = append(r.evs, e)
	r.mu.Unlock()
}

func (r *recHooks) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.evs...)
}

func (r *recHooks) count(e string) int {
	n := 0
	for _, x := range r.events() {
		if x == e {
			n++
		}
	}
	return n
}

func (r *recHooks) WritesSuppressed(int)                   { r.add("suppressed") }
func (r *recHooks) FlushCompleted(int, int, time.Duration) { r.add("completed") }
func (r *recHooks) FlushFailed(string, [][]byte, error)    { r.add("failed") }
func (r *recHooks) FlushTimedOut([]string, time.Duration)  { r.add("timeout") }
