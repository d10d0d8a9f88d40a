package cachesink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/unkn0wn-root/cachesink/codec"
	"github.com/unkn0wn-root/cachesink/internal/util"
	"github.com/unkn0wn-root/cachesink/session"
	"github.com/unkn0wn-root/cachesink/session/memory"
	rs "github.com/unkn0wn-root/cachesink/session/redis"
	"github.com/unkn0wn-root/cachesink/suppress"
)

type sink struct {
	topo         session.Topology
	open         session.Opener
	flushTimeout time.Duration
	prefix       string
	codec        codec.Codec
	suppress     suppress.Store
	trackOffsets bool
	log          Logger
	hooks        Hooks

	// mu serializes lifecycle transitions and flushes.
	mu   sync.Mutex
	sess session.Session

	assignMu sync.RWMutex
	assigned map[TopicPartition]struct{}
}

func newSink(opts Options) (*sink, error) {
	opts.Topology.Mode = coalesce(opts.Topology.Mode, session.ModeStandalone)
	if err := opts.Topology.Validate(); err != nil {
		return nil, fmt.Errorf("cachesink: %w", err)
	}
	if opts.FlushTimeout < 0 {
		return nil, fmt.Errorf("cachesink: negative flush timeout %s", opts.FlushTimeout)
	}

	s := &sink{
		topo:         opts.Topology,
		open:         opts.Opener,
		codec:        opts.Codec,
		prefix:       opts.KeyPrefix,
		suppress:     opts.Suppress,
		trackOffsets: opts.TrackOffsets,
		log:          opts.Logger,
		hooks:        opts.Hooks,
		assigned:     make(map[TopicPartition]struct{}),
	}

	// defaults
	s.flushTimeout = coalesce(opts.FlushTimeout, defaultFlushTimeout)
	if s.log == nil {
		s.log = NopLogger{}
	}
	if s.hooks == nil {
		s.hooks = NopHooks{}
	}
	if s.codec == nil {
		s.codec = codec.Raw{}
	}
	if s.open == nil {
		s.open = openByMode
	}
	return s, nil
}

// openByMode picks exactly one session variant for the topology.
func openByMode(ctx context.Context, topo session.Topology) (session.Session, error) {
	if topo.Mode == session.ModeMemory {
		return memory.Open(ctx, topo)
	}
	return rs.Open(ctx, topo)
}

func (s *sink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess != nil {
		return ErrAlreadyStarted
	}
	sess, err := s.open(ctx, s.topo)
	if err != nil {
		s.log.Error("session open failed", Fields{"mode": s.topo.Mode, "addrs": s.topo.Addrs, "err": err})
		return err
	}
	s.sess = sess
	s.hooks.SessionOpened(string(sess.Mode()))
	s.log.Info("session opened", Fields{"mode": sess.Mode(), "addrs": s.topo.Addrs})
	return nil
}

func (s *sink) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return nil
	}
	mode := string(s.sess.Mode())
	err := s.sess.Close(ctx)
	s.sess = nil
	if s.suppress != nil {
		// a later Start may see a backend that changed meanwhile
		s.suppress.Reset()
	}
	s.hooks.SessionClosed(mode, err)
	if err != nil {
		s.log.Warn("session close failed", Fields{"mode": mode, "err": err})
		return err
	}
	s.log.Info("session closed", Fields{"mode": mode})
	return nil
}

func (s *sink) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess != nil
}

func (s *sink) Session() session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess
}

func (s *sink) Assign(tps ...TopicPartition) {
	s.assignMu.Lock()
	for _, tp := range tps {
		s.assigned[tp] = struct{}{}
	}
	s.assignMu.Unlock()
	s.log.Debug("partitions assigned", Fields{"count": len(tps)})
}

func (s *sink) Revoke(tps ...TopicPartition) {
	s.assignMu.Lock()
	for _, tp := range tps {
		delete(s.assigned, tp)
	}
	s.assignMu.Unlock()
	s.log.Debug("partitions revoked", Fields{"count": len(tps)})
}

func (s *sink) Assignment() []TopicPartition {
	s.assignMu.RLock()
	out := make([]TopicPartition, 0, len(s.assigned))
	for tp := range s.assigned {
		out = append(out, tp)
	}
	s.assignMu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Topic != out[j].Topic {
			return out[i].Topic < out[j].Topic
		}
		return out[i].Partition < out[j].Partition
	})
	return out
}

func (s *sink) hasAssignment() bool {
	s.assignMu.RLock()
	defer s.assignMu.RUnlock()
	return len(s.assigned) > 0
}

func (s *sink) Put(ctx context.Context, batch []Event) error {
	if len(batch) == 0 || !s.hasAssignment() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return ErrNotStarted
	}
	if err := validate(batch); err != nil {
		return err
	}

	plan := Plan(batch)
	s.hooks.BatchPlanned(len(batch), len(plan.Upserts), len(plan.Deletes))

	plan, err := s.prepare(plan)
	if err != nil {
		return err
	}
	plan.Upserts = s.dropUnchanged(plan.Upserts)
	var offsets []Entry
	if s.trackOffsets {
		if offsets, err = s.offsetEntries(batch); err != nil {
			return err
		}
	}

	if !plan.Empty() {
		start := time.Now()
		err = Apply(ctx, plan, s.sess.Async(), s.flushTimeout)
		s.observe(plan, err, time.Since(start))
		if err != nil {
			return err
		}
	}
	return s.storeOffsets(ctx, offsets)
}

// storeOffsets writes the offset records of a batch whose data was fully
// acknowledged. A record must never get ahead of the data it covers.
func (s *sink) storeOffsets(ctx context.Context, offsets []Entry) error {
	if len(offsets) == 0 {
		return nil
	}
	err := Apply(ctx, WritePlan{Upserts: offsets}, s.sess.Async(), s.flushTimeout)
	if err != nil {
		for _, f := range failures(err) {
			s.hooks.FlushFailed(string(f.Op), f.Keys, f.Err)
		}
		s.log.Warn("storing offsets failed", Fields{"partitions": len(offsets), "err": err})
	}
	return err
}

func validate(batch []Event) error {
	for _, ev := range batch {
		if ev.Key == nil {
			return &InvalidEventError{Topic: ev.Topic, Partition: ev.Partition, Offset: ev.Offset, Reason: "key is nil"}
		}
	}
	return nil
}

// prepare maps keys into the storage keyspace and encodes upsert values.
func (s *sink) prepare(p WritePlan) (WritePlan, error) {
	out := WritePlan{
		Upserts: make([]Entry, len(p.Upserts)),
		Deletes: make([]Entry, len(p.Deletes)),
	}
	for i, e := range p.Upserts {
		v, err := s.codec.Encode(e.Value)
		if err != nil {
			return WritePlan{}, &EncodeError{Topic: e.Topic, Partition: e.Partition, Offset: e.Offset, Err: err}
		}
		e.Key = s.storageKey(e.Key)
		e.Value = v
		out.Upserts[i] = e
	}
	for i, e := range p.Deletes {
		e.Key = s.storageKey(e.Key)
		out.Deletes[i] = e
	}
	return out, nil
}

func (s *sink) storageKey(k []byte) []byte {
	if s.prefix == "" {
		return k
	}
	return util.StorageKey(s.prefix, k)
}

func (s *sink) dropUnchanged(ups []Entry) []Entry {
	if s.suppress == nil || len(ups) == 0 {
		return ups
	}
	kept := ups[:0]
	for _, e := range ups {
		if !s.suppress.Unchanged(e.Key, e.Value) {
			kept = append(kept, e)
		}
	}
	if n := len(ups) - len(kept); n > 0 {
		s.hooks.WritesSuppressed(n)
		s.log.Debug("unchanged upserts suppressed", Fields{"count": n})
	}
	return kept
}

type offsetState struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Offset    int64  `json:"offset"`
}

// offsetEntries builds one upsert per partition holding its highest offset.
func (s *sink) offsetEntries(batch []Event) ([]Entry, error) {
	high := make(map[TopicPartition]int64)
	var order []TopicPartition
	for _, ev := range batch {
		tp := TopicPartition{Topic: ev.Topic, Partition: ev.Partition}
		cur, ok := high[tp]
		if !ok {
			order = append(order, tp)
		}
		if !ok || ev.Offset > cur {
			high[tp] = ev.Offset
		}
	}
	out := make([]Entry, 0, len(order))
	for _, tp := range order {
		b, err := json.Marshal(offsetState{Topic: tp.Topic, Partition: tp.Partition, Offset: high[tp]})
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{
			Key:       s.offsetKey(tp),
			Value:     b,
			Topic:     tp.Topic,
			Partition: tp.Partition,
			Offset:    high[tp],
		})
	}
	return out, nil
}

func (s *sink) offsetKey(tp TopicPartition) []byte {
	return util.OffsetKey(s.prefix+offsetKeyPrefix, tp.Topic, tp.Partition)
}

func (s *sink) StoredOffsets(ctx context.Context, tps []TopicPartition) (map[TopicPartition]int64, error) {
	out := make(map[TopicPartition]int64, len(tps))
	if len(tps) == 0 {
		return out, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return nil, ErrNotStarted
	}

	keys := make([][]byte, len(tps))
	for i, tp := range tps {
		keys[i] = s.offsetKey(tp)
	}
	rctx, cancel := context.WithTimeout(ctx, s.flushTimeout)
	defer cancel()
	vals, err := s.sess.Async().MGet(rctx, keys).Get(rctx)
	if err != nil {
		return nil, fmt.Errorf("cachesink: read stored offsets: %w", err)
	}
	for i, v := range vals {
		if v == nil {
			continue
		}
		var st offsetState
		if err := json.Unmarshal(v, &st); err != nil {
			s.log.Warn("ignoring unreadable stored offset", Fields{"partition": tps[i].String(), "err": err})
			continue
		}
		out[tps[i]] = st.Offset
	}
	return out, nil
}

// observe reports a finished flush and keeps the suppression state honest:
// only acknowledged writes are remembered.
func (s *sink) observe(p WritePlan, err error, elapsed time.Duration) {
	if err == nil {
		s.remember(p)
		s.hooks.FlushCompleted(len(p.Upserts), len(p.Deletes), elapsed)
		s.log.Debug("flush completed", Fields{"upserts": len(p.Upserts), "deletes": len(p.Deletes), "elapsed": elapsed})
		return
	}
	s.forget(p)

	for _, f := range failures(err) {
		s.hooks.FlushFailed(string(f.Op), f.Keys, f.Err)
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		s.hooks.FlushTimedOut(opNames(te.Pending), te.Deadline)
		s.log.Warn("flush timed out", Fields{"pending": opNames(te.Pending), "deadline": te.Deadline, "err": err})
		return
	}
	var ie *InterruptedError
	if errors.As(err, &ie) {
		s.log.Warn("flush interrupted", Fields{"pending": opNames(ie.Pending), "err": err})
		return
	}
	s.log.Error("flush failed", Fields{"upserts": len(p.Upserts), "deletes": len(p.Deletes), "err": err})
}

// failures flattens the backend errors carried by a flush error.
func failures(err error) []*BackendError {
	if be, ok := err.(*BackendError); ok {
		return []*BackendError{be}
	}
	var out []*BackendError
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range j.Unwrap() {
			out = append(out, failures(e)...)
		}
	}
	return out
}

func (s *sink) remember(p WritePlan) {
	if s.suppress == nil {
		return
	}
	keys := make([][]byte, len(p.Upserts))
	vals := make([][]byte, len(p.Upserts))
	for i, e := range p.Upserts {
		keys[i], vals[i] = e.Key, e.Value
	}
	s.suppress.Remember(keys, vals)
	s.suppress.Forget(entryKeys(p.Deletes))
}

func (s *sink) forget(p WritePlan) {
	if s.suppress == nil {
		return
	}
	s.suppress.Forget(entryKeys(p.Upserts))
	s.suppress.Forget(entryKeys(p.Deletes))
}

func entryKeys(es []Entry) [][]byte {
	out := make([][]byte, len(es))
	for i, e := range es {
		out[i] = e.Key
	}
	return out
}

func opNames(ops []Op) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = string(op)
	}
	return out
}
