// Package consumer feeds kafka records into a cachesink.Sink.
//
// It joins a consumer group with franz-go, blocks rebalances while a batch is
// in flight and commits offsets only after the sink acknowledged the batch.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/unkn0wn-root/cachesink"
)

// client is the subset of *kgo.Client the loop drives.
type client interface {
	PollRecords(ctx context.Context, maxPollRecords int) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
	AllowRebalance()
	Close()
}

type Config struct {
	Brokers        []string
	Topics         []string
	Group          string
	ClientID       string
	StartAtEnd     bool // when the group has no committed offset
	MaxPollRecords int

	Attempts   int // re-applies of a failed batch before Run gives up
	Backoff    time.Duration
	MaxBackoff time.Duration

	// SeekStored resumes each assigned partition after the offset the sink
	// stored with the data.
	SeekStored bool
}

type Consumer struct {
	cl   client
	sink cachesink.Sink
	log  cachesink.Logger
	cfg  Config
}

// New builds the kafka client. The sink must be started before Run.
func New(cfg Config, sink cachesink.Sink, log cachesink.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 || len(cfg.Topics) == 0 || cfg.Group == "" {
		return nil, errors.New("consumer: brokers, topics and group are required")
	}
	c := newConsumer(cfg, sink, log)

	reset := kgo.NewOffset().AtStart()
	if cfg.StartAtEnd {
		reset = kgo.NewOffset().AtEnd()
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.ConsumeResetOffset(reset),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, m map[string][]int32) {
			c.assigned(m)
		}),
		kgo.OnPartitionsRevoked(func(_ context.Context, _ *kgo.Client, m map[string][]int32) {
			c.revoked(m)
		}),
		kgo.OnPartitionsLost(func(_ context.Context, _ *kgo.Client, m map[string][]int32) {
			c.revoked(m)
		}),
	}
	if cfg.SeekStored {
		// runs after the committed offsets are fetched and before fetching starts
		opts = append(opts, kgo.AdjustFetchOffsetsFn(c.adjust))
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("consumer: create kafka client: %w", err)
	}
	c.cl = cl
	return c, nil
}

func newConsumer(cfg Config, sink cachesink.Sink, log cachesink.Logger) *Consumer {
	if log == nil {
		log = cachesink.NopLogger{}
	}
	if cfg.MaxPollRecords <= 0 {
		cfg.MaxPollRecords = 500
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = cfg.Backoff
	}
	return &Consumer{sink: sink, log: log, cfg: cfg}
}

// Run polls until ctx ends or a batch keeps failing. It returns nil on a
// clean shutdown.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.cl.PollRecords(ctx, c.cfg.MaxPollRecords)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			c.cl.AllowRebalance()
			return nil
		}
		for _, fe := range fetches.Errors() {
			c.log.Warn("fetch error", cachesink.Fields{"topic": fe.Topic, "partition": fe.Partition, "err": fe.Err})
		}

		recs := fetches.Records()
		if len(recs) > 0 {
			if err := c.apply(ctx, recs); err != nil {
				c.cl.AllowRebalance()
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if err := c.cl.CommitRecords(ctx, recs...); err != nil {
				// the data is in the cache; a replay only rewrites it
				c.log.Warn("offset commit failed", cachesink.Fields{"records": len(recs), "err": err})
			}
		}
		c.cl.AllowRebalance()
	}
}

// Close leaves the group and closes the client.
func (c *Consumer) Close() { c.cl.Close() }

func (c *Consumer) apply(ctx context.Context, recs []*kgo.Record) error {
	batch := make([]cachesink.Event, len(recs))
	for i, r := range recs {
		batch[i] = cachesink.Event{
			Key:       r.Key,
			Value:     r.Value,
			Topic:     r.Topic,
			Partition: r.Partition,
			Offset:    r.Offset,
		}
	}

	backoff := c.cfg.Backoff
	for attempt := 0; ; attempt++ {
		err := c.sink.Put(ctx, batch)
		if err == nil {
			return nil
		}
		if !Retryable(err) || attempt >= c.cfg.Attempts {
			c.log.Error("batch failed, halting", cachesink.Fields{"records": len(batch), "attempts": attempt + 1, "err": err})
			return err
		}
		c.log.Warn("batch failed, retrying", cachesink.Fields{"records": len(batch), "attempt": attempt + 1, "backoff": backoff, "err": err})

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		if backoff *= 2; backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}

// Retryable reports whether re-applying the same batch may succeed.
// Rejected events and encoding failures never will.
func Retryable(err error) bool {
	var (
		be *cachesink.BackendError
		pf *cachesink.PartialFailure
		ie *cachesink.InterruptedError
	)
	return errors.Is(err, cachesink.ErrTimeout) || errors.As(err, &be) || errors.As(err, &pf) || errors.As(err, &ie)
}

func (c *Consumer) assigned(m map[string][]int32) {
	tps := toTopicPartitions(m)
	c.sink.Assign(tps...)
	c.log.Info("partitions assigned", cachesink.Fields{"partitions": len(tps)})
}

// adjust replaces the group's committed offsets with the position after the
// offset the sink stored with the data. Partitions without a stored offset
// keep the committed one, and so does everything if the read fails.
func (c *Consumer) adjust(ctx context.Context, offsets map[string]map[int32]kgo.Offset) (map[string]map[int32]kgo.Offset, error) {
	tps := make([]cachesink.TopicPartition, 0, len(offsets))
	for topic, parts := range offsets {
		for p := range parts {
			tps = append(tps, cachesink.TopicPartition{Topic: topic, Partition: p})
		}
	}
	if len(tps) == 0 {
		return offsets, nil
	}

	stored, err := c.sink.StoredOffsets(ctx, tps)
	if err != nil {
		c.log.Warn("reading stored offsets failed; using committed offsets", cachesink.Fields{"err": err})
		return offsets, nil
	}
	for tp, off := range stored {
		offsets[tp.Topic][tp.Partition] = kgo.NewOffset().At(off + 1).WithEpoch(-1)
	}
	if len(stored) > 0 {
		c.log.Info("resuming from stored offsets", cachesink.Fields{"partitions": len(stored)})
	}
	return offsets, nil
}

func (c *Consumer) revoked(m map[string][]int32) {
	tps := toTopicPartitions(m)
	c.sink.Revoke(tps...)
	c.log.Info("partitions revoked", cachesink.Fields{"partitions": len(tps)})
}

func toTopicPartitions(m map[string][]int32) []cachesink.TopicPartition {
	var out []cachesink.TopicPartition
	for topic, parts := range m {
		for _, p := range parts {
			out = append(out, cachesink.TopicPartition{Topic: topic, Partition: p})
		}
	}
	return out
}
