// Package suppress remembers the last acknowledged value per storage key so
// a sink can skip upserts that would rewrite identical bytes.
//
// It is best-effort by construction: a forgotten or evicted fingerprint only
// means the write goes out again. Keys written to the cache by anyone else are
// not observed, so enable it only when the sink owns its keyspace.
package suppress

import (
	"errors"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/cespare/xxhash/v2"
)

// Store tracks fingerprints of acknowledged writes.
// Must be safe for concurrent use.
type Store interface {
	// Unchanged reports whether value equals the last remembered write of key.
	Unchanged(key, value []byte) bool
	// Remember records acknowledged writes.
	Remember(keys, values [][]byte)
	// Forget drops keys whose backend state is unknown or deleted.
	Forget(keys [][]byte)
	// Reset drops everything.
	Reset()
	Close()
}

// Ristretto is a Store on dgraph-io/ristretto. Each entry costs 1, so
// MaxKeys bounds how many fingerprints are kept.
type Ristretto struct {
	c   *rc.Cache
	ttl time.Duration
}

var _ Store = (*Ristretto)(nil)

type Config struct {
	MaxKeys     int64         // 0 => 1<<20
	TTL         time.Duration // 0 => no expiry
	BufferItems int64         // 0 => 64
	Metrics     bool
}

func New(cfg Config) (*Ristretto, error) {
	if cfg.MaxKeys < 0 || cfg.BufferItems < 0 {
		return nil, errors.New("suppress: invalid config")
	}
	if cfg.MaxKeys == 0 {
		cfg.MaxKeys = 1 << 20
	}
	if cfg.BufferItems == 0 {
		cfg.BufferItems = 64
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.MaxKeys * 10,
		MaxCost:     cfg.MaxKeys,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
		// cost counts entries, not bytes
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &Ristretto{c: c, ttl: cfg.TTL}, nil
}

func (r *Ristretto) Unchanged(key, value []byte) bool {
	v, ok := r.c.Get(key)
	if !ok {
		return false
	}
	sum, _ := v.(uint64)
	return sum == xxhash.Sum64(value)
}

// Remember admission is asynchronous; call Wait when a test needs it settled.
func (r *Ristretto) Remember(keys, values [][]byte) {
	for i, k := range keys {
		r.c.SetWithTTL(k, xxhash.Sum64(values[i]), 1, r.ttl)
	}
}

func (r *Ristretto) Forget(keys [][]byte) {
	for _, k := range keys {
		r.c.Del(k)
	}
}

func (r *Ristretto) Reset() { r.c.Clear() }

// Wait blocks until buffered writes are applied.
func (r *Ristretto) Wait() { r.c.Wait() }

func (r *Ristretto) Close() {
	r.c.Wait()
	r.c.Close()
}

// Metrics exposes ristretto counters (nil unless Config.Metrics).
func (r *Ristretto) Metrics() *rc.Metrics { return r.c.Metrics }
