// Package memory is an embedded session backed by allegro/bigcache.
// It serves local runs and tests; data lives only as long as the process.
package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/unkn0wn-root/cachesink/session"
)

// Command names passed to Intercept.
const (
	CmdMSet   = "MSET"
	CmdDel    = "DEL"
	CmdExists = "EXISTS"
	CmdMGet   = "MGET"
)

const neverExpire = 100 * 365 * 24 * time.Hour

type Config struct {
	LifeWindow         time.Duration // 0 => entries never expire
	Shards             int           // power of two; 0 => bigcache default
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited

	// Intercept runs before every command on the command goroutine. A non-nil
	// error fails the command without touching the store. It may block to
	// simulate a slow backend.
	Intercept func(ctx context.Context, cmd string, keys [][]byte) error
}

type Session struct {
	c         *bc.BigCache
	intercept func(context.Context, string, [][]byte) error
	commands  atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

var _ session.Session = (*Session)(nil)

// Open satisfies session.Opener for ModeMemory.
func Open(ctx context.Context, topo session.Topology) (session.Session, error) {
	if topo.Mode != session.ModeMemory {
		return nil, errors.New("memory session: topology mode must be memory")
	}
	return New(ctx, Config{})
}

func New(ctx context.Context, cfg Config) (*Session, error) {
	conf := bc.DefaultConfig(cfg.LifeWindow)
	conf.Verbose = false
	if cfg.LifeWindow <= 0 {
		// bigcache evicts on Set once an entry outlives LifeWindow, so
		// "never" has to be a very long window rather than zero.
		conf.LifeWindow = neverExpire
		conf.CleanWindow = 0
	}
	if cfg.Shards > 0 {
		conf.Shards = cfg.Shards
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.New(ctx, conf)
	if err != nil {
		return nil, &session.ConnectionError{Mode: session.ModeMemory, Err: err}
	}
	return &Session{c: c, intercept: cfg.Intercept}, nil
}

func (s *Session) Mode() session.Mode { return session.ModeMemory }

func (s *Session) Async() session.AsyncCommands { return s }

// Commands reports how many commands reached the session.
func (s *Session) Commands() int64 { return s.commands.Load() }

func (s *Session) Close(context.Context) error {
	s.closeOnce.Do(func() { s.closeErr = s.c.Close() })
	return s.closeErr
}

func (s *Session) MSet(ctx context.Context, pairs []session.Pair) *session.Future[struct{}] {
	keys := make([][]byte, len(pairs))
	for i, p := range pairs {
		keys[i] = p.Key
	}
	return run(s, ctx, CmdMSet, keys, func() (struct{}, error) {
		for _, p := range pairs {
			if err := s.c.Set(string(p.Key), p.Value); err != nil {
				return struct{}{}, &session.KeysError{Keys: [][]byte{p.Key}, Err: err}
			}
		}
		return struct{}{}, nil
	})
}

func (s *Session) Del(ctx context.Context, keys [][]byte) *session.Future[int64] {
	return run(s, ctx, CmdDel, keys, func() (int64, error) {
		var n int64
		for _, k := range keys {
			err := s.c.Delete(string(k))
			switch {
			case err == nil:
				n++
			case errors.Is(err, bc.ErrEntryNotFound):
			default:
				return n, err
			}
		}
		return n, nil
	})
}

func (s *Session) Exists(ctx context.Context, keys [][]byte) *session.Future[int64] {
	return run(s, ctx, CmdExists, keys, func() (int64, error) {
		var n int64
		for _, k := range keys {
			_, err := s.c.Get(string(k))
			switch {
			case err == nil:
				n++
			case errors.Is(err, bc.ErrEntryNotFound):
			default:
				return 0, err
			}
		}
		return n, nil
	})
}

func (s *Session) MGet(ctx context.Context, keys [][]byte) *session.Future[[][]byte] {
	return run(s, ctx, CmdMGet, keys, func() ([][]byte, error) {
		out := make([][]byte, len(keys))
		for i, k := range keys {
			b, err := s.c.Get(string(k))
			switch {
			case err == nil:
				out[i] = b
			case errors.Is(err, bc.ErrEntryNotFound):
			default:
				return nil, err
			}
		}
		return out, nil
	})
}

func run[T any](s *Session, ctx context.Context, cmd string, keys [][]byte, fn func() (T, error)) *session.Future[T] {
	s.commands.Add(1)
	return session.Go(func() (T, error) {
		if s.intercept != nil {
			if err := s.intercept(ctx, cmd, keys); err != nil {
				var zero T
				return zero, err
			}
		}
		return fn()
	})
}
