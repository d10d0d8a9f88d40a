// Package redis serves session.Session over go-redis v9.
//
// One concrete variant exists per topology mode: Standalone, Cluster and
// Sentinel. Open selects it once from the resolved topology; nothing re-selects
// at runtime.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/cachesink/session"
)

const defaultDialTimeout = 5 * time.Second

// Open connects to the backend described by topo and verifies every
// configured endpoint answers within topo.DialTimeout.
func Open(ctx context.Context, topo session.Topology) (session.Session, error) {
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	switch topo.Mode {
	case session.ModeStandalone:
		return OpenStandalone(ctx, topo)
	case session.ModeCluster:
		return OpenCluster(ctx, topo)
	case session.ModeSentinel:
		return OpenSentinel(ctx, topo)
	default:
		return nil, fmt.Errorf("redis session: mode %q is not served by redis", topo.Mode)
	}
}

// Standalone talks to a single redis node.
type Standalone struct{ node }

var _ session.Session = (*Standalone)(nil)

func OpenStandalone(ctx context.Context, topo session.Topology) (*Standalone, error) {
	rdb := goredis.NewClient(standaloneOptions(topo))
	pctx, cancel := handshakeContext(ctx, topo)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, &session.ConnectionError{Mode: session.ModeStandalone, Endpoint: topo.Addrs[0], Err: err}
	}
	return &Standalone{node{rdb: rdb, mode: session.ModeStandalone}}, nil
}

// Sentinel talks to the master resolved through redis sentinels.
// Failover is left to the client; this type does not orchestrate it.
type Sentinel struct{ node }

var _ session.Session = (*Sentinel)(nil)

func OpenSentinel(ctx context.Context, topo session.Topology) (*Sentinel, error) {
	pctx, cancel := handshakeContext(ctx, topo)
	defer cancel()

	for _, addr := range topo.Addrs {
		sc := goredis.NewSentinelClient(sentinelNodeOptions(topo, addr))
		err := sc.Ping(pctx).Err()
		_ = sc.Close()
		if err != nil {
			return nil, &session.ConnectionError{Mode: session.ModeSentinel, Endpoint: addr, Err: err}
		}
	}

	rdb := goredis.NewFailoverClient(failoverOptions(topo))
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, &session.ConnectionError{Mode: session.ModeSentinel, Endpoint: "master " + topo.MasterName, Err: err}
	}
	return &Sentinel{node{rdb: rdb, mode: session.ModeSentinel}}, nil
}

func handshakeContext(ctx context.Context, topo session.Topology) (context.Context, context.CancelFunc) {
	d := topo.DialTimeout
	if d <= 0 {
		d = defaultDialTimeout
	}
	return context.WithTimeout(ctx, d)
}

// node implements the commands shared by the single-master variants.
// Multi-key commands go out as one MSET / DEL / EXISTS / MGET each.
type node struct {
	rdb  *goredis.Client
	mode session.Mode

	closeOnce sync.Once
	closeErr  error
}

func (n *node) Mode() session.Mode { return n.mode }

func (n *node) Async() session.AsyncCommands { return n }

// Client exposes the underlying client for diagnostics.
func (n *node) Client() *goredis.Client { return n.rdb }

func (n *node) Close(context.Context) error {
	n.closeOnce.Do(func() {
		if err := n.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			n.closeErr = err
		}
	})
	return n.closeErr
}

func (n *node) MSet(ctx context.Context, pairs []session.Pair) *session.Future[struct{}] {
	if len(pairs) == 0 {
		return session.Resolved(struct{}{}, nil)
	}
	args := msetArgs(pairs, nil)
	return session.Go(func() (struct{}, error) {
		return struct{}{}, n.rdb.MSet(ctx, args...).Err()
	})
}

func (n *node) Del(ctx context.Context, keys [][]byte) *session.Future[int64] {
	if len(keys) == 0 {
		return session.Resolved[int64](0, nil)
	}
	ks := toStrings(keys, nil)
	return session.Go(func() (int64, error) {
		return n.rdb.Del(ctx, ks...).Result()
	})
}

func (n *node) Exists(ctx context.Context, keys [][]byte) *session.Future[int64] {
	if len(keys) == 0 {
		return session.Resolved[int64](0, nil)
	}
	ks := toStrings(keys, nil)
	return session.Go(func() (int64, error) {
		return n.rdb.Exists(ctx, ks...).Result()
	})
}

func (n *node) MGet(ctx context.Context, keys [][]byte) *session.Future[[][]byte] {
	if len(keys) == 0 {
		return session.Resolved[[][]byte](nil, nil)
	}
	ks := toStrings(keys, nil)
	return session.Go(func() ([][]byte, error) {
		vals, err := n.rdb.MGet(ctx, ks...).Result()
		if err != nil {
			return nil, err
		}
		return fromReplies(vals)
	})
}

// msetArgs flattens pairs into MSET arguments; idx selects a subset when non-nil.
func msetArgs(pairs []session.Pair, idx []int) []interface{} {
	if idx == nil {
		args := make([]interface{}, 0, 2*len(pairs))
		for _, p := range pairs {
			args = append(args, string(p.Key), p.Value)
		}
		return args
	}
	args := make([]interface{}, 0, 2*len(idx))
	for _, i := range idx {
		args = append(args, string(pairs[i].Key), pairs[i].Value)
	}
	return args
}

// toStrings converts keys for the client; idx selects a subset when non-nil.
func toStrings(keys [][]byte, idx []int) []string {
	if idx == nil {
		out := make([]string, len(keys))
		for i, k := range keys {
			out[i] = string(k)
		}
		return out
	}
	out := make([]string, len(idx))
	for i, j := range idx {
		out[i] = string(keys[j])
	}
	return out
}

// fromReplies maps MGET replies to bytes; nil stays nil (miss).
func fromReplies(vals []interface{}) ([][]byte, error) {
	out := make([][]byte, len(vals))
	for i, v := range vals {
		switch vv := v.(type) {
		case nil:
		case string:
			out[i] = []byte(vv)
		case []byte:
			out[i] = vv
		default:
			return nil, fmt.Errorf("redis session: unexpected MGET reply %T at %d", v, i)
		}
	}
	return out, nil
}
