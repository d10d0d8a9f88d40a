package redis

import (
	"context"
	"errors"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/cachesink/session"
)

// Cluster talks to a redis cluster. Multi-key commands cannot span hash
// slots, so each command is split into one sub-command per slot and the
// sub-commands travel in a single pipeline the client routes per node.
type Cluster struct {
	rdb *goredis.ClusterClient

	closeOnce sync.Once
	closeErr  error
}

var _ session.Session = (*Cluster)(nil)

func OpenCluster(ctx context.Context, topo session.Topology) (*Cluster, error) {
	pctx, cancel := handshakeContext(ctx, topo)
	defer cancel()

	// seeds first: a dead seed is a config error even if the rest of the
	// cluster is reachable.
	for _, addr := range topo.Addrs {
		opts := standaloneOptions(topo)
		opts.Addr = addr
		opts.DB = 0
		c := goredis.NewClient(opts)
		err := c.Ping(pctx).Err()
		_ = c.Close()
		if err != nil {
			return nil, &session.ConnectionError{Mode: session.ModeCluster, Endpoint: addr, Err: err}
		}
	}

	rdb := goredis.NewClusterClient(clusterOptions(topo))
	err := rdb.ForEachShard(pctx, func(ctx context.Context, shard *goredis.Client) error {
		if err := shard.Ping(ctx).Err(); err != nil {
			return &session.ConnectionError{Mode: session.ModeCluster, Endpoint: shard.Options().Addr, Err: err}
		}
		return nil
	})
	if err != nil {
		_ = rdb.Close()
		var ce *session.ConnectionError
		if errors.As(err, &ce) {
			return nil, ce
		}
		return nil, &session.ConnectionError{Mode: session.ModeCluster, Err: err}
	}
	return &Cluster{rdb: rdb}, nil
}

func (c *Cluster) Mode() session.Mode { return session.ModeCluster }

func (c *Cluster) Async() session.AsyncCommands { return c }

// Client exposes the underlying client for diagnostics.
func (c *Cluster) Client() *goredis.ClusterClient { return c.rdb }

func (c *Cluster) Close(context.Context) error {
	c.closeOnce.Do(func() {
		if err := c.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			c.closeErr = err
		}
	})
	return c.closeErr
}

func (c *Cluster) MSet(ctx context.Context, pairs []session.Pair) *session.Future[struct{}] {
	if len(pairs) == 0 {
		return session.Resolved(struct{}{}, nil)
	}
	keys := make([][]byte, len(pairs))
	for i, p := range pairs {
		keys[i] = p.Key
	}
	groups := groupBySlot(keys)
	return session.Go(func() (struct{}, error) {
		cmds := make([]*goredis.StatusCmd, len(groups))
		_, _ = c.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
			for i, g := range groups {
				cmds[i] = p.MSet(ctx, msetArgs(pairs, g.idx)...)
			}
			return nil
		})
		errs := make([]error, len(cmds))
		for i, cmd := range cmds {
			errs[i] = cmd.Err()
		}
		return struct{}{}, groupError(keys, groups, errs)
	})
}

func (c *Cluster) Del(ctx context.Context, keys [][]byte) *session.Future[int64] {
	if len(keys) == 0 {
		return session.Resolved[int64](0, nil)
	}
	groups := groupBySlot(keys)
	return session.Go(func() (int64, error) {
		return c.countPerSlot(ctx, keys, groups, func(p goredis.Pipeliner, ks []string) *goredis.IntCmd {
			return p.Del(ctx, ks...)
		})
	})
}

func (c *Cluster) Exists(ctx context.Context, keys [][]byte) *session.Future[int64] {
	if len(keys) == 0 {
		return session.Resolved[int64](0, nil)
	}
	groups := groupBySlot(keys)
	return session.Go(func() (int64, error) {
		return c.countPerSlot(ctx, keys, groups, func(p goredis.Pipeliner, ks []string) *goredis.IntCmd {
			return p.Exists(ctx, ks...)
		})
	})
}

func (c *Cluster) MGet(ctx context.Context, keys [][]byte) *session.Future[[][]byte] {
	if len(keys) == 0 {
		return session.Resolved[[][]byte](nil, nil)
	}
	groups := groupBySlot(keys)
	return session.Go(func() ([][]byte, error) {
		cmds := make([]*goredis.SliceCmd, len(groups))
		_, _ = c.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
			for i, g := range groups {
				cmds[i] = p.MGet(ctx, toStrings(keys, g.idx)...)
			}
			return nil
		})
		out := make([][]byte, len(keys))
		errs := make([]error, len(cmds))
		for i, cmd := range cmds {
			vals, err := cmd.Result()
			if err == nil {
				var got [][]byte
				if got, err = fromReplies(vals); err == nil {
					for j, idx := range groups[i].idx {
						out[idx] = got[j]
					}
				}
			}
			errs[i] = err
		}
		if err := groupError(keys, groups, errs); err != nil {
			return nil, err
		}
		return out, nil
	})
}

// countPerSlot pipelines one integer command per slot group and sums the
// replies of the groups that succeeded.
func (c *Cluster) countPerSlot(ctx context.Context, keys [][]byte, groups []slotGroup,
	issue func(goredis.Pipeliner, []string) *goredis.IntCmd) (int64, error) {
	cmds := make([]*goredis.IntCmd, len(groups))
	_, _ = c.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for i, g := range groups {
			cmds[i] = issue(p, toStrings(keys, g.idx))
		}
		return nil
	})
	var total int64
	errs := make([]error, len(cmds))
	for i, cmd := range cmds {
		n, err := cmd.Result()
		if err == nil {
			total += n
		}
		errs[i] = err
	}
	return total, groupError(keys, groups, errs)
}

// groupError collects the keys of failed groups. nil when every group succeeded.
func groupError(keys [][]byte, groups []slotGroup, errs []error) error {
	var (
		failed [][]byte
		first  error
	)
	for i, err := range errs {
		if err == nil {
			continue
		}
		if first == nil {
			first = err
		}
		for _, idx := range groups[i].idx {
			failed = append(failed, keys[idx])
		}
	}
	if first == nil {
		return nil
	}
	return &session.KeysError{Keys: failed, Err: first}
}
