package redis

import (
	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/cachesink/session"
)

func standaloneOptions(t session.Topology) *goredis.Options {
	return &goredis.Options{
		Addr:         t.Addrs[0],
		Username:     t.Username,
		Password:     t.Password,
		DB:           t.DB,
		TLSConfig:    t.TLS,
		DialTimeout:  t.DialTimeout,
		ReadTimeout:  t.ReadTimeout,
		WriteTimeout: t.WriteTimeout,
		PoolSize:     t.PoolSize,
	}
}

func clusterOptions(t session.Topology) *goredis.ClusterOptions {
	return &goredis.ClusterOptions{
		Addrs:        append([]string(nil), t.Addrs...),
		Username:     t.Username,
		Password:     t.Password,
		TLSConfig:    t.TLS,
		DialTimeout:  t.DialTimeout,
		ReadTimeout:  t.ReadTimeout,
		WriteTimeout: t.WriteTimeout,
		PoolSize:     t.PoolSize,
	}
}

func failoverOptions(t session.Topology) *goredis.FailoverOptions {
	return &goredis.FailoverOptions{
		MasterName:       t.MasterName,
		SentinelAddrs:    append([]string(nil), t.Addrs...),
		SentinelUsername: t.SentinelUsername,
		SentinelPassword: t.SentinelPassword,
		Username:         t.Username,
		Password:         t.Password,
		DB:               t.DB,
		TLSConfig:        t.TLS,
		DialTimeout:      t.DialTimeout,
		ReadTimeout:      t.ReadTimeout,
		WriteTimeout:     t.WriteTimeout,
		PoolSize:         t.PoolSize,
	}
}

// sentinelNodeOptions addresses one sentinel for the open handshake.
func sentinelNodeOptions(t session.Topology, addr string) *goredis.Options {
	return &goredis.Options{
		Addr:        addr,
		Username:    t.SentinelUsername,
		Password:    t.SentinelPassword,
		TLSConfig:   t.TLS,
		DialTimeout: t.DialTimeout,
	}
}
