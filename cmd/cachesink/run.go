package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/cachesink"
	"github.com/unkn0wn-root/cachesink/codec"
	asynchook "github.com/unkn0wn-root/cachesink/hooks/async"
	promhooks "github.com/unkn0wn-root/cachesink/hooks/prometheus"
	"github.com/unkn0wn-root/cachesink/internal/config"
	"github.com/unkn0wn-root/cachesink/internal/consumer"
	"github.com/unkn0wn-root/cachesink/internal/server"
	logruslog "github.com/unkn0wn-root/cachesink/log/logrus"
	slogadapter "github.com/unkn0wn-root/cachesink/log/slog"
	zaplog "github.com/unkn0wn-root/cachesink/log/zap"
	"github.com/unkn0wn-root/cachesink/sloghooks"
	"github.com/unkn0wn-root/cachesink/suppress"
)

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if len(cfg.Kafka.Topics) == 0 {
		return fmt.Errorf("kafka.topics is required for run")
	}
	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hooks, closeHooks, err := newHooks(cfg.Hooks, reg)
	if err != nil {
		return err
	}
	defer closeHooks()

	opts, closeOpts, err := sinkOptions(cfg, logger, hooks)
	if err != nil {
		return err
	}
	defer closeOpts()

	sink, err := cachesink.New(opts)
	if err != nil {
		return err
	}
	if err := sink.Start(ctx); err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sink.Stop(sctx)
	}()

	cons, err := consumer.New(consumer.Config{
		Brokers:        cfg.Kafka.Brokers,
		Topics:         cfg.Kafka.Topics,
		Group:          cfg.Kafka.Group,
		ClientID:       cfg.Kafka.ClientID,
		StartAtEnd:     cfg.Kafka.StartOffset == "latest",
		MaxPollRecords: cfg.Kafka.MaxPollRecords,
		Attempts:       cfg.Kafka.Retry.Attempts,
		Backoff:        cfg.Kafka.Retry.Backoff,
		MaxBackoff:     cfg.Kafka.Retry.MaxBackoff,
		SeekStored:     cfg.Sink.TrackOffsets,
	}, sink, logger)
	if err != nil {
		return err
	}
	defer cons.Close()

	g, gctx := errgroup.WithContext(ctx)
	gctx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		// a finished consumer takes the HTTP server down with it
		defer cancel()
		return cons.Run(gctx)
	})
	if cfg.HTTP.Addr != "" {
		g.Go(func() error {
			return server.Serve(gctx, cfg.HTTP.Addr, server.Handler(reg, sink.Ready))
		})
	}

	logger.Info("cachesink running", cachesink.Fields{
		"mode":   cfg.Redis.Mode,
		"topics": cfg.Kafka.Topics,
		"group":  cfg.Kafka.Group,
		"http":   cfg.HTTP.Addr,
	})
	err = g.Wait()
	logger.Info("cachesink stopped", cachesink.Fields{"err": err})
	return err
}

func check(ctx context.Context, configPath string, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	topo, err := cfg.Topology()
	if err != nil {
		return err
	}
	sink, err := cachesink.New(cachesink.Options{Topology: topo})
	if err != nil {
		return err
	}
	start := time.Now()
	if err := sink.Start(ctx); err != nil {
		return err
	}
	mode := sink.Session().Mode()
	if err := sink.Stop(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s session to %v ok (%s)\n", mode, topo.Addrs, time.Since(start).Round(time.Millisecond))
	return nil
}

func newLogger(c config.LogConfig, w io.Writer) (cachesink.Logger, error) {
	switch c.Driver {
	case "logrus":
		return logruslog.New(w, c.Level, c.JSON)
	case "slog":
		return slogadapter.New(w, c.Level, c.JSON)
	default:
		// zap writes to stderr through its own sinks
		return zaplog.New(c.Level, c.JSON)
	}
}

// newHooks fans sink events out to the enabled hook implementations.
func newHooks(c config.HooksConfig, reg prometheus.Registerer) (cachesink.Hooks, func(), error) {
	var hs multiHooks
	if c.Metrics {
		ph, err := promhooks.New(reg)
		if err != nil {
			return nil, nil, fmt.Errorf("metrics hooks: %w", err)
		}
		hs = append(hs, ph)
	}
	if c.Log {
		hs = append(hs, sloghooks.New(slog.Default(), sloghooks.Options{PlannedEvery: 100, CompletedEvery: 100}))
	}
	if len(hs) == 0 {
		return cachesink.NopHooks{}, func() {}, nil
	}
	if c.AsyncQueue == 0 {
		return hs, func() {}, nil
	}
	ah := asynchook.New(hs, 1, c.AsyncQueue)
	return ah, ah.Close, nil
}

func sinkOptions(cfg *config.Config, logger cachesink.Logger, hooks cachesink.Hooks) (cachesink.Options, func(), error) {
	topo, err := cfg.Topology()
	if err != nil {
		return cachesink.Options{}, nil, err
	}
	cd, err := codec.ByName(cfg.Sink.Codec)
	if err != nil {
		return cachesink.Options{}, nil, err
	}
	if cfg.Sink.MaxValueBytes > 0 {
		cd = codec.Limit{Inner: cd, Max: cfg.Sink.MaxValueBytes}
	}
	opts := cachesink.Options{
		Topology:     topo,
		FlushTimeout: cfg.Sink.FlushTimeout,
		KeyPrefix:    cfg.Sink.KeyPrefix,
		Codec:        cd,
		TrackOffsets: cfg.Sink.TrackOffsets,
		Logger:       logger,
		Hooks:        hooks,
	}
	closeFn := func() {}
	if cfg.Sink.Suppress.Enabled {
		st, err := suppress.New(suppress.Config{MaxKeys: cfg.Sink.Suppress.MaxKeys, TTL: cfg.Sink.Suppress.TTL})
		if err != nil {
			return cachesink.Options{}, nil, fmt.Errorf("suppression store: %w", err)
		}
		opts.Suppress = st
		closeFn = st.Close
	}
	return opts, closeFn, nil
}
