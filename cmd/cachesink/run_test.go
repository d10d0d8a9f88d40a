package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/cachesink"
	"github.com/unkn0wn-root/cachesink/codec"
	"github.com/unkn0wn-root/cachesink/internal/config"
)

type countingHooks struct {
	cachesink.NopHooks
	n int
}

func (c *countingHooks) BatchPlanned(int, int, int) { c.n++ }

func TestMultiHooksFansOut(t *testing.T) {
	a, b := &countingHooks{}, &countingHooks{}
	multiHooks{a, b}.BatchPlanned(1, 1, 0)
	assert.Equal(t, 1, a.n)
	assert.Equal(t, 1, b.n)
}

func TestNewLogger(t *testing.T) {
	for _, driver := range []string{"zap", "logrus", "slog"} {
		t.Run(driver, func(t *testing.T) {
			var buf bytes.Buffer
			l, err := newLogger(config.LogConfig{Driver: driver, Level: "info"}, &buf)
			require.NoError(t, err)
			require.NotNil(t, l)
		})
	}
	_, err := newLogger(config.LogConfig{Driver: "slog", Level: "noisy"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestNewHooks(t *testing.T) {
	h, closeFn, err := newHooks(config.HooksConfig{}, prometheus.NewRegistry())
	require.NoError(t, err)
	assert.IsType(t, cachesink.NopHooks{}, h)
	closeFn()

	h, closeFn, err = newHooks(config.HooksConfig{Metrics: true, Log: true, AsyncQueue: 8}, prometheus.NewRegistry())
	require.NoError(t, err)
	h.BatchPlanned(1, 1, 0)
	closeFn()
}

func TestSinkOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Redis.Mode = "memory"
	cfg.Sink.Codec = "json"
	cfg.Sink.MaxValueBytes = 64
	cfg.Sink.Suppress.Enabled = true

	opts, closeFn, err := sinkOptions(&cfg, nil, nil)
	require.NoError(t, err)
	defer closeFn()

	assert.Equal(t, codec.Limit{Inner: codec.JSON{}, Max: 64}, opts.Codec)
	assert.NotNil(t, opts.Suppress)

	s, err := cachesink.New(opts)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	assert.NoError(t, s.Stop(context.Background()))
}

func TestCheckMemory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("redis:\n  mode: memory\n"), 0o600))

	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, check(ctx, path, &out))
	assert.True(t, strings.HasPrefix(out.String(), "memory session"), out.String())
}
