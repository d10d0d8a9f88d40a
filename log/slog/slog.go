//go:build go1.21

// Package slog adapts log/slog to cachesink.Logger.
package slog

import (
	"context"
	"io"
	stdslog "log/slog"
	"strings"

	"github.com/unkn0wn-root/cachesink"
)

var _ cachesink.Logger = Logger{}

type Logger struct{ L *stdslog.Logger }

// New returns a text or JSON slog logger on w at level ("" => info).
func New(w io.Writer, level string, json bool) (Logger, error) {
	var lvl stdslog.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
			return Logger{}, err
		}
	}
	opts := &stdslog.HandlerOptions{Level: lvl}
	var h stdslog.Handler = stdslog.NewTextHandler(w, opts)
	if json {
		h = stdslog.NewJSONHandler(w, opts)
	}
	return Logger{L: stdslog.New(h).With("component", "cachesink")}, nil
}

func (s Logger) Debug(msg string, f cachesink.Fields) {
	s.L.LogAttrs(context.Background(), stdslog.LevelDebug, msg, attrs(f)...)
}
func (s Logger) Info(msg string, f cachesink.Fields) {
	s.L.LogAttrs(context.Background(), stdslog.LevelInfo, msg, attrs(f)...)
}
func (s Logger) Warn(msg string, f cachesink.Fields) {
	s.L.LogAttrs(context.Background(), stdslog.LevelWarn, msg, attrs(f)...)
}
func (s Logger) Error(msg string, f cachesink.Fields) {
	s.L.LogAttrs(context.Background(), stdslog.LevelError, msg, attrs(f)...)
}

func attrs(f cachesink.Fields) []stdslog.Attr {
	if len(f) == 0 {
		return nil
	}
	out := make([]stdslog.Attr, 0, len(f))
	for k, v := range f {
		out = append(out, stdslog.Any(k, v))
	}
	return out
}
