// Package promhooks exports cachesink hook events as prometheus metrics.
package promhooks

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/cachesink"
)

const namespace = "cachesink"

type Hooks struct {
	sessions    *prometheus.GaugeVec
	closeErrors prometheus.Counter
	events      prometheus.Counter
	writes      *prometheus.CounterVec
	suppressed  prometheus.Counter
	flushes     *prometheus.CounterVec
	failedKeys  *prometheus.CounterVec
	latency     prometheus.Histogram
}

var _ cachesink.Hooks = (*Hooks)(nil)

// New registers the collectors on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) (*Hooks, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	h := &Hooks{
		sessions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "session_open",
				Help:      "1 while a backend session is open, per topology mode.",
			},
			[]string{"mode"},
		),
		closeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_close_errors_total",
			Help:      "Session closes that returned an error.",
		}),
		events: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events received in planned batches.",
		}),
		writes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "planned_keys_total",
				Help:      "Distinct keys planned per batch by operation.",
			},
			[]string{"op"},
		),
		suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suppressed_writes_total",
			Help:      "Upserts skipped because the cache already held the value.",
		}),
		flushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flushes_total",
				Help:      "Flushes by result.",
			},
			[]string{"result"},
		),
		failedKeys: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failed_keys_total",
				Help:      "Keys of failed operations by operation.",
			},
			[]string{"op"},
		),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Time from submitting a flush to its last acknowledgement.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}),
	}
	for _, c := range []prometheus.Collector{
		h.sessions, h.closeErrors, h.events, h.writes,
		h.suppressed, h.flushes, h.failedKeys, h.latency,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *Hooks) SessionOpened(mode string) { h.sessions.WithLabelValues(mode).Set(1) }

func (h *Hooks) SessionClosed(mode string, err error) {
	h.sessions.WithLabelValues(mode).Set(0)
	if err != nil {
		h.closeErrors.Inc()
	}
}

func (h *Hooks) BatchPlanned(events, upserts, deletes int) {
	h.events.Add(float64(events))
	h.writes.WithLabelValues(string(cachesink.OpUpsert)).Add(float64(upserts))
	h.writes.WithLabelValues(string(cachesink.OpDelete)).Add(float64(deletes))
}

func (h *Hooks) WritesSuppressed(count int) { h.suppressed.Add(float64(count)) }

func (h *Hooks) FlushCompleted(_, _ int, elapsed time.Duration) {
	h.flushes.WithLabelValues("ok").Inc()
	h.latency.Observe(elapsed.Seconds())
}

// FlushFailed fires once per failed operation; a flush with two failures
// counts twice under "error".
func (h *Hooks) FlushFailed(op string, keys [][]byte, _ error) {
	h.flushes.WithLabelValues("error").Inc()
	h.failedKeys.WithLabelValues(op).Add(float64(len(keys)))
}

func (h *Hooks) FlushTimedOut([]string, time.Duration) {
	h.flushes.WithLabelValues("timeout").Inc()
}
