package cachesink

import "time"

const (
	defaultFlushTimeout = 10 * time.Second
	offsetKeyPrefix     = "__kafka.offset."
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
