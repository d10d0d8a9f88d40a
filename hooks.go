package cachesink

import "time"

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; they run on the Put path.
type Hooks interface {
	// A session was opened or closed. err is the Close error, if any.
	SessionOpened(mode string)
	SessionClosed(mode string, err error)

	// A batch of events folded into upserts+deletes distinct keys.
	BatchPlanned(events, upserts, deletes int)

	// Upserts dropped because the cache already holds the same bytes.
	WritesSuppressed(count int)

	// Every issued operation was acknowledged.
	FlushCompleted(upserts, deletes int, elapsed time.Duration)

	// One operation failed. op ∈ {"upsert", "delete"}; keys are storage
	// keys and must not be retained.
	FlushFailed(op string, keys [][]byte, err error)

	// The deadline passed with ops still outstanding.
	FlushTimedOut(pending []string, deadline time.Duration)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SessionOpened(string)                   {}
func (NopHooks) SessionClosed(string, error)            {}
func (NopHooks) BatchPlanned(int, int, int)             {}
func (NopHooks) WritesSuppressed(int)                   {}
func (NopHooks) FlushCompleted(int, int, time.Duration) {}
func (NopHooks) FlushFailed(string, [][]byte, error)    {}
func (NopHooks) FlushTimedOut([]string, time.Duration)  {}
