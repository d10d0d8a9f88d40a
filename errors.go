package cachesink

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotStarted     = errors.New("cachesink: sink not started")
	ErrAlreadyStarted = errors.New("cachesink: sink already started")
	// ErrTimeout matches every *TimeoutError via errors.Is.
	ErrTimeout = errors.New("cachesink: flush deadline exceeded")
)

// BackendError is a command the backend rejected or failed.
type BackendError struct {
	Op   Op
	Keys [][]byte // keys the failure affected
	Err  error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("cachesink: %s of %d keys failed: %v", e.Op, len(e.Keys), e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// PartialFailure reports a flush where one operation was acknowledged and
// the other failed. Re-applying the whole batch is harmless but not needed
// for the Succeeded side.
type PartialFailure struct {
	Succeeded []Op
	Failed    []*BackendError
}

func (e *PartialFailure) Error() string {
	var b strings.Builder
	b.WriteString("cachesink: partial failure: ")
	b.WriteString(joinOps(e.Succeeded))
	b.WriteString(" ok")
	for _, f := range e.Failed {
		fmt.Fprintf(&b, "; %s failed (%d keys): %v", f.Op, len(f.Keys), f.Err)
	}
	return b.String()
}

func (e *PartialFailure) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		errs = append(errs, f)
	}
	return errs
}

// FailedKeys returns the keys of every failed operation.
func (e *PartialFailure) FailedKeys() [][]byte {
	var out [][]byte
	for _, f := range e.Failed {
		out = append(out, f.Keys...)
	}
	return out
}

// TimeoutError reports operations that were not acknowledged before the
// flush deadline. They were not cancelled and may still land.
type TimeoutError struct {
	Deadline  time.Duration
	Pending   []Op
	Succeeded []Op
	Failed    []*BackendError
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("cachesink: flush deadline %s exceeded; pending: %s", e.Deadline, joinOps(e.Pending))
	for _, f := range e.Failed {
		msg += fmt.Sprintf("; %s failed: %v", f.Op, f.Err)
	}
	return msg
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

func (e *TimeoutError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		errs = append(errs, f)
	}
	return errs
}

// InterruptedError reports a flush whose wait ended with the caller's
// context. Pending operations were not cancelled and may still land.
type InterruptedError struct {
	Pending   []Op
	Succeeded []Op
	Failed    []*BackendError
	Err       error // the context error
}

func (e *InterruptedError) Error() string {
	msg := fmt.Sprintf("cachesink: flush interrupted: %v; pending: %s", e.Err, joinOps(e.Pending))
	for _, f := range e.Failed {
		msg += fmt.Sprintf("; %s failed: %v", f.Op, f.Err)
	}
	return msg
}

func (e *InterruptedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed)+1)
	errs = append(errs, e.Err)
	for _, f := range e.Failed {
		errs = append(errs, f)
	}
	return errs
}

// InvalidEventError rejects a batch before any I/O.
type InvalidEventError struct {
	Topic     string
	Partition int32
	Offset    int64
	Reason    string
}

func (e *InvalidEventError) Error() string {
	return fmt.Sprintf("cachesink: invalid event %s/%d@%d: %s", e.Topic, e.Partition, e.Offset, e.Reason)
}

// EncodeError is a value the configured codec could not encode.
type EncodeError struct {
	Topic     string
	Partition int32
	Offset    int64
	Err       error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("cachesink: encode value of %s/%d@%d: %v", e.Topic, e.Partition, e.Offset, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

func joinOps(ops []Op) string {
	if len(ops) == 0 {
		return "none"
	}
	s := make([]string, len(ops))
	for i, op := range ops {
		s[i] = string(op)
	}
	return strings.Join(s, ",")
}
