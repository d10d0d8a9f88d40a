package cachesink

import (
	"context"
	"errors"
	"time"

	"github.com/unkn0wn-root/cachesink/session"
)

// Op names one of the two logical write kinds of a flush.
type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

type inflight struct {
	op   Op
	keys [][]byte
	done <-chan struct{}
	err  func() error
}

// Apply issues plan against cmds and waits for the acknowledgements.
//
// Upserts go out as one MSET and deletes as one DEL. Both are submitted before
// the wait starts. The wait is bounded by deadline (<= 0 waits for ctx only);
// commands still outstanding at the deadline are left running and reported
// in a *TimeoutError, or in an *InterruptedError when ctx ended first.
// Acknowledgements already received count even if ctx is done.
// An empty plan issues nothing.
func Apply(ctx context.Context, plan WritePlan, cmds session.AsyncCommands, deadline time.Duration) error {
	if plan.Empty() {
		return nil
	}

	ops := make([]inflight, 0, 2)
	if len(plan.Upserts) > 0 {
		pairs := make([]session.Pair, len(plan.Upserts))
		keys := make([][]byte, len(plan.Upserts))
		for i, e := range plan.Upserts {
			pairs[i] = session.Pair{Key: e.Key, Value: e.Value}
			keys[i] = e.Key
		}
		f := cmds.MSet(ctx, pairs)
		ops = append(ops, inflight{op: OpUpsert, keys: keys, done: f.Done(), err: f.Err})
	}
	if len(plan.Deletes) > 0 {
		keys := make([][]byte, len(plan.Deletes))
		for i, e := range plan.Deletes {
			keys[i] = e.Key
		}
		f := cmds.Del(ctx, keys)
		ops = append(ops, inflight{op: OpDelete, keys: keys, done: f.Done(), err: f.Err})
	}

	return await(ctx, ops, deadline)
}

func await(ctx context.Context, ops []inflight, deadline time.Duration) error {
	var expired <-chan time.Time
	if deadline > 0 {
		timer := time.NewTimer(deadline)
		defer timer.Stop()
		expired = timer.C
	}

	interrupted := false
wait:
	for _, f := range ops {
		select {
		case <-f.done:
			continue
		default:
		}
		select {
		case <-f.done:
		case <-expired:
			break wait
		case <-ctx.Done():
			interrupted = true
			break wait
		}
	}

	var (
		succeeded []Op
		pending   []Op
		failed    []*BackendError
	)
	for _, f := range ops {
		select {
		case <-f.done:
			if err := f.err(); err != nil {
				failed = append(failed, newBackendError(f.op, f.keys, err))
			} else {
				succeeded = append(succeeded, f.op)
			}
		default:
			pending = append(pending, f.op)
		}
	}

	switch {
	case len(pending) > 0 && interrupted:
		return &InterruptedError{Pending: pending, Succeeded: succeeded, Failed: failed, Err: ctx.Err()}
	case len(pending) > 0:
		return &TimeoutError{Deadline: deadline, Pending: pending, Succeeded: succeeded, Failed: failed}
	case len(failed) == 0:
		return nil
	case len(succeeded) > 0:
		return &PartialFailure{Succeeded: succeeded, Failed: failed}
	case len(failed) == 1:
		return failed[0]
	default:
		return errors.Join(failed[0], failed[1])
	}
}

// newBackendError narrows keys when the session reports which ones failed.
func newBackendError(op Op, keys [][]byte, err error) *BackendError {
	var ke *session.KeysError
	if errors.As(err, &ke) && len(ke.Keys) > 0 {
		keys = ke.Keys
	}
	return &BackendError{Op: op, Keys: keys, Err: err}
}
