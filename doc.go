// Package cachesink projects an ordered stream of keyed upsert/delete events
// into a redis-compatible cache. The cache converges to the latest value per
// key using at most two multi-key commands per batch.
//
// Components:
//   - Plan: folds a batch into a WritePlan. Last occurrence of a key wins;
//     a nil value is a tombstone.
//   - Apply: issues the plan as one MSET and one DEL, submitted together, and
//     waits for both up to a deadline. No retries.
//   - session.Session: one live backend handle (standalone, cluster, sentinel
//     or embedded memory) behind a uniform async command surface.
//   - Sink: owns the session lifetime and is the only surface the stream
//     consumer talks to.
//
// Flow:
//
//	sink.Assign(tps...)          // partitions handed out by the consumer group
//	err := sink.Put(ctx, batch)  // plan -> apply -> ack or error
//	// on error: redeliver the same batch (idempotent) or halt
//
// Errors reach the caller unchanged: *TimeoutError (errors.Is ErrTimeout),
// *BackendError, *PartialFailure and *session.ConnectionError.
package cachesink
