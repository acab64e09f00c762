package worker

import "sync/atomic"

// failureThreshold and retryThreshold are the exact self-termination
// constants: a process that has never once succeeded but has failed or
// retried this much is presumed broken (bad credentials, a poisoned
// model, an unreachable collaborator) rather than unlucky, and should
// stop pulling jobs so the broker redelivers its in-flight work to a
// healthy peer.
const (
	failureThreshold = 5
	retryThreshold   = 10
)

// Health tracks the per-process running totals the Worker Runtime uses
// to decide whether it has gone bad and should request its own
// termination.
type Health struct {
	success atomic.Int64
	failure atomic.Int64
	retry   atomic.Int64
}

// RecordSuccess counts a job that completed and was fully persisted.
func (h *Health) RecordSuccess() { h.success.Add(1) }

// RecordFailure counts a job that ended terminally in failure (acked,
// not retried — invalid input or a rejected transcript).
func (h *Health) RecordFailure() { h.failure.Add(1) }

// RecordRetry counts a job that was nacked for redelivery.
func (h *Health) RecordRetry() { h.retry.Add(1) }

// ShouldTerminate reports whether this process has crossed the
// self-termination thresholds: no successes ever, and more than 5
// failures or more than 10 retries.
func (h *Health) ShouldTerminate() bool {
	if h.success.Load() != 0 {
		return false
	}
	return h.failure.Load() > failureThreshold || h.retry.Load() > retryThreshold
}

// Snapshot returns the current counter values, for logging and metrics.
func (h *Health) Snapshot() (success, failure, retry int64) {
	return h.success.Load(), h.failure.Load(), h.retry.Load()
}
