package worker

import (
	"time"

	"github.com/snarg/callscribe/internal/broker"
	"github.com/snarg/callscribe/internal/callerr"
)

// outcome is what the Worker Runtime decided to do with a delivered
// message after a job attempt.
type outcome int

const (
	// outcomeAck removes the message from the queue: the job succeeded,
	// or it failed in a way no retry will fix.
	outcomeAck outcome = iota
	// outcomeNack redelivers the message after a backoff delay.
	outcomeNack
)

// decide classifies a job's error (nil means success) into an outcome
// and, for a nack, the delay before redelivery. deliveryAttempt is the
// message's 1-indexed delivery count as reported by the broker.
func decide(err error, deliveryAttempt int) (outcome, time.Duration) {
	if err == nil {
		return outcomeAck, 0
	}
	if callerr.ShouldAck(err) {
		return outcomeAck, 0
	}
	if deliveryAttempt >= broker.MaxDeliveryAttempts {
		// Retries exhausted: give up rather than nack forever.
		return outcomeAck, 0
	}
	return outcomeNack, broker.Backoff(deliveryAttempt)
}
