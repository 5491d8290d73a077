package scheduler

import (
	"time"
)

// Decision describes what to do with a lineage after attempt n failed
type Decision struct {
	// Retry is false when the policy is exhausted and the lineage must be
	// abandoned
	Retry bool
	// Delay before the next attempt, exponential with the webhook's base
	// interval: retryInterval * 2^(n-1), capped at maxBackoff
	Delay time.Duration
}

// Decide applies the retry policy to a failed attempt. attemptNumber is the
// 1-based number of the attempt that just failed; a webhook allowing m
// retries therefore produces at most m+1 attempts
func Decide(attemptNumber, maxRetryAttempts int, retryInterval, maxBackoff time.Duration) Decision {
	if attemptNumber > maxRetryAttempts {
		return Decision{Retry: false}
	}

	delay := retryInterval
	for i := 1; i < attemptNumber; i++ {
		delay *= 2
		if delay >= maxBackoff {
			break
		}
	}
	if maxBackoff > 0 && delay > maxBackoff {
		delay = maxBackoff
	}

	return Decision{Retry: true, Delay: delay}
}
