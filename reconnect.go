package streamlink

import "time"

// DefaultReconnectDelay is the wait between failed connect attempts.
const DefaultReconnectDelay = 30 * time.Second

// retryPolicy waits the same delay after every failed connect attempt and
// counts the failures since the last established session. It never gives
// up; only the owner's context ends the retry loop.
type retryPolicy struct {
	delay    time.Duration
	failures int
}

func newRetryPolicy(delay time.Duration) *retryPolicy {
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	return &retryPolicy{delay: delay}
}

// next records a failed attempt and returns the wait before the next one
// together with the number of consecutive failures so far.
func (r *retryPolicy) next() (time.Duration, int) {
	r.failures++
	return r.delay, r.failures
}

// reset is called once a session is established.
func (r *retryPolicy) reset() {
	r.failures = 0
}
