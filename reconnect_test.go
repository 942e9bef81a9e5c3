package streamlink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_FixedDelay(t *testing.T) {
	r := newRetryPolicy(DefaultReconnectDelay)

	for i := 1; i <= 5; i++ {
		delay, failures := r.next()
		assert.Equal(t, DefaultReconnectDelay, delay, "attempt %d", i)
		assert.Equal(t, i, failures)
	}
}

func TestRetryPolicy_Reset(t *testing.T) {
	r := newRetryPolicy(time.Second)
	r.next()
	r.next()

	r.reset()

	delay, failures := r.next()
	assert.Equal(t, time.Second, delay)
	assert.Equal(t, 1, failures)
}

func TestRetryPolicy_NonPositiveDelay(t *testing.T) {
	delay, _ := newRetryPolicy(0).next()
	assert.Equal(t, DefaultReconnectDelay, delay)
}
