package streamlink

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHeartbeatPolicy_InitialDelay(t *testing.T) {
	tests := []struct {
		jitter float64
		want   time.Duration
	}{
		{0, 0},
		{0.5, 20 * time.Second},
		{0.25, 10 * time.Second},
		{1, 0},
		{-0.1, 0},
	}
	for _, tt := range tests {
		p := HeartbeatPolicy{Interval: 40 * time.Second, Jitter: tt.jitter}
		assert.Equal(t, tt.want, p.InitialDelay(), "jitter %v", tt.jitter)
	}
}

func TestLiveness_Confirm(t *testing.T) {
	var l liveness
	now := time.Now()

	_, ok := l.confirm(now)
	assert.False(t, ok, "no beat outstanding")

	l.sent(now)
	assert.True(t, l.awaitingAck())

	rtt, ok := l.confirm(now.Add(80 * time.Millisecond))
	assert.True(t, ok)
	assert.Equal(t, 80*time.Millisecond, rtt)
	assert.False(t, l.awaitingAck())
}

func TestSupervisor_AckedBeatsStayAlive(t *testing.T) {
	var l liveness
	var beats atomic.Int32
	dead := make(chan struct{})
	s := &supervisor{
		policy: HeartbeatPolicy{Interval: 20 * time.Millisecond},
		live:   &l,
		log:    zap.NewNop(),
		beat: func() error {
			beats.Add(1)
			// server acknowledges immediately
			go l.confirm(time.Now())
			return nil
		},
		onDead: func() { close(dead) },
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.run(ctx)
		close(done)
	}()

	time.Sleep(150 * time.Millisecond)
	cancel()
	<-done

	select {
	case <-dead:
		t.Fatal("acknowledged connection declared dead")
	default:
	}
	assert.GreaterOrEqual(t, beats.Load(), int32(3))
}

func TestSupervisor_MissingAckIsDead(t *testing.T) {
	var l liveness
	var beats atomic.Int32
	dead := make(chan struct{})
	s := &supervisor{
		policy: HeartbeatPolicy{Interval: 20 * time.Millisecond},
		live:   &l,
		log:    zap.NewNop(),
		beat:   func() error { beats.Add(1); return nil },
		onDead: func() { close(dead) },
	}

	start := time.Now()
	go s.run(context.Background())

	select {
	case <-dead:
	case <-time.After(waitTimeout):
		t.Fatal("missing acknowledgment not detected")
	}
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, int32(1), beats.Load(), "no further beats after the unacknowledged one")
}

func TestSupervisor_OutsideBeatRestartsInterval(t *testing.T) {
	var l liveness
	var beats atomic.Int32
	dead := make(chan struct{})
	s := &supervisor{
		policy: HeartbeatPolicy{Interval: 200 * time.Millisecond},
		live:   &l,
		log:    zap.NewNop(),
		beat:   func() error { beats.Add(1); return nil },
		onDead: func() { close(dead) },
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	start := time.Now()
	go s.run(ctx)

	require.Eventually(t, func() bool { return beats.Load() == 1 }, waitTimeout, time.Millisecond)
	l.confirm(time.Now())

	// a beat sent by someone else shortly before the next one is due
	time.Sleep(180*time.Millisecond - time.Since(start))
	l.sent(time.Now())
	time.Sleep(60 * time.Millisecond)
	l.confirm(time.Now())

	time.Sleep(60 * time.Millisecond)
	select {
	case <-dead:
		t.Fatal("declared dead although the outstanding beat was acknowledged in time")
	default:
	}
	assert.Equal(t, int32(1), beats.Load(), "own beat postponed by the outside beat")
}

func TestPollInterval(t *testing.T) {
	assert.Equal(t, maxPoll, pollInterval(45*time.Second))
	assert.Equal(t, 2*time.Millisecond, pollInterval(20*time.Millisecond))
	assert.Equal(t, time.Millisecond, pollInterval(time.Millisecond))
}

func TestSupervisor_ListenOnly(t *testing.T) {
	var l liveness
	dead := make(chan struct{})
	s := &supervisor{
		policy: HeartbeatPolicy{Interval: 20 * time.Millisecond},
		live:   &l,
		log:    zap.NewNop(),
		onDead: func() { close(dead) },
	}

	go s.run(context.Background())

	select {
	case <-dead:
	case <-time.After(waitTimeout):
		t.Fatal("silent connection not detected")
	}
}

func TestSupervisor_CancelBeforeFirstBeat(t *testing.T) {
	var l liveness
	s := &supervisor{
		policy: HeartbeatPolicy{Interval: time.Hour, Jitter: 0.5},
		live:   &l,
		log:    zap.NewNop(),
		beat:   func() error { t.Error("beat after cancel"); return nil },
		onDead: func() { t.Error("dead after cancel") },
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("supervisor did not stop")
	}
}

func TestSupervisor_NoInterval(t *testing.T) {
	var l liveness
	s := &supervisor{live: &l, log: zap.NewNop(), onDead: func() { t.Error("dead without interval") }}
	done := make(chan struct{})
	go func() {
		s.run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(waitTimeout):
		require.Fail(t, "supervisor without interval should return")
	}
}
