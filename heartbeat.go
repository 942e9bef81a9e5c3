package streamlink

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HeartbeatPolicy sets the liveness cadence of one connection.
type HeartbeatPolicy struct {
	// Interval between beats. An unacknowledged beat is declared dead
	// once a full interval has passed.
	Interval time.Duration

	// Jitter in [0,1) scales the wait before the first beat, so that many
	// clients started together do not beat in lockstep.
	Jitter float64
}

// InitialDelay is the wait before the first beat: Interval × Jitter.
func (p HeartbeatPolicy) InitialDelay() time.Duration {
	j := p.Jitter
	if j < 0 || j >= 1 {
		j = 0
	}
	return time.Duration(float64(p.Interval) * j)
}

// liveness is the per-connection beat/ack state. The receive path
// confirms, the supervisor sends and checks.
type liveness struct {
	mu            sync.Mutex
	lastSent      time.Time
	lastConfirmed time.Time
	awaiting      bool
}

func (l *liveness) sent(now time.Time) {
	l.mu.Lock()
	l.lastSent = now
	l.awaiting = true
	l.mu.Unlock()
}

// confirm records an acknowledgment. When a beat was outstanding it
// returns the round trip since that beat.
func (l *liveness) confirm(now time.Time) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastConfirmed = now
	if !l.awaiting {
		return 0, false
	}
	l.awaiting = false
	return now.Sub(l.lastSent), true
}

func (l *liveness) awaitingAck() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.awaiting
}

// since returns how long ago the last beat went out, whoever sent it,
// and whether it is still unacknowledged.
func (l *liveness) since(now time.Time) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return now.Sub(l.lastSent), l.awaiting
}

// maxPoll bounds how often the supervisor looks at the beat clock.
const maxPoll = 100 * time.Millisecond

func pollInterval(interval time.Duration) time.Duration {
	p := min(maxPoll, interval/10)
	return max(p, time.Millisecond)
}

// supervisor runs the heartbeat loop of one connection.
type supervisor struct {
	policy HeartbeatPolicy
	live   *liveness
	beat   func() error // nil when the server beats and the client only listens
	onDead func()
	log    *zap.Logger
}

// run beats until ctx is cancelled or a beat goes unacknowledged for a
// whole interval, in which case onDead is called once and run returns.
// Beats sent outside the loop (a server-requested beat) restart the
// interval because the clock is read from liveness on every poll.
func (s *supervisor) run(ctx context.Context) {
	if s.policy.Interval <= 0 {
		s.log.Warn("heartbeat disabled, no interval")
		return
	}

	delay := s.policy.InitialDelay()
	s.log.Debug("heartbeat starting",
		zap.Duration("interval", s.policy.Interval),
		zap.Duration("first_beat_in", delay))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	s.sendBeat()

	ticker := time.NewTicker(pollInterval(s.policy.Interval))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return
		}

		elapsed, awaiting := s.live.since(time.Now())
		if elapsed < s.policy.Interval {
			continue
		}
		if awaiting {
			s.log.Warn("heartbeat not acknowledged, connection presumed dead",
				zap.Duration("since_beat", elapsed))
			s.onDead()
			return
		}
		s.sendBeat()
	}
}

func (s *supervisor) sendBeat() {
	s.live.sent(time.Now())
	if s.beat == nil {
		return
	}
	if err := s.beat(); err != nil {
		s.log.Warn("heartbeat send failed", zap.Error(err))
	}
}
