package streamlink

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// failure is why a link stopped being usable.
type failure struct {
	reason string    // metrics label: transport, liveness, reconnect, invalid_session, closed
	resume bool      // whether the next connection should try to resume
	kind   ErrorKind // reported with err
	err    error     // nil for orderly reconnect requests
}

// link is one physical connection attempt: a Transport plus everything
// that must not outlive it.
type link struct {
	id       string
	endpoint string
	resume   bool // opened to resume a session
	log      *zap.Logger

	transport Transport
	decoder   FrameDecoder // used only on the transport's read goroutine
	live      liveness
	opened    bool // set by the receive path once the server opened the session

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	closing     bool
	hbStarted   bool
	hbWG        sync.WaitGroup
	failOnce    sync.Once
	failed      chan struct{}
	failureInfo failure
}

// fail marks the link dead. Only the first call wins; it reports whether
// this call was it.
func (l *link) fail(f failure) bool {
	first := false
	l.failOnce.Do(func() {
		l.failureInfo = f
		first = true
		close(l.failed)
	})
	return first
}

func (l *link) isFailed() bool {
	select {
	case <-l.failed:
		return true
	default:
		return false
	}
}

// startSupervisor runs s for this link. A link gets at most one
// supervisor, and none once teardown has begun.
func (l *link) startSupervisor(s *supervisor) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closing || l.hbStarted {
		return false
	}
	l.hbStarted = true
	l.hbWG.Add(1)
	go func() {
		defer l.hbWG.Done()
		s.run(l.ctx)
	}()
	return true
}

// close stops the supervisor, waits for it, then releases the transport.
func (l *link) close() {
	l.mu.Lock()
	l.closing = true
	l.mu.Unlock()

	l.cancel()
	l.hbWG.Wait()
	if err := l.transport.Disconnect(); err != nil {
		l.log.Debug("transport disconnect", zap.Error(err))
	}
}
