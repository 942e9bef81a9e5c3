package streamlink

import "sync"

// SessionContext is the continuity state that survives a reconnect.
type SessionContext struct {
	SessionID      string
	Sequence       int64
	HasSequence    bool
	ResumeEndpoint string
}

// CanResume reports whether the context is complete enough to resume:
// both the session id and the resume endpoint must be known.
func (s SessionContext) CanResume() bool {
	return s.SessionID != "" && s.ResumeEndpoint != ""
}

// SessionTracker guards a SessionContext shared by the receive path and
// the heartbeat supervisor. It stores what it is told; it does not check
// that sequence numbers only grow.
type SessionTracker struct {
	mu  sync.Mutex
	ctx SessionContext
}

func NewSessionTracker() *SessionTracker {
	return &SessionTracker{}
}

func (t *SessionTracker) CanResume() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ctx.CanResume()
}

// SetSequence records the latest sequence number seen.
func (t *SessionTracker) SetSequence(seq int64) {
	t.mu.Lock()
	t.ctx.Sequence = seq
	t.ctx.HasSequence = true
	t.mu.Unlock()
}

// Sequence returns the latest sequence number and whether one was seen.
func (t *SessionTracker) Sequence() (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ctx.Sequence, t.ctx.HasSequence
}

// Establish stores the identifiers of a newly created session.
func (t *SessionTracker) Establish(sessionID, resumeEndpoint string) {
	t.mu.Lock()
	t.ctx.SessionID = sessionID
	t.ctx.ResumeEndpoint = resumeEndpoint
	t.mu.Unlock()
}

// Clear forgets the session entirely; the next handshake identifies fresh.
func (t *SessionTracker) Clear() {
	t.mu.Lock()
	t.ctx = SessionContext{}
	t.mu.Unlock()
}

func (t *SessionTracker) Snapshot() SessionContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ctx
}
