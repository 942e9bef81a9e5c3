package streamlink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

const waitTimeout = 2 * time.Second

// fakeTransport is an in-memory Transport driven by the test.
type fakeTransport struct {
	endpoint   string
	connectErr error
	onConnect  func(*fakeTransport)

	mu        sync.Mutex
	connected bool
	closed    bool
	sent      [][]byte
	recv      func([]byte)
	disc      func(error)

	sentCh chan []byte
}

func (t *fakeTransport) Connect(ctx context.Context) error {
	if t.connectErr != nil {
		return t.connectErr
	}
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	if t.onConnect != nil {
		t.onConnect(t)
	}
	return nil
}

func (t *fakeTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrSendOnClosed
	}
	if !t.connected {
		return ErrNotConnected
	}
	cp := append([]byte(nil), data...)
	t.sent = append(t.sent, cp)
	select {
	case t.sentCh <- cp:
	default:
	}
	return nil
}

func (t *fakeTransport) Disconnect() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) OnReceive(fn func([]byte)) {
	t.mu.Lock()
	t.recv = fn
	t.mu.Unlock()
}

func (t *fakeTransport) OnDisconnect(fn func(error)) {
	t.mu.Lock()
	t.disc = fn
	t.mu.Unlock()
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// deliver feeds a chunk as the server would. Like the real transport it
// stays silent once disconnected.
func (t *fakeTransport) deliver(data string) {
	t.mu.Lock()
	fn, closed := t.recv, t.closed
	t.mu.Unlock()
	if !closed && fn != nil {
		fn([]byte(data))
	}
}

// deliverLate feeds a chunk even after Disconnect, standing in for a
// read that was already in flight.
func (t *fakeTransport) deliverLate(data string) {
	t.mu.Lock()
	fn := t.recv
	t.mu.Unlock()
	fn([]byte(data))
}

func (t *fakeTransport) drop(err error) {
	t.mu.Lock()
	fn := t.disc
	t.mu.Unlock()
	fn(err)
}

// nextSent waits for the next outbound message.
func (t *fakeTransport) nextSent(tb testing.TB) []byte {
	tb.Helper()
	select {
	case data := <-t.sentCh:
		return data
	case <-time.After(waitTimeout):
		tb.Fatalf("timed out waiting for outbound message on %s", t.endpoint)
		return nil
	}
}

// fakeDialer hands out fakeTransports and lets the test pick up the
// connected ones in order.
type fakeDialer struct {
	mu       sync.Mutex
	failures int // connect attempts still to fail
	dials    []*fakeTransport
	dialed   chan *fakeTransport
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{dialed: make(chan *fakeTransport, 32)}
}

func (d *fakeDialer) dial(endpoint string) Transport {
	t := &fakeTransport{
		endpoint:  endpoint,
		sentCh:    make(chan []byte, 64),
		onConnect: func(t *fakeTransport) { d.dialed <- t },
	}

	d.mu.Lock()
	if d.failures > 0 {
		d.failures--
		t.connectErr = &ConnectionError{URL: endpoint, Reason: "refused"}
	}
	d.dials = append(d.dials, t)
	d.mu.Unlock()
	return t
}

// next waits for the next transport to connect.
func (d *fakeDialer) next(tb testing.TB) *fakeTransport {
	tb.Helper()
	select {
	case t := <-d.dialed:
		return t
	case <-time.After(waitTimeout):
		tb.Fatal("timed out waiting for a connection")
		return nil
	}
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

// errorRecorder collects reported errors.
type errorRecorder struct {
	mu   sync.Mutex
	errs []Error
}

func (r *errorRecorder) handle(e Error) {
	r.mu.Lock()
	r.errs = append(r.errs, e)
	r.mu.Unlock()
}

func (r *errorRecorder) kinds() []ErrorKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ErrorKind, len(r.errs))
	for i, e := range r.errs {
		out[i] = e.Kind
	}
	return out
}

func (r *errorRecorder) has(kind ErrorKind) bool {
	for _, k := range r.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

// eventRecorder is a Subscriber that forwards events to a channel.
type eventRecorder struct {
	ch chan Event
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{ch: make(chan Event, 64)}
}

func (r *eventRecorder) HandleEvent(ev Event) error {
	r.ch <- ev
	return nil
}

func (r *eventRecorder) next(tb testing.TB) Event {
	tb.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(waitTimeout):
		tb.Fatal("timed out waiting for event")
		return Event{}
	}
}

func (r *eventRecorder) none(tb testing.TB, within time.Duration) {
	tb.Helper()
	select {
	case ev := <-r.ch:
		tb.Fatalf("unexpected event %q", ev.Name)
	case <-time.After(within):
	}
}

// decodeCommand parses an outbound gateway command.
func decodeCommand(tb testing.TB, data []byte) (int, map[string]any) {
	tb.Helper()
	var cmd struct {
		Op int             `json:"op"`
		D  json.RawMessage `json:"d"`
	}
	if err := json.Unmarshal(data, &cmd); err != nil {
		tb.Fatalf("outbound message %s: %v", data, err)
	}
	var d map[string]any
	_ = json.Unmarshal(cmd.D, &d)
	return cmd.Op, d
}

var errTestDrop = errors.New("connection reset by peer")
