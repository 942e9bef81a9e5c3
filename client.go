package streamlink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is the lifecycle state of a Client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingOpen
	StateIdentifying
	StateResuming
	StateSteadyState
	StateReconnecting
	StateClosed
)

var stateNames = [...]string{
	StateDisconnected: "Disconnected",
	StateConnecting:   "Connecting",
	StateAwaitingOpen: "AwaitingOpen",
	StateIdentifying:  "Identifying",
	StateResuming:     "Resuming",
	StateSteadyState:  "SteadyState",
	StateReconnecting: "Reconnecting",
	StateClosed:       "Closed",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// StateObserver is told about every lifecycle transition. It must not
// call Shutdown.
type StateObserver func(from, to State)

var (
	errLivenessTimeout    = errors.New("heartbeat not acknowledged within interval")
	errSessionInvalidated = errors.New("server invalidated the session")
)

// protocol is the wire-specific half of a Client.
type protocol interface {
	// endpoint returns the URL for a fresh (non-resume) connection.
	endpoint(ctx context.Context) (string, error)
	newDecoder() FrameDecoder
	encode(v any) ([]byte, error)
	// handle processes one decoded frame of a live link.
	handle(l *link, f Frame)
}

// Client keeps one logical event stream alive across any number of
// physical connections, and dispatches its events to subscribers.
type Client struct {
	name     string
	proto    protocol
	onError  ErrorHandler
	log      *zap.Logger
	registry *Registry
	session  *SessionTracker
	dialer   Dialer
	metrics  *Metrics
	observer StateObserver
	jitter   func() float64

	mu      sync.Mutex
	state   State
	current *link
	retry   *retryPolicy
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	latency atomic.Int64
}

func newClient(defaultName string, proto protocol, onError ErrorHandler, opts []Option) (*Client, error) {
	if onError == nil {
		return nil, errors.New("ErrorHandler must not be nil")
	}

	o := clientDefaults()
	for _, opt := range opts {
		opt(&o)
	}
	if o.name == "" {
		o.name = defaultName
	}
	if o.registry == nil {
		o.registry = NewRegistry()
	}
	if o.dialer == nil {
		o.dialer = WebsocketDialer(o.userAgent)
	}

	return &Client{
		name:     o.name,
		proto:    proto,
		onError:  onError,
		log:      o.logger.Named(o.name),
		registry: o.registry,
		session:  NewSessionTracker(),
		dialer:   o.dialer,
		metrics:  o.metrics,
		observer: o.observer,
		jitter:   o.jitter,
		retry:    newRetryPolicy(o.reconnectDelay),
	}, nil
}

// Name returns the client name.
func (c *Client) Name() string {
	return c.name
}

// Registry returns the registry events are dispatched into.
func (c *Client) Registry() *Registry {
	return c.registry
}

// Subscribe registers s for events named eventKey.
func (c *Client) Subscribe(eventKey string, s Subscriber) {
	c.registry.Subscribe(eventKey, s)
}

func (c *Client) SubscribeFunc(eventKey string, fn SubscriberFunc) {
	c.registry.SubscribeFunc(eventKey, fn)
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns a copy of the current session context.
func (c *Client) Session() SessionContext {
	return c.session.Snapshot()
}

// CurrentLatency returns the round trip of the most recently
// acknowledged heartbeat, or zero if none has been measured.
func (c *Client) CurrentLatency() time.Duration {
	return time.Duration(c.latency.Load())
}

// Start begins connecting in the background and returns immediately.
// Connection failures are retried until ctx is cancelled or Shutdown
// is called.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go c.run(runCtx)
	return nil
}

// Shutdown stops the client and waits for its background work to end.
// It is idempotent and may be called from a subscriber.
func (c *Client) Shutdown() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		c.wg.Wait()
	}
	c.setState(StateClosed)
	c.log.Info("client shut down")
	return nil
}

// Send encodes v in the client's wire format and queues it on the
// current connection.
func (c *Client) Send(v any) error {
	c.mu.Lock()
	l := c.current
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return ErrClientClosed
	}
	if l == nil || l.isFailed() {
		return ErrNotConnected
	}
	return c.send(l, v)
}

func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()

	resume := false
	for {
		l, err := c.establish(ctx, resume)
		if err != nil {
			c.stopped()
			return
		}

		select {
		case <-ctx.Done():
			c.release(l)
			c.stopped()
			return
		case <-l.failed:
		}

		f := l.failureInfo
		c.setState(StateReconnecting)
		c.release(l)
		c.metrics.reconnect(c.name, f.reason)

		if f.kind == ErrSessionInvalidated {
			c.session.Clear()
		}
		resume = f.resume && c.session.CanResume()
		c.log.Info("reconnecting",
			zap.String("reason", f.reason),
			zap.Bool("resume", resume))
	}
}

// establish connects a new link, retrying after the reconnect delay
// until it succeeds or ctx ends.
func (c *Client) establish(ctx context.Context, resume bool) (*link, error) {
	for {
		c.setState(StateConnecting)

		l, err := c.connect(ctx, resume)
		if err == nil {
			return l, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		c.report(Error{Kind: ErrTransport, Cause: err})
		delay, failures := c.nextDelay()
		c.log.Warn("connect failed, retrying",
			zap.Duration("in", delay),
			zap.Int("failures", failures),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) connect(ctx context.Context, resume bool) (*link, error) {
	endpoint := ""
	if resume {
		endpoint = c.session.Snapshot().ResumeEndpoint
	}
	if endpoint == "" {
		resume = false
		var err error
		if endpoint, err = c.proto.endpoint(ctx); err != nil {
			return nil, fmt.Errorf("resolve endpoint: %w", err)
		}
	}

	l := c.newLink(ctx, endpoint, resume)

	// The link is current before it connects so that frames arriving
	// during the handshake are not mistaken for a superseded link's.
	c.mu.Lock()
	c.current = l
	c.mu.Unlock()

	if err := l.transport.Connect(ctx); err != nil {
		c.release(l)
		return nil, err
	}

	c.transition(StateConnecting, StateAwaitingOpen)
	l.log.Info("connected", zap.String("endpoint", endpoint), zap.Bool("resume", resume))
	return l, nil
}

func (c *Client) newLink(ctx context.Context, endpoint string, resume bool) *link {
	id := uuid.NewString()
	l := &link{
		id:        id,
		endpoint:  endpoint,
		resume:    resume,
		log:       c.log.With(zap.String("conn", id)),
		transport: c.dialer(endpoint),
		decoder:   c.proto.newDecoder(),
		failed:    make(chan struct{}),
	}
	l.ctx, l.cancel = context.WithCancel(ctx)

	l.transport.OnReceive(func(data []byte) {
		c.receive(l, data)
	})
	l.transport.OnDisconnect(func(err error) {
		if err == nil {
			err = errors.New("connection closed")
		}
		c.fail(l, failure{reason: "transport", resume: true, kind: ErrTransport, err: err})
	})
	return l
}

// release detaches l from the client and tears it down.
func (c *Client) release(l *link) {
	c.mu.Lock()
	if c.current == l {
		c.current = nil
	}
	c.mu.Unlock()
	l.close()
}

// stopped records that run exited without Shutdown.
func (c *Client) stopped() {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if !closed {
		c.setState(StateDisconnected)
	}
}

// live reports whether frames from l may still be processed.
func (c *Client) live(l *link) bool {
	c.mu.Lock()
	current := c.current == l
	c.mu.Unlock()
	return current && !l.isFailed()
}

func (c *Client) receive(l *link, data []byte) {
	if !c.live(l) {
		return
	}

	frames, err := l.decoder.Decode(data)
	for _, f := range frames {
		if !c.live(l) {
			return
		}
		c.metrics.frame(c.name, f.Kind)
		c.proto.handle(l, f)
	}

	if err != nil {
		c.metrics.decodeError(c.name)
		c.report(Error{Kind: ErrFrameDecode, ConnID: l.id, Cause: err, Raw: data})
	}
}

// dispatch delivers one event to the registry and reports subscriber
// failures.
func (c *Client) dispatch(l *link, name string, data json.RawMessage) {
	ev := Event{Name: name, Data: data, Client: c.name, ConnID: l.id}
	for _, err := range c.registry.Dispatch(ev) {
		c.metrics.subscriberFailure(c.name, name)
		c.report(Error{Kind: ErrSubscriberFailure, ConnID: l.id, Event: name, Cause: err})
	}
}

func (c *Client) send(l *link, v any) error {
	data, err := c.proto.encode(v)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return l.transport.Send(data)
}

// fail marks l dead, reporting f.err if this was the first failure.
func (c *Client) fail(l *link, f failure) {
	if !l.fail(f) {
		return
	}
	l.log.Info("connection failed", zap.String("reason", f.reason))
	if f.err != nil {
		c.report(Error{Kind: f.kind, ConnID: l.id, Cause: f.err})
	}
}

func (c *Client) startHeartbeat(l *link, policy HeartbeatPolicy, beat func() error) {
	s := &supervisor{
		policy: policy,
		live:   &l.live,
		beat:   beat,
		log:    l.log,
		onDead: func() {
			c.fail(l, failure{reason: "liveness", resume: true, kind: ErrLivenessTimeout, err: errLivenessTimeout})
		},
	}
	l.startSupervisor(s)
}

// confirm records liveness evidence for l. With measure set, the round
// trip to the outstanding beat becomes the current latency.
func (c *Client) confirm(l *link, measure bool) {
	rtt, ok := l.live.confirm(time.Now())
	if !ok || !measure {
		return
	}
	c.latency.Store(int64(rtt))
	c.metrics.observeLatency(c.name, rtt)
}

// steady moves a handshaking client into SteadyState.
func (c *Client) steady(l *link) {
	c.mu.Lock()
	if c.current != l || (c.state != StateIdentifying && c.state != StateResuming) {
		c.mu.Unlock()
		return
	}
	c.retry.reset()
	c.mu.Unlock()

	c.setState(StateSteadyState)
	l.log.Info("session established")
}

func (c *Client) nextDelay() (time.Duration, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retry.next()
}

func (c *Client) setState(to State) {
	c.mu.Lock()
	from := c.state
	if from == to || from == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = to
	c.mu.Unlock()
	c.changed(from, to)
}

// transition moves from one specific state to another and reports
// whether it did.
func (c *Client) transition(from, to State) bool {
	c.mu.Lock()
	if c.state != from {
		c.mu.Unlock()
		return false
	}
	c.state = to
	c.mu.Unlock()
	c.changed(from, to)
	return true
}

func (c *Client) changed(from, to State) {
	c.log.Debug("state", zap.Stringer("from", from), zap.Stringer("to", to))
	c.metrics.setState(c.name, to)
	if c.observer != nil {
		c.observer(from, to)
	}
}

func (c *Client) report(e Error) {
	e.Client = c.name
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	c.onError(e)
}
