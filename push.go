package streamlink

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"go.uber.org/zap"
)

// DefaultWatchdog is how long a push connection may be silent.
// The server beats every 25 seconds.
const DefaultWatchdog = 45 * time.Second

const credentialTimeout = 10 * time.Second

// DefaultSubscription asks for state (without logs or terminal
// messages), plugin messages and events.
var DefaultSubscription = map[string]any{
	"state": map[string]any{
		"logs":     false,
		"messages": false,
	},
	"plugins": true,
	"events":  true,
}

type pushProtocol struct {
	c   *Client
	cfg PushConfig
}

// NewPushClient creates a client for a device's SockJS status push
// channel. Every top-level key of an inbound message ("connected",
// "current", "event", "plugin", ...) is dispatched as its own event.
func NewPushClient(cfg PushConfig, onError ErrorHandler, opts ...Option) (*Client, error) {
	resolved, err := resolvePushConfig(cfg)
	if err != nil {
		return nil, err
	}

	p := &pushProtocol{cfg: resolved}
	c, err := newClient("push", p, onError, opts)
	if err != nil {
		return nil, err
	}
	p.c = c
	return c, nil
}

// endpoint builds a fresh SockJS raw-websocket URL. Server id and
// session token are random per connection.
func (p *pushProtocol) endpoint(ctx context.Context) (string, error) {
	return fmt.Sprintf("%s/sockjs/%d/%s/websocket", p.cfg.BaseURL, 1+rand.IntN(999), sessionToken(16)), nil
}

func sessionToken(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rand.IntN(len(letters))]
	}
	return string(b)
}

func (p *pushProtocol) newDecoder() FrameDecoder {
	return NewSockJSDecoder()
}

// encode wraps v the way SockJS clients send: a JSON array holding the
// message as a JSON string.
func (p *pushProtocol) encode(v any) ([]byte, error) {
	inner, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal([]string{string(inner)})
}

func (p *pushProtocol) handle(l *link, f Frame) {
	c := p.c

	switch f.Kind {
	case FrameOpen:
		p.onOpen(l)
	case FrameHeartbeat:
		c.confirm(l, false)
	case FrameMessage:
		c.confirm(l, false)
		p.onMessage(l, f.Data)
	case FrameClose:
		c.fail(l, failure{
			reason: "closed",
			kind:   ErrTransport,
			err:    fmt.Errorf("server closed session: %s", f.Data),
		})
	}
}

func (p *pushProtocol) onOpen(l *link) {
	c := p.c

	if l.opened {
		l.log.Debug("ignoring repeated open frame")
		return
	}
	l.opened = true
	c.setState(StateIdentifying)

	// Any inbound frame counts as the acknowledgment.
	c.startHeartbeat(l, HeartbeatPolicy{Interval: p.cfg.Watchdog}, nil)

	if err := c.send(l, map[string]any{"subscribe": p.cfg.Subscription}); err != nil {
		c.fail(l, failure{reason: "transport", kind: ErrTransport, err: fmt.Errorf("subscribe: %w", err)})
		return
	}

	if p.cfg.Credential == nil {
		return
	}
	ctx, cancel := context.WithTimeout(l.ctx, credentialTimeout)
	defer cancel()
	cred, err := p.cfg.Credential(ctx)
	if err != nil {
		// Unauthenticated sessions still see some state; keep going.
		l.log.Error("couldn't obtain credential", zap.Error(err))
		c.report(Error{Kind: ErrTransport, ConnID: l.id, Cause: fmt.Errorf("credential: %w", err)})
		return
	}
	if err := c.send(l, map[string]string{"auth": cred}); err != nil {
		c.fail(l, failure{reason: "transport", kind: ErrTransport, err: fmt.Errorf("auth: %w", err)})
	}
}

func (p *pushProtocol) onMessage(l *link, data json.RawMessage) {
	c := p.c

	var msg map[string]json.RawMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.report(Error{Kind: ErrFrameDecode, ConnID: l.id, Cause: fmt.Errorf("message is not an object: %w", err), Raw: data})
		return
	}

	keys := make([]string, 0, len(msg))
	for k := range msg {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !c.live(l) {
			return
		}
		if k == "connected" {
			c.steady(l)
		}
		c.dispatch(l, k, msg[k])
	}
}
