package streamlink

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultGatewayURL is the chat gateway endpoint for fresh connections.
	DefaultGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"

	// DefaultIntents subscribes to guild messages and their content.
	DefaultIntents = 1<<9 | 1<<15

	// DefaultGatewayUserAgent is what the gateway dialer sends unless
	// WithUserAgent says otherwise.
	DefaultGatewayUserAgent = "DiscordBot (https://github.com/the-eg/streamlink, 0.1.0)"

	gatewayQuery = "?v=10&encoding=json"
)

// Gateway operation codes.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opResume         = 6
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11
)

// gatewayPayload is the inbound envelope.
type gatewayPayload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
	S  *int64          `json:"s"`
	T  string          `json:"t"`
}

// gatewayCommand is the outbound envelope. D is always present, null
// included.
type gatewayCommand struct {
	Op int `json:"op"`
	D  any `json:"d"`
}

type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type readyData struct {
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
}

type identifyData struct {
	Token      string             `json:"token"`
	Intents    int                `json:"intents"`
	Properties identifyProperties `json:"properties"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

type gatewayProtocol struct {
	c   *Client
	cfg GatewayConfig
}

// NewGatewayClient creates a client for the chat gateway. The onError
// handler is called for every error that cannot be returned to a direct
// caller. The client does not connect until Start is called.
func NewGatewayClient(cfg GatewayConfig, onError ErrorHandler, opts ...Option) (*Client, error) {
	resolved, err := resolveGatewayConfig(cfg)
	if err != nil {
		return nil, err
	}

	p := &gatewayProtocol{cfg: resolved}
	opts = append([]Option{WithUserAgent(DefaultGatewayUserAgent)}, opts...)
	c, err := newClient("gateway", p, onError, opts)
	if err != nil {
		return nil, err
	}
	p.c = c
	return c, nil
}

func (g *gatewayProtocol) endpoint(ctx context.Context) (string, error) {
	if g.cfg.ResolveURL == nil {
		return g.cfg.URL, nil
	}
	u, err := g.cfg.ResolveURL(ctx)
	if err != nil {
		return "", err
	}
	return withGatewayQuery(u), nil
}

func (g *gatewayProtocol) newDecoder() FrameDecoder {
	return NewJSONStreamDecoder()
}

func (g *gatewayProtocol) encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (g *gatewayProtocol) handle(l *link, f Frame) {
	c := g.c

	var p gatewayPayload
	if err := json.Unmarshal(f.Data, &p); err != nil {
		c.report(Error{Kind: ErrFrameDecode, ConnID: l.id, Cause: err, Raw: f.Data})
		return
	}

	// The sequence is recorded before anything else sees the payload, so
	// a heartbeat sent from a subscriber already carries it.
	if p.S != nil {
		c.session.SetSequence(*p.S)
	}

	switch p.Op {
	case opDispatch:
		g.onDispatch(l, p)
	case opHeartbeat:
		l.live.sent(time.Now())
		if err := g.sendHeartbeat(l); err != nil {
			l.log.Warn("heartbeat reply failed", zap.Error(err))
		}
	case opReconnect:
		c.fail(l, failure{reason: "reconnect", resume: true})
	case opInvalidSession:
		c.session.Clear()
		c.fail(l, failure{reason: "invalid_session", kind: ErrSessionInvalidated, err: errSessionInvalidated})
	case opHello:
		g.onHello(l, p.D)
	case opHeartbeatAck:
		c.confirm(l, true)
	default:
		c.report(Error{
			Kind:   ErrProtocolViolation,
			ConnID: l.id,
			Cause:  fmt.Errorf("unsupported opcode %d", p.Op),
			Raw:    f.Data,
		})
	}
}

func (g *gatewayProtocol) onHello(l *link, data json.RawMessage) {
	c := g.c

	var h helloData
	if err := json.Unmarshal(data, &h); err != nil || h.HeartbeatInterval <= 0 {
		if err == nil {
			err = fmt.Errorf("invalid heartbeat interval %d", h.HeartbeatInterval)
		}
		c.report(Error{Kind: ErrProtocolViolation, ConnID: l.id, Cause: fmt.Errorf("hello: %w", err), Raw: data})
		return
	}

	policy := HeartbeatPolicy{
		Interval: time.Duration(h.HeartbeatInterval) * time.Millisecond,
		Jitter:   c.jitter(),
	}
	c.startHeartbeat(l, policy, func() error {
		return g.sendHeartbeat(l)
	})

	var err error
	if snap := c.session.Snapshot(); l.resume && snap.CanResume() {
		c.setState(StateResuming)
		l.log.Info("resuming session",
			zap.String("session", snap.SessionID),
			zap.Int64("seq", snap.Sequence))
		err = c.send(l, gatewayCommand{Op: opResume, D: resumeData{
			Token:     g.cfg.Token,
			SessionID: snap.SessionID,
			Seq:       snap.Sequence,
		}})
	} else {
		c.setState(StateIdentifying)
		l.log.Info("identifying")
		err = c.send(l, gatewayCommand{Op: opIdentify, D: identifyData{
			Token:   g.cfg.Token,
			Intents: g.cfg.Intents,
			Properties: identifyProperties{
				OS:      runtime.GOOS,
				Browser: g.cfg.ClientName,
				Device:  g.cfg.ClientName,
			},
		}})
	}
	if err != nil {
		c.fail(l, failure{reason: "transport", resume: true, kind: ErrTransport, err: fmt.Errorf("handshake: %w", err)})
	}
}

func (g *gatewayProtocol) onDispatch(l *link, p gatewayPayload) {
	c := g.c

	switch p.T {
	case "READY":
		var r readyData
		if err := json.Unmarshal(p.D, &r); err != nil {
			c.report(Error{Kind: ErrProtocolViolation, ConnID: l.id, Event: p.T, Cause: err, Raw: p.D})
		} else {
			c.session.Establish(r.SessionID, withGatewayQuery(r.ResumeGatewayURL))
		}
		c.steady(l)
	case "RESUMED":
		c.steady(l)
	}

	c.dispatch(l, p.T, p.D)
}

func (g *gatewayProtocol) sendHeartbeat(l *link) error {
	var d any
	if seq, ok := g.c.session.Sequence(); ok {
		d = seq
	}
	return g.c.send(l, gatewayCommand{Op: opHeartbeat, D: d})
}

// withGatewayQuery appends the protocol version and encoding to a bare
// gateway URL. URLs that already carry a query are returned unchanged.
func withGatewayQuery(u string) string {
	if u == "" || strings.Contains(u, "?") {
		return u
	}
	return strings.TrimRight(u, "/") + "/" + gatewayQuery
}
