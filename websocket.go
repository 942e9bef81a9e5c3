package streamlink

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

// WebsocketDialer returns a Dialer producing gorilla/websocket transports
// that identify themselves with the given User-Agent.
func WebsocketDialer(userAgent string) Dialer {
	return func(endpoint string) Transport {
		return newWebsocketTransport(endpoint, userAgent)
	}
}

// websocketTransport implements Transport over a single WebSocket.
// A reader goroutine feeds the receiver; a writer goroutine drains the
// send queue so Send never blocks on the network.
type websocketTransport struct {
	url       string
	userAgent string

	mu     sync.Mutex // protects conn, queue and the callbacks
	conn   *websocket.Conn
	queue  [][]byte
	recvFn func(data []byte)
	discFn func(err error)

	wake     chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

func newWebsocketTransport(url, userAgent string) *websocketTransport {
	return &websocketTransport{
		url:       url,
		userAgent: userAgent,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

func (t *websocketTransport) Connect(ctx context.Context) error {
	select {
	case <-t.done:
		return ErrClientClosed
	default:
	}

	header := http.Header{}
	if t.userAgent != "" {
		header.Set("User-Agent", t.userAgent)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, resp, err := dialer.DialContext(ctx, t.url, header)
	if err != nil {
		reason := err.Error()
		if resp != nil {
			reason = fmt.Sprintf("%s (status %d)", reason, resp.StatusCode)
		}
		return &ConnectionError{URL: t.url, Reason: reason}
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	// Disconnect may have run while the handshake was in flight.
	select {
	case <-t.done:
		conn.Close()
		return ErrClientClosed
	default:
	}

	go t.readLoop(conn)
	go t.writeLoop(conn)

	return nil
}

func (t *websocketTransport) Send(data []byte) error {
	select {
	case <-t.done:
		return ErrSendOnClosed
	default:
	}

	t.mu.Lock()
	if t.conn == nil {
		t.mu.Unlock()
		return ErrNotConnected
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	t.queue = append(t.queue, buf)
	t.mu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
	return nil
}

func (t *websocketTransport) OnReceive(fn func(data []byte)) {
	t.mu.Lock()
	t.recvFn = fn
	t.mu.Unlock()
}

func (t *websocketTransport) OnDisconnect(fn func(err error)) {
	t.mu.Lock()
	t.discFn = fn
	t.mu.Unlock()
}

func (t *websocketTransport) Disconnect() error {
	var err error
	t.doneOnce.Do(func() {
		close(t.done)

		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()

		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			err = conn.Close()
		}
	})
	return err
}

// lost tears the connection down after a read or write failure and
// notifies the disconnect callback, unless Disconnect got there first.
func (t *websocketTransport) lost(conn *websocket.Conn, cause error) {
	fired := false
	t.doneOnce.Do(func() {
		close(t.done)
		fired = true
	})
	if !fired {
		return
	}
	conn.Close()

	t.mu.Lock()
	fn := t.discFn
	t.mu.Unlock()
	if fn != nil {
		fn(cause)
	}
}

func (t *websocketTransport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.lost(conn, err)
			return
		}

		// chunks still buffered when Disconnect ran are dropped here
		select {
		case <-t.done:
			return
		default:
		}

		t.mu.Lock()
		fn := t.recvFn
		t.mu.Unlock()
		if fn != nil {
			fn(data)
		}
	}
}

func (t *websocketTransport) writeLoop(conn *websocket.Conn) {
	for {
		select {
		case <-t.done:
			return
		case <-t.wake:
		}

		t.mu.Lock()
		pending := t.queue
		t.queue = nil
		t.mu.Unlock()

		for _, data := range pending {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				t.lost(conn, err)
				return
			}
		}
	}
}
