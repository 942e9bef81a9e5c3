package streamlink

import "context"

// Transport is a duplex, message-framed network connection. Each Client
// link owns exactly one Transport; a reconnect always dials a new one.
// The default implementation uses WebSocket (websocket.go).
type Transport interface {
	// Connect opens the connection. Failures are reported as *ConnectionError.
	Connect(ctx context.Context) error

	// Send queues data for delivery. It never blocks on the network.
	Send(data []byte) error

	// Disconnect closes the connection. It is idempotent and safe to call
	// from any goroutine, including from inside a receive callback, so it
	// does not wait for a delivery in progress.
	Disconnect() error

	// OnReceive registers the single receiver for inbound chunks. A chunk
	// may hold several logical messages or part of one; reassembly is the
	// FrameDecoder's job. Once Disconnect has returned nothing more is read
	// from the network, but the one chunk the reader was already handing
	// over may still reach fn. Receivers that need a hard cutoff check
	// their own state, as Client does for superseded links.
	OnReceive(fn func(data []byte))

	// OnDisconnect registers a callback for when the connection drops
	// without Disconnect having been called.
	OnDisconnect(fn func(err error))
}

// Dialer creates an unconnected Transport for the given endpoint URL.
type Dialer func(endpoint string) Transport
