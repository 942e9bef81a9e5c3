package streamlink

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Sentinel errors for client state.
var (
	ErrNotConnected   = errors.New("client is not connected")
	ErrAlreadyStarted = errors.New("client is already started")
	ErrClientClosed   = errors.New("client is closed")
	ErrSendOnClosed   = errors.New("send on closed transport")
)

// ConnectionError represents a failure to open the duplex connection.
type ConnectionError struct {
	URL    string
	Reason string
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error [%s]: %s", e.URL, e.Reason)
}

// FrameError is returned by a FrameDecoder when a chunk cannot be parsed.
// Offset is the byte position in the chunk where decoding stopped.
type FrameError struct {
	Offset int
	Cause  error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame decode error at offset %d: %v", e.Offset, e.Cause)
}

func (e *FrameError) Unwrap() error {
	return e.Cause
}

// ErrorKind classifies errors that cannot be returned to a caller.
type ErrorKind int

const (
	ErrTransport          ErrorKind = iota // connect/send/disconnect failure, retried
	ErrFrameDecode                         // malformed inbound payload, chunk dropped
	ErrProtocolViolation                   // unexpected or unsupported operation code
	ErrLivenessTimeout                     // heartbeat not acknowledged in time
	ErrSessionInvalidated                  // server declared the session invalid
	ErrSubscriberFailure                   // subscriber returned an error or panicked
)

var errorKindNames = [...]string{
	ErrTransport:          "ErrTransport",
	ErrFrameDecode:        "ErrFrameDecode",
	ErrProtocolViolation:  "ErrProtocolViolation",
	ErrLivenessTimeout:    "ErrLivenessTimeout",
	ErrSessionInvalidated: "ErrSessionInvalidated",
	ErrSubscriberFailure:  "ErrSubscriberFailure",
}

func (k ErrorKind) String() string {
	if int(k) >= 0 && int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", k)
}

// Error is a failure the client handled on its own (by logging, dropping
// or reconnecting) and reports to the ErrorHandler given at construction.
type Error struct {
	Kind      ErrorKind
	Client    string // client name, e.g. "gateway" or the printer id
	ConnID    string // connection the error was observed on, if any
	Event     string // event key, if known
	Cause     error
	Raw       []byte // raw payload (for decode failures)
	Timestamp time.Time
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v (client=%s conn=%s event=%s)", e.Kind, e.Cause, e.Client, e.ConnID, e.Event)
	}
	return fmt.Sprintf("%s (client=%s conn=%s event=%s)", e.Kind, e.Client, e.ConnID, e.Event)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorHandler is called for every error that cannot be returned to a
// direct caller. It MUST be provided when creating a client.
type ErrorHandler func(Error)

// LogErrors returns an ErrorHandler that logs every error to the given logger.
// Liveness timeouts and invalidated sessions self-heal, so they log at warn.
func LogErrors(logger *zap.Logger) ErrorHandler {
	return func(e Error) {
		fields := []zap.Field{
			zap.Stringer("kind", e.Kind),
			zap.String("client", e.Client),
			zap.Time("at", e.Timestamp),
		}
		if e.ConnID != "" {
			fields = append(fields, zap.String("conn", e.ConnID))
		}
		if e.Event != "" {
			fields = append(fields, zap.String("event", e.Event))
		}
		if e.Cause != nil {
			fields = append(fields, zap.Error(e.Cause))
		}
		if len(e.Raw) > 0 {
			fields = append(fields, zap.ByteString("raw", e.Raw))
		}

		switch e.Kind {
		case ErrLivenessTimeout, ErrSessionInvalidated, ErrProtocolViolation:
			logger.Warn("streamlink error", fields...)
		default:
			logger.Error("streamlink error", fields...)
		}
	}
}
