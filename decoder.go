package streamlink

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxPendingBytes bounds how much of an incomplete JSON document the
// stream decoder keeps while waiting for the rest of it.
const MaxPendingBytes = 1 << 20

var errPendingOverflow = errors.New("incomplete document exceeds pending buffer limit")

// FrameKind classifies a decoded frame.
type FrameKind int

const (
	FrameMessage   FrameKind = iota // application or control message
	FrameOpen                       // server opened the session
	FrameHeartbeat                  // server liveness sentinel
	FrameClose                      // server closed the session
)

var frameKindNames = [...]string{
	FrameMessage:   "message",
	FrameOpen:      "open",
	FrameHeartbeat: "heartbeat",
	FrameClose:     "close",
}

func (k FrameKind) String() string {
	if int(k) >= 0 && int(k) < len(frameKindNames) {
		return frameKindNames[k]
	}
	return fmt.Sprintf("FrameKind(%d)", k)
}

// Frame is one discrete unit cut out of the receive stream.
type Frame struct {
	Kind FrameKind
	Data json.RawMessage // empty for open and heartbeat frames
}

// FrameDecoder turns raw receive chunks into frames. Implementations are
// stateful and owned by a single connection.
//
// On a parse failure Decode returns the frames decoded before the failure
// together with a *FrameError; the rest of the chunk is dropped.
type FrameDecoder interface {
	Decode(chunk []byte) ([]Frame, error)
}

// JSONStreamDecoder splits a stream of concatenated JSON documents. Any
// amount of whitespace (including none) may separate documents, and a
// document cut off at the end of a chunk is completed by the next one.
type JSONStreamDecoder struct {
	pending []byte
}

func NewJSONStreamDecoder() *JSONStreamDecoder {
	return &JSONStreamDecoder{}
}

func (d *JSONStreamDecoder) Decode(chunk []byte) ([]Frame, error) {
	buf := chunk
	if len(d.pending) > 0 {
		buf = append(d.pending, chunk...)
		d.pending = nil
	}

	var frames []Frame
	dec := json.NewDecoder(bytes.NewReader(buf))
	for {
		start := dec.InputOffset()
		var raw json.RawMessage
		err := dec.Decode(&raw)
		switch {
		case err == nil:
			frames = append(frames, Frame{Kind: FrameMessage, Data: raw})
		case errors.Is(err, io.EOF):
			return frames, nil
		case errors.Is(err, io.ErrUnexpectedEOF):
			rest := buf[start:]
			if len(rest) > MaxPendingBytes {
				return frames, &FrameError{Offset: int(start), Cause: errPendingOverflow}
			}
			d.pending = append([]byte(nil), rest...)
			return frames, nil
		default:
			return frames, &FrameError{Offset: int(start), Cause: err}
		}
	}
}

// Reset drops any buffered partial document.
func (d *JSONStreamDecoder) Reset() {
	d.pending = nil
}

// SockJSDecoder parses SockJS raw-websocket framing:
//
//	o            session open, optionally followed by more frames
//	h            heartbeat, at the start or the end of a chunk
//	a[...]       array of messages, possibly repeated: a[...]a[...]
//	c[code,"r"]  session close
//
// Array elements that are JSON strings carry an encoded message and are
// decoded once more; any other element is taken as the message itself.
type SockJSDecoder struct{}

func NewSockJSDecoder() *SockJSDecoder {
	return &SockJSDecoder{}
}

func (d *SockJSDecoder) Decode(chunk []byte) ([]Frame, error) {
	var frames []Frame
	p := chunk
	off := 0

	if len(p) > 0 && p[0] == 'o' {
		frames = append(frames, Frame{Kind: FrameOpen})
		p, off = p[1:], off+1
	}
	if len(p) > 0 && p[0] == 'h' {
		frames = append(frames, Frame{Kind: FrameHeartbeat})
		p, off = p[1:], off+1
	}
	trailingHeartbeat := false
	if len(p) > 0 && p[len(p)-1] == 'h' {
		trailingHeartbeat = true
		p = p[:len(p)-1]
	}

	frames, err := d.decodeBody(frames, p, off)
	if trailingHeartbeat {
		frames = append(frames, Frame{Kind: FrameHeartbeat})
	}
	return frames, err
}

func (d *SockJSDecoder) decodeBody(frames []Frame, p []byte, off int) ([]Frame, error) {
	for {
		trimmed := bytes.TrimLeft(p, " \t\r\n")
		off += len(p) - len(trimmed)
		p = trimmed
		if len(p) == 0 {
			return frames, nil
		}

		switch p[0] {
		case 'a':
			var elems []json.RawMessage
			n, err := decodeOne(p[1:], &elems)
			if err != nil {
				return frames, &FrameError{Offset: off + 1, Cause: err}
			}
			for _, elem := range elems {
				msg, err := unwrapElement(elem)
				if err != nil {
					return frames, &FrameError{Offset: off + 1, Cause: err}
				}
				frames = append(frames, Frame{Kind: FrameMessage, Data: msg})
			}
			p, off = p[1+n:], off+1+n
		case 'c':
			var raw json.RawMessage
			n, err := decodeOne(p[1:], &raw)
			if err != nil {
				return frames, &FrameError{Offset: off + 1, Cause: err}
			}
			frames = append(frames, Frame{Kind: FrameClose, Data: raw})
			p, off = p[1+n:], off+1+n
		case 'o':
			frames = append(frames, Frame{Kind: FrameOpen})
			p, off = p[1:], off+1
		case 'h':
			frames = append(frames, Frame{Kind: FrameHeartbeat})
			p, off = p[1:], off+1
		default:
			return frames, &FrameError{Offset: off, Cause: fmt.Errorf("unexpected marker %q", p[0])}
		}
	}
}

// decodeOne decodes exactly one JSON value from the front of b into v and
// returns the number of bytes it consumed.
func decodeOne(b []byte, v any) (int, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(v); err != nil {
		return 0, err
	}
	return int(dec.InputOffset()), nil
}

func unwrapElement(elem json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(elem)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return trimmed, nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil, err
	}
	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("array element is not a JSON document: %q", s)
	}
	return json.RawMessage(s), nil
}
