package streamlink

import (
	"encoding/json"
	"errors"
)

// Event is one decoded application message handed to subscribers.
type Event struct {
	// Name is the event key: the dispatch type ("READY", "MESSAGE_CREATE")
	// on the gateway, the top-level message key ("current", "event") on
	// the push channel.
	Name string

	// Data is the raw JSON payload.
	Data json.RawMessage

	// Client names the client that received the event.
	Client string

	// ConnID identifies the connection the event arrived on.
	ConnID string
}

// Unmarshal decodes the event payload into v.
func (e Event) Unmarshal(v any) error {
	if len(e.Data) == 0 {
		return errors.New("event has no payload")
	}
	return json.Unmarshal(e.Data, v)
}
