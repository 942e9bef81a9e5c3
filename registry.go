package streamlink

import (
	"fmt"
	"sync"
)

// Subscriber receives events for the keys it subscribed to.
type Subscriber interface {
	HandleEvent(ev Event) error
}

// SubscriberFunc adapts a plain function to the Subscriber interface.
type SubscriberFunc func(ev Event) error

func (f SubscriberFunc) HandleEvent(ev Event) error {
	return f(ev)
}

// SubscriberError wraps a failure of one subscriber during Dispatch.
type SubscriberError struct {
	Event string
	Index int // position of the subscriber in the event's list
	Cause error
}

func (e *SubscriberError) Error() string {
	return fmt.Sprintf("subscriber %d for %q: %v", e.Index, e.Event, e.Cause)
}

func (e *SubscriberError) Unwrap() error {
	return e.Cause
}

// Registry maps event keys to ordered subscriber lists. A Registry may be
// shared by several clients and is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	subs map[string][]Subscriber // event key → subscribers, registration order
}

func NewRegistry() *Registry {
	return &Registry{
		subs: make(map[string][]Subscriber),
	}
}

// Subscribe appends s to the subscribers of eventKey. The same subscriber
// may be registered more than once and will then run once per registration.
func (r *Registry) Subscribe(eventKey string, s Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[eventKey] = append(r.subs[eventKey], s)
}

// SubscribeFunc is Subscribe for a plain function.
func (r *Registry) SubscribeFunc(eventKey string, fn SubscriberFunc) {
	r.Subscribe(eventKey, fn)
}

// Subscribers returns the number of subscribers registered for eventKey.
func (r *Registry) Subscribers(eventKey string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[eventKey])
}

// Dispatch runs every subscriber of ev.Name in registration order on the
// calling goroutine. A subscriber that fails or panics does not stop the
// others; each failure is returned as a *SubscriberError.
func (r *Registry) Dispatch(ev Event) []error {
	r.mu.RLock()
	list := r.subs[ev.Name]
	subs := make([]Subscriber, len(list))
	copy(subs, list)
	r.mu.RUnlock()

	var errs []error
	for i, s := range subs {
		if err := invoke(s, ev); err != nil {
			errs = append(errs, &SubscriberError{Event: ev.Name, Index: i, Cause: err})
		}
	}
	return errs
}

func invoke(s Subscriber, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.HandleEvent(ev)
}
