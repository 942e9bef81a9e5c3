package streamlink

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Ticket is a pending, deadline-bound piece of interactive state, such as
// an unanswered confirmation prompt.
type Ticket struct {
	ID       string
	Deadline time.Time
	OnExpire func()
}

// TicketRegistry holds pending tickets until they are resolved or expire.
// The host drives expiry by calling Tick from its own loop. Safe for
// concurrent use.
type TicketRegistry struct {
	mu      sync.Mutex
	tickets map[string]Ticket
	log     *zap.Logger
}

// NewTicketRegistry creates an empty registry. A nil logger is replaced
// with a no-op logger.
func NewTicketRegistry(logger *zap.Logger) *TicketRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketRegistry{
		tickets: make(map[string]Ticket),
		log:     logger,
	}
}

// Register stores a ticket, replacing any ticket with the same id.
func (r *TicketRegistry) Register(id string, deadline time.Time, onExpire func()) {
	r.mu.Lock()
	_, replaced := r.tickets[id]
	r.tickets[id] = Ticket{ID: id, Deadline: deadline, OnExpire: onExpire}
	r.mu.Unlock()

	r.log.Debug("ticket registered",
		zap.String("ticket", id),
		zap.Time("deadline", deadline),
		zap.Bool("replaced", replaced))
}

// Resolve removes the ticket and reports whether it was pending.
func (r *TicketRegistry) Resolve(id string) bool {
	r.mu.Lock()
	_, ok := r.tickets[id]
	delete(r.tickets, id)
	r.mu.Unlock()

	if ok {
		r.log.Debug("ticket resolved", zap.String("ticket", id))
	}
	return ok
}

// Pending reports whether a ticket with the given id is waiting.
func (r *TicketRegistry) Pending(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tickets[id]
	return ok
}

func (r *TicketRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tickets)
}

// Tick expires every ticket whose deadline is before now and returns how
// many expired. Expired tickets leave the registry before their OnExpire
// runs, so each one expires exactly once even when ticks overlap.
func (r *TicketRegistry) Tick(now time.Time) int {
	r.mu.Lock()
	var expired []Ticket
	for id, t := range r.tickets {
		if now.After(t.Deadline) {
			expired = append(expired, t)
			delete(r.tickets, id)
		}
	}
	r.mu.Unlock()

	for _, t := range expired {
		r.expire(t)
	}
	return len(expired)
}

func (r *TicketRegistry) expire(t Ticket) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("ticket expiry handler panicked",
				zap.String("ticket", t.ID),
				zap.Any("panic", rec))
		}
	}()

	r.log.Debug("ticket expired", zap.String("ticket", t.ID))
	if t.OnExpire != nil {
		t.OnExpire()
	}
}
