package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/the-eg/streamlink"
	"go.uber.org/zap"
)

const (
	commandPrefix = "!"
	confirmWindow = 60 * time.Second

	// message component interactions (buttons)
	interactionComponent = 3
	confirmButton        = "confirm"
)

// Bot reacts to gateway commands and printer push messages.
type Bot struct {
	settings *Settings
	printers map[string]*Printer
	order    []string
	latency  func() time.Duration
	tickets  *streamlink.TicketRegistry
	results  *prometheus.CounterVec
	log      *zap.Logger

	mu         sync.Mutex
	userID     string
	pending    map[string]string // confirmation message id -> printer id
	lastUpdate map[string]time.Time
}

// NewBot wires printers and settings together. latency reports the
// gateway heartbeat round trip for !ping.
func NewBot(settings *Settings, printers []*Printer, latency func() time.Duration, reg prometheus.Registerer, log *zap.Logger) (*Bot, error) {
	results := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "octoprintcontrol",
		Name:      "confirmations_total",
		Help:      "Power-off confirmations, by outcome",
	}, []string{"result"})
	if reg != nil {
		if err := reg.Register(results); err != nil {
			return nil, fmt.Errorf("register confirmations metric: %w", err)
		}
	}

	b := &Bot{
		settings:   settings,
		printers:   make(map[string]*Printer, len(printers)),
		latency:    latency,
		tickets:    streamlink.NewTicketRegistry(log.Named("tickets")),
		results:    results,
		log:        log.Named("bot"),
		pending:    make(map[string]string),
		lastUpdate: make(map[string]time.Time),
	}
	for _, p := range printers {
		b.printers[p.ID] = p
		b.order = append(b.order, p.ID)
	}
	return b, nil
}

// Subscribe registers the bot's handlers. Push clients are named after
// their printer, so printer messages are routed by Event.Client.
func (b *Bot) Subscribe(r *streamlink.Registry) {
	r.SubscribeFunc("READY", b.onReady)
	r.SubscribeFunc("MESSAGE_CREATE", b.onMessage)
	r.SubscribeFunc("INTERACTION_CREATE", b.onInteraction)
	r.SubscribeFunc("current", func(ev streamlink.Event) error {
		p, ok := b.printers[ev.Client]
		if !ok {
			return nil
		}
		return p.HandleCurrent(ev)
	})
	r.SubscribeFunc("event", func(ev streamlink.Event) error {
		p, ok := b.printers[ev.Client]
		if !ok {
			return nil
		}
		return p.HandleEvent(ev)
	})
}

type discordUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Bot      bool   `json:"bot"`
}

func (b *Bot) onReady(ev streamlink.Event) error {
	var ready struct {
		User discordUser `json:"user"`
	}
	if err := ev.Unmarshal(&ready); err != nil {
		return fmt.Errorf("decode ready: %w", err)
	}
	b.mu.Lock()
	b.userID = ready.User.ID
	b.mu.Unlock()

	b.log.Info("logged in", zap.String("user", ready.User.Username), zap.String("id", ready.User.ID))
	return nil
}

func (b *Bot) onMessage(ev streamlink.Event) error {
	var msg struct {
		ID        string      `json:"id"`
		ChannelID string      `json:"channel_id"`
		Content   string      `json:"content"`
		Author    discordUser `json:"author"`
	}
	if err := ev.Unmarshal(&msg); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}

	b.mu.Lock()
	self := b.userID
	b.mu.Unlock()
	if msg.Author.Bot || (self != "" && msg.Author.ID == self) {
		return nil
	}

	args := strings.Fields(msg.Content)
	if len(args) == 0 || !strings.HasPrefix(args[0], commandPrefix) {
		return nil
	}
	cmd := strings.TrimPrefix(args[0], commandPrefix)

	log := b.log.With(
		zap.String("command", cmd),
		zap.String("user", msg.Author.ID),
		zap.String("channel", msg.ChannelID))

	if !b.settings.Trusted(msg.Author.ID) {
		log.Warn("command from untrusted user ignored", zap.String("username", msg.Author.Username))
		return nil
	}

	switch cmd {
	case "ping":
		log.Info("pong", zap.Duration("latency", b.latency()))
	case "list-printers":
		for _, id := range b.order {
			p := b.printers[id]
			log.Info("printer",
				zap.String("id", p.ID),
				zap.String("name", p.Name),
				zap.Bool("connected", p.IsConnected()),
				zap.Bool("printing", p.IsPrinting()))
		}
	case "printer-status":
		p := b.printerArg(log, args)
		if p == nil {
			return nil
		}
		s := p.Status()
		fields := []zap.Field{
			zap.String("printer", p.ID),
			zap.String("state", s.Text),
			zap.String("file", s.File),
			zap.Float64("progress", s.Progress),
		}
		for heater, t := range s.Temps {
			fields = append(fields, zap.String(heater, fmt.Sprintf("%.1f/%.1f", t.Actual, t.Target)))
		}
		log.Info("printer status", fields...)
	case "power-off":
		p := b.printerArg(log, args)
		if p == nil {
			return nil
		}
		b.requestPowerOff(log, msg.ID, p)
	default:
		log.Debug("unknown command")
	}
	return nil
}

func (b *Bot) printerArg(log *zap.Logger, args []string) *Printer {
	if len(args) < 2 {
		log.Warn("missing printer id")
		return nil
	}
	p, ok := b.printers[args[1]]
	if !ok {
		log.Warn("unknown printer", zap.String("printer", args[1]))
		return nil
	}
	return p
}

// requestPowerOff opens a confirmation keyed by the command's message id.
// A live INTERACTION_CREATE names the bot's prompt message instead, and
// this program posts no prompts, so clicks from a real gateway will not
// match until the prompt id is what gets registered here.
func (b *Bot) requestPowerOff(log *zap.Logger, messageID string, p *Printer) {
	if p.IsPrinting() {
		log.Warn("power off requested while printing", zap.String("printer", p.ID))
	}

	b.mu.Lock()
	b.pending[messageID] = p.ID
	b.mu.Unlock()

	b.tickets.Register(messageID, time.Now().Add(confirmWindow), func() {
		b.mu.Lock()
		delete(b.pending, messageID)
		b.mu.Unlock()
		b.results.WithLabelValues("expired").Inc()
		b.log.Info("power off confirmation expired", zap.String("printer", p.ID), zap.String("message", messageID))
	})
	log.Info("power off awaiting confirmation", zap.String("printer", p.ID), zap.String("message", messageID))
}

func (b *Bot) onInteraction(ev streamlink.Event) error {
	var in struct {
		Type    int `json:"type"`
		Message struct {
			ID string `json:"id"`
		} `json:"message"`
		Data struct {
			CustomID string `json:"custom_id"`
		} `json:"data"`
		Member struct {
			User discordUser `json:"user"`
		} `json:"member"`
		User discordUser `json:"user"`
	}
	if err := ev.Unmarshal(&in); err != nil {
		return fmt.Errorf("decode interaction: %w", err)
	}
	if in.Type != interactionComponent {
		return nil
	}

	// guild interactions carry member.user, DMs carry user
	user := in.Member.User
	if user.ID == "" {
		user = in.User
	}
	if !b.settings.Trusted(user.ID) {
		b.log.Warn("interaction from untrusted user ignored", zap.String("user", user.ID))
		return nil
	}

	b.mu.Lock()
	printerID, ok := b.pending[in.Message.ID]
	b.mu.Unlock()
	if !ok || !b.tickets.Resolve(in.Message.ID) {
		b.log.Debug("interaction for unknown or expired prompt", zap.String("message", in.Message.ID))
		return nil
	}
	b.mu.Lock()
	delete(b.pending, in.Message.ID)
	b.mu.Unlock()

	result := "cancelled"
	if in.Data.CustomID == confirmButton {
		result = "confirmed"
	}
	b.results.WithLabelValues(result).Inc()
	b.log.Info("power off "+result,
		zap.String("printer", printerID),
		zap.String("user", user.ID),
		zap.String("message", in.Message.ID))
	return nil
}

// Tick expires confirmations and logs progress for printing devices
// every UpdateEvery.
func (b *Bot) Tick(now time.Time) {
	b.tickets.Tick(now)

	every := b.settings.UpdateEvery()
	for _, id := range b.order {
		p := b.printers[id]

		b.mu.Lock()
		if !p.IsPrinting() {
			delete(b.lastUpdate, id)
			b.mu.Unlock()
			continue
		}
		last, seen := b.lastUpdate[id]
		due := !seen || now.Sub(last) >= every
		if due {
			b.lastUpdate[id] = now
		}
		b.mu.Unlock()

		// the first sighting only starts the clock, PrintStarted was logged already
		if due && seen {
			s := p.Status()
			b.log.Info("print progress",
				zap.String("printer", id),
				zap.String("file", s.File),
				zap.Float64("progress", s.Progress))
		}
	}
}

// PendingConfirmations is the number of unanswered power-off prompts.
func (b *Bot) PendingConfirmations() int {
	return b.tickets.Len()
}

// Printers returns the tracked printers in configuration order.
func (b *Bot) Printers() []*Printer {
	out := make([]*Printer, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.printers[id])
	}
	return out
}
