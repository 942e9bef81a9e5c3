package main

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/the-eg/streamlink"
	"go.uber.org/zap"
)

// Temperature is one heater reading.
type Temperature struct {
	Actual float64
	Target float64
}

// StateFlags mirrors the flags of an OctoPrint "current" message.
type StateFlags struct {
	Operational   bool `json:"operational"`
	Paused        bool `json:"paused"`
	Printing      bool `json:"printing"`
	Pausing       bool `json:"pausing"`
	Cancelling    bool `json:"cancelling"`
	SDReady       bool `json:"sdReady"`
	Error         bool `json:"error"`
	Ready         bool `json:"ready"`
	ClosedOrError bool `json:"closedOrError"`
}

type currentMessage struct {
	State struct {
		Text  string     `json:"text"`
		Flags StateFlags `json:"flags"`
	} `json:"state"`
	Job struct {
		File struct {
			Display *string `json:"display"`
		} `json:"file"`
	} `json:"job"`
	Progress struct {
		PrintTime     *float64 `json:"printTime"`
		PrintTimeLeft *float64 `json:"printTimeLeft"`
	} `json:"progress"`
	Temps []map[string]json.RawMessage `json:"temps"`
}

type eventMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Printer tracks the last reported status of one device.
type Printer struct {
	ID   string
	Name string

	mu            sync.Mutex
	text          string
	flags         StateFlags
	printTime     float64
	printTimeLeft float64
	file          string
	temps         map[string]Temperature
	lastCurrent   time.Time

	log *zap.Logger
}

func NewPrinter(cfg PrinterConfig, log *zap.Logger) *Printer {
	name := cfg.Name
	if name == "" {
		name = cfg.ID
	}
	return &Printer{
		ID:    cfg.ID,
		Name:  name,
		temps: make(map[string]Temperature),
		log:   log.Named("printer").With(zap.String("printer", cfg.ID)),
	}
}

// HandleCurrent updates the printer from a "current" message.
func (p *Printer) HandleCurrent(ev streamlink.Event) error {
	var msg currentMessage
	if err := ev.Unmarshal(&msg); err != nil {
		return fmt.Errorf("decode current: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.text = msg.State.Text
	p.flags = msg.State.Flags
	p.printTime = valueOr(msg.Progress.PrintTime, 0)
	p.printTimeLeft = valueOr(msg.Progress.PrintTimeLeft, 0)
	p.file = ""
	if msg.Job.File.Display != nil {
		p.file = *msg.Job.File.Display
	}
	p.lastCurrent = time.Now()

	if len(msg.Temps) > 0 {
		for heater, raw := range msg.Temps[0] {
			var t struct {
				Actual *float64 `json:"actual"`
				Target *float64 `json:"target"`
			}
			// "time" and anything without a reading is skipped
			if json.Unmarshal(raw, &t) != nil || t.Actual == nil {
				continue
			}
			p.temps[heater] = Temperature{Actual: *t.Actual, Target: valueOr(t.Target, 0)}
		}
	}
	return nil
}

// HandleEvent logs the events worth telling people about.
func (p *Printer) HandleEvent(ev streamlink.Event) error {
	var msg eventMessage
	if err := ev.Unmarshal(&msg); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}

	var payload struct {
		Name    string `json:"name"`
		IsPSUOn *bool  `json:"isPSUOn"`
	}
	if len(msg.Payload) > 0 && string(msg.Payload) != "null" {
		_ = json.Unmarshal(msg.Payload, &payload)
	}

	switch msg.Type {
	case "PrintStarted":
		p.log.Info("starting print", zap.String("file", payload.Name))
	case "PrintCancelled":
		p.log.Warn("print cancelled", zap.String("file", payload.Name))
	case "PrintDone":
		p.log.Info("print finished", zap.String("file", payload.Name))
	case "Connected":
		p.log.Info("printer connected")
	case "Disconnected":
		p.log.Warn("printer disconnected")
	case "plugin_psucontrol_psu_state_changed":
		if payload.IsPSUOn != nil {
			p.log.Info("power state changed", zap.Bool("on", *payload.IsPSUOn))
		}
	default:
		p.log.Debug("printer event", zap.String("type", msg.Type))
	}
	return nil
}

func (p *Printer) IsPrinting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flags.Printing
}

func (p *Printer) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.lastCurrent.IsZero() && !p.flags.ClosedOrError
}

// Progress is the completed fraction of the current job, by time.
func (p *Printer) Progress() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := p.printTime + p.printTimeLeft
	if total == 0 {
		return 0
	}
	return p.printTime / total
}

// Status is a snapshot for status commands and logs.
type Status struct {
	Text        string
	File        string
	Progress    float64
	Temps       map[string]Temperature
	LastCurrent time.Time
}

func (p *Printer) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	temps := make(map[string]Temperature, len(p.temps))
	for k, v := range p.temps {
		temps[k] = v
	}
	s := Status{
		Text:        p.text,
		File:        p.file,
		Temps:       temps,
		LastCurrent: p.lastCurrent,
	}
	if total := p.printTime + p.printTimeLeft; total > 0 {
		s.Progress = p.printTime / total
	}
	return s
}

func valueOr[T any](v *T, def T) T {
	if v == nil {
		return def
	}
	return *v
}
