// streamtail connects one streamlink client and echoes every event it
// receives to stdout as a JSON line.
//
// Configuration via environment variables:
//
//	DISCORD_TOKEN  bot token, used with --protocol gateway
//	OCTOPRINT_URL  OctoPrint base URL, used with --protocol push
//
// Usage:
//
//	OCTOPRINT_URL=http://octopi.local go run ./cmd/streamtail --protocol push
//	DISCORD_TOKEN=... go run ./cmd/streamtail --protocol gateway --event MESSAGE_CREATE
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"github.com/spf13/pflag"
	"github.com/the-eg/streamlink"
	"go.uber.org/zap"
)

var defaultEvents = map[string][]string{
	"gateway": {"READY", "RESUMED", "MESSAGE_CREATE", "INTERACTION_CREATE", "GUILD_CREATE"},
	"push":    {"connected", "current", "history", "event", "plugin", "slicingProgress", "timelapse"},
}

type line struct {
	Client string          `json:"client"`
	Conn   string          `json:"conn"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var protocol, auth string
	var events []string
	var verbose bool

	flagSet := pflag.NewFlagSet("streamtail", pflag.ContinueOnError)
	flagSet.StringVarP(&protocol, "protocol", "p", "push", "gateway or push")
	flagSet.StringSliceVarP(&events, "event", "e", nil, "event keys to echo (default: the protocol's common keys)")
	flagSet.StringVar(&auth, "auth", "", "push only: user:session credential")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log connection lifecycle to stderr")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if len(events) == 0 {
		events = defaultEvents[protocol]
	}

	log := zap.NewNop()
	if verbose {
		dev, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		log = dev
	}
	defer func() { _ = log.Sync() }()

	opts := []streamlink.Option{streamlink.WithLogger(log)}
	onError := streamlink.LogErrors(log)

	var client *streamlink.Client
	var err error
	switch protocol {
	case "gateway":
		client, err = streamlink.NewGatewayClient(streamlink.GatewayConfig{}, onError, opts...)
	case "push":
		cfg := streamlink.PushConfig{}
		if auth != "" {
			cfg.Credential = func(context.Context) (string, error) { return auth, nil }
		}
		client, err = streamlink.NewPushClient(cfg, onError, opts...)
	default:
		return fmt.Errorf("unknown protocol %q", protocol)
	}
	if err != nil {
		return err
	}

	var mu sync.Mutex
	enc := json.NewEncoder(os.Stdout)
	for _, key := range events {
		client.SubscribeFunc(key, func(ev streamlink.Event) error {
			mu.Lock()
			defer mu.Unlock()
			return enc.Encode(line{Client: ev.Client, Conn: ev.ConnID, Event: ev.Name, Data: ev.Data})
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := client.Start(ctx); err != nil {
		return err
	}
	defer client.Shutdown()

	log.Info("tailing", zap.String("protocol", protocol), zap.Strings("events", events))
	<-ctx.Done()
	return nil
}
