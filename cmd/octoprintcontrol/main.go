// OctoPrintControl bridges a Discord bot to one or more OctoPrint
// servers: it keeps a gateway session and a push channel per printer
// alive, tracks printer state and answers a few chat commands.
//
// Usage:
//
//	octoprintcontrol [--config OctoPrintControl.json] [--log-level debug] [--metrics-addr :9100]
//
// Every config key can be overridden from the environment with an OPC_
// prefix (OPC_TOKEN, OPC_UPDATECHANNEL, OPC_LOG_LEVEL, ...).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"github.com/the-eg/streamlink"
	"go.uber.org/zap"
)

const (
	appName      = "octoprintcontrol"
	tickInterval = 100 * time.Millisecond
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flagSet := pflag.NewFlagSet(appName, pflag.ContinueOnError)
	configPath := flagSet.StringP("config", "c", "OctoPrintControl.json", "path to the config file (JSON, YAML or TOML)")
	flagSet.String("log-level", "", "log level (debug, info, warn, error)")
	flagSet.String("metrics-addr", "", "serve /metrics, /status and /healthz on this address")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	// the config file may also be passed positionally
	if rest := flagSet.Args(); len(rest) > 0 && !flagSet.Changed("config") {
		*configPath = rest[0]
	}

	v := newViper(*configPath)
	if err := v.BindPFlag("log.level", flagSet.Lookup("log-level")); err != nil {
		return err
	}
	if err := v.BindPFlag("metricsAddr", flagSet.Lookup("metrics-addr")); err != nil {
		return err
	}

	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}

	log := newLogger(appName, cfg.Log)
	defer func() { _ = log.Sync() }()
	log.Info("starting", zap.String("config", v.ConfigFileUsed()), zap.Int("printers", len(cfg.Printers)))

	settings := newSettings(cfg)
	watchConfig(v, settings, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := streamlink.NewMetrics(reg)
	if err != nil {
		return err
	}

	events := streamlink.NewRegistry()
	onError := streamlink.LogErrors(log.Named("errors"))
	common := []streamlink.Option{
		streamlink.WithLogger(log),
		streamlink.WithRegistry(events),
		streamlink.WithMetrics(metrics),
	}

	gateway, err := streamlink.NewGatewayClient(streamlink.GatewayConfig{Token: cfg.Token}, onError, common...)
	if err != nil {
		return fmt.Errorf("gateway client: %w", err)
	}
	clients := []*streamlink.Client{gateway}

	printers := make([]*Printer, 0, len(cfg.Printers))
	for _, pc := range cfg.Printers {
		push := streamlink.PushConfig{BaseURL: pc.URL}
		if pc.Auth != "" {
			push.Credential = staticCredential(pc.Auth)
		}
		opts := append([]streamlink.Option{streamlink.WithName(pc.ID)}, common...)
		client, err := streamlink.NewPushClient(push, onError, opts...)
		if err != nil {
			return fmt.Errorf("printer %s: %w", pc.ID, err)
		}
		clients = append(clients, client)
		printers = append(printers, NewPrinter(pc, log))
	}

	bot, err := NewBot(settings, printers, gateway.CurrentLatency, reg, log)
	if err != nil {
		return err
	}
	bot.Subscribe(events)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, c := range clients {
		if err := c.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", c.Name(), err)
		}
	}
	defer func() {
		for _, c := range clients {
			_ = c.Shutdown()
		}
		log.Info("stopped")
	}()

	if cfg.MetricsAddr != "" {
		srv := newStatusServer(cfg.MetricsAddr, reg, func() statusReport {
			return buildReport(clients, bot)
		}, log)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("status server stopped", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info("status server listening", zap.String("addr", cfg.MetricsAddr))
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return nil
		case now := <-ticker.C:
			bot.Tick(now)
		}
	}
}

func staticCredential(auth string) streamlink.CredentialFunc {
	return func(context.Context) (string, error) {
		return auth, nil
	}
}
