package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/the-eg/streamlink"
	"go.uber.org/zap"
)

type clientReport struct {
	Name      string  `json:"name"`
	State     string  `json:"state"`
	LatencyMS float64 `json:"latencyMs,omitempty"`
}

type printerReport struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Connected   bool                   `json:"connected"`
	Printing    bool                   `json:"printing"`
	State       string                 `json:"state"`
	File        string                 `json:"file,omitempty"`
	Progress    float64                `json:"progress"`
	Temps       map[string]Temperature `json:"temps,omitempty"`
	LastCurrent *time.Time             `json:"lastCurrent,omitempty"`
}

type statusReport struct {
	Clients              []clientReport  `json:"clients"`
	Printers             []printerReport `json:"printers"`
	PendingConfirmations int             `json:"pendingConfirmations"`
}

func buildReport(clients []*streamlink.Client, bot *Bot) statusReport {
	r := statusReport{PendingConfirmations: bot.PendingConfirmations()}
	for _, c := range clients {
		cr := clientReport{Name: c.Name(), State: c.State().String()}
		if l := c.CurrentLatency(); l > 0 {
			cr.LatencyMS = float64(l) / float64(time.Millisecond)
		}
		r.Clients = append(r.Clients, cr)
	}
	for _, p := range bot.Printers() {
		s := p.Status()
		pr := printerReport{
			ID:        p.ID,
			Name:      p.Name,
			Connected: p.IsConnected(),
			Printing:  p.IsPrinting(),
			State:     s.Text,
			File:      s.File,
			Progress:  s.Progress,
			Temps:     s.Temps,
		}
		if !s.LastCurrent.IsZero() {
			pr.LastCurrent = &s.LastCurrent
		}
		r.Printers = append(r.Printers, pr)
	}
	return r
}

// statusServer exposes health, Prometheus metrics and a JSON status
// snapshot.
type statusServer struct {
	engine *gin.Engine
	srv    *http.Server
}

func newStatusServer(addr string, gatherer prometheus.Gatherer, report func() statusReport, log *zap.Logger) *statusServer {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(accessLog(log))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	engine.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, report())
	})

	return &statusServer{
		engine: engine,
		srv: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Start blocks until the server stops. It returns http.ErrServerClosed
// after Shutdown.
func (s *statusServer) Start() error {
	return s.srv.ListenAndServe()
}

func (s *statusServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func accessLog(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}
