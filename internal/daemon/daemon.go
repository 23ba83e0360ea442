// Package daemon runs the armoryx HTTP servers until a signal or context
// cancellation stops them.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/rs/zerolog"
)

// Config holds daemon configuration
type Config struct {
	Addr            string
	MetricsAddr     string // empty disables the metrics listener
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Daemon serves the API handler and, optionally, the metrics handler.
type Daemon struct {
	cfg       Config
	api       http.Handler
	metrics   http.Handler
	startTime time.Time

	mu        sync.Mutex
	apiLn     net.Listener
	metricsLn net.Listener
}

// New creates a daemon. metrics may be nil.
func New(cfg Config, api, metrics http.Handler) *Daemon {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Daemon{
		cfg:       cfg,
		api:       api,
		metrics:   metrics,
		startTime: time.Now(),
	}
}

// Listen binds the configured addresses. Run calls it when needed.
func (d *Daemon) Listen() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.apiLn == nil {
		ln, err := net.Listen("tcp", d.cfg.Addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", d.cfg.Addr, err)
		}
		d.apiLn = ln
	}
	if d.metricsLn == nil && d.metrics != nil && d.cfg.MetricsAddr != "" {
		ln, err := net.Listen("tcp", d.cfg.MetricsAddr)
		if err != nil {
			_ = d.apiLn.Close()
			d.apiLn = nil
			return fmt.Errorf("listen %s: %w", d.cfg.MetricsAddr, err)
		}
		d.metricsLn = ln
	}
	return nil
}

// Addr returns the bound API address, or nil before Listen.
func (d *Daemon) Addr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.apiLn == nil {
		return nil
	}
	return d.apiLn.Addr()
}

// MetricsAddr returns the bound metrics address, or nil when disabled.
func (d *Daemon) MetricsAddr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.metricsLn == nil {
		return nil
	}
	return d.metricsLn.Addr()
}

// Run serves until ctx is cancelled, SIGINT/SIGTERM arrives or a server
// fails. A clean stop returns nil.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Listen(); err != nil {
		return err
	}
	logger := zerolog.Ctx(ctx)

	var g run.Group

	api := d.newServer(d.api)
	g.Add(func() error {
		logger.Info().Str("addr", d.apiLn.Addr().String()).Msg("starting api server")
		return serve(api, d.apiLn)
	}, func(error) {
		d.shutdown(api, "api")
	})

	if d.metricsLn != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", d.metrics)
		mux.HandleFunc("/-/healthy", d.handleHealthy)
		metrics := d.newServer(mux)
		g.Add(func() error {
			logger.Info().Str("addr", d.metricsLn.Addr().String()).Msg("starting metrics server")
			return serve(metrics, d.metricsLn)
		}, func(error) {
			d.shutdown(metrics, "metrics")
		})
	}

	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	err := g.Run()
	logger.Info().Dur("uptime", time.Since(d.startTime)).Msg("shut down")

	var sig run.SignalError
	if errors.As(err, &sig) || ctx.Err() != nil {
		return nil
	}
	return err
}

func (d *Daemon) newServer(h http.Handler) *http.Server {
	return &http.Server{
		Handler:           h,
		ReadTimeout:       d.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      d.cfg.WriteTimeout,
	}
}

func serve(srv *http.Server, ln net.Listener) error {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (d *Daemon) shutdown(srv *http.Server, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("server", name).Msg("graceful shutdown failed")
		_ = srv.Close()
	}
}

func (d *Daemon) handleHealthy(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(d.Health())
}

// Health returns daemon health status
func (d *Daemon) Health() HealthStatus {
	return HealthStatus{
		Status: "healthy",
		Uptime: int64(time.Since(d.startTime).Seconds()),
	}
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status string `json:"status"`
	Uptime int64  `json:"uptime_seconds"`
}
