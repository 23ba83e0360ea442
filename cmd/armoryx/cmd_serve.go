package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/yairfalse/armoryx/internal/admin"
	"github.com/yairfalse/armoryx/internal/daemon"
	"github.com/yairfalse/armoryx/internal/detail"
	"github.com/yairfalse/armoryx/internal/server"
	itelemetry "github.com/yairfalse/armoryx/internal/telemetry"
)

func newServeCmd(a *app) *cobra.Command {
	var addr, metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin HTTP API",
		Long: `Serve the export, detail and changelist endpoints.

Endpoints:
- GET    /export/{namespace}/{entity}/{format}
- GET    /admin/{namespace}/{entity}/{id}/view
- GET    /api/v1/{namespace}/{entity}
- POST   /api/v1/{namespace}/{entity}
- DELETE /api/v1/{namespace}/{entity}/{id}
- GET    /healthz, /-/ready

Prometheus metrics are served on the metrics address when enabled.`,
		Example: `  armoryx serve --config armoryx.yaml
  armoryx serve --addr :8080 --metrics-addr :9091`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, err := a.load(cmd.Context())
			if err != nil {
				return err
			}
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			if metricsAddr != "" {
				a.cfg.Metrics.Addr = metricsAddr
				a.cfg.Metrics.Enabled = true
			}
			return runServe(ctx, a)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "API listen address (overrides server.addr)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Metrics listen address (enables metrics)")
	return cmd
}

// newHandler wires storage, policy, telemetry and the HTTP server into the
// API handler.
func newHandler(ctx context.Context, a *app, provider *itelemetry.Provider) (http.Handler, func() error, error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	fail := func(err error) (http.Handler, func() error, error) {
		_ = store.Close()
		return nil, nil, err
	}

	reg, err := a.registry(ctx, store)
	if err != nil {
		return fail(err)
	}
	exp, err := a.exporter(reg, provider)
	if err != nil {
		return fail(err)
	}
	det, err := detail.New(reg, exp.Projector(), detail.Options{
		TemplateDir: a.cfg.Detail.TemplateDir,
		Recorder:    provider,
		Logger:      a.logger,
	})
	if err != nil {
		return fail(err)
	}
	httpMetrics, err := daemon.NewHTTPMetrics(provider.Meter())
	if err != nil {
		return fail(fmt.Errorf("http metrics: %w", err))
	}
	lang, err := admin.ParseLanguage(a.cfg.Language)
	if err != nil {
		return fail(err)
	}

	srv := server.New(server.Options{
		Registry:    reg,
		Exporter:    exp,
		Detail:      det,
		Auth:        server.NewAuthenticator(a.cfg.Auth.Users),
		Logger:      a.logger,
		Language:    lang,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		Ready: func(context.Context) error {
			return store.Ping()
		},
		Middlewares: []func(http.Handler) http.Handler{httpMetrics.Middleware},
	})
	return srv.Routes(), store.Close, nil
}

func runServe(ctx context.Context, a *app) error {
	provider, err := itelemetry.NewProvider(ctx, a.cfg.OTEL)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	api, closeStore, err := newHandler(ctx, a, provider)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	var metrics http.Handler
	if a.cfg.Metrics.Enabled {
		metrics = provider.Handler()
	}

	d := daemon.New(daemon.Config{
		Addr:            a.cfg.Server.Addr,
		MetricsAddr:     a.cfg.Metrics.Addr,
		ReadTimeout:     a.cfg.Server.ReadTimeout,
		WriteTimeout:    a.cfg.Server.WriteTimeout,
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
	}, api, metrics)

	a.logger.Info().
		Str("addr", a.cfg.Server.Addr).
		Bool("metrics", metrics != nil).
		Str("storage", a.cfg.Storage.Path).
		Str("version", version).
		Msg("armoryx starting")

	return d.Run(ctx)
}
