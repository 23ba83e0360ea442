package main

import (
	"context"
	"fmt"

	"github.com/yairfalse/armoryx/internal/admin"
	"github.com/yairfalse/armoryx/internal/config"
	"github.com/yairfalse/armoryx/internal/export"
	"github.com/yairfalse/armoryx/policy"
	"github.com/yairfalse/armoryx/storage"
	"github.com/yairfalse/armoryx/telemetry"
)

// app carries what every subcommand needs: the config file and, once
// loaded, the configuration and logger.
type app struct {
	configPath string

	cfg    *config.Config
	logger *telemetry.Logger
}

// load reads and validates the configuration, then sets up logging.
// It is safe to call more than once.
func (a *app) load(ctx context.Context) (context.Context, error) {
	if a.cfg == nil {
		cfg := config.Default()
		if a.configPath != "" {
			var err error
			if cfg, err = config.Load(a.configPath); err != nil {
				return ctx, err
			}
		}
		if err := cfg.Validate(); err != nil {
			return ctx, fmt.Errorf("invalid config: %w", err)
		}
		if err := telemetry.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
			return ctx, err
		}
		a.cfg = cfg
		a.logger = telemetry.NewLogger(cfg.OTEL.ServiceName)
		a.logger.SetDefault()
	}
	return a.logger.Attach(ctx), nil
}

// openStore opens the configured database.
func (a *app) openStore(ctx context.Context) (*storage.Store, error) {
	store, err := storage.Open(a.cfg.Storage.Path)
	if err != nil {
		a.logger.LogStorageError(ctx, "open", err)
		return nil, err
	}
	instances, vpcs, err := store.Counts()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.logger.LogStorageOpen(ctx, store.Path(), instances, vpcs)
	return store, nil
}

// registry loads the permission policy and registers the inventory admins.
func (a *app) registry(ctx context.Context, store *storage.Store) (*admin.Registry, error) {
	engine, err := policy.Load(ctx, a.cfg.Auth.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	a.logger.WithContext(ctx).Info().
		Str("policy_file", a.cfg.Auth.PolicyFile).
		Strs("modules", engine.Modules()).
		Msg("policy loaded")

	reg := admin.NewRegistry()
	admin.RegisterInventory(reg, store, engine)
	return reg, nil
}

// exporter builds an Exporter from the export settings. rec may be nil.
func (a *app) exporter(reg *admin.Registry, rec export.Recorder) (*export.Exporter, error) {
	loc, err := a.cfg.Location()
	if err != nil {
		return nil, err
	}
	return export.NewExporter(reg, export.Options{
		Location:        loc,
		CellErrorDetail: *a.cfg.Export.CellErrorDetail,
		Spreadsheet:     *a.cfg.Export.Spreadsheet,
		Logger:          a.logger,
	}, rec), nil
}
