// Package plugin defines cloud inventory importers and syncs what they
// discover into the store.
package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/armoryx/pkg/inventory"
	"github.com/yairfalse/armoryx/telemetry"
)

// Plugin discovers the inventory of one provider region.
// Keep it simple: Name + Region + Collect.
type Plugin interface {
	// Name returns the provider identifier (e.g., "aws")
	Name() string

	// Region returns the region this plugin reads from.
	Region() string

	// Collect returns everything currently present in the region.
	Collect(ctx context.Context) (*Snapshot, error)
}

// Snapshot is the inventory of one region at one point in time.
type Snapshot struct {
	Vpcs      []*inventory.Vpc
	Instances []Discovered
}

// Discovered is an instance plus the provider id of its VPC, which is
// resolved to a primary key during sync.
type Discovered struct {
	Instance *inventory.Instance
	VpcID    string
}

// Config is passed to plugin factories.
type Config struct {
	Region  string
	Profile string
}

// Factory creates a plugin for one region.
type Factory func(ctx context.Context, cfg Config) (Plugin, error)

var (
	registry = make(map[string]Factory)
	mu       sync.RWMutex
)

// Register adds a factory to the registry. A second registration under the
// same name replaces the first.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = f
}

// Get returns a factory by name.
func Get(name string) (Factory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// Names returns all registered plugin names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear removes all factories from the registry. Used for testing.
func Clear() {
	mu.Lock()
	defer mu.Unlock()
	registry = make(map[string]Factory)
}

// Store is the storage surface a sync writes through.
type Store interface {
	UpsertVpcs(batch []*inventory.Vpc) (created, updated int, err error)
	UpsertInstances(batch []*inventory.Instance) (created, updated int, err error)
	VpcByVpcID(id string) (*inventory.Vpc, error)
}

// Recorder receives per-entity sync counts.
type Recorder interface {
	RecordSync(ctx context.Context, provider, region, entity string, created, updated int)
}

// Result summarises one sync.
type Result struct {
	Provider         string
	Region           string
	VpcsCreated      int
	VpcsUpdated      int
	InstancesCreated int
	InstancesUpdated int
	Duration         time.Duration
}

// Sync collects a snapshot from p and upserts it into store. VPCs are
// written first so instances can be linked to them by provider id; an
// instance whose VPC is unknown is stored without one. rec may be nil.
func Sync(ctx context.Context, p Plugin, store Store, rec Recorder) (*Result, error) {
	ctx, span := otel.Tracer("armoryx.plugin").Start(ctx, "plugin.sync",
		trace.WithAttributes(
			attribute.String("provider", p.Name()),
			attribute.String("region", p.Region()),
		))
	defer span.End()

	logger := zerolog.Ctx(ctx).With().
		Str("provider", p.Name()).
		Str("region", p.Region()).
		Logger()

	start := time.Now()
	res := &Result{Provider: p.Name(), Region: p.Region()}

	snap, err := p.Collect(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "collect failed")
		return nil, fmt.Errorf("collect %s/%s: %w", p.Name(), p.Region(), err)
	}

	res.VpcsCreated, res.VpcsUpdated, err = store.UpsertVpcs(snap.Vpcs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert vpcs failed")
		return nil, fmt.Errorf("upsert vpcs: %w", err)
	}

	instances := make([]*inventory.Instance, 0, len(snap.Instances))
	for _, d := range snap.Instances {
		in := d.Instance
		in.VpcPK = nil
		if d.VpcID != "" {
			if v, err := store.VpcByVpcID(d.VpcID); err == nil {
				pk := v.ID
				in.VpcPK = &pk
			} else {
				logger.Debug().Str("instance_id", in.InstanceID).Str("vpc_id", d.VpcID).Msg("vpc not imported, leaving instance unlinked")
			}
		}
		instances = append(instances, in)
	}

	res.InstancesCreated, res.InstancesUpdated, err = store.UpsertInstances(instances)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert instances failed")
		return nil, fmt.Errorf("upsert instances: %w", err)
	}
	res.Duration = time.Since(start)

	if rec != nil {
		rec.RecordSync(ctx, res.Provider, res.Region, "vpc", res.VpcsCreated, res.VpcsUpdated)
		rec.RecordSync(ctx, res.Provider, res.Region, "instance", res.InstancesCreated, res.InstancesUpdated)
	}
	telemetry.RecordSyncCompletedEvent(span, res.Provider, res.Region,
		res.VpcsCreated, res.VpcsUpdated, res.InstancesCreated, res.InstancesUpdated,
		res.Duration.Seconds())

	logger.Info().
		Int("vpcs_created", res.VpcsCreated).
		Int("vpcs_updated", res.VpcsUpdated).
		Int("instances_created", res.InstancesCreated).
		Int("instances_updated", res.InstancesUpdated).
		Dur("duration", res.Duration).
		Msg("sync complete")

	return res, nil
}
