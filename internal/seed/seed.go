// Package seed fills the inventory with random demo records.
package seed

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/yairfalse/armoryx/pkg/inventory"
	"github.com/yairfalse/armoryx/storage"
	"github.com/yairfalse/armoryx/telemetry"
)

// BatchSize is the number of records written per transaction.
const BatchSize = 100

// Value pools shared by both generators.
var (
	Accounts = []string{"aliyun", "tencent", "aws", "azure", "huawei"}
	Regions  = []string{"cn-beijing", "cn-shanghai", "cn-guangzhou", "cn-shenzhen", "us-east-1", "us-west-1"}

	instancePrefixes = []string{"i-", "ins-", "ecs-"}
	vpcPrefixes      = []string{"vpc-", "vpc_", "vpc"}

	hostRoles   = []string{"web", "db", "app", "cache", "api", "worker", "proxy"}
	hostKinds   = []string{"server", "node", "instance", "host", "vm"}
	envNames    = []string{"production", "development", "testing", "staging", "demo"}
	netSuffixes = []string{"vpc", "network", "net"}
)

const hexDigits = "0123456789abcdef"

// Generator produces random records.
type Generator struct {
	rnd *rand.Rand
	now func() time.Time
}

// NewGenerator creates a generator. The same seed yields the same records
// for the same clock.
func NewGenerator(seed uint64, now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{
		rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now: now,
	}
}

func (g *Generator) pick(values []string) string {
	return values[g.rnd.IntN(len(values))]
}

func (g *Generator) hex(n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(hexDigits[g.rnd.IntN(len(hexDigits))])
	}
	return b.String()
}

// between returns a random integer in [lo, hi].
func (g *Generator) between(lo, hi int) int {
	return lo + g.rnd.IntN(hi-lo+1)
}

// InstanceID returns e.g. "ecs-3fa85f6457174562".
func (g *Generator) InstanceID() string {
	return g.pick(instancePrefixes) + g.hex(16)
}

// VpcID returns e.g. "vpc-0a1b2c3d4e5f".
func (g *Generator) VpcID() string {
	return g.pick(vpcPrefixes) + g.hex(12)
}

// Vpc returns a random VPC with a fresh id.
func (g *Generator) Vpc() *inventory.Vpc {
	return &inventory.Vpc{
		Account: g.pick(Accounts),
		Region:  g.pick(Regions),
		VpcID:   g.VpcID(),
		VpcName: fmt.Sprintf("%s-%s-%d", g.pick(envNames), g.pick(netSuffixes), g.between(1, 99)),
	}
}

// Instance returns a random instance. When vpcs is not empty the instance
// references one of them.
func (g *Generator) Instance(vpcs []int64) *inventory.Instance {
	states := inventory.States()
	age := time.Duration(g.between(0, 30))*24*time.Hour +
		time.Duration(g.between(0, 23))*time.Hour +
		time.Duration(g.between(0, 59))*time.Minute

	in := &inventory.Instance{
		Account:      g.pick(Accounts),
		Region:       g.pick(Regions),
		InstanceID:   g.InstanceID(),
		InstanceName: fmt.Sprintf("%s-%s-%d", g.pick(hostRoles), g.pick(hostKinds), g.between(1, 999)),
		IP: fmt.Sprintf("%d.%d.%d.%d",
			g.between(10, 255), g.between(1, 255), g.between(1, 255), g.between(1, 255)),
		SecurityGroupID: "sg-" + g.hex(12),
		State:           states[g.rnd.IntN(len(states))],
		CreateTime:      g.now().Add(-age).UTC(),
	}
	if len(vpcs) > 0 {
		pk := vpcs[g.rnd.IntN(len(vpcs))]
		in.VpcPK = &pk
	}
	return in
}

// Count is one line of a statistics summary.
type Count struct {
	Label string
	Count int
}

// Report summarises a seeding run.
type Report struct {
	Created int
	// ByAccount lists every known account; VPC reports skip empty ones.
	ByAccount []Count
	// ByGroup is per state for instances and per region for VPCs.
	ByGroup []Count
}

// Seeder writes generated records to a store.
type Seeder struct {
	store  *storage.Store
	gen    *Generator
	logger *telemetry.Logger
}

// NewSeeder creates a Seeder.
func NewSeeder(store *storage.Store, gen *Generator, logger *telemetry.Logger) *Seeder {
	if logger == nil {
		logger = telemetry.NewLogger("armoryx-seed")
	}
	return &Seeder{store: store, gen: gen, logger: logger}
}

// SeedVpcs creates count VPCs with ids unique across the store.
func (s *Seeder) SeedVpcs(ctx context.Context, count int) (*Report, error) {
	seen := make(map[string]bool, count)
	batch := make([]*inventory.Vpc, 0, min(count, BatchSize))
	created := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		s.logger.LogBatchOperation(ctx, "seed_vpcs", len(batch))
		if err := s.store.CreateVpcs(batch); err != nil {
			s.logger.LogStorageError(ctx, "seed_vpcs", err)
			return fmt.Errorf("insert vpcs: %w", err)
		}
		created += len(batch)
		batch = batch[:0]
		return nil
	}

	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v := s.gen.Vpc()
		for seen[v.VpcID] || s.vpcExists(v.VpcID) {
			v.VpcID = s.gen.VpcID()
		}
		seen[v.VpcID] = true

		batch = append(batch, v)
		if len(batch) == BatchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	report := &Report{Created: created}
	for _, account := range Accounts {
		if n := s.store.CountVpcsByAccount(account); n > 0 {
			report.ByAccount = append(report.ByAccount, Count{Label: account, Count: n})
		}
	}
	for _, region := range Regions {
		n, err := s.store.CountVpcsByRegion(region)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			report.ByGroup = append(report.ByGroup, Count{Label: region, Count: n})
		}
	}
	return report, nil
}

// SeedInstances creates count instances with ids unique across the store,
// each attached to a random existing VPC when there is one.
func (s *Seeder) SeedInstances(ctx context.Context, count int) (*Report, error) {
	vpcs, err := s.store.ListVpcs()
	if err != nil {
		return nil, fmt.Errorf("list vpcs: %w", err)
	}
	vpcPKs := make([]int64, len(vpcs))
	for i, v := range vpcs {
		vpcPKs[i] = v.ID
	}

	seen := make(map[string]bool, count)
	batch := make([]*inventory.Instance, 0, min(count, BatchSize))
	created := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		s.logger.LogBatchOperation(ctx, "seed_instances", len(batch))
		if err := s.store.CreateInstances(batch); err != nil {
			s.logger.LogStorageError(ctx, "seed_instances", err)
			return fmt.Errorf("insert instances: %w", err)
		}
		created += len(batch)
		batch = batch[:0]
		return nil
	}

	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		in := s.gen.Instance(vpcPKs)
		for seen[in.InstanceID] || s.instanceExists(in.InstanceID) {
			in.InstanceID = s.gen.InstanceID()
		}
		seen[in.InstanceID] = true

		batch = append(batch, in)
		if len(batch) == BatchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	report := &Report{Created: created}
	for _, account := range Accounts {
		report.ByAccount = append(report.ByAccount, Count{Label: account, Count: s.store.CountInstancesByAccount(account)})
	}
	for _, state := range inventory.States() {
		report.ByGroup = append(report.ByGroup, Count{Label: string(state), Count: s.store.CountInstancesByState(state)})
	}
	return report, nil
}

func (s *Seeder) vpcExists(id string) bool {
	_, err := s.store.VpcByVpcID(id)
	return err == nil
}

func (s *Seeder) instanceExists(id string) bool {
	_, err := s.store.InstanceByInstanceID(id)
	return err == nil
}
