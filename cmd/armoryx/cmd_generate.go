package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/yairfalse/armoryx/internal/seed"
)

func newGenerateCmd(a *app) *cobra.Command {
	var randSeed uint64

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate demo inventory",
		Long: `Generate random VPC and instance records for demos and load testing.

Generate VPCs first so instances can be attached to them.`,
		Example: `  armoryx generate vpcs --count 10
  armoryx generate instances --count 200
  armoryx generate instances --count 5000 --seed 42`,
	}
	cmd.PersistentFlags().Uint64Var(&randSeed, "seed", 0, "Random seed (0 picks one from the clock)")

	generator := func() *seed.Generator {
		s := randSeed
		if s == 0 {
			s = uint64(time.Now().UnixNano())
		}
		return seed.NewGenerator(s, time.Now)
	}

	cmd.AddCommand(
		newGenerateEntityCmd(a, "vpcs", "VPC", 10, generator, (*seed.Seeder).SeedVpcs),
		newGenerateEntityCmd(a, "instances", "instance", 200, generator, (*seed.Seeder).SeedInstances),
	)
	return cmd
}

type seedFunc func(*seed.Seeder, context.Context, int) (*seed.Report, error)

func newGenerateEntityCmd(a *app, use, noun string, defaultCount int, generator func() *seed.Generator, run seedFunc) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Generate %s records", noun),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if count <= 0 {
				return fmt.Errorf("--count must be positive (got %d)", count)
			}
			ctx, err := a.load(cmd.Context())
			if err != nil {
				return err
			}
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Generating %s %s records...\n", humanize.Comma(int64(count)), noun)

			report, err := run(seed.NewSeeder(store, generator(), a.logger), ctx, count)
			if err != nil {
				return err
			}
			printReport(out, noun, report)
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", defaultCount, "Number of records to create")
	return cmd
}

func printReport(w io.Writer, noun string, r *seed.Report) {
	fmt.Fprintf(w, "Created %s %s records\n", humanize.Comma(int64(r.Created)), noun)
	fmt.Fprintln(w, "\nStatistics:")
	for _, c := range r.ByAccount {
		fmt.Fprintf(w, "  %s: %s\n", c.Label, humanize.Comma(int64(c.Count)))
	}
	for _, c := range r.ByGroup {
		fmt.Fprintf(w, "  %s: %s\n", c.Label, humanize.Comma(int64(c.Count)))
	}
}
