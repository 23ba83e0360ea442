package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/yairfalse/armoryx/internal/plugin"
	_ "github.com/yairfalse/armoryx/internal/plugin/aws"
	itelemetry "github.com/yairfalse/armoryx/internal/telemetry"
)

const defaultRegion = "us-east-1"

func newSyncCmd(a *app) *cobra.Command {
	var (
		regions []string
		profile string
	)

	cmd := &cobra.Command{
		Use:   "sync [provider]",
		Short: "Import instances and VPCs from a cloud provider",
		Long: `Import instances and VPCs from a cloud provider into the inventory.

Records are matched by their provider id: new ones are created and known
ones updated. Instances are linked to VPCs imported in the same run or
earlier. Regions default to aws.regions from the config file.`,
		Example: `  armoryx sync aws --region us-east-1
  armoryx sync aws --region us-east-1 --region eu-west-1 --profile prod`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "aws"
			if len(args) == 1 {
				name = args[0]
			}
			factory, ok := plugin.Get(name)
			if !ok {
				return fmt.Errorf("unknown provider %q (available: %s)", name, strings.Join(plugin.Names(), ", "))
			}

			ctx, err := a.load(cmd.Context())
			if err != nil {
				return err
			}
			if len(regions) == 0 {
				regions = a.cfg.AWS.Regions
			}
			if len(regions) == 0 {
				regions = []string{defaultRegion}
			}
			if profile == "" {
				profile = a.cfg.AWS.Profile
			}

			provider, err := itelemetry.NewProvider(ctx, a.cfg.OTEL)
			if err != nil {
				return fmt.Errorf("telemetry: %w", err)
			}
			defer func() { _ = provider.Shutdown(ctx) }()

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			out := cmd.OutOrStdout()
			for _, region := range regions {
				p, err := factory(ctx, plugin.Config{Region: region, Profile: profile})
				if err != nil {
					return fmt.Errorf("%s/%s: %w", name, region, err)
				}
				res, err := plugin.Sync(ctx, p, store, provider)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s/%s: %s VPCs (%d new, %d updated), %s instances (%d new, %d updated) in %s\n",
					res.Provider, res.Region,
					humanize.Comma(int64(res.VpcsCreated+res.VpcsUpdated)), res.VpcsCreated, res.VpcsUpdated,
					humanize.Comma(int64(res.InstancesCreated+res.InstancesUpdated)), res.InstancesCreated, res.InstancesUpdated,
					res.Duration.Round(time.Millisecond))
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&regions, "region", "r", nil, "Region to import (repeatable)")
	cmd.Flags().StringVar(&profile, "profile", "", "AWS shared config profile")
	return cmd
}
