// Package aws imports EC2 instances and VPCs into the armoryx inventory.
package aws

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/briandowns/spinner"
	"github.com/rs/zerolog"

	"github.com/yairfalse/armoryx/internal/plugin"
)

// ProviderName is the registry key of this plugin.
const ProviderName = "aws"

func init() {
	plugin.Register(ProviderName, func(ctx context.Context, cfg plugin.Config) (plugin.Plugin, error) {
		return New(ctx, cfg)
	})
}

// Plugin implements the AWS importer for one region.
type Plugin struct {
	region    string
	accountID string

	// AWS client (interface for testability)
	ec2Client EC2API

	// progress receives a spinner while collecting; nil disables it.
	progress io.Writer
}

// New creates a new AWS plugin using the default credential chain.
func New(ctx context.Context, cfg plugin.Config) (*Plugin, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	ec2Client := ec2.NewFromConfig(awsCfg)

	accountID, err := getAccountID(ctx, ec2Client)
	if err != nil {
		return nil, fmt.Errorf("get account id: %w", err)
	}

	return &Plugin{
		region:    cfg.Region,
		accountID: accountID,
		ec2Client: ec2Client,
		progress:  os.Stderr,
	}, nil
}

func getAccountID(ctx context.Context, client EC2API) (string, error) {
	output, err := client.DescribeAccountAttributes(ctx, &ec2.DescribeAccountAttributesInput{})
	if err != nil {
		return "", err
	}

	for _, attr := range output.AccountAttributes {
		if aws.ToString(attr.AttributeName) == "account-id" && len(attr.AttributeValues) > 0 {
			return aws.ToString(attr.AttributeValues[0].AttributeValue), nil
		}
	}

	return "unknown", nil
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return ProviderName
}

// Region returns the region this plugin reads from.
func (p *Plugin) Region() string {
	return p.region
}

// Collect lists VPCs and instances in the region.
func (p *Plugin) Collect(ctx context.Context) (*plugin.Snapshot, error) {
	logger := zerolog.Ctx(ctx)

	sp := p.startSpinner(fmt.Sprintf(" Listing VPCs in %s ...", p.region))
	vpcs, err := p.collectVpcs(ctx)
	sp.Stop()
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("region", p.region).Int("count", len(vpcs)).Msg("vpcs listed")

	sp = p.startSpinner(fmt.Sprintf(" Listing instances in %s ...", p.region))
	instances, err := p.collectInstances(ctx)
	sp.Stop()
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("region", p.region).Int("count", len(instances)).Msg("instances listed")

	return &plugin.Snapshot{Vpcs: vpcs, Instances: instances}, nil
}

type progress interface{ Stop() }

type noProgress struct{}

func (noProgress) Stop() {}

func (p *Plugin) startSpinner(suffix string) progress {
	if p.progress == nil {
		return noProgress{}
	}
	s := spinner.New(spinner.CharSets[9], 100*time.Millisecond, spinner.WithWriter(p.progress))
	s.Suffix = suffix
	s.Start()
	return s
}
