package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/yairfalse/armoryx/internal/plugin"
	"github.com/yairfalse/armoryx/pkg/inventory"
)

// Placeholders for fields EC2 leaves empty on terminated instances.
const (
	noAddress       = "0.0.0.0"
	noSecurityGroup = "-"
)

// collectVpcs lists VPCs.
func (p *Plugin) collectVpcs(ctx context.Context) ([]*inventory.Vpc, error) {
	var vpcs []*inventory.Vpc
	var nextToken *string

	for {
		output, err := p.ec2Client.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("describe vpcs: %w", err)
		}

		for _, vpc := range output.Vpcs {
			vpcs = append(vpcs, p.convertVpc(vpc))
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return vpcs, nil
}

func (p *Plugin) convertVpc(vpc ec2types.Vpc) *inventory.Vpc {
	id := aws.ToString(vpc.VpcId)
	name := extractNameTag(vpc.Tags)
	if name == "" {
		name = id
	}
	return &inventory.Vpc{
		Account: p.accountID,
		Region:  p.region,
		VpcID:   id,
		VpcName: name,
	}
}

// collectInstances lists EC2 instances.
func (p *Plugin) collectInstances(ctx context.Context) ([]plugin.Discovered, error) {
	var instances []plugin.Discovered
	var nextToken *string

	for {
		output, err := p.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("describe instances: %w", err)
		}

		for _, reservation := range output.Reservations {
			for _, instance := range reservation.Instances {
				instances = append(instances, p.convertInstance(instance))
			}
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return instances, nil
}

func (p *Plugin) convertInstance(instance ec2types.Instance) plugin.Discovered {
	id := aws.ToString(instance.InstanceId)

	name := extractNameTag(instance.Tags)
	if name == "" {
		name = id
	}

	ip := aws.ToString(instance.PrivateIpAddress)
	if ip == "" {
		ip = aws.ToString(instance.PublicIpAddress)
	}
	if ip == "" {
		ip = noAddress
	}

	sg := noSecurityGroup
	if len(instance.SecurityGroups) > 0 && aws.ToString(instance.SecurityGroups[0].GroupId) != "" {
		sg = aws.ToString(instance.SecurityGroups[0].GroupId)
	}

	in := &inventory.Instance{
		Account:         p.accountID,
		Region:          p.region,
		InstanceID:      id,
		InstanceName:    name,
		IP:              ip,
		SecurityGroupID: sg,
		State:           mapState(instance.State),
	}
	if instance.LaunchTime != nil {
		in.CreateTime = instance.LaunchTime.UTC()
	}

	return plugin.Discovered{Instance: in, VpcID: aws.ToString(instance.VpcId)}
}

// mapState folds the six EC2 lifecycle states onto the four inventory states.
func mapState(state *ec2types.InstanceState) inventory.State {
	if state == nil {
		return inventory.StatePending
	}
	switch state.Name {
	case ec2types.InstanceStateNameRunning:
		return inventory.StateRunning
	case ec2types.InstanceStateNameStopping, ec2types.InstanceStateNameStopped:
		return inventory.StateStopped
	case ec2types.InstanceStateNameShuttingDown, ec2types.InstanceStateNameTerminated:
		return inventory.StateTerminated
	default:
		return inventory.StatePending
	}
}

// extractNameTag returns the value of the Name tag.
func extractNameTag(tags []ec2types.Tag) string {
	for _, tag := range tags {
		if aws.ToString(tag.Key) == "Name" {
			return aws.ToString(tag.Value)
		}
	}
	return ""
}
