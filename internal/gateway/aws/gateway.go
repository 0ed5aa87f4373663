// Package aws implements the provider gateway on the EC2 API.
package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/cheapskate/internal/gateway"
)

// EC2API defines the EC2 operations used by the gateway.
type EC2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	StartInstances(ctx context.Context, params *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error)
	StopInstances(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error)
	CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
	DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
	DescribeSnapshots(ctx context.Context, params *ec2.DescribeSnapshotsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error)
}

// Config holds AWS gateway configuration.
type Config struct {
	Region  string
	Profile string
}

// Gateway talks to EC2 in a single region.
type Gateway struct {
	region string
	client EC2API
}

// New creates a gateway using the default AWS credential chain.
func New(ctx context.Context, cfg Config) (*Gateway, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewWithClient(cfg.Region, ec2.NewFromConfig(awsCfg)), nil
}

// NewWithClient wraps an existing EC2 client.
func NewWithClient(region string, client EC2API) *Gateway {
	return &Gateway{region: region, client: client}
}

// Region returns the gateway's region.
func (g *Gateway) Region() string {
	return g.region
}

// DescribeInstances lists every instance in the region, following pagination.
func (g *Gateway) DescribeInstances(ctx context.Context) ([]gateway.Record, error) {
	var records []gateway.Record
	var nextToken *string

	for {
		output, err := g.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{NextToken: nextToken})
		if err != nil {
			return nil, providerError("describe instances", err)
		}

		for _, reservation := range output.Reservations {
			for _, instance := range reservation.Instances {
				records = append(records, convertInstance(instance))
			}
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	log.Debug().Str("region", g.region).Int("count", len(records)).Msg("described instances")
	return records, nil
}

// StartInstance starts a stopped instance.
func (g *Gateway) StartInstance(ctx context.Context, id string) error {
	_, err := g.client.StartInstances(ctx, &ec2.StartInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		return providerError("start instance "+id, err)
	}
	return nil
}

// StopInstance stops a running instance.
func (g *Gateway) StopInstance(ctx context.Context, id string) error {
	_, err := g.client.StopInstances(ctx, &ec2.StopInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		return providerError("stop instance "+id, err)
	}
	return nil
}

// CreateTag writes a single tag onto any taggable resource.
func (g *Gateway) CreateTag(ctx context.Context, resourceID, key, value string) error {
	_, err := g.client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{resourceID},
		Tags:      []ec2types.Tag{{Key: aws.String(key), Value: aws.String(value)}},
	})
	if err != nil {
		return providerError("create tag on "+resourceID, err)
	}
	return nil
}

// DescribeVolumes lists volumes matching filters.
func (g *Gateway) DescribeVolumes(ctx context.Context, filters ...gateway.Filter) ([]gateway.Volume, error) {
	var volumes []gateway.Volume
	var nextToken *string

	for {
		output, err := g.client.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{
			Filters:   convertFilters(filters),
			NextToken: nextToken,
		})
		if err != nil {
			return nil, providerError("describe volumes", err)
		}

		for _, v := range output.Volumes {
			volumes = append(volumes, gateway.Volume{
				ID:      aws.ToString(v.VolumeId),
				State:   string(v.State),
				SizeGiB: aws.ToInt32(v.Size),
			})
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return volumes, nil
}

// DescribeSnapshots lists snapshots matching filters.
func (g *Gateway) DescribeSnapshots(ctx context.Context, filters ...gateway.Filter) ([]gateway.Snapshot, error) {
	var snapshots []gateway.Snapshot
	var nextToken *string

	for {
		output, err := g.client.DescribeSnapshots(ctx, &ec2.DescribeSnapshotsInput{
			Filters:   convertFilters(filters),
			NextToken: nextToken,
		})
		if err != nil {
			return nil, providerError("describe snapshots", err)
		}

		for _, s := range output.Snapshots {
			snapshots = append(snapshots, gateway.Snapshot{
				ID:       aws.ToString(s.SnapshotId),
				VolumeID: aws.ToString(s.VolumeId),
				State:    string(s.State),
			})
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return snapshots, nil
}

func convertInstance(instance ec2types.Instance) gateway.Record {
	r := gateway.Record{
		ID:           aws.ToString(instance.InstanceId),
		InstanceType: string(instance.InstanceType),
		Platform:     string(instance.Platform),
		LaunchTime:   aws.ToTime(instance.LaunchTime),
		Tags:         make(map[string]string, len(instance.Tags)),
	}
	if instance.State != nil {
		// The high byte of the code is reserved for internal use.
		r.StateCode = int(aws.ToInt32(instance.State.Code) & 0xff)
		r.StateName = string(instance.State.Name)
	}
	for _, tag := range instance.Tags {
		r.Tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return r
}

func convertFilters(filters []gateway.Filter) []ec2types.Filter {
	if len(filters) == 0 {
		return nil
	}
	out := make([]ec2types.Filter, 0, len(filters))
	for _, f := range filters {
		out = append(out, ec2types.Filter{Name: aws.String(f.Name), Values: f.Values})
	}
	return out
}

func providerError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, gateway.ErrProviderCall, err)
}
