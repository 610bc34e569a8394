package provision

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/chainguard-dev/clog"
)

// EC2API is the slice of the EC2 client the provisioner uses. The concrete
// *ec2.Client satisfies it; tests substitute fakes.
type EC2API interface {
	DescribeVpcs(ctx context.Context, params *ec2.DescribeVpcsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error)
	DescribeSubnets(ctx context.Context, params *ec2.DescribeSubnetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error)
	DescribeSecurityGroups(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
}

var (
	ErrVPCLookup             = fmt.Errorf("failed to look up VPC")
	ErrVPCNotFound           = fmt.Errorf("no VPC matched the configured name")
	ErrSubnetLookup          = fmt.Errorf("failed to look up subnet")
	ErrSubnetNotFound        = fmt.Errorf("no subnet matched the configured name")
	ErrSecurityGroupLookup   = fmt.Errorf("failed to look up security group")
	ErrSecurityGroupNotFound = fmt.Errorf("no security group matched the configured name")
)

// Resolver discovers pre-existing networking objects by their Name tag or
// group name. Lookups that match nothing surface a distinct error instead
// of handing an empty identifier to downstream API calls.
type Resolver struct {
	Client EC2API
}

// ResolveVPC returns the ID of the VPC whose Name tag equals 'name'.
func (r *Resolver) ResolveVPC(ctx context.Context, name string) (string, error) {
	result, err := r.Client.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{
		Filters: []types.Filter{{
			Name:   aws.String("tag:Name"),
			Values: []string{name},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrVPCLookup, err)
	}
	if len(result.Vpcs) == 0 || result.Vpcs[0].VpcId == nil {
		return "", fmt.Errorf("%w: %q", ErrVPCNotFound, name)
	}
	id := *result.Vpcs[0].VpcId
	clog.FromContext(ctx).Debug("resolved VPC", "name", name, "id", id)
	return id, nil
}

// ResolveSubnet returns the ID of the subnet in 'vpcID' whose Name tag
// equals 'name'.
func (r *Resolver) ResolveSubnet(ctx context.Context, vpcID, name string) (string, error) {
	result, err := r.Client.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{
		Filters: []types.Filter{
			{Name: aws.String("vpc-id"), Values: []string{vpcID}},
			{Name: aws.String("tag:Name"), Values: []string{name}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSubnetLookup, err)
	}
	if len(result.Subnets) == 0 || result.Subnets[0].SubnetId == nil {
		return "", fmt.Errorf("%w: %q", ErrSubnetNotFound, name)
	}
	id := *result.Subnets[0].SubnetId
	clog.FromContext(ctx).Debug("resolved subnet", "name", name, "id", id)
	return id, nil
}

// ResolveSecurityGroup returns the ID of the security group in 'vpcID'
// named 'name'.
func (r *Resolver) ResolveSecurityGroup(ctx context.Context, vpcID, name string) (string, error) {
	result, err := r.Client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []types.Filter{
			{Name: aws.String("vpc-id"), Values: []string{vpcID}},
			{Name: aws.String("group-name"), Values: []string{name}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSecurityGroupLookup, err)
	}
	if len(result.SecurityGroups) == 0 || result.SecurityGroups[0].GroupId == nil {
		return "", fmt.Errorf("%w: %q", ErrSecurityGroupNotFound, name)
	}
	id := *result.SecurityGroups[0].GroupId
	clog.FromContext(ctx).Debug("resolved security group", "name", name, "id", id)
	return id, nil
}
