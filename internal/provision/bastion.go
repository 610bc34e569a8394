package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/chainguard-dev/clog"
)

const (
	// addressPollInterval is how often we ask EC2 for the public address of
	// a freshly launched instance.
	addressPollInterval = 5 * time.Second

	// terminateWaitTimeout bounds the post-terminate state poll during
	// teardown.
	terminateWaitTimeout = 5 * time.Minute
)

// ErrProvisionTimeout marks a bounded wait (public address, SSH
// reachability) that expired before the instance came up.
var ErrProvisionTimeout = fmt.Errorf("provisioning timed out")

var (
	ErrInstanceCreate            = fmt.Errorf("failed to launch bastion instance")
	ErrInstanceCreateNoInstances = fmt.Errorf("instance launch reported no error but created no instance")
	ErrInstanceTerminate         = fmt.Errorf("failed to terminate bastion instance")
	ErrInstanceDescribe          = fmt.Errorf("failed to describe bastion instance")
)

// Bastion launches and tracks the disposable relay instance.
type Bastion struct {
	Client EC2API

	AMI              string
	KeypairName      string
	SubnetID         string
	SecurityGroupIDs []string
	Name             string

	// PollInterval overrides addressPollInterval when set.
	PollInterval time.Duration

	id string
	ip string
}

func (b *Bastion) ID() string { return b.id }
func (b *Bastion) IP() string { return b.ip }

// Launch starts the instance and queues its termination on 'stack'. The
// destructor is only queued once an instance ID exists, so a failed launch
// never produces a terminate call with an empty identifier.
func (b *Bastion) Launch(ctx context.Context, stack *Stack) error {
	log := clog.FromContext(ctx)
	log.Info("launching bastion instance", "ami", b.AMI, "subnet", b.SubnetID)

	result, err := b.Client.RunInstances(ctx, &ec2.RunInstancesInput{
		ImageId:      aws.String(b.AMI),
		InstanceType: types.InstanceTypeT3Micro,
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		KeyName:      aws.String(b.KeypairName),
		NetworkInterfaces: []types.InstanceNetworkInterfaceSpecification{{
			DeviceIndex:              aws.Int32(0),
			SubnetId:                 aws.String(b.SubnetID),
			AssociatePublicIpAddress: aws.Bool(true),
			Groups:                   b.SecurityGroupIDs,
		}},
		TagSpecifications: []types.TagSpecification{{
			ResourceType: types.ResourceTypeInstance,
			Tags: []types.Tag{{
				Key:   aws.String("Name"),
				Value: aws.String(b.Name),
			}},
		}},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInstanceCreate, err)
	}
	if len(result.Instances) == 0 || result.Instances[0].InstanceId == nil {
		return ErrInstanceCreateNoInstances
	}
	b.id = *result.Instances[0].InstanceId
	log.Info("bastion instance launched", "id", b.id)

	stack.Push(func(ctx context.Context) error {
		return b.terminate(ctx)
	})
	return nil
}

func (b *Bastion) terminate(ctx context.Context) error {
	log := clog.FromContext(ctx)
	log.Info("terminating bastion instance", "id", b.id)

	_, err := b.Client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{b.id},
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidInstanceID.NotFound" {
			log.Info("instance already gone", "id", b.id)
			return nil
		}
		return fmt.Errorf("%w: %w", ErrInstanceTerminate, err)
	}

	ctx, cancel := context.WithTimeout(ctx, terminateWaitTimeout)
	defer cancel()
	if err := b.awaitState(ctx, types.InstanceStateNameTerminated); err != nil {
		log.Warn("gave up waiting for instance termination", "id", b.id, "error", err)
		return nil
	}
	log.Info("bastion instance terminated", "id", b.id)
	return nil
}

// AwaitAddress polls until the instance reports a public IP and records it.
// The caller bounds the wait via ctx; expiry surfaces as ErrProvisionTimeout.
func (b *Bastion) AwaitAddress(ctx context.Context) (string, error) {
	log := clog.FromContext(ctx)
	log.Info("waiting for bastion public address", "id", b.id)

	ticker := time.NewTicker(b.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: waiting for public address: %w", ErrProvisionTimeout, ctx.Err())
		case <-ticker.C:
			ip, err := b.describeAddress(ctx)
			if err != nil {
				return "", err
			}
			if ip == "" {
				log.Debug("instance has no public address yet", "id", b.id)
				continue
			}
			b.ip = ip
			log.Info("bastion has a public address", "id", b.id, "ip", ip)
			return ip, nil
		}
	}
}

func (b *Bastion) describeAddress(ctx context.Context) (string, error) {
	result, err := b.Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{b.id},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInstanceDescribe, err)
	}
	if len(result.Reservations) == 0 || len(result.Reservations[0].Instances) == 0 {
		return "", nil
	}
	return aws.ToString(result.Reservations[0].Instances[0].PublicIpAddress), nil
}

func (b *Bastion) awaitState(ctx context.Context, desired types.InstanceStateName) error {
	ticker := time.NewTicker(b.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			result, err := b.Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
				InstanceIds: []string{b.id},
			})
			if err != nil {
				return fmt.Errorf("%w: %w", ErrInstanceDescribe, err)
			}
			if len(result.Reservations) == 0 || len(result.Reservations[0].Instances) == 0 {
				continue
			}
			state := result.Reservations[0].Instances[0].State
			if state != nil && state.Name == desired {
				return nil
			}
		}
	}
}

func (b *Bastion) interval() time.Duration {
	if b.PollInterval > 0 {
		return b.PollInterval
	}
	return addressPollInterval
}
