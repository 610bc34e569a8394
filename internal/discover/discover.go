// discover inspects the target service's latest ECS task definition to find
// the internal hostnames of its database and cache.
package discover

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/chainguard-dev/clog"
)

// ECSAPI is the slice of the ECS client the discoverer uses.
type ECSAPI interface {
	ListTaskDefinitions(ctx context.Context, params *ecs.ListTaskDefinitionsInput, optFns ...func(*ecs.Options)) (*ecs.ListTaskDefinitionsOutput, error)
	DescribeTaskDefinition(ctx context.Context, params *ecs.DescribeTaskDefinitionInput, optFns ...func(*ecs.Options)) (*ecs.DescribeTaskDefinitionOutput, error)
}

var (
	ErrTaskDefinitionList     = fmt.Errorf("failed to list task definitions")
	ErrTaskDefinitionNotFound = fmt.Errorf("no task definition matched the configured service name")
	ErrTaskDefinitionDescribe = fmt.Errorf("failed to describe task definition")
	ErrNoContainers           = fmt.Errorf("task definition has no container definitions")
)

type Discoverer struct {
	Client ECSAPI
}

// LatestTaskDefinition returns the ARN of the most recently listed task
// definition whose ARN contains 'name'. ECS lists definitions in ascending
// revision order, so the last match is the newest revision.
func (d *Discoverer) LatestTaskDefinition(ctx context.Context, name string) (string, error) {
	var latest string
	var nextToken *string
	for {
		result, err := d.Client.ListTaskDefinitions(ctx, &ecs.ListTaskDefinitionsInput{
			NextToken: nextToken,
		})
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrTaskDefinitionList, err)
		}
		for _, arn := range result.TaskDefinitionArns {
			if strings.Contains(arn, name) {
				latest = arn
			}
		}
		if result.NextToken == nil {
			break
		}
		nextToken = result.NextToken
	}
	if latest == "" {
		return "", fmt.Errorf("%w: %q", ErrTaskDefinitionNotFound, name)
	}
	clog.FromContext(ctx).Info("found latest task definition", "arn", latest)
	return latest, nil
}

// ContainerEnv returns the environment block of the first container in the
// given task definition as a map.
func (d *Discoverer) ContainerEnv(ctx context.Context, arn string) (map[string]string, error) {
	result, err := d.Client.DescribeTaskDefinition(ctx, &ecs.DescribeTaskDefinitionInput{
		TaskDefinition: aws.String(arn),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTaskDefinitionDescribe, err)
	}
	if result.TaskDefinition == nil || len(result.TaskDefinition.ContainerDefinitions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoContainers, arn)
	}
	env := make(map[string]string)
	for _, kv := range result.TaskDefinition.ContainerDefinitions[0].Environment {
		env[aws.ToString(kv.Name)] = aws.ToString(kv.Value)
	}
	return env, nil
}
