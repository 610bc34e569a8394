// registry authenticates to ECR, locates the service image and pulls it
// with the local Docker daemon.
package registry

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/chainguard-dev/clog"
	"github.com/docker/docker/api/types/image"
	dockerregistry "github.com/docker/docker/api/types/registry"
)

// ECRAPI is the slice of the ECR client we use.
type ECRAPI interface {
	GetAuthorizationToken(ctx context.Context, params *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error)
	DescribeRepositories(ctx context.Context, params *ecr.DescribeRepositoriesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error)
}

// ImagePuller is the slice of the Docker client we use.
type ImagePuller interface {
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
}

var (
	ErrAuthToken       = fmt.Errorf("failed to fetch ECR authorization token")
	ErrAuthTokenDecode = fmt.Errorf("failed to decode ECR authorization token")
	ErrRepositoryList  = fmt.Errorf("failed to list ECR repositories")
	ErrImageNotFound   = fmt.Errorf("no ECR repository matched the configured image name")
	ErrImagePull       = fmt.Errorf("failed to pull image")
)

// Auth is a decoded ECR registry credential.
type Auth struct {
	Username string
	Password string
	Server   string
}

type Client struct {
	ECR    ECRAPI
	Docker ImagePuller
}

// AuthToken fetches and decodes the registry credential. ECR tokens are
// base64 "user:password" pairs where the user is always AWS.
func (c *Client) AuthToken(ctx context.Context) (Auth, error) {
	result, err := c.ECR.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return Auth{}, fmt.Errorf("%w: %w", ErrAuthToken, err)
	}
	if len(result.AuthorizationData) == 0 || result.AuthorizationData[0].AuthorizationToken == nil {
		return Auth{}, fmt.Errorf("%w: empty authorization data", ErrAuthToken)
	}
	data := result.AuthorizationData[0]

	decoded, err := base64.StdEncoding.DecodeString(*data.AuthorizationToken)
	if err != nil {
		return Auth{}, fmt.Errorf("%w: %w", ErrAuthTokenDecode, err)
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return Auth{}, fmt.Errorf("%w: token is not a user:password pair", ErrAuthTokenDecode)
	}

	server := strings.TrimPrefix(aws.ToString(data.ProxyEndpoint), "https://")
	clog.FromContext(ctx).Debug("fetched ECR credential", "server", server)
	return Auth{Username: user, Password: pass, Server: server}, nil
}

// FindImage returns the URI of the first repository whose name contains
// 'name'.
func (c *Client) FindImage(ctx context.Context, name string) (string, error) {
	var nextToken *string
	for {
		result, err := c.ECR.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
			NextToken: nextToken,
		})
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrRepositoryList, err)
		}
		for _, repo := range result.Repositories {
			if strings.Contains(aws.ToString(repo.RepositoryName), name) {
				uri := aws.ToString(repo.RepositoryUri)
				clog.FromContext(ctx).Info("found image repository", "name", aws.ToString(repo.RepositoryName), "uri", uri)
				return uri, nil
			}
		}
		if result.NextToken == nil {
			return "", fmt.Errorf("%w: %q", ErrImageNotFound, name)
		}
		nextToken = result.NextToken
	}
}

// Pull pulls 'ref' through the local daemon, authenticating with 'auth',
// and drains the progress stream.
func (c *Client) Pull(ctx context.Context, ref string, auth Auth) error {
	authJSON, err := json.Marshal(dockerregistry.AuthConfig{
		Username:      auth.Username,
		Password:      auth.Password,
		ServerAddress: auth.Server,
	})
	if err != nil {
		return fmt.Errorf("%w: marshaling auth config: %w", ErrImagePull, err)
	}

	clog.FromContext(ctx).Info("pulling image", "ref", ref)
	result, err := c.Docker.ImagePull(ctx, ref, image.PullOptions{
		RegistryAuth: base64.URLEncoding.EncodeToString(authJSON),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrImagePull, err)
	}
	defer result.Close()
	if _, err := io.Copy(io.Discard, result); err != nil {
		return fmt.Errorf("%w: reading pull response: %w", ErrImagePull, err)
	}
	return nil
}
