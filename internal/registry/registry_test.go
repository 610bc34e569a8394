package registry

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/docker/docker/api/types/image"
	dockerregistry "github.com/docker/docker/api/types/registry"
	"github.com/stretchr/testify/require"
)

type fakeECR struct {
	getAuthorizationToken func(*ecr.GetAuthorizationTokenInput) (*ecr.GetAuthorizationTokenOutput, error)
	describeRepositories  func(*ecr.DescribeRepositoriesInput) (*ecr.DescribeRepositoriesOutput, error)
}

func (f *fakeECR) GetAuthorizationToken(ctx context.Context, params *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error) {
	return f.getAuthorizationToken(params)
}

func (f *fakeECR) DescribeRepositories(ctx context.Context, params *ecr.DescribeRepositoriesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error) {
	return f.describeRepositories(params)
}

type fakePuller struct {
	pulled []string
	auth   []string
}

func (f *fakePuller) ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error) {
	f.pulled = append(f.pulled, refStr)
	f.auth = append(f.auth, options.RegistryAuth)
	return io.NopCloser(strings.NewReader(`{"status":"pull complete"}`)), nil
}

func TestAuthToken(t *testing.T) {
	token := base64.StdEncoding.EncodeToString([]byte("AWS:sekrit"))
	client := &Client{ECR: &fakeECR{
		getAuthorizationToken: func(in *ecr.GetAuthorizationTokenInput) (*ecr.GetAuthorizationTokenOutput, error) {
			return &ecr.GetAuthorizationTokenOutput{
				AuthorizationData: []types.AuthorizationData{{
					AuthorizationToken: aws.String(token),
					ProxyEndpoint:      aws.String("https://123456789012.dkr.ecr.us-west-2.amazonaws.com"),
				}},
			}, nil
		},
	}}

	auth, err := client.AuthToken(t.Context())
	require.NoError(t, err)
	require.Equal(t, "AWS", auth.Username)
	require.Equal(t, "sekrit", auth.Password)
	require.Equal(t, "123456789012.dkr.ecr.us-west-2.amazonaws.com", auth.Server)
}

func TestAuthTokenGarbage(t *testing.T) {
	client := &Client{ECR: &fakeECR{
		getAuthorizationToken: func(in *ecr.GetAuthorizationTokenInput) (*ecr.GetAuthorizationTokenOutput, error) {
			return &ecr.GetAuthorizationTokenOutput{
				AuthorizationData: []types.AuthorizationData{{
					AuthorizationToken: aws.String("%%% not base64 %%%"),
				}},
			}, nil
		},
	}}

	_, err := client.AuthToken(t.Context())
	require.ErrorIs(t, err, ErrAuthTokenDecode)
}

func TestFindImage(t *testing.T) {
	page := 0
	client := &Client{ECR: &fakeECR{
		describeRepositories: func(in *ecr.DescribeRepositoriesInput) (*ecr.DescribeRepositoriesOutput, error) {
			page++
			if page == 1 {
				return &ecr.DescribeRepositoriesOutput{
					Repositories: []types.Repository{{
						RepositoryName: aws.String("worker"),
						RepositoryUri:  aws.String("123456789012.dkr.ecr.us-west-2.amazonaws.com/worker"),
					}},
					NextToken: aws.String("page-2"),
				}, nil
			}
			return &ecr.DescribeRepositoriesOutput{
				Repositories: []types.Repository{{
					RepositoryName: aws.String("api-server"),
					RepositoryUri:  aws.String("123456789012.dkr.ecr.us-west-2.amazonaws.com/api-server"),
				}},
			}, nil
		},
	}}

	uri, err := client.FindImage(t.Context(), "api-server")
	require.NoError(t, err)
	require.Equal(t, "123456789012.dkr.ecr.us-west-2.amazonaws.com/api-server", uri)
	require.Equal(t, 2, page)
}

func TestFindImageNotFound(t *testing.T) {
	client := &Client{ECR: &fakeECR{
		describeRepositories: func(in *ecr.DescribeRepositoriesInput) (*ecr.DescribeRepositoriesOutput, error) {
			return &ecr.DescribeRepositoriesOutput{}, nil
		},
	}}

	_, err := client.FindImage(t.Context(), "ghost")
	require.ErrorIs(t, err, ErrImageNotFound)
}

func TestPull(t *testing.T) {
	puller := &fakePuller{}
	client := &Client{Docker: puller}
	auth := Auth{Username: "AWS", Password: "sekrit", Server: "123456789012.dkr.ecr.us-west-2.amazonaws.com"}

	require.NoError(t, client.Pull(t.Context(), "123456789012.dkr.ecr.us-west-2.amazonaws.com/api-server:latest", auth))
	require.Len(t, puller.pulled, 1)

	// The RegistryAuth payload round-trips to the credential we passed.
	raw, err := base64.URLEncoding.DecodeString(puller.auth[0])
	require.NoError(t, err)
	var decoded dockerregistry.AuthConfig
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, "AWS", decoded.Username)
	require.Equal(t, "sekrit", decoded.Password)
}
