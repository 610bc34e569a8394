package creds

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/stretchr/testify/require"
)

type fakeSTS struct {
	assumeRole func(*sts.AssumeRoleInput) (*sts.AssumeRoleOutput, error)
}

func (f *fakeSTS) AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	return f.assumeRole(params)
}

func TestAssume(t *testing.T) {
	client := &fakeSTS{
		assumeRole: func(in *sts.AssumeRoleInput) (*sts.AssumeRoleOutput, error) {
			require.Equal(t, "arn:aws:iam::123456789012:role/api-exec", *in.RoleArn)
			require.Equal(t, "prodbox-abc123", *in.RoleSessionName)
			return &sts.AssumeRoleOutput{
				Credentials: &types.Credentials{
					AccessKeyId:     aws.String("AKIAEXAMPLE"),
					SecretAccessKey: aws.String("secret"),
					SessionToken:    aws.String("token"),
				},
			}, nil
		},
	}

	got, err := Assume(t.Context(), client, "arn:aws:iam::123456789012:role/api-exec", "prodbox-abc123")
	require.NoError(t, err)
	require.Equal(t, Credentials{
		AccessKeyID:     "AKIAEXAMPLE",
		SecretAccessKey: "secret",
		SessionToken:    "token",
	}, got)
}

func TestAssumeFailure(t *testing.T) {
	cause := fmt.Errorf("access denied")
	client := &fakeSTS{
		assumeRole: func(in *sts.AssumeRoleInput) (*sts.AssumeRoleOutput, error) {
			return nil, cause
		},
	}

	_, err := Assume(t.Context(), client, "arn:role", "session")
	require.ErrorIs(t, err, ErrAssumeRole)
	require.ErrorIs(t, err, cause)
}
