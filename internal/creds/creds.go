// creds exchanges an IAM role for short-lived access credentials via STS.
package creds

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/chainguard-dev/clog"
)

// STSAPI is the slice of the STS client we use.
type STSAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

var ErrAssumeRole = fmt.Errorf("failed to assume role")

// Credentials are held only in process memory and handed to the container
// as environment variables; they are never written to disk. Expiry is
// governed by STS, not tracked here.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Assume exchanges 'roleARN' for temporary credentials under the given
// session name.
func Assume(ctx context.Context, client STSAPI, roleARN, sessionName string) (Credentials, error) {
	result, err := client.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(roleARN),
		RoleSessionName: aws.String(sessionName),
	})
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %w", ErrAssumeRole, err)
	}
	if result.Credentials == nil {
		return Credentials{}, fmt.Errorf("%w: no credentials in response", ErrAssumeRole)
	}
	clog.FromContext(ctx).Info("assumed role", "role", roleARN, "session", sessionName)
	return Credentials{
		AccessKeyID:     aws.ToString(result.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(result.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(result.Credentials.SessionToken),
	}, nil
}
