package provision

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// STSAPI is the subset of the STS client used to identify the deploying account.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

var _ STSAPI = (*sts.Client)(nil)

// Environment is the account and region the provisioner runs in.
type Environment struct {
	Account string
	Region  string
}

// ResolveEnvironment looks up the caller's account and takes the region from cfg.
func ResolveEnvironment(ctx context.Context, client STSAPI, cfg aws.Config) (Environment, error) {
	if cfg.Region == "" {
		return Environment{}, fmt.Errorf("%w: no region configured", ErrProvisioning)
	}
	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return Environment{}, fmt.Errorf("%w: get caller identity: %w", ErrProvisioning, err)
	}
	if out.Account == nil {
		return Environment{}, fmt.Errorf("%w: caller identity has no account", ErrProvisioning)
	}
	return Environment{Account: aws.ToString(out.Account), Region: cfg.Region}, nil
}
