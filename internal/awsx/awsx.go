// Package awsx builds the shared aws.Config for the S3 and SSM clients.
package awsx

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/keithlinneman/listings-admin/internal/xerrors"
)

type Options struct {
	Region string
	// Timeout bounds each HTTP round trip to AWS, retries included separately
	Timeout time.Duration
	// MaxAttempts is the total attempts per call. The standard retryer only
	// retries throttling, 5xx and transport errors, never 4xx responses.
	MaxAttempts int
}

// Load returns an aws.Config with the default credential chain, the given
// region, a bounded HTTP client and the standard retryer.
func Load(ctx context.Context, o Options) (aws.Config, error) {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithHTTPClient(awshttp.NewBuildableClient().WithTimeout(o.Timeout)),
		config.WithRetryer(func() aws.Retryer {
			return retry.NewStandard(func(so *retry.StandardOptions) {
				so.MaxAttempts = o.MaxAttempts
			})
		}),
	}
	if o.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(o.Region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, xerrors.Wrap(err, "load AWS config")
	}
	return cfg, nil
}
