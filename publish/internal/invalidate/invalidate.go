// Package invalidate clears the CDN cache for a published prefix.
package invalidate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/google/uuid"

	"github.com/cruskit/afterglow-manager/publish/errors"
	"github.com/cruskit/afterglow-manager/publish/internal/s3api"
)

// DefaultTimeout bounds a single invalidation request.
const DefaultTimeout = 30 * time.Second

// cloudFrontRegion is the region CloudFront control-plane calls are signed for.
const cloudFrontRegion = "us-east-1"

// Invalidator issues wildcard invalidations against one distribution.
type Invalidator struct {
	client         s3api.CloudFrontAPI
	distributionID string
	timeout        time.Duration
	logger         *slog.Logger
}

// Option configures an Invalidator.
type Option func(*Invalidator)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(i *Invalidator) {
		if d > 0 {
			i.timeout = d
		}
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Invalidator) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// New creates an invalidator for distribution, which may be a bare id or a
// distribution ARN.
func New(client s3api.CloudFrontAPI, distribution string, opts ...Option) *Invalidator {
	i := &Invalidator{
		client:         client,
		distributionID: ExtractDistributionID(distribution),
		timeout:        DefaultTimeout,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Dial creates an invalidator backed by a CloudFront client.
func Dial(ctx context.Context, distribution string, provider aws.CredentialsProvider, opts ...Option) (*Invalidator, error) {
	cfg, err := s3api.LoadConfig(ctx, cloudFrontRegion, provider)
	if err != nil {
		return nil, err
	}
	return New(cloudfront.NewFromConfig(cfg), distribution, opts...), nil
}

// DistributionID returns the bare distribution id.
func (i *Invalidator) DistributionID() string {
	return i.distributionID
}

// Invalidate requests invalidation of every path under prefix and returns
// the invalidation id.
func (i *Invalidator) Invalidate(ctx context.Context, prefix string) (string, error) {
	if i.distributionID == "" {
		return "", errors.NewError("invalidate", errors.ErrInvalidInput).
			WithMessage("distribution id is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	path := Path(prefix)
	out, err := i.client.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(i.distributionID),
		InvalidationBatch: &types.InvalidationBatch{
			CallerReference: aws.String(uuid.NewString()),
			Paths: &types.Paths{
				Quantity: aws.Int32(1),
				Items:    []string{path},
			},
		},
	})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("timed out after %s: %w", i.timeout, err)
		}
		return "", errors.NewError("invalidate", fmt.Errorf("%w: %w", errors.ErrInvalidation, errors.ClassifyAWS(err))).
			WithKey(path)
	}

	var id string
	if out != nil && out.Invalidation != nil {
		id = aws.ToString(out.Invalidation.Id)
	}
	i.logger.Info("cache invalidation created", "distribution", i.distributionID, "path", path, "id", id)
	return id, nil
}

// Path returns the wildcard invalidation path for prefix.
func Path(prefix string) string {
	return "/" + strings.TrimPrefix(prefix, "/") + "*"
}

// ExtractDistributionID returns the bare id from a distribution ARN such as
// arn:aws:cloudfront::123456789012:distribution/E2ABC. Other input is
// returned trimmed.
func ExtractDistributionID(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "arn:") {
		return s
	}
	if i := strings.LastIndex(s, "/"); i >= 0 {
		return s[i+1:]
	}
	return s
}
