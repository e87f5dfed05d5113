package publish

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/go-git/go-billy/v5"
	"golang.org/x/time/rate"

	"github.com/cruskit/afterglow-manager/publish/internal/remote"
	"github.com/cruskit/afterglow-manager/publish/pubtypes"
)

// Store is the remote object store a plan is computed against and applied to.
type Store = remote.Store

// Object is one entry of a Store listing.
type Object = remote.Object

// PutOptions carries object metadata for Store.Put.
type PutOptions = remote.PutOptions

// StoreFactory opens the store described by params.
type StoreFactory func(ctx context.Context, params pubtypes.StoreParams) (Store, error)

// Invalidator clears cached copies of everything under a prefix.
type Invalidator interface {
	Invalidate(ctx context.Context, prefix string) (string, error)
}

// InvalidatorFactory opens an invalidator for a distribution id or ARN.
type InvalidatorFactory func(ctx context.Context, distribution string) (Invalidator, error)

// FilesystemFactory opens the filesystem rooted at a workspace.
type FilesystemFactory func(root string) billy.Filesystem

// Option configures an Engine.
type Option func(*config)

type config struct {
	logger         *slog.Logger
	openStore      StoreFactory
	openInvalidate InvalidatorFactory
	openFS         FilesystemFactory
	credentials    aws.CredentialsProvider
	staticAssets   []string
	concurrency    int
	limiter        *rate.Limiter
	invalidateWait time.Duration
	now            func() time.Time
}

// WithLogger sets the logger passed to every stage.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStoreFactory replaces the default S3/MinIO dialer.
func WithStoreFactory(f StoreFactory) Option {
	return func(c *config) {
		c.openStore = f
	}
}

// WithInvalidatorFactory replaces the default CloudFront dialer.
func WithInvalidatorFactory(f InvalidatorFactory) Option {
	return func(c *config) {
		c.openInvalidate = f
	}
}

// WithFilesystemFactory replaces the default OS filesystem.
func WithFilesystemFactory(f FilesystemFactory) Option {
	return func(c *config) {
		c.openFS = f
	}
}

// WithCredentials supplies credentials to the default store and CDN
// dialers. Without it the AWS default credential chain is used.
func WithCredentials(provider aws.CredentialsProvider) Option {
	return func(c *config) {
		c.credentials = provider
	}
}

// WithStaticAssets adds workspace-relative files that are always published.
func WithStaticAssets(paths []string) Option {
	return func(c *config) {
		c.staticAssets = append([]string(nil), paths...)
	}
}

// WithConcurrency sets how many files are hashed in parallel during preview.
func WithConcurrency(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithRateLimit caps remote actions per second during execute. Zero or
// negative disables the limit.
func WithRateLimit(perSecond float64) Option {
	return func(c *config) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		} else {
			c.limiter = nil
		}
	}
}

// WithInvalidationTimeout overrides the 30 second invalidation bound.
func WithInvalidationTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.invalidateWait = d
		}
	}
}

// WithClock overrides the plan timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}
