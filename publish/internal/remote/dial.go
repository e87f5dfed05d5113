package remote

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/cruskit/afterglow-manager/publish/errors"
	"github.com/cruskit/afterglow-manager/publish/internal/s3api"
	"github.com/cruskit/afterglow-manager/publish/internal/validation"
	"github.com/cruskit/afterglow-manager/publish/pubtypes"
)

// Dial builds the store described by params. provider supplies credentials;
// when nil the S3 backend falls back to the default AWS credential chain.
func Dial(
	ctx context.Context,
	params pubtypes.StoreParams,
	provider aws.CredentialsProvider,
	logger *slog.Logger,
) (Store, error) {
	bucket := validation.ExtractBucketName(params.Bucket)
	if err := validation.ValidateBucketName(bucket); err != nil {
		return nil, err
	}

	switch params.Backend {
	case "", BackendS3:
		return dialS3(ctx, params, bucket, provider, logger)
	case BackendMinIO:
		return dialMinio(ctx, params, bucket, provider, logger)
	default:
		return nil, errors.NewError("dial", errors.ErrInvalidInput).
			WithMessage(fmt.Sprintf("unknown store backend %q", params.Backend))
	}
}

func dialS3(
	ctx context.Context,
	params pubtypes.StoreParams,
	bucket string,
	provider aws.CredentialsProvider,
	logger *slog.Logger,
) (Store, error) {
	cfg, err := s3api.LoadConfig(ctx, params.Region, provider)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if params.Endpoint != "" {
			o.BaseEndpoint = aws.String(params.Endpoint)
		}
		o.UsePathStyle = params.ForcePathStyle
	})
	return NewS3Store(client, bucket, logger), nil
}

func dialMinio(
	ctx context.Context,
	params pubtypes.StoreParams,
	bucket string,
	provider aws.CredentialsProvider,
	logger *slog.Logger,
) (Store, error) {
	if params.Endpoint == "" {
		return nil, errors.NewError("dial", errors.ErrInvalidInput).
			WithMessage("minio backend requires an endpoint")
	}
	if provider == nil {
		return nil, errors.NewError("dial", errors.ErrInvalidInput).
			WithMessage("minio backend requires credentials")
	}

	endpoint, err := url.Parse(params.Endpoint)
	if err != nil || endpoint.Host == "" {
		return nil, errors.NewError("dial", errors.ErrInvalidInput).
			WithMessage(fmt.Sprintf("invalid endpoint %q", params.Endpoint))
	}

	creds, err := provider.Retrieve(ctx)
	if err != nil {
		return nil, errors.NewError("dial", fmt.Errorf("%w: %w", errors.ErrAccessDenied, err))
	}

	client, err := minio.New(endpoint.Host, &minio.Options{
		Creds:  miniocreds.NewStaticV4(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken),
		Secure: endpoint.Scheme == "https",
		Region: params.Region,
	})
	if err != nil {
		return nil, errors.NewError("dial", err)
	}
	return NewMinioStore(client, bucket, logger), nil
}
