package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
)

// AWS error codes returned by Secrets Manager
const (
	resourceNotFoundException = "ResourceNotFoundException"
	accessDeniedException     = "AccessDeniedException"
)

// SecretsAPI is the subset of the Secrets Manager client used here.
type SecretsAPI interface {
	GetSecretValue(
		ctx context.Context,
		params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.GetSecretValueOutput, error)
}

var _ SecretsAPI = (*secretsmanager.Client)(nil)

// SecretsManagerProvider reads a key pair stored as a JSON secret of the form
// {"accessKeyId": "...", "secretAccessKey": "..."}.
type SecretsManagerProvider struct {
	api      SecretsAPI
	secretID string
	logger   *slog.Logger
}

// NewSecretsManagerProvider creates a provider for secretID.
func NewSecretsManagerProvider(api SecretsAPI, secretID string, logger *slog.Logger) *SecretsManagerProvider {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SecretsManagerProvider{api: api, secretID: secretID, logger: logger}
}

// DialSecretsManager creates a provider backed by a Secrets Manager client
// for region, authenticated through the default AWS credential chain.
func DialSecretsManager(ctx context.Context, region, secretID string, logger *slog.Logger) (*SecretsManagerProvider, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSecretsManagerProvider(secretsmanager.NewFromConfig(cfg), secretID, logger), nil
}

// Retrieve implements Provider.
func (p *SecretsManagerProvider) Retrieve(ctx context.Context) (Credentials, error) {
	p.logger.Debug("retrieving credentials", "secret_id", p.secretID)

	out, err := p.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(p.secretID),
	})
	if err != nil {
		return Credentials{}, p.translate(err)
	}

	raw := aws.ToString(out.SecretString)
	if raw == "" && len(out.SecretBinary) > 0 {
		raw = string(out.SecretBinary)
	}
	if raw == "" {
		return Credentials{}, fmt.Errorf("secret %s: %w", p.secretID, ErrSecretEmpty)
	}

	var creds Credentials
	if err := json.Unmarshal([]byte(raw), &creds); err != nil || !creds.Valid() {
		return Credentials{}, fmt.Errorf("secret %s: %w", p.secretID, ErrMalformedSecret)
	}

	p.logger.Info("credentials retrieved", "secret_id", p.secretID, "access_key", creds.Hint())
	return creds, nil
}

// translate maps Secrets Manager errors onto package sentinels without
// echoing service messages, which may name resources.
func (p *SecretsManagerProvider) translate(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case resourceNotFoundException:
			return fmt.Errorf("secret %s: %w", p.secretID, ErrNotFound)
		case accessDeniedException:
			return fmt.Errorf("secret %s: %w", p.secretID, ErrAccessDenied)
		}
	}
	return fmt.Errorf("secret %s: %w", p.secretID, err)
}
