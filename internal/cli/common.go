package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/cruskit/afterglow-manager/internal/credentials"
	"github.com/cruskit/afterglow-manager/internal/settings"
	"github.com/cruskit/afterglow-manager/publish"
	puberrors "github.com/cruskit/afterglow-manager/publish/errors"
)

// newEngine builds the publish engine for the loaded settings and returns a
// printable hint of the credentials in use. Tests replace it.
var newEngine = func(ctx context.Context, s *settings.Settings, logger *slog.Logger) (*publish.Engine, string, error) {
	provider, hint, err := resolveCredentials(ctx, s, logger)
	if err != nil {
		return nil, "", err
	}

	engine := publish.New(
		publish.WithLogger(logger),
		publish.WithCredentials(provider),
		publish.WithStaticAssets(s.StaticAssets),
		publish.WithConcurrency(s.Concurrency),
		publish.WithRateLimit(s.RateLimit),
	)
	return engine, hint, nil
}

// loadSettings reads the settings file and applies flag overrides.
func loadSettings() (*settings.Settings, error) {
	s, err := settings.Load(configPath)
	if err != nil {
		return nil, err
	}
	if workspaceFlag != "" {
		s.Workspace = workspaceFlag
	}
	return s, nil
}

// newLogger creates a text logger on w at the --log-level level.
func newLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

// resolveCredentials maps the configured credential source onto an AWS
// provider. A nil provider selects the AWS default credential chain.
func resolveCredentials(
	ctx context.Context,
	s *settings.Settings,
	logger *slog.Logger,
) (aws.CredentialsProvider, string, error) {
	switch s.Credentials.Source {
	case settings.SourceStatic:
		p := credentials.StaticProvider{Creds: credentials.Credentials{
			AccessKeyID:     s.Credentials.AccessKeyID,
			SecretAccessKey: s.Credentials.SecretAccessKey,
		}}
		return credentials.AWSProvider(p), "static key " + p.Creds.Hint(), nil

	case settings.SourceSecretsManager:
		p, err := credentials.DialSecretsManager(ctx, s.Region, s.Credentials.SecretID, logger)
		if err != nil {
			return nil, "", err
		}
		return credentials.AWSProvider(p), "secret " + s.Credentials.SecretID, nil

	default:
		if s.Backend != "minio" {
			return nil, "default AWS credential chain", nil
		}
		creds, err := credentials.EnvProvider{}.Retrieve(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("minio backend: %w", err)
		}
		return credentials.AWSProvider(credentials.StaticProvider{Creds: creds}), "environment key " + creds.Hint(), nil
	}
}

// setup loads settings and builds the logger and engine for a command.
func setup(ctx context.Context, stderr io.Writer) (*settings.Settings, *publish.Engine, string, error) {
	s, err := loadSettings()
	if err != nil {
		return nil, nil, "", err
	}
	logger, err := newLogger(stderr)
	if err != nil {
		return nil, nil, "", err
	}
	engine, hint, err := newEngine(ctx, s, logger)
	if err != nil {
		return nil, nil, "", err
	}
	return s, engine, hint, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// explain wraps engine errors with the action a user can take.
func explain(action string, err error) error {
	switch {
	case puberrors.IsBusy(err):
		return fmt.Errorf("%s failed: workspace is busy with another preview or publish "+
			"(run 'afterglow-publish unlock' if a previous run crashed): %w", action, err)
	case puberrors.IsInvalidInput(err):
		return fmt.Errorf("%s failed: invalid settings in %s: %w", action, configPath, err)
	default:
		return fmt.Errorf("%s failed: %w", action, err)
	}
}
