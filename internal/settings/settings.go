// Package settings loads the publish settings file.
package settings

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cruskit/afterglow-manager/publish/pubtypes"
)

// Defaults
const (
	DefaultRegion = "ap-southeast-2"
	DefaultPrefix = "galleries/"
)

// CredentialSource selects where store credentials come from.
type CredentialSource string

const (
	SourceEnv            CredentialSource = "env"
	SourceStatic         CredentialSource = "static"
	SourceSecretsManager CredentialSource = "secretsmanager"
)

// Settings is the publish configuration for one workspace.
type Settings struct {
	// Workspace is the gallery workspace root; the CLI flag overrides it
	Workspace string `yaml:"workspace"`

	Bucket         string `yaml:"bucket"`
	Region         string `yaml:"region"`
	Prefix         string `yaml:"prefix"`
	DistributionID string `yaml:"distributionId"`

	// Endpoint and Backend select an S3-compatible store other than AWS
	Endpoint       string `yaml:"endpoint"`
	Backend        string `yaml:"backend"`
	ForcePathStyle bool   `yaml:"forcePathStyle"`

	StaticAssets []string `yaml:"staticAssets"`

	// Concurrency is the number of files hashed in parallel
	Concurrency int `yaml:"concurrency"`

	// RateLimit caps remote actions per second; zero disables it
	RateLimit float64 `yaml:"rateLimit"`

	Credentials CredentialSettings `yaml:"credentials"`
}

// CredentialSettings configures the credential store.
type CredentialSettings struct {
	Source CredentialSource `yaml:"source"`

	// AccessKeyID and SecretAccessKey are used by the static source
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`

	// SecretID names the Secrets Manager secret holding the key pair
	SecretID string `yaml:"secretId"`
}

// Load reads and parses the settings file.
func Load(path string) (*Settings, error) {
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse settings file: %w", err)
	}

	s.expandEnv()
	s.applyDefaults()

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return &s, nil
}

// expandEnv expands environment variables in all string fields
func (s *Settings) expandEnv() {
	s.Workspace = os.ExpandEnv(s.Workspace)
	s.Bucket = os.ExpandEnv(s.Bucket)
	s.Region = os.ExpandEnv(s.Region)
	s.Prefix = os.ExpandEnv(s.Prefix)
	s.DistributionID = os.ExpandEnv(s.DistributionID)
	s.Endpoint = os.ExpandEnv(s.Endpoint)
	s.Credentials.AccessKeyID = os.ExpandEnv(s.Credentials.AccessKeyID)
	s.Credentials.SecretAccessKey = os.ExpandEnv(s.Credentials.SecretAccessKey)
	s.Credentials.SecretID = os.ExpandEnv(s.Credentials.SecretID)
	for i, a := range s.StaticAssets {
		s.StaticAssets[i] = os.ExpandEnv(a)
	}
}

// applyDefaults fills in zero-value fields.
func (s *Settings) applyDefaults() {
	s.Bucket = strings.TrimSpace(s.Bucket)
	s.DistributionID = strings.TrimSpace(s.DistributionID)
	if s.Region == "" {
		s.Region = DefaultRegion
	}
	if s.Prefix == "" {
		s.Prefix = DefaultPrefix
	}
	if !strings.HasSuffix(s.Prefix, "/") {
		s.Prefix += "/"
	}
	if s.Backend == "" {
		s.Backend = "s3"
	}
	if s.Workspace == "" {
		s.Workspace = "."
	}
	if s.Credentials.Source == "" {
		s.Credentials.Source = SourceEnv
	}
}

// Validate checks the settings for errors.
func (s *Settings) Validate() error {
	if s.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if strings.Trim(s.Prefix, "/") == "" {
		return fmt.Errorf("prefix cannot be empty or the bucket root")
	}

	switch s.Backend {
	case "s3":
	case "minio":
		if s.Endpoint == "" {
			return fmt.Errorf("endpoint is required for the minio backend")
		}
	default:
		return fmt.Errorf("invalid backend: %s (must be s3 or minio)", s.Backend)
	}

	if s.Concurrency < 0 {
		return fmt.Errorf("concurrency cannot be negative")
	}
	if s.RateLimit < 0 {
		return fmt.Errorf("rateLimit cannot be negative")
	}

	switch s.Credentials.Source {
	case SourceEnv:
	case SourceStatic:
		if s.Credentials.AccessKeyID == "" || s.Credentials.SecretAccessKey == "" {
			return fmt.Errorf("credentials.accessKeyId and credentials.secretAccessKey are required for the static source")
		}
	case SourceSecretsManager:
		if s.Credentials.SecretID == "" {
			return fmt.Errorf("credentials.secretId is required for the secretsmanager source")
		}
	default:
		return fmt.Errorf("invalid credentials.source: %s (must be env, static, or secretsmanager)", s.Credentials.Source)
	}

	return nil
}

// StoreParams returns the store and CDN parameters for the engine.
func (s *Settings) StoreParams() pubtypes.StoreParams {
	return pubtypes.StoreParams{
		Backend:        s.Backend,
		Bucket:         s.Bucket,
		Region:         s.Region,
		Prefix:         s.Prefix,
		DistributionID: s.DistributionID,
		Endpoint:       s.Endpoint,
		ForcePathStyle: s.ForcePathStyle,
	}
}

// String renders the settings without secrets.
func (s *Settings) String() string {
	dist := s.DistributionID
	if dist == "" {
		dist = "none"
	}
	return fmt.Sprintf("bucket=%s region=%s prefix=%s distribution=%s backend=%s credentials=%s",
		s.Bucket, s.Region, s.Prefix, dist, s.Backend, s.Credentials.Source)
}
