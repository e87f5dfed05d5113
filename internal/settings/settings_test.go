package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cruskit/afterglow-manager/publish/pubtypes"
)

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "publish.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("SITE_BUCKET", "my-site")

	path := writeSettings(t, `
workspace: /home/me/photos
bucket: ${SITE_BUCKET}
prefix: site/galleries
distributionId: arn:aws:cloudfront::123456789012:distribution/E2ABCDEF
staticAssets:
  - index.html
concurrency: 8
credentials:
  source: secretsmanager
  secretId: publish/keys
`)

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "my-site", s.Bucket)
	assert.Equal(t, DefaultRegion, s.Region)
	assert.Equal(t, "site/galleries/", s.Prefix)
	assert.Equal(t, "s3", s.Backend)
	assert.Equal(t, []string{"index.html"}, s.StaticAssets)
	assert.Equal(t, 8, s.Concurrency)
	assert.Equal(t, SourceSecretsManager, s.Credentials.Source)

	assert.Equal(t, pubtypes.StoreParams{
		Backend:        "s3",
		Bucket:         "my-site",
		Region:         DefaultRegion,
		Prefix:         "site/galleries/",
		DistributionID: "arn:aws:cloudfront::123456789012:distribution/E2ABCDEF",
	}, s.StoreParams())
}

func TestLoad_Defaults(t *testing.T) {
	s, err := Load(writeSettings(t, "bucket: my-site\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultPrefix, s.Prefix)
	assert.Equal(t, ".", s.Workspace)
	assert.Equal(t, SourceEnv, s.Credentials.Source)
	assert.Contains(t, s.String(), "distribution=none")
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read settings file")

	_, err = Load(writeSettings(t, "bucket: [unterminated"))
	assert.ErrorContains(t, err, "failed to parse settings file")

	_, err = Load(writeSettings(t, "region: us-east-1\n"))
	assert.ErrorContains(t, err, "bucket is required")
}

func TestValidate(t *testing.T) {
	valid := func() Settings {
		s := Settings{Bucket: "my-site"}
		s.applyDefaults()
		return s
	}

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{name: "valid", mutate: func(*Settings) {}},
		{name: "root prefix", mutate: func(s *Settings) { s.Prefix = "/" }, wantErr: "prefix"},
		{name: "unknown backend", mutate: func(s *Settings) { s.Backend = "gcs" }, wantErr: "invalid backend"},
		{name: "minio without endpoint", mutate: func(s *Settings) { s.Backend = "minio" }, wantErr: "endpoint"},
		{name: "minio with endpoint", mutate: func(s *Settings) {
			s.Backend = "minio"
			s.Endpoint = "http://localhost:9000"
		}},
		{name: "negative concurrency", mutate: func(s *Settings) { s.Concurrency = -1 }, wantErr: "concurrency"},
		{name: "negative rate", mutate: func(s *Settings) { s.RateLimit = -2 }, wantErr: "rateLimit"},
		{name: "static without keys", mutate: func(s *Settings) { s.Credentials.Source = SourceStatic }, wantErr: "accessKeyId"},
		{name: "static with keys", mutate: func(s *Settings) {
			s.Credentials = CredentialSettings{Source: SourceStatic, AccessKeyID: "AKIA", SecretAccessKey: "x"}
		}},
		{name: "secretsmanager without id", mutate: func(s *Settings) { s.Credentials.Source = SourceSecretsManager }, wantErr: "secretId"},
		{name: "unknown source", mutate: func(s *Settings) { s.Credentials.Source = "vault" }, wantErr: "credentials.source"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestString_NoSecrets(t *testing.T) {
	s := Settings{Bucket: "my-site", Credentials: CredentialSettings{
		Source: SourceStatic, AccessKeyID: "AKIAEXAMPLE", SecretAccessKey: "s3cr3t",
	}}
	s.applyDefaults()
	assert.NotContains(t, s.String(), "s3cr3t")
	assert.NotContains(t, s.String(), "AKIAEXAMPLE")
}
