// Package credentials supplies object store and CDN credentials from the
// environment, the settings file or AWS Secrets Manager.
//
// Secret values never appear in logs or error messages. Use Hint to show
// which key is in use.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
)

var (
	// ErrNotFound is returned when a source holds no credentials
	ErrNotFound = errors.New("credentials not found")

	// ErrSecretEmpty is returned when the secret exists but has no value
	ErrSecretEmpty = errors.New("secret value is empty")

	// ErrMalformedSecret is returned when the secret is not a key pair document
	ErrMalformedSecret = errors.New("secret is not a valid key pair")

	// ErrAccessDenied is returned when the caller may not read the secret
	ErrAccessDenied = errors.New("access denied to secret")
)

// Credentials is an access key pair.
type Credentials struct {
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
}

// Valid reports whether both halves of the pair are set.
func (c Credentials) Valid() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// Hint returns the access key id masked down to its last four characters.
func (c Credentials) Hint() string {
	id := c.AccessKeyID
	if len(id) <= 4 {
		return strings.Repeat("*", len(id))
	}
	return "****" + id[len(id)-4:]
}

// String redacts the pair.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{AccessKeyID: %s, SecretAccessKey: [REDACTED]}", c.Hint())
}

// GoString redacts the pair for %#v.
func (c Credentials) GoString() string {
	return c.String()
}

// Provider retrieves credentials.
type Provider interface {
	Retrieve(ctx context.Context) (Credentials, error)
}

// StaticProvider returns fixed credentials.
type StaticProvider struct {
	Creds Credentials
}

// Retrieve implements Provider.
func (p StaticProvider) Retrieve(context.Context) (Credentials, error) {
	if !p.Creds.Valid() {
		return Credentials{}, fmt.Errorf("static: %w", ErrNotFound)
	}
	return p.Creds, nil
}

// EnvProvider reads the standard AWS environment variables.
type EnvProvider struct {
	// Lookup replaces os.LookupEnv, for tests
	Lookup func(string) (string, bool)
}

// Retrieve implements Provider.
func (p EnvProvider) Retrieve(context.Context) (Credentials, error) {
	lookup := p.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	id, _ := lookup("AWS_ACCESS_KEY_ID")
	secret, _ := lookup("AWS_SECRET_ACCESS_KEY")
	creds := Credentials{AccessKeyID: strings.TrimSpace(id), SecretAccessKey: strings.TrimSpace(secret)}
	if !creds.Valid() {
		return Credentials{}, fmt.Errorf("environment: %w", ErrNotFound)
	}
	return creds, nil
}

// AWSProvider adapts p to the AWS SDK. Static credentials map directly onto
// the SDK's static provider; other sources are retrieved once and cached.
func AWSProvider(p Provider) aws.CredentialsProvider {
	if s, ok := p.(StaticProvider); ok && s.Creds.Valid() {
		return awscreds.NewStaticCredentialsProvider(s.Creds.AccessKeyID, s.Creds.SecretAccessKey, "")
	}
	return aws.NewCredentialsCache(aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		creds, err := p.Retrieve(ctx)
		if err != nil {
			return aws.Credentials{}, err
		}
		return aws.Credentials{
			AccessKeyID:     creds.AccessKeyID,
			SecretAccessKey: creds.SecretAccessKey,
			Source:          "afterglow",
		}, nil
	}))
}
