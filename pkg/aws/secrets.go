package aws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// ErrSecretNotFound is returned for secrets that do not exist or hold no
// string value.
var ErrSecretNotFound = errors.New("secret not found")

// SecretLookupTimeout bounds a single Secrets Manager call.
const SecretLookupTimeout = 5 * time.Second

// SecretsAPI is the part of the Secrets Manager client used here.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsClient reads the importer's secrets under one name prefix, e.g.
// "product-importer/DATABASE_URL", and caches what it found.
type SecretsClient struct {
	api     SecretsAPI
	prefix  string
	timeout time.Duration
	cache   map[string]string
	mu      sync.RWMutex
}

func NewSecretsClient(cfg sdkaws.Config, prefix string) *SecretsClient {
	return NewSecretsClientWithAPI(secretsmanager.NewFromConfig(cfg), prefix)
}

func NewSecretsClientWithAPI(api SecretsAPI, prefix string) *SecretsClient {
	return &SecretsClient{
		api:     api,
		prefix:  prefix,
		timeout: SecretLookupTimeout,
		cache:   make(map[string]string),
	}
}

// Lookup returns the secret stored for key under the client's prefix.
func (s *SecretsClient) Lookup(ctx context.Context, key string) (string, error) {
	name := key
	if s.prefix != "" {
		name = s.prefix + "/" + key
	}

	s.mu.RLock()
	if v, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return v, nil
	}
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &name})
	if err != nil {
		var nf *types.ResourceNotFoundException
		if errors.As(err, &nf) {
			return "", fmt.Errorf("%s: %w", name, ErrSecretNotFound)
		}
		return "", fmt.Errorf("failed to get secret %s: %w", name, err)
	}
	if out.SecretString == nil || *out.SecretString == "" {
		return "", fmt.Errorf("%s has no string value: %w", name, ErrSecretNotFound)
	}

	s.mu.Lock()
	s.cache[name] = *out.SecretString
	s.mu.Unlock()

	return *out.SecretString, nil
}
