// Copyright 2025 CoachCore
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsManager resolves a credential reference to its secret value.
// References are scheme-prefixed: "env:NAME", "file:/path", or an AWS
// Secrets Manager ARN.
type SecretsManager interface {
	GetSecret(ctx context.Context, ref string) (string, error)
}

// EnvSecretsManager resolves secrets from process environment variables
type EnvSecretsManager struct{}

// NewEnvSecretsManager creates an environment-backed secrets manager
func NewEnvSecretsManager() *EnvSecretsManager {
	return &EnvSecretsManager{}
}

// GetSecret reads the named environment variable
func (s *EnvSecretsManager) GetSecret(_ context.Context, ref string) (string, error) {
	name := strings.TrimPrefix(ref, "env:")
	value, ok := os.LookupEnv(name)
	if !ok || value == "" {
		return "", fmt.Errorf("environment variable %s is not set", name)
	}
	return value, nil
}

// LocalSecretsManager resolves secrets from files on disk, for local
// development only.
type LocalSecretsManager struct{}

// NewLocalSecretsManager creates a file-backed secrets manager
func NewLocalSecretsManager() *LocalSecretsManager {
	return &LocalSecretsManager{}
}

// GetSecret reads the secret from the referenced file path
func (s *LocalSecretsManager) GetSecret(_ context.Context, ref string) (string, error) {
	path := strings.TrimPrefix(ref, "file:")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// AWSSecretsManager resolves secrets from AWS Secrets Manager with a
// short-lived in-process cache.
type AWSSecretsManager struct {
	client *secretsmanager.Client
	cache  map[string]*secretCacheEntry
	mu     sync.RWMutex
	ttl    time.Duration
	logger *log.Logger
}

type secretCacheEntry struct {
	value     string
	expiresAt time.Time
}

// AWSSecretsManagerOptions holds options for creating an AWSSecretsManager
type AWSSecretsManagerOptions struct {
	Region   string
	CacheTTL time.Duration
	Logger   *log.Logger
}

// NewAWSSecretsManager creates a new AWS Secrets Manager client
func NewAWSSecretsManager(ctx context.Context, opts AWSSecretsManagerOptions) (*AWSSecretsManager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[SECRETS_MANAGER] ", log.LstdFlags)
	}

	cfgOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		cfgOpts = append(cfgOpts, awsconfig.WithRegion(opts.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &AWSSecretsManager{
		client: secretsmanager.NewFromConfig(cfg),
		cache:  make(map[string]*secretCacheEntry),
		ttl:    ttl,
		logger: logger,
	}, nil
}

// GetSecret retrieves a secret value from AWS Secrets Manager. JSON secrets
// with a single "value" or "api_key" key are unwrapped; plain-string secrets
// are returned as-is.
func (s *AWSSecretsManager) GetSecret(ctx context.Context, secretARN string) (string, error) {
	s.mu.RLock()
	entry, exists := s.cache[secretARN]
	s.mu.RUnlock()

	if exists && time.Now().Before(entry.expiresAt) {
		return entry.value, nil
	}

	s.logger.Printf("Fetching secret %s from AWS Secrets Manager", maskARN(secretARN))

	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretARN),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", maskARN(secretARN), err)
	}
	if result.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", maskARN(secretARN))
	}

	value := *result.SecretString
	var wrapped map[string]string
	if err := json.Unmarshal([]byte(value), &wrapped); err == nil {
		if v, ok := wrapped["value"]; ok {
			value = v
		} else if v, ok := wrapped["api_key"]; ok {
			value = v
		}
	}

	s.mu.Lock()
	s.cache[secretARN] = &secretCacheEntry{value: value, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()

	return value, nil
}

// NewSecretsManagerForRef picks the manager implementation for a reference.
func NewSecretsManagerForRef(ctx context.Context, ref, region string) (SecretsManager, error) {
	switch {
	case strings.HasPrefix(ref, "env:"):
		return NewEnvSecretsManager(), nil
	case strings.HasPrefix(ref, "file:"):
		return NewLocalSecretsManager(), nil
	case strings.HasPrefix(ref, "arn:aws:secretsmanager:"):
		return NewAWSSecretsManager(ctx, AWSSecretsManagerOptions{Region: region})
	default:
		return NewEnvSecretsManager(), nil
	}
}

// maskARN hides the secret name portion of an ARN in log output
func maskARN(arn string) string {
	if len(arn) <= 12 {
		return "***"
	}
	return arn[:12] + "***"
}
