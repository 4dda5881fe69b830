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

// Package config loads the plan-generation service configuration from a
// YAML file with environment variable overrides, and resolves provider
// credentials through a pluggable secrets manager.
package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root service configuration.
type Config struct {
	Port                 int              `yaml:"port"`
	DatabaseURL          string           `yaml:"database_url"`
	RedisURL             string           `yaml:"redis_url"`
	JWTSecretRef         string           `yaml:"jwt_secret_ref"`
	MaxConcurrentPerUser int              `yaml:"max_concurrent_per_user"`
	ProviderTimeoutMs    int              `yaml:"provider_timeout_ms"`
	Providers            []ProviderConfig `yaml:"providers"`
}

// ProviderConfig describes one generative text provider. Providers are
// attempted in ascending Priority order.
type ProviderConfig struct {
	Name        string `yaml:"name"`
	Enabled     bool   `yaml:"enabled"`
	Priority    int    `yaml:"priority"`
	Model       string `yaml:"model,omitempty"`
	Endpoint    string `yaml:"endpoint,omitempty"`
	Region      string `yaml:"region,omitempty"`
	APIKeyRef   string `yaml:"api_key_ref,omitempty"`
	MaxTokens   int    `yaml:"max_tokens,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty"`
}

// ProviderTimeout returns the per-attempt provider timeout.
func (c *Config) ProviderTimeout() time.Duration {
	if c.ProviderTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.ProviderTimeoutMs) * time.Millisecond
}

// envVarPattern matches ${VAR} references in the raw config file
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} references with environment values
func expandEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return match
	})
}

// Load reads the configuration file at path, expands environment variable
// references, and applies environment overrides. A missing file is not an
// error; the configuration is then built from environment variables alone.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Port:                 8087,
		MaxConcurrentPerUser: 2,
		ProviderTimeoutMs:    30000,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			expanded := expandEnvVars(string(data))
			if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	sort.SliceStable(cfg.Providers, func(i, j int) bool {
		return cfg.Providers[i].Priority < cfg.Providers[j].Priority
	})

	return cfg, nil
}

// applyEnvOverrides lets deploy-time environment variables win over the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("MAX_CONCURRENT_PER_USER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConcurrentPerUser = n
		}
	}
	if v := os.Getenv("AI_PROVIDER_ORDER"); v != "" {
		reorderProviders(cfg, v)
	}
}

// reorderProviders rewrites provider priorities to match a comma-separated
// name list. Names not present in the list keep their relative order after
// the listed ones; unknown names are ignored.
func reorderProviders(cfg *Config, order string) {
	rank := make(map[string]int)
	for i, name := range strings.Split(order, ",") {
		rank[strings.TrimSpace(strings.ToLower(name))] = i
	}

	base := len(rank)
	for i := range cfg.Providers {
		if r, ok := rank[strings.ToLower(cfg.Providers[i].Name)]; ok {
			cfg.Providers[i].Priority = r
		} else {
			cfg.Providers[i].Priority = base + cfg.Providers[i].Priority
		}
	}
}
