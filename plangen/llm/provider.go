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

// Package llm provides the generative text provider abstraction and the
// sequential failover router used by the plan-generation pipeline.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrorCode classifies a provider failure for failover and status mapping.
type ErrorCode string

const (
	ErrAuth            ErrorCode = "PROVIDER_AUTH"
	ErrRateLimit       ErrorCode = "PROVIDER_RATE_LIMIT"
	ErrTimeout         ErrorCode = "PROVIDER_TIMEOUT"
	ErrUnavailable     ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrInvalidResponse ErrorCode = "PROVIDER_INVALID_RESPONSE"
	ErrNetwork         ErrorCode = "PROVIDER_NETWORK"
	ErrUnknown         ErrorCode = "UNKNOWN"
)

// Request carries the provider-agnostic generation instructions.
type Request struct {
	RequestType  string
	SystemPrompt string
	Prompt       string
	Model        string
	MaxTokens    int
	Temperature  float64
}

// TokenUsage reports token counts and estimated spend for one generation.
type TokenUsage struct {
	InputTokens      int     `json:"inputTokens"`
	OutputTokens     int     `json:"outputTokens"`
	TotalTokens      int     `json:"totalTokens"`
	EstimatedCostUSD float64 `json:"estimatedCostUsd"`
}

// Generation is a single successful provider response.
type Generation struct {
	Provider     string
	Model        string
	Text         string
	FinishReason string
	Usage        TokenUsage
	Latency      time.Duration
}

// Provider is a generative text backend. Configured reports whether the
// adapter has the credentials it needs; unconfigured providers are skipped
// by the router without counting as failures.
type Provider interface {
	Name() string
	Configured() bool
	Generate(ctx context.Context, req Request) (*Generation, error)
}

// ProviderError is a classified failure from one provider attempt.
type ProviderError struct {
	Provider string
	Code     ErrorCode
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Code)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Classify wraps err as a ProviderError, deriving the error code from the
// HTTP status when one is known and from the error shape otherwise.
func Classify(provider string, status int, err error) *ProviderError {
	code := classifyStatus(status)
	if code == ErrUnknown {
		code = classifyErr(err)
	}
	return &ProviderError{Provider: provider, Code: code, Status: status, Err: err}
}

func classifyStatus(status int) ErrorCode {
	switch {
	case status == 401 || status == 403:
		return ErrAuth
	case status == 429:
		return ErrRateLimit
	case status == 408 || status == 504:
		return ErrTimeout
	case status == 502 || status == 503:
		return ErrUnavailable
	case status >= 500:
		return ErrUnavailable
	case status >= 400:
		return ErrInvalidResponse
	default:
		return ErrUnknown
	}
}

func classifyErr(err error) ErrorCode {
	if err == nil {
		return ErrUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrTimeout
		}
		return ErrNetwork
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return ErrTimeout
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host"):
		return ErrNetwork
	case strings.Contains(msg, "throttl") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "rate"):
		return ErrRateLimit
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "access denied") || strings.Contains(msg, "api key"):
		return ErrAuth
	case strings.Contains(msg, "unmarshal") || strings.Contains(msg, "decode") || strings.Contains(msg, "empty response"):
		return ErrInvalidResponse
	default:
		return ErrUnknown
	}
}
