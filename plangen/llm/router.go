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

package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"coachcore/platform/shared/logger"
)

const (
	// TraceSuccess marks the winning attempt in a failover trace.
	TraceSuccess = "success"
	// TraceNotConfigured marks a provider skipped for missing credentials.
	TraceNotConfigured = "not_configured"
	// TraceCircuitOpen marks a provider skipped by its circuit breaker.
	TraceCircuitOpen = "circuit_open"
)

// Result is the outcome of a successful route: the winning generation plus
// the ordered trace of every provider attempted on the way.
type Result struct {
	Generation *Generation
	Trace      []string
}

// RouteError is returned when every provider failed. Trace holds one entry
// per attempt in priority order; Errors holds the classified failures.
type RouteError struct {
	Errors []*ProviderError
	Trace  []string
}

func (e *RouteError) Error() string {
	return fmt.Sprintf("all providers failed: %s", strings.Join(e.Trace, ", "))
}

// AllCode reports whether every recorded failure carries the given code.
// Skipped providers (unconfigured, circuit open) do not count.
func (e *RouteError) AllCode(code ErrorCode) bool {
	if len(e.Errors) == 0 {
		return false
	}
	for _, pe := range e.Errors {
		if pe.Code != code {
			return false
		}
	}
	return true
}

// ProviderStatus is a point-in-time view of one provider for diagnostics.
type ProviderStatus struct {
	Name       string       `json:"name"`
	Configured bool         `json:"configured"`
	Circuit    CircuitState `json:"circuit"`
}

// AttemptObserver is notified of every attempt outcome, including skips.
type AttemptObserver func(provider string, code string)

// Router attempts providers sequentially in priority order. Sequential
// attempts keep the failover trace strictly ordered and avoid duplicate
// billable calls.
type Router struct {
	providers      []Provider
	breakers       map[string]*CircuitBreaker
	timeout        time.Duration
	retryOnTimeout bool
	observer       AttemptObserver
	log            *logger.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithTimeout bounds each provider attempt.
func WithTimeout(d time.Duration) RouterOption {
	return func(r *Router) { r.timeout = d }
}

// WithTimeoutRetry enables one immediate same-provider retry when an
// attempt times out. Both attempts appear in the trace.
func WithTimeoutRetry(enabled bool) RouterOption {
	return func(r *Router) { r.retryOnTimeout = enabled }
}

// WithAttemptObserver registers a callback for per-attempt metrics.
func WithAttemptObserver(fn AttemptObserver) RouterOption {
	return func(r *Router) { r.observer = fn }
}

// WithBreaker installs a custom circuit breaker for one provider.
func WithBreaker(provider string, cb *CircuitBreaker) RouterOption {
	return func(r *Router) { r.breakers[provider] = cb }
}

// WithLogger sets the structured logger.
func WithLogger(log *logger.Logger) RouterOption {
	return func(r *Router) { r.log = log }
}

// NewRouter creates a Router over providers in the given priority order.
func NewRouter(providers []Provider, opts ...RouterOption) *Router {
	r := &Router{
		providers: providers,
		breakers:  make(map[string]*CircuitBreaker),
		timeout:   30 * time.Second,
		log:       logger.New("llm-router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, p := range providers {
		if _, ok := r.breakers[p.Name()]; !ok {
			r.breakers[p.Name()] = NewCircuitBreaker(0, 0)
		}
	}
	return r
}

// Providers returns the configured priority order.
func (r *Router) Providers() []Provider {
	return r.providers
}

// Status reports the current state of every provider.
func (r *Router) Status() []ProviderStatus {
	statuses := make([]ProviderStatus, 0, len(r.providers))
	for _, p := range r.providers {
		statuses = append(statuses, ProviderStatus{
			Name:       p.Name(),
			Configured: p.Configured(),
			Circuit:    r.breakers[p.Name()].State(),
		})
	}
	return statuses
}

func (r *Router) observe(provider, code string) {
	if r.observer != nil {
		r.observer(provider, code)
	}
}

// Route tries each provider in order and returns the first success. When
// every provider fails it returns a *RouteError carrying the classified
// failures and the complete trace.
func (r *Router) Route(ctx context.Context, requestID string, req Request) (*Result, error) {
	var trace []string
	var routeErrs []*ProviderError

	for _, p := range r.providers {
		name := p.Name()

		if !p.Configured() {
			trace = append(trace, name+":"+TraceNotConfigured)
			r.observe(name, TraceNotConfigured)
			continue
		}

		cb := r.breakers[name]
		if !cb.Allow() {
			trace = append(trace, name+":"+TraceCircuitOpen)
			r.observe(name, TraceCircuitOpen)
			continue
		}

		gen, perr := r.attempt(ctx, p, req)
		if perr != nil && perr.Code == ErrTimeout && r.retryOnTimeout {
			trace = append(trace, name+":"+string(perr.Code))
			r.observe(name, string(perr.Code))
			routeErrs = append(routeErrs, perr)
			r.log.Warn("", requestID, "provider timed out, retrying once", map[string]interface{}{
				"provider": name,
			})
			gen, perr = r.attempt(ctx, p, req)
		}

		if perr != nil {
			trace = append(trace, name+":"+string(perr.Code))
			r.observe(name, string(perr.Code))
			routeErrs = append(routeErrs, perr)
			cb.RecordFailure()
			r.log.Warn("", requestID, "provider attempt failed", map[string]interface{}{
				"provider": name,
				"code":     string(perr.Code),
				"error":    perr.Error(),
			})
			continue
		}

		cb.RecordSuccess()
		trace = append(trace, name+":"+TraceSuccess)
		r.observe(name, TraceSuccess)
		r.log.InfoWithDuration("", requestID, "provider generation succeeded",
			float64(gen.Latency.Milliseconds()), map[string]interface{}{
				"provider": name,
				"model":    gen.Model,
				"tokens":   gen.Usage.TotalTokens,
			})
		return &Result{Generation: gen, Trace: trace}, nil
	}

	return nil, &RouteError{Errors: routeErrs, Trace: trace}
}

// attempt runs one bounded provider call and classifies any failure.
func (r *Router) attempt(ctx context.Context, p Provider, req Request) (*Generation, *ProviderError) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	gen, err := p.Generate(attemptCtx, req)
	if err != nil {
		var perr *ProviderError
		if pe, ok := err.(*ProviderError); ok {
			perr = pe
		} else {
			perr = Classify(p.Name(), 0, err)
		}
		return nil, perr
	}
	if gen == nil || strings.TrimSpace(gen.Text) == "" {
		return nil, &ProviderError{
			Provider: p.Name(),
			Code:     ErrInvalidResponse,
			Err:      fmt.Errorf("empty response from %s", p.Name()),
		}
	}
	return gen, nil
}
