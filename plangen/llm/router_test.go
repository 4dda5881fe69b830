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
	"reflect"
	"testing"
	"time"
)

// fakeProvider scripts a sequence of attempt outcomes. Each call consumes
// the next scripted step; past the script it repeats the last step.
type fakeProvider struct {
	name       string
	configured bool
	steps      []fakeStep
	calls      int
}

type fakeStep struct {
	text string
	err  error
}

func (f *fakeProvider) Name() string     { return f.name }
func (f *fakeProvider) Configured() bool { return f.configured }

func (f *fakeProvider) Generate(ctx context.Context, req Request) (*Generation, error) {
	idx := f.calls
	if idx >= len(f.steps) {
		idx = len(f.steps) - 1
	}
	f.calls++
	step := f.steps[idx]
	if step.err != nil {
		return nil, step.err
	}
	return &Generation{
		Provider: f.name,
		Model:    req.Model,
		Text:     step.text,
		Usage:    TokenUsage{InputTokens: 100, OutputTokens: 200, TotalTokens: 300},
		Latency:  5 * time.Millisecond,
	}, nil
}

func healthy(name, text string) *fakeProvider {
	return &fakeProvider{name: name, configured: true, steps: []fakeStep{{text: text}}}
}

func failing(name string, code ErrorCode) *fakeProvider {
	return &fakeProvider{name: name, configured: true, steps: []fakeStep{
		{err: &ProviderError{Provider: name, Code: code}},
	}}
}

func TestRouteFirstProviderWins(t *testing.T) {
	first := healthy("openai", "plan text")
	second := healthy("anthropic", "never used")
	r := NewRouter([]Provider{first, second})

	result, err := r.Route(context.Background(), "req-1", Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if result.Generation.Provider != "openai" {
		t.Errorf("winner = %s, want openai", result.Generation.Provider)
	}
	if second.calls != 0 {
		t.Errorf("second provider was called %d times after a first-provider success", second.calls)
	}
	want := []string{"openai:success"}
	if !reflect.DeepEqual(result.Trace, want) {
		t.Errorf("trace = %v, want %v", result.Trace, want)
	}
}

func TestRouteFailoverTraceIsOrderedAndComplete(t *testing.T) {
	r := NewRouter([]Provider{
		failing("openai", ErrRateLimit),
		&fakeProvider{name: "anthropic", configured: false},
		failing("gemini", ErrUnavailable),
		healthy("bedrock", "plan text"),
	})

	result, err := r.Route(context.Background(), "req-2", Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	want := []string{
		"openai:PROVIDER_RATE_LIMIT",
		"anthropic:not_configured",
		"gemini:PROVIDER_UNAVAILABLE",
		"bedrock:success",
	}
	if !reflect.DeepEqual(result.Trace, want) {
		t.Errorf("trace = %v, want %v", result.Trace, want)
	}
}

func TestRouteAllFailed(t *testing.T) {
	r := NewRouter([]Provider{
		failing("openai", ErrAuth),
		failing("anthropic", ErrAuth),
	})

	_, err := r.Route(context.Background(), "req-3", Request{Prompt: "p"})
	routeErr, ok := err.(*RouteError)
	if !ok {
		t.Fatalf("error type = %T, want *RouteError", err)
	}
	if len(routeErr.Errors) != 2 {
		t.Fatalf("errors = %d, want 2", len(routeErr.Errors))
	}
	if !routeErr.AllCode(ErrAuth) {
		t.Error("AllCode(ErrAuth) = false for uniformly auth-failed providers")
	}
	if routeErr.AllCode(ErrRateLimit) {
		t.Error("AllCode(ErrRateLimit) = true for auth failures")
	}
}

func TestRouteAllCodeIgnoresSkips(t *testing.T) {
	// A provider skipped for missing credentials leaves a trace entry but
	// no recorded failure. The remaining uniform failures still count as
	// all-of-one-code.
	r := NewRouter([]Provider{
		&fakeProvider{name: "openai", configured: false},
		failing("anthropic", ErrRateLimit),
	})

	_, err := r.Route(context.Background(), "req-4", Request{Prompt: "p"})
	routeErr := err.(*RouteError)
	if !routeErr.AllCode(ErrRateLimit) {
		t.Error("skipped provider must not break AllCode uniformity")
	}
	want := []string{"openai:not_configured", "anthropic:PROVIDER_RATE_LIMIT"}
	if !reflect.DeepEqual(routeErr.Trace, want) {
		t.Errorf("trace = %v, want %v", routeErr.Trace, want)
	}
}

func TestRouteAllCodeFalseWhenOnlySkips(t *testing.T) {
	r := NewRouter([]Provider{
		&fakeProvider{name: "openai", configured: false},
		&fakeProvider{name: "anthropic", configured: false},
	})

	_, err := r.Route(context.Background(), "req-5", Request{Prompt: "p"})
	routeErr := err.(*RouteError)
	if routeErr.AllCode(ErrAuth) {
		t.Error("AllCode must be false when no real attempt was made")
	}
}

func TestRouteTimeoutRetriesSameProviderOnce(t *testing.T) {
	flaky := &fakeProvider{name: "openai", configured: true, steps: []fakeStep{
		{err: &ProviderError{Provider: "openai", Code: ErrTimeout}},
		{text: "plan text"},
	}}
	r := NewRouter([]Provider{flaky}, WithTimeoutRetry(true))

	result, err := r.Route(context.Background(), "req-6", Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if flaky.calls != 2 {
		t.Errorf("calls = %d, want 2", flaky.calls)
	}
	// Both the timed-out attempt and the retry appear in the trace
	want := []string{"openai:PROVIDER_TIMEOUT", "openai:success"}
	if !reflect.DeepEqual(result.Trace, want) {
		t.Errorf("trace = %v, want %v", result.Trace, want)
	}
}

func TestRouteTimeoutRetryFailsOver(t *testing.T) {
	flaky := &fakeProvider{name: "openai", configured: true, steps: []fakeStep{
		{err: &ProviderError{Provider: "openai", Code: ErrTimeout}},
		{err: &ProviderError{Provider: "openai", Code: ErrTimeout}},
	}}
	r := NewRouter([]Provider{flaky, healthy("anthropic", "plan text")}, WithTimeoutRetry(true))

	result, err := r.Route(context.Background(), "req-7", Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if flaky.calls != 2 {
		t.Errorf("calls = %d, want 2 (no third same-provider retry)", flaky.calls)
	}
	want := []string{"openai:PROVIDER_TIMEOUT", "openai:PROVIDER_TIMEOUT", "anthropic:success"}
	if !reflect.DeepEqual(result.Trace, want) {
		t.Errorf("trace = %v, want %v", result.Trace, want)
	}
}

func TestRouteNoRetryWhenDisabled(t *testing.T) {
	flaky := &fakeProvider{name: "openai", configured: true, steps: []fakeStep{
		{err: &ProviderError{Provider: "openai", Code: ErrTimeout}},
	}}
	r := NewRouter([]Provider{flaky, healthy("anthropic", "plan text")})

	if _, err := r.Route(context.Background(), "req-8", Request{Prompt: "p"}); err != nil {
		t.Fatalf("Route: %v", err)
	}
	if flaky.calls != 1 {
		t.Errorf("calls = %d, want 1", flaky.calls)
	}
}

func TestRouteEmptyResponseIsInvalid(t *testing.T) {
	empty := healthy("openai", "   ")
	r := NewRouter([]Provider{empty, healthy("anthropic", "plan text")})

	result, err := r.Route(context.Background(), "req-9", Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	want := []string{"openai:PROVIDER_INVALID_RESPONSE", "anthropic:success"}
	if !reflect.DeepEqual(result.Trace, want) {
		t.Errorf("trace = %v, want %v", result.Trace, want)
	}
}

func TestRouteCircuitOpensAfterThreshold(t *testing.T) {
	flaky := failing("openai", ErrUnavailable)
	backup := healthy("anthropic", "plan text")
	r := NewRouter([]Provider{flaky, backup},
		WithBreaker("openai", NewCircuitBreaker(2, time.Hour)))

	ctx := context.Background()
	req := Request{Prompt: "p"}

	for i := 0; i < 2; i++ {
		if _, err := r.Route(ctx, "req", req); err != nil {
			t.Fatalf("Route %d: %v", i, err)
		}
	}
	if flaky.calls != 2 {
		t.Fatalf("calls before open = %d, want 2", flaky.calls)
	}

	// Third request: the breaker is open, the provider is skipped
	result, err := r.Route(ctx, "req", req)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if flaky.calls != 2 {
		t.Errorf("open circuit still let a call through, calls = %d", flaky.calls)
	}
	want := []string{"openai:circuit_open", "anthropic:success"}
	if !reflect.DeepEqual(result.Trace, want) {
		t.Errorf("trace = %v, want %v", result.Trace, want)
	}
}

func TestRouteObserverSeesEveryAttempt(t *testing.T) {
	var seen []string
	r := NewRouter([]Provider{
		&fakeProvider{name: "openai", configured: false},
		failing("anthropic", ErrRateLimit),
		healthy("gemini", "plan text"),
	}, WithAttemptObserver(func(provider, code string) {
		seen = append(seen, provider+":"+code)
	}))

	if _, err := r.Route(context.Background(), "req-10", Request{Prompt: "p"}); err != nil {
		t.Fatalf("Route: %v", err)
	}
	want := []string{"openai:not_configured", "anthropic:PROVIDER_RATE_LIMIT", "gemini:success"}
	if !reflect.DeepEqual(seen, want) {
		t.Errorf("observed = %v, want %v", seen, want)
	}
}

func TestRouterStatus(t *testing.T) {
	r := NewRouter([]Provider{
		healthy("openai", "x"),
		&fakeProvider{name: "anthropic", configured: false},
	})

	statuses := r.Status()
	if len(statuses) != 2 {
		t.Fatalf("statuses = %d, want 2", len(statuses))
	}
	if statuses[0].Name != "openai" || !statuses[0].Configured {
		t.Errorf("unexpected first status %+v", statuses[0])
	}
	if statuses[1].Configured {
		t.Errorf("anthropic should report unconfigured")
	}
	if statuses[0].Circuit != CircuitClosed {
		t.Errorf("fresh breaker state = %s, want closed", statuses[0].Circuit)
	}
}
