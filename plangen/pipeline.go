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

package plangen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"coachcore/platform/plangen/llm"
	"coachcore/platform/shared/logger"
)

// Pipeline composes the generation stages: gate, constraints, context,
// de-identification, prompt assembly, audit open, routing, validation or
// degraded fallback, audit close. Stages short-circuit with typed errors;
// there is no hidden control flow between them.
type Pipeline struct {
	store      Store
	gate       *AccessGate
	contexts   ContextBuilder
	deid       *Deidentifier
	validator  *OutputValidator
	router     *llm.Router
	audit      AuditSink
	limiter    ConcurrencyLimiter
	metrics    MetricsSink
	log        *logger.Logger
}

// PipelineDeps wires a Pipeline.
type PipelineDeps struct {
	Store    Store
	Contexts ContextBuilder
	Router   *llm.Router
	Audit    AuditSink
	Limiter  ConcurrencyLimiter
	Metrics  MetricsSink
	Detector *PIIDetector
}

// NewPipeline creates the pipeline from its collaborators.
func NewPipeline(deps PipelineDeps) *Pipeline {
	detector := deps.Detector
	if detector == nil {
		detector = NewPIIDetector()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Pipeline{
		store:     deps.Store,
		gate:      NewAccessGate(deps.Store),
		contexts:  deps.Contexts,
		deid:      NewDeidentifier(detector),
		validator: NewOutputValidator(detector),
		router:    deps.Router,
		audit:     deps.Audit,
		limiter:   deps.Limiter,
		metrics:   metrics,
		log:       logger.New("plangen-pipeline"),
	}
}

func internalError(msg string) *PipelineError {
	return &PipelineError{Code: CodeInternalError, Status: http.StatusInternalServerError, Message: msg}
}

// Generate runs one request through the full pipeline.
func (p *Pipeline) Generate(ctx context.Context, req GenerationRequest) (resp *GenerationResponse, err error) {
	start := time.Now()
	tenant := req.Requester.TenantID

	outcome := "error"
	defer func() {
		p.metrics.RecordGeneration(outcome, time.Since(start))
	}()

	if gateErr := p.gate.Check(ctx, req); gateErr != nil {
		if denial, ok := gateErr.(*DenialError); ok {
			outcome = "denied"
			p.metrics.RecordDenial(denial.Code)
			p.log.Warn(tenant, req.RequestID, "generation denied", map[string]interface{}{
				"code":   denial.Code,
				"target": req.TargetUserID,
			})
			return nil, denial
		}
		p.log.Error(tenant, req.RequestID, "gate check failed", map[string]interface{}{
			"error": gateErr.Error(),
		})
		return nil, internalError("access check failed")
	}

	profile, err := p.store.ClientProfileByUserID(ctx, req.TargetUserID)
	if err != nil {
		p.log.Error(tenant, req.RequestID, "profile lookup failed", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, internalError("profile lookup failed")
	}
	if profile == nil {
		outcome = "denied"
		return nil, &PipelineError{Code: CodeNotFound, Status: http.StatusNotFound,
			Message: "client profile not found"}
	}

	baseline, err := p.store.LatestBaseline(ctx, req.TargetUserID)
	if err != nil {
		p.log.Error(tenant, req.RequestID, "baseline lookup failed", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, internalError("baseline lookup failed")
	}
	constraints := BuildConstraints(profile, baseline, req.HorizonMonths)

	history, err := p.contexts.HistoricalContext(ctx, req.TargetUserID, req.HorizonMonths)
	if err != nil {
		// Context enriches the prompt but is not required for safety;
		// proceed without it
		p.log.Warn(tenant, req.RequestID, "historical context unavailable", map[string]interface{}{
			"error": err.Error(),
		})
		history = &HistoricalContext{}
	}

	if profile.Pseudonym == "" {
		profile.Pseudonym = GeneratePseudonym(profile.UserID)
		if err := p.store.SavePseudonym(ctx, profile.UserID, profile.Pseudonym); err != nil {
			p.log.Warn(tenant, req.RequestID, "failed to persist pseudonym", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	payload, err := p.deid.Deidentify(profile)
	if err != nil {
		outcome = "privacy_error"
		p.log.Error(tenant, req.RequestID, "de-identification failed closed", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, &PipelineError{Code: CodePrivacyError, Status: http.StatusInternalServerError,
			Message: "client data could not be de-identified"}
	}
	p.metrics.RecordStrippedFields(len(payload.StrippedFields))

	prompt, err := AssemblePrompt(payload, constraints, history)
	if err != nil {
		return nil, internalError("prompt assembly failed")
	}

	release, err := p.limiter.Acquire(ctx, req.Requester.UserID)
	if err != nil {
		if errors.Is(err, ErrConcurrencyLimit) {
			outcome = "rate_limited"
			return nil, &PipelineError{Code: CodeConcurrentLimit, Status: http.StatusTooManyRequests,
				Message: "too many concurrent generation requests"}
		}
		return nil, internalError("concurrency slot unavailable")
	}
	defer release()

	auditID, err := p.audit.Open(ctx, &AuditEntry{
		RequestID:      req.RequestID,
		RequestType:    RequestTypeLongHorizon,
		RequesterID:    req.Requester.UserID,
		TargetUserID:   req.TargetUserID,
		HorizonMonths:  req.HorizonMonths,
		PayloadHash:    payload.Hash,
		StrippedFields: payload.StrippedFields,
		PromptVersion:  PromptVersion,
		OverrideReason: req.OverrideReason,
	})
	if err != nil {
		p.log.Error(tenant, req.RequestID, "failed to open audit entry", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, internalError("audit trail unavailable")
	}

	// Any panic past this point must still close the audit record; the
	// concurrency slot is already covered by the deferred release
	defer func() {
		if r := recover(); r != nil {
			p.log.Error(tenant, req.RequestID, "panic during generation", map[string]interface{}{
				"panic": fmt.Sprint(r),
			})
			p.audit.Close(ctx, auditID, AuditClose{
				Status:   AuditError,
				Duration: time.Since(start),
			})
			resp, err = nil, internalError("generation failed")
		}
	}()

	result, routeErr := p.router.Route(ctx, req.RequestID, llm.Request{
		RequestType:  RequestTypeLongHorizon,
		SystemPrompt: LongHorizonSystemMessage,
		Prompt:       prompt,
		MaxTokens:    4096,
		Temperature:  0.4,
	})
	if routeErr != nil {
		return p.finishRouteFailure(ctx, req, auditID, routeErr, start, &outcome)
	}

	gen := result.Generation
	vr := p.validator.Validate(gen.Text, ValidateOptions{
		IdentityTerms:  identityTerms(profile),
		HorizonMonths:  req.HorizonMonths,
		ActiveInjuries: constraints.ActiveInjuries,
	})
	if !vr.OK {
		outcome = string(vr.FailStage)
		p.metrics.RecordValidationFailure(string(vr.FailStage))
		p.audit.Close(ctx, auditID, AuditClose{
			Status:        AuditError,
			Provider:      gen.Provider,
			Model:         gen.Model,
			OutputHash:    HashOutput(gen.Text),
			FailStage:     string(vr.FailStage),
			FailoverTrace: result.Trace,
			Duration:      time.Since(start),
			TokenUsage:    &gen.Usage,
		})
		return nil, validationFailureError(vr)
	}

	p.audit.Close(ctx, auditID, AuditClose{
		Status:        AuditDraft,
		Provider:      gen.Provider,
		Model:         gen.Model,
		OutputHash:    HashOutput(gen.Text),
		FailoverTrace: result.Trace,
		Duration:      time.Since(start),
		TokenUsage:    &gen.Usage,
	})

	outcome = "draft"
	p.log.InfoWithDuration(tenant, req.RequestID, "plan draft generated",
		float64(time.Since(start).Milliseconds()), map[string]interface{}{
			"provider": gen.Provider,
			"target":   req.TargetUserID,
			"warnings": len(vr.Warnings),
		})

	return &GenerationResponse{
		Success:       true,
		Draft:         true,
		Plan:          vr.Plan,
		HorizonMonths: req.HorizonMonths,
		Warnings:      vr.Warnings,
		Provider:      gen.Provider,
		AuditLogID:    auditID,
	}, nil
}

// finishRouteFailure closes the audit entry as degraded and maps the
// failure pattern: all auth failures are a configuration emergency, all
// rate limits are retryable-soon, anything mixed becomes an explicit
// degraded response.
func (p *Pipeline) finishRouteFailure(ctx context.Context, req GenerationRequest, auditID string,
	routeErr error, start time.Time, outcome *string) (*GenerationResponse, error) {

	rerr, ok := routeErr.(*llm.RouteError)
	if !ok {
		p.audit.Close(ctx, auditID, AuditClose{Status: AuditError, Duration: time.Since(start)})
		return nil, internalError("provider routing failed")
	}

	p.audit.Close(ctx, auditID, AuditClose{
		Status:        AuditDegraded,
		FailoverTrace: rerr.Trace,
		Duration:      time.Since(start),
	})

	reasons := make([]string, 0, len(rerr.Errors))
	for _, perr := range rerr.Errors {
		reasons = append(reasons, perr.Provider+": "+string(perr.Code))
	}

	switch {
	case rerr.AllCode(llm.ErrAuth):
		*outcome = "config_error"
		return nil, &PipelineError{Code: CodeConfigError, Status: http.StatusBadGateway,
			Message: "no provider accepted our credentials", Trace: rerr.Trace}
	case rerr.AllCode(llm.ErrRateLimit):
		*outcome = "rate_limited"
		return nil, &PipelineError{Code: CodeRateLimited, Status: http.StatusTooManyRequests,
			Message: "all providers are rate limiting; retry shortly", Trace: rerr.Trace}
	default:
		*outcome = "degraded"
		return BuildDegradedResponse(req.HorizonMonths, reasons, rerr.Trace), nil
	}
}

func validationFailureError(vr ValidationResult) *PipelineError {
	switch vr.FailStage {
	case StagePIILeak:
		return &PipelineError{Code: CodePIILeak, Status: http.StatusUnprocessableEntity,
			Message: vr.FailReason}
	case StageParse:
		return &PipelineError{Code: CodeParseError, Status: http.StatusBadGateway,
			Message: vr.FailReason}
	default:
		return &PipelineError{Code: CodeValidationFail, Status: http.StatusUnprocessableEntity,
			Message: vr.FailReason}
	}
}
