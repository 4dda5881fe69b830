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

// Package plangen implements the AI-assisted plan generation pipeline:
// consent and access gating, de-identification, constraint building,
// prompt assembly, provider routing with failover, output validation,
// degraded fallback, and the audit lifecycle around all of it.
package plangen

import (
	"fmt"
	"time"
)

// Role is the requester's platform role.
type Role string

const (
	RoleClient  Role = "client"
	RoleTrainer Role = "trainer"
	RoleAdmin   Role = "admin"
)

// Identity is the authenticated caller, produced by the transport layer.
type Identity struct {
	UserID   int
	Role     Role
	TenantID string
	Email    string
}

// Authenticated reports whether the identity carries a real user.
func (id Identity) Authenticated() bool {
	return id.UserID > 0 && id.Role != ""
}

// ValidHorizons is the fixed set of supported plan horizons in months.
var ValidHorizons = map[int]bool{3: true, 6: true, 12: true}

// GenerationRequest is the transient per-call request. It is never
// persisted as-is.
type GenerationRequest struct {
	RequestID      string
	Requester      Identity
	TargetUserID   int
	HorizonMonths  int
	OverrideReason string
}

// ClientProfile is the full internal client record. Name, contact and the
// other direct identifiers never leave the trust boundary; Attributes
// holds the profile document the de-identification transform projects.
type ClientProfile struct {
	UserID     int
	TenantID   string
	Name       string
	Pseudonym  string
	Attributes map[string]interface{}
}

// ConsentRecord is a client's AI-usage consent state.
type ConsentRecord struct {
	UserID      int
	Enabled     bool
	GrantedAt   time.Time
	WithdrawnAt *time.Time
}

// BaselineMeasurement is the latest movement screen on file for a client.
type BaselineMeasurement struct {
	UserID          int
	Compensations   []string
	ClearanceFlags  []string
	TakenAt         time.Time
}

// ServerConstraints are trusted facts derived from internal records only.
// They are recomputed per request and never taken from client input.
type ServerConstraints struct {
	ClearanceStatus    string
	ScreenScore        int
	Compensations      []string
	CorrectiveStrategy string
	OPTPhaseKey        string
	Framework          string
	PrimaryGoal        string
	HorizonMonths      int
	ActiveInjuries     []string
}

// Fallback carries the non-generative template suggestions of a degraded
// response.
type Fallback struct {
	Message             string   `json:"message"`
	TemplateSuggestions []string `json:"templateSuggestions"`
}

// GenerationResponse is the wire envelope for all pipeline outcomes.
type GenerationResponse struct {
	Success       bool      `json:"success"`
	Draft         bool      `json:"draft"`
	Degraded      bool      `json:"degraded,omitempty"`
	Code          string    `json:"code,omitempty"`
	Message       string    `json:"message,omitempty"`
	Plan          *Plan     `json:"plan,omitempty"`
	HorizonMonths int       `json:"horizonMonths,omitempty"`
	Warnings      []string  `json:"warnings,omitempty"`
	Provider      string    `json:"provider,omitempty"`
	AuditLogID    string    `json:"auditLogId,omitempty"`
	FailoverTrace []string  `json:"failoverTrace,omitempty"`
	Reasons       []string  `json:"reasons,omitempty"`
	Fallback      *Fallback `json:"fallback,omitempty"`
}

// Denial codes for the access gate, each with a fixed HTTP status.
const (
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodeBadRequest         = "BAD_REQUEST"
	CodeForbiddenSelfOnly  = "FORBIDDEN_SELF_ONLY"
	CodeForbiddenAssigned  = "FORBIDDEN_NOT_ASSIGNED"
	CodeForbiddenRole      = "FORBIDDEN_ROLE"
	CodeConsentMissing     = "CONSENT_MISSING"
	CodeConsentDisabled    = "CONSENT_DISABLED"
	CodeConsentWithdrawn   = "CONSENT_WITHDRAWN"
)

// Pipeline failure codes.
const (
	CodeRateLimited     = "AI_RATE_LIMITED"
	CodeConfigError     = "AI_CONFIG_ERROR"
	CodeDegradedMode    = "AI_DEGRADED_MODE"
	CodePIILeak         = "AI_PII_LEAK"
	CodeParseError      = "AI_PARSE_ERROR"
	CodeValidationFail  = "AI_VALIDATION_FAILED"
	CodeConcurrentLimit = "AI_CONCURRENT_LIMIT"
	CodePrivacyError    = "AI_PRIVACY_ERROR"
	CodeInternalError   = "AI_INTERNAL_ERROR"
	CodeNotFound        = "NOT_FOUND"
)

// DenialError is a gate rejection. Denials are never retried and map to a
// stable HTTP status.
type DenialError struct {
	Code    string
	Status  int
	Message string
}

func (e *DenialError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// PipelineError is a post-gate pipeline failure with its HTTP mapping.
type PipelineError struct {
	Code    string
	Status  int
	Message string
	Trace   []string
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// RequestTypeLongHorizon tags long-horizon generations in audit rows and
// provider requests.
const RequestTypeLongHorizon = "long_horizon_generation"
