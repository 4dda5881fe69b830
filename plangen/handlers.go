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
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"coachcore/platform/plangen/llm"
	"coachcore/platform/shared/logger"
)

// PlanGenerator is the pipeline surface the HTTP layer consumes.
type PlanGenerator interface {
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResponse, error)
}

// Handlers holds the HTTP handlers for the plan-generation API.
type Handlers struct {
	pipeline PlanGenerator
	store    Store
	router   *llm.Router
	log      *logger.Logger
}

// NewHandlers wires the HTTP layer.
func NewHandlers(pipeline PlanGenerator, store Store, router *llm.Router) *Handlers {
	return &Handlers{
		pipeline: pipeline,
		store:    store,
		router:   router,
		log:      logger.New("plangen-api"),
	}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Success: false, Code: code, Message: message})
}

type generateBody struct {
	HorizonMonths  int    `json:"horizonMonths"`
	OverrideReason string `json:"overrideReason,omitempty"`
}

// HandleGenerate runs the generation pipeline for one client.
func (h *Handlers) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthenticated, "authentication required")
		return
	}

	targetID, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid client id")
		return
	}

	var body generateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}

	req := GenerationRequest{
		RequestID:      RequestIDFromContext(r.Context()),
		Requester:      identity,
		TargetUserID:   targetID,
		HorizonMonths:  body.HorizonMonths,
		OverrideReason: body.OverrideReason,
	}

	resp, err := h.pipeline.Generate(r.Context(), req)
	if err != nil {
		var denial *DenialError
		if errors.As(err, &denial) {
			writeError(w, denial.Status, denial.Code, denial.Message)
			return
		}
		var perr *PipelineError
		if errors.As(err, &perr) {
			writeJSON(w, perr.Status, GenerationResponse{
				Success:       false,
				Code:          perr.Code,
				Message:       perr.Message,
				FailoverTrace: perr.Trace,
			})
			return
		}
		writeError(w, http.StatusInternalServerError, CodeInternalError, "generation failed")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

type consentResponse struct {
	Success     bool       `json:"success"`
	UserID      int        `json:"userId"`
	Enabled     bool       `json:"enabled"`
	GrantedAt   *time.Time `json:"grantedAt,omitempty"`
	WithdrawnAt *time.Time `json:"withdrawnAt,omitempty"`
}

// canViewConsent enforces standing before any consent data is returned.
func (h *Handlers) canViewConsent(r *http.Request, identity Identity, targetID int) (bool, error) {
	switch identity.Role {
	case RoleAdmin:
		return true, nil
	case RoleClient:
		return identity.UserID == targetID, nil
	case RoleTrainer:
		return h.store.HasActiveAssignment(r.Context(), identity.UserID, targetID)
	default:
		return false, nil
	}
}

// HandleConsentStatus returns a client's AI consent state.
func (h *Handlers) HandleConsentStatus(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthenticated, "authentication required")
		return
	}
	targetID, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid client id")
		return
	}

	allowed, err := h.canViewConsent(r, identity, targetID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternalError, "consent lookup failed")
		return
	}
	if !allowed {
		writeError(w, http.StatusForbidden, CodeForbiddenRole, "no access to this client's consent")
		return
	}

	consent, err := h.store.ConsentByUserID(r.Context(), targetID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternalError, "consent lookup failed")
		return
	}

	resp := consentResponse{Success: true, UserID: targetID}
	if consent != nil {
		resp.Enabled = consent.Enabled
		if !consent.GrantedAt.IsZero() {
			t := consent.GrantedAt
			resp.GrantedAt = &t
		}
		resp.WithdrawnAt = consent.WithdrawnAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleConsentGrant records the client's own consent. Only the subject
// can grant; trainers and admins cannot consent on a client's behalf.
func (h *Handlers) HandleConsentGrant(w http.ResponseWriter, r *http.Request) {
	h.handleConsentChange(w, r, true)
}

// HandleConsentWithdraw records the client's own withdrawal.
func (h *Handlers) HandleConsentWithdraw(w http.ResponseWriter, r *http.Request) {
	h.handleConsentChange(w, r, false)
}

func (h *Handlers) handleConsentChange(w http.ResponseWriter, r *http.Request, grant bool) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthenticated, "authentication required")
		return
	}
	targetID, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid client id")
		return
	}
	if identity.Role != RoleClient || identity.UserID != targetID {
		writeError(w, http.StatusForbidden, CodeForbiddenSelfOnly, "consent can only be changed by the client")
		return
	}

	if grant {
		err = h.store.GrantConsent(r.Context(), targetID)
	} else {
		err = h.store.WithdrawConsent(r.Context(), targetID)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternalError, "consent update failed")
		return
	}

	h.log.Info(identity.TenantID, RequestIDFromContext(r.Context()), "consent changed", map[string]interface{}{
		"user":    targetID,
		"enabled": grant,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "enabled": grant})
}

// HandleProviderStatus reports router diagnostics.
func (h *Handlers) HandleProviderStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := IdentityFromContext(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthenticated, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"providers": h.router.Status(),
	})
}

// HandleHealth is the liveness endpoint.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "plangen",
	})
}
