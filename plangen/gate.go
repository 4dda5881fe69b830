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
	"net/http"
)

// AccessGate runs the ordered consent and access checks. Checks
// short-circuit: later checks assume earlier ones passed, and the cheap
// ones run first. Role and assignment checks run strictly before the
// consent lookup so a caller without standing can never learn a client's
// consent status.
type AccessGate struct {
	store Store
}

// NewAccessGate creates a gate over the given store.
func NewAccessGate(store Store) *AccessGate {
	return &AccessGate{store: store}
}

func deny(code string, status int, message string) *DenialError {
	return &DenialError{Code: code, Status: status, Message: message}
}

// Check validates the request and returns nil to proceed or a *DenialError.
// It performs only reads and has no side effects.
func (g *AccessGate) Check(ctx context.Context, req GenerationRequest) error {
	if !req.Requester.Authenticated() {
		return deny(CodeUnauthenticated, http.StatusUnauthorized, "authentication required")
	}

	if !ValidHorizons[req.HorizonMonths] {
		return deny(CodeBadRequest, http.StatusBadRequest, "horizonMonths must be one of 3, 6 or 12")
	}

	if req.TargetUserID <= 0 {
		return deny(CodeBadRequest, http.StatusBadRequest, "target user could not be resolved")
	}

	switch req.Requester.Role {
	case RoleClient:
		if req.TargetUserID != req.Requester.UserID {
			return deny(CodeForbiddenSelfOnly, http.StatusForbidden,
				"clients may only generate plans for themselves")
		}
	case RoleTrainer:
		assigned, err := g.store.HasActiveAssignment(ctx, req.Requester.UserID, req.TargetUserID)
		if err != nil {
			return err
		}
		if !assigned {
			return deny(CodeForbiddenAssigned, http.StatusForbidden,
				"no active assignment to this client")
		}
	case RoleAdmin:
		if req.OverrideReason == "" {
			return deny(CodeBadRequest, http.StatusBadRequest,
				"admin requests require an overrideReason")
		}
	default:
		return deny(CodeForbiddenRole, http.StatusForbidden,
			"role is not permitted to generate plans")
	}

	consent, err := g.store.ConsentByUserID(ctx, req.TargetUserID)
	if err != nil {
		return err
	}
	switch {
	case consent == nil:
		return deny(CodeConsentMissing, http.StatusForbidden,
			"client has not been asked for AI consent")
	case consent.WithdrawnAt != nil:
		return deny(CodeConsentWithdrawn, http.StatusForbidden,
			"client has withdrawn AI consent")
	case !consent.Enabled:
		return deny(CodeConsentDisabled, http.StatusForbidden,
			"client has disabled AI assistance")
	}

	return nil
}
