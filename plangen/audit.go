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
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"coachcore/platform/plangen/llm"
	"coachcore/platform/shared/logger"
)

// AuditStatus is the lifecycle state of one generation attempt.
type AuditStatus string

const (
	AuditPending  AuditStatus = "pending"
	AuditDraft    AuditStatus = "draft"
	AuditDegraded AuditStatus = "degraded"
	AuditError    AuditStatus = "error"
)

// AuditEntry is the record opened before the provider call. It stores the
// payload hash and stripped field names, never profile content.
type AuditEntry struct {
	ID             string
	RequestID      string
	RequestType    string
	RequesterID    int
	TargetUserID   int
	HorizonMonths  int
	PayloadHash    string
	StrippedFields []string
	PromptVersion  string
	OverrideReason string
}

// AuditClose carries the fields fixed at the terminal transition. The
// output is hashed; raw provider text never reaches audit storage.
type AuditClose struct {
	Status        AuditStatus
	Provider      string
	Model         string
	OutputHash    string
	FailStage     string
	FailoverTrace []string
	Duration      time.Duration
	TokenUsage    *llm.TokenUsage
}

// HashOutput fingerprints provider output for the audit trail.
func HashOutput(text string) string {
	if text == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// AuditSink is the lifecycle recorder consumed by the pipeline. Open must
// succeed before any provider call; Close is best-effort.
type AuditSink interface {
	Open(ctx context.Context, entry *AuditEntry) (string, error)
	Close(ctx context.Context, id string, final AuditClose)
}

// AuditRecorder persists the lifecycle to Postgres.
type AuditRecorder struct {
	db  *sql.DB
	log *logger.Logger
}

// NewAuditRecorder wraps an open database handle and ensures the audit
// table exists.
func NewAuditRecorder(ctx context.Context, db *sql.DB) (*AuditRecorder, error) {
	r := &AuditRecorder{db: db, log: logger.New("audit-recorder")}
	if err := r.createTables(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *AuditRecorder) createTables(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ai_generation_audit (
			id UUID PRIMARY KEY,
			request_id TEXT NOT NULL,
			request_type TEXT NOT NULL,
			requester_id INTEGER NOT NULL,
			target_user_id INTEGER NOT NULL,
			horizon_months INTEGER NOT NULL,
			payload_hash TEXT NOT NULL,
			stripped_fields TEXT[] NOT NULL DEFAULT '{}',
			prompt_version TEXT NOT NULL,
			override_reason TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			provider TEXT,
			model TEXT,
			output_hash TEXT,
			fail_stage TEXT,
			failover_trace TEXT[],
			duration_ms BIGINT,
			input_tokens INTEGER,
			output_tokens INTEGER,
			estimated_cost_usd NUMERIC(10,6),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			closed_at TIMESTAMPTZ
		)`)
	if err != nil {
		return fmt.Errorf("failed to create audit table: %w", err)
	}
	return nil
}

// Open inserts the pending row. A crash during the provider call leaves
// this row behind for forensic review.
func (r *AuditRecorder) Open(ctx context.Context, entry *AuditEntry) (string, error) {
	id := uuid.New().String()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ai_generation_audit
			(id, request_id, request_type, requester_id, target_user_id,
			 horizon_months, payload_hash, stripped_fields, prompt_version,
			 override_reason, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'pending')`,
		id, entry.RequestID, entry.RequestType, entry.RequesterID, entry.TargetUserID,
		entry.HorizonMonths, entry.PayloadHash, pq.Array(entry.StrippedFields),
		entry.PromptVersion, nullableString(entry.OverrideReason))
	if err != nil {
		return "", fmt.Errorf("failed to open audit entry: %w", err)
	}
	return id, nil
}

// Close records the terminal transition exactly once. Failures are logged
// and swallowed; audit is observability, not a consistency requirement.
func (r *AuditRecorder) Close(ctx context.Context, id string, final AuditClose) {
	var inputTokens, outputTokens interface{}
	var cost interface{}
	if final.TokenUsage != nil {
		inputTokens = final.TokenUsage.InputTokens
		outputTokens = final.TokenUsage.OutputTokens
		cost = final.TokenUsage.EstimatedCostUSD
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE ai_generation_audit
		SET status = $2, provider = $3, model = $4, output_hash = $5,
		    fail_stage = $6, failover_trace = $7, duration_ms = $8,
		    input_tokens = $9, output_tokens = $10, estimated_cost_usd = $11,
		    closed_at = NOW()
		WHERE id = $1 AND status = 'pending'`,
		id, string(final.Status), nullableString(final.Provider),
		nullableString(final.Model), nullableString(final.OutputHash),
		nullableString(final.FailStage), pq.Array(final.FailoverTrace),
		final.Duration.Milliseconds(), inputTokens, outputTokens, cost)
	if err != nil {
		r.log.Error("", id, "failed to close audit entry", map[string]interface{}{
			"error":  err.Error(),
			"status": string(final.Status),
		})
		return
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		r.log.Warn("", id, "audit entry already terminal, close skipped", map[string]interface{}{
			"status": string(final.Status),
		})
	}
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
