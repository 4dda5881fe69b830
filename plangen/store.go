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
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// User is the minimal account record the gate needs.
type User struct {
	ID       int
	TenantID string
	Name     string
	Role     Role
}

// PlanOutcome is one historical plan result used for longitudinal context.
type PlanOutcome struct {
	PlanName      string
	HorizonMonths int
	AdherencePct  float64
	AvgRPE        float64
	CompletedAt   time.Time
}

// Store is the read-mostly persistence surface the pipeline consumes.
// All profile data stays behind this interface; the pipeline only ever
// sends the de-identified projection to a provider.
type Store interface {
	UserByID(ctx context.Context, id int) (*User, error)
	ClientProfileByUserID(ctx context.Context, userID int) (*ClientProfile, error)
	HasActiveAssignment(ctx context.Context, trainerID, clientID int) (bool, error)
	ConsentByUserID(ctx context.Context, userID int) (*ConsentRecord, error)
	LatestBaseline(ctx context.Context, userID int) (*BaselineMeasurement, error)
	RecentPlanOutcomes(ctx context.Context, userID, limit int) ([]PlanOutcome, error)
	SavePseudonym(ctx context.Context, userID int, pseudonym string) error
	GrantConsent(ctx context.Context, userID int) error
	WithdrawConsent(ctx context.Context, userID int) error
}

// postgresStore implements Store over database/sql with the pq driver.
type postgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle and ensures the consent
// table exists.
func NewPostgresStore(ctx context.Context, db *sql.DB) (Store, error) {
	s := &postgresStore{db: db}
	if err := s.createTables(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *postgresStore) createTables(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ai_consent (
			user_id INTEGER PRIMARY KEY,
			enabled BOOLEAN NOT NULL DEFAULT false,
			granted_at TIMESTAMPTZ,
			withdrawn_at TIMESTAMPTZ
		)`)
	if err != nil {
		return fmt.Errorf("failed to create consent table: %w", err)
	}
	return nil
}

func (s *postgresStore) UserByID(ctx context.Context, id int) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, role FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.TenantID, &u.Name, &u.Role)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", id, err)
	}
	return &u, nil
}

func (s *postgresStore) ClientProfileByUserID(ctx context.Context, userID int) (*ClientProfile, error) {
	var p ClientProfile
	var pseudonym sql.NullString
	var attrs []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.tenant_id, u.name, cp.pseudonym, cp.attributes
		FROM users u
		JOIN client_profiles cp ON cp.user_id = u.id
		WHERE u.id = $1`, userID).
		Scan(&p.UserID, &p.TenantID, &p.Name, &pseudonym, &attrs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile for user %d: %w", userID, err)
	}
	p.Pseudonym = pseudonym.String

	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &p.Attributes); err != nil {
			return nil, fmt.Errorf("malformed profile attributes for user %d: %w", userID, err)
		}
	}
	return &p, nil
}

func (s *postgresStore) HasActiveAssignment(ctx context.Context, trainerID, clientID int) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM trainer_assignments
			WHERE trainer_id = $1 AND client_id = $2
			  AND status = 'active' AND ended_at IS NULL
		)`, trainerID, clientID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check assignment: %w", err)
	}
	return exists, nil
}

func (s *postgresStore) ConsentByUserID(ctx context.Context, userID int) (*ConsentRecord, error) {
	var c ConsentRecord
	var grantedAt sql.NullTime
	var withdrawnAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, enabled, granted_at, withdrawn_at FROM ai_consent WHERE user_id = $1`,
		userID).Scan(&c.UserID, &c.Enabled, &grantedAt, &withdrawnAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load consent for user %d: %w", userID, err)
	}
	if grantedAt.Valid {
		c.GrantedAt = grantedAt.Time
	}
	if withdrawnAt.Valid {
		t := withdrawnAt.Time
		c.WithdrawnAt = &t
	}
	return &c, nil
}

func (s *postgresStore) LatestBaseline(ctx context.Context, userID int) (*BaselineMeasurement, error) {
	var b BaselineMeasurement
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, compensations, clearance_flags, taken_at
		FROM baseline_measurements
		WHERE user_id = $1
		ORDER BY taken_at DESC
		LIMIT 1`, userID).
		Scan(&b.UserID, pq.Array(&b.Compensations), pq.Array(&b.ClearanceFlags), &b.TakenAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load baseline for user %d: %w", userID, err)
	}
	return &b, nil
}

func (s *postgresStore) RecentPlanOutcomes(ctx context.Context, userID, limit int) ([]PlanOutcome, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT plan_name, horizon_months, adherence_pct, avg_rpe, completed_at
		FROM plan_outcomes
		WHERE user_id = $1
		ORDER BY completed_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan outcomes for user %d: %w", userID, err)
	}
	defer rows.Close()

	var outcomes []PlanOutcome
	for rows.Next() {
		var o PlanOutcome
		if err := rows.Scan(&o.PlanName, &o.HorizonMonths, &o.AdherencePct, &o.AvgRPE, &o.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan plan outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

func (s *postgresStore) SavePseudonym(ctx context.Context, userID int, pseudonym string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE client_profiles SET pseudonym = $2 WHERE user_id = $1 AND pseudonym IS NULL`,
		userID, pseudonym)
	if err != nil {
		return fmt.Errorf("failed to save pseudonym for user %d: %w", userID, err)
	}
	return nil
}

func (s *postgresStore) GrantConsent(ctx context.Context, userID int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ai_consent (user_id, enabled, granted_at, withdrawn_at)
		VALUES ($1, true, NOW(), NULL)
		ON CONFLICT (user_id)
		DO UPDATE SET enabled = true, granted_at = NOW(), withdrawn_at = NULL`,
		userID)
	if err != nil {
		return fmt.Errorf("failed to grant consent for user %d: %w", userID, err)
	}
	return nil
}

func (s *postgresStore) WithdrawConsent(ctx context.Context, userID int) error {
	// The row is kept; withdrawal is a state, not a deletion
	res, err := s.db.ExecContext(ctx,
		`UPDATE ai_consent SET enabled = false, withdrawn_at = NOW() WHERE user_id = $1`,
		userID)
	if err != nil {
		return fmt.Errorf("failed to withdraw consent for user %d: %w", userID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("no consent record for user %d", userID)
	}
	return nil
}
