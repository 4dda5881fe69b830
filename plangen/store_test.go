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
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS ai_consent").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store, err := NewPostgresStore(context.Background(), db)
	require.NoError(t, err)
	return store, mock
}

func TestStoreClientProfile(t *testing.T) {
	store, mock := newTestStore(t)

	attrs := `{"age": 34, "goals": {"primary": "strength"}}`
	mock.ExpectQuery("SELECT u.id, u.tenant_id, u.name, cp.pseudonym, cp.attributes").
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "tenant_id", "name", "pseudonym", "attributes"}).
			AddRow(42, "tenant-1", "Jane Doette", "Cobalt Harbor", []byte(attrs)))

	profile, err := store.ClientProfileByUserID(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "Jane Doette", profile.Name)
	assert.Equal(t, "Cobalt Harbor", profile.Pseudonym)
	assert.Equal(t, 34.0, profile.Attributes["age"])
}

func TestStoreClientProfileMissing(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT u.id, u.tenant_id, u.name, cp.pseudonym, cp.attributes").
		WithArgs(99).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "tenant_id", "name", "pseudonym", "attributes"}))

	profile, err := store.ClientProfileByUserID(context.Background(), 99)
	require.NoError(t, err)
	assert.Nil(t, profile)
}

func TestStoreClientProfileMalformedAttributes(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT u.id, u.tenant_id, u.name, cp.pseudonym, cp.attributes").
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "tenant_id", "name", "pseudonym", "attributes"}).
			AddRow(42, "tenant-1", "Jane Doette", nil, []byte("{broken")))

	_, err := store.ClientProfileByUserID(context.Background(), 42)
	assert.Error(t, err)
}

func TestStoreHasActiveAssignment(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(7, 42).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	assigned, err := store.HasActiveAssignment(context.Background(), 7, 42)
	require.NoError(t, err)
	assert.True(t, assigned)
}

func TestStoreConsentLifecycle(t *testing.T) {
	store, mock := newTestStore(t)

	granted := time.Now()
	mock.ExpectQuery("SELECT user_id, enabled, granted_at, withdrawn_at FROM ai_consent").
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows(
			[]string{"user_id", "enabled", "granted_at", "withdrawn_at"}).
			AddRow(42, true, granted, nil))

	consent, err := store.ConsentByUserID(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, consent)
	assert.True(t, consent.Enabled)
	assert.Nil(t, consent.WithdrawnAt)

	mock.ExpectExec("INSERT INTO ai_consent").
		WithArgs(42).
		WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, store.GrantConsent(context.Background(), 42))

	mock.ExpectExec("UPDATE ai_consent SET enabled = false").
		WithArgs(42).
		WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, store.WithdrawConsent(context.Background(), 42))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreConsentMissing(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT user_id, enabled, granted_at, withdrawn_at FROM ai_consent").
		WithArgs(99).
		WillReturnRows(sqlmock.NewRows(
			[]string{"user_id", "enabled", "granted_at", "withdrawn_at"}))

	consent, err := store.ConsentByUserID(context.Background(), 99)
	require.NoError(t, err)
	assert.Nil(t, consent)
}

func TestStoreWithdrawWithoutRecordFails(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("UPDATE ai_consent SET enabled = false").
		WithArgs(99).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.Error(t, store.WithdrawConsent(context.Background(), 99))
}

func TestStoreLatestBaseline(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT user_id, compensations, clearance_flags, taken_at").
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows(
			[]string{"user_id", "compensations", "clearance_flags", "taken_at"}).
			AddRow(42, pq.Array([]string{"knee_valgus", "feet_turn_out"}),
				pq.Array([]string{"cleared"}), time.Now()))

	baseline, err := store.LatestBaseline(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, baseline)
	assert.Equal(t, []string{"knee_valgus", "feet_turn_out"}, baseline.Compensations)
}

func TestStoreRecentPlanOutcomes(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT plan_name, horizon_months, adherence_pct, avg_rpe, completed_at").
		WithArgs(42, 5).
		WillReturnRows(sqlmock.NewRows(
			[]string{"plan_name", "horizon_months", "adherence_pct", "avg_rpe", "completed_at"}).
			AddRow("Spring Base", 3, 82.5, 7.1, time.Now()).
			AddRow("Winter Strength", 6, 74.0, 7.8, time.Now()))

	outcomes, err := store.RecentPlanOutcomes(context.Background(), 42, 5)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, "Spring Base", outcomes[0].PlanName)
	assert.Equal(t, 82.5, outcomes[0].AdherencePct)
}

func TestStoreSavePseudonymOnlyWhenUnset(t *testing.T) {
	store, mock := newTestStore(t)

	// The guard lives in the WHERE clause; an already-pseudonymized row
	// is simply not updated
	mock.ExpectExec("UPDATE client_profiles SET pseudonym").
		WithArgs(42, "Cobalt Harbor").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, store.SavePseudonym(context.Background(), 42, "Cobalt Harbor"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
