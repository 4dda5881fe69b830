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
	"fmt"
	"strings"
	"sync"
	"time"

	"coachcore/platform/plangen/llm"
)

// fakeStore is an in-memory Store for gate and pipeline tests.
type fakeStore struct {
	users       map[int]*User
	profiles    map[int]*ClientProfile
	assignments map[[2]int]bool
	consents    map[int]*ConsentRecord
	baselines   map[int]*BaselineMeasurement
	outcomes    map[int][]PlanOutcome
	pseudonyms  map[int]string

	assignmentLookups int
	consentLookups    int
	profileLookups    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       make(map[int]*User),
		profiles:    make(map[int]*ClientProfile),
		assignments: make(map[[2]int]bool),
		consents:    make(map[int]*ConsentRecord),
		baselines:   make(map[int]*BaselineMeasurement),
		outcomes:    make(map[int][]PlanOutcome),
		pseudonyms:  make(map[int]string),
	}
}

func (s *fakeStore) UserByID(_ context.Context, id int) (*User, error) {
	return s.users[id], nil
}

func (s *fakeStore) ClientProfileByUserID(_ context.Context, userID int) (*ClientProfile, error) {
	s.profileLookups++
	return s.profiles[userID], nil
}

func (s *fakeStore) HasActiveAssignment(_ context.Context, trainerID, clientID int) (bool, error) {
	s.assignmentLookups++
	return s.assignments[[2]int{trainerID, clientID}], nil
}

func (s *fakeStore) ConsentByUserID(_ context.Context, userID int) (*ConsentRecord, error) {
	s.consentLookups++
	return s.consents[userID], nil
}

func (s *fakeStore) LatestBaseline(_ context.Context, userID int) (*BaselineMeasurement, error) {
	return s.baselines[userID], nil
}

func (s *fakeStore) RecentPlanOutcomes(_ context.Context, userID, _ int) ([]PlanOutcome, error) {
	return s.outcomes[userID], nil
}

func (s *fakeStore) SavePseudonym(_ context.Context, userID int, pseudonym string) error {
	s.pseudonyms[userID] = pseudonym
	return nil
}

func (s *fakeStore) GrantConsent(_ context.Context, userID int) error {
	s.consents[userID] = &ConsentRecord{UserID: userID, Enabled: true, GrantedAt: time.Now()}
	return nil
}

func (s *fakeStore) WithdrawConsent(_ context.Context, userID int) error {
	c, ok := s.consents[userID]
	if !ok {
		return fmt.Errorf("no consent record for user %d", userID)
	}
	now := time.Now()
	c.Enabled = false
	c.WithdrawnAt = &now
	return nil
}

// memoryAudit is an in-memory AuditSink recording lifecycle transitions.
type memoryAudit struct {
	mu      sync.Mutex
	nextID  int
	entries map[string]*AuditEntry
	states  map[string]AuditStatus
	closes  map[string]AuditClose
}

func newMemoryAudit() *memoryAudit {
	return &memoryAudit{
		entries: make(map[string]*AuditEntry),
		states:  make(map[string]AuditStatus),
		closes:  make(map[string]AuditClose),
	}
}

func (a *memoryAudit) Open(_ context.Context, entry *AuditEntry) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	id := fmt.Sprintf("audit-%d", a.nextID)
	a.entries[id] = entry
	a.states[id] = AuditPending
	return id, nil
}

func (a *memoryAudit) Close(_ context.Context, id string, final AuditClose) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.states[id] != AuditPending {
		return
	}
	a.states[id] = final.Status
	a.closes[id] = final
}

func (a *memoryAudit) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

func (a *memoryAudit) onlyState() AuditStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.states {
		return s
	}
	return ""
}

func (a *memoryAudit) onlyClose() AuditClose {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range a.closes {
		return c
	}
	return AuditClose{}
}

// stubProvider is a scriptable llm.Provider.
type stubProvider struct {
	name       string
	configured bool
	text       string
	err        error
	calls      int
}

func (p *stubProvider) Name() string     { return p.name }
func (p *stubProvider) Configured() bool { return p.configured }

func (p *stubProvider) Generate(_ context.Context, _ llm.Request) (*llm.Generation, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &llm.Generation{
		Provider: p.name,
		Model:    p.name + "-model",
		Text:     p.text,
		Usage:    llm.TokenUsage{InputTokens: 100, OutputTokens: 200, TotalTokens: 300},
		Latency:  5 * time.Millisecond,
	}, nil
}

// testProfile builds a realistic full profile for user 42.
func testProfile() *ClientProfile {
	return &ClientProfile{
		UserID:   42,
		TenantID: "tenant-1",
		Name:     "Jane Doette",
		Attributes: map[string]interface{}{
			"age":           34.0,
			"gender":        "female",
			"preferredName": "Janie",
			"email":         "jane.doette@example.com",
			"phone":         "555-867-5309",
			"occupation":    "accountant",
			"medications":   []interface{}{"lisinopril"},
			"stressSources": []interface{}{"work deadlines"},
			"goals": map[string]interface{}{
				"primary":     "strength",
				"secondary":   "mobility",
				"targetEvent": "powerlifting meet",
			},
			"health": map[string]interface{}{
				"conditions": []interface{}{"mild hypertension"},
				"injuryHistory": []interface{}{
					map[string]interface{}{"name": "shoulder impingement", "active": true},
					map[string]interface{}{"name": "ankle sprain", "active": false},
				},
			},
			"training": map[string]interface{}{
				"experienceLevel":      "intermediate",
				"daysPerWeek":          4.0,
				"sessionLengthMinutes": 60.0,
				"equipment":            []interface{}{"barbell", "dumbbells"},
				"preferences":          []interface{}{"compound lifts"},
			},
			"lifestyle": map[string]interface{}{
				"sleepHoursAvg": 7.0,
				"activityLevel": "moderate",
			},
			"movementScreen": map[string]interface{}{
				"score": 4.0,
			},
		},
	}
}

// validPlanJSON returns provider output passing all gates for horizon.
func validPlanJSON(horizonMonths int) string {
	weeks := horizonMonths * 4
	blocks := 2
	if weeks/blocks > 16 {
		blocks = 4
	}
	per := weeks / blocks
	var buf strings.Builder
	buf.WriteString(`{
		"planName": "Strength Progression",
		"summary": "Block progression building maximal strength.",
		"nasmFramework": "OPT",
		"blocks": [`)
	phases := []string{"strength_endurance", "maximal_strength", "strength_endurance", "maximal_strength"}
	for i := 0; i < blocks; i++ {
		width := per
		if i == blocks-1 {
			width = weeks - per*(blocks-1)
		}
		if i > 0 {
			buf.WriteString(",")
		}
		fmt.Fprintf(&buf, `
			{"sequence": %d, "name": "Block %d", "durationWeeks": %d,
			 "sessionsPerWeek": 4, "focus": "progression",
			 "optPhase": "%s", "progressionNotes": "add load weekly"}`,
			i+1, i+1, width, phases[i])
	}
	buf.WriteString(`
		]
	}`)
	return buf.String()
}
