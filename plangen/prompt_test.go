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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assembledTestPrompt(t *testing.T, horizonMonths int) string {
	t.Helper()
	profile := testProfile()
	profile.Pseudonym = GeneratePseudonym(profile.UserID)

	deid := NewDeidentifier(NewPIIDetector())
	payload, err := deid.Deidentify(profile)
	require.NoError(t, err)

	constraints := BuildConstraints(profile, &BaselineMeasurement{
		UserID:        profile.UserID,
		Compensations: []string{"knees_cave_in"},
	}, horizonMonths)

	prompt, err := AssemblePrompt(payload, constraints, &HistoricalContext{
		AdherencePct: 82, AvgRPE: 7.2, PlanCount: 2,
	})
	require.NoError(t, err)
	return prompt
}

func TestAssemblePromptCarriesNoIdentity(t *testing.T) {
	prompt := assembledTestPrompt(t, 6)

	for _, banned := range []string{
		"Jane", "Doette", "Janie",
		"jane.doette@example.com", "555-867-5309",
		"accountant", "lisinopril",
	} {
		assert.NotContains(t, prompt, banned)
	}
	assert.Contains(t, prompt, GeneratePseudonym(42))
}

func TestAssemblePromptStatesWeekBudget(t *testing.T) {
	assert.Contains(t, assembledTestPrompt(t, 6), "sum to 24 weeks")
	assert.Contains(t, assembledTestPrompt(t, 12), "sum to 48 weeks")
}

func TestAssemblePromptIncludesConstraints(t *testing.T) {
	prompt := assembledTestPrompt(t, 6)

	assert.Contains(t, prompt, "TRAINING CONSTRAINTS")
	assert.Contains(t, prompt, "Framework: OPT")
	assert.Contains(t, prompt, "knees cave inward (valgus)")
	assert.Contains(t, prompt, "shoulder impingement")
	assert.Contains(t, prompt, "nasmFramework")
}

func TestAssemblePromptDeterministic(t *testing.T) {
	first := assembledTestPrompt(t, 6)
	second := assembledTestPrompt(t, 6)
	if first != second {
		t.Error("identical inputs must assemble identical prompts")
	}
}

func TestContextBuilderAverages(t *testing.T) {
	store := newFakeStore()
	store.outcomes[42] = []PlanOutcome{
		{PlanName: "Spring Base", HorizonMonths: 3, AdherencePct: 90, AvgRPE: 7},
		{PlanName: "Winter Strength", HorizonMonths: 6, AdherencePct: 70, AvgRPE: 8},
	}

	h, err := NewContextBuilder(store).HistoricalContext(context.Background(), 42, 6)
	require.NoError(t, err)
	assert.Equal(t, 2, h.PlanCount)
	assert.InDelta(t, 80.0, h.AdherencePct, 0.01)
	assert.InDelta(t, 7.5, h.AvgRPE, 0.01)
	assert.Contains(t, h.ProgressSummary, "Spring Base")
}

func TestContextBuilderNoHistory(t *testing.T) {
	h, err := NewContextBuilder(newFakeStore()).HistoricalContext(context.Background(), 42, 6)
	require.NoError(t, err)
	assert.Equal(t, 0, h.PlanCount)
	assert.Equal(t, "No prior plan history on file.", h.Summarize())
}

func TestHistoricalContextSummarize(t *testing.T) {
	empty := &HistoricalContext{}
	assert.NotEmpty(t, empty.Summarize())

	populated := &HistoricalContext{AdherencePct: 82.5, AvgRPE: 7.2, PlanCount: 3}
	summary := populated.Summarize()
	assert.True(t, strings.Contains(summary, "82") || strings.Contains(summary, "83"),
		"summary should mention adherence: %s", summary)
}
