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
)

// HistoricalContext summarizes a client's recent training history for the
// prompt. It carries aggregates only, never raw session rows.
type HistoricalContext struct {
	ProgressSummary string
	AdherencePct    float64
	AvgRPE          float64
	PlanCount       int
}

// Summarize renders the context as compact prompt text.
func (h *HistoricalContext) Summarize() string {
	if h == nil || h.PlanCount == 0 {
		return "No prior plan history on file."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Completed plans: %d.", h.PlanCount)
	fmt.Fprintf(&b, " Recent adherence: %.0f%%.", h.AdherencePct)
	if h.AvgRPE > 0 {
		fmt.Fprintf(&b, " Average session RPE: %.1f.", h.AvgRPE)
	}
	if h.ProgressSummary != "" {
		b.WriteString(" " + h.ProgressSummary)
	}
	return b.String()
}

// ContextBuilder aggregates longitudinal training context for a client.
type ContextBuilder interface {
	HistoricalContext(ctx context.Context, userID, horizonMonths int) (*HistoricalContext, error)
}

// storeContextBuilder builds context from recent plan outcomes.
type storeContextBuilder struct {
	store Store
}

// NewContextBuilder creates the default store-backed context builder.
func NewContextBuilder(store Store) ContextBuilder {
	return &storeContextBuilder{store: store}
}

func (b *storeContextBuilder) HistoricalContext(ctx context.Context, userID, horizonMonths int) (*HistoricalContext, error) {
	outcomes, err := b.store.RecentPlanOutcomes(ctx, userID, 5)
	if err != nil {
		return nil, err
	}
	if len(outcomes) == 0 {
		return &HistoricalContext{}, nil
	}

	var adherence, rpe float64
	rpeSamples := 0
	for _, o := range outcomes {
		adherence += o.AdherencePct
		if o.AvgRPE > 0 {
			rpe += o.AvgRPE
			rpeSamples++
		}
	}

	h := &HistoricalContext{
		PlanCount:    len(outcomes),
		AdherencePct: adherence / float64(len(outcomes)),
	}
	if rpeSamples > 0 {
		h.AvgRPE = rpe / float64(rpeSamples)
	}
	h.ProgressSummary = fmt.Sprintf("Most recent plan: %q (%d months).",
		outcomes[0].PlanName, outcomes[0].HorizonMonths)
	return h, nil
}
