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
	"fmt"
)

// templateSuggestions lists static plan templates offered when no
// provider is available. Nothing here is generated.
var templateSuggestions = map[int][]string{
	3: {
		"12-week foundational strength progression",
		"12-week corrective-first conditioning base",
		"12-week hypertrophy introduction with deload week",
		"12-week endurance base builder",
		"12-week return-to-training ramp",
	},
	6: {
		"24-week strength periodization with two deload weeks",
		"24-week hypertrophy and strength alternation",
		"24-week general fitness progression",
		"24-week endurance event preparation",
		"24-week corrective-to-performance progression",
	},
	12: {
		"48-week full OPT model progression",
		"48-week strength-focused annual plan",
		"48-week hybrid performance plan with three peaks",
		"48-week general conditioning annual cycle",
		"48-week masters athlete annual progression",
	},
}

// BuildDegradedResponse assembles the safe fallback returned when every
// provider failed with retryable causes. It never contains a synthesized
// plan; the caller must not present it as one.
func BuildDegradedResponse(horizonMonths int, reasons, failoverTrace []string) *GenerationResponse {
	suggestions := templateSuggestions[horizonMonths]
	if suggestions == nil {
		suggestions = templateSuggestions[3]
	}

	return &GenerationResponse{
		Success:       true,
		Draft:         false,
		Degraded:      true,
		Code:          CodeDegradedMode,
		Message:       "AI plan generation is temporarily unavailable; template suggestions are provided instead",
		HorizonMonths: horizonMonths,
		Reasons:       reasons,
		FailoverTrace: failoverTrace,
		Fallback: &Fallback{
			Message: fmt.Sprintf(
				"Start from one of these %d-month templates and adjust manually.", horizonMonths),
			TemplateSuggestions: suggestions,
		},
	}
}
