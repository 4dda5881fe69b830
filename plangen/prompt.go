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
	"encoding/json"
	"fmt"
	"strings"
)

// PromptVersion tags every audit row with the prompt revision that
// produced it, so output regressions can be tied to prompt changes.
const PromptVersion = "v2"

// LongHorizonSystemMessage is the fixed system instruction for plan
// generation.
const LongHorizonSystemMessage = "You generate structured multi-month periodization plans as JSON only."

// AssemblePrompt renders the de-identified payload, server constraints and
// historical context into provider-agnostic instructions. The rendering is
// deterministic for identical inputs.
func AssemblePrompt(payload *DeIdentifiedPayload, constraints ServerConstraints, history *HistoricalContext) (string, error) {
	clientJSON, err := json.MarshalIndent(payload.Data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode client payload: %w", err)
	}

	var b strings.Builder

	fmt.Fprintf(&b, "Create a %d-month periodization plan for the client below.\n\n", constraints.HorizonMonths)

	b.WriteString("CLIENT PROFILE (de-identified):\n")
	b.Write(clientJSON)
	b.WriteString("\n\n")

	b.WriteString("TRAINING CONSTRAINTS (authoritative, do not override):\n")
	fmt.Fprintf(&b, "- Framework: %s\n", constraints.Framework)
	if constraints.OPTPhaseKey != "" {
		fmt.Fprintf(&b, "- Starting OPT phase: %s\n", constraints.OPTPhaseKey)
	}
	fmt.Fprintf(&b, "- Clearance status: %s\n", constraints.ClearanceStatus)
	fmt.Fprintf(&b, "- Movement screen score: %d/%d\n", constraints.ScreenScore, screenCheckpoints)
	if len(constraints.Compensations) > 0 {
		fmt.Fprintf(&b, "- Observed compensations: %s\n", strings.Join(constraints.Compensations, "; "))
	}
	if constraints.CorrectiveStrategy != "" {
		fmt.Fprintf(&b, "- Corrective strategy: %s\n", constraints.CorrectiveStrategy)
	}
	if constraints.PrimaryGoal != "" {
		fmt.Fprintf(&b, "- Primary goal: %s\n", constraints.PrimaryGoal)
	}
	if len(constraints.ActiveInjuries) > 0 {
		fmt.Fprintf(&b, "- Active injuries to work around: %s\n", strings.Join(constraints.ActiveInjuries, "; "))
	}
	b.WriteString("\n")

	b.WriteString("TRAINING HISTORY:\n")
	b.WriteString(history.Summarize())
	b.WriteString("\n\n")

	b.WriteString("OUTPUT FORMAT:\n")
	b.WriteString("Respond with a single JSON object and nothing else. Shape:\n")
	b.WriteString(`{
  "planName": string (max 200 chars),
  "summary": string (max 2000 chars),
  "nasmFramework": "OPT" | "CES" | "GENERAL",
  "blocks": [
    {
      "sequence": int (1-based, contiguous, unique),
      "name": string,
      "durationWeeks": int (1-16),
      "sessionsPerWeek": int (1-7),
      "focus": string,
      "optPhase": string (required for OPT framework, omitted otherwise),
      "progressionNotes": string
    }
  ]
}`)
	b.WriteString("\n")
	fmt.Fprintf(&b, "Block durations must sum to %d weeks. Refer to the client only as %q.\n",
		constraints.HorizonMonths*4, payload.Alias)

	return b.String(), nil
}
