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

// FailStage identifies which validation gate rejected the output.
type FailStage string

const (
	StagePIILeak    FailStage = "pii_leak"
	StageParse      FailStage = "parse_error"
	StageValidation FailStage = "validation_error"
)

// Plan is the validated structured output of a generation.
type Plan struct {
	PlanName      string      `json:"planName"`
	Summary       string      `json:"summary"`
	NASMFramework string      `json:"nasmFramework"`
	Blocks        []PlanBlock `json:"blocks"`
}

// PlanBlock is one mesocycle block of a plan.
type PlanBlock struct {
	Sequence         int    `json:"sequence"`
	Name             string `json:"name"`
	DurationWeeks    int    `json:"durationWeeks"`
	SessionsPerWeek  int    `json:"sessionsPerWeek"`
	Focus            string `json:"focus"`
	OPTPhase         string `json:"optPhase,omitempty"`
	ProgressionNotes string `json:"progressionNotes,omitempty"`
}

// ValidationResult carries either the validated plan with warnings, or
// the single blamed failure stage. FailStage is set exactly when OK is
// false.
type ValidationResult struct {
	OK         bool
	Plan       *Plan
	Warnings   []string
	FailStage  FailStage
	FailReason string
}

// ValidateOptions parameterizes validation for one request.
type ValidateOptions struct {
	IdentityTerms  []string
	HorizonMonths  int
	ActiveInjuries []string
}

var validFrameworks = map[string]bool{
	FrameworkOPT:     true,
	FrameworkCES:     true,
	FrameworkGeneral: true,
}

var validOPTPhases = map[string]bool{
	PhaseStabilizationEndurance: true,
	PhaseStrengthEndurance:      true,
	PhaseHypertrophy:            true,
	PhaseMaximalStrength:        true,
	PhasePower:                  true,
}

// contraindications maps an active injury keyword to exercise terms that
// must not appear in a plan generated for that client.
var contraindications = map[string][]string{
	"shoulder": {"overhead press", "behind-the-neck", "upright row"},
	"knee":     {"depth jump", "plyometric", "pistol squat"},
	"low back": {"good morning", "loaded flexion"},
	"back":     {"good morning", "loaded flexion"},
}

// OutputValidator runs the three ordered gates over raw provider output.
type OutputValidator struct {
	detector *PIIDetector
}

// NewOutputValidator creates a validator backed by the given detector.
func NewOutputValidator(detector *PIIDetector) *OutputValidator {
	return &OutputValidator{detector: detector}
}

func fail(stage FailStage, reason string) ValidationResult {
	return ValidationResult{OK: false, FailStage: stage, FailReason: reason}
}

// Validate runs the gates in order and short-circuits on the first
// failure. The privacy gate scans the raw text before any parse so a
// leaked identifier is caught even in malformed output.
func (v *OutputValidator) Validate(raw string, opts ValidateOptions) ValidationResult {
	// Gate 1: privacy leak scan on the raw text
	if matches := v.detector.DetectIdentityTerms(raw, opts.IdentityTerms); len(matches) > 0 {
		return fail(StagePIILeak, "provider output contains a client identifier")
	}
	if v.detector.HasPII(raw) {
		return fail(StagePIILeak, "provider output contains personal data")
	}

	// Gate 2: structural parse and shape
	plan, err := parsePlan(raw)
	if err != nil {
		return fail(StageParse, err.Error())
	}
	if reason := checkShape(plan); reason != "" {
		return fail(StageValidation, reason)
	}

	// Gate 3: domain rules
	warnings, reason := checkDomainRules(plan, opts)
	if reason != "" {
		return fail(StageValidation, reason)
	}

	return ValidationResult{OK: true, Plan: plan, Warnings: warnings}
}

// parsePlan extracts the JSON object from the raw text. Providers
// occasionally wrap JSON in a markdown fence; that wrapper is tolerated,
// anything else unparsable is a parse failure.
func parsePlan(raw string) (*Plan, error) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in provider output")
	}

	var plan Plan
	if err := json.Unmarshal([]byte(text[start:end+1]), &plan); err != nil {
		return nil, fmt.Errorf("provider output is not valid JSON: %v", err)
	}
	return &plan, nil
}

// checkShape enforces the structural contract. Returns an empty string
// when the shape is valid.
func checkShape(plan *Plan) string {
	switch {
	case strings.TrimSpace(plan.PlanName) == "":
		return "planName is required"
	case len(plan.PlanName) > 200:
		return "planName exceeds 200 characters"
	case len(plan.Summary) > 2000:
		return "summary exceeds 2000 characters"
	case !validFrameworks[plan.NASMFramework]:
		return fmt.Sprintf("nasmFramework %q is not one of OPT, CES, GENERAL", plan.NASMFramework)
	case len(plan.Blocks) == 0:
		return "plan has no blocks"
	case len(plan.Blocks) > 20:
		return "plan exceeds 20 blocks"
	}

	seen := make(map[int]bool, len(plan.Blocks))
	for i, block := range plan.Blocks {
		if block.Sequence != i+1 {
			return fmt.Sprintf("block sequences must be contiguous from 1, got %d at position %d", block.Sequence, i+1)
		}
		if seen[block.Sequence] {
			return fmt.Sprintf("duplicate block sequence %d", block.Sequence)
		}
		seen[block.Sequence] = true

		if strings.TrimSpace(block.Name) == "" {
			return fmt.Sprintf("block %d has no name", block.Sequence)
		}
		if block.DurationWeeks < 1 || block.DurationWeeks > 16 {
			return fmt.Sprintf("block %d durationWeeks must be 1-16", block.Sequence)
		}
		if block.SessionsPerWeek < 1 || block.SessionsPerWeek > 7 {
			return fmt.Sprintf("block %d sessionsPerWeek must be 1-7", block.Sequence)
		}

		if plan.NASMFramework == FrameworkOPT {
			if !validOPTPhases[block.OPTPhase] {
				return fmt.Sprintf("block %d optPhase %q is not a valid OPT phase", block.Sequence, block.OPTPhase)
			}
		} else if block.OPTPhase != "" {
			return fmt.Sprintf("block %d carries an optPhase outside the OPT framework", block.Sequence)
		}
	}

	return ""
}

// checkDomainRules enforces business invariants. Blocking violations
// return a reason; advisory findings are returned as warnings.
func checkDomainRules(plan *Plan, opts ValidateOptions) ([]string, string) {
	var warnings []string

	totalWeeks := 0
	for _, block := range plan.Blocks {
		totalWeeks += block.DurationWeeks
	}
	expected := opts.HorizonMonths * 4
	if diff := totalWeeks - expected; diff != 0 {
		if diff < -1 || diff > 1 {
			return nil, fmt.Sprintf("plan covers %d weeks but the %d-month horizon expects %d",
				totalWeeks, opts.HorizonMonths, expected)
		}
		warnings = append(warnings, fmt.Sprintf("plan covers %d weeks, 1 week off the %d expected",
			totalWeeks, expected))
	}

	lower := strings.ToLower(planText(plan))
	for _, injury := range opts.ActiveInjuries {
		for keyword, banned := range contraindications {
			if !strings.Contains(injury, keyword) {
				continue
			}
			for _, term := range banned {
				if strings.Contains(lower, term) {
					return nil, fmt.Sprintf("plan prescribes %q despite active injury %q", term, injury)
				}
			}
		}
	}

	// Advisory only: an aggressive late-phase jump right after
	// stabilization work is flagged, not blocked
	for i := 1; i < len(plan.Blocks); i++ {
		if plan.Blocks[i-1].OPTPhase == PhaseStabilizationEndurance &&
			(plan.Blocks[i].OPTPhase == PhaseMaximalStrength || plan.Blocks[i].OPTPhase == PhasePower) {
			warnings = append(warnings, fmt.Sprintf(
				"block %d jumps from stabilization to %s without an intermediate phase",
				plan.Blocks[i].Sequence, plan.Blocks[i].OPTPhase))
		}
	}

	return warnings, ""
}

// planText flattens the free-text fields for keyword scanning
func planText(plan *Plan) string {
	var b strings.Builder
	b.WriteString(plan.Summary)
	for _, block := range plan.Blocks {
		b.WriteString(" " + block.Name + " " + block.Focus + " " + block.ProgressionNotes)
	}
	return b.String()
}
