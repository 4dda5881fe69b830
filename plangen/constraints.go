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
	"strings"
)

// OPT phase keys, ordered by progression.
const (
	PhaseStabilizationEndurance = "stabilization_endurance"
	PhaseStrengthEndurance      = "strength_endurance"
	PhaseHypertrophy            = "hypertrophy"
	PhaseMaximalStrength        = "maximal_strength"
	PhasePower                  = "power"
)

// Training frameworks.
const (
	FrameworkOPT     = "OPT"
	FrameworkCES     = "CES"
	FrameworkGeneral = "GENERAL"
)

// compensationLabels maps movement-screen checkpoint flags to the wording
// used in constraints and prompts.
var compensationLabels = map[string]string{
	"feet_turn_out":      "feet turn out",
	"knees_cave_in":      "knees cave inward (valgus)",
	"excessive_lean":     "excessive forward lean",
	"low_back_arch":      "low back arches",
	"arms_fall_forward":  "arms fall forward",
}

// screenCheckpoints is the number of observed checkpoints in the overhead
// squat assessment.
const screenCheckpoints = 5

// BuildConstraints derives ServerConstraints from internal records only.
// Client-supplied attributes are consulted solely for goal and experience
// wording; clearance, screen results and phase selection come from the
// baseline on file.
func BuildConstraints(profile *ClientProfile, baseline *BaselineMeasurement, horizonMonths int) ServerConstraints {
	c := ServerConstraints{
		HorizonMonths:   horizonMonths,
		ClearanceStatus: "cleared",
		Framework:       FrameworkGeneral,
		ScreenScore:     screenCheckpoints,
	}

	c.PrimaryGoal = primaryGoal(profile)
	c.ActiveInjuries = activeInjuries(profile)

	if baseline != nil {
		for _, flag := range baseline.Compensations {
			if label, ok := compensationLabels[flag]; ok {
				c.Compensations = append(c.Compensations, label)
			}
		}
		c.ScreenScore = screenCheckpoints - len(c.Compensations)
		if c.ScreenScore < 0 {
			c.ScreenScore = 0
		}
		if len(baseline.ClearanceFlags) > 0 {
			c.ClearanceStatus = "requires_clearance"
		}

		switch {
		case len(c.Compensations) >= 2:
			c.Framework = FrameworkCES
		default:
			c.Framework = FrameworkOPT
		}
	}

	if len(c.Compensations) > 0 {
		c.CorrectiveStrategy = "corrective warmup emphasis: " + strings.Join(c.Compensations, ", ")
	}

	if c.Framework == FrameworkOPT {
		c.OPTPhaseKey = selectOPTPhase(c.PrimaryGoal, experienceLevel(profile))
	}

	return c
}

// selectOPTPhase picks the starting phase from goal and experience.
// Beginners always start with stabilization work regardless of goal.
func selectOPTPhase(goal, experience string) string {
	if experience == "" || experience == "beginner" {
		return PhaseStabilizationEndurance
	}

	switch goal {
	case "strength":
		return PhaseMaximalStrength
	case "hypertrophy", "muscle_gain":
		return PhaseHypertrophy
	case "power", "athletic_performance":
		return PhasePower
	case "endurance", "weight_loss":
		return PhaseStrengthEndurance
	default:
		return PhaseStabilizationEndurance
	}
}

func primaryGoal(profile *ClientProfile) string {
	if profile == nil || profile.Attributes == nil {
		return ""
	}
	goals, ok := profile.Attributes["goals"].(map[string]interface{})
	if !ok {
		return ""
	}
	goal, _ := goals["primary"].(string)
	return strings.ToLower(strings.TrimSpace(goal))
}

func experienceLevel(profile *ClientProfile) string {
	if profile == nil || profile.Attributes == nil {
		return ""
	}
	training, ok := profile.Attributes["training"].(map[string]interface{})
	if !ok {
		return ""
	}
	level, _ := training["experienceLevel"].(string)
	return strings.ToLower(strings.TrimSpace(level))
}

// activeInjuries lists currently active injury names from the health
// history, used by the domain-rule gate to catch contraindicated work.
func activeInjuries(profile *ClientProfile) []string {
	if profile == nil || profile.Attributes == nil {
		return nil
	}
	health, ok := profile.Attributes["health"].(map[string]interface{})
	if !ok {
		return nil
	}
	history, ok := health["injuryHistory"].([]interface{})
	if !ok {
		return nil
	}

	var active []string
	for _, item := range history {
		injury, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if isActive, _ := injury["active"].(bool); !isActive {
			continue
		}
		if name, _ := injury["name"].(string); name != "" {
			active = append(active, strings.ToLower(name))
		}
	}
	return active
}
