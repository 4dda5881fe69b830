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
	"regexp"
	"strings"
)

// PIIType categorizes a detected identifier.
type PIIType string

const (
	PIITypeEmail        PIIType = "email"
	PIITypePhone        PIIType = "phone"
	PIITypeSSN          PIIType = "ssn"
	PIITypeIdentityTerm PIIType = "identity_term"
)

// PIIMatch is a single detection in scanned text.
type PIIMatch struct {
	Type  PIIType `json:"type"`
	Value string  `json:"value"`
}

// piiPattern is one compiled detection rule.
type piiPattern struct {
	Type      PIIType
	Pattern   *regexp.Regexp
	Validator func(match string) bool
}

// PIIDetector scans text leaving the trust boundary, and text coming back
// from a provider, for identifiers that must never appear there.
type PIIDetector struct {
	patterns []piiPattern
}

// NewPIIDetector creates a detector with the built-in rule set.
func NewPIIDetector() *PIIDetector {
	return &PIIDetector{
		patterns: []piiPattern{
			{
				Type:    PIITypeEmail,
				Pattern: regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
			},
			{
				Type:      PIITypePhone,
				Pattern:   regexp.MustCompile(`\b(?:\+?1[-. ]?)?\(?\d{3}\)?[-. ]?\d{3}[-. ]?\d{4}\b`),
				Validator: validatePhone,
			},
			{
				Type:      PIITypeSSN,
				Pattern:   regexp.MustCompile(`\b\d{3}[- ]\d{2}[- ]\d{4}\b`),
				Validator: validateSSN,
			},
		},
	}
}

// Detect returns every pattern match in text.
func (d *PIIDetector) Detect(text string) []PIIMatch {
	var matches []PIIMatch
	for _, p := range d.patterns {
		for _, m := range p.Pattern.FindAllString(text, -1) {
			if p.Validator != nil && !p.Validator(m) {
				continue
			}
			matches = append(matches, PIIMatch{Type: p.Type, Value: m})
		}
	}
	return matches
}

// HasPII reports whether text contains any detectable identifier.
func (d *PIIDetector) HasPII(text string) bool {
	return len(d.Detect(text)) > 0
}

// DetectIdentityTerms scans for the given identity strings with word
// boundaries, case-insensitively. Terms shorter than three characters are
// skipped to avoid false positives on initials.
func (d *PIIDetector) DetectIdentityTerms(text string, terms []string) []PIIMatch {
	var matches []PIIMatch
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if len(term) < 3 {
			continue
		}
		pattern, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`)
		if err != nil {
			continue
		}
		if pattern.MatchString(text) {
			matches = append(matches, PIIMatch{Type: PIITypeIdentityTerm, Value: term})
		}
	}
	return matches
}

// validateSSN rejects well-known impossible SSN groups
func validateSSN(match string) bool {
	digits := strings.Map(keepDigits, match)
	if len(digits) != 9 {
		return false
	}
	area := digits[:3]
	if area == "000" || area == "666" || area >= "900" {
		return false
	}
	return digits[3:5] != "00" && digits[5:] != "0000"
}

// validatePhone rejects obviously padded digit runs
func validatePhone(match string) bool {
	digits := strings.Map(keepDigits, match)
	if len(digits) < 10 || len(digits) > 11 {
		return false
	}
	// All-identical digits are test fillers, not numbers
	first := digits[0]
	for i := 1; i < len(digits); i++ {
		if digits[i] != first {
			return true
		}
	}
	return false
}

func keepDigits(r rune) rune {
	if r >= '0' && r <= '9' {
		return r
	}
	return -1
}
