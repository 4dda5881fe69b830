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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DeIdentifiedPayload is the privacy-safe projection of a client profile.
// It exists only for the duration of one request and is never cached.
type DeIdentifiedPayload struct {
	Alias          string
	Data           map[string]interface{}
	StrippedFields []string
	Hash           string
}

// ErrDeidentify is returned whenever the transform cannot guarantee a
// fully scrubbed payload. Callers must treat it as "cannot proceed".
var ErrDeidentify = errors.New("de-identification failed")

// profileAllowList is the exhaustive set of profile fields permitted to
// leave the trust boundary. A nested map allows specific sub-fields; true
// allows the whole subtree. Everything else is stripped.
var profileAllowList = map[string]interface{}{
	"age":    true,
	"gender": true,
	"goals": map[string]interface{}{
		"primary":     true,
		"secondary":   true,
		"targetEvent": true,
	},
	"health": map[string]interface{}{
		"conditions":    true,
		"injuryHistory": true,
	},
	"training": map[string]interface{}{
		"experienceLevel":      true,
		"daysPerWeek":          true,
		"sessionLengthMinutes": true,
		"equipment":            true,
		"preferences":          true,
	},
	"lifestyle": map[string]interface{}{
		"sleepHoursAvg": true,
		"activityLevel": true,
	},
	"movementScreen": true,
}

var pseudonymAdjectives = []string{
	"Phoenix", "Granite", "Crimson", "Silver", "Amber",
	"Cobalt", "Ivory", "Onyx", "Scarlet", "Golden",
}

var pseudonymNouns = []string{
	"Rising", "Summit", "Horizon", "Cascade", "Meridian",
	"Compass", "Harbor", "Voyage", "Pinnacle", "Stride",
}

// GeneratePseudonym derives a durable call sign for a client. The result
// is a pure function of the user id, so repeated generation for the same
// client always agrees even before the value is persisted.
func GeneratePseudonym(userID int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("pseudonym:%d", userID)))
	adj := pseudonymAdjectives[int(sum[0])%len(pseudonymAdjectives)]
	noun := pseudonymNouns[int(sum[1])%len(pseudonymNouns)]
	return adj + " " + noun
}

// Deidentifier produces privacy-safe payloads from full client profiles.
type Deidentifier struct {
	detector *PIIDetector
}

// NewDeidentifier creates a transform backed by the given detector for the
// post-projection leak check.
func NewDeidentifier(detector *PIIDetector) *Deidentifier {
	return &Deidentifier{detector: detector}
}

// Deidentify projects profile through the allow-list, substitutes the
// durable pseudonym for the subject's name, and records the names of
// every stripped field. It is fail-closed: any anomaly returns
// ErrDeidentify and no payload. Output is deterministic for identical
// input.
func (d *Deidentifier) Deidentify(profile *ClientProfile) (*DeIdentifiedPayload, error) {
	if profile == nil || profile.UserID <= 0 {
		return nil, fmt.Errorf("%w: missing profile", ErrDeidentify)
	}
	if strings.TrimSpace(profile.Name) == "" {
		return nil, fmt.Errorf("%w: profile has no subject name", ErrDeidentify)
	}
	if profile.Attributes == nil {
		return nil, fmt.Errorf("%w: profile has no attributes", ErrDeidentify)
	}

	alias := profile.Pseudonym
	if alias == "" {
		alias = GeneratePseudonym(profile.UserID)
	}

	data, stripped, err := projectAllowList(profile.Attributes, profileAllowList, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeidentify, err)
	}
	data["alias"] = alias

	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: payload not encodable: %v", ErrDeidentify, err)
	}

	// Last-resort leak check over the serialized payload. Anything the
	// allow-list let through that still carries an identifier blocks the
	// whole request.
	text := string(encoded)
	if matches := d.detector.DetectIdentityTerms(text, identityTerms(profile)); len(matches) > 0 {
		return nil, fmt.Errorf("%w: identity term survived projection", ErrDeidentify)
	}
	if d.detector.HasPII(text) {
		return nil, fmt.Errorf("%w: identifier survived projection", ErrDeidentify)
	}

	sort.Strings(stripped)
	sum := sha256.Sum256(encoded)

	return &DeIdentifiedPayload{
		Alias:          alias,
		Data:           data,
		StrippedFields: stripped,
		Hash:           hex.EncodeToString(sum[:]),
	}, nil
}

// projectAllowList walks the input against the allow-list tree, returning
// the permitted projection and the dotted names of every stripped field.
// Only field names are recorded, never values.
func projectAllowList(input map[string]interface{}, allowed map[string]interface{}, prefix string) (map[string]interface{}, []string, error) {
	out := make(map[string]interface{}, len(input))
	var stripped []string

	for key, value := range input {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}

		rule, ok := allowed[key]
		if !ok {
			stripped = append(stripped, path)
			continue
		}

		switch r := rule.(type) {
		case bool:
			if !r {
				stripped = append(stripped, path)
				continue
			}
			out[key] = value
		case map[string]interface{}:
			nested, ok := value.(map[string]interface{})
			if !ok {
				// A scalar where the allow-list expects a structured
				// sub-document is a shape anomaly; fail closed
				return nil, nil, fmt.Errorf("unexpected shape at %s", path)
			}
			projected, nestedStripped, err := projectAllowList(nested, r, path)
			if err != nil {
				return nil, nil, err
			}
			out[key] = projected
			stripped = append(stripped, nestedStripped...)
		default:
			return nil, nil, fmt.Errorf("invalid allow-list rule at %s", path)
		}
	}

	return out, stripped, nil
}

// identityTerms collects the strings that identify the subject: name
// tokens plus any contact values present in the raw attributes.
func identityTerms(profile *ClientProfile) []string {
	terms := []string{profile.Name}
	for _, part := range strings.Fields(profile.Name) {
		if len(part) >= 3 {
			terms = append(terms, part)
		}
	}
	for _, key := range []string{"preferredName", "email", "phone"} {
		if v, ok := profile.Attributes[key].(string); ok && v != "" {
			terms = append(terms, v)
		}
	}
	if contact, ok := profile.Attributes["contact"].(map[string]interface{}); ok {
		for _, v := range contact {
			if s, ok := v.(string); ok && s != "" {
				terms = append(terms, s)
			}
		}
	}
	return terms
}
