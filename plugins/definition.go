// Package plugins loads extraction-rule definitions from a project's
// rules directory. Rules arrive as YAML files or as Go files evaluated
// at runtime, and compile into patterns the extractor merges with its
// built-in tables.
package plugins

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gazar78gazar/reqMas-MVP/internal/agents/extractor"
	"github.com/gazar78gazar/reqMas-MVP/internal/constraint"
)

// Categories a rule may claim. They mirror the extractor's built-in
// rule groups and are informational.
var knownCategories = map[string]struct{}{
	"io":            {},
	"environment":   {},
	"power":         {},
	"communication": {},
	"performance":   {},
}

const defaultConfidence = 0.8

// RuleConstraint names one constraint a matching rule emits.
type RuleConstraint struct {
	ID         string  `json:"id" yaml:"id"`
	Strength   int     `json:"strength,omitempty" yaml:"strength,omitempty"`
	Confidence float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
}

// RuleDefinition describes one extraction rule loaded from disk.
//
// The struct mirrors the on-disk schema under .reqmas/rules/*.yaml and
// is intentionally narrow so rule metadata can be validated before the
// pattern joins the extraction tables.
type RuleDefinition struct {
	ID          string           `json:"id" yaml:"id"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string           `json:"version" yaml:"version"`
	Category    string           `json:"category,omitempty" yaml:"category,omitempty"`
	Pattern     string           `json:"pattern" yaml:"pattern"`
	Constraints []RuleConstraint `json:"constraints" yaml:"constraints"`
}

// Normalized returns a trimmed variant of the definition with defaults
// applied: an unset strength is recommended, an unset confidence 0.8.
func (def RuleDefinition) Normalized() RuleDefinition {
	clone := RuleDefinition{
		ID:          strings.TrimSpace(def.ID),
		Description: strings.TrimSpace(def.Description),
		Version:     strings.TrimSpace(def.Version),
		Category:    strings.ToLower(strings.TrimSpace(def.Category)),
		Pattern:     strings.TrimSpace(def.Pattern),
	}
	if len(def.Constraints) > 0 {
		clone.Constraints = make([]RuleConstraint, len(def.Constraints))
		for i, c := range def.Constraints {
			normalized := RuleConstraint{
				ID:         strings.TrimSpace(c.ID),
				Strength:   c.Strength,
				Confidence: c.Confidence,
			}
			if normalized.Strength == 0 {
				normalized.Strength = int(constraint.Recommended)
			}
			if normalized.Confidence == 0 {
				normalized.Confidence = defaultConfidence
			}
			clone.Constraints[i] = normalized
		}
	}
	return clone
}

// Validate ensures the rule definition is well-formed: the pattern must
// compile and every emitted constraint must carry a known strength.
func (def RuleDefinition) Validate() error {
	normalized := def.Normalized()
	if normalized.ID == "" {
		return fmt.Errorf("rule: id is required")
	}
	if normalized.Version == "" {
		return fmt.Errorf("rule %s: version is required", normalized.ID)
	}
	if normalized.Pattern == "" {
		return fmt.Errorf("rule %s: pattern is required", normalized.ID)
	}
	if _, err := regexp.Compile(normalized.Pattern); err != nil {
		return fmt.Errorf("rule %s: pattern: %w", normalized.ID, err)
	}
	if normalized.Category != "" {
		if _, ok := knownCategories[normalized.Category]; !ok {
			return fmt.Errorf("rule %s: unknown category %q", normalized.ID, normalized.Category)
		}
	}
	if len(normalized.Constraints) == 0 {
		return fmt.Errorf("rule %s: at least one constraint is required", normalized.ID)
	}
	for i, c := range normalized.Constraints {
		if c.ID == "" {
			return fmt.Errorf("rule %s: constraints[%d]: id is required", normalized.ID, i)
		}
		if c.Strength != int(constraint.Recommended) && c.Strength != int(constraint.Mandatory) {
			return fmt.Errorf("rule %s: constraints[%d]: strength %d is not %d or %d",
				normalized.ID, i, c.Strength, int(constraint.Recommended), int(constraint.Mandatory))
		}
		if c.Confidence <= 0 || c.Confidence > 1 {
			return fmt.Errorf("rule %s: constraints[%d]: confidence %v outside (0, 1]",
				normalized.ID, i, c.Confidence)
		}
	}
	return nil
}

// Compile turns the definition into an extractor rule. The extractor
// matches patterns against lowered input, so patterns should be written
// in lowercase.
func (def RuleDefinition) Compile() (extractor.Rule, error) {
	normalized := def.Normalized()
	if err := normalized.Validate(); err != nil {
		return extractor.Rule{}, err
	}
	re, err := regexp.Compile(normalized.Pattern)
	if err != nil {
		return extractor.Rule{}, fmt.Errorf("rule %s: pattern: %w", normalized.ID, err)
	}
	candidates := make([]extractor.Candidate, len(normalized.Constraints))
	for i, c := range normalized.Constraints {
		candidates[i] = extractor.Candidate{
			ID:         c.ID,
			Strength:   c.Strength,
			Confidence: c.Confidence,
		}
	}
	return extractor.Rule{Pattern: re, Candidates: candidates}, nil
}
