package validator

import (
	"fmt"
	"strings"
)

// Report collects the outcome of one validation pass.
type Report struct {
	IsValid     bool     `json:"is_valid"`
	Violations  []string `json:"violations"`
	Warnings    []string `json:"warnings"`
	Suggestions []string `json:"suggestions"`
}

// NewReport starts a valid report with empty lists.
func NewReport() *Report {
	return &Report{
		IsValid:     true,
		Violations:  []string{},
		Warnings:    []string{},
		Suggestions: []string{},
	}
}

// AddViolation records a hard failure and marks the report invalid.
func (r *Report) AddViolation(message string) {
	r.Violations = append(r.Violations, message)
	r.IsValid = false
}

// AddWarning records a concern that does not invalidate the report.
func (r *Report) AddWarning(message string) {
	r.Warnings = append(r.Warnings, message)
}

// AddSuggestion records advice derived from the findings.
func (r *Report) AddSuggestion(message string) {
	r.Suggestions = append(r.Suggestions, message)
}

// Summary renders a one-line verdict.
func (r *Report) Summary() string {
	if r.IsValid {
		if len(r.Warnings) > 0 {
			return fmt.Sprintf("Valid with %d warning(s)", len(r.Warnings))
		}
		return "All constraints satisfied"
	}
	return fmt.Sprintf("Invalid: %d violation(s) found", len(r.Violations))
}

// AllMessages renders the findings as a readable block, sections only
// when populated.
func (r *Report) AllMessages() string {
	var b strings.Builder
	writeSection := func(header string, items []string) {
		if len(items) == 0 {
			return
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(header)
		b.WriteString("\n")
		for _, item := range items {
			b.WriteString("  - ")
			b.WriteString(item)
			b.WriteString("\n")
		}
	}
	writeSection("VIOLATIONS:", r.Violations)
	writeSection("WARNINGS:", r.Warnings)
	writeSection("SUGGESTIONS:", r.Suggestions)
	return b.String()
}

// AsMap renders the report for state records and API payloads.
func (r *Report) AsMap() map[string]any {
	return map[string]any{
		"is_valid":    r.IsValid,
		"violations":  r.Violations,
		"warnings":    r.Warnings,
		"suggestions": r.Suggestions,
	}
}
