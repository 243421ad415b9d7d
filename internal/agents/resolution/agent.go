// Package resolution reviews the session ledger for conflicts and gaps
// and builds the binary questions that put a live conflict to the user.
package resolution

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gazar78gazar/reqMas-MVP/internal/agent"
	"github.com/gazar78gazar/reqMas-MVP/internal/catalog"
	"github.com/gazar78gazar/reqMas-MVP/internal/constraint"
	"github.com/gazar78gazar/reqMas-MVP/internal/session"
)

const (
	agentID      = "resolution"
	agentVersion = "1.0.0"
)

// Single-controller channel capacity; ledger totals beyond these draw a
// warning.
const (
	maxDigitalChannels = 256
	maxAnalogChannels  = 64
)

// strongUseCase is the vote a use case needs before its typical
// constraints are expected. ucConflictBar is the vote both of the top
// two use cases need before they count as rivals.
const (
	strongUseCase = 0.8
	ucConflictBar = 0.6
)

// requiredConstraints lists the constraints a strongly identified use
// case is expected to carry.
var requiredConstraints = map[string][]string{
	"UC1":  {"CNST_REDUNDANT_POWER", "CNST_IEC61850"},
	"UC2":  {"CNST_POWER_MAX_10W", "CNST_LTE"},
	"UC3":  {"CNST_LATENCY_MAX_1MS", "CNST_TSN_SUPPORT"},
	"UC6":  {"CNST_ANALOG_IO_MIN_8", "CNST_IP54"},
	"UC9":  {"CNST_IP69K"},
	"UC10": {"CNST_ATEX_CERTIFIED", "CNST_FANLESS"},
}

// Option is one side of a binary choice.
type Option struct {
	Constraint  string  `json:"constraint,omitempty"`
	UseCase     string  `json:"use_case,omitempty"`
	Name        string  `json:"name,omitempty"`
	Description string  `json:"description,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
	Impact      string  `json:"impact"`
}

// Question is a binary choice put to the user.
type Question struct {
	Type               string `json:"type"`
	Category           string `json:"category"`
	Question           string `json:"question"`
	OptionA            Option `json:"option_a"`
	OptionB            Option `json:"option_b"`
	ResolutionRequired bool   `json:"resolution_required"`
}

// Warning flags a soft problem found during review.
type Warning struct {
	Type       string   `json:"type"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion,omitempty"`
	Missing    []string `json:"missing,omitempty"`
}

// Issue flags a hard conflict.
type Issue struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	Resolution string `json:"resolution"`
}

// Review is the ledger consistency report.
type Review struct {
	Status   string    `json:"validation_status"`
	Issues   []Issue   `json:"issues"`
	Warnings []Warning `json:"warnings"`
}

// MutexQuestion builds the binary choice for two conflicting
// constraints. The category selects the impact text; unknown categories
// fall back to generic option labels.
func MutexQuestion(cat *catalog.Catalog, constraintA, constraintB, hint, category string) Question {
	if hint == "" {
		hint = "Choose your priority"
	}
	impactA := "Choose this for option A benefits"
	impactB := "Choose this for option B benefits"
	if pair, ok := cat.Impacts[category]; ok {
		if pair.OptionA != "" {
			impactA = pair.OptionA
		}
		if pair.OptionB != "" {
			impactB = pair.OptionB
		}
	}
	return Question{
		Type:     "binary_choice",
		Category: "mutex_conflict",
		Question: fmt.Sprintf("Your requirements conflict. %s", hint),
		OptionA: Option{
			Constraint:  constraintA,
			Description: cat.DescribeConstraint(constraintA),
			Impact:      impactA,
		},
		OptionB: Option{
			Constraint:  constraintB,
			Description: cat.DescribeConstraint(constraintB),
			Impact:      impactB,
		},
		ResolutionRequired: true,
	}
}

// UseCaseQuestion builds the binary choice between two rival use cases.
func UseCaseQuestion(cat *catalog.Catalog, a, b constraint.UseCaseScore) Question {
	const impact = "System will be optimized for this application type"
	return Question{
		Type:     "binary_choice",
		Category: "use_case_conflict",
		Question: "Multiple use cases detected. Which best describes your application?",
		OptionA: Option{
			UseCase:    a.UseCaseID,
			Name:       cat.UseCaseName(a.UseCaseID),
			Confidence: a.Score,
			Impact:     impact,
		},
		OptionB: Option{
			UseCase:    b.UseCaseID,
			Name:       cat.UseCaseName(b.UseCaseID),
			Confidence: b.Score,
			Impact:     impact,
		},
		ResolutionRequired: true,
	}
}

// Conflicts returns the binary questions for every live conflict in the
// snapshot: each coexisting mutex pair, and the top two use cases when
// both clear the confidence bar.
func Conflicts(cat *catalog.Catalog, snap constraint.Snapshot) []Question {
	var out []Question
	for _, category := range sortedCategories(cat) {
		for _, rule := range cat.MutexConstraints[category] {
			if !bothPresent(snap, rule) {
				continue
			}
			out = append(out, MutexQuestion(cat, rule.ConstraintA, rule.ConstraintB, rule.Resolution, category))
		}
	}

	top := topUseCases(snap.UseCases, 2)
	if len(top) == 2 && top[0].Score > ucConflictBar && top[1].Score > ucConflictBar {
		out = append(out, UseCaseQuestion(cat, top[0], top[1]))
	}
	return out
}

// ReviewSnapshot checks the snapshot for I/O overruns, known-bad
// combinations, missing typical constraints, and coexisting mutex pairs.
func ReviewSnapshot(cat *catalog.Catalog, snap constraint.Snapshot) Review {
	review := Review{Status: "valid", Issues: []Issue{}, Warnings: []Warning{}}

	totalDigital, totalAnalog := 0, 0
	for id, c := range snap.Constraints {
		count, ok := asInt(c.Value)
		if !ok {
			continue
		}
		if strings.Contains(id, "DIGITAL") {
			totalDigital += count
		}
		if strings.Contains(id, "ANALOG") {
			totalAnalog += count
		}
	}
	if totalDigital > maxDigitalChannels {
		review.Warnings = append(review.Warnings, Warning{
			Type:       "io_limit",
			Message:    fmt.Sprintf("Digital I/O count (%d) exceeds single controller limit", totalDigital),
			Suggestion: "Consider distributed I/O architecture",
		})
	}
	if totalAnalog > maxAnalogChannels {
		review.Warnings = append(review.Warnings, Warning{
			Type:       "io_limit",
			Message:    fmt.Sprintf("Analog I/O count (%d) exceeds single controller limit", totalAnalog),
			Suggestion: "Consider multiple controllers or I/O modules",
		})
	}

	if hasConstraint(snap, "CNST_IP54") && hasConstraint(snap, "CNST_GPU_REQUIRED") {
		review.Warnings = append(review.Warnings, Warning{
			Type:       "compatibility",
			Message:    "GPU systems difficult to ruggedize for outdoor use",
			Suggestion: "Consider edge server in enclosure",
		})
	}

	if top := topUseCases(snap.UseCases, 1); len(top) == 1 && top[0].Score > strongUseCase {
		var missing []string
		for _, id := range requiredConstraints[top[0].UseCaseID] {
			if !hasConstraint(snap, id) {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			review.Warnings = append(review.Warnings, Warning{
				Type:    "completeness",
				Message: fmt.Sprintf("Missing typical constraints for %s", top[0].UseCaseID),
				Missing: missing,
			})
		}
	}

	for _, category := range sortedCategories(cat) {
		for _, rule := range cat.MutexConstraints[category] {
			if !bothPresent(snap, rule) {
				continue
			}
			resolution := rule.Resolution
			if resolution == "" {
				resolution = "User must choose"
			}
			review.Issues = append(review.Issues, Issue{
				Type:       "mutex_violation",
				Message:    fmt.Sprintf("Conflicting constraints: %s vs %s", rule.ConstraintA, rule.ConstraintB),
				Resolution: resolution,
			})
			review.Status = "has_conflicts"
		}
	}
	return review
}

// AsMap renders the review for session validation records.
func (r Review) AsMap() map[string]any {
	return map[string]any{
		"validation_status": r.Status,
		"issues":            r.Issues,
		"warnings":          r.Warnings,
	}
}

// Agent reviews the ledger and surfaces conflicts for the user.
type Agent struct {
	*agent.Base
}

// Register installs the agent factory into the provided registry.
func Register(reg *agent.Registry) {
	if reg == nil {
		return
	}
	reg.MustRegister(agentID, func(agent.Config) (agent.Agent, error) {
		return New(), nil
	})
}

// New constructs the resolution agent.
func New() *Agent {
	info := agent.Info{
		ID:          agentID,
		Name:        "Conflict Resolution",
		Description: "Reviews the ledger for conflicts and builds binary resolution questions.",
		Version:     agentVersion,
	}
	base := agent.NewBase(info)
	return &Agent{Base: &base}
}

// Process reviews the current ledger. Live conflicts come back as
// needs-input with the questions in the details; otherwise the review
// report is returned as completed.
func (a *Agent) Process(ctx *agent.Context, st *session.State, in agent.Input) (agent.Result, error) {
	if err := validateProcess(ctx, st); err != nil {
		return agent.Result{Status: agent.StatusFailed}, err
	}

	snap := ctx.Ledger.GetSnapshot()
	review := ReviewSnapshot(ctx.Catalog, snap)
	questions := Conflicts(ctx.Catalog, snap)

	st.AddValidationResult("ledger_review", review.AsMap())

	reasoning := []string{
		fmt.Sprintf("Reviewed %d constraints", len(snap.Constraints)),
		fmt.Sprintf("Found %d conflicts", len(questions)),
		fmt.Sprintf("Found %d warnings", len(review.Warnings)),
	}
	decision := "no_conflicts"
	if len(questions) > 0 {
		decision = "needs_resolution"
	}
	if ctx.Decisions != nil {
		_ = ctx.Decisions.Log(agentID, fmt.Sprintf("Ledger version %d", snap.Version),
			reasoning, decision, fmt.Sprintf("Status: %s", review.Status))
	}
	st.AddDecision(agentID, decision, reasoning)

	details := map[string]any{
		"validation_status": review.Status,
		"issues":            review.Issues,
		"warnings":          review.Warnings,
		"resolution_needed": len(questions) > 0,
	}
	if len(questions) > 0 {
		details["conflicts"] = questions
		return agent.Result{
			Status:  agent.StatusNeedsInput,
			Message: fmt.Sprintf("%d conflicts need resolution", len(questions)),
			Details: details,
		}, nil
	}

	message := "no conflicts"
	if len(review.Warnings) > 0 {
		message = fmt.Sprintf("no conflicts, %d warnings", len(review.Warnings))
	}
	return agent.Result{
		Status:  agent.StatusCompleted,
		Message: message,
		Details: details,
	}, nil
}

func sortedCategories(cat *catalog.Catalog) []string {
	categories := make([]string, 0, len(cat.MutexConstraints))
	for category := range cat.MutexConstraints {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	return categories
}

func bothPresent(snap constraint.Snapshot, rule catalog.MutexRule) bool {
	return hasConstraint(snap, rule.ConstraintA) && hasConstraint(snap, rule.ConstraintB)
}

func hasConstraint(snap constraint.Snapshot, id string) bool {
	_, ok := snap.Constraints[id]
	return ok
}

// topUseCases ranks the vote map, highest first with ties broken by use
// case id.
func topUseCases(scores map[string]float64, n int) []constraint.UseCaseScore {
	ranked := make([]constraint.UseCaseScore, 0, len(scores))
	for ucID, score := range scores {
		ranked = append(ranked, constraint.UseCaseScore{UseCaseID: ucID, Score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].UseCaseID < ranked[j].UseCaseID
	})
	if n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked
}

// asInt reads a constraint value that may arrive as an int or, after a
// JSON round trip, a float64.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func validateProcess(ctx *agent.Context, st *session.State) error {
	if ctx == nil {
		return fmt.Errorf("resolution: context is nil")
	}
	if ctx.Catalog == nil {
		return fmt.Errorf("resolution: catalog is required")
	}
	if ctx.Ledger == nil {
		return fmt.Errorf("resolution: ledger is required")
	}
	if st == nil {
		return fmt.Errorf("resolution: state is required")
	}
	return nil
}
