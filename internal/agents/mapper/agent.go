// Package mapper scores user text against the use case catalog, votes
// for the matches, and derives the constraints a confident match
// implies.
package mapper

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gazar78gazar/reqMas-MVP/internal/agent"
	"github.com/gazar78gazar/reqMas-MVP/internal/catalog"
	"github.com/gazar78gazar/reqMas-MVP/internal/constraint"
	"github.com/gazar78gazar/reqMas-MVP/internal/session"
)

const (
	agentID      = "mapper"
	agentVersion = "1.0.0"
)

// keywordWeight converts a keyword hit count into a confidence, capped
// at certainty. strongMatch is the confidence a use case needs before
// its catalog constraints are pulled in.
const (
	keywordWeight = 0.3
	strongMatch   = 0.6
)

// Confidence attached to derived constraints.
const (
	useCaseConfidence  = 0.8
	realTimeConfidence = 0.85
	aiConfidence       = 0.9
)

// Common requirement ids expanded when their trigger phrases appear.
const (
	csrRealTime = "CSR_REAL_TIME_1MS"
	csrAI       = "CSR_AI_PROCESSING"
)

// aiWord needs boundaries so it does not fire inside words like
// "maintain" or "available".
var aiWord = regexp.MustCompile(`\bai\b`)

// Signal is one use case vote derived from keyword hits.
type Signal struct {
	UseCase    string  `json:"use_case"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Rejection reports a derived constraint the ledger refused.
type Rejection struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Score counts catalog keywords in the lowered text and returns one
// signal per matching use case, in catalog order. Each keyword hit is
// worth 0.3 confidence, capped at 1.0.
func Score(cat *catalog.Catalog, text string) []Signal {
	lowered := strings.ToLower(text)
	var signals []Signal
	for _, ucID := range cat.UseCaseIDs() {
		uc := cat.UseCases[ucID]
		if uc == nil {
			continue
		}
		hits := 0
		for _, kw := range uc.Keywords {
			if strings.Contains(lowered, kw) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		confidence := float64(hits) * keywordWeight
		if confidence > 1.0 {
			confidence = 1.0
		}
		signals = append(signals, Signal{
			UseCase:    ucID,
			Name:       cat.UseCaseName(ucID),
			Confidence: confidence,
		})
	}
	return signals
}

// Agent maps user turns onto use cases and their constraints.
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

// New constructs the mapper.
func New() *Agent {
	info := agent.Info{
		ID:          agentID,
		Name:        "Specification Mapper",
		Description: "Votes for use cases by keyword and derives their catalog constraints.",
		Version:     agentVersion,
	}
	base := agent.NewBase(info)
	return &Agent{Base: &base}
}

// Process votes for every matching use case, then derives constraints
// three ways: from the top use case when the match is strong, and from
// the real-time and AI common requirements when their phrases appear.
func (a *Agent) Process(ctx *agent.Context, st *session.State, in agent.Input) (agent.Result, error) {
	if err := validateProcess(ctx, st); err != nil {
		return agent.Result{Status: agent.StatusFailed}, err
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return agent.Result{Status: agent.StatusNoOp, Message: "no input text"}, nil
	}
	lowered := strings.ToLower(text)

	signals := Score(ctx.Catalog, text)
	derived := a.deriveConstraints(ctx, lowered, signals)
	if len(signals) == 0 && len(derived) == 0 {
		return agent.Result{Status: agent.StatusNoOp, Message: "no use case matched"}, nil
	}

	for _, s := range signals {
		ctx.Ledger.AddUseCaseSignal(s.UseCase, s.Confidence, agentID)
	}

	accepted := make([]string, 0, len(derived))
	var rejected []Rejection
	var notes []string
	for _, c := range derived {
		ok, note := ctx.Ledger.Add(c)
		if !ok {
			rejected = append(rejected, Rejection{ID: c.ID, Reason: note})
			continue
		}
		accepted = append(accepted, c.ID)
		if note != "" {
			notes = append(notes, note)
		}
	}

	reasoning := []string{fmt.Sprintf("Scored %d use cases", len(signals))}
	output := "No use case matched"
	if top, ok := topSignal(signals); ok {
		reasoning = append(reasoning, fmt.Sprintf("Top use case %s at %.2f", top.UseCase, top.Confidence))
		output = fmt.Sprintf("Top: %s (%.2f)", top.UseCase, top.Confidence)
	}
	reasoning = append(reasoning, fmt.Sprintf("Ledger accepted %d constraints", len(accepted)))
	if len(rejected) > 0 {
		reasoning = append(reasoning, fmt.Sprintf("Ledger rejected %d", len(rejected)))
	}
	if ctx.Decisions != nil {
		_ = ctx.Decisions.Log(agentID, text, reasoning, "map_use_cases", output)
	}
	st.AddDecision(agentID, "map_use_cases", reasoning)

	details := map[string]any{
		"use_cases":   signals,
		"constraints": accepted,
	}
	if len(rejected) > 0 {
		details["rejected"] = rejected
	}
	if len(notes) > 0 {
		details["notes"] = notes
	}

	message := fmt.Sprintf("%d use case signals, %d constraints accepted", len(signals), len(accepted))
	if len(rejected) > 0 {
		message += fmt.Sprintf(", %d rejected", len(rejected))
	}
	return agent.Result{
		Status:  agent.StatusCompleted,
		Message: message,
		Details: details,
	}, nil
}

// deriveConstraints builds the ledger writes for this turn, in the order
// they should land: top use case constraints first, then the common
// requirement expansions.
func (a *Agent) deriveConstraints(ctx *agent.Context, lowered string, signals []Signal) []constraint.Constraint {
	var out []constraint.Constraint

	if top, ok := topSignal(signals); ok && top.Confidence > strongMatch {
		if uc := ctx.Catalog.UseCases[top.UseCase]; uc != nil {
			for _, id := range uc.Constraints {
				out = append(out, constraint.Constraint{
					ID:          id,
					Strength:    constraint.Mandatory,
					Timestamp:   ctx.Now(),
					SourceAgent: agentID,
					Confidence:  useCaseConfidence,
				})
			}
		}
	}

	if strings.Contains(lowered, "real time") || strings.Contains(lowered, "deterministic") {
		out = append(out, impliedConstraints(ctx, csrRealTime, realTimeConfidence)...)
	}
	if aiWord.MatchString(lowered) || strings.Contains(lowered, "vision") {
		out = append(out, impliedConstraints(ctx, csrAI, aiConfidence)...)
	}
	return out
}

func impliedConstraints(ctx *agent.Context, csrID string, confidence float64) []constraint.Constraint {
	csr, ok := ctx.Catalog.CommonRequirements[csrID]
	if !ok {
		return nil
	}
	out := make([]constraint.Constraint, 0, len(csr.ImpliedConstraints))
	for _, ic := range csr.ImpliedConstraints {
		out = append(out, constraint.Constraint{
			ID:          ic.ConstraintID,
			Strength:    constraint.StrengthFromScore(ic.StrengthScore),
			Timestamp:   ctx.Now(),
			SourceAgent: agentID,
			Confidence:  confidence,
		})
	}
	return out
}

// topSignal returns the highest-confidence signal; the earlier use case
// wins ties.
func topSignal(signals []Signal) (Signal, bool) {
	if len(signals) == 0 {
		return Signal{}, false
	}
	top := signals[0]
	for _, s := range signals[1:] {
		if s.Confidence > top.Confidence {
			top = s
		}
	}
	return top, true
}

func validateProcess(ctx *agent.Context, st *session.State) error {
	if ctx == nil {
		return fmt.Errorf("mapper: context is nil")
	}
	if ctx.Catalog == nil {
		return fmt.Errorf("mapper: catalog is required")
	}
	if ctx.Ledger == nil {
		return fmt.Errorf("mapper: ledger is required")
	}
	if st == nil {
		return fmt.Errorf("mapper: state is required")
	}
	return nil
}
