// Package confidence combines per-agent confidence scores into a single
// value and decides whether a conflict can be resolved automatically or
// needs the user.
package confidence

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Strategy names an aggregation approach.
type Strategy string

const (
	StrategyWeighted Strategy = "weighted"
	StrategyMinimum  Strategy = "minimum"
	StrategyBayesian Strategy = "bayesian"
	StrategyAdaptive Strategy = "adaptive"
	StrategyVoting   Strategy = "voting"
)

const (
	autoResolveHigh = 0.8
	autoResolveDiff = 0.3
	requireUserLow  = 0.5
	votingThreshold = 0.6

	// defaultWeight applies to agents outside the known expert set.
	defaultWeight = 0.33

	// learningRate is the EMA factor for strategy performance updates.
	learningRate = 0.1
)

// AgentConfidence is one agent's self-reported confidence.
type AgentConfidence struct {
	AgentID           string  `json:"agent_id"`
	Confidence        float64 `json:"confidence"`
	EvidenceCount     int     `json:"evidence_count"`
	UncertaintyReason string  `json:"uncertainty_reason,omitempty"`
}

// Aggregated is the combined result.
type Aggregated struct {
	FinalConfidence        float64            `json:"final_confidence"`
	StrategyUsed           Strategy           `json:"strategy_used"`
	ContributingAgents     []string           `json:"contributing_agents"`
	Breakdown              map[string]float64 `json:"confidence_breakdown"`
	RequiresDisambiguation bool               `json:"requires_disambiguation"`
	AutoResolveEligible    bool               `json:"auto_resolve_eligible"`
	Explanation            string             `json:"explanation"`
}

// Aggregator scores agent inputs with expertise weights and tracks how
// well each strategy has performed.
type Aggregator struct {
	weights     map[string]float64
	performance map[Strategy]float64
}

// AggregatorOption adjusts a new Aggregator.
type AggregatorOption func(*Aggregator)

// WithAgentWeight overrides the expertise weight for one agent.
func WithAgentWeight(agentID string, weight float64) AggregatorOption {
	return func(a *Aggregator) {
		a.weights[agentID] = weight
	}
}

// NewAggregator seeds the default expert weights. I/O carries the most
// weight because I/O sizing drives hardware selection.
func NewAggregator(opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		weights: map[string]float64{
			"io_expert":            0.4,
			"system_expert":        0.35,
			"communication_expert": 0.25,
		},
		performance: map[Strategy]float64{
			StrategyWeighted: 1.0,
			StrategyMinimum:  1.0,
			StrategyBayesian: 1.0,
			StrategyAdaptive: 1.0,
			StrategyVoting:   1.0,
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate picks a strategy from the spread of the inputs and applies
// it, then marks disambiguation and auto-resolution eligibility.
func (a *Aggregator) Aggregate(inputs []AgentConfidence) Aggregated {
	return a.aggregate(inputs, false)
}

// AggregateCritical forces the voting strategy for decisions that must
// not ride on a single optimistic agent.
func (a *Aggregator) AggregateCritical(inputs []AgentConfidence) Aggregated {
	return a.aggregate(inputs, true)
}

func (a *Aggregator) aggregate(inputs []AgentConfidence, critical bool) Aggregated {
	if len(inputs) == 0 {
		return lowConfidenceResult("No agent inputs")
	}

	var result Aggregated
	switch a.selectStrategy(inputs, critical) {
	case StrategyWeighted:
		result = a.weighted(inputs)
	case StrategyMinimum:
		result = a.minimum(inputs)
	case StrategyBayesian:
		result = a.bayesian(inputs)
	case StrategyVoting:
		result = a.voting(inputs)
	default:
		result = a.adaptive(inputs)
	}

	result.RequiresDisambiguation = needsDisambiguation(result, inputs)
	result.AutoResolveEligible = canAutoResolve(result, inputs)
	return result
}

func (a *Aggregator) selectStrategy(inputs []AgentConfidence, critical bool) Strategy {
	if critical {
		return StrategyVoting
	}
	mean, stdDev := spread(inputs)
	switch {
	case stdDev < 0.1:
		return StrategyWeighted
	case stdDev > 0.3:
		return StrategyMinimum
	case mean < 0.6:
		return StrategyBayesian
	}
	return StrategyAdaptive
}

func spread(inputs []AgentConfidence) (mean, stdDev float64) {
	for _, input := range inputs {
		mean += input.Confidence
	}
	mean /= float64(len(inputs))
	variance := 0.0
	for _, input := range inputs {
		diff := input.Confidence - mean
		variance += diff * diff
	}
	variance /= float64(len(inputs))
	return mean, math.Sqrt(variance)
}

func (a *Aggregator) weightFor(agentID string) float64 {
	if weight, ok := a.weights[agentID]; ok {
		return weight
	}
	return defaultWeight
}

func (a *Aggregator) weighted(inputs []AgentConfidence) Aggregated {
	totalWeight := 0.0
	weightedSum := 0.0
	breakdown := make(map[string]float64, len(inputs))
	for _, input := range inputs {
		weight := a.weightFor(input.AgentID)
		weightedSum += input.Confidence * weight
		totalWeight += weight
		breakdown[input.AgentID] = input.Confidence
	}
	final := 0.0
	if totalWeight > 0 {
		final = weightedSum / totalWeight
	}
	return Aggregated{
		FinalConfidence:    final,
		StrategyUsed:       StrategyWeighted,
		ContributingAgents: agentIDs(inputs),
		Breakdown:          breakdown,
		Explanation:        "Weighted average: I/O(40%), System(35%), Comm(25%)",
	}
}

func (a *Aggregator) minimum(inputs []AgentConfidence) Aggregated {
	lowest := inputs[0]
	breakdown := make(map[string]float64, len(inputs))
	for _, input := range inputs {
		breakdown[input.AgentID] = input.Confidence
		if input.Confidence < lowest.Confidence {
			lowest = input
		}
	}
	reason := lowest.UncertaintyReason
	if reason == "" {
		reason = "uncertainty"
	}
	return Aggregated{
		FinalConfidence:    lowest.Confidence,
		StrategyUsed:       StrategyMinimum,
		ContributingAgents: agentIDs(inputs),
		Breakdown:          breakdown,
		Explanation:        fmt.Sprintf("Conservative: using minimum from %s due to %s", lowest.AgentID, reason),
	}
}

// bayesian combines confidences as weighted odds. Scores at exactly 0
// or 1 carry no usable odds and are skipped.
func (a *Aggregator) bayesian(inputs []AgentConfidence) Aggregated {
	combinedOdds := 1.0
	valid := 0
	breakdown := map[string]float64{}
	for _, input := range inputs {
		if input.Confidence <= 0 || input.Confidence >= 1 {
			continue
		}
		odds := input.Confidence / (1 - input.Confidence)
		combinedOdds *= math.Pow(odds, a.weightFor(input.AgentID))
		breakdown[input.AgentID] = input.Confidence
		valid++
	}
	if valid == 0 {
		return lowConfidenceResult("Invalid confidences for Bayesian")
	}
	return Aggregated{
		FinalConfidence:    combinedOdds / (1 + combinedOdds),
		StrategyUsed:       StrategyBayesian,
		ContributingAgents: agentIDs(inputs),
		Breakdown:          breakdown,
		Explanation:        "Bayesian combination considering evidence independence",
	}
}

func (a *Aggregator) voting(inputs []AgentConfidence) Aggregated {
	votes := 0
	breakdown := make(map[string]float64, len(inputs))
	for _, input := range inputs {
		breakdown[input.AgentID] = input.Confidence
		if input.Confidence >= votingThreshold {
			votes++
		}
	}
	ratio := float64(votes) / float64(len(inputs))
	final := 0.3
	if ratio > 0.5 {
		final = ratio
	}
	return Aggregated{
		FinalConfidence:    final,
		StrategyUsed:       StrategyVoting,
		ContributingAgents: agentIDs(inputs),
		Breakdown:          breakdown,
		Explanation:        fmt.Sprintf("Voting: %d/%d agents confident", votes, len(inputs)),
	}
}

// adaptive blends the weighted, minimum and Bayesian results, weighting
// each by how well that strategy has performed so far.
func (a *Aggregator) adaptive(inputs []AgentConfidence) Aggregated {
	candidates := []Aggregated{
		a.weighted(inputs),
		a.minimum(inputs),
		a.bayesian(inputs),
	}
	weightedSum := 0.0
	totalWeight := 0.0
	for _, candidate := range candidates {
		weight := a.performance[candidate.StrategyUsed]
		weightedSum += candidate.FinalConfidence * weight
		totalWeight += weight
	}
	final := 0.0
	if totalWeight > 0 {
		final = weightedSum / totalWeight
	}
	breakdown := make(map[string]float64, len(inputs))
	for _, input := range inputs {
		breakdown[input.AgentID] = input.Confidence
	}
	return Aggregated{
		FinalConfidence:    final,
		StrategyUsed:       StrategyAdaptive,
		ContributingAgents: agentIDs(inputs),
		Breakdown:          breakdown,
		Explanation:        "Adaptive: combining strategies based on performance",
	}
}

func needsDisambiguation(result Aggregated, inputs []AgentConfidence) bool {
	if result.FinalConfidence < requireUserLow {
		return true
	}
	_, stdDev := spread(inputs)
	if stdDev > 0.3 {
		return true
	}
	for _, input := range inputs {
		if input.UncertaintyReason != "" {
			return true
		}
	}
	return false
}

func canAutoResolve(result Aggregated, inputs []AgentConfidence) bool {
	if result.FinalConfidence > autoResolveHigh {
		return true
	}
	if len(inputs) == 2 {
		diff := math.Abs(inputs[0].Confidence - inputs[1].Confidence)
		if diff > autoResolveDiff {
			return true
		}
	}
	return false
}

func lowConfidenceResult(reason string) Aggregated {
	return Aggregated{
		StrategyUsed:           StrategyMinimum,
		ContributingAgents:     []string{},
		Breakdown:              map[string]float64{},
		RequiresDisambiguation: true,
		Explanation:            reason,
	}
}

func agentIDs(inputs []AgentConfidence) []string {
	ids := make([]string, len(inputs))
	for i, input := range inputs {
		ids[i] = input.AgentID
	}
	return ids
}

// RecordOutcome feeds back whether a strategy's decision held up,
// nudging its weight with an exponential moving average.
func (a *Aggregator) RecordOutcome(strategy Strategy, success bool) {
	current := a.performance[strategy]
	if success {
		a.performance[strategy] = current + learningRate*(1-current)
	} else {
		a.performance[strategy] = current - learningRate*current
	}
}

// Performance returns the tracked weight for a strategy.
func (a *Aggregator) Performance(strategy Strategy) float64 {
	return a.performance[strategy]
}

// Explain renders the aggregation for logs and the TUI.
func (a *Aggregator) Explain(result Aggregated) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Confidence Analysis (%s strategy):\n", result.StrategyUsed)
	fmt.Fprintf(&b, "Final Confidence: %.2f%%\n\n", result.FinalConfidence*100)

	b.WriteString("Agent Contributions:\n")
	for _, agentID := range contributionOrder(result) {
		fmt.Fprintf(&b, "  %s: %.2f%% (weight: %.2f)\n", agentID, result.Breakdown[agentID]*100, a.weightFor(agentID))
	}

	if result.RequiresDisambiguation {
		b.WriteString("\nDisambiguation required - confidence too low or conflicting")
	} else if result.AutoResolveEligible {
		b.WriteString("\nAuto-resolution eligible - high confidence difference")
	}

	fmt.Fprintf(&b, "\nReasoning: %s", result.Explanation)
	return b.String()
}

func contributionOrder(result Aggregated) []string {
	var ordered []string
	seen := map[string]struct{}{}
	for _, agentID := range result.ContributingAgents {
		if _, ok := result.Breakdown[agentID]; !ok {
			continue
		}
		if _, dup := seen[agentID]; dup {
			continue
		}
		seen[agentID] = struct{}{}
		ordered = append(ordered, agentID)
	}
	// Entries that arrived through a merge without a contributor list.
	var extra []string
	for agentID := range result.Breakdown {
		if _, ok := seen[agentID]; !ok {
			extra = append(extra, agentID)
		}
	}
	sort.Strings(extra)
	return append(ordered, extra...)
}
