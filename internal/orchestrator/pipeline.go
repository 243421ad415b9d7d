package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gazar78gazar/reqMas-MVP/internal/agent"
	"github.com/gazar78gazar/reqMas-MVP/internal/agents/extractor"
	"github.com/gazar78gazar/reqMas-MVP/internal/agents/mapper"
	"github.com/gazar78gazar/reqMas-MVP/internal/belief"
	"github.com/gazar78gazar/reqMas-MVP/internal/catalog"
	"github.com/gazar78gazar/reqMas-MVP/internal/confidence"
	"github.com/gazar78gazar/reqMas-MVP/internal/constraint"
	"github.com/gazar78gazar/reqMas-MVP/internal/session"
)

// Pipeline routes. The top use case probability picks one.
const (
	RouteDirect         = "direct"
	RouteParallel       = "parallel"
	RouteDisambiguation = "disambiguation"
)

const (
	routeDirectThreshold   = 0.8
	routeParallelThreshold = 0.6
)

// Route confidence feeds the aggregator as the extraction agents' own
// confidence: a direct route trusts the extraction more than a hedged
// parallel one.
const (
	directConfidence   = 0.9
	parallelConfidence = 0.7
	defaultConfidence  = 0.5
)

const defaultAgentTimeout = 3 * time.Second

// autoResolveSeverityMax bounds which conflicts may be resolved without
// asking the user. Anything at or above it always escalates.
const autoResolveSeverityMax = 0.7

// Question asks the user to settle something the pipeline cannot: a
// conflict, an ambiguous use case, or requirements too vague to route.
type Question struct {
	Type        string           `json:"type"`
	Question    string           `json:"question"`
	Options     *QuestionOptions `json:"options,omitempty"`
	Context     []string         `json:"context,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	Confidence  float64          `json:"confidence,omitempty"`
	ConstraintA string           `json:"constraint_a,omitempty"`
	ConstraintB string           `json:"constraint_b,omitempty"`
}

// QuestionOptions holds the two answers an A/B question accepts.
type QuestionOptions struct {
	A string `json:"A"`
	B string `json:"B"`
}

// ProcessResult reports one pipeline turn.
type ProcessResult struct {
	UseCaseProbabilities map[string]float64        `json:"uc_probabilities"`
	AggregatedConfidence float64                   `json:"aggregated_confidence"`
	Route                string                    `json:"route"`
	NeedsDisambiguation  bool                      `json:"needs_disambiguation"`
	AutoResolve          bool                      `json:"auto_resolve"`
	Conflicts            []constraint.ConflictPath `json:"conflicts_detected,omitempty"`
	SuggestedResolution  string                    `json:"suggested_resolution,omitempty"`
	Question             *Question                 `json:"abq_question,omitempty"`
}

// Response reports how a user's A/B answer was applied.
type Response struct {
	Action  string `json:"action"`
	Removed string `json:"remove,omitempty"`
	UseCase string `json:"uc,omitempty"`
}

// HistoryRecord remembers one processed input.
type HistoryRecord struct {
	Input      string    `json:"input"`
	Route      string    `json:"route"`
	Confidence float64   `json:"confidence"`
	Conflicts  int       `json:"conflicts"`
	Timestamp  time.Time `json:"timestamp"`
}

// Status snapshots the pipeline for status endpoints and screens.
type Status struct {
	UseCaseBeliefs    []belief.Score         `json:"uc_beliefs"`
	IsAmbiguous       bool                   `json:"is_ambiguous"`
	Confidence        *confidence.Aggregated `json:"confidence_report,omitempty"`
	ActiveConstraints []string               `json:"active_constraints"`
	ProcessingHistory int                    `json:"processing_history"`
}

// Pipeline turns free-form requirement text into ledger constraints.
// Each turn updates use case beliefs, routes to the extraction agents,
// aggregates their confidence, and checks the result for conflicts.
type Pipeline struct {
	mu            sync.Mutex
	deps          *agent.Context
	extractor     *extractor.Agent
	mapper        *mapper.Agent
	aggregator    *confidence.Aggregator
	graph         *constraint.Graph
	timeout       time.Duration
	history       []HistoryRecord
	lastAggregate *confidence.Aggregated
}

// NewPipeline wires the pipeline against shared dependencies. The
// context must carry the catalog, the constraint ledger, and the use
// case belief network.
func NewPipeline(deps *agent.Context) (*Pipeline, error) {
	if deps == nil {
		return nil, fmt.Errorf("orchestrator: agent context is required")
	}
	if deps.Catalog == nil {
		return nil, fmt.Errorf("orchestrator: catalog is required")
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("orchestrator: constraint ledger is required")
	}
	if deps.Beliefs == nil {
		return nil, fmt.Errorf("orchestrator: belief network is required")
	}

	timeout := defaultAgentTimeout
	if deps.Config != nil {
		if d := deps.Config.AgentTimeout(); d > 0 {
			timeout = d
		}
	}
	return &Pipeline{
		deps:       deps,
		extractor:  extractor.New(),
		mapper:     mapper.New(),
		aggregator: confidence.NewAggregator(),
		graph:      constraint.NewGraph(deps.Catalog.Limits.Relationships, deps.Catalog.MutexConstraints),
		timeout:    timeout,
	}, nil
}

// routeFor picks the route from the updated distribution: a dominant
// use case goes direct, a plausible one fans out, anything weaker asks.
func routeFor(probs map[string]float64) string {
	top := 0.0
	for _, p := range probs {
		if p > top {
			top = p
		}
	}
	switch {
	case top >= routeDirectThreshold:
		return RouteDirect
	case top >= routeParallelThreshold:
		return RouteParallel
	default:
		return RouteDisambiguation
	}
}

// Process runs one pipeline turn over the input text.
func (p *Pipeline) Process(ctx context.Context, st *session.State, text string) (ProcessResult, error) {
	if st == nil {
		return ProcessResult{}, fmt.Errorf("orchestrator: state is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	probs := p.deps.Beliefs.UpdateBeliefs(belief.Evidence{Text: text, Confidence: 1.0})
	route := routeFor(probs)
	if p.deps.Logbook != nil {
		p.deps.Logbook.Info("pipeline: route %s for %q", route, clip(text, 50))
	}

	exResult, mpResult, err := p.runAgents(ctx, st, text, route)
	if err != nil {
		return ProcessResult{}, err
	}

	inputs := p.agentConfidences(route, exResult, mpResult)
	aggregated := p.aggregator.Aggregate(inputs)
	p.lastAggregate = &aggregated

	result := ProcessResult{
		UseCaseProbabilities: probs,
		AggregatedConfidence: aggregated.FinalConfidence,
		Route:                route,
	}

	conflicts := p.detectConflicts(exResult, mpResult)
	switch {
	case len(conflicts) > 0:
		result.Conflicts = conflicts
		p.handleConflicts(&result, conflicts, aggregated)
	case p.deps.Beliefs.IsAmbiguous():
		p.handleAmbiguity(&result)
	case aggregated.RequiresDisambiguation:
		result.NeedsDisambiguation = true
		result.Question = &Question{
			Type:     "clarification",
			Question: "Can you provide more specific details about your requirements?",
			Reason:   aggregated.Explanation,
		}
	default:
		for ucID, prob := range probs {
			p.deps.Ledger.AddUseCaseSignal(ucID, prob, "phase2")
		}
	}

	p.record(st, text, route, result)
	return result, nil
}

// runAgents dispatches the extraction agents for the route. The direct
// route trusts the extractor alone; the parallel route fans out to the
// extractor and the mapper; the disambiguation route runs neither.
func (p *Pipeline) runAgents(ctx context.Context, st *session.State, text string, route string) (*agent.Result, *agent.Result, error) {
	in := agent.Input{Text: text, Source: "pipeline"}

	switch route {
	case RouteDirect:
		result, err := p.extractor.Process(p.deps, st, in)
		if err != nil {
			return nil, nil, fmt.Errorf("orchestrator: extractor: %w", err)
		}
		return &result, nil, nil

	case RouteParallel:
		return p.runParallel(ctx, st, in)

	default:
		return nil, nil, nil
	}
}

// runParallel runs the extractor and the mapper concurrently on cloned
// states, then merges their decisions back. A single agent failure
// degrades the turn instead of failing it.
func (p *Pipeline) runParallel(ctx context.Context, st *session.State, in agent.Input) (*agent.Result, *agent.Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	exState := st.Clone()
	mpState := st.Clone()
	base := len(st.DecisionLog)

	var exResult, mpResult agent.Result
	var exErr, mpErr error

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			exErr = err
			return nil
		}
		exResult, exErr = p.extractor.Process(p.deps, exState, in)
		return nil
	})
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			mpErr = err
			return nil
		}
		mpResult, mpErr = p.mapper.Process(p.deps, mpState, in)
		return nil
	})
	_ = g.Wait()

	appendNewDecisions(st, exState, base)
	appendNewDecisions(st, mpState, base)

	var ex, mp *agent.Result
	if exErr != nil {
		if p.deps.Logbook != nil {
			p.deps.Logbook.Warn("pipeline: extractor failed: %v", exErr)
		}
	} else {
		ex = &exResult
	}
	if mpErr != nil {
		if p.deps.Logbook != nil {
			p.deps.Logbook.Warn("pipeline: mapper failed: %v", mpErr)
		}
	} else {
		mp = &mpResult
	}
	return ex, mp, nil
}

// appendNewDecisions merges decisions a cloned state accumulated past
// the shared base back onto the original.
func appendNewDecisions(dst, src *session.State, base int) {
	if src == nil || len(src.DecisionLog) <= base {
		return
	}
	dst.DecisionLog = append(dst.DecisionLog, src.DecisionLog[base:]...)
	if src.UpdatedAt.After(dst.UpdatedAt) {
		dst.UpdatedAt = src.UpdatedAt
	}
}

// agentConfidences builds the aggregation inputs for the turn. Agents
// that ran report the route's confidence with their accepted constraints
// as evidence; a turn with no agent falls back to neutral defaults.
func (p *Pipeline) agentConfidences(route string, exResult, mpResult *agent.Result) []confidence.AgentConfidence {
	var inputs []confidence.AgentConfidence

	routeConfidence := defaultConfidence
	switch route {
	case RouteDirect:
		routeConfidence = directConfidence
	case RouteParallel:
		routeConfidence = parallelConfidence
	}

	if exResult != nil {
		inputs = append(inputs, confidence.AgentConfidence{
			AgentID:       "io_expert",
			Confidence:    routeConfidence,
			EvidenceCount: len(acceptedIDs(exResult)),
		})
	}
	if mpResult != nil {
		inputs = append(inputs, confidence.AgentConfidence{
			AgentID:       "system_expert",
			Confidence:    routeConfidence,
			EvidenceCount: len(acceptedIDs(mpResult)),
		})
	}

	if len(inputs) == 0 {
		for _, id := range []string{"io_expert", "system_expert", "comm_expert"} {
			inputs = append(inputs, confidence.AgentConfidence{
				AgentID:    id,
				Confidence: defaultConfidence,
			})
		}
	}
	return inputs
}

// detectConflicts walks every constraint this turn touched against the
// active set, including writes the ledger already rejected: a rejected
// mutex still needs the user to settle it.
func (p *Pipeline) detectConflicts(exResult, mpResult *agent.Result) []constraint.ConflictPath {
	newIDs := map[string]struct{}{}
	for _, result := range []*agent.Result{exResult, mpResult} {
		for _, id := range acceptedIDs(result) {
			newIDs[id] = struct{}{}
		}
		for _, id := range rejectedIDs(result) {
			newIDs[id] = struct{}{}
		}
	}
	if len(newIDs) == 0 {
		return nil
	}

	current := p.activeIDs()
	ordered := make([]string, 0, len(newIDs))
	for id := range newIDs {
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)

	var conflicts []constraint.ConflictPath
	seen := map[string]struct{}{}
	for _, id := range ordered {
		sequence := append(append([]string{}, current...), id)
		if conflict := p.graph.DetectProgressiveConflict(sequence); conflict != nil {
			if _, ok := seen[conflict.Explanation]; ok {
				continue
			}
			seen[conflict.Explanation] = struct{}{}
			conflicts = append(conflicts, *conflict)
		}
	}
	return conflicts
}

func (p *Pipeline) activeIDs() []string {
	active := p.deps.Ledger.ActiveConstraints()
	ids := make([]string, 0, len(active))
	for _, c := range active {
		ids = append(ids, c.ID)
	}
	return ids
}

// handleConflicts settles the first conflict: auto-resolve when the
// aggregate allows it and the conflict is mild, escalate otherwise.
func (p *Pipeline) handleConflicts(result *ProcessResult, conflicts []constraint.ConflictPath, aggregated confidence.Aggregated) {
	primary := conflicts[0]
	if aggregated.AutoResolveEligible && primary.Severity < autoResolveSeverityMax && len(primary.ResolutionHints) > 0 {
		result.AutoResolve = true
		result.SuggestedResolution = primary.ResolutionHints[0]
		return
	}
	result.NeedsDisambiguation = true
	result.Question = conflictQuestion(primary)
}

func conflictQuestion(conflict constraint.ConflictPath) *Question {
	q := &Question{
		Type:     "conflict_resolution",
		Question: "We detected a conflict: " + conflict.Explanation,
		Context:  conflict.ResolutionHints,
	}
	if len(conflict.Participants) >= 2 {
		first, second := conflict.Participants[0], conflict.Participants[1]
		q.Options = &QuestionOptions{
			A: fmt.Sprintf("Prioritize %s", first),
			B: fmt.Sprintf("Prioritize %s", second),
		}
		q.ConstraintA = first
		q.ConstraintB = second
	}
	return q
}

// handleAmbiguity asks the user to pick between the top two use cases,
// labeling each with the features that set it apart.
func (p *Pipeline) handleAmbiguity(result *ProcessResult) {
	info := p.deps.Beliefs.Disambiguate()
	if info == nil || len(info.AmbiguousUseCases) < 2 {
		return
	}
	result.NeedsDisambiguation = true
	result.Question = &Question{
		Type:     "uc_disambiguation",
		Question: "Which best describes your application?",
		Options: &QuestionOptions{
			A: optionLabel(info.AmbiguousUseCases[0].UseCaseID, info.FirstFeatures),
			B: optionLabel(info.AmbiguousUseCases[1].UseCaseID, info.SecondFeatures),
		},
		Confidence: info.Confidence,
	}
}

func optionLabel(ucID string, features []string) string {
	if len(features) > 2 {
		features = features[:2]
	}
	if len(features) == 0 {
		return ucID
	}
	return fmt.Sprintf("%s - %s", ucID, strings.Join(features, ", "))
}

// record logs the turn on the decision trail and the history.
func (p *Pipeline) record(st *session.State, text, route string, result ProcessResult) {
	topUC, topProb := "", 0.0
	for ucID, prob := range result.UseCaseProbabilities {
		if prob > topProb || (prob == topProb && (topUC == "" || ucID < topUC)) {
			topUC, topProb = ucID, prob
		}
	}

	reasoning := []string{
		fmt.Sprintf("Route %s on top use case %s (%.2f)", route, topUC, topProb),
		fmt.Sprintf("Aggregated confidence %.2f", result.AggregatedConfidence),
	}
	if len(result.Conflicts) > 0 {
		reasoning = append(reasoning, fmt.Sprintf("Detected %d conflicts", len(result.Conflicts)))
	}

	decision := "processed"
	switch {
	case result.AutoResolve:
		decision = "auto_resolved"
	case result.NeedsDisambiguation:
		decision = "needs_user_input"
	}

	if p.deps.Decisions != nil {
		_ = p.deps.Decisions.Log("pipeline", text, reasoning, decision,
			fmt.Sprintf("Confidence %.2f via %s route", result.AggregatedConfidence, route))
	}
	st.AddDecision("pipeline", decision, reasoning)

	p.history = append(p.history, HistoryRecord{
		Input:      clip(text, 100),
		Route:      route,
		Confidence: result.AggregatedConfidence,
		Conflicts:  len(result.Conflicts),
		Timestamp:  p.deps.Now(),
	})
}

// RespondAB applies the user's answer to a pending A/B question.
func (p *Pipeline) RespondAB(q *Question, choice string) Response {
	p.mu.Lock()
	defer p.mu.Unlock()

	if q == nil {
		return Response{Action: "unknown"}
	}
	choice = strings.ToUpper(strings.TrimSpace(choice))

	switch q.Type {
	case "conflict_resolution":
		return p.respondConflict(q, choice)
	case "uc_disambiguation":
		return p.respondUseCase(q, choice)
	default:
		return Response{Action: "unknown"}
	}
}

// respondConflict keeps the prioritized constraint and drops the other.
// The winner goes back on the ledger as a user-confirmed mandatory
// constraint in case the conflict already evicted it.
func (p *Pipeline) respondConflict(q *Question, choice string) Response {
	if q.ConstraintA == "" || q.ConstraintB == "" {
		return Response{Action: "unknown"}
	}

	action, chosen, removed := "keep_second", q.ConstraintB, q.ConstraintA
	if choice == "A" {
		action, chosen, removed = "keep_first", q.ConstraintA, q.ConstraintB
	}

	p.deps.Ledger.ResolveConflict(q.ConstraintA, q.ConstraintB, chosen,
		fmt.Sprintf("User prioritized %s", chosen), false)
	if !p.isActive(chosen) {
		p.deps.Ledger.Add(constraint.Constraint{
			ID:          chosen,
			Strength:    constraint.Mandatory,
			Timestamp:   p.deps.Now(),
			SourceAgent: "user",
			Confidence:  1.0,
		})
	}

	if p.deps.Decisions != nil {
		_ = p.deps.Decisions.Log("pipeline", "user choice "+choice,
			[]string{fmt.Sprintf("User resolved conflict between %s and %s", q.ConstraintA, q.ConstraintB)},
			action, "Kept "+chosen)
	}
	return Response{Action: action, Removed: removed}
}

func (p *Pipeline) isActive(id string) bool {
	for _, c := range p.deps.Ledger.ActiveConstraints() {
		if c.ID == id {
			return true
		}
	}
	return false
}

// respondUseCase confirms the chosen use case as strong evidence. The
// evidence text carries the use case's own indicators so the update
// actually shifts the distribution toward it.
func (p *Pipeline) respondUseCase(q *Question, choice string) Response {
	if q.Options == nil {
		return Response{Action: "unknown"}
	}
	label := q.Options.A
	if choice == "B" {
		label = q.Options.B
	}
	if label == "" {
		return Response{Action: "unknown"}
	}
	ucID := strings.SplitN(label, " - ", 2)[0]

	p.deps.Beliefs.UpdateBeliefs(belief.Evidence{
		Text:       ConfirmationEvidence(p.deps.Catalog, ucID),
		Confidence: 0.95,
		Source:     "user_response",
	})

	if p.deps.Decisions != nil {
		_ = p.deps.Decisions.Log("pipeline", "user choice "+choice,
			[]string{fmt.Sprintf("User confirmed use case %s", ucID)},
			"uc_selected", ucID)
	}
	return Response{Action: "uc_selected", UseCase: ucID}
}

// ConfirmationEvidence is the belief evidence text for a confirmed use
// case. It carries the case's own strong indicators so the update
// actually shifts the distribution toward it.
func ConfirmationEvidence(cat *catalog.Catalog, ucID string) string {
	text := "User confirmed: " + ucID
	if uc, ok := cat.UseCases[ucID]; ok && uc != nil && len(uc.StrongIndicators) > 0 {
		text += " (" + strings.Join(uc.StrongIndicators, ", ") + ")"
	}
	return text
}

// Status snapshots beliefs, confidence, and constraints.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Status{
		UseCaseBeliefs:    p.deps.Beliefs.TopUseCases(3),
		IsAmbiguous:       p.deps.Beliefs.IsAmbiguous(),
		Confidence:        p.lastAggregate,
		ActiveConstraints: p.activeIDs(),
		ProcessingHistory: len(p.history),
	}
}

// History copies the processed-input trail.
func (p *Pipeline) History() []HistoryRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]HistoryRecord, len(p.history))
	copy(out, p.history)
	return out
}

// Reset clears beliefs, constraints, and history for a fresh session.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deps.Beliefs.Reset()
	p.deps.Ledger.Reset()
	p.history = nil
	p.lastAggregate = nil
}

// acceptedIDs lists the constraint ids a result's ledger writes kept.
func acceptedIDs(result *agent.Result) []string {
	if result == nil {
		return nil
	}
	raw, ok := result.Detail("constraints")
	if !ok {
		return nil
	}
	ids, _ := raw.([]string)
	return ids
}

// rejectedIDs lists the constraint ids the ledger turned away.
func rejectedIDs(result *agent.Result) []string {
	if result == nil {
		return nil
	}
	raw, ok := result.Detail("rejected")
	if !ok {
		return nil
	}
	switch rejected := raw.(type) {
	case []extractor.Rejection:
		ids := make([]string, 0, len(rejected))
		for _, r := range rejected {
			ids = append(ids, r.ID)
		}
		return ids
	case []mapper.Rejection:
		ids := make([]string, 0, len(rejected))
		for _, r := range rejected {
			ids = append(ids, r.ID)
		}
		return ids
	default:
		return nil
	}
}

func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
