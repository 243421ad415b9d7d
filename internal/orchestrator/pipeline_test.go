package orchestrator

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/gazar78gazar/reqMas-MVP/internal/agent"
	"github.com/gazar78gazar/reqMas-MVP/internal/belief"
	"github.com/gazar78gazar/reqMas-MVP/internal/catalog"
	"github.com/gazar78gazar/reqMas-MVP/internal/constraint"
	"github.com/gazar78gazar/reqMas-MVP/internal/decisionlog"
	"github.com/gazar78gazar/reqMas-MVP/internal/session"
)

func newPipelineContext(t *testing.T) *agent.Context {
	t.Helper()
	cat, err := catalog.Load(t.TempDir())
	if err != nil {
		t.Fatalf("catalog.Load: %v", err)
	}
	log, err := decisionlog.New("pipeline-test", t.TempDir())
	if err != nil {
		t.Fatalf("decisionlog.New: %v", err)
	}
	return &agent.Context{
		Catalog:   cat,
		Decisions: log,
		Ledger:    constraint.NewLedger("pipeline-test", cat.MutexConstraints),
		Beliefs:   belief.NewNetwork(cat),
		Clock:     time.Now,
	}
}

func newTestPipeline(t *testing.T) (*Pipeline, *agent.Context) {
	t.Helper()
	deps := newPipelineContext(t)
	p, err := NewPipeline(deps)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p, deps
}

func seedBeliefs(deps *agent.Context, times int) {
	for i := 0; i < times; i++ {
		deps.Beliefs.UpdateBeliefs(belief.Evidence{Text: "servo motion trajectory", Confidence: 1.0})
	}
}

func hasDecision(st *session.State, decision string) bool {
	for _, d := range st.DecisionLog {
		if d.Decision == decision {
			return true
		}
	}
	return false
}

func activeSet(deps *agent.Context) map[string]bool {
	active := map[string]bool{}
	for _, c := range deps.Ledger.ActiveConstraints() {
		active[c.ID] = true
	}
	return active
}

func near(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

func TestRouteForThresholds(t *testing.T) {
	cases := []struct {
		top  float64
		want string
	}{
		{0.95, RouteDirect},
		{0.8, RouteDirect},
		{0.79, RouteParallel},
		{0.6, RouteParallel},
		{0.59, RouteDisambiguation},
		{0.0, RouteDisambiguation},
	}
	for _, tc := range cases {
		probs := map[string]float64{"UC3": tc.top, "UC5": tc.top / 2}
		if got := routeFor(probs); got != tc.want {
			t.Errorf("routeFor(top=%v) = %q, want %q", tc.top, got, tc.want)
		}
	}
	if got := routeFor(nil); got != RouteDisambiguation {
		t.Errorf("routeFor(nil) = %q, want %q", got, RouteDisambiguation)
	}
}

func TestProcessVagueInputAsksUseCaseQuestion(t *testing.T) {
	p, deps := newTestPipeline(t)
	st := session.NewState("pipeline-vague")

	result, err := p.Process(context.Background(), st, "hello there")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if result.Route != RouteDisambiguation {
		t.Fatalf("Route = %q, want %q", result.Route, RouteDisambiguation)
	}
	if !result.NeedsDisambiguation {
		t.Errorf("expected disambiguation")
	}
	if result.Question == nil || result.Question.Type != "uc_disambiguation" {
		t.Fatalf("unexpected question %+v", result.Question)
	}
	if result.Question.Question != "Which best describes your application?" {
		t.Errorf("question = %q", result.Question.Question)
	}
	if result.Question.Options == nil {
		t.Fatalf("expected A/B options")
	}
	if result.Question.Options.A != "UC3 - motion, servo" {
		t.Errorf("option A = %q", result.Question.Options.A)
	}
	if result.Question.Options.B != "UC5 - industrial, plc" {
		t.Errorf("option B = %q", result.Question.Options.B)
	}
	// Indicator-free text leaves the distribution at the normalized
	// priors; the question carries the leader's probability.
	if !near(result.Question.Confidence, 0.25/1.08, 1e-9) {
		t.Errorf("question confidence = %v", result.Question.Confidence)
	}

	// No agent ran, so the aggregate is the neutral default.
	if !near(result.AggregatedConfidence, 0.5, 1e-9) {
		t.Errorf("AggregatedConfidence = %v", result.AggregatedConfidence)
	}
	if len(deps.Ledger.ActiveConstraints()) != 0 {
		t.Errorf("no constraints expected")
	}
	if !hasDecision(st, "needs_user_input") {
		t.Errorf("expected needs_user_input decision, got %+v", st.DecisionLog)
	}
	if got := len(p.History()); got != 1 {
		t.Errorf("history length = %d, want 1", got)
	}
}

func TestProcessDirectRouteExtractsConstraints(t *testing.T) {
	p, deps := newTestPipeline(t)
	st := session.NewState("pipeline-direct")
	seedBeliefs(deps, 2)

	result, err := p.Process(context.Background(), st, "We need 40 digital inputs and 12 analog inputs")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if result.Route != RouteDirect {
		t.Fatalf("Route = %q, want %q", result.Route, RouteDirect)
	}
	if result.Question != nil || result.NeedsDisambiguation {
		t.Errorf("no question expected, got %+v", result.Question)
	}
	if !near(result.AggregatedConfidence, 0.9, 1e-9) {
		t.Errorf("AggregatedConfidence = %v", result.AggregatedConfidence)
	}

	active := activeSet(deps)
	if !active["CNST_DIGITAL_IO_MIN_32"] || !active["CNST_ANALOG_IO_MIN_8"] {
		t.Errorf("unexpected active constraints %v", active)
	}

	// The direct route trusts the extractor alone.
	if hasDecision(st, "map_use_cases") {
		t.Errorf("mapper should not run on the direct route")
	}
	if !hasDecision(st, "extract_constraints") {
		t.Errorf("expected extractor decision")
	}

	// A clean turn votes the posterior onto the ledger.
	top := deps.Ledger.TopUseCases(1)
	if len(top) != 1 || top[0].UseCaseID != "UC3" {
		t.Fatalf("unexpected top use cases %v", top)
	}
	if !near(top[0].Score, 0.9645, 0.001) {
		t.Errorf("UC3 vote = %v", top[0].Score)
	}
}

func TestProcessParallelRouteFansOut(t *testing.T) {
	p, deps := newTestPipeline(t)
	st := session.NewState("pipeline-parallel")
	seedBeliefs(deps, 1)

	result, err := p.Process(context.Background(), st, "We need 40 digital inputs for the water tank")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if result.Route != RouteParallel {
		t.Fatalf("Route = %q, want %q", result.Route, RouteParallel)
	}
	if result.Question != nil {
		t.Errorf("no question expected, got %+v", result.Question)
	}
	if !near(result.AggregatedConfidence, 0.7, 1e-9) {
		t.Errorf("AggregatedConfidence = %v", result.AggregatedConfidence)
	}

	if !activeSet(deps)["CNST_DIGITAL_IO_MIN_32"] {
		t.Errorf("expected extractor constraint on the ledger")
	}
	if !hasDecision(st, "extract_constraints") || !hasDecision(st, "map_use_cases") {
		t.Errorf("expected decisions from both agents, got %+v", st.DecisionLog)
	}

	top := deps.Ledger.TopUseCases(1)
	if len(top) != 1 || top[0].UseCaseID != "UC3" {
		t.Fatalf("unexpected top use cases %v", top)
	}
	if !near(top[0].Score, 0.689, 0.01) {
		t.Errorf("UC3 vote = %v", top[0].Score)
	}
}

func TestProcessMutexConflictEscalates(t *testing.T) {
	p, deps := newTestPipeline(t)
	st := session.NewState("pipeline-conflict")
	seedBeliefs(deps, 2)

	deps.Ledger.Add(constraint.Constraint{
		ID:          "CNST_COMPACT_FORM",
		Strength:    constraint.Mandatory,
		Timestamp:   time.Now().Add(-time.Hour),
		SourceAgent: "extractor",
		Confidence:  0.9,
	})

	result, err := p.Process(context.Background(), st, "We need 100 digital inputs")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(result.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %+v", result.Conflicts)
	}
	conflict := result.Conflicts[0]
	if conflict.ConflictType != "direct_mutex" || conflict.Severity != 1.0 {
		t.Errorf("unexpected conflict %+v", conflict)
	}
	if result.AutoResolve {
		t.Errorf("severe conflicts must not auto-resolve")
	}
	if !result.NeedsDisambiguation || result.Question == nil {
		t.Fatalf("expected escalation, got %+v", result)
	}

	q := result.Question
	if q.Type != "conflict_resolution" {
		t.Errorf("question type = %q", q.Type)
	}
	want := "We detected a conflict: CNST_DIGITAL_IO_MIN_64 conflicts with previously set CNST_COMPACT_FORM"
	if q.Question != want {
		t.Errorf("question = %q", q.Question)
	}
	if q.Options == nil || q.Options.A != "Prioritize CNST_COMPACT_FORM" || q.Options.B != "Prioritize CNST_DIGITAL_IO_MIN_64" {
		t.Errorf("unexpected options %+v", q.Options)
	}
	if q.ConstraintA != "CNST_COMPACT_FORM" || q.ConstraintB != "CNST_DIGITAL_IO_MIN_64" {
		t.Errorf("unexpected constraint ids %q %q", q.ConstraintA, q.ConstraintB)
	}
	if len(q.Context) != 3 {
		t.Errorf("expected resolution hints as context, got %v", q.Context)
	}

	// The rejected side stays off the ledger until the user answers.
	active := activeSet(deps)
	if !active["CNST_COMPACT_FORM"] || active["CNST_DIGITAL_IO_MIN_64"] {
		t.Errorf("unexpected active constraints %v", active)
	}

	response := p.RespondAB(q, "b")
	if response.Action != "keep_second" {
		t.Errorf("action = %q", response.Action)
	}
	if response.Removed != "CNST_COMPACT_FORM" {
		t.Errorf("removed = %q", response.Removed)
	}

	active = activeSet(deps)
	if active["CNST_COMPACT_FORM"] || !active["CNST_DIGITAL_IO_MIN_64"] {
		t.Errorf("resolution not applied, active %v", active)
	}
	snapshot := deps.Ledger.GetSnapshot()
	if len(snapshot.Resolutions) != 1 {
		t.Fatalf("expected 1 resolution, got %+v", snapshot.Resolutions)
	}
	resolution := snapshot.Resolutions[0]
	if resolution.Chosen != "CNST_DIGITAL_IO_MIN_64" || resolution.AutoResolved {
		t.Errorf("unexpected resolution %+v", resolution)
	}
}

func TestRespondABConfirmsUseCase(t *testing.T) {
	p, deps := newTestPipeline(t)

	q := &Question{
		Type:     "uc_disambiguation",
		Question: "Which best describes your application?",
		Options:  &QuestionOptions{A: "UC6 - pump, flow", B: "UC3 - motion, servo"},
	}
	response := p.RespondAB(q, "A")
	if response.Action != "uc_selected" || response.UseCase != "UC6" {
		t.Fatalf("unexpected response %+v", response)
	}

	top := deps.Beliefs.TopUseCases(1)
	if len(top) != 1 || top[0].UseCaseID != "UC6" {
		t.Fatalf("confirmation did not shift beliefs: %v", top)
	}
	if top[0].Probability < 0.5 {
		t.Errorf("UC6 probability = %v, want > 0.5", top[0].Probability)
	}

	history := deps.Beliefs.History()
	if len(history) != 1 || history[0].Source != "user_response" {
		t.Errorf("unexpected evidence history %+v", history)
	}
}

func TestRespondABUnknown(t *testing.T) {
	p, _ := newTestPipeline(t)

	if got := p.RespondAB(nil, "A"); got.Action != "unknown" {
		t.Errorf("nil question: action = %q", got.Action)
	}
	if got := p.RespondAB(&Question{Type: "clarification"}, "A"); got.Action != "unknown" {
		t.Errorf("clarification: action = %q", got.Action)
	}
	if got := p.RespondAB(&Question{Type: "conflict_resolution"}, "A"); got.Action != "unknown" {
		t.Errorf("missing constraints: action = %q", got.Action)
	}
	if got := p.RespondAB(&Question{Type: "uc_disambiguation"}, "A"); got.Action != "unknown" {
		t.Errorf("missing options: action = %q", got.Action)
	}
}

func TestStatusAndReset(t *testing.T) {
	p, deps := newTestPipeline(t)
	st := session.NewState("pipeline-status")

	if _, err := p.Process(context.Background(), st, "hello there"); err != nil {
		t.Fatalf("Process: %v", err)
	}

	status := p.Status()
	if status.ProcessingHistory != 1 {
		t.Errorf("ProcessingHistory = %d, want 1", status.ProcessingHistory)
	}
	if !status.IsAmbiguous {
		t.Errorf("fresh distribution should be ambiguous")
	}
	if len(status.UseCaseBeliefs) != 3 || status.UseCaseBeliefs[0].UseCaseID != "UC3" {
		t.Errorf("unexpected beliefs %v", status.UseCaseBeliefs)
	}
	if status.Confidence == nil {
		t.Errorf("expected a confidence report")
	}

	p.Reset()
	status = p.Status()
	if status.ProcessingHistory != 0 {
		t.Errorf("history should be cleared, got %d", status.ProcessingHistory)
	}
	if status.Confidence != nil {
		t.Errorf("confidence report should be cleared")
	}
	if len(status.ActiveConstraints) != 0 {
		t.Errorf("constraints should be cleared, got %v", status.ActiveConstraints)
	}
	if !near(deps.Beliefs.Probabilities()["UC3"], 0.25, 1e-9) {
		t.Errorf("beliefs should return to priors")
	}
}

func TestNewPipelineRequiresDependencies(t *testing.T) {
	if _, err := NewPipeline(nil); err == nil {
		t.Errorf("nil context should fail")
	}

	deps := newPipelineContext(t)
	deps.Ledger = nil
	if _, err := NewPipeline(deps); err == nil {
		t.Errorf("missing ledger should fail")
	}

	deps = newPipelineContext(t)
	deps.Beliefs = nil
	if _, err := NewPipeline(deps); err == nil {
		t.Errorf("missing belief network should fail")
	}
}
