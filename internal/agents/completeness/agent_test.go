package completeness

import (
	"strings"
	"testing"

	"github.com/gazar78gazar/reqMas-MVP/internal/agent"
	"github.com/gazar78gazar/reqMas-MVP/internal/decisionlog"
	"github.com/gazar78gazar/reqMas-MVP/internal/session"
)

func newTestContext(t *testing.T) *agent.Context {
	t.Helper()
	log, err := decisionlog.New("completeness-test", t.TempDir())
	if err != nil {
		t.Fatalf("decisionlog.New: %v", err)
	}
	return &agent.Context{Decisions: log}
}

func answerField(st *session.State, field string) {
	question, ok := fieldToQuestion[field]
	if !ok {
		panic("unknown field " + field)
	}
	st.AddRequirement(session.CategoryIO, question, "answered")
}

func TestEmptyStateScoresZero(t *testing.T) {
	a := New()
	ctx := newTestContext(t)
	st := session.NewState("s1")

	score := a.CheckCompleteness(ctx, st)
	if score != 0 {
		t.Fatalf("expected 0 score, got %f", score)
	}
	if st.CompletenessScore != 0 {
		t.Errorf("state score should be set, got %f", st.CompletenessScore)
	}
	if len(st.DecisionLog) != 1 || st.DecisionLog[0].Decision != "completeness_check" {
		t.Errorf("expected a completeness_check decision, got %#v", st.DecisionLog)
	}
}

func TestScoreCountsAnsweredFieldsOnly(t *testing.T) {
	a := New()
	ctx := newTestContext(t)
	st := session.NewState("s1")
	answerField(st, "digital_inputs")
	answerField(st, "voltage")
	st.AddRequirement(session.CategoryIO, fieldToQuestion["digital_outputs"], "")

	score := a.CheckCompleteness(ctx, st)
	want := 2.0 / 11.0
	if score < want-1e-9 || score > want+1e-9 {
		t.Fatalf("expected %f, got %f", want, score)
	}
}

func TestPhraseMatchingAcceptsRewordedQuestions(t *testing.T) {
	a := New()
	ctx := newTestContext(t)
	st := session.NewState("s1")
	st.AddRequirement(session.CategoryIO, "Roughly how many digital inputs does the line need?", "24")
	st.AddRequirement(session.CategoryPower, "Which power supply voltage is on site?", "24VDC")

	score := a.CheckCompleteness(ctx, st)
	want := 2.0 / 11.0
	if score < want-1e-9 || score > want+1e-9 {
		t.Fatalf("reworded questions should count, got %f", score)
	}
}

func TestIdentifyGapsUsesExactQuestions(t *testing.T) {
	a := New()
	ctx := newTestContext(t)
	st := session.NewState("s1")
	// Phrase-matched for the score, but not the exact gap question.
	st.AddRequirement(session.CategoryIO, "Roughly how many digital inputs does the line need?", "24")

	gaps := a.IdentifyGaps(ctx, st)
	if len(gaps) != 11 {
		t.Fatalf("reworded answers still leave the exact question open, got %d gaps", len(gaps))
	}
	if gaps[0] != "digital_inputs" {
		t.Errorf("gaps should run in category order, got %q first", gaps[0])
	}

	answerField(st, "digital_inputs")
	gaps = a.IdentifyGaps(ctx, st)
	if len(gaps) != 10 {
		t.Fatalf("expected 10 gaps, got %d", len(gaps))
	}
}

func TestGenerateGapQuestions(t *testing.T) {
	a := New()
	ctx := newTestContext(t)

	questions := a.GenerateGapQuestions(ctx, []string{"digital_inputs", "special_io"})
	if len(questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(questions))
	}
	if questions[0] != fieldToQuestion["digital_inputs"] {
		t.Errorf("mapped field should use its fixed question, got %q", questions[0])
	}
	if questions[1] != "Please provide information about: special io" {
		t.Errorf("unmapped field should get a generic question, got %q", questions[1])
	}
}

func TestProcessRecordsValidationResult(t *testing.T) {
	a := New()
	ctx := newTestContext(t)
	st := session.NewState("s1")

	result, err := a.Process(ctx, st, agent.Input{})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Status != agent.StatusNeedsInput {
		t.Fatalf("empty state should need input, got %s", result.Status)
	}
	if len(st.ValidationResults) != 1 {
		t.Fatalf("expected one validation record, got %d", len(st.ValidationResults))
	}
	record := st.ValidationResults[0]
	if record.Type != "completeness_check" {
		t.Errorf("unexpected record type %q", record.Type)
	}
	if record.Result["complete"] != false {
		t.Errorf("empty state cannot be complete: %#v", record.Result)
	}
	if record.Result["missing_count"] != 11 {
		t.Errorf("expected 11 missing, got %v", record.Result["missing_count"])
	}
}

func TestProcessCompleteState(t *testing.T) {
	a := New()
	ctx := newTestContext(t)
	st := session.NewState("s1")
	for field := range fieldToQuestion {
		answerField(st, field)
	}

	result, err := a.Process(ctx, st, agent.Input{})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Status != agent.StatusCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}
	if complete, _ := result.Detail("complete"); complete != true {
		t.Errorf("expected complete=true, got %v", complete)
	}
	if rec, _ := result.Detail("recommendation"); rec != "Requirements are sufficiently complete for validation" {
		t.Errorf("unexpected recommendation %v", rec)
	}
	if st.CompletenessScore < 0.999 {
		t.Errorf("expected full score, got %f", st.CompletenessScore)
	}
}

func TestRecommendationTiers(t *testing.T) {
	cases := []struct {
		name  string
		score float64
		gaps  []string
		want  string
	}{
		{"complete", 0.9, nil, "Requirements are sufficiently complete for validation"},
		{"critical gaps", 0.7, []string{"voltage", "humidity"}, "Please provide critical information: voltage"},
		{"minor gaps", 0.7, []string{"humidity"}, "Consider providing more details for better system recommendations"},
		{"partial no gaps", 0.7, nil, "Requirements are partially complete, continue gathering information"},
		{"low", 0.2, []string{"voltage"}, "Requirements need more information. Please answer the questions provided"},
	}
	for _, tc := range cases {
		if got := recommendation(tc.score, tc.gaps); got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestFieldSummary(t *testing.T) {
	a := New()
	st := session.NewState("s1")
	answerField(st, "digital_inputs")
	answerField(st, "humidity")

	summary := a.FieldSummary(st)
	io := summary[session.CategoryIO]
	if io.TotalFields != 4 || io.AnsweredCount != 1 {
		t.Errorf("unexpected I/O summary: %+v", io)
	}
	if !io.FieldStatus["digital_inputs"].Answered {
		t.Error("digital_inputs should be answered")
	}
	if io.FieldStatus["digital_outputs"].Answered {
		t.Error("digital_outputs should not be answered")
	}
	env := summary[session.CategoryEnvironment]
	if env.AnsweredCount != 1 || env.TotalFields != 3 {
		t.Errorf("unexpected Environment summary: %+v", env)
	}
}

func TestDecisionLogWiring(t *testing.T) {
	a := New()
	ctx := newTestContext(t)
	st := session.NewState("s1")

	if _, err := a.Process(ctx, st, agent.Input{}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	entries, err := ctx.Decisions.SessionEntries()
	if err != nil {
		t.Fatalf("SessionEntries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected score, gaps, and question entries, got %d", len(entries))
	}
	if entries[0].Decision != "score_0.00" {
		t.Errorf("unexpected first decision %q", entries[0].Decision)
	}
	if entries[1].Decision != "identify_gaps" {
		t.Errorf("unexpected second decision %q", entries[1].Decision)
	}
	if !strings.Contains(entries[1].Output, "digital_inputs") {
		t.Errorf("gap output should list fields, got %q", entries[1].Output)
	}
	if entries[2].Decision != "generate_questions" {
		t.Errorf("unexpected third decision %q", entries[2].Decision)
	}
}

func TestRegisterInstallsFactory(t *testing.T) {
	reg := agent.NewRegistry()
	Register(reg)

	built, err := reg.Resolve(agentID, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if built.Info().Name != "Completeness Checker" {
		t.Errorf("unexpected name %s", built.Info().Name)
	}
}
