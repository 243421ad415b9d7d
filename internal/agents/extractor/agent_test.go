package extractor

import (
	"strings"
	"testing"
	"time"

	"github.com/gazar78gazar/reqMas-MVP/internal/agent"
	"github.com/gazar78gazar/reqMas-MVP/internal/catalog"
	"github.com/gazar78gazar/reqMas-MVP/internal/constraint"
	"github.com/gazar78gazar/reqMas-MVP/internal/decisionlog"
	"github.com/gazar78gazar/reqMas-MVP/internal/session"
)

func newTestContext(t *testing.T) *agent.Context {
	t.Helper()
	cat, err := catalog.Load(t.TempDir())
	if err != nil {
		t.Fatalf("catalog.Load: %v", err)
	}
	log, err := decisionlog.New("extractor-test", t.TempDir())
	if err != nil {
		t.Fatalf("decisionlog.New: %v", err)
	}
	ledger := constraint.NewLedger("extractor-test", cat.MutexConstraints)
	return &agent.Context{Catalog: cat, Decisions: log, Ledger: ledger}
}

func findCandidate(t *testing.T, list []Candidate, id string) Candidate {
	t.Helper()
	for _, c := range list {
		if c.ID == id {
			return c
		}
	}
	t.Fatalf("candidate %s not found in %v", id, list)
	return Candidate{}
}

func TestExtractIOTiers(t *testing.T) {
	got := Extract("I need 40 digital inputs and 12 analog inputs")
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %v", got)
	}
	di := findCandidate(t, got, "CNST_DIGITAL_IO_MIN_32")
	if di.Value != 40 || di.Strength != scoreMandatory || di.Confidence != 0.95 {
		t.Errorf("unexpected digital input candidate %+v", di)
	}
	ai := findCandidate(t, got, "CNST_ANALOG_IO_MIN_8")
	if ai.Value != 12 {
		t.Errorf("unexpected analog input candidate %+v", ai)
	}

	if got := Extract("16 digital inputs"); len(got) != 0 {
		t.Errorf("count at tier boundary should produce nothing, got %v", got)
	}
	top := Extract("100 digital outputs")
	if len(top) != 1 || top[0].ID != "CNST_DIGITAL_IO_MIN_64" || top[0].Value != 100 {
		t.Errorf("unexpected top tier candidates %v", top)
	}
}

func TestExtractDeduplicatesByID(t *testing.T) {
	got := Extract("70 digital inputs and 70 digital outputs")
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate after dedupe, got %v", got)
	}
	if got[0].ID != "CNST_DIGITAL_IO_MIN_64" || got[0].Value != 70 {
		t.Errorf("unexpected candidate %+v", got[0])
	}
}

func TestExtractEnvironment(t *testing.T) {
	got := Extract("outdoor installation in a harsh environment")
	if len(got) != 3 {
		t.Fatalf("expected 3 candidates, got %v", got)
	}
	for _, id := range []string{"CNST_IP54", "CNST_TEMP_EXTENDED", "CNST_VIBRATION_2G"} {
		c := findCandidate(t, got, id)
		if c.Strength != scoreMandatory || c.Confidence != 0.9 {
			t.Errorf("unexpected candidate %+v", c)
		}
	}
}

func TestExtractPower(t *testing.T) {
	got := Extract("Powered from 24VDC with redundant power")
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %v", got)
	}
	if c := findCandidate(t, got, "CNST_POWER_24VDC"); c.Confidence != 0.85 {
		t.Errorf("unexpected candidate %+v", c)
	}
	findCandidate(t, got, "CNST_REDUNDANT_POWER")
}

func TestExtractCommStrengths(t *testing.T) {
	got := Extract("modbus tcp over ethernet")
	eth := findCandidate(t, got, "CNST_GIGABIT_ETHERNET")
	if eth.Strength != scoreRecommended {
		t.Errorf("ethernet should be recommended, got %+v", eth)
	}
	mb := findCandidate(t, got, "CNST_MODBUS_TCP")
	if mb.Strength != scoreMandatory {
		t.Errorf("modbus should be mandatory, got %+v", mb)
	}
	if eth.Confidence != 0.95 || mb.Confidence != 0.95 {
		t.Errorf("unexpected confidences %v %v", eth.Confidence, mb.Confidence)
	}
}

func TestExtractLatencyTiers(t *testing.T) {
	got := Extract("needs 5 ms latency")
	if len(got) != 1 || got[0].ID != "CNST_LATENCY_MAX_10MS" || got[0].Value != 5 {
		t.Errorf("unexpected candidates %v", got)
	}
	got = Extract("guarantee 1 ms latency")
	if len(got) != 1 || got[0].ID != "CNST_LATENCY_MAX_1MS" || got[0].Value != 1 {
		t.Errorf("unexpected candidates %v", got)
	}
	if got := Extract("50 ms latency is fine"); len(got) != 0 {
		t.Errorf("slow latency should produce nothing, got %v", got)
	}
}

func TestExtractCountedLatencyKeepsValue(t *testing.T) {
	got := Extract("real time loop with 1 ms latency")
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %v", got)
	}
	lat := findCandidate(t, got, "CNST_LATENCY_MAX_1MS")
	if lat.Value != 1 {
		t.Errorf("counted latency reading should keep its value, got %+v", lat)
	}
	findCandidate(t, got, "CNST_TSN_SUPPORT")
}

func TestExtractShortTokensNeedWordBoundaries(t *testing.T) {
	if got := Extract("maintain the available filtered data"); len(got) != 0 {
		t.Errorf("expected no candidates, got %v", got)
	}
	got := Extract("ai vision system")
	findCandidate(t, got, "CNST_GPU_REQUIRED")
	findCandidate(t, got, "CNST_PROCESSOR_MIN_I5")
}

func TestProcessWritesLedger(t *testing.T) {
	a := New()
	ctx := newTestContext(t)
	st := session.NewState("s1")

	res, err := a.Process(ctx, st, agent.Input{Text: "We need 40 digital inputs with modbus", Source: "user"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Status != agent.StatusCompleted {
		t.Fatalf("expected completed, got %s", res.Status)
	}
	if res.Message != "2 constraints accepted" {
		t.Errorf("unexpected message %q", res.Message)
	}
	ids, ok := res.Detail("constraints")
	if !ok {
		t.Fatal("missing constraints detail")
	}
	accepted, ok := ids.([]string)
	if !ok || len(accepted) != 2 {
		t.Fatalf("unexpected accepted ids %v", ids)
	}

	snap := ctx.Ledger.GetSnapshot()
	di, ok := snap.Constraints["CNST_DIGITAL_IO_MIN_32"]
	if !ok {
		t.Fatal("digital io constraint not in ledger")
	}
	if di.SourceAgent != "extractor" || di.Value != 40 || di.Strength != constraint.Mandatory {
		t.Errorf("unexpected ledger constraint %+v", di)
	}
	if _, ok := snap.Constraints["CNST_MODBUS_TCP"]; !ok {
		t.Error("modbus constraint not in ledger")
	}

	if len(st.DecisionLog) != 1 || st.DecisionLog[0].Decision != "extract_constraints" {
		t.Errorf("unexpected state decisions %+v", st.DecisionLog)
	}
	entries, err := ctx.Decisions.SessionEntries()
	if err != nil {
		t.Fatalf("SessionEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].Agent != "extractor" {
		t.Fatalf("unexpected log entries %+v", entries)
	}
	if !strings.Contains(entries[0].Output, "CNST_MODBUS_TCP") {
		t.Errorf("log output should list accepted ids, got %q", entries[0].Output)
	}
}

func TestProcessAutoResolvesFreshConflict(t *testing.T) {
	a := New()
	ctx := newTestContext(t)
	st := session.NewState("s1")

	res, err := a.Process(ctx, st, agent.Input{Text: "solar powered ai vision inspection"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Message != "4 constraints accepted" {
		t.Errorf("unexpected message %q", res.Message)
	}
	notes, ok := res.Detail("notes")
	if !ok {
		t.Fatal("expected auto-resolution notes")
	}
	noteList, ok := notes.([]string)
	if !ok || len(noteList) != 1 || !strings.Contains(noteList[0], "CNST_POWER_MAX_10W") {
		t.Errorf("unexpected notes %v", notes)
	}

	snap := ctx.Ledger.GetSnapshot()
	if _, ok := snap.Constraints["CNST_POWER_MAX_10W"]; ok {
		t.Error("low power constraint should have been replaced")
	}
	if _, ok := snap.Constraints["CNST_GPU_REQUIRED"]; !ok {
		t.Error("gpu constraint missing")
	}
	if len(snap.Resolutions) != 1 || !snap.Resolutions[0].AutoResolved {
		t.Errorf("unexpected resolutions %+v", snap.Resolutions)
	}
}

func TestProcessRejectsStaleConflict(t *testing.T) {
	a := New()
	ctx := newTestContext(t)
	st := session.NewState("s1")
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	early := ctx.WithClock(func() time.Time { return base })
	if _, err := a.Process(early, st, agent.Input{Text: "hard real time control loop"}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	late := ctx.WithClock(func() time.Time { return base.Add(35 * time.Second) })
	res, err := a.Process(late, st, agent.Input{Text: "connect it over wifi"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Message != "0 constraints accepted, 1 rejected" {
		t.Errorf("unexpected message %q", res.Message)
	}
	detail, ok := res.Detail("rejected")
	if !ok {
		t.Fatal("missing rejected detail")
	}
	rejected, ok := detail.([]Rejection)
	if !ok || len(rejected) != 1 {
		t.Fatalf("unexpected rejected detail %v", detail)
	}
	if rejected[0].ID != "CNST_WIFI" || !strings.Contains(rejected[0].Reason, "requires user resolution") {
		t.Errorf("unexpected rejection %+v", rejected[0])
	}

	snap := ctx.Ledger.GetSnapshot()
	if _, ok := snap.Constraints["CNST_WIFI"]; ok {
		t.Error("wifi constraint should not be in ledger")
	}
	if _, ok := snap.Constraints["CNST_LATENCY_MAX_1MS"]; !ok {
		t.Error("latency constraint should survive")
	}
}

func TestProcessNoMatches(t *testing.T) {
	a := New()
	ctx := newTestContext(t)
	st := session.NewState("s1")

	res, err := a.Process(ctx, st, agent.Input{Text: "hello there"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Status != agent.StatusNoOp || res.Message != "no constraints recognized" {
		t.Errorf("unexpected result %+v", res)
	}
	if len(st.DecisionLog) != 0 {
		t.Errorf("no decisions expected, got %+v", st.DecisionLog)
	}
}

func TestProcessEmptyInput(t *testing.T) {
	a := New()
	ctx := newTestContext(t)

	res, err := a.Process(ctx, session.NewState("s1"), agent.Input{Text: "   "})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Status != agent.StatusNoOp || res.Message != "no input text" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestProcessRequiresLedger(t *testing.T) {
	a := New()
	res, err := a.Process(&agent.Context{}, session.NewState("s1"), agent.Input{Text: "modbus"})
	if err == nil || !strings.Contains(err.Error(), "ledger is required") {
		t.Fatalf("expected ledger error, got %v", err)
	}
	if res.Status != agent.StatusFailed {
		t.Errorf("expected failed status, got %s", res.Status)
	}
}

func TestRegisterInstallsFactory(t *testing.T) {
	reg := agent.NewRegistry()
	Register(reg)

	built, err := reg.Resolve(agentID, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if built.Info().ID != agentID {
		t.Errorf("unexpected id %s", built.Info().ID)
	}
}
