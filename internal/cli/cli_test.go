package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gazar78gazar/reqMas-MVP/internal/agents/extractor"
	"github.com/gazar78gazar/reqMas-MVP/internal/config"
	"github.com/gazar78gazar/reqMas-MVP/internal/constraint"
)

// testProject gives every behavioral test its own project directory and
// neutralizes the shared-root override.
func testProject(t *testing.T) string {
	t.Helper()
	t.Setenv("REQMAS_ROOT", "")
	return t.TempDir()
}

// runCLI executes one command the way a shell invocation would, with a
// fresh command tree so flag state cannot leak between runs.
func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("reqmas %s: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func runCLIErr(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	return cmd.Execute()
}

func decodeProcess(t *testing.T, raw string) processOutput {
	t.Helper()
	var out processOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("decode process output: %v\n%s", err, raw)
	}
	return out
}

func decodeStatus(t *testing.T, raw string) statusOutput {
	t.Helper()
	var out statusOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("decode status output: %v\n%s", err, raw)
	}
	return out
}

func hasConstraint(ids []string, want string) bool {
	for _, id := range ids {
		if id == want {
			return true
		}
	}
	return false
}

func TestRootCmdRegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	have := map[string]bool{}
	for _, sub := range root.Commands() {
		have[sub.Name()] = true
	}
	for _, name := range []string{"chat", "process", "reset", "rules", "serve", "sessions", "status"} {
		if !have[name] {
			t.Fatalf("root is missing %q subcommand", name)
		}
	}
	if root.RunE == nil {
		t.Fatalf("root should default to the interactive screen")
	}
}

func TestProcessCmdFlags(t *testing.T) {
	c := processCmd()
	for _, name := range []string{"project", "session", "input", "respond", "format"} {
		if c.Flags().Lookup(name) == nil {
			t.Fatalf("process is missing --%s", name)
		}
	}
	if got := c.Flags().Lookup("input").Shorthand; got != "i" {
		t.Fatalf("input shorthand = %q", got)
	}
	if got := c.Flags().Lookup("session").DefValue; got != defaultSessionID {
		t.Fatalf("session default = %q", got)
	}
	if got := c.Flags().Lookup("format").DefValue; got != "pretty" {
		t.Fatalf("format default = %q", got)
	}
}

func TestServeCmdFlags(t *testing.T) {
	c := serveCmd()
	for _, name := range []string{"project", "host", "port"} {
		if c.Flags().Lookup(name) == nil {
			t.Fatalf("serve is missing --%s", name)
		}
	}
}

func TestParseChoice(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "a", want: "A"},
		{in: " B ", want: "B"},
		{in: "option a", want: "A"},
		{in: "first", want: "A"},
		{in: "Second", want: "B"},
		{in: "yes", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseChoice(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseChoice(%q) should fail", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseChoice(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("parseChoice(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestProcessRequiresInputOrResponse(t *testing.T) {
	dir := testProject(t)
	if err := runCLIErr(t, "process", "--project", dir); err == nil {
		t.Fatalf("process without input should fail")
	}
}

func TestProcessRespondWithoutPending(t *testing.T) {
	dir := testProject(t)
	err := runCLIErr(t, "process", "--project", dir, "--respond", "a")
	if err == nil || !strings.Contains(err.Error(), "no pending question") {
		t.Fatalf("expected a no-pending-question error, got %v", err)
	}
}

func TestProcessPersistsAcrossInvocations(t *testing.T) {
	dir := testProject(t)

	raw := runCLI(t, "process", "--project", dir,
		"--input", "We need servo motion and trajectory control", "--format", "json")
	out := decodeProcess(t, raw)
	if out.Status != "success" {
		t.Fatalf("status = %q\n%s", out.Status, raw)
	}
	if out.Route != "parallel" {
		t.Fatalf("route = %q", out.Route)
	}
	if !hasConstraint(out.Constraints, "CNST_ETHERCAT") {
		t.Fatalf("missing derived constraint, got %v", out.Constraints)
	}

	cfg, err := config.NewConfig(dir)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	for _, path := range []string{
		filepath.Join(cfg.SessionsDir(), "main.json"),
		ledgerPath(cfg, "main"),
		historyPath(cfg, "main"),
	} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected snapshot %s: %v", path, err)
		}
	}

	// A separate invocation rebuilds the session from the snapshots.
	status := decodeStatus(t, runCLI(t, "status", "--project", dir, "--format", "json"))
	if !hasConstraint(status.Constraints, "CNST_ETHERCAT") {
		t.Fatalf("constraints were not persisted, got %v", status.Constraints)
	}
	if len(status.Constraints) < 3 {
		t.Fatalf("expected the derived constraint set, got %v", status.Constraints)
	}
}

func TestConflictRespondAcrossInvocations(t *testing.T) {
	dir := testProject(t)

	runCLI(t, "process", "--project", dir,
		"--input", "We need servo motion and trajectory control", "--format", "json")

	// An hour-old mandatory constraint defeats every auto-resolution
	// rule, so the next turn has to escalate.
	cfg, err := config.NewConfig(dir)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	export, err := readLedgerSnapshot(ledgerPath(cfg, "main"))
	if err != nil || export == nil {
		t.Fatalf("read ledger snapshot: %v", err)
	}
	export.Constraints["CNST_COMPACT_FORM"] = constraint.Constraint{
		ID:          "CNST_COMPACT_FORM",
		Strength:    constraint.Mandatory,
		Timestamp:   time.Now().Add(-time.Hour),
		SourceAgent: "user",
		Confidence:  0.9,
	}
	if err := writeLedgerSnapshot(ledgerPath(cfg, "main"), *export); err != nil {
		t.Fatalf("write ledger snapshot: %v", err)
	}

	raw := runCLI(t, "process", "--project", dir,
		"--input", "We need 100 digital inputs", "--format", "json")
	out := decodeProcess(t, raw)
	if out.Status != "conflict_detected" {
		t.Fatalf("status = %q\n%s", out.Status, raw)
	}
	if out.Question == nil || out.Question.Type != "conflict_resolution" {
		t.Fatalf("expected a conflict question, got %+v", out.Question)
	}
	if out.Question.ConstraintA != "CNST_COMPACT_FORM" || out.Question.ConstraintB != "CNST_DIGITAL_IO_MIN_64" {
		t.Fatalf("question pairs %s vs %s", out.Question.ConstraintA, out.Question.ConstraintB)
	}
	if _, err := os.Stat(pendingPath(cfg, "main")); err != nil {
		t.Fatalf("pending question was not stored: %v", err)
	}

	raw = runCLI(t, "process", "--project", dir, "--respond", "b", "--format", "json")
	out = decodeProcess(t, raw)
	if out.Status != "response_applied" {
		t.Fatalf("status = %q\n%s", out.Status, raw)
	}
	if out.Applied == nil || out.Applied.Action != "keep_second" {
		t.Fatalf("applied = %+v", out.Applied)
	}
	if out.Applied.Removed != "CNST_COMPACT_FORM" {
		t.Fatalf("removed = %q", out.Applied.Removed)
	}
	if !hasConstraint(out.Constraints, "CNST_DIGITAL_IO_MIN_64") {
		t.Fatalf("winner missing from %v", out.Constraints)
	}
	if hasConstraint(out.Constraints, "CNST_COMPACT_FORM") {
		t.Fatalf("loser still active in %v", out.Constraints)
	}
	if _, err := os.Stat(pendingPath(cfg, "main")); !os.IsNotExist(err) {
		t.Fatalf("pending question should be cleared, stat err = %v", err)
	}

	// The resolution survives into the next invocation.
	status := decodeStatus(t, runCLI(t, "status", "--project", dir, "--format", "json"))
	if !hasConstraint(status.Constraints, "CNST_DIGITAL_IO_MIN_64") {
		t.Fatalf("resolution did not persist, got %v", status.Constraints)
	}
	if hasConstraint(status.Constraints, "CNST_COMPACT_FORM") {
		t.Fatalf("loser came back in %v", status.Constraints)
	}
}

func TestUseCaseAnswerPersistsAcrossInvocations(t *testing.T) {
	dir := testProject(t)

	// Solar and water treatment evidence lands close enough to leave
	// the top two use cases inside the ambiguity threshold.
	raw := runCLI(t, "process", "--project", dir,
		"--input", "Our site combines solar generation with water treatment.", "--format", "json")
	out := decodeProcess(t, raw)
	if out.Status != "needs_clarification" {
		t.Fatalf("status = %q\n%s", out.Status, raw)
	}
	if out.Question == nil || out.Question.Type != "uc_disambiguation" {
		t.Fatalf("expected a use case question, got %+v", out.Question)
	}
	if out.Question.Options == nil || !strings.HasPrefix(out.Question.Options.A, "UC6") {
		t.Fatalf("option A should lead with the stronger use case, got %+v", out.Question.Options)
	}

	raw = runCLI(t, "process", "--project", dir, "--respond", "a", "--format", "json")
	out = decodeProcess(t, raw)
	if out.Applied == nil || out.Applied.Action != "uc_selected" {
		t.Fatalf("applied = %+v", out.Applied)
	}
	if out.Applied.UseCase != "UC6" {
		t.Fatalf("confirmed use case = %q, want UC6", out.Applied.UseCase)
	}

	// The confirmation has to survive into a fresh process: a follow-up
	// with no keywords still routes direct on the stored posterior
	// instead of asking the same question again.
	raw = runCLI(t, "process", "--project", dir,
		"--input", "Thanks, that covers everything for now.", "--format", "json")
	out = decodeProcess(t, raw)
	if out.Route != "direct" {
		t.Fatalf("route = %q\n%s", out.Route, raw)
	}
	if out.UseCaseProbabilities["UC6"] < 0.8 {
		t.Fatalf("UC6 belief = %.4f, want >= 0.8", out.UseCaseProbabilities["UC6"])
	}
}

func TestResetClearsStoredSession(t *testing.T) {
	dir := testProject(t)

	runCLI(t, "process", "--project", dir,
		"--input", "We need servo motion and trajectory control", "--format", "json")

	out := runCLI(t, "reset", "--project", dir)
	if !strings.Contains(out, "Session main reset.") {
		t.Fatalf("unexpected reset output: %q", out)
	}

	cfg, err := config.NewConfig(dir)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	for _, path := range []string{
		filepath.Join(cfg.SessionsDir(), "main.json"),
		ledgerPath(cfg, "main"),
		historyPath(cfg, "main"),
	} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Fatalf("snapshot %s should be gone, stat err = %v", path, err)
		}
	}

	if out := runCLI(t, "sessions", "--project", dir); !strings.Contains(out, "No stored sessions.") {
		t.Fatalf("unexpected sessions output: %q", out)
	}

	out = runCLI(t, "reset", "--project", dir)
	if !strings.Contains(out, "had no stored state") {
		t.Fatalf("second reset output: %q", out)
	}
}

func TestSessionsListsStoredState(t *testing.T) {
	dir := testProject(t)

	runCLI(t, "process", "--project", dir, "--session", "line-a",
		"--input", "We need servo motion and trajectory control", "--format", "json")

	out := runCLI(t, "sessions", "--project", dir)
	if !strings.Contains(out, "line-a") {
		t.Fatalf("sessions output missing id: %q", out)
	}
}

func TestRulesCheckValidatesDefinition(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "latency.yaml")
	definition := `id: custom_latency
version: "1"
pattern: "hard real[- ]?time"
constraints:
  - id: CNST_LATENCY_MAX_1MS
    strength: 10
    confidence: 0.9
`
	if err := os.WriteFile(path, []byte(definition), 0o644); err != nil {
		t.Fatalf("write definition: %v", err)
	}

	out := runCLI(t, "rules", "check", path)
	if !strings.Contains(out, "OK:") || !strings.Contains(out, "custom_latency") {
		t.Fatalf("unexpected check output: %q", out)
	}

	bad := filepath.Join(dir, "broken.yaml")
	if err := os.WriteFile(bad, []byte("id: broken\nversion: \"1\"\n"), 0o644); err != nil {
		t.Fatalf("write definition: %v", err)
	}
	if err := runCLIErr(t, "rules", "check", bad); err == nil {
		t.Fatalf("broken definition should fail validation")
	}
}

func TestRulesListsInstalledDefinitions(t *testing.T) {
	dir := testProject(t)
	t.Cleanup(func() { extractor.SetCustomRules(nil) })

	out := runCLI(t, "rules", "--project", dir)
	if !strings.Contains(out, "No rule plugins installed.") {
		t.Fatalf("unexpected empty listing: %q", out)
	}

	rulesDir := filepath.Join(dir, ".reqmas", "rules")
	definition := `id: submarine_grade
version: "1"
pattern: "submarine grade titanium"
constraints:
  - id: CNST_IP69K
`
	if err := os.WriteFile(filepath.Join(rulesDir, "submarine.yaml"), []byte(definition), 0o644); err != nil {
		t.Fatalf("write definition: %v", err)
	}

	out = runCLI(t, "rules", "--project", dir)
	if !strings.Contains(out, "submarine_grade") {
		t.Fatalf("listing missing rule: %q", out)
	}
}
