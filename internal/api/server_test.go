package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gazar78gazar/reqMas-MVP/internal/config"
	"github.com/gazar78gazar/reqMas-MVP/internal/constraint"
)

func testSettings() Settings {
	return Settings{
		Enabled:      true,
		Host:         "127.0.0.1",
		Port:         0,
		MaxBodyBytes: DefaultMaxBodyBytes,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		IdleTimeout:  time.Second,
	}
}

func newTestServer(t *testing.T) (*Server, *Sessions) {
	t.Helper()
	sessions := newTestSessions(t)
	return NewServer(testSettings(), sessions), sessions
}

// serve runs one request through the mux and decodes the JSON reply into out.
func serve(t *testing.T, srv *Server, method, path string, payload any, out any) int {
	t.Helper()
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, body)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return rec.Code
}

func TestSettingsFromConfigHonorsEnv(t *testing.T) {
	t.Setenv("REQMAS_API_PORT", "9001")
	t.Setenv("REQMAS_API_HOST", "0.0.0.0")
	t.Setenv("REQMAS_API_ENABLED", "false")
	cfg := &config.Config{}
	settings := SettingsFromConfig(cfg)
	if settings.Port != 9001 {
		t.Fatalf("expected port 9001, got %d", settings.Port)
	}
	if settings.Host != "0.0.0.0" {
		t.Fatalf("expected host override, got %s", settings.Host)
	}
	if settings.Enabled {
		t.Fatalf("expected enabled=false from env override")
	}
}

func TestSettingsDefaults(t *testing.T) {
	settings := SettingsFromConfig(nil)
	if !settings.Enabled {
		t.Fatalf("expected server enabled by default")
	}
	if settings.Host != DefaultHost || settings.Port != DefaultPort {
		t.Fatalf("unexpected defaults: %s:%d", settings.Host, settings.Port)
	}
	if settings.MaxBodyBytes != DefaultMaxBodyBytes {
		t.Fatalf("unexpected body limit: %d", settings.MaxBodyBytes)
	}
	if settings.Address() != "127.0.0.1:8000" {
		t.Fatalf("unexpected address: %s", settings.Address())
	}
}

func TestRootBanner(t *testing.T) {
	srv, _ := newTestServer(t)
	var banner struct {
		Name      string   `json:"name"`
		Version   string   `json:"version"`
		Endpoints []string `json:"endpoints"`
	}
	if code := serve(t, srv, http.MethodGet, "/", nil, &banner); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if banner.Name != ServiceName || banner.Version != ServiceVersion {
		t.Fatalf("unexpected banner: %+v", banner)
	}
	if len(banner.Endpoints) != 4 {
		t.Fatalf("expected 4 endpoints, got %v", banner.Endpoints)
	}
	if code := serve(t, srv, http.MethodGet, "/nope", nil, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown path, got %d", code)
	}
}

func TestProcessValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	if code := serve(t, srv, http.MethodPost, "/process", processRequest{Input: "  "}, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty input, got %d", code)
	}

	req := httptest.NewRequest(http.MethodPost, "/process", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid JSON, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/process", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != http.MethodPost {
		t.Fatalf("expected Allow: POST, got %q", allow)
	}
}

func TestProcessPayloadLimit(t *testing.T) {
	sessions := newTestSessions(t)
	settings := testSettings()
	settings.MaxBodyBytes = 64
	srv := NewServer(settings, sessions)

	payload := processRequest{Input: strings.Repeat("a", 512)}
	if code := serve(t, srv, http.MethodPost, "/process", payload, nil); code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", code)
	}
}

func TestProcessVagueInputAsksClarification(t *testing.T) {
	srv, _ := newTestServer(t)
	var resp processResponse
	if code := serve(t, srv, http.MethodPost, "/process", processRequest{Input: "hello there"}, &resp); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if resp.Status != "needs_clarification" {
		t.Fatalf("expected needs_clarification, got %q", resp.Status)
	}
	if resp.SessionID != DefaultSessionID {
		t.Fatalf("expected default session, got %q", resp.SessionID)
	}
	if resp.Message != "Please answer the question to proceed" {
		t.Fatalf("unexpected message: %q", resp.Message)
	}
	if resp.Question == nil || resp.Question.Type != "uc_disambiguation" {
		t.Fatalf("expected a use case question, got %+v", resp.Question)
	}
	if resp.Question.Options == nil || resp.Question.Options.A != "UC3 - motion, servo" {
		t.Fatalf("unexpected options: %+v", resp.Question.Options)
	}
	if resp.State != nil {
		t.Fatalf("clarification turns should not report state, got %+v", resp.State)
	}
	if len(resp.UseCaseProbabilities) == 0 {
		t.Fatalf("expected posterior probabilities in the response")
	}
}

func TestProcessConflictFlow(t *testing.T) {
	srv, sessions := newTestServer(t)

	var first processResponse
	turn := processRequest{Input: "servo motion trajectory", SessionID: "lab"}
	if code := serve(t, srv, http.MethodPost, "/process", turn, &first); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if first.Status != "success" {
		t.Fatalf("expected success on the seed turn, got %q (%s)", first.Status, first.Message)
	}
	if first.State == nil || len(first.State.Constraints) != 3 {
		t.Fatalf("expected the derived motion constraints, got %+v", first.State)
	}

	sess, err := sessions.Get("lab")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	sess.Ledger.Add(constraint.Constraint{
		ID:          "CNST_COMPACT_FORM",
		Strength:    constraint.Mandatory,
		Timestamp:   time.Now().Add(-time.Hour),
		SourceAgent: "user",
		Confidence:  0.9,
	})

	var second processResponse
	turn.Input = "We need 100 digital inputs"
	if code := serve(t, srv, http.MethodPost, "/process", turn, &second); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if second.Status != "conflict_detected" {
		t.Fatalf("expected conflict_detected, got %q (%s)", second.Status, second.Message)
	}
	if second.Message != "Conflict detected - resolution required" {
		t.Fatalf("unexpected message: %q", second.Message)
	}
	if len(second.Conflicts) != 1 || !strings.Contains(second.Conflicts[0], "CNST_COMPACT_FORM") {
		t.Fatalf("unexpected conflicts: %v", second.Conflicts)
	}
	if second.Question == nil || second.Question.Type != "conflict_resolution" {
		t.Fatalf("expected a conflict question, got %+v", second.Question)
	}
	if second.Question.ConstraintA != "CNST_COMPACT_FORM" || second.Question.ConstraintB != "CNST_DIGITAL_IO_MIN_64" {
		t.Fatalf("unexpected question constraints: %+v", second.Question)
	}
	if second.State != nil {
		t.Fatalf("conflict turns should not report state")
	}

	questionJSON, err := json.Marshal(second.Question)
	if err != nil {
		t.Fatalf("marshal question: %v", err)
	}
	var third processResponse
	answer := processRequest{
		Input:        "We need 100 digital inputs",
		SessionID:    "lab",
		UserResponse: "B",
		Context:      questionJSON,
	}
	if code := serve(t, srv, http.MethodPost, "/process", answer, &third); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if third.Status != "success" {
		t.Fatalf("expected success after resolution, got %q (%s)", third.Status, third.Message)
	}
	if third.State == nil {
		t.Fatalf("expected state after resolution")
	}
	if third.State.Resolutions != 1 {
		t.Fatalf("expected 1 recorded resolution, got %d", third.State.Resolutions)
	}
	var hasWinner, hasLoser bool
	for _, id := range third.State.Constraints {
		switch id {
		case "CNST_DIGITAL_IO_MIN_64":
			hasWinner = true
		case "CNST_COMPACT_FORM":
			hasLoser = true
		}
	}
	if !hasWinner || hasLoser {
		t.Fatalf("expected the prioritized constraint to replace the loser, got %v", third.State.Constraints)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	turn := processRequest{Input: "servo motion trajectory", SessionID: "status-lab"}
	if code := serve(t, srv, http.MethodPost, "/process", turn, nil); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}

	var resp statusResponse
	if code := serve(t, srv, http.MethodGet, "/status?session_id=status-lab", nil, &resp); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if resp.Status != "initialized" || resp.Phase != ServicePhase {
		t.Fatalf("unexpected status payload: %+v", resp)
	}
	for _, component := range []string{"bayesian_network", "confidence_aggregator", "dependency_graph"} {
		if !resp.Components[component] {
			t.Fatalf("expected component %s ready, got %+v", component, resp.Components)
		}
	}
	if resp.SessionID != "status-lab" {
		t.Fatalf("unexpected session id: %q", resp.SessionID)
	}
	if len(resp.Session.UseCaseBeliefs) != 3 {
		t.Fatalf("expected top-3 beliefs, got %+v", resp.Session.UseCaseBeliefs)
	}
	if resp.Session.ProcessingHistory != 1 {
		t.Fatalf("expected 1 processed turn, got %d", resp.Session.ProcessingHistory)
	}
	if len(resp.State.Constraints) != 3 {
		t.Fatalf("expected 3 active constraints, got %v", resp.State.Constraints)
	}
}

func TestResetEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	turn := processRequest{Input: "servo motion trajectory", SessionID: "reset-lab"}
	if code := serve(t, srv, http.MethodPost, "/process", turn, nil); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}

	var resp map[string]string
	payload := map[string]string{"session_id": "reset-lab"}
	if code := serve(t, srv, http.MethodPost, "/reset", payload, &resp); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if resp["status"] != "reset_complete" {
		t.Fatalf("unexpected reset payload: %v", resp)
	}

	var status statusResponse
	if code := serve(t, srv, http.MethodGet, "/status?session_id=reset-lab", nil, &status); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(status.State.Constraints) != 0 {
		t.Fatalf("expected empty ledger after reset, got %v", status.State.Constraints)
	}
	if status.Session.ProcessingHistory != 0 {
		t.Fatalf("expected cleared history after reset, got %d", status.Session.ProcessingHistory)
	}
}

func TestServerLifecycle(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
	})
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start server: %v", err)
	}
	if srv.Status() != StatusReady {
		t.Fatalf("expected ready status, got %s", srv.Status())
	}
	resp, err := http.Get(srv.BaseURL() + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	var health healthResponse
	err = json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 health, got %d", resp.StatusCode)
	}
	if health.Status != string(StatusReady) || !health.RouterReady {
		t.Fatalf("unexpected health: %+v", health)
	}
	if health.Version != ServiceVersion || health.Phase != ServicePhase {
		t.Fatalf("unexpected health identity: %+v", health)
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if srv.Addr() != "" {
		t.Fatalf("expected cleared address after shutdown, got %s", srv.Addr())
	}
}
