package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gazar78gazar/reqMas-MVP/internal/constraint"
	"github.com/gazar78gazar/reqMas-MVP/internal/orchestrator"
)

const (
	// ServiceName identifies the API in the root banner.
	ServiceName = "reqMAS Phase 2 API"
	// ServiceVersion is the API contract version exposed via / and /health.
	ServiceVersion = "2.0.0"
	// ServicePhase tags responses with the pipeline generation.
	ServicePhase = "2"
)

// ServerStatus reports runtime lifecycle states for the HTTP server.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
)

var errServerDisabled = errors.New("api: server disabled")

// Logger records server status information. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

// Server wraps the HTTP listener and handlers backing the API.
type Server struct {
	settings Settings
	sessions *Sessions
	logger   Logger
	clock    func() time.Time

	mu          sync.RWMutex
	server      *http.Server
	listener    net.Listener
	status      ServerStatus
	startTime   time.Time
	routerReady bool
}

// Option customizes server construction.
type Option func(*Server)

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewServer prepares an API server over the given session registry.
func NewServer(settings Settings, sessions *Sessions, opts ...Option) *Server {
	s := &Server{
		settings: settings,
		sessions: sessions,
		logger:   nopLogger{},
		clock:    func() time.Time { return time.Now().UTC() },
		status:   StatusStarting,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start binds the TCP listener and begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("api: server is nil")
	}
	if !s.settings.Enabled {
		return errServerDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("api: server already started")
	}
	addr := s.settings.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.routerReady = s.sessions != nil
	s.startTime = s.clock()
	server := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		IdleTimeout:  s.settings.IdleTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	s.status = StatusReady
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("api: serve error: %v", err)
		}
	}()
	s.logger.Printf("api: listening on %s", listener.Addr().String())
	return nil
}

// Handler returns the route mux so tests and embedders can serve it directly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/process", s.handleProcess)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/reset", s.handleReset)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Shutdown stops accepting new connections and waits for in-flight requests to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.server == nil {
		return nil
	}
	s.status = StatusDraining
	deadline := ctx
	if deadline == nil {
		var cancel context.CancelFunc
		deadline, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := s.server.Shutdown(deadline); err != nil {
		return err
	}
	s.listener = nil
	s.server = nil
	return nil
}

// Addr returns the bound TCP address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL returns the HTTP base URL (scheme + host:port) for the running server.
func (s *Server) BaseURL() string {
	addr := s.Addr()
	if addr == "" {
		return s.settings.URL()
	}
	return "http://" + addr
}

// Status reports the server's lifecycle state.
func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Server) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

func (s *Server) uptimeSeconds() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return int64(time.Since(s.startTime).Seconds())
}

type processRequest struct {
	Input        string          `json:"input"`
	SessionID    string          `json:"session_id"`
	UserResponse string          `json:"user_response,omitempty"`
	Context      json.RawMessage `json:"context,omitempty"`
}

type processResponse struct {
	Status               string                 `json:"status"`
	SessionID            string                 `json:"session_id"`
	Confidence           float64                `json:"confidence"`
	UseCaseProbabilities map[string]float64     `json:"uc_probabilities"`
	Question             *orchestrator.Question `json:"question,omitempty"`
	Conflicts            []string               `json:"conflicts,omitempty"`
	Resolution           string                 `json:"resolution,omitempty"`
	State                *stateSnapshot         `json:"state,omitempty"`
	Message              string                 `json:"message"`
}

type stateSnapshot struct {
	Constraints []string           `json:"constraints"`
	UseCases    map[string]float64 `json:"use_cases"`
	Resolutions int                `json:"resolutions"`
	Version     int                `json:"version"`
}

type statusResponse struct {
	Status     string              `json:"status"`
	Phase      string              `json:"phase"`
	Components map[string]bool     `json:"components"`
	SessionID  string              `json:"session_id"`
	Iterations int                 `json:"iterations"`
	Session    orchestrator.Status `json:"session"`
	State      stateSnapshot       `json:"state"`
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Phase         string `json:"phase"`
	RouterReady   bool   `json:"router_ready"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", fmt.Sprintf("%s, %s", http.MethodGet, http.MethodHead))
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    ServiceName,
		"version": ServiceVersion,
		"endpoints": []string{
			"/process - Main processing endpoint",
			"/status - Get system status",
			"/reset - Reset system state",
			"/health - Health check",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", fmt.Sprintf("%s, %s", http.MethodGet, http.MethodHead))
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	s.mu.RLock()
	ready := s.routerReady
	s.mu.RUnlock()
	resp := healthResponse{
		Status:        string(s.Status()),
		Version:       ServiceVersion,
		Phase:         ServicePhase,
		RouterReady:   ready,
		UptimeSeconds: s.uptimeSeconds(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req processRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "input is required"})
		return
	}
	sess, err := s.session(req.SessionID)
	if err != nil {
		s.logger.Printf("api: session error: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "session unavailable"})
		return
	}

	// A pending A/B answer is applied before the new input is processed.
	if req.UserResponse != "" && len(req.Context) > 0 {
		var question orchestrator.Question
		if err := json.Unmarshal(req.Context, &question); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid context"})
			return
		}
		applied := sess.Pipeline.RespondAB(&question, req.UserResponse)
		s.logger.Printf("api: session %s A/B response: %s", sess.ID, applied.Action)
	}

	result, err := sess.Pipeline.Process(r.Context(), sess.State, req.Input)
	if err != nil {
		s.logger.Printf("api: processing error: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "processing failed"})
		return
	}
	writeJSON(w, http.StatusOK, s.buildProcessResponse(sess, result))
}

func (s *Server) buildProcessResponse(sess *Session, result orchestrator.ProcessResult) processResponse {
	resp := processResponse{
		SessionID:            sess.ID,
		Confidence:           result.AggregatedConfidence,
		UseCaseProbabilities: result.UseCaseProbabilities,
	}
	switch {
	case result.NeedsDisambiguation && len(result.Conflicts) > 0:
		resp.Status = "conflict_detected"
		resp.Conflicts = explanations(result.Conflicts)
		resp.Question = result.Question
		resp.Message = "Conflict detected - resolution required"
	case result.NeedsDisambiguation:
		resp.Status = "needs_clarification"
		resp.Question = result.Question
		resp.Message = "Please answer the question to proceed"
	case result.AutoResolve:
		resp.Status = "auto_resolved"
		resp.Resolution = result.SuggestedResolution
		snap := snapshotState(sess)
		resp.State = &snap
		resp.Message = "Conflict automatically resolved based on confidence"
	default:
		resp.Status = "success"
		snap := snapshotState(sess)
		resp.State = &snap
		resp.Message = "Requirements processed successfully"
	}
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", fmt.Sprintf("%s, %s", http.MethodGet, http.MethodHead))
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if s.sessions == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "not_initialized"})
		return
	}
	sess, err := s.session(r.URL.Query().Get("session_id"))
	if err != nil {
		s.logger.Printf("api: session error: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "session unavailable"})
		return
	}
	resp := statusResponse{
		Status: "initialized",
		Phase:  ServicePhase,
		Components: map[string]bool{
			"bayesian_network":      true,
			"confidence_aggregator": true,
			"dependency_graph":      true,
		},
		SessionID:  sess.ID,
		Iterations: sess.State.IterationCount,
		Session:    sess.Pipeline.Status(),
		State:      snapshotState(sess),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req struct {
		SessionID string `json:"session_id"`
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
			return
		}
	}
	if s.sessions == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "not_initialized"})
		return
	}
	if err := s.sessions.Reset(req.SessionID); err != nil {
		s.logger.Printf("api: reset error: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "reset failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset_complete"})
}

// readBody drains the request body under the configured size limit,
// answering the client on failure. The second return is false once a
// response has been written.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Body == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty body"})
		return nil, false
	}
	reader := http.MaxBytesReader(w, r.Body, s.settings.MaxBodyBytes)
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload exceeds limit"})
			return nil, false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unable to read body"})
		return nil, false
	}
	return body, true
}

func (s *Server) session(id string) (*Session, error) {
	if s.sessions == nil {
		return nil, fmt.Errorf("api: session registry is not initialized")
	}
	return s.sessions.Get(id)
}

func snapshotState(sess *Session) stateSnapshot {
	snap := sess.Ledger.GetSnapshot()
	ids := make([]string, 0, len(snap.Constraints))
	for id := range snap.Constraints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return stateSnapshot{
		Constraints: ids,
		UseCases:    snap.UseCases,
		Resolutions: len(snap.Resolutions),
		Version:     snap.Version,
	}
}

func explanations(conflicts []constraint.ConflictPath) []string {
	out := make([]string, 0, len(conflicts))
	for _, conflict := range conflicts {
		out = append(out, conflict.Explanation)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
