package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Requirement categories used across elicitation, completeness, and
// validation. CategoryOther catches questions outside the fixed paths
// and is not part of the elicitation order.
const (
	CategoryIO            = "I/O"
	CategoryEnvironment   = "Environment"
	CategoryCommunication = "Communication"
	CategoryPower         = "Power"
	CategoryOther         = "Other"
)

// Categories lists the requirement categories in elicitation order.
func Categories() []string {
	return []string{CategoryIO, CategoryEnvironment, CategoryCommunication, CategoryPower}
}

// Requirement is a single elicited question/answer pair.
type Requirement struct {
	Category  string    `json:"category"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Timestamp time.Time `json:"timestamp"`
}

// Answered reports whether the requirement has a non-empty answer.
func (r Requirement) Answered() bool {
	return strings.TrimSpace(r.Answer) != ""
}

// Message is one conversation exchange.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Decision records an agent choice kept inline with the session for quick
// inspection. The full audit trail lives in the decision log.
type Decision struct {
	Agent     string    `json:"agent"`
	Decision  string    `json:"decision"`
	Reasoning []string  `json:"reasoning,omitempty"`
	Iteration int       `json:"iteration"`
	Timestamp time.Time `json:"timestamp"`
}

// ValidationRecord is one validation outcome appended to the session.
type ValidationRecord struct {
	Type   string         `json:"type"`
	Result map[string]any `json:"result"`
}

// State is the flat session snapshot shared by every agent.
type State struct {
	SessionID         string             `json:"session_id"`
	Messages          []Message          `json:"messages"`
	Requirements      []Requirement      `json:"requirements"`
	CompletenessScore float64            `json:"completeness_score"`
	ValidationResults []ValidationRecord `json:"validation_results,omitempty"`
	CurrentAgent      string             `json:"current_agent"`
	IterationCount    int                `json:"iteration_count"`
	DecisionLog       []Decision         `json:"decision_log,omitempty"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// NewState initializes an empty session.
func NewState(sessionID string) *State {
	return &State{
		SessionID:    sessionID,
		Messages:     []Message{},
		Requirements: []Requirement{},
		CurrentAgent: "orchestrator",
	}
}

// AddRequirement appends a categorized question/answer pair.
func (s *State) AddRequirement(category, question, answer string) {
	s.Requirements = append(s.Requirements, Requirement{
		Category:  category,
		Question:  question,
		Answer:    answer,
		Timestamp: time.Now().UTC(),
	})
}

// AddMessage appends a conversation entry.
func (s *State) AddMessage(role, content string) {
	s.Messages = append(s.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
}

// LastUserMessage returns the content of the most recent user message,
// or an empty string when the user has not spoken yet.
func (s *State) LastUserMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == "user" {
			return s.Messages[i].Content
		}
	}
	return ""
}

// AddDecision appends an inline decision record tagged with the current
// iteration.
func (s *State) AddDecision(agent, decision string, reasoning []string) {
	s.DecisionLog = append(s.DecisionLog, Decision{
		Agent:     agent,
		Decision:  decision,
		Reasoning: reasoning,
		Iteration: s.IterationCount,
		Timestamp: time.Now().UTC(),
	})
}

// AddValidationResult appends a validation outcome.
func (s *State) AddValidationResult(recordType string, result map[string]any) {
	s.ValidationResults = append(s.ValidationResults, ValidationRecord{
		Type:   recordType,
		Result: result,
	})
}

// CategoriesCovered returns the unique categories that have at least one
// answered requirement, in elicitation order.
func (s *State) CategoriesCovered() []string {
	answered := map[string]bool{}
	for _, req := range s.Requirements {
		if req.Answered() {
			answered[req.Category] = true
		}
	}
	var covered []string
	for _, category := range Categories() {
		if answered[category] {
			covered = append(covered, category)
		}
	}
	return covered
}

// AnsweredCount returns how many requirements carry answers.
func (s *State) AnsweredCount() int {
	count := 0
	for _, req := range s.Requirements {
		if req.Answered() {
			count++
		}
	}
	return count
}

// Clone returns a deep copy. Agents operate on clones so a failed run never
// corrupts the shared session.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Messages = append([]Message{}, s.Messages...)
	clone.Requirements = append([]Requirement{}, s.Requirements...)
	if s.ValidationResults != nil {
		clone.ValidationResults = make([]ValidationRecord, len(s.ValidationResults))
		for i, record := range s.ValidationResults {
			copied := ValidationRecord{Type: record.Type}
			if record.Result != nil {
				copied.Result = make(map[string]any, len(record.Result))
				for key, value := range record.Result {
					copied.Result[key] = value
				}
			}
			clone.ValidationResults[i] = copied
		}
	}
	clone.DecisionLog = make([]Decision, len(s.DecisionLog))
	for i, decision := range s.DecisionLog {
		copied := decision
		copied.Reasoning = append([]string{}, decision.Reasoning...)
		clone.DecisionLog[i] = copied
	}
	return &clone
}

// MarshalJSONIndent renders the state the way the session store persists it.
func (s *State) MarshalJSONIndent() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("session: encode state %s: %w", s.SessionID, err)
	}
	return append(data, '\n'), nil
}

// ParseState decodes a persisted session snapshot.
func ParseState(data []byte) (*State, error) {
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("session: decode state: %w", err)
	}
	if strings.TrimSpace(state.SessionID) == "" {
		return nil, fmt.Errorf("session: decoded state has no session_id")
	}
	if state.Messages == nil {
		state.Messages = []Message{}
	}
	if state.Requirements == nil {
		state.Requirements = []Requirement{}
	}
	if state.CurrentAgent == "" {
		state.CurrentAgent = "orchestrator"
	}
	return &state, nil
}
