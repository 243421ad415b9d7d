// Package completeness scores how much of the required requirement
// surface a session has covered and points at the gaps.
package completeness

import (
	"fmt"
	"strings"

	"github.com/gazar78gazar/reqMas-MVP/internal/agent"
	"github.com/gazar78gazar/reqMas-MVP/internal/session"
)

const (
	agentID      = "completeness"
	agentVersion = "1.0.0"
)

// CompleteThreshold is the score at which requirements are ready for
// validation; PartialThreshold splits the advice below it.
const (
	CompleteThreshold = 0.85
	PartialThreshold  = 0.6
)

// requiredFields lists the fields a complete session must answer, in
// category order.
var requiredFields = []struct {
	category string
	fields   []string
}{
	{session.CategoryIO, []string{"digital_inputs", "digital_outputs", "analog_inputs", "analog_outputs"}},
	{session.CategoryEnvironment, []string{"temperature_range", "installation_type", "humidity"}},
	{session.CategoryCommunication, []string{"protocol", "network_type"}},
	{session.CategoryPower, []string{"voltage", "power_consumption"}},
}

// fieldToQuestion binds each required field to the question that fills
// it.
var fieldToQuestion = map[string]string{
	"digital_inputs":    "How many digital inputs do you need?",
	"digital_outputs":   "How many digital outputs do you need?",
	"analog_inputs":     "Do you need analog inputs? If yes, how many and what type (0-10V, 4-20mA)?",
	"analog_outputs":    "Do you need analog outputs? If yes, how many and what type?",
	"temperature_range": "What is the operating temperature range?",
	"installation_type": "Is this an indoor or outdoor installation?",
	"humidity":          "What is the humidity level (normal, high, condensing)?",
	"protocol":          "What communication protocols do you need (Ethernet, Modbus, Profibus, etc.)?",
	"network_type":      "Do you need remote access capability?",
	"voltage":           "What is your available power supply voltage (24VDC, 120VAC, 240VAC)?",
	"power_consumption": "What is your maximum power budget in watts?",
}

// phraseToField matches question text to fields by phrase so reworded
// questions still count toward the score. First match wins.
var phraseToField = []struct {
	phrase string
	field  string
}{
	{"digital inputs", "digital_inputs"},
	{"digital outputs", "digital_outputs"},
	{"analog inputs", "analog_inputs"},
	{"analog outputs", "analog_outputs"},
	{"temperature", "temperature_range"},
	{"indoor or outdoor", "installation_type"},
	{"humidity", "humidity"},
	{"communication protocol", "protocol"},
	{"remote access", "network_type"},
	{"power supply voltage", "voltage"},
	{"power budget", "power_consumption"},
}

// criticalFields gate the mid-range recommendation.
var criticalFields = map[string]struct{}{
	"digital_inputs":    {},
	"digital_outputs":   {},
	"voltage":           {},
	"temperature_range": {},
}

// Agent scores requirement coverage.
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

// New constructs the completeness checker.
func New() *Agent {
	info := agent.Info{
		ID:          agentID,
		Name:        "Completeness Checker",
		Description: "Scores requirement coverage against the required fields and surfaces gaps.",
		Version:     agentVersion,
	}
	base := agent.NewBase(info)
	return &Agent{Base: &base}
}

// TotalRequiredFields counts the fields a complete session answers.
func TotalRequiredFields() int {
	total := 0
	for _, group := range requiredFields {
		total += len(group.fields)
	}
	return total
}

// Process scores the session, records the check in the state's
// validation results, and reports gaps plus follow-up questions.
func (a *Agent) Process(ctx *agent.Context, st *session.State, in agent.Input) (agent.Result, error) {
	if ctx == nil {
		return agent.Result{Status: agent.StatusFailed}, fmt.Errorf("completeness: context is nil")
	}
	if st == nil {
		return agent.Result{Status: agent.StatusFailed}, fmt.Errorf("completeness: state is required")
	}

	score := a.CheckCompleteness(ctx, st)
	gaps := a.IdentifyGaps(ctx, st)
	questions := a.GenerateGapQuestions(ctx, gaps)

	result := map[string]any{
		"complete":       score >= CompleteThreshold,
		"score":          score,
		"gaps":           gaps,
		"gap_questions":  questions,
		"missing_count":  len(gaps),
		"recommendation": recommendation(score, gaps),
	}
	st.AddValidationResult("completeness_check", result)

	status := agent.StatusCompleted
	message := fmt.Sprintf("completeness %.0f%%", score*100)
	if score < CompleteThreshold {
		status = agent.StatusNeedsInput
		message = fmt.Sprintf("completeness %.0f%%, %d fields missing", score*100, len(gaps))
	}
	return agent.Result{Status: status, Message: message, Details: result}, nil
}

// CheckCompleteness computes the share of required fields answered and
// stores it on the state. Phrase matching tolerates reworded questions.
func (a *Agent) CheckCompleteness(ctx *agent.Context, st *session.State) float64 {
	answered := map[string]struct{}{}
	for _, req := range st.Requirements {
		if !req.Answered() {
			continue
		}
		lower := strings.ToLower(req.Question)
		for _, entry := range phraseToField {
			if strings.Contains(lower, entry.phrase) {
				answered[entry.field] = struct{}{}
				break
			}
		}
	}

	total := TotalRequiredFields()
	score := 0.0
	if total > 0 {
		score = float64(len(answered)) / float64(total)
	}
	st.CompletenessScore = score

	reasoning := []string{
		fmt.Sprintf("Total required fields: %d", total),
		fmt.Sprintf("Answered fields: %d", len(answered)),
		fmt.Sprintf("Completeness score: %.2f%%", score*100),
	}

	if ctx != nil && ctx.Decisions != nil {
		ctx.Decisions.Log(agentID,
			fmt.Sprintf("State with %d requirements", len(st.Requirements)),
			reasoning,
			fmt.Sprintf("score_%.2f", score),
			fmt.Sprintf("Completeness: %.2f%%", score*100))
	}
	st.AddDecision(agentID, "completeness_check", reasoning)

	return score
}

// IdentifyGaps lists required fields whose exact question has no
// answer, in category order.
func (a *Agent) IdentifyGaps(ctx *agent.Context, st *session.State) []string {
	gaps := []string{}
	for _, group := range requiredFields {
		for _, field := range group.fields {
			if !fieldAnswered(field, st) {
				gaps = append(gaps, field)
			}
		}
	}

	if ctx != nil && ctx.Decisions != nil {
		ctx.Decisions.Log(agentID,
			"State analysis",
			[]string{"Checking all required fields", fmt.Sprintf("Found %d gaps", len(gaps))},
			"identify_gaps",
			fmt.Sprintf("Missing fields: %s", strings.Join(gaps, ", ")))
	}
	return gaps
}

// GenerateGapQuestions maps gaps back to askable questions.
func (a *Agent) GenerateGapQuestions(ctx *agent.Context, gaps []string) []string {
	questions := make([]string, 0, len(gaps))
	for _, gap := range gaps {
		if question, ok := fieldToQuestion[gap]; ok {
			questions = append(questions, question)
		} else {
			questions = append(questions, fmt.Sprintf("Please provide information about: %s", strings.ReplaceAll(gap, "_", " ")))
		}
	}

	if ctx != nil && ctx.Decisions != nil {
		ctx.Decisions.Log(agentID,
			fmt.Sprintf("%d gaps", len(gaps)),
			[]string{fmt.Sprintf("Mapping %d fields to questions", len(gaps))},
			"generate_questions",
			fmt.Sprintf("Generated %d questions", len(questions)))
	}
	return questions
}

func recommendation(score float64, gaps []string) string {
	switch {
	case score >= CompleteThreshold:
		return "Requirements are sufficiently complete for validation"
	case score >= PartialThreshold:
		if len(gaps) > 0 {
			var critical []string
			for _, gap := range gaps {
				if _, ok := criticalFields[gap]; ok {
					critical = append(critical, gap)
				}
			}
			if len(critical) > 0 {
				return fmt.Sprintf("Please provide critical information: %s", strings.Join(critical, ", "))
			}
			return "Consider providing more details for better system recommendations"
		}
		return "Requirements are partially complete, continue gathering information"
	default:
		return "Requirements need more information. Please answer the questions provided"
	}
}

func fieldAnswered(field string, st *session.State) bool {
	question, ok := fieldToQuestion[field]
	if !ok {
		return false
	}
	for _, req := range st.Requirements {
		if req.Question == question && req.Answered() {
			return true
		}
	}
	return false
}

// FieldStatus reports one field's coverage.
type FieldStatus struct {
	Answered bool   `json:"answered"`
	Question string `json:"question"`
}

// CategorySummary reports one category's coverage.
type CategorySummary struct {
	RequiredFields []string               `json:"required_fields"`
	FieldStatus    map[string]FieldStatus `json:"field_status"`
	AnsweredCount  int                    `json:"answered_count"`
	TotalFields    int                    `json:"total_fields"`
}

// FieldSummary reports coverage for every category.
func (a *Agent) FieldSummary(st *session.State) map[string]CategorySummary {
	summary := make(map[string]CategorySummary, len(requiredFields))
	for _, group := range requiredFields {
		statuses := make(map[string]FieldStatus, len(group.fields))
		answeredCount := 0
		for _, field := range group.fields {
			answered := fieldAnswered(field, st)
			if answered {
				answeredCount++
			}
			question, ok := fieldToQuestion[field]
			if !ok {
				question = "N/A"
			}
			statuses[field] = FieldStatus{Answered: answered, Question: question}
		}
		summary[group.category] = CategorySummary{
			RequiredFields: group.fields,
			FieldStatus:    statuses,
			AnsweredCount:  answeredCount,
			TotalFields:    len(group.fields),
		}
	}
	return summary
}

// QuestionForField exposes the field-to-question mapping so other
// components can prompt for a specific field.
func QuestionForField(field string) (string, bool) {
	question, ok := fieldToQuestion[field]
	return question, ok
}
