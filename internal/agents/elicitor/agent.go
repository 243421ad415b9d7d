// Package elicitor asks the fixed question paths that gather PLC
// requirements and folds user answers back into session state.
package elicitor

import (
	"context"
	"fmt"
	"strings"

	"github.com/gazar78gazar/reqMas-MVP/internal/agent"
	"github.com/gazar78gazar/reqMas-MVP/internal/llm"
	"github.com/gazar78gazar/reqMas-MVP/internal/session"
)

const (
	agentID      = "elicitor"
	agentVersion = "1.0.0"
)

// batchPerCategory caps how many unasked questions one round pulls from
// each category; maxBatch caps the round overall.
const (
	batchPerCategory = 2
	maxBatch         = 8
)

// Fixed question paths per category. Order fixes the asking sequence.
var (
	IOQuestions = []string{
		"How many digital inputs do you need?",
		"How many digital outputs do you need?",
		"Do you need analog inputs? If yes, how many and what type (0-10V, 4-20mA)?",
		"Do you need analog outputs? If yes, how many and what type?",
		"What is the maximum distance between I/O points and the controller?",
		"Do you need any special I/O like RTD, thermocouple, or high-speed counters?",
		"What response time do you need for I/O updates (milliseconds)?",
	}

	EnvironmentQuestions = []string{
		"What is the operating temperature range?",
		"Is this an indoor or outdoor installation?",
		"What is the humidity level (normal, high, condensing)?",
		"Are there any vibration or shock requirements?",
		"Is there exposure to dust, chemicals, or corrosive materials?",
	}

	CommunicationQuestions = []string{
		"What communication protocols do you need (Ethernet, Modbus, Profibus, etc.)?",
		"Do you need remote access capability?",
		"How many devices will communicate with the PLC?",
		"What is the required data update rate for communications?",
		"Do you need redundant communication paths?",
	}

	PowerQuestions = []string{
		"What is your available power supply voltage (24VDC, 120VAC, 240VAC)?",
		"What is your maximum power budget in watts?",
		"Do you need battery backup or UPS support?",
		"Do you need redundant power supplies?",
	}
)

// categoryKeywords backs category detection for questions outside the
// fixed paths, such as ones generated by the language model.
var categoryKeywords = []struct {
	category string
	words    []string
}{
	{session.CategoryIO, []string{"input", "output", "i/o", "analog", "digital", "distance", "rtd", "thermocouple", "counter"}},
	{session.CategoryEnvironment, []string{"temperature", "humidity", "indoor", "outdoor", "environment", "vibration", "shock", "dust", "chemical"}},
	{session.CategoryCommunication, []string{"protocol", "network", "communication", "ethernet", "modbus", "remote", "device", "data rate"}},
	{session.CategoryPower, []string{"voltage", "power", "consumption", "supply", "battery", "ups", "redundant", "vdc", "vac", "watts"}},
}

// CategoryQuestions returns the fixed question path for a category, nil
// for unknown categories.
func CategoryQuestions(category string) []string {
	switch category {
	case session.CategoryIO:
		return IOQuestions
	case session.CategoryEnvironment:
		return EnvironmentQuestions
	case session.CategoryCommunication:
		return CommunicationQuestions
	case session.CategoryPower:
		return PowerQuestions
	default:
		return nil
	}
}

// TotalQuestions counts every question across the fixed paths.
func TotalQuestions() int {
	total := 0
	for _, category := range session.Categories() {
		total += len(CategoryQuestions(category))
	}
	return total
}

// Answer pairs one question with the user's reply.
type Answer struct {
	Question string
	Answer   string
}

// Agent walks users through the question paths.
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

// New constructs the elicitor.
func New() *Agent {
	info := agent.Info{
		ID:          agentID,
		Name:        "Requirements Elicitor",
		Description: "Asks category question paths and records user answers as requirements.",
		Version:     agentVersion,
	}
	base := agent.NewBase(info)
	return &Agent{Base: &base}
}

// Process produces the next batch of questions for the session. The
// language model supplies the batch when available; otherwise the fixed
// paths do. An exhausted question list yields a no-op.
func (a *Agent) Process(ctx *agent.Context, st *session.State, in agent.Input) (agent.Result, error) {
	if err := validateProcess(ctx, st); err != nil {
		return agent.Result{Status: agent.StatusFailed}, err
	}

	questions := a.NextQuestions(ctx, st)
	if len(questions) == 0 {
		return agent.Result{
			Status:  agent.StatusNoOp,
			Message: "all questions asked",
		}, nil
	}
	return agent.Result{
		Status:  agent.StatusNeedsInput,
		Message: fmt.Sprintf("%d questions pending", len(questions)),
		Details: map[string]any{"questions": questions},
	}, nil
}

// NextQuestions returns up to eight unasked questions, at most two per
// category so every category keeps advancing.
func (a *Agent) NextQuestions(ctx *agent.Context, st *session.State) []string {
	if generated := a.assistQuestions(ctx, st); len(generated) > 0 {
		return generated
	}

	asked := askedSet(st)
	reasoning := []string{fmt.Sprintf("Already asked %d questions", len(asked))}

	var next []string
	for _, category := range session.Categories() {
		var fromCategory []string
		for _, question := range CategoryQuestions(category) {
			if _, ok := asked[question]; ok {
				continue
			}
			fromCategory = append(fromCategory, question)
			if len(fromCategory) >= batchPerCategory {
				break
			}
		}
		next = append(next, fromCategory...)
		if len(fromCategory) > 0 {
			reasoning = append(reasoning, fmt.Sprintf("Added %d questions from %s", len(fromCategory), category))
		}
	}

	if len(next) > maxBatch {
		next = next[:maxBatch]
	}
	reasoning = append(reasoning, fmt.Sprintf("Returning %d questions across categories", len(next)))

	if ctx.Decisions != nil {
		ctx.Decisions.Log(agentID,
			fmt.Sprintf("State with %d requirements", len(st.Requirements)),
			reasoning,
			fmt.Sprintf("return_%d_questions", len(next)),
			fmt.Sprintf("Returning %d questions", len(next)))
	}
	return next
}

// assistQuestions asks the language model for a tailored batch. A nil
// return falls back to the fixed paths.
func (a *Agent) assistQuestions(ctx *agent.Context, st *session.State) []string {
	if !ctx.Assist.Enabled() {
		return nil
	}
	var answered []llm.AnsweredRequirement
	for _, req := range st.Requirements {
		if req.Answered() {
			answered = append(answered, llm.AnsweredRequirement{Question: req.Question, Answer: req.Answer})
		}
	}
	return ctx.Assist.GenerateQuestions(context.Background(), answered, st.CompletenessScore, focusCategory(st))
}

// focusCategory names the category the next batch should target: the
// single category still missing fixed questions, or Mixed when several
// are open.
func focusCategory(st *session.State) string {
	asked := askedSet(st)
	var open []string
	for _, category := range session.Categories() {
		for _, question := range CategoryQuestions(category) {
			if _, ok := asked[question]; !ok {
				open = append(open, category)
				break
			}
		}
	}
	switch len(open) {
	case 0:
		return ""
	case 1:
		return open[0]
	default:
		return "Mixed"
	}
}

// ProcessAnswers folds answers into the state. Answers to questions
// never asked are accepted too; their category comes from the question
// text. Already answered questions are left alone.
func (a *Agent) ProcessAnswers(ctx *agent.Context, st *session.State, answers []Answer) agent.Result {
	reasoning := []string{fmt.Sprintf("Processing %d answers", len(answers))}
	processed := 0

	for _, pair := range answers {
		if pair.Answer == "" {
			continue
		}

		existing := findRequirement(st, pair.Question)
		switch {
		case existing != nil && existing.Answer == "":
			existing.Answer = pair.Answer
			reasoning = append(reasoning, fmt.Sprintf("Updated answer for: %s...", clip(pair.Question, 50)))
			processed++
		case existing != nil:
			reasoning = append(reasoning, fmt.Sprintf("Skipping already answered: %s...", clip(pair.Question, 50)))
		default:
			category := DetermineCategory(pair.Question)
			st.AddRequirement(category, pair.Question, pair.Answer)
			st.AddMessage("assistant", pair.Question)
			st.AddMessage("user", pair.Answer)
			reasoning = append(reasoning, fmt.Sprintf("Added %s requirement: %s...", category, clip(pair.Question, 50)))
			processed++
		}
	}

	reasoning = append(reasoning, fmt.Sprintf("Processed %d new/updated answers", processed))

	if ctx != nil && ctx.Decisions != nil {
		ctx.Decisions.Log(agentID,
			fmt.Sprintf("Processing %d Q&A pairs", len(answers)),
			reasoning,
			"process_answers",
			fmt.Sprintf("Processed %d requirements", processed))
	}
	st.AddDecision(agentID, "process_answers", reasoning)

	return agent.Result{
		Status:  agent.StatusCompleted,
		Message: fmt.Sprintf("processed %d answers", processed),
		Details: map[string]any{"processed": processed},
	}
}

// DetermineCategory resolves the category for a question, preferring
// exact matches against the fixed paths over keyword detection.
func DetermineCategory(question string) string {
	for _, category := range session.Categories() {
		for _, known := range CategoryQuestions(category) {
			if question == known {
				return category
			}
		}
	}

	lower := strings.ToLower(question)
	for _, entry := range categoryKeywords {
		for _, word := range entry.words {
			if strings.Contains(lower, word) {
				return entry.category
			}
		}
	}
	return session.CategoryOther
}

// CategoryProgress tracks one category's asked and answered counts.
type CategoryProgress struct {
	Total    int `json:"total"`
	Asked    int `json:"asked"`
	Answered int `json:"answered"`
}

// Progress summarizes elicitation coverage for the session.
type Progress struct {
	TotalQuestions     int                         `json:"total_questions"`
	Asked              int                         `json:"asked"`
	Answered           int                         `json:"answered"`
	PercentageAsked    float64                     `json:"percentage_asked"`
	PercentageAnswered float64                     `json:"percentage_answered"`
	ByCategory         map[string]CategoryProgress `json:"by_category"`
}

// GetProgress reports how far elicitation has come.
func (a *Agent) GetProgress(st *session.State) Progress {
	asked := askedSet(st)
	total := TotalQuestions()

	answered := 0
	for _, req := range st.Requirements {
		if req.Answered() {
			answered++
		}
	}

	byCategory := make(map[string]CategoryProgress, len(session.Categories()))
	for _, category := range session.Categories() {
		questions := CategoryQuestions(category)
		progress := CategoryProgress{Total: len(questions)}
		for _, question := range questions {
			if _, ok := asked[question]; ok {
				progress.Asked++
			}
		}
		for _, req := range st.Requirements {
			if req.Category == category && req.Answered() {
				progress.Answered++
			}
		}
		byCategory[category] = progress
	}

	report := Progress{
		TotalQuestions: total,
		Asked:          len(st.Requirements),
		Answered:       answered,
		ByCategory:     byCategory,
	}
	if total > 0 {
		report.PercentageAsked = float64(len(st.Requirements)) / float64(total) * 100
		report.PercentageAnswered = float64(answered) / float64(total) * 100
	}
	return report
}

// IsComplete reports whether every fixed question has been asked.
func (a *Agent) IsComplete(st *session.State) bool {
	asked := askedSet(st)
	for _, category := range session.Categories() {
		for _, question := range CategoryQuestions(category) {
			if _, ok := asked[question]; !ok {
				return false
			}
		}
	}
	return true
}

func askedSet(st *session.State) map[string]struct{} {
	asked := make(map[string]struct{}, len(st.Requirements))
	for _, req := range st.Requirements {
		asked[req.Question] = struct{}{}
	}
	return asked
}

func findRequirement(st *session.State, question string) *session.Requirement {
	for i := range st.Requirements {
		if st.Requirements[i].Question == question {
			return &st.Requirements[i]
		}
	}
	return nil
}

func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func validateProcess(ctx *agent.Context, st *session.State) error {
	if ctx == nil {
		return fmt.Errorf("elicitor: context is nil")
	}
	if st == nil {
		return fmt.Errorf("elicitor: state is required")
	}
	return nil
}
