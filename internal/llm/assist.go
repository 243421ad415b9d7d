package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gazar78gazar/reqMas-MVP/internal/decisionlog"
)

// AnsweredRequirement is the question/answer view the prompts need.
type AnsweredRequirement struct {
	Question string
	Answer   string
}

// ParsedAnswer is the structured reading of a free-form answer.
type ParsedAnswer struct {
	ParsedValue        string  `json:"parsed_value"`
	Confidence         float64 `json:"confidence"`
	Category           string  `json:"category"`
	NeedsClarification bool    `json:"needs_clarification"`
}

// ValidationReview is the model's feasibility assessment of a
// requirement set.
type ValidationReview struct {
	IsValid     bool     `json:"is_valid"`
	Violations  []string `json:"violations"`
	Warnings    []string `json:"warnings"`
	Suggestions []string `json:"suggestions"`
	Confidence  float64  `json:"confidence"`
}

// Assist layers the structured agent calls over a chat client. A nil
// client is valid; every method then takes its deterministic fallback.
type Assist struct {
	client Client
	model  string
	log    *decisionlog.Logger
}

// NewAssist wires the helpers. logger may be nil.
func NewAssist(client Client, model string, logger *decisionlog.Logger) *Assist {
	if model == "" {
		model = DefaultModel
	}
	return &Assist{client: client, model: model, log: logger}
}

// Enabled reports whether a live model is available.
func (a *Assist) Enabled() bool {
	return a != nil && a.client != nil
}

func (a *Assist) logDecision(agent, input string, reasoning []string, decision, output string) {
	if a.log == nil {
		return
	}
	_ = a.log.Log(agent, input, reasoning, decision, output)
}

// GenerateQuestions asks the model for the next elicitation questions.
// It returns nil when the model is unavailable or fails, which tells the
// elicitor to use its fixed catalog.
func (a *Assist) GenerateQuestions(ctx context.Context, answered []AnsweredRequirement, completeness float64, category string) []string {
	if !a.Enabled() {
		return nil
	}

	lines := make([]string, 0, len(answered))
	for _, req := range answered {
		lines = append(lines, fmt.Sprintf("- %s: %s", req.Question, req.Answer))
	}
	collected := "No requirements collected yet"
	if len(lines) > 0 {
		collected = strings.Join(lines, "\n")
	}
	focus := category
	if focus == "" {
		focus = "identifying critical gaps"
	}

	prompt := fmt.Sprintf(`You are a technical requirements expert for industrial IoT systems.

Current requirements collected:
%s

Completeness: %.1f%%

Generate the next set of questions to gather missing technical requirements.
Focus on: %s.

Requirements categories: I/O (inputs/outputs), Environment (temperature/conditions),
Communication (protocols/networks), Power (voltage/consumption).

Generate questions that:
1. Fill gaps in current requirements
2. Are specific and technical
3. Can be answered concisely
4. Cover different categories if early in process`, collected, completeness*100, focus)

	var result struct {
		Questions     []string `json:"questions"`
		Reasoning     string   `json:"reasoning"`
		CategoryFocus string   `json:"category_focus"`
	}
	err := a.structured(ctx, "question_generation", questionSchema(),
		"You are a technical requirements elicitation expert.", prompt, &result)
	if err != nil || len(result.Questions) == 0 {
		a.logDecision("openai_elicitor", "Question generation",
			[]string{fmt.Sprintf("Error: %v", err)},
			"fallback_to_fixed", "Using fixed questions due to error")
		return nil
	}

	a.logDecision("openai_elicitor",
		fmt.Sprintf("State with %d requirements", len(answered)),
		[]string{result.Reasoning},
		fmt.Sprintf("generate_%d_questions", len(result.Questions)),
		fmt.Sprintf("Generated %d questions in %s", len(result.Questions), result.CategoryFocus))
	return result.Questions
}

// ParseAnswer extracts the technical value from a free-form answer. On
// any failure the raw answer passes through unchanged.
func (a *Assist) ParseAnswer(ctx context.Context, question, answer string) ParsedAnswer {
	fallback := ParsedAnswer{
		ParsedValue:        answer,
		Confidence:         1.0,
		Category:           "Other",
		NeedsClarification: false,
	}
	if !a.Enabled() {
		return fallback
	}

	prompt := fmt.Sprintf(`Parse this technical requirement answer.

Question: %s
User Answer: %s

Extract the technical value, categorize it, and assess if clarification is needed.
Examples:
- "I think about 8 or 10" -> parsed_value: "8-10", needs_clarification: true
- "24VDC" -> parsed_value: "24VDC", needs_clarification: false
- "outdoor but covered" -> parsed_value: "outdoor with cover", needs_clarification: true`, question, answer)

	var parsed ParsedAnswer
	err := a.structured(ctx, "answer_parsing", answerSchema(),
		"You are a technical requirements parser.", prompt, &parsed)
	if err != nil {
		return fallback
	}
	return parsed
}

// ValidateRequirements has the model sanity-check the collected set. On
// failure it returns a permissive review carrying the error as a warning.
func (a *Assist) ValidateRequirements(ctx context.Context, answered []AnsweredRequirement) ValidationReview {
	if !a.Enabled() {
		return ValidationReview{IsValid: true, Violations: []string{}, Warnings: []string{}, Suggestions: []string{}, Confidence: 0.5}
	}

	lines := make([]string, 0, len(answered))
	for _, req := range answered {
		lines = append(lines, fmt.Sprintf("- %s: %s", req.Question, req.Answer))
	}

	prompt := fmt.Sprintf(`Validate these technical requirements for an industrial IoT system:

%s

Check for:
1. Technical incompatibilities (e.g., voltage mismatches)
2. Unrealistic combinations (e.g., -40C with standard components)
3. Missing critical requirements
4. Potential issues or warnings

Provide specific, actionable feedback.`, strings.Join(lines, "\n"))

	var review ValidationReview
	err := a.structured(ctx, "validation", validationSchema(),
		"You are a technical validation expert for industrial systems.", prompt, &review)
	if err != nil {
		return ValidationReview{
			IsValid:     true,
			Violations:  []string{},
			Warnings:    []string{fmt.Sprintf("Validation error: %v", err)},
			Suggestions: []string{},
			Confidence:  0.5,
		}
	}
	return review
}

// structured performs one strict JSON-schema chat call and decodes the
// content into out.
func (a *Assist) structured(ctx context.Context, name string, schema map[string]any, system, prompt string, out any) error {
	resp, err := a.client.Chat(ctx, ChatRequest{
		Model: a.model,
		Messages: []Message{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   name,
				"strict": true,
				"schema": schema,
			},
		},
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(resp.Content), out); err != nil {
		return fmt.Errorf("decode %s response: %w", name, err)
	}
	return nil
}

func questionSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"questions": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"minItems":    1,
				"maxItems":    8,
				"description": "List of technical questions to ask",
			},
			"reasoning": map[string]any{
				"type":        "string",
				"description": "Why these questions were chosen",
			},
			"category_focus": map[string]any{
				"type":        "string",
				"enum":        []string{"I/O", "Environment", "Communication", "Power", "Mixed"},
				"description": "Primary category of questions",
			},
		},
		"required":             []string{"questions", "reasoning", "category_focus"},
		"additionalProperties": false,
	}
}

func answerSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"parsed_value": map[string]any{
				"type":        "string",
				"description": "The extracted technical value",
			},
			"confidence": map[string]any{
				"type":        "number",
				"minimum":     0,
				"maximum":     1,
				"description": "Confidence in parsing (0-1)",
			},
			"category": map[string]any{
				"type":        "string",
				"enum":        []string{"I/O", "Environment", "Communication", "Power", "Other"},
				"description": "Category of the requirement",
			},
			"needs_clarification": map[string]any{
				"type":        "boolean",
				"description": "Whether answer needs clarification",
			},
		},
		"required":             []string{"parsed_value", "confidence", "category", "needs_clarification"},
		"additionalProperties": false,
	}
}

func validationSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"is_valid": map[string]any{"type": "boolean"},
			"violations": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"warnings": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"suggestions": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		},
		"required":             []string{"is_valid", "violations", "warnings", "suggestions", "confidence"},
		"additionalProperties": false,
	}
}
