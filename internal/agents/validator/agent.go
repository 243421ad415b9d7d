// Package validator checks answered requirements against the hardware
// limits in the catalog and reports violations, warnings, and fixes.
package validator

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gazar78gazar/reqMas-MVP/internal/agent"
	"github.com/gazar78gazar/reqMas-MVP/internal/catalog"
	"github.com/gazar78gazar/reqMas-MVP/internal/llm"
	"github.com/gazar78gazar/reqMas-MVP/internal/session"
)

const (
	agentID      = "validator"
	agentVersion = "1.0.0"
)

// manySwitchedDevices is the device count above which a managed switch
// is suggested.
const manySwitchedDevices = 50

var (
	numberPattern    = regexp.MustCompile(`\d+`)
	tempRangePattern = regexp.MustCompile(`(-?\d+)\s*[CcFf]?\s*(?:to|[-–])\s*(-?\d+)`)
)

// knownProtocols maps lowercase protocol mentions to the catalog's
// canonical names.
var knownProtocols = []struct {
	mention   string
	canonical string
}{
	{"ethernet", "Ethernet"},
	{"modbus", "Modbus"},
	{"profibus", "Profibus"},
	{"canbus", "CANbus"},
	{"serial", "Serial"},
	{"ethercat", "EtherCAT"},
}

// values holds what the answered requirements pin down.
type values struct {
	digitalInputs  int
	digitalOutputs int
	analogInputs   int
	analogOutputs  int
	tempMin        int
	tempMax        int
	tempSet        bool
	installation   string
	voltage        string
	powerWatts     int
	protocols      []string
	deviceCount    int

	extracted int
}

// Agent validates requirement answers against hardware limits.
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

// New constructs the validator.
func New() *Agent {
	info := agent.Info{
		ID:          agentID,
		Name:        "Constraint Validator",
		Description: "Validates answered requirements against I/O, temperature, power, and communication limits.",
		Version:     agentVersion,
	}
	base := agent.NewBase(info)
	return &Agent{Base: &base}
}

// Process validates the session and records the outcome. Violations
// send the session back to the user.
func (a *Agent) Process(ctx *agent.Context, st *session.State, in agent.Input) (agent.Result, error) {
	if err := validateProcess(ctx, st); err != nil {
		return agent.Result{Status: agent.StatusFailed}, err
	}

	report := a.Validate(ctx, st)
	a.mergeAssistReview(ctx, st, report)

	details := report.AsMap()
	details["summary"] = report.Summary()
	st.AddValidationResult("constraint_validation", report.AsMap())

	status := agent.StatusCompleted
	if !report.IsValid {
		status = agent.StatusNeedsInput
	}
	return agent.Result{Status: status, Message: report.Summary(), Details: details}, nil
}

// Validate runs every constraint family over the answered requirements
// and logs the verdict.
func (a *Agent) Validate(ctx *agent.Context, st *session.State) *Report {
	report := NewReport()
	vals := extractValues(st)
	reasoning := []string{fmt.Sprintf("Extracted %d requirement values", vals.extracted)}

	limits := ctx.Catalog.Limits
	for _, violation := range validateIO(vals, limits.IO) {
		report.AddViolation(violation)
	}
	for _, violation := range validateTemperature(vals, limits.Temperature) {
		report.AddViolation(violation)
	}
	for _, violation := range validatePower(vals, limits.Power) {
		report.AddViolation(violation)
	}
	for _, violation := range validateCommunication(vals, limits.Communication) {
		report.AddViolation(violation)
	}
	for _, warning := range checkIncompatibilities(vals, limits.Incompatibilities) {
		report.AddWarning(warning)
	}
	for _, suggestion := range generateSuggestions(report.Violations, report.Warnings, vals) {
		report.AddSuggestion(suggestion)
	}

	reasoning = append(reasoning,
		fmt.Sprintf("Found %d violations", len(report.Violations)),
		fmt.Sprintf("Found %d warnings", len(report.Warnings)),
		fmt.Sprintf("Generated %d suggestions", len(report.Suggestions)))

	var decision string
	switch {
	case report.IsValid && len(report.Warnings) > 0:
		decision = "valid_with_warnings"
		reasoning = append(reasoning, "Requirements valid but has warnings")
	case report.IsValid:
		decision = "fully_valid"
		reasoning = append(reasoning, "All requirements valid")
	default:
		decision = "invalid_requirements"
		reasoning = append(reasoning, "Requirements have constraint violations")
	}

	if ctx.Decisions != nil {
		ctx.Decisions.Log(agentID,
			fmt.Sprintf("State with %d requirements", len(st.Requirements)),
			reasoning,
			decision,
			fmt.Sprintf("Valid: %t, Violations: %d, Warnings: %d", report.IsValid, len(report.Violations), len(report.Warnings)))
	}
	st.AddDecision(agentID, decision, reasoning)

	return report
}

// mergeAssistReview folds the language model's review into the report
// as warnings and suggestions. Deterministic checks stay authoritative,
// so model findings never become violations.
func (a *Agent) mergeAssistReview(ctx *agent.Context, st *session.State, report *Report) {
	if !ctx.Assist.Enabled() {
		return
	}
	var answered []llm.AnsweredRequirement
	for _, req := range st.Requirements {
		if req.Answered() {
			answered = append(answered, llm.AnsweredRequirement{Question: req.Question, Answer: req.Answer})
		}
	}
	if len(answered) == 0 {
		return
	}

	review := ctx.Assist.ValidateRequirements(context.Background(), answered)
	seenWarnings := asSet(append(append([]string{}, report.Violations...), report.Warnings...))
	for _, finding := range append(append([]string{}, review.Violations...), review.Warnings...) {
		if _, ok := seenWarnings[finding]; ok {
			continue
		}
		seenWarnings[finding] = struct{}{}
		report.AddWarning(finding)
	}
	seenSuggestions := asSet(report.Suggestions)
	for _, suggestion := range review.Suggestions {
		if _, ok := seenSuggestions[suggestion]; ok {
			continue
		}
		seenSuggestions[suggestion] = struct{}{}
		report.AddSuggestion(suggestion)
	}
}

// ValidateIOLimits checks only the I/O point counts.
func (a *Agent) ValidateIOLimits(ctx *agent.Context, st *session.State) []string {
	return validateIO(extractValues(st), ctx.Catalog.Limits.IO)
}

// ValidatePowerRequirements checks only voltage and power budget.
func (a *Agent) ValidatePowerRequirements(ctx *agent.Context, st *session.State) []string {
	return validatePower(extractValues(st), ctx.Catalog.Limits.Power)
}

// ValidateEnvironmentalCompatibility checks only the temperature range.
func (a *Agent) ValidateEnvironmentalCompatibility(ctx *agent.Context, st *session.State) []string {
	return validateTemperature(extractValues(st), ctx.Catalog.Limits.Temperature)
}

// ProductNeeds converts the answered requirements into the shape the
// catalog's product recommender consumes.
func ProductNeeds(st *session.State) catalog.Needs {
	vals := extractValues(st)
	return catalog.Needs{
		DigitalIn:    vals.digitalInputs,
		DigitalOut:   vals.digitalOutputs,
		AnalogIn:     vals.analogInputs,
		AnalogOut:    vals.analogOutputs,
		Protocols:    vals.protocols,
		TempMin:      vals.tempMin,
		TempMax:      vals.tempMax,
		TempRangeSet: vals.tempSet,
	}
}

// extractValues parses the answered requirements. Question text picks
// the slot; the first matching phrase wins.
func extractValues(st *session.State) values {
	var vals values
	for _, req := range st.Requirements {
		if !req.Answered() {
			continue
		}
		question := strings.ToLower(req.Question)
		answer := strings.ToLower(req.Answer)

		switch {
		case strings.Contains(question, "digital input"):
			vals.digitalInputs = parseNumber(req.Answer)
			vals.extracted++
		case strings.Contains(question, "digital output"):
			vals.digitalOutputs = parseNumber(req.Answer)
			vals.extracted++
		case strings.Contains(question, "analog input"):
			vals.analogInputs = parseNumber(req.Answer)
			vals.extracted++
		case strings.Contains(question, "analog output"):
			vals.analogOutputs = parseNumber(req.Answer)
			vals.extracted++
		case strings.Contains(question, "temperature"):
			if min, max, ok := parseTemperatureRange(req.Answer); ok {
				vals.tempMin = min
				vals.tempMax = max
				vals.tempSet = true
				vals.extracted++
			}
		case strings.Contains(question, "indoor or outdoor"):
			if strings.Contains(answer, "outdoor") {
				vals.installation = "outdoor"
			} else {
				vals.installation = "indoor"
			}
			vals.extracted++
		case strings.Contains(question, "power supply voltage"):
			vals.voltage = strings.ToUpper(req.Answer)
			vals.extracted++
		case strings.Contains(question, "power budget"):
			vals.powerWatts = parseNumber(req.Answer)
			vals.extracted++
		case strings.Contains(question, "communication protocol"):
			vals.protocols = parseProtocols(req.Answer)
			vals.extracted++
		case strings.Contains(question, "devices will communicate"):
			vals.deviceCount = parseNumber(req.Answer)
			vals.extracted++
		}
	}
	return vals
}

func parseNumber(text string) int {
	match := numberPattern.FindString(text)
	if match == "" {
		return 0
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return 0
	}
	return n
}

func parseTemperatureRange(text string) (int, int, bool) {
	match := tempRangePattern.FindStringSubmatch(text)
	if match == nil {
		return 0, 0, false
	}
	min, err1 := strconv.Atoi(match[1])
	max, err2 := strconv.Atoi(match[2])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return min, max, true
}

func parseProtocols(text string) []string {
	lower := strings.ToLower(text)
	var protocols []string
	for _, known := range knownProtocols {
		if strings.Contains(lower, known.mention) {
			protocols = append(protocols, known.canonical)
		}
	}
	return protocols
}

func validateIO(vals values, limits catalog.IOLimits) []string {
	var violations []string
	if vals.digitalInputs > limits.MaxDigitalInputs {
		violations = append(violations, fmt.Sprintf("Digital inputs (%d) exceed maximum (%d)", vals.digitalInputs, limits.MaxDigitalInputs))
	}
	if vals.digitalOutputs > limits.MaxDigitalOutputs {
		violations = append(violations, fmt.Sprintf("Digital outputs (%d) exceed maximum (%d)", vals.digitalOutputs, limits.MaxDigitalOutputs))
	}
	total := vals.digitalInputs + vals.digitalOutputs + vals.analogInputs + vals.analogOutputs
	if total > limits.MaxTotalIO {
		violations = append(violations, fmt.Sprintf("Total I/O count (%d) exceeds maximum (%d)", total, limits.MaxTotalIO))
	}
	return violations
}

func validateTemperature(vals values, limits catalog.TemperatureLimits) []string {
	if !vals.tempSet {
		return nil
	}
	var violations []string
	if vals.tempMin < limits.MinCelsius {
		violations = append(violations, fmt.Sprintf("Minimum temperature (%d°C) below limit (%d°C)", vals.tempMin, limits.MinCelsius))
	}
	if vals.tempMax > limits.MaxCelsius {
		violations = append(violations, fmt.Sprintf("Maximum temperature (%d°C) exceeds limit (%d°C)", vals.tempMax, limits.MaxCelsius))
	}
	if vals.installation == "outdoor" && vals.tempMax > limits.OutdoorMax {
		violations = append(violations, fmt.Sprintf("Outdoor temperature (%d°C) exceeds outdoor limit (%d°C)", vals.tempMax, limits.OutdoorMax))
	}
	return violations
}

func validatePower(vals values, limits catalog.PowerLimits) []string {
	var violations []string
	if vals.voltage != "" && !contains(limits.AvailableVoltages, vals.voltage) {
		violations = append(violations, fmt.Sprintf("Voltage %s not in available options: %s", vals.voltage, strings.Join(limits.AvailableVoltages, ", ")))
	}
	if vals.powerWatts > 0 && vals.powerWatts > limits.MaxPowerWatts {
		violations = append(violations, fmt.Sprintf("Power budget (%dW) exceeds maximum (%dW)", vals.powerWatts, limits.MaxPowerWatts))
	}
	return violations
}

func validateCommunication(vals values, limits catalog.CommunicationLimits) []string {
	var violations []string
	for _, protocol := range vals.protocols {
		if !contains(limits.SupportedProtocols, protocol) {
			violations = append(violations, fmt.Sprintf("Protocol %s not supported. Available: %s", protocol, strings.Join(limits.SupportedProtocols, ", ")))
		}
	}
	if vals.deviceCount > limits.MaxDevices {
		violations = append(violations, fmt.Sprintf("Device count (%d) exceeds maximum (%d)", vals.deviceCount, limits.MaxDevices))
	}
	return violations
}

func checkIncompatibilities(vals values, rules []catalog.Incompatibility) []string {
	var warnings []string
	for _, rule := range rules {
		met := false
		switch rule.Condition {
		case "outdoor":
			met = vals.installation == "outdoor"
		case "high_temperature":
			threshold := rule.Threshold
			if threshold == 0 {
				threshold = 60
			}
			met = vals.tempSet && vals.tempMax > threshold
		}
		if met {
			warnings = append(warnings, rule.Message)
		}
	}
	return warnings
}

// generateSuggestions derives advice from the findings, first match per
// finding, deduplicated in first-seen order.
func generateSuggestions(violations, warnings []string, vals values) []string {
	var suggestions []string
	seen := map[string]struct{}{}
	add := func(s string) {
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		suggestions = append(suggestions, s)
	}

	for _, violation := range violations {
		lower := strings.ToLower(violation)
		switch {
		case strings.Contains(violation, "I/O") || strings.Contains(lower, "input") || strings.Contains(lower, "output"):
			add("Consider using distributed I/O or multiple controllers")
		case strings.Contains(lower, "temperature"):
			add("Consider temperature-hardened components or environmental controls")
		case strings.Contains(lower, "voltage"):
			add("Use a power converter or verify available power supplies")
		case strings.Contains(lower, "power budget"):
			add("Consider using multiple power supplies or reducing power requirements")
		}
	}
	for _, warning := range warnings {
		lower := strings.ToLower(warning)
		switch {
		case strings.Contains(lower, "outdoor"):
			add("Use IP67-rated enclosures and industrial Ethernet switches")
		case strings.Contains(lower, "temperature"):
			add("Specify conformal coating and extended temperature range components")
		}
	}
	if vals.deviceCount > manySwitchedDevices {
		add("Consider using a managed switch for large device networks")
	}
	return suggestions
}

func contains(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}

func asSet(list []string) map[string]struct{} {
	set := make(map[string]struct{}, len(list))
	for _, item := range list {
		set[item] = struct{}{}
	}
	return set
}

func validateProcess(ctx *agent.Context, st *session.State) error {
	if ctx == nil {
		return fmt.Errorf("validator: context is nil")
	}
	if ctx.Catalog == nil {
		return fmt.Errorf("validator: catalog is required")
	}
	if st == nil {
		return fmt.Errorf("validator: state is required")
	}
	return nil
}
