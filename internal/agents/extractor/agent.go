// Package extractor recognizes technical constraints in free-form user
// text and records them in the session constraint ledger.
package extractor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/gazar78gazar/reqMas-MVP/internal/agent"
	"github.com/gazar78gazar/reqMas-MVP/internal/constraint"
	"github.com/gazar78gazar/reqMas-MVP/internal/session"
)

const (
	agentID      = "extractor"
	agentVersion = "1.0.0"
)

// Strength scores carried by candidates. The ledger maps them onto
// constraint strengths on admission.
const (
	scoreMandatory   = int(constraint.Mandatory)
	scoreRecommended = int(constraint.Recommended)
)

// Per-group extraction confidence.
const (
	ioConfidence          = 0.95
	environmentConfidence = 0.9
	powerConfidence       = 0.85
	commConfidence        = 0.95
	performanceConfidence = 0.9
)

// ioRule maps a counted phrase onto tiered minimum-capacity constraints.
// Tiers are checked highest first; a count at or below the lowest tier
// produces nothing.
type ioRule struct {
	re    *regexp.Regexp
	tiers []ioTier
}

type ioTier struct {
	above int
	id    string
}

var ioRules = []ioRule{
	{regexp.MustCompile(`(\d+)\s*digital\s*input`), []ioTier{
		{64, "CNST_DIGITAL_IO_MIN_64"},
		{32, "CNST_DIGITAL_IO_MIN_32"},
		{16, "CNST_DIGITAL_IO_MIN_16"},
	}},
	{regexp.MustCompile(`(\d+)\s*digital\s*output`), []ioTier{
		{64, "CNST_DIGITAL_IO_MIN_64"},
		{32, "CNST_DIGITAL_IO_MIN_32"},
	}},
	{regexp.MustCompile(`(\d+)\s*analog\s*input`), []ioTier{
		{24, "CNST_ANALOG_IO_MIN_24"},
		{16, "CNST_ANALOG_IO_MIN_16"},
		{8, "CNST_ANALOG_IO_MIN_8"},
	}},
	{regexp.MustCompile(`(\d+)\s*analog\s*output`), []ioTier{
		{8, "CNST_ANALOG_IO_MIN_8"},
	}},
}

// keywordRule fires a fixed constraint set when its pattern appears
// anywhere in the lowered input. Short tokens carry word boundaries so
// they do not match inside unrelated words.
type keywordRule struct {
	re  *regexp.Regexp
	ids []string
}

var environmentRules = []keywordRule{
	{regexp.MustCompile(`outdoor`), []string{"CNST_IP54", "CNST_TEMP_EXTENDED"}},
	{regexp.MustCompile(`indoor`), nil}, // recognized, adds nothing
	{regexp.MustCompile(`harsh\s*environment`), []string{"CNST_IP54", "CNST_TEMP_EXTENDED", "CNST_VIBRATION_2G"}},
	{regexp.MustCompile(`hygienic|food.?grade|washdown`), []string{"CNST_IP69K"}},
	{regexp.MustCompile(`hazardous|atex|explosion`), []string{"CNST_ATEX_CERTIFIED", "CNST_CLASS1_DIV2", "CNST_FANLESS"}},
	{regexp.MustCompile(`extreme\s*temperature`), []string{"CNST_TEMP_EXTENDED"}},
	{regexp.MustCompile(`vibration|shock|mobile`), []string{"CNST_VIBRATION_2G", "CNST_COMPACT_FORM"}},
}

var powerRules = []keywordRule{
	{regexp.MustCompile(`solar|battery|off.?grid`), []string{"CNST_POWER_MAX_10W", "CNST_FANLESS"}},
	{regexp.MustCompile(`low\s*power|energy\s*efficient`), []string{"CNST_POWER_MAX_20W"}},
	{regexp.MustCompile(`24\s*vdc|24v\s*dc`), []string{"CNST_POWER_24VDC"}},
	{regexp.MustCompile(`redundant\s*power`), []string{"CNST_REDUNDANT_POWER"}},
}

// Communication protocols are recommended unless the user names Modbus,
// which is treated as a hard requirement.
var commRules = []struct {
	re        *regexp.Regexp
	ids       []string
	mandatory bool
}{
	{regexp.MustCompile(`ethernet`), []string{"CNST_GIGABIT_ETHERNET"}, false},
	{regexp.MustCompile(`modbus`), []string{"CNST_MODBUS_TCP"}, true},
	{regexp.MustCompile(`profinet`), []string{"CNST_PROFINET"}, false},
	{regexp.MustCompile(`ethercat`), []string{"CNST_ETHERCAT"}, false},
	{regexp.MustCompile(`opc.?ua`), []string{"CNST_OPCUA"}, false},
	{regexp.MustCompile(`mqtt`), []string{"CNST_MQTT"}, false},
	{regexp.MustCompile(`wifi|wireless`), []string{"CNST_WIFI"}, false},
	{regexp.MustCompile(`\blte\b|\b4g\b|cellular`), []string{"CNST_LTE"}, false},
	{regexp.MustCompile(`\b5g\b`), []string{"CNST_5G"}, false},
}

// latencyRe reads an explicit millisecond latency figure. It runs before
// the fixed performance rules so the counted reading keeps its value.
var latencyRe = regexp.MustCompile(`(\d+)\s*ms\s*latency`)

var performanceRules = []keywordRule{
	{regexp.MustCompile(`real.?time|deterministic`), []string{"CNST_LATENCY_MAX_1MS", "CNST_TSN_SUPPORT"}},
	{regexp.MustCompile(`high.?speed|\bfast\b`), []string{"CNST_PROCESSOR_MIN_I5"}},
	{regexp.MustCompile(`\bai\b|machine\s*learning|vision`), []string{"CNST_GPU_REQUIRED", "CNST_PROCESSOR_MIN_I5"}},
	{regexp.MustCompile(`motion\s*control`), []string{"CNST_LATENCY_MAX_1MS", "CNST_TSN_SUPPORT"}},
}

// Candidate is one recognized constraint before ledger admission.
type Candidate struct {
	ID         string  `json:"id"`
	Value      any     `json:"value,omitempty"`
	Strength   int     `json:"strength"`
	Confidence float64 `json:"confidence"`
}

// Rejection reports a candidate the ledger refused, with its note.
type Rejection struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Rule is an extraction rule contributed at runtime. The pattern runs
// against the lowered input after the built-in tables, so a built-in
// reading of the same constraint id wins the dedupe.
type Rule struct {
	Pattern    *regexp.Regexp
	Candidates []Candidate
}

var (
	customMu    sync.RWMutex
	customRules []Rule
)

// SetCustomRules replaces the runtime rule set. Rule plugins install
// their compiled rules here at startup; nil clears them.
func SetCustomRules(rules []Rule) {
	customMu.Lock()
	defer customMu.Unlock()
	customRules = append([]Rule(nil), rules...)
}

func snapshotCustomRules() []Rule {
	customMu.RLock()
	defer customMu.RUnlock()
	return customRules
}

// Extract runs the pattern tables over one turn of user text and returns
// the constraint candidates in match order, deduplicated by id with the
// first reading kept.
func Extract(text string) []Candidate {
	lowered := strings.ToLower(text)
	var out []Candidate
	seen := map[string]bool{}
	add := func(c Candidate) {
		if seen[c.ID] {
			return
		}
		seen[c.ID] = true
		out = append(out, c)
	}

	for _, rule := range ioRules {
		m := rule.re.FindStringSubmatch(lowered)
		if m == nil {
			continue
		}
		count, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		for _, tier := range rule.tiers {
			if count > tier.above {
				add(Candidate{ID: tier.id, Value: count, Strength: scoreMandatory, Confidence: ioConfidence})
				break
			}
		}
	}

	for _, rule := range environmentRules {
		if !rule.re.MatchString(lowered) {
			continue
		}
		for _, id := range rule.ids {
			add(Candidate{ID: id, Strength: scoreMandatory, Confidence: environmentConfidence})
		}
	}

	for _, rule := range powerRules {
		if !rule.re.MatchString(lowered) {
			continue
		}
		for _, id := range rule.ids {
			add(Candidate{ID: id, Strength: scoreMandatory, Confidence: powerConfidence})
		}
	}

	for _, rule := range commRules {
		if !rule.re.MatchString(lowered) {
			continue
		}
		strength := scoreRecommended
		if rule.mandatory {
			strength = scoreMandatory
		}
		for _, id := range rule.ids {
			add(Candidate{ID: id, Strength: strength, Confidence: commConfidence})
		}
	}

	if m := latencyRe.FindStringSubmatch(lowered); m != nil {
		if ms, err := strconv.Atoi(m[1]); err == nil {
			switch {
			case ms <= 1:
				add(Candidate{ID: "CNST_LATENCY_MAX_1MS", Value: ms, Strength: scoreMandatory, Confidence: performanceConfidence})
			case ms <= 10:
				add(Candidate{ID: "CNST_LATENCY_MAX_10MS", Value: ms, Strength: scoreMandatory, Confidence: performanceConfidence})
			}
		}
	}

	for _, rule := range performanceRules {
		if !rule.re.MatchString(lowered) {
			continue
		}
		for _, id := range rule.ids {
			add(Candidate{ID: id, Strength: scoreMandatory, Confidence: performanceConfidence})
		}
	}

	for _, rule := range snapshotCustomRules() {
		if rule.Pattern == nil || !rule.Pattern.MatchString(lowered) {
			continue
		}
		for _, c := range rule.Candidates {
			add(c)
		}
	}

	return out
}

// Agent extracts constraints from user turns.
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

// New constructs the extractor.
func New() *Agent {
	info := agent.Info{
		ID:          agentID,
		Name:        "Requirements Extractor",
		Description: "Matches pattern tables against user text and writes constraints to the ledger.",
		Version:     agentVersion,
	}
	base := agent.NewBase(info)
	return &Agent{Base: &base}
}

// Process extracts candidates from the input text and offers each to the
// ledger. Admission outcomes land in the result details: accepted ids
// under "constraints", refusals under "rejected", and any auto-resolution
// notes under "notes".
func (a *Agent) Process(ctx *agent.Context, st *session.State, in agent.Input) (agent.Result, error) {
	if err := validateProcess(ctx, st); err != nil {
		return agent.Result{Status: agent.StatusFailed}, err
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return agent.Result{Status: agent.StatusNoOp, Message: "no input text"}, nil
	}

	candidates := Extract(text)
	if len(candidates) == 0 {
		return agent.Result{Status: agent.StatusNoOp, Message: "no constraints recognized"}, nil
	}

	accepted := make([]string, 0, len(candidates))
	var rejected []Rejection
	var notes []string
	for _, c := range candidates {
		ok, note := ctx.Ledger.Add(constraint.Constraint{
			ID:          c.ID,
			Value:       c.Value,
			Strength:    constraint.StrengthFromScore(c.Strength),
			Timestamp:   ctx.Now(),
			SourceAgent: agentID,
			Confidence:  c.Confidence,
		})
		if !ok {
			rejected = append(rejected, Rejection{ID: c.ID, Reason: note})
			continue
		}
		accepted = append(accepted, c.ID)
		if note != "" {
			notes = append(notes, note)
		}
	}

	reasoning := []string{
		fmt.Sprintf("Matched %d constraint candidates", len(candidates)),
		fmt.Sprintf("Ledger accepted %d", len(accepted)),
		fmt.Sprintf("Ledger rejected %d", len(rejected)),
	}
	output := "No constraints accepted"
	if len(accepted) > 0 {
		output = "Accepted: " + strings.Join(accepted, ", ")
	}
	if ctx.Decisions != nil {
		_ = ctx.Decisions.Log(agentID, text, reasoning, "extract_constraints", output)
	}
	st.AddDecision(agentID, "extract_constraints", reasoning)

	details := map[string]any{"constraints": accepted}
	if len(rejected) > 0 {
		details["rejected"] = rejected
	}
	if len(notes) > 0 {
		details["notes"] = notes
	}

	message := fmt.Sprintf("%d constraints accepted", len(accepted))
	if len(rejected) > 0 {
		message = fmt.Sprintf("%d constraints accepted, %d rejected", len(accepted), len(rejected))
	}
	return agent.Result{
		Status:  agent.StatusCompleted,
		Message: message,
		Details: details,
	}, nil
}

func validateProcess(ctx *agent.Context, st *session.State) error {
	if ctx == nil {
		return fmt.Errorf("extractor: context is nil")
	}
	if ctx.Ledger == nil {
		return fmt.Errorf("extractor: ledger is required")
	}
	if st == nil {
		return fmt.Errorf("extractor: state is required")
	}
	return nil
}
