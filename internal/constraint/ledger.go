// Package constraint tracks the constraints gathered for a session. The
// ledger keeps the newest write per constraint id, accumulates use case
// votes, and auto-resolves mutex conflicts where the rules allow it. The
// graph models constraint relationships for progressive conflict
// detection.
package constraint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gazar78gazar/reqMas-MVP/internal/catalog"
)

// Strength grades how binding a constraint is.
type Strength int

const (
	Recommended Strength = 4
	Mandatory   Strength = 10
)

// StrengthFromScore maps a numeric strength score onto a Strength.
// Anything at or above the mandatory score is mandatory.
func StrengthFromScore(score int) Strength {
	if score >= int(Mandatory) {
		return Mandatory
	}
	return Recommended
}

// Constraint is a single requirement statement with provenance.
type Constraint struct {
	ID          string    `json:"id"`
	Value       any       `json:"value,omitempty"`
	Strength    Strength  `json:"strength"`
	Timestamp   time.Time `json:"timestamp"`
	SourceAgent string    `json:"source_agent"`
	Confidence  float64   `json:"confidence"`
}

// Resolution records how a conflict was settled.
type Resolution struct {
	ConflictType string    `json:"conflict_type"`
	ConstraintA  string    `json:"constraint_a"`
	ConstraintB  string    `json:"constraint_b"`
	Chosen       string    `json:"chosen"`
	Reason       string    `json:"reason"`
	Timestamp    time.Time `json:"timestamp"`
	AutoResolved bool      `json:"auto_resolved"`
}

// Snapshot is an immutable view of the ledger for agent processing.
type Snapshot struct {
	UseCases    map[string]float64    `json:"use_cases"`
	Constraints map[string]Constraint `json:"constraints"`
	Resolutions []Resolution          `json:"resolutions"`
	Timestamp   time.Time             `json:"timestamp"`
	Version     int                   `json:"version"`
}

// Metrics reports ledger activity counters.
type Metrics struct {
	Version            int     `json:"version"`
	TotalConstraints   int     `json:"total_constraints"`
	TotalResolutions   int     `json:"total_resolutions"`
	AutoResolutionRate float64 `json:"auto_resolution_rate"`
	MergeCount         int     `json:"merge_count"`
	ConflictCount      int     `json:"conflict_count"`
	StateHash          string  `json:"state_hash"`
}

// Export is the full ledger state for persistence or merging.
type Export struct {
	SessionID   string                        `json:"session_id"`
	Version     int                           `json:"version"`
	Timestamp   time.Time                     `json:"timestamp"`
	UseCases    map[string]map[string]float64 `json:"use_cases"`
	Constraints map[string]Constraint         `json:"constraints"`
	Resolutions []Resolution                  `json:"resolutions"`
	Metrics     Metrics                       `json:"metrics"`
}

// recencyWindow is how close together two conflicting writes must land for
// the newer one to be treated as a user correction.
const recencyWindow = 30 * time.Second

// confidenceMargin is the minimum confidence gap that lets one side of a
// conflict win outright.
const confidenceMargin = 0.3

// Ledger accumulates constraints and use case votes for one session.
// Votes only grow; constraint writes keep the newest timestamp per id.
type Ledger struct {
	mu         sync.Mutex
	sessionID  string
	mutexRules map[string][]catalog.MutexRule
	clock      func() time.Time

	votes       map[string]map[string]float64
	constraints map[string]Constraint
	resolutions []Resolution

	version    int
	lastUpdate time.Time

	mergeCount    int
	conflictCount int
}

// LedgerOption adjusts ledger construction.
type LedgerOption func(*Ledger)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) LedgerOption {
	return func(l *Ledger) {
		l.clock = clock
	}
}

// NewLedger creates an empty ledger with the given mutex rules.
func NewLedger(sessionID string, mutexRules map[string][]catalog.MutexRule, opts ...LedgerOption) *Ledger {
	ledger := &Ledger{
		sessionID:   sessionID,
		mutexRules:  mutexRules,
		clock:       time.Now,
		votes:       map[string]map[string]float64{},
		constraints: map[string]Constraint{},
	}
	for _, opt := range opts {
		opt(ledger)
	}
	ledger.lastUpdate = ledger.clock()
	return ledger
}

// AddUseCaseSignal records a positive use case vote. Votes per agent only
// ever increase.
func (l *Ledger) AddUseCaseSignal(useCaseID string, confidence float64, agentID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.votes[useCaseID] == nil {
		l.votes[useCaseID] = map[string]float64{}
	}
	if confidence > l.votes[useCaseID][agentID] {
		l.votes[useCaseID][agentID] = confidence
	}
	l.bumpVersion()
}

// Add inserts a constraint. The newest timestamp wins per id; mutex
// conflicts are auto-resolved where a rule applies, and otherwise reported
// for user resolution. The note explains what happened.
func (l *Ledger) Add(c Constraint) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addLocked(c)
}

func (l *Ledger) addLocked(c Constraint) (bool, string) {
	if c.Timestamp.IsZero() {
		c.Timestamp = l.clock()
	}

	if conflicting, ok := l.findMutexConflict(c.ID); ok {
		return l.handleMutexConflict(c, conflicting)
	}

	if existing, ok := l.constraints[c.ID]; ok {
		if c.Timestamp.After(existing.Timestamp) {
			l.constraints[c.ID] = c
			l.bumpVersion()
			return true, ""
		}
		return false, "Older timestamp, ignored"
	}

	l.constraints[c.ID] = c
	l.bumpVersion()
	return true, ""
}

func (l *Ledger) findMutexConflict(constraintID string) (string, bool) {
	categories := make([]string, 0, len(l.mutexRules))
	for category := range l.mutexRules {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	for _, category := range categories {
		for _, rule := range l.mutexRules[category] {
			var other string
			switch constraintID {
			case rule.ConstraintA:
				other = rule.ConstraintB
			case rule.ConstraintB:
				other = rule.ConstraintA
			default:
				continue
			}
			if _, present := l.constraints[other]; present {
				l.conflictCount++
				return other, true
			}
		}
	}
	return "", false
}

func (l *Ledger) handleMutexConflict(incoming Constraint, conflictingID string) (bool, string) {
	existing := l.constraints[conflictingID]

	// User correcting themselves: the newer write wins.
	if incoming.Timestamp.Sub(existing.Timestamp) < recencyWindow {
		l.resolveLocked(conflictingID, incoming.ID, incoming.ID,
			"Recency rule: user correction within 30s", true)
		l.constraints[incoming.ID] = incoming
		return true, fmt.Sprintf("Auto-resolved: replaced %s with %s", conflictingID, incoming.ID)
	}

	if incoming.Strength == Mandatory && existing.Strength == Recommended {
		l.resolveLocked(conflictingID, incoming.ID, incoming.ID,
			"Mandatory constraint overrides recommended", true)
		l.constraints[incoming.ID] = incoming
		return true, fmt.Sprintf("Auto-resolved: mandatory %s replaced %s", incoming.ID, conflictingID)
	}

	if diff := incoming.Confidence - existing.Confidence; diff > confidenceMargin || diff < -confidenceMargin {
		if incoming.Confidence > existing.Confidence {
			l.resolveLocked(conflictingID, incoming.ID, incoming.ID,
				fmt.Sprintf("Higher confidence: %.2f vs %.2f", incoming.Confidence, existing.Confidence), true)
			l.constraints[incoming.ID] = incoming
			return true, fmt.Sprintf("Auto-resolved: higher confidence %s", incoming.ID)
		}
		return false, fmt.Sprintf("Rejected: lower confidence than %s", conflictingID)
	}

	return false, fmt.Sprintf("MUTEX conflict with %s - requires user resolution", conflictingID)
}

// ResolveConflict records a resolution and drops the losing constraint.
func (l *Ledger) ResolveConflict(constraintA, constraintB, chosen, reason string, auto bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resolveLocked(constraintA, constraintB, chosen, reason, auto)
}

func (l *Ledger) resolveLocked(constraintA, constraintB, chosen, reason string, auto bool) {
	l.resolutions = append(l.resolutions, Resolution{
		ConflictType: "MUTEX",
		ConstraintA:  constraintA,
		ConstraintB:  constraintB,
		Chosen:       chosen,
		Reason:       reason,
		Timestamp:    l.clock(),
		AutoResolved: auto,
	})

	rejected := constraintA
	if chosen == constraintA {
		rejected = constraintB
	}
	delete(l.constraints, rejected)
	l.bumpVersion()
}

// ActiveConstraints returns the live constraints, strongest and newest
// first.
func (l *Ledger) ActiveConstraints() []Constraint {
	l.mu.Lock()
	defer l.mu.Unlock()

	constraints := make([]Constraint, 0, len(l.constraints))
	for _, c := range l.constraints {
		constraints = append(constraints, c)
	}
	sort.Slice(constraints, func(i, j int) bool {
		if constraints[i].Strength != constraints[j].Strength {
			return constraints[i].Strength > constraints[j].Strength
		}
		if !constraints[i].Timestamp.Equal(constraints[j].Timestamp) {
			return constraints[i].Timestamp.After(constraints[j].Timestamp)
		}
		return constraints[i].ID < constraints[j].ID
	})
	return constraints
}

func (l *Ledger) useCaseScoresLocked() map[string]float64 {
	scores := make(map[string]float64, len(l.votes))
	for ucID, agentVotes := range l.votes {
		total := 0.0
		for _, vote := range agentVotes {
			total += vote
		}
		count := len(agentVotes)
		if count == 0 {
			count = 1
		}
		scores[ucID] = total / float64(count)
	}
	return scores
}

// TopUseCases returns the n highest-scoring use cases.
func (l *Ledger) TopUseCases(n int) []UseCaseScore {
	l.mu.Lock()
	defer l.mu.Unlock()
	return topScores(l.useCaseScoresLocked(), n)
}

// UseCaseScore pairs a use case id with its aggregated vote.
type UseCaseScore struct {
	UseCaseID string  `json:"use_case_id"`
	Score     float64 `json:"score"`
}

func topScores(scores map[string]float64, n int) []UseCaseScore {
	ranked := make([]UseCaseScore, 0, len(scores))
	for ucID, score := range scores {
		ranked = append(ranked, UseCaseScore{UseCaseID: ucID, Score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].UseCaseID < ranked[j].UseCaseID
	})
	if n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked
}

// GetSnapshot copies the current ledger state.
func (l *Ledger) GetSnapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	constraints := make(map[string]Constraint, len(l.constraints))
	for id, c := range l.constraints {
		constraints[id] = c
	}
	return Snapshot{
		UseCases:    l.useCaseScoresLocked(),
		Constraints: constraints,
		Resolutions: append([]Resolution{}, l.resolutions...),
		Timestamp:   l.lastUpdate,
		Version:     l.version,
	}
}

// Merge folds another ledger export into this one: votes keep the maximum
// per agent, constraint writes go through normal conflict handling, and
// resolutions append.
type MergeReport struct {
	MergedConstraints int `json:"merged_constraints"`
	MergedUseCases    int `json:"merged_use_cases"`
	ConflictsResolved int `json:"conflicts_resolved"`
}

func (l *Ledger) Merge(other Export) MergeReport {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.mergeCount++
	report := MergeReport{}

	ucIDs := make([]string, 0, len(other.UseCases))
	for ucID := range other.UseCases {
		ucIDs = append(ucIDs, ucID)
	}
	sort.Strings(ucIDs)
	for _, ucID := range ucIDs {
		for agentID, confidence := range other.UseCases[ucID] {
			if l.votes[ucID] == nil {
				l.votes[ucID] = map[string]float64{}
			}
			if confidence > l.votes[ucID][agentID] {
				l.votes[ucID][agentID] = confidence
				report.MergedUseCases++
			}
		}
	}

	constraintIDs := make([]string, 0, len(other.Constraints))
	for id := range other.Constraints {
		constraintIDs = append(constraintIDs, id)
	}
	sort.Strings(constraintIDs)
	for _, id := range constraintIDs {
		accepted, note := l.addLocked(other.Constraints[id])
		if accepted {
			report.MergedConstraints++
		} else if note != "" && note != "Older timestamp, ignored" {
			report.ConflictsResolved++
		}
	}

	l.resolutions = append(l.resolutions, other.Resolutions...)
	l.bumpVersion()
	return report
}

func (l *Ledger) bumpVersion() {
	l.version++
	l.lastUpdate = l.clock()
}

// StateHash returns a short deterministic digest of the ledger contents.
func (l *Ledger) StateHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateHashLocked()
}

func (l *Ledger) stateHashLocked() string {
	ids := make([]string, 0, len(l.constraints))
	for id := range l.constraints {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	hashInput := struct {
		UseCases    map[string]map[string]float64 `json:"use_cases"`
		Constraints []string                      `json:"constraints"`
		Version     int                           `json:"version"`
	}{
		UseCases:    l.votes,
		Constraints: ids,
		Version:     l.version,
	}
	data, err := json.Marshal(hashInput)
	if err != nil {
		return ""
	}
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])[:8]
}

// GetMetrics reports ledger counters.
func (l *Ledger) GetMetrics() Metrics {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.metricsLocked()
}

func (l *Ledger) metricsLocked() Metrics {
	autoResolved := 0
	for _, r := range l.resolutions {
		if r.AutoResolved {
			autoResolved++
		}
	}
	total := len(l.resolutions)
	divisor := total
	if divisor == 0 {
		divisor = 1
	}
	return Metrics{
		Version:            l.version,
		TotalConstraints:   len(l.constraints),
		TotalResolutions:   total,
		AutoResolutionRate: float64(autoResolved) / float64(divisor),
		MergeCount:         l.mergeCount,
		ConflictCount:      l.conflictCount,
		StateHash:          l.stateHashLocked(),
	}
}

// ExportState captures the full ledger for persistence or merging.
func (l *Ledger) ExportState() Export {
	l.mu.Lock()
	defer l.mu.Unlock()

	votes := make(map[string]map[string]float64, len(l.votes))
	for ucID, agentVotes := range l.votes {
		copied := make(map[string]float64, len(agentVotes))
		for agentID, confidence := range agentVotes {
			copied[agentID] = confidence
		}
		votes[ucID] = copied
	}
	constraints := make(map[string]Constraint, len(l.constraints))
	for id, c := range l.constraints {
		constraints[id] = c
	}
	return Export{
		SessionID:   l.sessionID,
		Version:     l.version,
		Timestamp:   l.lastUpdate,
		UseCases:    votes,
		Constraints: constraints,
		Resolutions: append([]Resolution{}, l.resolutions...),
		Metrics:     l.metricsLocked(),
	}
}

// Reset clears the ledger back to empty.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.votes = map[string]map[string]float64{}
	l.constraints = map[string]Constraint{}
	l.resolutions = nil
	l.version = 0
	l.mergeCount = 0
	l.conflictCount = 0
	l.lastUpdate = l.clock()
}
