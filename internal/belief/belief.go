// Package belief maintains a probability distribution over use cases and
// updates it with Bayes' rule as evidence arrives from user input.
package belief

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/gazar78gazar/reqMas-MVP/internal/catalog"
)

// ambiguityThreshold is how close the top two use cases may sit before a
// disambiguation question is needed.
const ambiguityThreshold = 0.15

// likelihoodCap keeps any single piece of evidence from producing
// certainty.
const likelihoodCap = 0.95

// Evidence is one observation fed into the network.
type Evidence struct {
	Text                 string   `json:"text"`
	Keywords             []string `json:"keywords,omitempty"`
	ConstraintsMentioned []string `json:"constraints_mentioned,omitempty"`
	Confidence           float64  `json:"confidence"`
	Source               string   `json:"source"`
}

// Belief is the current probability for one use case along with the
// evidence that moved it.
type Belief struct {
	UseCaseID           string   `json:"use_case_id"`
	Probability         float64  `json:"probability"`
	SupportingEvidence  []string `json:"supporting_evidence,omitempty"`
	ConflictingEvidence []string `json:"conflicting_evidence,omitempty"`
}

// Score pairs a use case id with a probability.
type Score struct {
	UseCaseID   string  `json:"use_case_id"`
	Probability float64 `json:"probability"`
}

// DisambiguationInfo feeds an A/B question when the top use cases are too
// close to call.
type DisambiguationInfo struct {
	AmbiguousUseCases []Score  `json:"ambiguous_use_cases"`
	FirstFeatures     []string `json:"first_features"`
	SecondFeatures    []string `json:"second_features"`
	Confidence        float64  `json:"confidence"`
	Entropy           float64  `json:"entropy"`
}

// Network tracks use case beliefs for one session.
type Network struct {
	useCases map[string]*catalog.UseCase
	beliefs  map[string]*Belief
	history  []Evidence
}

// NewNetwork initializes beliefs at the catalog priors.
func NewNetwork(cat *catalog.Catalog) *Network {
	n := &Network{
		useCases: cat.UseCases,
		beliefs:  map[string]*Belief{},
	}
	for id, uc := range cat.UseCases {
		n.beliefs[id] = &Belief{UseCaseID: id, Probability: uc.Prior}
	}
	return n
}

// UpdateBeliefs applies one piece of evidence and returns the new
// distribution.
func (n *Network) UpdateBeliefs(ev Evidence) map[string]float64 {
	if ev.Confidence == 0 {
		ev.Confidence = 1.0
	}
	if ev.Source == "" {
		ev.Source = "user_input"
	}
	ev.Keywords = n.extractKeywords(ev.Text)
	n.history = append(n.history, ev)

	likelihoods := make(map[string]float64, len(n.useCases))
	for id, uc := range n.useCases {
		likelihoods[id] = likelihood(ev.Keywords, uc)
	}

	total := 0.0
	unnormalized := make(map[string]float64, len(n.beliefs))
	for id, belief := range n.beliefs {
		unnormalized[id] = likelihoods[id] * belief.Probability
		total += unnormalized[id]
	}

	if total > 0 {
		summary := evidenceSummary(ev.Text)
		for id, belief := range n.beliefs {
			updated := unnormalized[id] / total
			if updated > belief.Probability {
				belief.SupportingEvidence = append(belief.SupportingEvidence, summary)
			} else if updated < belief.Probability {
				belief.ConflictingEvidence = append(belief.ConflictingEvidence, summary)
			}
			belief.Probability = updated
		}
	}

	return n.Probabilities()
}

func evidenceSummary(text string) string {
	runes := []rune(text)
	if len(runes) > 50 {
		return string(runes[:50])
	}
	return text
}

// extractKeywords collects every known indicator present in the text.
func (n *Network) extractKeywords(text string) []string {
	lower := strings.ToLower(text)
	seen := map[string]struct{}{}
	var keywords []string
	for _, id := range n.sortedIDs() {
		uc := n.useCases[id]
		for _, keyword := range append(append([]string{}, uc.StrongIndicators...), uc.WeakIndicators...) {
			if _, ok := seen[keyword]; ok {
				continue
			}
			if strings.Contains(lower, keyword) {
				seen[keyword] = struct{}{}
				keywords = append(keywords, keyword)
			}
		}
	}
	sort.Strings(keywords)
	return keywords
}

// likelihood estimates P(evidence | use case). Strong indicator matches
// dominate; weak ones nudge.
func likelihood(keywords []string, uc *catalog.UseCase) float64 {
	if len(keywords) == 0 {
		return 0.1
	}
	value := 0.1
	value += 0.4 * float64(countMatches(keywords, uc.StrongIndicators))
	value += 0.1 * float64(countMatches(keywords, uc.WeakIndicators))
	if value > likelihoodCap {
		return likelihoodCap
	}
	return value
}

func countMatches(keywords, indicators []string) int {
	set := map[string]struct{}{}
	for _, indicator := range indicators {
		set[indicator] = struct{}{}
	}
	count := 0
	for _, keyword := range keywords {
		if _, ok := set[keyword]; ok {
			count++
		}
	}
	return count
}

func (n *Network) sortedIDs() []string {
	ids := make([]string, 0, len(n.useCases))
	for id := range n.useCases {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Probabilities returns the current distribution.
func (n *Network) Probabilities() map[string]float64 {
	probs := make(map[string]float64, len(n.beliefs))
	for id, belief := range n.beliefs {
		probs[id] = belief.Probability
	}
	return probs
}

// TopUseCases returns the n most probable use cases, highest first.
func (n *Network) TopUseCases(count int) []Score {
	scores := make([]Score, 0, len(n.beliefs))
	for id, belief := range n.beliefs {
		scores = append(scores, Score{UseCaseID: id, Probability: belief.Probability})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Probability != scores[j].Probability {
			return scores[i].Probability > scores[j].Probability
		}
		return scores[i].UseCaseID < scores[j].UseCaseID
	})
	if count < len(scores) {
		scores = scores[:count]
	}
	return scores
}

// IsAmbiguous reports whether the top two use cases sit within the
// ambiguity threshold of each other.
func (n *Network) IsAmbiguous() bool {
	top := n.TopUseCases(2)
	if len(top) < 2 {
		return false
	}
	return math.Abs(top[0].Probability-top[1].Probability) < ambiguityThreshold
}

// Disambiguate returns the data for an A/B question, or nil when the
// distribution is not ambiguous.
func (n *Network) Disambiguate() *DisambiguationInfo {
	if !n.IsAmbiguous() {
		return nil
	}
	top := n.TopUseCases(2)
	first := n.useCases[top[0].UseCaseID]
	second := n.useCases[top[1].UseCaseID]

	confidence := top[0].Probability
	if top[1].Probability > confidence {
		confidence = top[1].Probability
	}

	return &DisambiguationInfo{
		AmbiguousUseCases: top,
		FirstFeatures:     subtract(first.StrongIndicators, second.StrongIndicators),
		SecondFeatures:    subtract(second.StrongIndicators, first.StrongIndicators),
		Confidence:        confidence,
		Entropy:           n.Entropy(),
	}
}

func subtract(from, remove []string) []string {
	removeSet := map[string]struct{}{}
	for _, entry := range remove {
		removeSet[entry] = struct{}{}
	}
	var result []string
	for _, entry := range from {
		if _, ok := removeSet[entry]; !ok {
			result = append(result, entry)
		}
	}
	sort.Strings(result)
	return result
}

// Entropy measures how spread out the current distribution is.
func (n *Network) Entropy() float64 {
	entropy := 0.0
	for _, belief := range n.beliefs {
		if belief.Probability > 0 {
			entropy -= belief.Probability * math.Log2(belief.Probability)
		}
	}
	return entropy
}

// Belief returns the tracked belief for a use case id.
func (n *Network) Belief(id string) (Belief, bool) {
	belief, ok := n.beliefs[id]
	if !ok {
		return Belief{}, false
	}
	return *belief, true
}

// History returns the evidence applied so far, oldest first.
func (n *Network) History() []Evidence {
	return append([]Evidence{}, n.history...)
}

// Reset restores the priors and clears the evidence history.
func (n *Network) Reset() {
	for id, uc := range n.useCases {
		n.beliefs[id] = &Belief{UseCaseID: id, Probability: uc.Prior}
	}
	n.history = nil
}

// Explain renders the current top beliefs for logs and the TUI.
func (n *Network) Explain() string {
	var b strings.Builder
	b.WriteString("Current UC Analysis:\n")
	for _, score := range n.TopUseCases(3) {
		uc := n.useCases[score.UseCaseID]
		belief := n.beliefs[score.UseCaseID]
		fmt.Fprintf(&b, "\n%s (%s): %.2f%% confidence\n", uc.Name, score.UseCaseID, score.Probability*100)
		if len(belief.SupportingEvidence) > 0 {
			fmt.Fprintf(&b, "  Supporting: %s\n", strings.Join(firstN(belief.SupportingEvidence, 3), ", "))
		}
		if len(belief.ConflictingEvidence) > 0 {
			fmt.Fprintf(&b, "  Conflicting: %s\n", strings.Join(firstN(belief.ConflictingEvidence, 3), ", "))
		}
	}
	if n.IsAmbiguous() {
		b.WriteString("\nAmbiguous - disambiguation needed\n")
	}
	return b.String()
}

func firstN(list []string, n int) []string {
	if len(list) > n {
		return list[:n]
	}
	return list
}
