package constraint

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gazar78gazar/reqMas-MVP/internal/catalog"
)

// Relation names an edge type in the dependency graph.
type Relation string

const (
	RelationMutex    Relation = "mutex"
	RelationRequires Relation = "requires"
	RelationImplies  Relation = "implies"
	RelationLimits   Relation = "limits"
)

type edge struct {
	target   string
	relation Relation
}

// ConflictPath describes a conflict found while walking the graph.
type ConflictPath struct {
	ConflictType    string   `json:"conflict_type"`
	Participants    []string `json:"participants"`
	Path            []string `json:"path"`
	Severity        float64  `json:"severity"`
	Explanation     string   `json:"explanation"`
	ResolutionHints []string `json:"resolution_hints"`
}

// Graph holds constraint relationships for progressive conflict
// detection. Conflicts that no single constraint causes can still emerge
// as requirements accumulate.
type Graph struct {
	adjacency  map[string][]edge
	mutexPairs map[[2]string]struct{}
	categories map[string][]string
}

// NewGraph builds the graph from catalog relationship data. Mutex rules
// contribute category membership used when hunting for alternatives.
func NewGraph(rel catalog.Relationships, mutexRules map[string][]catalog.MutexRule) *Graph {
	g := &Graph{
		adjacency:  map[string][]edge{},
		mutexPairs: map[[2]string]struct{}{},
		categories: map[string][]string{},
	}

	for _, pair := range rel.MutexPairs {
		g.addMutex(pair[0], pair[1])
	}
	g.addDirected(rel.Requires, RelationRequires)
	g.addDirected(rel.Implies, RelationImplies)
	g.addDirected(rel.Limits, RelationLimits)

	categories := make([]string, 0, len(mutexRules))
	for category := range mutexRules {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	for _, category := range categories {
		seen := map[string]struct{}{}
		for _, rule := range mutexRules[category] {
			for _, id := range []string{rule.ConstraintA, rule.ConstraintB} {
				if _, ok := seen[id]; ok {
					continue
				}
				seen[id] = struct{}{}
				g.categories[category] = append(g.categories[category], id)
			}
			g.addMutex(rule.ConstraintA, rule.ConstraintB)
		}
	}

	return g
}

func (g *Graph) addMutex(a, b string) {
	g.mutexPairs[mutexKey(a, b)] = struct{}{}
	g.addEdge(a, b, RelationMutex)
	g.addEdge(b, a, RelationMutex)
}

func (g *Graph) addDirected(edges map[string][]string, relation Relation) {
	sources := make([]string, 0, len(edges))
	for source := range edges {
		sources = append(sources, source)
	}
	sort.Strings(sources)
	for _, source := range sources {
		for _, target := range edges[source] {
			g.addEdge(source, target, relation)
		}
	}
}

func (g *Graph) addEdge(source, target string, relation Relation) {
	for _, existing := range g.adjacency[source] {
		if existing.target == target && existing.relation == relation {
			return
		}
	}
	g.adjacency[source] = append(g.adjacency[source], edge{target: target, relation: relation})
}

func mutexKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

// IsMutex reports whether two constraints are mutually exclusive.
func (g *Graph) IsMutex(a, b string) bool {
	_, ok := g.mutexPairs[mutexKey(a, b)]
	return ok
}

// allRequirements walks requires and implies edges from a constraint and
// returns everything it pulls in, itself included.
func (g *Graph) allRequirements(constraintID string) []string {
	visited := map[string]struct{}{constraintID: {}}
	requirements := []string{constraintID}
	queue := []string{constraintID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, e := range g.adjacency[current] {
			if e.relation != RelationRequires && e.relation != RelationImplies {
				continue
			}
			if _, seen := visited[e.target]; seen {
				continue
			}
			visited[e.target] = struct{}{}
			requirements = append(requirements, e.target)
			queue = append(queue, e.target)
		}
	}
	return requirements
}

// DetectProgressiveConflict replays the constraints in arrival order and
// returns the first conflict that emerges, or nil. Direct mutex hits score
// highest; conflicts reached through requirement chains score lower.
func (g *Graph) DetectProgressiveConflict(constraints []string) *ConflictPath {
	if len(constraints) < 2 {
		return nil
	}

	var accumulated []string
	for i, incoming := range constraints {
		for _, existing := range accumulated {
			if g.IsMutex(incoming, existing) {
				return &ConflictPath{
					ConflictType: "direct_mutex",
					Participants: []string{existing, incoming},
					Path:         append([]string{}, constraints[:i+1]...),
					Severity:     1.0,
					Explanation:  fmt.Sprintf("%s conflicts with previously set %s", incoming, existing),
					ResolutionHints: []string{
						fmt.Sprintf("Remove %s to allow %s", existing, incoming),
						fmt.Sprintf("Skip %s to keep %s", incoming, existing),
						"Find alternative that satisfies both needs",
					},
				}
			}
		}

		incomingReqs := g.allRequirements(incoming)
		var accumulatedReqs []string
		seen := map[string]struct{}{}
		for _, existing := range accumulated {
			for _, req := range g.allRequirements(existing) {
				if _, ok := seen[req]; ok {
					continue
				}
				seen[req] = struct{}{}
				accumulatedReqs = append(accumulatedReqs, req)
			}
		}

		for _, newReq := range incomingReqs {
			for _, accReq := range accumulatedReqs {
				if g.IsMutex(newReq, accReq) {
					participants := append([]string{incoming}, accumulated...)
					return &ConflictPath{
						ConflictType: "transitive_conflict",
						Participants: participants,
						Path:         append([]string{}, constraints[:i+1]...),
						Severity:     0.8,
						Explanation:  fmt.Sprintf("%s requires %s which conflicts with %s", incoming, newReq, accReq),
						ResolutionHints: []string{
							fmt.Sprintf("Choose between %s and constraints requiring %s", incoming, accReq),
							"Consider partial implementation",
							"Look for alternative solutions",
						},
					}
				}
			}
		}

		withIncoming := append(append([]string{}, accumulated...), incoming)
		if conflict := checkThresholdViolations(withIncoming); conflict != nil {
			return conflict
		}

		accumulated = append(accumulated, incoming)
	}

	return nil
}

// checkThresholdViolations catches conflicts caused by accumulation rather
// than any single pair, like compact enclosures running out of I/O space.
func checkThresholdViolations(constraints []string) *ConflictPath {
	active := map[string]bool{}
	for _, id := range constraints {
		active[id] = true
	}

	spaceIDs := []string{"CNST_COMPACT_FORM", "CNST_MODULAR", "CNST_DIGITAL_IO_MIN_64", "CNST_DIGITAL_IO_MIN_128"}
	activeSpace := intersect(constraints, spaceIDs)

	if active["CNST_COMPACT_FORM"] {
		if active["CNST_DIGITAL_IO_MIN_128"] {
			return &ConflictPath{
				ConflictType: "space_violation",
				Participants: activeSpace,
				Path:         activeSpace,
				Severity:     0.9,
				Explanation:  "Compact form factor cannot accommodate 128 I/O points",
				ResolutionHints: []string{
					"Use larger form factor",
					"Reduce I/O count",
					"Use distributed I/O modules",
				},
			}
		}
		if active["CNST_DIGITAL_IO_MIN_64"] && active["CNST_MODULAR"] {
			return &ConflictPath{
				ConflictType: "space_warning",
				Participants: activeSpace,
				Path:         activeSpace,
				Severity:     0.6,
				Explanation:  "Compact + Modular + 64 I/O is challenging but possible",
				ResolutionHints: []string{
					"Consider stackable modules",
					"Use high-density connectors",
				},
			}
		}
	}

	powerIDs := []string{"CNST_POWER_MAX_10W", "CNST_POWER_MAX_20W", "CNST_GPU_REQUIRED", "CNST_PROCESSOR_MIN_I7"}
	activePower := intersect(constraints, powerIDs)

	if active["CNST_POWER_MAX_10W"] && (active["CNST_GPU_REQUIRED"] || active["CNST_PROCESSOR_MIN_I7"]) {
		return &ConflictPath{
			ConflictType: "power_violation",
			Participants: activePower,
			Path:         activePower,
			Severity:     1.0,
			Explanation:  "10W power limit incompatible with high-performance components",
			ResolutionHints: []string{
				"Increase power budget",
				"Use low-power alternatives",
				"Consider edge AI accelerators",
			},
		}
	}

	return nil
}

func intersect(ordered []string, members []string) []string {
	want := map[string]bool{}
	for _, id := range members {
		want[id] = true
	}
	var result []string
	for _, id := range ordered {
		if want[id] {
			result = append(result, id)
		}
	}
	return result
}

// FindResolutionPath suggests alternative constraints from the same mutex
// categories that avoid the given conflict set.
func (g *Graph) FindResolutionPath(conflicting []string) []string {
	var alternatives []string
	seen := map[string]struct{}{}

	conflictSet := map[string]bool{}
	for _, id := range conflicting {
		conflictSet[id] = true
	}

	categories := make([]string, 0, len(g.categories))
	for category := range g.categories {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	for _, constraintID := range conflicting {
		for _, category := range categories {
			if !contains(g.categories[category], constraintID) {
				continue
			}
			for _, candidate := range g.categories[category] {
				if candidate == constraintID || conflictSet[candidate] {
					continue
				}
				clashes := false
				for _, other := range conflicting {
					if other != constraintID && g.IsMutex(candidate, other) {
						clashes = true
						break
					}
				}
				if clashes {
					continue
				}
				if _, ok := seen[candidate]; ok {
					continue
				}
				seen[candidate] = struct{}{}
				alternatives = append(alternatives, candidate)
			}
		}
	}

	return alternatives
}

func contains(list []string, id string) bool {
	for _, entry := range list {
		if entry == id {
			return true
		}
	}
	return false
}

// ExplainPath describes how two constraints relate, walking the graph when
// they are not directly connected.
func (g *Graph) ExplainPath(c1, c2 string) string {
	if g.IsMutex(c1, c2) {
		return fmt.Sprintf("%s x %s: Direct mutual exclusion", c1, c2)
	}

	type queued struct {
		id   string
		path []string
	}
	queue := []queued{{id: c1, path: []string{c1}}}
	visited := map[string]struct{}{c1: {}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, e := range g.adjacency[current.id] {
			if e.target == c2 {
				path := append(append([]string{}, current.path...), e.target)
				return formatPathExplanation(path, c1, c2)
			}
			if _, ok := visited[e.target]; ok {
				continue
			}
			visited[e.target] = struct{}{}
			next := append(append([]string{}, current.path...), e.target)
			queue = append(queue, queued{id: e.target, path: next})
		}
	}

	return fmt.Sprintf("No direct relationship found between %s and %s", c1, c2)
}

func formatPathExplanation(path []string, start, end string) string {
	if len(path) == 2 {
		return fmt.Sprintf("%s -> %s: Direct relationship", start, end)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Path from %s to %s:\n", start, end)
	for i := 0; i+1 < len(path); i++ {
		fmt.Fprintf(&b, "  %s -> %s\n", path[i], path[i+1])
	}
	return b.String()
}
