package constraint

import (
	"strings"
	"testing"

	"github.com/gazar78gazar/reqMas-MVP/internal/catalog"
)

func testRelationships() catalog.Relationships {
	return catalog.Relationships{
		MutexPairs: [][2]string{
			{"CNST_FANLESS", "CNST_GPU_REQUIRED"},
			{"CNST_POWER_MAX_10W", "CNST_PROCESSOR_MIN_I7"},
			{"CNST_COMPACT_FORM", "CNST_DIGITAL_IO_MIN_64"},
			{"CNST_COMPACT_FORM", "CNST_DIGITAL_IO_MIN_128"},
			{"CNST_INDOOR_USE", "CNST_IP69K"},
			{"CNST_WIFI", "CNST_LATENCY_MAX_1MS"},
			{"CNST_POWER_MAX_10W", "CNST_COOLING_ACTIVE"},
		},
		Requires: map[string][]string{
			"CNST_GPU_REQUIRED":       {"CNST_COOLING_ACTIVE", "CNST_POWER_MIN_100W"},
			"CNST_PROCESSOR_MIN_I7":   {"CNST_MEMORY_MIN_8GB"},
			"CNST_DIGITAL_IO_MIN_128": {"CNST_EXPANSION_SLOTS", "CNST_LARGE_FORM"},
		},
		Implies: map[string][]string{
			"CNST_OUTDOOR": {"CNST_WEATHER_RESISTANT", "CNST_TEMP_EXTENDED"},
		},
		Limits: map[string][]string{
			"CNST_COMPACT_FORM": {"CNST_IO_LIMITED"},
		},
	}
}

func newTestGraph() *Graph {
	return NewGraph(testRelationships(), testMutexRules())
}

func TestIsMutexEitherOrder(t *testing.T) {
	graph := newTestGraph()

	if !graph.IsMutex("CNST_FANLESS", "CNST_GPU_REQUIRED") {
		t.Fatalf("expected fanless/gpu mutex")
	}
	if !graph.IsMutex("CNST_GPU_REQUIRED", "CNST_FANLESS") {
		t.Fatalf("mutex should be symmetric")
	}
	if graph.IsMutex("CNST_FANLESS", "CNST_WIFI") {
		t.Fatalf("unexpected mutex")
	}
}

func TestDetectDirectMutexConflict(t *testing.T) {
	graph := newTestGraph()

	conflict := graph.DetectProgressiveConflict([]string{
		"CNST_FANLESS",
		"CNST_MODBUS_TCP",
		"CNST_GPU_REQUIRED",
	})
	if conflict == nil {
		t.Fatalf("expected direct mutex conflict")
	}
	if conflict.ConflictType != "direct_mutex" || conflict.Severity != 1.0 {
		t.Fatalf("unexpected conflict: %+v", conflict)
	}
	if !strings.Contains(conflict.Explanation, "CNST_GPU_REQUIRED conflicts with previously set CNST_FANLESS") {
		t.Fatalf("unexpected explanation: %q", conflict.Explanation)
	}
	if len(conflict.Path) != 3 {
		t.Fatalf("unexpected path: %v", conflict.Path)
	}
}

func TestDetectTransitiveConflict(t *testing.T) {
	rel := testRelationships()
	rel.MutexPairs = [][2]string{
		{"CNST_POWER_MAX_10W", "CNST_COOLING_ACTIVE"},
	}
	graph := NewGraph(rel, nil)

	// GPU requires active cooling, which is mutex with the 10W budget.
	conflict := graph.DetectProgressiveConflict([]string{
		"CNST_POWER_MAX_10W",
		"CNST_GPU_REQUIRED",
	})
	if conflict == nil {
		t.Fatalf("expected conflict")
	}
	if conflict.ConflictType != "transitive_conflict" || conflict.Severity != 0.8 {
		t.Fatalf("unexpected conflict: %+v", conflict)
	}
	if !strings.Contains(conflict.Explanation, "requires") {
		t.Fatalf("unexpected explanation: %q", conflict.Explanation)
	}
}

func TestDetectSpaceThresholdViolation(t *testing.T) {
	graph := newTestGraph()

	conflict := graph.DetectProgressiveConflict([]string{
		"CNST_MODULAR",
		"CNST_COMPACT_FORM",
		"CNST_DIGITAL_IO_MIN_64",
	})
	if conflict == nil {
		t.Fatalf("expected space warning")
	}
	if conflict.ConflictType != "direct_mutex" {
		// compact form and 64 I/O are also a direct mutex pair, which wins
		t.Fatalf("unexpected conflict type: %+v", conflict)
	}

	warning := checkThresholdViolations([]string{
		"CNST_MODULAR",
		"CNST_COMPACT_FORM",
		"CNST_DIGITAL_IO_MIN_64",
	})
	if warning == nil || warning.ConflictType != "space_warning" || warning.Severity != 0.6 {
		t.Fatalf("unexpected threshold result: %+v", warning)
	}
}

func TestDetectPowerThresholdViolation(t *testing.T) {
	violation := checkThresholdViolations([]string{
		"CNST_POWER_MAX_10W",
		"CNST_PROCESSOR_MIN_I7",
	})
	if violation == nil || violation.ConflictType != "power_violation" || violation.Severity != 1.0 {
		t.Fatalf("unexpected threshold result: %+v", violation)
	}
}

func TestNoConflictForCompatibleConstraints(t *testing.T) {
	graph := newTestGraph()

	if conflict := graph.DetectProgressiveConflict([]string{"CNST_MODBUS_TCP", "CNST_OPCUA", "CNST_ANALOG_IO_MIN_8"}); conflict != nil {
		t.Fatalf("unexpected conflict: %+v", conflict)
	}
	if conflict := graph.DetectProgressiveConflict([]string{"CNST_MODBUS_TCP"}); conflict != nil {
		t.Fatalf("single constraint cannot conflict: %+v", conflict)
	}
}

func TestFindResolutionPathSuggestsAlternatives(t *testing.T) {
	graph := newTestGraph()

	alternatives := graph.FindResolutionPath([]string{"CNST_POWER_MAX_10W", "CNST_PROCESSOR_MIN_I7"})
	if len(alternatives) == 0 {
		t.Fatalf("expected alternatives")
	}
	for _, alt := range alternatives {
		if alt == "CNST_POWER_MAX_10W" || alt == "CNST_PROCESSOR_MIN_I7" {
			t.Fatalf("alternative repeats conflicting constraint: %q", alt)
		}
	}
}

func TestExplainPath(t *testing.T) {
	graph := newTestGraph()

	direct := graph.ExplainPath("CNST_FANLESS", "CNST_GPU_REQUIRED")
	if !strings.Contains(direct, "Direct mutual exclusion") {
		t.Fatalf("unexpected explanation: %q", direct)
	}

	oneHop := graph.ExplainPath("CNST_PROCESSOR_MIN_I7", "CNST_MEMORY_MIN_8GB")
	if !strings.Contains(oneHop, "Direct relationship") {
		t.Fatalf("unexpected explanation: %q", oneHop)
	}

	none := graph.ExplainPath("CNST_MODBUS_TCP", "CNST_MEMORY_MIN_8GB")
	if !strings.Contains(none, "No direct relationship") {
		t.Fatalf("unexpected explanation: %q", none)
	}
}
