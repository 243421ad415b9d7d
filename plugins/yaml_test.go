package plugins

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleRule = `id: custom-io
version: 1.0.0
category: io
pattern: 'conveyor\s+line'
constraints:
  - id: CNST_CONVEYOR_LINE
    strength: 10
    confidence: 0.9
`

func TestParseDefinitionYAML(t *testing.T) {
	def, err := ParseDefinitionYAML([]byte(sampleRule))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if def.ID != "custom-io" || def.Category != "io" {
		t.Fatalf("unexpected definition: %+v", def)
	}
	if len(def.Constraints) != 1 || def.Constraints[0].ID != "CNST_CONVEYOR_LINE" {
		t.Fatalf("unexpected constraints: %+v", def.Constraints)
	}
}

func TestParseDefinitionYAMLAppliesDefaults(t *testing.T) {
	def, err := ParseDefinitionYAML([]byte("id: custom-io\nversion: 1.0.0\npattern: conveyor\nconstraints:\n  - id: CNST_CONVEYOR_LINE\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := def.Constraints[0]; got.Strength != 4 || got.Confidence != 0.8 {
		t.Fatalf("expected defaults applied, got %+v", got)
	}
}

func TestParseDefinitionYAMLErrors(t *testing.T) {
	if _, err := ParseDefinitionYAML([]byte("")); err == nil {
		t.Fatalf("expected empty payload to fail validation")
	}
	if _, err := ParseDefinitionYAML([]byte("id: broken\nversion: 1.0.0\npattern: conveyor\n")); err == nil {
		t.Fatalf("expected definition without constraints to fail validation")
	}
}

func TestLoadDefinitionDir(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "rule.yaml")
	if err := os.WriteFile(path, []byte(sampleRule), 0644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	defs, err := LoadDefinitionDir(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(defs))
	}
	if defs[0].Path != path {
		t.Fatalf("expected path %s, got %s", path, defs[0].Path)
	}
	if defs[0].Definition.ID != "custom-io" {
		t.Fatalf("unexpected id: %+v", defs[0].Definition)
	}
}

func TestLoadDefinitionDirMissing(t *testing.T) {
	defs, err := LoadDefinitionDir(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("missing dir should not error: %v", err)
	}
	if defs != nil {
		t.Fatalf("expected nil slice for missing dir, got %v", defs)
	}
}
