package plugins

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const goRuleSource = `package main

func RuleDefinitions() ([]map[string]any, error) {
	return []map[string]any{
		{
			"id":      "go-rule",
			"version": "1.0.0",
			"pattern": "palletizer",
			"constraints": []map[string]any{
				{"id": "CNST_PALLETIZER_CELL", "strength": 10},
			},
		},
	}, nil
}`

func TestLoadGoDefinitionDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "go-rule.go"), []byte(goRuleSource), 0644); err != nil {
		t.Fatalf("write plugin: %v", err)
	}
	defs, err := LoadGoDefinitionDir(dir)
	if err != nil {
		t.Fatalf("load go defs: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(defs))
	}
	if defs[0].Definition.ID != "go-rule" {
		t.Fatalf("unexpected id: %+v", defs[0].Definition)
	}
	if !strings.HasSuffix(defs[0].Path, "#0") {
		t.Fatalf("expected indexed path, got %s", defs[0].Path)
	}
	if got := defs[0].Definition.Constraints[0]; got.ID != "CNST_PALLETIZER_CELL" || got.Strength != 10 {
		t.Fatalf("unexpected constraint: %+v", got)
	}
}

func TestLoadGoDefinitionDirMissingFunc(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.go"), []byte("package main\n"), 0644); err != nil {
		t.Fatalf("write broken plugin: %v", err)
	}
	if _, err := LoadGoDefinitionDir(dir); err == nil {
		t.Fatalf("expected error for missing RuleDefinitions function")
	}
}

func TestLoadGoDefinitionDirMissing(t *testing.T) {
	defs, err := LoadGoDefinitionDir(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("missing dir should not error: %v", err)
	}
	if defs != nil {
		t.Fatalf("expected nil slice for missing dir, got %v", defs)
	}
}
