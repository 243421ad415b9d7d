package plugins

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gazar78gazar/reqMas-MVP/internal/agents/extractor"
	"github.com/gazar78gazar/reqMas-MVP/internal/config"
)

func initTestConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	if err := config.InitProjectDir(root); err != nil {
		t.Fatalf("init project: %v", err)
	}
	return &config.Config{
		ProjectDir:       root,
		ReqmasProjectDir: filepath.Join(root, ".reqmas"),
	}
}

func writeRule(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestDiscoverMergesYAMLAndGo(t *testing.T) {
	cfg := initTestConfig(t)
	writeRule(t, cfg.RulesDir(), "rule.yaml", sampleRule)
	writeRule(t, cfg.RulesDir(), "go-rule.go", goRuleSource)

	defs, err := Discover(cfg)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}
	ids := map[string]bool{}
	for _, def := range defs {
		ids[def.Definition.ID] = true
	}
	if !ids["custom-io"] || !ids["go-rule"] {
		t.Fatalf("unexpected ids: %v", ids)
	}
}

func TestDiscoverLaterFileWins(t *testing.T) {
	cfg := initTestConfig(t)
	writeRule(t, cfg.RulesDir(), "a.yaml", "id: shared\nversion: 1.0.0\npattern: alpha\nconstraints:\n  - id: CNST_ALPHA\n")
	writeRule(t, cfg.RulesDir(), "b.yaml", "id: shared\nversion: 2.0.0\npattern: beta\nconstraints:\n  - id: CNST_BETA\n")

	defs, err := Discover(cfg)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition after dedupe, got %d", len(defs))
	}
	if defs[0].Definition.Pattern != "beta" {
		t.Fatalf("expected later file to win, got %+v", defs[0].Definition)
	}
}

func TestDiscoverNilConfig(t *testing.T) {
	defs, err := Discover(nil)
	if err != nil {
		t.Fatalf("nil config should not error: %v", err)
	}
	if defs != nil {
		t.Fatalf("expected nil definitions, got %v", defs)
	}
}

func TestInstallRulesExtendsExtractor(t *testing.T) {
	cfg := initTestConfig(t)
	writeRule(t, cfg.RulesDir(), "rule.yaml", sampleRule)
	t.Cleanup(func() { extractor.SetCustomRules(nil) })

	count, err := InstallRules(cfg)
	if err != nil {
		t.Fatalf("install rules: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 installed rule, got %d", count)
	}
	candidates := extractor.Extract("Sensors run along the conveyor line")
	var found *extractor.Candidate
	for i := range candidates {
		if candidates[i].ID == "CNST_CONVEYOR_LINE" {
			found = &candidates[i]
		}
	}
	if found == nil {
		t.Fatalf("expected custom rule candidate, got %+v", candidates)
	}
	if found.Strength != 10 || found.Confidence != 0.9 {
		t.Fatalf("unexpected candidate: %+v", found)
	}
}

func TestInstallRulesEmptyProject(t *testing.T) {
	cfg := initTestConfig(t)
	count, err := InstallRules(cfg)
	if err != nil {
		t.Fatalf("install rules: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no rules in fresh project, got %d", count)
	}
}
