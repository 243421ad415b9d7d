package plugins

import (
	"fmt"
	"sort"

	"github.com/gazar78gazar/reqMas-MVP/internal/agents/extractor"
	"github.com/gazar78gazar/reqMas-MVP/internal/config"
)

// Discover loads every rule definition under the project's rules
// directory, YAML and Go alike. Definitions sharing an id override in
// path order, later files winning, so a project can shadow a rule
// without deleting its file.
func Discover(cfg *config.Config) ([]DefinitionFile, error) {
	if cfg == nil {
		return nil, nil
	}
	return discoverDir(cfg.RulesDir())
}

func discoverDir(dir string) ([]DefinitionFile, error) {
	yamlDefs, err := LoadDefinitionDir(dir)
	if err != nil {
		return nil, err
	}
	goDefs, err := LoadGoDefinitionDir(dir)
	if err != nil {
		return nil, err
	}
	merged := append(yamlDefs, goDefs...)
	if len(merged) == 0 {
		return nil, nil
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Path < merged[j].Path })

	index := make(map[string]int, len(merged))
	var out []DefinitionFile
	for _, file := range merged {
		if at, ok := index[file.Definition.ID]; ok {
			out[at] = file
			continue
		}
		index[file.Definition.ID] = len(out)
		out = append(out, file)
	}
	return out, nil
}

// InstallRules compiles the project's rule definitions and installs
// them into the extractor. It returns the number of rules installed.
func InstallRules(cfg *config.Config) (int, error) {
	files, err := Discover(cfg)
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		return 0, nil
	}
	rules := make([]extractor.Rule, 0, len(files))
	for _, file := range files {
		rule, err := file.Definition.Compile()
		if err != nil {
			return 0, fmt.Errorf("plugin: %s: %w", file.Path, err)
		}
		rules = append(rules, rule)
	}
	extractor.SetCustomRules(rules)
	return len(rules), nil
}
