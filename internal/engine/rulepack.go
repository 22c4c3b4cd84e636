package engine

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-pq/internal/models"
)

// RulePackFile is the YAML root structure of a rule pack.
type RulePackFile struct {
	Rules []models.Rule `yaml:"rules"`
}

// LoadRulePack reads and validates rules from path. A missing file yields no rules.
func LoadRulePack(path string) ([]models.Rule, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read rule pack: %w", err)
	}
	return ParseRulePack(data)
}

// ParseRulePack decodes a YAML rule pack and validates every rule in it.
func ParseRulePack(data []byte) ([]models.Rule, error) {
	var pack RulePackFile
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("parse rule pack: %w", err)
	}
	seen := make(map[string]struct{}, len(pack.Rules))
	for i, rule := range pack.Rules {
		if _, err := ValidateRule(rule); err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, rule.Name, err)
		}
		if rule.ID == "" {
			continue
		}
		if _, dup := seen[rule.ID]; dup {
			return nil, fmt.Errorf("rule %d: duplicate id %q", i, rule.ID)
		}
		seen[rule.ID] = struct{}{}
	}
	return pack.Rules, nil
}
