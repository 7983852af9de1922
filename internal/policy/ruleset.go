package policy

import (
	"fmt"
	"os"

	"github.com/agentcore/agentcore/pkg/core"
	"gopkg.in/yaml.v3"
)

// ruleFile is the on-disk YAML shape for a RuleSet, mirroring the teacher's
// use of yaml.v3 for policy configuration (internal/tools/policy/types.go).
type ruleFile struct {
	MaxAutoApprovals int `yaml:"max_auto_approvals"`
	Rules            []struct {
		Effect  core.Effect `yaml:"effect"`
		Pattern string      `yaml:"pattern"`
	} `yaml:"rules"`
}

// LoadRuleSet reads a rules.yaml file into a core.RuleSet. Rule order in
// the file is preserved; Source on each Rule is "path:line-in-file" using
// the YAML sequence index (1-based) since yaml.v3 does not expose line
// numbers for decoded slice elements.
func LoadRuleSet(path string) (core.RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return core.RuleSet{}, fmt.Errorf("policy: read rules %s: %w", path, err)
	}
	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return core.RuleSet{}, fmt.Errorf("policy: parse rules %s: %w", path, err)
	}
	rs := core.RuleSet{MaxAutoApprovals: rf.MaxAutoApprovals}
	for i, r := range rf.Rules {
		pat, err := ParsePattern(r.Pattern)
		if err != nil {
			return core.RuleSet{}, fmt.Errorf("policy: rule %d: %w", i+1, err)
		}
		rs.Rules = append(rs.Rules, core.Rule{
			Effect:  r.Effect,
			Pattern: pat,
			Source:  fmt.Sprintf("%s:%d", path, i+1),
		})
	}
	return rs, nil
}
