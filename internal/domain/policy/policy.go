// Package policy defines the rule-based security model governing which
// capabilities the agent may invoke and with what arguments.
package policy

import "fmt"

// Action is the outcome class of a policy decision.
type Action string

const (
	ActionAllow Action = "allow"
	ActionBlock Action = "block"
	ActionFlag  Action = "flag" // requires human approval before proceeding
)

// validActions enumerates all valid rule actions.
var validActions = map[Action]bool{
	ActionAllow: true,
	ActionBlock: true,
	ActionFlag:  true,
}

// Rule matches one capability, optionally constrained by per-argument
// regular expressions. A rule matches only if the target matches and
// every listed argument fully matches its pattern.
type Rule struct {
	ID            string            `json:"id" yaml:"id"`
	TargetTool    string            `json:"target_tool" yaml:"target_tool"`
	ArgumentMatch map[string]string `json:"argument_match,omitempty" yaml:"argument_match,omitempty"`
	Action        Action            `json:"action" yaml:"action"`
	Reason        string            `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// RuleSet is an ordered rule list with a default action for calls no
// rule matches. Evaluation is first-match-wins in declaration order.
type RuleSet struct {
	Rules         []Rule `json:"rules" yaml:"rules"`
	DefaultAction Action `json:"default_action" yaml:"default_action"`

	// compiled regex cache, populated by Compile; rules whose patterns
	// fail to compile are recorded here and never match.
	compiled  map[string]matcherSet
	malformed map[string]bool
}

// Decision is the result of evaluating one capability invocation.
type Decision struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`
	RuleID string `json:"rule_id,omitempty"` // empty when the default applied
}

// Validate checks structural validity of the rule set.
func (rs *RuleSet) Validate() error {
	if rs.DefaultAction != "" && !validActions[rs.DefaultAction] {
		return fmt.Errorf("invalid default_action %q", rs.DefaultAction)
	}
	seen := make(map[string]bool, len(rs.Rules))
	for i, r := range rs.Rules {
		if r.ID == "" {
			return fmt.Errorf("rule %d: id is required", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("rule %d: duplicate id %q", i, r.ID)
		}
		seen[r.ID] = true
		if r.TargetTool == "" {
			return fmt.Errorf("rule %q: target_tool is required", r.ID)
		}
		if !validActions[r.Action] {
			return fmt.Errorf("rule %q: invalid action %q", r.ID, r.Action)
		}
	}
	return nil
}

// BlockAll returns the fail-secure rule set used when the configured
// policy source is unreadable or invalid: every call is blocked.
func BlockAll(reason string) *RuleSet {
	rs := &RuleSet{DefaultAction: ActionBlock}
	if reason != "" {
		rs.Rules = []Rule{{
			ID:         "fail-secure",
			TargetTool: "*",
			Action:     ActionBlock,
			Reason:     reason,
		}}
	}
	_ = rs.Compile()
	return rs
}
