package policy

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
)

// matcherSet holds the compiled argument patterns of one rule.
type matcherSet map[string]*regexp.Regexp

// Compile precompiles every rule's argument patterns. Rules containing a
// malformed pattern are recorded as non-matching; their ids are returned
// so the caller can log them. Compile must run before Evaluate.
func (rs *RuleSet) Compile() []string {
	rs.compiled = make(map[string]matcherSet, len(rs.Rules))
	rs.malformed = make(map[string]bool)

	var bad []string
	for _, r := range rs.Rules {
		ms := make(matcherSet, len(r.ArgumentMatch))
		ok := true
		for arg, pattern := range r.ArgumentMatch {
			// Anchor so the argument must fully match the pattern.
			re, err := regexp.Compile("^(?:" + pattern + ")$")
			if err != nil {
				ok = false
				break
			}
			ms[arg] = re
		}
		if !ok {
			rs.malformed[r.ID] = true
			bad = append(bad, r.ID)
			continue
		}
		rs.compiled[r.ID] = ms
	}
	return bad
}

// Evaluate checks one capability invocation against the rule set using
// first-match-wins. A rule matches when its target matches the name and
// every listed argument, stringified, fully matches its pattern.
// No matching rule yields the set's default action.
func (rs *RuleSet) Evaluate(toolName string, args map[string]any) Decision {
	for i := range rs.Rules {
		r := &rs.Rules[i]
		if rs.malformed[r.ID] {
			continue
		}
		if !matchTarget(r.TargetTool, toolName) {
			continue
		}
		if !rs.matchArgs(r, args) {
			continue
		}
		reason := r.Reason
		if reason == "" {
			reason = fmt.Sprintf("matched rule %q", r.ID)
		}
		return Decision{Action: r.Action, Reason: reason, RuleID: r.ID}
	}

	action := rs.DefaultAction
	if action == "" {
		action = ActionBlock
	}
	return Decision{Action: action, Reason: "no matching rule; default action applied"}
}

// matchArgs reports whether every pattern in the rule matches the
// corresponding argument. An argument missing from the call is a non-match.
func (rs *RuleSet) matchArgs(r *Rule, args map[string]any) bool {
	ms := rs.compiled[r.ID]
	for arg, re := range ms {
		v, ok := args[arg]
		if !ok {
			return false
		}
		if !re.MatchString(stringifyArg(v)) {
			return false
		}
	}
	return true
}

// matchTarget checks a target specifier against a capability name.
// Glob-style wildcards are supported: "*" matches everything,
// "git_*" matches "git_commit".
func matchTarget(pattern, name string) bool {
	if pattern == name {
		return true
	}
	matched, err := filepath.Match(pattern, name)
	return err == nil && matched
}

// stringifyArg renders an argument value in the stable form rule patterns
// are written against: scalars via fmt.Sprint, composites as JSON.
func stringifyArg(v any) string {
	switch v.(type) {
	case nil:
		return ""
	case string, bool, int, int64, float64, json.Number:
		return fmt.Sprint(v)
	}
	if data, err := json.Marshal(v); err == nil {
		return string(data)
	}
	return fmt.Sprint(v)
}
