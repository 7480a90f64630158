package service

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync/atomic"

	"github.com/steward-ai/steward/internal/domain/policy"
)

// DecisionCache memoizes policy decisions keyed by (tool, arguments).
// Implementations may evict freely; a miss just re-evaluates.
type DecisionCache interface {
	Get(key string) (policy.Decision, bool)
	Set(key string, d policy.Decision)
	Clear()
}

// PolicyService owns the active rule set. The set is swapped atomically
// on reload so concurrent evaluations never see a torn state.
type PolicyService struct {
	log   *slog.Logger
	path  string
	cache DecisionCache
	rules atomic.Pointer[policy.RuleSet]

	// version identifies the active rule-set generation and is part of
	// every cache key, so a decision computed against an old set can
	// never be served after a reload, even if it lands in the cache late.
	version atomic.Uint64
}

// NewPolicyService loads the rule file at path. An unreadable or invalid
// file activates the fail-secure block-all set; the service never starts
// fail-open. cache may be nil.
func NewPolicyService(log *slog.Logger, path string, cache DecisionCache) *PolicyService {
	s := &PolicyService{log: log, path: path, cache: cache}

	rs, malformed, err := policy.LoadFromFile(path)
	if err != nil {
		log.Error("policy load failed, blocking all capabilities", "path", path, "error", err)
		s.rules.Store(policy.BlockAll("security policy unavailable"))
		return s
	}
	for _, id := range malformed {
		log.Warn("policy rule has malformed regex and will never match", "rule_id", id)
	}
	log.Info("policy loaded", "path", path, "rules", len(rs.Rules), "default", rs.DefaultAction)
	s.rules.Store(rs)
	return s
}

// Evaluate decides one capability invocation. Pure in (toolName, args,
// active rule set); results are memoized per rule-set generation.
func (s *PolicyService) Evaluate(toolName string, args map[string]any) policy.Decision {
	// The version is captured before the rules: if a reload lands in
	// between, the decision is stored under the retired generation's key
	// and never read back.
	key := decisionKey(s.version.Load(), toolName, args)
	if s.cache != nil {
		if d, ok := s.cache.Get(key); ok {
			return d
		}
	}
	d := s.rules.Load().Evaluate(toolName, args)
	if s.cache != nil {
		s.cache.Set(key, d)
	}
	return d
}

// Reload re-reads the rule file and swaps the active set atomically.
// A failed reload keeps the current set and returns the error; the cache
// is flushed only on a successful swap.
func (s *PolicyService) Reload() error {
	rs, malformed, err := policy.LoadFromFile(s.path)
	if err != nil {
		return fmt.Errorf("policy reload: %w", err)
	}
	for _, id := range malformed {
		s.log.Warn("policy rule has malformed regex and will never match", "rule_id", id)
	}
	s.rules.Store(rs)
	s.version.Add(1)
	if s.cache != nil {
		s.cache.Clear()
	}
	s.log.Info("policy reloaded", "path", s.path, "rules", len(rs.Rules))
	return nil
}

// RuleCount reports the size of the active rule set, for the status API.
func (s *PolicyService) RuleCount() int {
	return len(s.rules.Load().Rules)
}

// decisionKey derives a stable cache key from the rule-set generation
// and the invocation. json.Marshal sorts map keys, so equal argument
// maps key equally.
func decisionKey(version uint64, toolName string, args map[string]any) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(toolName))
	if data, err := json.Marshal(args); err == nil {
		_, _ = h.Write(data)
	}
	return fmt.Sprintf("%d:%s:%x", version, toolName, h.Sum64())
}
