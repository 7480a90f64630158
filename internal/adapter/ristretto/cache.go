// Package ristretto implements the policy decision cache on
// dgraph-io/ristretto as an in-process L1 cache.
package ristretto

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/steward-ai/steward/internal/domain/policy"
)

// decisionCost approximates the in-memory size of one cached decision.
// Ristretto only needs a stable relative cost, not exact bytes.
const decisionCost = 256

// DecisionCache caches policy decisions keyed by (tool, arguments).
// Clear is implemented by bumping a generation prefix rather than
// walking entries; stale generations age out via TTL.
type DecisionCache struct {
	c   *ristretto.Cache[string, policy.Decision]
	ttl time.Duration
	gen atomic.Uint64
}

// New creates a decision cache bounded at maxCostBytes total.
func New(maxCostBytes int64, ttl time.Duration) (*DecisionCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, policy.Decision]{
		NumCounters: maxCostBytes / decisionCost * 10, // ~10x expected items
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &DecisionCache{c: c, ttl: ttl}, nil
}

// Get retrieves a cached decision.
func (c *DecisionCache) Get(key string) (policy.Decision, bool) {
	return c.c.Get(c.versioned(key))
}

// Set stores a decision with the configured TTL.
func (c *DecisionCache) Set(key string, d policy.Decision) {
	c.c.SetWithTTL(c.versioned(key), d, decisionCost, c.ttl)
}

// Clear invalidates every cached decision.
func (c *DecisionCache) Clear() {
	c.gen.Add(1)
}

// Close shuts down the cache and releases resources.
func (c *DecisionCache) Close() {
	c.c.Close()
}

func (c *DecisionCache) versioned(key string) string {
	return strconv.FormatUint(c.gen.Load(), 10) + ":" + key
}
