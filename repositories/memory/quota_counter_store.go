// Package memory holds in-process repository implementations used for single-node
// deployments and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/tool-governance/models"
)

type counterKey struct {
	tenantID uuid.UUID
	tool     string
}

type counterEntry struct {
	mu      sync.Mutex
	counter *models.QuotaCounter
}

// QuotaCounterStore keeps counters in process memory with one lock per (tenant, tool) key.
// Counters are lost on restart.
type QuotaCounterStore struct {
	mu      sync.Mutex // guards entries, never held while a counter is updated
	entries map[counterKey]*counterEntry
}

// NewQuotaCounterStore creates an empty in-memory counter store
func NewQuotaCounterStore() *QuotaCounterStore {
	return &QuotaCounterStore{entries: make(map[counterKey]*counterEntry)}
}

func (s *QuotaCounterStore) entry(tenantID uuid.UUID, tool string, create bool) *counterEntry {
	key := counterKey{tenantID: tenantID, tool: tool}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok && create {
		e = &counterEntry{}
		s.entries[key] = e
	}
	return e
}

// Reserve implements repositories.QuotaCounterStore
func (s *QuotaCounterStore) Reserve(ctx context.Context, policy *models.QuotaPolicy, now time.Time) (*models.QuotaDecision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e := s.entry(policy.TenantID, policy.ToolName, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.counter == nil {
		e.counter = models.NewQuotaCounter(policy.TenantID, policy.ToolName, now)
	}
	return e.counter.Reserve(policy, now), nil
}

// Get implements repositories.QuotaCounterStore
func (s *QuotaCounterStore) Get(ctx context.Context, tenantID uuid.UUID, tool string, now time.Time) (*models.QuotaCounter, error) {
	e := s.entry(tenantID, tool, false)
	if e == nil {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.counter == nil {
		return nil, nil
	}
	c := *e.counter
	c.RollForward(now)
	return &c, nil
}
