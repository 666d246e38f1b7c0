package routing

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// SubscriptionRegistry maps topic patterns to the agents subscribed to
// them. Resolution is served from memory; mutations are written through
// to the repository when one is configured, so the registry can be
// rebuilt after a restart with Load.
type SubscriptionRegistry struct {
	repo SubscriptionRepository // nil means memory-only

	mu        sync.RWMutex
	byPattern map[string]map[string]struct{}
	byAgent   map[string]map[string]struct{}
}

// NewSubscriptionRegistry creates an empty registry. repo may be nil for
// a memory-only registry (tests, embedded use).
func NewSubscriptionRegistry(repo SubscriptionRepository) *SubscriptionRegistry {
	return &SubscriptionRegistry{
		repo:      repo,
		byPattern: make(map[string]map[string]struct{}),
		byAgent:   make(map[string]map[string]struct{}),
	}
}

// Load replaces the in-memory state with the repository contents. Called
// once at startup, before the registry is shared.
func (r *SubscriptionRegistry) Load(ctx context.Context) error {
	if r.repo == nil {
		return nil
	}

	subs, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading subscriptions: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.byPattern = make(map[string]map[string]struct{})
	r.byAgent = make(map[string]map[string]struct{})
	for _, s := range subs {
		r.indexLocked(s.Pattern, s.AgentID)
	}
	return nil
}

// Subscribe adds an agent to a pattern. The pattern is validated first;
// a malformed pattern returns ErrInvalidPattern and changes nothing.
// Subscribing twice to the same pattern is a no-op.
func (r *SubscriptionRegistry) Subscribe(ctx context.Context, agentID, pattern string) error {
	if err := ValidatePattern(pattern); err != nil {
		return err
	}

	if r.repo != nil {
		if err := r.repo.Add(ctx, pattern, agentID); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.indexLocked(pattern, agentID)
	r.mu.Unlock()
	return nil
}

// Unsubscribe removes an agent from a pattern. Unsubscribing from a
// pattern the agent never held is a no-op.
func (r *SubscriptionRegistry) Unsubscribe(ctx context.Context, agentID, pattern string) error {
	if r.repo != nil {
		if err := r.repo.Remove(ctx, pattern, agentID); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.unindexLocked(pattern, agentID)
	r.mu.Unlock()
	return nil
}

// RemoveSubscriber removes every subscription held by an agent. Removing
// an agent with no subscriptions is a no-op.
func (r *SubscriptionRegistry) RemoveSubscriber(ctx context.Context, agentID string) error {
	if r.repo != nil {
		if err := r.repo.RemoveAgent(ctx, agentID); err != nil {
			return err
		}
	}

	r.mu.Lock()
	for pattern := range r.byAgent[agentID] {
		r.unindexLocked(pattern, agentID)
	}
	r.mu.Unlock()
	return nil
}

// Resolve returns the IDs of all agents whose patterns match topic, in
// sorted order with no duplicates. An agent subscribed through several
// matching patterns appears once. A topic nobody matches returns an
// empty slice.
func (r *SubscriptionRegistry) Resolve(topic string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for pattern, agents := range r.byPattern {
		if !Matches(pattern, topic) {
			continue
		}
		for id := range agents {
			seen[id] = struct{}{}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Patterns returns the patterns an agent is subscribed to, sorted.
func (r *SubscriptionRegistry) Patterns(agentID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	patterns := make([]string, 0, len(r.byAgent[agentID]))
	for p := range r.byAgent[agentID] {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)
	return patterns
}

// Count returns the number of distinct (pattern, agent) pairs.
func (r *SubscriptionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, agents := range r.byPattern {
		n += len(agents)
	}
	return n
}

func (r *SubscriptionRegistry) indexLocked(pattern, agentID string) {
	if r.byPattern[pattern] == nil {
		r.byPattern[pattern] = make(map[string]struct{})
	}
	r.byPattern[pattern][agentID] = struct{}{}

	if r.byAgent[agentID] == nil {
		r.byAgent[agentID] = make(map[string]struct{})
	}
	r.byAgent[agentID][pattern] = struct{}{}
}

func (r *SubscriptionRegistry) unindexLocked(pattern, agentID string) {
	if agents, ok := r.byPattern[pattern]; ok {
		delete(agents, agentID)
		if len(agents) == 0 {
			delete(r.byPattern, pattern)
		}
	}
	if patterns, ok := r.byAgent[agentID]; ok {
		delete(patterns, pattern)
		if len(patterns) == 0 {
			delete(r.byAgent, agentID)
		}
	}
}
