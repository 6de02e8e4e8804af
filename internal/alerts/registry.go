// Package alerts owns subscriber-defined alert conditions and their
// evaluation against fresh signals.
package alerts

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Kind selects the monitored metric family.
type Kind string

const (
	KindFunding      Kind = "funding"
	KindLiquidation  Kind = "liquidation"
	KindOpenInterest Kind = "openInterest"
	KindVolume       Kind = "volume"
	KindDivergence   Kind = "divergence"
)

// Comparison selects the crossing semantics.
type Comparison string

const (
	// CompareCrosses fires when the magnitude reaches the threshold,
	// as used for funding rates where sign flips are common.
	CompareCrosses Comparison = "crosses"
	CompareAbove   Comparison = "above"
	CompareBelow   Comparison = "below"
)

// Condition is one registered alert. Mutated only by the evaluator
// (armed/lastFiredAt); everything else is immutable after Register.
type Condition struct {
	ID           int64
	SubscriberID string
	Kind         Kind
	// Asset is required for per-asset kinds; empty on a liquidation
	// condition means venue-wide cascades.
	Asset       string
	Comparison  Comparison
	Threshold   float64
	Armed       bool
	LastFiredAt *time.Time
	CreatedAt   time.Time
}

// ConfigError rejects an invalid registration synchronously; the
// condition never enters the registry.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid alert condition: %s: %s", e.Field, e.Reason)
}

// Registry is the flat condition store indexed by id with a secondary
// subscriber index. All access is serialised; callers never observe a
// partially registered or partially removed condition.
type Registry struct {
	mu           sync.Mutex
	nextID       int64
	conditions   map[int64]*Condition
	bySubscriber map[string]map[int64]struct{}
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conditions:   make(map[int64]*Condition),
		bySubscriber: make(map[string]map[int64]struct{}),
	}
}

// Register validates and appends a condition, returning it armed.
func (r *Registry) Register(subscriberID string, kind Kind, asset string, cmp Comparison, threshold float64) (Condition, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if err := validate(subscriberID, kind, asset, cmp, threshold); err != nil {
		return Condition{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	cond := &Condition{
		ID:           r.nextID,
		SubscriberID: subscriberID,
		Kind:         kind,
		Asset:        asset,
		Comparison:   cmp,
		Threshold:    threshold,
		Armed:        true,
		CreatedAt:    time.Now().UTC(),
	}
	r.insertLocked(cond)
	return *cond, nil
}

// Restore reloads persisted conditions, keeping ids stable and the id
// sequence ahead of the highest restored id.
func (r *Registry) Restore(conds []Condition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range conds {
		cond := conds[i]
		if cond.ID <= 0 {
			continue
		}
		r.insertLocked(&cond)
		if cond.ID > r.nextID {
			r.nextID = cond.ID
		}
	}
}

func (r *Registry) insertLocked(cond *Condition) {
	r.conditions[cond.ID] = cond
	subs, ok := r.bySubscriber[cond.SubscriberID]
	if !ok {
		subs = make(map[int64]struct{})
		r.bySubscriber[cond.SubscriberID] = subs
	}
	subs[cond.ID] = struct{}{}
}

// Remove deletes a condition. Removing an unknown id reports false.
func (r *Registry) Remove(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cond, ok := r.conditions[id]
	if !ok {
		return false
	}
	delete(r.conditions, id)
	if subs, ok := r.bySubscriber[cond.SubscriberID]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(r.bySubscriber, cond.SubscriberID)
		}
	}
	return true
}

// Get returns a copy of the condition.
func (r *Registry) Get(id int64) (Condition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cond, ok := r.conditions[id]
	if !ok {
		return Condition{}, false
	}
	return *cond, true
}

// List returns copies of every condition ordered by id.
func (r *Registry) List() []Condition {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Condition, 0, len(r.conditions))
	for _, cond := range r.conditions {
		out = append(out, *cond)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListBySubscriber returns copies of one subscriber's conditions
// ordered by id.
func (r *Registry) ListBySubscriber(subscriberID string) []Condition {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Condition, 0)
	for id := range r.bySubscriber[subscriberID] {
		if cond, ok := r.conditions[id]; ok {
			out = append(out, *cond)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len reports the number of registered conditions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conditions)
}

func validate(subscriberID string, kind Kind, asset string, cmp Comparison, threshold float64) error {
	if strings.TrimSpace(subscriberID) == "" {
		return &ConfigError{Field: "subscriberId", Reason: "must not be empty"}
	}

	switch kind {
	case KindFunding, KindOpenInterest, KindVolume, KindDivergence:
		if asset == "" {
			return &ConfigError{Field: "asset", Reason: fmt.Sprintf("required for kind %q", kind)}
		}
	case KindLiquidation:
		// Asset optional: empty means venue-wide cascade count.
	default:
		return &ConfigError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", kind)}
	}

	switch cmp {
	case CompareAbove, CompareBelow:
	case CompareCrosses:
		if threshold <= 0 {
			return &ConfigError{Field: "threshold", Reason: "crosses comparison needs a positive magnitude"}
		}
	default:
		return &ConfigError{Field: "comparison", Reason: fmt.Sprintf("unknown comparison %q", cmp)}
	}

	if math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return &ConfigError{Field: "threshold", Reason: "must be finite"}
	}
	return nil
}
