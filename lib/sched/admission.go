package sched

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// --------------------------------------------------------------------------
// Admission Groups
// --------------------------------------------------------------------------

// DefaultAdmissionSpecs returns the per-tag budgets for concurrently
// outstanding cross-shard calls.
func DefaultAdmissionSpecs() map[string]int64 {
	return map[string]int64{
		DomainRaft:    256,
		DomainCluster: 64,
		DomainKafka:   512,
		DomainAdmin:   32,
	}
}

// AdmissionGroup caps the number of concurrently in-flight cross-shard calls
// for one tag. When the budget is exhausted Acquire blocks until an in-flight
// call completes.
type AdmissionGroup struct {
	name      string
	inflight  *semaphore.Weighted
	destroyed atomic.Bool
}

// Name returns the group name.
func (g *AdmissionGroup) Name() string { return g.name }

// Acquire takes one admission slot, blocking while the budget is exhausted.
// Every successful Acquire must be paired with a Release.
func (g *AdmissionGroup) Acquire(ctx context.Context) error {
	if g.destroyed.Load() {
		return fmt.Errorf("admission group %s already destroyed", g.name)
	}
	return g.inflight.Acquire(ctx, 1)
}

// TryAcquire takes a slot without blocking, reporting whether it succeeded.
func (g *AdmissionGroup) TryAcquire() bool {
	if g.destroyed.Load() {
		return false
	}
	return g.inflight.TryAcquire(1)
}

// Release returns an admission slot.
func (g *AdmissionGroup) Release() {
	g.inflight.Release(1)
}

// AdmissionGroups is the node-wide set of cross-shard call budgets.
type AdmissionGroups struct {
	groups map[string]*AdmissionGroup
}

// CreateAdmissionGroups validates and creates all groups, all-or-nothing.
func CreateAdmissionGroups(specs map[string]int64) (*AdmissionGroups, error) {
	groups := make(map[string]*AdmissionGroup, len(specs))
	for name, budget := range specs {
		if name == "" {
			return nil, fmt.Errorf("admission group with empty name")
		}
		if budget <= 0 {
			return nil, fmt.Errorf("admission group %s: budget must be positive, got %d", name, budget)
		}
		groups[name] = &AdmissionGroup{
			name:     name,
			inflight: semaphore.NewWeighted(budget),
		}
	}

	log.Infof("created %d admission groups", len(groups))
	return &AdmissionGroups{groups: groups}, nil
}

// Get returns the admission group with the given name.
func (gs *AdmissionGroups) Get(name string) (*AdmissionGroup, error) {
	g, ok := gs.groups[name]
	if !ok {
		return nil, fmt.Errorf("unknown admission group: %s", name)
	}
	return g, nil
}

// Destroy releases all groups. Calls already admitted run to completion;
// later Acquire calls fail.
func (gs *AdmissionGroups) Destroy() {
	for _, g := range gs.groups {
		g.destroyed.Store(true)
	}
	log.Infof("destroyed %d admission groups", len(gs.groups))
}
