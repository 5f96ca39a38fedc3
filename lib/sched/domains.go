package sched

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/sync/semaphore"
)

var log = logger.GetLogger("sched")

// Well-known domain and admission group names. They mirror the logical
// services sharing the node's listeners: raft replication, cluster metadata,
// the client-facing protocol and the admin surface.
const (
	DomainRaft    = "raft"
	DomainCluster = "cluster"
	DomainKafka   = "kafka"
	DomainAdmin   = "admin"
)

// --------------------------------------------------------------------------
// Scheduling Domains
// --------------------------------------------------------------------------

// DomainSpec configures a single scheduling domain.
type DomainSpec struct {
	// Shares is the maximum number of concurrently running tasks under this
	// domain. Must be positive.
	Shares int64
	// Priority orders disk/network access between domains. Only recorded,
	// higher is more urgent.
	Priority int
}

// DefaultDomainSpecs returns the domain set a broker node runs with when the
// configuration does not override it.
func DefaultDomainSpecs() map[string]DomainSpec {
	return map[string]DomainSpec{
		DomainRaft:    {Shares: 64, Priority: 100},
		DomainCluster: {Shares: 32, Priority: 50},
		DomainKafka:   {Shares: 128, Priority: 50},
		DomainAdmin:   {Shares: 16, Priority: 10},
	}
}

// Domain is a named execution budget. Services that execute requests under a
// domain must Retain it for their lifetime so the domain cannot be destroyed
// underneath them.
type Domain struct {
	name      string
	priority  int
	slots     *semaphore.Weighted
	refs      atomic.Int64
	destroyed atomic.Bool
}

// Name returns the domain name.
func (d *Domain) Name() string { return d.name }

// Priority returns the configured priority.
func (d *Domain) Priority() int { return d.priority }

// Retain records a live reference from a service. It fails if the domain has
// already been destroyed.
func (d *Domain) Retain() error {
	if d.destroyed.Load() {
		return fmt.Errorf("scheduling domain %s already destroyed", d.name)
	}
	d.refs.Add(1)
	return nil
}

// Release drops a reference taken with Retain.
func (d *Domain) Release() {
	if d.refs.Add(-1) < 0 {
		log.Errorf("domain %s released more often than retained", d.name)
	}
}

// With runs fn under the domain's budget, blocking until a slot is free. A
// destroyed domain rejects execution outright.
func (d *Domain) With(ctx context.Context, fn func() error) error {
	if d.destroyed.Load() {
		return fmt.Errorf("scheduling domain %s already destroyed", d.name)
	}
	if err := d.slots.Acquire(ctx, 1); err != nil {
		return err
	}
	defer d.slots.Release(1)
	return fn()
}

// Domains is the node-wide set of scheduling domains.
type Domains struct {
	domains map[string]*Domain
}

// CreateDomains validates and creates all domains. Creation is all-or-nothing:
// any invalid spec fails the whole set, so a partially created domain set is
// never observed.
func CreateDomains(specs map[string]DomainSpec) (*Domains, error) {
	domains := make(map[string]*Domain, len(specs))
	for name, spec := range specs {
		if name == "" {
			return nil, fmt.Errorf("scheduling domain with empty name")
		}
		if spec.Shares <= 0 {
			return nil, fmt.Errorf("scheduling domain %s: shares must be positive, got %d", name, spec.Shares)
		}
		domains[name] = &Domain{
			name:     name,
			priority: spec.Priority,
			slots:    semaphore.NewWeighted(spec.Shares),
		}
	}

	log.Infof("created %d scheduling domains", len(domains))
	return &Domains{domains: domains}, nil
}

// Get returns the domain with the given name.
func (ds *Domains) Get(name string) (*Domain, error) {
	d, ok := ds.domains[name]
	if !ok {
		return nil, fmt.Errorf("unknown scheduling domain: %s", name)
	}
	return d, nil
}

// Destroy releases all domains. It must be called only after every service
// referencing a domain has stopped; live references make it fail without
// destroying anything.
func (ds *Domains) Destroy() error {
	for name, d := range ds.domains {
		if refs := d.refs.Load(); refs > 0 {
			return fmt.Errorf("scheduling domain %s still has %d live references", name, refs)
		}
	}
	for _, d := range ds.domains {
		d.destroyed.Store(true)
	}
	log.Infof("destroyed %d scheduling domains", len(ds.domains))
	return nil
}
