package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/ValentinKolb/dMQ/lib/model"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Leaders Table
// --------------------------------------------------------------------------

// LeadersTable records the last known leader node of each partition. It is a
// hint, not a guarantee; consumers must tolerate staleness.
type LeadersTable struct {
	leaders *xsync.MapOf[string, model.NodeID]
}

func NewLeadersTable() *LeadersTable {
	return &LeadersTable{leaders: xsync.NewMapOf[string, model.NodeID]()}
}

// Update records a partition's leader.
func (t *LeadersTable) Update(ntp model.NTP, leader model.NodeID) {
	t.leaders.Store(ntp.Key(), leader)
}

// Leader returns the last known leader of a partition.
func (t *LeadersTable) Leader(ntp model.NTP) (model.NodeID, bool) {
	return t.leaders.Load(ntp.Key())
}

// Remove drops the leader hint of a partition.
func (t *LeadersTable) Remove(ntp model.NTP) {
	t.leaders.Delete(ntp.Key())
}

// --------------------------------------------------------------------------
// Per-Shard Metadata Cache
// --------------------------------------------------------------------------

// MetadataCache is the per-shard read-only view of the controller metadata.
// Each shard holds its own copy so request paths never leave their shard for
// a metadata lookup; the dissemination service refreshes all copies.
type MetadataCache struct {
	shardID uint32

	mu          sync.RWMutex
	assignments map[string][]model.BrokerShard
	users       map[string]struct{}
}

// NewMetadataCache allocates the cache for one shard.
func NewMetadataCache(shardID uint32) (*MetadataCache, error) {
	return &MetadataCache{
		shardID:     shardID,
		assignments: make(map[string][]model.BrokerShard),
		users:       make(map[string]struct{}),
	}, nil
}

// Start is part of the service lifecycle.
func (c *MetadataCache) Start() error { return nil }

// Stop is part of the service lifecycle.
func (c *MetadataCache) Stop() error { return nil }

// Replicas returns the cached replica placement of a partition.
func (c *MetadataCache) Replicas(ntp model.NTP) ([]model.BrokerShard, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	replicas, ok := c.assignments[ntp.Key()]
	return replicas, ok
}

// HasReplicaOn reports whether a node is part of a partition's cached
// replica set. Unknown partitions report false.
func (c *MetadataCache) HasReplicaOn(ntp model.NTP, node model.NodeID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.assignments[ntp.Key()] {
		if r.Node == node {
			return true
		}
	}
	return false
}

// HasUser reports whether a credential exists for the user.
func (c *MetadataCache) HasUser(user string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.users[user]
	return ok
}

// applySnapshot replaces the cache content with a fresh controller view.
func (c *MetadataCache) applySnapshot(assignments map[string][]model.BrokerShard, users []string) {
	userSet := make(map[string]struct{}, len(users))
	for _, u := range users {
		userSet[u] = struct{}{}
	}
	c.mu.Lock()
	c.assignments = assignments
	c.users = userSet
	c.mu.Unlock()
}

// --------------------------------------------------------------------------
// Dissemination Service
// --------------------------------------------------------------------------

// MetadataSource is the subset of the controller the dissemination service
// reads from. Narrowed for testability.
type MetadataSource interface {
	Assignments(ctx context.Context) (map[string][]model.BrokerShard, *Error)
	ListUsers(ctx context.Context) ([]string, *Error)
}

// DisseminationService periodically copies the controller metadata into all
// per-shard caches. It runs as an ordinary goroutine outside the shard
// runtime, so a slow controller read never stalls a shard's mailbox.
type DisseminationService struct {
	source   MetadataSource
	caches   []*MetadataCache
	interval time.Duration
	timeout  time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewDisseminationService wires the refresher to its source and sinks.
func NewDisseminationService(source MetadataSource, caches []*MetadataCache, interval, timeout time.Duration) *DisseminationService {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	return &DisseminationService{
		source:   source,
		caches:   caches,
		interval: interval,
		timeout:  timeout,
	}
}

// Start performs an initial refresh and launches the background loop.
func (s *DisseminationService) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	s.refresh(ctx)

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.refresh(ctx)
			}
		}
	}()
	return nil
}

// Stop terminates the background loop and waits for it to exit.
func (s *DisseminationService) Stop() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	return nil
}

// refresh pulls one snapshot from the source into every cache. A failed read
// keeps the previous (stale) view rather than clearing it.
func (s *DisseminationService) refresh(ctx context.Context) {
	readCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	assignments, cerr := s.source.Assignments(readCtx)
	if cerr != nil {
		log.Warningf("metadata refresh: reading assignments: %v", cerr)
		return
	}
	users, cerr := s.source.ListUsers(readCtx)
	if cerr != nil {
		log.Warningf("metadata refresh: reading users: %v", cerr)
		return
	}

	for _, cache := range s.caches {
		// Each cache gets its own copy so shards never share mutable maps.
		copied := make(map[string][]model.BrokerShard, len(assignments))
		for ntp, replicas := range assignments {
			copied[ntp] = append([]model.BrokerShard(nil), replicas...)
		}
		cache.applySnapshot(copied, users)
	}
}
