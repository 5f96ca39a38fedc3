package kafka

import (
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/dMQ/lib/model"
)

// --------------------------------------------------------------------------
// Fetch Sessions
// --------------------------------------------------------------------------

// FetchSession is the server-side state of one incremental fetch session:
// the set of partitions the client is following and the offsets it has seen.
type FetchSession struct {
	ID       uint64
	Epoch    int32
	lastUsed time.Time
	offsets  map[string]int64
}

// SetOffset records the offset the session has fetched up to for a partition.
func (s *FetchSession) SetOffset(ntp model.NTP, offset int64) {
	s.offsets[ntp.Key()] = offset
}

// Offset returns the recorded fetch offset for a partition.
func (s *FetchSession) Offset(ntp model.NTP) (int64, bool) {
	o, ok := s.offsets[ntp.Key()]
	return o, ok
}

// Forget removes a partition from the session.
func (s *FetchSession) Forget(ntp model.NTP) {
	delete(s.offsets, ntp.Key())
}

// FetchSessionCache issues and recalls fetch sessions for one shard. The
// cache is bounded; creating a session beyond the bound evicts the least
// recently used one.
type FetchSessionCache struct {
	mu          sync.Mutex
	maxSessions int
	nextID      uint64
	sessions    map[uint64]*FetchSession
}

// NewFetchSessionCache creates a cache bounded to maxSessions.
func NewFetchSessionCache(maxSessions int) (*FetchSessionCache, error) {
	if maxSessions <= 0 {
		return nil, fmt.Errorf("fetch session cache requires a positive bound, got %d", maxSessions)
	}
	return &FetchSessionCache{
		maxSessions: maxSessions,
		sessions:    make(map[uint64]*FetchSession, maxSessions),
	}, nil
}

// Create issues a new session, evicting the least recently used one when the
// cache is full. Session ids are never reused within a process lifetime.
func (c *FetchSessionCache) Create(now time.Time) *FetchSession {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.sessions) >= c.maxSessions {
		c.evictOldest()
	}

	c.nextID++
	s := &FetchSession{
		ID:       c.nextID,
		Epoch:    1,
		lastUsed: now,
		offsets:  make(map[string]int64),
	}
	c.sessions[s.ID] = s
	return s
}

// Get returns the session and marks it as used. A miss means the session was
// evicted or never existed; the client must start a full fetch.
func (c *FetchSessionCache) Get(id uint64, now time.Time) (*FetchSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[id]
	if !ok {
		return nil, false
	}
	s.lastUsed = now
	s.Epoch++
	return s, true
}

// Remove drops a session, e.g. when the client closes it (epoch -1 in the
// protocol).
func (c *FetchSessionCache) Remove(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, id)
}

// Len returns the number of live sessions.
func (c *FetchSessionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// evictOldest removes the least recently used session. Caller holds the lock.
func (c *FetchSessionCache) evictOldest() {
	var oldestID uint64
	var oldest time.Time
	first := true
	for id, s := range c.sessions {
		if first || s.lastUsed.Before(oldest) {
			oldestID, oldest = id, s.lastUsed
			first = false
		}
	}
	if !first {
		delete(c.sessions, oldestID)
	}
}
