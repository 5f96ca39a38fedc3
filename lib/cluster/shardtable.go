package cluster

import (
	"github.com/ValentinKolb/dMQ/lib/model"
	"github.com/puzpuzpuz/xsync/v3"
)

// ShardTable is the directory from resource identifier (raft group id or
// topic-partition) to the owning shard index. One replica exists per shard;
// only the placement side of the controller writes entries, every shard reads
// them lock-free.
//
// An identifier absent from the table means the resource is not hosted on
// this node. Callers must treat absence as not-found, never as shard zero,
// and must not cache a lookup across a placement-affecting operation.
type ShardTable struct {
	groups *xsync.MapOf[model.GroupID, uint32]
	ntps   *xsync.MapOf[string, uint32]
}

// NewShardTable creates an empty table.
func NewShardTable() *ShardTable {
	return &ShardTable{
		groups: xsync.NewMapOf[model.GroupID, uint32](),
		ntps:   xsync.NewMapOf[string, uint32](),
	}
}

// --------------------------------------------------------------------------
// Lookups (any shard, never blocks)
// --------------------------------------------------------------------------

// ShardForGroup returns the shard owning the raft group, if hosted here.
func (t *ShardTable) ShardForGroup(group model.GroupID) (uint32, bool) {
	return t.groups.Load(group)
}

// ContainsGroup reports whether the raft group is hosted on this node.
func (t *ShardTable) ContainsGroup(group model.GroupID) bool {
	_, ok := t.groups.Load(group)
	return ok
}

// ShardForNTP returns the shard owning the topic-partition, if hosted here.
func (t *ShardTable) ShardForNTP(ntp model.NTP) (uint32, bool) {
	return t.ntps.Load(ntp.Key())
}

// ContainsNTP reports whether the topic-partition is hosted on this node.
func (t *ShardTable) ContainsNTP(ntp model.NTP) bool {
	_, ok := t.ntps.Load(ntp.Key())
	return ok
}

// --------------------------------------------------------------------------
// Placement Writer Side
// --------------------------------------------------------------------------

// Assign records a resource (group plus its topic-partition) as owned by the
// given shard. At most one live entry exists per identifier.
func (t *ShardTable) Assign(group model.GroupID, ntp model.NTP, shard uint32) {
	t.groups.Store(group, shard)
	t.ntps.Store(ntp.Key(), shard)
}

// Unassign removes a resource from this node's directory.
func (t *ShardTable) Unassign(group model.GroupID, ntp model.NTP) {
	t.groups.Delete(group)
	t.ntps.Delete(ntp.Key())
}
