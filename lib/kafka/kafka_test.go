package kafka

import (
	"testing"
	"time"

	"github.com/ValentinKolb/dMQ/lib/model"
)

// --------------------------------------------------------------------------
// Coordinator Mapper / Group Router
// --------------------------------------------------------------------------

// TestCoordinatorMapperStable verifies that the group to partition mapping is
// deterministic and stays inside the partition range.
func TestCoordinatorMapperStable(t *testing.T) {
	m, err := NewCoordinatorMapper(16)
	if err != nil {
		t.Fatalf("failed to create mapper: %v", err)
	}

	first := m.NTP("my-group")
	for i := 0; i < 10; i++ {
		if got := m.NTP("my-group"); got != first {
			t.Fatalf("mapping not stable: %v != %v", got, first)
		}
	}
	if first.Topic != CoordinatorTopic || first.Namespace != model.KafkaNamespace {
		t.Errorf("coordinator must live on the internal offsets topic, got %v", first)
	}
	if first.Partition < 0 || first.Partition >= 16 {
		t.Errorf("partition out of range: %d", first.Partition)
	}

	if _, err := NewCoordinatorMapper(0); err == nil {
		t.Error("expected zero partition count to be rejected")
	}
}

type fakeShardTable struct {
	ntps map[string]uint32
}

func (f *fakeShardTable) ShardForNTP(ntp model.NTP) (uint32, bool) {
	s, ok := f.ntps[ntp.Key()]
	return s, ok
}

// TestGroupRouter verifies coordinator-shard routing through the shard table.
func TestGroupRouter(t *testing.T) {
	m, err := NewCoordinatorMapper(4)
	if err != nil {
		t.Fatalf("failed to create mapper: %v", err)
	}
	coord := m.NTP("my-group")

	table := &fakeShardTable{ntps: map[string]uint32{coord.Key(): 3}}
	r, err := NewGroupRouter(m, table)
	if err != nil {
		t.Fatalf("failed to create router: %v", err)
	}

	ntp, shard, ok := r.CoordinatorShard("my-group")
	if !ok || shard != 3 || ntp != coord {
		t.Fatalf("unexpected routing: %v shard %d ok %v", ntp, shard, ok)
	}

	// a coordinator not hosted here is a miss, not shard zero
	empty, err := NewGroupRouter(m, &fakeShardTable{ntps: map[string]uint32{}})
	if err != nil {
		t.Fatalf("failed to create router: %v", err)
	}
	if _, _, ok := empty.CoordinatorShard("my-group"); ok {
		t.Error("expected miss for unhosted coordinator")
	}
}

// --------------------------------------------------------------------------
// Quota Manager
// --------------------------------------------------------------------------

// TestQuotaManagerWithinBudget verifies that traffic under the target rate is
// never throttled.
func TestQuotaManagerWithinBudget(t *testing.T) {
	q := NewQuotaManager(QuotaConfig{TargetRate: 1000})
	now := time.Now()

	for i := 0; i < 10; i++ {
		if d := q.Record("client-a", 50, now); d != 0 {
			t.Fatalf("unexpected throttle of %v within budget", d)
		}
	}
}

// TestQuotaManagerThrottles verifies that exceeding the rate produces a
// proportional delay and that clients are isolated from each other.
func TestQuotaManagerThrottles(t *testing.T) {
	q := NewQuotaManager(QuotaConfig{TargetRate: 1000})
	now := time.Now()

	if d := q.Record("client-a", 1000, now); d != 0 {
		t.Fatalf("budget itself must not throttle, got %v", d)
	}
	d := q.Record("client-a", 500, now)
	if d <= 0 {
		t.Fatal("expected a throttle delay after exceeding the budget")
	}
	// 500 surplus bytes at 1000 B/s is half a second
	if d < 400*time.Millisecond || d > 600*time.Millisecond {
		t.Errorf("unexpected delay %v for 500 surplus bytes", d)
	}

	// another client is unaffected
	if d := q.Record("client-b", 100, now); d != 0 {
		t.Errorf("client-b throttled by client-a's traffic: %v", d)
	}
}

// TestQuotaManagerWindowReset verifies that the budget resets once the
// window has elapsed.
func TestQuotaManagerWindowReset(t *testing.T) {
	q := NewQuotaManager(QuotaConfig{TargetRate: 1000, Window: time.Second})
	now := time.Now()

	if d := q.Record("client-a", 1500, now); d <= 0 {
		t.Fatal("expected throttle in the first window")
	}
	if d := q.Record("client-a", 100, now.Add(2*time.Second)); d != 0 {
		t.Fatalf("expected fresh budget after the window, got %v", d)
	}
}

// TestQuotaManagerDisabled verifies that a zero target rate disables
// throttling.
func TestQuotaManagerDisabled(t *testing.T) {
	q := NewQuotaManager(QuotaConfig{})
	if d := q.Record("client-a", 1<<30, time.Now()); d != 0 {
		t.Fatalf("disabled quota must never throttle, got %v", d)
	}
}

// TestQuotaManagerPrune verifies idle clients are dropped.
func TestQuotaManagerPrune(t *testing.T) {
	q := NewQuotaManager(QuotaConfig{TargetRate: 1000})
	now := time.Now()

	q.Record("old", 1, now.Add(-time.Hour))
	q.Record("fresh", 1, now)
	if q.Len() != 2 {
		t.Fatalf("expected 2 tracked clients, got %d", q.Len())
	}

	q.Prune(now.Add(-time.Minute))
	if q.Len() != 1 {
		t.Fatalf("expected 1 client after prune, got %d", q.Len())
	}
}

// --------------------------------------------------------------------------
// Fetch Session Cache
// --------------------------------------------------------------------------

// TestFetchSessionLifecycle verifies create, get, offset tracking and remove.
func TestFetchSessionLifecycle(t *testing.T) {
	c, err := NewFetchSessionCache(8)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	now := time.Now()

	s := c.Create(now)
	if s.ID == 0 || s.Epoch != 1 {
		t.Fatalf("unexpected new session: %+v", s)
	}

	ntp := model.NewKafkaNTP("orders", 0)
	s.SetOffset(ntp, 42)

	got, ok := c.Get(s.ID, now)
	if !ok || got != s {
		t.Fatal("failed to recall session")
	}
	if got.Epoch != 2 {
		t.Errorf("expected epoch bump on use, got %d", got.Epoch)
	}
	if o, ok := got.Offset(ntp); !ok || o != 42 {
		t.Errorf("lost offset: %d %v", o, ok)
	}

	got.Forget(ntp)
	if _, ok := got.Offset(ntp); ok {
		t.Error("offset survived forget")
	}

	c.Remove(s.ID)
	if _, ok := c.Get(s.ID, now); ok {
		t.Error("removed session still recallable")
	}
}

// TestFetchSessionEviction verifies the LRU bound.
func TestFetchSessionEviction(t *testing.T) {
	c, err := NewFetchSessionCache(2)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	now := time.Now()

	a := c.Create(now)
	b := c.Create(now.Add(time.Second))

	// touch a so b becomes the eviction candidate
	if _, ok := c.Get(a.ID, now.Add(2*time.Second)); !ok {
		t.Fatal("failed to touch session a")
	}

	c.Create(now.Add(3 * time.Second))
	if c.Len() != 2 {
		t.Fatalf("expected bound of 2 sessions, got %d", c.Len())
	}
	if _, ok := c.Get(b.ID, now.Add(4*time.Second)); ok {
		t.Error("expected least recently used session to be evicted")
	}
	if _, ok := c.Get(a.ID, now.Add(4*time.Second)); !ok {
		t.Error("recently used session must survive eviction")
	}

	if _, err := NewFetchSessionCache(0); err == nil {
		t.Error("expected zero bound to be rejected")
	}
}
