package node

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ValentinKolb/dMQ/lib/cluster"
	"github.com/ValentinKolb/dMQ/lib/lifecycle"
	"github.com/ValentinKolb/dMQ/lib/model"
	"github.com/ValentinKolb/dMQ/rpc/common"
)

// --------------------------------------------------------------------------
// Pipeline
// --------------------------------------------------------------------------

// TestPipelineUnwindsOnFailure verifies that a failing construction step
// tears down every earlier step, in reverse order, and aborts the pipeline.
func TestPipelineUnwindsOnFailure(t *testing.T) {
	var constructed, stopped []string
	td := lifecycle.NewStack()

	step := func(name string) wireStep {
		return wireStep{name, func(_ context.Context) error {
			constructed = append(constructed, name)
			td.Push(name, func() error {
				stopped = append(stopped, name)
				return nil
			})
			return nil
		}}
	}
	failing := wireStep{"c", func(_ context.Context) error {
		constructed = append(constructed, "c")
		return errors.New("construction failed")
	}}

	err := runPipeline(context.Background(), []wireStep{step("a"), step("b"), failing, step("d")}, td)
	if err == nil {
		t.Fatal("expected pipeline to fail")
	}

	if len(constructed) != 3 || constructed[2] != "c" {
		t.Fatalf("unexpected construction order: %v", constructed)
	}
	for _, name := range constructed {
		if name == "d" {
			t.Fatal("steps after the failure must not run")
		}
	}
	if len(stopped) != 2 || stopped[0] != "b" || stopped[1] != "a" {
		t.Fatalf("expected reverse teardown [b a], got %v", stopped)
	}
	if td.Len() != 0 {
		t.Fatalf("teardown stack not drained: %d actions left", td.Len())
	}
}

// TestPipelineSuccessKeepsTeardowns verifies that a successful pipeline
// leaves all teardown actions pending for Stop.
func TestPipelineSuccessKeepsTeardowns(t *testing.T) {
	td := lifecycle.NewStack()
	steps := []wireStep{
		{"a", func(_ context.Context) error { td.Push("a", func() error { return nil }); return nil }},
		{"b", func(_ context.Context) error { td.Push("b", func() error { return nil }); return nil }},
	}
	if err := runPipeline(context.Background(), steps, td); err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}
	if td.Len() != 2 {
		t.Fatalf("expected 2 pending teardowns, got %d", td.Len())
	}
}

// --------------------------------------------------------------------------
// Node Assembly
// --------------------------------------------------------------------------

func newTestNode(t *testing.T) *Node {
	t.Helper()
	n := New(common.ServerConfig{
		Shards:        2,
		DataDir:       t.TempDir(),
		TimeoutSecond: 1,
		// effectively disable the background refresh; the initial one suffices
		MetadataRefreshMillis: 3_600_000,
	})
	if err := n.Wire(context.Background()); err != nil {
		t.Fatalf("failed to wire node: %v", err)
	}
	t.Cleanup(n.Stop)
	return n
}

// TestNodeWireSingleNode verifies that a single-node broker wires end to end
// and serves dispatches through its shards.
func TestNodeWireSingleNode(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()
	ntp := model.NewKafkaNTP("orders", 0)

	// a partition placed on shard 1 of this node
	replicas := []model.BrokerShard{{Node: 0, Shard: 1}}
	if cerr := n.HostPartition(ctx, ntp, 7, replicas); cerr != nil {
		t.Fatalf("failed to host partition: %v", cerr)
	}
	if shardID, ok := n.table.ShardForNTP(ntp); !ok || shardID != 1 {
		t.Fatalf("shard table does not name shard 1: %d %v", shardID, ok)
	}

	// dispatch reaches the hosting shard; without raft peers the transfer
	// fails with not-leader, proving the partition was found
	cerr := n.Dispatcher().TransferPartitionLeadership(ctx, ntp, nil)
	if cerr == nil || cerr.Code != cluster.ErrCNotLeader {
		t.Fatalf("expected not-leader from peerless node, got %v", cerr)
	}

	// unknown group is not-found, never shard zero
	cerr = n.Dispatcher().TransferGroupLeadership(ctx, 99, nil)
	if cerr == nil || cerr.Code != cluster.ErrCNotFound {
		t.Fatalf("expected not-found, got %v", cerr)
	}

	// the controller recorded the placement
	recorded, ok, cerr := n.Controller().Replicas(ctx, ntp)
	if cerr != nil || !ok || len(recorded) != 1 || recorded[0] != replicas[0] {
		t.Fatalf("controller placement mismatch: %v %v %v", recorded, ok, cerr)
	}

	// dropping the partition makes later dispatches not-found
	if cerr := n.DropPartition(ctx, ntp, 7); cerr != nil {
		t.Fatalf("failed to drop partition: %v", cerr)
	}
	cerr = n.Dispatcher().TransferPartitionLeadership(ctx, ntp, nil)
	if cerr == nil || cerr.Code != cluster.ErrCNotFound {
		t.Fatalf("expected not-found after drop, got %v", cerr)
	}
}

// TestNodeHostPartitionValidation verifies placement validation before any
// shard is touched.
func TestNodeHostPartitionValidation(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()

	// replica set without this node
	cerr := n.HostPartition(ctx, model.NewKafkaNTP("orders", 0), 7, []model.BrokerShard{{Node: 5, Shard: 0}})
	if cerr == nil || cerr.Code != cluster.ErrCInvalidArgument {
		t.Fatalf("expected invalid-argument, got %v", cerr)
	}

	// shard index beyond the runtime
	cerr = n.HostPartition(ctx, model.NewKafkaNTP("orders", 1), 8, []model.BrokerShard{{Node: 0, Shard: 9}})
	if cerr == nil || cerr.Code != cluster.ErrCInvalidArgument {
		t.Fatalf("expected invalid-argument for shard out of range, got %v", cerr)
	}
}

// TestNodeStopIdempotent verifies that Stop can be called repeatedly.
func TestNodeStopIdempotent(t *testing.T) {
	n := newTestNode(t)
	n.Stop()
	n.Stop()
}

// TestNodeServicesRetainDomains verifies that the scheduling domains stay
// destroyable only after the servers holding them are gone.
func TestNodeServicesRetainDomains(t *testing.T) {
	n := newTestNode(t)

	if err := n.domains.Destroy(); err == nil {
		t.Fatal("expected destroy to fail while rpc and admin servers are live")
	}

	// Stop unwinds the teardown stack; the domains are destroyed last, after
	// the servers released their references.
	n.Stop()
	if err := n.domains.Destroy(); err != nil {
		t.Fatalf("expected destroy to succeed after stop, got %v", err)
	}
}

// TestNodeKafkaServicesLifecycle verifies that the kafka-facing services are
// wired and that their background janitor stops with the node.
func TestNodeKafkaServicesLifecycle(t *testing.T) {
	n := newTestNode(t)

	if n.Router() == nil || n.quotas == nil || n.sessions == nil {
		t.Fatal("kafka services not wired")
	}

	// Stop must join the quota janitor; a stuck janitor hangs here.
	done := make(chan struct{})
	go func() {
		n.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("node stop did not complete, janitor likely stuck")
	}
}

// TestNodeIDAllocation verifies that the wired allocator hands out unique,
// increasing ids through the controller.
func TestNodeIDAllocation(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()

	first, cerr := n.IDAllocator().Next(ctx)
	if cerr != nil {
		t.Fatalf("failed to allocate id: %v", cerr)
	}
	second, cerr := n.IDAllocator().Next(ctx)
	if cerr != nil {
		t.Fatalf("failed to allocate id: %v", cerr)
	}
	if second != first+1 {
		t.Fatalf("expected consecutive ids from one block, got %d then %d", first, second)
	}
}
