package shard

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testService is a shard-local service with unsynchronized state. Its counter
// is safe exactly because all mutation happens on the owning shard.
type testService struct {
	shardID uint32
	counter int
}

func newTestRuntime(t *testing.T, n int) *Runtime {
	t.Helper()
	rt := NewRuntime(n)
	rt.Start()
	t.Cleanup(rt.Stop)
	return rt
}

// TestShardedConstruction tests that one instance is built per shard
func TestShardedConstruction(t *testing.T) {
	rt := newTestRuntime(t, 4)

	s, err := NewSharded(context.Background(), rt, func(shardID uint32) (*testService, error) {
		return &testService{shardID: shardID}, nil
	})
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}

	for i := uint32(0); i < rt.Count(); i++ {
		if s.Local(i).shardID != i {
			t.Errorf("shard %d holds instance for shard %d", i, s.Local(i).shardID)
		}
	}
}

// TestShardedConstructionFailFast tests that a failing factory aborts the
// whole construction
func TestShardedConstructionFailFast(t *testing.T) {
	rt := newTestRuntime(t, 4)

	_, err := NewSharded(context.Background(), rt, func(shardID uint32) (*testService, error) {
		if shardID == 2 {
			return nil, ErrStopped // any error will do
		}
		return &testService{shardID: shardID}, nil
	})
	if err == nil {
		t.Fatal("expected construction to fail when one shard's factory fails")
	}
}

// TestInvokeOnRunsOnOwningShard tests that invoked closures see and mutate
// the owning shard's instance
func TestInvokeOnRunsOnOwningShard(t *testing.T) {
	rt := newTestRuntime(t, 4)

	s, err := NewSharded(context.Background(), rt, func(shardID uint32) (*testService, error) {
		return &testService{shardID: shardID}, nil
	})
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		got, err := InvokeOn(context.Background(), s, 3, func(svc *testService) (uint32, error) {
			svc.counter++
			return svc.shardID, nil
		})
		if err != nil {
			t.Fatalf("invoke failed: %v", err)
		}
		if got != 3 {
			t.Errorf("closure ran on shard %d, expected 3", got)
		}
	}

	if s.Local(3).counter != 10 {
		t.Errorf("expected counter 10 on shard 3, got %d", s.Local(3).counter)
	}
	if s.Local(0).counter != 0 {
		t.Errorf("shard 0 state mutated by shard 3 invocations")
	}
}

// TestInvokeOnInvalidShard tests that an out-of-range shard is rejected
func TestInvokeOnInvalidShard(t *testing.T) {
	rt := newTestRuntime(t, 2)

	s, _ := NewSharded(context.Background(), rt, func(shardID uint32) (*testService, error) {
		return &testService{shardID: shardID}, nil
	})

	_, err := InvokeOn(context.Background(), s, 7, func(svc *testService) (struct{}, error) {
		return struct{}{}, nil
	})
	if err == nil {
		t.Error("expected invoke on invalid shard to fail")
	}
}

// TestInvokeOnAllBarrier tests that InvokeOnAll reaches every shard before
// returning
func TestInvokeOnAllBarrier(t *testing.T) {
	rt := newTestRuntime(t, 8)

	s, _ := NewSharded(context.Background(), rt, func(shardID uint32) (*testService, error) {
		return &testService{shardID: shardID}, nil
	})

	var visited atomic.Int32
	err := s.InvokeOnAll(context.Background(), func(shardID uint32, svc *testService) error {
		visited.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("invoke on all failed: %v", err)
	}
	if visited.Load() != 8 {
		t.Errorf("expected 8 shards visited, got %d", visited.Load())
	}
}

// TestSubmitAfterStop tests that a stopped runtime rejects new work
func TestSubmitAfterStop(t *testing.T) {
	rt := NewRuntime(2)
	rt.Start()
	rt.Stop()

	err := rt.Submit(context.Background(), 0, func() {})
	if err != ErrStopped {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}

// TestSubmitStopNoStrandedTasks tests that every submit that reported success
// actually runs, even when Stop races with concurrent submitters
func TestSubmitStopNoStrandedTasks(t *testing.T) {
	for round := 0; round < 20; round++ {
		rt := NewRuntime(2)
		rt.Start()

		const submitters = 8
		var executed atomic.Int64
		var accepted atomic.Int64
		var wg sync.WaitGroup

		for i := 0; i < submitters; i++ {
			wg.Add(1)
			go func(shard uint32) {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					err := rt.Submit(context.Background(), shard, func() {
						executed.Add(1)
					})
					if err == nil {
						accepted.Add(1)
					} else if err != ErrStopped {
						t.Errorf("unexpected submit error: %v", err)
						return
					}
				}
			}(uint32(i % 2))
		}

		rt.Stop()
		wg.Wait()

		if executed.Load() != accepted.Load() {
			t.Fatalf("round %d: %d submits accepted but %d tasks executed",
				round, accepted.Load(), executed.Load())
		}
	}
}

// TestSubmitContextCancel tests that a cancelled context aborts a blocked
// submit
func TestSubmitContextCancel(t *testing.T) {
	rt := newTestRuntime(t, 1)

	// Occupy the single shard so the mailbox can fill up.
	block := make(chan struct{})
	_ = rt.Submit(context.Background(), 0, func() { <-block })
	for i := 0; i < defaultMailboxSize; i++ {
		if err := rt.Submit(context.Background(), 0, func() {}); err != nil {
			t.Fatalf("failed to fill mailbox: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := rt.Submit(ctx, 0, func() {})
	if err == nil {
		t.Error("expected submit to a full mailbox to fail on context timeout")
	}

	close(block)
}
