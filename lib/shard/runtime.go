package shard

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("shard")

const (
	// defaultMailboxSize bounds the number of queued cross-shard tasks per
	// shard. Submitting to a full mailbox blocks the sender.
	defaultMailboxSize = 1024
)

var (
	// ErrStopped is returned by Submit once the runtime has been stopped.
	ErrStopped = fmt.Errorf("shard runtime stopped")
)

// mailbox is the task queue of a single shard.
type mailbox struct {
	id    uint32
	tasks chan func()
}

// Runtime owns the shard goroutines of the node. It is created once at
// start-up, before any per-shard service, and stopped only after every
// service has been torn down.
type Runtime struct {
	shards   []*mailbox
	stopping chan struct{}
	done     chan struct{}
	started  bool

	// mu orders enqueues against Stop: every Submit that returned nil has
	// its task in a mailbox before the drain loop runs, so no task is
	// stranded in the channel after shutdown.
	mu      sync.RWMutex
	stopped bool
}

// NewRuntime creates a runtime with n shards. A non-positive n means one
// shard per CPU.
func NewRuntime(n int) *Runtime {
	if n <= 0 {
		n = runtime.NumCPU()
	}

	shards := make([]*mailbox, n)
	for i := range shards {
		shards[i] = &mailbox{
			id:    uint32(i),
			tasks: make(chan func(), defaultMailboxSize),
		}
	}

	return &Runtime{
		shards:   shards,
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Count returns the number of shards.
func (r *Runtime) Count() uint32 {
	return uint32(len(r.shards))
}

// Start launches one goroutine per shard. It must be called exactly once.
func (r *Runtime) Start() {
	if r.started {
		return
	}
	r.started = true

	running := make(chan struct{})
	started := 0

	for _, mb := range r.shards {
		mb := mb
		go func() {
			running <- struct{}{}
			r.run(mb)
		}()
	}

	// Wait until every shard goroutine is live before returning, so services
	// constructed afterwards can rely on all mailboxes being drained.
	for started < len(r.shards) {
		<-running
		started++
	}

	log.Infof("started %d shards", len(r.shards))
}

// run drains a shard's mailbox until the runtime stops, then processes any
// tasks that were already queued so awaiting senders are not stranded.
func (r *Runtime) run(mb *mailbox) {
	for {
		select {
		case fn := <-mb.tasks:
			fn()
		case <-r.stopping:
			for {
				select {
				case fn := <-mb.tasks:
					fn()
				default:
					r.done <- struct{}{}
					return
				}
			}
		}
	}
}

// Stop shuts down all shard goroutines. Queued tasks still run; new Submit
// calls fail with ErrStopped.
func (r *Runtime) Stop() {
	if !r.started {
		return
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopping)
	for range r.shards {
		<-r.done
	}
	log.Infof("stopped %d shards", len(r.shards))
}

// Submit queues fn on the given shard's mailbox. It blocks while the mailbox
// is full and fails once the context is done or the runtime has stopped.
func (r *Runtime) Submit(ctx context.Context, shard uint32, fn func()) error {
	if shard >= r.Count() {
		return fmt.Errorf("invalid shard %d (node has %d shards)", shard, r.Count())
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		return ErrStopped
	}

	// The mailbox is never closed and the drain loop only runs after Stop has
	// taken the write lock, so an enqueue under the read lock is always seen
	// by the drain.
	select {
	case r.shards[shard].tasks <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
