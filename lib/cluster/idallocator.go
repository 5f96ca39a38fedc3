package cluster

import (
	"context"
	"sync"
)

// IDAllocator hands out cluster-unique ids (producer ids and the like). It
// reserves blocks through the controller and serves single ids from the
// local block, so most allocations never touch raft.
type IDAllocator struct {
	controller *Controller
	blockSize  uint64

	mu   sync.Mutex
	next uint64
	end  uint64 // exclusive; next == end means the block is exhausted
}

// NewIDAllocator wires the allocator to the controller. blockSize is the
// number of ids reserved per controller round trip.
func NewIDAllocator(controller *Controller, blockSize uint64) (*IDAllocator, error) {
	if blockSize == 0 {
		return nil, NewError(ErrCInvalidArgument, "id allocator block size must be positive")
	}
	return &IDAllocator{controller: controller, blockSize: blockSize}, nil
}

// Next returns a fresh cluster-unique id, reserving a new block when the
// current one is exhausted.
func (a *IDAllocator) Next(ctx context.Context) (uint64, *Error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.next == a.end {
		first, cerr := a.controller.AllocateIDs(ctx, a.blockSize)
		if cerr != nil {
			return 0, cerr
		}
		a.next = first
		a.end = first + a.blockSize
	}

	id := a.next
	a.next++
	return id, nil
}
