package shard

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Sharded holds one instance of a service per shard. Instances never share
// mutable memory; other shards reach them only through InvokeOn.
type Sharded[T any] struct {
	rt *Runtime
	// instances is written once during construction (a barrier) and is
	// read-only afterwards, so it can be indexed without locking.
	instances []T
}

// NewSharded constructs one instance per shard by running factory on every
// shard's goroutine and waiting for all of them (a start-up barrier). If any
// shard's factory fails, the whole construction fails; construction must not
// have externally observable side effects, so partially constructed instances
// are simply dropped.
func NewSharded[T any](ctx context.Context, rt *Runtime, factory func(shardID uint32) (T, error)) (*Sharded[T], error) {
	s := &Sharded[T]{
		rt:        rt,
		instances: make([]T, rt.Count()),
	}

	var g errgroup.Group
	for i := uint32(0); i < rt.Count(); i++ {
		i := i
		g.Go(func() error {
			done := make(chan error, 1)
			if err := rt.Submit(ctx, i, func() {
				inst, err := factory(i)
				if err == nil {
					s.instances[i] = inst
				}
				done <- err
			}); err != nil {
				return err
			}
			select {
			case err := <-done:
				if err != nil {
					return fmt.Errorf("shard %d: %w", i, err)
				}
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return s, nil
}

// Local returns the instance owned by the given shard. It is only legal to
// mutate the returned instance from code running on that shard.
func (s *Sharded[T]) Local(shardID uint32) T {
	return s.instances[shardID]
}

// InvokeOnAll runs fn on every shard concurrently and waits for all shards
// to finish (a node-wide barrier). The first error aborts the wait and is
// returned; fn runs on the owning shard's goroutine.
func (s *Sharded[T]) InvokeOnAll(ctx context.Context, fn func(shardID uint32, t T) error) error {
	var g errgroup.Group
	for i := uint32(0); i < s.rt.Count(); i++ {
		i := i
		g.Go(func() error {
			done := make(chan error, 1)
			if err := s.rt.Submit(ctx, i, func() {
				done <- fn(i, s.instances[i])
			}); err != nil {
				return err
			}
			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	return g.Wait()
}

// InvokeOn sends fn to the owning shard as a cross-shard message and awaits
// the result. The calling goroutine suspends until the shard replies; it must
// therefore never be a task already running on a shard (see the package doc).
func InvokeOn[T any, R any](ctx context.Context, s *Sharded[T], shard uint32, fn func(t T) (R, error)) (R, error) {
	var zero R

	type result struct {
		val R
		err error
	}

	reply := make(chan result, 1)
	if err := s.rt.Submit(ctx, shard, func() {
		val, err := fn(s.instances[shard])
		reply <- result{val: val, err: err}
	}); err != nil {
		return zero, err
	}

	select {
	case res := <-reply:
		return res.val, res.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
