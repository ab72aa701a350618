package blockingpool

import "context"

// BlockingPool is a generic, channel-based object pool that provides blocking
// semantics for both acquiring and returning objects.
//
// The pool has a fixed capacity, specified at creation time. It bounds the
// number of expensive resources in flight (frame buffers, scorer instances
// with their scratch buffers) and applies back-pressure to the stage that
// wants more of them:
//
//   - Get() blocks until an object is available in the pool.
//   - GetContext() blocks the same way but gives up when its context is done.
//   - Put() blocks until there is space in the pool.
//
// A BlockingPool must be created with NewBlockingPool. Copies share the same
// underlying pool.
type BlockingPool[T any] struct {
	pool chan T
}

// NewBlockingPool creates a new BlockingPool with the specified capacity.
//
// The capacity is the maximum number of objects the pool can hold. Objects
// are added with Put, usually right after creation.
func NewBlockingPool[T any](capacity int) BlockingPool[T] {
	return BlockingPool[T]{pool: make(chan T, capacity)}
}

// Get acquires an object from the pool, blocking until one is available.
//
// It is the caller's responsibility to eventually call .Put() with the
// returned object (or a replacement) to release it back to the pool.
func (p *BlockingPool[T]) Get() T { return <-p.pool }

// GetContext acquires an object like Get, returning ctx.Err() if ctx is done
// before an object becomes available.
func (p *BlockingPool[T]) GetContext(ctx context.Context) (T, error) {
	select {
	case obj := <-p.pool:
		return obj, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Put returns an object to the pool, blocking until there is space available.
func (p *BlockingPool[T]) Put(obj T) { p.pool <- obj }

// Len returns the number of objects currently idle in the pool.
func (p *BlockingPool[T]) Len() int { return len(p.pool) }

// Cap returns the capacity of the pool.
func (p *BlockingPool[T]) Cap() int { return cap(p.pool) }

// Drain removes every idle object from the pool and returns them. It does not
// wait for objects that are checked out.
func (p *BlockingPool[T]) Drain() []T {
	var out []T
	for {
		select {
		case obj := <-p.pool:
			out = append(out, obj)
		default:
			return out
		}
	}
}
