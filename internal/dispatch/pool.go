// Package dispatch bounds how many inference jobs run at once. Callers
// submit closures and wait on futures; the pool refuses nothing but makes
// submitters queue for a slot, which keeps memory and CPU flat under load.
package dispatch

import "context"

// Pool is a counting-semaphore worker pool.
type Pool struct {
	slots chan struct{}
}

// NewPool creates a pool running at most size jobs concurrently.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{slots: make(chan struct{}, size)}
}

// Size returns the concurrency bound.
func (p *Pool) Size() int { return cap(p.slots) }

// Future resolves to the result of a submitted job.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Wait blocks until the job finishes or ctx is cancelled. Cancellation
// abandons the result; the job itself still runs to completion.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Submit queues fn on the pool. It blocks while all slots are busy and
// ctx can abort the wait; once a slot is acquired the job always runs.
func Submit[T any](ctx context.Context, p *Pool, fn func() (T, error)) (*Future[T], error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer func() { <-p.slots }()
		f.val, f.err = fn()
		close(f.done)
	}()
	return f, nil
}

// Run is Submit followed by Wait, for callers with nothing to do in
// between.
func Run[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	f, err := Submit(ctx, p, fn)
	if err != nil {
		var zero T
		return zero, err
	}
	return f.Wait(ctx)
}
