package pipeline

import "context"

// Pool bounds concurrent transform work process-wide. Request concurrency is
// unbounded above it; requests queue for a slot and respect cancellation
// while waiting.
type Pool struct {
	slots chan struct{}
}

func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{slots: make(chan struct{}, size)}
}

func (p *Pool) Acquire(ctx context.Context) error {
	select {
	case p.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) Release() {
	<-p.slots
}
