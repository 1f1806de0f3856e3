package chat

import (
	"context"
	"sync"
)

// fifo is a mutex that is granted in arrival order. Each holder waits for
// the release of the one before it.
type fifo struct {
	mu   sync.Mutex
	tail chan struct{}
}

func newFIFO() *fifo {
	done := make(chan struct{})
	close(done)
	return &fifo{tail: done}
}

// acquire waits for every earlier caller to release. A caller whose ctx ends
// while waiting gives up its turn without blocking the ones behind it.
func (f *fifo) acquire(ctx context.Context) (release func(), err error) {
	f.mu.Lock()
	prev := f.tail
	mine := make(chan struct{})
	f.tail = mine
	f.mu.Unlock()

	select {
	case <-prev:
		var once sync.Once
		return func() { once.Do(func() { close(mine) }) }, nil
	case <-ctx.Done():
		go func() {
			<-prev
			close(mine)
		}()
		return nil, ctx.Err()
	}
}
