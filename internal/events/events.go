package events

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/mfenderov/doclens/pkg/models"
)

// ExtractionCommitted is sent after a record is committed.
type ExtractionCommitted struct {
	Record    *models.ExtractionRecord
	Timestamp time.Time
}

// DuplicateRejected is sent when the duplicate guard rejects an invoice.
type DuplicateRejected struct {
	Filename       string
	Fingerprint    models.Fingerprint
	Key            string // normalized invoice id or number
	ExistingID     string // id of the committed record it duplicates
	ExistingSource string
	Timestamp      time.Time
}

// CacheCleared is sent when the extraction cache is cleared.
type CacheCleared struct {
	Fingerprint models.Fingerprint // empty when everything was cleared
	Timestamp   time.Time
}

// Topic delivers events of one type to its subscribers, synchronously and
// in subscription order.
type Topic[T any] struct {
	mu   sync.RWMutex
	subs []func(context.Context, T)
}

// Subscribe registers fn for every later Publish.
func (t *Topic[T]) Subscribe(fn func(context.Context, T)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = append(t.subs, fn)
}

// Publish calls every subscriber. A panicking subscriber is logged and
// does not stop the others.
func (t *Topic[T]) Publish(ctx context.Context, ev T) {
	t.mu.RLock()
	subs := slices.Clone(t.subs)
	t.mu.RUnlock()

	for _, fn := range subs {
		deliver(ctx, fn, ev)
	}
}

func deliver[T any](ctx context.Context, fn func(context.Context, T), ev T) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event subscriber panicked", "event", fmt.Sprintf("%T", ev), "panic", r)
		}
	}()
	fn(ctx, ev)
}

// Bus groups the topics doclens publishes.
type Bus struct {
	Committed    Topic[ExtractionCommitted]
	Rejected     Topic[DuplicateRejected]
	CacheCleared Topic[CacheCleared]
}

// NewBus creates a bus with no subscribers.
func NewBus() *Bus {
	return &Bus{}
}
