// Package buffer implements the bounded DtData queue described in spec.md
// section 4.1: producers sleep 1ms when full, consumers sleep 1ms when
// empty. It is used MPSC in practice (one extractor, one pipeline loop) but
// the mutex-guarded slice tolerates interleaved pushes from a
// recursive transaction-payload parser.
package buffer

import (
	"context"
	"sync"
	"time"

	"github.com/flowgate/dts/pkg/types"
)

const pollInterval = time.Millisecond

// Buffer is a bounded FIFO queue of DtData.
type Buffer struct {
	mu       sync.Mutex
	items    []types.DtData
	capacity int
}

func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{capacity: capacity}
}

// Len returns the current queue length.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Cap returns the configured buffer_size.
func (b *Buffer) Cap() int { return b.capacity }

// Push enqueues an item, blocking (by sleeping pollInterval) while the
// buffer is full. It returns early with ctx.Err() if ctx is canceled.
func (b *Buffer) Push(ctx context.Context, item types.DtData) error {
	for {
		b.mu.Lock()
		if len(b.items) < b.capacity {
			b.items = append(b.items, item)
			b.mu.Unlock()
			return nil
		}
		b.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// TryPop removes and returns the oldest item without blocking. ok is false
// if the buffer is empty.
func (b *Buffer) TryPop() (types.DtData, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return types.DtData{}, false
	}
	item := b.items[0]
	b.items = b.items[1:]
	return item, true
}

// Pop blocks (sleeping pollInterval) until an item is available or ctx is
// canceled.
func (b *Buffer) Pop(ctx context.Context) (types.DtData, error) {
	for {
		if item, ok := b.TryPop(); ok {
			return item, nil
		}
		select {
		case <-ctx.Done():
			return types.DtData{}, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// IsEmpty reports whether the buffer currently holds no items.
func (b *Buffer) IsEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items) == 0
}
