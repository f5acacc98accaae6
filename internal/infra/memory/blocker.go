package memory

import (
	"context"
	"sync"
)

// Blocker counts open players per quiz in process.
type Blocker struct {
	mu     sync.RWMutex
	counts map[int64]int
}

func NewBlocker() *Blocker {
	return &Blocker{counts: make(map[int64]int)}
}

func (b *Blocker) Block(_ context.Context, quizID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts[quizID]++
	return nil
}

// Unblock releases one block; the entry is dropped when none remain.
func (b *Blocker) Unblock(_ context.Context, quizID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.counts[quizID]
	if !ok {
		return nil
	}
	if n <= 1 {
		delete(b.counts, quizID)
		return nil
	}
	b.counts[quizID] = n - 1
	return nil
}

// Refresh is a no-op: in process blocks do not expire.
func (b *Blocker) Refresh(context.Context, int64) error {
	return nil
}

func (b *Blocker) IsBlocked(_ context.Context, quizID int64) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.counts[quizID] > 0, nil
}
