package monitor

import (
	"sync"

	"github.com/querywatch/querywatch/internal/store"
)

// operation is one buffered register or remove.
type operation struct {
	remove bool
	id     string
	entry  store.Entry
}

// updateBuffer stages register/remove operations in memory so many logical
// writes share one index commit. Buffered operations are invisible to match
// until a flush commits them; this bounded staleness is the monitor's
// documented consistency trade-off.
type updateBuffer struct {
	mu  sync.Mutex
	ops []operation
}

// add appends operations and returns the new buffer length.
func (b *updateBuffer) add(ops ...operation) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops = append(b.ops, ops...)
	return len(b.ops)
}

// drain atomically removes and returns all buffered operations.
func (b *updateBuffer) drain() []operation {
	b.mu.Lock()
	defer b.mu.Unlock()
	ops := b.ops
	b.ops = nil
	return ops
}

// restore puts drained operations back at the front of the buffer, ahead of
// anything buffered while the failed flush was in progress. Order within the
// buffer stays the order the caller issued the operations in.
func (b *updateBuffer) restore(ops []operation) {
	if len(ops) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops = append(ops, b.ops...)
}

// size returns the number of buffered operations.
func (b *updateBuffer) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ops)
}
