package replay

import (
	"fmt"

	"github.com/kysee/zk-unirep/state"
	"github.com/kysee/zk-unirep/types"
)

// queue is the FIFO sub-channel of one event kind.
type queue[T any] struct {
	kind  types.Kind
	items []T
	head  int
}

func newQueue[T any](kind types.Kind, items []T) *queue[T] {
	return &queue[T]{kind: kind, items: items}
}

// Dequeue returns the oldest pending event or a sequence fault when the
// sequencer names a kind whose channel is drained.
func (q *queue[T]) Dequeue() (*T, error) {
	if q.head >= len(q.items) {
		return nil, fmt.Errorf("%w: missing %s event", state.ErrSequenceFault, q.kind)
	}
	item := &q.items[q.head]
	q.head++
	return item, nil
}

func (q *queue[T]) Len() int {
	return len(q.items) - q.head
}
