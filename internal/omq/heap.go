package omq

import (
	"github.com/overlaymesh/omq/internal/classify"
	"github.com/overlaymesh/omq/internal/policy"
)

// entry is one pending send, owned by exactly one link's heap.
type entry struct {
	kind        classify.Kind
	precedence  policy.Precedence
	submitOrder uint64
	payload     []byte
}

// entryHeap orders pending entries by (precedence desc, submitOrder asc)
// so container/heap always pops the next message to dispatch.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].precedence != h[j].precedence {
		return h[i].precedence > h[j].precedence
	}
	return h[i].submitOrder < h[j].submitOrder
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) {
	*h = append(*h, x.(*entry))
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
