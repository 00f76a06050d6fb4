// Package receipts implements the receipt->voucher pipeline (C8): a
// min-heap of just-closed allocations' receipt batches keyed by their
// gateway grace-period timeout, periodic sweeping, bit-exact gateway
// encoding, and voucher redemption, per spec.md §4.6.
package receipts

import (
	"container/heap"

	"github.com/graphprotocol/indexer-agent/internal/ierrors"
	"github.com/graphprotocol/indexer-agent/internal/types"
)

// timeoutHeap is a container/heap.Interface over AllocationReceiptsBatch
// ordered by ascending Timeout, one instance per protocol network.
type timeoutHeap []types.AllocationReceiptsBatch

func (h timeoutHeap) Len() int            { return len(h) }
func (h timeoutHeap) Less(i, j int) bool  { return h[i].Timeout < h[j].Timeout }
func (h timeoutHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timeoutHeap) Push(x interface{}) { *h = append(*h, x.(types.AllocationReceiptsBatch)) }
func (h *timeoutHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// batchHeap is the synchronization-free core the pipeline wraps with a
// mutex; Push/PopDue assume the caller holds it.
type batchHeap struct {
	h timeoutHeap
}

func newBatchHeap() *batchHeap {
	bh := &batchHeap{}
	heap.Init(&bh.h)
	return bh
}

func (b *batchHeap) Push(batch types.AllocationReceiptsBatch) {
	heap.Push(&b.h, batch)
}

// PeekDue reports whether the earliest batch's timeout has elapsed.
func (b *batchHeap) PeekDue(now int64) bool {
	return b.h.Len() > 0 && b.h[0].Timeout <= now
}

// PopDue pops the earliest batch. It is a programmer error to call this
// when the heap is empty or the earliest batch isn't yet due, per
// spec.md §4.6 ("an empty batch at this point is a programmer-error
// assertion").
func (b *batchHeap) PopDue(now int64) types.AllocationReceiptsBatch {
	if !b.PeekDue(now) {
		ierrors.ProgrammerError("PopDue called with no due batch in the heap")
	}
	return heap.Pop(&b.h).(types.AllocationReceiptsBatch)
}

func (b *batchHeap) Len() int { return b.h.Len() }
