package zonedb

import (
	"container/heap"
	"sync"
	"time"
)

// resignHeap is one of the P independent min-heaps of §4.5/C8, ordered
// by (resign_time, resign_lsb). Every mutation and getsigningtime's
// read-only peek take the mutex here; the owning partition's node-lock
// is not taken by these methods, by SetSigningTime, or by publish.
type resignHeap struct {
	mu    sync.RWMutex
	items headerHeap
}

func newResignHeap() *resignHeap {
	return &resignHeap{items: headerHeap{}}
}

// headerHeap implements container/heap.Interface over *Header, keyed on
// (Resign, resignLSB) ascending (earliest deadline first), matching the
// zones-sort-earliest-first comparator §4.5 calls the default.
type headerHeap []*Header

func (h headerHeap) Len() int { return len(h) }
func (h headerHeap) Less(i, j int) bool {
	if !h[i].Resign.Equal(h[j].Resign) {
		return h[i].Resign.Before(h[j].Resign)
	}
	return !h[i].resignLSB && h[j].resignLSB
}
func (h headerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}
func (h *headerHeap) Push(x any) {
	hdr := x.(*Header)
	hdr.heapIndex = len(*h)
	*h = append(*h, hdr)
}
func (h *headerHeap) Pop() any {
	old := *h
	n := len(old)
	hdr := old[n-1]
	old[n-1] = nil
	hdr.heapIndex = -1
	*h = old[:n-1]
	return hdr
}

// insert adds h to the heap, setting RESIGN and its key from h.Resign.
func (rh *resignHeap) insert(h *Header) {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	if h.heapIndex != -1 {
		return
	}
	h.Attr |= AttrResign
	heap.Push(&rh.items, h)
}

// remove takes h out of the heap, if present.
func (rh *resignHeap) remove(h *Header) {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	if h.heapIndex == -1 {
		return
	}
	heap.Remove(&rh.items, h.heapIndex)
	h.Attr &^= AttrResign
}

// fix reinserts h at its (possibly-changed) position after its key has
// been mutated in place.
func (rh *resignHeap) fix(h *Header) {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	if h.heapIndex == -1 {
		return
	}
	heap.Fix(&rh.items, h.heapIndex)
}

func (rh *resignHeap) peek() (*Header, bool) {
	rh.mu.RLock()
	defer rh.mu.RUnlock()
	if len(rh.items) == 0 {
		return nil, false
	}
	return rh.items[0], true
}

// SetSigningTime installs, removes, or repositions h's resign-heap key.
// Per §4.5 it perturbs the stored key only when the new key actually
// differs from the current one, preserving the heap invariant with the
// minimum number of sift operations.
func (db *DB) SetSigningTime(h *Header, t time.Time, lsb bool, active bool) {
	rh := db.resignHeaps[h.node.Locknum]
	if !active {
		rh.remove(h)
		return
	}
	if h.heapIndex == -1 {
		h.Resign = t
		h.resignLSB = lsb
		rh.insert(h)
		return
	}
	if h.Resign.Equal(t) && h.resignLSB == lsb {
		return // key unchanged: no heap perturbation
	}
	h.Resign = t
	h.resignLSB = lsb
	rh.fix(h)
}

// GetSigningTime returns the header with the earliest resign deadline
// across all partitions (§4.5: getsigningtime acquires each partition's
// lock in turn, peeking its root, and keeps the earliest).
func (db *DB) GetSigningTime() (*Header, bool) {
	var best *Header
	for _, rh := range db.resignHeaps {
		h, ok := rh.peek()
		if !ok {
			continue
		}
		if best == nil || h.Resign.Before(best.Resign) {
			best = h
		}
	}
	return best, best != nil
}
