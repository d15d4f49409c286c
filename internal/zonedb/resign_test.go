package zonedb

import (
	"testing"
	"time"
)

func newTestHeader(locknum int, t time.Time) *Header {
	n := &Node{Locknum: locknum}
	h := &Header{heapIndex: -1, node: n}
	h.Resign = t
	return h
}

func TestResignHeapOrdering(t *testing.T) {
	db := &DB{resignHeaps: []*resignHeap{newResignHeap()}}
	base := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	h1 := newTestHeader(0, base.Add(3*time.Hour))
	h2 := newTestHeader(0, base.Add(1*time.Hour))
	h3 := newTestHeader(0, base.Add(2*time.Hour))

	db.SetSigningTime(h1, h1.Resign, false, true)
	db.SetSigningTime(h2, h2.Resign, false, true)
	db.SetSigningTime(h3, h3.Resign, false, true)

	got, ok := db.GetSigningTime()
	if !ok || got != h2 {
		t.Fatalf("earliest deadline should be h2, got %v (ok=%v)", got, ok)
	}
}

func TestResignHeapRemoveInactive(t *testing.T) {
	db := &DB{resignHeaps: []*resignHeap{newResignHeap()}}
	base := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	h1 := newTestHeader(0, base)
	db.SetSigningTime(h1, h1.Resign, false, true)
	if _, ok := db.GetSigningTime(); !ok {
		t.Fatal("expected a signing deadline present")
	}
	db.SetSigningTime(h1, time.Time{}, false, false)
	if _, ok := db.GetSigningTime(); ok {
		t.Fatal("expected no signing deadline after deactivation")
	}
}

func TestResignHeapUnchangedKeyNoPerturb(t *testing.T) {
	rh := newResignHeap()
	h := newTestHeader(0, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	rh.insert(h)
	idx := h.heapIndex
	db := &DB{resignHeaps: []*resignHeap{rh}}
	db.SetSigningTime(h, h.Resign, false, true)
	if h.heapIndex != idx {
		t.Fatalf("heapIndex perturbed on unchanged key: %d != %d", h.heapIndex, idx)
	}
}

func TestResignHeapMultiplePartitionsPicksEarliest(t *testing.T) {
	base := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	db := &DB{resignHeaps: []*resignHeap{newResignHeap(), newResignHeap()}}
	h1 := newTestHeader(0, base.Add(2*time.Hour))
	h2 := newTestHeader(1, base.Add(1*time.Hour))
	db.SetSigningTime(h1, h1.Resign, false, true)
	db.SetSigningTime(h2, h2.Resign, false, true)

	got, ok := db.GetSigningTime()
	if !ok || got != h2 {
		t.Fatalf("expected h2 across partitions, got %v (ok=%v)", got, ok)
	}
}
