package zonedb

import (
	"testing"

	"qpdb/internal/dname"
)

func TestHeaderVisibility(t *testing.T) {
	older := &Header{Serial: 1}
	newer := &Header{Serial: 3, Down: older}
	if VisibleAt(newer, 0) != nil {
		t.Fatal("expected no visible header at serial 0")
	}
	if got := VisibleAt(newer, 1); got != older {
		t.Fatalf("got %v, want older header", got)
	}
	if got := VisibleAt(newer, 3); got != newer {
		t.Fatalf("got %v, want newer header", got)
	}
	if got := VisibleAt(newer, 10); got != newer {
		t.Fatalf("got %v, want newer header at a later serial", got)
	}
}

func TestHeaderIgnoreFlagHidesHeader(t *testing.T) {
	older := &Header{Serial: 1}
	newer := &Header{Serial: 2, Down: older, Attr: AttrIgnore}
	if got := VisibleAt(newer, 5); got != older {
		t.Fatalf("IGNORE header should be skipped, got %v", got)
	}
}

func TestNodeInstallHeaderChains(t *testing.T) {
	n := newNode(dname.MustNew("example."), 16)
	h1 := &Header{key: typeKey{Type: 1}, Serial: 1, heapIndex: -1}
	n.installHeader(h1)
	if n.findType(1, 0) != h1 {
		t.Fatal("expected h1 installed")
	}

	h2 := &Header{key: typeKey{Type: 1}, Serial: 2, Down: h1, heapIndex: -1}
	n.installHeader(h2)
	if n.findType(1, 0) != h2 {
		t.Fatal("expected h2 to supersede h1")
	}
	if h2.Down != h1 {
		t.Fatal("expected h2.Down == h1")
	}

	h3 := &Header{key: typeKey{Type: 28}, Serial: 1, heapIndex: -1}
	n.installHeader(h3)
	if n.findType(28, 0) != h3 {
		t.Fatal("expected h3 installed as a distinct type chain")
	}
	if n.findType(1, 0) != h2 {
		t.Fatal("installing h3 must not disturb the type-1 chain")
	}
}

func TestLocknumDeterministic(t *testing.T) {
	n := dname.MustNew("www.example.com.")
	a := locknumFor(n, 16)
	b := locknumFor(n, 16)
	if a != b {
		t.Fatalf("locknumFor not deterministic: %d != %d", a, b)
	}
	if a < 0 || a >= 16 {
		t.Fatalf("locknum %d out of range [0,16)", a)
	}
}

func TestRefcount(t *testing.T) {
	n := newNode(dname.MustNew("example."), 16)
	n.Ref()
	n.Ref()
	if n.RefCount() != 2 {
		t.Fatalf("refcount = %d, want 2", n.RefCount())
	}
	if n.Unref() {
		t.Fatal("Unref should not report zero yet")
	}
	if !n.Unref() {
		t.Fatal("Unref should report zero on last release")
	}
}
