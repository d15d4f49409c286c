package dname

import "testing"

func TestNewAndString(t *testing.T) {
	n, err := New("WWW.Example.COM")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if n.String() != "www.example.com." {
		t.Fatalf("got %q", n.String())
	}
	if n.LabelCount() != 3 {
		t.Fatalf("got %d labels", n.LabelCount())
	}
}

func TestIsSubdomain(t *testing.T) {
	a := MustNew("foo.sub.example.")
	b := MustNew("sub.example.")
	if !IsSubdomain(a, b) {
		t.Fatal("expected a to be a subdomain of b")
	}
	if IsSubdomain(b, a) {
		t.Fatal("expected b not to be a subdomain of a")
	}
	if !IsSubdomain(a, a) {
		t.Fatal("a name is its own subdomain")
	}
	if !StrictSubdomain(a, b) {
		t.Fatal("expected strict subdomain")
	}
	if StrictSubdomain(a, a) {
		t.Fatal("a name is not a strict subdomain of itself")
	}
}

func TestIsWildcard(t *testing.T) {
	w := MustNew("*.wild.example.")
	if !w.IsWildcard() {
		t.Fatal("expected wildcard")
	}
	if MustNew("a.wild.example.").IsWildcard() {
		t.Fatal("not a wildcard")
	}
}

func TestParentAndConcat(t *testing.T) {
	n := MustNew("a.b.example.")
	p, ok := n.Parent()
	if !ok || p.String() != "b.example." {
		t.Fatalf("got %q ok=%v", p.String(), ok)
	}
	star := MustNew("*.")
	wc, err := Concat(star, p)
	if err != nil {
		t.Fatalf("Concat: %v", err)
	}
	if wc.String() != "*.b.example." {
		t.Fatalf("got %q", wc.String())
	}
}

func TestCanonicalOrder(t *testing.T) {
	names := []string{"b.example.", "a.example.", "example.", "z.a.example."}
	want := []string{"example.", "a.example.", "z.a.example.", "b.example."}
	ns := make([]Name, len(names))
	for i, s := range names {
		ns[i] = MustNew(s)
	}
	// simple insertion sort using Less
	for i := 1; i < len(ns); i++ {
		for j := i; j > 0 && Less(ns[j], ns[j-1]); j-- {
			ns[j], ns[j-1] = ns[j-1], ns[j]
		}
	}
	for i, n := range ns {
		if n.String() != want[i] {
			t.Fatalf("position %d: got %q want %q", i, n.String(), want[i])
		}
	}
}

func TestCaseInsensitiveEqual(t *testing.T) {
	a := MustNew("Example.COM.")
	b := MustNew("example.com.")
	if !Equal(a, b) {
		t.Fatal("expected case-insensitive equality")
	}
}
