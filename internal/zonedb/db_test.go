package zonedb

import (
	"strings"
	"testing"

	"qpdb/internal/dname"
)

func TestCreateMaterializesOrigin(t *testing.T) {
	o := dname.MustNew("example.")
	db := Create(o, Options{})
	if db.Origin().String() != "example." {
		t.Fatalf("Origin() = %v, want example.", db.Origin())
	}
	if db.GetOriginNode() == nil {
		t.Fatal("expected origin node to be materialized at Create")
	}
	if db.NodeCount() != 1 {
		t.Fatalf("NodeCount() = %d, want 1", db.NodeCount())
	}
}

func TestFindNodeCreateVsLookup(t *testing.T) {
	db := Create(dname.MustNew("example."), Options{})
	name := dname.MustNew("www.example.com.")
	if _, ok := db.FindNode(name, false); ok {
		t.Fatal("expected FindNode miss before creation")
	}
	n, existed := db.FindNode(name, true)
	if existed {
		t.Fatal("expected existed=false on first creation")
	}
	if n == nil {
		t.Fatal("expected a node back")
	}
	n2, existed2 := db.FindNode(name, true)
	if !existed2 || n2 != n {
		t.Fatalf("expected the same node back on second FindNode(create=true), got %v (existed=%v)", n2, existed2)
	}
}

func TestBeginLoadGatesDoubleEntry(t *testing.T) {
	db := Create(dname.MustNew("example."), Options{})
	ls, err := db.BeginLoad()
	if err != nil {
		t.Fatalf("BeginLoad: %v", err)
	}
	if _, err := db.BeginLoad(); err != ErrAlreadyLoading {
		t.Fatalf("got %v, want ErrAlreadyLoading", err)
	}
	ls.Abort()

	if err := db.LoadZoneFile(strings.NewReader(`
example. 3600 IN SOA ns1.example. hostmaster.example. 1 3600 600 604800 3600
`), "example."); err != nil {
		t.Fatalf("LoadZoneFile: %v", err)
	}
	if _, err := db.BeginLoad(); err != ErrAlreadyLoaded {
		t.Fatalf("got %v, want ErrAlreadyLoaded", err)
	}
}

func TestSizeReflectsLoadedData(t *testing.T) {
	db := Create(dname.MustNew("example."), Options{})
	before := db.Size()
	if err := db.LoadZoneFile(strings.NewReader(`
example.     3600 IN SOA ns1.example. hostmaster.example. 1 3600 600 604800 3600
example.     3600 IN NS  ns1.example.
ns1.example. 3600 IN A   192.0.2.1
`), "example."); err != nil {
		t.Fatalf("LoadZoneFile: %v", err)
	}
	after := db.Size()
	if after <= before {
		t.Fatalf("Size() did not grow after load: before=%d after=%d", before, after)
	}
}
