package zonedb

import (
	"testing"

	"qpdb/internal/dname"
)

func TestWriterOutstandingRejected(t *testing.T) {
	db := Create(dname.MustNew("example."), Options{})
	w1, err := db.NewWriter()
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if _, err := db.NewWriter(); err != ErrWriterOutstanding {
		t.Fatalf("got %v, want ErrWriterOutstanding", err)
	}
	if err := w1.Close(false); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := db.NewWriter(); err != nil {
		t.Fatalf("NewWriter after rollback close: %v", err)
	}
}

func TestCommitBumpsCurrent(t *testing.T) {
	db := Create(dname.MustNew("example."), Options{})
	before := db.Current()
	beforeSerial := before.Version().Serial()
	before.Close(false)

	w, err := db.NewWriter()
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Close(true); err != nil {
		t.Fatalf("Close(commit): %v", err)
	}

	after := db.Current()
	defer after.Close(false)
	if after.Version().Serial() != beforeSerial+1 {
		t.Fatalf("serial = %d, want %d", after.Version().Serial(), beforeSerial+1)
	}
}

func TestRollbackDiscardsNoSerialBump(t *testing.T) {
	db := Create(dname.MustNew("example."), Options{})
	w, err := db.NewWriter()
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	writerSerial := w.Version().Serial()
	if err := w.Close(false); err != nil {
		t.Fatalf("Close(rollback): %v", err)
	}

	h := db.Current()
	defer h.Close(false)
	if h.Version().Serial() == writerSerial {
		t.Fatalf("current serial should not equal the rolled-back writer's serial")
	}
}

func TestForeignVersionCloseRejected(t *testing.T) {
	db1 := Create(dname.MustNew("example."), Options{})
	db2 := Create(dname.MustNew("example."), Options{})
	w1, err := db1.NewWriter()
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	// Forge a handle that claims to be db2's writer but wraps db1's version.
	forged := &Handle{db: db2, ver: w1.Version(), writer: true}
	if err := forged.Close(true); err != ErrForeignVersion {
		t.Fatalf("got %v, want ErrForeignVersion", err)
	}
	w1.Close(false)
}

func TestDoubleCloseIsNoop(t *testing.T) {
	db := Create(dname.MustNew("example."), Options{})
	h := db.Current()
	if err := h.Close(false); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := h.Close(false); err != nil {
		t.Fatalf("second Close should be a no-op, got %v", err)
	}
}
