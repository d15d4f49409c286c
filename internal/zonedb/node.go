package zonedb

import (
	"sync/atomic"
	"time"

	"qpdb/internal/dname"
	"qpdb/internal/rdataslab"
)

// Attr is the rdataset header attribute bitfield (§3).
type Attr uint8

const (
	AttrNonexistent Attr = 1 << iota
	AttrIgnore
	AttrAncient
	AttrResign
	AttrStatCount
)

func (a Attr) has(f Attr) bool { return a&f != 0 }

// NsecState is a node's position with respect to denial-of-existence
// chains (§3 invariant 3).
type NsecState uint8

const (
	NsecNormal NsecState = iota
	NsecHasNSEC
	NsecNSEC3
)

// typeKey identifies an rdataset's place in a node's header list: base
// type, plus the covered type for RRSIG (§3).
type typeKey struct {
	Type   uint16
	Covers uint16
}

// Header is the mutable record-of-record about a slab at a node (§3).
// heapIndex uses -1 (not the spec's literal 0) to mean "not in the
// resign heap", since 0 is a valid container/heap slot in Go; see
// DESIGN.md.
type Header struct {
	key    typeKey
	TTL    uint32
	Trust  rdataslab.Trust
	Attr   Attr
	Serial uint64

	Down *Header // older version's header for this type at this node
	Next *Header // sibling header at this node, different type

	Slab *rdataslab.Slab

	heapIndex int
	Resign    time.Time
	resignLSB bool

	glue atomic.Pointer[glueList] // lazily computed, NS-only (C9)

	node *Node // backpointer; Go's GC reclaims the node<->header cycle
}

// Type reports the header's base RR type.
func (h *Header) Type() uint16 { return h.key.Type }

// Covers reports the covered type (RRSIG only; 0 otherwise).
func (h *Header) Covers() uint16 { return h.key.Covers }

// Visible reports whether this exact header (not its down-chain) would
// be visible at version v: serial <= v and IGNORE clear. NONEXISTENT
// headers are visible as a marker of absence — callers must check Attr
// separately to distinguish "absent" from "present".
func (h *Header) Visible(v uint64) bool {
	return h != nil && h.Serial <= v && !h.Attr.has(AttrIgnore)
}

// VisibleAt walks the down-chain from h, returning the first header
// visible at version v, or nil if none is. A NONEXISTENT header is
// still returned (the caller interprets it as "does not exist at v").
func VisibleAt(h *Header, v uint64) *Header {
	for cur := h; cur != nil; cur = cur.Down {
		if cur.Visible(v) {
			return cur
		}
	}
	return nil
}

// Exists reports whether h (assumed already version-filtered via
// VisibleAt) represents an existing rdataset rather than a tombstone.
func (h *Header) Exists() bool { return h != nil && !h.Attr.has(AttrNonexistent) }

// Owner returns the name of the node this header is attached to. NSEC
// and NSEC3 denial headers in particular are not owned by the queried
// name, so callers rendering a response must use this rather than the
// query name.
func (h *Header) Owner() dname.Name { return h.node.Name }

// Node is one per distinct owner name present in the tree (§3).
type Node struct {
	Name dname.Name

	data *Header // head of the singly linked header list

	Wild         bool
	FindCallback bool
	Nsec         NsecState
	Locknum      int

	refcount int32
}

// TreeName implements nametree.Keyed.
func (n *Node) TreeName() dname.Name { return n.Name }

func newNode(name dname.Name, partitions int) *Node {
	return &Node{Name: name, Locknum: locknumFor(name, partitions)}
}

func locknumFor(name dname.Name, partitions int) int {
	// FNV-1a over the canonical key, masked to a power-of-two partition
	// count, mirroring the teacher's getShard() hash-to-shard pattern
	// (internal/cache/rrset_cache.go) adapted from a cache shard index
	// to a node-lock partition index.
	const offset32 = 2166136261
	const prime32 = 16777619
	h := uint32(offset32)
	for _, b := range name.CanonicalKey() {
		h ^= uint32(b)
		h *= prime32
	}
	return int(h) & (partitions - 1)
}

// Ref increments the node's reference count (§3 invariant 6).
func (n *Node) Ref() { atomic.AddInt32(&n.refcount, 1) }

// Unref decrements the reference count and reports whether it reached
// zero.
func (n *Node) Unref() bool { return atomic.AddInt32(&n.refcount, -1) == 0 }

// RefCount returns the current reference count.
func (n *Node) RefCount() int32 { return atomic.LoadInt32(&n.refcount) }

// headers iterates the node's header list (Next chain).
func (n *Node) headers() []*Header {
	var out []*Header
	for h := n.data; h != nil; h = h.Next {
		out = append(out, h)
	}
	return out
}

// findType returns the header for an exact (type, covers) pair, or nil.
func (n *Node) findType(typ, covers uint16) *Header {
	for h := n.data; h != nil; h = h.Next {
		if h.key.Type == typ && h.key.Covers == covers {
			return h
		}
	}
	return nil
}

// installHeader links a brand-new header (whose Down is already set to
// the previous head of its type's chain, if any) as the new head of
// that type's chain, preserving every other type's chain unchanged
// (§3 invariant 1).
func (n *Node) installHeader(h *Header) {
	h.node = n
	prev := n.findType(h.key.Type, h.key.Covers)
	if prev == nil {
		h.Next = n.data
		n.data = h
		return
	}
	// Splice h in at prev's position in the Next list, with prev now
	// hanging off h.Down (caller is responsible for having set that).
	if n.data == prev {
		n.data = h
	} else {
		for cur := n.data; cur != nil; cur = cur.Next {
			if cur.Next == prev {
				cur.Next = h
				break
			}
		}
	}
	h.Next = prev.Next
}
