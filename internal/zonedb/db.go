package zonedb

import (
	"log"
	"sync"

	"golang.org/x/sync/singleflight"

	"qpdb/internal/dname"
	"qpdb/internal/nametree"
)

// dbAttr mirrors the db-level attribute bits of §4.4 (LOADING/LOADED).
type dbAttr uint8

const (
	attrLoading dbAttr = 1 << iota
	attrLoaded
)

// Options configures a DB at Create time.
type Options struct {
	// Partitions is P, the number of node-lock / resign-heap
	// partitions. Must be a power of two; defaults to 16.
	Partitions int
	// Logger receives recoverable anomaly reports (duplicate NSEC twin
	// at load, PROXYv2-adjacent callers don't use this). Defaults to
	// log.Default().
	Logger *log.Logger
}

// DB is a single zone's versioned database: the node/tree/version
// machinery of C3-C9. The lock order db-lock -> tree-lock -> node-lock
// -> version-lock (§5) is enforced by construction: methods that need
// more than one never acquire them out of this order.
type DB struct {
	mu sync.Mutex // db-level lock: attribute bits, writer/current pointers

	treeLock  sync.RWMutex
	tree      *nametree.Tree[*Node]
	nsecTree  *nametree.Tree[*Node]
	nsec3Tree *nametree.Tree[*Node]

	nodeLocks []sync.RWMutex // P partitions

	partitions int
	origin     dname.Name
	originNode *Node

	attrs   dbAttr
	current *Version
	writer  *Version

	liveReaderSerials []uint64

	resignHeaps []*resignHeap
	glueGroup   singleflight.Group

	logger *log.Logger
	stats  *Stats
}

// Create allocates a new, empty zone database rooted at origin. The
// initial version (serial 0) is committed and current immediately;
// BeginLoad then opens a writer to populate it (§4.4).
func Create(origin dname.Name, opts Options) *DB {
	p := opts.Partitions
	if p <= 0 {
		p = 16
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	db := &DB{
		tree:       nametree.New[*Node](),
		nsecTree:   nametree.New[*Node](),
		nsec3Tree:  nametree.New[*Node](),
		nodeLocks:  make([]sync.RWMutex, p),
		partitions: p,
		origin:     origin,
		current:    &Version{serial: 0, refcount: 1},
		logger:     logger,
	}
	db.resignHeaps = make([]*resignHeap, p)
	for i := range db.resignHeaps {
		db.resignHeaps[i] = newResignHeap()
	}
	db.stats = newStats()

	db.treeLock.Lock()
	db.originNode = db.getOrCreateNodeLocked(db.tree, origin)
	db.treeLock.Unlock()
	return db
}

// Origin returns the zone's apex name.
func (db *DB) Origin() dname.Name { return db.origin }

// getOrCreateNodeLocked returns the node at name in tr, creating it
// (and materializing it in tr) if absent. Caller holds treeLock.
func (db *DB) getOrCreateNodeLocked(tr *nametree.Tree[*Node], name dname.Name) *Node {
	if n, ok := tr.Get(name); ok {
		return n
	}
	n := newNode(name, db.partitions)
	tr.Insert(name, n)
	return n
}

// FindNode returns the node stored exactly at name, if any (§6:
// find-node). create materializes an absent node (used by the load
// pipeline and wildcard-ancestor magic); otherwise a miss returns
// (nil, false).
func (db *DB) FindNode(name dname.Name, create bool) (*Node, bool) {
	if !create {
		db.treeLock.RLock()
		n, ok := db.tree.Get(name)
		db.treeLock.RUnlock()
		return n, ok
	}
	db.treeLock.Lock()
	defer db.treeLock.Unlock()
	if n, ok := db.tree.Get(name); ok {
		return n, true
	}
	n := newNode(name, db.partitions)
	db.tree.Insert(name, n)
	return n, false
}

// NodeCount returns the number of distinct owner names in the main tree
// (§6: node-count).
func (db *DB) NodeCount() int {
	db.treeLock.RLock()
	defer db.treeLock.RUnlock()
	return db.tree.Count()
}

// AllNodes returns every node in the main tree in canonical order, for
// callers that must walk the whole zone (AXFR, zone dumps). It takes a
// single tree-lock read for the duration of the walk, the same pattern
// Size uses for its full-zone scan.
func (db *DB) AllNodes() []*Node {
	db.treeLock.RLock()
	defer db.treeLock.RUnlock()

	var nodes []*Node
	_, _, it := db.tree.Lookup(db.origin)
	for n, ok := it.First(); ok; n, ok = it.Next() {
		nodes = append(nodes, n)
	}
	return nodes
}

// GetOriginNode returns the zone apex's node (§6: get-origin-node).
func (db *DB) GetOriginNode() *Node { return db.originNode }

// IsSecure reports whether the currently committed version is signed.
func (db *DB) IsSecure() bool {
	v := db.currentVersion()
	return v.Secure()
}

func (db *DB) currentVersion() *Version {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.current
}

// VisibleHeaders returns every existing, version-visible header at n
// (§6: used by zone dumps and AXFR, which need a node's full rdataset
// list rather than a single-type Find). It takes n's node-lock
// partition for the duration of the walk.
func (db *DB) VisibleHeaders(n *Node, v *Version) []*Header {
	db.LockNode(n, false)
	defer db.UnlockNode(n, false)
	var out []*Header
	for h := n.data; h != nil; h = h.Next {
		if vh := VisibleAt(h, v.serial); vh != nil && vh.Exists() {
			out = append(out, vh)
		}
	}
	return out
}

// LockNode acquires the node-lock partition covering n (write or read),
// for callers (e.g. add-glue, delete-data of §6) that need to mutate a
// node's header list directly rather than through the load pipeline.
func (db *DB) LockNode(n *Node, write bool) {
	if write {
		db.nodeLocks[n.Locknum].Lock()
	} else {
		db.nodeLocks[n.Locknum].RLock()
	}
}

// UnlockNode is the inverse of LockNode.
func (db *DB) UnlockNode(n *Node, write bool) {
	if write {
		db.nodeLocks[n.Locknum].Unlock()
	} else {
		db.nodeLocks[n.Locknum].RUnlock()
	}
}
