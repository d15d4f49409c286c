package zonedb

import "sync"

// nsec3Params mirrors the per-version NSEC3 parameter set a version
// carries (§3): a zone's hash/iterations/salt can change across a
// re-sign, and readers must see the parameters consistent with their
// own snapshot.
type nsec3Params struct {
	Hash       uint8
	Iterations uint16
	Salt       []byte
	Flags      uint8
	Have       bool
}

// Version is an immutable-once-published snapshot identified by a
// monotonically increasing serial (§3).
type Version struct {
	serial   uint64
	nsec3    nsec3Params
	secure   bool
	writable bool

	recordCount  int64
	transferSize int64

	mu sync.RWMutex // version metadata lock: counters, resigned list

	changedNodes    []*Node
	resignedHeaders []*Header
	glueStack       []*glueList

	refcount int32 // live readers + 1 while this is the current version
}

// Serial returns the version's serial number.
func (v *Version) Serial() uint64 { return v.serial }

// Secure reports whether the zone was DNSSEC-signed at load time (§4.4).
func (v *Version) Secure() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.secure
}

// NSEC3Parameters returns the version's NSEC3 hash parameters and
// whether the zone uses NSEC3 at all.
func (v *Version) NSEC3Parameters() (hash uint8, iterations uint16, salt []byte, flags uint8, have bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.nsec3.Hash, v.nsec3.Iterations, v.nsec3.Salt, v.nsec3.Flags, v.nsec3.Have
}

// RecordCount returns the version's record count, maintained by the
// load pipeline and by add/delete-rdataset (§6).
func (v *Version) RecordCount() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.recordCount
}

// Handle is a caller's attachment to a Version: either a read-only
// snapshot (from Current) or the single outstanding writer (from
// NewWriter). Handles must be closed exactly once via Close.
type Handle struct {
	db      *DB
	ver     *Version
	writer  bool
	closed  bool
}

// Version returns the underlying version snapshot.
func (h *Handle) Version() *Version { return h.ver }

// IsWriter reports whether this handle is the open writer.
func (h *Handle) IsWriter() bool { return h.writer }

// Current attaches the latest committed version, bumping its reader
// count (§4.2). The attachment's linearization point is this call: the
// handle observes exactly the state committed at this instant for its
// entire lifetime, even as later writers publish further versions.
func (db *DB) Current() *Handle {
	db.mu.Lock()
	defer db.mu.Unlock()
	v := db.current
	v.refcount++
	db.liveReaderSerials = append(db.liveReaderSerials, v.serial)
	return &Handle{db: db, ver: v}
}

// NewWriter opens the single writable version, copying NSEC3 parameters
// and counters from the current version (§4.2). It fails if a writer is
// already outstanding.
func (db *DB) NewWriter() (*Handle, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.writer != nil {
		return nil, ErrWriterOutstanding
	}
	cur := db.current
	w := &Version{
		serial:       cur.serial + 1,
		nsec3:        cur.nsec3,
		secure:       cur.secure,
		recordCount:  cur.recordCount,
		transferSize: cur.transferSize,
		writable:     true,
	}
	db.writer = w
	return &Handle{db: db, ver: w, writer: true}, nil
}

// Close releases a handle. A reader simply decrements its version's
// reference count. The writer either publishes (commit=true, an atomic
// pointer swap of the current-version pointer) or rolls back: every
// header installed at this writer's serial is marked IGNORE and
// unlinked, and the glue-cache push-list is discarded (§4.2).
func (h *Handle) Close(commit bool) error {
	if h.closed {
		return nil
	}
	h.closed = true
	db := h.db
	if !h.writer {
		db.mu.Lock()
		h.ver.refcount--
		db.removeLiveReaderSerial(h.ver.serial)
		db.mu.Unlock()
		return nil
	}

	db.mu.Lock()
	if db.writer != h.ver {
		db.mu.Unlock()
		return ErrForeignVersion
	}
	w := db.writer
	db.writer = nil
	if !commit {
		db.mu.Unlock()
		rollback(w)
		return nil
	}

	w.writable = false
	prev := db.current
	prev.refcount--
	db.current = w
	w.refcount = 1
	minSerial := db.minLiveSerialLocked(w.serial)
	db.mu.Unlock()

	db.publish(w, prev, minSerial)
	return nil
}

// rollback marks every header this writer installed as IGNORE and
// unlinks it from its type chain, restoring the previous head.
func rollback(w *Version) {
	for _, n := range w.changedNodes {
		link := &n.data
		for h := *link; h != nil; h = *link {
			if h.Serial != w.serial {
				link = &h.Next
				continue
			}
			h.Attr |= AttrIgnore
			if h.Down != nil {
				h.Down.Next = h.Next
				*link = h.Down
			} else {
				*link = h.Next
			}
		}
	}
	w.glueStack = nil
}

// publish runs the writer's post-commit bookkeeping (§4.2): headers
// flagged RESIGN go into their partition's resign heap, glue-stack
// entries are freed, and down-chain headers no longer visible to any
// live reader are pruned.
func (db *DB) publish(w *Version, prev *Version, minSerial uint64) {
	for _, h := range w.resignedHeaders {
		db.resignHeaps[h.node.Locknum].insert(h)
	}
	w.glueStack = nil

	for _, n := range w.changedNodes {
		pruneChain(n, minSerial)
	}
	db.stats.recordCountGauge.Set(float64(w.recordCount))
	db.RefreshResignGauge()
	_ = prev // retained for symmetry with the source's reader-closed callback; no separate action needed under Go's GC (see DESIGN.md)
}

func pruneChain(n *Node, minSerial uint64) {
	seen := map[typeKey]bool{}
	for h := n.data; h != nil; h = h.Next {
		if seen[h.key] {
			continue
		}
		seen[h.key] = true
		for cur := h; cur != nil; cur = cur.Down {
			if cur.Serial <= minSerial {
				cur.Down = nil
				break
			}
		}
	}
}

func (db *DB) minLiveSerialLocked(fallback uint64) uint64 {
	min := fallback
	for _, s := range db.liveReaderSerials {
		if s < min {
			min = s
		}
	}
	return min
}

func (db *DB) removeLiveReaderSerial(serial uint64) {
	for i, s := range db.liveReaderSerials {
		if s == serial {
			db.liveReaderSerials = append(db.liveReaderSerials[:i], db.liveReaderSerials[i+1:]...)
			return
		}
	}
}
