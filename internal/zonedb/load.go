package zonedb

import (
	"io"
	"time"

	"github.com/miekg/dns"

	"qpdb/internal/dname"
	"qpdb/internal/rdataslab"
)

// LoadSession drives the load pipeline (C7): begin_load gates entry,
// AddRdataset ingests one owner's rdataset at a time, EndLoad commits.
type LoadSession struct {
	db *DB
	w  *Handle

	sawOriginSOA bool
	sawZoneKey   bool
}

// BeginLoad opens the load gate (§4.4): rejected if the zone is already
// loaded or loading.
func (db *DB) BeginLoad() (*LoadSession, error) {
	db.mu.Lock()
	if db.attrs&attrLoading != 0 {
		db.mu.Unlock()
		return nil, ErrAlreadyLoading
	}
	if db.attrs&attrLoaded != 0 {
		db.mu.Unlock()
		return nil, ErrAlreadyLoaded
	}
	db.attrs |= attrLoading
	db.mu.Unlock()

	w, err := db.NewWriter()
	if err != nil {
		db.mu.Lock()
		db.attrs &^= attrLoading
		db.mu.Unlock()
		return nil, err
	}
	return &LoadSession{db: db, w: w}, nil
}

// RdataAttrs carries the load-time attribute requests for one
// rdataset: whether it should be scheduled for DNSSEC re-signing, and
// (when it should) its deadline and low-order tie-break bit.
type RdataAttrs struct {
	Resign     bool
	ResignTime time.Time
	ResignLSB  bool
}

// AddRdataset ingests one owner's rdataset, applying §4.4's rules in
// order: SOA-at-origin, wildcard-owner NS/NSEC3 rejection, wildcard
// ancestor magic, NSEC/NSEC3 tree population, and merge-or-install.
func (ls *LoadSession) AddRdataset(owner dname.Name, rrs []dns.RR, trust rdataslab.Trust, attrs RdataAttrs) error {
	db := ls.db
	typ := rrs[0].Header().Rrtype
	var covers uint16
	if sig, ok := rrs[0].(*dns.RRSIG); ok {
		covers = sig.TypeCovered
	}

	if typ == dns.TypeSOA && !dname.Equal(owner, db.origin) {
		return ErrNotZoneTop
	}
	if owner.IsWildcard() && typ == dns.TypeNS {
		return ErrInvalidNS
	}
	if owner.IsWildcard() && typ == dns.TypeNSEC3 {
		return ErrInvalidNSEC3
	}

	if typ != dns.TypeNSEC3 && owner.HasWildcardLabel() {
		ls.applyWildcardMagic(owner)
	}

	db.treeLock.Lock()
	node := db.getOrCreateNodeLocked(db.tree, owner)
	db.treeLock.Unlock()

	switch typ {
	case dns.TypeNSEC3:
		db.treeLock.Lock()
		db.getOrCreateNodeLocked(db.nsec3Tree, owner)
		db.treeLock.Unlock()
		node.Nsec = NsecNSEC3
	case dns.TypeNSEC:
		db.treeLock.Lock()
		_, dup := db.nsecTree.Get(owner)
		db.getOrCreateNodeLocked(db.nsecTree, owner)
		db.treeLock.Unlock()
		if dup {
			db.logger.Printf("zonedb: load: duplicate NSEC twin for %s, continuing", owner)
		}
		node.Nsec = NsecHasNSEC
	}

	if (typ == dns.TypeNS && !dname.Equal(owner, db.origin)) || typ == dns.TypeDNAME {
		node.FindCallback = true
	}

	slab, err := rdataslab.Build(rrs, trust)
	if err != nil {
		return err
	}

	db.nodeLocks[node.Locknum].Lock()
	defer db.nodeLocks[node.Locknum].Unlock()

	existing := node.findType(typ, covers)
	if existing != nil && existing.Slab.Equal(slab) {
		return nil // UNCHANGED: treated as success, no new header
	}

	h := &Header{
		key:    typeKey{Type: typ, Covers: covers},
		TTL:    slab.TTL,
		Trust:  trust,
		Serial: ls.w.ver.serial,
		Slab:   slab,
		heapIndex: -1,
	}
	if existing != nil {
		h.Down = existing
		db.invalidateGlue(ls.w.ver, existing)
	}
	node.installHeader(h)
	ls.w.ver.changedNodes = append(ls.w.ver.changedNodes, node)
	ls.w.ver.recordCount += int64(slab.Count())

	if attrs.Resign {
		h.Resign = attrs.ResignTime
		h.resignLSB = attrs.ResignLSB
		h.Attr |= AttrResign
		ls.w.ver.resignedHeaders = append(ls.w.ver.resignedHeaders, h)
	}

	if typ == dns.TypeSOA {
		ls.sawOriginSOA = true
	}
	if typ == dns.TypeDNSKEY && dname.Equal(owner, db.origin) {
		ls.sawZoneKey = true
	}
	return nil
}

// applyWildcardMagic implements §4.4's ancestor-flagging rule: every
// proper ancestor of owner between the origin and owner gets its node
// created (if absent) and its wild bit set.
func (ls *LoadSession) applyWildcardMagic(owner dname.Name) {
	db := ls.db
	ancestors := []dname.Name{}
	cur := owner
	for {
		p, ok := cur.Parent()
		if !ok || dname.StrictSubdomain(db.origin, p) {
			break
		}
		ancestors = append(ancestors, p)
		if dname.Equal(p, db.origin) {
			break
		}
		cur = p
	}
	db.treeLock.Lock()
	defer db.treeLock.Unlock()
	for _, a := range ancestors {
		n := db.getOrCreateNodeLocked(db.tree, a)
		db.nodeLocks[n.Locknum].Lock()
		n.Wild = true
		db.nodeLocks[n.Locknum].Unlock()
	}
}

// EndLoad clears LOADING, sets LOADED, marks the version secure if the
// origin holds a zone key, and commits the writer (§4.4).
func (ls *LoadSession) EndLoad() error {
	db := ls.db
	db.mu.Lock()
	if db.attrs&attrLoading == 0 {
		db.mu.Unlock()
		return ErrNotLoading
	}
	db.attrs &^= attrLoading
	db.attrs |= attrLoaded
	db.mu.Unlock()

	ls.w.ver.secure = ls.sawZoneKey
	return ls.w.Close(true)
}

// Abort rolls back an in-progress load (e.g. on a parse error),
// clearing LOADING without marking the zone loaded.
func (ls *LoadSession) Abort() error {
	db := ls.db
	db.mu.Lock()
	db.attrs &^= attrLoading
	db.mu.Unlock()
	return ls.w.Close(false)
}

// LoadZoneFile is the thin §12 loader adapter: it drives BeginLoad /
// AddRdataset / EndLoad from zone-file text using miekg/dns's
// dns.ZoneParser, grouping consecutive records that share an owner,
// class, and (type, covers) into one rdataset per §3's slab grouping.
// It is not a general zone-file parser — record text scanning is
// miekg/dns's job, not qpdb's (§1 non-goals).
func (db *DB) LoadZoneFile(r io.Reader, originHint string) error {
	ls, err := db.BeginLoad()
	if err != nil {
		return err
	}

	zp := dns.NewZoneParser(r, originHint, "")
	groups := map[groupKey][]dns.RR{}
	var order []groupKey

	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		owner, err := dname.New(rr.Header().Name)
		if err != nil {
			ls.Abort()
			return err
		}
		var covers uint16
		if sig, ok := rr.(*dns.RRSIG); ok {
			covers = sig.TypeCovered
		}
		k := groupKey{owner: owner.String(), typ: rr.Header().Rrtype, covers: covers}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], rr)
	}
	if err := zp.Err(); err != nil {
		ls.Abort()
		return err
	}

	for _, k := range order {
		owner, err := dname.New(k.owner)
		if err != nil {
			ls.Abort()
			return err
		}
		if err := ls.AddRdataset(owner, groups[k], rdataslab.TrustAuthAnswer, RdataAttrs{}); err != nil {
			ls.Abort()
			return err
		}
	}
	return ls.EndLoad()
}

type groupKey struct {
	owner  string
	typ    uint16
	covers uint16
}
