package zonedb

import (
	"github.com/miekg/dns"

	"qpdb/internal/dname"
)

// FindOptions are the §4.3 option flags.
type FindOptions uint8

const (
	optGlueOK FindOptions = 1 << iota
	optNoWild
	optForceNSEC3
)

// GlueOK permits a lookup to descend below a zone cut when resolving
// an NS target's address for the glue cache.
const GlueOK = optGlueOK

// NoWild disables wildcard synthesis.
const NoWild = optNoWild

// ForceNSEC3 directs the tree descent at the NSEC3 tree instead of the
// main tree.
const ForceNSEC3 = optForceNSEC3

// FindResult is the outcome of Find (§4.3).
type FindResult struct {
	Result     Result
	FoundName  dname.Name
	Node       *Node
	Found      *Header // primary rdataset header, version-visible
	FoundSig   *Header // RRSIG covering Found, if any
	NsecHeader *Header // denial-of-existence NSEC/NSEC3 header, if synthesized
	NsecSig    *Header
	Wildcard   bool
}

// Find is the lookup engine (C6): the non-negotiable algorithm of §4.3.
func (db *DB) Find(qname dname.Name, qtype uint16, v *Version, opts FindOptions) *FindResult {
	r := db.find(qname, qtype, coversOf(qtype), v, opts)
	return r
}

func coversOf(qtype uint16) uint16 {
	if qtype == dns.TypeRRSIG {
		return 0 // a bare RRSIG query is not modeled as "covers"; real sig lookups pass covers explicitly
	}
	return 0
}

// find is Find's internal engine, also used by glue computation with an
// explicit covers value.
func (db *DB) find(qname dname.Name, qtype, covers uint16, v *Version, opts FindOptions) *FindResult {
	tr := db.tree
	if opts&optForceNSEC3 != 0 {
		tr = db.nsec3Tree
	}

	db.treeLock.RLock()
	exact, chain, it := tr.Lookup(qname)
	db.treeLock.RUnlock()

	// Step 2: ancestor zone-cut scan.
	scanChain := chain
	if exact && len(scanChain) > 0 {
		scanChain = scanChain[:len(scanChain)-1]
	}
	var cutNode *Node
	var cutNS, cutSig *Header
	var cutIsDNAME bool
	for _, anc := range scanChain {
		if !anc.FindCallback {
			continue
		}
		if ns := VisibleAt(anc.findType(dns.TypeDNAME, 0), v.serial); ns != nil && ns.Exists() {
			if cutNode == nil {
				cutNode, cutNS, cutIsDNAME = anc, ns, true
				cutSig = VisibleAt(anc.findType(dns.TypeRRSIG, dns.TypeDNAME), v.serial)
			}
			continue
		}
		if !dname.Equal(anc.Name, db.origin) {
			if ns := VisibleAt(anc.findType(dns.TypeNS, 0), v.serial); ns != nil && ns.Exists() && cutNode == nil {
				cutNode, cutNS, cutIsDNAME = anc, ns, false
				cutSig = VisibleAt(anc.findType(dns.TypeRRSIG, dns.TypeNS), v.serial)
			}
		}
	}

	if !exact {
		if cutNode != nil {
			res := Delegation
			if cutIsDNAME {
				res = ResultDNAME
			}
			return &FindResult{Result: res, FoundName: cutNode.Name, Node: cutNode, Found: cutNS, FoundSig: cutSig}
		}

		if opts&optNoWild == 0 {
			if wr, ok := db.tryWildcard(qname, scanChain, v, opts, qtype, covers); ok {
				return wr
			}
		}

		// Empty non-terminal vs NXDOMAIN.
		for {
			next, ok := it.Next()
			if !ok {
				break
			}
			if nodeHasAnyVisible(next, v.serial) && dname.IsSubdomain(next.Name, qname) {
				return &FindResult{Result: EmptyName, FoundName: qname}
			}
			break
		}
		res := &FindResult{Result: NXDomain, FoundName: qname}
		if v.Secure() {
			db.synthesizeNSEC(qname, v, opts, res)
		}
		return res
	}

	node, _ := tr.Get(qname)

	// Step 4: header scan at Q.
	var found, foundSig, nsecHdr, nsecSig, cnameSig *Header
	allowCNAME := qtype != dns.TypeKEY && qtype != dns.TypeNSEC
	for h := node.data; h != nil; h = h.Next {
		vh := VisibleAt(h, v.serial)
		if vh == nil {
			continue
		}
		switch {
		case h.key.Type == qtype && h.key.Covers == covers:
			if vh.Exists() {
				found = vh
			}
		case h.key.Type == dns.TypeRRSIG && h.key.Covers == qtype:
			foundSig = vh
		case allowCNAME && h.key.Type == dns.TypeCNAME:
			if vh.Exists() {
				found = vh
			}
		case h.key.Type == dns.TypeRRSIG && h.key.Covers == dns.TypeCNAME:
			cnameSig = vh
		case h.key.Type == dns.TypeNSEC:
			if vh.Exists() {
				nsecHdr = vh
			}
		case h.key.Type == dns.TypeRRSIG && h.key.Covers == dns.TypeNSEC:
			nsecSig = vh
		}
	}
	if found != nil && found.key.Type == dns.TypeCNAME && foundSig == nil {
		foundSig = cnameSig
	}

	// Step 5: zone-cut promotion at Q itself.
	if ns := VisibleAt(node.findType(dns.TypeNS, 0), v.serial); ns != nil && ns.Exists() && !dname.Equal(qname, db.origin) {
		if opts&optGlueOK == 0 && qtype != dns.TypeNSEC && qtype != dns.TypeKEY {
			return &FindResult{Result: Delegation, FoundName: qname, Node: node, Found: ns,
				FoundSig: VisibleAt(node.findType(dns.TypeRRSIG, dns.TypeNS), v.serial)}
		}
		cutNode, cutNS = node, ns
	}

	// Step 6: classification.
	if found == nil {
		res := &FindResult{Result: NXRRset, FoundName: qname, Node: node, NsecHeader: nsecHdr, NsecSig: nsecSig}
		if v.Secure() && nsecHdr == nil {
			db.synthesizeNSEC(qname, v, opts, res)
		}
		return res
	}
	if qtype != found.key.Type && found.key.Type == dns.TypeCNAME {
		return &FindResult{Result: ResultCNAME, FoundName: qname, Node: node, Found: found, FoundSig: foundSig}
	}
	result := Success
	if cutNode != nil && !dname.Equal(qname, db.origin) {
		switch {
		case qtype == dns.TypeANY:
			result = ZoneCut
		case qtype == dns.TypeNSEC || qtype == dns.TypeKEY:
			result = Success
		default:
			result = Glue
		}
	}
	return &FindResult{Result: result, FoundName: qname, Node: node, Found: found, FoundSig: foundSig}
}

func nodeHasAnyVisible(n *Node, serial uint64) bool {
	for h := n.data; h != nil; h = h.Next {
		if vh := VisibleAt(h, serial); vh != nil && vh.Exists() {
			return true
		}
	}
	return false
}

// tryWildcard implements §4.3 step 3b: synthesize *.ancestor for the
// deepest wild ancestor (whether or not the ancestor itself holds data
// in v) that has a visible wildcard child and whose match isn't blocked
// by an intervening active name.
func (db *DB) tryWildcard(qname dname.Name, chain []*Node, v *Version, opts FindOptions, qtype, covers uint16) (*FindResult, bool) {
	for i := len(chain) - 1; i >= 0; i-- {
		anc := chain[i]
		if !anc.Wild {
			continue
		}
		wildName, err := dname.Concat(dname.MustNew("*."), anc.Name)
		if err != nil {
			continue
		}
		wnode, ok := db.tree.Get(wildName)
		if !ok || !nodeHasAnyVisible(wnode, v.serial) {
			continue
		}
		if db.wildcardBlocked(qname, anc.Name, v.serial) {
			continue
		}
		r := db.find(wildName, qtype, covers, v, opts|optNoWild)
		r.Wildcard = true
		r.FoundName = qname
		return r, true
	}
	return nil, false
}

// wildcardBlocked implements the §4.3 `wildcard_blocked` predicate: a
// wildcard match is invalid if a version-active name exists strictly
// between the wildcard's parent and qname.
func (db *DB) wildcardBlocked(qname, wildParent dname.Name, serial uint64) bool {
	_, _, it := db.tree.Lookup(qname)
	prev, hasPrev := it.Prev()
	for hasPrev && !nodeHasAnyVisible(prev, serial) {
		prev, hasPrev = it.Prev()
	}
	_, _, it2 := db.tree.Lookup(qname)
	next, hasNext := it2.Next()
	for hasNext && !nodeHasAnyVisible(next, serial) {
		next, hasNext = it2.Next()
	}

	check := func(n *Node, ok bool) bool {
		if !ok {
			return false
		}
		if !dname.StrictSubdomain(n.Name, wildParent) {
			return false
		}
		return dname.StrictSubdomain(qname, n.Name) || dname.IsSubdomain(n.Name, qname)
	}
	return check(prev, hasPrev) || check(next, hasNext)
}

// synthesizeNSEC implements §4.3 step 7: closest-encloser NSEC/NSEC3
// search on denial of existence.
func (db *DB) synthesizeNSEC(qname dname.Name, v *Version, opts FindOptions, res *FindResult) {
	if opts&optForceNSEC3 != 0 {
		db.synthesizeNSEC3(qname, v, res)
		return
	}
	_, _, it := db.nsecTree.Lookup(qname)
	cur := it
	for {
		n, ok := cur.Prev()
		if !ok {
			res.Result = BadDB
			return
		}
		mainNode, ok := db.tree.Get(n.Name)
		if !ok {
			continue
		}
		h := VisibleAt(mainNode.findType(dns.TypeNSEC, 0), v.serial)
		if h == nil || !h.Exists() {
			continue
		}
		res.NsecHeader = h
		res.NsecSig = VisibleAt(mainNode.findType(dns.TypeRRSIG, dns.TypeNSEC), v.serial)
		return
	}
}

func (db *DB) synthesizeNSEC3(qname dname.Name, v *Version, res *FindResult) {
	_, _, it := db.nsec3Tree.Lookup(qname)
	wraps := false
	cur := it
	for {
		n, ok := cur.Prev()
		if !ok {
			if wraps {
				res.Result = BadDB
				return
			}
			wraps = true
			var lastOK bool
			n, lastOK = cur.Last()
			if !lastOK {
				res.Result = BadDB
				return
			}
		}
		h := VisibleAt(n.findType(dns.TypeNSEC3, 0), v.serial)
		if h == nil || !h.Exists() {
			continue
		}
		res.NsecHeader = h
		res.NsecSig = VisibleAt(n.findType(dns.TypeRRSIG, dns.TypeNSEC3), v.serial)
		return
	}
}
