package zonedb

import (
	"fmt"
	"sort"

	"github.com/miekg/dns"

	"qpdb/internal/dname"
	"qpdb/internal/rdataslab"
)

// glueRecord is one NS target's additional-section materials (§4.5/C9).
type glueRecord struct {
	Name     dname.Name
	A        *rdataslab.Slab
	AAAA     *rdataslab.Slab
	SigA     *rdataslab.Slab
	SigAAAA  *rdataslab.Slab
	Required bool // in-bailiwick: NS target is a subdomain of the NS owner
}

// glueList is the per-NS-header memoized additional-data cache. A
// non-nil, zero-length glueNone sentinel means "looked up, found none",
// matching the spec's (void*)-1 marker adapted to a typed Go pointer.
type glueList struct {
	Records []glueRecord
}

var glueNone = &glueList{}

// GlueFor returns the additional-section materials for an NS header,
// computing and memoizing them on first use. Concurrent callers racing
// to fill the same header's glue coalesce onto one Find-driven
// computation via singleflight, exactly the golang.org/x/sync primitive
// the teacher uses to coalesce duplicate resolver lookups
// (internal/resolver/resolver.go) — here coalescing duplicate glue
// walks instead of duplicate recursive queries.
func (db *DB) GlueFor(h *Header, v *Version) (*glueList, error) {
	if g := h.glue.Load(); g != nil {
		db.stats.recordGlueHit()
		return g, nil
	}
	key := fmt.Sprintf("%p", h)
	res, err, _ := db.glueGroup.Do(key, func() (any, error) {
		if g := h.glue.Load(); g != nil {
			return g, nil
		}
		db.stats.recordGlueMiss()
		computed, err := db.computeGlue(h, v)
		if err != nil {
			return nil, err
		}
		h.glue.CompareAndSwap(nil, computed)
		return h.glue.Load(), nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*glueList), nil
}

func (db *DB) computeGlue(h *Header, v *Version) (*glueList, error) {
	owner := h.node.Name
	rrs, err := h.Slab.RRs(owner.String())
	if err != nil {
		return nil, err
	}
	targets := make([]string, 0, len(rrs))
	for _, rr := range rrs {
		if ns, ok := rr.(*dns.NS); ok {
			targets = append(targets, ns.Ns)
		}
	}
	sort.Strings(targets)

	list := &glueList{}
	for _, tgt := range targets {
		targetName, err := dname.New(tgt)
		if err != nil {
			continue
		}
		rec := glueRecord{Name: targetName, Required: dname.IsSubdomain(targetName, owner)}
		if lr := db.find(targetName, dns.TypeA, 0, v, optGlueOK); lr.Found != nil {
			rec.A = lr.Found.Slab
		}
		if lr := db.find(targetName, dns.TypeAAAA, 0, v, optGlueOK); lr.Found != nil {
			rec.AAAA = lr.Found.Slab
		}
		list.Records = append(list.Records, rec)
	}
	if len(list.Records) == 0 {
		return glueNone, nil
	}
	// In-bailiwick glue moves to the front so a truncated ADDITIONAL
	// section still favors the name the renderer most needs (§4.5).
	sort.SliceStable(list.Records, func(i, j int) bool {
		return list.Records[i].Required && !list.Records[j].Required
	})
	return list, nil
}

// invalidateGlue records old's memoized glue list (if any) onto the
// currently-open writer's glue stack so Close(commit=true) can drop it
// once the structural change that superseded old is visible to no
// reader (§4.5).
func (db *DB) invalidateGlue(w *Version, old *Header) {
	if old == nil {
		return
	}
	if g := old.glue.Load(); g != nil && g != glueNone {
		w.glueStack = append(w.glueStack, g)
	}
}

// find is defined in lookup.go; optGlueOK is one of the option flags
// there.
