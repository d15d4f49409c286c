// Package rdataslab implements the packed, immutable encoding of an
// RRset's records (C2). A slab stores TTL and trust once per set, not
// once per record, and keeps records deduplicated and in canonical wire
// order. Records are packed/unpacked with github.com/miekg/dns, the same
// wire-format library the rest of this module uses — there is no reason
// to hand-roll a second RDATA codec next to an already-imported one.
package rdataslab

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/miekg/dns"
)

// Trust levels, ordered weakest to strongest, mirroring BIND's
// dns_trust_* ladder (additional < authauthority < answer < secure).
type Trust uint8

const (
	TrustAdditional Trust = iota
	TrustGlue
	TrustAuthAuthority
	TrustAnswer
	TrustAuthAnswer
	TrustSecure
)

// Slab is the immutable, packed representation of one RRset: every
// record shares Owner's class and (Type, Covers) pair. Build dedups and
// canonically orders its input; the zero value is not useful, use Build.
type Slab struct {
	Class  uint16
	Type   uint16 // base RR type
	Covers uint16 // for RRSIG, the covered type; otherwise 0
	TTL    uint32
	Trust  Trust
	// rdata holds each record's RDATA-only bytes, 2-byte-length-prefixed,
	// concatenated in canonical (sorted) order.
	rdata []byte
	count int
}

// placeholderHdrLen is the fixed length of a packed RR whose owner is
// the root name and whose TTL is zero: 1 (root label) + 2 (type) +
// 2 (class) + 4 (ttl) + 2 (rdlength) = 11 bytes, always preceding RDATA.
const placeholderHdrLen = 11

// Build constructs a Slab from a set of same-owner, same-type,
// same-class records. It rejects a mixed-type input.
func Build(rrs []dns.RR, trust Trust) (*Slab, error) {
	if len(rrs) == 0 {
		return nil, fmt.Errorf("rdataslab: empty rrset")
	}
	typ := rrs[0].Header().Rrtype
	class := rrs[0].Header().Class
	var covers uint16
	if sig, ok := rrs[0].(*dns.RRSIG); ok {
		covers = sig.TypeCovered
	}
	ttl := rrs[0].Header().Ttl

	packed := make([][]byte, 0, len(rrs))
	for _, rr := range rrs {
		if rr.Header().Rrtype != typ || rr.Header().Class != class {
			return nil, fmt.Errorf("rdataslab: mixed type/class in rrset")
		}
		if sig, ok := rr.(*dns.RRSIG); ok && sig.TypeCovered != covers {
			return nil, fmt.Errorf("rdataslab: mixed covered type in RRSIG set")
		}
		rd, err := packRdata(rr)
		if err != nil {
			return nil, err
		}
		packed = append(packed, rd)
	}

	sort.Slice(packed, func(i, j int) bool { return bytes.Compare(packed[i], packed[j]) < 0 })

	var buf bytes.Buffer
	count := 0
	var prev []byte
	for _, rd := range packed {
		if prev != nil && bytes.Equal(prev, rd) {
			continue // dedup identical records
		}
		prev = rd
		var lenbuf [2]byte
		binary.BigEndian.PutUint16(lenbuf[:], uint16(len(rd)))
		buf.Write(lenbuf[:])
		buf.Write(rd)
		count++
	}

	return &Slab{
		Class:  class,
		Type:   typ,
		Covers: covers,
		TTL:    ttl,
		Trust:  trust,
		rdata:  buf.Bytes(),
		count:  count,
	}, nil
}

// packRdata packs rr using the root name and a zeroed TTL so that the
// fixed placeholderHdrLen bytes can be sliced off, leaving only RDATA.
func packRdata(rr dns.RR) ([]byte, error) {
	clone := dns.Copy(rr)
	clone.Header().Name = "."
	clone.Header().Ttl = 0
	buf := make([]byte, dns.MaxMsgSize)
	off, err := dns.PackRR(clone, buf, 0, nil, false)
	if err != nil {
		return nil, fmt.Errorf("rdataslab: pack: %w", err)
	}
	if off < placeholderHdrLen {
		return nil, fmt.Errorf("rdataslab: packed RR shorter than fixed header")
	}
	out := make([]byte, off-placeholderHdrLen)
	copy(out, buf[placeholderHdrLen:off])
	return out, nil
}

// Count returns the number of (deduplicated) records in the slab.
func (s *Slab) Count() int { return s.count }

// Len returns the byte length of the packed RDATA region, for size
// accounting (C: get-size).
func (s *Slab) Len() int { return len(s.rdata) }

// RRs unpacks the slab back into full dns.RR values, owned by owner.
func (s *Slab) RRs(owner string) ([]dns.RR, error) {
	out := make([]dns.RR, 0, s.count)
	buf := make([]byte, 0, placeholderHdrLen+64)
	i := 0
	for i < len(s.rdata) {
		if i+2 > len(s.rdata) {
			return nil, fmt.Errorf("rdataslab: truncated length prefix")
		}
		rdlen := int(binary.BigEndian.Uint16(s.rdata[i : i+2]))
		i += 2
		if i+rdlen > len(s.rdata) {
			return nil, fmt.Errorf("rdataslab: truncated rdata")
		}
		rd := s.rdata[i : i+rdlen]
		i += rdlen

		buf = buf[:0]
		buf = append(buf, 0) // root name
		var hdr [8]byte
		binary.BigEndian.PutUint16(hdr[0:2], s.Type)
		binary.BigEndian.PutUint16(hdr[2:4], s.Class)
		binary.BigEndian.PutUint32(hdr[4:8], s.TTL)
		buf = append(buf, hdr[:]...)
		var rdlenb [2]byte
		binary.BigEndian.PutUint16(rdlenb[:], uint16(rdlen))
		buf = append(buf, rdlenb[:]...)
		buf = append(buf, rd...)

		rr, _, err := dns.UnpackRR(buf, 0)
		if err != nil {
			return nil, fmt.Errorf("rdataslab: unpack: %w", err)
		}
		rr.Header().Name = owner
		out = append(out, rr)
	}
	return out, nil
}

// Equal reports whether two slabs encode the same records, TTL, and
// trust — used by the load pipeline's merge step to detect an UNCHANGED
// add (§4.4) that should be treated as a no-op rather than a new header.
func (s *Slab) Equal(o *Slab) bool {
	if o == nil {
		return false
	}
	return s.Class == o.Class && s.Type == o.Type && s.Covers == o.Covers &&
		s.TTL == o.TTL && s.Trust == o.Trust && bytes.Equal(s.rdata, o.rdata)
}
