// Package dname implements the wire-format domain name type (C1): label
// splitting, case-insensitive comparison, canonical DNSSEC ordering, and
// the subdomain/wildcard predicates the name tree and lookup engine rely
// on. Wire encoding itself is delegated to github.com/miekg/dns, which is
// already the wire-format library the rest of this module uses.
package dname

import (
	"errors"
	"strings"

	"github.com/miekg/dns"
)

// ErrTooLong is returned when a name's wire encoding would exceed 255 octets.
var ErrTooLong = errors.New("dname: name exceeds 255 octets")

// ErrEmptyLabel is returned for a non-terminal zero-length label.
var ErrEmptyLabel = errors.New("dname: empty label")

// Name is an owned, fully-qualified domain name in wire form: a sequence
// of length-prefixed labels terminated by the zero-length root label.
// Values are immutable once constructed.
type Name struct {
	wire []byte // wire-format encoding, no name compression
	text string // canonical (lowercased) presentation form, always "."-terminated
}

// Root is the zero-length root name.
var Root = Name{wire: []byte{0}, text: "."}

// New parses a presentation-format name (e.g. "www.example.com" or
// "www.example.com.") into its wire form. The result is always
// fully-qualified.
func New(s string) (Name, error) {
	fq := dns.Fqdn(s)
	if fq != "." && (strings.HasPrefix(fq, ".") || strings.Contains(fq, "..")) {
		return Name{}, ErrEmptyLabel
	}
	buf := make([]byte, 255)
	off, err := dns.PackDomainName(fq, buf, 0, nil, false)
	if err != nil {
		return Name{}, ErrTooLong
	}
	wire := make([]byte, off)
	copy(wire, buf[:off])
	return Name{wire: wire, text: strings.ToLower(fq)}, nil
}

// MustNew is New but panics on error; for constants and tests.
func MustNew(s string) Name {
	n, err := New(s)
	if err != nil {
		panic(err)
	}
	return n
}

// FromWire decodes a name beginning at offset 0 of a standalone wire
// buffer (no compression pointers are meaningful outside a message, so
// FromWire rejects them).
func FromWire(wire []byte) (Name, error) {
	for i := 0; i < len(wire) && wire[i] != 0; i += 1 + int(wire[i]) {
		if wire[i]&0xC0 != 0 {
			return Name{}, errors.New("dname: compression pointer in standalone name")
		}
	}
	s, off, err := dns.UnpackDomainName(wire, 0)
	if err != nil {
		return Name{}, err
	}
	out := make([]byte, off)
	copy(out, wire[:off])
	return Name{wire: out, text: strings.ToLower(s)}, nil
}

// String returns the lowercased, fully-qualified presentation form.
func (n Name) String() string { return n.text }

// Wire returns the raw wire-format encoding. Callers must not mutate it.
func (n Name) Wire() []byte { return n.wire }

// IsRoot reports whether n is the zero-length root name.
func (n Name) IsRoot() bool { return len(n.wire) == 1 && n.wire[0] == 0 }

// Labels returns the name's labels, ordered left to right (most specific
// first), excluding the trailing root label.
func (n Name) Labels() [][]byte {
	var out [][]byte
	for i := 0; i < len(n.wire); {
		l := int(n.wire[i])
		if l == 0 {
			break
		}
		out = append(out, n.wire[i+1:i+1+l])
		i += 1 + l
	}
	return out
}

// LabelCount returns the number of non-root labels.
func (n Name) LabelCount() int { return len(n.Labels()) }

// IsWildcard reports whether the leftmost label is the single octet "*".
func (n Name) IsWildcard() bool {
	labels := n.Labels()
	return len(labels) > 0 && len(labels[0]) == 1 && labels[0][0] == '*'
}

// HasWildcardLabel reports whether any label of n (not just the
// leftmost) is exactly "*" — used by the load pipeline to detect
// "wildcard magic" targets that are not themselves wildcard owners.
func (n Name) HasWildcardLabel() bool {
	for _, l := range n.Labels() {
		if len(l) == 1 && l[0] == '*' {
			return true
		}
	}
	return false
}

// Parent returns n with its leftmost label removed, and false if n is
// already the root.
func (n Name) Parent() (Name, bool) {
	if n.IsRoot() {
		return Name{}, false
	}
	l := int(n.wire[0])
	return Name{wire: n.wire[1+l:], text: parentText(n.text)}, true
}

func parentText(text string) string {
	// text is "a.b.c." form; drop the first label.
	i := strings.IndexByte(text, '.')
	if i < 0 || i+1 >= len(text) {
		return "."
	}
	return text[i+1:]
}

// Concat returns prefix.suffix, e.g. used to synthesize a wildcard owner
// "*".concat(parent) or to rebase an NS target under a new origin.
func Concat(prefix, suffix Name) (Name, error) {
	if !suffix.IsRoot() {
		// fallthrough: both fine, just need combined wire length check
	}
	combined := len(prefix.wire) - 1 + len(suffix.wire) // drop prefix's own root terminator
	if combined > 255 {
		return Name{}, ErrTooLong
	}
	wire := make([]byte, 0, combined)
	wire = append(wire, prefix.wire[:len(prefix.wire)-1]...)
	wire = append(wire, suffix.wire...)
	text := prefix.text
	if suffix.IsRoot() {
		text = prefix.text
	} else {
		text = prefix.text + suffix.text
	}
	return Name{wire: wire, text: text}, nil
}

// Equal reports case-insensitive wire equality.
func Equal(a, b Name) bool { return a.text == b.text }

// IsSubdomain reports whether b is a label-suffix of a (a == b counts as
// a subdomain of b, per RFC wording used throughout BIND).
func IsSubdomain(a, b Name) bool {
	la, lb := a.Labels(), b.Labels()
	if len(lb) > len(la) {
		return false
	}
	offset := len(la) - len(lb)
	for i := range lb {
		if !labelEqual(la[offset+i], lb[i]) {
			return false
		}
	}
	return true
}

// StrictSubdomain reports IsSubdomain(a,b) && !Equal(a,b).
func StrictSubdomain(a, b Name) bool {
	return IsSubdomain(a, b) && !Equal(a, b)
}

func labelEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if lower(a[i]) != lower(b[i]) {
			return false
		}
	}
	return true
}

func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + 32
	}
	return c
}

// CanonicalKey returns a byte string such that lexicographic comparison
// of two names' CanonicalKey matches DNSSEC canonical name ordering
// (RFC 4034 §6.1): labels most-significant-last, each label compared
// case-insensitively as a left-justified octet string, so a label that
// is a prefix of another sorts first. The name tree (C3) uses this as
// its ordering key so that in-order iteration is canonical order, which
// NSEC/NSEC3 closest-encloser search depends on.
func (n Name) CanonicalKey() []byte {
	labels := n.Labels()
	// Reverse label order (root first, owner's leftmost label last),
	// lowercase each octet, and end each label with the two-byte
	// terminator 0x00 0x00. A 0x00 octet inside a label is written as
	// 0x00 0x01, so the terminator sorts before any label content.
	var out []byte
	for i := len(labels) - 1; i >= 0; i-- {
		for _, c := range labels[i] {
			if c = lower(c); c == 0 {
				out = append(out, 0, 1)
			} else {
				out = append(out, c)
			}
		}
		out = append(out, 0, 0)
	}
	return out
}

// Less reports whether a sorts strictly before b in canonical DNSSEC
// name order.
func Less(a, b Name) bool {
	ka, kb := a.CanonicalKey(), b.CanonicalKey()
	for i := 0; i < len(ka) && i < len(kb); i++ {
		if ka[i] != kb[i] {
			return ka[i] < kb[i]
		}
	}
	return len(ka) < len(kb)
}
