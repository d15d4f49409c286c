// Package proxyproto implements a resumable decoder and encoder for
// HAProxy's PROXY protocol v2 header (C10), used at the connection-accept
// boundary to classify inbound connections before DNS traffic is parsed.
// It depends on nothing beyond the standard library: no library in the
// retrieved example pack parses this wire format, and its state machine
// is small, fixed-shape binary framing better expressed directly than
// through a general-purpose codec (see DESIGN.md).
package proxyproto

import (
	"encoding/binary"
	"errors"
	"net"
)

// Signature is the mandatory 12-byte PROXY v2 magic.
var Signature = [12]byte{0x0D, 0x0A, 0x0D, 0x0A, 0x00, 0x0D, 0x0A, 0x51, 0x55, 0x49, 0x54, 0x0A}

// Command is the PROXY v2 command nibble.
type Command uint8

const (
	CommandLocal Command = 0
	CommandProxy Command = 1
)

// SockType is the transport protocol nibble.
type SockType uint8

const (
	SockUnspec SockType = iota
	SockStream
	SockDgram
)

// Family is the address family nibble.
type Family uint8

const (
	FamilyUnspec Family = iota
	FamilyInet
	FamilyInet6
	FamilyUnix
)

// state is the resumable parser's current position.
type state uint8

const (
	stateInitial state = iota
	stateSignature
	stateVerCmd
	stateProtoFam
	stateLen
	stateAddrs
	stateTLVs
	stateDone
)

// Result is the outcome reported to a Parser's callback.
type Result uint8

const (
	ResultNoMore Result = iota
	ResultSuccess
	ResultUnexpected
	ResultRange
)

var (
	// ErrRecursivePush is returned by Push when called reentrantly from
	// within its own callback. The reentrant call is rejected and the
	// parser's state is left untouched; nothing is aborted.
	ErrRecursivePush = errors.New("proxyproto: recursive Push from callback")
	// ErrHeaderTooLarge is recorded (as ResultRange) when the declared
	// length exceeds the configured MaxSize.
	ErrHeaderTooLarge = errors.New("proxyproto: declared length exceeds max size")
	// ErrMalformed is recorded (as ResultUnexpected) on structurally
	// invalid input: bad signature, bad version, bad family/address
	// combination.
	ErrMalformed = errors.New("proxyproto: malformed header")
)

// Header is the fully decoded PROXY v2 header, handed to the callback on
// ResultSuccess.
type Header struct {
	Command  Command
	SockType SockType
	Family   Family
	Source   net.Addr
	Dest     net.Addr
	TLVs     []byte // raw, un-iterated TLV region
	Extra    []byte // trailing bytes after the header, not part of it
}

// Callback receives the outcome of a Push call. err is non-nil only for
// ResultUnexpected/ResultRange; hdr is non-nil only for ResultSuccess.
type Callback func(res Result, hdr *Header, err error)

// Parser is a resumable PROXY v2 decoder: bytes may be pushed in
// arbitrarily small fragments across multiple Push calls. It is not
// safe for concurrent use; per §5 the parser is single-threaded per
// connection.
type Parser struct {
	MaxSize int // 0 means no extra cap beyond the wire length field's 16 bits

	st  state
	buf []byte // accumulated bytes not yet consumed into a completed field
	in  bool   // reentrancy guard for Push

	cmd      Command
	sockType SockType
	family   Family
	addrLen  int
	bodyLen  int
}

// NewParser returns a Parser ready to accept bytes via Push.
func NewParser(maxSize int) *Parser {
	return &Parser{MaxSize: maxSize, st: stateInitial}
}

// Reset returns the parser to its initial state, discarding any partial
// header, so the same Parser can be reused for a new connection.
func (p *Parser) Reset() {
	p.st = stateInitial
	p.buf = nil
	p.cmd = 0
	p.sockType = 0
	p.family = 0
	p.addrLen = 0
	p.bodyLen = 0
}

// Push feeds data into the parser, invoking cb exactly once if a result
// becomes available: ResultNoMore is never reported via the callback —
// Push instead returns normally with no callback invocation when more
// bytes are needed. cb fires exactly once per completed parse attempt
// (success or error); calling Push again from inside cb is a
// programming error reported as ErrRecursivePush without touching
// parser state.
func (p *Parser) Push(data []byte, cb Callback) error {
	if p.in {
		return ErrRecursivePush
	}
	p.in = true
	defer func() { p.in = false }()

	p.buf = append(p.buf, data...)

	for {
		switch p.st {
		case stateInitial:
			p.st = stateSignature
		case stateSignature:
			if len(p.buf) < 12 {
				return nil
			}
			if [12]byte(p.buf[:12]) != Signature {
				cb(ResultUnexpected, nil, ErrMalformed)
				return nil
			}
			p.buf = p.buf[12:]
			p.st = stateVerCmd
		case stateVerCmd:
			if len(p.buf) < 1 {
				return nil
			}
			b := p.buf[0]
			if b>>4 != 2 {
				cb(ResultUnexpected, nil, ErrMalformed)
				return nil
			}
			p.cmd = Command(b & 0x0F)
			p.buf = p.buf[1:]
			p.st = stateProtoFam
		case stateProtoFam:
			if len(p.buf) < 1 {
				return nil
			}
			b := p.buf[0]
			p.family = Family(b >> 4)
			p.sockType = SockType(b & 0x0F)
			var ok bool
			p.addrLen, ok = addrBlockLen(p.family, p.sockType)
			if !ok {
				cb(ResultUnexpected, nil, ErrMalformed)
				return nil
			}
			p.buf = p.buf[1:]
			p.st = stateLen
		case stateLen:
			if len(p.buf) < 2 {
				return nil
			}
			p.bodyLen = int(binary.BigEndian.Uint16(p.buf[:2]))
			if p.MaxSize > 0 && p.bodyLen > p.MaxSize {
				cb(ResultRange, nil, ErrHeaderTooLarge)
				return nil
			}
			if p.bodyLen < p.addrLen {
				cb(ResultUnexpected, nil, ErrMalformed)
				return nil
			}
			p.buf = p.buf[2:]
			p.st = stateAddrs
		case stateAddrs:
			if len(p.buf) < p.addrLen {
				return nil
			}
			p.st = stateTLVs
		case stateTLVs:
			if len(p.buf) < p.bodyLen {
				return nil
			}
			addrBlock := p.buf[:p.addrLen]
			tlvRegion := p.buf[p.addrLen:p.bodyLen]
			extra := p.buf[p.bodyLen:]

			src, dst, err := decodeAddrs(p.family, p.sockType, addrBlock)
			if err != nil {
				cb(ResultUnexpected, nil, err)
				return nil
			}
			hdr := &Header{
				Command:  p.cmd,
				SockType: p.sockType,
				Family:   p.family,
				Source:   src,
				Dest:     dst,
				TLVs:     append([]byte(nil), tlvRegion...),
				Extra:    append([]byte(nil), extra...),
			}
			p.st = stateDone
			p.buf = nil
			cb(ResultSuccess, hdr, nil)
			return nil
		case stateDone:
			return nil
		}
	}
}

func addrBlockLen(f Family, t SockType) (int, bool) {
	switch f {
	case FamilyUnspec:
		return 0, true
	case FamilyInet:
		if t != SockStream && t != SockDgram && t != SockUnspec {
			return 0, false
		}
		return 12, true // 4+4 addrs + 2+2 ports
	case FamilyInet6:
		if t != SockStream && t != SockDgram && t != SockUnspec {
			return 0, false
		}
		return 36, true // 16+16 addrs + 2+2 ports
	case FamilyUnix:
		return 216, true // 108+108 paths
	default:
		return 0, false
	}
}

func decodeAddrs(f Family, t SockType, b []byte) (src, dst net.Addr, err error) {
	switch f {
	case FamilyUnspec:
		return nil, nil, nil
	case FamilyInet:
		srcIP := net.IP(append([]byte(nil), b[0:4]...))
		dstIP := net.IP(append([]byte(nil), b[4:8]...))
		srcPort := binary.BigEndian.Uint16(b[8:10])
		dstPort := binary.BigEndian.Uint16(b[10:12])
		return addrFor(t, srcIP, int(srcPort)), addrFor(t, dstIP, int(dstPort)), nil
	case FamilyInet6:
		srcIP := net.IP(append([]byte(nil), b[0:16]...))
		dstIP := net.IP(append([]byte(nil), b[16:32]...))
		srcPort := binary.BigEndian.Uint16(b[32:34])
		dstPort := binary.BigEndian.Uint16(b[34:36])
		return addrFor(t, srcIP, int(srcPort)), addrFor(t, dstIP, int(dstPort)), nil
	case FamilyUnix:
		srcPath := cstring(b[0:108])
		dstPath := cstring(b[108:216])
		return &net.UnixAddr{Name: srcPath, Net: "unix"}, &net.UnixAddr{Name: dstPath, Net: "unix"}, nil
	default:
		return nil, nil, ErrMalformed
	}
}

func addrFor(t SockType, ip net.IP, port int) net.Addr {
	if t == SockDgram {
		return &net.UDPAddr{IP: ip, Port: port}
	}
	return &net.TCPAddr{IP: ip, Port: port}
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
