package proxyproto

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
)

// Emit writes a complete PROXY v2 header for (cmd, sockType, src, dst),
// followed by tlvs encoded in order, to a single buffer. It is the
// inverse of Parser.Push: Parser.Push(Emit(...), cb) reports
// ResultSuccess with an equivalent Header.
func Emit(cmd Command, sockType SockType, src, dst net.Addr, tlvs []TLV) ([]byte, error) {
	var body bytes.Buffer

	family, addrBytes, err := encodeAddrs(sockType, src, dst)
	if err != nil {
		return nil, err
	}
	body.Write(addrBytes)

	for _, t := range tlvs {
		if len(t.Value) > 0xFFFF {
			return nil, fmt.Errorf("proxyproto: TLV 0x%02x value too large", t.Type)
		}
		var hdr [3]byte
		hdr[0] = t.Type
		binary.BigEndian.PutUint16(hdr[1:3], uint16(len(t.Value)))
		body.Write(hdr[:])
		body.Write(t.Value)
	}

	if body.Len() > 0xFFFF {
		return nil, ErrHeaderTooLarge
	}

	var out bytes.Buffer
	out.Write(Signature[:])
	out.WriteByte(2<<4 | uint8(cmd))
	out.WriteByte(uint8(family)<<4 | uint8(sockType))
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(body.Len()))
	out.Write(lenBuf[:])
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func encodeAddrs(t SockType, src, dst net.Addr) (Family, []byte, error) {
	if src == nil && dst == nil {
		return FamilyUnspec, nil, nil
	}
	srcUnix, srcIsUnix := src.(*net.UnixAddr)
	dstUnix, dstIsUnix := dst.(*net.UnixAddr)
	if srcIsUnix || dstIsUnix {
		if !srcIsUnix || !dstIsUnix {
			return 0, nil, fmt.Errorf("proxyproto: mixed unix/inet addresses")
		}
		return FamilyUnix, encodeUnix(srcUnix, dstUnix), nil
	}

	srcIP, srcPort, err := ipAndPort(src)
	if err != nil {
		return 0, nil, err
	}
	dstIP, dstPort, err := ipAndPort(dst)
	if err != nil {
		return 0, nil, err
	}
	if v4 := srcIP.To4(); v4 != nil {
		if dstIP.To4() == nil {
			return 0, nil, fmt.Errorf("proxyproto: mixed IPv4/IPv6 addresses")
		}
		return FamilyInet, encodeInet(srcIP.To4(), dstIP.To4(), srcPort, dstPort), nil
	}
	return FamilyInet6, encodeInet(srcIP.To16(), dstIP.To16(), srcPort, dstPort), nil
}

func ipAndPort(a net.Addr) (net.IP, int, error) {
	switch v := a.(type) {
	case *net.TCPAddr:
		return v.IP, v.Port, nil
	case *net.UDPAddr:
		return v.IP, v.Port, nil
	default:
		return nil, 0, fmt.Errorf("proxyproto: unsupported address type %T", a)
	}
}

func encodeInet(srcIP, dstIP net.IP, srcPort, dstPort int) []byte {
	buf := make([]byte, len(srcIP)+len(dstIP)+4)
	n := copy(buf, srcIP)
	n += copy(buf[n:], dstIP)
	binary.BigEndian.PutUint16(buf[n:], uint16(srcPort))
	binary.BigEndian.PutUint16(buf[n+2:], uint16(dstPort))
	return buf
}

func encodeUnix(src, dst *net.UnixAddr) []byte {
	buf := make([]byte, 216)
	copy(buf[0:108], src.Name)
	copy(buf[108:216], dst.Name)
	return buf
}
