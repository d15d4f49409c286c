package proxyproto

import "encoding/binary"

// TLV type bytes recognized by §6.
const (
	TLVALPN      uint8 = 0x01
	TLVAuthority uint8 = 0x02
	TLVCRC32C    uint8 = 0x03
	TLVNoop      uint8 = 0x04
	TLVUniqueID  uint8 = 0x05
	TLVTLS       uint8 = 0x20
	TLVNetNS     uint8 = 0x30
)

// TLS sub-TLV types, nested inside a TLVTLS value.
const (
	SubTLVVersion uint8 = 0x21
	SubTLVCN      uint8 = 0x22
	SubTLVCipher  uint8 = 0x23
	SubTLVSigAlg  uint8 = 0x24
	SubTLVKeyAlg  uint8 = 0x25
)

// TLV is one decoded type-length-value entry.
type TLV struct {
	Type  uint8
	Value []byte
}

// IterTLVs is a stateless pass over a committed TLV region (the Header's
// TLVs field after a successful parse), yielding each top-level TLV via
// fn. It stops and returns ErrMalformed if the region is truncated
// mid-entry; fn returning false stops iteration early with a nil error.
func IterTLVs(region []byte, fn func(TLV) bool) error {
	for len(region) > 0 {
		if len(region) < 3 {
			return ErrMalformed
		}
		typ := region[0]
		length := int(binary.BigEndian.Uint16(region[1:3]))
		if len(region) < 3+length {
			return ErrMalformed
		}
		value := region[3 : 3+length]
		if !fn(TLV{Type: typ, Value: value}) {
			return nil
		}
		region = region[3+length:]
	}
	return nil
}

// IterTLSSubTLVs decodes the sub-TLV chain carried inside a TLVTLS
// value: one client-flags byte followed by a TLV stream using the same
// type(1)|length(2)|value framing as the top level.
func IterTLSSubTLVs(tlsValue []byte, fn func(TLV) bool) (clientFlags byte, err error) {
	if len(tlsValue) < 1 {
		return 0, ErrMalformed
	}
	clientFlags = tlsValue[0]
	return clientFlags, IterTLVs(tlsValue[1:], fn)
}
