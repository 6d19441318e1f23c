// Package proxybridge fronts the HTTP server with a TCP relay that
// understands the Proxy-Protocol-v2 binary preamble. The parser is
// also used to decode the X-Proxy-Protocol-V2 header for client IP
// extraction.
package proxybridge

import (
	"encoding/binary"
	"errors"
	"net"
)

// Signature is the fixed 12-byte Proxy-Protocol-v2 preamble.
var Signature = []byte{0x0D, 0x0A, 0x0D, 0x0A, 0x00, 0x0D, 0x0A, 0x51, 0x55, 0x49, 0x54, 0x0A}

// MaxChain bounds how many stacked v2 headers one connection may carry.
const MaxChain = 32

// Command distinguishes health-check (LOCAL) from proxied connections.
type Command byte

const (
	CommandLocal Command = 0x0
	CommandProxy Command = 0x1
)

// Family is the transported address family.
type Family byte

const (
	FamilyUnspec Family = 0x0
	FamilyInet   Family = 0x1
	FamilyInet6  Family = 0x2
	FamilyUnix   Family = 0x3
)

// Protocol is the transported transport protocol.
type Protocol byte

const (
	ProtoUnspec Protocol = 0x0
	ProtoStream Protocol = 0x1
	ProtoDgram  Protocol = 0x2
)

// Header is one parsed Proxy-Protocol-v2 header.
type Header struct {
	Version   byte
	Command   Command
	Family    Family
	Protocol  Protocol
	SrcAddr   net.IP
	DstAddr   net.IP
	SrcPort   uint16
	DstPort   uint16
	HeaderLen int
}

var (
	ErrNotProxyV2   = errors.New("not a proxy protocol v2 header")
	ErrNeedMore     = errors.New("incomplete proxy protocol v2 header")
	ErrChainTooLong = errors.New("proxy protocol v2 chain too long")
)

// HasSignature reports whether b begins with the v2 signature. At
// least 16 bytes are needed to decide a complete header follows.
func HasSignature(b []byte) bool {
	if len(b) < len(Signature) {
		return false
	}
	for i, c := range Signature {
		if b[i] != c {
			return false
		}
	}
	return true
}

// ParseOne decodes a single v2 header from the front of b. It returns
// ErrNeedMore when b holds a valid prefix but not the whole header.
func ParseOne(b []byte) (*Header, error) {
	if len(b) < 16 {
		if HasSignature(b) || len(b) < len(Signature) {
			return nil, ErrNeedMore
		}
		return nil, ErrNotProxyV2
	}
	if !HasSignature(b) {
		return nil, ErrNotProxyV2
	}
	verCmd := b[12]
	if verCmd>>4 != 0x2 {
		return nil, ErrNotProxyV2
	}
	h := &Header{
		Version:  verCmd >> 4,
		Command:  Command(verCmd & 0x0F),
		Family:   Family(b[13] >> 4),
		Protocol: Protocol(b[13] & 0x0F),
	}
	addrLen := int(binary.BigEndian.Uint16(b[14:16]))
	h.HeaderLen = 16 + addrLen
	if len(b) < h.HeaderLen {
		return nil, ErrNeedMore
	}
	addr := b[16:h.HeaderLen]
	switch h.Family {
	case FamilyInet:
		if addrLen < 12 {
			return nil, ErrNotProxyV2
		}
		h.SrcAddr = net.IP(append([]byte(nil), addr[0:4]...))
		h.DstAddr = net.IP(append([]byte(nil), addr[4:8]...))
		h.SrcPort = binary.BigEndian.Uint16(addr[8:10])
		h.DstPort = binary.BigEndian.Uint16(addr[10:12])
	case FamilyInet6:
		if addrLen < 36 {
			return nil, ErrNotProxyV2
		}
		h.SrcAddr = net.IP(append([]byte(nil), addr[0:16]...))
		h.DstAddr = net.IP(append([]byte(nil), addr[16:32]...))
		h.SrcPort = binary.BigEndian.Uint16(addr[32:34])
		h.DstPort = binary.BigEndian.Uint16(addr[34:36])
	}
	return h, nil
}

// ParseChain decodes up to MaxChain stacked headers from the front of
// b. It returns the headers, the number of bytes consumed, and the
// source address of the last PROXY header, which is the authoritative
// client. A chain with no PROXY command yields an empty client IP.
func ParseChain(b []byte) (headers []*Header, consumed int, clientIP net.IP, err error) {
	off := 0
	for HasSignature(b[off:]) {
		if len(headers) >= MaxChain {
			return nil, 0, nil, ErrChainTooLong
		}
		h, err := ParseOne(b[off:])
		if err != nil {
			return nil, 0, nil, err
		}
		headers = append(headers, h)
		off += h.HeaderLen
	}
	if len(headers) == 0 {
		return nil, 0, nil, ErrNotProxyV2
	}
	for i := len(headers) - 1; i >= 0; i-- {
		if headers[i].Command == CommandProxy && headers[i].SrcAddr != nil {
			clientIP = headers[i].SrcAddr
			break
		}
	}
	return headers, off, clientIP, nil
}
