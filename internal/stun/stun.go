// Package stun implements the minimal RFC 5389 STUN binding
// request/response exchange ICE connectivity checks need (component C6):
// XOR-MAPPED-ADDRESS, USERNAME, MESSAGE-INTEGRITY, FINGERPRINT, PRIORITY,
// USE-CANDIDATE, and the ICE-CONTROLLING/ICE-CONTROLLED role-conflict
// attributes (RFC 8445 section 7.1.1).
package stun

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"net"
)

type Class uint16

const (
	ClassRequest         Class = 0
	ClassIndication      Class = 1
	ClassSuccessResponse Class = 2
	ClassErrorResponse   Class = 3
)

const BindingMethod = 0x1

const (
	headerLength = 20
	magicCookie  = 0x2112A442
)

var magicCookieBytes = [4]byte{0x21, 0x12, 0xA4, 0x42}

const (
	AttrMappedAddress    = 0x0001
	AttrUsername         = 0x0006
	AttrMessageIntegrity = 0x0008
	AttrErrorCode        = 0x0009
	AttrXorMappedAddress = 0x0020
	AttrPriority         = 0x0024
	AttrUseCandidate     = 0x0025
	AttrSoftware         = 0x8022
	AttrFingerprint      = 0x8028
	AttrIceControlled    = 0x8029
	AttrIceControlling   = 0x802A
)

var errNotSTUN = errors.New("stun: not a STUN message")
var errShortAttribute = errors.New("stun: truncated attribute")

type attribute struct {
	typ   uint16
	value []byte
}

// Message is a parsed or in-construction STUN message.
type Message struct {
	Class         Class
	Method        uint16
	TransactionID [12]byte

	attrs []attribute
}

// Parse returns (nil, nil) if data does not look like a STUN message (so
// callers already holding an RFC 7983-classified STUN datagram can still
// reject garbage without treating it as a hard error).
func Parse(data []byte) (*Message, error) {
	if len(data) < headerLength {
		return nil, nil
	}
	messageType := binary.BigEndian.Uint16(data[0:2])
	if messageType>>14 != 0 {
		return nil, nil
	}
	length := binary.BigEndian.Uint16(data[2:4])
	if length%4 != 0 || int(length)+headerLength > len(data) {
		return nil, nil
	}
	if binary.BigEndian.Uint32(data[4:8]) != magicCookie {
		return nil, nil
	}

	class, method := decomposeMessageType(messageType)
	m := &Message{Class: Class(class), Method: method}
	copy(m.TransactionID[:], data[8:20])

	b := bytes.NewBuffer(data[20 : 20+int(length)])
	for b.Len() > 0 {
		a, err := parseAttribute(b)
		if err != nil {
			return nil, err
		}
		m.attrs = append(m.attrs, a)
	}
	return m, nil
}

func parseAttribute(b *bytes.Buffer) (attribute, error) {
	if b.Len() < 4 {
		return attribute{}, errShortAttribute
	}
	var header [4]byte
	b.Read(header[:])
	typ := binary.BigEndian.Uint16(header[0:2])
	length := binary.BigEndian.Uint16(header[2:4])
	if int(length) > b.Len() {
		return attribute{}, errShortAttribute
	}
	value := make([]byte, length)
	b.Read(value)
	b.Next(pad4(length))
	return attribute{typ, value}, nil
}

func pad4(n uint16) int { return -int(n) & 3 }

func composeMessageType(class Class, method uint16) uint16 {
	c, m := uint16(class), method
	t := (c<<7)&0x0100 | (c<<4)&0x0010
	t |= (m<<2)&0x3e00 | (m<<1)&0x00e0 | (m & 0x000f)
	return t
}

func decomposeMessageType(t uint16) (uint16, uint16) {
	class := (t&0x0100)>>7 | (t&0x0010)>>4
	method := (t&0x3e00)>>2 | (t&0x00e0)>>1 | (t & 0x000f)
	return class, method
}

// NewBindingRequest creates a Binding request with a fresh random
// transaction ID, the PRIORITY/USE-CANDIDATE/ICE-CONTROLLING(-ED)
// attributes a connectivity check needs, then signs it.
func NewBindingRequest(username string, password string, priority uint32, useCandidate bool, controlling bool, tieBreaker uint64) *Message {
	m := &Message{Class: ClassRequest, Method: BindingMethod}
	rand.Read(m.TransactionID[:])

	if username != "" {
		m.addAttribute(AttrUsername, []byte(username))
	}
	m.addPriority(priority)
	if useCandidate {
		m.addAttribute(AttrUseCandidate, nil)
	}
	tb := make([]byte, 8)
	binary.BigEndian.PutUint64(tb, tieBreaker)
	if controlling {
		m.addAttribute(AttrIceControlling, tb)
	} else {
		m.addAttribute(AttrIceControlled, tb)
	}
	m.addMessageIntegrity(password)
	m.addFingerprint()
	return m
}

// NewBindingSuccessResponse builds a success response carrying the
// request's transaction ID and the observed source address.
func NewBindingSuccessResponse(transactionID [12]byte, mappedAddr net.Addr, password string) *Message {
	m := &Message{Class: ClassSuccessResponse, Method: BindingMethod, TransactionID: transactionID}
	m.setXorMappedAddress(mappedAddr)
	m.addMessageIntegrity(password)
	m.addFingerprint()
	return m
}

func (m *Message) addAttribute(typ uint16, value []byte) {
	m.attrs = append(m.attrs, attribute{typ, append([]byte(nil), value...)})
}

func (m *Message) addPriority(p uint32) {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, p)
	m.addAttribute(AttrPriority, v)
}

// Priority returns the request's PRIORITY attribute, or 0 if absent.
func (m *Message) Priority() uint32 {
	for _, a := range m.attrs {
		if a.typ == AttrPriority && len(a.value) == 4 {
			return binary.BigEndian.Uint32(a.value)
		}
	}
	return 0
}

// HasUseCandidate reports the USE-CANDIDATE attribute's presence.
func (m *Message) HasUseCandidate() bool {
	for _, a := range m.attrs {
		if a.typ == AttrUseCandidate {
			return true
		}
	}
	return false
}

// IceControlling returns the ICE-CONTROLLING tie-breaker and whether the
// attribute was present.
func (m *Message) IceControlling() (uint64, bool) {
	return m.tieBreaker(AttrIceControlling)
}

// IceControlled returns the ICE-CONTROLLED tie-breaker and whether the
// attribute was present.
func (m *Message) IceControlled() (uint64, bool) {
	return m.tieBreaker(AttrIceControlled)
}

func (m *Message) tieBreaker(typ uint16) (uint64, bool) {
	for _, a := range m.attrs {
		if a.typ == typ && len(a.value) == 8 {
			return binary.BigEndian.Uint64(a.value), true
		}
	}
	return 0, false
}

// MappedAddress returns the XOR-MAPPED-ADDRESS (or MAPPED-ADDRESS)
// attribute's resolved address, or nil if neither is present.
func (m *Message) MappedAddress() *net.UDPAddr {
	for _, a := range m.attrs {
		switch a.typ {
		case AttrXorMappedAddress:
			return extractAddr(a.value, m.TransactionID, true)
		case AttrMappedAddress:
			return extractAddr(a.value, m.TransactionID, false)
		}
	}
	return nil
}

func extractAddr(value []byte, transactionID [12]byte, doXor bool) *net.UDPAddr {
	if len(value) < 4 {
		return nil
	}
	addr := &net.UDPAddr{Port: int(binary.BigEndian.Uint16(value[2:4]))}
	switch value[1] {
	case 0x01:
		if len(value) < 8 {
			return nil
		}
		addr.IP = append(net.IP(nil), value[4:8]...)
	case 0x02:
		if len(value) < 20 {
			return nil
		}
		addr.IP = append(net.IP(nil), value[4:20]...)
	default:
		return nil
	}
	if doXor {
		addr.Port ^= magicCookie >> 16
		xorBytes(addr.IP[0:4], magicCookieBytes[:])
		xorBytes(addr.IP[4:], transactionID[:])
	}
	return addr
}

func (m *Message) setXorMappedAddress(addr net.Addr) {
	var ip net.IP
	var port int
	switch a := addr.(type) {
	case *net.UDPAddr:
		ip, port = a.IP, a.Port
	default:
		return
	}

	var value []byte
	if v4 := ip.To4(); v4 != nil {
		value = make([]byte, 8)
		value[1] = 0x01
		copy(value[4:8], v4)
	} else {
		value = make([]byte, 20)
		value[1] = 0x02
		copy(value[4:20], ip.To16())
	}
	binary.BigEndian.PutUint16(value[2:4], uint16(port))
	xorBytes(value[2:4], magicCookieBytes[0:2])
	xorBytes(value[4:8], magicCookieBytes[:])
	xorBytes(value[8:], m.TransactionID[:])
	m.addAttribute(AttrXorMappedAddress, value)
}

func xorBytes(dst []byte, xor []byte) {
	for i := range dst {
		dst[i] ^= xor[i]
	}
}

// addMessageIntegrity appends a placeholder MESSAGE-INTEGRITY attribute
// (so the header length field, and the attribute's own TLV bytes, are
// included in what gets marshaled), then signs everything up to but
// excluding that attribute's own bytes, per RFC 5389 section 15.4.
func (m *Message) addMessageIntegrity(password string) {
	m.addAttribute(AttrMessageIntegrity, make([]byte, 20))

	b := m.bytesWithCurrentAttrs()
	attrTotal := 4 + 20 + pad4(20)
	cut := len(b) - attrTotal

	sig := hmac.New(sha1.New, []byte(password))
	sig.Write(b[:cut])
	copy(m.attrs[len(m.attrs)-1].value, sig.Sum(nil))
}

// addFingerprint mirrors addMessageIntegrity for RFC 5389 section 15.5's
// CRC32 FINGERPRINT attribute, which must come last.
func (m *Message) addFingerprint() {
	m.addAttribute(AttrFingerprint, make([]byte, 4))

	b := m.bytesWithCurrentAttrs()
	attrTotal := 4 + 4
	cut := len(b) - attrTotal
	crc := crc32.ChecksumIEEE(b[:cut])
	binary.BigEndian.PutUint32(m.attrs[len(m.attrs)-1].value, crc^0x5354554e)
}

// VerifyMessageIntegrity recomputes the HMAC-SHA1 over everything before
// the MESSAGE-INTEGRITY attribute and compares it to the encoded value.
func (m *Message) VerifyMessageIntegrity(password string) bool {
	for i, a := range m.attrs {
		if a.typ != AttrMessageIntegrity {
			continue
		}
		withPlaceholder := &Message{
			Class: m.Class, Method: m.Method, TransactionID: m.TransactionID,
			attrs: append(append([]attribute(nil), m.attrs[:i]...), attribute{AttrMessageIntegrity, a.value}),
		}
		b := withPlaceholder.bytesWithCurrentAttrs()
		attrTotal := 4 + len(a.value) + pad4(uint16(len(a.value)))
		cut := len(b) - attrTotal

		sig := hmac.New(sha1.New, []byte(password))
		sig.Write(b[:cut])
		return hmac.Equal(sig.Sum(nil), a.value)
	}
	return false
}

// bytesWithCurrentAttrs marshals the message exactly as its attrs slice
// stands right now (header length field reflects every attribute present,
// including any in-progress placeholder).
func (m *Message) bytesWithCurrentAttrs() []byte {
	var body bytes.Buffer
	for _, a := range m.attrs {
		writeAttribute(&body, a)
	}

	var out bytes.Buffer
	var header [20]byte
	binary.BigEndian.PutUint16(header[0:2], composeMessageType(m.Class, m.Method))
	binary.BigEndian.PutUint16(header[2:4], uint16(body.Len()))
	binary.BigEndian.PutUint32(header[4:8], magicCookie)
	copy(header[8:20], m.TransactionID[:])
	out.Write(header[:])
	out.Write(body.Bytes())
	return out.Bytes()
}

func writeAttribute(b *bytes.Buffer, a attribute) {
	var header [4]byte
	binary.BigEndian.PutUint16(header[0:2], a.typ)
	binary.BigEndian.PutUint16(header[2:4], uint16(len(a.value)))
	b.Write(header[:])
	b.Write(a.value)
	b.Write(make([]byte, pad4(uint16(len(a.value)))))
}

// Bytes marshals the complete message, including its own MESSAGE-INTEGRITY
// and FINGERPRINT attributes already added by the constructors above.
func (m *Message) Bytes() []byte {
	return m.bytesWithCurrentAttrs()
}

func (c Class) String() string {
	switch c {
	case ClassRequest:
		return "request"
	case ClassIndication:
		return "indication"
	case ClassSuccessResponse:
		return "success"
	case ClassErrorResponse:
		return "error"
	default:
		return fmt.Sprintf("class(%d)", c)
	}
}

var ErrNotSTUN = errNotSTUN
