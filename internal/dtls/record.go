// Record and handshake message codec for the DTLS 1.2 subset (RFC 6347)
// this transport speaks: a single ECDHE-ECDSA handshake negotiating the
// use_srtp extension (RFC 5764), no session resumption, no renegotiation.
package dtls

import (
	"encoding/binary"
)

// ContentType identifies a DTLS record's payload (RFC 6347 section 4.1).
type ContentType uint8

const (
	ContentTypeChangeCipherSpec ContentType = 20
	ContentTypeAlert            ContentType = 21
	ContentTypeHandshake        ContentType = 22
	ContentTypeApplicationData  ContentType = 23
)

// HandshakeType identifies a handshake message (RFC 5246 section 7.4).
type HandshakeType uint8

const (
	HandshakeTypeHelloRequest       HandshakeType = 0
	HandshakeTypeClientHello        HandshakeType = 1
	HandshakeTypeServerHello        HandshakeType = 2
	HandshakeTypeHelloVerifyRequest HandshakeType = 3
	HandshakeTypeCertificate        HandshakeType = 11
	HandshakeTypeServerKeyExchange  HandshakeType = 12
	HandshakeTypeCertificateRequest HandshakeType = 13
	HandshakeTypeServerHelloDone    HandshakeType = 14
	HandshakeTypeCertificateVerify  HandshakeType = 15
	HandshakeTypeClientKeyExchange  HandshakeType = 16
	HandshakeTypeFinished           HandshakeType = 20
)

// ExtensionType identifies a ClientHello/ServerHello extension (RFC 6066
// and RFC 5764 section 4.1.1).
type ExtensionType uint16

const (
	ExtensionSignatureAlgorithms ExtensionType = 13
	ExtensionUseSRTP             ExtensionType = 14
	ExtensionSupportedGroups     ExtensionType = 10
)

// CipherSuite is the sole cipher suite this transport offers and accepts:
// TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA, the one every WebRTC DTLS stack
// this module's peers run supports.
var CipherSuite = [2]byte{0xC0, 0x09}

// ProtectionProfile is the sole SRTP protection profile this transport
// negotiates: SRTP_AES128_CM_HMAC_SHA1_80 (RFC 5764 section 4.1.2).
var ProtectionProfile = [2]byte{0x00, 0x01}

const (
	SignatureHashSHA256 = 0x04
	SignatureECDSA      = 0x03
)

// protocolVersion is DTLS 1.2's wire version (RFC 6347 section 4.1): the
// one's complement of {1,2} applied to TLS 1.2's {3,3}.
const protocolVersion = 0xfefd

// recordHeaderLen is the fixed DTLS record header size (RFC 6347 4.1).
const recordHeaderLen = 13

// handshakeHeaderLen is the fixed DTLS handshake header size (RFC 6347 4.2.2):
// 4 bytes type+length, 2 message_seq, 3 fragment_offset, 3 fragment_length.
const handshakeHeaderLen = 12

// record is one DTLS record: a content type, the epoch/sequence pair that
// anti-replay and rekeying track, and an opaque fragment.
type record struct {
	contentType    ContentType
	epoch          uint16
	sequenceNumber uint64 // 48 bits on the wire
	fragment       []byte
}

func (r *record) marshal() []byte {
	b := make([]byte, recordHeaderLen+len(r.fragment))
	b[0] = byte(r.contentType)
	binary.BigEndian.PutUint16(b[1:3], protocolVersion)
	binary.BigEndian.PutUint16(b[3:5], r.epoch)
	put48(b[5:11], r.sequenceNumber)
	binary.BigEndian.PutUint16(b[11:13], uint16(len(r.fragment)))
	copy(b[13:], r.fragment)
	return b
}

func (r *record) unmarshal(b []byte) error {
	if len(b) < recordHeaderLen {
		return errShortRecord
	}
	length := int(binary.BigEndian.Uint16(b[11:13]))
	if recordHeaderLen+length > len(b) {
		return errShortRecord
	}
	r.contentType = ContentType(b[0])
	r.epoch = binary.BigEndian.Uint16(b[3:5])
	r.sequenceNumber = get48(b[5:11])
	r.fragment = append([]byte(nil), b[recordHeaderLen:recordHeaderLen+length]...)
	return nil
}

// splitRecords walks a single UDP datagram's worth of concatenated DTLS
// records (the sender may coalesce several into one datagram).
func splitRecords(buf []byte) ([]record, error) {
	var out []record
	for len(buf) > 0 {
		var r record
		if err := r.unmarshal(buf); err != nil {
			return nil, err
		}
		out = append(out, r)
		buf = buf[recordHeaderLen+len(r.fragment):]
	}
	return out, nil
}

// handshakeMessage is one reassembled handshake message (fragmentation
// across multiple records is not implemented -- every message this
// transport sends or expects fits in a single record, which holds for the
// small ECDHE-ECDSA exchange this module speaks).
type handshakeMessage struct {
	messageType     HandshakeType
	messageSequence uint16
	body            []byte
}

func (h *handshakeMessage) marshal() []byte {
	b := make([]byte, handshakeHeaderLen+len(h.body))
	b[0] = byte(h.messageType)
	put24(b[1:4], uint32(len(h.body)))
	binary.BigEndian.PutUint16(b[4:6], h.messageSequence)
	put24(b[6:9], 0) // fragment_offset: always 0, no fragmentation
	put24(b[9:12], uint32(len(h.body)))
	copy(b[12:], h.body)
	return b
}

func unmarshalHandshake(b []byte) (handshakeMessage, error) {
	var h handshakeMessage
	if len(b) < handshakeHeaderLen {
		return h, errShortHandshake
	}
	length := int(get24(b[1:4]))
	if handshakeHeaderLen+length > len(b) {
		return h, errShortHandshake
	}
	h.messageType = HandshakeType(b[0])
	h.messageSequence = binary.BigEndian.Uint16(b[4:6])
	h.body = append([]byte(nil), b[handshakeHeaderLen:handshakeHeaderLen+length]...)
	return h, nil
}

func put24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func get24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func put48(b []byte, v uint64) {
	for i := 0; i < 6; i++ {
		b[5-i] = byte(v)
		v >>= 8
	}
}

func get48(b []byte) uint64 {
	var v uint64
	for i := 0; i < 6; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}
