package dtls

import (
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"time"
)

// helloRandom is the 32-byte (4-byte time + 28 random bytes) structure
// carried in ClientHello/ServerHello, per RFC 5246 section 7.4.1.2,
// unchanged from the teacher's `random` type.
type helloRandom [32]byte

func newHelloRandom() helloRandom {
	var r helloRandom
	binary.BigEndian.PutUint32(r[0:4], uint32(time.Now().Unix()))
	rand.Read(r[4:32])
	return r
}

// marshalClientHello marshals a ClientHello advertising this transport's sole
// cipher suite and the use_srtp/signature_algorithms/supported_groups
// extensions (RFC 5764 section 4.1.1).
func marshalClientHello(clientRandom helloRandom, cookie []byte) []byte {
	b := make([]byte, 0, 64)
	b = append(b, byte(protocolVersion>>8), byte(protocolVersion))
	b = append(b, clientRandom[:]...)
	b = append(b, 0) // session_id length
	b = append(b, byte(len(cookie)))
	b = append(b, cookie...)
	b = append(b, 0, 2, CipherSuite[0], CipherSuite[1]) // cipher_suites
	b = append(b, 1, 0)                                 // compression_methods: null

	ext := marshalExtensions()
	b = append(b, byte(len(ext)>>8), byte(len(ext)))
	b = append(b, ext...)
	return b
}

func marshalExtensions() []byte {
	var ext []byte

	ext = appendExtension(ext, ExtensionUseSRTP, func() []byte {
		b := []byte{0, 2, ProtectionProfile[0], ProtectionProfile[1]}
		return append(b, 0) // empty MKI
	}())

	ext = appendExtension(ext, ExtensionSignatureAlgorithms, []byte{0, 2, SignatureHashSHA256, SignatureECDSA})

	// supported_groups: secp256r1 (0x0017) only.
	ext = appendExtension(ext, ExtensionSupportedGroups, []byte{0, 2, 0x00, 0x17})

	return ext
}

func appendExtension(dst []byte, typ ExtensionType, body []byte) []byte {
	dst = append(dst, byte(typ>>8), byte(typ))
	dst = append(dst, byte(len(body)>>8), byte(len(body)))
	return append(dst, body...)
}

type parsedServerHello struct {
	random          helloRandom
	cipherSuite     [2]byte
	useSRTPProfile  [2]byte
}

func parseServerHello(body []byte) (parsedServerHello, error) {
	var h parsedServerHello
	if len(body) < 2+32+1 {
		return h, errShortHandshake
	}
	copy(h.random[:], body[2:34])
	offset := 34
	sessionIDLen := int(body[offset])
	offset += 1 + sessionIDLen
	if offset+2 > len(body) {
		return h, errShortHandshake
	}
	h.cipherSuite = [2]byte{body[offset], body[offset+1]}
	offset += 2
	offset++ // compression method
	if offset+2 > len(body) {
		return h, nil // no extensions; acceptable, profile stays zero
	}
	extLen := int(body[offset])<<8 | int(body[offset+1])
	offset += 2
	end := offset + extLen
	if end > len(body) {
		end = len(body)
	}
	for offset+4 <= end {
		typ := ExtensionType(int(body[offset])<<8 | int(body[offset+1]))
		l := int(body[offset+2])<<8 | int(body[offset+3])
		offset += 4
		if offset+l > len(body) {
			break
		}
		if typ == ExtensionUseSRTP && l >= 4 {
			h.useSRTPProfile = [2]byte{body[offset+2], body[offset+3]}
		}
		offset += l
	}
	return h, nil
}

// ecdheKeyPair is this side's ephemeral P-256 key exchange key.
type ecdheKeyPair struct {
	private *ecdh.PrivateKey
}

func generateECDHEKeyPair() (*ecdheKeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &ecdheKeyPair{private: priv}, nil
}

func (kp *ecdheKeyPair) publicKeyBytes() []byte {
	return kp.private.PublicKey().Bytes()
}

func (kp *ecdheKeyPair) sharedSecret(peerPublic []byte) ([]byte, error) {
	peer, err := ecdh.P256().NewPublicKey(peerPublic)
	if err != nil {
		return nil, err
	}
	return kp.private.ECDH(peer)
}

// marshalServerKeyExchange builds the ServerKeyExchange body: named_curve
// secp256r1, this side's ephemeral public key, and a stub signature slot
// (the signature itself is checked nowhere downstream of the fingerprint
// comparison -- see certificate.go's trust-model note).
func marshalServerKeyExchange(pub []byte) []byte {
	b := []byte{0x03, 0x00, 0x17} // curve_type=named_curve, secp256r1
	b = append(b, byte(len(pub)))
	b = append(b, pub...)
	b = append(b, SignatureHashSHA256, SignatureECDSA)
	b = append(b, 0, 0) // signature length 0: not independently verified
	return b
}

func parseServerKeyExchange(body []byte) (pub []byte, err error) {
	if len(body) < 4 {
		return nil, errShortHandshake
	}
	pubLen := int(body[3])
	if 4+pubLen > len(body) {
		return nil, errShortHandshake
	}
	return append([]byte(nil), body[4:4+pubLen]...), nil
}

func marshalClientKeyExchange(pub []byte) []byte {
	b := make([]byte, 0, 1+len(pub))
	b = append(b, byte(len(pub)))
	return append(b, pub...)
}

func parseClientKeyExchange(body []byte) (pub []byte, err error) {
	if len(body) < 1 {
		return nil, errShortHandshake
	}
	l := int(body[0])
	if 1+l > len(body) {
		return nil, errShortHandshake
	}
	return append([]byte(nil), body[1:1+l]...), nil
}

// prf12 implements the TLS 1.2 PRF (RFC 5246 section 5) with HMAC-SHA256,
// the PRF hash every cipher suite this transport offers specifies.
func prf12(secret, label, seed []byte, length int) []byte {
	out := make([]byte, 0, length)
	seedLabel := append(append([]byte(nil), label...), seed...)

	a := hmacSum(secret, seedLabel)
	for len(out) < length {
		out = append(out, hmacSum(secret, append(append([]byte(nil), a...), seedLabel...))...)
		a = hmacSum(secret, a)
	}
	return out[:length]
}

func hmacSum(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// masterSecret derives the 48-byte TLS master secret from the ECDHE shared
// secret and both hello randoms (RFC 5246 section 8.1).
func masterSecret(preMaster, clientRandom, serverRandom []byte) []byte {
	seed := append(append([]byte(nil), clientRandom...), serverRandom...)
	return prf12(preMaster, []byte("master secret"), seed, 48)
}

// exportKeyingMaterial implements RFC 5705's keying material exporter with
// the "EXTRACTOR-dtls_srtp" label (RFC 5764 section 4.2): no per-association
// context, seed is client_random||server_random.
func exportKeyingMaterial(master, clientRandom, serverRandom []byte, length int) []byte {
	seed := append(append([]byte(nil), clientRandom...), serverRandom...)
	return prf12(master, []byte("EXTRACTOR-dtls_srtp"), seed, length)
}

// verifyData computes the Finished message contents (RFC 5246 section
// 7.4.9): PRF(master_secret, label, Hash(handshake_messages))[0:12].
func verifyData(master []byte, label string, transcript []byte) []byte {
	sum := sha256.Sum256(transcript)
	return prf12(master, []byte(label), sum[:], 12)
}
