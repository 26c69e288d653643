// Package dtls implements the single DTLS 1.2 handshake this module's
// WebRTC egress path needs: ECDHE-ECDSA key exchange negotiating the
// use_srtp extension, producing the keying material C4's SRTP engine
// derives its session keys from. It is not a general TLS/DTLS library --
// no resumption, no renegotiation, no record-layer application data after
// the handshake (media flows over SRTP on the same socket, not over DTLS).
package dtls

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lanikai/aloharx/internal/logging"
	"github.com/lanikai/aloharx/internal/mux"
	"github.com/lanikai/aloharx/internal/udpio"
)

// Role is which side of the handshake this transport plays, set from the
// negotiated "a=setup:" attribute (active dials, passive/actpass-resolved
// listens).
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

const (
	initialRetransmitTimeout = 100 * time.Millisecond
	maxRetransmitTimeout     = 6 * time.Second
	handshakeTimeout         = 20 * time.Second
)

// KeyingMaterial is the exported SRTP keying material (RFC 5764 section
// 4.2), split into the four components C4's SRTP context needs per
// direction.
type KeyingMaterial struct {
	ClientKey  []byte
	ServerKey  []byte
	ClientSalt []byte
	ServerSalt []byte
}

// Transport drives one DTLS handshake over an existing UDP socket shared
// with ICE/STUN/SRTP (RFC 7983 demultiplexing, see the mux package), then
// exposes the exported keying material and peer fingerprint check.
type Transport struct {
	log zerolog.Logger

	pool   *udpio.Pool
	remote net.Addr
	inbox  *mux.Queue

	role Role
	cert *Certificate

	epoch          uint16
	sequenceNumber uint64

	done bool
}

// NewTransport creates a DTLS transport bound to an already-running UDP
// pool (C1) and the demuxer's DTLS inbound queue (C7).
func NewTransport(role Role, cert *Certificate, pool *udpio.Pool, remote net.Addr, inbox *mux.Queue, log zerolog.Logger) *Transport {
	return &Transport{
		log:    logging.Component(log, "dtls"),
		pool:   pool,
		remote: remote,
		inbox:  inbox,
		role:   role,
		cert:   cert,
	}
}

func (t *Transport) nextRecord(contentType ContentType, fragment []byte) []byte {
	r := record{contentType: contentType, epoch: t.epoch, sequenceNumber: t.sequenceNumber, fragment: fragment}
	t.sequenceNumber++
	return r.marshal()
}

// sendFlight transmits buf and retransmits it with exponential backoff
// (100ms doubling to a 6s ceiling) until accept reports a fully-received
// next flight, handshakeTimeout has passed since this flight was first
// sent, or the context is canceled. Any bound on the whole handshake comes
// from ctx's deadline.
func (t *Transport) sendFlight(ctx context.Context, buf []byte, accept func([]record) (bool, error)) ([]record, error) {
	deadline := time.Now().Add(handshakeTimeout)
	timeout := initialRetransmitTimeout

	if _, err := t.pool.Send(t.remote, buf); err != nil {
		return nil, err
	}

	for {
		if time.Now().After(deadline) {
			return nil, errHandshakeTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		raw, err := t.inbox.Pop(timeout)
		if err == mux.ErrRetransmitNeeded {
			t.log.Debug().Dur("timeout", timeout).Msg("retransmitting DTLS flight")
			if _, sendErr := t.pool.Send(t.remote, buf); sendErr != nil {
				return nil, sendErr
			}
			timeout *= 2
			if timeout > maxRetransmitTimeout {
				timeout = maxRetransmitTimeout
			}
			continue
		}
		if err == mux.ErrQueueClosed {
			return nil, err
		}
		if err != nil {
			return nil, err
		}

		records, err := splitRecords(raw)
		if err != nil {
			t.log.Debug().Err(err).Msg("dropping malformed DTLS datagram")
			continue
		}
		ok, err := accept(records)
		if err != nil {
			return nil, err
		}
		if ok {
			return records, nil
		}
	}
}

func handshakeBodies(records []record, want ...HandshakeType) (map[HandshakeType][]byte, bool) {
	found := make(map[HandshakeType][]byte)
	for _, r := range records {
		if r.contentType != ContentTypeHandshake {
			continue
		}
		msg, err := unmarshalHandshake(r.fragment)
		if err != nil {
			continue
		}
		found[msg.messageType] = msg.body
	}
	for _, w := range want {
		if _, ok := found[w]; !ok {
			return found, false
		}
	}
	return found, true
}

// handshakeResult carries the negotiated material Handshake needs to build
// KeyingMaterial and fingerprint-check the peer.
type handshakeResult struct {
	master           []byte
	clientRandom     []byte
	serverRandom     []byte
	peerCertDER      []byte
}

// Handshake runs the full ECDHE-ECDSA exchange to completion and returns
// the exported SRTP keying material. The peer certificate is checked here
// against wantFingerprintHex (see checkFingerprint); on the server side the
// check is skipped when the client sent no Certificate.
func (t *Transport) Handshake(ctx context.Context, wantFingerprintHex string) (KeyingMaterial, error) {
	var res handshakeResult
	var err error
	if t.role == RoleClient {
		res, err = t.handshakeClient(ctx)
	} else {
		res, err = t.handshakeServer(ctx)
	}
	if err != nil {
		return KeyingMaterial{}, err
	}

	if t.role == RoleClient || res.peerCertDER != nil {
		if err := checkFingerprint(res.peerCertDER, wantFingerprintHex); err != nil {
			return KeyingMaterial{}, err
		}
	}

	const keyLen, saltLen = 16, 14 // SRTP_AES128_CM_HMAC_SHA1_80
	km := exportKeyingMaterial(res.master, res.clientRandom, res.serverRandom, 2*(keyLen+saltLen))
	t.done = true
	return KeyingMaterial{
		ClientKey:  km[0:keyLen],
		ServerKey:  km[keyLen : 2*keyLen],
		ClientSalt: km[2*keyLen : 2*keyLen+saltLen],
		ServerSalt: km[2*keyLen+saltLen : 2*keyLen+2*saltLen],
	}, nil
}

func (t *Transport) handshakeClient(ctx context.Context) (handshakeResult, error) {
	var res handshakeResult

	clientRandom := newHelloRandom()
	kp, err := generateECDHEKeyPair()
	if err != nil {
		return res, err
	}

	clientHelloBody := marshalClientHello(clientRandom, nil)
	flight1 := t.nextRecord(ContentTypeHandshake, (&handshakeMessage{messageType: HandshakeTypeClientHello, body: clientHelloBody}).marshal())

	records, err := t.sendFlight(ctx, flight1, func(records []record) (bool, error) {
		_, ok := handshakeBodies(records, HandshakeTypeServerHello, HandshakeTypeCertificate, HandshakeTypeServerKeyExchange, HandshakeTypeServerHelloDone)
		return ok, nil
	})
	if err != nil {
		return res, fmt.Errorf("waiting for server flight: %w", err)
	}
	bodies, _ := handshakeBodies(records, HandshakeTypeServerHello, HandshakeTypeCertificate, HandshakeTypeServerKeyExchange, HandshakeTypeServerHelloDone)

	serverHello, err := parseServerHello(bodies[HandshakeTypeServerHello])
	if err != nil {
		return res, err
	}
	peerPub, err := parseServerKeyExchange(bodies[HandshakeTypeServerKeyExchange])
	if err != nil {
		return res, err
	}
	peerCertDER, err := firstCertificate(bodies[HandshakeTypeCertificate])
	if err != nil {
		return res, err
	}

	preMaster, err := kp.sharedSecret(peerPub)
	if err != nil {
		return res, err
	}
	master := masterSecret(preMaster, clientRandom[:], serverHello.random[:])

	clientKeyExchangeBody := marshalClientKeyExchange(kp.publicKeyBytes())
	transcript := append(append([]byte(nil), clientHelloBody...), flatten(bodies)...)
	transcript = append(transcript, clientKeyExchangeBody...)
	finishedBody := verifyData(master, "client finished", transcript)

	flight2 := append(
		t.nextRecord(ContentTypeHandshake, (&handshakeMessage{messageType: HandshakeTypeClientKeyExchange, messageSequence: 1, body: clientKeyExchangeBody}).marshal()),
		t.nextRecord(ContentTypeChangeCipherSpec, []byte{1})...,
	)
	t.epoch = 1
	t.sequenceNumber = 0
	flight2 = append(flight2, t.nextRecord(ContentTypeHandshake, (&handshakeMessage{messageType: HandshakeTypeFinished, messageSequence: 2, body: finishedBody}).marshal())...)

	_, err = t.sendFlight(ctx, flight2, func(records []record) (bool, error) {
		_, ok := handshakeBodies(records, HandshakeTypeFinished)
		return ok, nil
	})
	if err != nil {
		return res, fmt.Errorf("waiting for server Finished: %w", err)
	}

	res.master = master
	res.clientRandom = clientRandom[:]
	res.serverRandom = serverHello.random[:]
	res.peerCertDER = peerCertDER
	return res, nil
}

func (t *Transport) handshakeServer(ctx context.Context) (handshakeResult, error) {
	var res handshakeResult

	raw, err := t.inbox.Pop(handshakeTimeout)
	if err != nil {
		return res, err
	}
	records, err := splitRecords(raw)
	if err != nil {
		return res, err
	}
	bodies, ok := handshakeBodies(records, HandshakeTypeClientHello)
	if !ok {
		return res, errShortHandshake
	}
	clientHelloBody := bodies[HandshakeTypeClientHello]
	if len(clientHelloBody) < 34 {
		return res, errShortHandshake
	}
	var clientRandom helloRandom
	copy(clientRandom[:], clientHelloBody[2:34])

	serverRandom := newHelloRandom()
	kp, err := generateECDHEKeyPair()
	if err != nil {
		return res, err
	}

	serverHelloBody := marshalServerHello(serverRandom)
	certBody := marshalCertificateMessage(t.cert.DER)
	skeBody := marshalServerKeyExchange(kp.publicKeyBytes())

	flight1 := t.nextRecord(ContentTypeHandshake, (&handshakeMessage{messageType: HandshakeTypeServerHello, body: serverHelloBody}).marshal())
	flight1 = append(flight1, t.nextRecord(ContentTypeHandshake, (&handshakeMessage{messageType: HandshakeTypeCertificate, messageSequence: 1, body: certBody}).marshal())...)
	flight1 = append(flight1, t.nextRecord(ContentTypeHandshake, (&handshakeMessage{messageType: HandshakeTypeServerKeyExchange, messageSequence: 2, body: skeBody}).marshal())...)
	flight1 = append(flight1, t.nextRecord(ContentTypeHandshake, (&handshakeMessage{messageType: HandshakeTypeServerHelloDone, messageSequence: 3, body: nil}).marshal())...)

	records, err = t.sendFlight(ctx, flight1, func(records []record) (bool, error) {
		_, ok := handshakeBodies(records, HandshakeTypeClientKeyExchange, HandshakeTypeFinished)
		return ok, nil
	})
	if err != nil {
		return res, fmt.Errorf("waiting for client key exchange: %w", err)
	}
	bodies2, _ := handshakeBodies(records, HandshakeTypeClientKeyExchange, HandshakeTypeFinished)

	peerPub, err := parseClientKeyExchange(bodies2[HandshakeTypeClientKeyExchange])
	if err != nil {
		return res, err
	}
	preMaster, err := kp.sharedSecret(peerPub)
	if err != nil {
		return res, err
	}
	master := masterSecret(preMaster, clientRandom[:], serverRandom[:])

	t.epoch = 1
	t.sequenceNumber = 0
	ccs := t.nextRecord(ContentTypeChangeCipherSpec, []byte{1})
	transcript := append(append([]byte(nil), clientHelloBody...), serverHelloBody...)
	transcript = append(transcript, certBody...)
	transcript = append(transcript, skeBody...)
	transcript = append(transcript, bodies2[HandshakeTypeClientKeyExchange]...)
	finishedBody := verifyData(master, "server finished", transcript)
	finished := t.nextRecord(ContentTypeHandshake, (&handshakeMessage{messageType: HandshakeTypeFinished, messageSequence: 4, body: finishedBody}).marshal())

	if _, err := t.pool.Send(t.remote, append(ccs, finished...)); err != nil {
		return res, err
	}

	res.master = master
	res.clientRandom = clientRandom[:]
	res.serverRandom = serverRandom[:]
	res.peerCertDER, err = firstCertificate(bodies2Cert(records))
	if err != nil {
		// The client's Certificate message is optional in this transport
		// (no client-cert-request is ever sent), so its absence is not an
		// error -- only the server side is fingerprint-checked by peers.
		res.peerCertDER = nil
	}
	return res, nil
}

func bodies2Cert(records []record) []byte {
	bodies, ok := handshakeBodies(records, HandshakeTypeCertificate)
	if !ok {
		return nil
	}
	return bodies[HandshakeTypeCertificate]
}

func marshalServerHello(serverRandom helloRandom) []byte {
	b := make([]byte, 0, 40)
	b = append(b, byte(protocolVersion>>8), byte(protocolVersion))
	b = append(b, serverRandom[:]...)
	b = append(b, 0) // session_id length
	b = append(b, CipherSuite[0], CipherSuite[1])
	b = append(b, 0) // compression method: null

	ext := appendExtension(nil, ExtensionUseSRTP, []byte{0, 2, ProtectionProfile[0], ProtectionProfile[1], 0})
	b = append(b, byte(len(ext)>>8), byte(len(ext)))
	b = append(b, ext...)
	return b
}

// marshalCertificateMessage wraps a single DER certificate in the
// Certificate handshake body's nested length-prefixed list structure
// (RFC 5246 section 7.4.2): an outer 3-byte total length, then one
// 3-byte-length-prefixed certificate.
func marshalCertificateMessage(der []byte) []byte {
	entry := make([]byte, 3+len(der))
	put24(entry[0:3], uint32(len(der)))
	copy(entry[3:], der)

	b := make([]byte, 3, 3+len(entry))
	put24(b, uint32(len(entry)))
	return append(b, entry...)
}

func firstCertificate(certMsg []byte) ([]byte, error) {
	if len(certMsg) < 6 {
		return nil, errShortHandshake
	}
	certLen := get24(certMsg[3:6])
	if 6+int(certLen) > len(certMsg) {
		return nil, errShortHandshake
	}
	return append([]byte(nil), certMsg[6:6+certLen]...), nil
}

func flatten(bodies map[HandshakeType][]byte) []byte {
	var out []byte
	for _, order := range []HandshakeType{HandshakeTypeServerHello, HandshakeTypeCertificate, HandshakeTypeServerKeyExchange, HandshakeTypeServerHelloDone} {
		out = append(out, bodies[order]...)
	}
	return out
}

// checkFingerprint compares the SHA-256 fingerprint of the peer's
// certificate against the hex digest (colon-free, case-insensitive)
// advertised over signaling.
func checkFingerprint(peerDER []byte, wantHex string) error {
	if wantHex == "" {
		return ErrFingerprintMissing
	}
	if peerDER == nil {
		return ErrFingerprintMismatch
	}
	got := sha256.Sum256(peerDER)
	gotHex := hex.EncodeToString(got[:])
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(gotHex)), []byte(strings.ToLower(wantHex))) != 1 {
		return ErrFingerprintMismatch
	}
	return nil
}
