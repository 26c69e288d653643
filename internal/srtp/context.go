// Package srtp implements the SRTP/SRTCP crypto context (component C4):
// per-SSRC rollover tracking, RFC 3711 key derivation, the AES-CM/AES-F8/
// Twofish-CM/Twofish-F8 cipher family, and HMAC-SHA1 (or SKEIN-slot)
// authentication.
package srtp

import (
	"crypto/cipher"
	"crypto/hmac"
	"encoding/binary"
	"sync"
)

const (
	// maxROCDisorder bounds how far a sequence number may be reordered
	// before the rollover-counter heuristic below treats it as a wrap.
	maxROCDisorder    = 100
	maxSequenceNumber = 65535
)

// ssrcState tracks the 48-bit index (ROC, seq) for one SSRC, per RFC 3550
// appendix A.1's rollover-counter heuristic.
type ssrcState struct {
	ssrc                  uint32
	rolloverCounter       uint32
	rolloverHasProcessed  bool
	lastSequenceNumber    uint16
}

func updateRolloverCount(seq uint16, s *ssrcState) {
	switch {
	case !s.rolloverHasProcessed:
		s.rolloverHasProcessed = true
	case seq == 0:
		if s.lastSequenceNumber > maxROCDisorder {
			s.rolloverCounter++
		}
	case s.lastSequenceNumber < maxROCDisorder && seq > (maxSequenceNumber-maxROCDisorder):
		s.rolloverCounter--
	case seq < maxROCDisorder && s.lastSequenceNumber > (maxSequenceNumber-maxROCDisorder):
		s.rolloverCounter++
	}
	s.lastSequenceNumber = seq
}

// direction holds one set of session keys plus the bound cipher/auth
// transforms derived from them.
type direction struct {
	block     cipher.Block
	authKey   []byte
	salt      []byte
	sign      func([]byte) []byte
}

// Context is a keyed SRTP/SRTCP crypto context. One Context may serve
// multiple SSRCs (each gets its own rollover-tracking state); session keys
// are derived once from the master key/salt since RFC 3711 key derivation
// does not depend on SSRC.
type Context struct {
	policy Policy

	srtp  direction
	srtcp direction

	mu         sync.Mutex
	ssrcStates map[uint32]*ssrcState

	srtcpIndex uint32 // next outgoing SRTCP index
	replay     replayWindow

	statsMu sync.Mutex
	stats   Stats
}

// CreateContext derives session keys from masterKey/masterSalt using the
// default policy (AES-CM-128 / HMAC-SHA1-80).
func CreateContext(masterKey, masterSalt []byte) (*Context, error) {
	return CreateContextWithPolicy(masterKey, masterSalt, DefaultPolicy())
}

// CreateContextWithPolicy derives session keys under an explicit cipher/auth
// policy, e.g. for a negotiated Twofish or SKEIN-slot profile.
func CreateContextWithPolicy(masterKey, masterSalt []byte, policy Policy) (*Context, error) {
	srtpKeys, err := deriveSessionKeys(masterKey, masterSalt, policy,
		labelSRTPEncryptionKey, labelSRTPAuthenticationKey, labelSRTPSaltingKey)
	if err != nil {
		return nil, err
	}
	srtcpKeys, err := deriveSessionKeys(masterKey, masterSalt, policy,
		labelSRTCPEncryptionKey, labelSRTCPAuthenticationKey, labelSRTCPSaltingKey)
	if err != nil {
		return nil, err
	}

	srtpBlock, err := newBlockCipher(policy.Cipher, srtpKeys.encryptKey)
	if err != nil {
		return nil, err
	}
	srtcpBlock, err := newBlockCipher(policy.Cipher, srtcpKeys.encryptKey)
	if err != nil {
		return nil, err
	}

	return &Context{
		policy: policy,
		srtp: direction{
			block:   srtpBlock,
			authKey: srtpKeys.authKey,
			salt:    srtpKeys.salt,
			sign:    authTag(policy.Auth, srtpKeys.authKey, policy.TagLength),
		},
		srtcp: direction{
			block:   srtcpBlock,
			authKey: srtcpKeys.authKey,
			salt:    srtcpKeys.salt,
			sign:    authTag(policy.Auth, srtcpKeys.authKey, policy.TagLength),
		},
		ssrcStates: make(map[uint32]*ssrcState),
	}, nil
}

// ForSSRC eagerly registers rollover-tracking state for ssrc and returns the
// same Context. Session keys are SSRC-independent (RFC 3711 section 4.3), so
// "deriving a context for a new SSRC" is just adding this O(1) entry rather
// than re-running the KDF.
func (c *Context) ForSSRC(ssrc uint32) *Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.ssrcStates[ssrc]; !ok {
		c.ssrcStates[ssrc] = &ssrcState{ssrc: ssrc}
	}
	return c
}

func (c *Context) stateFor(ssrc uint32) *ssrcState {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.ssrcStates[ssrc]
	if !ok {
		s = &ssrcState{ssrc: ssrc}
		c.ssrcStates[ssrc] = s
	}
	return s
}

func (c *Context) keystream(d *direction, header12 []byte, ssrc uint32, index uint64, roc uint32) cipher.Stream {
	switch c.policy.Cipher {
	case CipherAESF8, CipherTwofishF8:
		return f8Keystream(d.block, header12, roc)
	case CipherAESCM, CipherTwofishCM:
		return cmKeystream(d.block, d.salt, ssrc, index)
	default:
		return nil
	}
}

// ProtectRTP encrypts and authenticates one RTP packet. buf is the full wire
// packet (header || payload) and is left unmodified; headerLen is the byte
// offset where the payload begins. Returns a new slice: header ||
// ciphertext || auth tag.
func (c *Context) ProtectRTP(buf []byte, headerLen int, ssrc uint32, seq uint16) ([]byte, error) {
	s := c.stateFor(ssrc)

	c.mu.Lock()
	updateRolloverCount(seq, s)
	roc := s.rolloverCounter
	c.mu.Unlock()

	index := uint64(roc)<<16 | uint64(seq)

	out := make([]byte, len(buf))
	copy(out, buf)

	if stream := c.keystream(&c.srtp, out[:minInt(12, len(out))], ssrc, index, roc); stream != nil {
		stream.XORKeyStream(out[headerLen:], out[headerLen:])
	}

	if c.policy.Auth == AuthNull {
		c.recordProtected()
		return out, nil
	}

	m := append(out, make([]byte, 4)...)
	binary.BigEndian.PutUint32(m[len(m)-4:], roc)
	tag := c.srtp.sign(m)
	out = append(out, tag...)

	c.recordProtected()
	return out, nil
}

// UnprotectRTP verifies and decrypts one received SRTP packet, returning the
// plaintext payload only, in a new slice that does not include the header.
func (c *Context) UnprotectRTP(buf []byte, headerLen int, ssrc uint32, seq uint16) ([]byte, error) {
	tagLen := c.policy.TagLength
	if c.policy.Auth == AuthNull {
		tagLen = 0
	}
	if len(buf) < headerLen+tagLen {
		return nil, errShortPacket
	}

	s := c.stateFor(ssrc)
	c.mu.Lock()
	updateRolloverCount(seq, s)
	roc := s.rolloverCounter
	c.mu.Unlock()

	body := buf[:len(buf)-tagLen]
	receivedTag := buf[len(buf)-tagLen:]

	if c.policy.Auth != AuthNull {
		m := append(append([]byte(nil), body...), make([]byte, 4)...)
		binary.BigEndian.PutUint32(m[len(m)-4:], roc)
		expected := c.srtp.sign(m)
		if !hmac.Equal(expected, receivedTag) {
			c.recordAuthFailure()
			return nil, ErrAuthFailed
		}
	}

	index := uint64(roc)<<16 | uint64(seq)
	out := append([]byte(nil), body...)
	if stream := c.keystream(&c.srtp, out[:minInt(12, len(out))], ssrc, index, roc); stream != nil {
		stream.XORKeyStream(out[headerLen:], out[headerLen:])
	}

	c.recordProtected()
	return out[headerLen:], nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
