package wfb

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/poly1305"
)

// bindPhraseSalt is a fixed, protocol-wide salt for the bind-phrase key
// derivation: both ends must derive the identical long-term keypair from
// the same phrase without exchanging a salt out of band.
var bindPhraseSalt = []byte("aloharx-wfb-bind-phrase-salt-v1")

// Argon2id parameters matching libsodium's crypto_pwhash "interactive"
// limits: opslimit=2 passes, memlimit=64 MiB.
const (
	argonTime      = 2
	argonMemoryKiB = 64 * 1024
	argonThreads   = 1
)

// DeriveLongTermKeypair expands a bind phrase into a deterministic X25519
// keypair (RFC 7748), via Argon2id (libsodium-compatible "interactive"
// limits) over the phrase as the 32-byte private scalar seed.
func DeriveLongTermKeypair(bindPhrase string) (priv, pub [32]byte, err error) {
	seed := argon2.IDKey([]byte(bindPhrase), bindPhraseSalt, argonTime, argonMemoryKiB, argonThreads, 32)
	copy(priv[:], seed)

	pubSlice, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return [32]byte{}, [32]byte{}, err
	}
	copy(pub[:], pubSlice)
	return priv, pub, nil
}

// ErrSessionKeyPacketMalformed is returned by OpenSessionKeyPacket when the
// packet isn't the expected nonce+sealed-key length or fails to open.
var ErrSessionKeyPacketMalformed = errors.New("wfb: session key packet malformed or unauthenticated")

const sessionNonceLen = 24
const sessionKeyLen = 32

// SealSessionKeyPacket builds the session-key announcement payload: a fresh
// random 24-byte nonce followed by sessionKey sealed (encrypted +
// authenticated) under the sender's long-term private key and the
// recipient's long-term public key.
func SealSessionKeyPacket(sessionKey [32]byte, localPriv, remotePub *[32]byte) ([]byte, error) {
	var nonce [sessionNonceLen]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	sealed := box.Seal(nil, sessionKey[:], &nonce, remotePub, localPriv)

	out := make([]byte, sessionNonceLen+len(sealed))
	copy(out, nonce[:])
	copy(out[sessionNonceLen:], sealed)
	return out, nil
}

// OpenSessionKeyPacket verifies and decrypts a session-key announcement
// packet built by SealSessionKeyPacket.
func OpenSessionKeyPacket(packet []byte, localPriv, remotePub *[32]byte) ([32]byte, error) {
	if len(packet) != sessionNonceLen+sessionKeyLen+box.Overhead {
		return [32]byte{}, ErrSessionKeyPacketMalformed
	}
	var nonce [sessionNonceLen]byte
	copy(nonce[:], packet[:sessionNonceLen])

	opened, ok := box.Open(nil, packet[sessionNonceLen:], &nonce, remotePub, localPriv)
	if !ok || len(opened) != sessionKeyLen {
		return [32]byte{}, ErrSessionKeyPacketMalformed
	}

	var key [32]byte
	copy(key[:], opened)
	return key, nil
}

// expandNonce zero-extends a 64-bit per-frame nonce to the 24-byte width
// XChaCha20-Poly1305 (and the matching MAC-only derivation below) requires.
func expandNonce(n uint64) [24]byte {
	var out [24]byte
	binary.BigEndian.PutUint64(out[16:], n)
	return out
}

// ErrFrameAuthFailed is returned by OpenDataFrame and VerifyDataFrameMAC on
// any decryption or authentication failure; callers drop the frame and
// count it.
var ErrFrameAuthFailed = errors.New("wfb: data frame decryption or MAC verification failed")

// SealDataFrame encrypts and authenticates payload under sessionKey and the
// frame's 64-bit nonce, for a radio port with the encrypted flag set.
func SealDataFrame(sessionKey [32]byte, nonce uint64, payload []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(sessionKey[:])
	if err != nil {
		return nil, err
	}
	n := expandNonce(nonce)
	return aead.Seal(nil, n[:], payload, nil), nil
}

// OpenDataFrame decrypts and authenticates a frame sealed by SealDataFrame.
func OpenDataFrame(sessionKey [32]byte, nonce uint64, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(sessionKey[:])
	if err != nil {
		return nil, err
	}
	n := expandNonce(nonce)
	plain, err := aead.Open(nil, n[:], sealed, nil)
	if err != nil {
		return nil, ErrFrameAuthFailed
	}
	return plain, nil
}

// oneTimeMACKey derives the same one-time Poly1305 key an AEAD_CHACHA20_
// POLY1305 construction would (RFC 8439 section 2.6): the first 32 bytes of
// the ChaCha20 keystream at block counter 0, under sessionKey and nonce.
func oneTimeMACKey(sessionKey [32]byte, nonce [24]byte) ([32]byte, error) {
	cipher, err := chacha20.NewUnauthenticatedCipher(sessionKey[:], nonce[:])
	if err != nil {
		return [32]byte{}, err
	}
	var block [64]byte
	cipher.XORKeyStream(block[:], block[:])
	var key [32]byte
	copy(key[:], block[:32])
	return key, nil
}

// TagDataFrame computes the 16-byte Poly1305 tag for a radio port with the
// encrypted flag clear: authenticated, not encrypted.
func TagDataFrame(sessionKey [32]byte, nonce uint64, payload []byte) ([16]byte, error) {
	key, err := oneTimeMACKey(sessionKey, expandNonce(nonce))
	if err != nil {
		return [16]byte{}, err
	}
	var tag [16]byte
	poly1305.Sum(&tag, payload, &key)
	return tag, nil
}

// VerifyDataFrameMAC checks a frame carrying a plain (unencrypted) payload
// against its trailing 16-byte Poly1305 tag.
func VerifyDataFrameMAC(sessionKey [32]byte, nonce uint64, payload, tag []byte) error {
	if len(tag) != 16 {
		return ErrFrameAuthFailed
	}
	want, err := TagDataFrame(sessionKey, nonce, payload)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(want[:], tag) != 1 {
		return ErrFrameAuthFailed
	}
	return nil
}
