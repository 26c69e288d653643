package wfb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveLongTermKeypairIsDeterministic(t *testing.T) {
	priv1, pub1, err := DeriveLongTermKeypair("correct horse battery staple")
	require.NoError(t, err)
	priv2, pub2, err := DeriveLongTermKeypair("correct horse battery staple")
	require.NoError(t, err)

	require.Equal(t, priv1, priv2)
	require.Equal(t, pub1, pub2)
	require.NotEqual(t, [32]byte{}, pub1)
}

func TestDeriveLongTermKeypairDiffersByPhrase(t *testing.T) {
	_, pubA, err := DeriveLongTermKeypair("phrase a")
	require.NoError(t, err)
	_, pubB, err := DeriveLongTermKeypair("phrase b")
	require.NoError(t, err)

	require.NotEqual(t, pubA, pubB)
}

func TestSessionKeyPacketRoundTrip(t *testing.T) {
	airPriv, airPub, err := DeriveLongTermKeypair("air side phrase")
	require.NoError(t, err)
	groundPriv, groundPub, err := DeriveLongTermKeypair("ground side phrase")
	require.NoError(t, err)

	var sessionKey [32]byte
	for i := range sessionKey {
		sessionKey[i] = byte(i)
	}

	packet, err := SealSessionKeyPacket(sessionKey, &airPriv, &groundPub)
	require.NoError(t, err)

	opened, err := OpenSessionKeyPacket(packet, &groundPriv, &airPub)
	require.NoError(t, err)
	require.Equal(t, sessionKey, opened)
}

func TestOpenSessionKeyPacketRejectsWrongKey(t *testing.T) {
	airPriv, _, err := DeriveLongTermKeypair("air side phrase")
	require.NoError(t, err)
	groundPriv, groundPub, err := DeriveLongTermKeypair("ground side phrase")
	require.NoError(t, err)
	_, wrongPub, err := DeriveLongTermKeypair("attacker phrase")
	require.NoError(t, err)

	var sessionKey [32]byte
	packet, err := SealSessionKeyPacket(sessionKey, &airPriv, &groundPub)
	require.NoError(t, err)

	_, err = OpenSessionKeyPacket(packet, &groundPriv, &wrongPub)
	require.ErrorIs(t, err, ErrSessionKeyPacketMalformed)
}

func TestOpenSessionKeyPacketRejectsTamperedPacket(t *testing.T) {
	airPriv, airPub, err := DeriveLongTermKeypair("air side phrase")
	require.NoError(t, err)
	groundPriv, groundPub, err := DeriveLongTermKeypair("ground side phrase")
	require.NoError(t, err)

	var sessionKey [32]byte
	packet, err := SealSessionKeyPacket(sessionKey, &airPriv, &groundPub)
	require.NoError(t, err)
	packet[len(packet)-1] ^= 0xff

	_, err = OpenSessionKeyPacket(packet, &groundPriv, &airPub)
	require.ErrorIs(t, err, ErrSessionKeyPacketMalformed)
}

func TestOpenSessionKeyPacketRejectsWrongLength(t *testing.T) {
	_, err := OpenSessionKeyPacket([]byte{1, 2, 3}, &[32]byte{}, &[32]byte{})
	require.ErrorIs(t, err, ErrSessionKeyPacketMalformed)
}

func TestDataFrameSealOpenRoundTrip(t *testing.T) {
	var key [32]byte
	for i := range key {
		key[i] = byte(i * 3)
	}
	payload := []byte("a video frame fragment, or part of one")

	sealed, err := SealDataFrame(key, 0x1122334455667788, payload)
	require.NoError(t, err)
	require.NotEqual(t, payload, sealed)

	plain, err := OpenDataFrame(key, 0x1122334455667788, sealed)
	require.NoError(t, err)
	require.Equal(t, payload, plain)
}

func TestDataFrameOpenRejectsWrongNonce(t *testing.T) {
	var key [32]byte
	sealed, err := SealDataFrame(key, 1, []byte("payload"))
	require.NoError(t, err)

	_, err = OpenDataFrame(key, 2, sealed)
	require.ErrorIs(t, err, ErrFrameAuthFailed)
}

func TestDataFrameOpenRejectsTamperedCiphertext(t *testing.T) {
	var key [32]byte
	sealed, err := SealDataFrame(key, 1, []byte("payload"))
	require.NoError(t, err)
	sealed[0] ^= 0xff

	_, err = OpenDataFrame(key, 1, sealed)
	require.ErrorIs(t, err, ErrFrameAuthFailed)
}

func TestDataFrameOpenRejectsWrongKey(t *testing.T) {
	var key, otherKey [32]byte
	otherKey[0] = 1
	sealed, err := SealDataFrame(key, 1, []byte("payload"))
	require.NoError(t, err)

	_, err = OpenDataFrame(otherKey, 1, sealed)
	require.ErrorIs(t, err, ErrFrameAuthFailed)
}

func TestTagDataFrameRoundTrip(t *testing.T) {
	var key [32]byte
	for i := range key {
		key[i] = byte(i + 7)
	}
	payload := []byte("unencrypted telemetry radio port payload")

	tag, err := TagDataFrame(key, 42, payload)
	require.NoError(t, err)

	err = VerifyDataFrameMAC(key, 42, payload, tag[:])
	require.NoError(t, err)
}

func TestVerifyDataFrameMACRejectsTamperedPayload(t *testing.T) {
	var key [32]byte
	payload := []byte("unencrypted telemetry radio port payload")

	tag, err := TagDataFrame(key, 42, payload)
	require.NoError(t, err)

	tampered := append([]byte(nil), payload...)
	tampered[0] ^= 0xff

	err = VerifyDataFrameMAC(key, 42, tampered, tag[:])
	require.ErrorIs(t, err, ErrFrameAuthFailed)
}

func TestVerifyDataFrameMACRejectsTamperedTag(t *testing.T) {
	var key [32]byte
	payload := []byte("unencrypted telemetry radio port payload")

	tag, err := TagDataFrame(key, 42, payload)
	require.NoError(t, err)
	tag[0] ^= 0xff

	err = VerifyDataFrameMAC(key, 42, payload, tag[:])
	require.ErrorIs(t, err, ErrFrameAuthFailed)
}

func TestVerifyDataFrameMACRejectsWrongNonce(t *testing.T) {
	var key [32]byte
	payload := []byte("unencrypted telemetry radio port payload")

	tag, err := TagDataFrame(key, 42, payload)
	require.NoError(t, err)

	err = VerifyDataFrameMAC(key, 43, payload, tag[:])
	require.ErrorIs(t, err, ErrFrameAuthFailed)
}

func TestVerifyDataFrameMACRejectsWrongLengthTag(t *testing.T) {
	var key [32]byte
	err := VerifyDataFrameMAC(key, 42, []byte("payload"), []byte{1, 2, 3})
	require.ErrorIs(t, err, ErrFrameAuthFailed)
}
