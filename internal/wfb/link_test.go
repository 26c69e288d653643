package wfb

import (
	"encoding/binary"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// macsForNonce builds a macSrc/macDst pair that Classify will parse back
// into the given air/ground id, radio port byte, and 64-bit nonce — the
// exact inverse of Classify's own extraction.
func macsForNonce(airGroundID, radioPort byte, nonce uint64) (macSrc, macDst [6]byte) {
	var nonceBuf [8]byte
	binary.BigEndian.PutUint64(nonceBuf[:], nonce)
	macSrc[0] = airGroundID
	macDst[0] = airGroundID
	copy(macSrc[1:5], nonceBuf[0:4])
	copy(macDst[1:5], nonceBuf[4:8])
	macSrc[5] = radioPort
	macDst[5] = radioPort
	return
}

func sessionKeyFrame(t *testing.T, airGroundID byte, senderPriv, recipientPub *[32]byte, key [32]byte, nonce uint64) []byte {
	t.Helper()
	packet, err := SealSessionKeyPacket(key, senderPriv, recipientPub)
	require.NoError(t, err)
	macSrc, macDst := macsForNonce(airGroundID, SessionKeyMultiplexIndex, nonce)
	return buildFrame(macSrc, macDst, packet)
}

func encryptedDataFrame(t *testing.T, airGroundID, multiplexIndex byte, sessionKey [32]byte, nonce uint64, plain []byte) []byte {
	t.Helper()
	sealed, err := SealDataFrame(sessionKey, nonce, plain)
	require.NoError(t, err)
	macSrc, macDst := macsForNonce(airGroundID, multiplexIndex|encryptedFlagBit, nonce)
	return buildFrame(macSrc, macDst, sealed)
}

func TestLinkSessionRotationThenDataFrameDelivers(t *testing.T) {
	airPriv, airPub, err := DeriveLongTermKeypair("air phrase")
	require.NoError(t, err)
	groundPriv, groundPub, err := DeriveLongTermKeypair("ground phrase")
	require.NoError(t, err)

	link := NewLink(groundPriv, airPub, zerolog.Nop())

	var delivered []string
	link.AddStream(5, StreamNoFEC, 0, func(payload []byte) {
		delivered = append(delivered, string(payload))
	})

	var sessionKey [32]byte
	for i := range sessionKey {
		sessionKey[i] = byte(i)
	}

	skFrame := sessionKeyFrame(t, 0x57, &airPriv, &groundPub, sessionKey, 1)
	require.NoError(t, link.IngestFrame("radio0", skFrame))

	plain := buildDedupFrame(1, "hello-wfb")
	dataFrame := encryptedDataFrame(t, 0x57, 5, sessionKey, 42, plain)
	require.NoError(t, link.IngestFrame("radio0", dataFrame))

	require.Equal(t, []string{"hello-wfb"}, delivered)

	// A duplicate delivered by a second radio is suppressed, not delivered
	// twice.
	require.NoError(t, link.IngestFrame("radio1", dataFrame))
	require.Equal(t, []string{"hello-wfb"}, delivered)

	stats := link.RadioStatsSnapshot()
	require.Equal(t, uint64(2), stats["radio0"].Packets)
	require.Equal(t, uint64(1), stats["radio1"].Packets)
}

func TestLinkRejectsDataFrameBeforeSessionEstablished(t *testing.T) {
	_, airPub, err := DeriveLongTermKeypair("air phrase")
	require.NoError(t, err)
	groundPriv, _, err := DeriveLongTermKeypair("ground phrase")
	require.NoError(t, err)

	link := NewLink(groundPriv, airPub, zerolog.Nop())
	link.AddStream(5, StreamNoFEC, 0, func([]byte) {})

	var zeroKey [32]byte
	frame := encryptedDataFrame(t, 0x57, 5, zeroKey, 1, buildDedupFrame(1, "x"))

	err = link.IngestFrame("radio0", frame)
	require.ErrorIs(t, err, ErrSessionNotEstablished)
}

func TestLinkRejectsUnconfiguredStream(t *testing.T) {
	_, airPub, err := DeriveLongTermKeypair("air phrase")
	require.NoError(t, err)
	groundPriv, _, err := DeriveLongTermKeypair("ground phrase")
	require.NoError(t, err)

	link := NewLink(groundPriv, airPub, zerolog.Nop())

	var zeroKey [32]byte
	frame := encryptedDataFrame(t, 0x57, 9, zeroKey, 1, buildDedupFrame(1, "x"))

	err = link.IngestFrame("radio0", frame)
	require.ErrorIs(t, err, ErrStreamNotConfigured)
}

func TestLinkSessionRotationResetsFECState(t *testing.T) {
	airPriv, airPub, err := DeriveLongTermKeypair("air phrase")
	require.NoError(t, err)
	groundPriv, groundPub, err := DeriveLongTermKeypair("ground phrase")
	require.NoError(t, err)

	link := NewLink(groundPriv, airPub, zerolog.Nop())
	link.AddStream(9, StreamFEC, 8, func([]byte) {})

	var sessionKey1 [32]byte
	sessionKey1[0] = 1
	skFrame1 := sessionKeyFrame(t, 0x57, &airPriv, &groundPub, sessionKey1, 1)
	require.NoError(t, link.IngestFrame("radio0", skFrame1))

	// A gapped FEC fragment (middle index, nothing to forward yet) leaves a
	// block in flight.
	fragment := buildFragmentWire(3, 1, 3, []byte("gap"))
	dataFrame := encryptedDataFrame(t, 0x57, 9, sessionKey1, 99, fragment)
	require.NoError(t, link.IngestFrame("radio0", dataFrame))
	require.Equal(t, 1, link.streams[9].reassembler.InFlightBlocks())

	var sessionKey2 [32]byte
	sessionKey2[0] = 2
	skFrame2 := sessionKeyFrame(t, 0x57, &airPriv, &groundPub, sessionKey2, 2)
	require.NoError(t, link.IngestFrame("radio0", skFrame2))

	require.Equal(t, 0, link.streams[9].reassembler.InFlightBlocks())

	// A data frame authenticated under the prior session key now fails.
	staleFrame := encryptedDataFrame(t, 0x57, 9, sessionKey1, 100, buildFragmentWire(4, 0, 1, []byte("x")))
	err = link.IngestFrame("radio0", staleFrame)
	require.Error(t, err)
}
