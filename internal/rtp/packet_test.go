package rtp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	// Copy a packet built by the writeHeader-based helper below into a
	// pooled buffer, take ownership via ApplyBuffer, and check WriteTo
	// round-trips it through Parse.
	orig := buildTestPacketPublic(t, 100, 0xDEADBEEF, []byte{1, 2, 3, 4})

	pool := NewPacketPool()
	bufPool := NewBufferPool(1500)

	buf := bufPool.Get()
	n := copy(buf, orig)
	buf = buf[:n]

	pkt := pool.Get()
	require.NoError(t, pkt.ApplyBuffer(bufPool, buf))

	h1, err := pkt.Header()
	require.NoError(t, err)
	payload1, err := pkt.Payload()
	require.NoError(t, err)

	out := make([]byte, h1.HeaderLength()+len(payload1))
	n2, err := pkt.WriteTo(out)
	require.NoError(t, err)

	h2, payload2, err := Parse(out[:n2])
	require.NoError(t, err)

	require.Equal(t, h1.SequenceNumber, h2.SequenceNumber)
	require.Equal(t, h1.Timestamp, h2.Timestamp)
	require.Equal(t, h1.SSRC, h2.SSRC)
	require.Equal(t, h1.PayloadType, h2.PayloadType)
	require.Equal(t, payload1, payload2)

	pkt.ReleaseBuffer()
	pool.Put(pkt)
}

func buildTestPacketPublic(t *testing.T, seq uint16, ssrc uint32, payload []byte) []byte {
	t.Helper()
	h := Header{Version: version, PayloadType: 96, SequenceNumber: seq, Timestamp: 42, SSRC: ssrc}
	buf := make([]byte, h.HeaderLength()+len(payload))
	n := writeHeader(buf, &h)
	copy(buf[n:], payload)
	return buf[:n+len(payload)]
}

func TestApplyHeaderChangesRequiresCommit(t *testing.T) {
	bufPool := NewBufferPool(1500)
	buf := bufPool.Get()
	orig := buildTestPacketPublic(t, 5, 1, []byte{9, 9})
	n := copy(buf, orig)
	buf = buf[:n]

	pkt := NewPacket()
	require.NoError(t, pkt.ApplyBuffer(bufPool, buf))

	pkt.SetSequenceNumber(6)
	h, _ := pkt.Header()
	require.Equal(t, uint16(5), h.SequenceNumber, "setter stays pending until ApplyHeaderChanges")

	// Wire buffer untouched until commit.
	require.Equal(t, uint16(5), bufferSeq(buf))

	require.NoError(t, pkt.ApplyHeaderChanges())
	require.Equal(t, uint16(6), bufferSeq(buf))
}

func bufferSeq(buf []byte) uint16 {
	return uint16(buf[2])<<8 | uint16(buf[3])
}

func TestNotReadyOutsideOwnership(t *testing.T) {
	pkt := NewPacket()
	_, err := pkt.Header()
	require.Equal(t, ErrNotReady, err)
	_, err = pkt.Payload()
	require.Equal(t, ErrNotReady, err)
}

func TestShortHeader(t *testing.T) {
	_, _, err := Parse([]byte{0, 1, 2})
	require.Equal(t, ErrShortHeader, err)
}

func TestUntrustedPadding(t *testing.T) {
	// Declares padding count >= payload size: must be ignored per spec.
	h := Header{Version: version, PayloadType: 0, Padding: true}
	buf := make([]byte, h.HeaderLength()+1)
	writeHeader(buf, &h)
	buf[len(buf)-1] = byte(len(buf)) // padCount >= payload size (1)

	parsed, payload, err := Parse(buf)
	require.NoError(t, err)
	require.False(t, parsed.Padding)
	require.Len(t, payload, 1)
}
