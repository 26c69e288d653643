package wfb

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildDedupFrame(seq uint64, payload string) []byte {
	buf := make([]byte, dedupSeqLen+len(payload))
	binary.LittleEndian.PutUint64(buf[:dedupSeqLen], seq)
	copy(buf[dedupSeqLen:], payload)
	return buf
}

func TestDedupForwardsFirstPacket(t *testing.T) {
	d := NewDedup()
	payload, ok, err := d.Process(buildDedupFrame(1, "hello"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello", string(payload))
}

func TestDedupSuppressesRepeat(t *testing.T) {
	d := NewDedup()
	_, _, err := d.Process(buildDedupFrame(5, "a"))
	require.NoError(t, err)

	payload, ok, err := d.Process(buildDedupFrame(5, "a-again"))
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, payload)
	require.Equal(t, uint64(1), d.Duplicates)
}

func TestDedupForwardsDistinctSequenceNumbers(t *testing.T) {
	d := NewDedup()
	var forwarded []string
	for seq := uint64(0); seq < 10; seq++ {
		payload, ok, err := d.Process(buildDedupFrame(seq, "x"))
		require.NoError(t, err)
		if ok {
			forwarded = append(forwarded, string(payload))
		}
	}
	require.Len(t, forwarded, 10)
}

func TestDedupExactlyOnceUnderReplication(t *testing.T) {
	d := NewDedup()
	delivered := 0
	// 5 distinct sequence numbers, each replicated 4 times, interleaved as
	// redundant radios might deliver them.
	for rep := 0; rep < 4; rep++ {
		for seq := uint64(0); seq < 5; seq++ {
			_, ok, err := d.Process(buildDedupFrame(seq, "p"))
			require.NoError(t, err)
			if ok {
				delivered++
			}
		}
	}
	require.Equal(t, 5, delivered)
}

func TestDedupClearsWholesaleAtThreshold(t *testing.T) {
	d := NewDedup()
	for seq := uint64(0); seq < dedupClearThreshold; seq++ {
		_, ok, err := d.Process(buildDedupFrame(seq, "p"))
		require.NoError(t, err)
		require.True(t, ok)
	}
	// The set was cleared wholesale on reaching the threshold, so an
	// already-seen low sequence number is forwarded again.
	_, ok, err := d.Process(buildDedupFrame(0, "p"))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDedupRejectsShortFrame(t *testing.T) {
	d := NewDedup()
	_, ok, err := d.Process([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrDedupFrameShort)
	require.False(t, ok)
}
