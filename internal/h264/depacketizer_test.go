package h264

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lanikai/aloharx/internal/logging"
)

func nal(typ byte, body ...byte) []byte {
	return append([]byte{typ}, body...)
}

func TestSingleNALPassthrough(t *testing.T) {
	a := NewAccumulator(logging.Nop())

	res, ok := a.Feed(nal(5, 1, 2, 3), 1, 1000, true)
	require.True(t, ok)
	require.True(t, res.KeyFrame == false) // non-IDR slice alone is not a key frame
	require.Equal(t, append(append([]byte{}, annexBStartCode...), nal(5, 1, 2, 3)...), res.AnnexB)
}

func TestSTAPAAndKeyFrame(t *testing.T) {
	a := NewAccumulator(logging.Nop())

	sps := nal(7, 0xAA)
	pps := nal(8, 0xBB)
	stapAPayload := []byte{24}
	for _, n := range [][]byte{sps, pps} {
		stapAPayload = append(stapAPayload, byte(len(n)>>8), byte(len(n)))
		stapAPayload = append(stapAPayload, n...)
	}

	res, ok := a.Feed(stapAPayload, 10, 2000, true)
	require.True(t, ok)
	require.True(t, res.KeyFrame)

	want := append([]byte{}, annexBStartCode...)
	want = append(want, sps...)
	want = append(want, annexBStartCode...)
	want = append(want, pps...)
	require.Equal(t, want, res.AnnexB)
}

func TestFUAReassemblyOutOfOrder(t *testing.T) {
	a := NewAccumulator(logging.Nop())

	full := nal(5, 1, 2, 3, 4, 5, 6)
	nalHeader := full[0]
	fuIndicator := (nalHeader & 0xe0) | nalTypeFUA
	fuType := nalHeader & 0x1f

	start := append([]byte{fuIndicator, 0x80 | fuType}, full[1:3]...)
	mid := append([]byte{fuIndicator, fuType}, full[3:5]...)
	end := append([]byte{fuIndicator, 0x40 | fuType}, full[5:7]...)

	// Fragments arrive out of sequence order (mid before start); assembly
	// only triggers once the marker-bearing fragment (end) arrives, and must
	// re-sort by sequence number before reconstructing the NAL unit.
	_, ok := a.Feed(mid, 101, 5000, false)
	require.False(t, ok)
	_, ok = a.Feed(start, 100, 5000, false)
	require.False(t, ok)

	res, ok := a.Feed(end, 102, 5000, true)
	require.True(t, ok)
	require.Equal(t, full, res.AnnexB[len(annexBStartCode):])
}

func TestFUAReassemblyInOrderWithMarker(t *testing.T) {
	a := NewAccumulator(logging.Nop())

	full := nal(1, 9, 8, 7, 6)
	nalHeader := full[0]
	fuIndicator := (nalHeader & 0xe0) | nalTypeFUA
	fuType := nalHeader & 0x1f

	start := append([]byte{fuIndicator, 0x80 | fuType}, full[1:3]...)
	end := append([]byte{fuIndicator, 0x40 | fuType}, full[3:5]...)

	_, ok := a.Feed(start, 1, 7000, false)
	require.False(t, ok)
	res, ok := a.Feed(end, 2, 7000, true)
	require.True(t, ok)
	require.Equal(t, full, res.AnnexB[len(annexBStartCode):])
}

func TestDiscardsIncompleteFrameOnTimestampChange(t *testing.T) {
	a := NewAccumulator(logging.Nop())

	_, ok := a.Feed(nal(1, 1), 1, 1000, false)
	require.False(t, ok)

	// New timestamp arrives before a marker completes the first frame.
	res, ok := a.Feed(nal(1, 2), 2, 2000, true)
	require.True(t, ok)
	require.Equal(t, nal(1, 2), res.AnnexB[len(annexBStartCode):])
}

func TestEmptyFrameIsNotKeyFrame(t *testing.T) {
	a := NewAccumulator(logging.Nop())
	res, ok := a.Feed(nal(25), 1, 1000, true) // unimplemented STAP-B, dropped
	require.True(t, ok)
	require.False(t, res.KeyFrame)
	require.Empty(t, res.AnnexB)
	require.Equal(t, 1, a.DroppedUnimplemented)
}

func TestSeqLessWrapAround(t *testing.T) {
	require.True(t, seqLess(65530, 3))
	require.False(t, seqLess(3, 65530))
	require.True(t, seqLess(10, 20))
}
