package wfb

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGF256MulInverseRoundTrip(t *testing.T) {
	for a := 1; a < 256; a++ {
		inv := gfInverse(byte(a))
		require.Equal(t, byte(1), gfMul(byte(a), inv), "a=%d", a)
	}
}

func TestInvertMatrixCauchy(t *testing.T) {
	// A 2x2 Cauchy-style matrix built the same way tryReconstruct builds
	// its decode matrix: rows are secondary field points (128+j), columns
	// are primary field points (the missing indices).
	rows := []int{0, 1} // j values
	cols := []int{0, 1} // primary indices
	m := make([][]byte, 2)
	for i, j := range rows {
		m[i] = make([]byte, 2)
		for c, p := range cols {
			m[i][c] = gfInverse(byte(j ^ p ^ secondaryFieldOffset))
		}
	}
	inv, ok := invertMatrix(m)
	require.True(t, ok)

	// inv * m should be the identity matrix.
	for i := 0; i < 2; i++ {
		for k := 0; k < 2; k++ {
			var sum byte
			for j := 0; j < 2; j++ {
				sum ^= gfMul(inv[i][j], m[j][k])
			}
			if i == k {
				require.Equal(t, byte(1), sum)
			} else {
				require.Equal(t, byte(0), sum)
			}
		}
	}
}

func buildFragmentWire(blockIdx uint32, fragmentIdx, nPrimary uint8, payload []byte) []byte {
	buf := make([]byte, FragmentHeaderLen+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], blockIdx)
	buf[4] = fragmentIdx
	buf[5] = nPrimary
	binary.LittleEndian.PutUint16(buf[6:8], uint16(len(payload)))
	copy(buf[8:], payload)
	return buf
}

func TestReassemblerForwardsContiguousPrimariesInOrder(t *testing.T) {
	var delivered []string
	r := NewReassembler(8, func(blockIdx uint32, fragmentIdx uint8, payload []byte) {
		delivered = append(delivered, string(payload))
	})

	for i, payload := range []string{"zero", "one", "two"} {
		raw := buildFragmentWire(1, uint8(i), 3, []byte(payload))
		h, body, err := ParseFragment(raw)
		require.NoError(t, err)
		require.NoError(t, r.AddFragment(h, body))
	}

	require.Equal(t, []string{"zero", "one", "two"}, delivered)
	require.Equal(t, 0, r.InFlightBlocks())
}

func TestReassemblerIgnoresDuplicateFragment(t *testing.T) {
	var delivered int
	r := NewReassembler(8, func(uint32, uint8, []byte) { delivered++ })

	raw := buildFragmentWire(1, 0, 2, []byte("x"))
	h, body, err := ParseFragment(raw)
	require.NoError(t, err)
	require.NoError(t, r.AddFragment(h, body))
	err = r.AddFragment(h, body)
	require.ErrorIs(t, err, ErrDuplicateFragment)

	require.Equal(t, 1, delivered)
}

func TestReassemblerGapBlocksForwarding(t *testing.T) {
	var delivered int
	r := NewReassembler(8, func(uint32, uint8, []byte) { delivered++ })

	raw := buildFragmentWire(1, 1, 3, []byte("middle"))
	h, body, err := ParseFragment(raw)
	require.NoError(t, err)
	require.NoError(t, r.AddFragment(h, body))

	require.Equal(t, 0, delivered)
	require.Equal(t, 1, r.InFlightBlocks())
}

func TestReassemblerEvictsOldestOnCapacityExceeded(t *testing.T) {
	var delivered int
	r := NewReassembler(2, func(uint32, uint8, []byte) { delivered++ })

	for blockIdx := uint32(1); blockIdx <= 3; blockIdx++ {
		raw := buildFragmentWire(blockIdx, 1, 3, []byte("gap"))
		h, body, err := ParseFragment(raw)
		require.NoError(t, err)
		require.NoError(t, r.AddFragment(h, body))
	}

	require.Equal(t, 2, r.InFlightBlocks())
	require.Equal(t, uint64(3), r.Lost) // block 1 evicted, its 3 primaries uncounted as forwarded
}

func TestReassemblerEvictsTooOldBlock(t *testing.T) {
	var delivered int
	r := NewReassembler(4, func(uint32, uint8, []byte) { delivered++ })

	raw := buildFragmentWire(1, 1, 3, []byte("gap"))
	h, body, err := ParseFragment(raw)
	require.NoError(t, err)
	require.NoError(t, r.AddFragment(h, body))

	raw2 := buildFragmentWire(10, 0, 2, []byte("newer"))
	h2, body2, err := ParseFragment(raw2)
	require.NoError(t, err)
	require.NoError(t, r.AddFragment(h2, body2))

	require.Equal(t, 1, r.InFlightBlocks())
	require.Equal(t, uint64(3), r.Lost)
}

func TestReassemblerRejectsHeaderMismatch(t *testing.T) {
	r := NewReassembler(4, func(uint32, uint8, []byte) {})

	raw1 := buildFragmentWire(1, 0, 3, []byte("a"))
	h1, body1, err := ParseFragment(raw1)
	require.NoError(t, err)
	require.NoError(t, r.AddFragment(h1, body1))

	raw2 := buildFragmentWire(1, 1, 4, []byte("b")) // disagrees on n_primary
	h2, body2, err := ParseFragment(raw2)
	require.NoError(t, err)
	err = r.AddFragment(h2, body2)
	require.ErrorIs(t, err, ErrFragmentRejected)
}

// gfEncodeSecondary mirrors the Reassembler's own reduction formula in
// reverse: it is the textbook Cauchy-matrix encode counterpart to
// tryReconstruct's decode, used here only to build self-consistent test
// fixtures.
func gfEncodeSecondary(primarySlots [][]byte, j int) []byte {
	out := make([]byte, fragmentSlotSize)
	for i, slot := range primarySlots {
		coeff := gfInverse(byte(j ^ i ^ secondaryFieldOffset))
		for p := 0; p < fragmentSlotSize; p++ {
			out[p] ^= gfMul(coeff, slot[p])
		}
	}
	return out
}

// fixedPrimarySlot builds a slot in the same [2-byte length || data,
// zero-padded] layout AddFragment itself produces, so forwardAvailable can
// read it back without assuming anything this test doesn't set up.
func fixedPrimarySlot(fill byte, dataSize int) []byte {
	s := make([]byte, fragmentSlotSize)
	binary.LittleEndian.PutUint16(s[0:2], uint16(dataSize))
	for i := 2; i < 2+dataSize; i++ {
		s[i] = fill
	}
	return s
}

// TestFECRecoversMissingPrimary reproduces the k=3,r=2 scenario: deliver
// primaries 0 and 2 plus both secondaries, and confirm primary 1 is
// recovered byte-for-byte (one secondary suffices for one missing primary).
func TestFECRecoversMissingPrimary(t *testing.T) {
	primary0 := fixedPrimarySlot(0x11, 10)
	primary1 := fixedPrimarySlot(0x22, 10)
	primary2 := fixedPrimarySlot(0x33, 10)
	primaries := [][]byte{primary0, primary1, primary2}

	secondary0 := gfEncodeSecondary(primaries, 0)
	secondary1 := gfEncodeSecondary(primaries, 1)

	b := newFECBlock(7)
	b.nPrimary = 3
	b.haveNPrimary = true
	b.nSecondary = 2

	b.slots[0] = primary0
	b.present[0] = true
	b.availablePrimary++
	b.slots[2] = primary2
	b.present[2] = true
	b.availablePrimary++
	// secondary fragment_idx = nPrimary + j
	b.slots[3] = secondary0
	b.present[3] = true
	b.availableSecondary++
	b.slots[4] = secondary1
	b.present[4] = true
	b.availableSecondary++

	var delivered [][]byte
	r := NewReassembler(8, func(blockIdx uint32, fragmentIdx uint8, payload []byte) {
		delivered = append(delivered, append([]byte(nil), payload...))
	})

	r.tryReconstruct(b)
	require.True(t, b.present[1])
	require.Equal(t, primary1, b.slots[1])
	require.Equal(t, uint64(1), r.Reconstructed)

	r.forwardAvailable(b)
	require.Len(t, delivered, 3)
}
