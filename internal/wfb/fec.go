package wfb

import (
	"encoding/binary"
	"errors"
	"sort"
	"time"
)

const (
	// MaxPrimaryFragments and MaxSecondaryFragments bound one FEC block.
	MaxPrimaryFragments   = 128
	MaxSecondaryFragments = 128
	MaxFragmentsPerBlock  = MaxPrimaryFragments + MaxSecondaryFragments

	// MaxPayloadBeforeFEC is the zero-padded width every fragment slot is
	// stored at; GF(256) reconstruction operates on fixed-size vectors.
	MaxPayloadBeforeFEC = 1449

	fragmentSlotSize = 2 + MaxPayloadBeforeFEC

	// secondaryFieldOffset is the implementation-detail constant from the
	// matrix convention: primary fragments occupy field elements 0..127,
	// secondary fragments (by their 0-based position within the block's
	// secondaries) occupy 128+j.
	secondaryFieldOffset = 128
)

// FragmentHeaderLen is the wire size of the FEC fragment header.
const FragmentHeaderLen = 8

var ErrFragmentHeaderShort = errors.New("wfb: fragment shorter than FEC header")

// FragmentHeader is the 8-byte little-endian header prefixing every FEC
// fragment: block_idx(4) || fragment_idx(1) || n_primary(1) || data_size(2).
type FragmentHeader struct {
	BlockIdx    uint32
	FragmentIdx uint8
	NPrimary    uint8
	DataSize    uint16
}

// ParseFragment splits raw into its header and body.
func ParseFragment(raw []byte) (FragmentHeader, []byte, error) {
	if len(raw) < FragmentHeaderLen {
		return FragmentHeader{}, nil, ErrFragmentHeaderShort
	}
	h := FragmentHeader{
		BlockIdx:    binary.LittleEndian.Uint32(raw[0:4]),
		FragmentIdx: raw[4],
		NPrimary:    raw[5],
		DataSize:    binary.LittleEndian.Uint16(raw[6:8]),
	}
	return h, raw[FragmentHeaderLen:], nil
}

var (
	// ErrFragmentRejected covers every condition that makes a fragment
	// unusable: oversized payload, an n_primary that disagrees with an
	// earlier fragment of the same block, or an out-of-range index. Per the
	// invariant-violation policy, these are parse errors, not panics.
	ErrFragmentRejected = errors.New("wfb: FEC fragment rejected")
	// ErrDuplicateFragment is returned (informationally) when a fragment
	// index has already been recorded for its block.
	ErrDuplicateFragment = errors.New("wfb: duplicate FEC fragment index")
)

type fecBlock struct {
	idx          uint32
	nPrimary     int
	haveNPrimary bool
	nSecondary   int

	present [MaxFragmentsPerBlock]bool
	slots   [MaxFragmentsPerBlock][]byte

	availablePrimary   int
	availableSecondary int
	nextForward        int
	reconstructFailed  bool

	firstSeen time.Time
}

func newFECBlock(idx uint32) *fecBlock {
	return &fecBlock{idx: idx, firstSeen: time.Now()}
}

func (b *fecBlock) isPrimary(fragmentIdx int) bool {
	return fragmentIdx < b.nPrimary
}

// Reassembler implements the FEC block reassembly pipeline (C11): an
// ordered, bounded queue of in-flight blocks, reconstruction of missing
// primary fragments via GF(256) erasure decoding, and strictly
// block-idx/fragment-idx-ordered delivery to forward.
type Reassembler struct {
	queueCap int
	blocks   []*fecBlock

	haveLastKnown     bool
	lastKnownBlockIdx uint32

	forward func(blockIdx uint32, fragmentIdx uint8, payload []byte)

	Lost        uint64
	Reconstructed uint64
	Rejected    uint64
}

// NewReassembler builds a Reassembler bounded to queueCap in-flight blocks
// (RX_QUEUE_MAX_SIZE), delivering recovered primary fragments to forward in
// strict block-idx, fragment-idx order.
func NewReassembler(queueCap int, forward func(blockIdx uint32, fragmentIdx uint8, payload []byte)) *Reassembler {
	return &Reassembler{queueCap: queueCap, forward: forward}
}

func (r *Reassembler) findBlock(idx uint32) (int, bool) {
	i := sort.Search(len(r.blocks), func(i int) bool { return r.blocks[i].idx >= idx })
	if i < len(r.blocks) && r.blocks[i].idx == idx {
		return i, true
	}
	return i, false
}

// AddFragment ingests one FEC fragment (already split by ParseFragment).
func (r *Reassembler) AddFragment(h FragmentHeader, body []byte) error {
	if h.NPrimary == 0 || int(h.NPrimary) > MaxPrimaryFragments || int(h.DataSize) > MaxPayloadBeforeFEC || int(h.DataSize) > len(body) {
		r.Rejected++
		return ErrFragmentRejected
	}

	pos, found := r.findBlock(h.BlockIdx)
	var b *fecBlock
	if found {
		b = r.blocks[pos]
	} else {
		if r.queueCap > 0 && len(r.blocks) >= r.queueCap {
			r.evictOldest()
			pos, _ = r.findBlock(h.BlockIdx)
		}
		b = newFECBlock(h.BlockIdx)
		r.blocks = append(r.blocks, nil)
		copy(r.blocks[pos+1:], r.blocks[pos:])
		r.blocks[pos] = b
	}

	if !r.haveLastKnown || h.BlockIdx > r.lastKnownBlockIdx {
		r.lastKnownBlockIdx = h.BlockIdx
		r.haveLastKnown = true
	}

	if err := r.addFragmentToBlock(b, h, body); err != nil {
		return err
	}

	r.forwardAvailable(b)
	r.tryReconstruct(b)
	r.forwardAvailable(b)
	r.evictResolved()

	return nil
}

func (r *Reassembler) addFragmentToBlock(b *fecBlock, h FragmentHeader, body []byte) error {
	fragmentIdx := int(h.FragmentIdx)
	if fragmentIdx >= MaxFragmentsPerBlock {
		r.Rejected++
		return ErrFragmentRejected
	}

	if !b.haveNPrimary {
		b.nPrimary = int(h.NPrimary)
		b.haveNPrimary = true
	} else if b.nPrimary != int(h.NPrimary) {
		r.Rejected++
		return ErrFragmentRejected
	}

	if b.present[fragmentIdx] {
		return ErrDuplicateFragment
	}

	slot := make([]byte, fragmentSlotSize)
	binary.LittleEndian.PutUint16(slot[0:2], h.DataSize)
	copy(slot[2:2+int(h.DataSize)], body[:h.DataSize])

	b.slots[fragmentIdx] = slot
	b.present[fragmentIdx] = true

	if b.isPrimary(fragmentIdx) {
		b.availablePrimary++
	} else {
		j := fragmentIdx - b.nPrimary
		if j+1 > b.nSecondary {
			b.nSecondary = j + 1
		}
		b.availableSecondary++
	}
	return nil
}

// forwardAvailable walks the block forward from its cursor, delivering every
// contiguous available primary fragment.
func (r *Reassembler) forwardAvailable(b *fecBlock) {
	for b.haveNPrimary && b.nextForward < b.nPrimary && b.present[b.nextForward] {
		slot := b.slots[b.nextForward]
		size := binary.LittleEndian.Uint16(slot[0:2])
		payload := slot[2 : 2+int(size)]
		if r.forward != nil {
			r.forward(b.idx, uint8(b.nextForward), payload)
		}
		b.nextForward++
	}
}

// tryReconstruct attempts GF(256) erasure decoding of this block's missing
// primary fragments once enough primary+secondary fragments are present.
func (r *Reassembler) tryReconstruct(b *fecBlock) {
	if b.reconstructFailed || !b.haveNPrimary {
		return
	}
	if b.availablePrimary >= b.nPrimary {
		return
	}
	if b.availablePrimary+b.availableSecondary < b.nPrimary {
		return
	}

	var missing []int
	for i := 0; i < b.nPrimary; i++ {
		if !b.present[i] {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return
	}

	var receivedPrimary []int
	for i := 0; i < b.nPrimary; i++ {
		if b.present[i] {
			receivedPrimary = append(receivedPrimary, i)
		}
	}

	var secondaryRows []int // j values (0-based secondary position)
	for fragmentIdx := b.nPrimary; fragmentIdx < b.nPrimary+b.nSecondary && len(secondaryRows) < len(missing); fragmentIdx++ {
		if b.present[fragmentIdx] {
			secondaryRows = append(secondaryRows, fragmentIdx-b.nPrimary)
		}
	}
	if len(secondaryRows) < len(missing) {
		// Not enough distinct secondaries yet despite the coarse count
		// check above (can't happen given the invariant above, but guard
		// against a future change to the counting logic).
		return
	}

	n := len(missing)
	matrix := make([][]byte, n)
	for r2, j := range secondaryRows {
		matrix[r2] = make([]byte, n)
		for c, primaryIdx := range missing {
			matrix[r2][c] = gfInverse(byte(j ^ primaryIdx ^ secondaryFieldOffset))
		}
	}

	inv, ok := invertMatrix(matrix)
	if !ok {
		b.reconstructFailed = true
		return
	}

	reduced := make([][]byte, n)
	for r2, j := range secondaryRows {
		secondarySlot := b.slots[b.nPrimary+j]
		reduced[r2] = make([]byte, fragmentSlotSize)
		copy(reduced[r2], secondarySlot)
		for _, primaryIdx := range receivedPrimary {
			coeff := gfInverse(byte(j ^ primaryIdx ^ secondaryFieldOffset))
			primarySlot := b.slots[primaryIdx]
			for p := 0; p < fragmentSlotSize; p++ {
				reduced[r2][p] ^= gfMul(primarySlot[p], coeff)
			}
		}
	}

	for c, primaryIdx := range missing {
		recovered := make([]byte, fragmentSlotSize)
		for r2 := 0; r2 < n; r2++ {
			coeff := inv[c][r2]
			if coeff == 0 {
				continue
			}
			for p := 0; p < fragmentSlotSize; p++ {
				recovered[p] ^= gfMul(coeff, reduced[r2][p])
			}
		}
		b.slots[primaryIdx] = recovered
		b.present[primaryIdx] = true
		b.availablePrimary++
		r.Reconstructed++
	}
}

// evictOldest removes the front (lowest block_idx) block, forwarding
// whatever contiguous primaries it already has and counting the rest lost.
func (r *Reassembler) evictOldest() {
	if len(r.blocks) == 0 {
		return
	}
	b := r.blocks[0]
	r.forwardAvailable(b)
	if b.haveNPrimary {
		r.Lost += uint64(b.nPrimary - b.nextForward)
	}
	r.blocks = r.blocks[1:]
}

// evictResolved drops completed blocks (all primaries forwarded) and any
// block that has fallen RX_QUEUE_MAX_SIZE behind the newest block seen, from
// the front of the ordered queue.
func (r *Reassembler) evictResolved() {
	for len(r.blocks) > 0 {
		b := r.blocks[0]
		allForwarded := b.haveNPrimary && b.nextForward >= b.nPrimary
		tooOld := r.queueCap > 0 && r.haveLastKnown && r.lastKnownBlockIdx-b.idx >= uint32(r.queueCap)
		if !allForwarded && !tooOld {
			break
		}
		if tooOld && !allForwarded {
			r.forwardAvailable(b)
			if b.haveNPrimary {
				r.Lost += uint64(b.nPrimary - b.nextForward)
			}
		}
		r.blocks = r.blocks[1:]
	}
}

// InFlightBlocks reports how many blocks are currently queued, for the
// bounded-memory property.
func (r *Reassembler) InFlightBlocks() int {
	return len(r.blocks)
}
