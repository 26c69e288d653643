package wfb

import (
	"encoding/binary"
	"errors"
)

// dedupSeqLen is the wire width of the sequence number prefixing every
// no-FEC frame.
const dedupSeqLen = 8

// dedupClearThreshold is the point at which the seen-set is cleared
// wholesale rather than evicting individual entries — deliberately coarse,
// bounding memory at the cost of occasionally re-forwarding a very old
// duplicate.
const dedupClearThreshold = 99

var ErrDedupFrameShort = errors.New("wfb: no-FEC frame shorter than the sequence number prefix")

// Dedup implements the no-FEC dedup stream (C12): strip the 8-byte
// little-endian sequence number prefixing each frame and forward the
// payload only the first time that sequence number is seen.
type Dedup struct {
	seen       map[uint64]struct{}
	sawFirst   bool
	Duplicates uint64
}

// NewDedup returns a Dedup ready to process its first frame.
func NewDedup() *Dedup {
	return &Dedup{seen: make(map[uint64]struct{}, dedupClearThreshold)}
}

// Process strips the sequence-number prefix from raw and reports the
// payload iff it has not already been forwarded. A returned ok=false means
// the frame was a duplicate (or malformed) and nothing should be forwarded.
func (d *Dedup) Process(raw []byte) (payload []byte, ok bool, err error) {
	if len(raw) < dedupSeqLen {
		return nil, false, ErrDedupFrameShort
	}
	seq := binary.LittleEndian.Uint64(raw[:dedupSeqLen])
	payload = raw[dedupSeqLen:]

	if !d.sawFirst {
		d.sawFirst = true
		d.seen[seq] = struct{}{}
		return payload, true, nil
	}

	if _, dup := d.seen[seq]; dup {
		d.Duplicates++
		return nil, false, nil
	}

	d.seen[seq] = struct{}{}
	if len(d.seen) >= dedupClearThreshold {
		for k := range d.seen {
			delete(d.seen, k)
		}
	}
	return payload, true, nil
}
