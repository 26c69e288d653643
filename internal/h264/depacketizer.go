// Package h264 reassembles H.264 NAL units from RTP/AVC payloads (RFC 6184)
// into an Annex-B byte stream (component C3).
package h264

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/lanikai/aloharx/internal/logging"
)

// NAL unit type numbers used by the depacketizer (RFC 6184 §5.2, §5.3, §5.8).
const (
	nalTypeMin   = 1
	nalTypeMax   = 23
	nalTypeSPS   = 7
	nalTypePPS   = 8
	nalTypeNonIDR = 5

	nalTypeSTAPA = 24
	nalTypeSTAPB = 25
	nalTypeMTAP16 = 26
	nalTypeMTAP24 = 27
	nalTypeFUA    = 28
	nalTypeFUB    = 29
)

// annexBStartCode is prefixed to every emitted NAL unit.
var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// wrapThreshold is the documented 16-bit sequence-number wrap-around
// heuristic: |a-b| beyond this is treated as having wrapped.
const wrapThreshold = 0xFFFF - 2000

type fragment struct {
	seq     uint16
	payload []byte
}

// Accumulator reassembles one H.264 frame (one RTP timestamp) at a time from
// incoming RTP fragments, in any arrival order, emitting on the marker bit.
type Accumulator struct {
	log zerolog.Logger

	frags        []fragment
	timestamp    uint32
	hasTimestamp bool

	// DroppedUnimplemented counts NAL units of an unimplemented aggregation
	// type (STAP-B, MTAP16, MTAP24, FU-B) that were seen and discarded.
	DroppedUnimplemented int
}

// NewAccumulator creates an empty per-stream reassembly accumulator.
func NewAccumulator(log zerolog.Logger) *Accumulator {
	return &Accumulator{log: logging.Component(log, "h264")}
}

// Result is one reassembled frame.
type Result struct {
	AnnexB    []byte
	KeyFrame  bool
}

// Feed submits one RTP fragment (payload, sequence number, timestamp, marker
// bit) to the accumulator. It returns ok=true along with a Result exactly
// when the marker bit completes a frame.
func (a *Accumulator) Feed(payload []byte, seq uint16, timestamp uint32, marker bool) (Result, bool) {
	if a.hasTimestamp && timestamp != a.timestamp {
		// Timestamp changed before a marker arrived: discard the partial
		// frame (spec §3: "the previous frame is discarded").
		a.log.Debug().Uint32("old_ts", a.timestamp).Uint32("new_ts", timestamp).Msg("discarding incomplete frame on timestamp change")
		a.reset()
	}

	a.timestamp = timestamp
	a.hasTimestamp = true

	cp := make([]byte, len(payload))
	copy(cp, payload)
	a.frags = append(a.frags, fragment{seq: seq, payload: cp})

	if !marker {
		return Result{}, false
	}

	result := a.assemble()
	a.reset()
	return result, true
}

func (a *Accumulator) reset() {
	a.frags = a.frags[:0]
	a.hasTimestamp = false
}

// assemble sorts the accumulated fragments (with wrap-aware tie-break) and
// decodes them into a sequence of NAL units, then serializes Annex-B output.
func (a *Accumulator) assemble() Result {
	frags := make([]fragment, len(a.frags))
	copy(frags, a.frags)

	sort.Slice(frags, func(i, j int) bool {
		return seqLess(frags[i].seq, frags[j].seq)
	})

	var nals [][]byte
	var spsSeen, ppsSeen, nonIDRSeen bool

	var fuBuf []byte
	fuInProgress := false

	for _, f := range frags {
		if len(f.payload) < 1 {
			continue
		}
		nalType := f.payload[0] & 0x1f

		switch {
		case nalType >= nalTypeMin && nalType <= nalTypeMax:
			nal := append([]byte(nil), f.payload...)
			nals = append(nals, nal)
			markType(nal[0]&0x1f, &spsSeen, &ppsSeen, &nonIDRSeen)

		case nalType == nalTypeSTAPA:
			for _, sub := range splitSTAPA(f.payload[1:]) {
				nals = append(nals, sub)
				if len(sub) > 0 {
					markType(sub[0]&0x1f, &spsSeen, &ppsSeen, &nonIDRSeen)
				}
			}

		case nalType == nalTypeFUA:
			if len(f.payload) < 2 {
				continue
			}
			fuHeader := f.payload[1]
			start := fuHeader&0x80 != 0
			end := fuHeader&0x40 != 0
			fuType := fuHeader & 0x1f

			if start {
				reconstructed := (f.payload[0] & 0xe0) | fuType
				fuBuf = append([]byte{reconstructed}, f.payload[2:]...)
				fuInProgress = true
			} else if fuInProgress {
				fuBuf = append(fuBuf, f.payload[2:]...)
			}

			if end && fuInProgress {
				nal := make([]byte, len(fuBuf))
				copy(nal, fuBuf)
				nals = append(nals, nal)
				markType(nal[0]&0x1f, &spsSeen, &ppsSeen, &nonIDRSeen)
				fuBuf = nil
				fuInProgress = false
			}

		case nalType == nalTypeSTAPB, nalType == nalTypeMTAP16,
			nalType == nalTypeMTAP24, nalType == nalTypeFUB:
			a.DroppedUnimplemented++
			a.log.Debug().Uint8("nal_type", nalType).Msg("dropping unimplemented aggregation/fragmentation type")

		default:
			a.log.Debug().Uint8("nal_type", nalType).Msg("dropping unrecognized NAL type")
		}
	}

	out := make([]byte, 0, len(nals)*4+sumLen(nals))
	for _, nal := range nals {
		out = append(out, annexBStartCode...)
		out = append(out, nal...)
	}

	keyFrame := len(nals) > 0 && (spsSeen || ppsSeen) && !nonIDRSeen

	return Result{AnnexB: out, KeyFrame: keyFrame}
}

func markType(typ uint8, spsSeen, ppsSeen, nonIDRSeen *bool) {
	switch typ {
	case nalTypeSPS:
		*spsSeen = true
	case nalTypePPS:
		*ppsSeen = true
	case nalTypeNonIDR:
		*nonIDRSeen = true
	}
}

func sumLen(nals [][]byte) int {
	n := 0
	for _, nal := range nals {
		n += len(nal)
	}
	return n
}

// splitSTAPA reads successive (16-bit size, size-byte NAL) records from a
// STAP-A aggregation payload (with the aggregation header byte already
// stripped). Malformed trailing bytes are silently dropped.
func splitSTAPA(buf []byte) [][]byte {
	var out [][]byte
	for len(buf) >= 2 {
		size := int(buf[0])<<8 | int(buf[1])
		buf = buf[2:]
		if size > len(buf) {
			break
		}
		nal := make([]byte, size)
		copy(nal, buf[:size])
		out = append(out, nal)
		buf = buf[size:]
	}
	return out
}

// seqLess compares two 16-bit RTP sequence numbers, reversing the naive
// comparison when they're more than wrapThreshold apart (meaning they're
// actually adjacent across a 0xFFFF -> 0x0000 wrap).
func seqLess(a, b uint16) bool {
	diff := int(a) - int(b)
	if diff < 0 {
		diff = -diff
	}
	if diff > wrapThreshold {
		return a > b
	}
	return a < b
}
