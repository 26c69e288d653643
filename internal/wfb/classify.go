// Package wfb implements the WFB-ng radio ingest path (components C9-C13):
// classifying raw 802.11 QoS Data frames, the per-frame AEAD transform, FEC
// reassembly, sequence-number dedup, and multi-radio link orchestration.
package wfb

import (
	"encoding/binary"
	"errors"
)

// ieee80211HeaderLen is the fixed-size portion of an 802.11 data frame
// header (frame control, duration, three addresses, sequence control) this
// classifier reads, not counting the QoS control field WFB-ng's QoS Data
// frames always carry.
const ieee80211HeaderLen = 24

// frameHeaderLen is the total header length in front of the frame payload:
// the fixed 802.11 header plus the 2-byte QoS control field.
const frameHeaderLen = ieee80211HeaderLen + 2

// qosDataFrameControl is the two frame-control bytes a QoS Data frame
// carries (type=Data, subtype=QoS Data, no flags set).
var qosDataFrameControl = [2]byte{0x08, 0x01}

var (
	// ErrNotQoSData is returned when the frame-control bytes don't mark this
	// as an 802.11 QoS Data frame.
	ErrNotQoSData = errors.New("wfb: not a QoS Data frame")
	// ErrShortFrame is returned when the frame is too small to hold a full
	// header, or carries no payload after it.
	ErrShortFrame = errors.New("wfb: frame shorter than header, or empty payload")
	// ErrAddressMismatch is returned when the two trust fields WFB-ng packs
	// into the synthetic source/destination addresses disagree.
	ErrAddressMismatch = errors.New("wfb: mac_src/mac_dst trust fields disagree")
)

// encryptedFlagBit marks the high bit of the radio-port byte.
const encryptedFlagBit = 0x80

// multiplexIndexMask extracts the low 7 bits of the radio-port byte.
const multiplexIndexMask = 0x7f

// SessionKeyMultiplexIndex is the reserved multiplex index WFB-ng uses for
// session-key announcement packets rather than ordinary data frames.
const SessionKeyMultiplexIndex = 127

// Frame is one classified radio frame: the trust/routing fields C9 extracts
// from the 802.11 header, plus the payload that follows it.
type Frame struct {
	AirGroundID    byte
	Encrypted      bool
	MultiplexIndex byte
	Nonce          uint64
	Payload        []byte
}

// Classify validates and parses one raw 802.11 frame already demodulated by
// the radio layer. It checks the frame-control bytes mark a QoS Data frame,
// that a non-empty payload follows the header, and that the two WFB-ng
// trust fields packed into the synthetic source/destination addresses
// (mac_src[0]==mac_dst[0], the air/ground id, and mac_src[5]==mac_dst[5],
// the radio-port byte) agree with each other.
func Classify(raw []byte) (Frame, error) {
	if len(raw) < frameHeaderLen+1 {
		return Frame{}, ErrShortFrame
	}
	if raw[0] != qosDataFrameControl[0] || raw[1] != qosDataFrameControl[1] {
		return Frame{}, ErrNotQoSData
	}

	// addr1 (destination) occupies bytes 4..10, addr2 (source) 10..16, per
	// the standard 802.11 header layout.
	macDst := raw[4:10]
	macSrc := raw[10:16]

	if macSrc[0] != macDst[0] {
		return Frame{}, ErrAddressMismatch
	}
	if macSrc[5] != macDst[5] {
		return Frame{}, ErrAddressMismatch
	}

	payload := raw[frameHeaderLen:]
	if len(payload) == 0 {
		return Frame{}, ErrShortFrame
	}

	radioPort := macSrc[5]

	var nonceBuf [8]byte
	copy(nonceBuf[0:4], macSrc[1:5])
	copy(nonceBuf[4:8], macDst[1:5])

	return Frame{
		AirGroundID:    macSrc[0],
		Encrypted:      radioPort&encryptedFlagBit != 0,
		MultiplexIndex: radioPort & multiplexIndexMask,
		Nonce:          binary.BigEndian.Uint64(nonceBuf[:]),
		Payload:        payload,
	}, nil
}

// IsSessionKeyFrame reports whether this frame's multiplex index marks it as
// a session-key announcement rather than an ordinary (FEC or no-FEC) data
// frame.
func (f Frame) IsSessionKeyFrame() bool {
	return f.MultiplexIndex == SessionKeyMultiplexIndex
}
