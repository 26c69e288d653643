package srtp

import "errors"

var (
	errMalformedPacket    = errors.New("srtp: malformed packet")
	errUnsupportedVersion = errors.New("srtp: unsupported RTP version")

	// ErrAuthFailed is returned by Unprotect{RTP,RTCP} when the computed
	// authentication tag does not match the one in the packet. Callers must
	// drop the packet; it is never wrapped so callers can use errors.Is.
	ErrAuthFailed = errors.New("srtp: authentication failed")

	// ErrReplay is returned when a SRTCP index has already been seen
	// (or falls outside the replay window), per the spec's replay guard.
	ErrReplay = errors.New("srtp: replayed packet")

	errShortPacket = errors.New("srtp: packet shorter than auth tag")
)
