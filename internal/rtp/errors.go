package rtp

import "errors"

var (
	// ErrShortHeader is returned when a buffer is too small to contain a
	// valid RTP header, or declares an extension longer than the buffer.
	ErrShortHeader = errors.New("rtp: header too short")

	// ErrNotReady is returned when header or payload accessors are called
	// outside the [ApplyBuffer, ReleaseBuffer) ownership interval.
	ErrNotReady = errors.New("rtp: packet has no buffer applied")
)
