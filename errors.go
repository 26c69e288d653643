package aloharx

import "errors"

// Code is a signaling-API result code (section 6's error-return codes).
// Zero value is Ok.
type Code int

const (
	Ok Code = iota
	NoRemoteMedia
	NoMatchingMediaType
	VideoIncompatible
	WrongSdpTypeOfferAfterOffer
	DtlsFingerprintDigestNotSupported
	DtlsFingerprintMissing
	DataChannelTransportNotSupported
	Error
)

func (c Code) String() string {
	switch c {
	case Ok:
		return "ok"
	case NoRemoteMedia:
		return "no_remote_media"
	case NoMatchingMediaType:
		return "no_matching_media_type"
	case VideoIncompatible:
		return "video_incompatible"
	case WrongSdpTypeOfferAfterOffer:
		return "wrong_sdp_type_offer_after_offer"
	case DtlsFingerprintDigestNotSupported:
		return "dtls_fingerprint_digest_not_supported"
	case DtlsFingerprintMissing:
		return "dtls_fingerprint_missing"
	case DataChannelTransportNotSupported:
		return "data_channel_transport_not_supported"
	default:
		return "error"
	}
}

// CodeError wraps a Code as an error, so a peer connection method can
// either return (sdp, nil) or an error that errors.As unwraps to a
// *CodeError carrying the Code.
type CodeError struct {
	Code Code
}

func (e *CodeError) Error() string { return e.Code.String() }

func codeErr(c Code) error { return &CodeError{Code: c} }

// ErrClosed is returned by operations attempted after Close.
var ErrClosed = errors.New("aloharx: peer connection closed")
