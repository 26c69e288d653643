package dtls

import "errors"

var (
	errShortRecord      = errors.New("dtls: record too short")
	errShortHandshake    = errors.New("dtls: handshake message too short")
	errUnknownContentType = errors.New("dtls: unknown record content type")
	errHandshakeTimeout  = errors.New("dtls: handshake timed out")

	// ErrFingerprintMismatch is returned when the peer certificate's
	// SHA-256 fingerprint does not match the value advertised over
	// signaling (the "dtls_fingerprint_mismatch" close reason).
	ErrFingerprintMismatch = errors.New("dtls: fingerprint_mismatch")

	// ErrFingerprintMissing mirrors the DtlsFingerprintMissing signaling
	// error: the remote description carried no "a=fingerprint:" attribute.
	ErrFingerprintMissing = errors.New("dtls: fingerprint_missing")

	// ErrFingerprintDigestNotSupported mirrors DtlsFingerprintDigestNotSupported:
	// the remote advertised a fingerprint on a hash other than sha-256.
	ErrFingerprintDigestNotSupported = errors.New("dtls: fingerprint_digest_not_supported")
)
