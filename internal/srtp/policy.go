package srtp

// CipherID identifies an SRTP/SRTCP encryption transform.
type CipherID int

const (
	CipherNull CipherID = iota
	CipherAESCM
	CipherAESF8
	CipherTwofishCM
	CipherTwofishF8
)

// AuthID identifies an SRTP/SRTCP authentication transform.
type AuthID int

const (
	AuthNull AuthID = iota
	AuthHMACSHA1
	AuthSKEIN
)

// Policy configures a crypto context's cipher, auth transform, and the key
// material lengths those transforms expect. DefaultPolicy matches the
// profile assumed by most SDP crypto attributes in the wild:
// AES_CM_128_HMAC_SHA1_80.
type Policy struct {
	Cipher CipherID
	Auth   AuthID

	KeyLength  int // cipher key length, bytes
	SaltLength int // session salt length, bytes (always 14 for the RFC 3711 KDF)
	TagLength  int // authentication tag length, bytes
}

// DefaultPolicy returns AES-CM-128 / HMAC-SHA1-80, the profile this module's
// DTLS-SRTP handshake (C5) negotiates.
func DefaultPolicy() Policy {
	return Policy{
		Cipher:     CipherAESCM,
		Auth:       AuthHMACSHA1,
		KeyLength:  16,
		SaltLength: 14,
		TagLength:  10,
	}
}

// authKeyLength returns the key size the policy's auth transform expects.
func (p Policy) authKeyLength() int {
	switch p.Auth {
	case AuthHMACSHA1:
		return 20
	case AuthSKEIN:
		return 32
	default:
		return 0
	}
}
