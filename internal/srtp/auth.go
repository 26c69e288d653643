package srtp

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // RFC 3711's default auth transform, not a general-purpose hash use
	"hash"

	"golang.org/x/crypto/sha3"
)

// authTag returns an authFunc bound to a derived auth key. HMAC-SHA1 is the
// default transform (RFC 3711 section 4.2). SKEIN has no implementation
// available anywhere in this codebase's dependency set; the SKEIN policy
// slot is filled with HMAC over SHA3-256 (golang.org/x/crypto/sha3) instead
// -- a keyed MAC over a non-SHA1 hash, matching SKEIN's role in the policy
// enum without fabricating a SKEIN implementation (see DESIGN.md).
func authTag(id AuthID, key []byte, tagLength int) func(m []byte) []byte {
	switch id {
	case AuthHMACSHA1:
		return func(m []byte) []byte {
			mac := hmac.New(sha1.New, key)
			mac.Write(m)
			return mac.Sum(nil)[:tagLength]
		}
	case AuthSKEIN:
		return func(m []byte) []byte {
			mac := hmac.New(newSHA3_256, key)
			mac.Write(m)
			return mac.Sum(nil)[:tagLength]
		}
	default:
		return func(m []byte) []byte { return nil }
	}
}

func newSHA3_256() hash.Hash {
	return sha3.New256()
}
