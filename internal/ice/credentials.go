package ice

import (
	"crypto/rand"
	"encoding/base64"
)

// NewCredentials generates a fresh random ICE ufrag/password pair, used
// both for the initial local description and for Restart.
func NewCredentials() Credentials {
	var ufragBuf [6]byte
	var pwdBuf [18]byte
	rand.Read(ufragBuf[:])
	rand.Read(pwdBuf[:])
	return Credentials{
		Ufrag:    base64.RawURLEncoding.EncodeToString(ufragBuf[:]),
		Password: base64.RawURLEncoding.EncodeToString(pwdBuf[:]),
	}
}
