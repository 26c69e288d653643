// Key derivation function described in RFC 3711, section 4.3
// (https://tools.ietf.org/html/rfc3711#section-4.3). Produces the session
// encryption, authentication, and salting keys from the DTLS-exported
// master key and master salt.
package srtp

import (
	"crypto/aes"
	"crypto/cipher"
)

const (
	labelSRTPEncryptionKey      = 0x00
	labelSRTPAuthenticationKey  = 0x01
	labelSRTPSaltingKey         = 0x02
	labelSRTCPEncryptionKey     = 0x03
	labelSRTCPAuthenticationKey = 0x04
	labelSRTCPSaltingKey        = 0x05
)

// deriveKey implements PRF_n(master_key, x) from RFC 3711 section 4.3.1: x is
// master_salt XORed with (label || r) placed at the key_id position, used as
// the IV to an AES-CM keystream of n bytes under master_key. With
// rate == 0, r is defined as 0 (a no-op XOR), matching this module's fixed
// key_derivation_rate of zero.
func deriveKey(masterKey, masterSalt []byte, index uint64, rate uint64, label byte, n int) ([]byte, error) {
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, err
	}

	x := make([]byte, 16)
	copy(x, masterSalt)

	var r uint64
	if rate != 0 {
		r = index / rate
	}
	xor64(x[len(masterSalt)-8:len(masterSalt)], trunc(r, 48))
	x[len(masterSalt)-7] ^= label

	stream := cipher.NewCTR(block, x)
	key := make([]byte, n)
	stream.XORKeyStream(key, key)
	return key, nil
}

// sessionKeys holds every key/salt derived for one direction (SRTP or
// SRTCP) of a crypto context.
type sessionKeys struct {
	encryptKey []byte
	authKey    []byte
	salt       []byte
}

func deriveSessionKeys(masterKey, masterSalt []byte, policy Policy, encLabel, authLabel, saltLabel byte) (sessionKeys, error) {
	enc, err := deriveKey(masterKey, masterSalt, 0, 0, encLabel, policy.KeyLength)
	if err != nil {
		return sessionKeys{}, err
	}
	salt, err := deriveKey(masterKey, masterSalt, 0, 0, saltLabel, policy.SaltLength)
	if err != nil {
		return sessionKeys{}, err
	}
	var auth []byte
	if n := policy.authKeyLength(); n > 0 {
		auth, err = deriveKey(masterKey, masterSalt, 0, 0, authLabel, n)
		if err != nil {
			return sessionKeys{}, err
		}
	}
	return sessionKeys{encryptKey: enc, authKey: auth, salt: salt}, nil
}
