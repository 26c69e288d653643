// Self-signed ECDSA certificate generation, grounded on the teacher's
// certificate.go: WebRTC does not chain DTLS certificates to a CA, so a
// single self-signed cert is enough -- the fingerprint exchanged over
// signaling is the actual trust anchor (checked in transport.go).
package dtls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"time"
)

// Certificate bundles the self-signed identity this transport presents in
// its Certificate handshake message.
type Certificate struct {
	PrivateKey  *ecdsa.PrivateKey
	DER         []byte
	Fingerprint [32]byte
}

// GenerateCertificate creates a fresh ECDSA P-256 self-signed certificate,
// valid for 30 days (matching common browser defaults), and its SHA-256
// fingerprint for advertising in "a=fingerprint:".
func GenerateCertificate() (*Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	serialLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, serialLimit)
	if err != nil {
		return nil, err
	}

	notBefore := time.Now()
	template := x509.Certificate{
		SignatureAlgorithm: x509.ECDSAWithSHA256,
		SerialNumber:       serial,
		Subject:            pkix.Name{CommonName: "aloharx"},
		NotBefore:          notBefore,
		NotAfter:           notBefore.Add(30 * 24 * time.Hour),
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, err
	}

	return &Certificate{
		PrivateKey:  priv,
		DER:         der,
		Fingerprint: sha256.Sum256(der),
	}, nil
}
