package sdp

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Role is the DTLS setup role advertised in "a=setup:".
type Role string

const (
	RoleActPass Role = "actpass"
	RoleActive  Role = "active"
	RolePassive Role = "passive"
)

// OfferParams carries the fields the SDP surface needs; the caller
// (the peer connection state machine, C8) owns ICE/DTLS/SSRC identity and
// simply asks this package to render it.
type OfferParams struct {
	SessionID      string // decimal, regenerated per local description per RFC 4566
	PayloadType    int
	ICEUfrag       string
	ICEPwd         string
	Role           Role
	FingerprintSHA256 [32]byte
	SSRC           uint32
	CNAME          string
	Candidates     []Candidate
	EndOfCandidates bool
}

// NewSessionID returns a fresh session id suitable for the "o=" line: a
// random 62-bit non-negative integer, rendered as required by RFC 4566's
// "numeric string such that the tuple of username, sess-id, nettype,
// addrtype, and address forms a globally unique identifier" -- this package
// draws it from a UUIDv4 rather than a counter so concurrent peer
// connections never collide without shared state.
func NewSessionID() string {
	id := uuid.New()
	// Fold the 128-bit UUID down to a 62-bit unsigned decimal as recommended
	// by RFC 4566 section 5.2 ("at most 64 bits").
	hi := uint64(0)
	for _, b := range id[:8] {
		hi = hi<<8 | uint64(b)
	}
	return strconv.FormatUint(hi>>2, 10)
}

// NewCNAME returns a random base64 CNAME suitable for "a=ssrc:...
// cname:...", grounded on the same random-identifier approach as
// NewSessionID but independent so the two never coincide.
func NewCNAME() string {
	var buf [12]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand.Read on a local buffer only fails if the OS RNG is
		// broken; fall back to a fixed identifier rather than panicking.
		return "aloharx-cname"
	}
	return base64.RawURLEncoding.EncodeToString(buf[:])
}

// BuildOffer renders the session description for the single sendonly video
// m-line this module's signaling surface emits, in the exact attribute
// order its remote peers are tested against.
func BuildOffer(p OfferParams) string {
	s := Session{
		Version: 0,
		Origin: Origin{
			Username:       "-",
			SessionID:      p.SessionID,
			SessionVersion: 2,
			NetworkType:    "IN",
			AddressType:    "IP4",
			Address:        "127.0.0.1",
		},
		Name: "-",
		Time: []Time{{}},
		Attributes: []Attribute{
			{Key: "group", Value: "BUNDLE 0"},
		},
	}

	m := Media{
		Type:  "video",
		Port:  9,
		Proto: "UDP/TLS/RTP/SAVP",
		Format: []string{strconv.Itoa(p.PayloadType)},
		Connection: &Connection{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     "0.0.0.0",
		},
	}
	m.Attributes = append(m.Attributes,
		Attribute{Key: "rtcp-mux"},
		Attribute{Key: "rtcp", Value: "9 IN IP4 0.0.0.0"},
		Attribute{Key: "ice-ufrag", Value: p.ICEUfrag},
		Attribute{Key: "ice-pwd", Value: p.ICEPwd},
		Attribute{Key: "ice-options", Value: "ice2,trickle"},
		Attribute{Key: "setup", Value: string(p.Role)},
		Attribute{Key: "fingerprint", Value: "sha-256 " + FormatFingerprint(p.FingerprintSHA256)},
		Attribute{Key: "mid", Value: "0"},
		Attribute{Key: "sendonly"},
		Attribute{Key: "rtpmap", Value: fmt.Sprintf("%d H264/90000", p.PayloadType)},
	)
	for _, c := range p.Candidates {
		m.Attributes = append(m.Attributes, Attribute{Key: "candidate", Value: c.String()[len("candidate:"):]})
	}
	if p.EndOfCandidates {
		m.Attributes = append(m.Attributes, Attribute{Key: "end-of-candidates"})
	}
	m.Attributes = append(m.Attributes,
		Attribute{Key: "ssrc", Value: fmt.Sprintf("%d cname:%s", p.SSRC, p.CNAME)})

	s.Media = []Media{m}
	return s.String()
}

// FormatFingerprint renders a certificate hash the way "a=fingerprint:"
// requires: upper-case hex octets separated by colons.
func FormatFingerprint(sum [32]byte) string {
	hexStr := hex.EncodeToString(sum[:])
	out := make([]byte, 0, len(hexStr)*3/2)
	for i := 0; i < len(hexStr); i += 2 {
		if i > 0 {
			out = append(out, ':')
		}
		out = append(out, upperHexByte(hexStr[i]), upperHexByte(hexStr[i+1]))
	}
	return string(out)
}

func upperHexByte(c byte) byte {
	if c >= 'a' && c <= 'f' {
		return c - 'a' + 'A'
	}
	return c
}

// Candidates returns the parsed host candidates attached to the media
// section, skipping any "a=candidate:" line this parser cannot make sense
// of (the attribute-robustness policy: a malformed candidate is dropped,
// not fatal to the rest of the description).
func (m *Media) Candidates() []Candidate {
	var out []Candidate
	for _, a := range m.Attributes {
		if a.Key != "candidate" {
			continue
		}
		c, err := ParseCandidate(a.Value)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}

// HasEndOfCandidates reports whether the media section carries
// "a=end-of-candidates".
func (m *Media) HasEndOfCandidates() bool {
	return m.HasAttr("end-of-candidates")
}

// SetupRole returns the remote's advertised "a=setup:" value, or "" if
// absent.
func (m *Media) SetupRole() Role {
	return Role(m.GetAttr("setup"))
}

// FingerprintHex returns the hex digits (colons stripped, lower-cased) of
// this media section's own "a=fingerprint:sha-256 <hex>" attribute, and
// whether a sha-256 fingerprint was present at all. Section 4.8 allows a
// remote to carry the fingerprint at the session level instead, so callers
// deciding whether a fingerprint was supplied at all should check the
// session-level attribute too and parse whichever is present with
// ParseFingerprint, rather than relying on this method alone.
func (m *Media) FingerprintHex() (digestHex string, ok bool) {
	return ParseFingerprint(m.GetAttr("fingerprint"))
}

// ParseFingerprint parses a raw "a=fingerprint:" attribute value ("sha-256
// <hex>") into lower-cased, colon-stripped hex digits, reporting ok=false
// for an empty value or an unsupported hash algorithm (anything but
// "sha-256").
func ParseFingerprint(v string) (digestHex string, ok bool) {
	if v == "" {
		return "", false
	}
	var algo, hexPart string
	n, _ := fmt.Sscanf(v, "%s %s", &algo, &hexPart)
	if n != 2 || algo != "sha-256" {
		return "", false
	}
	out := make([]byte, 0, len(hexPart))
	for i := 0; i < len(hexPart); i++ {
		c := hexPart[i]
		if c == ':' {
			continue
		}
		if c >= 'A' && c <= 'F' {
			c = c - 'A' + 'a'
		}
		out = append(out, c)
	}
	return string(out), true
}
