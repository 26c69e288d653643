package sdp

import (
	"strconv"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestBuildOfferEmitsExactAttributeOrder(t *testing.T) {
	offer := BuildOffer(OfferParams{
		SessionID:   "123456789",
		PayloadType: 96,
		ICEUfrag:    "ufrag1",
		ICEPwd:      "pwd1234567890123456789012",
		Role:        RoleActPass,
		SSRC:        0xdeadbeef,
		CNAME:       "abc123",
		Candidates: []Candidate{
			{Foundation: "1", Component: 1, Transport: "udp", Priority: HostPriority(), Address: "192.0.2.1", Port: 5000, Type: "host"},
		},
		EndOfCandidates: true,
	})

	lines := strings.Split(strings.TrimRight(offer, "\r\n"), "\r\n")
	want := []string{
		"v=0",
		"o=- 123456789 2 IN IP4 127.0.0.1",
		"s=-",
		"t=0 0",
		"a=group:BUNDLE 0",
		"m=video 9 UDP/TLS/RTP/SAVP 96",
		"c=IN IP4 0.0.0.0",
		"a=rtcp-mux",
		"a=rtcp:9 IN IP4 0.0.0.0",
		"a=ice-ufrag:ufrag1",
		"a=ice-pwd:pwd1234567890123456789012",
		"a=ice-options:ice2,trickle",
		"a=setup:actpass",
	}
	require.Equal(t, want, lines[:len(want)])

	require.True(t, strings.HasPrefix(lines[len(want)], "a=fingerprint:sha-256 "))
	rest := lines[len(want)+1:]
	require.Equal(t, []string{
		"a=mid:0",
		"a=sendonly",
		"a=rtpmap:96 H264/90000",
		"a=candidate:1 1 udp " + strconv.FormatUint(uint64(HostPriority()), 10) + " 192.0.2.1 5000 typ host",
		"a=end-of-candidates",
		"a=ssrc:3735928559 cname:abc123",
	}, rest)
}

func TestParseSessionRoundTripsOffer(t *testing.T) {
	offer := BuildOffer(OfferParams{
		SessionID:   "42",
		PayloadType: 102,
		ICEUfrag:    "uf",
		ICEPwd:      "0123456789abcdef01234567",
		Role:        RoleActive,
		SSRC:        7,
		CNAME:       "x",
	})

	s, err := ParseSession(offer, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, s.Media, 1)

	m := &s.Media[0]
	require.Equal(t, "video", m.Type)
	require.Equal(t, "uf", m.GetAttr("ice-ufrag"))
	require.Equal(t, "0123456789abcdef01234567", m.GetAttr("ice-pwd"))
	require.Equal(t, RoleActive, m.SetupRole())
	require.True(t, m.HasAttr("sendonly"))
	require.True(t, m.HasAttr("rtcp-mux"))

	digest, ok := m.FingerprintHex()
	require.True(t, ok)
	require.Len(t, digest, 64)
}

func TestParseSessionSkipsMalformedLinesInsteadOfAborting(t *testing.T) {
	raw := "v=0\r\n" +
		"o=- 1 2 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"garbage-line-with-no-equals-sign\r\n" +
		"t=0 0\r\n" +
		"m=video 9 UDP/TLS/RTP/SAVP 96\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=mid:0\r\n"

	s, err := ParseSession(raw, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, "-", s.Name)
	require.Len(t, s.Media, 1)
	require.Equal(t, "0", s.Media[0].GetAttr("mid"))
}

func TestParseCandidateAndHostPriority(t *testing.T) {
	c, err := ParseCandidate("candidate:1 1 udp 2130706431 198.51.100.2 54321 typ host")
	require.NoError(t, err)
	require.Equal(t, "host", c.Type)
	require.Equal(t, "198.51.100.2", c.Address)
	require.Equal(t, 54321, c.Port)

	_, err = ParseCandidate("too short")
	require.Error(t, err)
}

func TestNewSessionIDAndCNAMEAreDistinctAndNonEmpty(t *testing.T) {
	a := NewSessionID()
	b := NewSessionID()
	require.NotEmpty(t, a)
	require.NotEqual(t, a, b)

	require.NotEqual(t, NewCNAME(), NewCNAME())
}

func TestH264FormatParametersRoundTrip(t *testing.T) {
	fmtp := H264FormatParameters{
		LevelAsymmetryAllowed: true,
		PacketizationMode:     1,
		ProfileLevelID:        0x42e01f,
		SpropParameterSets:    [][]byte{{1, 2, 3}, {4, 5}},
	}
	marshaled := fmtp.Marshal()

	var got H264FormatParameters
	require.NoError(t, got.Unmarshal(marshaled))
	require.Equal(t, fmtp, got)
}

func TestH264FormatParametersUnmarshalRejectsMalformed(t *testing.T) {
	var fmtp H264FormatParameters
	require.Error(t, fmtp.Unmarshal("no-equals-sign"))
}
