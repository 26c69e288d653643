package stun

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBindingRequestRoundTrip(t *testing.T) {
	req := NewBindingRequest("frag:ufrag", "pwd", 12345, true, true, 0xabc)
	parsed, err := Parse(req.Bytes())
	require.NoError(t, err)
	require.NotNil(t, parsed)
	require.Equal(t, ClassRequest, parsed.Class)
	require.Equal(t, uint16(BindingMethod), parsed.Method)
	require.Equal(t, uint32(12345), parsed.Priority())
	require.True(t, parsed.HasUseCandidate())

	tb, ok := parsed.IceControlling()
	require.True(t, ok)
	require.Equal(t, uint64(0xabc), tb)

	require.True(t, parsed.VerifyMessageIntegrity("pwd"))
	require.False(t, parsed.VerifyMessageIntegrity("wrong"))
}

func TestBindingSuccessResponseCarriesMappedAddress(t *testing.T) {
	req := NewBindingRequest("", "pwd", 1, false, false, 1)
	resp := NewBindingSuccessResponse(req.TransactionID, &net.UDPAddr{IP: net.IPv4(203, 0, 113, 5), Port: 54321}, "pwd")

	parsed, err := Parse(resp.Bytes())
	require.NoError(t, err)
	require.Equal(t, ClassSuccessResponse, parsed.Class)
	require.Equal(t, req.TransactionID, parsed.TransactionID)

	addr := parsed.MappedAddress()
	require.NotNil(t, addr)
	require.True(t, addr.IP.To4().Equal(net.IPv4(203, 0, 113, 5).To4()))
	require.Equal(t, 54321, addr.Port)
}

func TestParseRejectsNonSTUNData(t *testing.T) {
	m, err := Parse([]byte{0xff, 0xff, 0, 0})
	require.NoError(t, err)
	require.Nil(t, m)
}
