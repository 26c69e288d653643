package srtp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func rtcpFixture(t *testing.T, ssrc uint32) []byte {
	t.Helper()
	buf := make([]byte, 8+16)
	buf[0] = 0x80
	buf[1] = 200 // sender report
	buf[4] = byte(ssrc >> 24)
	buf[5] = byte(ssrc >> 16)
	buf[6] = byte(ssrc >> 8)
	buf[7] = byte(ssrc)
	return buf
}

func TestRTCPProtectUnprotectRoundTrip(t *testing.T) {
	key, salt := testMasterMaterial(t)
	ctx, err := CreateContext(key, salt)
	require.NoError(t, err)

	plain := rtcpFixture(t, 555)
	protected, err := ctx.ProtectRTCP(plain, 555)
	require.NoError(t, err)

	out, err := ctx.UnprotectRTCP(protected)
	require.NoError(t, err)
	require.Equal(t, plain, out)
}

func TestRTCPReplayRejected(t *testing.T) {
	key, salt := testMasterMaterial(t)
	ctx, err := CreateContext(key, salt)
	require.NoError(t, err)

	plain := rtcpFixture(t, 1)
	protected, err := ctx.ProtectRTCP(plain, 1)
	require.NoError(t, err)

	_, err = ctx.UnprotectRTCP(protected)
	require.NoError(t, err)

	_, err = ctx.UnprotectRTCP(protected)
	require.ErrorIs(t, err, ErrReplay)
}

func TestStatsTrackFailuresAndReplays(t *testing.T) {
	key, salt := testMasterMaterial(t)
	ctx, err := CreateContext(key, salt)
	require.NoError(t, err)

	plain := rtcpFixture(t, 2)
	protected, err := ctx.ProtectRTCP(plain, 2)
	require.NoError(t, err)

	_, err = ctx.UnprotectRTCP(protected)
	require.NoError(t, err)
	_, err = ctx.UnprotectRTCP(protected)
	require.ErrorIs(t, err, ErrReplay)

	tampered := append([]byte(nil), protected...)
	tampered[len(tampered)-1] ^= 0xff
	_, err = ctx.UnprotectRTCP(tampered)
	require.ErrorIs(t, err, ErrAuthFailed)

	stats := ctx.Stats()
	require.Equal(t, uint64(1), stats.Replays)
	require.Equal(t, uint64(1), stats.AuthFailures)
	require.GreaterOrEqual(t, stats.PacketsProtected, uint64(2))
}
