package dtls

import (
	"context"
	"encoding/hex"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/aloharx/internal/mux"
	"github.com/lanikai/aloharx/internal/udpio"
)

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func newSide(t *testing.T, demux *mux.Demuxer) (*udpio.Pool, func()) {
	t.Helper()
	conn := listenLoopback(t)
	pool := udpio.New(conn, demux.Handle, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go pool.Run(ctx)
	return pool, cancel
}

func TestHandshakeClientServerDeriveMatchingKeyingMaterial(t *testing.T) {
	clientCert, err := GenerateCertificate()
	require.NoError(t, err)
	serverCert, err := GenerateCertificate()
	require.NoError(t, err)

	clientDemux := mux.NewDemuxer(8, nil, nil, zerolog.Nop())
	serverDemux := mux.NewDemuxer(8, nil, nil, zerolog.Nop())

	clientPool, stopClient := newSide(t, clientDemux)
	defer stopClient()
	serverPool, stopServer := newSide(t, serverDemux)
	defer stopServer()

	clientTransport := NewTransport(RoleClient, clientCert, clientPool, serverPool.LocalAddr(), clientDemux.DTLSQueue(), zerolog.Nop())
	serverTransport := NewTransport(RoleServer, serverCert, serverPool, clientPool.LocalAddr(), serverDemux.DTLSQueue(), zerolog.Nop())

	serverFingerprint := hex.EncodeToString(serverCert.Fingerprint[:])

	type result struct {
		km  KeyingMaterial
		err error
	}
	clientDone := make(chan result, 1)
	serverDone := make(chan result, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		km, err := clientTransport.Handshake(ctx, serverFingerprint)
		clientDone <- result{km, err}
	}()
	go func() {
		km, err := serverTransport.Handshake(ctx, "")
		serverDone <- result{km, err}
	}()

	var clientResult, serverResult result
	select {
	case clientResult = <-clientDone:
	case <-time.After(5 * time.Second):
		t.Fatal("client handshake did not complete")
	}
	select {
	case serverResult = <-serverDone:
	case <-time.After(5 * time.Second):
		t.Fatal("server handshake did not complete")
	}

	require.NoError(t, clientResult.err)
	require.NoError(t, serverResult.err)
	require.Equal(t, clientResult.km, serverResult.km)
	require.NotEmpty(t, clientResult.km.ClientKey)
	require.Len(t, clientResult.km.ClientKey, 16)
	require.Len(t, clientResult.km.ClientSalt, 14)
}

func TestCheckFingerprintRejectsMismatch(t *testing.T) {
	cert, err := GenerateCertificate()
	require.NoError(t, err)

	err = checkFingerprint(cert.DER, "00:11:22:33")
	require.ErrorIs(t, err, ErrFingerprintMismatch)

	err = checkFingerprint(cert.DER, "")
	require.ErrorIs(t, err, ErrFingerprintMissing)

	good := hex.EncodeToString(cert.Fingerprint[:])
	require.NoError(t, checkFingerprint(cert.DER, good))
}

func TestPRF12MatchesKnownLengthAndDeterminism(t *testing.T) {
	secret := []byte("secret")
	seed := []byte("seed")
	a := prf12(secret, []byte("label"), seed, 32)
	b := prf12(secret, []byte("label"), seed, 32)
	require.Equal(t, a, b)
	require.Len(t, a, 32)
}
