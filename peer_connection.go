// Package aloharx implements the peer connection (component C8): the
// signaling surface (CreateOffer/SetRemoteDescription/AddIceCandidate),
// the New->Connecting->Connected->{Disconnected<->Connected}->Failed|Closed
// state machine (section 4.14), and send_video (section 4.13), wiring
// together the ICE channel (C6), DTLS transport (C5), SRTP context (C4),
// and the multiplex demuxer (C7) over one bound UDP socket (C1).
package aloharx

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/lanikai/aloharx/internal/dtls"
	"github.com/lanikai/aloharx/internal/ice"
	"github.com/lanikai/aloharx/internal/logging"
	"github.com/lanikai/aloharx/internal/mux"
	"github.com/lanikai/aloharx/internal/rtp"
	"github.com/lanikai/aloharx/internal/sdp"
	"github.com/lanikai/aloharx/internal/srtp"
	"github.com/lanikai/aloharx/internal/udpio"
)

// State is the peer connection's observable lifecycle state (section 4.14).
type State int

const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SDPType distinguishes an offer from an answer for SetRemoteDescription.
type SDPType int

const (
	SDPOffer SDPType = iota
	SDPAnswer
)

const dtlsQueueDepth = 16

// PeerConnection is one WebRTC egress session: one UDP socket, one ICE
// channel, one DTLS transport, one SRTP context, one outbound video track.
type PeerConnection struct {
	log zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	pool  *udpio.Pool
	demux *mux.Demuxer
	ice   *ice.Agent

	cert *dtls.Certificate

	payloadType uint8
	ssrc        uint32
	cname       string

	hostCandidates []ice.Candidate

	mu                   sync.Mutex
	state                State
	closeOnce            sync.Once
	remoteDesc           sdp.Session
	haveRemoteOffer      bool
	controlling          bool
	dtlsRole             dtls.Role
	remoteFingerprintHex string
	srtpCtx              *srtp.Context
	track                *VideoTrack
	nominatedRemote      net.Addr
	closeReason          string
}

// NewPeerConnection binds a fresh UDP socket at listenAddr and wires the
// ICE/DTLS/SRTP/demux stack around it. ssrc/payloadType/cname identify the
// single outbound video track this connection will carry.
func NewPeerConnection(parent context.Context, listenAddr *net.UDPAddr, ssrc uint32, payloadType uint8, log zerolog.Logger) (*PeerConnection, error) {
	conn, err := net.ListenUDP("udp4", listenAddr)
	if err != nil {
		return nil, errors.Wrap(err, "aloharx: bind WebRTC socket")
	}

	cert, err := dtls.GenerateCertificate()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "aloharx: generate DTLS certificate")
	}

	ctx, cancel := context.WithCancel(parent)
	clog := logging.Component(log, "peer-connection")

	pc := &PeerConnection{
		log:         clog,
		ctx:         ctx,
		cancel:      cancel,
		cert:        cert,
		payloadType: payloadType,
		ssrc:        ssrc,
		cname:       sdp.NewCNAME(),
		state:       StateNew,
		track:       NewVideoTrack(ssrc, payloadType, 1500),
	}

	pc.demux = mux.NewDemuxer(dtlsQueueDepth, pc.handleSTUN, pc.handleRTP, clog)
	pc.pool = udpio.New(conn, pc.demux.Handle, clog)

	candidates, err := ice.GatherHostCandidates(conn.LocalAddr().(*net.UDPAddr).Port)
	if err != nil || len(candidates) == 0 {
		conn.Close()
		cancel()
		return nil, errors.Wrap(err, "aloharx: gather host candidates")
	}

	pc.ice = ice.NewAgent(pc.pool, candidates[0], ice.NewCredentials(), true, clog)
	pc.hostCandidates = candidates
	pc.ice.OnStateChange(pc.onICEStateChange)

	go pc.pool.Run(ctx)
	go pc.ice.Run(ctx)

	return pc, nil
}

func (pc *PeerConnection) setState(s State) {
	pc.mu.Lock()
	changed := pc.state != s
	pc.state = s
	pc.mu.Unlock()
	if changed {
		pc.log.Info().Str("state", s.String()).Msg("peer connection state changed")
	}
}

// State returns the peer connection's current observable state.
func (pc *PeerConnection) State() State {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.state
}

// CreateOffer renders the local SDP offer (section 6's emitted surface):
// sendonly video m-line, this connection's ICE credentials/fingerprint,
// default actpass role, and all gathered host candidates.
func (pc *PeerConnection) CreateOffer() string {
	creds := pc.ice.LocalCredentials()
	return sdp.BuildOffer(sdp.OfferParams{
		SessionID:         sdp.NewSessionID(),
		PayloadType:       int(pc.payloadType),
		ICEUfrag:          creds.Ufrag,
		ICEPwd:            creds.Password,
		Role:              sdp.RoleActPass,
		FingerprintSHA256: pc.cert.Fingerprint,
		SSRC:              pc.ssrc,
		CNAME:             pc.cname,
		Candidates:        toSDPCandidates(pc.hostCandidates),
		EndOfCandidates:   true,
	})
}

// toSDPCandidates renders gathered ICE host candidates into the SDP
// candidate-attribute shape BuildOffer emits.
func toSDPCandidates(cs []ice.Candidate) []sdp.Candidate {
	out := make([]sdp.Candidate, len(cs))
	for i, c := range cs {
		out[i] = sdp.Candidate{
			Foundation: c.Foundation,
			Component:  c.Component,
			Transport:  c.Protocol,
			Priority:   c.Priority,
			Address:    c.Address.String(),
			Port:       c.Port,
			Type:       c.Type,
		}
	}
	return out
}

// SetRemoteDescription parses a remote offer or answer, decides the ICE
// controlling role and DTLS client/server role per section 4.8's policy,
// pushes remote ICE credentials/candidates into the ICE channel, and (for
// an offer) returns this side's SDP answer.
func (pc *PeerConnection) SetRemoteDescription(sdpText string, typ SDPType) (answer string, err error) {
	pc.mu.Lock()
	if typ == SDPOffer && pc.haveRemoteOffer {
		pc.mu.Unlock()
		return "", codeErr(WrongSdpTypeOfferAfterOffer)
	}
	pc.mu.Unlock()

	remote, perr := sdp.ParseSession(sdpText, pc.log)
	if perr != nil {
		return "", errors.Wrap(perr, "aloharx: parse remote SDP")
	}
	if len(remote.Media) == 0 {
		return "", codeErr(NoRemoteMedia)
	}

	m := &remote.Media[0]
	if !hasH264(m) {
		return "", codeErr(NoMatchingMediaType)
	}

	fingerprintAttr := m.GetAttr("fingerprint")
	if fingerprintAttr == "" {
		fingerprintAttr = remote.GetAttr("fingerprint")
	}
	if fingerprintAttr == "" {
		return "", codeErr(DtlsFingerprintMissing)
	}
	remoteFingerprint, ok := sdp.ParseFingerprint(fingerprintAttr)
	if !ok {
		return "", codeErr(DtlsFingerprintDigestNotSupported)
	}

	remoteUfrag := m.GetAttr("ice-ufrag")
	remotePwd := m.GetAttr("ice-pwd")
	if remoteUfrag == "" {
		remoteUfrag = remote.GetAttr("ice-ufrag")
	}
	if remotePwd == "" {
		remotePwd = remote.GetAttr("ice-pwd")
	}

	remoteRole := m.SetupRole()
	if remote.HasAttr("ice-lite") {
		pc.log.Debug().Msg("remote peer advertises ice-lite")
	}

	pc.mu.Lock()
	pc.remoteDesc = remote
	pc.haveRemoteOffer = typ == SDPOffer
	pc.remoteFingerprintHex = remoteFingerprint

	// This module always offers first, so it is always the ICE controlling
	// agent, whether the remote is ice-lite or a regular full-ICE answerer.
	pc.controlling = true

	switch {
	case typ == SDPAnswer:
		if remoteRole == sdp.RoleActive {
			pc.dtlsRole = dtls.RoleServer
		} else {
			pc.dtlsRole = dtls.RoleClient
		}
	default:
		pc.dtlsRole = dtls.RoleClient
	}
	pc.mu.Unlock()

	pc.ice.SetRemoteCredentials(ice.Credentials{Ufrag: remoteUfrag, Password: remotePwd})
	for _, c := range m.Candidates() {
		pc.ice.AddRemoteCandidate(ice.Candidate{
			Foundation: c.Foundation,
			Component:  c.Component,
			Protocol:   c.Transport,
			Priority:   c.Priority,
			Address:    net.ParseIP(c.Address),
			Port:       c.Port,
			Type:       c.Type,
		})
	}

	pc.setState(StateConnecting)

	if typ == SDPOffer {
		return pc.createAnswer(m), nil
	}
	return "", nil
}

// createAnswer builds this side's SDP answer to an offer whose video m-line
// is remoteMedia. The payload type and codec are fixed by this connection's
// own track rather than negotiated against remoteMedia's rtpmap list, since
// hasH264 has already confirmed the remote offer is compatible.
func (pc *PeerConnection) createAnswer(remoteMedia *sdp.Media) string {
	creds := pc.ice.LocalCredentials()
	return sdp.BuildOffer(sdp.OfferParams{
		SessionID:         sdp.NewSessionID(),
		PayloadType:       int(pc.payloadType),
		ICEUfrag:          creds.Ufrag,
		ICEPwd:            creds.Password,
		Role:              sdp.RoleActive,
		FingerprintSHA256: pc.cert.Fingerprint,
		SSRC:              pc.ssrc,
		CNAME:             pc.cname,
		Candidates:        toSDPCandidates(pc.hostCandidates),
		EndOfCandidates:   true,
	})
}

func hasH264(m *sdp.Media) bool {
	for _, a := range m.Attributes {
		if a.Key == "rtpmap" && len(a.Value) > 0 && containsH264(a.Value) {
			return true
		}
	}
	return false
}

func containsH264(rtpmap string) bool {
	const want = "H264/90000"
	for i := 0; i+len(want) <= len(rtpmap); i++ {
		if rtpmap[i:i+len(want)] == want {
			return true
		}
	}
	return false
}

// AddIceCandidate adds a single trickled remote candidate; an empty string
// denotes end-of-candidates and is accepted as a no-op.
func (pc *PeerConnection) AddIceCandidate(candidate string) error {
	if candidate == "" {
		return nil
	}
	c, err := sdp.ParseCandidate(candidate)
	if err != nil {
		return errors.Wrap(err, "aloharx: parse ICE candidate")
	}
	pc.ice.AddRemoteCandidate(ice.Candidate{
		Foundation: c.Foundation,
		Component:  c.Component,
		Protocol:   c.Transport,
		Priority:   c.Priority,
		Address:    net.ParseIP(c.Address),
		Port:       c.Port,
		Type:       c.Type,
	})
	return nil
}

// onICEStateChange drives the DTLS handshake on first connection and maps
// subsequent ICE events onto the table in section 4.14.
func (pc *PeerConnection) onICEStateChange(s ice.State) {
	pc.mu.Lock()
	prevState := pc.state
	remote := pc.ice.NominatedRemote()
	pc.nominatedRemote = remote
	pc.mu.Unlock()

	switch s {
	case ice.StateConnected:
		if prevState == StateConnecting || prevState == StateNew {
			go pc.runDTLSHandshake()
		} else {
			pc.setState(StateConnected)
		}
	case ice.StateDisconnected:
		if prevState == StateConnected {
			pc.setState(StateDisconnected)
		}
	case ice.StateFailed:
		pc.setState(StateFailed)
	}
}

func (pc *PeerConnection) runDTLSHandshake() {
	pc.mu.Lock()
	remote := pc.nominatedRemote
	role := pc.dtlsRole
	wantFingerprint := pc.remoteFingerprintHex
	pc.mu.Unlock()

	if remote == nil {
		pc.closeLocked("ice_nominated_without_remote_address")
		return
	}

	transport := dtls.NewTransport(role, pc.cert, pc.pool, remote, pc.demux.DTLSQueue(), pc.log)
	hctx, cancel := context.WithTimeout(pc.ctx, 20*time.Second)
	defer cancel()

	km, err := transport.Handshake(hctx, wantFingerprint)
	if err != nil {
		pc.log.Warn().Err(err).Msg("DTLS handshake failed")
		pc.closeLocked("dtls_handshake_failed:" + err.Error())
		return
	}

	clientKey, serverKey := km.ClientKey, km.ServerKey
	clientSalt, serverSalt := km.ClientSalt, km.ServerSalt

	var writeKey, writeSalt, readKey, readSalt []byte
	if role == dtls.RoleClient {
		writeKey, writeSalt = clientKey, clientSalt
		readKey, readSalt = serverKey, serverSalt
	} else {
		writeKey, writeSalt = serverKey, serverSalt
		readKey, readSalt = clientKey, clientSalt
	}
	// readKey/readSalt would key a receive-side SRTP context; this track is
	// sendonly and never decodes inbound SRTP, so they go unused.
	_ = readKey
	_ = readSalt

	ctx, err := srtp.CreateContext(writeKey, writeSalt)
	if err != nil {
		pc.log.Warn().Err(err).Msg("failed to install SRTP context")
		pc.closeLocked("srtp_context_failed")
		return
	}

	pc.mu.Lock()
	pc.srtpCtx = ctx
	pc.track.Status = StatusSendOnly
	pc.mu.Unlock()

	pc.setState(StateConnected)
}

// handleSTUN forwards inbound STUN datagrams to the ICE agent.
func (pc *PeerConnection) handleSTUN(ctx context.Context, from net.Addr, buf []byte) {
	pc.ice.HandleSTUN(ctx, from, buf)
}

// handleRTP handles inbound SRTP/SRTCP on the WebRTC socket. This module's
// video path is sendonly, so inbound RTCP (receiver reports, etc.) is
// logged and dropped rather than decoded -- there is no local decoder.
func (pc *PeerConnection) handleRTP(ctx context.Context, from net.Addr, class mux.Class, buf []byte) {
	pc.log.Debug().Str("class", class.String()).Int("len", len(buf)).Msg("dropping inbound RTP/RTCP on sendonly track")
}

// Close tears the connection down: cancels ICE/DTLS, stops the socket
// receive loop, marks the track inactive, and moves to Closed. Idempotent.
func (pc *PeerConnection) Close(reason string) {
	pc.closeLocked(reason)
}

func (pc *PeerConnection) closeLocked(reason string) {
	pc.closeOnce.Do(func() {
		pc.mu.Lock()
		pc.closeReason = reason
		if pc.track != nil {
			pc.track.Status = StatusInactive
		}
		pc.mu.Unlock()

		pc.cancel()
		pc.demux.Close()
		pc.pool.Close()
		pc.setState(StateClosed)
		pc.log.Info().Str("reason", reason).Msg("peer connection closed")
	})
}

// CloseReason returns the reason passed to Close, or "" if still open.
func (pc *PeerConnection) CloseReason() string {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.closeReason
}
