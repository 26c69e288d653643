package aloharx

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/lanikai/aloharx/internal/rtp"
)

// TrackStatus mirrors the SDP media direction attributes this module's
// single video m-line may carry.
type TrackStatus int

const (
	StatusInactive TrackStatus = iota
	StatusSendOnly
	StatusSendRecv
)

// VideoTrack is the single outbound video stream a peer connection sends
// (spec's "Replace inheritance of media-stream types... single concrete
// video-stream holding a tag for media kind" design note): one SSRC, one
// payload type, a monotonic sequence-number source, and the pooled send
// buffer send_video borrows from.
type VideoTrack struct {
	SSRC        uint32
	PayloadType uint8
	Status      TrackStatus

	seq     uint32 // next sequence number, CAS-incremented
	buffers *rtp.BufferPool
}

// srtpMaxPrefixLength reserves room for the auth tag (and any MKI) libsrtp
// implementations may append after the payload, per spec section 4.13 --
// this Go SRTP context grows its own output slice via append rather than
// writing in place, but the pooled send buffer still reserves the same
// margin the spec names, so a future in-place cipher swap stays in budget.
const srtpMaxPrefixLength = 148

const maxSeqNumRetries = 10

// ErrConcurrencyExceeded is raised by getNextSeqNum when maxSeqNumRetries
// compare-and-swap attempts all lose the race.
var ErrConcurrencyExceeded = errors.New("aloharx: sequence number allocation exceeded retry budget")

// NewVideoTrack creates a sendonly H.264 track with a send buffer pool
// sized for one packet plus the SRTP auth-tag margin.
func NewVideoTrack(ssrc uint32, payloadType uint8, maxPacketSize int) *VideoTrack {
	return &VideoTrack{
		SSRC:        ssrc,
		PayloadType: payloadType,
		Status:      StatusSendOnly,
		buffers:     rtp.NewBufferPool(maxPacketSize + srtpMaxPrefixLength),
	}
}

// getNextSeqNum returns the next 16-bit sequence number via a wrap-safe
// CAS increment, per spec section 4.13 step 3.
func (t *VideoTrack) getNextSeqNum() (uint16, error) {
	for i := 0; i < maxSeqNumRetries; i++ {
		old := atomic.LoadUint32(&t.seq)
		next := (old + 1) & 0xffff
		if atomic.CompareAndSwapUint32(&t.seq, old, next) {
			return uint16(next), nil
		}
	}
	return 0, ErrConcurrencyExceeded
}

// canSend reports spec section 4.13's guard: not closed, a local track is
// present, its status permits sending, and the DTLS/SRTP transport is
// installed.
func (pc *PeerConnection) canSend() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.state != StateClosed &&
		pc.track != nil &&
		(pc.track.Status == StatusSendOnly || pc.track.Status == StatusSendRecv) &&
		pc.srtpCtx != nil
}

// SendVideo implements send_video (spec section 4.13). inbound is an RTP
// packet already parsed off the separate RTP-source socket (C2); this
// reframes it onto the local track's SSRC/sequence-number identity and
// ships the SRTP-protected result to the nominated remote endpoint. The
// caller retains ownership of inbound and must release it itself.
func (pc *PeerConnection) SendVideo(inbound *rtp.Packet, log zerolog.Logger) {
	if !pc.canSend() {
		log.Debug().Msg("dropping video packet: peer connection cannot send")
		return
	}

	pc.mu.Lock()
	track := pc.track
	ctx := pc.srtpCtx
	remote := pc.nominatedRemote
	pc.mu.Unlock()

	if remote == nil {
		log.Debug().Msg("dropping video packet: no nominated remote endpoint yet")
		return
	}

	wire, err := inbound.Buffer()
	if err != nil {
		log.Warn().Err(err).Msg("dropping video packet: inbound buffer unavailable")
		return
	}

	buf := track.buffers.Get()
	n := copy(buf, wire)
	if n < len(wire) {
		track.buffers.Put(buf)
		log.Warn().Msg("dropping video packet: send buffer too small for reframe")
		return
	}

	seq, err := track.getNextSeqNum()
	if err != nil {
		track.buffers.Put(buf)
		log.Warn().Err(err).Msg("dropping video packet: sequence number allocation exhausted")
		return
	}

	pkt := rtp.NewPacket()
	if err := pkt.ApplyBuffer(track.buffers, buf[:n]); err != nil {
		track.buffers.Put(buf)
		log.Warn().Err(err).Msg("dropping video packet: re-parse after copy failed")
		return
	}
	defer pkt.ReleaseBuffer()

	pkt.SetSSRC(track.SSRC)
	pkt.SetSequenceNumber(seq)
	pkt.SetPayloadType(track.PayloadType)
	if err := pkt.ApplyHeaderChanges(); err != nil {
		log.Warn().Err(err).Msg("dropping video packet: header commit failed")
		return
	}

	reframed, err := pkt.Buffer()
	if err != nil {
		log.Warn().Err(err).Msg("dropping video packet: buffer unavailable")
		return
	}
	hdr, err := pkt.Header()
	if err != nil {
		log.Warn().Err(err).Msg("dropping video packet: header unavailable")
		return
	}

	protected, err := ctx.ForSSRC(track.SSRC).ProtectRTP(reframed, hdr.HeaderLength(), track.SSRC, seq)
	if err != nil {
		log.Warn().Err(err).Msg("dropping video packet: SRTP protect failed")
		return
	}

	if _, err := pc.pool.Send(remote, protected); err != nil {
		log.Debug().Err(err).Msg("failed to send protected video packet")
	}
}
