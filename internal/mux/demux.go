package mux

import (
	"context"
	"net"

	"github.com/rs/zerolog"

	"github.com/lanikai/aloharx/internal/logging"
)

// RTPHandler processes a classified RTP or RTCP datagram.
type RTPHandler func(ctx context.Context, from net.Addr, class Class, buf []byte)

// STUNHandler processes a classified STUN datagram.
type STUNHandler func(ctx context.Context, from net.Addr, buf []byte)

// Demuxer wires udpio's per-datagram Handler to the three downstream
// consumers of the single shared socket: STUN (handled synchronously),
// DTLS (queued for C5's blocking receive), and RTP/RTCP (handled
// synchronously by the SRTP engine).
type Demuxer struct {
	log zerolog.Logger

	dtls *Queue
	stun STUNHandler
	rtp  RTPHandler
}

// NewDemuxer creates a demultiplexer. dtlsQueueDepth bounds the inbound DTLS
// datagram queue popped by the DTLS transport (C5).
func NewDemuxer(dtlsQueueDepth int, stun STUNHandler, rtp RTPHandler, log zerolog.Logger) *Demuxer {
	return &Demuxer{
		log:  logging.Component(log, "mux"),
		dtls: NewQueue(dtlsQueueDepth),
		stun: stun,
		rtp:  rtp,
	}
}

// DTLSQueue returns the bounded queue that C5's receive(buf, timeout) pops.
func (d *Demuxer) DTLSQueue() *Queue {
	return d.dtls
}

// Handle implements udpio.Handler: classify buf and route it.
func (d *Demuxer) Handle(ctx context.Context, from net.Addr, buf []byte) {
	switch Classify(buf) {
	case ClassSTUN:
		if d.stun != nil {
			d.stun(ctx, from, buf)
		}
	case ClassDTLS:
		cp := make([]byte, len(buf))
		copy(cp, buf)
		d.dtls.Push(cp)
	case ClassRTP:
		if d.rtp != nil {
			d.rtp(ctx, from, ClassRTP, buf)
		}
	case ClassRTCP:
		if d.rtp != nil {
			d.rtp(ctx, from, ClassRTCP, buf)
		}
	default:
		d.log.Debug().Int("len", len(buf)).Msg("dropping unclassifiable datagram")
	}
}

// Close releases the DTLS queue, waking any blocked Pop.
func (d *Demuxer) Close() {
	d.dtls.Close()
}
