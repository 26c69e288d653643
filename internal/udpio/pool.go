// Package udpio owns a single bound UDP socket and its receive loop
// (component C1): buffers are borrowed from a pool, handed to one registered
// handler per datagram, and returned once the handler completes. A send
// primitive shares the same socket for outbound traffic.
package udpio

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"

	"github.com/lanikai/aloharx/internal/logging"
	"github.com/lanikai/aloharx/internal/rtp"
)

// maxUDPSize is MAX_UDP_SIZE (1500) plus slack for IP/UDP overhead that some
// kernels report as part of the datagram length.
const maxUDPSize = 1500 + 20

// pollInterval bounds how long a single ReadFrom blocks before re-checking
// for cancellation, since net.PacketConn reads don't observe context.Context.
const pollInterval = 500 * time.Millisecond

// Handler processes one received datagram. It must run to completion
// (returning ownership of buf) before the pool's loop issues its next
// receive -- the loop is intentionally serialized per socket.
type Handler func(ctx context.Context, from net.Addr, buf []byte)

// Pool owns one UDP socket's receive loop plus a pool of receive buffers.
type Pool struct {
	conn    *net.UDPConn
	bufPool *rtp.BufferPool
	handler Handler
	log     zerolog.Logger

	cancel   context.CancelFunc
	loopDone chan struct{}

	mu  sync.Mutex
	err error
}

// New wraps an already-bound UDP socket. handler is invoked once per
// received datagram from the loop started by Run.
func New(conn *net.UDPConn, handler Handler, log zerolog.Logger) *Pool {
	applySocketOptions(conn)
	return &Pool{
		conn:     conn,
		bufPool:  rtp.NewBufferPool(maxUDPSize),
		handler:  handler,
		log:      logging.Component(log, "udpio"),
		loopDone: make(chan struct{}),
	}
}

// LocalAddr returns the bound local address of the underlying socket.
func (p *Pool) LocalAddr() net.Addr {
	return p.conn.LocalAddr()
}

// Run starts the receive loop in the current goroutine and blocks until ctx
// is cancelled or a socket error terminates the loop. Callers typically
// invoke this via `go pool.Run(ctx)`.
func (p *Pool) Run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()
	defer close(p.loopDone)

	pc := ipv4.NewPacketConn(p.conn)
	_ = pc.SetTOS(0) // best-effort; not all platforms support per-socket TOS

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		buf := p.bufPool.Get()

		_ = p.conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, addr, err := p.conn.ReadFrom(buf)
		if err != nil {
			p.bufPool.Put(buf)
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			p.setErr(err)
			p.log.Error().Err(err).Msg("udp receive failed, stopping loop")
			return
		}

		p.handler(ctx, addr, buf[:n])
		p.bufPool.Put(buf)
	}
}

// Send performs a single sendto to the given endpoint.
func (p *Pool) Send(to net.Addr, b []byte) (int, error) {
	return p.conn.WriteTo(b, to)
}

// StopAsync cancels the receive loop and returns a channel that is closed
// once the loop has fully terminated, so callers can await shutdown without
// blocking the call to StopAsync itself. Safe to call before Run's internal
// cancel func has been assigned only if Run has already been started.
func (p *Pool) StopAsync() <-chan struct{} {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return p.loopDone
}

// Err returns the socket error that terminated the loop, if any.
func (p *Pool) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Pool) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Close releases the underlying socket. Run's loop will observe the
// resulting error and exit if still running.
func (p *Pool) Close() error {
	return p.conn.Close()
}
