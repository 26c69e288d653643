package rtp

import "sync"

// PacketPool amortizes *Packet struct allocation across the receive/send
// hot path. The underlying wire buffers are pooled separately (BufferPool);
// this pool only reuses the Go struct that wraps them.
type PacketPool struct {
	pool sync.Pool
}

// NewPacketPool creates an empty packet pool.
func NewPacketPool() *PacketPool {
	pp := &PacketPool{}
	pp.pool.New = func() interface{} {
		return NewPacket()
	}
	return pp
}

// Get borrows a *Packet with no buffer applied.
func (pp *PacketPool) Get() *Packet {
	return pp.pool.Get().(*Packet)
}

// Put returns a packet to the pool. The caller must have already released
// any applied buffer.
func (pp *PacketPool) Put(p *Packet) {
	p.ReleaseBuffer()
	pp.pool.Put(p)
}
