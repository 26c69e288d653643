// Package rtp implements the RFC 3550 RTP packet model (component C2):
// parsing and re-emitting the 12-byte fixed header plus optional CSRC list
// and extension, with pooled buffers and explicit-commit mutation so a
// pooled buffer is safe to share read-only mid-mutation.
package rtp

import (
	"encoding/binary"
	"sync"
)

const (
	version = 2

	fixedHeaderSize = 12
	csrcIdentSize   = 4

	// maxCSRC is the largest CSRC count representable in the 4-bit field.
	maxCSRC = 15
)

// BufferPool is a pool of fixed-size byte buffers shared between the UDP I/O
// pool (C1) and RTP packets (C2): buffers are borrowed for exactly one
// receive or one send, then returned.
type BufferPool struct {
	pool sync.Pool
	size int
}

// NewBufferPool creates a pool that hands out buffers of exactly bufSize
// bytes (len == cap == bufSize).
func NewBufferPool(bufSize int) *BufferPool {
	bp := &BufferPool{size: bufSize}
	bp.pool.New = func() interface{} {
		return make([]byte, bufSize)
	}
	return bp
}

// Get borrows a buffer of BufferSize() bytes.
func (p *BufferPool) Get() []byte {
	return p.pool.Get().([]byte)
}

// Put returns a buffer to the pool. Buffers of the wrong size are dropped
// rather than pooled, since a future Get must hand out BufferSize() bytes.
func (p *BufferPool) Put(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	p.pool.Put(buf[:p.size])
}

// BufferSize returns the fixed size of buffers this pool hands out.
func (p *BufferPool) BufferSize() int {
	return p.size
}

// Header holds the parsed fields of an RTP header.
type Header struct {
	Version        uint8
	Padding        bool
	Extension      bool
	Marker         bool
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	CSRC           []uint32

	ExtensionProfile uint16
	ExtensionPayload []byte

	// PaddingCount is the number of padding bytes trimmed from the payload.
	// Only trusted when PaddingCount < declared payload size (see parse).
	PaddingCount int
}

// HeaderLength returns 12 + 4*len(CSRC) + (ext ? 4+4*extLen : 0), the
// invariant declared header length.
func (h *Header) HeaderLength() int {
	n := fixedHeaderSize + csrcIdentSize*len(h.CSRC)
	if h.Extension {
		n += 4 + len(h.ExtensionPayload)
	}
	return n
}

// pendingHeader buffers setter calls until ApplyHeaderChanges commits them.
type pendingHeader struct {
	marker         bool
	payloadType    uint8
	sequenceNumber uint16
	timestamp      uint32
	ssrc           uint32
	dirty          bool
}

// Packet is a pooled, single-owner wrapper around one RTP datagram. Its
// lifetime is one send or one receive: ApplyBuffer begins exclusive
// ownership of buf, ReleaseBuffer ends it and returns the buffer to pool.
// Accessing Header()/Payload() outside that interval returns ErrNotReady.
type Packet struct {
	pool  *BufferPool
	buf   []byte
	ready bool

	header  Header
	payload []byte

	pending pendingHeader
}

// NewPacket returns an unattached packet. Use with a sync.Pool of *Packet to
// amortize the struct allocation across receives/sends; pair each ApplyBuffer
// with a ReleaseBuffer on every exit path.
func NewPacket() *Packet {
	return &Packet{}
}

// ApplyBuffer takes exclusive ownership of buf (borrowed from pool, which may
// be nil if the caller manages buffer lifetime itself) and parses the RTP
// header from it. On parse failure, ownership is NOT taken: the caller must
// release buf itself.
func (p *Packet) ApplyBuffer(pool *BufferPool, buf []byte) error {
	h, payload, err := Parse(buf)
	if err != nil {
		return err
	}
	p.pool = pool
	p.buf = buf
	p.header = h
	p.payload = payload
	p.pending = pendingHeader{
		marker:         h.Marker,
		payloadType:    h.PayloadType,
		sequenceNumber: h.SequenceNumber,
		timestamp:      h.Timestamp,
		ssrc:           h.SSRC,
	}
	p.ready = true
	return nil
}

// ReleaseBuffer ends exclusive ownership, returning the buffer to its pool
// (if any). Safe to call multiple times; the second call is a no-op.
func (p *Packet) ReleaseBuffer() {
	if !p.ready {
		return
	}
	if p.pool != nil {
		p.pool.Put(p.buf)
	}
	p.buf = nil
	p.payload = nil
	p.ready = false
}

// Buffer returns the raw wire buffer (header + payload + trailing padding),
// for components (e.g. SRTP) that need to operate on the whole datagram.
func (p *Packet) Buffer() ([]byte, error) {
	if !p.ready {
		return nil, ErrNotReady
	}
	return p.buf, nil
}

// Header returns a copy of the parsed header fields.
func (p *Packet) Header() (Header, error) {
	if !p.ready {
		return Header{}, ErrNotReady
	}
	return p.header, nil
}

// Payload returns the packet's payload slice (aliases the underlying
// buffer; copy it before ReleaseBuffer if it must outlive this packet).
func (p *Packet) Payload() ([]byte, error) {
	if !p.ready {
		return nil, ErrNotReady
	}
	return p.payload, nil
}

// --- Mutable setters. Buffered until ApplyHeaderChanges commits them. ---

func (p *Packet) SetMarker(m bool) {
	p.pending.marker = m
	p.pending.dirty = true
}

func (p *Packet) SetPayloadType(pt uint8) {
	p.pending.payloadType = pt & 0x7f
	p.pending.dirty = true
}

func (p *Packet) SetSequenceNumber(seq uint16) {
	p.pending.sequenceNumber = seq
	p.pending.dirty = true
}

func (p *Packet) SetTimestamp(ts uint32) {
	p.pending.timestamp = ts
	p.pending.dirty = true
}

func (p *Packet) SetSSRC(ssrc uint32) {
	p.pending.ssrc = ssrc
	p.pending.dirty = true
}

// ApplyHeaderChanges commits any pending setter calls into the wire buffer
// and into the parsed Header, making them visible to Header()/Buffer(). A
// no-op if no setters were called since the last commit.
func (p *Packet) ApplyHeaderChanges() error {
	if !p.ready {
		return ErrNotReady
	}
	if !p.pending.dirty {
		return nil
	}

	p.header.Marker = p.pending.marker
	p.header.PayloadType = p.pending.payloadType
	p.header.SequenceNumber = p.pending.sequenceNumber
	p.header.Timestamp = p.pending.timestamp
	p.header.SSRC = p.pending.ssrc

	b := p.buf
	b[1] = p.header.PayloadType & 0x7f
	if p.header.Marker {
		b[1] |= 0x80
	}
	binary.BigEndian.PutUint16(b[2:4], p.header.SequenceNumber)
	binary.BigEndian.PutUint32(b[4:8], p.header.Timestamp)
	binary.BigEndian.PutUint32(b[8:12], p.header.SSRC)

	p.pending.dirty = false
	return nil
}

// WriteTo serializes the header (with any committed changes) and payload
// into a caller-provided span of size >= HeaderLength()+len(payload).
func (p *Packet) WriteTo(span []byte) (int, error) {
	if !p.ready {
		return 0, ErrNotReady
	}
	n := writeHeader(span, &p.header)
	if n < 0 {
		return 0, ErrShortHeader
	}
	copy(span[n:], p.payload)
	return n + len(p.payload), nil
}

// Parse parses an RTP packet from buf per RFC 3550 §5.1, returning the
// header and the payload slice (trimmed of any padding). Padding is trusted
// only when paddingCount < payload size, per the protocol-attack guard in
// spec §4.2.
func Parse(buf []byte) (Header, []byte, error) {
	var h Header

	if len(buf) < fixedHeaderSize {
		return h, nil, ErrShortHeader
	}

	h.Version = buf[0] >> 6
	padFlag := buf[0]&0x20 != 0
	h.Extension = buf[0]&0x10 != 0
	csrcCount := int(buf[0] & 0x0f)

	h.Marker = buf[1]&0x80 != 0
	h.PayloadType = buf[1] & 0x7f

	h.SequenceNumber = binary.BigEndian.Uint16(buf[2:4])
	h.Timestamp = binary.BigEndian.Uint32(buf[4:8])
	h.SSRC = binary.BigEndian.Uint32(buf[8:12])

	offset := fixedHeaderSize
	if len(buf) < offset+csrcIdentSize*csrcCount {
		return h, nil, ErrShortHeader
	}
	if csrcCount > 0 {
		h.CSRC = make([]uint32, csrcCount)
		for i := 0; i < csrcCount; i++ {
			h.CSRC[i] = binary.BigEndian.Uint32(buf[offset:])
			offset += csrcIdentSize
		}
	}

	if h.Extension {
		if len(buf) < offset+4 {
			return h, nil, ErrShortHeader
		}
		h.ExtensionProfile = binary.BigEndian.Uint16(buf[offset:])
		extLen := int(binary.BigEndian.Uint16(buf[offset+2:]))
		offset += 4
		end := offset + 4*extLen
		if len(buf) < end {
			return h, nil, ErrShortHeader
		}
		h.ExtensionPayload = buf[offset:end]
		offset = end
	}

	payload := buf[offset:]

	if padFlag && len(payload) > 0 {
		padCount := int(payload[len(payload)-1])
		if padCount > 0 && padCount < len(payload) {
			h.Padding = true
			h.PaddingCount = padCount
			payload = payload[:len(payload)-padCount]
		}
		// Otherwise treat as having no padding (protocol-attack guard).
	}

	return h, payload, nil
}

// writeHeader serializes h into span, returning the number of header bytes
// written, or -1 if span is too small.
func writeHeader(span []byte, h *Header) int {
	n := h.HeaderLength()
	if len(span) < n {
		return -1
	}

	span[0] = version << 6
	if h.Padding {
		span[0] |= 0x20
	}
	if h.Extension {
		span[0] |= 0x10
	}
	span[0] |= byte(len(h.CSRC)) & 0x0f

	span[1] = h.PayloadType & 0x7f
	if h.Marker {
		span[1] |= 0x80
	}

	binary.BigEndian.PutUint16(span[2:4], h.SequenceNumber)
	binary.BigEndian.PutUint32(span[4:8], h.Timestamp)
	binary.BigEndian.PutUint32(span[8:12], h.SSRC)

	offset := fixedHeaderSize
	for _, csrc := range h.CSRC {
		binary.BigEndian.PutUint32(span[offset:], csrc)
		offset += csrcIdentSize
	}

	if h.Extension {
		binary.BigEndian.PutUint16(span[offset:], h.ExtensionProfile)
		binary.BigEndian.PutUint16(span[offset+2:], uint16(len(h.ExtensionPayload)/4))
		offset += 4
		copy(span[offset:], h.ExtensionPayload)
		offset += len(h.ExtensionPayload)
	}

	return offset
}
