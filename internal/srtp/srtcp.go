package srtp

import (
	"crypto/hmac"
	"encoding/binary"
)

const srtcpEFlagMask = 1 << 31

// ProtectRTCP encrypts and authenticates one RTCP compound packet (RFC 3711
// section 3.4 / RFC 5506): everything after the 8-byte fixed RTCP header is
// enciphered, then the outgoing SRTCP index (with the E-flag set) and an
// auth tag are appended.
func (c *Context) ProtectRTCP(buf []byte, ssrc uint32) ([]byte, error) {
	if len(buf) < 8 {
		return nil, errMalformedPacket
	}

	c.mu.Lock()
	index := c.srtcpIndex & 0x7fffffff
	c.srtcpIndex++
	c.mu.Unlock()

	out := make([]byte, len(buf))
	copy(out, buf)

	stream := c.keystream(&c.srtcp, out[:minInt(12, len(out))], ssrc, uint64(index), index)
	if stream != nil {
		stream.XORKeyStream(out[8:], out[8:])
	}

	out = append(out, 0, 0, 0, 0)
	eAndIndex := index
	if stream != nil {
		eAndIndex |= srtcpEFlagMask
	}
	binary.BigEndian.PutUint32(out[len(out)-4:], eAndIndex)

	if c.policy.Auth != AuthNull {
		tag := c.srtcp.sign(out)
		out = append(out, tag...)
	}

	c.recordProtected()
	return out, nil
}

// UnprotectRTCP authenticates, replay-checks, and decrypts one received
// SRTCP packet.
func (c *Context) UnprotectRTCP(buf []byte) ([]byte, error) {
	tagLen := 0
	if c.policy.Auth != AuthNull {
		tagLen = c.policy.TagLength
	}
	if len(buf) < 8+4+tagLen {
		return nil, errShortPacket
	}

	indexStart := len(buf) - tagLen - 4
	receivedTag := buf[len(buf)-tagLen:]

	if c.policy.Auth != AuthNull {
		expected := c.srtcp.sign(buf[:len(buf)-tagLen])
		if !hmac.Equal(expected, receivedTag) {
			c.recordAuthFailure()
			return nil, ErrAuthFailed
		}
	}

	eAndIndex := binary.BigEndian.Uint32(buf[indexStart : indexStart+4])
	encrypted := eAndIndex&srtcpEFlagMask != 0
	index := eAndIndex &^ srtcpEFlagMask

	body := buf[:indexStart]

	// The replay check and window update apply to every authenticated
	// packet, per RFC 3711 section 3.4 -- not only encrypted ones, since an
	// unencrypted (E=0) SRTCP packet's auth tag is just as replayable.
	c.mu.Lock()
	replay := c.replay.check(index)
	c.mu.Unlock()
	if replay {
		c.recordReplay()
		return nil, ErrReplay
	}

	ssrc := binary.BigEndian.Uint32(body[4:8])
	out := append([]byte(nil), body...)
	if encrypted {
		if stream := c.keystream(&c.srtcp, out[:minInt(12, len(out))], ssrc, uint64(index), index); stream != nil {
			stream.XORKeyStream(out[8:], out[8:])
		}
	}

	c.mu.Lock()
	c.replay.accept(index)
	c.mu.Unlock()

	c.recordProtected()
	return out, nil
}
