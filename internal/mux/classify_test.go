package mux

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		buf  []byte
		want Class
	}{
		{"stun", []byte{0x00, 0x01}, ClassSTUN},
		{"stun-max", []byte{0x03, 0x00}, ClassSTUN},
		{"dtls-min", []byte{20, 0x00}, ClassDTLS},
		{"dtls-max", []byte{63, 0x00}, ClassDTLS},
		{"rtcp-sr", []byte{128, 200}, ClassRTCP},
		{"rtcp-psfb", []byte{191, 206}, ClassRTCP},
		{"rtp", []byte{128, 96}, ClassRTP},
		{"unknown-gap", []byte{10, 0}, ClassUnknown},
		{"empty", []byte{}, ClassUnknown},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Classify(c.buf); got != c.want {
				t.Errorf("Classify(%v) = %v, want %v", c.buf, got, c.want)
			}
		})
	}
}
