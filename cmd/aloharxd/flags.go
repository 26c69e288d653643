package main

import (
	flag "github.com/spf13/pflag"
)

var (
	flagWebRTCPort  int
	flagRTPPort     int
	flagSTUNAddress string
	flagBindPhrase  string
	flagFECQueue    int
	flagLogLevel    string
	flagHelp        bool
)

func init() {
	flag.IntVarP(&flagWebRTCPort, "webrtc-port", "p", 8000, "UDP port to bind the WebRTC socket on")
	flag.IntVarP(&flagRTPPort, "rtp-port", "r", 5004, "UDP port the local H.264 RTP source is read from")
	flag.StringVarP(&flagSTUNAddress, "stun-address", "s", "", "STUN server address (accepted but unused; host candidates only)")
	flag.StringVarP(&flagBindPhrase, "bind-phrase", "b", "", "WFB bind phrase seeding the long-term keypair")
	flag.IntVarP(&flagFECQueue, "fec-queue", "q", 64, "Maximum number of in-flight FEC blocks")
	flag.StringVarP(&flagLogLevel, "log-level", "l", "info", "Log level (debug, info, warn, error)")
	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
}

const helpString = `Low-latency video egress for connected devices

Usage: aloharxd [OPTION]...

Network:
  -p, --webrtc-port=NUM  UDP port to bind the WebRTC socket on (default: 8000)
  -r, --rtp-port=NUM     UDP port the local RTP source is read from (default: 5004)
  -s, --stun-address=URI STUN server address (accepted but unused; host candidates only)

Radio ingest:
  -b, --bind-phrase=TEXT WFB bind phrase seeding the long-term keypair
  -q, --fec-queue=NUM    Maximum number of in-flight FEC blocks (default: 64)

Miscellaneous:
  -l, --log-level=LEVEL  Log level: debug, info, warn, error (default: info)
  -h, --help             Prints this help message and exits
`
