// Command aloharxd is a minimal demo harness around the peer connection and
// WFB link: it binds a WebRTC socket, prints an SDP offer, accepts an answer
// and trickled candidates over stdin, then forwards RTP read off a local UDP
// socket to the nominated remote peer. It exercises the ambient
// configuration/logging stack and the radio-ingest keypair derivation, but
// is scaffolding rather than a production CLI.
package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/rs/zerolog"

	aloharx "github.com/lanikai/aloharx"
	"github.com/lanikai/aloharx/config"
	"github.com/lanikai/aloharx/internal/logging"
	"github.com/lanikai/aloharx/internal/rtp"
	"github.com/lanikai/aloharx/internal/wfb"
)

const h264PayloadType = 96
const maxRTPPacketSize = 1500

func main() {
	flag.Parse()
	if flagHelp {
		fmt.Print(helpString)
		os.Exit(0)
	}

	cfg, err := config.Decode(map[string]interface{}{
		"webrtc_listen_port": flagWebRTCPort,
		"rtp_listen_port":    flagRTPPort,
		"stun_server":        flagSTUNAddress,
		"wfb_bind_phrase":    flagBindPhrase,
		"fec_queue_size":     flagFECQueue,
		"log_level":          flagLogLevel,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "aloharxd: decode configuration:", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "aloharxd: parse log level:", err)
		os.Exit(1)
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		log.Info().Msg("received shutdown signal")
		cancel()
	}()

	if cfg.WFBBindPhrase != "" {
		_, pub, err := wfb.DeriveLongTermKeypair(cfg.WFBBindPhrase)
		if err != nil {
			log.Fatal().Err(err).Msg("derive WFB long-term keypair")
		}
		log.Info().Hex("public_key", pub[:]).Int("fec_queue", cfg.FECQueueSize).
			Msg("WFB radio-ingest keypair derived; attach a Link via wfb.NewLink once a remote public key is known")
	}

	ssrc, err := randomSSRC()
	if err != nil {
		log.Fatal().Err(err).Msg("generate SSRC")
	}

	pc, err := aloharx.NewPeerConnection(
		ctx,
		&net.UDPAddr{Port: cfg.WebRTCListenPort},
		ssrc,
		h264PayloadType,
		logging.Component(log, "aloharxd"),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("create peer connection")
	}
	defer pc.Close("shutdown")

	fmt.Println(pc.CreateOffer())
	fmt.Println()

	stdin := bufio.NewReader(os.Stdin)
	answer, err := readSDPBlock(stdin)
	if err != nil {
		log.Fatal().Err(err).Msg("read SDP answer from stdin")
	}
	if _, err := pc.SetRemoteDescription(answer, aloharx.SDPAnswer); err != nil {
		log.Fatal().Err(err).Msg("apply remote answer")
	}

	go readTrickledCandidates(stdin, pc, log)

	if err := serveRTP(ctx, cfg.RTPListenPort, pc, log); err != nil {
		log.Fatal().Err(err).Msg("serve RTP")
	}
}

// randomSSRC picks a random, non-zero synchronization source identifier for
// the outbound track.
func randomSSRC() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	ssrc := uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	if ssrc == 0 {
		ssrc = 1
	}
	return ssrc, nil
}

// readSDPBlock reads lines until the first blank line or EOF, joining them
// with CRLF as an SDP message requires.
func readSDPBlock(r *bufio.Reader) (string, error) {
	var lines []string
	for {
		line, err := r.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed != "" {
			lines = append(lines, trimmed)
		}
		if err != nil || trimmed == "" {
			break
		}
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("aloharxd: no SDP answer supplied on stdin")
	}
	return strings.Join(lines, "\r\n"), nil
}

// readTrickledCandidates applies one trickled ICE candidate per remaining
// stdin line until EOF.
func readTrickledCandidates(r *bufio.Reader, pc *aloharx.PeerConnection, log zerolog.Logger) {
	for {
		line, err := r.ReadString('\n')
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			if err := pc.AddIceCandidate(trimmed); err != nil {
				log.Warn().Err(err).Str("candidate", trimmed).Msg("discarding malformed trickled candidate")
			}
		}
		if err != nil {
			return
		}
	}
}

// serveRTP reads RTP packets off a local UDP socket (an encoder or the
// output of a separate capture process) and forwards each to the nominated
// remote peer, until ctx is cancelled.
func serveRTP(ctx context.Context, port int, pc *aloharx.PeerConnection, log zerolog.Logger) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	rlog := logging.Component(log, "rtp-source")
	pool := rtp.NewBufferPool(maxRTPPacketSize)

	for {
		buf := pool.Get()
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			pool.Put(buf)
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		packet := rtp.NewPacket()
		if err := packet.ApplyBuffer(pool, buf[:n]); err != nil {
			rlog.Warn().Err(err).Msg("dropping malformed RTP packet")
			pool.Put(buf)
			continue
		}

		pc.SendVideo(packet, rlog)
		packet.ReleaseBuffer()
	}
}
