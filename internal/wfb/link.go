package wfb

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// StreamKind selects which downstream pipeline a configured user stream
// uses once its frames are decrypted: FEC block reassembly, or simple
// sequence-number dedup.
type StreamKind int

const (
	StreamFEC StreamKind = iota
	StreamNoFEC
)

const macTagLen = 16

var (
	ErrStreamNotConfigured   = errors.New("wfb: no stream configured for this multiplex index")
	ErrSessionNotEstablished = errors.New("wfb: no session key established yet")
)

// stream is one configured user stream's downstream pipeline.
type stream struct {
	kind     StreamKind
	queueCap int
	consumer func(payload []byte)

	reassembler *Reassembler
	dedup       *Dedup
}

func newStream(kind StreamKind, queueCap int, consumer func(payload []byte)) *stream {
	s := &stream{kind: kind, queueCap: queueCap, consumer: consumer}
	s.reset()
	return s
}

func (s *stream) reset() {
	switch s.kind {
	case StreamFEC:
		s.reassembler = NewReassembler(s.queueCap, func(_ uint32, _ uint8, payload []byte) {
			if s.consumer != nil {
				s.consumer(payload)
			}
		})
	case StreamNoFEC:
		s.dedup = NewDedup()
	}
}

func (s *stream) ingest(plain []byte) error {
	switch s.kind {
	case StreamFEC:
		h, body, err := ParseFragment(plain)
		if err != nil {
			return err
		}
		return s.reassembler.AddFragment(h, body)
	case StreamNoFEC:
		payload, ok, err := s.dedup.Process(plain)
		if err != nil {
			return err
		}
		if ok && s.consumer != nil {
			s.consumer(payload)
		}
		return nil
	}
	return nil
}

// RadioStats counts traffic seen from one physical radio, for the
// multi-radio diversity metrics a caller can surface per adapter.
type RadioStats struct {
	Packets      uint64
	Dropped      uint64
	AuthFailures uint64
}

// Link orchestrates one WFB logical connection: frame classification (C9),
// crypto (C10), and each configured user stream's FEC or dedup pipeline
// (C11/C12), single-threaded per the packet ordering this module's
// concurrency model requires even when multiple radios feed it concurrently.
type Link struct {
	localPriv, remotePub [32]byte

	mu                 sync.Mutex
	sessionKey         [32]byte
	sessionEstablished bool
	streams            map[byte]*stream
	radios             map[string]*RadioStats

	log zerolog.Logger
}

// NewLink builds a Link that will authenticate session-key announcements
// under remotePub and seal its own (if it ever originates one) under
// localPriv.
func NewLink(localPriv, remotePub [32]byte, log zerolog.Logger) *Link {
	return &Link{
		localPriv:  localPriv,
		remotePub:  remotePub,
		streams:    make(map[byte]*stream),
		radios:     make(map[string]*RadioStats),
		log:        log.With().Str("component", "wfb-link").Logger(),
	}
}

// AddStream configures the downstream pipeline for one multiplex index.
func (l *Link) AddStream(multiplexIndex byte, kind StreamKind, queueCap int, consumer func(payload []byte)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.streams[multiplexIndex] = newStream(kind, queueCap, consumer)
}

func (l *Link) radioStats(radioID string) *RadioStats {
	s, ok := l.radios[radioID]
	if !ok {
		s = &RadioStats{}
		l.radios[radioID] = s
	}
	return s
}

// IngestFrame processes one raw 802.11 frame received from radio radioID:
// classify, then either rotate the session key (session-key announcement
// frames) or decrypt/authenticate and hand the plaintext to the
// configured stream for that multiplex index.
func (l *Link) IngestFrame(radioID string, raw []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := l.radioStats(radioID)

	f, err := Classify(raw)
	if err != nil {
		stats.Dropped++
		return err
	}
	stats.Packets++

	if f.IsSessionKeyFrame() {
		key, err := OpenSessionKeyPacket(f.Payload, &l.localPriv, &l.remotePub)
		if err != nil {
			stats.AuthFailures++
			return err
		}
		l.sessionKey = key
		l.sessionEstablished = true
		for _, s := range l.streams {
			s.reset()
		}
		l.log.Info().Str("radio", radioID).Msg("wfb session key rotated")
		return nil
	}

	s, ok := l.streams[f.MultiplexIndex]
	if !ok {
		stats.Dropped++
		return ErrStreamNotConfigured
	}
	if !l.sessionEstablished {
		stats.Dropped++
		return ErrSessionNotEstablished
	}

	var plain []byte
	if f.Encrypted {
		plain, err = OpenDataFrame(l.sessionKey, f.Nonce, f.Payload)
		if err != nil {
			stats.AuthFailures++
			return err
		}
	} else {
		if len(f.Payload) < macTagLen {
			stats.Dropped++
			return ErrFrameAuthFailed
		}
		body := f.Payload[:len(f.Payload)-macTagLen]
		tag := f.Payload[len(f.Payload)-macTagLen:]
		if err := VerifyDataFrameMAC(l.sessionKey, f.Nonce, body, tag); err != nil {
			stats.AuthFailures++
			return err
		}
		plain = body
	}

	if err := s.ingest(plain); err != nil {
		stats.Dropped++
		return err
	}
	return nil
}

// RadioStatsSnapshot returns a copy of the per-radio counters, for exposing
// radio diversity metrics to a caller without leaking the live map.
func (l *Link) RadioStatsSnapshot() map[string]RadioStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]RadioStats, len(l.radios))
	for id, s := range l.radios {
		out[id] = *s
	}
	return out
}
