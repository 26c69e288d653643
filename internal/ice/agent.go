package ice

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/lanikai/aloharx/internal/logging"
	"github.com/lanikai/aloharx/internal/stun"
	"github.com/lanikai/aloharx/internal/udpio"
)

type State int

const (
	StateNew State = iota
	StateChecking
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateChecking:
		return "checking"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	taInterval           = 50 * time.Millisecond
	connectedCheckPeriod = 3 * time.Second
	failedTimeout        = 16 * time.Second
	disconnectedTimeout  = 8 * time.Second
	minRTO               = 500 * time.Millisecond
)

// Credentials are one side's ICE username fragment and password
// (RFC 8445 section 5.4).
type Credentials struct {
	Ufrag    string
	Password string
}

// Agent runs the connectivity-check state machine for one ICE channel over
// the shared WebRTC socket (C1), fed remote candidates via
// AddRemoteCandidate and inbound STUN datagrams via HandleSTUN (wired by
// the demuxer, C7).
type Agent struct {
	log zerolog.Logger

	pool  *udpio.Pool
	local Candidate

	localCreds  Credentials
	remoteCreds Credentials
	credsMu     sync.Mutex

	controlling bool
	tieBreaker  uint64

	checklist *Checklist

	// limiter caps outbound binding-request sends to one per Ta even if a
	// pathological tick finds more than one entry eligible to (re)send.
	limiter *rate.Limiter

	mu              sync.Mutex
	state           State
	credentialsSetAt time.Time
	lastResponse     time.Time
	lastRequestRecv  time.Time
	nominatedEntry   *Entry

	onStateChange func(State)
}

// NewAgent creates an agent bound to the single local host candidate
// (the RTP/RTCP socket's bound address/port) with a random 64-bit
// tie-breaker (RFC 8445 section 16).
func NewAgent(pool *udpio.Pool, local Candidate, localCreds Credentials, controlling bool, log zerolog.Logger) *Agent {
	var tb [8]byte
	rand.Read(tb[:])
	return &Agent{
		log:         logging.Component(log, "ice"),
		pool:        pool,
		local:       local,
		localCreds:  localCreds,
		controlling: controlling,
		tieBreaker:  binary.BigEndian.Uint64(tb[:]),
		checklist:   NewChecklist(controlling),
		limiter:     rate.NewLimiter(rate.Every(taInterval), 1),
		state:       StateNew,
	}
}

// OnStateChange registers a callback invoked whenever the agent's observable
// state transitions (used by the peer connection, C8, to drive its own
// state machine).
func (a *Agent) OnStateChange(f func(State)) {
	a.onStateChange = f
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	changed := a.state != s
	a.state = s
	a.mu.Unlock()
	if changed {
		a.log.Info().Str("state", s.String()).Msg("ICE state changed")
		if a.onStateChange != nil {
			a.onStateChange(s)
		}
	}
}

// State returns the agent's current observable state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// SetRemoteCredentials installs the remote ufrag/password (from the remote
// SDP) and transitions New -> Checking on first call.
func (a *Agent) SetRemoteCredentials(creds Credentials) {
	a.credsMu.Lock()
	a.remoteCreds = creds
	a.credsMu.Unlock()

	a.mu.Lock()
	if a.state == StateNew {
		a.credentialsSetAt = time.Now()
	}
	a.mu.Unlock()
	a.setState(StateChecking)
}

// AddRemoteCandidate pairs a newly learned remote candidate against the
// local checklist candidate.
func (a *Agent) AddRemoteCandidate(remote Candidate) {
	a.checklist.AddRemoteCandidate(a.local, remote)
}

// Run drives the T2 timer: Ta=50ms while checking, CONNECTED_CHECK_PERIOD
// while connected, until ctx is canceled.
func (a *Agent) Run(ctx context.Context) {
	ticker := time.NewTicker(taInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.setState(StateClosed)
			return
		case <-ticker.C:
			switch a.State() {
			case StateChecking:
				a.tickChecking()
				ticker.Reset(taInterval)
			case StateConnected, StateDisconnected:
				a.tickConnected()
				ticker.Reset(connectedCheckPeriod)
			case StateFailed, StateClosed:
				return
			default:
				ticker.Reset(taInterval)
			}
		}
	}
}

func (a *Agent) tickChecking() {
	now := time.Now()
	entries := a.checklist.Entries()

	for _, e := range entries {
		if e.State == InProgress && !e.FirstCheckSent.IsZero() && now.Sub(e.FirstCheckSent) > failedTimeout {
			e.State = Failed
		}
	}

	var waiting, inProgress int
	for _, e := range entries {
		switch e.State {
		case Waiting:
			waiting++
		case InProgress:
			inProgress++
		}
	}
	rto := taInterval * time.Duration(waiting+inProgress)
	if rto < minRTO {
		rto = minRTO
	}

	sent := false
	for _, e := range entries {
		if e.State == Waiting {
			a.sendBindingRequest(e, false)
			sent = true
			break
		}
	}
	if !sent {
		for _, e := range entries {
			if e.State == InProgress && now.Sub(e.LastCheckSent) > rto {
				a.sendBindingRequest(e, false)
				break
			}
		}
	}

	allFailed := len(entries) > 0
	for _, e := range entries {
		if e.State != Failed {
			allFailed = false
			break
		}
	}
	if allFailed {
		a.setState(StateFailed)
		return
	}

	a.mu.Lock()
	credsAt := a.credentialsSetAt
	a.mu.Unlock()
	if len(entries) == 0 && !credsAt.IsZero() && now.Sub(credsAt) > failedTimeout {
		a.setState(StateFailed)
	}
}

func (a *Agent) tickConnected() {
	a.mu.Lock()
	nominated := a.nominatedEntry
	lastResponse := a.lastResponse
	lastRequestRecv := a.lastRequestRecv
	a.mu.Unlock()

	if nominated != nil {
		a.sendBindingRequest(nominated, false)
	}

	now := time.Now()
	if now.Sub(lastResponse) > disconnectedTimeout && now.Sub(lastRequestRecv) > disconnectedTimeout {
		a.setState(StateDisconnected)
	} else if a.State() == StateDisconnected && now.Sub(lastResponse) <= failedTimeout && now.Sub(lastRequestRecv) <= failedTimeout {
		a.setState(StateConnected)
	}
	if now.Sub(lastResponse) > failedTimeout || now.Sub(lastRequestRecv) > failedTimeout {
		a.setState(StateFailed)
	}
}

func (a *Agent) sendBindingRequest(e *Entry, useCandidate bool) {
	if !useCandidate && !a.limiter.Allow() {
		return
	}

	a.credsMu.Lock()
	remotePwd := a.remoteCreds.Password
	username := a.remoteCreds.Ufrag + ":" + a.localCreds.Ufrag
	a.credsMu.Unlock()

	msg := stun.NewBindingRequest(username, remotePwd, e.Priority32(), useCandidate, a.controlling, a.tieBreaker)
	e.TransactionID = msg.TransactionID
	now := time.Now()
	if e.FirstCheckSent.IsZero() {
		e.FirstCheckSent = now
	}
	e.LastCheckSent = now
	e.State = InProgress

	to := &net.UDPAddr{IP: e.Remote.Address, Port: e.Remote.Port}
	if _, err := a.pool.Send(to, msg.Bytes()); err != nil {
		a.log.Debug().Err(err).Msg("failed to send ICE binding request")
	}
}

// Nominate marks entry as the nominated pair and (for the controlling
// agent) sends a USE-CANDIDATE-bearing binding request to ask the peer to
// agree.
func (a *Agent) Nominate(e *Entry) {
	e.Nominated = true
	a.mu.Lock()
	a.nominatedEntry = e
	a.mu.Unlock()
	if a.controlling {
		a.sendBindingRequest(e, true)
	}
	a.setState(StateConnected)
}

// HandleSTUN processes one inbound STUN datagram: a binding response is
// correlated by transaction id; a binding request is answered and, if it
// carries USE-CANDIDATE, triggers nomination.
func (a *Agent) HandleSTUN(ctx context.Context, from net.Addr, buf []byte) {
	msg, err := stun.Parse(buf)
	if err != nil || msg == nil {
		return
	}

	udpFrom, ok := from.(*net.UDPAddr)
	if !ok {
		return
	}

	switch msg.Class {
	case stun.ClassSuccessResponse:
		a.handleBindingResponse(msg)
	case stun.ClassRequest:
		a.handleBindingRequest(msg, udpFrom)
	}
}

func (a *Agent) handleBindingResponse(msg *stun.Message) {
	a.credsMu.Lock()
	localPwd := a.localCreds.Password
	a.credsMu.Unlock()
	if !msg.VerifyMessageIntegrity(localPwd) {
		return
	}

	e := a.checklist.FindByTransactionID(msg.TransactionID)
	if e == nil {
		return
	}
	e.State = Succeeded
	now := time.Now()
	e.LastResponse = now
	a.mu.Lock()
	a.lastResponse = now
	a.mu.Unlock()

	if a.controlling && !e.Nominated {
		a.Nominate(e)
	}
}

func (a *Agent) handleBindingRequest(msg *stun.Message, from *net.UDPAddr) {
	a.credsMu.Lock()
	localPwd := a.localCreds.Password
	a.credsMu.Unlock()
	if !msg.VerifyMessageIntegrity(localPwd) {
		return
	}

	a.mu.Lock()
	a.lastRequestRecv = time.Now()
	a.mu.Unlock()

	e := a.checklist.FindByRemoteAddr(from.IP, from.Port)
	if e == nil {
		remote := Candidate{
			Foundation: foundation(typePrflx, "udp", from.IP),
			Component:  1,
			Protocol:   "udp",
			Priority:   peerReflexivePriority(1),
			Address:    from.IP,
			Port:       from.Port,
			Type:       typePrflx,
		}
		e = a.checklist.AddPeerReflexive(a.local, remote)
	}

	resp := stun.NewBindingSuccessResponse(msg.TransactionID, from, localPwd)
	if _, err := a.pool.Send(from, resp.Bytes()); err != nil {
		a.log.Debug().Err(err).Msg("failed to send ICE binding response")
	}

	if msg.HasUseCandidate() && !e.Nominated {
		a.Nominate(e)
	}
}

// NominatedRemote returns the remote endpoint of the nominated candidate
// pair, or nil if nothing is nominated yet.
func (a *Agent) NominatedRemote() net.Addr {
	a.mu.Lock()
	e := a.nominatedEntry
	a.mu.Unlock()
	if e == nil {
		return nil
	}
	return &net.UDPAddr{IP: e.Remote.Address, Port: e.Remote.Port}
}

// LocalCredentials returns this agent's ufrag/password, for inclusion in
// the local SDP.
func (a *Agent) LocalCredentials() Credentials {
	return a.localCreds
}

// Restart regenerates local credentials, clears the checklist, and moves
// the agent back to New (the next SetRemoteCredentials call moves it to
// Checking), letting a caller recover a peer connection after a prolonged
// Disconnected period without tearing down the whole connection.
// Auto-invocation policy (when to call this) is a caller decision.
func (a *Agent) Restart() {
	a.localCreds = NewCredentials()
	a.checklist = NewChecklist(a.controlling)
	a.mu.Lock()
	a.nominatedEntry = nil
	a.credentialsSetAt = time.Time{}
	a.lastResponse = time.Time{}
	a.lastRequestRecv = time.Time{}
	a.mu.Unlock()
	a.setState(StateNew)
}

// Priority32 returns the 32-bit local candidate priority a PRIORITY
// attribute carries -- the checklist's
// own Priority field is the RFC 8445 *pair* priority, but outbound
// requests advertise this agent's local candidate priority instead.
func (e *Entry) Priority32() uint32 {
	return e.Local.Priority
}
