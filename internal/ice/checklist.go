package ice

import (
	"net"
	"sort"
	"sync"
	"time"
)

// MaxChecklistEntries bounds the checklist (RFC 8445 allows an
// implementation-defined cap; this module's spec fixes it at 25).
const MaxChecklistEntries = 25

type PairState int

const (
	Waiting PairState = iota
	InProgress
	Succeeded
	Failed
)

// Entry is one checklist entry: a candidate pair plus the bookkeeping the
// connectivity-check scheduler and STUN correlation need.
type Entry struct {
	Local  Candidate
	Remote Candidate

	Priority  uint64
	State     PairState
	Nominated bool

	TransactionID [12]byte

	FirstCheckSent  time.Time
	LastCheckSent   time.Time
	LastResponse    time.Time
}

// pairPriority implements RFC 8445 section 5.1.2's pairing formula: G is
// the controlling agent's priority, D the controlled agent's.
func pairPriority(controllingPriority, controlledPriority uint32) uint64 {
	g, d := uint64(controllingPriority), uint64(controlledPriority)
	lo, hi := g, d
	if d < g {
		lo, hi = d, g
	}
	var extra uint64
	if g > d {
		extra = 1
	}
	return lo<<32 | hi<<1 | extra
}

// Checklist is the mutex-protected candidate-pair list for one ICE
// channel. Per the spec's shared-resource policy, every mutation (add,
// sort, dedup, trim) happens under the same lock.
type Checklist struct {
	mu      sync.Mutex
	entries []*Entry

	controlling bool
}

func NewChecklist(controlling bool) *Checklist {
	return &Checklist{controlling: controlling}
}

// AddRemoteCandidate pairs remote against the single local checklist
// candidate (the bound RTP/RTCP socket), rejecting cross-family pairs,
// deduplicating by (local.Type, remote destination endpoint, remote
// protocol), then re-sorting and trimming to MaxChecklistEntries.
func (cl *Checklist) AddRemoteCandidate(local, remote Candidate) {
	if (local.Address.To4() == nil) != (remote.Address.To4() == nil) {
		return
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	var priority uint64
	if cl.controlling {
		priority = pairPriority(local.Priority, remote.Priority)
	} else {
		priority = pairPriority(remote.Priority, local.Priority)
	}

	newEntry := &Entry{Local: local, Remote: remote, Priority: priority, State: Waiting}

	for i, e := range cl.entries {
		if e.Local.Type == local.Type && e.Remote.Protocol == remote.Protocol &&
			e.Remote.Address.Equal(remote.Address) && e.Remote.Port == remote.Port {
			if e.Nominated || e.Priority >= priority {
				return
			}
			cl.entries[i] = newEntry
			cl.resort()
			return
		}
	}

	cl.entries = append(cl.entries, newEntry)
	cl.resort()
}

// resort must be called with mu held.
func (cl *Checklist) resort() {
	sort.SliceStable(cl.entries, func(i, j int) bool {
		return cl.entries[i].Priority > cl.entries[j].Priority
	})
	if len(cl.entries) > MaxChecklistEntries {
		cl.entries = cl.entries[:MaxChecklistEntries]
	}
}

// Entries returns a snapshot slice of the current checklist entries.
func (cl *Checklist) Entries() []*Entry {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	out := make([]*Entry, len(cl.entries))
	copy(out, cl.entries)
	return out
}

// Len reports the current checklist size.
func (cl *Checklist) Len() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.entries)
}

// AddPeerReflexive synthesizes a Waiting entry for a response or request
// arriving from an address not already on the checklist (RFC 8445 section
// 7.2.5.3.1 / 7.3.1.3).
func (cl *Checklist) AddPeerReflexive(local Candidate, from Candidate) *Entry {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	for _, e := range cl.entries {
		if e.Remote.Address.Equal(from.Address) && e.Remote.Port == from.Port && e.Remote.Protocol == from.Protocol {
			return e
		}
	}

	var priority uint64
	if cl.controlling {
		priority = pairPriority(local.Priority, from.Priority)
	} else {
		priority = pairPriority(from.Priority, local.Priority)
	}
	e := &Entry{Local: local, Remote: from, Priority: priority, State: Waiting}
	cl.entries = append(cl.entries, e)
	cl.resort()
	return e
}

// FindByTransactionID locates the entry awaiting a response with this
// transaction id.
func (cl *Checklist) FindByTransactionID(id [12]byte) *Entry {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	for _, e := range cl.entries {
		if e.TransactionID == id {
			return e
		}
	}
	return nil
}

// FindByRemoteAddr locates an entry whose remote endpoint matches addr,
// used to correlate an inbound STUN request with an existing pair.
func (cl *Checklist) FindByRemoteAddr(ip net.IP, port int) *Entry {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	for _, e := range cl.entries {
		if e.Remote.Port == port && e.Remote.Address.Equal(ip) {
			return e
		}
	}
	return nil
}

// NominatedCount reports how many entries are nominated (the spec invariant
// caps this at one in steady state; exposed for tests).
func (cl *Checklist) NominatedCount() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	n := 0
	for _, e := range cl.entries {
		if e.Nominated {
			n++
		}
	}
	return n
}
