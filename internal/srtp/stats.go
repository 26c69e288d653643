package srtp

// Stats is a snapshot of one crypto context's lifetime counters, exposed for
// the supplemental per-link observability this module adds (see
// SPEC_FULL.md's "SRTP Context.Stats()" item): auth failures and replay
// drops are otherwise invisible to anything above the packet path.
type Stats struct {
	PacketsProtected uint64
	AuthFailures     uint64
	Replays          uint64
}

// Stats returns a point-in-time copy of this context's counters.
func (c *Context) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func (c *Context) recordProtected() {
	c.statsMu.Lock()
	c.stats.PacketsProtected++
	c.statsMu.Unlock()
}

func (c *Context) recordAuthFailure() {
	c.statsMu.Lock()
	c.stats.AuthFailures++
	c.statsMu.Unlock()
}

func (c *Context) recordReplay() {
	c.statsMu.Lock()
	c.stats.Replays++
	c.statsMu.Unlock()
}
