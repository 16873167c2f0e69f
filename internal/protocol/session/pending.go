package session

import "time"

// PendingRequest describes the request currently awaiting its response.
type PendingRequest struct {
	Kind   string
	Expect string
	SentAt time.Time
}

// Pending returns a snapshot of the in-flight request, if any.
func (c *Conn) Pending() (PendingRequest, bool) {
	c.pendingMu.RLock()
	defer c.pendingMu.RUnlock()
	if c.pending == nil {
		return PendingRequest{}, false
	}
	return *c.pending, true
}

func (c *Conn) setPending(kind, expect string, at time.Time) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.pending = &PendingRequest{
		Kind:   kind,
		Expect: expect,
		SentAt: at,
	}
}

func (c *Conn) clearPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.pending = nil
}
