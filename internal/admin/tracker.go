package admin

import (
	"sync"
	"time"

	"github.com/danmuck/balatrobot/internal/game"
	"github.com/danmuck/balatrobot/internal/protocol/session"
)

// Tracker holds the connection the serve loop is currently driving.
type Tracker struct {
	mu      sync.RWMutex
	conn    *session.Conn
	phase   game.Phase
	updated time.Time
	served  int
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Attach records a newly accepted connection.
func (t *Tracker) Attach(conn *session.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn = conn
	t.phase = ""
	t.updated = time.Now()
	t.served++
}

// Observe records the state the connection reached.
func (t *Tracker) Observe(state game.State) {
	if state == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != state.Conn() {
		return
	}
	t.phase = state.Phase()
	t.updated = time.Now()
}

// Detach forgets conn if it is still the tracked one.
func (t *Tracker) Detach(conn *session.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == conn {
		t.conn = nil
		t.phase = ""
		t.updated = time.Now()
	}
}

// Current returns the tracked connection, or nil.
func (t *Tracker) Current() *session.Conn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn
}

type PendingView struct {
	Kind   string    `json:"kind"`
	Expect string    `json:"expect"`
	SentAt time.Time `json:"sent_at"`
}

type SessionSnapshot struct {
	Connected bool         `json:"connected"`
	SessionID string       `json:"session_id,omitempty"`
	Remote    string       `json:"remote,omitempty"`
	Phase     game.Phase   `json:"phase,omitempty"`
	OpenedAt  time.Time    `json:"opened_at,omitzero"`
	Updated   time.Time    `json:"updated,omitzero"`
	Pending   *PendingView `json:"pending,omitempty"`
	Served    int          `json:"served"`
}

func (t *Tracker) Snapshot() SessionSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap := SessionSnapshot{Served: t.served, Updated: t.updated}
	if t.conn == nil {
		return snap
	}
	snap.Connected = true
	snap.SessionID = t.conn.ID()
	snap.Phase = t.phase
	snap.OpenedAt = t.conn.OpenedAt()
	if addr := t.conn.RemoteAddr(); addr != nil {
		snap.Remote = addr.String()
	}
	if p, ok := t.conn.Pending(); ok {
		snap.Pending = &PendingView{Kind: p.Kind, Expect: p.Expect, SentAt: p.SentAt}
	}
	return snap
}
