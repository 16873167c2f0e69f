package session

import "time"

type heartbeatAction int

const (
	actionNone heartbeatAction = iota
	actionPing
	actionTimeout
)

func (a heartbeatAction) String() string {
	switch a {
	case actionPing:
		return "ping"
	case actionTimeout:
		return "timeout"
	default:
		return "none"
	}
}

// heartbeat tracks idle time and unanswered pings for one connection.
// pingDeadline is non-zero iff unanswered > 0.
type heartbeat struct {
	cfg                HeartbeatConfig
	unanswered         int
	inactivityDeadline time.Time
	pingDeadline       time.Time
}

func newHeartbeat(cfg HeartbeatConfig, now time.Time) *heartbeat {
	return &heartbeat{
		cfg:                cfg,
		inactivityDeadline: now.Add(cfg.InactivityTimeout),
	}
}

// activity records a frame crossing the connection in either direction.
func (h *heartbeat) activity(now time.Time) {
	h.unanswered = 0
	h.pingDeadline = time.Time{}
	h.inactivityDeadline = now.Add(h.cfg.InactivityTimeout)
}

// next is the only deadline the engine needs to wait on.
func (h *heartbeat) next() time.Time {
	if h.unanswered > 0 {
		return h.pingDeadline
	}
	return h.inactivityDeadline
}

// due advances the state for a timer firing at now.
func (h *heartbeat) due(now time.Time) heartbeatAction {
	if h.unanswered > 0 {
		if now.Before(h.pingDeadline) {
			return actionNone
		}
		if h.unanswered >= h.cfg.MaxPingRetries {
			return actionTimeout
		}
		h.sentPing(now)
		return actionPing
	}
	if now.Before(h.inactivityDeadline) {
		return actionNone
	}
	h.sentPing(now)
	return actionPing
}

func (h *heartbeat) sentPing(now time.Time) {
	h.unanswered++
	h.pingDeadline = now.Add(h.cfg.PingResponseTimeout)
	h.inactivityDeadline = now.Add(h.cfg.InactivityTimeout)
}

func (h *heartbeat) attempts() int {
	return h.unanswered
}
