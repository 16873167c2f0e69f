// Package game drives one run of the game through the peer connection.
// Every screen is a state value; a transition consumes the state it was
// called on and returns the next one.
package game

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/balatrobot/internal/logging"
	"github.com/danmuck/balatrobot/internal/protocol/session"
)

var (
	ErrStateConsumed  = errors.New("game: state already consumed")
	ErrUnknownScreen  = errors.New("game: unknown screen")
	ErrUnknownOutcome = errors.New("game: unknown outcome")
)

type Phase string

const (
	PhaseLobby          Phase = "lobby"
	PhaseBlindSelection Phase = "blind_selection"
	PhasePlay           Phase = "play"
	PhaseRoundOverview  Phase = "round_overview"
	PhaseShop           Phase = "shop"
	PhaseGameOver       Phase = "game_over"
)

// State is any screen of the game.
type State interface {
	Phase() Phase
	Conn() *session.Conn
	Close() error
}

// handle is the connection as owned by one state value. The first
// transition consumes it, whether or not the request succeeds.
type handle struct {
	conn  *session.Conn
	phase Phase

	mu       sync.Mutex
	consumed bool
}

func newHandle(conn *session.Conn, phase Phase) *handle {
	return &handle{conn: conn, phase: phase}
}

func (h *handle) consume(op string) (*session.Conn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.consumed {
		return nil, fmt.Errorf("%w: %s on %s", ErrStateConsumed, op, h.phase)
	}
	h.consumed = true
	log := logging.Component("game")
	log.Debug().
		Str("session_id", h.conn.ID()).
		Str("phase", string(h.phase)).
		Str("op", op).
		Msg("transition")
	return h.conn, nil
}

func (h *handle) Phase() Phase { return h.phase }

func (h *handle) Conn() *session.Conn { return h.conn }

// Consumed reports whether a transition was already attempted on this state.
func (h *handle) Consumed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.consumed
}

// Close closes the underlying connection.
func (h *handle) Close() error {
	return h.conn.Close()
}

// Resume asks the peer which screen it is on and returns the matching state.
// Use it after connecting, or after a failed transition consumed a state.
func Resume(ctx context.Context, conn *session.Conn) (State, error) {
	info, err := screenRoute.Do(ctx, conn, unit{})
	if err != nil {
		return nil, err
	}
	switch {
	case info.Menu != nil:
		return NewLobby(conn), nil
	case info.SelectBlind != nil:
		return newBlindSelection(conn, *info.SelectBlind), nil
	case info.Play != nil:
		return newPlay(conn, *info.Play), nil
	case info.Shop != nil:
		return newShop(conn, *info.Shop), nil
	default:
		return nil, ErrUnknownScreen
	}
}
