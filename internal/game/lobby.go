package game

import (
	"context"

	"github.com/danmuck/balatrobot/internal/protocol/session"
)

// Lobby is the main menu.
type Lobby struct {
	*handle
}

// NewLobby wraps a connection whose peer sits on the main menu.
func NewLobby(conn *session.Conn) *Lobby {
	return &Lobby{handle: newHandle(conn, PhaseLobby)}
}

// StartRun begins a run. A nil seed lets the game choose.
func (l *Lobby) StartRun(ctx context.Context, deck Deck, stake Stake, seed *Seed) (*BlindSelection, error) {
	conn, err := l.consume("start_run")
	if err != nil {
		return nil, err
	}
	info, err := startRunRoute.Do(ctx, conn, startRunRequest{Back: deck, Stake: stake, Seed: seed})
	if err != nil {
		return nil, err
	}
	return newBlindSelection(conn, info), nil
}
