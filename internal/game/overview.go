package game

import (
	"context"
	"slices"

	"github.com/danmuck/balatrobot/internal/protocol/session"
)

type RoundOverview struct {
	*handle
	info RoundOverviewInfo
}

func newRoundOverview(conn *session.Conn, info RoundOverviewInfo) *RoundOverview {
	return &RoundOverview{handle: newHandle(conn, PhaseRoundOverview), info: info}
}

func (r *RoundOverview) Earnings() []Earning { return slices.Clone(r.info.Earnings) }
func (r *RoundOverview) TotalEarned() uint64 { return r.info.TotalEarned }

func (r *RoundOverview) CashOut(ctx context.Context) (*Shop, error) {
	conn, err := r.consume("cash_out")
	if err != nil {
		return nil, err
	}
	info, err := cashOutRoute.Do(ctx, conn, unit{})
	if err != nil {
		return nil, err
	}
	return newShop(conn, info), nil
}

// GameOver ends the run. Only Close is left to do.
type GameOver struct {
	*handle
}

func newGameOver(conn *session.Conn) *GameOver {
	return &GameOver{handle: newHandle(conn, PhaseGameOver)}
}
