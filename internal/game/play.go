package game

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/danmuck/balatrobot/internal/protocol/session"
)

type Play struct {
	*handle
	info PlayInfo
}

func newPlay(conn *session.Conn, info PlayInfo) *Play {
	return &Play{handle: newHandle(conn, PhasePlay), info: info}
}

func (p *Play) Blind() json.RawMessage { return p.info.CurrentBlind }
func (p *Play) Hand() []HandCard       { return slices.Clone(p.info.Hand) }
func (p *Play) Score() float64         { return p.info.Score }
func (p *Play) HandsLeft() uint8       { return p.info.Hands }
func (p *Play) DiscardsLeft() uint8    { return p.info.Discards }
func (p *Play) Money() uint32          { return p.info.Money }

// Click toggles selection of the cards at indices. Indices are checked by
// the peer; a bad index comes back as a *session.RemoteError.
func (p *Play) Click(ctx context.Context, indices []uint32) (*Play, error) {
	conn, err := p.consume("click")
	if err != nil {
		return nil, err
	}
	info, err := clickRoute.Do(ctx, conn, clickRequest{Indices: indices})
	if err != nil {
		return nil, err
	}
	return newPlay(conn, info), nil
}

// PlayOutcome holds exactly one of its fields.
type PlayOutcome struct {
	Again     *Play
	RoundOver *RoundOverview
	GameOver  *GameOver
}

// State returns whichever state the outcome carries.
func (o PlayOutcome) State() State {
	switch {
	case o.Again != nil:
		return o.Again
	case o.RoundOver != nil:
		return o.RoundOver
	default:
		return o.GameOver
	}
}

// PlaySelected plays the selected cards.
func (p *Play) PlaySelected(ctx context.Context) (PlayOutcome, error) {
	conn, err := p.consume("play")
	if err != nil {
		return PlayOutcome{}, err
	}
	res, err := playRoute.Do(ctx, conn, unit{})
	if err != nil {
		return PlayOutcome{}, err
	}
	switch {
	case res.Again != nil:
		return PlayOutcome{Again: newPlay(conn, *res.Again)}, nil
	case res.RoundOver != nil:
		return PlayOutcome{RoundOver: newRoundOverview(conn, *res.RoundOver)}, nil
	case res.GameOver != nil:
		return PlayOutcome{GameOver: newGameOver(conn)}, nil
	default:
		return PlayOutcome{}, fmt.Errorf("%w: %s", ErrUnknownOutcome, KindPlayResult)
	}
}

type DiscardOutcome struct {
	Again    *Play
	GameOver *GameOver
}

func (o DiscardOutcome) State() State {
	if o.Again != nil {
		return o.Again
	}
	return o.GameOver
}

// DiscardSelected discards the selected cards.
func (p *Play) DiscardSelected(ctx context.Context) (DiscardOutcome, error) {
	conn, err := p.consume("discard")
	if err != nil {
		return DiscardOutcome{}, err
	}
	res, err := discardRoute.Do(ctx, conn, unit{})
	if err != nil {
		return DiscardOutcome{}, err
	}
	switch {
	case res.Again != nil:
		return DiscardOutcome{Again: newPlay(conn, *res.Again)}, nil
	case res.GameOver != nil:
		return DiscardOutcome{GameOver: newGameOver(conn)}, nil
	default:
		return DiscardOutcome{}, fmt.Errorf("%w: %s", ErrUnknownOutcome, KindDiscardResult)
	}
}
