package game

import (
	"context"

	"github.com/danmuck/balatrobot/internal/protocol/session"
)

type BlindSelection struct {
	*handle
	info BlindInfo
}

func newBlindSelection(conn *session.Conn, info BlindInfo) *BlindSelection {
	return &BlindSelection{handle: newHandle(conn, PhaseBlindSelection), info: info}
}

func (b *BlindSelection) Small() BlindChoice { return b.info.Small }
func (b *BlindSelection) Big() BlindChoice   { return b.info.Big }
func (b *BlindSelection) Boss() BossChoice   { return b.info.Boss }

// Select plays the blind currently on offer.
func (b *BlindSelection) Select(ctx context.Context) (*Play, error) {
	conn, err := b.consume("select")
	if err != nil {
		return nil, err
	}
	info, err := selectBlindRoute.Do(ctx, conn, unit{})
	if err != nil {
		return nil, err
	}
	return newPlay(conn, info), nil
}

// Skip passes on the current blind and takes its tag.
func (b *BlindSelection) Skip(ctx context.Context) (*BlindSelection, error) {
	conn, err := b.consume("skip")
	if err != nil {
		return nil, err
	}
	info, err := skipBlindRoute.Do(ctx, conn, unit{})
	if err != nil {
		return nil, err
	}
	return newBlindSelection(conn, info), nil
}
