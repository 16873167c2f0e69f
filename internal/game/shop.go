package game

import (
	"context"
	"slices"

	"github.com/danmuck/balatrobot/internal/protocol/session"
)

type Shop struct {
	*handle
	info ShopInfo
}

func newShop(conn *session.Conn, info ShopInfo) *Shop {
	return &Shop{handle: newHandle(conn, PhaseShop), info: info}
}

func (s *Shop) MainCards() []MainCard   { return slices.Clone(s.info.Main) }
func (s *Shop) Vouchers() []VoucherItem { return slices.Clone(s.info.Vouchers) }
func (s *Shop) Boosters() []BoosterItem { return slices.Clone(s.info.Boosters) }

func (s *Shop) BuyMain(ctx context.Context, index uint8) (*Shop, error) {
	return s.buy(ctx, "buy_main", buyMainRoute, index)
}

func (s *Shop) BuyAndUse(ctx context.Context, index uint8) (*Shop, error) {
	return s.buy(ctx, "buy_and_use", buyAndUseRoute, index)
}

func (s *Shop) BuyVoucher(ctx context.Context, index uint8) (*Shop, error) {
	return s.buy(ctx, "buy_voucher", buyVoucherRoute, index)
}

func (s *Shop) BuyBooster(ctx context.Context, index uint8) (*Shop, error) {
	return s.buy(ctx, "buy_booster", buyBoosterRoute, index)
}

func (s *Shop) buy(ctx context.Context, op string, route session.Route[indexRequest, ShopInfo], index uint8) (*Shop, error) {
	conn, err := s.consume(op)
	if err != nil {
		return nil, err
	}
	info, err := route.Do(ctx, conn, indexRequest{Index: index})
	if err != nil {
		return nil, err
	}
	return newShop(conn, info), nil
}

func (s *Shop) Reroll(ctx context.Context) (*Shop, error) {
	conn, err := s.consume("reroll")
	if err != nil {
		return nil, err
	}
	info, err := rerollRoute.Do(ctx, conn, emptyObject{})
	if err != nil {
		return nil, err
	}
	return newShop(conn, info), nil
}

// Leave ends shopping and moves on to the next blind selection.
func (s *Shop) Leave(ctx context.Context) (*BlindSelection, error) {
	conn, err := s.consume("leave")
	if err != nil {
		return nil, err
	}
	info, err := leaveShopRoute.Do(ctx, conn, emptyObject{})
	if err != nil {
		return nil, err
	}
	return newBlindSelection(conn, info), nil
}
