package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/balatrobot/internal/protocol/session"
	"github.com/danmuck/balatrobot/internal/testutil/fakepeer"
	"github.com/danmuck/balatrobot/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const blindInfoJSON = `{
	"small": {"state": "Select", "chips": 300, "tag": "tag_economy"},
	"big": {"state": "Upcoming", "chips": 450, "tag": "tag_d_six"},
	"boss": {"kind": "bl_hook", "state": "Upcoming", "chips": 600}
}`

const shopInfoJSON = `{
	"main": [{"item": {"Joker": "j_joker"}, "price": 2, "edition": "Base"}],
	"vouchers": [{"voucher": "v_grabber", "price": 10}],
	"boosters": [{"booster": "p_arcana_normal", "price": 4}, {"booster": "p_buffoon_normal", "price": 4}]
}`

func playInfoJSON(selected int, score float64, hands, discards int) json.RawMessage {
	cards := make([]string, 0, 8)
	for i := range 8 {
		card := fmt.Sprintf(`{"card": {"suit": "Hearts", "value": "%d"}, "selected": %t}`, i+2, i < selected)
		cards = append(cards, card)
	}
	return json.RawMessage(fmt.Sprintf(
		`{"current_blind": {"Small": {"chips": 300}}, "hand": [%s], "score": %g, "hands": %d, "discards": %d, "money": 4}`,
		strings.Join(cards, ","), score, hands, discards,
	))
}

func quietConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.Heartbeat.InactivityTimeout = time.Hour
	cfg.Heartbeat.PingResponseTimeout = time.Minute
	return cfg
}

func connect(t *testing.T) (*session.Conn, *fakepeer.Peer) {
	t.Helper()
	ln, err := session.Listen("127.0.0.1:0", quietConfig())
	require.NoError(t, err)
	defer ln.Close()

	type accepted struct {
		conn *session.Conn
		err  error
	}
	ch := make(chan accepted, 1)
	go func() {
		c, err := ln.Accept(context.Background())
		ch <- accepted{conn: c, err: err}
	}()
	peer := fakepeer.Dial(t, ln.Addr().String())
	res := <-ch
	require.NoError(t, res.err)
	t.Cleanup(func() { _ = res.conn.Close() })
	return res.conn, peer
}

// script runs the peer side and returns the request kinds it saw, in order.
func script(t *testing.T, peer *fakepeer.Peer, steps func(record func(kind string) []byte)) <-chan []string {
	t.Helper()
	out := make(chan []string, 1)
	go func() {
		var kinds []string
		defer func() { out <- kinds }()
		steps(func(kind string) []byte {
			body := peer.Expect(kind)
			kinds = append(kinds, kind)
			return body
		})
	}()
	return out
}

func TestFullRoundSequence(t *testing.T) {
	testlog.Start(t)
	conn, peer := connect(t)

	seen := script(t, peer, func(expect func(string) []byte) {
		body := expect(KindStartRun)
		assert.JSONEq(t, `{"back":"b_red","stake":1,"seed":null}`, string(body))
		peer.ReplyOk(KindBlindInfo, json.RawMessage(blindInfoJSON))

		body = expect(KindSelectBlind)
		assert.Equal(t, "null", string(body))
		peer.ReplyOk(KindPlayInfo, playInfoJSON(0, 0, 4, 3))

		body = expect(KindClick)
		assert.JSONEq(t, `{"indices":[0,1,2,3,4]}`, string(body))
		peer.ReplyOk(KindPlayInfo, playInfoJSON(5, 0, 4, 3))

		expect(KindPlay)
		peer.ReplyOk(KindPlayResult, json.RawMessage(`{"RoundOver": {
			"earnings": [{"kind": {"Blind": []}, "value": 3}, {"kind": {"Hands": 3}, "value": 3}, {"kind": {"Interest": []}, "value": 9}],
			"total_earned": 15
		}}`))

		expect(KindCashOut)
		peer.ReplyOk(KindShopInfo, json.RawMessage(shopInfoJSON))
	})

	ctx := context.Background()
	lobby := NewLobby(conn)
	blinds, err := lobby.StartRun(ctx, DeckRed, StakeWhite, nil)
	require.NoError(t, err)
	assert.Equal(t, PhaseBlindSelection, blinds.Phase())
	assert.Equal(t, 300.0, blinds.Small().Chips)
	assert.Equal(t, "bl_hook", blinds.Boss().Kind)
	assert.Equal(t, BlindState("Upcoming"), blinds.Big().State)

	play, err := blinds.Select(ctx)
	require.NoError(t, err)
	assert.Len(t, play.Hand(), 8)
	assert.Equal(t, uint8(4), play.HandsLeft())
	assert.Equal(t, uint8(3), play.DiscardsLeft())
	assert.Equal(t, 0.0, play.Score())
	assert.Equal(t, uint32(4), play.Money())
	assert.JSONEq(t, `{"Small":{"chips":300}}`, string(play.Blind()))

	play, err = play.Click(ctx, []uint32{0, 1, 2, 3, 4})
	require.NoError(t, err)
	selected := 0
	for _, card := range play.Hand() {
		if card.Selected {
			selected++
		}
	}
	assert.Equal(t, 5, selected)

	outcome, err := play.PlaySelected(ctx)
	require.NoError(t, err)
	require.NotNil(t, outcome.RoundOver)
	assert.Nil(t, outcome.Again)
	assert.Nil(t, outcome.GameOver)
	assert.Equal(t, PhaseRoundOverview, outcome.State().Phase())
	assert.Equal(t, uint64(15), outcome.RoundOver.TotalEarned())
	assert.Len(t, outcome.RoundOver.Earnings(), 3)

	shop, err := outcome.RoundOver.CashOut(ctx)
	require.NoError(t, err)
	assert.Len(t, shop.MainCards(), 1)
	assert.Len(t, shop.Boosters(), 2)
	assert.Equal(t, "v_grabber", shop.Vouchers()[0].Voucher)

	assert.Equal(t, []string{KindStartRun, KindSelectBlind, KindClick, KindPlay, KindCashOut}, <-seen)
}

func TestSkipReturnsFreshSelectionAndConsumesOld(t *testing.T) {
	testlog.Start(t)
	conn, peer := connect(t)

	seen := script(t, peer, func(expect func(string) []byte) {
		expect(KindStartRun)
		peer.ReplyOk(KindBlindInfo, json.RawMessage(blindInfoJSON))
		expect(KindSkipBlind)
		peer.ReplyOk(KindBlindInfo, json.RawMessage(blindInfoJSON))
		expect(KindSelectBlind)
		peer.ReplyOk(KindPlayInfo, playInfoJSON(0, 0, 4, 3))
	})

	ctx := context.Background()
	seed := Seed("ABCD1234")
	first, err := NewLobby(conn).StartRun(ctx, DeckRed, StakeWhite, &seed)
	require.NoError(t, err)

	second, err := first.Skip(ctx)
	require.NoError(t, err)
	assert.True(t, first.Consumed())
	assert.False(t, second.Consumed())

	_, err = first.Select(ctx)
	require.ErrorIs(t, err, ErrStateConsumed)
	_, err = first.Skip(ctx)
	require.ErrorIs(t, err, ErrStateConsumed)

	play, err := second.Select(ctx)
	require.NoError(t, err)
	assert.Equal(t, PhasePlay, play.Phase())
	assert.Equal(t, []string{KindStartRun, KindSkipBlind, KindSelectBlind}, <-seen)
}

func TestFailedTransitionConsumesStateAndResumeRecovers(t *testing.T) {
	testlog.Start(t)
	conn, peer := connect(t)

	seen := script(t, peer, func(expect func(string) []byte) {
		expect(KindGetScreen)
		peer.Reply(KindScreen, map[string]json.RawMessage{"Play": playInfoJSON(0, 120, 3, 2)})
		expect(KindClick)
		peer.ReplyErr(KindPlayInfo, "card index 9 out of range")
		expect(KindGetScreen)
		peer.ReplyOk(KindScreen, map[string]json.RawMessage{"Play": playInfoJSON(0, 120, 3, 2)})
	})

	ctx := context.Background()
	state, err := Resume(ctx, conn)
	require.NoError(t, err)
	play, ok := state.(*Play)
	require.True(t, ok, "expected *Play, got %T", state)
	assert.Equal(t, 120.0, play.Score())

	_, err = play.Click(ctx, []uint32{9})
	var remote *session.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "card index 9 out of range", remote.Message)

	_, err = play.Click(ctx, []uint32{0})
	require.ErrorIs(t, err, ErrStateConsumed)
	assert.Equal(t, uint8(3), play.HandsLeft(), "accessors stay readable after consumption")

	state, err = Resume(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, PhasePlay, state.Phase())
	assert.Equal(t, []string{KindGetScreen, KindClick, KindGetScreen}, <-seen)
}

func TestResumeMapsScreens(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name  string
		body  string
		phase Phase
		err   error
	}{
		{name: "menu", body: `{"Menu": []}`, phase: PhaseLobby},
		{name: "select_blind", body: `{"SelectBlind": ` + blindInfoJSON + `}`, phase: PhaseBlindSelection},
		{name: "shop", body: `{"Shop": ` + shopInfoJSON + `}`, phase: PhaseShop},
		{name: "unknown", body: `{"Credits": []}`, err: ErrUnknownScreen},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn, peer := connect(t)
			go func() {
				peer.Expect(KindGetScreen)
				peer.ReplyOk(KindScreen, json.RawMessage(tc.body))
			}()
			state, err := Resume(context.Background(), conn)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.phase, state.Phase())
		})
	}
}

func TestDiscardAgainThenGameOver(t *testing.T) {
	testlog.Start(t)
	conn, peer := connect(t)

	seen := script(t, peer, func(expect func(string) []byte) {
		expect(KindGetScreen)
		peer.ReplyOk(KindScreen, map[string]json.RawMessage{"Play": playInfoJSON(2, 0, 1, 1)})
		body := expect(KindDiscard)
		assert.Equal(t, "null", string(body))
		peer.ReplyOk(KindDiscardResult, map[string]json.RawMessage{"Again": playInfoJSON(0, 0, 1, 0)})
		expect(KindPlay)
		peer.ReplyOk(KindPlayResult, json.RawMessage(`{"GameOver": []}`))
	})

	ctx := context.Background()
	state, err := Resume(ctx, conn)
	require.NoError(t, err)
	play := state.(*Play)

	discarded, err := play.DiscardSelected(ctx)
	require.NoError(t, err)
	require.NotNil(t, discarded.Again)
	assert.Nil(t, discarded.GameOver)
	assert.Equal(t, uint8(0), discarded.Again.DiscardsLeft())

	outcome, err := discarded.Again.PlaySelected(ctx)
	require.NoError(t, err)
	require.NotNil(t, outcome.GameOver)
	assert.Equal(t, PhaseGameOver, outcome.State().Phase())
	assert.Equal(t, []string{KindGetScreen, KindDiscard, KindPlay}, <-seen)

	require.NoError(t, outcome.GameOver.Close())
	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatalf("connection still open after GameOver.Close")
	}
}

func TestPlayUnknownOutcome(t *testing.T) {
	testlog.Start(t)
	conn, peer := connect(t)
	go func() {
		peer.Expect(KindGetScreen)
		peer.ReplyOk(KindScreen, map[string]json.RawMessage{"Play": playInfoJSON(1, 0, 2, 2)})
		peer.Expect(KindPlay)
		peer.ReplyOk(KindPlayResult, json.RawMessage(`{}`))
	}()

	ctx := context.Background()
	state, err := Resume(ctx, conn)
	require.NoError(t, err)
	_, err = state.(*Play).PlaySelected(ctx)
	require.ErrorIs(t, err, ErrUnknownOutcome)
}

func TestShopPurchasesAndLeave(t *testing.T) {
	testlog.Start(t)
	conn, peer := connect(t)

	seen := script(t, peer, func(expect func(string) []byte) {
		expect(KindGetScreen)
		peer.ReplyOk(KindScreen, json.RawMessage(`{"Shop": `+shopInfoJSON+`}`))
		for _, kind := range []string{KindBuyMain, KindBuyAndUse, KindBuyVoucher, KindBuyBooster} {
			body := expect(kind)
			assert.JSONEq(t, `{"index":1}`, string(body), kind)
			peer.ReplyOk(KindShopInfo, json.RawMessage(shopInfoJSON))
		}
		body := expect(KindReroll)
		assert.Equal(t, "{}", string(body))
		peer.ReplyOk(KindShopInfo, json.RawMessage(shopInfoJSON))
		body = expect(KindLeaveShop)
		assert.Equal(t, "{}", string(body))
		peer.ReplyOk(KindBlindInfo, json.RawMessage(blindInfoJSON))
	})

	ctx := context.Background()
	state, err := Resume(ctx, conn)
	require.NoError(t, err)
	shop := state.(*Shop)

	steps := []func(*Shop) (*Shop, error){
		func(s *Shop) (*Shop, error) { return s.BuyMain(ctx, 1) },
		func(s *Shop) (*Shop, error) { return s.BuyAndUse(ctx, 1) },
		func(s *Shop) (*Shop, error) { return s.BuyVoucher(ctx, 1) },
		func(s *Shop) (*Shop, error) { return s.BuyBooster(ctx, 1) },
		func(s *Shop) (*Shop, error) { return s.Reroll(ctx) },
	}
	for _, step := range steps {
		next, err := step(shop)
		require.NoError(t, err)
		_, err = step(shop)
		require.ErrorIs(t, err, ErrStateConsumed)
		shop = next
	}

	blinds, err := shop.Leave(ctx)
	require.NoError(t, err)
	assert.Equal(t, PhaseBlindSelection, blinds.Phase())
	assert.Equal(t, []string{
		KindGetScreen, KindBuyMain, KindBuyAndUse, KindBuyVoucher, KindBuyBooster, KindReroll, KindLeaveShop,
	}, <-seen)
}

func TestTransitionAfterConnectionLoss(t *testing.T) {
	testlog.Start(t)
	conn, peer := connect(t)
	_ = peer.Close()
	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("engine did not observe peer close")
	}

	_, err := NewLobby(conn).StartRun(context.Background(), DeckBlue, StakeGold, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, session.ErrChannelClosed) || errors.Is(err, session.ErrConnectionClosed), "got %v", err)
	assert.True(t, session.IsFatal(err))
}

func TestParseDeckAndStake(t *testing.T) {
	testlog.Start(t)
	for _, raw := range []string{"red", "Red", " b_red ", "B_RED"} {
		d, err := ParseDeck(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, DeckRed, d)
	}
	d, err := ParseDeck("checkered")
	require.NoError(t, err)
	assert.Equal(t, Deck("b_checkered"), d)

	_, err = ParseDeck("purple")
	require.ErrorIs(t, err, ErrUnknownDeck)
	assert.Contains(t, err.Error(), "erratic")

	s, err := ParseStake("Gold")
	require.NoError(t, err)
	assert.Equal(t, StakeGold, s)
	assert.Equal(t, Stake(8), s)
	assert.Equal(t, "white", StakeWhite.String())

	_, err = ParseStake("platinum")
	require.ErrorIs(t, err, ErrUnknownStake)
}

func TestRequestBodiesMatchPeerEncoding(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		v    any
		want string
	}{
		{name: "unit", v: unit{}, want: `null`},
		{name: "empty_object", v: emptyObject{}, want: `{}`},
		{name: "start_run_seeded", v: startRunRequest{Back: DeckPlasma, Stake: StakeBlack, Seed: ptr(Seed("XYZ"))}, want: `{"back":"b_plasma","stake":4,"seed":"XYZ"}`},
		{name: "click", v: clickRequest{Indices: []uint32{3, 7}}, want: `{"indices":[3,7]}`},
		{name: "index", v: indexRequest{Index: 0}, want: `{"index":0}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := json.Marshal(tc.v)
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(got))
		})
	}
}

func ptr[T any](v T) *T { return &v }
