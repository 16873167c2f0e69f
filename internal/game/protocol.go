package game

import (
	"encoding/json"

	"github.com/danmuck/balatrobot/internal/protocol/session"
)

// Request kinds sent to the peer and the kinds it answers with.
const (
	KindStartRun    = "main_menu/start_run"
	KindSelectBlind = "blind_select/select"
	KindSkipBlind   = "blind_select/skip"
	KindClick       = "play/click"
	KindPlay        = "play/play"
	KindDiscard     = "play/discard"
	KindCashOut     = "overview/cash_out"
	KindBuyMain     = "shop/buymain"
	KindBuyAndUse   = "shop/buyuse"
	KindBuyVoucher  = "shop/buyvoucher"
	KindBuyBooster  = "shop/buybooster"
	KindReroll      = "shop/reroll"
	KindLeaveShop   = "shop/continue"
	KindGetScreen   = "screen/get"

	KindBlindInfo     = "blind_select/info"
	KindPlayInfo      = "play/hand"
	KindPlayResult    = "play/play/result"
	KindDiscardResult = "play/discard/result"
	KindShopInfo      = "shop/info"
	KindScreen        = "screen/current"
)

var (
	startRunRoute    = session.NewRoute[startRunRequest, BlindInfo](KindStartRun, KindBlindInfo)
	selectBlindRoute = session.NewRoute[unit, PlayInfo](KindSelectBlind, KindPlayInfo)
	skipBlindRoute   = session.NewRoute[unit, BlindInfo](KindSkipBlind, KindBlindInfo)
	clickRoute       = session.NewRoute[clickRequest, PlayInfo](KindClick, KindPlayInfo)
	playRoute        = session.NewRoute[unit, playResult](KindPlay, KindPlayResult)
	discardRoute     = session.NewRoute[unit, discardResult](KindDiscard, KindDiscardResult)
	cashOutRoute     = session.NewRoute[unit, ShopInfo](KindCashOut, KindShopInfo)
	buyMainRoute     = session.NewRoute[indexRequest, ShopInfo](KindBuyMain, KindShopInfo)
	buyAndUseRoute   = session.NewRoute[indexRequest, ShopInfo](KindBuyAndUse, KindShopInfo)
	buyVoucherRoute  = session.NewRoute[indexRequest, ShopInfo](KindBuyVoucher, KindShopInfo)
	buyBoosterRoute  = session.NewRoute[indexRequest, ShopInfo](KindBuyBooster, KindShopInfo)
	rerollRoute      = session.NewRoute[emptyObject, ShopInfo](KindReroll, KindShopInfo)
	leaveShopRoute   = session.NewRoute[emptyObject, BlindInfo](KindLeaveShop, KindBlindInfo)
	screenRoute      = session.NewRoute[unit, screenInfo](KindGetScreen, KindScreen)
)

// unit is a request without fields; the peer expects a JSON null body.
type unit struct{}

func (unit) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// emptyObject is a request without fields that the peer expects as {}.
type emptyObject struct{}

type startRunRequest struct {
	Back  Deck  `json:"back"`
	Stake Stake `json:"stake"`
	Seed  *Seed `json:"seed"`
}

type clickRequest struct {
	Indices []uint32 `json:"indices"`
}

type indexRequest struct {
	Index uint8 `json:"index"`
}

// BlindState is Select, Skipped, Upcoming or Defeated.
type BlindState string

type BlindChoice struct {
	State BlindState `json:"state"`
	Chips float64    `json:"chips"`
	Tag   string     `json:"tag"`
}

type BossChoice struct {
	Kind  string     `json:"kind"`
	State BlindState `json:"state"`
	Chips float64    `json:"chips"`
}

// BlindInfo is the blind selection screen.
type BlindInfo struct {
	Small BlindChoice `json:"small"`
	Big   BlindChoice `json:"big"`
	Boss  BossChoice  `json:"boss"`
}

type HandCard struct {
	Card     json.RawMessage `json:"card"`
	Selected bool            `json:"selected"`
}

// PlayInfo is the play screen. CurrentBlind stays opaque, e.g. {"Small":{"chips":300}}.
type PlayInfo struct {
	CurrentBlind json.RawMessage `json:"current_blind"`
	Hand         []HandCard      `json:"hand"`
	Score        float64         `json:"score"`
	Hands        uint8           `json:"hands"`
	Discards     uint8           `json:"discards"`
	Money        uint32          `json:"money"`
}

type Earning struct {
	Kind  json.RawMessage `json:"kind"`
	Value uint64          `json:"value"`
}

// RoundOverviewInfo arrives inside a play result, never as its own frame.
type RoundOverviewInfo struct {
	Earnings    []Earning `json:"earnings"`
	TotalEarned uint64    `json:"total_earned"`
}

type MainCard struct {
	Item    json.RawMessage `json:"item"`
	Price   uint8           `json:"price"`
	Edition json.RawMessage `json:"edition"`
}

type VoucherItem struct {
	Voucher string `json:"voucher"`
	Price   uint8  `json:"price"`
}

type BoosterItem struct {
	Booster string `json:"booster"`
	Price   uint8  `json:"price"`
}

type ShopInfo struct {
	Main     []MainCard    `json:"main"`
	Vouchers []VoucherItem `json:"vouchers"`
	Boosters []BoosterItem `json:"boosters"`
}

// Externally tagged unions: exactly one field is set.
type playResult struct {
	Again     *PlayInfo          `json:"Again,omitempty"`
	RoundOver *RoundOverviewInfo `json:"RoundOver,omitempty"`
	GameOver  json.RawMessage    `json:"GameOver,omitempty"`
}

type discardResult struct {
	Again    *PlayInfo       `json:"Again,omitempty"`
	GameOver json.RawMessage `json:"GameOver,omitempty"`
}

type screenInfo struct {
	Menu        json.RawMessage `json:"Menu,omitempty"`
	SelectBlind *BlindInfo      `json:"SelectBlind,omitempty"`
	Play        *PlayInfo       `json:"Play,omitempty"`
	Shop        *ShopInfo       `json:"Shop,omitempty"`
}
