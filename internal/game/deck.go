package game

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownDeck  = errors.New("game: unknown deck")
	ErrUnknownStake = errors.New("game: unknown stake")
)

// Deck is the peer's wire code for a starting deck ("back").
type Deck string

const (
	DeckRed       Deck = "b_red"
	DeckBlue      Deck = "b_blue"
	DeckYellow    Deck = "b_yellow"
	DeckGreen     Deck = "b_green"
	DeckBlack     Deck = "b_black"
	DeckMagic     Deck = "b_magic"
	DeckNebula    Deck = "b_nebula"
	DeckGhost     Deck = "b_ghost"
	DeckAbandoned Deck = "b_abandoned"
	DeckCheckered Deck = "b_checkered"
	DeckZodiac    Deck = "b_zodiac"
	DeckPainted   Deck = "b_painted"
	DeckAnaglyph  Deck = "b_anaglyph"
	DeckPlasma    Deck = "b_plasma"
	DeckErratic   Deck = "b_erratic"
)

var decks = []Deck{
	DeckRed, DeckBlue, DeckYellow, DeckGreen, DeckBlack,
	DeckMagic, DeckNebula, DeckGhost, DeckAbandoned, DeckCheckered,
	DeckZodiac, DeckPainted, DeckAnaglyph, DeckPlasma, DeckErratic,
}

// Name is the deck's short name, e.g. "red".
func (d Deck) Name() string {
	return strings.TrimPrefix(string(d), "b_")
}

// ParseDeck accepts a short name ("red") or a wire code ("b_red"), case-insensitively.
func ParseDeck(raw string) (Deck, error) {
	name := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), "b_")
	for _, d := range decks {
		if d.Name() == name {
			return d, nil
		}
	}
	names := make([]string, 0, len(decks))
	for _, d := range decks {
		names = append(names, d.Name())
	}
	return "", fmt.Errorf("%w %q (valid: %s)", ErrUnknownDeck, raw, strings.Join(names, ", "))
}

// Stake is encoded on the wire as its number, 1 (white) through 8 (gold).
type Stake uint8

const (
	StakeWhite Stake = iota + 1
	StakeRed
	StakeGreen
	StakeBlack
	StakeBlue
	StakePurple
	StakeOrange
	StakeGold
)

var stakeNames = [...]string{"white", "red", "green", "black", "blue", "purple", "orange", "gold"}

func (s Stake) String() string {
	if s < StakeWhite || s > StakeGold {
		return fmt.Sprintf("stake(%d)", uint8(s))
	}
	return stakeNames[s-1]
}

func ParseStake(raw string) (Stake, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	for i, n := range stakeNames {
		if n == name {
			return Stake(i + 1), nil
		}
	}
	return 0, fmt.Errorf("%w %q (valid: %s)", ErrUnknownStake, raw, strings.Join(stakeNames[:], ", "))
}

// Seed fixes the run's shuffle. A nil *Seed lets the game pick one.
type Seed string
