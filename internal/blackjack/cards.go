package blackjack

import (
	"math/rand/v2"
	"strconv"
)

var (
	suits  = []string{"S", "H", "D", "C"}
	values = []string{"A", "2", "3", "4", "5", "6", "7", "8", "9", "10", "J", "Q", "K"}
)

type Card struct {
	Suit  string `json:"suit"`
	Value string `json:"value"`
}

type Hand struct {
	Cards []Card `json:"cards"`
	// Done is set once the player stood or busted.
	Done   bool `json:"done"`
	Busted bool `json:"busted"`
}

// DeckFunc returns a fresh deck, top card first.
type DeckFunc func() []Card

// NewDeck returns the 52 cards in suit then value order.
func NewDeck() []Card {
	deck := make([]Card, 0, len(suits)*len(values))
	for _, suit := range suits {
		for _, value := range values {
			deck = append(deck, Card{Suit: suit, Value: value})
		}
	}
	return deck
}

func NewShuffledDeck() []Card {
	deck := NewDeck()
	rand.Shuffle(len(deck), func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})
	return deck
}

// Value scores the hand, counting aces as 11 and dropping them to 1 one at
// a time while the hand is over 21.
func (h Hand) Value() int {
	total, aces := 0, 0

	for _, card := range h.Cards {
		switch card.Value {
		case "A":
			total += 11
			aces++
		case "K", "Q", "J":
			total += 10
		default:
			v, _ := strconv.Atoi(card.Value)
			total += v
		}
	}

	for total > 21 && aces > 0 {
		total -= 10
		aces--
	}

	return total
}

func (h Hand) IsBusted() bool {
	return h.Value() > 21
}

func (h Hand) clone() Hand {
	h.Cards = append([]Card(nil), h.Cards...)
	return h
}
