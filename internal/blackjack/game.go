package blackjack

import "errors"

const (
	Players = 3
	// DealerTurn is the turn value once every player is done.
	DealerTurn = Players

	StatusPlaying  = "playing"
	StatusFinished = "finished"

	ResultPlaying = "Playing"
	ResultWin     = "Win"
	ResultLose    = "Lose"
	ResultBust    = "Bust"
	ResultPush    = "Push"

	ActionHit   = "hit"
	ActionStand = "stand"

	dealerStandsOn = 17
)

var (
	ErrNotPlaying     = errors.New("game not found or not in playing state")
	ErrInvalidPlayer  = errors.New("invalid player")
	ErrPlayerFinished = errors.New("player already finished")
	ErrUnknownAction  = errors.New("unknown action")
)

type Game struct {
	deck    []Card
	newDeck DeckFunc

	Dealer  Hand     `json:"dealer"`
	Players []Hand   `json:"players"`
	Results []string `json:"results"`
	Turn    int      `json:"turn"`
	Status  string   `json:"status"`
}

// NewGame deals two cards to each player and then the dealer, round by
// round.
func NewGame(newDeck DeckFunc) *Game {
	g := &Game{
		deck:    newDeck(),
		newDeck: newDeck,
		Players: make([]Hand, Players),
		Results: make([]string, Players),
		Status:  StatusPlaying,
	}

	for range 2 {
		for p := range g.Players {
			g.deal(&g.Players[p])
		}
		g.deal(&g.Dealer)
	}

	for i := range g.Results {
		g.Results[i] = ResultPlaying
	}

	return g
}

func (g *Game) deal(hand *Hand) {
	if len(g.deck) == 0 {
		g.deck = g.newDeck()
	}
	hand.Cards = append(hand.Cards, g.deck[0])
	g.deck = g.deck[1:]
}

// Act applies one player's move. When no player is left to move the dealer
// plays out and the game is settled.
func (g *Game) Act(player int, action string) error {
	if g.Status != StatusPlaying {
		return ErrNotPlaying
	}
	if player < 0 || player >= len(g.Players) {
		return ErrInvalidPlayer
	}

	hand := &g.Players[player]
	if hand.Done {
		return ErrPlayerFinished
	}

	switch action {
	case ActionHit:
		g.deal(hand)
		if hand.IsBusted() {
			hand.Busted = true
			hand.Done = true
		}
	case ActionStand:
		hand.Done = true
	default:
		return ErrUnknownAction
	}

	for i := range g.Players {
		if !g.Players[i].Done {
			g.Turn = i
			return nil
		}
	}

	for g.Dealer.Value() < dealerStandsOn {
		g.deal(&g.Dealer)
	}
	g.settle()
	g.Status = StatusFinished
	g.Turn = DealerTurn

	return nil
}

func (g *Game) settle() {
	dealer := g.Dealer.Value()

	for i, hand := range g.Players {
		player := hand.Value()
		switch {
		case hand.Busted:
			g.Results[i] = ResultBust
		case dealer > 21 || player > dealer:
			g.Results[i] = ResultWin
		case player < dealer:
			g.Results[i] = ResultLose
		default:
			g.Results[i] = ResultPush
		}
	}
}

// Snapshot copies the visible state so it can be encoded outside the
// store lock.
func (g *Game) Snapshot() *Game {
	out := &Game{
		Dealer:  g.Dealer.clone(),
		Players: make([]Hand, len(g.Players)),
		Results: append([]string(nil), g.Results...),
		Turn:    g.Turn,
		Status:  g.Status,
	}
	for i, hand := range g.Players {
		out.Players[i] = hand.clone()
	}
	return out
}
