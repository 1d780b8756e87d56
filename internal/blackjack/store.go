package blackjack

import (
	"errors"
	"sync"
)

var ErrGameNotFound = errors.New("game not found")

// Store keeps one game per room.
type Store struct {
	mutex   sync.Mutex
	games   map[string]*Game
	newDeck DeckFunc
}

func NewStore(newDeck DeckFunc) *Store {
	if newDeck == nil {
		newDeck = NewShuffledDeck
	}
	return &Store{
		games:   make(map[string]*Game),
		newDeck: newDeck,
	}
}

// Start deals a new game in room, replacing any game already there.
func (s *Store) Start(room string) *Game {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	g := NewGame(s.newDeck)
	s.games[room] = g
	return g.Snapshot()
}

func (s *Store) Get(room string) (*Game, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	g, ok := s.games[room]
	if !ok {
		return nil, ErrGameNotFound
	}
	return g.Snapshot(), nil
}

func (s *Store) Act(room string, player int, action string) (*Game, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	g, ok := s.games[room]
	if !ok {
		return nil, ErrNotPlaying
	}
	if err := g.Act(player, action); err != nil {
		return nil, err
	}
	return g.Snapshot(), nil
}

// Playable reports whether room holds a game that still accepts moves.
func (s *Store) Playable(room string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	g, ok := s.games[room]
	return ok && g.Status == StatusPlaying
}
