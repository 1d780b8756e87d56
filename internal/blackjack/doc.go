// Package blackjack is the game server each pool instance runs: three
// players against a dealer, one game per room, held in memory.
package blackjack
