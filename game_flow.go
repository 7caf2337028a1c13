package main

import (
	"fmt"
	"log"
)

// Faction is the winning side of a game. FactionNone means nobody won yet.
type Faction string

const (
	FactionNone       Faction = ""
	FactionVillagers  Faction = "villagers"
	FactionWerewolves Faction = "werewolves"
)

// evaluateWin inspects the living players only. It has no side effects.
// Werewolves win as soon as they are not outnumbered, parity included.
func evaluateWin(players []*Player) Faction {
	wolves, living := 0, 0
	for _, p := range players {
		if !p.IsAlive() {
			continue
		}
		living++
		if p.HasRole(RoleWerewolf) {
			wolves++
		}
	}
	others := living - wolves
	switch {
	case wolves == 0:
		return FactionVillagers
	case wolves >= others:
		return FactionWerewolves
	default:
		return FactionNone
	}
}

// checkWinConditions evaluates the living players and ends the game when a
// faction has won. It returns the winner, or FactionNone.
func (g *Game) checkWinConditions() Faction {
	if g.Winner != FactionNone {
		return g.Winner
	}
	if g.Phase == PhaseSleep {
		return FactionNone
	}
	winner := evaluateWin(g.Players)
	switch winner {
	case FactionVillagers:
		log.Printf("VILLAGERS WIN - all werewolves eliminated")
	case FactionWerewolves:
		log.Printf("WEREWOLVES WIN - werewolves are no longer outnumbered")
	default:
		return FactionNone
	}
	g.endGame(winner)
	return winner
}

// endGame marks the game as finished with a winner.
func (g *Game) endGame(winner Faction) {
	g.Winner = winner
	g.record(HistoryEntry{
		Action:      ActionGameOver,
		Description: fmt.Sprintf("The game is over: the %s win", winner),
	})
	log.Printf("Game %s finished, winner: %s", g.ID, winner)
}

// undo never reverts anything: kills and eliminations are final.
func (g *Game) undo() error {
	if len(g.History) == 0 {
		return ErrNothingToUndo
	}
	last := g.History[len(g.History)-1]
	return fmt.Errorf("%w: %s", ErrIrreversible, last.Action)
}
