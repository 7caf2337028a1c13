package main

import "time"

// HistoryEntry records one action taken during the game.
// Visibility determines who can see it:
//   - "public": everyone
//   - "team:werewolf": only the werewolf team
//   - "actor": only the actor
//   - "resolved": hidden until the phase it happened in is over, then public
type HistoryEntry struct {
	Round       int       `json:"round"`
	Phase       Phase     `json:"phase"`
	Action      string    `json:"action"`
	Actor       string    `json:"actor,omitempty"`
	Target      string    `json:"target,omitempty"`
	Visibility  string    `json:"visibility"`
	Description string    `json:"description"`
	At          time.Time `json:"at"`
}

// Action types
const (
	ActionSeerInvestigate = "seer_investigate"
	ActionGuardianProtect = "guardian_protect"
	ActionWerewolfTarget  = "werewolf_target"
	ActionWerewolfKill    = "werewolf_kill"
	ActionWitchPoison     = "witch_poison"
	ActionHunterRevenge   = "hunter_revenge"
	ActionDayVote         = "day_vote"
	ActionElimination     = "elimination"
	ActionNoElimination   = "no_elimination"
	ActionPhaseChange     = "phase_change"
	ActionGameOver        = "game_over"
	ActionStory           = "story"
)

// Visibility types
const (
	VisibilityPublic       = "public"
	VisibilityTeamWerewolf = "team:werewolf"
	VisibilityActor        = "actor"
	VisibilityResolved     = "resolved"
)

// canSeeAction determines if viewer may see the entry given the current
// round and phase. A nil viewer is a spectator and only sees public entries.
func canSeeAction(e HistoryEntry, viewer *Player, currentRound int, currentPhase Phase) bool {
	switch e.Visibility {
	case VisibilityPublic:
		return true
	case VisibilityTeamWerewolf:
		return viewer != nil && viewer.Role != nil && viewer.Role.Team() == TeamWerewolf
	case VisibilityActor:
		return viewer != nil && viewer.Name == e.Actor
	case VisibilityResolved:
		if e.Round < currentRound {
			return true
		}
		return e.Round == currentRound && e.Phase == PhaseNight && currentPhase != PhaseNight
	default:
		return false
	}
}

// record appends an entry stamped with the current round and phase.
func (g *Game) record(e HistoryEntry) {
	e.Round = g.Round
	if e.Phase == "" {
		e.Phase = g.Phase
	}
	if e.Visibility == "" {
		e.Visibility = VisibilityPublic
	}
	e.At = g.now()
	g.History = append(g.History, e)
}

// visibleHistory returns the entries viewer is allowed to see. Everything is
// revealed once the game is over.
func (g *Game) visibleHistory(viewer *Player) []HistoryEntry {
	var out []HistoryEntry
	for _, e := range g.History {
		if g.Winner != FactionNone || canSeeAction(e, viewer, g.Round, g.Phase) {
			out = append(out, e)
		}
	}
	return out
}

// publicDescriptions returns the descriptions everyone can currently read.
func (g *Game) publicDescriptions() []string {
	var out []string
	for _, e := range g.visibleHistory(nil) {
		if e.Description != "" {
			out = append(out, e.Description)
		}
	}
	return out
}
