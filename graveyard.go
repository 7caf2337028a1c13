package main

import "log"

// DeadCard is one graveyard entry: a player and the role they died with.
type DeadCard struct {
	Player string `json:"player"`
	Role   string `json:"role"`
}

// Graveyard is the append-only record of eliminated players, one entry per
// player, in the order they were recorded.
type Graveyard struct {
	Cards []DeadCard `json:"cards"`
}

// Record appends the player with their current role name. Recording a player
// twice is a no-op. Returns true if an entry was added.
func (g *Graveyard) Record(p *Player) bool {
	if g.Contains(p.Name) {
		return false
	}
	g.Cards = append(g.Cards, DeadCard{Player: p.Name, Role: p.RoleName()})
	log.Printf("Added %s (%s) to the graveyard", p.Name, p.RoleName())
	return true
}

func (g *Graveyard) Contains(name string) bool {
	for _, c := range g.Cards {
		if c.Player == name {
			return true
		}
	}
	return false
}

// RoleOf returns the role name name died with, or "".
func (g *Graveyard) RoleOf(name string) string {
	for _, c := range g.Cards {
		if c.Player == name {
			return c.Role
		}
	}
	return ""
}

// All returns a copy of the entries in insertion order.
func (g *Graveyard) All() []DeadCard {
	out := make([]DeadCard, len(g.Cards))
	copy(out, g.Cards)
	return out
}
