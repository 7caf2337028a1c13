package main

import (
	"fmt"
	"log"
	"strings"
	"time"
)

const (
	minPlayers = 6
	maxPlayers = 8
)

// Game is the authoritative state of one game session.
type Game struct {
	ID       string    `json:"id"`
	JoinCode string    `json:"join_code"`
	Round    int       `json:"round"`
	Phase    Phase     `json:"phase"`
	Players  []*Player `json:"players"`

	Graveyard Graveyard `json:"graveyard"`

	// NightActed holds the night-order roles that already acted this night.
	NightActed map[RoleKind]bool `json:"night_acted"`

	// Ballots are the current round's day votes, voter -> target.
	Ballots map[string]string `json:"ballots"`

	// Outcomes holds every resolved vote, keyed by round.
	Outcomes          map[int]*VoteOutcome `json:"outcomes"`
	LastResolvedRound int                  `json:"last_resolved_round"`

	Winner  Faction        `json:"winner,omitempty"`
	History []HistoryEntry `json:"history"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	rng   Rand
	clock func() time.Time
}

func newGame(id, joinCode string) *Game {
	g := &Game{
		ID:       id,
		JoinCode: joinCode,
		Round:    1,
		Phase:    PhaseSleep,
	}
	g.ensureMaps()
	g.CreatedAt = g.now()
	g.UpdatedAt = g.CreatedAt
	return g
}

// ensureMaps initializes maps that may be nil after decoding a stored game.
func (g *Game) ensureMaps() {
	if g.NightActed == nil {
		g.NightActed = make(map[RoleKind]bool)
	}
	if g.Ballots == nil {
		g.Ballots = make(map[string]string)
	}
	if g.Outcomes == nil {
		g.Outcomes = make(map[int]*VoteOutcome)
	}
}

// attach wires the runtime dependencies that are not part of the stored state.
func (g *Game) attach(rng Rand, clock func() time.Time) {
	g.rng = rng
	g.clock = clock
	g.ensureMaps()
}

func (g *Game) now() time.Time {
	if g.clock != nil {
		return g.clock()
	}
	return time.Now()
}

func (g *Game) random() Rand {
	if g.rng == nil {
		g.rng = fallbackRand
	}
	return g.rng
}

var fallbackRand = newLockedRand(time.Now().UnixNano())

func (g *Game) player(name string) *Player {
	if name == "" {
		return nil
	}
	for _, p := range g.Players {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Living returns the alive players in join order.
func (g *Game) Living() []*Player {
	var out []*Player
	for _, p := range g.Players {
		if p.IsAlive() {
			out = append(out, p)
		}
	}
	return out
}

func (g *Game) livingExcept(skip *Player) []*Player {
	var out []*Player
	for _, p := range g.Players {
		if p.IsAlive() && p != skip {
			out = append(out, p)
		}
	}
	return out
}

// isProtected reports whether any Guardian protects target this night.
func (g *Game) isProtected(target *Player) bool {
	for _, p := range g.Players {
		if p.HasRole(RoleGuardian) && p.Role.ProtectedThisNight == target.Name {
			return true
		}
	}
	return false
}

func (g *Game) addPlayer(name, joinCode string) (*Player, error) {
	name = strings.TrimSpace(name)
	if !strings.EqualFold(strings.TrimSpace(joinCode), g.JoinCode) {
		return nil, fmt.Errorf("%w: %q", ErrBadJoinCode, joinCode)
	}
	if name == "" {
		return nil, ErrEmptyName
	}
	if g.Phase != PhaseSleep || g.Winner != FactionNone {
		return nil, ErrGameStarted
	}
	if g.player(name) != nil {
		return nil, fmt.Errorf("%w: %q", ErrDuplicatePlayer, name)
	}
	if len(g.Players) >= maxPlayers {
		return nil, ErrGameFull
	}

	p := newPlayer(name)
	g.Players = append(g.Players, p)
	log.Printf("%s joined game %s (%d/%d players)", name, g.ID, len(g.Players), maxPlayers)
	return p, nil
}

func (g *Game) assignRole(name string, kind RoleKind) (*Role, error) {
	if _, ok := roleCatalog[kind]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, kind)
	}
	p := g.player(name)
	if p == nil {
		return nil, fmt.Errorf("%w: %q", ErrPlayerNotFound, name)
	}
	if g.Phase != PhaseSleep {
		return nil, ErrGameStarted
	}
	if p.Role != nil {
		return nil, fmt.Errorf("%w: %s is %s", ErrRoleAlreadyAssigned, p.Name, p.RoleName())
	}
	if roleCatalog[kind].Unique {
		for _, other := range g.Players {
			if other.HasRole(kind) {
				return nil, fmt.Errorf("%w: %s", ErrRoleTaken, roleCatalog[kind].DisplayName)
			}
		}
	}

	p.Role = newRole(kind)
	log.Printf("%s set role to: %s", p.Name, p.RoleName())
	return p.Role, nil
}

func (g *Game) setNightTarget(name, targetName string) error {
	p := g.player(name)
	if p == nil {
		return fmt.Errorf("%w: %q", ErrPlayerNotFound, name)
	}
	if p.Role == nil || !p.Role.canTarget() {
		return ErrNoTargetAbility
	}
	target := g.player(targetName)
	if target == nil {
		return fmt.Errorf("%w: %q", ErrTargetNotFound, targetName)
	}
	p.Role.Target = target.Name
	DebugLog(g.ID, "%s (%s) chose %s as target", p.Name, p.RoleName(), target.Name)
	return nil
}

// actionContext is what a role ability sees while it acts.
type actionContext struct {
	game    *Game
	actor   *Player
	deaths  []string
	cascade []ActionSummary
}

func (c *actionContext) living() []*Player {
	return c.game.Living()
}

// chosenTarget returns the player the actor selected, or nil.
func (c *actionContext) chosenTarget() *Player {
	if c.actor == nil || c.actor.Role == nil {
		return nil
	}
	return c.game.player(c.actor.Role.Target)
}

func (c *actionContext) setTarget(p *Player) {
	if c.actor != nil && c.actor.Role != nil {
		c.actor.Role.Target = p.Name
	}
}

// fallbackTarget picks the first living player in join order matching keep
// and makes it the actor's target.
func (c *actionContext) fallbackTarget(keep func(*Player) bool) *Player {
	for _, p := range c.living() {
		if keep(p) {
			c.setTarget(p)
			DebugLog(c.game.ID, "%s had no target, defaulting to %s", c.actor.Name, p.Name)
			return p
		}
	}
	return nil
}

func (c *actionContext) markDead(p *Player) {
	p.Status = StatusDead
	log.Printf("%s state changed to dead", p.Name)
}

func (c *actionContext) registerDeath(p *Player) {
	c.deaths = append(c.deaths, p.Name)
}

// kill marks p dead, registers the death and fires the Hunter's shot when p
// is a Hunter. Dead players are never killed twice.
func (c *actionContext) kill(p *Player) {
	if !p.IsAlive() {
		return
	}
	c.markDead(p)
	c.registerDeath(p)
	if p.HasRole(RoleHunter) {
		c.cascade = append(c.cascade, c.game.triggerHunter(c, p))
	}
}

func (c *actionContext) summary(r *Role, target *Player, outcome Outcome, format string, args ...any) ActionSummary {
	s := ActionSummary{
		Role:    r.Kind,
		Actor:   c.actor.Name,
		Outcome: outcome,
		Message: fmt.Sprintf(format, args...),
	}
	if target != nil {
		s.Target = target.Name
	}
	log.Print(s.Message)
	return s
}

// sweepDeaths moves every dead player into the graveyard and clears their
// role. It returns the names recorded by this call.
func (g *Game) sweepDeaths() []string {
	var recorded []string
	for _, p := range g.Players {
		if p.IsAlive() {
			continue
		}
		if g.Graveyard.Record(p) {
			recorded = append(recorded, p.Name)
		}
		if p.Role != nil {
			DebugLog(g.ID, "%s removed role: %s", p.Name, p.RoleName())
			p.Role = nil
		}
	}
	return recorded
}

// checkInvariants reports engine defects in the current state.
func (g *Game) checkInvariants() error {
	if g.Round < 1 {
		return fmt.Errorf("%w: round %d", ErrInvariant, g.Round)
	}
	for _, p := range g.Players {
		if p.IsAlive() {
			continue
		}
		if !g.Graveyard.Contains(p.Name) {
			return fmt.Errorf("%w: dead player %s missing from graveyard", ErrInvariant, p.Name)
		}
		if p.Role != nil {
			return fmt.Errorf("%w: dead player %s still holds %s", ErrInvariant, p.Name, p.RoleName())
		}
	}
	if g.Phase == PhaseNight && g.Winner == FactionNone && len(g.Living()) > 0 && g.nightComplete() {
		return fmt.Errorf("%w: night %d complete but still in progress", ErrInvariant, g.Round)
	}
	return nil
}
