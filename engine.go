package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager runs games on behalf of the external driver. Operations on one game
// are serialized; different games proceed independently.
type Manager struct {
	store SessionStore
	rng   Rand
	clock func() time.Time

	mu        sync.Mutex
	locks     map[string]*sync.Mutex
	resolving map[string]bool
}

func NewManager(store SessionStore, rng Rand) *Manager {
	return &Manager{
		store:     store,
		rng:       rng,
		clock:     time.Now,
		locks:     make(map[string]*sync.Mutex),
		resolving: make(map[string]bool),
	}
}

// lock acquires the game's mutex and returns its release.
func (m *Manager) lock(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (m *Manager) load(ctx context.Context, id string) (*Game, error) {
	if id == "" {
		return nil, ErrGameNotFound
	}
	g, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	g.attach(m.rng, m.clock)
	return g, nil
}

// save checks the invariants and stores g. A defective state is never stored.
func (m *Manager) save(ctx context.Context, g *Game, what string) error {
	if err := g.checkInvariants(); err != nil {
		logError(fmt.Sprintf("%s (game %s)", what, g.ID), err)
		return err
	}
	g.UpdatedAt = g.now()
	if err := m.store.Put(ctx, g); err != nil {
		logError(fmt.Sprintf("%s: store.Put", what), err)
		return err
	}
	LogGameState(g, what)
	return nil
}

// update loads the game, applies fn and stores the result. Rejected
// operations leave the stored game untouched.
func (m *Manager) update(ctx context.Context, id, what string, fn func(*Game) error) (*Game, error) {
	unlock := m.lock(id)
	defer unlock()

	g, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(g); err != nil {
		engineRejections.WithLabelValues(errorCode(err)).Inc()
		DebugLog(id, "%s rejected: %v", what, err)
		return nil, err
	}
	if err := m.save(ctx, g, what); err != nil {
		return nil, err
	}
	return g, nil
}

// view loads a snapshot under the game's lock.
func (m *Manager) view(ctx context.Context, id string) (*Game, error) {
	unlock := m.lock(id)
	defer unlock()
	return m.load(ctx, id)
}

// CreateGame starts a fresh game in the sleep phase.
func (m *Manager) CreateGame(ctx context.Context) (*Game, error) {
	code, err := generateJoinCode()
	if err != nil {
		return nil, fmt.Errorf("join code: %w", err)
	}
	g := newGame(uuid.NewString(), code)
	g.attach(m.rng, m.clock)
	g.CreatedAt = g.now()
	if err := m.save(ctx, g, "game created"); err != nil {
		return nil, err
	}
	gamesCreated.Inc()
	activeGames.Inc()
	log.Printf("Game %s created (join code %s)", g.ID, g.JoinCode)
	return g, nil
}

func (m *Manager) AddPlayer(ctx context.Context, id, name, joinCode string) (*Player, error) {
	var p *Player
	_, err := m.update(ctx, id, "player joined", func(g *Game) (err error) {
		p, err = g.addPlayer(name, joinCode)
		return err
	})
	return p, err
}

func (m *Manager) AssignRole(ctx context.Context, id, name, role string) (*Role, error) {
	kind, err := parseRoleKind(role)
	if err != nil {
		return nil, err
	}
	var r *Role
	_, err = m.update(ctx, id, "role assigned", func(g *Game) (err error) {
		r, err = g.assignRole(name, kind)
		return err
	})
	return r, err
}

func (m *Manager) SetNightTarget(ctx context.Context, id, name, target string) error {
	_, err := m.update(ctx, id, "target set", func(g *Game) error {
		return g.setNightTarget(name, target)
	})
	return err
}

func (m *Manager) SubmitNightAction(ctx context.Context, id, name string) (*NightResult, error) {
	var res *NightResult
	var phase Phase
	_, err := m.update(ctx, id, "night action", func(g *Game) (err error) {
		phase = g.Phase
		res, err = g.submitNightAction(name)
		return err
	})
	if err != nil {
		return nil, err
	}
	observeNightResult(res, phase)
	return res, nil
}

func (m *Manager) SubmitDayVote(ctx context.Context, id, voter, target string) error {
	_, err := m.update(ctx, id, "day vote", func(g *Game) error {
		return g.submitDayVote(voter, target)
	})
	return err
}

// ResolveVote closes the current round's vote. A call made while another
// resolution of the same game is running is rejected with ErrResolveInFlight.
func (m *Manager) ResolveVote(ctx context.Context, id string) (*VoteOutcome, error) {
	m.mu.Lock()
	if m.resolving[id] {
		m.mu.Unlock()
		engineRejections.WithLabelValues(errorCode(ErrResolveInFlight)).Inc()
		return nil, ErrResolveInFlight
	}
	m.resolving[id] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.resolving, id)
		m.mu.Unlock()
	}()

	var out *VoteOutcome
	_, err := m.update(ctx, id, "vote resolution", func(g *Game) (err error) {
		out, err = g.resolveVote()
		return err
	})
	if err != nil {
		return nil, err
	}
	if !out.AlreadyResolved {
		observeVoteOutcome(out)
	}
	return out, nil
}

func (m *Manager) AdvancePhase(ctx context.Context, id, phase string) (*Game, error) {
	target, err := parsePhase(phase)
	if err != nil {
		return nil, err
	}
	return m.update(ctx, id, "phase change", func(g *Game) error {
		return g.advancePhase(target)
	})
}

func (m *Manager) Graveyard(ctx context.Context, id string) ([]DeadCard, error) {
	g, err := m.view(ctx, id)
	if err != nil {
		return nil, err
	}
	return g.Graveyard.All(), nil
}

// EvaluateWin reports the winner without changing the game.
func (m *Manager) EvaluateWin(ctx context.Context, id string) (Faction, error) {
	g, err := m.view(ctx, id)
	if err != nil {
		return FactionNone, err
	}
	if g.Winner != FactionNone || g.Phase == PhaseSleep {
		return g.Winner, nil
	}
	return evaluateWin(g.Players), nil
}

// Game returns a snapshot of the game.
func (m *Manager) Game(ctx context.Context, id string) (*Game, error) {
	return m.view(ctx, id)
}

func (m *Manager) DayVotes(ctx context.Context, id string, round int) ([]DayVote, error) {
	g, err := m.view(ctx, id)
	if err != nil {
		return nil, err
	}
	return g.dayVotes(round), nil
}

// History returns the entries viewer may see. An empty viewer is a spectator.
func (m *Manager) History(ctx context.Context, id, viewer string) ([]HistoryEntry, error) {
	g, err := m.view(ctx, id)
	if err != nil {
		return nil, err
	}
	var p *Player
	if viewer != "" {
		if p = g.player(viewer); p == nil {
			return nil, fmt.Errorf("%w: %q", ErrPlayerNotFound, viewer)
		}
	}
	return g.visibleHistory(p), nil
}

// Undo is always rejected: resolved actions are final.
func (m *Manager) Undo(ctx context.Context, id string) error {
	g, err := m.view(ctx, id)
	if err != nil {
		return err
	}
	err = g.undo()
	engineRejections.WithLabelValues(errorCode(err)).Inc()
	return err
}

// AppendStory adds a narrated passage to the public history.
func (m *Manager) AppendStory(ctx context.Context, id, text string) error {
	_, err := m.update(ctx, id, "story", func(g *Game) error {
		g.record(HistoryEntry{Action: ActionStory, Description: text})
		return nil
	})
	return err
}

// EndGame tears the session down.
func (m *Manager) EndGame(ctx context.Context, id string) error {
	_, err := m.teardown(ctx, id, nil)
	return err
}

// teardown deletes the game under its lock when keep is nil or approves the
// current state, and forgets the lock. It reports whether the game was deleted.
func (m *Manager) teardown(ctx context.Context, id string, keep func(*Game) bool) (bool, error) {
	unlock := m.lock(id)
	g, err := m.store.Get(ctx, id)
	if err != nil {
		unlock()
		return false, err
	}
	if keep != nil && !keep(g) {
		unlock()
		return false, nil
	}
	err = m.store.Delete(ctx, id)
	unlock()
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	delete(m.locks, id)
	m.mu.Unlock()
	activeGames.Dec()
	log.Printf("Game %s closed", id)
	return true, nil
}

// ReapIdle tears down games untouched for longer than ttl. Stores without
// reaping support expire games themselves.
func (m *Manager) ReapIdle(ctx context.Context, ttl time.Duration) (int, error) {
	r, ok := m.store.(idleReaper)
	if !ok {
		return 0, nil
	}
	cutoff := m.clock().Add(-ttl)
	ids, err := r.IdleIDs(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		// The game may have been touched since it was listed.
		stillIdle := func(g *Game) bool { return g.UpdatedAt.Before(cutoff) }
		deleted, err := m.teardown(ctx, id, stillIdle)
		if err != nil && !errors.Is(err, ErrGameNotFound) {
			return n, err
		}
		if deleted {
			n++
		}
	}
	if n > 0 {
		log.Printf("Reaped %d idle games", n)
	}
	return n, nil
}

// actionJournal is implemented by stores that keep a separate action log.
type actionJournal interface {
	actions(ctx context.Context, gameID string) ([]GameAction, error)
}

// Journal returns the stored action log as a spectator sees it, or the whole
// log once the game is over.
func (m *Manager) Journal(ctx context.Context, id string) ([]HistoryEntry, error) {
	j, ok := m.store.(actionJournal)
	if !ok {
		return m.History(ctx, id, "")
	}
	g, err := m.view(ctx, id)
	if err != nil {
		return nil, err
	}
	rows, err := j.actions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	var out []HistoryEntry
	for _, row := range rows {
		e := row.entry()
		if g.Winner != FactionNone || canSeeAction(e, nil, g.Round, g.Phase) {
			out = append(out, e)
		}
	}
	return out, nil
}
