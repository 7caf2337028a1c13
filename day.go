package main

import (
	"fmt"
	"log"
	"sort"
)

// DayVote is one ballot of a day vote.
type DayVote struct {
	Voter  string `json:"voter"`
	Target string `json:"target"`
}

// VoteOutcome is the result of resolving one round's day vote.
type VoteOutcome struct {
	Round           int               `json:"round"`
	Eliminated      string            `json:"eliminated,omitempty"`
	Tie             bool              `json:"tie"`
	Winner          Faction           `json:"winner,omitempty"`
	Counts          map[string]int    `json:"counts"`
	Ballots         map[string]string `json:"ballots"`
	CascadeDeaths   []string          `json:"cascade_deaths,omitempty"`
	AlreadyResolved bool              `json:"already_resolved"`
}

// replay returns a copy of a stored outcome flagged as already resolved.
func (o *VoteOutcome) replay() *VoteOutcome {
	cp := *o
	cp.AlreadyResolved = true
	return &cp
}

func (g *Game) submitDayVote(voterName, targetName string) error {
	if g.Winner != FactionNone {
		return ErrGameOver
	}
	if g.Phase != PhaseVoting {
		return fmt.Errorf("%w: votes are cast during voting", ErrWrongPhase)
	}
	voter := g.player(voterName)
	if voter == nil {
		return fmt.Errorf("%w: %q", ErrPlayerNotFound, voterName)
	}
	target := g.player(targetName)
	if target == nil {
		return fmt.Errorf("%w: %q", ErrTargetNotFound, targetName)
	}
	if !voter.IsAlive() {
		return fmt.Errorf("%w: %s", ErrVoterDead, voter.Name)
	}
	if !target.IsAlive() {
		return fmt.Errorf("%w: %s", ErrTargetDead, target.Name)
	}
	if _, voted := g.Ballots[voter.Name]; voted {
		return fmt.Errorf("%w: %s", ErrAlreadyVoted, voter.Name)
	}

	g.Ballots[voter.Name] = target.Name
	g.record(HistoryEntry{
		Action:      ActionDayVote,
		Actor:       voter.Name,
		Target:      target.Name,
		Description: fmt.Sprintf("%s voted against %s", voter.Name, target.Name),
	})
	log.Printf("Player %s voted to eliminate %s", voter.Name, target.Name)
	return nil
}

// dayVotes returns the ballots of round in voter order: the live ballots for
// the current round, the archived ones for resolved rounds.
func (g *Game) dayVotes(round int) []DayVote {
	ballots := g.Ballots
	if o, ok := g.Outcomes[round]; ok {
		ballots = o.Ballots
	} else if round != g.Round {
		return nil
	}
	votes := make([]DayVote, 0, len(ballots))
	for voter, target := range ballots {
		votes = append(votes, DayVote{Voter: voter, Target: target})
	}
	sort.Slice(votes, func(i, j int) bool { return votes[i].Voter < votes[j].Voter })
	return votes
}

// tallyVotes counts ballots per target and returns the unique leader, if any.
// tie is true when two or more targets share the highest count.
func tallyVotes(ballots map[string]string) (counts map[string]int, leader string, tie bool) {
	counts = make(map[string]int)
	for _, target := range ballots {
		counts[target]++
	}
	maxVotes := 0
	for target, n := range counts {
		switch {
		case n > maxVotes:
			maxVotes = n
			leader = target
			tie = false
		case n == maxVotes:
			tie = true
		}
	}
	if tie {
		leader = ""
	}
	return counts, leader, tie
}

// resolveVote closes the current round's vote. A round resolves once;
// later calls return the stored outcome without touching the game.
func (g *Game) resolveVote() (*VoteOutcome, error) {
	if o, ok := g.Outcomes[g.Round]; ok {
		return o.replay(), nil
	}
	if g.Winner != FactionNone {
		return nil, ErrGameOver
	}
	if g.Phase != PhaseVoting {
		if o, ok := g.Outcomes[g.LastResolvedRound]; ok {
			return o.replay(), nil
		}
		return nil, fmt.Errorf("%w: no vote to resolve in %s", ErrWrongPhase, g.Phase)
	}

	round := g.Round
	counts, leader, tie := tallyVotes(g.Ballots)
	outcome := &VoteOutcome{
		Round:   round,
		Tie:     tie,
		Counts:  counts,
		Ballots: g.Ballots,
	}
	log.Printf("Day vote check: %d ballots, leader %q, tie: %v", len(g.Ballots), leader, tie)

	c := &actionContext{game: g}
	if target := g.player(leader); target != nil && target.IsAlive() {
		g.record(HistoryEntry{
			Action:      ActionElimination,
			Target:      target.Name,
			Description: fmt.Sprintf("The village eliminated %s (%s)", target.Name, target.RoleName()),
		})
		c.kill(target)
		outcome.Eliminated = target.Name
		log.Printf("Village eliminated %s", target.Name)
	} else {
		g.record(HistoryEntry{
			Action:      ActionNoElimination,
			Description: "The village could not agree, nobody was eliminated",
		})
		log.Printf("No majority reached (tie: %v) - no elimination", tie)
	}
	outcome.CascadeDeaths = c.deaths

	g.sweepDeaths()
	g.Ballots = make(map[string]string)
	outcome.Winner = g.checkWinConditions()
	g.Outcomes[round] = outcome
	g.LastResolvedRound = round

	if outcome.Winner == FactionNone {
		g.Round++
		log.Printf("Day %d ended, transitioning to night %d", round, g.Round)
		g.beginNight()
	}

	cp := *outcome
	return &cp, nil
}
