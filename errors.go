package main

import (
	"errors"
	"net/http"
)

// ErrorKind classifies engine rejections.
//   - Validation: bad input, nothing mutated, caller retries with corrected input
//   - Sequencing: the operation arrived at the wrong time, safe to ignore
//   - Invariant: engine defect, never expected in a consistent game
type ErrorKind int

const (
	KindValidation ErrorKind = iota
	KindSequencing
	KindInvariant
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindSequencing:
		return "sequencing"
	case KindInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// EngineError is a rejection returned by the game engine.
// Code is the stable identifier exposed to clients.
type EngineError struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *EngineError) Error() string {
	return e.Message
}

func validation(code, msg string) *EngineError {
	return &EngineError{Kind: KindValidation, Code: code, Message: msg}
}

func sequencing(code, msg string) *EngineError {
	return &EngineError{Kind: KindSequencing, Code: code, Message: msg}
}

// Validation errors
var (
	ErrGameNotFound      = validation("game_not_found", "game not found")
	ErrBadJoinCode       = validation("bad_code", "invalid join code")
	ErrDuplicatePlayer   = validation("duplicate", "player name already taken in this game")
	ErrGameFull          = validation("full", "game is full (8 players maximum)")
	ErrEmptyName         = validation("empty_name", "player name is required")
	ErrUnknownRole       = validation("unknown_role", "unknown role")
	ErrPlayerNotFound    = validation("player_not_found", "player not found")
	ErrTargetNotFound    = validation("not_found", "target not found")
	ErrNoTargetAbility   = validation("no_such_role_capability", "role does not support target setting")
	ErrRoleTaken         = validation("role_taken", "role is already held by another player")
	ErrNotEnoughPlayers  = validation("not_enough_players", "at least 6 players are required")
	ErrRolesMissing      = validation("roles_missing", "every player needs a role before the game starts")
	ErrWerewolfCount     = validation("werewolf_count", "exactly one werewolf is required")
	ErrUnknownPhase      = validation("unknown_phase", "unknown phase")
	ErrVoterDead         = validation("voter_dead", "dead players cannot vote")
	ErrTargetDead        = validation("target_dead", "cannot vote for a dead player")
	ErrInvalidTransition = validation("invalid_transition", "phase transition not allowed")
	ErrBadRequest        = validation("bad_request", "malformed request")
)

// Sequencing errors
var (
	ErrAlreadyActed        = sequencing("already_acted", "this role has already acted this night")
	ErrDeadNotHunter       = sequencing("dead_and_not_hunter", "player is dead")
	ErrNoRole              = sequencing("no_role", "player has no role")
	ErrOutOfTurn           = sequencing("out_of_turn", "it is not this role's turn")
	ErrWrongPhase          = sequencing("wrong_phase", "action not allowed in the current phase")
	ErrAlreadyVoted        = sequencing("already_voted", "player has already voted this round")
	ErrResolveInFlight     = sequencing("already_resolved", "vote resolution already in progress")
	ErrGameOver            = sequencing("game_over", "game has already ended")
	ErrRoleAlreadyAssigned = sequencing("role_assigned", "player already has a role")
	ErrGameStarted         = sequencing("game_started", "game has already started")
	ErrIrreversible        = sequencing("irreversible", "resolved actions cannot be undone")
	ErrNothingToUndo       = sequencing("nothing_to_undo", "no action to undo")
)

// ErrInvariant marks engine defects. Wrap it with the details.
var ErrInvariant = &EngineError{Kind: KindInvariant, Code: "invariant", Message: "engine invariant violated"}

// errorCode returns the client-facing code of err, or "internal".
func errorCode(err error) string {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return "internal"
}

// httpStatus maps an engine error to the HTTP status the API answers with.
func httpStatus(err error) int {
	var ee *EngineError
	if !errors.As(err, &ee) {
		return http.StatusInternalServerError
	}
	switch ee.Kind {
	case KindValidation:
		if ee == ErrGameNotFound || ee == ErrPlayerNotFound || ee == ErrTargetNotFound {
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	case KindSequencing:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
