package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// db is the SQLite handle when the sqlite store is in use. The debug state
// dump reads it.
var db *sqlx.DB

// gameRow is one stored game: a few queryable columns plus the JSON snapshot.
type gameRow struct {
	ID        string `db:"id"`
	JoinCode  string `db:"join_code"`
	Round     int    `db:"round"`
	Phase     string `db:"phase"`
	Winner    string `db:"winner"`
	State     []byte `db:"state"`
	UpdatedAt int64  `db:"updated_at"`
}

// GameAction is one journaled history entry.
// Visibility determines who can see this action:
//   - "public": everyone can see
//   - "team:werewolf": only werewolf team can see
//   - "actor": only the actor can see
//   - "resolved": hidden until phase ends, then becomes public
type GameAction struct {
	ID          int64  `db:"id"`
	GameID      string `db:"game_id"`
	Seq         int    `db:"seq"`
	Round       int    `db:"round"`
	Phase       string `db:"phase"`
	Actor       string `db:"actor"`
	ActionType  string `db:"action_type"`
	Target      string `db:"target"`
	Visibility  string `db:"visibility"`
	Description string `db:"description"`
	At          int64  `db:"at"`
}

// sqlStore persists games in SQLite through sqlx. Every Put rewrites the
// snapshot and appends the new history entries to the action journal.
type sqlStore struct {
	db *sqlx.DB
}

func openDB(path string) (*sqlx.DB, error) {
	conn, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if path == ":memory:" {
		// Each connection would get its own empty database.
		conn.SetMaxOpenConns(1)
	}
	if err := initDB(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func newSQLStore(conn *sqlx.DB) *sqlStore {
	return &sqlStore{db: conn}
}

func initDB(conn *sqlx.DB) error {
	schema := `
	PRAGMA journal_mode=WAL;

	CREATE TABLE IF NOT EXISTS game (
		id TEXT PRIMARY KEY,
		join_code TEXT NOT NULL,
		round INTEGER NOT NULL DEFAULT 1,
		phase TEXT NOT NULL DEFAULT 'sleep',
		winner TEXT NOT NULL DEFAULT '',
		state BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_game_updated ON game(updated_at);

	CREATE TABLE IF NOT EXISTS game_action (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		game_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		round INTEGER NOT NULL,
		phase TEXT NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		action_type TEXT NOT NULL,
		target TEXT NOT NULL DEFAULT '',
		visibility TEXT NOT NULL DEFAULT 'public',
		description TEXT NOT NULL DEFAULT '',
		at INTEGER NOT NULL,
		FOREIGN KEY (game_id) REFERENCES game(id),
		UNIQUE(game_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_game_action_lookup ON game_action(game_id, round, phase, visibility);
	`
	if _, err := conn.Exec(schema); err != nil {
		log.Printf("initDB error: %v", err)
		return err
	}
	log.Printf("Database initialized successfully")
	return nil
}

func (s *sqlStore) Get(ctx context.Context, id string) (*Game, error) {
	var row gameRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, join_code, round, phase, winner, state, updated_at
		FROM game WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrGameNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load game %s: %w", id, err)
	}
	return decodeGame(row.State)
}

func (s *sqlStore) Put(ctx context.Context, g *Game) error {
	state, err := encodeGame(g)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO game (id, join_code, round, phase, winner, state, updated_at)
		VALUES (:id, :join_code, :round, :phase, :winner, :state, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
			round = excluded.round,
			phase = excluded.phase,
			winner = excluded.winner,
			state = excluded.state,
			updated_at = excluded.updated_at`,
		gameRow{
			ID:        g.ID,
			JoinCode:  g.JoinCode,
			Round:     g.Round,
			Phase:     string(g.Phase),
			Winner:    string(g.Winner),
			State:     state,
			UpdatedAt: g.UpdatedAt.UnixNano(),
		})
	if err != nil {
		return fmt.Errorf("save game %s: %w", g.ID, err)
	}

	var journaled int
	if err := tx.GetContext(ctx, &journaled, "SELECT COUNT(*) FROM game_action WHERE game_id = ?", g.ID); err != nil {
		return fmt.Errorf("count actions: %w", err)
	}
	for seq := journaled; seq < len(g.History); seq++ {
		e := g.History[seq]
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO game_action (game_id, seq, round, phase, actor, action_type, target, visibility, description, at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			g.ID, seq, e.Round, string(e.Phase), e.Actor, e.Action, e.Target, e.Visibility, e.Description, e.At.UnixNano())
		if err != nil {
			return fmt.Errorf("journal action %d: %w", seq, err)
		}
	}
	return tx.Commit()
}

func (s *sqlStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM game_action WHERE game_id = ?", id); err != nil {
		return fmt.Errorf("delete actions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM game WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete game: %w", err)
	}
	return tx.Commit()
}

func (s *sqlStore) IdleIDs(ctx context.Context, before time.Time) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, "SELECT id FROM game WHERE updated_at < ?", before.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("find idle games: %w", err)
	}
	return ids, nil
}

// actions returns the journal of a game in order.
func (s *sqlStore) actions(ctx context.Context, gameID string) ([]GameAction, error) {
	var actions []GameAction
	err := s.db.SelectContext(ctx, &actions, `
		SELECT id, game_id, seq, round, phase, actor, action_type, target, visibility, description, at
		FROM game_action
		WHERE game_id = ?
		ORDER BY seq`, gameID)
	return actions, err
}

// entry converts a journal row back into a history entry.
func (a GameAction) entry() HistoryEntry {
	return HistoryEntry{
		Round:       a.Round,
		Phase:       Phase(a.Phase),
		Action:      a.ActionType,
		Actor:       a.Actor,
		Target:      a.Target,
		Visibility:  a.Visibility,
		Description: a.Description,
		At:          time.Unix(0, a.At),
	}
}
