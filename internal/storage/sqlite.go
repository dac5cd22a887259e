package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStorageService implements StorageService using SQLite
type SQLiteStorageService struct {
	db       *sql.DB
	dbPath   string
	prepared map[string]*sql.Stmt
}

// NewSQLiteStorageService creates a new SQLite storage service
func NewSQLiteStorageService(dbPath string) *SQLiteStorageService {
	return &SQLiteStorageService{
		dbPath:   dbPath,
		prepared: make(map[string]*sql.Stmt),
	}
}

// Initialize sets up the database connection and creates necessary tables
func (s *SQLiteStorageService) Initialize(ctx context.Context) error {
	dir := filepath.Dir(s.dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", s.dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	s.db = db

	// A single writer avoids SQLITE_BUSY between pooled connections.
	s.db.SetMaxOpenConns(1)
	s.db.SetConnMaxLifetime(time.Hour)

	if err := s.createTables(ctx); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	if err := s.prepareStatements(ctx); err != nil {
		return fmt.Errorf("failed to prepare statements: %w", err)
	}

	return nil
}

func (s *SQLiteStorageService) createTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS update_states (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		bot_id INTEGER NOT NULL UNIQUE,
		last_update_id INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_update_states_updated_at ON update_states(updated_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLiteStorageService) prepareStatements(ctx context.Context) error {
	statements := map[string]string{
		"get_state": `
			SELECT id, bot_id, last_update_id, created_at, updated_at
			FROM update_states
			WHERE bot_id = ?
		`,
		"upsert_state": `
			INSERT INTO update_states (bot_id, last_update_id, created_at, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(bot_id) DO UPDATE SET
				last_update_id = excluded.last_update_id,
				updated_at = excluded.updated_at
		`,
		"get_all_states": `
			SELECT id, bot_id, last_update_id, created_at, updated_at
			FROM update_states
			ORDER BY updated_at DESC
		`,
	}

	for name, query := range statements {
		stmt, err := s.db.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement %s: %w", name, err)
		}
		s.prepared[name] = stmt
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStorageService) Close() error {
	for _, stmt := range s.prepared {
		if stmt != nil {
			stmt.Close()
		}
	}

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetUpdateState retrieves the polling state of a bot
func (s *SQLiteStorageService) GetUpdateState(ctx context.Context, botID int64) (*UpdateState, error) {
	stmt := s.prepared["get_state"]
	if stmt == nil {
		return nil, fmt.Errorf("get_state statement not prepared")
	}

	var state UpdateState
	err := stmt.QueryRowContext(ctx, botID).Scan(
		&state.ID,
		&state.BotID,
		&state.LastUpdateID,
		&state.CreatedAt,
		&state.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // No state stored yet, not an error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get update state: %w", err)
	}

	return &state, nil
}

// UpsertUpdateState creates or updates the polling state of a bot
func (s *SQLiteStorageService) UpsertUpdateState(ctx context.Context, state *UpdateState) error {
	stmt := s.prepared["upsert_state"]
	if stmt == nil {
		return fmt.Errorf("upsert_state statement not prepared")
	}

	now := time.Now().Unix()
	state.UpdatedAt = now
	if state.CreatedAt == 0 {
		state.CreatedAt = now
	}

	_, err := stmt.ExecContext(ctx,
		state.BotID,
		state.LastUpdateID,
		state.CreatedAt,
		state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert update state: %w", err)
	}

	return nil
}

// GetAllUpdateStates retrieves every stored polling state
func (s *SQLiteStorageService) GetAllUpdateStates(ctx context.Context) ([]*UpdateState, error) {
	stmt := s.prepared["get_all_states"]
	if stmt == nil {
		return nil, fmt.Errorf("get_all_states statement not prepared")
	}

	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query all states: %w", err)
	}
	defer rows.Close()

	var states []*UpdateState
	for rows.Next() {
		var state UpdateState
		err := rows.Scan(
			&state.ID,
			&state.BotID,
			&state.LastUpdateID,
			&state.CreatedAt,
			&state.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan update state: %w", err)
		}
		states = append(states, &state)
	}

	return states, rows.Err()
}

// HealthCheck verifies that the database connection is working
func (s *SQLiteStorageService) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	_, err := s.db.ExecContext(ctx, "SELECT COUNT(*) FROM update_states LIMIT 1")
	if err != nil {
		return fmt.Errorf("database health check query failed: %w", err)
	}

	return nil
}
