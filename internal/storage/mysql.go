package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

// MySQLStorageService implements StorageService using MySQL
type MySQLStorageService struct {
	db       *sql.DB
	dsn      string
	prepared map[string]*sql.Stmt
}

// MySQLConfig holds MySQL connection configuration
type MySQLConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	Timeout  string
}

// DSN builds the driver data source name
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&timeout=%s",
		c.Username,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
		c.Timeout,
	)
}

// NewMySQLStorageService creates a new MySQL storage service
func NewMySQLStorageService(config MySQLConfig) *MySQLStorageService {
	return &MySQLStorageService{
		dsn:      config.DSN(),
		prepared: make(map[string]*sql.Stmt),
	}
}

// connectWithRetry attempts to connect to MySQL with exponential backoff retry logic
func (s *MySQLStorageService) connectWithRetry(ctx context.Context) (*sql.DB, error) {
	const maxRetries = 5
	const baseDelay = time.Second

	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		db, err := sql.Open("mysql", s.dsn)
		if err == nil {
			if err = db.PingContext(ctx); err == nil {
				return db, nil
			}
			db.Close()
			lastErr = fmt.Errorf("attempt %d: failed to ping database: %w", attempt+1, err)
		} else {
			lastErr = fmt.Errorf("attempt %d: failed to open database: %w", attempt+1, err)
		}

		if attempt == maxRetries-1 {
			break
		}

		delay := time.Duration(math.Pow(2, float64(attempt))) * baseDelay
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxRetries, lastErr)
}

// isRetryableError checks if an error is retryable (network/connection issues)
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()
	retryableErrors := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"driver: bad connection",
		"invalid connection",
		"broken pipe",
		"no such host",
	}

	for _, retryable := range retryableErrors {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}

	return false
}

// executeWithRetry executes a database operation with retry logic for connection failures
func (s *MySQLStorageService) executeWithRetry(ctx context.Context, operation func() error) error {
	const maxRetries = 3
	const baseDelay = 500 * time.Millisecond

	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err

		if !isRetryableError(err) {
			return err
		}

		if attempt == maxRetries-1 {
			break
		}

		delay := time.Duration(math.Pow(2, float64(attempt))) * baseDelay
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", maxRetries, lastErr)
}

// Initialize sets up the database connection and creates necessary tables
func (s *MySQLStorageService) Initialize(ctx context.Context) error {
	db, err := s.connectWithRetry(ctx)
	if err != nil {
		return fmt.Errorf("failed to establish database connection: %w", err)
	}

	s.db = db

	s.db.SetMaxOpenConns(10)
	s.db.SetMaxIdleConns(5)
	s.db.SetConnMaxLifetime(time.Hour)

	if err := s.createTables(ctx); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	if err := s.prepareStatements(ctx); err != nil {
		return fmt.Errorf("failed to prepare statements: %w", err)
	}

	return nil
}

func (s *MySQLStorageService) createTables(ctx context.Context) error {
	table := `CREATE TABLE IF NOT EXISTS update_states (
		id BIGINT PRIMARY KEY AUTO_INCREMENT,
		bot_id BIGINT NOT NULL UNIQUE,
		last_update_id BIGINT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`
	if _, err := s.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to execute schema statement: %w", err)
	}

	index := `CREATE INDEX idx_update_states_updated_at ON update_states(updated_at)`
	if _, err := s.db.ExecContext(ctx, index); err != nil {
		// MySQL has no CREATE INDEX IF NOT EXISTS (error 1061)
		if !strings.Contains(err.Error(), "Duplicate key name") {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *MySQLStorageService) prepareStatements(ctx context.Context) error {
	statements := map[string]string{
		"get_state": `
			SELECT id, bot_id, last_update_id, created_at, updated_at
			FROM update_states
			WHERE bot_id = ?
		`,
		"upsert_state": `
			INSERT INTO update_states (bot_id, last_update_id, created_at, updated_at)
			VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
			last_update_id = VALUES(last_update_id),
			updated_at = VALUES(updated_at)
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
func (s *MySQLStorageService) Close() error {
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
func (s *MySQLStorageService) GetUpdateState(ctx context.Context, botID int64) (*UpdateState, error) {
	stmt := s.prepared["get_state"]
	if stmt == nil {
		return nil, fmt.Errorf("get_state statement not prepared")
	}

	var state *UpdateState
	err := s.executeWithRetry(ctx, func() error {
		var found UpdateState
		err := stmt.QueryRowContext(ctx, botID).Scan(
			&found.ID,
			&found.BotID,
			&found.LastUpdateID,
			&found.CreatedAt,
			&found.UpdatedAt,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		state = &found
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get update state: %w", err)
	}

	return state, nil
}

// UpsertUpdateState creates or updates the polling state of a bot
func (s *MySQLStorageService) UpsertUpdateState(ctx context.Context, state *UpdateState) error {
	stmt := s.prepared["upsert_state"]
	if stmt == nil {
		return fmt.Errorf("upsert_state statement not prepared")
	}

	now := time.Now().Unix()
	state.UpdatedAt = now
	if state.CreatedAt == 0 {
		state.CreatedAt = now
	}

	err := s.executeWithRetry(ctx, func() error {
		_, err := stmt.ExecContext(ctx,
			state.BotID,
			state.LastUpdateID,
			state.CreatedAt,
			state.UpdatedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to upsert update state: %w", err)
	}

	return nil
}

// GetAllUpdateStates retrieves every stored polling state
func (s *MySQLStorageService) GetAllUpdateStates(ctx context.Context) ([]*UpdateState, error) {
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
func (s *MySQLStorageService) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}

	return s.executeWithRetry(ctx, func() error {
		if err := s.db.PingContext(ctx); err != nil {
			return fmt.Errorf("database ping failed: %w", err)
		}

		_, err := s.db.ExecContext(ctx, "SELECT COUNT(*) FROM update_states LIMIT 1")
		if err != nil {
			return fmt.Errorf("database health check query failed: %w", err)
		}

		return nil
	})
}
