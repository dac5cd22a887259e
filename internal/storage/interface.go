package storage

import (
	"context"
)

// UpdateState is the polling position of one bot: the highest update id
// that has been fetched. The next getUpdates offset is LastUpdateID + 1.
type UpdateState struct {
	ID           int64 `db:"id"`             // Primary key, auto-increment
	BotID        int64 `db:"bot_id"`         // Numeric bot id taken from the token (unique)
	LastUpdateID int64 `db:"last_update_id"` // Highest update_id received
	CreatedAt    int64 `db:"created_at"`     // Record creation timestamp
	UpdatedAt    int64 `db:"updated_at"`     // Record last update timestamp
}

// NextOffset returns the getUpdates offset that confirms every fetched update
func (s *UpdateState) NextOffset() int64 {
	return s.LastUpdateID + 1
}

// StorageService defines the interface for polling state persistence
type StorageService interface {
	// Initialize sets up the database connection and creates necessary tables
	Initialize(ctx context.Context) error

	// Close closes the database connection
	Close() error

	// GetUpdateState retrieves the polling state of a bot, nil when none is stored
	GetUpdateState(ctx context.Context, botID int64) (*UpdateState, error)

	// UpsertUpdateState creates or updates the polling state of a bot
	UpsertUpdateState(ctx context.Context, state *UpdateState) error

	// GetAllUpdateStates retrieves every stored polling state
	GetAllUpdateStates(ctx context.Context) ([]*UpdateState, error)

	// HealthCheck verifies that the database connection is working
	HealthCheck(ctx context.Context) error
}
