package storage

import (
	"context"
	"fmt"
	"log/slog"
)

// MigrationService copies polling state from one storage backend to another,
// typically from a local SQLite file into MySQL.
type MigrationService struct {
	source StorageService
	target StorageService
	logger *slog.Logger
}

// NewMigrationService creates a new migration service
func NewMigrationService(source, target StorageService, logger *slog.Logger) *MigrationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MigrationService{
		source: source,
		target: target,
		logger: logger,
	}
}

// MigrateData copies every update state from source to target. A state is
// only overwritten when the source offset is ahead of the target one.
func (m *MigrationService) MigrateData(ctx context.Context) (int, error) {
	states, err := m.source.GetAllUpdateStates(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get source update states: %w", err)
	}

	migrated := 0
	for _, state := range states {
		existing, err := m.target.GetUpdateState(ctx, state.BotID)
		if err != nil {
			return migrated, fmt.Errorf("failed to check target state for bot %d: %w", state.BotID, err)
		}
		if existing != nil && existing.LastUpdateID >= state.LastUpdateID {
			m.logger.Debug("Skipping update state, target is ahead",
				"bot_id", state.BotID,
				"source_update_id", state.LastUpdateID,
				"target_update_id", existing.LastUpdateID)
			continue
		}

		// Reset ID to allow target auto-increment
		copied := *state
		copied.ID = 0
		if err := m.target.UpsertUpdateState(ctx, &copied); err != nil {
			return migrated, fmt.Errorf("failed to insert update state for bot %d: %w", state.BotID, err)
		}
		migrated++
	}

	m.logger.Info("Update state migration completed",
		"source_states", len(states),
		"migrated", migrated)
	return migrated, nil
}

// ValidateMigration checks that every source state exists in the target
// with an offset at least as recent.
func (m *MigrationService) ValidateMigration(ctx context.Context) error {
	states, err := m.source.GetAllUpdateStates(ctx)
	if err != nil {
		return fmt.Errorf("failed to get source update states for validation: %w", err)
	}

	for _, state := range states {
		existing, err := m.target.GetUpdateState(ctx, state.BotID)
		if err != nil {
			return fmt.Errorf("failed to get target update state for validation: %w", err)
		}
		if existing == nil {
			return fmt.Errorf("update state for bot %d missing in target", state.BotID)
		}
		if existing.LastUpdateID < state.LastUpdateID {
			return fmt.Errorf("update state mismatch for bot %d: source=%d, target=%d",
				state.BotID, state.LastUpdateID, existing.LastUpdateID)
		}
	}

	return nil
}
