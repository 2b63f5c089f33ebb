package storage

import (
	"context"
	"fmt"

	"github.com/lumina-control/backend/internal/storage/models"
)

// ActivityRepository provides data access for the activity log.
type ActivityRepository struct {
	BaseRepository
}

// NewActivityRepository creates a new activity repository.
func NewActivityRepository(db *DB) *ActivityRepository {
	return &ActivityRepository{BaseRepository: NewBaseRepository(db)}
}

// Insert stores an entry, assigning an ID and timestamp when they are missing.
func (r *ActivityRepository) Insert(ctx context.Context, e *models.ActivityEntry) error {
	if e.ID == "" {
		e.ID = GenerateID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = r.Now()
	}

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO activity_log (id, timestamp, actor, action, details, level)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.Timestamp, e.Actor, e.Action, e.Details, e.Level)
	if err != nil {
		return fmt.Errorf("inserting activity entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (r *ActivityRepository) Recent(ctx context.Context, limit int) ([]models.ActivityEntry, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT id, timestamp, actor, action, details, level
		FROM activity_log
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying activity: %w", err)
	}
	defer rows.Close()

	entries := []models.ActivityEntry{}
	for rows.Next() {
		var e models.ActivityEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Actor, &e.Action, &e.Details, &e.Level); err != nil {
			return nil, fmt.Errorf("scanning activity entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Trim deletes everything but the newest keep entries.
func (r *ActivityRepository) Trim(ctx context.Context, keep int) (int64, error) {
	result, err := r.DB().ExecContext(ctx, `
		DELETE FROM activity_log WHERE id NOT IN (
			SELECT id FROM activity_log ORDER BY timestamp DESC, rowid DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("trimming activity log: %w", err)
	}
	return result.RowsAffected()
}
