// Package activity records the user-visible activity log.
package activity

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/lumina-control/backend/internal/storage/models"
)

// DefaultCapacity is how many entries are kept.
const DefaultCapacity = 100

// Repository persists activity entries.
type Repository interface {
	Insert(ctx context.Context, e *models.ActivityEntry) error
	Recent(ctx context.Context, limit int) ([]models.ActivityEntry, error)
	Trim(ctx context.Context, keep int) (int64, error)
}

// Broadcaster pushes entries and notifications to connected dashboards.
type Broadcaster interface {
	BroadcastActivity(entry models.ActivityEntry)
	BroadcastNotification(level, title, message string)
}

// Log is a capped, persisted activity log.
type Log struct {
	repo        Repository
	broadcaster Broadcaster
	capacity    int
}

// New creates an activity log. broadcaster may be nil.
func New(repo Repository, broadcaster Broadcaster, capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{repo: repo, broadcaster: broadcaster, capacity: capacity}
}

// Record stores an entry and announces it. Warnings and errors also raise a
// notification. Storage failures are logged and do not stop the broadcast.
func (l *Log) Record(ctx context.Context, e models.ActivityEntry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Level == "" {
		e.Level = models.LevelInfo
	}

	if err := l.repo.Insert(ctx, &e); err != nil {
		log.Printf("Failed to record activity %q: %v", e.Action, err)
	} else if _, err := l.repo.Trim(ctx, l.capacity); err != nil {
		log.Printf("Failed to trim activity log: %v", err)
	}

	if l.broadcaster == nil {
		return
	}
	l.broadcaster.BroadcastActivity(e)
	if e.Level == models.LevelError || e.Level == models.LevelWarning {
		l.broadcaster.BroadcastNotification(e.Level, titleFor(e), e.Details)
	}
}

// Recent returns up to limit entries, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]models.ActivityEntry, error) {
	if limit <= 0 || limit > l.capacity {
		limit = l.capacity
	}
	return l.repo.Recent(ctx, limit)
}

func titleFor(e models.ActivityEntry) string {
	switch e.Action {
	case "command_failed", "schedule_failed":
		return "Command failed"
	case "controller_offline":
		return "Controller offline"
	case "controller_error":
		return "Controller error"
	}
	return "Lumina"
}
