package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lumina-control/backend/internal/storage/models"
)

// DeviceRepository persists the controller and lamp collections.
// Saves replace the whole collection inside one transaction.
type DeviceRepository struct {
	BaseRepository
}

// NewDeviceRepository creates a new device repository.
func NewDeviceRepository(db *DB) *DeviceRepository {
	return &DeviceRepository{BaseRepository: NewBaseRepository(db)}
}

// LoadControllers returns every stored controller ordered by name.
func (r *DeviceRepository) LoadControllers(ctx context.Context) ([]models.Controller, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT id, name, address, shared_secret, model, owner_id, is_online, last_error,
			   last_seen, signal_strength, uptime, version, created_at, updated_at
		FROM controllers
		ORDER BY name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying controllers: %w", err)
	}
	defer rows.Close()

	var controllers []models.Controller
	for rows.Next() {
		var c models.Controller
		if err := rows.Scan(
			&c.ID, &c.Name, &c.Address, &c.SharedSecret, &c.Model, &c.OwnerID,
			&c.IsOnline, &c.LastError, &c.LastSeen, &c.SignalStrength, &c.Uptime,
			&c.Version, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning controller: %w", err)
		}
		controllers = append(controllers, c)
	}
	return controllers, rows.Err()
}

// SaveControllers replaces the stored controller collection.
func (r *DeviceRepository) SaveControllers(ctx context.Context, controllers []models.Controller) error {
	return r.DB().Transaction(func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM controllers"); err != nil {
			return fmt.Errorf("clearing controllers: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO controllers (
				id, name, address, shared_secret, model, owner_id, is_online, last_error,
				last_seen, signal_strength, uptime, version, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("preparing controller insert: %w", err)
		}
		defer stmt.Close()

		for _, c := range controllers {
			if _, err := stmt.ExecContext(ctx,
				c.ID, c.Name, c.Address, c.SharedSecret, c.Model, c.OwnerID,
				c.IsOnline, c.LastError, c.LastSeen, c.SignalStrength, c.Uptime,
				c.Version, c.CreatedAt, c.UpdatedAt,
			); err != nil {
				return fmt.Errorf("inserting controller %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

// LoadLamps returns every stored lamp with its schedules in list order.
func (r *DeviceRepository) LoadLamps(ctx context.Context) ([]models.Lamp, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT id, name, pin, controller_id, status, is_locked, total_on_hours,
			   last_turned_on, is_online, version, updated_at
		FROM lamps
		ORDER BY name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying lamps: %w", err)
	}
	defer rows.Close()

	var lamps []models.Lamp
	index := make(map[string]int)
	for rows.Next() {
		var l models.Lamp
		if err := rows.Scan(
			&l.ID, &l.Name, &l.Pin, &l.ControllerID, &l.Status, &l.IsLocked,
			&l.TotalOnHours, &l.LastTurnedOn, &l.IsOnline, &l.Version, &l.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning lamp: %w", err)
		}
		l.Schedules = []models.Schedule{}
		index[l.ID] = len(lamps)
		lamps = append(lamps, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	srows, err := r.DB().QueryContext(ctx, `
		SELECT id, lamp_id, time, action, enabled
		FROM schedules
		ORDER BY lamp_id, position
	`)
	if err != nil {
		return nil, fmt.Errorf("querying schedules: %w", err)
	}
	defer srows.Close()

	for srows.Next() {
		var s models.Schedule
		var lampID string
		if err := srows.Scan(&s.ID, &lampID, &s.Time, &s.Action, &s.Enabled); err != nil {
			return nil, fmt.Errorf("scanning schedule: %w", err)
		}
		if i, ok := index[lampID]; ok {
			lamps[i].Schedules = append(lamps[i].Schedules, s)
		}
	}

	return lamps, srows.Err()
}

// SaveLamps replaces the stored lamp collection, schedules included.
func (r *DeviceRepository) SaveLamps(ctx context.Context, lamps []models.Lamp) error {
	return r.DB().Transaction(func(tx *sql.Tx) error {
		// schedules go with their lamps via ON DELETE CASCADE
		if _, err := tx.ExecContext(ctx, "DELETE FROM lamps"); err != nil {
			return fmt.Errorf("clearing lamps: %w", err)
		}

		lampStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO lamps (
				id, name, pin, controller_id, status, is_locked, total_on_hours,
				last_turned_on, is_online, version, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("preparing lamp insert: %w", err)
		}
		defer lampStmt.Close()

		schedStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO schedules (id, lamp_id, position, time, action, enabled)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("preparing schedule insert: %w", err)
		}
		defer schedStmt.Close()

		for _, l := range lamps {
			if _, err := lampStmt.ExecContext(ctx,
				l.ID, l.Name, l.Pin, l.ControllerID, l.Status, l.IsLocked,
				l.TotalOnHours, l.LastTurnedOn, l.IsOnline, l.Version, l.UpdatedAt,
			); err != nil {
				return fmt.Errorf("inserting lamp %s: %w", l.ID, err)
			}
			for pos, s := range l.Schedules {
				if _, err := schedStmt.ExecContext(ctx,
					s.ID, l.ID, pos, s.Time, s.Action, s.Enabled,
				); err != nil {
					return fmt.Errorf("inserting schedule %s: %w", s.ID, err)
				}
			}
		}
		return nil
	})
}
