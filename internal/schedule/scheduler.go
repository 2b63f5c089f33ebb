// Package schedule fires time-of-day lamp schedules once per minute.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lumina-control/backend/internal/dispatch"
	"github.com/lumina-control/backend/internal/registry"
	"github.com/lumina-control/backend/internal/storage/models"
	"github.com/lumina-control/backend/internal/usage"
)

// Applier performs a schedule-driven state change.
type Applier interface {
	ApplySchedule(ctx context.Context, lampID string, on bool, sched models.Schedule) (bool, error)
}

// Scheduler runs the minute tick: usage accounting, then schedule evaluation.
type Scheduler struct {
	cron     *cron.Cron
	registry *registry.Registry
	applier  Applier
	usage    *usage.Accumulator
	location *time.Location
}

// New creates a scheduler evaluating schedule times in loc. acc may be nil.
func New(reg *registry.Registry, applier Applier, acc *usage.Accumulator, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		registry: reg,
		applier:  applier,
		usage:    acc,
		location: loc,
	}
}

// Start begins ticking at second zero of every minute.
func (s *Scheduler) Start() error {
	log.Println("Starting lamp scheduler...")
	if _, err := s.cron.AddFunc("0 * * * * *", func() {
		s.Tick(context.Background(), time.Now())
	}); err != nil {
		return fmt.Errorf("scheduling minute tick: %w", err)
	}
	s.cron.Start()
	log.Printf("Lamp scheduler started (timezone %s)", s.location)
	return nil
}

// Stop waits for a running tick and stops the scheduler.
func (s *Scheduler) Stop() {
	log.Println("Stopping lamp scheduler...")
	<-s.cron.Stop().Done()
	log.Println("Lamp scheduler stopped")
}

// TickResult summarizes one minute tick.
type TickResult struct {
	Credited int
	Fired    []string
}

// Tick evaluates the minute containing now. Usage is credited from the
// status held before any schedule in this tick takes effect.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) TickResult {
	var res TickResult
	if s.usage != nil {
		res.Credited = s.usage.Tick(ctx)
	}

	hhmm := now.In(s.location).Format("15:04")
	for _, lamp := range s.registry.Lamps() {
		if lamp.IsLocked || !lamp.HasEnabledSchedule() || s.registry.IsOrphan(lamp) {
			continue
		}
		if id, ok := s.evaluate(ctx, lamp, hhmm); ok {
			res.Fired = append(res.Fired, id)
		}
	}
	return res
}

// evaluate walks the lamp's schedules in list order and stops after the
// first one that changes its state.
func (s *Scheduler) evaluate(ctx context.Context, lamp models.Lamp, hhmm string) (string, bool) {
	status := lamp.Status
	for _, sched := range lamp.Schedules {
		if !sched.Enabled || sched.Time != hhmm {
			continue
		}
		if sched.Target() == status {
			continue
		}

		applied, err := s.applier.ApplySchedule(ctx, lamp.ID, sched.Target(), sched)
		if err != nil {
			if !errors.Is(err, dispatch.ErrPermissionDenied) {
				log.Printf("Schedule %s for lamp %s failed: %v", sched.ID, lamp.ID, err)
			}
			return "", false
		}
		if applied {
			return sched.ID, true
		}
		// someone else already moved the lamp there
		status = sched.Target()
	}
	return "", false
}
