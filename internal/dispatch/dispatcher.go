// Package dispatch turns "switch lamp X on/off" intents into device commands
// with an optimistic update that is rolled back when the device cannot be reached.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lumina-control/backend/internal/access"
	"github.com/lumina-control/backend/internal/registry"
	"github.com/lumina-control/backend/internal/storage/models"
)

var (
	ErrLampNotFound      = registry.ErrLampNotFound
	ErrPermissionDenied  = errors.New("permission denied")
	ErrControllerMissing = errors.New("lamp has no controller")
	ErrConnectionFailed  = errors.New("connection to controller failed")

	errNoChange = errors.New("status already matches")
)

// DefaultTimeout bounds a single device command.
const DefaultTimeout = 5 * time.Second

// Commander sends a pin state change to a controller.
type Commander interface {
	Toggle(ctx context.Context, ctrl models.Controller, pin int, on bool) error
}

// ActivityLog records user-visible outcomes.
type ActivityLog interface {
	Record(ctx context.Context, entry models.ActivityEntry)
}

// Dispatcher executes lamp commands.
type Dispatcher struct {
	registry *registry.Registry
	channel  Commander
	activity ActivityLog
	timeout  time.Duration

	wg sync.WaitGroup
}

// New creates a dispatcher. activity may be nil.
func New(reg *registry.Registry, channel Commander, activity ActivityLog, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		registry: reg,
		channel:  channel,
		activity: activity,
		timeout:  timeout,
	}
}

// Toggle flips the lamp's cached status and sends the new state to its controller.
func (d *Dispatcher) Toggle(ctx context.Context, actor access.Actor, lampID string) (models.Lamp, error) {
	return d.run(ctx, actor, lampID, func(l *models.Lamp, now time.Time) {
		apply(l, !l.Status, now)
	})
}

// SetState drives the lamp to an explicit state.
func (d *Dispatcher) SetState(ctx context.Context, actor access.Actor, lampID string, on bool) (models.Lamp, error) {
	return d.run(ctx, actor, lampID, func(l *models.Lamp, now time.Time) {
		apply(l, on, now)
	})
}

func (d *Dispatcher) run(ctx context.Context, actor access.Actor, lampID string, mutate registry.Mutation) (models.Lamp, error) {
	lamp, err := d.registry.Transact(ctx, lampID, actorGuard(actor), mutate, d.deliver)
	if err != nil {
		err = translate(err)
		if errors.Is(err, ErrConnectionFailed) {
			d.record(ctx, actor.DisplayName(), "command_failed", models.LevelError,
				fmt.Sprintf("Could not switch %s: %v", lamp.Name, err))
		}
		return lamp, err
	}

	d.record(ctx, actor.DisplayName(), "lamp_"+models.StateString(lamp.Status), models.LevelInfo,
		fmt.Sprintf("%s turned %s", lamp.Name, models.StateString(lamp.Status)))
	return lamp, nil
}

// ApplySchedule updates the cached state synchronously and sends the command
// in the background. Locked lamps and lamps already in the target state are
// left alone; applied reports whether a change was made.
func (d *Dispatcher) ApplySchedule(ctx context.Context, lampID string, on bool, sched models.Schedule) (applied bool, err error) {
	guard := func(l models.Lamp, ctrl *models.Controller) error {
		if l.IsLocked {
			return ErrPermissionDenied
		}
		if ctrl != nil && l.Status == on {
			return errNoChange
		}
		return nil
	}
	txn, err := d.registry.Begin(ctx, lampID, guard, func(l *models.Lamp, now time.Time) {
		apply(l, on, now)
	})
	if errors.Is(err, errNoChange) {
		return false, nil
	}
	if err != nil {
		return false, translate(err)
	}

	lamp := txn.Lamp()
	ctrl := txn.Controller()
	log.Printf("Schedule %s at %s switching %s %s", sched.ID, sched.Time, lamp.Name, models.StateString(on))

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		bg := context.WithoutCancel(ctx)
		if err := d.deliver(bg, lamp, ctrl); err != nil {
			txn.Rollback(bg)
			d.record(bg, access.System.DisplayName(), "schedule_failed", models.LevelError,
				fmt.Sprintf("Schedule %s could not switch %s: %v", sched.Time, lamp.Name, err))
			return
		}
		txn.Commit(bg)
		d.record(bg, access.System.DisplayName(), "schedule_"+models.StateString(on), models.LevelInfo,
			fmt.Sprintf("Schedule %s turned %s %s", sched.Time, lamp.Name, models.StateString(on)))
	}()

	return true, nil
}

// Wait blocks until every background schedule command has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// deliver sends the lamp's new state. Placeholder and loopback controllers
// are simulated and succeed immediately.
func (d *Dispatcher) deliver(ctx context.Context, lamp models.Lamp, ctrl models.Controller) error {
	if ctrl.IsSimulated() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	if err := d.channel.Toggle(ctx, ctrl, lamp.Pin, lamp.Status); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return nil
}

func (d *Dispatcher) record(ctx context.Context, actor, action, level, details string) {
	if d.activity == nil {
		return
	}
	d.activity.Record(ctx, models.ActivityEntry{
		Actor:   actor,
		Action:  action,
		Details: details,
		Level:   level,
	})
}

func actorGuard(actor access.Actor) registry.Guard {
	return func(l models.Lamp, ctrl *models.Controller) error {
		if !actor.CanControl(l, ctrl) {
			return ErrPermissionDenied
		}
		if l.IsLocked && !actor.Privileged() {
			return fmt.Errorf("%w: lamp is locked", ErrPermissionDenied)
		}
		return nil
	}
}

// apply sets the status; lastTurnedOn moves only on an off-to-on transition.
func apply(l *models.Lamp, on bool, now time.Time) {
	if on && !l.Status {
		t := now
		l.LastTurnedOn = &t
	}
	l.Status = on
}

func translate(err error) error {
	if errors.Is(err, registry.ErrControllerNotFound) {
		return ErrControllerMissing
	}
	return err
}
