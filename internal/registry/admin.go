package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/lumina-control/backend/internal/storage/models"
)

// ControllerEdit carries the admin-editable controller fields. Nil fields are left alone.
type ControllerEdit struct {
	Name         *string
	Address      *string
	SharedSecret *string
	Model        *string
	OwnerID      *string
}

// LampEdit carries the admin-editable lamp fields. Nil fields are left alone.
type LampEdit struct {
	Name         *string
	Pin          *int
	ControllerID *string
}

// ScheduleEdit carries the editable schedule fields. Nil fields are left alone.
type ScheduleEdit struct {
	Time    *string
	Action  *string
	Enabled *bool
}

// AddController registers a new controller. Liveness starts offline.
func (r *Registry) AddController(ctx context.Context, c models.Controller) (models.Controller, error) {
	c.Name = strings.TrimSpace(c.Name)
	c.Address = strings.TrimSpace(c.Address)
	if c.Name == "" {
		return models.Controller{}, fmt.Errorf("%w: controller name is required", ErrInvalid)
	}
	if c.Model == "" {
		c.Model = models.ModelESP32
	}
	if !models.ValidModel(c.Model) {
		return models.Controller{}, fmt.Errorf("%w: unknown controller model %q", ErrInvalid, c.Model)
	}
	if c.Address == "" {
		c.Address = models.PlaceholderAddress
	}

	r.mu.Lock()
	if c.ID == "" {
		c.ID = newID()
	} else if _, exists := r.controllers[c.ID]; exists {
		r.mu.Unlock()
		return models.Controller{}, fmt.Errorf("%w: controller %s already exists", ErrInvalid, c.ID)
	}
	now := r.now()
	c.IsOnline = false
	c.LastError = ""
	c.LastSeen = nil
	c.SignalStrength = nil
	c.Uptime = nil
	c.Version = 1
	c.CreatedAt = now
	c.UpdatedAt = now
	stored := c
	r.controllers[c.ID] = &stored

	events := &pendingEvents{}
	events.controller(c, nil, false, CauseAdmin)
	snap := r.snapshotLocked(true, false)
	r.mu.Unlock()

	r.persist(ctx, snap)
	r.notify(events)
	return c, nil
}

// UpdateController applies an admin edit. Changing the address resets liveness
// until the next probe.
func (r *Registry) UpdateController(ctx context.Context, id string, edit ControllerEdit) (models.Controller, error) {
	r.mu.Lock()
	c, ok := r.controllers[id]
	if !ok {
		r.mu.Unlock()
		return models.Controller{}, ErrControllerNotFound
	}
	prev := *c
	next := *c

	if edit.Name != nil {
		name := strings.TrimSpace(*edit.Name)
		if name == "" {
			r.mu.Unlock()
			return models.Controller{}, fmt.Errorf("%w: controller name is required", ErrInvalid)
		}
		next.Name = name
	}
	if edit.Model != nil {
		if !models.ValidModel(*edit.Model) {
			r.mu.Unlock()
			return models.Controller{}, fmt.Errorf("%w: unknown controller model %q", ErrInvalid, *edit.Model)
		}
		next.Model = *edit.Model
	}
	if edit.Address != nil {
		next.Address = strings.TrimSpace(*edit.Address)
		if next.Address == "" {
			next.Address = models.PlaceholderAddress
		}
	}
	if edit.SharedSecret != nil {
		next.SharedSecret = *edit.SharedSecret
	}
	if edit.OwnerID != nil {
		next.OwnerID = *edit.OwnerID
	}

	if next == prev {
		r.mu.Unlock()
		return prev, nil
	}

	events := &pendingEvents{}
	now := r.now()
	lampsChanged := false
	if next.Address != prev.Address || next.SharedSecret != prev.SharedSecret {
		next.IsOnline = false
		next.LastError = ""
		r.probeGen[id]++
		for _, e := range r.sortedEntries() {
			if e.lamp.ControllerID == id && e.lamp.IsOnline {
				lp := e.lamp.Clone()
				e.lamp.IsOnline = false
				touchLamp(&e.lamp, now)
				events.lamp(e.lamp, &lp, false, CauseAdmin)
				lampsChanged = true
			}
		}
	}
	touchController(&next, now)
	*c = next
	events.controller(next, &prev, false, CauseAdmin)
	snap := r.snapshotLocked(true, lampsChanged)
	r.mu.Unlock()

	r.persist(ctx, snap)
	r.notify(events)
	return next, nil
}

// DeleteController removes a controller and every lamp attached to it.
func (r *Registry) DeleteController(ctx context.Context, id string) ([]string, error) {
	r.mu.Lock()
	c, ok := r.controllers[id]
	if !ok {
		r.mu.Unlock()
		return nil, ErrControllerNotFound
	}
	delete(r.controllers, id)
	// a controller re-added under this ID must not accept old probe results
	r.probeGen[id]++

	events := &pendingEvents{}
	events.controller(*c, nil, true, CauseAdmin)
	var removed []string
	for _, e := range r.sortedEntries() {
		if e.lamp.ControllerID != id {
			continue
		}
		delete(r.lamps, e.lamp.ID)
		removed = append(removed, e.lamp.ID)
		events.lamp(e.lamp, nil, true, CauseAdmin)
	}
	snap := r.snapshotLocked(true, len(removed) > 0)
	r.mu.Unlock()

	r.persist(ctx, snap)
	r.notify(events)
	return removed, nil
}

// AddLamp attaches a new lamp to an existing controller.
func (r *Registry) AddLamp(ctx context.Context, l models.Lamp) (models.Lamp, error) {
	l.Name = strings.TrimSpace(l.Name)
	if l.Name == "" {
		return models.Lamp{}, fmt.Errorf("%w: lamp name is required", ErrInvalid)
	}
	if l.Pin < 0 {
		return models.Lamp{}, fmt.Errorf("%w: pin must not be negative", ErrInvalid)
	}
	schedules, err := normalizeSchedules(l.Schedules)
	if err != nil {
		return models.Lamp{}, err
	}

	r.mu.Lock()
	ctrl, ok := r.controllers[l.ControllerID]
	if !ok {
		r.mu.Unlock()
		return models.Lamp{}, ErrControllerNotFound
	}
	if r.pinTakenLocked(l.ControllerID, l.Pin, "") {
		r.mu.Unlock()
		return models.Lamp{}, ErrPinInUse
	}
	if l.ID == "" {
		l.ID = newID()
	} else if _, exists := r.lamps[l.ID]; exists {
		r.mu.Unlock()
		return models.Lamp{}, fmt.Errorf("%w: lamp %s already exists", ErrInvalid, l.ID)
	}

	now := r.now()
	l.Schedules = schedules
	l.IsOnline = ctrl.IsOnline
	l.Version = 1
	l.UpdatedAt = now
	r.lamps[l.ID] = &lampEntry{lamp: l.Clone(), statusSeq: r.nextStatusSeq()}

	events := &pendingEvents{}
	events.lamp(l, nil, false, CauseAdmin)
	snap := r.snapshotLocked(false, true)
	r.mu.Unlock()

	r.persist(ctx, snap)
	r.notify(events)
	return l, nil
}

// UpdateLamp applies an admin edit to name, pin or controller.
func (r *Registry) UpdateLamp(ctx context.Context, id string, edit LampEdit) (models.Lamp, error) {
	return r.mutateLamp(ctx, id, CauseAdmin, func(e *lampEntry) (bool, error) {
		next := e.lamp.Clone()
		if edit.Name != nil {
			name := strings.TrimSpace(*edit.Name)
			if name == "" {
				return false, fmt.Errorf("%w: lamp name is required", ErrInvalid)
			}
			next.Name = name
		}
		if edit.Pin != nil {
			if *edit.Pin < 0 {
				return false, fmt.Errorf("%w: pin must not be negative", ErrInvalid)
			}
			next.Pin = *edit.Pin
		}
		if edit.ControllerID != nil {
			next.ControllerID = *edit.ControllerID
		}
		if next.Name == e.lamp.Name && next.Pin == e.lamp.Pin && next.ControllerID == e.lamp.ControllerID {
			return false, nil
		}

		ctrl, ok := r.controllers[next.ControllerID]
		if !ok {
			return false, ErrControllerNotFound
		}
		if r.pinTakenLocked(next.ControllerID, next.Pin, id) {
			return false, ErrPinInUse
		}
		if next.ControllerID != e.lamp.ControllerID || next.Pin != e.lamp.Pin {
			next.IsOnline = ctrl.IsOnline
		}
		e.lamp = next
		return true, nil
	})
}

// DeleteLamp removes a lamp.
func (r *Registry) DeleteLamp(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.lamps[id]
	if !ok {
		r.mu.Unlock()
		return ErrLampNotFound
	}
	delete(r.lamps, id)
	events := &pendingEvents{}
	events.lamp(e.lamp, nil, true, CauseAdmin)
	snap := r.snapshotLocked(false, true)
	r.mu.Unlock()

	r.persist(ctx, snap)
	r.notify(events)
	return nil
}

// SetLocked locks or unlocks a lamp against schedules and non-privileged toggles.
func (r *Registry) SetLocked(ctx context.Context, id string, locked bool) (models.Lamp, error) {
	return r.mutateLamp(ctx, id, CauseAdmin, func(e *lampEntry) (bool, error) {
		if e.lamp.IsLocked == locked {
			return false, nil
		}
		e.lamp.IsLocked = locked
		return true, nil
	})
}

// AddSchedule appends a schedule to a lamp.
func (r *Registry) AddSchedule(ctx context.Context, lampID string, s models.Schedule) (models.Schedule, error) {
	if s.ID == "" {
		s.ID = newID()
	}
	if err := s.Validate(); err != nil {
		return models.Schedule{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	_, err := r.mutateLamp(ctx, lampID, CauseAdmin, func(e *lampEntry) (bool, error) {
		for _, existing := range e.lamp.Schedules {
			if existing.ID == s.ID {
				return false, fmt.Errorf("%w: schedule %s already exists", ErrInvalid, s.ID)
			}
		}
		e.lamp.Schedules = append(e.lamp.Schedules, s)
		return true, nil
	})
	if err != nil {
		return models.Schedule{}, err
	}
	return s, nil
}

// UpdateSchedule edits one schedule of a lamp in place, keeping list order.
func (r *Registry) UpdateSchedule(ctx context.Context, lampID, scheduleID string, edit ScheduleEdit) (models.Schedule, error) {
	var updated models.Schedule
	_, err := r.mutateLamp(ctx, lampID, CauseAdmin, func(e *lampEntry) (bool, error) {
		for i, s := range e.lamp.Schedules {
			if s.ID != scheduleID {
				continue
			}
			next := s
			if edit.Time != nil {
				next.Time = *edit.Time
			}
			if edit.Action != nil {
				next.Action = *edit.Action
			}
			if edit.Enabled != nil {
				next.Enabled = *edit.Enabled
			}
			if err := next.Validate(); err != nil {
				return false, fmt.Errorf("%w: %v", ErrInvalid, err)
			}
			updated = next
			if next == s {
				return false, nil
			}
			e.lamp.Schedules = append([]models.Schedule(nil), e.lamp.Schedules...)
			e.lamp.Schedules[i] = next
			return true, nil
		}
		return false, ErrScheduleNotFound
	})
	if err != nil {
		return models.Schedule{}, err
	}
	return updated, nil
}

// DeleteSchedule removes one schedule from a lamp.
func (r *Registry) DeleteSchedule(ctx context.Context, lampID, scheduleID string) error {
	_, err := r.mutateLamp(ctx, lampID, CauseAdmin, func(e *lampEntry) (bool, error) {
		kept := make([]models.Schedule, 0, len(e.lamp.Schedules))
		for _, s := range e.lamp.Schedules {
			if s.ID != scheduleID {
				kept = append(kept, s)
			}
		}
		if len(kept) == len(e.lamp.Schedules) {
			return false, ErrScheduleNotFound
		}
		e.lamp.Schedules = kept
		return true, nil
	})
	return err
}

// mutateLamp runs fn under the write lock. fn reports whether it changed the entry.
func (r *Registry) mutateLamp(ctx context.Context, id string, cause Cause, fn func(e *lampEntry) (bool, error)) (models.Lamp, error) {
	r.mu.Lock()
	e, ok := r.lamps[id]
	if !ok {
		r.mu.Unlock()
		return models.Lamp{}, ErrLampNotFound
	}
	prev := e.lamp.Clone()
	changed, err := fn(e)
	if err != nil {
		e.lamp = prev
		r.mu.Unlock()
		return models.Lamp{}, err
	}
	if !changed {
		out := e.lamp.Clone()
		r.mu.Unlock()
		return out, nil
	}
	touchLamp(&e.lamp, r.now())
	out := e.lamp.Clone()
	events := &pendingEvents{}
	events.lamp(out, &prev, false, cause)
	snap := r.snapshotLocked(false, true)
	r.mu.Unlock()

	r.persist(ctx, snap)
	r.notify(events)
	return out, nil
}

func (r *Registry) pinTakenLocked(controllerID string, pin int, exceptLampID string) bool {
	for _, e := range r.lamps {
		if e.lamp.ID != exceptLampID && e.lamp.ControllerID == controllerID && e.lamp.Pin == pin {
			return true
		}
	}
	return false
}

func normalizeSchedules(in []models.Schedule) ([]models.Schedule, error) {
	out := make([]models.Schedule, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if s.ID == "" {
			s.ID = newID()
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("%w: duplicate schedule id %s", ErrInvalid, s.ID)
		}
		seen[s.ID] = true
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		out = append(out, s)
	}
	return out, nil
}
