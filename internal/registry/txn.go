package registry

import (
	"context"
	"time"

	"github.com/lumina-control/backend/internal/storage/models"
)

// Guard vets a lamp before an optimistic change. ctrl is nil for orphan lamps.
// It runs under the write lock and must not block.
type Guard func(lamp models.Lamp, ctrl *models.Controller) error

// Mutation applies an optimistic change to a lamp's status fields.
type Mutation func(lamp *models.Lamp, now time.Time)

// Txn is an optimistic lamp update waiting for its remote effect.
// Exactly one of Commit or Rollback must be called.
type Txn struct {
	r          *Registry
	lampID     string
	before     models.Lamp
	applied    models.Lamp
	controller models.Controller
	seq        uint64
	done       bool
}

// Begin snapshots a lamp, checks guard and applies mutate in one critical
// section. The change is visible to readers and listeners immediately but is
// persisted only on Commit.
func (r *Registry) Begin(ctx context.Context, lampID string, guard Guard, mutate Mutation) (*Txn, error) {
	r.mu.Lock()
	e, ok := r.lamps[lampID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrLampNotFound
	}
	var ctrl *models.Controller
	if c, ok := r.controllers[e.lamp.ControllerID]; ok {
		cc := *c
		ctrl = &cc
	}
	if guard != nil {
		if err := guard(e.lamp.Clone(), ctrl); err != nil {
			r.mu.Unlock()
			return nil, err
		}
	}
	if ctrl == nil {
		r.mu.Unlock()
		return nil, ErrControllerNotFound
	}

	before := e.lamp.Clone()
	now := r.now()
	mutate(&e.lamp, now)

	events := &pendingEvents{}
	if e.lamp.Status != before.Status || !timesEqual(e.lamp.LastTurnedOn, before.LastTurnedOn) {
		touchLamp(&e.lamp, now)
		events.lamp(e.lamp, &before, false, CauseCommand)
	}
	e.statusSeq = r.nextStatusSeq()
	e.pending++

	t := &Txn{
		r:          r,
		lampID:     lampID,
		before:     before,
		applied:    e.lamp.Clone(),
		controller: *ctrl,
		seq:        e.statusSeq,
	}
	r.mu.Unlock()

	r.notify(events)
	return t, nil
}

// Before returns the lamp as it was before the optimistic change.
func (t *Txn) Before() models.Lamp { return t.before.Clone() }

// Lamp returns the lamp with the optimistic change applied.
func (t *Txn) Lamp() models.Lamp { return t.applied.Clone() }

// Controller returns the lamp's controller as seen when the transaction began.
func (t *Txn) Controller() models.Controller { return t.controller }

// Commit makes the optimistic change durable.
func (t *Txn) Commit(ctx context.Context) models.Lamp {
	r := t.r
	r.mu.Lock()
	if t.done {
		r.mu.Unlock()
		return t.applied.Clone()
	}
	t.done = true
	out := t.applied.Clone()
	var snap *snapshot
	if e, ok := r.lamps[t.lampID]; ok {
		e.pending--
		out = e.lamp.Clone()
		snap = r.snapshotLocked(false, true)
	}
	r.mu.Unlock()

	r.persist(ctx, snap)
	return out
}

// Rollback restores the status fields captured by Begin. If another status
// write landed after Begin, that newer value is kept and Rollback reports false.
func (t *Txn) Rollback(ctx context.Context) (models.Lamp, bool) {
	r := t.r
	r.mu.Lock()
	if t.done {
		r.mu.Unlock()
		return t.before.Clone(), false
	}
	t.done = true
	e, ok := r.lamps[t.lampID]
	if !ok {
		r.mu.Unlock()
		return t.before.Clone(), false
	}
	e.pending--
	if e.statusSeq != t.seq {
		out := e.lamp.Clone()
		r.mu.Unlock()
		return out, false
	}

	events := &pendingEvents{}
	var snap *snapshot
	if e.lamp.Status != t.before.Status || !timesEqual(e.lamp.LastTurnedOn, t.before.LastTurnedOn) {
		prev := e.lamp.Clone()
		e.lamp.Status = t.before.Status
		e.lamp.LastTurnedOn = t.before.Clone().LastTurnedOn
		e.statusSeq = r.nextStatusSeq()
		touchLamp(&e.lamp, r.now())
		events.lamp(e.lamp, &prev, false, CauseRollback)
		snap = r.snapshotLocked(false, true)
	}
	out := e.lamp.Clone()
	r.mu.Unlock()

	r.persist(ctx, snap)
	r.notify(events)
	return out, true
}

// Transact runs the optimistic update pattern synchronously: Begin, effect,
// then Commit on success or Rollback on failure. The effect's error is returned.
func (r *Registry) Transact(ctx context.Context, lampID string, guard Guard, mutate Mutation,
	effect func(ctx context.Context, lamp models.Lamp, ctrl models.Controller) error) (models.Lamp, error) {
	t, err := r.Begin(ctx, lampID, guard, mutate)
	if err != nil {
		return models.Lamp{}, err
	}
	if err := effect(ctx, t.Lamp(), t.Controller()); err != nil {
		lamp, _ := t.Rollback(ctx)
		return lamp, err
	}
	return t.Commit(ctx), nil
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
