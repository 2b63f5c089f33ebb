package registry

import (
	"context"
	"time"

	"github.com/lumina-control/backend/internal/storage/models"
)

// PinReport answers whether a probe reported a pin and in which state.
type PinReport interface {
	Reported(pin int) (on bool, ok bool)
}

// Observation is the outcome of one controller status probe.
type Observation struct {
	// Err is nil when the controller answered with a usable payload.
	Err            error
	Report         PinReport
	SignalStrength *int
	Uptime         *int64
	At             time.Time
	// Mark is the StatusMark taken before the probe was issued.
	Mark uint64
	// Generation is the controller generation the probe was sent to.
	Generation uint64
}

// ProbeTarget returns the controller together with the status mark and
// generation a probe of it must carry, read in one step.
func (r *Registry) ProbeTarget(id string) (ctrl models.Controller, mark, gen uint64, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.controllers[id]
	if !ok {
		return models.Controller{}, 0, 0, false
	}
	return *c, r.statusClock, r.probeGen[id], true
}

// ApplyObservation merges a probe result into the controller and its lamps.
// Only fields that actually change are written; an unchanged result bumps no
// version and triggers no persistence or events. Lamps with an in-flight
// dispatch, or whose status was written after the probe was issued, keep
// their status but still follow the controller's reachability. A result from
// before an address or secret change is dropped with ErrStaleObservation.
// It returns the controller before and after the merge.
func (r *Registry) ApplyObservation(ctx context.Context, controllerID string, obs Observation) (before, after models.Controller, err error) {
	r.mu.Lock()
	c, ok := r.controllers[controllerID]
	if !ok {
		r.mu.Unlock()
		return models.Controller{}, models.Controller{}, ErrControllerNotFound
	}
	if obs.Generation != r.probeGen[controllerID] {
		cur := *c
		r.mu.Unlock()
		return cur, cur, ErrStaleObservation
	}
	prev := *c
	next := *c
	now := r.now()

	online := obs.Err == nil
	next.IsOnline = online
	if online {
		next.LastError = ""
		seen := obs.At
		if seen.IsZero() {
			seen = now
		}
		// diagnostics are refreshed every probe without counting as a write
		c.LastSeen = &seen
		if obs.SignalStrength != nil {
			c.SignalStrength = obs.SignalStrength
		}
		if obs.Uptime != nil {
			c.Uptime = obs.Uptime
		}
		next.LastSeen, next.SignalStrength, next.Uptime = c.LastSeen, c.SignalStrength, c.Uptime
		prev.LastSeen, prev.SignalStrength, prev.Uptime = c.LastSeen, c.SignalStrength, c.Uptime
	} else {
		next.LastError = obs.Err.Error()
	}

	events := &pendingEvents{}
	controllerChanged := next.IsOnline != prev.IsOnline || next.LastError != prev.LastError
	if controllerChanged {
		touchController(&next, now)
		*c = next
		events.controller(next, &prev, false, CauseProbe)
	}

	lampsChanged := false
	for _, e := range r.sortedEntries() {
		if e.lamp.ControllerID != controllerID {
			continue
		}
		status := e.lamp.Status
		statusFresh := e.pending == 0 && e.statusSeq <= obs.Mark
		if online && obs.Report != nil && statusFresh {
			if on, reported := obs.Report.Reported(e.lamp.Pin); reported {
				status = on
			}
		}
		if status == e.lamp.Status && online == e.lamp.IsOnline {
			continue
		}

		lp := e.lamp.Clone()
		if status != e.lamp.Status {
			e.lamp.Status = status
			e.statusSeq = r.nextStatusSeq()
		}
		e.lamp.IsOnline = online
		touchLamp(&e.lamp, now)
		events.lamp(e.lamp, &lp, false, CauseProbe)
		lampsChanged = true
	}

	var snap *snapshot
	if controllerChanged || lampsChanged {
		snap = r.snapshotLocked(controllerChanged, lampsChanged)
	}
	after = *c
	r.mu.Unlock()

	r.persist(ctx, snap)
	r.notify(events)
	return prev, after, nil
}
