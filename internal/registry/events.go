package registry

import "github.com/lumina-control/backend/internal/storage/models"

// Cause tells listeners which component produced a change.
type Cause string

// Change causes
const (
	CauseAdmin    Cause = "admin"
	CauseProbe    Cause = "probe"
	CauseCommand  Cause = "command"
	CauseRollback Cause = "rollback"
	CauseUsage    Cause = "usage"
)

// ControllerEvent describes a committed change to a controller.
type ControllerEvent struct {
	Controller models.Controller
	Previous   *models.Controller
	Deleted    bool
	Cause      Cause
}

// LampEvent describes a committed change to a lamp.
type LampEvent struct {
	Lamp     models.Lamp
	Previous *models.Lamp
	Deleted  bool
	Cause    Cause
}

// StatusChanged reports whether the event flipped the lamp's on/off status.
func (e LampEvent) StatusChanged() bool {
	return e.Previous == nil || e.Deleted || e.Previous.Status != e.Lamp.Status
}

// OnlineChanged reports whether the event flipped the lamp's reachability.
func (e LampEvent) OnlineChanged() bool {
	return e.Previous == nil || e.Deleted || e.Previous.IsOnline != e.Lamp.IsOnline
}

// Listener receives change notifications. Calls happen after the registry
// lock is released, from the goroutine that made the change.
type Listener interface {
	ControllerChanged(ControllerEvent)
	LampChanged(LampEvent)
}

type pendingEvents struct {
	controllers []ControllerEvent
	lamps       []LampEvent
}

func (p *pendingEvents) controller(cur models.Controller, prev *models.Controller, deleted bool, cause Cause) {
	p.controllers = append(p.controllers, ControllerEvent{Controller: cur.Redacted(), Previous: redactedPtr(prev), Deleted: deleted, Cause: cause})
}

func (p *pendingEvents) lamp(cur models.Lamp, prev *models.Lamp, deleted bool, cause Cause) {
	ev := LampEvent{Lamp: cur.Clone(), Deleted: deleted, Cause: cause}
	if prev != nil {
		c := prev.Clone()
		ev.Previous = &c
	}
	p.lamps = append(p.lamps, ev)
}

func redactedPtr(c *models.Controller) *models.Controller {
	if c == nil {
		return nil
	}
	r := c.Redacted()
	return &r
}

func (r *Registry) notify(p *pendingEvents) {
	if p == nil || (len(p.controllers) == 0 && len(p.lamps) == 0) {
		return
	}
	r.listenersMu.RLock()
	listeners := append([]Listener(nil), r.listeners...)
	r.listenersMu.RUnlock()

	for _, l := range listeners {
		for _, ev := range p.controllers {
			l.ControllerChanged(ev)
		}
		for _, ev := range p.lamps {
			l.LampChanged(ev)
		}
	}
}
