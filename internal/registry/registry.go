// Package registry owns the in-memory controller and lamp state.
//
// Every component reads and writes devices through a single Registry. Reads
// return copies and may run concurrently; writes are serialized by one lock
// that is never held across network calls. Committed writes are persisted
// after the lock is released, tagged with a sequence number so an older
// snapshot never overwrites a newer one.
package registry

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumina-control/backend/internal/storage/models"
)

// Store is the persistence collaborator. Saves replace the whole collection.
type Store interface {
	LoadControllers(ctx context.Context) ([]models.Controller, error)
	SaveControllers(ctx context.Context, controllers []models.Controller) error
	LoadLamps(ctx context.Context) ([]models.Lamp, error)
	SaveLamps(ctx context.Context, lamps []models.Lamp) error
}

type lampEntry struct {
	lamp models.Lamp
	// statusSeq is the statusClock value of the last write to lamp.Status.
	statusSeq uint64
	// pending counts dispatches whose device leg has not finished.
	pending int
}

// Registry is the single owner of controller and lamp state.
type Registry struct {
	mu          sync.RWMutex
	controllers map[string]*models.Controller
	lamps       map[string]*lampEntry
	statusClock uint64
	seq         uint64
	// probeGen changes whenever a controller's address or secret does.
	probeGen map[string]uint64

	store Store
	now   func() time.Time

	persistMu        sync.Mutex
	savedControllers uint64
	savedLamps       uint64

	listenersMu sync.RWMutex
	listeners   []Listener
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates an empty registry backed by store. A nil store disables persistence.
func New(store Store, opts ...Option) *Registry {
	r := &Registry{
		controllers: make(map[string]*models.Controller),
		lamps:       make(map[string]*lampEntry),
		probeGen:    make(map[string]uint64),
		store:       store,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load replaces the in-memory state with the store's contents.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	controllers, err := r.store.LoadControllers(ctx)
	if err != nil {
		return fmt.Errorf("loading controllers: %w", err)
	}
	lamps, err := r.store.LoadLamps(ctx)
	if err != nil {
		return fmt.Errorf("loading lamps: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.controllers = make(map[string]*models.Controller, len(controllers))
	for i := range controllers {
		c := controllers[i]
		r.controllers[c.ID] = &c
	}
	r.lamps = make(map[string]*lampEntry, len(lamps))
	for i := range lamps {
		l := lamps[i].Clone()
		if l.Schedules == nil {
			l.Schedules = []models.Schedule{}
		}
		ctrl, ok := r.controllers[l.ControllerID]
		l.IsOnline = l.IsOnline && ok && ctrl.IsOnline
		r.lamps[l.ID] = &lampEntry{lamp: l}
	}

	log.Printf("Registry loaded: %d controllers, %d lamps", len(r.controllers), len(r.lamps))
	return nil
}

// Subscribe registers a change listener.
func (r *Registry) Subscribe(l Listener) {
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, l)
	r.listenersMu.Unlock()
}

// Controller returns a copy of the controller with the given ID.
func (r *Registry) Controller(id string) (models.Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.controllers[id]
	if !ok {
		return models.Controller{}, false
	}
	return *c, true
}

// Controllers returns copies of all controllers ordered by name.
func (r *Registry) Controllers() []models.Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.controllerList()
}

// Lamp returns a copy of the lamp with the given ID.
func (r *Registry) Lamp(id string) (models.Lamp, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.lamps[id]
	if !ok {
		return models.Lamp{}, false
	}
	return e.lamp.Clone(), true
}

// Lamps returns copies of all lamps ordered by name.
func (r *Registry) Lamps() []models.Lamp {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lampList()
}

// LampsByController returns copies of the lamps attached to a controller.
func (r *Registry) LampsByController(controllerID string) []models.Lamp {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.Lamp
	for _, l := range r.lampList() {
		if l.ControllerID == controllerID {
			out = append(out, l)
		}
	}
	return out
}

// IsOrphan reports whether a lamp's controller does not resolve.
func (r *Registry) IsOrphan(l models.Lamp) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.controllers[l.ControllerID]
	return !ok
}

// UpdateLamps applies fn to every lamp in one batch. fn reports whether it
// changed the lamp; changed lamps get a new version and one persistence write
// covers the whole batch. fn must not touch Status.
func (r *Registry) UpdateLamps(ctx context.Context, cause Cause, fn func(l *models.Lamp) bool) int {
	r.mu.Lock()
	now := r.now()
	events := &pendingEvents{}
	changed := 0
	for _, e := range r.sortedEntries() {
		prev := e.lamp.Clone()
		if !fn(&e.lamp) {
			continue
		}
		e.lamp.Status = prev.Status
		touchLamp(&e.lamp, now)
		events.lamp(e.lamp, &prev, false, cause)
		changed++
	}
	var snap *snapshot
	if changed > 0 {
		snap = r.snapshotLocked(false, true)
	}
	r.mu.Unlock()

	r.persist(ctx, snap)
	r.notify(events)
	return changed
}

func touchLamp(l *models.Lamp, now time.Time) {
	l.Version++
	l.UpdatedAt = now
}

func touchController(c *models.Controller, now time.Time) {
	c.Version++
	c.UpdatedAt = now
}

func (r *Registry) controllerList() []models.Controller {
	out := make([]models.Controller, 0, len(r.controllers))
	for _, c := range r.controllers {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		return lessByName(out[i].Name, out[i].ID, out[j].Name, out[j].ID)
	})
	return out
}

func (r *Registry) sortedEntries() []*lampEntry {
	out := make([]*lampEntry, 0, len(r.lamps))
	for _, e := range r.lamps {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].lamp, out[j].lamp
		return lessByName(a.Name, a.ID, b.Name, b.ID)
	})
	return out
}

func lessByName(nameA, idA, nameB, idB string) bool {
	a, b := strings.ToLower(nameA), strings.ToLower(nameB)
	if a != b {
		return a < b
	}
	return idA < idB
}

func (r *Registry) lampList() []models.Lamp {
	entries := r.sortedEntries()
	out := make([]models.Lamp, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.lamp.Clone())
	}
	return out
}

// nextStatusSeq must be called with mu held.
func (r *Registry) nextStatusSeq() uint64 {
	r.statusClock++
	return r.statusClock
}

// StatusMark returns the current status clock. The reconciler takes a mark
// before probing so results can be compared with writes made meanwhile.
func (r *Registry) StatusMark() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.statusClock
}

func newID() string {
	return uuid.NewString()
}
