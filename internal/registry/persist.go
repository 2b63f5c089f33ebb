package registry

import (
	"context"
	"log"

	"github.com/lumina-control/backend/internal/storage/models"
)

type snapshot struct {
	seq         uint64
	controllers []models.Controller
	lamps       []models.Lamp
}

// snapshotLocked copies the requested collections. Caller holds mu.
func (r *Registry) snapshotLocked(controllers, lamps bool) *snapshot {
	r.seq++
	s := &snapshot{seq: r.seq}
	if controllers {
		s.controllers = r.controllerList()
	}
	if lamps {
		s.lamps = r.lampList()
	}
	return s
}

// persist writes a snapshot unless a newer one has already been saved.
// Failures are logged; in-memory state stays authoritative.
func (r *Registry) persist(ctx context.Context, s *snapshot) {
	if s == nil || r.store == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	if s.controllers != nil && s.seq > r.savedControllers {
		if err := r.store.SaveControllers(ctx, s.controllers); err != nil {
			log.Printf("Error saving controllers: %v", err)
		} else {
			r.savedControllers = s.seq
		}
	}
	if s.lamps != nil && s.seq > r.savedLamps {
		if err := r.store.SaveLamps(ctx, s.lamps); err != nil {
			log.Printf("Error saving lamps: %v", err)
		} else {
			r.savedLamps = s.seq
		}
	}
}
