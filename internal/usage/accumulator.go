// Package usage tracks how long lamps have been switched on.
package usage

import (
	"context"
	"sort"

	"github.com/lumina-control/backend/internal/registry"
	"github.com/lumina-control/backend/internal/storage/models"
)

// HoursPerTick is the usage credited to a lit lamp on each minute tick.
const HoursPerTick = 1.0 / 60.0

// Accumulator adds on-time to every lit lamp once per tick.
type Accumulator struct {
	registry *registry.Registry
}

// New creates a usage accumulator.
func New(reg *registry.Registry) *Accumulator {
	return &Accumulator{registry: reg}
}

// Tick credits one minute to every lamp whose cached status is on and
// returns how many lamps were credited. All changes share one persistence write.
func (a *Accumulator) Tick(ctx context.Context) int {
	return a.registry.UpdateLamps(ctx, registry.CauseUsage, func(l *models.Lamp) bool {
		if !l.Status {
			return false
		}
		l.TotalOnHours += HoursPerTick
		return true
	})
}

// Top returns up to n lamps with the most accumulated hours, highest first.
func Top(lamps []models.Lamp, n int) []models.Lamp {
	ranked := make([]models.Lamp, 0, len(lamps))
	for _, l := range lamps {
		if l.TotalOnHours > 0 {
			ranked = append(ranked, l)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].TotalOnHours > ranked[j].TotalOnHours
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
