// Package access decides which actors may see and control which lamps.
package access

import "github.com/lumina-control/backend/internal/storage/models"

// Role is an actor's capability level.
type Role string

// Roles, most to least capable.
const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleOperator   Role = "operator"
	RoleUser       Role = "user"
	RoleViewer     Role = "viewer"
)

// System is the actor used for automation such as schedules.
var System = Actor{ID: "system", Name: "Scheduler", Role: RoleSuperAdmin}

// Actor is the caller of a device operation.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
	// AllowedLamps lists the lamps a user or operator may see and control.
	AllowedLamps []string `json:"allowed_lamps,omitempty"`
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleOperator, RoleUser, RoleViewer:
		return true
	}
	return false
}

// Privileged reports whether the actor may override lamp locks.
func (a Actor) Privileged() bool {
	return a.Role == RoleSuperAdmin || a.Role == RoleAdmin
}

// DisplayName returns the name shown in the activity log.
func (a Actor) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

// ManagesController reports whether the actor administers a controller.
// Super admins manage everything; admins manage the controllers they own.
func (a Actor) ManagesController(c models.Controller) bool {
	switch a.Role {
	case RoleSuperAdmin:
		return true
	case RoleAdmin:
		return c.OwnerID == a.ID
	}
	return false
}

// CanView reports whether the actor may see a lamp. ctrl is nil for orphans.
func (a Actor) CanView(l models.Lamp, ctrl *models.Controller) bool {
	switch a.Role {
	case RoleSuperAdmin:
		return true
	case RoleAdmin:
		return ctrl != nil && a.ManagesController(*ctrl)
	case RoleOperator, RoleUser, RoleViewer:
		return a.allowed(l.ID)
	}
	return false
}

// CanControl reports whether the actor's capability level lets it switch a
// lamp. Locks are checked separately.
func (a Actor) CanControl(l models.Lamp, ctrl *models.Controller) bool {
	if a.Role == RoleViewer {
		return false
	}
	return a.CanView(l, ctrl)
}

func (a Actor) allowed(lampID string) bool {
	for _, id := range a.AllowedLamps {
		if id == lampID {
			return true
		}
	}
	return false
}
