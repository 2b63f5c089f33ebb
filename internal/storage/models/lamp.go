package models

import (
	"fmt"
	"time"
)

// Lamp represents one controllable relay output on a controller.
type Lamp struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Pin          int        `json:"pin"`
	ControllerID string     `json:"controller_id,omitempty"`
	Status       bool       `json:"status"`
	IsLocked     bool       `json:"is_locked"`
	TotalOnHours float64    `json:"total_on_hours"`
	LastTurnedOn *time.Time `json:"last_turned_on,omitempty"`
	IsOnline     bool       `json:"is_online"`
	Schedules    []Schedule `json:"schedules"`
	Version      uint64     `json:"version"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Clone returns a deep copy of the lamp.
func (l Lamp) Clone() Lamp {
	if l.LastTurnedOn != nil {
		t := *l.LastTurnedOn
		l.LastTurnedOn = &t
	}
	if l.Schedules != nil {
		l.Schedules = append([]Schedule(nil), l.Schedules...)
	}
	return l
}

// HasEnabledSchedule reports whether at least one schedule is enabled.
func (l *Lamp) HasEnabledSchedule() bool {
	for _, s := range l.Schedules {
		if s.Enabled {
			return true
		}
	}
	return false
}

// Schedule is a time-of-day rule that switches a lamp on or off.
type Schedule struct {
	ID      string `json:"id"`
	Time    string `json:"time"` // HH:MM, 24h
	Action  string `json:"action"`
	Enabled bool   `json:"enabled"`
}

// Schedule actions
const (
	ActionOn  = "on"
	ActionOff = "off"
)

// Target returns the lamp status the schedule drives towards.
func (s Schedule) Target() bool {
	return s.Action == ActionOn
}

// Validate checks the time format and action of a schedule.
func (s Schedule) Validate() error {
	if _, err := time.Parse("15:04", s.Time); err != nil || len(s.Time) != 5 {
		return fmt.Errorf("invalid schedule time %q, expected HH:MM", s.Time)
	}
	if s.Action != ActionOn && s.Action != ActionOff {
		return fmt.Errorf("invalid schedule action %q, expected on or off", s.Action)
	}
	return nil
}

// StateString renders a lamp status in the device wire format.
func StateString(on bool) string {
	if on {
		return ActionOn
	}
	return ActionOff
}
