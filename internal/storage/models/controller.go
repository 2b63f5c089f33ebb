// Package models contains the domain models for the application.
package models

import (
	"strings"
	"time"
)

// Controller represents a network-attached relay board that owns one or more lamps.
type Controller struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Address        string     `json:"address"`
	SharedSecret   string     `json:"shared_secret,omitempty"`
	Model          string     `json:"model"`
	OwnerID        string     `json:"owner_id"`
	IsOnline       bool       `json:"is_online"`
	LastError      string     `json:"last_error,omitempty"`
	LastSeen       *time.Time `json:"last_seen,omitempty"`
	SignalStrength *int       `json:"signal_strength,omitempty"`
	Uptime         *int64     `json:"uptime,omitempty"`
	Version        uint64     `json:"version"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Controller board models.
const (
	ModelESP32   = "ESP32"
	ModelESP8266 = "ESP8266"
)

// PlaceholderAddress is the address given to controllers registered before their IP is known.
const PlaceholderAddress = "0.0.0.0"

// HasPlaceholderAddress reports whether the controller has no reachable address yet.
func (c *Controller) HasPlaceholderAddress() bool {
	addr := strings.TrimSpace(c.Address)
	return addr == "" || addr == PlaceholderAddress
}

// IsLoopback reports whether the controller points at the local machine.
// Such controllers are simulated and never contacted over the network.
func (c *Controller) IsLoopback() bool {
	addr := strings.ToLower(strings.TrimSpace(c.Address))
	return strings.Contains(addr, "localhost") ||
		strings.HasPrefix(addr, "127.") ||
		addr == "::1" || addr == "[::1]" || strings.HasPrefix(addr, "[::1]:")
}

// IsSimulated reports whether commands to this controller skip the network entirely.
func (c *Controller) IsSimulated() bool {
	return c.HasPlaceholderAddress() || c.IsLoopback()
}

// Redacted returns a copy without the shared secret, safe for API responses.
func (c Controller) Redacted() Controller {
	c.SharedSecret = ""
	return c
}

// ValidModel reports whether m is a supported controller model.
func ValidModel(m string) bool {
	return m == ModelESP32 || m == ModelESP8266
}
