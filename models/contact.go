package models

import "time"

// Contact represents a known mesh node seen by the radio.
type Contact struct {
	NodeID   string     `json:"node_id"`
	Name     string     `json:"name"`
	LastSeen *time.Time `json:"last_seen"`
	IsActive bool       `json:"is_active"`
}
