package core

import "time"

// ActionKind is the type of mitigation action emitted to sinks.
type ActionKind string

const (
	ActionBlock   ActionKind = "block"
	ActionUnblock ActionKind = "unblock"
)

// Reason explains why an action was taken.
type Reason string

const (
	ReasonRateLimit     Reason = "rate_limit"
	ReasonDetection     Reason = "detection"
	ReasonFailClosed    Reason = "classifier_fail_closed"
	ReasonAdministrator Reason = "admin"
)

// Action is a mitigation record published to downstream systems
// (firewalls, SIEM, audit topics).
type Action struct {
	ID     string     `json:"id"`
	Kind   ActionKind `json:"kind"`
	Reason Reason     `json:"reason"`
	Source Source     `json:"source"`
	At     time.Time  `json:"at"`
	Until  time.Time  `json:"until,omitzero"`
}
