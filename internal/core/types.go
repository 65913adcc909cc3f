// Package core defines core types with zero external dependencies.
package core

import "time"

// Source identifies the origin of traffic (an IP address in practice).
// It is opaque to the engine and only used as a map key.
type Source string

// Decision is the outcome of an admission check.
type Decision uint8

const (
	Allowed     Decision = iota // passed to the classifier
	RateLimited                 // threshold exceeded on this call, block installed
	Blocked                     // an unexpired block already exists
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case RateLimited:
		return "rate_limited"
	case Blocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Label is the classifier verdict.
type Label uint8

const (
	Normal Label = 0
	Attack Label = 1
)

func (l Label) String() string {
	switch l {
	case Normal:
		return "normal"
	case Attack:
		return "attack"
	default:
		return "unknown"
	}
}

// Event is one unit of observed traffic.
type Event struct {
	Source   Source
	Features FeatureVector
	// At is the arrival time. Zero means the consumer stamps it with its own clock.
	At time.Time
}
