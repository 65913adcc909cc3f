package monitor

import "sync/atomic"

// Outcome is the single final result recorded for one event.
type Outcome uint8

const (
	OutcomeAllowed            Outcome = iota // admitted and classified normal
	OutcomeBlocked                           // source already blocked
	OutcomeRateLimited                       // this event tripped the rate limit
	OutcomeDetected                          // classified attack, source blocked
	OutcomeClassifierFailOpen                // classifier unavailable, admitted
	OutcomeClassifierFailClosed              // classifier unavailable, source blocked

	numOutcomes
)

var outcomeNames = [numOutcomes]string{
	"allowed",
	"blocked",
	"blocked_by_rate_limit",
	"detected_and_blocked",
	"classifier_fail_open",
	"classifier_fail_closed",
}

func (o Outcome) String() string {
	if o < numOutcomes {
		return outcomeNames[o]
	}
	return "unknown"
}

// counters holds one monotonic counter per outcome. Only the loop writes.
type counters [numOutcomes]atomic.Uint64

func (c *counters) inc(o Outcome) { c[o].Add(1) }

// Counters is a read-only snapshot of outcome counts.
type Counters struct {
	Allowed              uint64 `json:"allowed"`
	Blocked              uint64 `json:"blocked"`
	BlockedByRateLimit   uint64 `json:"blocked_by_rate_limit"`
	DetectedAndBlocked   uint64 `json:"detected_and_blocked"`
	ClassifierFailOpen   uint64 `json:"classifier_fail_open"`
	ClassifierFailClosed uint64 `json:"classifier_fail_closed"`
}

func (c *counters) snapshot() Counters {
	return Counters{
		Allowed:              c[OutcomeAllowed].Load(),
		Blocked:              c[OutcomeBlocked].Load(),
		BlockedByRateLimit:   c[OutcomeRateLimited].Load(),
		DetectedAndBlocked:   c[OutcomeDetected].Load(),
		ClassifierFailOpen:   c[OutcomeClassifierFailOpen].Load(),
		ClassifierFailClosed: c[OutcomeClassifierFailClosed].Load(),
	}
}

// Total returns the number of processed events.
func (c Counters) Total() uint64 {
	return c.Allowed + c.Blocked + c.BlockedByRateLimit + c.DetectedAndBlocked +
		c.ClassifierFailOpen + c.ClassifierFailClosed
}

// Map returns the counters keyed by outcome name.
func (c Counters) Map() map[string]uint64 {
	return map[string]uint64{
		OutcomeAllowed.String():              c.Allowed,
		OutcomeBlocked.String():              c.Blocked,
		OutcomeRateLimited.String():          c.BlockedByRateLimit,
		OutcomeDetected.String():             c.DetectedAndBlocked,
		OutcomeClassifierFailOpen.String():   c.ClassifierFailOpen,
		OutcomeClassifierFailClosed.String(): c.ClassifierFailClosed,
	}
}
