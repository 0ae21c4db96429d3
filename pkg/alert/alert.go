// Package alert decides which notification, if any, a domain check calls for
package alert

import (
	"time"

	"github.com/mallocator/domain-watch/pkg/config"
	"github.com/mallocator/domain-watch/pkg/state"
	"github.com/mallocator/domain-watch/pkg/status"
)

// Kind is the type of notification a check produces
type Kind int

const (
	None Kind = iota
	FirstCheck
	BecameAvailable
	StillAvailable
	Expired
	ExpiringSoon
)

func (k Kind) String() string {
	switch k {
	case FirstCheck:
		return "first_check"
	case BecameAvailable:
		return "became_available"
	case StillAvailable:
		return "still_available"
	case Expired:
		return "expired"
	case ExpiringSoon:
		return "expiring_soon"
	default:
		return "none"
	}
}

// Decision is the outcome of the rules for one check
type Decision struct {
	Kind Kind
	// Threshold is the expiry threshold the notice covers, 0 for none
	Threshold int
	// Days until expiry, valid when HasDays is set
	Days    int
	HasDays bool
}

// Notify reports whether a message should be sent
func (d Decision) Notify() bool {
	return d.Kind != None
}

// Engine applies the notification rules
type Engine struct {
	Thresholds     []int
	RepeatInterval time.Duration
	FirstCheck     string
}

// New creates an engine from the configuration
func New(cfg *config.Config) *Engine {
	return &Engine{
		Thresholds:     cfg.ExpiryThresholds,
		RepeatInterval: cfg.RepeatInterval,
		FirstCheck:     cfg.FirstCheckNotify,
	}
}

// Decide picks at most one notice for classification c. rec is the domain's record after
// the classification was stored, or nil when the store could not provide one. previous is
// the status stored before this check, empty when the domain had no record.
// Rules, first match wins:
//
//  1. no record, the last check failed, or nothing was announced yet: first-check notice
//  2. available, last announced status was something else: became available
//  3. still available and the last notice is older than the repeat interval: reminder
//  4. expired, not yet announced as expired: expired
//  5. registered and the days left equal a threshold not yet sent: expiring soon
func (e *Engine) Decide(rec *state.Record, previous status.Status, c status.Classification, now time.Time) Decision {
	if !c.Status.Known() {
		return Decision{}
	}

	d := Decision{}
	d.Days, d.HasDays = c.DaysUntilExpiry(now)

	var (
		announced    status.Status
		lastNotified *time.Time
	)
	if rec != nil {
		announced = rec.AnnouncedStatus
		lastNotified = rec.LastNotifiedAt
	}

	firstObservation := previous == "" || previous == status.Unknown || announced == ""
	if firstObservation && e.firstCheckNotice(c.Status) {
		d.Kind = FirstCheck
		d.Threshold = e.dueThreshold(rec, c, d)
		return d
	}

	switch {
	case c.Status == status.Available && announced != status.Available:
		d.Kind = BecameAvailable
	case c.Status == status.Available:
		if lastNotified == nil || now.Sub(*lastNotified) >= e.RepeatInterval {
			d.Kind = StillAvailable
		}
	case c.Status == status.Expired && announced != status.Expired:
		d.Kind = Expired
	default:
		if t := e.dueThreshold(rec, c, d); t > 0 {
			d.Kind = ExpiringSoon
			d.Threshold = t
		}
	}
	return d
}

// Delivered returns what to store once the notice for d reached the operator
func (e *Engine) Delivered(d Decision, c status.Classification, now time.Time) state.Mark {
	at := now
	return state.Mark{
		NotifiedAt: &at,
		Threshold:  d.Threshold,
		Announced:  c.Status,
	}
}

// Acknowledge returns what to store when no notice was due. A known status is taken as
// announced so a later change is compared against it; failed lookups change nothing.
func (e *Engine) Acknowledge(rec *state.Record, c status.Classification) state.Mark {
	if !c.Status.Known() {
		return state.Mark{}
	}
	if rec != nil && rec.AnnouncedStatus == c.Status {
		return state.Mark{}
	}
	return state.Mark{Announced: c.Status}
}

func (e *Engine) firstCheckNotice(s status.Status) bool {
	switch e.FirstCheck {
	case config.FirstCheckNever:
		return false
	case config.FirstCheckAvailable:
		return s == status.Available
	default:
		return true
	}
}

// dueThreshold returns the threshold matching the days left, if it was not sent yet
func (e *Engine) dueThreshold(rec *state.Record, c status.Classification, d Decision) int {
	if !c.Status.IsRegistered() || !d.HasDays {
		return 0
	}
	for _, t := range e.Thresholds {
		if t != d.Days {
			continue
		}
		if rec != nil && rec.ThresholdNotified(t) {
			return 0
		}
		return t
	}
	return 0
}
