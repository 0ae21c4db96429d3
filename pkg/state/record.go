// Package state provides the per-domain history store for the domain watcher application
package state

import (
	"sort"
	"time"

	"github.com/mallocator/domain-watch/pkg/status"
)

// Snapshot is one entry of a domain's trailing check log
type Snapshot struct {
	Status    status.Status `json:"status"`
	CheckedAt time.Time     `json:"checked_at"`
	Details   string        `json:"details,omitempty"`
	Notified  string        `json:"notified,omitempty"` // kind of message delivered by this check
}

// Record holds everything remembered about one watched domain
type Record struct {
	Domain        string        `json:"domain"`
	LastStatus    status.Status `json:"last_status"`
	Registrar     string        `json:"registrar,omitempty"`
	ExpiryDate    *time.Time    `json:"expiry_date,omitempty"`
	LastCheckedAt time.Time     `json:"last_checked_at"`
	CreatedAt     time.Time     `json:"created_at"`

	// AnnouncedStatus is the last status the operator was told about, or silently
	// acknowledged when no message was due. Empty until the first classification.
	AnnouncedStatus    status.Status `json:"announced_status,omitempty"`
	LastNotifiedAt     *time.Time    `json:"last_notified_at,omitempty"`
	NotifiedThresholds []int         `json:"notified_thresholds,omitempty"`

	History []Snapshot `json:"history,omitempty"`
}

// Mark records what a check told the operator
type Mark struct {
	// NotifiedAt is set when a message was delivered
	NotifiedAt *time.Time
	// Threshold is the expiry threshold covered by the message, 0 for none
	Threshold int
	// Announced is the status now known to the operator, empty to keep the current one
	Announced status.Status
}

// Empty reports whether applying m would change nothing
func (m Mark) Empty() bool {
	return m.NotifiedAt == nil && m.Threshold == 0 && m.Announced == ""
}

// NewRecord creates the record of a domain that has not been classified yet
func NewRecord(domain string, now time.Time) *Record {
	return &Record{
		Domain:     domain,
		LastStatus: status.Unknown,
		CreatedAt:  now,
	}
}

// Apply updates the record with the classification of a check done at checkedAt.
// resetAfter is the largest expiry threshold: once expiry is further away than that,
// notified thresholds belong to an older registration period and are cleared.
func (r *Record) Apply(c status.Classification, checkedAt time.Time, resetAfter int) {
	previousExpiry := r.ExpiryDate

	r.LastCheckedAt = checkedAt
	r.LastStatus = c.Status

	// Expiry and sent thresholds only exist for registered domains
	if !c.Status.Known() {
		r.ExpiryDate = nil
		r.NotifiedThresholds = nil
		return
	}
	r.Registrar = c.Registrar

	if !c.Status.IsRegistered() {
		r.ExpiryDate = nil
		r.NotifiedThresholds = nil
		return
	}

	r.ExpiryDate = c.ExpiryDate
	if r.ExpiryDate == nil {
		return
	}

	r.LastStatus = status.Derive(*r.ExpiryDate, checkedAt)
	if previousExpiry != nil && r.ExpiryDate.After(*previousExpiry) {
		r.NotifiedThresholds = nil
	}
	if status.DaysUntil(*r.ExpiryDate, checkedAt) > resetAfter {
		r.NotifiedThresholds = nil
	}
}

// ApplyMark stores the outcome of a delivered or acknowledged message
func (r *Record) ApplyMark(m Mark) {
	if m.NotifiedAt != nil {
		at := *m.NotifiedAt
		r.LastNotifiedAt = &at
	}
	if m.Announced != "" {
		r.AnnouncedStatus = m.Announced
	}
	if m.Threshold > 0 && r.LastStatus.IsRegistered() && !r.ThresholdNotified(m.Threshold) {
		r.NotifiedThresholds = append(r.NotifiedThresholds, m.Threshold)
		sort.Sort(sort.Reverse(sort.IntSlice(r.NotifiedThresholds)))
	}
}

// ThresholdNotified reports whether the threshold was already sent for this registration period
func (r *Record) ThresholdNotified(days int) bool {
	for _, t := range r.NotifiedThresholds {
		if t == days {
			return true
		}
	}
	return false
}

// AppendHistory pushes a snapshot and drops the oldest entries beyond limit
func (r *Record) AppendHistory(s Snapshot, limit int) {
	r.History = append(r.History, s)
	if limit > 0 && len(r.History) > limit {
		r.History = append([]Snapshot(nil), r.History[len(r.History)-limit:]...)
	}
}

// DaysUntilExpiry returns the days left until the stored expiry date
func (r *Record) DaysUntilExpiry(now time.Time) (int, bool) {
	if r.ExpiryDate == nil {
		return 0, false
	}
	return status.DaysUntil(*r.ExpiryDate, now), true
}

// Clone returns a deep copy of the record
func (r *Record) Clone() *Record {
	c := *r
	if r.ExpiryDate != nil {
		t := *r.ExpiryDate
		c.ExpiryDate = &t
	}
	if r.LastNotifiedAt != nil {
		t := *r.LastNotifiedAt
		c.LastNotifiedAt = &t
	}
	c.NotifiedThresholds = append([]int(nil), r.NotifiedThresholds...)
	c.History = append([]Snapshot(nil), r.History...)
	return &c
}

// Entry is a snapshot together with the domain it belongs to
type Entry struct {
	Domain string `json:"domain"`
	Snapshot
}

// newest orders entries by check time, latest first
func newest(entries []Entry, limit int) []Entry {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CheckedAt.After(entries[j].CheckedAt)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}
