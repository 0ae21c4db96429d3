// Package status classifies lookup results into the registration status of a domain
package status

import (
	"errors"
	"strings"
	"time"

	"github.com/mallocator/domain-watch/pkg/lookup"
)

// ErrAmbiguousExpiry is reported when a registered domain carries an expiry date
// none of the known formats can read
var ErrAmbiguousExpiry = errors.New("expiry date could not be parsed")

// Status is the registration status of a domain
type Status string

const (
	Unknown    Status = "unknown"
	Available  Status = "available"
	Registered Status = "registered"
	Expired    Status = "expired"
)

// IsRegistered reports whether s is Registered or its Expired sub-state
func (s Status) IsRegistered() bool {
	return s == Registered || s == Expired
}

// Known reports whether s is the result of a successful classification
func (s Status) Known() bool {
	return s == Available || s.IsRegistered()
}

// DateFormats lists the expiry layouts registries use, most specific first
var DateFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05 MST",
	"2006-01-02",
	"02-Jan-2006",
	"2006.01.02 15:04:05",
	"2006.01.02",
	"2006/01/02",
	"02.01.2006",
	"January 2 2006",
	"Mon Jan 2 15:04:05 MST 2006",
}

// Classification is the status of one domain for one check
type Classification struct {
	Status     Status
	Registrar  string
	ExpiryDate *time.Time // UTC calendar date, only for registered domains

	// Guessed is set when the status comes from the DNS hint instead of WHOIS
	Guessed bool
	// Err carries the lookup failure for Unknown or ErrAmbiguousExpiry for unreadable dates
	Err error
}

// Ambiguous reports whether the expiry date was present but unreadable
func (c Classification) Ambiguous() bool {
	return errors.Is(c.Err, ErrAmbiguousExpiry)
}

// DaysUntilExpiry returns the whole days left until expiry, negative once expired.
// The second value is false when no expiry date is known.
func (c Classification) DaysUntilExpiry(now time.Time) (int, bool) {
	if c.ExpiryDate == nil {
		return 0, false
	}
	return DaysUntil(*c.ExpiryDate, now), true
}

// Classify maps a lookup result to a status. It has no side effects.
func Classify(res lookup.Result, now time.Time) Classification {
	switch res.Kind {
	case lookup.NotFound:
		return Classification{Status: Available}
	case lookup.Found:
	default:
		err := res.Err
		if err == nil {
			err = lookup.ErrLookup
		}
		return Classification{Status: Unknown, Err: err}
	}

	c := Classification{
		Status:    Registered,
		Registrar: strings.TrimSpace(res.Registrar),
	}

	if expiry, ok := EarliestDate(res.ExpiryDates); ok {
		c.ExpiryDate = &expiry
		c.Status = Derive(expiry, now)
	} else if hasAny(res.ExpiryDates) {
		c.Err = ErrAmbiguousExpiry
	}
	return c
}

// Disambiguate uses the DNS hint to guess a status for an Unknown classification.
// A successful classification is returned untouched.
func Disambiguate(c Classification, resolves bool) Classification {
	if c.Status != Unknown {
		return c
	}
	if resolves {
		return Classification{Status: Registered, Guessed: true, Err: c.Err}
	}
	return Classification{Status: Available, Guessed: true, Err: c.Err}
}

// Derive returns Expired once the expiry date has passed, else Registered
func Derive(expiry, now time.Time) Status {
	if DaysUntil(expiry, now) < 0 {
		return Expired
	}
	return Registered
}

// ParseDate reads a date with the first layout of DateFormats that accepts it
// and truncates it to a UTC calendar date
func ParseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range DateFormats {
		if t, err := time.Parse(layout, raw); err == nil {
			return CalendarDate(t), true
		}
	}
	return time.Time{}, false
}

// EarliestDate parses all values and returns the earliest readable one
func EarliestDate(values []string) (time.Time, bool) {
	var (
		earliest time.Time
		found    bool
	)
	for _, v := range values {
		t, ok := ParseDate(v)
		if !ok {
			continue
		}
		if !found || t.Before(earliest) {
			earliest, found = t, true
		}
	}
	return earliest, found
}

// CalendarDate drops the time of day, keeping the UTC date
func CalendarDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysUntil counts calendar days from now to expiry, both read as UTC dates
func DaysUntil(expiry, now time.Time) int {
	return int(CalendarDate(expiry).Sub(CalendarDate(now)).Hours() / 24)
}

func hasAny(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}
