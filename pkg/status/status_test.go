package status

import (
	"errors"
	"testing"
	"time"

	"github.com/mallocator/domain-watch/pkg/lookup"
)

var now = time.Date(2025, 5, 1, 18, 30, 0, 0, time.UTC)

func TestParseDate(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"2025-05-01T12:34:56Z", "2025-05-01", true},
		{"2025-05-01T23:34:56-05:00", "2025-05-02", true},
		{"2025-05-01T12:34:56.123456Z", "2025-05-01", true},
		{"2025-05-01", "2025-05-01", true},
		{"2025-05-01 12:34:56", "2025-05-01", true},
		{"01-May-2025", "2025-05-01", true},
		{"2025.05.01", "2025-05-01", true},
		{"2025/05/01", "2025-05-01", true},
		{"01.05.2025", "2025-05-01", true},
		{"  2025-05-01  ", "2025-05-01", true},
		{"invalid", "", false},
		{"", "", false},
	}
	for _, tc := range tests {
		got, ok := ParseDate(tc.raw)
		if ok != tc.ok {
			t.Errorf("ParseDate(%q) ok = %v, want %v", tc.raw, ok, tc.ok)
			continue
		}
		if ok && got.Format("2006-01-02") != tc.want {
			t.Errorf("ParseDate(%q) = %s, want %s", tc.raw, got.Format("2006-01-02"), tc.want)
		}
		if ok && (got.Hour() != 0 || got.Location() != time.UTC) {
			t.Errorf("ParseDate(%q) = %s, want a UTC calendar date", tc.raw, got)
		}
	}
}

func TestEarliestDate(t *testing.T) {
	got, ok := EarliestDate([]string{"2026-01-01", "garbage", "2025-06-30T00:00:00Z"})
	if !ok || got.Format("2006-01-02") != "2025-06-30" {
		t.Errorf("EarliestDate() = %s, %v, want 2025-06-30", got, ok)
	}

	if _, ok := EarliestDate([]string{"garbage"}); ok {
		t.Errorf("EarliestDate() with no readable values should report false")
	}
}

func TestDaysUntil(t *testing.T) {
	tests := []struct {
		expiry time.Time
		want   int
	}{
		{time.Date(2025, 5, 8, 0, 0, 0, 0, time.UTC), 7},
		{time.Date(2025, 5, 1, 23, 59, 0, 0, time.UTC), 0},
		{time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC), -1},
		{time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC), 30},
	}
	for _, tc := range tests {
		if got := DaysUntil(tc.expiry, now); got != tc.want {
			t.Errorf("DaysUntil(%s) = %d, want %d", tc.expiry, got, tc.want)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		res       lookup.Result
		status    Status
		registrar string
		expiry    string
		ambiguous bool
		wantErrIs error
	}{
		{
			name:   "not found",
			res:    lookup.Result{Kind: lookup.NotFound},
			status: Available,
		},
		{
			name:      "registered with expiry",
			res:       lookup.Result{Kind: lookup.Found, Registrar: " Example Registrar ", ExpiryDates: []string{"2025-05-08T04:00:00Z"}},
			status:    Registered,
			registrar: "Example Registrar",
			expiry:    "2025-05-08",
		},
		{
			name:   "registered without expiry",
			res:    lookup.Result{Kind: lookup.Found, DomainName: "example-test.com"},
			status: Registered,
		},
		{
			name:      "unreadable expiry",
			res:       lookup.Result{Kind: lookup.Found, DomainName: "example.com", ExpiryDates: []string{"next tuesday"}},
			status:    Registered,
			ambiguous: true,
			wantErrIs: ErrAmbiguousExpiry,
		},
		{
			name:   "expired",
			res:    lookup.Result{Kind: lookup.Found, DomainName: "example.com", ExpiryDates: []string{"2025-04-20"}},
			status: Expired,
			expiry: "2025-04-20",
		},
		{
			name:   "earliest of several",
			res:    lookup.Result{Kind: lookup.Found, DomainName: "example.com", ExpiryDates: []string{"2027-01-01", "2026-01-01"}},
			status: Registered,
			expiry: "2026-01-01",
		},
		{
			name:      "timeout",
			res:       lookup.Failed(lookup.ErrTimeout, errors.New("i/o timeout")),
			status:    Unknown,
			wantErrIs: lookup.ErrTimeout,
		},
		{
			name:      "error without detail",
			res:       lookup.Result{Kind: lookup.Error},
			status:    Unknown,
			wantErrIs: lookup.ErrLookup,
		},
	}
	for _, tc := range tests {
		c := Classify(tc.res, now)
		if c.Status != tc.status {
			t.Errorf("%s: status = %s, want %s", tc.name, c.Status, tc.status)
		}
		if c.Registrar != tc.registrar {
			t.Errorf("%s: registrar = %q, want %q", tc.name, c.Registrar, tc.registrar)
		}
		switch {
		case tc.expiry == "" && c.ExpiryDate != nil:
			t.Errorf("%s: expiry = %s, want none", tc.name, c.ExpiryDate)
		case tc.expiry != "" && (c.ExpiryDate == nil || c.ExpiryDate.Format("2006-01-02") != tc.expiry):
			t.Errorf("%s: expiry = %v, want %s", tc.name, c.ExpiryDate, tc.expiry)
		}
		if c.Ambiguous() != tc.ambiguous {
			t.Errorf("%s: ambiguous = %v, want %v", tc.name, c.Ambiguous(), tc.ambiguous)
		}
		if tc.wantErrIs != nil && !errors.Is(c.Err, tc.wantErrIs) {
			t.Errorf("%s: err = %v, want %v", tc.name, c.Err, tc.wantErrIs)
		}
		if c.Guessed {
			t.Errorf("%s: classification should not be guessed", tc.name)
		}
	}
}

func TestDisambiguate(t *testing.T) {
	unknown := Classify(lookup.Failed(lookup.ErrLookup, nil), now)

	if c := Disambiguate(unknown, true); c.Status != Registered || !c.Guessed {
		t.Errorf("Disambiguate(resolves) = %+v, want guessed registered", c)
	}
	if c := Disambiguate(unknown, false); c.Status != Available || !c.Guessed {
		t.Errorf("Disambiguate(!resolves) = %+v, want guessed available", c)
	}

	// A successful lookup is never overruled
	available := Classify(lookup.Result{Kind: lookup.NotFound}, now)
	if c := Disambiguate(available, true); c.Status != Available || c.Guessed {
		t.Errorf("Disambiguate() overruled a primary result: %+v", c)
	}
}

func TestDaysUntilExpiry(t *testing.T) {
	c := Classify(lookup.Result{Kind: lookup.Found, DomainName: "soon-expires.com", ExpiryDates: []string{"2025-05-08"}}, now)
	days, ok := c.DaysUntilExpiry(now)
	if !ok || days != 7 {
		t.Errorf("DaysUntilExpiry() = %d, %v, want 7, true", days, ok)
	}

	if _, ok := (Classification{Status: Registered}).DaysUntilExpiry(now); ok {
		t.Errorf("DaysUntilExpiry() without expiry should report false")
	}
}

func TestStatusPredicates(t *testing.T) {
	tests := []struct {
		s          Status
		registered bool
		known      bool
	}{
		{Unknown, false, false},
		{Available, false, true},
		{Registered, true, true},
		{Expired, true, true},
	}
	for _, tc := range tests {
		if tc.s.IsRegistered() != tc.registered || tc.s.Known() != tc.known {
			t.Errorf("%s: IsRegistered=%v Known=%v", tc.s, tc.s.IsRegistered(), tc.s.Known())
		}
	}
}
