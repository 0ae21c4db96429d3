// Package lookup defines the result of a registration lookup and the adapter contract
// implemented by the WHOIS checker.
package lookup

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTimeout marks a lookup that did not answer within its deadline
	ErrTimeout = errors.New("lookup timed out")
	// ErrLookup marks a network or protocol failure
	ErrLookup = errors.New("lookup failed")
)

// Kind tells which variant of Result is populated
type Kind int

const (
	// Error means the source could not be queried or its answer could not be read
	Error Kind = iota
	// NotFound means the source explicitly reports the name as not registered
	NotFound
	// Found means the source returned registration data
	Found
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Found:
		return "found"
	default:
		return "error"
	}
}

// Result is the raw outcome of one lookup. Dates are kept as the source printed them,
// the classifier decides how to read them.
type Result struct {
	Kind Kind

	// Found fields, all optional
	DomainName   string
	Registrar    string
	CreationDate string
	ExpiryDates  []string
	NameServers  []string

	// Raw response text, kept for history details
	Raw string

	// Error detail, wraps ErrTimeout or ErrLookup
	Err error
}

// Timeout reports whether the lookup failed because of its deadline
func (r Result) Timeout() bool {
	return r.Kind == Error && errors.Is(r.Err, ErrTimeout)
}

// Adapter queries a registration data source for one domain.
// Implementations bound the call by their own timeout and never block forever.
type Adapter interface {
	Lookup(ctx context.Context, domain string) Result
}

// AdapterFunc lets a plain function satisfy Adapter
type AdapterFunc func(ctx context.Context, domain string) Result

// Lookup calls f(ctx, domain)
func (f AdapterFunc) Lookup(ctx context.Context, domain string) Result {
	return f(ctx, domain)
}

// Failed builds an Error result wrapping the given sentinel
func Failed(sentinel, cause error) Result {
	if cause == nil {
		return Result{Kind: Error, Err: sentinel}
	}
	return Result{Kind: Error, Err: fmt.Errorf("%w: %w", sentinel, cause)}
}
