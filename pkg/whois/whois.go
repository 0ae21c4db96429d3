// Package whois provides WHOIS lookup functionality for the domain watcher application
package whois

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"

	"github.com/mallocator/domain-watch/pkg/config"
	"github.com/mallocator/domain-watch/pkg/logger"
	"github.com/mallocator/domain-watch/pkg/lookup"
)

// notFoundPrefixes start the line registries print for unregistered names that the
// parser does not recognise on its own
var notFoundPrefixes = []string{
	"no match for",
	"not found",
	"no data found",
	"no entries found",
	"no object found",
	"domain not found",
	"status: free",
	"status: available",
}

// notFoundPhrases may appear anywhere on a line
var notFoundPhrases = []string{
	"the queried object does not exist",
	"is available for registration",
}

// Checker handles WHOIS operations
type Checker struct {
	cfg *config.Config
	log *logger.Logger

	// query performs a single WHOIS request, replaced in tests
	query func(domain string) (string, error)
}

// New creates a new WHOIS checker
func New(cfg *config.Config, log *logger.Logger) *Checker {
	client := whois.NewClient().SetTimeout(cfg.Timeout)
	return &Checker{
		cfg: cfg,
		log: log,
		query: func(domain string) (string, error) {
			return client.Whois(domain)
		},
	}
}

// Lookup queries WHOIS for domain and turns the answer into a lookup.Result
func (c *Checker) Lookup(ctx context.Context, domain string) lookup.Result {
	raw, err := c.QueryWithRetries(ctx, domain)
	if err != nil {
		if isTimeout(err) {
			return lookup.Failed(lookup.ErrTimeout, err)
		}
		return lookup.Failed(lookup.ErrLookup, err)
	}
	return c.Parse(raw)
}

// QueryWithRetries performs WHOIS lookup with retries and exponential backoff
func (c *Checker) QueryWithRetries(ctx context.Context, domain string) (string, error) {
	retries := c.cfg.Retries
	if retries < 1 {
		retries = 1
	}

	var err error
	for i, backoff := 0, c.cfg.Backoff; i < retries; i, backoff = i+1, backoff*2 {
		var raw string
		raw, err = c.queryContext(ctx, domain)
		if err == nil {
			return raw, nil
		}

		c.log.Debugf("WHOIS retry %d for %s: %v", i+1, domain, err)
		if i == retries-1 {
			break
		}

		// Add jitter to backoff to prevent thundering herd
		jitter := time.Duration(rand.Intn(1000)) * time.Millisecond
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff + jitter):
		}
	}

	c.log.Warnf("WHOIS failed for %s after %d attempts: %v", domain, retries, err)
	return "", err
}

type queryResult struct {
	raw string
	err error
}

// queryContext runs one request and gives up when ctx ends first
func (c *Checker) queryContext(ctx context.Context, domain string) (string, error) {
	done := make(chan queryResult, 1)
	go func() {
		raw, err := c.query(domain)
		done <- queryResult{raw: raw, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.raw, r.err
	}
}

// Parse reads a raw WHOIS response
func (c *Checker) Parse(raw string) lookup.Result {
	parsed, err := whoisparser.Parse(raw)
	switch {
	case err == nil:
	case errors.Is(err, whoisparser.ErrNotFoundDomain):
		return lookup.Result{Kind: lookup.NotFound, Raw: raw}
	case errors.Is(err, whoisparser.ErrReservedDomain),
		errors.Is(err, whoisparser.ErrBlockedDomain),
		errors.Is(err, whoisparser.ErrPremiumDomain),
		errors.Is(err, whoisparser.ErrDomainLimitExceed):
		res := lookup.Failed(lookup.ErrLookup, err)
		res.Raw = raw
		return res
	default:
		if hasNotFoundMarker(raw) {
			return lookup.Result{Kind: lookup.NotFound, Raw: raw}
		}
		res := lookup.Failed(lookup.ErrLookup, fmt.Errorf("WHOIS parse failed: %w", err))
		res.Raw = raw
		return res
	}

	res := lookup.Result{Kind: lookup.Found, Raw: raw}
	if d := parsed.Domain; d != nil {
		res.DomainName = d.Domain
		res.CreationDate = d.CreatedDate
		res.NameServers = d.NameServers
		if d.ExpirationDate != "" {
			res.ExpiryDates = []string{strings.TrimSpace(d.ExpirationDate)}
		}
	}
	if r := parsed.Registrar; r != nil {
		res.Registrar = r.Name
		if res.Registrar == "" {
			res.Registrar = r.Organization
		}
	}

	// Without any identifying field the record says nothing about an owner
	if res.DomainName == "" && res.Registrar == "" && res.CreationDate == "" {
		return lookup.Result{Kind: lookup.NotFound, Raw: raw}
	}
	return res
}

func hasNotFoundMarker(raw string) bool {
	for _, line := range strings.Split(strings.ToLower(raw), "\n") {
		line = strings.TrimLeft(line, "%#>: \t")
		line = strings.TrimSpace(line)
		for _, p := range notFoundPrefixes {
			if strings.HasPrefix(line, p) {
				return true
			}
		}
		for _, p := range notFoundPhrases {
			if strings.Contains(line, p) {
				return true
			}
		}
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
