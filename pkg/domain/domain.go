// Package domain provides domain processing functionality for the domain watcher application
package domain

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/mallocator/domain-watch/pkg/alert"
	"github.com/mallocator/domain-watch/pkg/config"
	"github.com/mallocator/domain-watch/pkg/logger"
	"github.com/mallocator/domain-watch/pkg/lookup"
	"github.com/mallocator/domain-watch/pkg/metrics"
	"github.com/mallocator/domain-watch/pkg/notify"
	"github.com/mallocator/domain-watch/pkg/state"
	"github.com/mallocator/domain-watch/pkg/status"
)

// Resolver reports whether a domain resolves in DNS
type Resolver interface {
	Resolves(ctx context.Context, domain string) (bool, error)
}

// Outcome summarizes one domain check
type Outcome struct {
	Domain    string
	Status    status.Status
	Guessed   bool
	Decision  alert.Decision
	Delivered bool
	// Err is the lookup or delivery failure of the check, if any
	Err      error
	Duration time.Duration
}

// Processor handles domain processing operations
type Processor struct {
	cfg      *config.Config
	log      *logger.Logger
	lookup   lookup.Adapter
	dns      Resolver
	notifier notify.Notifier
	store    state.Store
	engine   *alert.Engine
	metrics  *metrics.Metrics
	limiter  *rate.Limiter

	now func() time.Time
}

// New creates a new domain processor. resolver and m may be nil.
func New(cfg *config.Config, log *logger.Logger, adapter lookup.Adapter, resolver Resolver,
	notifier notify.Notifier, store state.Store, m *metrics.Metrics) *Processor {
	limit := rate.Inf
	if cfg.CheckDelay > 0 {
		limit = rate.Every(cfg.CheckDelay)
	}
	return &Processor{
		cfg:      cfg,
		log:      log,
		lookup:   adapter,
		dns:      resolver,
		notifier: notifier,
		store:    store,
		engine:   alert.New(cfg),
		metrics:  m,
		limiter:  rate.NewLimiter(limit, 1),
		now:      time.Now,
	}
}

// ProcessAll checks the domains one after another, keeping at least CheckDelay between
// two checks. A cancelled ctx stops the pass before the next domain, never during a check.
func (p *Processor) ProcessAll(ctx context.Context, domains []string) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(domains))
	for _, d := range domains {
		domain := strings.TrimSpace(d)
		if domain == "" {
			p.log.Debugf("Skipping empty domain")
			continue
		}

		if err := p.limiter.Wait(ctx); err != nil {
			p.log.Infof("Pass stopped after %d of %d domains", len(outcomes), len(domains))
			return outcomes, err
		}
		outcomes = append(outcomes, p.ProcessDomain(ctx, domain))
	}

	p.metrics.PassCompleted(p.now())
	return outcomes, nil
}

// ProcessDomain runs one check: lookup, classify, store, decide, notify, record history.
// Every failure is logged and reported in the outcome, none aborts the check.
func (p *Processor) ProcessDomain(ctx context.Context, domain string) (out Outcome) {
	out.Domain = domain
	start := time.Now()
	log := p.log.WithDomain(domain)

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Check panicked: %v\n%s", r, debug.Stack())
			out.Err = fmt.Errorf("check of %s panicked: %v", domain, r)
		}
		out.Duration = time.Since(start)
	}()

	// A stop request must not interrupt a check halfway
	ctx = context.WithoutCancel(ctx)

	log.Infof("Checking %s", domain)
	prev, err := p.store.Get(ctx, domain)
	if err != nil {
		log.Warnf("Reading history failed, treating as first check: %v", err)
		p.metrics.PersistenceError("get")
		prev = nil
	}

	c := p.classify(ctx, domain)
	now := p.now()
	out.Status, out.Guessed = c.Status, c.Guessed
	if c.Status == status.Unknown {
		out.Err = c.Err
	}

	rec, err := p.store.Upsert(ctx, domain, c, now)
	if err != nil {
		log.Warnf("Storing check result failed: %v", err)
		p.metrics.PersistenceError("upsert")
		rec = fallbackRecord(prev, domain, c, now, p.cfg.ExpiryThresholds)
	}
	if prev != nil && prev.LastStatus != c.Status {
		log.Infof("Status changed from %s to %s", prev.LastStatus, c.Status)
	}

	var previous status.Status
	if prev != nil {
		previous = prev.LastStatus
	}
	d := p.engine.Decide(rec, previous, c, now)
	out.Decision = d
	snap := state.Snapshot{Status: c.Status, CheckedAt: now, Details: alert.Details(c, now)}

	var mark state.Mark
	if d.Notify() {
		log.Infof("→ %s: sending %s notification", c.Status, d.Kind)
		if err := p.send(ctx, alert.Message(d, domain, c, now)); err != nil {
			log.Errorf("Notification %s failed, will retry next check: %v", d.Kind, err)
			p.metrics.Notification(d.Kind.String(), false)
			out.Err = err
		} else {
			p.metrics.Notification(d.Kind.String(), true)
			mark = p.engine.Delivered(d, c, now)
			snap.Notified = d.Kind.String()
			out.Delivered = true
		}
	} else {
		log.Infof("→ %s", c.Status)
		mark = p.engine.Acknowledge(rec, c)
	}

	if !mark.Empty() {
		if err := p.store.Mark(ctx, domain, mark); err != nil {
			log.Warnf("Storing notification state failed: %v", err)
			p.metrics.PersistenceError("mark")
		}
	}
	if err := p.store.AppendHistory(ctx, domain, snap); err != nil {
		log.Warnf("Appending history failed: %v", err)
		p.metrics.PersistenceError("append_history")
	}

	p.metrics.ObserveCheck(domain, string(c.Status), time.Since(start))
	days, ok := rec.DaysUntilExpiry(now)
	p.metrics.ObserveExpiry(domain, days, ok)
	return out
}

// classify looks the domain up and falls back to the DNS hint when the lookup failed
func (p *Processor) classify(ctx context.Context, domain string) status.Classification {
	log := p.log.WithDomain(domain)

	lookupCtx, cancel := context.WithTimeout(ctx, p.lookupBudget())
	res := p.lookup.Lookup(lookupCtx, domain)
	cancel()

	c := status.Classify(res, p.now())
	switch {
	case c.Status == status.Unknown:
		kind := "error"
		if res.Timeout() {
			kind = "timeout"
		}
		p.metrics.LookupError(kind)
		log.Warnf("Lookup failed: %v", c.Err)
		c = p.disambiguate(ctx, domain, c)
	case c.Ambiguous():
		log.Warnf("Expiry date %v could not be read, skipping expiry rules", res.ExpiryDates)
	}
	return c
}

func (p *Processor) disambiguate(ctx context.Context, domain string, c status.Classification) status.Classification {
	if p.dns == nil || !p.cfg.DNSFallback {
		return c
	}

	dnsCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	resolves, err := p.dns.Resolves(dnsCtx, domain)
	if err != nil {
		p.log.WithDomain(domain).Debugf("DNS hint unavailable: %v", err)
		return c
	}
	c = status.Disambiguate(c, resolves)
	p.log.WithDomain(domain).Infof("Status guessed from DNS: %s", c.Status)
	return c
}

func (p *Processor) send(ctx context.Context, text string) error {
	sendCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	return p.notifier.Send(sendCtx, text)
}

// lookupBudget bounds a lookup including all retries and their backoff
func (p *Processor) lookupBudget() time.Duration {
	retries := p.cfg.Retries
	if retries < 1 {
		retries = 1
	}
	budget := time.Duration(retries) * p.cfg.Timeout
	for i, backoff := 1, p.cfg.Backoff; i < retries; i, backoff = i+1, backoff*2 {
		budget += backoff + time.Second
	}
	return budget
}

// fallbackRecord rebuilds the record in memory when the store could not write it
func fallbackRecord(prev *state.Record, domain string, c status.Classification, now time.Time, thresholds []int) *state.Record {
	rec := state.NewRecord(domain, now)
	if prev != nil {
		rec = prev.Clone()
	}
	rec.Apply(c, now, state.LargestThreshold(thresholds))
	return rec
}
