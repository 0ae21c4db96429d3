// Package scheduler runs check passes over the watched domains at a fixed interval
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/mallocator/domain-watch/pkg/domain"
	"github.com/mallocator/domain-watch/pkg/logger"
)

// Runner checks a list of domains, one after another
type Runner interface {
	ProcessAll(ctx context.Context, domains []string) ([]domain.Outcome, error)
}

// Scheduler triggers a pass immediately and then every interval
type Scheduler struct {
	runner   Runner
	domains  []string
	interval time.Duration
	log      *logger.Logger
}

// New creates a scheduler for the given domains
func New(runner Runner, domains []string, interval time.Duration, log *logger.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		domains:  domains,
		interval: interval,
		log:      log,
	}
}

// Run blocks until ctx is done. A pass that is still running when the interval elapses
// delays the next one; ticks are never queued up.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Infof("Watching %d domains every %s", len(s.domains), s.interval)

	s.Pass(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Infof("Scheduler stopped")
			return nil
		case <-ticker.C:
			s.Pass(ctx)
		}
	}
}

// Pass runs one check pass and summarizes it in the log
func (s *Scheduler) Pass(ctx context.Context) []domain.Outcome {
	started := time.Now()
	outcomes, err := s.runner.ProcessAll(ctx, s.domains)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warnf("Pass ended early: %v", err)
	}

	var notified, failed int
	for _, o := range outcomes {
		if o.Delivered {
			notified++
		}
		if o.Err != nil {
			failed++
		}
	}
	s.log.Infof("Pass finished: %d checked, %d notified, %d with errors in %s",
		len(outcomes), notified, failed, time.Since(started).Round(time.Millisecond))
	return outcomes
}
