package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mallocator/domain-watch/pkg/domain"
	"github.com/mallocator/domain-watch/pkg/logger"
)

type fakeRunner struct {
	mu      sync.Mutex
	passes  [][]string
	onPass  func(n int)
	outcome []domain.Outcome
	err     error
}

func (f *fakeRunner) ProcessAll(_ context.Context, domains []string) ([]domain.Outcome, error) {
	f.mu.Lock()
	f.passes = append(f.passes, domains)
	n := len(f.passes)
	f.mu.Unlock()

	if f.onPass != nil {
		f.onPass(n)
	}
	return f.outcome, f.err
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.passes)
}

func TestRunImmediatePass(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &fakeRunner{onPass: func(int) { cancel() }}

	s := New(runner, []string{"example.com"}, time.Hour, logger.New())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	if runner.count() != 1 {
		t.Errorf("passes = %d, want 1 (immediate)", runner.count())
	}
	if runner.passes[0][0] != "example.com" {
		t.Errorf("pass domains = %v", runner.passes[0])
	}
}

func TestRunInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := &fakeRunner{onPass: func(n int) {
		if n == 3 {
			cancel()
		}
	}}

	s := New(runner, []string{"a.com", "b.com"}, 10*time.Millisecond, logger.New())
	started := time.Now()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if runner.count() != 3 {
		t.Errorf("passes = %d, want 3", runner.count())
	}
	if took := time.Since(started); took < 20*time.Millisecond {
		t.Errorf("three passes took %s, want at least two intervals", took)
	}
}

func TestPassSummary(t *testing.T) {
	runner := &fakeRunner{
		outcome: []domain.Outcome{
			{Domain: "a.com", Delivered: true},
			{Domain: "b.com", Err: errors.New("lookup failed")},
		},
		err: context.Canceled,
	}

	s := New(runner, []string{"a.com", "b.com", "c.com"}, time.Hour, logger.New())
	outcomes := s.Pass(context.Background())
	if len(outcomes) != 2 {
		t.Errorf("Pass() = %d outcomes, want 2", len(outcomes))
	}
}
