package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mallocator/domain-watch/pkg/config"
	"github.com/mallocator/domain-watch/pkg/logger"
	"github.com/mallocator/domain-watch/pkg/status"
)

// ErrPersistence wraps every read or write failure of a store
var ErrPersistence = errors.New("state persistence failed")

// Store keeps one Record per watched domain
type Store interface {
	// Get returns the record of domain, or nil when the domain was never checked
	Get(ctx context.Context, domain string) (*Record, error)
	// Upsert applies a classification and returns the updated record
	Upsert(ctx context.Context, domain string, c status.Classification, checkedAt time.Time) (*Record, error)
	// AppendHistory adds a snapshot, dropping the oldest beyond the history limit
	AppendHistory(ctx context.Context, domain string, s Snapshot) error
	// Mark stores what the last check told the operator
	Mark(ctx context.Context, domain string, m Mark) error
	// List returns all records without their history, ordered by domain
	List(ctx context.Context) ([]*Record, error)
	// Recent returns the latest snapshots across all domains, newest first
	Recent(ctx context.Context, limit int) ([]Entry, error)
	// Delete removes the record of domain
	Delete(ctx context.Context, domain string) error
	// Cleanup removes records of domains that are no longer watched
	Cleanup(ctx context.Context, keep []string) error
	Close() error
}

// Open creates the store selected by the configuration
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (Store, error) {
	switch cfg.StoreDriver {
	case config.StoreFile, "":
		return New(cfg, log), nil
	case config.StoreSQLite, config.StorePostgres:
		return NewSQL(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", ErrPersistence, cfg.StoreDriver)
	}
}

func persistenceError(op, domain string, err error) error {
	if domain == "" {
		return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
	}
	return fmt.Errorf("%w: %s %s: %w", ErrPersistence, op, domain, err)
}

// LargestThreshold returns the value Record.Apply takes as resetAfter
func LargestThreshold(thresholds []int) int {
	max := 0
	for _, t := range thresholds {
		if t > max {
			max = t
		}
	}
	return max
}
