package state

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mallocator/domain-watch/pkg/config"
	"github.com/mallocator/domain-watch/pkg/logger"
	"github.com/mallocator/domain-watch/pkg/status"
)

// Manager is the file backed store, one JSON document per domain in StateDir
type Manager struct {
	cfg *config.Config
	log *logger.Logger
	mu  sync.Mutex
}

// New creates a new file state manager
func New(cfg *config.Config, log *logger.Logger) *Manager {
	return &Manager{
		cfg: cfg,
		log: log,
	}
}

// Get loads the record of domain
func (m *Manager) Get(_ context.Context, domain string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Load(domain)
}

// Upsert applies a classification to the stored record
func (m *Manager) Upsert(_ context.Context, domain string, c status.Classification, checkedAt time.Time) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.Load(domain)
	if err != nil {
		m.log.Warnf("Replacing unreadable state of %s: %v", domain, err)
		rec = nil
	}
	if rec == nil {
		rec = NewRecord(domain, checkedAt)
	}
	rec.Apply(c, checkedAt, LargestThreshold(m.cfg.ExpiryThresholds))
	if err := m.Save(rec); err != nil {
		return rec, err
	}
	return rec.Clone(), nil
}

// AppendHistory adds a snapshot to the record of domain
func (m *Manager) AppendHistory(_ context.Context, domain string, s Snapshot) error {
	return m.update(domain, s.CheckedAt, func(rec *Record) {
		rec.AppendHistory(s, m.cfg.HistoryLimit)
	})
}

// Mark stores the outcome of a notification
func (m *Manager) Mark(_ context.Context, domain string, mark Mark) error {
	if mark.Empty() {
		return nil
	}
	return m.update(domain, time.Now(), func(rec *Record) {
		rec.ApplyMark(mark)
	})
}

func (m *Manager) update(domain string, now time.Time, fn func(*Record)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.Load(domain)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = NewRecord(domain, now)
	}
	fn(rec)
	return m.Save(rec)
}

// List returns all stored records ordered by domain, without history
func (m *Manager) List(_ context.Context) ([]*Record, error) {
	records, err := m.all()
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		rec.History = nil
	}
	return records, nil
}

// Recent returns the latest snapshots across all records
func (m *Manager) Recent(_ context.Context, limit int) ([]Entry, error) {
	records, err := m.all()
	if err != nil {
		return nil, err
	}
	var entries []Entry
	for _, rec := range records {
		for _, s := range rec.History {
			entries = append(entries, Entry{Domain: rec.Domain, Snapshot: s})
		}
	}
	return newest(entries, limit), nil
}

// Delete removes the state file of domain
func (m *Manager) Delete(_ context.Context, domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := os.Remove(m.stateFilePath(domain))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return persistenceError("delete", domain, err)
	}
	return nil
}

// Close is a no-op for the file store
func (m *Manager) Close() error {
	return nil
}

func (m *Manager) all() ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	files, err := filepath.Glob(filepath.Join(m.cfg.StateDir, "*.json"))
	if err != nil {
		return nil, persistenceError("list", "", err)
	}

	records := make([]*Record, 0, len(files))
	for _, file := range files {
		rec, err := readRecord(file)
		if err != nil {
			m.log.Debugf("Skipping %s: %v", file, err)
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Domain < records[j].Domain })
	return records, nil
}

// stateFilePath returns the path to the state file for a domain
func (m *Manager) stateFilePath(domain string) string {
	name := strings.ReplaceAll(domain, ".", "_") + ".json"
	return filepath.Join(m.cfg.StateDir, name)
}

// Load reads the record of domain from disk, nil if none exists
func (m *Manager) Load(domain string) (*Record, error) {
	rec, err := readRecord(m.stateFilePath(domain))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, persistenceError("load", domain, err)
	}
	return rec, nil
}

// Save writes the record to disk through a temporary file so readers never see a partial document
func (m *Manager) Save(rec *Record) error {
	if err := os.MkdirAll(m.cfg.StateDir, 0755); err != nil {
		return persistenceError("save", rec.Domain, err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return persistenceError("save", rec.Domain, err)
	}

	path := m.stateFilePath(rec.Domain)
	tmp, err := os.CreateTemp(m.cfg.StateDir, ".tmp-*")
	if err != nil {
		return persistenceError("save", rec.Domain, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return persistenceError("save", rec.Domain, err)
	}
	if err := tmp.Close(); err != nil {
		return persistenceError("save", rec.Domain, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return persistenceError("save", rec.Domain, err)
	}

	m.log.Debugf("Saved state for %s", rec.Domain)
	return nil
}

// IsAppGeneratedFile checks if a file holds a record written by this application
func (m *Manager) IsAppGeneratedFile(path string) bool {
	if filepath.Ext(path) != ".json" {
		return false
	}
	_, err := readRecord(path)
	return err == nil
}

// Cleanup removes state files for domains that are no longer watched
func (m *Manager) Cleanup(_ context.Context, keep []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(m.cfg.StateDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return persistenceError("cleanup", "", err)
	}

	valid := make(map[string]struct{}, len(keep))
	for _, d := range keep {
		valid[filepath.Base(m.stateFilePath(d))] = struct{}{}
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := valid[entry.Name()]; ok {
			continue
		}

		path := filepath.Join(m.cfg.StateDir, entry.Name())
		if !m.IsAppGeneratedFile(path) {
			continue
		}
		if err := os.Remove(path); err != nil {
			m.log.Warnf("Failed to remove stale state file %s: %v", path, err)
			continue
		}
		m.log.Infof("Removed stale state file %s", path)
	}
	return nil
}

func readRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	if rec.Domain == "" {
		return nil, errors.New("not a domain record")
	}
	return &rec, nil
}
