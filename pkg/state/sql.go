package state

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/mallocator/domain-watch/pkg/config"
	"github.com/mallocator/domain-watch/pkg/logger"
	"github.com/mallocator/domain-watch/pkg/status"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know by default
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

const timeLayout = time.RFC3339Nano

// SQLStore keeps records in a sqlite or postgres database
type SQLStore struct {
	cfg *config.Config
	log *logger.Logger
	db  *sqlx.DB
}

type domainRow struct {
	Domain             string         `db:"domain"`
	LastStatus         string         `db:"last_status"`
	AnnouncedStatus    string         `db:"announced_status"`
	Registrar          string         `db:"registrar"`
	ExpiryDate         sql.NullString `db:"expiry_date"`
	LastCheckedAt      string         `db:"last_checked_at"`
	LastNotifiedAt     sql.NullString `db:"last_notified_at"`
	NotifiedThresholds string         `db:"notified_thresholds"`
	CreatedAt          string         `db:"created_at"`
}

type historyRow struct {
	ID        int64  `db:"id"`
	Domain    string `db:"domain"`
	Status    string `db:"status"`
	CheckedAt string `db:"checked_at"`
	Details   string `db:"details"`
	Notified  string `db:"notified"`
}

// NewSQL connects to the configured database and applies pending migrations
func NewSQL(ctx context.Context, cfg *config.Config, log *logger.Logger) (*SQLStore, error) {
	driver, dialect, dir := "sqlite", goose.DialectSQLite3, "migrations/sqlite"
	if cfg.StoreDriver == config.StorePostgres {
		driver, dialect, dir = "postgres", goose.DialectPostgres, "migrations/postgres"
	}

	db, err := sqlx.ConnectContext(ctx, driver, cfg.StoreDSN)
	if err != nil {
		return nil, persistenceError("connect", "", err)
	}
	if driver == "sqlite" {
		// One writer, and every connection of an in-memory database would see its own copy
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	fsys, err := fs.Sub(migrations, dir)
	if err != nil {
		_ = db.Close()
		return nil, persistenceError("migrate", "", err)
	}
	provider, err := goose.NewProvider(dialect, db.DB, fsys)
	if err != nil {
		_ = db.Close()
		return nil, persistenceError("migrate", "", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		_ = db.Close()
		return nil, persistenceError("migrate", "", err)
	}
	for _, r := range results {
		log.Infof("Applied migration %s", r.Source.Path)
	}

	return &SQLStore{cfg: cfg, log: log, db: db}, nil
}

// Get returns the record of domain with its history
func (s *SQLStore) Get(ctx context.Context, domain string) (*Record, error) {
	rec, err := s.get(ctx, s.db, domain)
	if err != nil || rec == nil {
		return rec, err
	}

	var rows []historyRow
	query := s.db.Rebind(`SELECT id, domain, status, checked_at, details, notified FROM history WHERE domain = ? ORDER BY id`)
	if err := s.db.SelectContext(ctx, &rows, query, domain); err != nil {
		return nil, persistenceError("load history", domain, err)
	}
	for _, row := range rows {
		rec.History = append(rec.History, row.snapshot())
	}
	return rec, nil
}

func (s *SQLStore) get(ctx context.Context, q sqlx.QueryerContext, domain string) (*Record, error) {
	var row domainRow
	query := s.db.Rebind(`SELECT * FROM domains WHERE domain = ?`)
	err := sqlx.GetContext(ctx, q, &row, query, domain)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistenceError("load", domain, err)
	}
	return row.record()
}

// Upsert applies a classification to the stored record inside one transaction
func (s *SQLStore) Upsert(ctx context.Context, domain string, c status.Classification, checkedAt time.Time) (*Record, error) {
	var rec *Record
	err := s.tx(ctx, domain, checkedAt, func(r *Record) {
		r.Apply(c, checkedAt, LargestThreshold(s.cfg.ExpiryThresholds))
		rec = r.Clone()
	})
	return rec, err
}

// Mark stores the outcome of a notification
func (s *SQLStore) Mark(ctx context.Context, domain string, m Mark) error {
	if m.Empty() {
		return nil
	}
	return s.tx(ctx, domain, time.Now(), func(r *Record) {
		r.ApplyMark(m)
	})
}

func (s *SQLStore) tx(ctx context.Context, domain string, now time.Time, fn func(*Record)) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return persistenceError("begin", domain, err)
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := s.get(ctx, tx, domain)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = NewRecord(domain, now)
	}
	fn(rec)

	row, err := rowFromRecord(rec)
	if err != nil {
		return persistenceError("encode", domain, err)
	}
	query := s.db.Rebind(`
		INSERT INTO domains (
			domain, last_status, announced_status, registrar, expiry_date,
			last_checked_at, last_notified_at, notified_thresholds, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (domain) DO UPDATE SET
			last_status = excluded.last_status,
			announced_status = excluded.announced_status,
			registrar = excluded.registrar,
			expiry_date = excluded.expiry_date,
			last_checked_at = excluded.last_checked_at,
			last_notified_at = excluded.last_notified_at,
			notified_thresholds = excluded.notified_thresholds`)
	_, err = tx.ExecContext(ctx, query,
		row.Domain, row.LastStatus, row.AnnouncedStatus, row.Registrar, row.ExpiryDate,
		row.LastCheckedAt, row.LastNotifiedAt, row.NotifiedThresholds, row.CreatedAt)
	if err != nil {
		return persistenceError("save", domain, err)
	}
	if err := tx.Commit(); err != nil {
		return persistenceError("commit", domain, err)
	}
	return nil
}

// AppendHistory inserts a snapshot and trims the domain's log to the history limit
func (s *SQLStore) AppendHistory(ctx context.Context, domain string, snap Snapshot) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return persistenceError("begin", domain, err)
	}
	defer func() { _ = tx.Rollback() }()

	insert := s.db.Rebind(`INSERT INTO history (domain, status, checked_at, details, notified) VALUES (?, ?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, insert,
		domain, string(snap.Status), snap.CheckedAt.UTC().Format(timeLayout), snap.Details, snap.Notified); err != nil {
		return persistenceError("append history", domain, err)
	}

	trim := s.db.Rebind(`
		DELETE FROM history WHERE domain = ? AND id NOT IN (
			SELECT id FROM history WHERE domain = ? ORDER BY id DESC LIMIT ?
		)`)
	if _, err := tx.ExecContext(ctx, trim, domain, domain, s.cfg.HistoryLimit); err != nil {
		return persistenceError("trim history", domain, err)
	}

	if err := tx.Commit(); err != nil {
		return persistenceError("commit", domain, err)
	}
	return nil
}

// List returns all records ordered by domain, without history
func (s *SQLStore) List(ctx context.Context) ([]*Record, error) {
	var rows []domainRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM domains ORDER BY domain`); err != nil {
		return nil, persistenceError("list", "", err)
	}
	records := make([]*Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			s.log.Warnf("Skipping unreadable record %s: %v", row.Domain, err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Recent returns the latest snapshots across all domains
func (s *SQLStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	var rows []historyRow
	query := s.db.Rebind(`SELECT id, domain, status, checked_at, details, notified FROM history ORDER BY id DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, persistenceError("recent history", "", err)
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, Entry{Domain: row.Domain, Snapshot: row.snapshot()})
	}
	return newest(entries, limit), nil
}

// Delete removes a domain and its history
func (s *SQLStore) Delete(ctx context.Context, domain string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return persistenceError("begin", domain, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, query := range []string{`DELETE FROM history WHERE domain = ?`, `DELETE FROM domains WHERE domain = ?`} {
		if _, err := tx.ExecContext(ctx, s.db.Rebind(query), domain); err != nil {
			return persistenceError("delete", domain, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return persistenceError("commit", domain, err)
	}
	return nil
}

// Cleanup removes every domain not in keep
func (s *SQLStore) Cleanup(ctx context.Context, keep []string) error {
	var domains []string
	if err := s.db.SelectContext(ctx, &domains, `SELECT domain FROM domains`); err != nil {
		return persistenceError("cleanup", "", err)
	}

	valid := make(map[string]struct{}, len(keep))
	for _, d := range keep {
		valid[d] = struct{}{}
	}
	for _, d := range domains {
		if _, ok := valid[d]; ok {
			continue
		}
		if err := s.Delete(ctx, d); err != nil {
			s.log.Warnf("Failed to remove stale record %s: %v", d, err)
			continue
		}
		s.log.Infof("Removed stale record %s", d)
	}
	return nil
}

// Close closes the database
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func rowFromRecord(rec *Record) (domainRow, error) {
	thresholds := rec.NotifiedThresholds
	if thresholds == nil {
		thresholds = []int{}
	}
	encoded, err := json.Marshal(thresholds)
	if err != nil {
		return domainRow{}, err
	}
	return domainRow{
		Domain:             rec.Domain,
		LastStatus:         string(rec.LastStatus),
		AnnouncedStatus:    string(rec.AnnouncedStatus),
		Registrar:          rec.Registrar,
		ExpiryDate:         formatNullTime(rec.ExpiryDate),
		LastCheckedAt:      rec.LastCheckedAt.UTC().Format(timeLayout),
		LastNotifiedAt:     formatNullTime(rec.LastNotifiedAt),
		NotifiedThresholds: string(encoded),
		CreatedAt:          rec.CreatedAt.UTC().Format(timeLayout),
	}, nil
}

func (row domainRow) record() (*Record, error) {
	rec := &Record{
		Domain:          row.Domain,
		LastStatus:      status.Status(row.LastStatus),
		AnnouncedStatus: status.Status(row.AnnouncedStatus),
		Registrar:       row.Registrar,
	}

	var err error
	if rec.ExpiryDate, err = parseNullTime(row.ExpiryDate); err != nil {
		return nil, err
	}
	if rec.LastNotifiedAt, err = parseNullTime(row.LastNotifiedAt); err != nil {
		return nil, err
	}
	if rec.LastCheckedAt, err = time.Parse(timeLayout, row.LastCheckedAt); err != nil {
		return nil, err
	}
	if rec.CreatedAt, err = time.Parse(timeLayout, row.CreatedAt); err != nil {
		return nil, err
	}
	if row.NotifiedThresholds != "" {
		if err := json.Unmarshal([]byte(row.NotifiedThresholds), &rec.NotifiedThresholds); err != nil {
			return nil, err
		}
	}
	if len(rec.NotifiedThresholds) == 0 {
		rec.NotifiedThresholds = nil
	}
	return rec, nil
}

func (row historyRow) snapshot() Snapshot {
	checkedAt, _ := time.Parse(timeLayout, row.CheckedAt)
	return Snapshot{
		Status:    status.Status(row.Status),
		CheckedAt: checkedAt,
		Details:   row.Details,
		Notified:  row.Notified,
	}
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
