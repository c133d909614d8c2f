package terminal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alovak/cardflow-pos/card"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgconn"
	"github.com/lib/pq"
)

//go:embed migrations
var migrationsFS embed.FS

// ErrDuplicate is returned when an event was already journaled.
var ErrDuplicate = fmt.Errorf("duplicate journal entry")

// JournalEntry is one audited event on a card record. The account number is
// only ever kept masked.
type JournalEntry struct {
	Time       time.Time `json:"time"`
	Event      string    `json:"event"`
	Bucket     string    `json:"bucket"`
	RecordID   int       `json:"record_id"`
	Card       string    `json:"card"`
	Brand      string    `json:"brand"`
	State      string    `json:"state"`
	Code       string    `json:"code"`
	Amount     int64     `json:"amount"`
	Total      int64     `json:"total"`
	Approval   string    `json:"approval"`
	Reference  string    `json:"reference"`
	TerminalID string    `json:"terminal_id"`
}

func newEntry(now time.Time, event string, r *card.Record) JournalEntry {
	return JournalEntry{
		Time:       now,
		Event:      event,
		Bucket:     r.Bucket.String(),
		RecordID:   r.ID,
		Card:       r.Masked(),
		Brand:      r.Brand.String(),
		State:      r.State.String(),
		Code:       string(r.Code),
		Amount:     r.Amount,
		Total:      r.TotalPreauth(),
		Approval:   r.Approval,
		Reference:  r.Reference,
		TerminalID: r.TerminalID,
	}
}

// Journal is the audit trail of finalized card events. Without a database
// it is kept in memory.
type Journal struct {
	mu      sync.RWMutex
	entries []JournalEntry
	seen    map[string]struct{}
	db      *sql.DB
}

func NewJournal() *Journal {
	return &Journal{seen: make(map[string]struct{})}
}

// NewPGJournal constructs a journal backed by the pos.card_journal table.
func NewPGJournal(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// OpenJournal returns the in-memory journal for an empty dsn, and otherwise
// a migrated Postgres journal together with its database handle.
func OpenJournal(dsn string) (*Journal, *sql.DB, error) {
	if dsn == "" {
		return NewJournal(), nil, nil
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxIdleConns(2)
	db.SetMaxOpenConns(4)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	j := NewPGJournal(db)
	if err := j.Migrate(); err != nil {
		db.Close()
		return nil, nil, err
	}
	return j, db, nil
}

func entryKey(e JournalEntry) string {
	return fmt.Sprintf("%s/%s/%d/%s/%s", e.TerminalID, e.Bucket, e.RecordID, e.Event, e.Reference)
}

// Record appends one event. The same event for the same record and host
// reference is only kept once.
func (j *Journal) Record(ctx context.Context, e JournalEntry) error {
	if j.db == nil {
		j.mu.Lock()
		defer j.mu.Unlock()
		key := entryKey(e)
		if _, ok := j.seen[key]; ok {
			return ErrDuplicate
		}
		j.seen[key] = struct{}{}
		j.entries = append(j.entries, e)
		return nil
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO pos.card_journal(created_at, event, bucket, record_id, masked_pan, brand, state, code, amount, total, approval, reference, terminal_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, e.Time, e.Event, e.Bucket, e.RecordID, e.Card, e.Brand, e.State, e.Code, e.Amount, e.Total, e.Approval, e.Reference, e.TerminalID)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// Entries returns the newest entries first, at most limit of them.
func (j *Journal) Entries(ctx context.Context, limit int) ([]JournalEntry, error) {
	if j.db == nil {
		j.mu.RLock()
		defer j.mu.RUnlock()
		var out []JournalEntry
		for i := len(j.entries) - 1; i >= 0 && len(out) < limit; i-- {
			out = append(out, j.entries[i])
		}
		return out, nil
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT created_at, event, bucket, record_id, masked_pan, brand, state, code, amount, total, approval, reference, terminal_id
		FROM pos.card_journal ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(&e.Time, &e.Event, &e.Bucket, &e.RecordID, &e.Card, &e.Brand, &e.State, &e.Code, &e.Amount, &e.Total, &e.Approval, &e.Reference, &e.TerminalID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Migrate brings the journal schema up to date. It is a no-op for the
// in-memory journal.
func (j *Journal) Migrate() error {
	if j.db == nil {
		return nil
	}
	driver, err := postgres.WithInstance(j.db, &postgres.Config{MigrationsTable: "pos_schema_migrations"})
	if err != nil {
		return fmt.Errorf("setting up migrate driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migrations source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("setting up migrate: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrating journal: %w", err)
	}
	return nil
}

// Ping returns DB readiness.
func (j *Journal) Ping(ctx context.Context) error {
	if j.db == nil {
		return nil
	}
	return j.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pe *pq.Error
	if errors.As(err, &pe) && pe.Code == "23505" {
		return true
	}
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) && pgerr.Code == "23505" {
		return true
	}
	return false
}
