/*
Package sqlite provides a SQLite-backed implementation of the till storage
interfaces.

PURPOSE:
  Durable storage for shifts, sessions and their embedded settlements, plus
  the master data (terminals, variance reasons) and a local sale table used
  when no external sale system is configured.

INTERFACES IMPLEMENTED:
  till.TxStore:           Shift/session records with atomic read-then-write
  till.TerminalRegistry:  Terminal lookup
  till.ReasonCatalog:     Variance reasons
  till.TransactionSource: Local sales (dev mode)
  till.TransactionWriter: Local sales (dev mode)

KEY TABLES:
  terminals:        Physical tills
  variance_reasons: Shortage/excess reasons
  shifts:           Active and closed shifts
  sessions:         Active and closed sessions, settlement as JSON
  sales:            Local sale records

ACTIVE vs HISTORY:
  Active and closed rows share one table per kind. Update statements only
  match rows with status 'active', so a closed row is never written again.

EXCLUSIVITY:
  idx_shifts_one_active and idx_sessions_one_active are partial unique
  indexes on terminal_id over active rows. Even if two writers slipped past
  the managers' checks, the second insert fails and is reported as a
  *till.ConflictError.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so ":memory:"
  databases behave like files. WithTx holds the write lock for the whole
  transaction and hands fn a view bound to the *sql.Tx.

USAGE:
  store, err := sqlite.New("./data/till.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  shifts := till.NewShiftManager(store, store)
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/till-engine/till"
)

// Store implements the till storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS terminals (
		id TEXT PRIMARY KEY,
		location_id TEXT NOT NULL DEFAULT '',
		company_id TEXT NOT NULL DEFAULT '',
		terminal_type TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS variance_reasons (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		reason_type TEXT NOT NULL CHECK (reason_type IN ('shortage', 'excess')),
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS shifts (
		id TEXT PRIMARY KEY,
		terminal_id TEXT NOT NULL,
		operator_id TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT,
		status TEXT NOT NULL,
		opening_cash TEXT NOT NULL,
		expected_cash TEXT NOT NULL,
		closing_cash TEXT,
		actual_cash TEXT,
		cash_difference TEXT
	);

	-- CRITICAL: at most one active shift per terminal
	CREATE UNIQUE INDEX IF NOT EXISTS idx_shifts_one_active
		ON shifts(terminal_id) WHERE status = 'active';
	CREATE INDEX IF NOT EXISTS idx_shifts_terminal_end
		ON shifts(terminal_id, end_time DESC);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		shift_id TEXT NOT NULL REFERENCES shifts(id),
		terminal_id TEXT NOT NULL,
		operator_id TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT,
		status TEXT NOT NULL,
		opening_cash TEXT NOT NULL,
		expected_cash TEXT NOT NULL,
		closing_cash TEXT,
		actual_cash TEXT,
		cash_difference TEXT,
		settlement_status TEXT NOT NULL DEFAULT 'pending',
		settlement_json TEXT,
		sale_cash_json TEXT
	);

	-- CRITICAL: at most one active session per terminal
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_active
		ON sessions(terminal_id) WHERE status = 'active';
	CREATE INDEX IF NOT EXISTS idx_sessions_shift
		ON sessions(shift_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_terminal_end
		ON sessions(terminal_id, end_time DESC);

	CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		total TEXT NOT NULL,
		cash_tendered TEXT NOT NULL DEFAULT '0',
		payment_method TEXT NOT NULL,
		status TEXT NOT NULL,
		item_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sales_session_status
		ON sales(session_id, status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (till.TxStore interface)
// =============================================================================

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store till.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&records{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

func (s *Store) reader() *records { return &records{q: s.db} }

// =============================================================================
// HELPERS
// =============================================================================

// timeFormat is fixed width so stored times sort as strings.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeFormat) }

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func formatMoneyPtr(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseMoney(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseMoneyPtr(ns sql.NullString) *decimal.Decimal {
	if !ns.Valid {
		return nil
	}
	d := parseMoney(ns.String)
	return &d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
