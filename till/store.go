/*
store.go - Persistence and collaborator interfaces

PURPOSE:
  Defines the boundary between the lifecycle logic and everything it does not
  own: durable storage of shifts and sessions, the terminal registry, the
  variance-reason master data and the sale system.

KEY INTERFACES:
  Store:             Shift/session records and their history
  TxStore:           Store with atomic read-then-conditionally-write
  TerminalRegistry:  Read-only terminal lookup
  ReasonCatalog:     Read-only variance reason master data
  TransactionSource: Sale records of a session, always read fresh

ACTIVE vs HISTORY:
  Active shifts and sessions live in the active collection, keyed by id and
  unique per terminal. Closing moves the record into history through
  ArchiveShift/ArchiveSession; history rows are never updated again.

EXCLUSIVITY:
  InsertShift/InsertSession must fail with a *ConflictError when the terminal
  already has an active record of the same kind. Managers also check inside
  WithTx, so the store check is the last line, not the only one.

IMPLEMENTATIONS:
  - store/memory: In-memory, for tests and single-process dev
  - store/sqlite: Durable SQLite store
  - store/postgres: TransactionSource over the sale system database
*/
package till

import "context"

// =============================================================================
// STORE
// =============================================================================

// Store persists shifts and sessions. Lookups of a missing record return
// ErrNotFound; "current" lookups return (nil, nil) when nothing is active.
type Store interface {
	InsertShift(ctx context.Context, shift Shift) error
	UpdateShift(ctx context.Context, shift Shift) error
	// ArchiveShift removes the active shift and appends it to history.
	ArchiveShift(ctx context.Context, shift Shift) error
	GetShift(ctx context.Context, id ShiftID) (*Shift, error)
	GetActiveShift(ctx context.Context, terminalID TerminalID) (*Shift, error)
	ShiftHistory(ctx context.Context, terminalID TerminalID, limit int) ([]Shift, error)

	InsertSession(ctx context.Context, session Session) error
	UpdateSession(ctx context.Context, session Session) error
	// ArchiveSession removes the active session and appends it to history.
	ArchiveSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, id SessionID) (*Session, error)
	GetActiveSession(ctx context.Context, terminalID TerminalID) (*Session, error)
	// GetLatestSession returns the active session of the terminal or, if none,
	// the most recently closed one.
	GetLatestSession(ctx context.Context, terminalID TerminalID) (*Session, error)
	ListSessionsByShift(ctx context.Context, shiftID ShiftID) ([]Session, error)
	ListActiveSessions(ctx context.Context) ([]Session, error)
	SessionHistory(ctx context.Context, terminalID TerminalID, limit int) ([]Session, error)
}

// TxStore wraps Store with transaction support.
// If fn returns an error nothing it wrote is kept.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// COLLABORATORS
// =============================================================================

type TerminalRegistry interface {
	GetTerminal(ctx context.Context, id TerminalID) (*Terminal, error)
}

type ReasonCatalog interface {
	// ListReasons filters by type when reasonType is non-nil.
	ListReasons(ctx context.Context, reasonType *ReasonType, activeOnly bool) ([]VarianceReason, error)
}

// TransactionSource must reflect every transaction committed before the call
// returns. Implementations must not serve cached results.
type TransactionSource interface {
	ListTransactions(ctx context.Context, sessionID SessionID) ([]Transaction, error)
	ListSuspended(ctx context.Context, sessionID SessionID) ([]Transaction, error)
}

// TransactionWriter is implemented by local sale stores that accept sales
// posted through the API (dev mode). The production sale system owns its data.
type TransactionWriter interface {
	SaveTransaction(ctx context.Context, tx Transaction) error
}
