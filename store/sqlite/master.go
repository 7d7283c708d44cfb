package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/warp/till-engine/till"
)

// =============================================================================
// RECORD STORE (till.Store interface)
// =============================================================================

func (s *Store) InsertShift(ctx context.Context, sh till.Shift) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader().InsertShift(ctx, sh)
}

func (s *Store) UpdateShift(ctx context.Context, sh till.Shift) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader().UpdateShift(ctx, sh)
}

func (s *Store) ArchiveShift(ctx context.Context, sh till.Shift) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader().ArchiveShift(ctx, sh)
}

func (s *Store) GetShift(ctx context.Context, id till.ShiftID) (*till.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().GetShift(ctx, id)
}

func (s *Store) GetActiveShift(ctx context.Context, terminalID till.TerminalID) (*till.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().GetActiveShift(ctx, terminalID)
}

func (s *Store) ShiftHistory(ctx context.Context, terminalID till.TerminalID, limit int) ([]till.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().ShiftHistory(ctx, terminalID, limit)
}

func (s *Store) InsertSession(ctx context.Context, sess till.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader().InsertSession(ctx, sess)
}

func (s *Store) UpdateSession(ctx context.Context, sess till.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader().UpdateSession(ctx, sess)
}

func (s *Store) ArchiveSession(ctx context.Context, sess till.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader().ArchiveSession(ctx, sess)
}

func (s *Store) GetSession(ctx context.Context, id till.SessionID) (*till.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().GetSession(ctx, id)
}

func (s *Store) GetActiveSession(ctx context.Context, terminalID till.TerminalID) (*till.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().GetActiveSession(ctx, terminalID)
}

func (s *Store) GetLatestSession(ctx context.Context, terminalID till.TerminalID) (*till.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().GetLatestSession(ctx, terminalID)
}

func (s *Store) ListSessionsByShift(ctx context.Context, shiftID till.ShiftID) ([]till.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().ListSessionsByShift(ctx, shiftID)
}

func (s *Store) ListActiveSessions(ctx context.Context) ([]till.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().ListActiveSessions(ctx)
}

func (s *Store) SessionHistory(ctx context.Context, terminalID till.TerminalID, limit int) ([]till.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().SessionHistory(ctx, terminalID, limit)
}

// =============================================================================
// TERMINALS (till.TerminalRegistry)
// =============================================================================

// PutTerminal inserts or replaces a terminal.
func (s *Store) PutTerminal(ctx context.Context, t till.Terminal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO terminals (id, location_id, company_id, terminal_type, is_active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			location_id = excluded.location_id,
			company_id = excluded.company_id,
			terminal_type = excluded.terminal_type,
			is_active = excluded.is_active`,
		t.ID, t.LocationID, t.CompanyID, t.TerminalType, t.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to save terminal: %w", err)
	}
	return nil
}

func (s *Store) GetTerminal(ctx context.Context, id till.TerminalID) (*till.Terminal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var t till.Terminal
	err := s.db.QueryRowContext(ctx, `
		SELECT id, location_id, company_id, terminal_type, is_active
		FROM terminals WHERE id = ?`, id,
	).Scan(&t.ID, &t.LocationID, &t.CompanyID, &t.TerminalType, &t.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, till.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get terminal: %w", err)
	}
	return &t, nil
}

// =============================================================================
// VARIANCE REASONS (till.ReasonCatalog)
// =============================================================================

// PutReason inserts or replaces a variance reason.
func (s *Store) PutReason(ctx context.Context, r till.VarianceReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO variance_reasons (id, name, reason_type, is_active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			reason_type = excluded.reason_type,
			is_active = excluded.is_active`,
		r.ID, r.Name, r.ReasonType, r.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to save variance reason: %w", err)
	}
	return nil
}

func (s *Store) ListReasons(ctx context.Context, reasonType *till.ReasonType, activeOnly bool) ([]till.VarianceReason, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, name, reason_type, is_active FROM variance_reasons WHERE 1 = 1`
	var args []any
	if reasonType != nil {
		query += ` AND reason_type = ?`
		args = append(args, *reasonType)
	}
	if activeOnly {
		query += ` AND is_active = TRUE`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query variance reasons: %w", err)
	}
	defer rows.Close()

	var reasons []till.VarianceReason
	for rows.Next() {
		var r till.VarianceReason
		if err := rows.Scan(&r.ID, &r.Name, &r.ReasonType, &r.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan variance reason: %w", err)
		}
		reasons = append(reasons, r)
	}
	return reasons, rows.Err()
}

// =============================================================================
// SALES (till.TransactionSource / till.TransactionWriter)
// =============================================================================

// SaveTransaction inserts or replaces a sale by id.
func (s *Store) SaveTransaction(ctx context.Context, tx till.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sales (id, session_id, total, cash_tendered, payment_method, status, item_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			total = excluded.total,
			cash_tendered = excluded.cash_tendered,
			payment_method = excluded.payment_method,
			status = excluded.status,
			item_count = excluded.item_count`,
		tx.ID, tx.SessionID, tx.Total.String(), tx.CashTendered.String(),
		tx.PaymentMethod, tx.Status, tx.ItemCount, formatTime(tx.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save sale: %w", err)
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, sessionID till.SessionID) ([]till.Transaction, error) {
	return s.querySales(ctx, `WHERE session_id = ?`, sessionID)
}

func (s *Store) ListSuspended(ctx context.Context, sessionID till.SessionID) ([]till.Transaction, error) {
	return s.querySales(ctx, `WHERE session_id = ? AND status = ?`, sessionID, till.TxSuspended)
}

func (s *Store) querySales(ctx context.Context, where string, args ...any) ([]till.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, total, cash_tendered, payment_method, status, item_count, created_at
		FROM sales `+where+` ORDER BY created_at ASC, rowid ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales: %w", err)
	}
	defer rows.Close()

	var sales []till.Transaction
	for rows.Next() {
		var (
			tx                         till.Transaction
			total, tendered, createdAt string
		)
		if err := rows.Scan(&tx.ID, &tx.SessionID, &total, &tendered, &tx.PaymentMethod, &tx.Status, &tx.ItemCount, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan sale: %w", err)
		}
		tx.Total = parseMoney(total)
		tx.CashTendered = parseMoney(tendered)
		tx.CreatedAt = parseTime(createdAt)
		sales = append(sales, tx)
	}
	return sales, rows.Err()
}

var (
	_ till.TxStore           = (*Store)(nil)
	_ till.TerminalRegistry  = (*Store)(nil)
	_ till.ReasonCatalog     = (*Store)(nil)
	_ till.TransactionSource = (*Store)(nil)
	_ till.TransactionWriter = (*Store)(nil)
)
