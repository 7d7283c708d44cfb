package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/till-engine/till"
)

// records implements till.Store on top of a querier. It takes no locks; the
// Store wraps it for plain calls and WithTx binds it to a *sql.Tx.
type records struct {
	q querier
}

const shiftColumns = `id, terminal_id, operator_id, start_time, end_time, status,
	opening_cash, expected_cash, closing_cash, actual_cash, cash_difference`

const sessionColumns = `id, shift_id, terminal_id, operator_id, start_time, end_time, status,
	opening_cash, expected_cash, closing_cash, actual_cash, cash_difference,
	settlement_status, settlement_json, sale_cash_json`

type scanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// SHIFTS
// =============================================================================

func (r *records) InsertShift(ctx context.Context, sh till.Shift) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO shifts (`+shiftColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sh.ID, sh.TerminalID, sh.OperatorID, formatTime(sh.StartTime), formatTimePtr(sh.EndTime), sh.Status,
		sh.OpeningCash.String(), sh.ExpectedCash.String(),
		formatMoneyPtr(sh.ClosingCash), formatMoneyPtr(sh.ActualCash), formatMoneyPtr(sh.CashDifference),
	)
	if isUniqueConstraintError(err) {
		conflict := &till.ConflictError{Kind: "shift", TerminalID: sh.TerminalID, BlockingID: string(sh.ID)}
		if active, _ := r.GetActiveShift(ctx, sh.TerminalID); active != nil {
			conflict.BlockingID = string(active.ID)
		}
		return conflict
	}
	if err != nil {
		return fmt.Errorf("failed to insert shift: %w", err)
	}
	return nil
}

func (r *records) UpdateShift(ctx context.Context, sh till.Shift) error {
	return r.writeShift(ctx, sh)
}

// ArchiveShift writes the closed shift. The row leaves the active index.
func (r *records) ArchiveShift(ctx context.Context, sh till.Shift) error {
	return r.writeShift(ctx, sh)
}

func (r *records) writeShift(ctx context.Context, sh till.Shift) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE shifts SET end_time = ?, status = ?, expected_cash = ?,
			closing_cash = ?, actual_cash = ?, cash_difference = ?
		WHERE id = ? AND status = 'active'`,
		formatTimePtr(sh.EndTime), sh.Status, sh.ExpectedCash.String(),
		formatMoneyPtr(sh.ClosingCash), formatMoneyPtr(sh.ActualCash), formatMoneyPtr(sh.CashDifference),
		sh.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update shift: %w", err)
	}
	return requireRow(res)
}

func (r *records) GetShift(ctx context.Context, id till.ShiftID) (*till.Shift, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+shiftColumns+` FROM shifts WHERE id = ?`, id)
	sh, err := scanShift(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, till.ErrNotFound
	}
	return sh, err
}

func (r *records) GetActiveShift(ctx context.Context, terminalID till.TerminalID) (*till.Shift, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+shiftColumns+` FROM shifts WHERE terminal_id = ? AND status = 'active'`, terminalID)
	sh, err := scanShift(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sh, err
}

func (r *records) ShiftHistory(ctx context.Context, terminalID till.TerminalID, limit int) ([]till.Shift, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+shiftColumns+` FROM shifts
		WHERE terminal_id = ? AND status = 'closed'
		ORDER BY end_time DESC, rowid DESC
		LIMIT ?`, terminalID, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query shifts: %w", err)
	}
	defer rows.Close()

	var shifts []till.Shift
	for rows.Next() {
		sh, err := scanShift(rows)
		if err != nil {
			return nil, err
		}
		shifts = append(shifts, *sh)
	}
	return shifts, rows.Err()
}

func scanShift(row scanner) (*till.Shift, error) {
	var (
		sh                           till.Shift
		startTime, opening, expected string
		endTime, closing, actual     sql.NullString
		diff                         sql.NullString
	)
	err := row.Scan(&sh.ID, &sh.TerminalID, &sh.OperatorID, &startTime, &endTime, &sh.Status,
		&opening, &expected, &closing, &actual, &diff)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan shift: %w", err)
	}
	sh.StartTime = parseTime(startTime)
	sh.EndTime = parseTimePtr(endTime)
	sh.OpeningCash = parseMoney(opening)
	sh.ExpectedCash = parseMoney(expected)
	sh.ClosingCash = parseMoneyPtr(closing)
	sh.ActualCash = parseMoneyPtr(actual)
	sh.CashDifference = parseMoneyPtr(diff)
	return &sh, nil
}

// =============================================================================
// SESSIONS
// =============================================================================

func (r *records) InsertSession(ctx context.Context, s till.Session) error {
	settlementJSON, err := encodeSettlement(s.Settlement)
	if err != nil {
		return err
	}
	saleCashJSON, err := encodeSaleCash(s.SaleCash)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.ShiftID, s.TerminalID, s.OperatorID, formatTime(s.StartTime), formatTimePtr(s.EndTime), s.Status,
		s.OpeningCash.String(), s.ExpectedCash.String(),
		formatMoneyPtr(s.ClosingCash), formatMoneyPtr(s.ActualCash), formatMoneyPtr(s.CashDifference),
		s.SettlementStatus, settlementJSON, saleCashJSON,
	)
	if isUniqueConstraintError(err) {
		conflict := &till.ConflictError{Kind: "session", TerminalID: s.TerminalID, BlockingID: string(s.ID)}
		if active, _ := r.GetActiveSession(ctx, s.TerminalID); active != nil {
			conflict.BlockingID = string(active.ID)
		}
		return conflict
	}
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (r *records) UpdateSession(ctx context.Context, s till.Session) error {
	return r.writeSession(ctx, s)
}

// ArchiveSession writes the closed session with its frozen settlement.
func (r *records) ArchiveSession(ctx context.Context, s till.Session) error {
	return r.writeSession(ctx, s)
}

func (r *records) writeSession(ctx context.Context, s till.Session) error {
	settlementJSON, err := encodeSettlement(s.Settlement)
	if err != nil {
		return err
	}
	saleCashJSON, err := encodeSaleCash(s.SaleCash)
	if err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx, `
		UPDATE sessions SET end_time = ?, status = ?, expected_cash = ?,
			closing_cash = ?, actual_cash = ?, cash_difference = ?,
			settlement_status = ?, settlement_json = ?, sale_cash_json = ?
		WHERE id = ? AND status = 'active'`,
		formatTimePtr(s.EndTime), s.Status, s.ExpectedCash.String(),
		formatMoneyPtr(s.ClosingCash), formatMoneyPtr(s.ActualCash), formatMoneyPtr(s.CashDifference),
		s.SettlementStatus, settlementJSON, saleCashJSON,
		s.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return requireRow(res)
}

func (r *records) GetSession(ctx context.Context, id till.SessionID) (*till.Session, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, till.ErrNotFound
	}
	return s, err
}

func (r *records) GetActiveSession(ctx context.Context, terminalID till.TerminalID) (*till.Session, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE terminal_id = ? AND status = 'active'`, terminalID)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// GetLatestSession prefers the active session, then the last one closed.
func (r *records) GetLatestSession(ctx context.Context, terminalID till.TerminalID) (*till.Session, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE terminal_id = ?
		ORDER BY (status = 'active') DESC, COALESCE(end_time, start_time) DESC, rowid DESC
		LIMIT 1`, terminalID)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func (r *records) ListSessionsByShift(ctx context.Context, shiftID till.ShiftID) ([]till.Session, error) {
	return r.querySessions(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE shift_id = ?
		ORDER BY start_time ASC, rowid ASC`, shiftID)
}

func (r *records) ListActiveSessions(ctx context.Context) ([]till.Session, error) {
	return r.querySessions(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE status = 'active'
		ORDER BY start_time ASC`)
}

func (r *records) SessionHistory(ctx context.Context, terminalID till.TerminalID, limit int) ([]till.Session, error) {
	return r.querySessions(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE terminal_id = ? AND status = 'closed'
		ORDER BY end_time DESC, rowid DESC
		LIMIT ?`, terminalID, limitOrAll(limit))
}

func (r *records) querySessions(ctx context.Context, query string, args ...any) ([]till.Session, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []till.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func scanSession(row scanner) (*till.Session, error) {
	var (
		s                            till.Session
		startTime, opening, expected string
		endTime, closing, actual     sql.NullString
		diff, settlementJSON         sql.NullString
		saleCashJSON                 sql.NullString
	)
	err := row.Scan(&s.ID, &s.ShiftID, &s.TerminalID, &s.OperatorID, &startTime, &endTime, &s.Status,
		&opening, &expected, &closing, &actual, &diff, &s.SettlementStatus, &settlementJSON, &saleCashJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	s.StartTime = parseTime(startTime)
	s.EndTime = parseTimePtr(endTime)
	s.OpeningCash = parseMoney(opening)
	s.ExpectedCash = parseMoney(expected)
	s.ClosingCash = parseMoneyPtr(closing)
	s.ActualCash = parseMoneyPtr(actual)
	s.CashDifference = parseMoneyPtr(diff)

	if settlementJSON.Valid && settlementJSON.String != "" {
		var settlement till.Settlement
		if err := json.Unmarshal([]byte(settlementJSON.String), &settlement); err != nil {
			return nil, fmt.Errorf("failed to decode settlement of session %s: %w", s.ID, err)
		}
		s.Settlement = &settlement
	}
	if saleCashJSON.Valid && saleCashJSON.String != "" {
		if err := json.Unmarshal([]byte(saleCashJSON.String), &s.SaleCash); err != nil {
			return nil, fmt.Errorf("failed to decode sale cash of session %s: %w", s.ID, err)
		}
	}
	return &s, nil
}

func encodeSaleCash(m map[string]decimal.Decimal) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode sale cash: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func encodeSettlement(s *till.Settlement) (sql.NullString, error) {
	if s == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode settlement: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return till.ErrNotFound
	}
	return nil
}

// limitOrAll maps a non-positive limit to SQLite's "no limit".
func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
