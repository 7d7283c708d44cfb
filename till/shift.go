package till

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ShiftManager owns the shift lifecycle: one active shift per terminal,
// closed only when every session under it is closed and settled.
type ShiftManager struct {
	store     TxStore
	terminals TerminalRegistry
	opts      options
}

func NewShiftManager(store TxStore, terminals TerminalRegistry, opts ...Option) *ShiftManager {
	return &ShiftManager{store: store, terminals: terminals, opts: buildOptions(opts)}
}

// StartShift opens a shift. The active-shift check and the insert run in one
// store transaction.
func (m *ShiftManager) StartShift(ctx context.Context, terminalID TerminalID, operatorID OperatorID, openingCash decimal.Decimal) (*Shift, error) {
	if operatorID == "" {
		return nil, invalid("operator_id", "required")
	}
	if openingCash.IsNegative() {
		return nil, invalid("opening_cash", "must not be negative")
	}
	if _, err := RequireActiveTerminal(ctx, m.terminals, terminalID); err != nil {
		return nil, err
	}

	shift := Shift{
		ID:           ShiftID(m.opts.newID()),
		TerminalID:   terminalID,
		OperatorID:   operatorID,
		StartTime:    m.opts.now(),
		Status:       ShiftActive,
		OpeningCash:  Money(openingCash),
		ExpectedCash: Money(openingCash),
	}

	err := m.store.WithTx(ctx, func(tx Store) error {
		active, err := tx.GetActiveShift(ctx, terminalID)
		if err != nil {
			return infra("get active shift", err)
		}
		if active != nil {
			return &ConflictError{Kind: "shift", TerminalID: terminalID, BlockingID: string(active.ID)}
		}
		return infra("insert shift", tx.InsertShift(ctx, shift))
	})
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			m.opts.metrics.IncRejected("ActiveShiftExists")
			m.opts.logger.Warn().
				Str("terminal_id", string(terminalID)).
				Str("blocking_shift_id", conflict.BlockingID).
				Msg("shift start rejected")
		}
		return nil, err
	}

	m.opts.metrics.IncShiftsStarted()
	m.opts.logger.Info().
		Str("terminal_id", string(terminalID)).
		Str("shift_id", string(shift.ID)).
		Str("operator_id", string(operatorID)).
		Msg("shift started")
	return &shift, nil
}

// CanCloseShift lists the sessions that block closing the shift. It never
// writes.
func (m *ShiftManager) CanCloseShift(ctx context.Context, shiftID ShiftID) (Decision, error) {
	shift, err := m.store.GetShift(ctx, shiftID)
	if err != nil {
		return Decision{}, infra("get shift", err)
	}
	if !shift.IsActive() {
		return deny(ReasonShiftNotActive, Details{}), nil
	}
	sessions, err := m.store.ListSessionsByShift(ctx, shiftID)
	if err != nil {
		return Decision{}, infra("list sessions", err)
	}
	return decideCloseShift(sessions), nil
}

// CloseShift closes the shift and moves it to history. Nothing is written
// when a session still blocks it.
func (m *ShiftManager) CloseShift(ctx context.Context, shiftID ShiftID, closingCash decimal.Decimal) (*Shift, error) {
	if closingCash.IsNegative() {
		return nil, invalid("closing_cash", "must not be negative")
	}

	var closed Shift
	err := m.store.WithTx(ctx, func(tx Store) error {
		shift, err := tx.GetShift(ctx, shiftID)
		if err != nil {
			return infra("get shift", err)
		}
		if !shift.IsActive() {
			return deny(ReasonShiftNotActive, Details{}).Err()
		}
		sessions, err := tx.ListSessionsByShift(ctx, shiftID)
		if err != nil {
			return infra("list sessions", err)
		}
		if d := decideCloseShift(sessions); !d.Allowed {
			return d.Err()
		}

		now := m.opts.now()
		closing := Money(closingCash)
		diff := Money(closing.Sub(shift.ExpectedCash))
		shift.EndTime = &now
		shift.Status = ShiftClosed
		shift.ClosingCash = &closing
		shift.ActualCash = &closing
		shift.CashDifference = &diff
		if err := tx.ArchiveShift(ctx, *shift); err != nil {
			return infra("archive shift", err)
		}
		closed = *shift
		return nil
	})
	if err != nil {
		if r, ok := ReasonOf(err); ok {
			m.opts.metrics.IncRejected(string(r))
			m.opts.logger.Warn().Str("shift_id", string(shiftID)).Str("reason", string(r)).Msg("shift close rejected")
		}
		return nil, err
	}

	m.opts.metrics.IncShiftsClosed()
	m.opts.logger.Info().
		Str("terminal_id", string(closed.TerminalID)).
		Str("shift_id", string(closed.ID)).
		Str("cash_difference", closed.CashDifference.StringFixed(MoneyPlaces)).
		Msg("shift closed")
	return &closed, nil
}

// GetCurrentShift returns the active shift of the terminal, or nil.
func (m *ShiftManager) GetCurrentShift(ctx context.Context, terminalID TerminalID) (*Shift, error) {
	shift, err := m.store.GetActiveShift(ctx, terminalID)
	return shift, infra("get active shift", err)
}

func (m *ShiftManager) GetShift(ctx context.Context, shiftID ShiftID) (*Shift, error) {
	shift, err := m.store.GetShift(ctx, shiftID)
	return shift, infra("get shift", err)
}

// GetShiftHistory returns closed shifts of the terminal, newest first.
func (m *ShiftManager) GetShiftHistory(ctx context.Context, terminalID TerminalID, limit int) ([]Shift, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	shifts, err := m.store.ShiftHistory(ctx, terminalID, limit)
	return shifts, infra("shift history", err)
}

// DefaultHistoryLimit applies when a history query passes no limit.
const DefaultHistoryLimit = 50
