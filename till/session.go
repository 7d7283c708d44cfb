/*
session.go - Session lifecycle manager

PURPOSE:
  A session is the billing period of one operator inside a shift. Sales post
  against it, the cash drawer is reconciled against it, and it closes only
  through a completed settlement.

TERMINAL EXCLUSIVITY:
  A terminal runs its sessions strictly one after another. A new session may
  start only when the terminal has an active shift and its latest session is
  closed with a completed settlement:

    latest session          CanStartSession
    ──────────────────────  ──────────────────────
    none                    allowed
    active                  ActiveSessionExists
    closed, pending         PendingSettlement
    closed, completed       allowed

  StartSession repeats the check inside the store transaction that inserts the
  session, so two concurrent starts cannot both succeed.

CLOSING:
  1. SettlementEngine.CompleteSettlement returns a frozen settlement
  2. CloseSession checks ownership and the sale system once more
  3. Inside one store transaction the stored working settlement is frozen
     again; a copy that differs from it (a count, drop, adjustment, reason or
     sale recorded after completion) is rejected
  4. The session is closed, the settlement embedded and the record moved to
     history in the same transaction
*/
package till

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

type SessionManager struct {
	store     TxStore
	terminals TerminalRegistry
	reasons   ReasonCatalog
	validator *Validator
	opts      options
}

func NewSessionManager(store TxStore, terminals TerminalRegistry, reasons ReasonCatalog, validator *Validator, opts ...Option) *SessionManager {
	return &SessionManager{
		store:     store,
		terminals: terminals,
		reasons:   reasons,
		validator: validator,
		opts:      buildOptions(opts),
	}
}

// =============================================================================
// START
// =============================================================================

// CanStartSession reports whether a new session may start on the terminal.
func (m *SessionManager) CanStartSession(ctx context.Context, terminalID TerminalID, operatorID OperatorID) (Decision, error) {
	if terminalID == "" {
		return Decision{}, invalid("terminal_id", "required")
	}
	d, err := m.decideStart(ctx, m.store, terminalID)
	if err != nil {
		return Decision{}, err
	}
	if !d.Allowed {
		m.opts.logger.Debug().
			Str("terminal_id", string(terminalID)).
			Str("operator_id", string(operatorID)).
			Str("reason", string(d.Reason)).
			Msg("session start not allowed")
	}
	return d, nil
}

func (m *SessionManager) decideStart(ctx context.Context, st Store, terminalID TerminalID) (Decision, error) {
	shift, err := st.GetActiveShift(ctx, terminalID)
	if err != nil {
		return Decision{}, infra("get active shift", err)
	}
	latest, err := st.GetLatestSession(ctx, terminalID)
	if err != nil {
		return Decision{}, infra("get latest session", err)
	}
	return decideStartSession(shift, latest), nil
}

// StartSession opens a billing session under the terminal's active shift.
func (m *SessionManager) StartSession(ctx context.Context, shiftID ShiftID, terminalID TerminalID, operatorID OperatorID, openingCash decimal.Decimal) (*Session, error) {
	if shiftID == "" {
		return nil, invalid("shift_id", "required")
	}
	if operatorID == "" {
		return nil, invalid("operator_id", "required")
	}
	if openingCash.IsNegative() {
		return nil, invalid("opening_cash", "must not be negative")
	}
	if _, err := RequireActiveTerminal(ctx, m.terminals, terminalID); err != nil {
		return nil, err
	}

	session := Session{
		ID:               SessionID(m.opts.newID()),
		ShiftID:          shiftID,
		TerminalID:       terminalID,
		OperatorID:       operatorID,
		StartTime:        m.opts.now(),
		Status:           SessionActive,
		OpeningCash:      Money(openingCash),
		ExpectedCash:     Money(openingCash),
		SettlementStatus: SettlementPending,
	}

	err := m.store.WithTx(ctx, func(tx Store) error {
		d, err := m.decideStart(ctx, tx, terminalID)
		if err != nil {
			return err
		}
		if !d.Allowed {
			if d.Reason == ReasonActiveSessionExists {
				return &ConflictError{Kind: "session", TerminalID: terminalID, BlockingID: string(d.Details.BlockingSessionID)}
			}
			return d.Err()
		}

		shift, err := tx.GetActiveShift(ctx, terminalID)
		if err != nil {
			return infra("get active shift", err)
		}
		if shift.ID != shiftID {
			return invalid("shift_id", "%s is not the active shift of terminal %s", shiftID, terminalID)
		}
		return infra("insert session", tx.InsertSession(ctx, session))
	})
	if err != nil {
		m.rejected(terminalID, "session start rejected", err)
		return nil, err
	}

	m.opts.metrics.IncSessionsStarted()
	m.opts.logger.Info().
		Str("terminal_id", string(terminalID)).
		Str("shift_id", string(shiftID)).
		Str("session_id", string(session.ID)).
		Str("operator_id", string(operatorID)).
		Msg("session started")
	return &session, nil
}

// =============================================================================
// SALES
// =============================================================================

// RecordSale adds the cash portion of a completed sale to the expected cash
// of the session and of its shift. Sales are keyed by id: posting a sale
// again applies only the change in its cash portion, so a retried post is a
// no-op and a suspended sale that later completes is counted once.
func (m *SessionManager) RecordSale(ctx context.Context, sessionID SessionID, sale Transaction) (*Session, error) {
	if err := sale.Validate(); err != nil {
		return nil, err
	}
	cash := sale.CashPortion()

	var (
		updated Session
		delta   decimal.Decimal
	)
	err := m.store.WithTx(ctx, func(tx Store) error {
		session, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return infra("get session", err)
		}
		if !session.IsActive() {
			return deny(ReasonSessionNotActive, Details{}).Err()
		}
		applied, seen := session.SaleCash[sale.ID]
		delta = cash.Sub(applied)
		if seen && delta.IsZero() {
			updated = *session
			return nil
		}

		saleCash := make(map[string]decimal.Decimal, len(session.SaleCash)+1)
		for id, c := range session.SaleCash {
			saleCash[id] = c
		}
		saleCash[sale.ID] = cash
		session.SaleCash = saleCash
		session.ExpectedCash = Money(session.ExpectedCash.Add(delta))
		if err := tx.UpdateSession(ctx, *session); err != nil {
			return infra("update session", err)
		}

		if !delta.IsZero() {
			shift, err := tx.GetShift(ctx, session.ShiftID)
			if err != nil {
				return infra("get shift", err)
			}
			if shift.IsActive() {
				shift.ExpectedCash = Money(shift.ExpectedCash.Add(delta))
				if err := tx.UpdateShift(ctx, *shift); err != nil {
					return infra("update shift", err)
				}
			}
		}
		updated = *session
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.opts.logger.Debug().
		Str("session_id", string(sessionID)).
		Str("transaction_id", sale.ID).
		Str("cash", cash.StringFixed(MoneyPlaces)).
		Str("applied", delta.StringFixed(MoneyPlaces)).
		Msg("sale recorded")
	return &updated, nil
}

// =============================================================================
// CLOSE
// =============================================================================

// CanCloseSession checks ownership first, then the sale system.
func (m *SessionManager) CanCloseSession(ctx context.Context, sessionID SessionID, requester OperatorID) (Decision, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return Decision{}, infra("get session", err)
	}
	if !session.IsActive() {
		return deny(ReasonSessionNotActive, Details{}), nil
	}
	if d := decideOwnership(*session, requester); !d.Allowed {
		return d, nil
	}
	return m.validator.ValidateSettlementPreconditions(ctx, sessionID)
}

// ValidateSettlementPreconditions is the informational check shown when the
// settlement screen opens.
func (m *SessionManager) ValidateSettlementPreconditions(ctx context.Context, sessionID SessionID) (Decision, error) {
	if _, err := m.store.GetSession(ctx, sessionID); err != nil {
		return Decision{}, infra("get session", err)
	}
	return m.validator.ValidateSettlementPreconditions(ctx, sessionID)
}

// CloseSession commits a completed settlement and moves the session to
// history. The settlement must have been completed by the session operator
// from the session's current working settlement.
func (m *SessionManager) CloseSession(ctx context.Context, sessionID SessionID, settlement *Settlement) (*Session, error) {
	if settlement == nil || settlement.State != SettlementDone || settlement.SessionID != sessionID || settlement.SettledAt == nil {
		return nil, m.rejectedDecision(sessionID, deny(ReasonSettlementIncomplete, Details{}))
	}

	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, infra("get session", err)
	}
	if !session.IsActive() {
		return nil, m.rejectedDecision(sessionID, deny(ReasonSessionNotActive, Details{}))
	}
	if d := decideOwnership(*session, settlement.SettledBy); !d.Allowed {
		return nil, m.rejectedDecision(sessionID, d)
	}

	// The sale system is not part of the store transaction; this is the last
	// read before the commit.
	d, err := m.validator.ValidateSettlementPreconditions(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !d.Allowed {
		return nil, m.rejectedDecision(sessionID, d)
	}

	reasons, err := activeReasons(ctx, m.reasons)
	if err != nil {
		return nil, err
	}

	var (
		final  Settlement
		closed Session
	)
	err = m.store.WithTx(ctx, func(tx Store) error {
		current, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return infra("get session", err)
		}
		if !current.IsActive() {
			return deny(ReasonSessionNotActive, Details{}).Err()
		}

		working := workingSettlement(current, m.opts.denominations)
		final = working.frozen(current.ExpectedCash, settlement.SettledBy, *settlement.SettledAt)
		if !final.sameRecord(settlement) {
			return deny(ReasonSettlementIncomplete, Details{}).Err()
		}
		working.recompute(current.ExpectedCash)
		if err := checkReason(working.Variance, working.VarianceReasonID, reasons); err != nil {
			return err
		}

		now := m.opts.now()
		counted := final.TotalCountedCash
		variance := final.Variance
		current.EndTime = &now
		current.Status = SessionClosed
		current.SettlementStatus = SettlementCompleted
		current.ClosingCash = &counted
		current.ActualCash = &counted
		current.CashDifference = &variance
		current.Settlement = &final
		if err := tx.ArchiveSession(ctx, *current); err != nil {
			return infra("archive session", err)
		}
		closed = *current
		return nil
	})
	if err != nil {
		m.rejected(session.TerminalID, "session close rejected", err)
		return nil, err
	}

	m.opts.metrics.IncSessionsClosed()
	m.opts.metrics.ObserveVariance(final.Variance.Abs().InexactFloat64())
	m.opts.logger.Info().
		Str("terminal_id", string(closed.TerminalID)).
		Str("session_id", string(closed.ID)).
		Str("counted", final.TotalCountedCash.StringFixed(MoneyPlaces)).
		Str("variance", final.Variance.StringFixed(MoneyPlaces)).
		Msg("session closed")
	return &closed, nil
}

// =============================================================================
// READ ACCESSORS
// =============================================================================

// GetCurrentSession returns the active session of the terminal, or nil.
func (m *SessionManager) GetCurrentSession(ctx context.Context, terminalID TerminalID) (*Session, error) {
	session, err := m.store.GetActiveSession(ctx, terminalID)
	return session, infra("get active session", err)
}

func (m *SessionManager) GetSession(ctx context.Context, sessionID SessionID) (*Session, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	return session, infra("get session", err)
}

// GetSessionHistory returns closed sessions of the terminal, newest first.
func (m *SessionManager) GetSessionHistory(ctx context.Context, terminalID TerminalID, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	sessions, err := m.store.SessionHistory(ctx, terminalID, limit)
	return sessions, infra("session history", err)
}

// ListActiveSessions returns every active session across terminals.
func (m *SessionManager) ListActiveSessions(ctx context.Context) ([]Session, error) {
	sessions, err := m.store.ListActiveSessions(ctx)
	return sessions, infra("list active sessions", err)
}

// =============================================================================
// LOGGING
// =============================================================================

func (m *SessionManager) rejected(terminalID TerminalID, msg string, err error) {
	var conflict *ConflictError
	switch {
	case errors.As(err, &conflict):
		m.opts.metrics.IncRejected(string(ReasonActiveSessionExists))
		m.opts.logger.Warn().
			Str("terminal_id", string(terminalID)).
			Str("blocking_session_id", conflict.BlockingID).
			Msg(msg)
	default:
		if r, ok := ReasonOf(err); ok {
			m.opts.metrics.IncRejected(string(r))
			m.opts.logger.Warn().Str("terminal_id", string(terminalID)).Str("reason", string(r)).Msg(msg)
		} else if !IsClientError(err) && !IsNotFound(err) {
			m.opts.logger.Error().Err(err).Str("terminal_id", string(terminalID)).Msg(msg)
		}
	}
}

func (m *SessionManager) rejectedDecision(sessionID SessionID, d Decision) error {
	m.opts.metrics.IncRejected(string(d.Reason))
	m.opts.logger.Warn().
		Str("session_id", string(sessionID)).
		Str("reason", string(d.Reason)).
		Msg("session close rejected")
	return d.Err()
}
