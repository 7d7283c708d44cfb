/*
settlement.go - Settlement / reconciliation engine

PURPOSE:
  Drives the cash count of one session from the first denomination entered to
  the frozen settlement record handed to SessionManager.CloseSession.

STATE MACHINE (per session):

    NotStarted ──UpdateDenomination──▶ InProgress ──CompleteSettlement──▶ Completed
                                        │      ▲
                                        └──────┘ RecordInterimSettlement

  The working settlement is stored on the active session. Every mutation loads
  the session, applies a pure function from reconcile.go and saves it inside
  one store transaction. Once the session is closed the settlement is history
  and every mutation fails with SessionNotActive.

VARIANCE REASONS:
  A nonzero variance must be explained by an active reason whose type matches
  its sign: shortage for a negative variance, excess for a positive one. The
  rule applies to every interim drop and to the final completion.

COMPLETION:
  CompleteSettlement does not write. It re-checks the sale system, freezes a
  copy and returns it; CloseSession commits the copy together with the
  session's status change, so there is never a completed settlement on an
  active session. Each mutation bumps the working revision; CloseSession
  refreezes the stored working copy and rejects a copy that no longer
  matches it.
*/
package till

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// SettlementEngine owns the embedded settlement of active sessions.
type SettlementEngine struct {
	store     TxStore
	reasons   ReasonCatalog
	validator *Validator
	opts      options
}

func NewSettlementEngine(store TxStore, reasons ReasonCatalog, validator *Validator, opts ...Option) *SettlementEngine {
	return &SettlementEngine{
		store:     store,
		reasons:   reasons,
		validator: validator,
		opts:      buildOptions(opts),
	}
}

// =============================================================================
// COUNTING
// =============================================================================

// UpdateDenomination sets the count of one face value and recomputes the
// whole settlement.
func (e *SettlementEngine) UpdateDenomination(ctx context.Context, sessionID SessionID, faceValue decimal.Decimal, count int) (*Settlement, error) {
	if !faceValue.IsPositive() {
		return nil, invalid("face_value", "must be positive")
	}
	if len(e.opts.denominations) > 0 && !e.knownFace(faceValue) {
		return nil, invalid("face_value", "%s is not a configured denomination", faceValue.String())
	}

	return e.mutate(ctx, sessionID, "update denomination", func(_ *Session, s *Settlement) error {
		s.setCount(faceValue, count, e.opts.now())
		return nil
	})
}

// SetDenominations applies several counts in one write. Rows not mentioned
// keep their count.
func (e *SettlementEngine) SetDenominations(ctx context.Context, sessionID SessionID, counts []DenominationCount) (*Settlement, error) {
	for _, c := range counts {
		if !c.FaceValue.IsPositive() {
			return nil, invalid("face_value", "must be positive")
		}
		if len(e.opts.denominations) > 0 && !e.knownFace(c.FaceValue) {
			return nil, invalid("face_value", "%s is not a configured denomination", c.FaceValue.String())
		}
	}

	return e.mutate(ctx, sessionID, "set denominations", func(_ *Session, s *Settlement) error {
		at := e.opts.now()
		for _, c := range counts {
			s.setCount(c.FaceValue, c.Count, at)
		}
		return nil
	})
}

func (e *SettlementEngine) knownFace(face decimal.Decimal) bool {
	for _, f := range e.opts.denominations {
		if f.Equal(face) {
			return true
		}
	}
	return false
}

// =============================================================================
// INTERIM SETTLEMENTS
// =============================================================================

// RecordInterimSettlement records a mid-session cash drop and resets the
// count. The session stays active.
func (e *SettlementEngine) RecordInterimSettlement(ctx context.Context, sessionID SessionID, reasonID *ReasonID, notes string) (*InterimEntry, error) {
	reasons, err := e.activeReasons(ctx)
	if err != nil {
		return nil, err
	}

	var entry InterimEntry
	_, err = e.mutate(ctx, sessionID, "record interim settlement", func(session *Session, s *Settlement) error {
		s.recompute(session.ExpectedCash)
		if !s.CurrentActualCash.IsPositive() {
			return deny(ReasonNoCashCounted, Details{}).Err()
		}
		if err := checkReason(s.Variance, reasonID, reasons); err != nil {
			return err
		}
		entry = s.recordInterim(session.ExpectedCash, reasonID, strings.TrimSpace(notes), e.opts.now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.opts.metrics.IncInterimSettlements()
	e.opts.logger.Info().
		Str("session_id", string(sessionID)).
		Int("sequence", entry.Sequence).
		Str("amount", entry.Amount.StringFixed(MoneyPlaces)).
		Str("variance", entry.Variance.StringFixed(MoneyPlaces)).
		Msg("interim settlement recorded")
	return &entry, nil
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

// AddAdjustment records a manual cash correction. Adjustments never change
// the expected cash; they are reported as AdjustmentNet.
func (e *SettlementEngine) AddAdjustment(ctx context.Context, sessionID SessionID, adjType AdjustmentType, amount decimal.Decimal, reason string) (*Adjustment, error) {
	if !adjType.Valid() {
		return nil, invalid("type", "must be add or subtract")
	}
	if !amount.IsPositive() {
		return nil, invalid("amount", "must be greater than zero")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, invalid("reason", "required")
	}

	adj := Adjustment{
		ID:        e.opts.newID(),
		Type:      adjType,
		Amount:    Money(amount),
		Reason:    reason,
		Timestamp: e.opts.now(),
	}
	_, err := e.mutate(ctx, sessionID, "add adjustment", func(_ *Session, s *Settlement) error {
		s.Adjustments = append(s.Adjustments, adj)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &adj, nil
}

func (e *SettlementEngine) RemoveAdjustment(ctx context.Context, sessionID SessionID, adjustmentID string) (*Settlement, error) {
	return e.mutate(ctx, sessionID, "remove adjustment", func(_ *Session, s *Settlement) error {
		if !s.removeAdjustment(adjustmentID) {
			return ErrNotFound
		}
		return nil
	})
}

// =============================================================================
// VARIANCE REASON
// =============================================================================

// SelectVarianceReason stores the reason used to explain the final variance.
// A nil reasonID clears the selection. The sign is checked at completion,
// since the count may still change.
func (e *SettlementEngine) SelectVarianceReason(ctx context.Context, sessionID SessionID, reasonID *ReasonID) (*Settlement, error) {
	if reasonID != nil {
		reasons, err := e.activeReasons(ctx)
		if err != nil {
			return nil, err
		}
		if _, ok := reasons[*reasonID]; !ok {
			return nil, invalid("reason_id", "unknown or inactive variance reason %s", *reasonID)
		}
	}

	return e.mutate(ctx, sessionID, "select variance reason", func(_ *Session, s *Settlement) error {
		s.VarianceReasonID = reasonID
		return nil
	})
}

// ListReasons passes through to the reason catalog.
func (e *SettlementEngine) ListReasons(ctx context.Context, reasonType *ReasonType, activeOnly bool) ([]VarianceReason, error) {
	if reasonType != nil && !reasonType.Valid() {
		return nil, invalid("type", "must be shortage or excess")
	}
	reasons, err := e.reasons.ListReasons(ctx, reasonType, activeOnly)
	if err != nil {
		return nil, infra("list variance reasons", err)
	}
	return reasons, nil
}

func (e *SettlementEngine) activeReasons(ctx context.Context) (map[ReasonID]VarianceReason, error) {
	return activeReasons(ctx, e.reasons)
}

func activeReasons(ctx context.Context, catalog ReasonCatalog) (map[ReasonID]VarianceReason, error) {
	list, err := catalog.ListReasons(ctx, nil, true)
	if err != nil {
		return nil, infra("list variance reasons", err)
	}
	out := make(map[ReasonID]VarianceReason, len(list))
	for _, r := range list {
		if r.IsActive {
			out[r.ID] = r
		}
	}
	return out, nil
}

// checkReason enforces the variance reason rule for one variance value.
func checkReason(variance decimal.Decimal, reasonID *ReasonID, active map[ReasonID]VarianceReason) error {
	want, needed := ReasonTypeFor(variance)
	if !needed {
		return nil
	}
	if reasonID == nil || *reasonID == "" {
		return deny(ReasonVarianceReasonRequired, Details{}).Err()
	}
	reason, ok := active[*reasonID]
	if !ok {
		return invalid("reason_id", "unknown or inactive variance reason %s", *reasonID)
	}
	if reason.ReasonType != want {
		return deny(ReasonVarianceReasonMismatch, Details{}).Err()
	}
	return nil
}

// =============================================================================
// READ / COMPLETE
// =============================================================================

// GetSettlement returns the recomputed working settlement of an active
// session, or the frozen one of a closed session.
func (e *SettlementEngine) GetSettlement(ctx context.Context, sessionID SessionID) (*Settlement, error) {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, infra("get session", err)
	}
	if !session.IsActive() {
		if session.Settlement == nil {
			return nil, ErrNotFound
		}
		return session.Settlement.Clone(), nil
	}
	s := e.working(session)
	s.recompute(session.ExpectedCash)
	return s, nil
}

// CompleteSettlement validates and freezes the settlement of an active
// session. Nothing is written; pass the result to SessionManager.CloseSession.
func (e *SettlementEngine) CompleteSettlement(ctx context.Context, sessionID SessionID, settledBy OperatorID) (*Settlement, error) {
	if settledBy == "" {
		return nil, invalid("settled_by", "required")
	}
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, infra("get session", err)
	}
	if !session.IsActive() {
		return nil, e.reject(sessionID, deny(ReasonSessionNotActive, Details{}))
	}

	decision, err := e.validator.ValidateSettlementPreconditions(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, e.reject(sessionID, decision)
	}

	working := e.working(session)
	working.recompute(session.ExpectedCash)
	if _, needed := ReasonTypeFor(working.Variance); needed {
		reasons, err := e.activeReasons(ctx)
		if err != nil {
			return nil, err
		}
		if err := checkReason(working.Variance, working.VarianceReasonID, reasons); err != nil {
			if r, ok := ReasonOf(err); ok {
				e.opts.metrics.IncRejected(string(r))
			}
			return nil, err
		}
	}

	final := working.frozen(session.ExpectedCash, settledBy, e.opts.now())
	e.opts.logger.Info().
		Str("session_id", string(sessionID)).
		Str("expected", final.TotalExpectedCash.StringFixed(MoneyPlaces)).
		Str("counted", final.TotalCountedCash.StringFixed(MoneyPlaces)).
		Str("variance", final.Variance.StringFixed(MoneyPlaces)).
		Msg("settlement completed")
	return &final, nil
}

// =============================================================================
// INTERNAL
// =============================================================================

func (e *SettlementEngine) working(session *Session) *Settlement {
	return workingSettlement(session, e.opts.denominations)
}

// workingSettlement returns a private copy of the session's settlement,
// creating an empty one on first use.
func workingSettlement(session *Session, faces []decimal.Decimal) *Settlement {
	if session.Settlement != nil {
		return session.Settlement.Clone()
	}
	return newSettlement(session.ID, faces)
}

// mutate applies fn to the working settlement of an active session and saves
// the recomputed result in one store transaction.
func (e *SettlementEngine) mutate(ctx context.Context, sessionID SessionID, op string, fn func(*Session, *Settlement) error) (*Settlement, error) {
	var out *Settlement
	err := e.store.WithTx(ctx, func(tx Store) error {
		session, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return infra("get session", err)
		}
		if !session.IsActive() {
			return deny(ReasonSessionNotActive, Details{}).Err()
		}

		s := e.working(session)
		if err := fn(session, s); err != nil {
			return err
		}
		s.recompute(session.ExpectedCash)
		s.Revision++

		session.Settlement = s
		if err := tx.UpdateSession(ctx, *session); err != nil {
			return infra(op, err)
		}
		out = s.Clone()
		return nil
	})
	if err != nil {
		if r, ok := ReasonOf(err); ok {
			e.opts.metrics.IncRejected(string(r))
			e.opts.logger.Warn().Str("session_id", string(sessionID)).Str("reason", string(r)).Msg(op + " rejected")
		}
		return nil, err
	}
	return out, nil
}

func (e *SettlementEngine) reject(sessionID SessionID, d Decision) error {
	e.opts.metrics.IncRejected(string(d.Reason))
	e.opts.logger.Warn().
		Str("session_id", string(sessionID)).
		Str("reason", string(d.Reason)).
		Msg("settlement completion rejected")
	return d.Err()
}
