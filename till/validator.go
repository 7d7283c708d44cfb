/*
validator.go - Business rules consulted before every lifecycle transition

PURPOSE:
  Decision functions shared by the shift and session managers and the
  settlement engine. The pure deciders take already-loaded records and never
  touch a store; the Validator adds the one check that needs a collaborator,
  the sale system.

RULES:
  Start session:  terminal has an active shift, its latest session is not
                  active, and is not closed with a pending settlement.
  Close session:  requester is the session operator, then settlement
                  preconditions.
  Settlement:     no suspended bills; no partial/pending, empty or zero-total
                  transactions (voided ones are ignored).
  Close shift:    every session closed and settled.

FRESHNESS:
  ValidateSettlementPreconditions always queries the TransactionSource. It is
  run when the settlement screen opens (informational) and again right before
  completion and close (authoritative), because sales may post in between.
*/
package till

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// =============================================================================
// VALIDATOR
// =============================================================================

type Validator struct {
	transactions TransactionSource
}

func NewValidator(transactions TransactionSource) *Validator {
	return &Validator{transactions: transactions}
}

// ValidateSettlementPreconditions checks the sale system for work that must
// be finished before the session's cash can be settled.
func (v *Validator) ValidateSettlementPreconditions(ctx context.Context, sessionID SessionID) (Decision, error) {
	var suspended, all []Transaction

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		txs, err := v.transactions.ListSuspended(gctx, sessionID)
		if err != nil {
			return infra("list suspended transactions", err)
		}
		suspended = txs
		return nil
	})
	g.Go(func() error {
		txs, err := v.transactions.ListTransactions(gctx, sessionID)
		if err != nil {
			return infra("list transactions", err)
		}
		all = txs
		return nil
	})
	if err := g.Wait(); err != nil {
		return Decision{}, err
	}

	return decideSettlementPreconditions(suspended, all), nil
}

// =============================================================================
// PURE DECIDERS
// =============================================================================

func decideSettlementPreconditions(suspended, all []Transaction) Decision {
	var details Details
	seen := make(map[string]bool)
	for _, tx := range suspended {
		if !seen[tx.ID] {
			details.SuspendedBills = append(details.SuspendedBills, tx.ID)
			seen[tx.ID] = true
		}
	}
	for _, tx := range all {
		switch {
		case tx.Status == TxSuspended:
			if !seen[tx.ID] {
				details.SuspendedBills = append(details.SuspendedBills, tx.ID)
				seen[tx.ID] = true
			}
		case isIncomplete(tx):
			details.PartialTransactions = append(details.PartialTransactions, tx.ID)
		}
	}

	switch {
	case len(details.SuspendedBills) > 0:
		return deny(ReasonSuspendedBillsPending, details)
	case len(details.PartialTransactions) > 0:
		return deny(ReasonPartialTransactionsPending, details)
	default:
		return allow()
	}
}

func isIncomplete(tx Transaction) bool {
	if tx.Status == TxVoided {
		return false
	}
	return tx.Status == TxPartial ||
		tx.Status == TxPending ||
		tx.ItemCount == 0 ||
		tx.Total.IsZero()
}

// decideStartSession implements the terminal-exclusivity rule. latest is the
// terminal's active session or, if none, its most recent closed one.
func decideStartSession(activeShift *Shift, latest *Session) Decision {
	if activeShift == nil {
		return deny(ReasonNoActiveShift, Details{})
	}
	if latest == nil {
		return allow()
	}
	if latest.IsActive() {
		return deny(ReasonActiveSessionExists, Details{BlockingSessionID: latest.ID})
	}
	if latest.SettlementStatus != SettlementCompleted {
		return deny(ReasonPendingSettlement, Details{BlockingSessionID: latest.ID})
	}
	return allow()
}

func decideOwnership(session Session, requester OperatorID) Decision {
	if requester == "" || requester != session.OperatorID {
		return deny(ReasonOwnershipViolation, Details{})
	}
	return allow()
}

// decideCloseShift lists the sessions that keep a shift open. Every session
// must be closed and have a completed settlement.
func decideCloseShift(sessions []Session) Decision {
	var details Details
	for _, s := range sessions {
		if s.IsActive() {
			details.ActiveSessions = append(details.ActiveSessions, s.ID)
		}
		if s.SettlementStatus != SettlementCompleted {
			details.UnsettledSessions = append(details.UnsettledSessions, s.ID)
		}
	}
	switch {
	case len(details.ActiveSessions) > 0:
		return deny(ReasonSessionsStillOpen, details)
	case len(details.UnsettledSessions) > 0:
		return deny(ReasonSessionsUnsettled, details)
	default:
		return allow()
	}
}
