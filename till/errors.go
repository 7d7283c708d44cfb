/*
errors.go - Error taxonomy and denial reasons

PURPOSE:
  All error types of the core in one place. Queries (CanStartSession,
  CanCloseSession, CanCloseShift, ValidateSettlementPreconditions) never
  return errors for business-rule rejections: they return a Decision. The
  mutating operations return one of the structured errors below.

ERROR CATEGORIES:
  1. ValidationError     - malformed input, fix and resubmit
  2. ConflictError       - single-active-shift/session invariant
  3. PreconditionError   - a business rule blocks the transition
  4. InfrastructureError - store or collaborator failure, never retried here

USAGE:
  _, err := sessions.StartSession(ctx, shiftID, terminalID, operatorID, cash)
  var conflict *till.ConflictError
  if errors.As(err, &conflict) {
      // conflict.BlockingID is the session still open on the terminal
  }
*/
package till

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a terminal, shift or session does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation is the category of every ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is the category of every ConflictError.
	ErrConflict = errors.New("conflict")

	// ErrPrecondition is the category of every PreconditionError.
	ErrPrecondition = errors.New("precondition failed")

	// ErrUnavailable is returned by collaborators that cannot be reached.
	ErrUnavailable = errors.New("unavailable")
)

// =============================================================================
// DENIAL REASONS
// =============================================================================

// Reason is a machine-readable cause for a rejected transition.
type Reason string

const (
	ReasonActiveSessionExists        Reason = "ActiveSessionExists"
	ReasonPendingSettlement          Reason = "PendingSettlement"
	ReasonNoActiveShift              Reason = "NoActiveShift"
	ReasonOwnershipViolation         Reason = "OwnershipViolation"
	ReasonSuspendedBillsPending      Reason = "SuspendedBillsPending"
	ReasonPartialTransactionsPending Reason = "PartialTransactionsPending"
	ReasonSessionsStillOpen          Reason = "SessionsStillOpen"
	ReasonSessionsUnsettled          Reason = "SessionsUnsettled"
	ReasonShiftNotActive             Reason = "ShiftNotActive"
	ReasonSessionNotActive           Reason = "SessionNotActive"
	ReasonNoCashCounted              Reason = "NoCashCounted"
	ReasonVarianceReasonRequired     Reason = "VarianceReasonRequired"
	ReasonVarianceReasonMismatch     Reason = "VarianceReasonMismatch"
	ReasonSettlementIncomplete       Reason = "SettlementIncomplete"
)

var remedies = map[Reason]string{
	ReasonActiveSessionExists:        "close and settle the session that is still open on this terminal",
	ReasonPendingSettlement:          "complete the settlement of the previous session on this terminal",
	ReasonNoActiveShift:              "start a shift on this terminal first",
	ReasonOwnershipViolation:         "only the operator who opened the session can close it",
	ReasonSuspendedBillsPending:      "complete or void the suspended bills first",
	ReasonPartialTransactionsPending: "finish or void the incomplete transactions first",
	ReasonSessionsStillOpen:          "close every session of this shift first",
	ReasonSessionsUnsettled:          "complete the settlement of every session of this shift first",
	ReasonShiftNotActive:             "the shift is already closed",
	ReasonSessionNotActive:           "the session is already closed",
	ReasonNoCashCounted:              "count the cash in the drawer before recording a drop",
	ReasonVarianceReasonRequired:     "select a variance reason to explain the difference",
	ReasonVarianceReasonMismatch:     "select a reason matching the variance (shortage or excess)",
	ReasonSettlementIncomplete:       "complete the settlement before closing the session",
}

// Remedy returns the action a user must take to clear the rejection.
func (r Reason) Remedy() string {
	if msg, ok := remedies[r]; ok {
		return msg
	}
	return string(r)
}

// =============================================================================
// DECISION - result of every validator query
// =============================================================================

// Details carries the entities responsible for a rejection.
type Details struct {
	SuspendedBills      []string
	PartialTransactions []string
	ActiveSessions      []SessionID
	UnsettledSessions   []SessionID
	BlockingSessionID   SessionID
}

// Decision is the outcome of a business-rule check.
type Decision struct {
	Allowed bool
	Reason  Reason
	Details Details
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason Reason, details Details) Decision {
	return Decision{Reason: reason, Details: details}
}

// Err converts a denied decision into a PreconditionError. Allowed yields nil.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &PreconditionError{Reason: d.Reason, Details: d.Details}
}

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError reports caller-supplied data that is malformed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConflictError reports a violation of the one-active-record-per-terminal rule.
type ConflictError struct {
	Kind       string // "shift" or "session"
	TerminalID TerminalID
	BlockingID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("terminal %s already has an active %s (%s)", e.TerminalID, e.Kind, e.BlockingID)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// PreconditionError reports a business rule that blocks a transition.
type PreconditionError struct {
	Reason  Reason
	Details Details
}

func (e *PreconditionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Reason, e.Reason.Remedy())
	if ids := e.blockingIDs(); len(ids) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(ids, ", "))
	}
	return b.String()
}

func (e *PreconditionError) Unwrap() error { return ErrPrecondition }

func (e *PreconditionError) blockingIDs() []string {
	ids := append([]string{}, e.Details.SuspendedBills...)
	ids = append(ids, e.Details.PartialTransactions...)
	for _, id := range e.Details.ActiveSessions {
		ids = append(ids, string(id))
	}
	for _, id := range e.Details.UnsettledSessions {
		ids = append(ids, string(id))
	}
	if e.Details.BlockingSessionID != "" {
		ids = append(ids, string(e.Details.BlockingSessionID))
	}
	return ids
}

// InfrastructureError wraps a store or collaborator failure. The original
// error is kept intact for errors.Is/As.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *InfrastructureError) Unwrap() error { return e.Err }

// infra classifies err. Errors that already belong to the taxonomy, and
// ErrNotFound, pass through untouched.
func infra(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) || errors.Is(err, ErrPrecondition) {
		return err
	}
	var ie *InfrastructureError
	if errors.As(err, &ie) {
		return err
	}
	return &InfrastructureError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to the request, not the system.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrPrecondition)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ReasonOf extracts the denial reason from a PreconditionError.
func ReasonOf(err error) (Reason, bool) {
	var pe *PreconditionError
	if errors.As(err, &pe) {
		return pe.Reason, true
	}
	return "", false
}
