/*
Package till provides the operational core of a point-of-sale terminal.

PURPOSE:
  This package owns the lifecycle of shifts, billing sessions and cash
  settlements, and the cash drawer reconciliation used to close them out.
  Everything around it (catalog, pricing, receipts, UI) is a collaborator
  reached through the interfaces in store.go.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: fixed-point decimal amounts, always rounded to 2 places
  - Terminal: a physical till (read-only to the core)
  - Shift: the outer work period of one operator on one terminal
  - Session: the billing period nested in a shift
  - Settlement: the reconciliation record embedded in a closed session
  - Transaction: canonical view of a sale owned by the sale system

DESIGN PRINCIPLES:
  1. One active shift and one active session per terminal, enforced atomically
  2. Precision: decimal.Decimal for every amount, recomputed from source rows
  3. Explicit state: status enums instead of inferring state from nil fields
  4. History is immutable: closed records are moved, never edited

SEE ALSO:
  - shift.go: Shift lifecycle manager
  - session.go: Session lifecycle manager
  - settlement.go: Settlement engine (service)
  - reconcile.go: Pure reconciliation arithmetic
  - validator.go: Business rule validator
*/
package till

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// MoneyPlaces is the number of fractional digits kept on every amount.
const MoneyPlaces = 2

// Money rounds d to MoneyPlaces.
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// MustMoney parses s as a money amount. Invalid input yields zero.
func MustMoney(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return Money(d)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TerminalID string
type ShiftID string
type SessionID string
type OperatorID string
type ReasonID string

// =============================================================================
// TERMINAL
// =============================================================================

// Terminal identifies a physical till.
type Terminal struct {
	ID           TerminalID
	LocationID   string
	CompanyID    string
	TerminalType string
	IsActive     bool
}

// =============================================================================
// SHIFT
// =============================================================================

type ShiftStatus string

const (
	ShiftActive ShiftStatus = "active"
	ShiftClosed ShiftStatus = "closed"
)

type Shift struct {
	ID         ShiftID
	TerminalID TerminalID
	OperatorID OperatorID
	StartTime  time.Time
	EndTime    *time.Time
	Status     ShiftStatus

	OpeningCash    decimal.Decimal
	ExpectedCash   decimal.Decimal
	ClosingCash    *decimal.Decimal
	ActualCash     *decimal.Decimal
	CashDifference *decimal.Decimal
}

func (s Shift) IsActive() bool { return s.Status == ShiftActive }

// =============================================================================
// SESSION
// =============================================================================

type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "pending"
	SettlementCompleted SettlementStatus = "completed"
)

type Session struct {
	ID         SessionID
	ShiftID    ShiftID
	TerminalID TerminalID
	OperatorID OperatorID
	StartTime  time.Time
	EndTime    *time.Time
	Status     SessionStatus

	OpeningCash decimal.Decimal
	// ExpectedCash is OpeningCash plus the cash portion of every completed sale.
	ExpectedCash   decimal.Decimal
	ClosingCash    *decimal.Decimal
	ActualCash     *decimal.Decimal
	CashDifference *decimal.Decimal

	// SaleCash is the cash already applied to ExpectedCash per sale id. A sale
	// posted again applies only the difference.
	SaleCash map[string]decimal.Decimal

	SettlementStatus SettlementStatus
	// Settlement is the working reconciliation while the session is active and
	// the frozen record once it is closed.
	Settlement *Settlement
}

func (s Session) IsActive() bool { return s.Status == SessionActive }

// IsSettled reports whether the session is closed with a completed settlement.
func (s Session) IsSettled() bool {
	return s.Status == SessionClosed && s.SettlementStatus == SettlementCompleted
}

// =============================================================================
// SETTLEMENT
// =============================================================================

type SettlementState string

const (
	SettlementNotStarted SettlementState = "not_started"
	SettlementInProgress SettlementState = "in_progress"
	SettlementDone       SettlementState = "completed"
)

// DenominationCount is one row of the cash count.
type DenominationCount struct {
	FaceValue decimal.Decimal
	Count     int
	Amount    decimal.Decimal
}

// InterimEntry is a mid-session cash drop. Immutable once recorded.
type InterimEntry struct {
	Sequence             int
	Amount               decimal.Decimal
	Variance             decimal.Decimal
	ReasonID             *ReasonID
	Notes                string
	DenominationSnapshot []DenominationCount
	Timestamp            time.Time
}

type AdjustmentType string

const (
	AdjustmentAdd      AdjustmentType = "add"
	AdjustmentSubtract AdjustmentType = "subtract"
)

func (t AdjustmentType) Valid() bool {
	return t == AdjustmentAdd || t == AdjustmentSubtract
}

// Adjustment is a manual cash correction surfaced for manager review.
type Adjustment struct {
	ID        string
	Type      AdjustmentType
	Amount    decimal.Decimal
	Reason    string
	Timestamp time.Time
}

type Settlement struct {
	SessionID SessionID
	State     SettlementState

	Denominations []DenominationCount

	// TotalExpectedCash is the session's expected cash gross of interim drops.
	TotalExpectedCash decimal.Decimal
	// RemainingExpectedCash is TotalExpectedCash less interim drops, floored at 0.
	RemainingExpectedCash decimal.Decimal
	// CurrentActualCash is the count from the current (final) pass only.
	CurrentActualCash decimal.Decimal
	// TotalCountedCash is every interim amount plus CurrentActualCash.
	TotalCountedCash decimal.Decimal
	// Variance is CurrentActualCash − RemainingExpectedCash while in progress and
	// TotalCountedCash − TotalExpectedCash once completed.
	Variance         decimal.Decimal
	VarianceReasonID *ReasonID

	InterimSettlements []InterimEntry
	Adjustments        []Adjustment
	AdjustmentNet      decimal.Decimal

	// Revision counts the changes made to the working settlement. A frozen
	// copy carries the revision it was completed from.
	Revision int

	StartedAt *time.Time
	SettledAt *time.Time
	SettledBy OperatorID
}

// =============================================================================
// VARIANCE REASON - external master data
// =============================================================================

type ReasonType string

const (
	ReasonShortage ReasonType = "shortage"
	ReasonExcess   ReasonType = "excess"
)

func (t ReasonType) Valid() bool { return t == ReasonShortage || t == ReasonExcess }

type VarianceReason struct {
	ID         ReasonID
	Name       string
	ReasonType ReasonType
	IsActive   bool
}

// ReasonTypeFor returns the reason type a variance must be explained with.
// ok is false for a zero variance.
func ReasonTypeFor(variance decimal.Decimal) (rt ReasonType, ok bool) {
	switch {
	case variance.IsNegative():
		return ReasonShortage, true
	case variance.IsPositive():
		return ReasonExcess, true
	default:
		return "", false
	}
}

// =============================================================================
// TRANSACTION - canonical sale record from the sale system
// =============================================================================

type TransactionStatus string

const (
	TxCompleted TransactionStatus = "completed"
	TxSuspended TransactionStatus = "suspended"
	TxPartial   TransactionStatus = "partial"
	TxPending   TransactionStatus = "pending"
	TxVoided    TransactionStatus = "voided"
)

type PaymentMethod string

const (
	PaymentCash  PaymentMethod = "cash"
	PaymentCard  PaymentMethod = "card"
	PaymentMixed PaymentMethod = "mixed"
	PaymentOther PaymentMethod = "other"
)

type Transaction struct {
	ID            string
	SessionID     SessionID
	Total         decimal.Decimal
	CashTendered  decimal.Decimal
	PaymentMethod PaymentMethod
	Status        TransactionStatus
	ItemCount     int
	CreatedAt     time.Time
}

// Validate rejects a sale that cannot be applied to a session.
func (t Transaction) Validate() error {
	if t.ID == "" {
		return invalid("id", "required")
	}
	if t.Total.IsNegative() || t.CashTendered.IsNegative() {
		return invalid("total", "must not be negative")
	}
	return nil
}

// CashPortion is the amount of t that lands in the cash drawer.
func (t Transaction) CashPortion() decimal.Decimal {
	if t.Status != TxCompleted {
		return decimal.Zero
	}
	if !t.CashTendered.IsZero() {
		return Money(t.CashTendered)
	}
	if t.PaymentMethod == PaymentCash {
		return Money(t.Total)
	}
	return decimal.Zero
}
