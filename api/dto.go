/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the till domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts travel as decimal strings ("1000.00"). decimal.Decimal marshals to
  a quoted string and accepts both quoted and bare JSON numbers on input.

VALIDATION:
  Validation is done by the till package. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/till-engine/till"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// StartShiftRequest opens a shift. The operator comes from the credentials.
type StartShiftRequest struct {
	TerminalID  string          `json:"terminal_id"`
	OpeningCash decimal.Decimal `json:"opening_cash"`
}

// CloseShiftRequest closes a shift with the physically counted drawer.
type CloseShiftRequest struct {
	ClosingCash decimal.Decimal `json:"closing_cash"`
}

// StartSessionRequest opens a billing session inside a shift.
type StartSessionRequest struct {
	ShiftID     string          `json:"shift_id"`
	TerminalID  string          `json:"terminal_id"`
	OpeningCash decimal.Decimal `json:"opening_cash"`
}

// SaleRequest is a sale posted by the sale system.
type SaleRequest struct {
	ID            string          `json:"id"`
	Total         decimal.Decimal `json:"total"`
	CashTendered  decimal.Decimal `json:"cash_tendered"`
	PaymentMethod string          `json:"payment_method"`
	Status        string          `json:"status"`
	ItemCount     int             `json:"item_count"`
}

// DenominationsRequest sets counts; rows not listed keep their count.
type DenominationsRequest struct {
	Counts []DenominationDTO `json:"counts"`
}

// InterimRequest records a mid-session cash drop.
type InterimRequest struct {
	ReasonID *string `json:"reason_id,omitempty"`
	Notes    string  `json:"notes,omitempty"`
}

// AdjustmentRequest records a manual cash correction.
type AdjustmentRequest struct {
	Type   string          `json:"type"`
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

// VarianceReasonRequest selects (or clears, with null) the variance reason.
type VarianceReasonRequest struct {
	ReasonID *string `json:"reason_id"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type TerminalDTO struct {
	ID           string `json:"id"`
	LocationID   string `json:"location_id,omitempty"`
	CompanyID    string `json:"company_id,omitempty"`
	TerminalType string `json:"terminal_type,omitempty"`
	IsActive     bool   `json:"is_active"`
}

type ShiftDTO struct {
	ID             string           `json:"id"`
	TerminalID     string           `json:"terminal_id"`
	OperatorID     string           `json:"operator_id"`
	Status         string           `json:"status"`
	StartTime      time.Time        `json:"start_time"`
	EndTime        *time.Time       `json:"end_time,omitempty"`
	OpeningCash    decimal.Decimal  `json:"opening_cash"`
	ExpectedCash   decimal.Decimal  `json:"expected_cash"`
	ClosingCash    *decimal.Decimal `json:"closing_cash,omitempty"`
	CashDifference *decimal.Decimal `json:"cash_difference,omitempty"`
}

type SessionDTO struct {
	ID               string           `json:"id"`
	ShiftID          string           `json:"shift_id"`
	TerminalID       string           `json:"terminal_id"`
	OperatorID       string           `json:"operator_id"`
	Status           string           `json:"status"`
	SettlementStatus string           `json:"settlement_status"`
	StartTime        time.Time        `json:"start_time"`
	EndTime          *time.Time       `json:"end_time,omitempty"`
	OpeningCash      decimal.Decimal  `json:"opening_cash"`
	ExpectedCash     decimal.Decimal  `json:"expected_cash"`
	ClosingCash      *decimal.Decimal `json:"closing_cash,omitempty"`
	CashDifference   *decimal.Decimal `json:"cash_difference,omitempty"`
}

type DenominationDTO struct {
	FaceValue decimal.Decimal `json:"face_value"`
	Count     int             `json:"count"`
	Amount    decimal.Decimal `json:"amount"`
}

type InterimDTO struct {
	Sequence      int               `json:"sequence"`
	Amount        decimal.Decimal   `json:"amount"`
	Variance      decimal.Decimal   `json:"variance"`
	ReasonID      *string           `json:"reason_id,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	Denominations []DenominationDTO `json:"denominations"`
	Timestamp     time.Time         `json:"timestamp"`
}

type AdjustmentDTO struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	Timestamp time.Time       `json:"timestamp"`
}

type SettlementDTO struct {
	SessionID             string            `json:"session_id"`
	State                 string            `json:"state"`
	Denominations         []DenominationDTO `json:"denominations"`
	TotalExpectedCash     decimal.Decimal   `json:"total_expected_cash"`
	RemainingExpectedCash decimal.Decimal   `json:"remaining_expected_cash"`
	CurrentActualCash     decimal.Decimal   `json:"current_actual_cash"`
	TotalCountedCash      decimal.Decimal   `json:"total_counted_cash"`
	Variance              decimal.Decimal   `json:"variance"`
	VarianceReasonID      *string           `json:"variance_reason_id,omitempty"`
	InterimSettlements    []InterimDTO      `json:"interim_settlements"`
	Adjustments           []AdjustmentDTO   `json:"adjustments"`
	AdjustmentNet         decimal.Decimal   `json:"adjustment_net"`
	StartedAt             *time.Time        `json:"started_at,omitempty"`
	SettledAt             *time.Time        `json:"settled_at,omitempty"`
	SettledBy             string            `json:"settled_by,omitempty"`
}

// CloseSessionResponse pairs the archived session with its frozen settlement.
type CloseSessionResponse struct {
	Session    SessionDTO    `json:"session"`
	Settlement SettlementDTO `json:"settlement"`
}

type VarianceReasonDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	IsActive bool   `json:"is_active"`
}

// DecisionDTO is the answer of every Can*/preconditions query.
type DecisionDTO struct {
	Allowed             bool     `json:"allowed"`
	Reason              string   `json:"reason,omitempty"`
	Message             string   `json:"message,omitempty"`
	SuspendedBills      []string `json:"suspended_bills,omitempty"`
	PartialTransactions []string `json:"partial_transactions,omitempty"`
	ActiveSessions      []string `json:"active_sessions,omitempty"`
	UnsettledSessions   []string `json:"unsettled_sessions,omitempty"`
	BlockingSessionID   string   `json:"blocking_session_id,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error      string       `json:"error"`
	Details    string       `json:"details,omitempty"`
	Reason     string       `json:"reason,omitempty"`
	BlockingID string       `json:"blocking_id,omitempty"`
	Decision   *DecisionDTO `json:"decision,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toTerminalDTO(t till.Terminal) TerminalDTO {
	return TerminalDTO{
		ID:           string(t.ID),
		LocationID:   t.LocationID,
		CompanyID:    t.CompanyID,
		TerminalType: t.TerminalType,
		IsActive:     t.IsActive,
	}
}

func toShiftDTO(s till.Shift) ShiftDTO {
	return ShiftDTO{
		ID:             string(s.ID),
		TerminalID:     string(s.TerminalID),
		OperatorID:     string(s.OperatorID),
		Status:         string(s.Status),
		StartTime:      s.StartTime,
		EndTime:        s.EndTime,
		OpeningCash:    s.OpeningCash,
		ExpectedCash:   s.ExpectedCash,
		ClosingCash:    s.ClosingCash,
		CashDifference: s.CashDifference,
	}
}

func toShiftDTOs(shifts []till.Shift) []ShiftDTO {
	out := make([]ShiftDTO, len(shifts))
	for i, s := range shifts {
		out[i] = toShiftDTO(s)
	}
	return out
}

func toSessionDTO(s till.Session) SessionDTO {
	status := s.SettlementStatus
	if status == "" {
		status = till.SettlementPending
	}
	return SessionDTO{
		ID:               string(s.ID),
		ShiftID:          string(s.ShiftID),
		TerminalID:       string(s.TerminalID),
		OperatorID:       string(s.OperatorID),
		Status:           string(s.Status),
		SettlementStatus: string(status),
		StartTime:        s.StartTime,
		EndTime:          s.EndTime,
		OpeningCash:      s.OpeningCash,
		ExpectedCash:     s.ExpectedCash,
		ClosingCash:      s.ClosingCash,
		CashDifference:   s.CashDifference,
	}
}

func toSessionDTOs(sessions []till.Session) []SessionDTO {
	out := make([]SessionDTO, len(sessions))
	for i, s := range sessions {
		out[i] = toSessionDTO(s)
	}
	return out
}

func toDenominationDTOs(rows []till.DenominationCount) []DenominationDTO {
	out := make([]DenominationDTO, len(rows))
	for i, r := range rows {
		out[i] = DenominationDTO{FaceValue: r.FaceValue, Count: r.Count, Amount: r.Amount}
	}
	return out
}

func toInterimDTO(e till.InterimEntry) InterimDTO {
	return InterimDTO{
		Sequence:      e.Sequence,
		Amount:        e.Amount,
		Variance:      e.Variance,
		ReasonID:      reasonString(e.ReasonID),
		Notes:         e.Notes,
		Denominations: toDenominationDTOs(e.DenominationSnapshot),
		Timestamp:     e.Timestamp,
	}
}

func toAdjustmentDTO(a till.Adjustment) AdjustmentDTO {
	return AdjustmentDTO{
		ID:        a.ID,
		Type:      string(a.Type),
		Amount:    a.Amount,
		Reason:    a.Reason,
		Timestamp: a.Timestamp,
	}
}

func toSettlementDTO(s till.Settlement) SettlementDTO {
	dto := SettlementDTO{
		SessionID:             string(s.SessionID),
		State:                 string(s.State),
		Denominations:         toDenominationDTOs(s.Denominations),
		TotalExpectedCash:     s.TotalExpectedCash,
		RemainingExpectedCash: s.RemainingExpectedCash,
		CurrentActualCash:     s.CurrentActualCash,
		TotalCountedCash:      s.TotalCountedCash,
		Variance:              s.Variance,
		VarianceReasonID:      reasonString(s.VarianceReasonID),
		InterimSettlements:    make([]InterimDTO, len(s.InterimSettlements)),
		Adjustments:           make([]AdjustmentDTO, len(s.Adjustments)),
		AdjustmentNet:         s.AdjustmentNet,
		StartedAt:             s.StartedAt,
		SettledAt:             s.SettledAt,
		SettledBy:             string(s.SettledBy),
	}
	for i, e := range s.InterimSettlements {
		dto.InterimSettlements[i] = toInterimDTO(e)
	}
	for i, a := range s.Adjustments {
		dto.Adjustments[i] = toAdjustmentDTO(a)
	}
	return dto
}

func toReasonDTOs(reasons []till.VarianceReason) []VarianceReasonDTO {
	out := make([]VarianceReasonDTO, len(reasons))
	for i, r := range reasons {
		out[i] = VarianceReasonDTO{ID: string(r.ID), Name: r.Name, Type: string(r.ReasonType), IsActive: r.IsActive}
	}
	return out
}

func toDecisionDTO(d till.Decision) DecisionDTO {
	dto := DecisionDTO{
		Allowed:             d.Allowed,
		SuspendedBills:      d.Details.SuspendedBills,
		PartialTransactions: d.Details.PartialTransactions,
		BlockingSessionID:   string(d.Details.BlockingSessionID),
	}
	if !d.Allowed {
		dto.Reason = string(d.Reason)
		dto.Message = d.Reason.Remedy()
	}
	for _, id := range d.Details.ActiveSessions {
		dto.ActiveSessions = append(dto.ActiveSessions, string(id))
	}
	for _, id := range d.Details.UnsettledSessions {
		dto.UnsettledSessions = append(dto.UnsettledSessions, string(id))
	}
	return dto
}

func reasonString(id *till.ReasonID) *string {
	if id == nil {
		return nil
	}
	s := string(*id)
	return &s
}

func reasonID(s *string) *till.ReasonID {
	if s == nil || *s == "" {
		return nil
	}
	id := till.ReasonID(*s)
	return &id
}
