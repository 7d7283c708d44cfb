/*
handlers.go - HTTP API handlers for the till engine

PURPOSE:
  Exposes shift, session and settlement lifecycles via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to the till
  package.

ENDPOINTS:
  Terminals:
    GET    /api/terminals/{id}                    Terminal details
    GET    /api/terminals/{id}/shift              Active shift
    GET    /api/terminals/{id}/session            Active session
    GET    /api/terminals/{id}/shifts?limit=      Closed shifts, newest first
    GET    /api/terminals/{id}/sessions?limit=    Closed sessions, newest first
    GET    /api/terminals/{id}/can-start-session  Start-session decision

  Shifts:
    POST   /api/shifts                  Start shift
    GET    /api/shifts/{id}             Get shift
    GET    /api/shifts/{id}/can-close   Close-shift decision
    POST   /api/shifts/{id}/close       Close shift

  Sessions:
    POST   /api/sessions                     Start session
    GET    /api/sessions/{id}                Get session
    POST   /api/sessions/{id}/sales          Sale posted by the sale system
    GET    /api/sessions/{id}/can-close      Close-session decision
    GET    /api/sessions/{id}/preconditions  Suspended / partial bills
    POST   /api/sessions/{id}/close          Complete settlement and close

  Settlement:
    GET    /api/sessions/{id}/settlement
    PUT    /api/sessions/{id}/settlement/denominations
    POST   /api/sessions/{id}/settlement/interim
    POST   /api/sessions/{id}/settlement/adjustments
    DELETE /api/sessions/{id}/settlement/adjustments/{adjID}
    PUT    /api/sessions/{id}/settlement/reason

  Reference data:
    GET    /api/variance-reasons?type=&active=

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: ValidationError, malformed body
  - 401: Missing credentials (auth.go)
  - 403: OwnershipViolation
  - 404: Terminal, shift, session or adjustment not found
  - 409: ConflictError (terminal already has an active shift/session)
  - 422: PreconditionError (business rule blocks the transition)
  - 503: Sale system unreachable
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/warp/till-engine/till"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Shifts      *till.ShiftManager
	Sessions    *till.SessionManager
	Settlements *till.SettlementEngine
	Terminals   till.TerminalRegistry

	// Sales is set when the sale system writes through this service (local
	// mode). Nil when sales live in an external database.
	Sales till.TransactionWriter

	Logger zerolog.Logger
	Now    func() time.Time
}

// NewHandler creates a handler. sales may be nil.
func NewHandler(shifts *till.ShiftManager, sessions *till.SessionManager, settlements *till.SettlementEngine,
	terminals till.TerminalRegistry, sales till.TransactionWriter, logger zerolog.Logger) *Handler {
	return &Handler{
		Shifts:      shifts,
		Sessions:    sessions,
		Settlements: settlements,
		Terminals:   terminals,
		Sales:       sales,
		Logger:      logger,
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// TERMINAL ENDPOINTS
// =============================================================================

// GetTerminal returns a terminal.
// GET /api/terminals/{id}
func (h *Handler) GetTerminal(w http.ResponseWriter, r *http.Request) {
	t, err := h.Terminals.GetTerminal(r.Context(), till.TerminalID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTerminalDTO(*t))
}

// GetActiveShift returns the terminal's active shift.
// GET /api/terminals/{id}/shift
func (h *Handler) GetActiveShift(w http.ResponseWriter, r *http.Request) {
	shift, err := h.Shifts.GetCurrentShift(r.Context(), till.TerminalID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if shift == nil {
		writeError(w, http.StatusNotFound, "No active shift", nil)
		return
	}
	writeJSON(w, http.StatusOK, toShiftDTO(*shift))
}

// GetActiveSession returns the terminal's active session.
// GET /api/terminals/{id}/session
func (h *Handler) GetActiveSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.Sessions.GetCurrentSession(r.Context(), till.TerminalID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if session == nil {
		writeError(w, http.StatusNotFound, "No active session", nil)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(*session))
}

// ListShiftHistory returns closed shifts of a terminal.
// GET /api/terminals/{id}/shifts?limit=
func (h *Handler) ListShiftHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	shifts, err := h.Shifts.GetShiftHistory(r.Context(), till.TerminalID(chi.URLParam(r, "id")), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toShiftDTOs(shifts))
}

// ListSessionHistory returns closed sessions of a terminal.
// GET /api/terminals/{id}/sessions?limit=
func (h *Handler) ListSessionHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	sessions, err := h.Sessions.GetSessionHistory(r.Context(), till.TerminalID(chi.URLParam(r, "id")), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTOs(sessions))
}

// CanStartSession reports whether the caller may open a session.
// GET /api/terminals/{id}/can-start-session
func (h *Handler) CanStartSession(w http.ResponseWriter, r *http.Request) {
	d, err := h.Sessions.CanStartSession(r.Context(), till.TerminalID(chi.URLParam(r, "id")), OperatorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDecisionDTO(d))
}

// =============================================================================
// SHIFT ENDPOINTS
// =============================================================================

// StartShift opens a shift on a terminal.
// POST /api/shifts
func (h *Handler) StartShift(w http.ResponseWriter, r *http.Request) {
	var req StartShiftRequest
	if !decodeBody(w, r, &req) {
		return
	}
	shift, err := h.Shifts.StartShift(r.Context(), till.TerminalID(req.TerminalID), OperatorFrom(r.Context()), req.OpeningCash)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toShiftDTO(*shift))
}

// GetShift returns a shift, active or closed.
// GET /api/shifts/{id}
func (h *Handler) GetShift(w http.ResponseWriter, r *http.Request) {
	shift, err := h.Shifts.GetShift(r.Context(), till.ShiftID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toShiftDTO(*shift))
}

// CanCloseShift lists the sessions that still block the shift.
// GET /api/shifts/{id}/can-close
func (h *Handler) CanCloseShift(w http.ResponseWriter, r *http.Request) {
	d, err := h.Shifts.CanCloseShift(r.Context(), till.ShiftID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDecisionDTO(d))
}

// CloseShift closes a shift.
// POST /api/shifts/{id}/close
func (h *Handler) CloseShift(w http.ResponseWriter, r *http.Request) {
	var req CloseShiftRequest
	if !decodeBody(w, r, &req) {
		return
	}
	shift, err := h.Shifts.CloseShift(r.Context(), till.ShiftID(chi.URLParam(r, "id")), req.ClosingCash)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toShiftDTO(*shift))
}

// =============================================================================
// SESSION ENDPOINTS
// =============================================================================

// StartSession opens a billing session for the caller.
// POST /api/sessions
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	session, err := h.Sessions.StartSession(r.Context(), till.ShiftID(req.ShiftID), till.TerminalID(req.TerminalID),
		OperatorFrom(r.Context()), req.OpeningCash)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionDTO(*session))
}

// GetSession returns a session, active or closed.
// GET /api/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.Sessions.GetSession(r.Context(), till.SessionID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(*session))
}

// RecordSale accepts a sale event. In local mode the sale is stored first so
// the settlement validator sees it.
// POST /api/sessions/{id}/sales
func (h *Handler) RecordSale(w http.ResponseWriter, r *http.Request) {
	var req SaleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sessionID := till.SessionID(chi.URLParam(r, "id"))
	sale := till.Transaction{
		ID:            strings.TrimSpace(req.ID),
		SessionID:     sessionID,
		Total:         till.Money(req.Total),
		CashTendered:  till.Money(req.CashTendered),
		PaymentMethod: till.PaymentMethod(strings.ToLower(req.PaymentMethod)),
		Status:        till.TransactionStatus(strings.ToLower(req.Status)),
		ItemCount:     req.ItemCount,
		CreatedAt:     h.Now(),
	}
	if sale.Status == "" {
		sale.Status = till.TxCompleted
	}

	if err := sale.Validate(); err != nil {
		h.fail(w, r, err)
		return
	}
	if h.Sales != nil {
		session, err := h.Sessions.GetSession(r.Context(), sessionID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if !session.IsActive() {
			h.fail(w, r, &till.PreconditionError{Reason: till.ReasonSessionNotActive})
			return
		}
		if err := h.Sales.SaveTransaction(r.Context(), sale); err != nil {
			h.fail(w, r, err)
			return
		}
	}

	session, err := h.Sessions.RecordSale(r.Context(), sessionID, sale)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(*session))
}

// CanCloseSession checks ownership and pending bills for the caller.
// GET /api/sessions/{id}/can-close
func (h *Handler) CanCloseSession(w http.ResponseWriter, r *http.Request) {
	d, err := h.Sessions.CanCloseSession(r.Context(), till.SessionID(chi.URLParam(r, "id")), OperatorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDecisionDTO(d))
}

// SettlementPreconditions lists suspended and partial bills.
// GET /api/sessions/{id}/preconditions
func (h *Handler) SettlementPreconditions(w http.ResponseWriter, r *http.Request) {
	d, err := h.Sessions.ValidateSettlementPreconditions(r.Context(), till.SessionID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDecisionDTO(d))
}

// CloseSession completes the settlement as the caller and closes the session.
// POST /api/sessions/{id}/close
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := till.SessionID(chi.URLParam(r, "id"))

	settlement, err := h.Settlements.CompleteSettlement(ctx, sessionID, OperatorFrom(ctx))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	session, err := h.Sessions.CloseSession(ctx, sessionID, settlement)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CloseSessionResponse{
		Session:    toSessionDTO(*session),
		Settlement: toSettlementDTO(*session.Settlement),
	})
}

// =============================================================================
// SETTLEMENT ENDPOINTS
// =============================================================================

// GetSettlement returns the working (or frozen) settlement.
// GET /api/sessions/{id}/settlement
func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	s, err := h.Settlements.GetSettlement(r.Context(), till.SessionID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(*s))
}

// SetDenominations updates one or more denomination counts.
// PUT /api/sessions/{id}/settlement/denominations
func (h *Handler) SetDenominations(w http.ResponseWriter, r *http.Request) {
	var req DenominationsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Counts) == 0 {
		writeError(w, http.StatusBadRequest, "counts is required", nil)
		return
	}
	sessionID := till.SessionID(chi.URLParam(r, "id"))

	var (
		s   *till.Settlement
		err error
	)
	if len(req.Counts) == 1 {
		s, err = h.Settlements.UpdateDenomination(r.Context(), sessionID, req.Counts[0].FaceValue, req.Counts[0].Count)
	} else {
		counts := make([]till.DenominationCount, len(req.Counts))
		for i, c := range req.Counts {
			counts[i] = till.DenominationCount{FaceValue: c.FaceValue, Count: c.Count}
		}
		s, err = h.Settlements.SetDenominations(r.Context(), sessionID, counts)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(*s))
}

// RecordInterim records a mid-session cash drop.
// POST /api/sessions/{id}/settlement/interim
func (h *Handler) RecordInterim(w http.ResponseWriter, r *http.Request) {
	var req InterimRequest
	if !decodeBody(w, r, &req) {
		return
	}
	entry, err := h.Settlements.RecordInterimSettlement(r.Context(), till.SessionID(chi.URLParam(r, "id")), reasonID(req.ReasonID), req.Notes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInterimDTO(*entry))
}

// AddAdjustment records a manual cash correction.
// POST /api/sessions/{id}/settlement/adjustments
func (h *Handler) AddAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	adj, err := h.Settlements.AddAdjustment(r.Context(), till.SessionID(chi.URLParam(r, "id")),
		till.AdjustmentType(strings.ToLower(req.Type)), req.Amount, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAdjustmentDTO(*adj))
}

// RemoveAdjustment deletes a manual cash correction.
// DELETE /api/sessions/{id}/settlement/adjustments/{adjID}
func (h *Handler) RemoveAdjustment(w http.ResponseWriter, r *http.Request) {
	s, err := h.Settlements.RemoveAdjustment(r.Context(), till.SessionID(chi.URLParam(r, "id")), chi.URLParam(r, "adjID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(*s))
}

// SelectVarianceReason sets or clears the reason for the final variance.
// PUT /api/sessions/{id}/settlement/reason
func (h *Handler) SelectVarianceReason(w http.ResponseWriter, r *http.Request) {
	var req VarianceReasonRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s, err := h.Settlements.SelectVarianceReason(r.Context(), till.SessionID(chi.URLParam(r, "id")), reasonID(req.ReasonID))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(*s))
}

// ListVarianceReasons returns reasons, optionally filtered.
// GET /api/variance-reasons?type=shortage&active=true
func (h *Handler) ListVarianceReasons(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var reasonType *till.ReasonType
	if v := q.Get("type"); v != "" {
		rt := till.ReasonType(strings.ToLower(v))
		reasonType = &rt
	}
	activeOnly := true
	if v := q.Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "active must be true or false", err)
			return
		}
		activeOnly = b
	}

	reasons, err := h.Settlements.ListReasons(r.Context(), reasonType, activeOnly)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReasonDTOs(reasons))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return till.DefaultHistoryLimit, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", err)
		return 0, false
	}
	return n, true
}

// fail maps the till error taxonomy onto HTTP statuses.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation   *till.ValidationError
		conflict     *till.ConflictError
		precondition *till.PreconditionError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	case till.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.As(err, &conflict):
		resp := ErrorResponse{Error: "Conflict", Details: err.Error(), BlockingID: conflict.BlockingID}
		if conflict.Kind == "session" {
			resp.Reason = string(till.ReasonActiveSessionExists)
		}
		writeJSON(w, http.StatusConflict, resp)
	case errors.As(err, &precondition):
		status := http.StatusUnprocessableEntity
		if precondition.Reason == till.ReasonOwnershipViolation {
			status = http.StatusForbidden
		}
		d := toDecisionDTO(till.Decision{Reason: precondition.Reason, Details: precondition.Details})
		writeJSON(w, status, ErrorResponse{
			Error:    precondition.Reason.Remedy(),
			Details:  err.Error(),
			Reason:   string(precondition.Reason),
			Decision: &d,
		})
	case errors.Is(err, till.ErrUnavailable):
		h.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("sale system unavailable")
		writeError(w, http.StatusServiceUnavailable, "Sale system unavailable", nil)
	default:
		h.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "Internal error", nil)
	}
}
