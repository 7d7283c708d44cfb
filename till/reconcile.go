/*
reconcile.go - Cash count arithmetic

PURPOSE:
  Pure functions over a working Settlement. No I/O, no locking: the
  SettlementEngine loads the session, applies one of these, and saves it.

RECOMPUTATION:
  Every derived value is rebuilt from the denomination rows, the interim
  entries and the session's expected cash on every change. Nothing is kept as
  an incremental running delta, so repeated edits cannot drift:

    amount[i]         = faceValue[i] × count[i]
    currentActual     = Σ amount[i]
    interimTotal      = Σ interim[j].amount
    remainingExpected = max(0, expectedCash − interimTotal)
    variance          = currentActual − remainingExpected
    totalCounted      = interimTotal + currentActual
    adjustmentNet     = Σ add − Σ subtract

INTERIM SETTLEMENTS:
  An interim drop snapshots the rows, appends an entry and zeroes every
  count. The session stays active and billing continues; the dropped amount
  reduces what is still expected in the drawer.

EXAMPLE:
  expected 1000.00, counted 5×100 + 10×50 → variance 0
  change 50s to 9                         → currentActual 950, variance −50
*/
package till

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// newSettlement returns an empty working settlement. faces, when given,
// seeds one zero row per denomination.
func newSettlement(sessionID SessionID, faces []decimal.Decimal) *Settlement {
	s := &Settlement{
		SessionID: sessionID,
		State:     SettlementNotStarted,
	}
	for _, f := range faces {
		s.Denominations = append(s.Denominations, DenominationCount{FaceValue: f, Amount: decimal.Zero})
	}
	s.sortRows()
	return s
}

// setCount sets the count of one face value, adding the row if needed.
// Negative counts are clamped to zero.
func (s *Settlement) setCount(face decimal.Decimal, count int, at time.Time) {
	if count < 0 {
		count = 0
	}
	found := false
	for i := range s.Denominations {
		if s.Denominations[i].FaceValue.Equal(face) {
			s.Denominations[i].Count = count
			found = true
			break
		}
	}
	if !found {
		s.Denominations = append(s.Denominations, DenominationCount{FaceValue: face, Count: count})
		s.sortRows()
	}
	if s.State == SettlementNotStarted {
		s.State = SettlementInProgress
		started := at
		s.StartedAt = &started
	}
}

// recompute rebuilds every derived amount from source rows.
func (s *Settlement) recompute(expectedCash decimal.Decimal) {
	current := decimal.Zero
	for i := range s.Denominations {
		row := &s.Denominations[i]
		row.Amount = Money(row.FaceValue.Mul(decimal.NewFromInt(int64(row.Count))))
		current = current.Add(row.Amount)
	}

	interimTotal := decimal.Zero
	for _, e := range s.InterimSettlements {
		interimTotal = interimTotal.Add(e.Amount)
	}

	remaining := expectedCash.Sub(interimTotal)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}

	net := decimal.Zero
	for _, a := range s.Adjustments {
		switch a.Type {
		case AdjustmentAdd:
			net = net.Add(a.Amount)
		case AdjustmentSubtract:
			net = net.Sub(a.Amount)
		}
	}

	s.TotalExpectedCash = Money(expectedCash)
	s.RemainingExpectedCash = Money(remaining)
	s.CurrentActualCash = Money(current)
	s.TotalCountedCash = Money(interimTotal.Add(current))
	s.Variance = Money(current.Sub(remaining))
	s.AdjustmentNet = Money(net)
}

// recordInterim appends an interim entry for the current count, then zeroes
// the rows. Callers check the preconditions first.
func (s *Settlement) recordInterim(expectedCash decimal.Decimal, reasonID *ReasonID, notes string, at time.Time) InterimEntry {
	s.recompute(expectedCash)

	entry := InterimEntry{
		Sequence:             len(s.InterimSettlements) + 1,
		Amount:               s.CurrentActualCash,
		Variance:             s.Variance,
		ReasonID:             reasonID,
		Notes:                notes,
		DenominationSnapshot: cloneRows(s.Denominations),
		Timestamp:            at,
	}
	s.InterimSettlements = append(s.InterimSettlements, entry)

	for i := range s.Denominations {
		s.Denominations[i].Count = 0
	}
	s.recompute(expectedCash)
	return entry
}

func (s *Settlement) removeAdjustment(id string) bool {
	for i, a := range s.Adjustments {
		if a.ID == id {
			s.Adjustments = append(s.Adjustments[:i:i], s.Adjustments[i+1:]...)
			return true
		}
	}
	return false
}

// frozen returns the completed record. The receiver is left untouched.
func (s *Settlement) frozen(expectedCash decimal.Decimal, by OperatorID, at time.Time) Settlement {
	out := s.Clone()
	out.recompute(expectedCash)
	out.State = SettlementDone
	out.Variance = Money(out.TotalCountedCash.Sub(out.TotalExpectedCash))
	settledAt := at
	out.SettledAt = &settledAt
	out.SettledBy = by
	if out.StartedAt == nil {
		out.StartedAt = &settledAt
	}
	return *out
}

// sameRecord reports whether o freezes the same count as s: the same
// revision, totals, rows, interim drops, adjustments and reason.
func (s *Settlement) sameRecord(o *Settlement) bool {
	if s.SessionID != o.SessionID || s.Revision != o.Revision {
		return false
	}
	if !s.TotalExpectedCash.Equal(o.TotalExpectedCash) ||
		!s.TotalCountedCash.Equal(o.TotalCountedCash) ||
		!s.Variance.Equal(o.Variance) ||
		!s.AdjustmentNet.Equal(o.AdjustmentNet) {
		return false
	}
	if !sameReasonID(s.VarianceReasonID, o.VarianceReasonID) {
		return false
	}
	if len(s.Denominations) != len(o.Denominations) ||
		len(s.InterimSettlements) != len(o.InterimSettlements) ||
		len(s.Adjustments) != len(o.Adjustments) {
		return false
	}
	for i, row := range s.Denominations {
		if !row.FaceValue.Equal(o.Denominations[i].FaceValue) || row.Count != o.Denominations[i].Count {
			return false
		}
	}
	for i, e := range s.InterimSettlements {
		other := o.InterimSettlements[i]
		if e.Sequence != other.Sequence || !e.Amount.Equal(other.Amount) || !e.Timestamp.Equal(other.Timestamp) {
			return false
		}
	}
	for i, a := range s.Adjustments {
		if a.ID != o.Adjustments[i].ID {
			return false
		}
	}
	return true
}

func sameReasonID(a, b *ReasonID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Clone returns a deep copy.
func (s *Settlement) Clone() *Settlement {
	if s == nil {
		return nil
	}
	out := *s
	out.Denominations = cloneRows(s.Denominations)
	out.InterimSettlements = make([]InterimEntry, len(s.InterimSettlements))
	for i, e := range s.InterimSettlements {
		e.DenominationSnapshot = cloneRows(e.DenominationSnapshot)
		out.InterimSettlements[i] = e
	}
	out.Adjustments = append([]Adjustment(nil), s.Adjustments...)
	return &out
}

func (s *Settlement) sortRows() {
	sort.SliceStable(s.Denominations, func(i, j int) bool {
		return s.Denominations[i].FaceValue.GreaterThan(s.Denominations[j].FaceValue)
	})
}

func cloneRows(rows []DenominationCount) []DenominationCount {
	if rows == nil {
		return nil
	}
	return append([]DenominationCount(nil), rows...)
}
