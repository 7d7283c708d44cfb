package till

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return MustMoney(s) }

func TestRecompute_FromRows(t *testing.T) {
	s := newSettlement("S1", nil)
	s.setCount(d("100"), 5, at)
	s.setCount(d("50"), 10, at)
	s.recompute(d("1000"))

	assert.True(t, s.CurrentActualCash.Equal(d("1000")))
	assert.True(t, s.Variance.IsZero())
	assert.Equal(t, SettlementInProgress, s.State)
	require.NotNil(t, s.StartedAt)

	s.setCount(d("100"), 0, at)
	s.setCount(d("50"), 9, at)
	s.recompute(d("1000"))
	assert.True(t, s.CurrentActualCash.Equal(d("450")))
	assert.True(t, s.Variance.Equal(d("-550")))
}

func TestRecompute_RepeatedCallsDoNotDrift(t *testing.T) {
	s := newSettlement("S1", nil)
	s.setCount(d("0.10"), 3, at)
	s.setCount(d("0.05"), 7, at)
	for i := 0; i < 100; i++ {
		s.recompute(d("0.65"))
	}
	assert.True(t, s.CurrentActualCash.Equal(d("0.65")), "got %s", s.CurrentActualCash)
	assert.True(t, s.Variance.IsZero())
}

func TestRecordInterim_SnapshotIsIndependent(t *testing.T) {
	s := newSettlement("S1", nil)
	s.setCount(d("20"), 4, at)
	entry := s.recordInterim(d("200"), nil, "", at)

	s.setCount(d("20"), 9, at)
	assert.Equal(t, 4, entry.DenominationSnapshot[0].Count)
	assert.Equal(t, 4, s.InterimSettlements[0].DenominationSnapshot[0].Count)
	assert.Len(t, s.InterimSettlements, 1)
}

func TestFrozen_LeavesWorkingCopyUntouched(t *testing.T) {
	s := newSettlement("S1", nil)
	s.setCount(d("10"), 2, at)
	s.Adjustments = append(s.Adjustments, Adjustment{ID: "a1", Type: AdjustmentAdd, Amount: d("3"), Reason: "x"})
	s.recompute(d("25"))

	final := s.frozen(d("25"), "alice", at)

	assert.Equal(t, SettlementDone, final.State)
	assert.True(t, final.Variance.Equal(d("-5")))
	assert.True(t, final.AdjustmentNet.Equal(d("3")))
	assert.Equal(t, SettlementInProgress, s.State)
	assert.Nil(t, s.SettledAt)

	final.Denominations[0].Count = 99
	assert.Equal(t, 2, s.Denominations[0].Count)
}

func TestRemoveAdjustment_KeepsOrder(t *testing.T) {
	s := newSettlement("S1", nil)
	for _, id := range []string{"a", "b", "c"} {
		s.Adjustments = append(s.Adjustments, Adjustment{ID: id, Type: AdjustmentAdd, Amount: d("1"), Reason: "r"})
	}
	snapshot := s.Clone()

	assert.True(t, s.removeAdjustment("b"))
	assert.False(t, s.removeAdjustment("b"))
	require.Len(t, s.Adjustments, 2)
	assert.Equal(t, "a", s.Adjustments[0].ID)
	assert.Equal(t, "c", s.Adjustments[1].ID)
	assert.Len(t, snapshot.Adjustments, 3)
}

func TestReasonTypeFor(t *testing.T) {
	rt, ok := ReasonTypeFor(d("-0.01"))
	assert.True(t, ok)
	assert.Equal(t, ReasonShortage, rt)

	rt, ok = ReasonTypeFor(d("2"))
	assert.True(t, ok)
	assert.Equal(t, ReasonExcess, rt)

	_, ok = ReasonTypeFor(decimal.Zero)
	assert.False(t, ok)
}

func TestDecideStartSession(t *testing.T) {
	shift := &Shift{ID: "sh", Status: ShiftActive}

	assert.Equal(t, ReasonNoActiveShift, decideStartSession(nil, nil).Reason)
	assert.True(t, decideStartSession(shift, nil).Allowed)
	assert.Equal(t, ReasonActiveSessionExists,
		decideStartSession(shift, &Session{ID: "s", Status: SessionActive}).Reason)
	assert.Equal(t, ReasonPendingSettlement,
		decideStartSession(shift, &Session{ID: "s", Status: SessionClosed, SettlementStatus: SettlementPending}).Reason)
	assert.True(t,
		decideStartSession(shift, &Session{ID: "s", Status: SessionClosed, SettlementStatus: SettlementCompleted}).Allowed)
}

func TestPreconditionError_Message(t *testing.T) {
	err := deny(ReasonSuspendedBillsPending, Details{SuspendedBills: []string{"bill-7"}}).Err()
	assert.Contains(t, err.Error(), "bill-7")
	assert.Contains(t, err.Error(), "suspended bills")
	assert.ErrorIs(t, err, ErrPrecondition)
	assert.Nil(t, allow().Err())
}
