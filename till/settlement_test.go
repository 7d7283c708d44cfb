package till_test

import (
	"context"
	"strconv"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/till-engine/till"
)

// =============================================================================
// DENOMINATION COUNTING
// =============================================================================

func TestSettlement_ExactCount_CompletesWithoutReason(t *testing.T) {
	// GIVEN: Expected cash 1000.00
	// WHEN: Counting 5×100 + 10×50
	// THEN: Variance 0 and completion succeeds with no reason selected

	f := newFixture(t)
	ctx := context.Background()
	_, session := f.openSession(t, "T1", "alice", "1000")

	_, err := f.engine.UpdateDenomination(ctx, session.ID, money("100"), 5)
	require.NoError(t, err)
	s, err := f.engine.UpdateDenomination(ctx, session.ID, money("50"), 10)
	require.NoError(t, err)

	assert.Equal(t, till.SettlementInProgress, s.State)
	assertMoney(t, "1000", s.CurrentActualCash)
	assertMoney(t, "0", s.Variance)

	final, err := f.engine.CompleteSettlement(ctx, session.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, till.SettlementDone, final.State)
	assertMoney(t, "1000", final.TotalExpectedCash)
	assertMoney(t, "1000", final.TotalCountedCash)
	assertMoney(t, "0", final.Variance)
	assert.Nil(t, final.VarianceReasonID)
	require.NotNil(t, final.SettledAt)
}

func TestSettlement_Shortage_RequiresShortageReason(t *testing.T) {
	// GIVEN: Expected cash 1000.00, the drawer holds only 9×50
	// WHEN: Completing the settlement
	// THEN: Blocked until a shortage reason is selected; an excess reason is rejected

	f := newFixture(t)
	ctx := context.Background()
	_, session := f.openSession(t, "T1", "alice", "1000")

	_, err := f.engine.UpdateDenomination(ctx, session.ID, money("100"), 5)
	require.NoError(t, err)
	_, err = f.engine.UpdateDenomination(ctx, session.ID, money("50"), 10)
	require.NoError(t, err)
	_, err = f.engine.UpdateDenomination(ctx, session.ID, money("100"), 0)
	require.NoError(t, err)
	s, err := f.engine.UpdateDenomination(ctx, session.ID, money("50"), 9)
	require.NoError(t, err)

	assertMoney(t, "450", s.CurrentActualCash)
	assertMoney(t, "-550", s.Variance)

	_, err = f.engine.CompleteSettlement(ctx, session.ID, "alice")
	requireReason(t, err, till.ReasonVarianceReasonRequired)

	_, err = f.engine.SelectVarianceReason(ctx, session.ID, reasonPtr(excessReason))
	require.NoError(t, err)
	_, err = f.engine.CompleteSettlement(ctx, session.ID, "alice")
	requireReason(t, err, till.ReasonVarianceReasonMismatch)

	_, err = f.engine.SelectVarianceReason(ctx, session.ID, reasonPtr(shortageReason))
	require.NoError(t, err)
	final, err := f.engine.CompleteSettlement(ctx, session.ID, "alice")
	require.NoError(t, err)
	assertMoney(t, "-550", final.Variance)
	assert.Equal(t, shortageReason, *final.VarianceReasonID)
}

func TestSettlement_ZeroVariance_SucceedsRegardlessOfReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, session := f.openSession(t, "T1", "alice", "20")

	_, err := f.engine.SelectVarianceReason(ctx, session.ID, reasonPtr(excessReason))
	require.NoError(t, err)
	_, err = f.engine.UpdateDenomination(ctx, session.ID, money("10"), 2)
	require.NoError(t, err)

	_, err = f.engine.CompleteSettlement(ctx, session.ID, "alice")
	assert.NoError(t, err)
}

func TestSettlement_InactiveReason_Rejected(t *testing.T) {
	f := newFixture(t)
	_, session := f.openSession(t, "T1", "alice", "20")

	_, err := f.engine.SelectVarianceReason(context.Background(), session.ID, reasonPtr(retiredReason))
	assert.ErrorIs(t, err, till.ErrValidation)
}

func TestUpdateDenomination_RecomputationIsOrderIndependent(t *testing.T) {
	// GIVEN: Two sessions with the same expected cash
	// WHEN: Reaching the same final counts through different edit sequences
	// THEN: currentActualCash and variance are identical

	f := newFixture(t)
	ctx := context.Background()
	_, a := f.openSession(t, "T1", "alice", "300")
	_, b := f.openSession(t, "T2", "bob", "300")

	for _, step := range []struct {
		face  string
		count int
	}{{"100", 7}, {"20", 3}, {"100", 2}, {"0.50", 9}, {"20", 5}} {
		_, err := f.engine.UpdateDenomination(ctx, a.ID, money(step.face), step.count)
		require.NoError(t, err)
	}
	for _, step := range []struct {
		face  string
		count int
	}{{"0.50", 1}, {"20", 5}, {"0.50", 9}, {"100", 2}} {
		_, err := f.engine.UpdateDenomination(ctx, b.ID, money(step.face), step.count)
		require.NoError(t, err)
	}

	sa, err := f.engine.GetSettlement(ctx, a.ID)
	require.NoError(t, err)
	sb, err := f.engine.GetSettlement(ctx, b.ID)
	require.NoError(t, err)

	assertMoney(t, "304.50", sa.CurrentActualCash)
	assert.True(t, sa.CurrentActualCash.Equal(sb.CurrentActualCash))
	assert.True(t, sa.Variance.Equal(sb.Variance))
	assertMoney(t, "4.50", sa.Variance)
}

func TestUpdateDenomination_InvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, session := f.openSession(t, "T1", "alice", "100")

	_, err := f.engine.UpdateDenomination(ctx, session.ID, money("0"), 1)
	assert.ErrorIs(t, err, till.ErrValidation)

	s, err := f.engine.UpdateDenomination(ctx, session.ID, money("10"), -4)
	require.NoError(t, err, "negative counts are clamped")
	assert.Equal(t, 0, s.Denominations[0].Count)

	_, err = f.engine.UpdateDenomination(ctx, "missing", money("10"), 1)
	assert.ErrorIs(t, err, till.ErrNotFound)
}

func TestUpdateDenomination_ConfiguredSet(t *testing.T) {
	// GIVEN: An engine configured with 50, 20 and 10 notes
	// WHEN: Opening a settlement and counting an unknown 25 note
	// THEN: Rows start at zero for every note and 25 is rejected

	f := newFixture(t, till.WithDenominations(money("10"), money("50"), money("20")))
	ctx := context.Background()
	_, session := f.openSession(t, "T1", "alice", "100")

	s, err := f.engine.GetSettlement(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, s.Denominations, 3)
	assertMoney(t, "50", s.Denominations[0].FaceValue, "rows sorted by face value, largest first")
	assert.Equal(t, till.SettlementNotStarted, s.State)

	_, err = f.engine.UpdateDenomination(ctx, session.ID, money("25"), 1)
	assert.ErrorIs(t, err, till.ErrValidation)
}

// =============================================================================
// INTERIM SETTLEMENTS
// =============================================================================

func TestInterimSettlement_ConservesCountedCash(t *testing.T) {
	// GIVEN: Expected cash 1000.00
	// WHEN: Dropping 300 and 200 mid-session, then counting 500 at the end
	// THEN: totalCounted = 300 + 200 + 500, remaining expected = 1000 − 500,
	//       and the final variance is zero

	f := newFixture(t)
	ctx := context.Background()
	_, session := f.openSession(t, "T1", "alice", "1000")

	_, err := f.engine.UpdateDenomination(ctx, session.ID, money("100"), 3)
	require.NoError(t, err)

	_, err = f.engine.RecordInterimSettlement(ctx, session.ID, nil, "")
	requireReason(t, err, till.ReasonVarianceReasonRequired)

	first, err := f.engine.RecordInterimSettlement(ctx, session.ID, reasonPtr(shortageReason), "safe drop")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Sequence)
	assertMoney(t, "300", first.Amount)
	assertMoney(t, "-700", first.Variance)
	assert.Equal(t, "safe drop", first.Notes)
	require.Len(t, first.DenominationSnapshot, 1)
	assert.Equal(t, 3, first.DenominationSnapshot[0].Count)

	s, err := f.engine.GetSettlement(ctx, session.ID)
	require.NoError(t, err)
	assertMoney(t, "0", s.CurrentActualCash, "counts reset after a drop")
	assertMoney(t, "700", s.RemainingExpectedCash)

	_, err = f.engine.UpdateDenomination(ctx, session.ID, money("100"), 2)
	require.NoError(t, err)
	second, err := f.engine.RecordInterimSettlement(ctx, session.ID, reasonPtr(shortageReason), "")
	require.NoError(t, err)
	assert.Equal(t, 2, second.Sequence)

	s, err = f.engine.UpdateDenomination(ctx, session.ID, money("100"), 5)
	require.NoError(t, err)
	assertMoney(t, "500", s.RemainingExpectedCash)
	assertMoney(t, "1000", s.TotalCountedCash)
	assertMoney(t, "0", s.Variance)
	assert.Len(t, s.InterimSettlements, 2)

	final, err := f.engine.CompleteSettlement(ctx, session.ID, "alice")
	require.NoError(t, err)
	assertMoney(t, "1000", final.TotalExpectedCash)
	assertMoney(t, "1000", final.TotalCountedCash)
	assertMoney(t, "0", final.Variance)
}

func TestInterimSettlement_RemainingExpectedFloorsAtZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, session := f.openSession(t, "T1", "alice", "100")

	_, err := f.engine.UpdateDenomination(ctx, session.ID, money("50"), 3)
	require.NoError(t, err)
	_, err = f.engine.RecordInterimSettlement(ctx, session.ID, reasonPtr(excessReason), "")
	require.NoError(t, err)

	s, err := f.engine.GetSettlement(ctx, session.ID)
	require.NoError(t, err)
	assertMoney(t, "0", s.RemainingExpectedCash)
	assertMoney(t, "150", s.TotalCountedCash)
}

func TestInterimSettlement_NothingCounted_Rejected(t *testing.T) {
	f := newFixture(t)
	_, session := f.openSession(t, "T1", "alice", "100")

	_, err := f.engine.RecordInterimSettlement(context.Background(), session.ID, reasonPtr(shortageReason), "")
	requireReason(t, err, till.ReasonNoCashCounted)
}

func TestInterimSettlement_WrongReasonType_Rejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, session := f.openSession(t, "T1", "alice", "100")
	_, err := f.engine.UpdateDenomination(ctx, session.ID, money("20"), 1)
	require.NoError(t, err)

	_, err = f.engine.RecordInterimSettlement(ctx, session.ID, reasonPtr(excessReason), "")
	requireReason(t, err, till.ReasonVarianceReasonMismatch)

	s, err := f.engine.GetSettlement(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, s.InterimSettlements, "rejected drop leaves no entry")
	assertMoney(t, "20", s.CurrentActualCash)
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

func TestAdjustments_NetImpactWithoutChangingExpected(t *testing.T) {
	// GIVEN: A session expecting 100.00
	// WHEN: Adding +20 and −5 adjustments, then removing the +20
	// THEN: Net impact follows the list; expected cash never changes

	f := newFixture(t, till.WithIDGenerator(sequentialIDs()))
	ctx := context.Background()
	_, session := f.openSession(t, "T1", "alice", "100")

	add, err := f.engine.AddAdjustment(ctx, session.ID, till.AdjustmentAdd, money("20"), "float top-up")
	require.NoError(t, err)
	_, err = f.engine.AddAdjustment(ctx, session.ID, till.AdjustmentSubtract, money("5"), "petty cash")
	require.NoError(t, err)

	s, err := f.engine.GetSettlement(ctx, session.ID)
	require.NoError(t, err)
	assertMoney(t, "15", s.AdjustmentNet)
	assertMoney(t, "100", s.TotalExpectedCash)
	require.Len(t, s.Adjustments, 2)

	s, err = f.engine.RemoveAdjustment(ctx, session.ID, add.ID)
	require.NoError(t, err)
	assertMoney(t, "-5", s.AdjustmentNet)

	_, err = f.engine.RemoveAdjustment(ctx, session.ID, add.ID)
	assert.ErrorIs(t, err, till.ErrNotFound)
}

func TestAddAdjustment_InvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, session := f.openSession(t, "T1", "alice", "100")

	tests := []struct {
		name   string
		typ    till.AdjustmentType
		amount decimal.Decimal
		reason string
	}{
		{"zero amount", till.AdjustmentAdd, money("0"), "x"},
		{"negative amount", till.AdjustmentAdd, money("-3"), "x"},
		{"empty reason", till.AdjustmentSubtract, money("3"), "  "},
		{"unknown type", till.AdjustmentType("multiply"), money("3"), "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.AddAdjustment(ctx, session.ID, tt.typ, tt.amount, tt.reason)
			var ve *till.ValidationError
			assert.ErrorAs(t, err, &ve)
		})
	}
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return "id-" + strconv.Itoa(n)
	}
}
