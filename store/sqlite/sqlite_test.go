package sqlite_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/till-engine/store/sqlite"
	"github.com/warp/till-engine/till"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.PutTerminal(ctx, till.Terminal{ID: "T1", LocationID: "loc", CompanyID: "co", TerminalType: "counter", IsActive: true}))
	require.NoError(t, store.PutReason(ctx, till.VarianceReason{ID: "short", Name: "Short", ReasonType: till.ReasonShortage, IsActive: true}))
	require.NoError(t, store.PutReason(ctx, till.VarianceReason{ID: "over", Name: "Over", ReasonType: till.ReasonExcess, IsActive: true}))
	require.NoError(t, store.PutReason(ctx, till.VarianceReason{ID: "gone", Name: "Gone", ReasonType: till.ReasonShortage, IsActive: false}))
	return store
}

var t0 = time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)

func m(s string) decimal.Decimal { return till.MustMoney(s) }

func activeShift(id till.ShiftID) till.Shift {
	return till.Shift{
		ID: id, TerminalID: "T1", OperatorID: "alice", StartTime: t0,
		Status: till.ShiftActive, OpeningCash: m("100"), ExpectedCash: m("100"),
	}
}

func activeSession(id till.SessionID, shiftID till.ShiftID, start time.Time) till.Session {
	return till.Session{
		ID: id, ShiftID: shiftID, TerminalID: "T1", OperatorID: "alice", StartTime: start,
		Status: till.SessionActive, OpeningCash: m("100"), ExpectedCash: m("100"),
		SettlementStatus: till.SettlementPending,
	}
}

// =============================================================================
// EXCLUSIVITY
// =============================================================================

func TestStore_UniqueActiveShiftPerTerminal(t *testing.T) {
	// GIVEN: T1 has an active shift
	// WHEN: Inserting another active shift for T1 directly
	// THEN: The partial unique index rejects it as a ConflictError

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertShift(ctx, activeShift("sh-1")))

	err := store.InsertShift(ctx, activeShift("sh-2"))

	var conflict *till.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "sh-1", conflict.BlockingID)
}

func TestStore_ClosedShiftLeavesActiveIndex(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	sh := activeShift("sh-1")
	require.NoError(t, store.InsertShift(ctx, sh))

	end := t0.Add(8 * time.Hour)
	closing := m("120")
	diff := m("20")
	sh.Status, sh.EndTime, sh.ClosingCash, sh.ActualCash, sh.CashDifference = till.ShiftClosed, &end, &closing, &closing, &diff
	require.NoError(t, store.ArchiveShift(ctx, sh))

	active, err := store.GetActiveShift(ctx, "T1")
	require.NoError(t, err)
	assert.Nil(t, active)

	require.NoError(t, store.InsertShift(ctx, activeShift("sh-2")))

	history, err := store.ShiftHistory(ctx, "T1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].CashDifference.Equal(m("20")))
	assert.Equal(t, end, *history[0].EndTime)

	// Closed rows are never written again.
	assert.ErrorIs(t, store.UpdateShift(ctx, sh), till.ErrNotFound)
}

// =============================================================================
// SESSIONS AND SETTLEMENTS
// =============================================================================

func TestStore_SettlementSurvivesRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertShift(ctx, activeShift("sh-1")))
	sess := activeSession("s-1", "sh-1", t0)
	require.NoError(t, store.InsertSession(ctx, sess))

	reason := till.ReasonID("short")
	started := t0.Add(time.Hour)
	sess.Settlement = &till.Settlement{
		SessionID: "s-1",
		State:     till.SettlementInProgress,
		Denominations: []till.DenominationCount{
			{FaceValue: m("50"), Count: 1, Amount: m("50")},
			{FaceValue: m("0.25"), Count: 3, Amount: m("0.75")},
		},
		CurrentActualCash: m("50.75"),
		Variance:          m("-49.25"),
		VarianceReasonID:  &reason,
		InterimSettlements: []till.InterimEntry{
			{Sequence: 1, Amount: m("20"), Variance: m("-80"), ReasonID: &reason, Timestamp: started},
		},
		Adjustments: []till.Adjustment{{ID: "a1", Type: till.AdjustmentAdd, Amount: m("2"), Reason: "tip", Timestamp: started}},
		StartedAt:   &started,
	}
	require.NoError(t, store.UpdateSession(ctx, sess))

	got, err := store.GetSession(ctx, "s-1")
	require.NoError(t, err)
	require.NotNil(t, got.Settlement)
	assert.Equal(t, till.SettlementInProgress, got.Settlement.State)
	require.Len(t, got.Settlement.Denominations, 2)
	assert.True(t, got.Settlement.Denominations[1].FaceValue.Equal(m("0.25")))
	assert.True(t, got.Settlement.Variance.Equal(m("-49.25")))
	assert.Equal(t, reason, *got.Settlement.VarianceReasonID)
	require.Len(t, got.Settlement.InterimSettlements, 1)
	assert.Equal(t, 1, got.Settlement.InterimSettlements[0].Sequence)
	assert.Equal(t, "tip", got.Settlement.Adjustments[0].Reason)
}

func TestStore_SaleCashSurvivesRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertShift(ctx, activeShift("sh-1")))
	sess := activeSession("s-1", "sh-1", t0)
	require.NoError(t, store.InsertSession(ctx, sess))

	sess.SaleCash = map[string]decimal.Decimal{"x1": m("10"), "x2": decimal.Zero}
	sess.ExpectedCash = m("110")
	require.NoError(t, store.UpdateSession(ctx, sess))

	got, err := store.GetSession(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, got.SaleCash, 2)
	assert.True(t, got.SaleCash["x1"].Equal(m("10")))
	assert.True(t, got.SaleCash["x2"].IsZero())
}

func TestStore_ShiftHistory_OrdersSubSecondEndTimes(t *testing.T) {
	// GIVEN: Two shifts closed 100ms apart, the first on a whole second
	// WHEN: Reading history
	// THEN: The later close comes first

	store := newTestStore(t)
	ctx := context.Background()

	ends := []time.Time{t0.Add(time.Hour), t0.Add(time.Hour + 100*time.Millisecond)}
	for i, end := range ends {
		sh := activeShift(till.ShiftID([]string{"sh-1", "sh-2"}[i]))
		require.NoError(t, store.InsertShift(ctx, sh))
		end := end
		sh.Status, sh.EndTime = till.ShiftClosed, &end
		require.NoError(t, store.ArchiveShift(ctx, sh))
	}

	history, err := store.ShiftHistory(ctx, "T1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, till.ShiftID("sh-2"), history[0].ID)
	assert.Equal(t, till.ShiftID("sh-1"), history[1].ID)
}

func TestStore_LatestSessionPrefersActive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertShift(ctx, activeShift("sh-1")))

	first := activeSession("s-1", "sh-1", t0)
	require.NoError(t, store.InsertSession(ctx, first))
	end := t0.Add(time.Hour)
	first.Status, first.EndTime, first.SettlementStatus = till.SessionClosed, &end, till.SettlementCompleted
	require.NoError(t, store.ArchiveSession(ctx, first))

	latest, err := store.GetLatestSession(ctx, "T1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, till.SessionID("s-1"), latest.ID)
	assert.True(t, latest.IsSettled())

	require.NoError(t, store.InsertSession(ctx, activeSession("s-2", "sh-1", end.Add(time.Minute))))
	latest, err = store.GetLatestSession(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, till.SessionID("s-2"), latest.ID)

	byShift, err := store.ListSessionsByShift(ctx, "sh-1")
	require.NoError(t, err)
	require.Len(t, byShift, 2)
	assert.Equal(t, till.SessionID("s-1"), byShift[0].ID)

	history, err := store.SessionHistory(ctx, "T1", 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestStore_WithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A transaction that inserts a shift and then fails
	// WHEN: WithTx returns
	// THEN: The shift is not stored

	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(tx till.Store) error {
		require.NoError(t, tx.InsertShift(ctx, activeShift("sh-1")))
		active, err := tx.GetActiveShift(ctx, "T1")
		require.NoError(t, err)
		require.NotNil(t, active, "visible inside the transaction")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.GetShift(ctx, "sh-1")
	assert.ErrorIs(t, err, till.ErrNotFound)
}

// =============================================================================
// MASTER DATA AND SALES
// =============================================================================

func TestStore_Terminals(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	term, err := store.GetTerminal(ctx, "T1")
	require.NoError(t, err)
	assert.True(t, term.IsActive)
	assert.Equal(t, "loc", term.LocationID)

	_, err = store.GetTerminal(ctx, "nope")
	assert.ErrorIs(t, err, till.ErrNotFound)
}

func TestStore_ListReasons_Filters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	all, err := store.ListReasons(ctx, nil, false)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	shortage := till.ReasonShortage
	active, err := store.ListReasons(ctx, &shortage, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, till.ReasonID("short"), active[0].ID)
}

func TestStore_Sales(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveTransaction(ctx, till.Transaction{ID: "x1", SessionID: "s-1", Total: m("10"), PaymentMethod: till.PaymentCash, Status: till.TxSuspended, ItemCount: 1, CreatedAt: t0}))
	require.NoError(t, store.SaveTransaction(ctx, till.Transaction{ID: "x2", SessionID: "s-1", Total: m("4.5"), PaymentMethod: till.PaymentCard, Status: till.TxCompleted, ItemCount: 2, CreatedAt: t0.Add(time.Minute)}))

	suspended, err := store.ListSuspended(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, suspended, 1)
	assert.Equal(t, "x1", suspended[0].ID)

	// Resuming the bill replaces the row.
	require.NoError(t, store.SaveTransaction(ctx, till.Transaction{ID: "x1", SessionID: "s-1", Total: m("10"), PaymentMethod: till.PaymentCash, Status: till.TxCompleted, ItemCount: 1, CreatedAt: t0}))
	suspended, err = store.ListSuspended(ctx, "s-1")
	require.NoError(t, err)
	assert.Empty(t, suspended)

	all, err := store.ListTransactions(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[1].Total.Equal(m("4.5")))
}

// =============================================================================
// END TO END
// =============================================================================

func TestStore_FullLifecycle(t *testing.T) {
	// GIVEN: The managers running on SQLite
	// WHEN: A shift and session are opened, a sale posts, cash is counted,
	//       the settlement completes and everything closes
	// THEN: History holds the closed records with their settlement

	store := newTestStore(t)
	ctx := context.Background()
	validator := till.NewValidator(store)
	shifts := till.NewShiftManager(store, store)
	sessions := till.NewSessionManager(store, store, store, validator)
	engine := till.NewSettlementEngine(store, store, validator)

	shift, err := shifts.StartShift(ctx, "T1", "alice", m("100"))
	require.NoError(t, err)
	session, err := sessions.StartSession(ctx, shift.ID, "T1", "alice", m("100"))
	require.NoError(t, err)

	sale := till.Transaction{ID: "sale-1", SessionID: session.ID, Total: m("25"), PaymentMethod: till.PaymentCash, Status: till.TxCompleted, ItemCount: 1, CreatedAt: t0}
	require.NoError(t, store.SaveTransaction(ctx, sale))
	_, err = sessions.RecordSale(ctx, session.ID, sale)
	require.NoError(t, err)
	// A retried post of the same sale is applied once.
	retried, err := sessions.RecordSale(ctx, session.ID, sale)
	require.NoError(t, err)
	assert.True(t, retried.ExpectedCash.Equal(m("125")), "expected %s", retried.ExpectedCash)

	_, err = engine.UpdateDenomination(ctx, session.ID, m("100"), 1)
	require.NoError(t, err)
	_, err = engine.UpdateDenomination(ctx, session.ID, m("20"), 1)
	require.NoError(t, err)
	s, err := engine.UpdateDenomination(ctx, session.ID, m("5"), 1)
	require.NoError(t, err)
	assert.True(t, s.Variance.IsZero(), "variance %s", s.Variance)

	settlement, err := engine.CompleteSettlement(ctx, session.ID, "alice")
	require.NoError(t, err)
	closed, err := sessions.CloseSession(ctx, session.ID, settlement)
	require.NoError(t, err)
	assert.True(t, closed.IsSettled())

	closedShift, err := shifts.CloseShift(ctx, shift.ID, m("125"))
	require.NoError(t, err)
	assert.True(t, closedShift.CashDifference.IsZero())

	history, err := sessions.GetSessionHistory(ctx, "T1", 5)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.NotNil(t, history[0].Settlement)
	assert.Equal(t, till.SettlementDone, history[0].Settlement.State)
	assert.True(t, history[0].Settlement.TotalCountedCash.Equal(m("125")))
}

func TestStore_ConcurrentSessionStarts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	validator := till.NewValidator(store)
	shifts := till.NewShiftManager(store, store)
	sessions := till.NewSessionManager(store, store, store, validator)

	shift, err := shifts.StartShift(ctx, "T1", "alice", m("0"))
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := sessions.StartSession(ctx, shift.ID, "T1", "alice", m("0")); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, till.ErrConflict)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
