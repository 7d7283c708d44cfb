package till_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/till-engine/store/memory"
	"github.com/warp/till-engine/till"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fixture struct {
	store    *memory.Memory
	shifts   *till.ShiftManager
	sessions *till.SessionManager
	engine   *till.SettlementEngine
}

const (
	shortageReason = till.ReasonID("short-count")
	excessReason   = till.ReasonID("over-count")
	retiredReason  = till.ReasonID("retired-shortage")
)

func newFixture(t *testing.T, opts ...till.Option) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	for _, term := range []till.Terminal{
		{ID: "T1", LocationID: "store-1", CompanyID: "acme", TerminalType: "counter", IsActive: true},
		{ID: "T2", LocationID: "store-1", CompanyID: "acme", TerminalType: "counter", IsActive: true},
		{ID: "T-OFF", LocationID: "store-1", CompanyID: "acme", TerminalType: "counter", IsActive: false},
	} {
		require.NoError(t, store.PutTerminal(ctx, term))
	}
	for _, r := range []till.VarianceReason{
		{ID: shortageReason, Name: "Miscount (short)", ReasonType: till.ReasonShortage, IsActive: true},
		{ID: excessReason, Name: "Miscount (over)", ReasonType: till.ReasonExcess, IsActive: true},
		{ID: retiredReason, Name: "Old shortage", ReasonType: till.ReasonShortage, IsActive: false},
	} {
		require.NoError(t, store.PutReason(ctx, r))
	}

	opts = append([]till.Option{till.WithClock(tickingClock())}, opts...)
	validator := till.NewValidator(store)
	return &fixture{
		store:    store,
		shifts:   till.NewShiftManager(store, store, opts...),
		sessions: till.NewSessionManager(store, store, store, validator, opts...),
		engine:   till.NewSettlementEngine(store, store, validator, opts...),
	}
}

// tickingClock advances one second per call so start times are ordered.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func money(s string) decimal.Decimal { return till.MustMoney(s) }

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, money(want).Equal(got), append([]any{"want %s, got %s", want, got.StringFixed(2)}, msgAndArgs...)...)
}

func reasonPtr(id till.ReasonID) *till.ReasonID { return &id }

// openSession starts a shift and a session on the terminal.
func (f *fixture) openSession(t *testing.T, terminal till.TerminalID, operator till.OperatorID, cash string) (*till.Shift, *till.Session) {
	t.Helper()
	ctx := context.Background()
	shift, err := f.shifts.StartShift(ctx, terminal, operator, money(cash))
	require.NoError(t, err)
	session, err := f.sessions.StartSession(ctx, shift.ID, terminal, operator, money(cash))
	require.NoError(t, err)
	return shift, session
}

// settleExactly counts the expected cash in 1.00 units, completes and closes
// the session.
func (f *fixture) settleExactly(t *testing.T, session *till.Session) *till.Session {
	t.Helper()
	ctx := context.Background()
	current, err := f.sessions.GetSession(ctx, session.ID)
	require.NoError(t, err)

	_, err = f.engine.UpdateDenomination(ctx, session.ID, money("1"), int(current.ExpectedCash.IntPart()))
	require.NoError(t, err)
	settlement, err := f.engine.CompleteSettlement(ctx, session.ID, session.OperatorID)
	require.NoError(t, err)
	closed, err := f.sessions.CloseSession(ctx, session.ID, settlement)
	require.NoError(t, err)
	return closed
}

func requireReason(t *testing.T, err error, want till.Reason) {
	t.Helper()
	require.Error(t, err)
	got, ok := till.ReasonOf(err)
	require.True(t, ok, "expected a PreconditionError, got %T: %v", err, err)
	assert.Equal(t, want, got)
}
