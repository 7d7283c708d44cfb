package till_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/warp/till-engine/till"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) ListTransactions(ctx context.Context, sessionID till.SessionID) ([]till.Transaction, error) {
	args := m.Called(ctx, sessionID)
	txs, _ := args.Get(0).([]till.Transaction)
	return txs, args.Error(1)
}

func (m *mockSource) ListSuspended(ctx context.Context, sessionID till.SessionID) ([]till.Transaction, error) {
	args := m.Called(ctx, sessionID)
	txs, _ := args.Get(0).([]till.Transaction)
	return txs, args.Error(1)
}

func sale(id string, status till.TransactionStatus, total string, items int) till.Transaction {
	return till.Transaction{ID: id, SessionID: "S1", Total: money(total), Status: status, ItemCount: items, PaymentMethod: till.PaymentCash}
}

func TestValidateSettlementPreconditions(t *testing.T) {
	tests := []struct {
		name      string
		suspended []till.Transaction
		all       []till.Transaction
		allowed   bool
		reason    till.Reason
		bills     []string
		partial   []string
	}{
		{
			name:    "clean session",
			all:     []till.Transaction{sale("a", till.TxCompleted, "10", 1)},
			allowed: true,
		},
		{
			name:    "no transactions",
			allowed: true,
		},
		{
			name:      "suspended bill blocks before partial ones",
			suspended: []till.Transaction{sale("held", till.TxSuspended, "10", 1)},
			all:       []till.Transaction{sale("held", till.TxSuspended, "10", 1), sale("p", till.TxPartial, "5", 1)},
			reason:    till.ReasonSuspendedBillsPending,
			bills:     []string{"held"},
			partial:   []string{"p"},
		},
		{
			name: "partial, pending, empty and zero-total transactions",
			all: []till.Transaction{
				sale("ok", till.TxCompleted, "10", 1),
				sale("p", till.TxPartial, "5", 1),
				sale("q", till.TxPending, "5", 1),
				sale("empty", till.TxCompleted, "5", 0),
				sale("zero", till.TxCompleted, "0", 2),
			},
			reason:  till.ReasonPartialTransactionsPending,
			partial: []string{"p", "q", "empty", "zero"},
		},
		{
			name:    "voided transactions are ignored",
			all:     []till.Transaction{sale("v", till.TxVoided, "0", 0)},
			allowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := new(mockSource)
			src.On("ListSuspended", mock.Anything, till.SessionID("S1")).Return(tt.suspended, nil)
			src.On("ListTransactions", mock.Anything, till.SessionID("S1")).Return(tt.all, nil)

			d, err := till.NewValidator(src).ValidateSettlementPreconditions(context.Background(), "S1")
			require.NoError(t, err)

			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, tt.bills, d.Details.SuspendedBills)
			assert.Equal(t, tt.partial, d.Details.PartialTransactions)
			src.AssertExpectations(t)
		})
	}
}

func TestValidateSettlementPreconditions_SourceFailure(t *testing.T) {
	// GIVEN: The sale system is unreachable
	// WHEN: Validating
	// THEN: An InfrastructureError wrapping the cause, never a decision

	boom := errors.New("connection refused")
	src := new(mockSource)
	src.On("ListSuspended", mock.Anything, mock.Anything).Return(nil, boom)
	src.On("ListTransactions", mock.Anything, mock.Anything).Return([]till.Transaction{}, nil).Maybe()

	_, err := till.NewValidator(src).ValidateSettlementPreconditions(context.Background(), "S1")

	var ie *till.InfrastructureError
	require.ErrorAs(t, err, &ie)
	assert.ErrorIs(t, err, boom)
	assert.False(t, till.IsClientError(err))
}
