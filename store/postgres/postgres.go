// Package postgres adapts the sale system's Postgres database to
// till.TransactionSource.
//
// The sale system predates the till engine and spells statuses and payment
// methods in several ways ("paid", "COMPLETED", "on_hold", "split", ...).
// Every row is normalized here so the core only ever sees the canonical
// till.Transaction values.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/warp/till-engine/till"
)

// Source reads sales of a session straight from the sale database. Nothing
// is cached.
type Source struct {
	Pool *pgxpool.Pool
}

// New creates and verifies a pgx pool connection.
func New(ctx context.Context, dsn string) (*Source, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: database ping failed: %v", till.ErrUnavailable, err)
	}

	return &Source{Pool: pool}, nil
}

func (s *Source) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// Health checks the database connectivity.
func (s *Source) Health(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

const salesQuery = `
	SELECT id::text, session_id::text, COALESCE(total, 0)::text, COALESCE(cash_tendered, 0)::text,
	       COALESCE(payment_method, ''), COALESCE(status, ''),
	       (SELECT COUNT(*) FROM sale_items i WHERE i.sale_id = s.id AND i.deleted_at IS NULL),
	       created_at
	FROM sales s
	WHERE s.session_id = $1 AND s.deleted_at IS NULL
	ORDER BY s.created_at ASC, s.id ASC
`

func (s *Source) ListTransactions(ctx context.Context, sessionID till.SessionID) ([]till.Transaction, error) {
	rows, err := s.Pool.Query(ctx, salesQuery, string(sessionID))
	if err != nil {
		return nil, classify(err)
	}

	txs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (till.Transaction, error) {
		var r rawSale
		if err := row.Scan(&r.ID, &r.SessionID, &r.Total, &r.CashTendered, &r.PaymentMethod, &r.Status, &r.ItemCount, &r.CreatedAt); err != nil {
			return till.Transaction{}, err
		}
		return r.canonical(), nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return txs, nil
}

// ListSuspended filters after normalization, since the sale system has more
// than one spelling for a held bill.
func (s *Source) ListSuspended(ctx context.Context, sessionID till.SessionID) ([]till.Transaction, error) {
	all, err := s.ListTransactions(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var out []till.Transaction
	for _, tx := range all {
		if tx.Status == till.TxSuspended {
			out = append(out, tx)
		}
	}
	return out, nil
}

func classify(err error) error {
	if pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: sale database: %v", till.ErrUnavailable, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("sale database %s: %w", pgErr.Code, err)
	}
	return fmt.Errorf("sale database: %w", err)
}

// =============================================================================
// NORMALIZATION
// =============================================================================

type rawSale struct {
	ID            string
	SessionID     string
	Total         string
	CashTendered  string
	PaymentMethod string
	Status        string
	ItemCount     int64
	CreatedAt     time.Time
}

func (r rawSale) canonical() till.Transaction {
	return till.Transaction{
		ID:            r.ID,
		SessionID:     till.SessionID(r.SessionID),
		Total:         parseAmount(r.Total),
		CashTendered:  parseAmount(r.CashTendered),
		PaymentMethod: NormalizePaymentMethod(r.PaymentMethod),
		Status:        NormalizeStatus(r.Status),
		ItemCount:     int(r.ItemCount),
		CreatedAt:     r.CreatedAt.UTC(),
	}
}

func parseAmount(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return till.Money(d)
}

var statusAliases = map[string]till.TransactionStatus{
	"completed":      till.TxCompleted,
	"complete":       till.TxCompleted,
	"paid":           till.TxCompleted,
	"done":           till.TxCompleted,
	"suspended":      till.TxSuspended,
	"hold":           till.TxSuspended,
	"on_hold":        till.TxSuspended,
	"held":           till.TxSuspended,
	"parked":         till.TxSuspended,
	"partial":        till.TxPartial,
	"partially_paid": till.TxPartial,
	"pending":        till.TxPending,
	"open":           till.TxPending,
	"draft":          till.TxPending,
	"voided":         till.TxVoided,
	"void":           till.TxVoided,
	"cancelled":      till.TxVoided,
	"canceled":       till.TxVoided,
}

// NormalizeStatus maps a sale system status to the canonical one. Unknown
// spellings are treated as pending so they block settlement until resolved.
func NormalizeStatus(raw string) till.TransactionStatus {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_")
	key = strings.ReplaceAll(key, " ", "_")
	if st, ok := statusAliases[key]; ok {
		return st
	}
	return till.TxPending
}

// NormalizePaymentMethod maps a sale system payment method to the canonical
// one.
func NormalizePaymentMethod(raw string) till.PaymentMethod {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "cash", "tunai":
		return till.PaymentCash
	case "card", "credit", "debit", "credit_card", "debit_card", "edc":
		return till.PaymentCard
	case "mixed", "split", "multi":
		return till.PaymentMixed
	default:
		return till.PaymentOther
	}
}

var _ till.TransactionSource = (*Source)(nil)
