package till

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/till-engine/metrics"
)

// RequireActiveTerminal loads a terminal and rejects inactive ones.
func RequireActiveTerminal(ctx context.Context, registry TerminalRegistry, id TerminalID) (*Terminal, error) {
	if id == "" {
		return nil, invalid("terminal_id", "required")
	}
	terminal, err := registry.GetTerminal(ctx, id)
	if err != nil {
		return nil, infra("get terminal", err)
	}
	if !terminal.IsActive {
		return nil, invalid("terminal_id", "terminal %s is not active", id)
	}
	return terminal, nil
}

// =============================================================================
// OPTIONS - shared by the managers and the settlement engine
// =============================================================================

type options struct {
	logger        zerolog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
	newID         func() string
	denominations []decimal.Decimal
}

type Option func(o *options)

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDGenerator overrides uuid generation, mostly for tests.
func WithIDGenerator(newID func() string) Option {
	return func(o *options) { o.newID = newID }
}

// WithDenominations fixes the face values a cash count may use. New
// settlements start with one zero row per face value.
func WithDenominations(faces ...decimal.Decimal) Option {
	return func(o *options) { o.denominations = append([]decimal.Decimal(nil), faces...) }
}

func buildOptions(opts []Option) options {
	o := options{
		logger: zerolog.Nop(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
