// Package memory provides an in-memory till.TxStore together with the
// collaborator interfaces (terminals, variance reasons, sales), for tests and
// single-process development.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/till-engine/till"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	st state
}

type state struct {
	terminals      map[till.TerminalID]till.Terminal
	reasons        map[till.ReasonID]till.VarianceReason
	shifts         map[till.ShiftID]till.Shift
	shiftHistory   []till.Shift
	sessions       map[till.SessionID]till.Session
	sessionHistory []till.Session
	transactions   map[till.SessionID][]till.Transaction
}

func New() *Memory {
	return &Memory{st: state{
		terminals:    make(map[till.TerminalID]till.Terminal),
		reasons:      make(map[till.ReasonID]till.VarianceReason),
		shifts:       make(map[till.ShiftID]till.Shift),
		sessions:     make(map[till.SessionID]till.Session),
		transactions: make(map[till.SessionID][]till.Transaction),
	}}
}

// WithTx executes fn under the write lock. Writes are applied directly and
// rolled back from a snapshot if fn fails.
func (m *Memory) WithTx(ctx context.Context, fn func(till.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(&view{st: &m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// read runs fn under the read lock.
func (m *Memory) read(fn func(v *view) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&view{st: &m.st})
}

func (m *Memory) write(fn func(v *view) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&view{st: &m.st})
}

// =============================================================================
// MASTER DATA
// =============================================================================

func (m *Memory) PutTerminal(_ context.Context, t till.Terminal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.terminals[t.ID] = t
	return nil
}

func (m *Memory) GetTerminal(_ context.Context, id till.TerminalID) (*till.Terminal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.st.terminals[id]
	if !ok {
		return nil, till.ErrNotFound
	}
	return &t, nil
}

func (m *Memory) PutReason(_ context.Context, r till.VarianceReason) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.reasons[r.ID] = r
	return nil
}

func (m *Memory) ListReasons(_ context.Context, reasonType *till.ReasonType, activeOnly bool) ([]till.VarianceReason, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []till.VarianceReason
	for _, r := range m.st.reasons {
		if reasonType != nil && r.ReasonType != *reasonType {
			continue
		}
		if activeOnly && !r.IsActive {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// SALES - local sale store (dev mode)
// =============================================================================

// SaveTransaction inserts or replaces a sale by id.
func (m *Memory) SaveTransaction(_ context.Context, tx till.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txs := m.st.transactions[tx.SessionID]
	for i := range txs {
		if txs[i].ID == tx.ID {
			txs[i] = tx
			return nil
		}
	}
	m.st.transactions[tx.SessionID] = append(txs, tx)
	return nil
}

func (m *Memory) ListTransactions(_ context.Context, sessionID till.SessionID) ([]till.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]till.Transaction(nil), m.st.transactions[sessionID]...), nil
}

func (m *Memory) ListSuspended(_ context.Context, sessionID till.SessionID) ([]till.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []till.Transaction
	for _, tx := range m.st.transactions[sessionID] {
		if tx.Status == till.TxSuspended {
			out = append(out, tx)
		}
	}
	return out, nil
}

// =============================================================================
// till.Store - locked wrappers around view
// =============================================================================

func (m *Memory) InsertShift(ctx context.Context, s till.Shift) error {
	return m.write(func(v *view) error { return v.InsertShift(ctx, s) })
}

func (m *Memory) UpdateShift(ctx context.Context, s till.Shift) error {
	return m.write(func(v *view) error { return v.UpdateShift(ctx, s) })
}

func (m *Memory) ArchiveShift(ctx context.Context, s till.Shift) error {
	return m.write(func(v *view) error { return v.ArchiveShift(ctx, s) })
}

func (m *Memory) GetShift(ctx context.Context, id till.ShiftID) (out *till.Shift, err error) {
	err = m.read(func(v *view) error { out, err = v.GetShift(ctx, id); return err })
	return out, err
}

func (m *Memory) GetActiveShift(ctx context.Context, terminalID till.TerminalID) (out *till.Shift, err error) {
	err = m.read(func(v *view) error { out, err = v.GetActiveShift(ctx, terminalID); return err })
	return out, err
}

func (m *Memory) ShiftHistory(ctx context.Context, terminalID till.TerminalID, limit int) (out []till.Shift, err error) {
	err = m.read(func(v *view) error { out, err = v.ShiftHistory(ctx, terminalID, limit); return err })
	return out, err
}

func (m *Memory) InsertSession(ctx context.Context, s till.Session) error {
	return m.write(func(v *view) error { return v.InsertSession(ctx, s) })
}

func (m *Memory) UpdateSession(ctx context.Context, s till.Session) error {
	return m.write(func(v *view) error { return v.UpdateSession(ctx, s) })
}

func (m *Memory) ArchiveSession(ctx context.Context, s till.Session) error {
	return m.write(func(v *view) error { return v.ArchiveSession(ctx, s) })
}

func (m *Memory) GetSession(ctx context.Context, id till.SessionID) (out *till.Session, err error) {
	err = m.read(func(v *view) error { out, err = v.GetSession(ctx, id); return err })
	return out, err
}

func (m *Memory) GetActiveSession(ctx context.Context, terminalID till.TerminalID) (out *till.Session, err error) {
	err = m.read(func(v *view) error { out, err = v.GetActiveSession(ctx, terminalID); return err })
	return out, err
}

func (m *Memory) GetLatestSession(ctx context.Context, terminalID till.TerminalID) (out *till.Session, err error) {
	err = m.read(func(v *view) error { out, err = v.GetLatestSession(ctx, terminalID); return err })
	return out, err
}

func (m *Memory) ListSessionsByShift(ctx context.Context, shiftID till.ShiftID) (out []till.Session, err error) {
	err = m.read(func(v *view) error { out, err = v.ListSessionsByShift(ctx, shiftID); return err })
	return out, err
}

func (m *Memory) ListActiveSessions(ctx context.Context) (out []till.Session, err error) {
	err = m.read(func(v *view) error { out, err = v.ListActiveSessions(ctx); return err })
	return out, err
}

func (m *Memory) SessionHistory(ctx context.Context, terminalID till.TerminalID, limit int) (out []till.Session, err error) {
	err = m.read(func(v *view) error { out, err = v.SessionHistory(ctx, terminalID, limit); return err })
	return out, err
}

// =============================================================================
// SNAPSHOT
// =============================================================================

func (s state) clone() state {
	out := state{
		terminals:      make(map[till.TerminalID]till.Terminal, len(s.terminals)),
		reasons:        make(map[till.ReasonID]till.VarianceReason, len(s.reasons)),
		shifts:         make(map[till.ShiftID]till.Shift, len(s.shifts)),
		shiftHistory:   append([]till.Shift(nil), s.shiftHistory...),
		sessions:       make(map[till.SessionID]till.Session, len(s.sessions)),
		sessionHistory: make([]till.Session, len(s.sessionHistory)),
		transactions:   make(map[till.SessionID][]till.Transaction, len(s.transactions)),
	}
	for k, v := range s.terminals {
		out.terminals[k] = v
	}
	for k, v := range s.reasons {
		out.reasons[k] = v
	}
	for k, v := range s.shifts {
		out.shifts[k] = v
	}
	for k, v := range s.sessions {
		out.sessions[k] = cloneSession(v)
	}
	for i, v := range s.sessionHistory {
		out.sessionHistory[i] = cloneSession(v)
	}
	for k, v := range s.transactions {
		out.transactions[k] = append([]till.Transaction(nil), v...)
	}
	return out
}

func cloneSession(s till.Session) till.Session {
	s.Settlement = s.Settlement.Clone()
	if s.SaleCash != nil {
		saleCash := make(map[string]decimal.Decimal, len(s.SaleCash))
		for id, c := range s.SaleCash {
			saleCash[id] = c
		}
		s.SaleCash = saleCash
	}
	return s
}

var (
	_ till.TxStore           = (*Memory)(nil)
	_ till.TerminalRegistry  = (*Memory)(nil)
	_ till.ReasonCatalog     = (*Memory)(nil)
	_ till.TransactionSource = (*Memory)(nil)
	_ till.TransactionWriter = (*Memory)(nil)
)
