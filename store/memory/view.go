package memory

import (
	"context"
	"sort"

	"github.com/warp/till-engine/till"
)

// view implements till.Store over the state without locking. The caller holds
// the Memory lock.
type view struct {
	st *state
}

// =============================================================================
// SHIFTS
// =============================================================================

func (v *view) InsertShift(_ context.Context, s till.Shift) error {
	for _, existing := range v.st.shifts {
		if existing.TerminalID == s.TerminalID {
			return &till.ConflictError{Kind: "shift", TerminalID: s.TerminalID, BlockingID: string(existing.ID)}
		}
	}
	if _, ok := v.st.shifts[s.ID]; ok {
		return &till.ConflictError{Kind: "shift", TerminalID: s.TerminalID, BlockingID: string(s.ID)}
	}
	v.st.shifts[s.ID] = s
	return nil
}

func (v *view) UpdateShift(_ context.Context, s till.Shift) error {
	if _, ok := v.st.shifts[s.ID]; !ok {
		return till.ErrNotFound
	}
	v.st.shifts[s.ID] = s
	return nil
}

func (v *view) ArchiveShift(_ context.Context, s till.Shift) error {
	if _, ok := v.st.shifts[s.ID]; !ok {
		return till.ErrNotFound
	}
	delete(v.st.shifts, s.ID)
	v.st.shiftHistory = append(v.st.shiftHistory, s)
	return nil
}

func (v *view) GetShift(_ context.Context, id till.ShiftID) (*till.Shift, error) {
	if s, ok := v.st.shifts[id]; ok {
		return &s, nil
	}
	for _, s := range v.st.shiftHistory {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, till.ErrNotFound
}

func (v *view) GetActiveShift(_ context.Context, terminalID till.TerminalID) (*till.Shift, error) {
	for _, s := range v.st.shifts {
		if s.TerminalID == terminalID {
			return &s, nil
		}
	}
	return nil, nil
}

// ShiftHistory walks history backwards so the newest shift comes first.
func (v *view) ShiftHistory(_ context.Context, terminalID till.TerminalID, limit int) ([]till.Shift, error) {
	var out []till.Shift
	for i := len(v.st.shiftHistory) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s := v.st.shiftHistory[i]; s.TerminalID == terminalID {
			out = append(out, s)
		}
	}
	return out, nil
}

// =============================================================================
// SESSIONS
// =============================================================================

func (v *view) InsertSession(_ context.Context, s till.Session) error {
	for _, existing := range v.st.sessions {
		if existing.TerminalID == s.TerminalID {
			return &till.ConflictError{Kind: "session", TerminalID: s.TerminalID, BlockingID: string(existing.ID)}
		}
	}
	if _, ok := v.st.sessions[s.ID]; ok {
		return &till.ConflictError{Kind: "session", TerminalID: s.TerminalID, BlockingID: string(s.ID)}
	}
	v.st.sessions[s.ID] = cloneSession(s)
	return nil
}

func (v *view) UpdateSession(_ context.Context, s till.Session) error {
	if _, ok := v.st.sessions[s.ID]; !ok {
		return till.ErrNotFound
	}
	v.st.sessions[s.ID] = cloneSession(s)
	return nil
}

func (v *view) ArchiveSession(_ context.Context, s till.Session) error {
	if _, ok := v.st.sessions[s.ID]; !ok {
		return till.ErrNotFound
	}
	delete(v.st.sessions, s.ID)
	v.st.sessionHistory = append(v.st.sessionHistory, cloneSession(s))
	return nil
}

func (v *view) GetSession(_ context.Context, id till.SessionID) (*till.Session, error) {
	if s, ok := v.st.sessions[id]; ok {
		out := cloneSession(s)
		return &out, nil
	}
	for _, s := range v.st.sessionHistory {
		if s.ID == id {
			out := cloneSession(s)
			return &out, nil
		}
	}
	return nil, till.ErrNotFound
}

func (v *view) GetActiveSession(_ context.Context, terminalID till.TerminalID) (*till.Session, error) {
	for _, s := range v.st.sessions {
		if s.TerminalID == terminalID {
			out := cloneSession(s)
			return &out, nil
		}
	}
	return nil, nil
}

func (v *view) GetLatestSession(ctx context.Context, terminalID till.TerminalID) (*till.Session, error) {
	if s, _ := v.GetActiveSession(ctx, terminalID); s != nil {
		return s, nil
	}
	for i := len(v.st.sessionHistory) - 1; i >= 0; i-- {
		if s := v.st.sessionHistory[i]; s.TerminalID == terminalID {
			out := cloneSession(s)
			return &out, nil
		}
	}
	return nil, nil
}

// ListSessionsByShift returns active and closed sessions of the shift,
// oldest first.
func (v *view) ListSessionsByShift(_ context.Context, shiftID till.ShiftID) ([]till.Session, error) {
	var out []till.Session
	for _, s := range v.st.sessionHistory {
		if s.ShiftID == shiftID {
			out = append(out, cloneSession(s))
		}
	}
	for _, s := range v.st.sessions {
		if s.ShiftID == shiftID {
			out = append(out, cloneSession(s))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (v *view) ListActiveSessions(_ context.Context) ([]till.Session, error) {
	out := make([]till.Session, 0, len(v.st.sessions))
	for _, s := range v.st.sessions {
		out = append(out, cloneSession(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (v *view) SessionHistory(_ context.Context, terminalID till.TerminalID, limit int) ([]till.Session, error) {
	var out []till.Session
	for i := len(v.st.sessionHistory) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s := v.st.sessionHistory[i]; s.TerminalID == terminalID {
			out = append(out, cloneSession(s))
		}
	}
	return out, nil
}
