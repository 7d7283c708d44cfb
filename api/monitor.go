/*
monitor.go - Session age monitor

PURPOSE:
  Periodically scans active billing sessions and reports the ones left open
  longer than the configured maximum age. A till left open overnight is the
  most common reason a shift cannot be closed in the morning.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Logs one warning per overdue session
  - Publishes the overdue count as a gauge
  - Never closes anything; closing needs a counted drawer

CONFIGURATION:
  - CheckInterval: How often to check (default: 5 minutes, 0 disables)
  - MaxAge: Age after which a session is overdue (default: 12 hours)

USAGE:
  monitor := NewSessionMonitor(sessions, m, logger)
  monitor.Start()
  // ... later
  monitor.Stop()
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/till-engine/metrics"
	"github.com/warp/till-engine/till"
)

// ActiveSessionLister is the part of SessionManager the monitor needs.
type ActiveSessionLister interface {
	ListActiveSessions(ctx context.Context) ([]till.Session, error)
}

// SessionMonitor reports sessions that have been open too long.
type SessionMonitor struct {
	Sessions      ActiveSessionLister
	Metrics       *metrics.Metrics
	Logger        zerolog.Logger
	CheckInterval time.Duration
	MaxAge        time.Duration
	Now           func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSessionMonitor creates a monitor with default interval and age.
func NewSessionMonitor(sessions ActiveSessionLister, m *metrics.Metrics, logger zerolog.Logger) *SessionMonitor {
	return &SessionMonitor{
		Sessions:      sessions,
		Metrics:       m,
		Logger:        logger,
		CheckInterval: 5 * time.Minute,
		MaxAge:        12 * time.Hour,
		Now:           func() time.Time { return time.Now().UTC() },
	}
}

// Start begins the monitor. It is a no-op when CheckInterval is zero or the
// monitor is already running.
func (sm *SessionMonitor) Start() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.CheckInterval <= 0 {
		sm.Logger.Info().Msg("session monitor disabled")
		return
	}
	if sm.ticker != nil {
		return
	}

	sm.ticker = time.NewTicker(sm.CheckInterval)
	sm.stop = make(chan struct{})
	sm.wg.Add(1)
	go sm.run()

	sm.Logger.Info().
		Dur("interval", sm.CheckInterval).
		Dur("max_age", sm.MaxAge).
		Msg("session monitor started")
}

// Stop stops the monitor and waits for an in-flight check.
func (sm *SessionMonitor) Stop() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.ticker == nil {
		return
	}
	sm.ticker.Stop()
	close(sm.stop)
	sm.wg.Wait()
	sm.ticker = nil
	sm.Logger.Info().Msg("session monitor stopped")
}

func (sm *SessionMonitor) run() {
	defer sm.wg.Done()

	// Run immediately on start
	sm.Check(context.Background())

	for {
		select {
		case <-sm.ticker.C:
			sm.Check(context.Background())
		case <-sm.stop:
			return
		}
	}
}

// Check performs one scan and returns the overdue sessions.
func (sm *SessionMonitor) Check(ctx context.Context) []till.Session {
	active, err := sm.Sessions.ListActiveSessions(ctx)
	if err != nil {
		sm.Logger.Error().Err(err).Msg("session monitor: list active sessions failed")
		return nil
	}

	now := sm.Now()
	var overdue []till.Session
	for _, s := range active {
		age := now.Sub(s.StartTime)
		if age <= sm.MaxAge {
			continue
		}
		overdue = append(overdue, s)
		sm.Logger.Warn().
			Str("terminal_id", string(s.TerminalID)).
			Str("session_id", string(s.ID)).
			Str("operator_id", string(s.OperatorID)).
			Dur("age", age).
			Msg("session open longer than allowed")
	}

	sm.Metrics.SetOverdueSessions(len(overdue))
	return overdue
}
