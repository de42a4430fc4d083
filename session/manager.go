// Package session owns the lifecycle of browser-automation sessions:
// bounded acquisition, health checking, crash restart and guaranteed
// release.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/use-agent/wardreport/config"
	"github.com/use-agent/wardreport/models"
	"github.com/use-agent/wardreport/sequencer"
)

// Launcher starts one browser and returns its driver plus a close
// function that tears the underlying process/connection down.
type Launcher interface {
	Launch(ctx context.Context) (sequencer.Driver, func() error, error)
}

// slot is the concurrency token a session occupies. It survives
// restarts (a restarted session keeps its slot) and is returned to the
// pool exactly once no matter how many code paths try.
type slot struct {
	once    sync.Once
	release func()
}

func (s *slot) free() {
	s.once.Do(s.release)
}

// Session is a live handle to one browser-automation connection. It is
// never shared across concurrent runs.
type Session struct {
	id           string
	drv          sequencer.Driver
	closeBrowser func() error
	slot         *slot

	mu           sync.Mutex
	state        models.SessionState
	lastActivity time.Time
	restarts     int
	closeOnce    sync.Once
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Driver returns the browser driver bound to this session.
func (s *Session) Driver() sequencer.Driver { return s.drv }

// State returns the current lifecycle state.
func (s *Session) State() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Restarts returns how many times this logical session has been
// restarted after a crash.
func (s *Session) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// Touch records activity on the session.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) setState(state models.SessionState) {
	s.mu.Lock()
	s.state = state
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Manager acquires, health-checks, restarts and releases sessions. The
// pool of concurrently allowed sessions is bounded; Acquire blocks when
// the bound is reached until a slot frees.
type Manager struct {
	cfg      config.SessionConfig
	launcher Launcher
	slots    *semaphore.Weighted
}

// NewManager creates a Manager over the given launcher.
func NewManager(cfg config.SessionConfig, launcher Launcher) *Manager {
	maxSessions := cfg.MaxSessions
	if maxSessions <= 0 {
		maxSessions = 1
	}
	return &Manager{
		cfg:      cfg,
		launcher: launcher,
		slots:    semaphore.NewWeighted(int64(maxSessions)),
	}
}

// Acquire starts a new browser session. It blocks while the concurrent
// session bound is exhausted, then launches within the startup timeout.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	if err := m.slots.Acquire(ctx, 1); err != nil {
		return nil, models.NewPipelineError(models.ErrCodeRunCancelled,
			"session slot wait interrupted", err)
	}

	sess, err := m.launch(ctx, &slot{release: func() { m.slots.Release(1) }}, 0)
	if err != nil {
		return nil, err
	}

	slog.Info("session acquired", "session", sess.ID())
	return sess, nil
}

func (m *Manager) launch(ctx context.Context, sl *slot, restarts int) (*Session, error) {
	launchCtx, cancel := context.WithTimeout(ctx, m.cfg.StartupTimeout)
	defer cancel()

	drv, closeFn, err := m.launcher.Launch(launchCtx)
	if err != nil {
		sl.free()
		return nil, models.NewPipelineError(models.ErrCodeSessionStart,
			"failed to start browser session", err)
	}

	return &Session{
		id:           uuid.New().String(),
		drv:          drv,
		closeBrowser: closeFn,
		slot:         sl,
		state:        models.SessionReady,
		lastActivity: time.Now(),
		restarts:     restarts,
	}, nil
}

// HealthCheck confirms the session is responsive by evaluating a
// trivial expression in the page.
func (m *Manager) HealthCheck(ctx context.Context, s *Session) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.HealthTimeout)
	defer cancel()

	res, err := s.drv.Eval(probeCtx, `() => "ok"`)
	healthy := err == nil && res == "ok"
	if !healthy {
		slog.Warn("session health check failed", "session", s.ID(), "error", err)
		s.setState(models.SessionCrashed)
	} else {
		s.Touch()
	}
	return healthy
}

// Restart tears down a crashed session and acquires a replacement. No
// in-page state is preserved. The replacement keeps the crashed
// session's concurrency slot, so the exactly-once release guarantee
// spans restarts.
func (m *Manager) Restart(ctx context.Context, s *Session) (*Session, error) {
	s.setState(models.SessionCrashed)
	s.closeOnce.Do(func() {
		if err := s.closeBrowser(); err != nil {
			slog.Debug("closing crashed browser", "session", s.ID(), "error", err)
		}
	})

	replacement, err := m.launch(ctx, s.slot, s.Restarts()+1)
	if err != nil {
		return nil, err
	}

	slog.Info("session restarted", "old", s.ID(), "new", replacement.ID(),
		"restarts", replacement.Restarts())
	return replacement, nil
}

// Release tears the session down and returns its slot to the pool. It
// is safe to call on every exit path; the browser is closed and the
// slot freed exactly once.
func (m *Manager) Release(s *Session) {
	if s == nil {
		return
	}
	s.setState(models.SessionClosed)
	s.closeOnce.Do(func() {
		if err := s.closeBrowser(); err != nil {
			slog.Warn("closing browser failed", "session", s.ID(), "error", err)
		}
	})
	s.slot.free()
	slog.Info("session released", "session", s.ID())
}

// String implements fmt.Stringer for log friendliness.
func (s *Session) String() string {
	return fmt.Sprintf("session(%s, %s)", s.id, s.State())
}
