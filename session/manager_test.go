package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/use-agent/wardreport/config"
	"github.com/use-agent/wardreport/models"
	"github.com/use-agent/wardreport/sequencer"
)

// stubDriver satisfies sequencer.Driver with canned responses.
type stubDriver struct {
	evalResult string
	evalErr    error
}

func (d *stubDriver) Navigate(ctx context.Context, url string) error          { return nil }
func (d *stubDriver) Click(ctx context.Context, selector string) error        { return nil }
func (d *stubDriver) Input(ctx context.Context, selector, text string) error  { return nil }
func (d *stubDriver) Scroll(ctx context.Context, viewports int) error         { return nil }
func (d *stubDriver) PageHTML(ctx context.Context) (string, error)            { return "", nil }
func (d *stubDriver) CurrentURL(ctx context.Context) (string, error)          { return "", nil }
func (d *stubDriver) Cookies(ctx context.Context) ([]*http.Cookie, error)     { return nil, nil }
func (d *stubDriver) ElementExists(ctx context.Context, s string) (bool, error) {
	return false, nil
}

func (d *stubDriver) Eval(ctx context.Context, code string) (string, error) {
	return d.evalResult, d.evalErr
}

// stubLauncher counts launches and closes; the first failLaunches
// launch attempts fail.
type stubLauncher struct {
	mu           sync.Mutex
	launches     int
	closes       int
	failLaunches int
	driver       *stubDriver
}

func (l *stubLauncher) Launch(ctx context.Context) (sequencer.Driver, func() error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches++
	if l.failLaunches > 0 {
		l.failLaunches--
		return nil, nil, errors.New("chrome refused to start")
	}
	drv := l.driver
	if drv == nil {
		drv = &stubDriver{evalResult: "ok"}
	}
	return drv, func() error {
		l.mu.Lock()
		l.closes++
		l.mu.Unlock()
		return nil
	}, nil
}

func (l *stubLauncher) counts() (launches, closes int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches, l.closes
}

func testSessionConfig(maxSessions int) config.SessionConfig {
	return config.SessionConfig{
		StartupTimeout: 2 * time.Second,
		MaxSessions:    maxSessions,
		HealthTimeout:  time.Second,
	}
}

func TestManager_AcquireRelease(t *testing.T) {
	launcher := &stubLauncher{}
	m := NewManager(testSessionConfig(2), launcher)

	sess, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if sess.State() != models.SessionReady {
		t.Errorf("state = %q, want ready", sess.State())
	}

	m.Release(sess)
	if sess.State() != models.SessionClosed {
		t.Errorf("state after release = %q, want closed", sess.State())
	}

	launches, closes := launcher.counts()
	if launches != 1 || closes != 1 {
		t.Errorf("launches/closes = %d/%d, want 1/1", launches, closes)
	}
}

func TestManager_ReleaseIsIdempotent(t *testing.T) {
	launcher := &stubLauncher{}
	m := NewManager(testSessionConfig(1), launcher)

	sess, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	m.Release(sess)
	m.Release(sess)

	if _, closes := launcher.counts(); closes != 1 {
		t.Errorf("closes = %d, want 1 despite double release", closes)
	}

	// The slot must have been returned exactly once, so one more
	// acquisition succeeds immediately.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	again, err := m.Acquire(ctx)
	if err != nil {
		t.Fatalf("re-acquire after release failed: %v", err)
	}
	m.Release(again)
}

func TestManager_AcquireBlocksAtBound(t *testing.T) {
	launcher := &stubLauncher{}
	m := NewManager(testSessionConfig(1), launcher)

	first, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	acquired := make(chan *Session, 1)
	go func() {
		s, err := m.Acquire(context.Background())
		if err != nil {
			t.Errorf("second Acquire failed: %v", err)
			return
		}
		acquired <- s
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire should block while the bound is exhausted")
	case <-time.After(50 * time.Millisecond):
	}

	m.Release(first)

	select {
	case s := <-acquired:
		m.Release(s)
	case <-time.After(time.Second):
		t.Fatal("second Acquire did not unblock after release")
	}
}

func TestManager_AcquireCancelledWhileBlocked(t *testing.T) {
	launcher := &stubLauncher{}
	m := NewManager(testSessionConfig(1), launcher)

	first, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	defer m.Release(first)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = m.Acquire(ctx)
	if !models.IsCode(err, models.ErrCodeRunCancelled) {
		t.Fatalf("error code = %q, want RUN_CANCELLED", models.CodeOf(err))
	}
}

func TestManager_LaunchFailureFreesSlot(t *testing.T) {
	launcher := &stubLauncher{failLaunches: 1}
	m := NewManager(testSessionConfig(1), launcher)

	_, err := m.Acquire(context.Background())
	if !models.IsCode(err, models.ErrCodeSessionStart) {
		t.Fatalf("error code = %q, want SESSION_START_FAILED", models.CodeOf(err))
	}

	// The failed launch must not leak its slot.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sess, err := m.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after failed launch: %v", err)
	}
	m.Release(sess)
}

func TestManager_RestartKeepsSlotAndCountsUp(t *testing.T) {
	launcher := &stubLauncher{}
	m := NewManager(testSessionConfig(1), launcher)

	sess, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	replacement, err := m.Restart(context.Background(), sess)
	if err != nil {
		t.Fatalf("Restart returned error: %v", err)
	}
	if replacement.Restarts() != 1 {
		t.Errorf("restarts = %d, want 1", replacement.Restarts())
	}
	if replacement.ID() == sess.ID() {
		t.Error("replacement should have a fresh session ID")
	}

	// Releasing the replacement frees the shared slot exactly once.
	m.Release(replacement)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	again, err := m.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after restart+release: %v", err)
	}
	m.Release(again)
}

func TestManager_HealthCheck(t *testing.T) {
	healthy := &stubLauncher{driver: &stubDriver{evalResult: "ok"}}
	m := NewManager(testSessionConfig(1), healthy)

	sess, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if !m.HealthCheck(context.Background(), sess) {
		t.Error("healthy session reported unhealthy")
	}
	m.Release(sess)

	broken := &stubLauncher{driver: &stubDriver{evalErr: errors.New("connection closed")}}
	m2 := NewManager(testSessionConfig(1), broken)
	sess2, err := m2.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if m2.HealthCheck(context.Background(), sess2) {
		t.Error("broken session reported healthy")
	}
	if sess2.State() != models.SessionCrashed {
		t.Errorf("state = %q, want crashed", sess2.State())
	}
	m2.Release(sess2)
}
