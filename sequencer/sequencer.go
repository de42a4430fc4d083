// Package sequencer executes an ordered step sequence against a live
// browser session. Each step performs its action, then polls its
// success predicate up to a bounded wait, retrying the action on
// transient failure. Later steps are never attempted after a step
// fails (fail-fast), since they expect the page state the failed step
// should have produced.
package sequencer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/use-agent/wardreport/config"
	"github.com/use-agent/wardreport/models"
)

// Driver is the minimal browser surface the sequencer needs. The
// session package implements it over a Rod page; tests implement it
// with scripted fakes.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Input(ctx context.Context, selector, text string) error
	Eval(ctx context.Context, code string) (string, error)
	Scroll(ctx context.Context, viewports int) error
	ElementExists(ctx context.Context, selector string) (bool, error)
	PageHTML(ctx context.Context) (string, error)
	CurrentURL(ctx context.Context) (string, error)
	Cookies(ctx context.Context) ([]*http.Cookie, error)
}

// FetchFunc handles a fetch step. The pipeline wires it to the HTTP
// fetch client so the sequencer stays free of transport concerns.
type FetchFunc func(ctx context.Context, drv Driver, index int, step models.Step) error

// StepFailure annotates a step error with its position so the
// orchestrator can resume from the failed step after a session restart.
type StepFailure struct {
	Index int
	Step  string
	Err   error
}

func (e *StepFailure) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index, e.Step, e.Err)
}

func (e *StepFailure) Unwrap() error {
	return e.Err
}

// Sequencer drives steps with the configured polling and retry policy.
type Sequencer struct {
	cfg   config.PipelineConfig
	fetch FetchFunc
}

// New creates a Sequencer. fetch may be nil when the sequence contains
// no fetch steps.
func New(cfg config.PipelineConfig, fetch FetchFunc) *Sequencer {
	return &Sequencer{cfg: cfg, fetch: fetch}
}

// Run executes steps[from:] in order. onStep is invoked after each
// satisfied step (the extraction hook); an error from onStep aborts the
// sequence. Any failure is returned as a *StepFailure carrying the
// index of the step that failed.
func (s *Sequencer) Run(ctx context.Context, drv Driver, steps []models.Step, from int, onStep func(i int, step models.Step) error) error {
	for i := from; i < len(steps); i++ {
		step := steps[i]

		// Cooperative cancellation checkpoint between steps.
		if err := ctx.Err(); err != nil {
			return &StepFailure{Index: i, Step: step.Name,
				Err: models.NewPipelineError(models.ErrCodeRunCancelled, "run cancelled between steps", err)}
		}

		slog.Info("executing step", "index", i, "step", step.Name, "action", step.Action.Type)

		if err := s.ExecuteStep(ctx, drv, i, step); err != nil {
			if step.Optional && models.IsCode(err, models.ErrCodeStepTimeout) {
				slog.Warn("optional step failed, continuing", "step", step.Name, "error", err)
				continue
			}
			return &StepFailure{Index: i, Step: step.Name, Err: err}
		}

		if onStep != nil {
			if err := onStep(i, step); err != nil {
				return &StepFailure{Index: i, Step: step.Name, Err: err}
			}
		}
	}
	return nil
}

// ExecuteStep performs one step's action and polls its success
// predicate, retrying the action up to the step's retry budget on
// transient failure. Session crashes, required-field failures and
// cancellation are never retried here; they escalate unchanged.
func (s *Sequencer) ExecuteStep(ctx context.Context, drv Driver, index int, step models.Step) error {
	maxWait := step.MaxWait.Std()
	if maxWait <= 0 {
		maxWait = s.cfg.DefaultStepWait
	}
	retries := s.cfg.DefaultStepRetries
	if step.Retries != nil {
		retries = *step.Retries
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying step action", "step", step.Name, "attempt", attempt, "error", lastErr)
		}

		if err := s.performAction(ctx, drv, index, step); err != nil {
			if !retryable(err) {
				return err
			}
			lastErr = err
			continue
		}

		ok, err := s.awaitPredicate(ctx, drv, step.Success, maxWait)
		if err != nil {
			if !retryable(err) {
				return err
			}
			lastErr = err
			continue
		}
		if ok {
			return nil
		}
		lastErr = fmt.Errorf("success predicate not satisfied within %s", maxWait)
	}

	return models.NewPipelineError(models.ErrCodeStepTimeout,
		fmt.Sprintf("step %q exhausted its retry budget (%d)", step.Name, retries), lastErr)
}

// retryable reports whether an error may be absorbed by the step's
// retry budget. Crashes escalate to the session manager; required-field
// failures, cancellation and malformed input are deterministic and
// escalate to the orchestrator.
func retryable(err error) bool {
	switch models.CodeOf(err) {
	case models.ErrCodeSessionCrash, models.ErrCodeRequiredField,
		models.ErrCodeRunCancelled, models.ErrCodeInvalidInput:
		return false
	}
	return true
}

func (s *Sequencer) performAction(ctx context.Context, drv Driver, index int, step models.Step) error {
	a := step.Action
	switch a.Type {
	case models.ActionNavigate:
		return drv.Navigate(ctx, a.URL)
	case models.ActionClick:
		return drv.Click(ctx, a.Selector)
	case models.ActionInput:
		return drv.Input(ctx, a.Selector, a.Text)
	case models.ActionEval:
		_, err := drv.Eval(ctx, a.Code)
		return err
	case models.ActionScroll:
		amount := a.Amount
		if amount <= 0 {
			amount = 1
		}
		return drv.Scroll(ctx, amount)
	case models.ActionWait:
		return s.execWait(ctx, drv, a)
	case models.ActionFetch:
		if s.fetch == nil {
			return models.NewPipelineError(models.ErrCodeInvalidInput,
				"fetch steps are not supported in this sequence", nil)
		}
		return s.fetch(ctx, drv, index, step)
	default:
		return models.NewPipelineError(models.ErrCodeInvalidInput,
			fmt.Sprintf("unknown action type %q", a.Type), nil)
	}
}

// execWait either sleeps for a fixed duration or polls for a selector
// within the step's own predicate machinery.
func (s *Sequencer) execWait(ctx context.Context, drv Driver, a models.Action) error {
	if a.Selector != "" {
		ok, err := s.awaitPredicate(ctx, drv,
			models.Predicate{Type: models.PredicateSelector, Selector: a.Selector},
			s.cfg.DefaultStepWait)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("element %q did not appear", a.Selector)
		}
		return nil
	}
	if a.Milliseconds > 0 {
		select {
		case <-time.After(time.Duration(a.Milliseconds) * time.Millisecond):
			return nil
		case <-ctx.Done():
			return models.NewPipelineError(models.ErrCodeRunCancelled, "wait interrupted", ctx.Err())
		}
	}
	return nil
}

// awaitPredicate polls the predicate at the configured interval with
// multiplicative backoff until it is satisfied or maxWait elapses.
// Transient probe errors count as "not yet"; crashes escalate.
func (s *Sequencer) awaitPredicate(ctx context.Context, drv Driver, p models.Predicate, maxWait time.Duration) (bool, error) {
	if p.Type == models.PredicateNone {
		return true, nil
	}

	deadline := time.Now().Add(maxWait)
	interval := s.cfg.PollInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	for {
		ok, err := s.checkPredicate(ctx, drv, p)
		if err != nil {
			if !retryable(err) {
				return false, err
			}
			slog.Debug("predicate probe failed, will re-poll", "type", p.Type, "error", err)
		}
		if ok {
			return true, nil
		}

		if time.Now().After(deadline) {
			return false, nil
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return false, models.NewPipelineError(models.ErrCodeRunCancelled,
				"predicate wait interrupted", ctx.Err())
		}

		if s.cfg.BackoffFactor > 1 {
			interval = time.Duration(float64(interval) * s.cfg.BackoffFactor)
			if remaining := time.Until(deadline); interval > remaining && remaining > 0 {
				interval = remaining
			}
		}
	}
}

func (s *Sequencer) checkPredicate(ctx context.Context, drv Driver, p models.Predicate) (bool, error) {
	switch p.Type {
	case models.PredicateSelector:
		return drv.ElementExists(ctx, p.Selector)
	case models.PredicateURLContains:
		u, err := drv.CurrentURL(ctx)
		if err != nil {
			return false, err
		}
		return strings.Contains(u, p.Substring), nil
	case models.PredicatePageContains:
		html, err := drv.PageHTML(ctx)
		if err != nil {
			return false, err
		}
		return strings.Contains(html, p.Substring), nil
	case models.PredicateEvalTrue:
		res, err := drv.Eval(ctx, p.Code)
		if err != nil {
			return false, err
		}
		return res == "true", nil
	default:
		return true, nil
	}
}
