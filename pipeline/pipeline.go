// Package pipeline composes session management, navigation, extraction
// and report assembly into one run: acquire a session, drive the step
// sequence, extract after each step that yields content, and finalize
// the report on every exit path.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/use-agent/wardreport/config"
	"github.com/use-agent/wardreport/extract"
	"github.com/use-agent/wardreport/fetch"
	"github.com/use-agent/wardreport/models"
	"github.com/use-agent/wardreport/report"
	"github.com/use-agent/wardreport/sequencer"
	"github.com/use-agent/wardreport/session"
)

// State is the orchestrator's position in the run state machine.
type State string

const (
	StateIdle            State = "idle"
	StateSessionStarting State = "session_starting"
	StateNavigating      State = "navigating"
	StateExtracting      State = "extracting"
	StateFinalizing      State = "finalizing"
	StateDone            State = "done"
	StateFailed          State = "failed"
)

// Pipeline runs step sequences to completion. One Pipeline may serve
// multiple concurrent runs; each run gets its own session and report.
type Pipeline struct {
	cfg       config.PipelineConfig
	reportCfg config.ReportConfig
	manager   *session.Manager
	extractor *extract.Extractor
	fetcher   *fetch.Client
}

// New wires the pipeline from its collaborators.
func New(cfg config.PipelineConfig, reportCfg config.ReportConfig, manager *session.Manager, extractor *extract.Extractor, fetcher *fetch.Client) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		reportCfg: reportCfg,
		manager:   manager,
		extractor: extractor,
		fetcher:   fetcher,
	}
}

// Result is the outcome of one run: the finalized report plus its
// serialized artifact. Err is non-nil unless the run completed Done.
type Result struct {
	Report   models.Report
	Artifact []byte
	Err      error
}

// Run executes the run file end to end and always returns a finalized
// report, even when the run fails or is cancelled mid-sequence.
func (p *Pipeline) Run(ctx context.Context, rf *config.RunFile) Result {
	asm := report.NewAssembler(uuid.New().String(), rf.Name, len(rf.Steps), p.reportCfg.Pretty)

	r := &run{pipeline: p, asm: asm, state: StateIdle}
	status, failure := r.execute(ctx, rf)

	r.transition(StateFinalizing)
	artifact, err := asm.Finalize(status, failure)
	if err != nil {
		return Result{Report: asm.Snapshot(), Err: err}
	}

	var runErr error
	if status == models.StatusDone {
		r.transition(StateDone)
	} else {
		r.transition(StateFailed)
		runErr = fmt.Errorf("run finished %s: %s", status, failure)
	}

	return Result{Report: asm.Snapshot(), Artifact: artifact, Err: runErr}
}

// run is the per-run state: one session lineage, one report.
type run struct {
	pipeline *Pipeline
	asm      *report.Assembler
	state    State

	// pendingFetch buffers a fetch step's record until the step's
	// success predicate holds, so action retries cannot append twice.
	pendingFetch *models.Record
}

func (r *run) transition(to State) {
	if r.state == to {
		return
	}
	slog.Debug("state transition", "from", r.state, "to", to)
	r.state = to
}

// execute performs whole-run attempts. Only session start failures are
// retried at this level; everything deterministic (step timeouts,
// required fields, exhausted restart budgets) fails the run outright.
func (r *run) execute(ctx context.Context, rf *config.RunFile) (models.RunStatus, string) {
	p := r.pipeline

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			// The rerun replays every step from the start; the failed
			// attempt's partial progress must not survive into it.
			r.asm.ResetProgress()
			r.pendingFetch = nil
		}
		r.asm.IncRunAttempts()
		r.transition(StateSessionStarting)

		sess, err := p.manager.Acquire(ctx)
		if err != nil {
			if models.IsCode(err, models.ErrCodeSessionStart) && attempt < p.cfg.MaxRunRetries {
				slog.Warn("session start failed, retrying whole run",
					"attempt", attempt+1, "error", err)
				continue
			}
			if models.IsCode(err, models.ErrCodeRunCancelled) {
				return models.StatusCancelled, err.Error()
			}
			return models.StatusFailed, err.Error()
		}

		status, failure, retry := r.runOnce(ctx, rf, sess)
		if retry && attempt < p.cfg.MaxRunRetries {
			slog.Warn("run attempt failed, retrying whole run",
				"attempt", attempt+1, "failure", failure)
			continue
		}
		return status, failure
	}
}

// runOnce drives the sequence on one session lineage (the session plus
// any crash replacements). The session is released exactly once on
// every exit path. retry reports whether the failure is a candidate for
// a whole-run restart.
func (r *run) runOnce(ctx context.Context, rf *config.RunFile, sess *session.Session) (status models.RunStatus, failure string, retry bool) {
	p := r.pipeline
	cur := sess
	defer func() { p.manager.Release(cur) }()

	seq := sequencer.New(p.cfg, r.fetchStep)

	from := 0
	for {
		r.transition(StateNavigating)
		drv := cur.Driver()

		err := seq.Run(ctx, drv, rf.Steps, from, func(i int, step models.Step) error {
			return r.afterStep(ctx, drv, i, step)
		})
		if err == nil {
			return models.StatusDone, "", false
		}

		var sf *sequencer.StepFailure
		errors.As(err, &sf)

		switch models.CodeOf(err) {
		case models.ErrCodeSessionCrash:
			if cur.Restarts() >= p.cfg.MaxSessionRestarts {
				r.asm.MarkStepFailed()
				return models.StatusFailed,
					fmt.Sprintf("session restart budget exhausted: %v", err), false
			}
			slog.Warn("session crashed, restarting and resuming",
				"step", sf.Index, "error", err)
			replacement, rerr := p.manager.Restart(ctx, cur)
			if rerr != nil {
				return models.StatusFailed,
					fmt.Sprintf("session restart failed: %v", rerr),
					models.IsCode(rerr, models.ErrCodeSessionStart)
			}
			cur = replacement
			if !p.manager.HealthCheck(ctx, replacement) {
				return models.StatusFailed,
					"replacement session failed its health check", true
			}
			r.asm.AddSessionRestart()
			// Resume from the failed step, not from the start.
			from = sf.Index
			continue

		case models.ErrCodeRunCancelled:
			return models.StatusCancelled, err.Error(), false

		default:
			r.asm.MarkStepFailed()
			return models.StatusFailed, err.Error(), false
		}
	}
}

// afterStep is the sequencer's per-step hook: it extracts a record from
// the stabilized page when the step declares a schema.
func (r *run) afterStep(ctx context.Context, drv sequencer.Driver, i int, step models.Step) error {
	// Fetch steps extract inside fetchStep, against the fetched body;
	// the buffered record lands here, once the step is satisfied.
	if step.Action.Type == models.ActionFetch {
		if r.pendingFetch != nil {
			r.asm.Append(*r.pendingFetch)
			r.pendingFetch = nil
		}
		r.asm.MarkStepCompleted()
		return nil
	}
	if step.Extract == nil {
		r.asm.MarkStepCompleted()
		return nil
	}

	r.transition(StateExtracting)
	defer r.transition(StateNavigating)

	html, err := drv.PageHTML(ctx)
	if err != nil {
		return err
	}
	sourceURL, err := drv.CurrentURL(ctx)
	if err != nil {
		sourceURL = step.Action.URL
	}

	rec, err := r.pipeline.extractor.Extract(step.Name, i, html, sourceURL, step.Extract)
	if err != nil {
		return err
	}

	r.asm.Append(rec)
	r.asm.MarkStepCompleted()
	return nil
}

// fetchStep pulls a JSON endpoint with the live session's cookies and
// extracts its record from the body. The record is only buffered here;
// it reaches the report in afterStep once the step's predicate holds,
// so a retried or ultimately failed fetch step appends nothing.
func (r *run) fetchStep(ctx context.Context, drv sequencer.Driver, index int, step models.Step) error {
	r.pendingFetch = nil

	cookies, err := drv.Cookies(ctx)
	if err != nil {
		return err
	}

	body, err := r.pipeline.fetcher.FetchJSON(ctx, step.Action.URL, cookies)
	if err != nil {
		return err
	}

	if step.Extract != nil {
		rec, err := r.pipeline.extractor.ExtractJSON(step.Name, index, body, step.Extract)
		if err != nil {
			return err
		}
		r.pendingFetch = &rec
	}
	return nil
}
