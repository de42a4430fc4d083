// Package report accumulates extracted records into the run report and
// serializes it exactly once. A failed or cancelled run still produces
// an artifact with whatever records were gathered, so partial progress
// is never silently discarded.
package report

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/use-agent/wardreport/models"
)

// Assembler builds the Report for one run. Records are appended in
// arrival order; Finalize freezes the report and caches the serialized
// artifact so repeated calls return byte-identical output.
type Assembler struct {
	mu       sync.Mutex
	report   models.Report
	pretty   bool
	artifact []byte
}

// NewAssembler creates an empty report for a run that starts now.
func NewAssembler(runID, name string, stepsTotal int, pretty bool) *Assembler {
	return &Assembler{
		pretty: pretty,
		report: models.Report{
			RunID:      runID,
			Name:       name,
			StartedAt:  time.Now().UTC(),
			Status:     models.StatusRunning,
			StepsTotal: stepsTotal,
			Records:    []models.Record{},
		},
	}
}

// Append adds a record in arrival order. Appends after Finalize are
// dropped: the report is read-only once finalized.
func (a *Assembler) Append(rec models.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.artifact != nil {
		slog.Warn("record appended after finalize, dropping", "step", rec.Step)
		return
	}
	a.report.Records = append(a.report.Records, rec)
}

// MarkStepCompleted counts one satisfied step.
func (a *Assembler) MarkStepCompleted() {
	a.mu.Lock()
	a.report.StepsCompleted++
	a.mu.Unlock()
}

// MarkStepFailed counts one failed step.
func (a *Assembler) MarkStepFailed() {
	a.mu.Lock()
	a.report.StepsFailed++
	a.mu.Unlock()
}

// AddSessionRestart counts one crash-triggered session restart.
func (a *Assembler) AddSessionRestart() {
	a.mu.Lock()
	a.report.SessionRestarts++
	a.mu.Unlock()
}

// IncRunAttempts counts one whole-run attempt.
func (a *Assembler) IncRunAttempts() {
	a.mu.Lock()
	a.report.RunAttempts++
	a.mu.Unlock()
}

// ResetProgress drops the records and step counters of an abandoned
// attempt so a whole-run rerun starts clean. Cumulative run metadata
// (attempts, restarts) is kept. No-op once finalized.
func (a *Assembler) ResetProgress() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.artifact != nil {
		return
	}
	a.report.Records = a.report.Records[:0]
	a.report.StepsCompleted = 0
	a.report.StepsFailed = 0
}

// Snapshot returns a copy of the report as accumulated so far.
func (a *Assembler) Snapshot() models.Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	snap := a.report
	snap.Records = append([]models.Record(nil), a.report.Records...)
	return snap
}

// Finalize freezes the report with the given terminal status and
// serializes it. It is idempotent: the first call derives the artifact,
// later calls return the identical bytes regardless of their arguments.
func (a *Assembler) Finalize(status models.RunStatus, failure string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.artifact != nil {
		return a.artifact, nil
	}

	a.report.FinishedAt = time.Now().UTC()
	a.report.Status = status
	a.report.Failure = failure

	var (
		data []byte
		err  error
	)
	if a.pretty {
		data, err = json.MarshalIndent(&a.report, "", "  ")
	} else {
		data, err = json.Marshal(&a.report)
	}
	if err != nil {
		return nil, models.NewPipelineError(models.ErrCodeInternal,
			"report serialization failed", err)
	}

	a.artifact = data
	return a.artifact, nil
}

// Write delivers the artifact to the destination path; "-" writes to
// stdout.
func Write(dest string, artifact []byte) error {
	if dest == "" || dest == "-" {
		_, err := os.Stdout.Write(append(artifact, '\n'))
		return err
	}
	if err := os.WriteFile(dest, artifact, 0o644); err != nil {
		return fmt.Errorf("writing report to %s: %w", dest, err)
	}
	return nil
}

// FormatSummary produces a terminal-friendly, human-readable summary.
func FormatSummary(r *models.Report) string {
	var b strings.Builder

	b.WriteString("========================================\n")
	b.WriteString("  Ward Report Run\n")
	b.WriteString("========================================\n\n")

	if r.Name != "" {
		fmt.Fprintf(&b, "Run:         %s\n", r.Name)
	}
	fmt.Fprintf(&b, "Run ID:      %s\n", r.RunID)
	fmt.Fprintf(&b, "Status:      %s\n", strings.ToUpper(string(r.Status)))
	if r.Failure != "" {
		fmt.Fprintf(&b, "Failure:     %s\n", r.Failure)
	}
	if !r.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "Duration:    %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Steps:       %d total\n", r.StepsTotal)
	fmt.Fprintf(&b, "  Completed: %d\n", r.StepsCompleted)
	fmt.Fprintf(&b, "  Failed:    %d\n", r.StepsFailed)
	if r.SessionRestarts > 0 {
		fmt.Fprintf(&b, "Restarts:    %d\n", r.SessionRestarts)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Records:     %d\n", len(r.Records))
	for _, rec := range r.Records {
		nulls := 0
		for _, fv := range rec.Fields {
			if fv.Value == nil {
				nulls++
			}
		}
		fmt.Fprintf(&b, "  %-24s %d fields", rec.Step, len(rec.Fields))
		if nulls > 0 {
			fmt.Fprintf(&b, " (%d null)", nulls)
		}
		b.WriteString("\n")
	}

	return b.String()
}
