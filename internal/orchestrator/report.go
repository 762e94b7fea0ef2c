package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/loykin/aistack/internal/history"
	"github.com/loykin/aistack/internal/metrics"
)

// Outcome classifies a workflow step.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Verdict is the aggregate result of a workflow run.
type Verdict string

const (
	VerdictSuccess Verdict = "success"
	VerdictPartial Verdict = "partial"
	VerdictFailure Verdict = "failure"
)

// StepResult is one entry in an orchestration report.
type StepResult struct {
	Step    string    `json:"step"`
	Outcome Outcome   `json:"outcome"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}

// Report accumulates per-step outcomes during a single workflow run.
// Entries are append-only while the workflow executes and must not be
// mutated after Finish.
type Report struct {
	Workflow   string       `json:"workflow"`
	Steps      []StepResult `json:"steps"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

func NewReport(workflow string) *Report {
	return &Report{Workflow: workflow, StartedAt: time.Now()}
}

// Add appends a step outcome. Failed steps carry a reason.
func (r *Report) Add(step string, outcome Outcome, reason string) {
	r.Steps = append(r.Steps, StepResult{Step: step, Outcome: outcome, Reason: reason, At: time.Now()})
	metrics.IncWorkflowStep(r.Workflow, step, string(outcome))
}

// Verdict reduces the step outcomes: success when nothing failed, failure
// when nothing succeeded, partial otherwise.
func (r *Report) Verdict() Verdict {
	var ok, failed int
	for _, s := range r.Steps {
		switch s.Outcome {
		case OutcomeFailed:
			failed++
		case OutcomeOK:
			ok++
		}
	}
	switch {
	case failed == 0:
		return VerdictSuccess
	case ok == 0:
		return VerdictFailure
	default:
		return VerdictPartial
	}
}

// Failed reports whether any step failed.
func (r *Report) Failed() bool {
	for _, s := range r.Steps {
		if s.Outcome == OutcomeFailed {
			return true
		}
	}
	return false
}

// Finish stamps the report, logs a summary and exports every step to the
// given history sinks. Sink errors are logged, never propagated.
func (r *Report) Finish(ctx context.Context, log *slog.Logger, sinks []history.Sink) {
	r.FinishedAt = time.Now()
	log.Info("workflow finished",
		"workflow", r.Workflow,
		"verdict", string(r.Verdict()),
		"steps", len(r.Steps),
		"elapsed", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	for _, s := range r.Steps {
		level := slog.LevelInfo
		if s.Outcome == OutcomeFailed {
			level = slog.LevelWarn
		}
		log.Log(ctx, level, "step", "name", s.Step, "outcome", string(s.Outcome), "reason", s.Reason)
		for _, sink := range sinks {
			e := history.Event{
				Workflow:   r.Workflow,
				Step:       s.Step,
				Outcome:    string(s.Outcome),
				Reason:     s.Reason,
				OccurredAt: s.At,
			}
			if err := sink.Send(ctx, e); err != nil {
				log.Warn("history sink send failed", "error", err)
			}
		}
	}
}
