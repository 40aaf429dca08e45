package analysis

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"niftyscan/internal/domain"
	"niftyscan/internal/store"
)

// Runner executes pipeline runs and records each one in a RunStore. Its Run
// method has the shape the refresh orchestrator schedules.
type Runner struct {
	pipeline *Pipeline
	history  store.RunStore
	sink     Sink
	request  func() Request
	log      *slog.Logger
	now      func() time.Time
}

// NewRunner creates a Runner. history may be nil to skip recording. request
// is consulted at the start of every run so the caller can change the start
// date between runs.
func NewRunner(p *Pipeline, history store.RunStore, sink Sink, request func() Request, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		pipeline: p,
		history:  history,
		sink:     sink,
		request:  request,
		log:      log.With("component", "runner"),
		now:      time.Now,
	}
}

// Run performs one run and saves its summary, successful or not. A failure
// to save is logged and does not change the returned error.
func (r *Runner) Run(ctx context.Context) error {
	req := r.request()
	summary := domain.RunSummary{
		ID:        uuid.NewString(),
		StartedAt: r.now().UTC(),
		StartDate: req.StartDate,
	}

	res, err := r.pipeline.Run(ctx, req, r.sink)

	summary.FinishedAt = r.now().UTC()
	summary.Rows = len(res.Rows)
	summary.Skipped = res.Skipped
	summary.Warnings = res.Warnings
	summary.Counts = res.Counts
	summary.Status = domain.RunStatusComplete
	if err != nil {
		summary.Status = domain.RunStatusFailed
		summary.Error = err.Error()
	}

	if r.history != nil {
		// Recording must survive a cancelled run context.
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if serr := r.history.SaveRun(sctx, summary, res.Rows); serr != nil {
			r.log.Error("saving run history", "id", summary.ID, "error", serr)
		}
	}
	return err
}
