// Package analysis folds a decoded analysis stream into render state and
// drives one pipeline run from source to sink.
package analysis

import (
	"log/slog"

	"niftyscan/internal/domain"
	"niftyscan/internal/stream"
)

// Sink receives incremental updates for one run. Calls arrive in stream
// order from a single goroutine.
type Sink interface {
	// OnRow is called once per decoded row.
	OnRow(row domain.AnalysisRow, index, total int)
	// OnProgress is called alongside each row, at start, and at completion.
	OnProgress(p domain.ProgressState)
	// OnComplete is called exactly once for a run that reaches "done".
	OnComplete(res Result)
	// OnError is called at most once and ends the run's delivery.
	OnError(kind stream.Kind, detail string)
}

// WarningSink is implemented by sinks that want non-fatal StateErrors.
type WarningSink interface {
	OnWarning(err *stream.Error)
}

// Result is the accumulated state of a run.
type Result struct {
	Rows     []domain.AnalysisRow
	Counts   domain.SignalCounts
	Skipped  int // stock messages with null data
	Warnings int
	Progress domain.ProgressState
}

// Reducer applies messages for a single run. Create one per run.
type Reducer struct {
	sink Sink
	log  *slog.Logger

	rows      []domain.AnalysisRow
	counts    domain.SignalCounts
	skipped   int
	warnings  int
	lastIndex int
	total     int // -1 until the first stock message
	progress  domain.ProgressState
	done      bool
}

// NewReducer creates a Reducer that forwards to sink.
func NewReducer(sink Sink, log *slog.Logger) *Reducer {
	if log == nil {
		log = slog.Default()
	}
	return &Reducer{
		sink:      sink,
		log:       log,
		lastIndex: -1,
		total:     -1,
		progress:  StartProgress(),
	}
}

// Apply folds one message into the run state.
func (r *Reducer) Apply(msg stream.Message) {
	if msg.IsDone() {
		r.complete()
		return
	}

	if r.done {
		r.warn("stock message for index %d after completion", msg.Index)
		return
	}

	r.checkIndex(msg)

	// Progress never moves backwards within a run, even when the announced
	// total changes. Processed stays within the current total.
	processed := max(msg.Index+1, r.progress.Processed)
	if msg.Total > 0 {
		processed = min(processed, msg.Total)
	}
	r.progress = progressAtLeast(processed, msg.Total, r.progress.Percent)

	if msg.Data == nil {
		r.skipped++
		r.log.Debug("no data for row", "index", msg.Index, "total", msg.Total)
	} else {
		row := *msg.Data
		r.rows = append(r.rows, row)
		r.counts.Add(row.Signal)
		r.sink.OnRow(row, msg.Index, msg.Total)
	}
	r.sink.OnProgress(r.progress)
}

// Done reports whether the completion marker has been applied.
func (r *Reducer) Done() bool { return r.done }

// Result returns a snapshot of the accumulated state.
func (r *Reducer) Result() Result {
	rows := make([]domain.AnalysisRow, len(r.rows))
	copy(rows, r.rows)
	return Result{
		Rows:     rows,
		Counts:   r.counts,
		Skipped:  r.skipped,
		Warnings: r.warnings,
		Progress: r.progress,
	}
}

func (r *Reducer) checkIndex(msg stream.Message) {
	switch {
	case r.total >= 0 && msg.Total != r.total:
		r.warn("total changed from %d to %d", r.total, msg.Total)
	case msg.Index >= msg.Total:
		r.warn("index %d out of range for total %d", msg.Index, msg.Total)
	case msg.Index <= r.lastIndex:
		r.warn("index %d does not advance past %d", msg.Index, r.lastIndex)
	}
	r.lastIndex = max(r.lastIndex, msg.Index)
	r.total = msg.Total
}

func (r *Reducer) complete() {
	if r.done {
		r.log.Debug("duplicate completion ignored")
		return
	}
	r.done = true

	delivered := len(r.rows) + r.skipped
	switch {
	case delivered == 0 && r.total > 0:
		r.warn("completed with no rows but total %d", r.total)
	case r.total >= 0 && delivered != r.total:
		r.warn("completed after %d of %d rows", delivered, r.total)
	}

	total := max(r.total, 0)
	r.progress = CompleteProgress(r.progress.Processed, total)
	r.sink.OnProgress(r.progress)
	r.sink.OnComplete(r.Result())
}

func (r *Reducer) warn(format string, args ...any) {
	r.warnings++
	err := stream.Errorf(stream.StateError, nil, format, args...)
	r.log.Warn("analysis stream inconsistency", "detail", err.Detail)
	if ws, ok := r.sink.(WarningSink); ok {
		ws.OnWarning(err)
	}
}
