package analyzer

import (
	"context"
	"time"

	"niftyscan/internal/domain"
)

// Analyzer computes rows from a BarSource.
type Analyzer struct {
	source BarSource
	now    func() time.Time
}

// New creates an Analyzer reading from source.
func New(source BarSource) *Analyzer {
	return &Analyzer{source: source, now: time.Now}
}

// Analyze returns the row for symbol over [start, now). A nil row with a nil
// error means the symbol has no bars in the window.
func (a *Analyzer) Analyze(ctx context.Context, symbol string, start time.Time) (*domain.AnalysisRow, error) {
	bars, err := a.source.Bars(ctx, symbol, start, a.now())
	if err != nil {
		return nil, err
	}
	row, ok := Calculate(symbol, bars)
	if !ok {
		return nil, nil
	}
	return &row, nil
}
