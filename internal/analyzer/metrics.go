// Package analyzer turns daily bars into the per-ticker price-shape row the
// analysis server streams.
package analyzer

import (
	"niftyscan/internal/domain"
)

// Calculate computes the open-relative statistics for bars. It reports false
// when bars is empty, in which case the ticker has no row.
//
// With diffHO = High-Open and diffOL = Open-Low, each metric is the share of
// bars (in percent) matching its condition. Signal is BUY when High>Open%
// beats Low<Open%, SELL otherwise.
func Calculate(symbol string, bars []domain.Bar) (domain.AnalysisRow, bool) {
	if len(bars) == 0 {
		return domain.AnalysisRow{}, false
	}

	var highEq, highGt, highGtLow, highEqLow, lowEq, lowLt int
	for _, b := range bars {
		diffHO := b.High - b.Open
		diffOL := b.Open - b.Low

		switch {
		case diffHO == 0:
			highEq++
			if diffOL > 0 {
				highEqLow++
			}
		case diffHO > 0:
			highGt++
			if diffOL > 0 {
				highGtLow++
			}
		}
		switch {
		case diffOL == 0:
			lowEq++
		case diffOL > 0:
			lowLt++
		}
	}

	n := float64(len(bars))
	pct := func(c int) float64 { return float64(c) / n * 100 }

	row := domain.AnalysisRow{
		Ticker:          domain.DisplayTicker(symbol),
		HighEqOpen:      pct(highEq),
		HighGtOpen:      pct(highGt),
		HighGtOpenGtLow: pct(highGtLow),
		HighEqOpenGtLow: pct(highEqLow),
		LowEqOpen:       pct(lowEq),
		LowLtOpen:       pct(lowLt),
		Signal:          domain.SignalSell,
	}
	if row.HighGtOpen > row.LowLtOpen {
		row.Signal = domain.SignalBuy
	}
	return row, true
}
