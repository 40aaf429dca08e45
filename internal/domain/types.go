// Package domain defines the core types shared by the analysis server and the
// streaming client: analysis rows, signals, progress, bars, and run summaries.
package domain

import (
	"time"
)

// Market identifies the exchange group a universe of tickers belongs to.
type Market string

const (
	MarketIN Market = "in"
	MarketUS Market = "us"
)

// ---------------------------------------------------------------------------
// Signals
// ---------------------------------------------------------------------------

// Signal is the classification label attached to each analysed row.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
)

// SignalClass is the bucket a Signal is counted in.
type SignalClass int

const (
	ClassOther SignalClass = iota
	ClassBuy
	ClassSell
)

// Classify returns the bucket for s. Only the two exact labels are
// recognised; everything else is ClassOther.
func (s Signal) Classify() SignalClass {
	switch s {
	case SignalBuy:
		return ClassBuy
	case SignalSell:
		return ClassSell
	default:
		return ClassOther
	}
}

// SignalCounts tallies rows by signal class.
type SignalCounts struct {
	Buy   int `json:"buy"`
	Sell  int `json:"sell"`
	Other int `json:"other"`
}

// Add counts one signal.
func (c *SignalCounts) Add(s Signal) {
	switch s.Classify() {
	case ClassBuy:
		c.Buy++
	case ClassSell:
		c.Sell++
	default:
		c.Other++
	}
}

// Total returns the number of counted rows.
func (c SignalCounts) Total() int {
	return c.Buy + c.Sell + c.Other
}

// ---------------------------------------------------------------------------
// Analysis rows
// ---------------------------------------------------------------------------

// AnalysisRow is one ticker's price-shape statistics over the requested
// window. The JSON keys are part of the wire format and must not change.
type AnalysisRow struct {
	Ticker          string  `json:"Ticker"`
	HighEqOpen      float64 `json:"High=Open%"`
	HighGtOpen      float64 `json:"High>Open%"`
	HighGtOpenGtLow float64 `json:"High>Open>Low%"`
	HighEqOpenGtLow float64 `json:"High=Open>Low%"`
	LowEqOpen       float64 `json:"Low=Open%"`
	LowLtOpen       float64 `json:"Low<Open%"`
	Signal          Signal  `json:"Signal"`
}

// ProgressState is the derived progress of a run.
type ProgressState struct {
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Percent   int    `json:"percent"`
	Status    string `json:"status"`
}

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Bar is a single daily OHLCV bar.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// ---------------------------------------------------------------------------
// Run history
// ---------------------------------------------------------------------------

// RunStatus is the terminal state of a recorded run.
type RunStatus string

const (
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunSummary records the outcome of one pipeline run.
type RunSummary struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	StartDate  string
	Rows       int
	Skipped    int
	Warnings   int
	Counts     SignalCounts
	Status     RunStatus
	Error      string
}
