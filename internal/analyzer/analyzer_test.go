package analyzer

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"niftyscan/internal/domain"
	"niftyscan/internal/store"
)

func bar(open, high, low float64) domain.Bar {
	return domain.Bar{Open: open, High: high, Low: low, Close: open}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestCalculate(t *testing.T) {
	bars := []domain.Bar{
		bar(100, 100, 95),  // High=Open, Open>Low
		bar(100, 105, 100), // High>Open, Low=Open
		bar(100, 105, 95),  // High>Open, Open>Low
		bar(100, 100, 100), // flat
	}
	row, ok := Calculate("TCS.NS", bars)
	if !ok {
		t.Fatal("Calculate reported no row")
	}

	if row.Ticker != "TCS" {
		t.Errorf("Ticker = %q, want suffix stripped", row.Ticker)
	}
	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"High=Open%", row.HighEqOpen, 50},
		{"High>Open%", row.HighGtOpen, 50},
		{"High>Open>Low%", row.HighGtOpenGtLow, 25},
		{"High=Open>Low%", row.HighEqOpenGtLow, 25},
		{"Low=Open%", row.LowEqOpen, 50},
		{"Low<Open%", row.LowLtOpen, 50},
	}
	for _, c := range checks {
		if !near(c.got, c.want) {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	// Tie goes to SELL.
	if row.Signal != domain.SignalSell {
		t.Errorf("Signal = %s, want SELL on tie", row.Signal)
	}
}

func TestCalculateSignal(t *testing.T) {
	// 2/3 High>Open vs 2/3 Low<Open.
	row, _ := Calculate("INFY.NS", []domain.Bar{bar(10, 11, 10), bar(10, 11, 9), bar(10, 10, 9)})
	if row.Signal != domain.SignalSell {
		t.Errorf("equal shares: Signal = %s, want SELL", row.Signal)
	}

	row, _ = Calculate("INFY.NS", []domain.Bar{bar(10, 11, 10), bar(10, 11, 10), bar(10, 10, 9)})
	if row.Signal != domain.SignalBuy {
		t.Errorf("Signal = %s, want BUY", row.Signal)
	}
}

func TestCalculateNoBars(t *testing.T) {
	if _, ok := Calculate("TCS.NS", nil); ok {
		t.Error("Calculate(nil) should report no row")
	}
}

type fakeGetter struct {
	fails int
	calls int
	req   marketdata.GetBarsRequest
	bars  []marketdata.Bar
}

func (g *fakeGetter) GetBars(_ string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error) {
	g.calls++
	g.req = req
	if g.calls <= g.fails {
		return nil, errors.New("429 too many requests")
	}
	return g.bars, nil
}

func TestAlpacaSourceRetries(t *testing.T) {
	ts := time.Date(2024, 1, 2, 5, 0, 0, 0, time.UTC)
	g := &fakeGetter{fails: 2, bars: []marketdata.Bar{
		{Timestamp: ts, Open: 10, High: 12, Low: 9, Close: 11, Volume: 1000, TradeCount: 10, VWAP: 10.5},
	}}
	src := NewAlpacaSourceWithClient(g, AlpacaOptions{Feed: "iex", Attempts: 3, BaseDelay: time.Millisecond}, nil)

	bars, err := src.Bars(context.Background(), "aapl", ts.AddDate(0, 0, -5), ts)
	if err != nil {
		t.Fatalf("Bars: %v", err)
	}
	if g.calls != 3 {
		t.Errorf("calls = %d, want 3", g.calls)
	}
	if g.req.TimeFrame != marketdata.OneDay {
		t.Errorf("TimeFrame = %v, want one day", g.req.TimeFrame)
	}
	if len(bars) != 1 || bars[0].Symbol != "AAPL" || bars[0].Volume != 1000 || bars[0].High != 12 {
		t.Errorf("bars = %+v", bars)
	}
}

func TestAlpacaSourceGivesUp(t *testing.T) {
	g := &fakeGetter{fails: 10}
	src := NewAlpacaSourceWithClient(g, AlpacaOptions{Attempts: 2, BaseDelay: time.Millisecond}, nil)

	if _, err := src.Bars(context.Background(), "AAPL", time.Now().AddDate(-1, 0, 0), time.Now()); err == nil {
		t.Fatal("Bars should fail after exhausting attempts")
	}
	if g.calls != 2 {
		t.Errorf("calls = %d, want 2", g.calls)
	}
}

func TestAnalyzerFromStore(t *testing.T) {
	ps := store.NewParquetStore(t.TempDir())
	ctx := context.Background()
	d := func(day int) time.Time { return time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC) }

	err := ps.WriteBars(ctx, domain.MarketIN, []domain.Bar{
		{Symbol: "TCS.NS", Timestamp: d(2), Open: 100, High: 105, Low: 100, Close: 104},
		{Symbol: "TCS.NS", Timestamp: d(3), Open: 104, High: 106, Low: 104, Close: 105},
	})
	if err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	a := New(NewStoreSource(ps, domain.MarketIN))
	a.now = func() time.Time { return d(31) }

	row, err := a.Analyze(ctx, "TCS.NS", d(1))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if row == nil || row.Ticker != "TCS" || row.Signal != domain.SignalBuy || !near(row.HighGtOpen, 100) {
		t.Errorf("row = %+v", row)
	}

	missing, err := a.Analyze(ctx, "WIPRO.NS", d(1))
	if err != nil || missing != nil {
		t.Errorf("Analyze(missing) = %+v, %v; want nil, nil", missing, err)
	}
}
