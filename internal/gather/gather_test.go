package gather

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"niftyscan/internal/domain"
	"niftyscan/internal/store"
)

type fakeMulti struct {
	mu    sync.Mutex
	data  map[string][]marketdata.Bar
	calls [][]string
	reqs  []marketdata.GetBarsRequest
	err   error
}

func (f *fakeMulti) GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), symbols...))
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string][]marketdata.Bar)
	for _, s := range symbols {
		for _, b := range f.data[s] {
			if !b.Timestamp.Before(req.Start) && !b.Timestamp.After(req.End) {
				out[s] = append(out[s], b)
			}
		}
	}
	return out, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mdBar(day int, open float64) marketdata.Bar {
	return marketdata.Bar{
		Timestamp: time.Date(2024, 1, day, 5, 0, 0, 0, time.UTC),
		Open:      open, High: open + 1, Low: open - 1, Close: open, Volume: 100,
	}
}

func newTestGatherer(t *testing.T, client MultiBarsGetter, universe []string) (*DailyBarGatherer, *store.ParquetStore) {
	t.Helper()
	ps := store.NewParquetStore(t.TempDir())
	g := NewDailyBarGathererWithClient(client, ps, DailyOptions{
		Market:     domain.MarketUS,
		Universe:   universe,
		StartDate:  "2024-01-01",
		BatchSize:  2,
		MaxWorkers: 2,
	}, quietLogger())
	g.retryDelay = time.Millisecond
	g.now = func() time.Time { return time.Date(2024, 1, 5, 15, 0, 0, 0, time.UTC) }
	return g, ps
}

func TestDailyBarGathererRun(t *testing.T) {
	client := &fakeMulti{data: map[string][]marketdata.Bar{
		"AAPL": {mdBar(2, 10), mdBar(3, 11), mdBar(4, 12)},
		"MSFT": {mdBar(2, 20), mdBar(3, 21)},
	}}
	g, ps := newTestGatherer(t, client, []string{"AAPL", "MSFT", "ZZZZ"})
	ctx := context.Background()

	if err := g.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	bars, err := ps.ReadBars(ctx, domain.MarketUS, "AAPL", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC))
	if err != nil || len(bars) != 3 {
		t.Fatalf("AAPL bars = %d, %v; want 3", len(bars), err)
	}
	if len(client.calls) != 2 {
		t.Errorf("API calls = %d, want 2 batches", len(client.calls))
	}
	for _, req := range client.reqs {
		if req.TimeFrame != marketdata.OneDay {
			t.Errorf("TimeFrame = %v", req.TimeFrame)
		}
	}

	dir := filepath.Join(ps.DataDir, "us", "daily")
	data, _ := os.ReadFile(filepath.Join(dir, ".last-completed"))
	if string(data) != "2024-01-04" {
		t.Errorf(".last-completed = %q, want 2024-01-04", data)
	}
	empty, _ := os.ReadFile(filepath.Join(dir, ".tried-empty"))
	if strings.TrimSpace(string(empty)) != "ZZZZ" {
		t.Errorf(".tried-empty = %q, want ZZZZ", empty)
	}

	// Same day: nothing to do.
	client.calls = nil
	if err := g.Run(ctx); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(client.calls) != 0 {
		t.Errorf("second Run made %d calls, want 0", len(client.calls))
	}
}

func TestDailyBarGathererIncremental(t *testing.T) {
	client := &fakeMulti{data: map[string][]marketdata.Bar{
		"AAPL": {mdBar(2, 10), mdBar(3, 11)},
	}}
	g, ps := newTestGatherer(t, client, []string{"AAPL"})
	g.now = func() time.Time { return time.Date(2024, 1, 4, 1, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	if err := g.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Next day the API has one more bar; only the new day is requested.
	client.data["AAPL"] = append(client.data["AAPL"], mdBar(4, 12))
	client.reqs = nil
	g.now = func() time.Time { return time.Date(2024, 1, 5, 1, 0, 0, 0, time.UTC) }
	if err := g.Run(ctx); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(client.reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(client.reqs))
	}
	if want := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC); !client.reqs[0].Start.Equal(want) {
		t.Errorf("incremental start = %s, want %s", client.reqs[0].Start, want)
	}

	bars, _ := ps.ReadBars(ctx, domain.MarketUS, "AAPL", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC))
	if len(bars) != 3 {
		t.Errorf("AAPL bars = %d, want 3", len(bars))
	}
}

func TestDailyBarGathererFailureNotMarkedComplete(t *testing.T) {
	client := &fakeMulti{err: errors.New("unauthorized")}
	g, ps := newTestGatherer(t, client, []string{"AAPL"})

	if err := g.Run(context.Background()); err == nil {
		t.Fatal("Run should report failed batches")
	}
	if _, err := os.Stat(filepath.Join(ps.DataDir, "us", "daily", ".last-completed")); !os.IsNotExist(err) {
		t.Error(".last-completed written despite failure")
	}
}

func TestProgressTrackerMarkEmpty(t *testing.T) {
	dir := t.TempDir()

	pt, err := newProgressTracker(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := pt.MarkEmpty([]string{"AAAA", "BBBB"}); err != nil {
		t.Fatal(err)
	}
	pt.Close()

	// Reload and verify.
	pt2, err := newProgressTracker(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer pt2.Close()

	for _, sym := range []string{"AAAA", "BBBB"} {
		if !pt2.IsTriedEmpty(sym) {
			t.Errorf("expected %q to be tried-empty after reload", sym)
		}
	}
	if pt2.IsTriedEmpty("CCCC") {
		t.Error("CCCC should not be tried-empty")
	}

	if err := pt2.Reset(); err != nil {
		t.Fatal(err)
	}
	if pt2.IsTriedEmpty("AAAA") {
		t.Error("AAAA should not be tried-empty after reset")
	}
}

func TestProgressTrackerCompleted(t *testing.T) {
	pt, err := newProgressTracker(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer pt.Close()

	if pt.IsCompleted("2025-02-10") {
		t.Error("should not be completed before marking")
	}
	if err := pt.MarkCompleted("2025-02-10"); err != nil {
		t.Fatal(err)
	}
	if !pt.IsCompleted("2025-02-10") || pt.IsCompleted("2025-02-11") {
		t.Error("completion date not tracked")
	}
}

func TestImportCSV(t *testing.T) {
	ps := store.NewParquetStore(t.TempDir())
	ctx := context.Background()
	csvData := `Date,Open,High,Low,Close,Adj Close,Volume
2024-01-01,3800.0,3850.5,3790.0,3840.0,3830.1,1500000
2024-01-02,null,null,null,null,null,null
2024-01-03,3840.0,3840.0,3800.0,3810.0,3805.2,1200000
`
	n, err := ImportCSV(ctx, strings.NewReader(csvData), "tcs.ns", domain.MarketIN, ps)
	if err != nil {
		t.Fatalf("ImportCSV: %v", err)
	}
	if n != 2 {
		t.Errorf("imported %d bars, want 2 (null row skipped)", n)
	}

	bars, err := ps.ReadBars(ctx, domain.MarketIN, "TCS.NS", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC))
	if err != nil || len(bars) != 2 {
		t.Fatalf("ReadBars = %d, %v", len(bars), err)
	}
	if bars[0].High != 3850.5 || bars[0].Volume != 1500000 || bars[0].Symbol != "TCS.NS" {
		t.Errorf("first bar = %+v", bars[0])
	}
}

func TestImportCSVMissingColumn(t *testing.T) {
	ps := store.NewParquetStore(t.TempDir())
	_, err := ImportCSV(context.Background(), strings.NewReader("Date,Open,Close\n2024-01-01,1,2\n"), "X", domain.MarketIN, ps)
	if err == nil || !strings.Contains(err.Error(), "high") {
		t.Errorf("err = %v, want missing column", err)
	}
}
