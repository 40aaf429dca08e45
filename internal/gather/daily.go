package gather

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"golang.org/x/sync/errgroup"

	"niftyscan/internal/domain"
	"niftyscan/internal/store"
	"niftyscan/internal/util"
)

var _ Gatherer = (*DailyBarGatherer)(nil)

// MultiBarsGetter is the subset of *marketdata.Client the gatherer needs.
type MultiBarsGetter interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// DailyOptions configures a DailyBarGatherer.
type DailyOptions struct {
	Market          domain.Market
	Universe        []string
	StartDate       string
	BatchSize       int // symbols per API call
	MaxWorkers      int // concurrent API calls
	RateLimitPerMin int
	Feed            string
}

// DailyBarGatherer keeps the Parquet store's daily bars for the universe up
// to date with the Alpaca market-data API. Each run fetches only the days
// after a symbol's newest stored bar.
type DailyBarGatherer struct {
	client  MultiBarsGetter
	store   *store.ParquetStore
	opts    DailyOptions
	limiter *util.RateLimiter
	log     *slog.Logger
	now     func() time.Time

	retryDelay time.Duration
}

// NewDailyBarGatherer creates a DailyBarGatherer with an Alpaca client built
// from the given credentials.
func NewDailyBarGatherer(apiKey, apiSecret, dataURL string, s *store.ParquetStore, opts DailyOptions, log *slog.Logger) *DailyBarGatherer {
	copts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		copts.BaseURL = dataURL
	}
	return NewDailyBarGathererWithClient(marketdata.NewClient(copts), s, opts, log)
}

// NewDailyBarGathererWithClient is NewDailyBarGatherer with an explicit client.
func NewDailyBarGathererWithClient(client MultiBarsGetter, s *store.ParquetStore, opts DailyOptions, log *slog.Logger) *DailyBarGatherer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &DailyBarGatherer{
		client:  client,
		store:   s,
		opts:    opts,
		limiter: util.NewRateLimiter(opts.RateLimitPerMin),
		log:     log.With("gatherer", "daily", "market", string(opts.Market)),
		now:     time.Now,

		retryDelay: time.Second,
	}
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return "daily-bars" }

// Run fetches missing daily bars for every universe symbol through the last
// closed day. It is resumable and idempotent within a day.
func (g *DailyBarGatherer) Run(ctx context.Context) error {
	start, err := time.Parse("2006-01-02", g.opts.StartDate)
	if err != nil {
		return fmt.Errorf("parsing start date %q: %w", g.opts.StartDate, err)
	}

	// 1. End at the last fully closed day.
	today := g.now().UTC().Truncate(24 * time.Hour)
	end := today.Add(-time.Nanosecond)
	endStr := today.AddDate(0, 0, -1).Format("2006-01-02")

	// 2. Progress tracker.
	dir := filepath.Join(g.store.DataDir, string(g.opts.Market), "daily")
	tracker, err := newProgressTracker(dir)
	if err != nil {
		return fmt.Errorf("creating progress tracker: %w", err)
	}
	defer tracker.Close()

	if tracker.IsCompleted(endStr) {
		g.log.Info("already completed", "endDate", endStr)
		return nil
	}
	if last := tracker.LastCompleted(); last != "" && last != endStr {
		// New day: symbols that were empty before may have listed since.
		if err := tracker.Reset(); err != nil {
			return fmt.Errorf("resetting tracker: %w", err)
		}
	}

	// 3. Work out what each symbol still needs.
	type pending struct {
		symbol string
		rng    DateRange
		fresh  bool // nothing stored yet
	}
	var work []pending
	for _, sym := range g.opts.Universe {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" || tracker.IsTriedEmpty(sym) {
			continue
		}
		last, err := g.store.LastBarTime(g.opts.Market, sym)
		if err != nil {
			return fmt.Errorf("reading last bar for %s: %w", sym, err)
		}
		rng := DateRange{Start: start, End: end}
		if !last.IsZero() {
			rng.Start = last.UTC().Truncate(24*time.Hour).AddDate(0, 0, 1)
		}
		if rng.Empty() {
			continue
		}
		work = append(work, pending{symbol: sym, rng: rng, fresh: last.IsZero()})
	}

	var batches [][]pending
	for i := 0; i < len(work); i += g.opts.BatchSize {
		batches = append(batches, work[i:min(i+g.opts.BatchSize, len(work))])
	}

	g.log.Info("starting daily gather",
		"endDate", endStr,
		"universe", len(g.opts.Universe),
		"pending", len(work),
		"batches", len(batches),
	)

	// 4. Fetch batches concurrently.
	var (
		totalBars atomic.Int64
		failed    atomic.Int64
		runStart  = time.Now()
	)
	sem := make(chan struct{}, g.opts.MaxWorkers)
	eg, gctx := errgroup.WithContext(ctx)

	for i, batch := range batches {
		eg.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			symbols := make([]string, len(batch))
			from := batch[0].rng.Start
			for j, p := range batch {
				symbols[j] = p.symbol
				if p.rng.Start.Before(from) {
					from = p.rng.Start
				}
			}

			bars, err := g.fetch(gctx, symbols, DateRange{Start: from, End: end})
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				g.log.Error("batch fetch failed", "batch", fmt.Sprintf("%d/%d", i+1, len(batches)), "err", err)
				return nil
			}

			hit := make(map[string]struct{})
			for _, b := range bars {
				hit[b.Symbol] = struct{}{}
			}
			var empty []string
			for _, p := range batch {
				if _, ok := hit[p.symbol]; !ok && p.fresh {
					empty = append(empty, p.symbol)
				}
			}

			if err := g.store.WriteBars(gctx, g.opts.Market, bars); err != nil {
				failed.Add(1)
				g.log.Error("writing bars failed", "err", err)
				return nil
			}
			if err := tracker.MarkEmpty(empty); err != nil {
				g.log.Error("marking empty failed", "err", err)
			}

			totalBars.Add(int64(len(bars)))
			g.log.Info("batch done",
				"batch", fmt.Sprintf("%d/%d", i+1, len(batches)),
				"bars", len(bars),
				"empty", len(empty),
				"elapsed", time.Since(runStart).Round(time.Second),
			)
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return err
	}
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d batches failed", n, len(batches))
	}

	// 5. Mark completed.
	if err := tracker.MarkCompleted(endStr); err != nil {
		return fmt.Errorf("marking completed: %w", err)
	}
	g.log.Info("complete", "bars", totalBars.Load(), "elapsed", time.Since(runStart).Round(time.Second))
	return nil
}

// fetch pulls one batch, paced by the rate limiter and retried with backoff.
func (g *DailyBarGatherer) fetch(ctx context.Context, symbols []string, rng DateRange) ([]domain.Bar, error) {
	var multi map[string][]marketdata.Bar
	err := util.Retry(ctx, 3, g.retryDelay, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		multi, err = g.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     rng.Start,
			End:       rng.End,
			Feed:      marketdata.Feed(g.opts.Feed),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	var bars []domain.Bar
	for symbol, alpacaBars := range multi {
		for _, ab := range alpacaBars {
			bars = append(bars, domain.Bar{
				Symbol:     strings.ToUpper(symbol),
				Timestamp:  ab.Timestamp,
				Open:       ab.Open,
				High:       ab.High,
				Low:        ab.Low,
				Close:      ab.Close,
				Volume:     int64(ab.Volume),
				TradeCount: int64(ab.TradeCount),
				VWAP:       ab.VWAP,
			})
		}
	}
	return bars, nil
}
