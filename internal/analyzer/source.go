package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"niftyscan/internal/domain"
	"niftyscan/internal/store"
	"niftyscan/internal/util"
)

// BarSource supplies daily bars for one symbol within [start, end].
type BarSource interface {
	Bars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}

// Compile-time interface checks.
var _ BarSource = (*StoreSource)(nil)
var _ BarSource = (*AlpacaSource)(nil)

// ---------------------------------------------------------------------------
// Local Parquet store
// ---------------------------------------------------------------------------

// StoreSource reads bars previously gathered into a BarStore.
type StoreSource struct {
	store  store.BarStore
	market domain.Market
}

// NewStoreSource returns a BarSource over s for the given market.
func NewStoreSource(s store.BarStore, market domain.Market) *StoreSource {
	return &StoreSource{store: s, market: market}
}

// Bars reads stored bars for symbol.
func (s *StoreSource) Bars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	return s.store.ReadBars(ctx, s.market, symbol, start, end)
}

// ---------------------------------------------------------------------------
// Alpaca market-data API
// ---------------------------------------------------------------------------

// BarsGetter is the subset of *marketdata.Client used here.
type BarsGetter interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// AlpacaOptions configures an AlpacaSource.
type AlpacaOptions struct {
	APIKey    string
	APISecret string
	DataURL   string
	Feed      string
	// Attempts and BaseDelay control retries of a failed request.
	Attempts  int
	BaseDelay time.Duration
}

// AlpacaSource fetches daily bars on demand.
type AlpacaSource struct {
	client    BarsGetter
	feed      string
	attempts  int
	baseDelay time.Duration
	log       *slog.Logger
}

// NewAlpacaSource creates an AlpacaSource backed by a marketdata client.
func NewAlpacaSource(opts AlpacaOptions, log *slog.Logger) *AlpacaSource {
	copts := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.DataURL != "" {
		copts.BaseURL = opts.DataURL
	}
	return NewAlpacaSourceWithClient(marketdata.NewClient(copts), opts, log)
}

// NewAlpacaSourceWithClient is NewAlpacaSource with an explicit client.
func NewAlpacaSourceWithClient(client BarsGetter, opts AlpacaOptions, log *slog.Logger) *AlpacaSource {
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}
	return &AlpacaSource{
		client:    client,
		feed:      opts.Feed,
		attempts:  opts.Attempts,
		baseDelay: opts.BaseDelay,
		log:       log.With("source", "alpaca"),
	}
}

// Bars fetches daily bars for symbol, retrying transient failures with
// exponential backoff.
func (s *AlpacaSource) Bars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	var raw []marketdata.Bar
	err := util.Retry(ctx, s.attempts, s.baseDelay, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		raw, err = s.client.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     start,
			End:       end,
			Feed:      marketdata.Feed(s.feed),
		})
		if err != nil {
			s.log.Debug("GetBars failed", "symbol", symbol, "err", err)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("GetBars %s: %w", symbol, err)
	}
	return convertBars(symbol, raw), nil
}

func convertBars(symbol string, raw []marketdata.Bar) []domain.Bar {
	bars := make([]domain.Bar, 0, len(raw))
	for _, ab := range raw {
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
	return bars
}
