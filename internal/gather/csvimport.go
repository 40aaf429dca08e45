package gather

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"niftyscan/internal/domain"
	"niftyscan/internal/store"
)

// csvColumns are the required headers of a daily-bar export, matched
// case-insensitively. Volume is optional.
var csvColumns = []string{"date", "open", "high", "low", "close"}

// ImportCSV loads a daily-bar CSV export (Date,Open,High,Low,Close[,Volume],
// as produced by common quote sites) for symbol into s. Rows with missing
// prices ("null" or empty) are skipped. It returns the number of bars
// written.
func ImportCSV(ctx context.Context, r io.Reader, symbol string, market domain.Market, s store.BarStore) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return 0, fmt.Errorf("reading header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range csvColumns {
		if _, ok := idx[c]; !ok {
			return 0, fmt.Errorf("missing column %q", c)
		}
	}
	volIdx, hasVol := idx["volume"]

	symbol = strings.ToUpper(symbol)
	var bars []domain.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("line %d: %w", line, err)
		}

		ts, err := time.Parse("2006-01-02", field(rec, idx["date"]))
		if err != nil {
			return 0, fmt.Errorf("line %d: %w", line, err)
		}
		var prices [4]float64
		ok := true
		for i, c := range csvColumns[1:] {
			v, perr := strconv.ParseFloat(field(rec, idx[c]), 64)
			if perr != nil {
				ok = false
				break
			}
			prices[i] = v
		}
		if !ok {
			continue
		}

		b := domain.Bar{
			Symbol:    symbol,
			Timestamp: ts,
			Open:      prices[0],
			High:      prices[1],
			Low:       prices[2],
			Close:     prices[3],
		}
		if hasVol {
			if v, err := strconv.ParseFloat(field(rec, volIdx), 64); err == nil {
				b.Volume = int64(v)
			}
		}
		bars = append(bars, b)
	}

	if err := s.WriteBars(ctx, market, bars); err != nil {
		return 0, err
	}
	return len(bars), nil
}

func field(rec []string, i int) string {
	if i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}
