// Package httpapi serves the analysis stream and its supporting endpoints
// over HTTP.
package httpapi

import (
	"niftyscan/internal/domain"
)

// UniverseResponse is the body of GET /api/universe.
type UniverseResponse struct {
	Market  domain.Market `json:"market"`
	Tickers []string      `json:"tickers"`
	Count   int           `json:"count"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status   string `json:"status"`
	Streams  int64  `json:"activeStreams"`
	Universe int    `json:"universe"`
}
