package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"niftyscan/internal/domain"
	"niftyscan/internal/stream"
	"niftyscan/internal/util"
)

// Analyzer computes the row for one ticker. A nil row with a nil error means
// the ticker has no data in the window.
type Analyzer interface {
	Analyze(ctx context.Context, symbol string, start time.Time) (*domain.AnalysisRow, error)
}

// Options configures a Server.
type Options struct {
	Market       domain.Market
	Universe     []string
	DefaultStart string
	// PacePerMin bounds tickers streamed per minute on each request;
	// negative disables pacing.
	PacePerMin int
}

// Server streams analysis results as newline-delimited JSON.
type Server struct {
	analyzer Analyzer
	opts     Options
	metrics  *Metrics
	log      *slog.Logger

	streams atomic.Int64
}

// NewServer creates a Server. metrics may be nil.
func NewServer(analyzer Analyzer, opts Options, metrics *Metrics, log *slog.Logger) *Server {
	if opts.DefaultStart == "" {
		opts.DefaultStart = "2008-01-01"
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		analyzer: analyzer,
		opts:     opts,
		metrics:  metrics,
		log:      log.With("component", "httpapi"),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/run_analysis", s.handleRunAnalysis)
	mux.HandleFunc("GET /api/universe", s.handleUniverse)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

// handleRunAnalysis streams one stock message per universe ticker, in order,
// followed by the done marker:
//
//	GET /api/run_analysis?start=2008-01-01&progress=true
//
// A ticker that fails or has no bars is sent with null data so the client's
// progress still advances.
func (s *Server) handleRunAnalysis(w http.ResponseWriter, r *http.Request) {
	startStr := r.URL.Query().Get("start")
	if startStr == "" {
		startStr = s.opts.DefaultStart
	}
	start, err := time.Parse("2006-01-02", startStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid start date %q", startStr))
		return
	}
	showProgress, _ := strconv.ParseBool(r.URL.Query().Get("progress"))

	ctx := r.Context()
	h := w.Header()
	h.Set("Cache-Control", "no-cache")
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	rc.Flush()

	s.streams.Add(1)
	s.metrics.active.Inc()
	defer func() {
		s.streams.Add(-1)
		s.metrics.active.Dec()
	}()

	runStart := time.Now()
	total := len(s.opts.Universe)
	limiter := util.NewRateLimiter(s.opts.PacePerMin)
	log := s.log.With("start", startStr, "total", total)
	log.Info("analysis stream started", "progress", showProgress, "remote", r.RemoteAddr)

	var nulls int
	for i, symbol := range s.opts.Universe {
		if err := limiter.Wait(ctx); err != nil {
			s.abort(log, runStart, i, err)
			return
		}

		row, err := s.analyzer.Analyze(ctx, symbol, start)
		if err != nil {
			if ctx.Err() != nil {
				s.abort(log, runStart, i, ctx.Err())
				return
			}
			log.Warn("analysis failed", "symbol", symbol, "error", err)
			row = nil
		}
		if row == nil {
			nulls++
			s.metrics.nullRows.Inc()
		}

		if err := s.send(w, rc, stream.Message{Type: stream.TypeStock, Data: row, Index: i, Total: total}); err != nil {
			s.abort(log, runStart, i, err)
			return
		}
		s.metrics.rows.Inc()
	}

	if err := s.send(w, rc, stream.Message{Type: stream.TypeDone}); err != nil {
		s.abort(log, runStart, total, err)
		return
	}

	elapsed := time.Since(runStart)
	s.metrics.runs.WithLabelValues(runComplete).Inc()
	s.metrics.runDuration.Observe(elapsed.Seconds())
	log.Info("analysis stream complete", "nullRows", nulls, "elapsed", elapsed.Round(time.Millisecond))
}

// send writes one line and flushes it to the client.
func (s *Server) send(w http.ResponseWriter, rc *http.ResponseController, m stream.Message) error {
	line, err := stream.EncodeMessage(m)
	if err != nil {
		return err
	}
	if _, err := w.Write(line); err != nil {
		return err
	}
	if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

func (s *Server) abort(log *slog.Logger, runStart time.Time, sent int, err error) {
	s.metrics.runs.WithLabelValues(runAborted).Inc()
	s.metrics.runDuration.Observe(time.Since(runStart).Seconds())
	log.Info("analysis stream aborted", "sent", sent, "reason", err)
}

func (s *Server) handleUniverse(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, UniverseResponse{
		Market:  s.opts.Market,
		Tickers: s.opts.Universe,
		Count:   len(s.opts.Universe),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, HealthResponse{
		Status:   "ok",
		Streams:  s.streams.Load(),
		Universe: len(s.opts.Universe),
	})
}
