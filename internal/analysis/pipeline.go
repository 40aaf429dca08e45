package analysis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"niftyscan/internal/stream"
)

// DefaultIdleTimeout closes a stream that delivers no bytes for this long.
const DefaultIdleTimeout = 2 * time.Minute

// errCompleted stops reading once the completion marker has been applied.
var errCompleted = errors.New("run completed")

// Request parameterises one run against the analysis endpoint.
type Request struct {
	StartDate    string
	ShowProgress bool
}

// Source opens the line-delimited analysis stream for a request. The caller
// owns and closes the returned body.
type Source interface {
	Stream(ctx context.Context, req Request) (io.ReadCloser, error)
}

// Options bound a run's resource use.
type Options struct {
	IdleTimeout  time.Duration
	MaxLineBytes int
}

// Pipeline runs Source -> decoder -> Reducer -> Sink.
type Pipeline struct {
	source Source
	opts   Options
	log    *slog.Logger
}

// NewPipeline creates a Pipeline. Zero options select the defaults.
func NewPipeline(source Source, opts Options, log *slog.Logger) *Pipeline {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = stream.DefaultMaxLineBytes
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{source: source, opts: opts, log: log}
}

// Run executes one run. Network and parse failures abort delivery, are
// reported once through sink.OnError, and are returned; the partial result
// is returned alongside.
func (p *Pipeline) Run(ctx context.Context, req Request, sink Sink) (Result, error) {
	log := p.log.With("start", req.StartDate)
	sink.OnProgress(StartProgress())

	reducer := NewReducer(sink, log)
	fail := func(err error) (Result, error) {
		kind := stream.KindOf(err)
		log.Error("analysis run failed", "kind", kind.String(), "error", err)
		sink.OnError(kind, err.Error())
		return reducer.Result(), err
	}

	body, err := p.source.Stream(ctx, req)
	if err != nil {
		var se *stream.Error
		if !errors.As(err, &se) {
			err = stream.Errorf(stream.NetworkError, err, "opening stream")
		}
		return fail(err)
	}

	r := newIdleReader(body, p.opts.IdleTimeout)
	defer r.Close()

	dropped, err := stream.ReadLines(ctx, r, p.opts.MaxLineBytes, func(line string) error {
		msg, err := stream.ParseMessage(line)
		if err != nil {
			return err
		}
		reducer.Apply(msg)
		if reducer.Done() {
			return errCompleted
		}
		return nil
	})
	if errors.Is(err, errCompleted) {
		err = nil
	}
	if err != nil {
		if r.timedOut() {
			err = stream.Errorf(stream.NetworkError, err, "no data received for %s", p.opts.IdleTimeout)
		}
		return fail(err)
	}
	if dropped > 0 {
		log.Warn("discarded unterminated trailing fragment", "bytes", dropped)
	}
	if !reducer.Done() {
		return fail(stream.Errorf(stream.NetworkError, nil, "stream ended before completion"))
	}

	res := reducer.Result()
	log.Info("analysis run complete",
		"rows", len(res.Rows),
		"buy", res.Counts.Buy,
		"sell", res.Counts.Sell,
		"skipped", res.Skipped,
		"warnings", res.Warnings,
	)
	return res, nil
}

// idleReader closes the wrapped body when no Read returns data within the
// timeout, which unblocks a Read stalled on the network.
type idleReader struct {
	rc      io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
	expired atomic.Bool
	once    sync.Once
}

func newIdleReader(rc io.ReadCloser, timeout time.Duration) *idleReader {
	r := &idleReader{rc: rc, timeout: timeout}
	r.timer = time.AfterFunc(timeout, func() {
		r.expired.Store(true)
		r.rc.Close()
	})
	return r
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	if n > 0 {
		r.timer.Reset(r.timeout)
	}
	return n, err
}

func (r *idleReader) timedOut() bool { return r.expired.Load() }

func (r *idleReader) Close() error {
	var err error
	r.once.Do(func() {
		r.timer.Stop()
		if !r.expired.Load() {
			err = r.rc.Close()
		}
	})
	return err
}
