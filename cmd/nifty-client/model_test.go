package main

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"niftyscan/internal/analysis"
	"niftyscan/internal/domain"
	"niftyscan/internal/refresh"
	"niftyscan/internal/stream"
)

type fakeController struct {
	enabled  bool
	interval time.Duration
	triggers int
	running  bool
}

func (c *fakeController) Trigger() bool {
	if c.running {
		return false
	}
	c.triggers++
	return true
}

func (c *fakeController) Enable(d time.Duration) error {
	if d <= 0 {
		return refresh.ErrInvalidInterval
	}
	c.enabled, c.interval = true, d
	c.triggers++
	return nil
}

func (c *fakeController) Disable() { c.enabled = false }

func (c *fakeController) SetInterval(d time.Duration) error {
	if d <= 0 {
		return refresh.ErrInvalidInterval
	}
	c.interval = d
	return nil
}

func (c *fakeController) Enabled() bool           { return c.enabled }
func (c *fakeController) Interval() time.Duration { return c.interval }

func newTestModel(ctrl controller) model {
	m := initialModel(ctrl, nil, "http://localhost:5000", "2008-01-01", 10,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	next, _ := m.Update(tea.WindowSizeMsg{Width: 160, Height: 40})
	return next.(model)
}

func update(m model, msgs ...tea.Msg) model {
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(model)
	}
	return m
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press applies key presses and runs the commands they return, feeding any
// resulting message back into the model.
func press(m model, keys ...string) model {
	for _, k := range keys {
		next, cmd := m.Update(key(k))
		m = next.(model)
		if cmd == nil {
			continue
		}
		if msg := cmd(); msg != nil {
			m = update(m, msg)
		}
	}
	return m
}

func TestModelRunLifecycle(t *testing.T) {
	m := newTestModel(&fakeController{interval: 5 * time.Minute})

	m = update(m,
		stateMsg(refresh.Running),
		progressMsg(analysis.StartProgress()),
		rowMsg{row: domain.AnalysisRow{Ticker: "TCS", Signal: domain.SignalBuy}, index: 0, total: 2},
		progressMsg(analysis.Progress(0, 2)),
		rowMsg{row: domain.AnalysisRow{Ticker: "INFY", Signal: domain.SignalSell}, index: 1, total: 2},
		progressMsg(analysis.Progress(1, 2)),
	)
	if len(m.rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(m.rows))
	}
	if m.progress.Percent != 100 || !strings.HasPrefix(m.status, "Processing: 2/2") {
		t.Errorf("progress = %+v, status = %q", m.progress, m.status)
	}

	m = update(m, completeMsg(analysis.Result{
		Counts:   domain.SignalCounts{Buy: 1, Sell: 1},
		Progress: analysis.CompleteProgress(2, 2),
	}))
	if m.status != analysis.StatusComplete {
		t.Errorf("status = %q, want %q", m.status, analysis.StatusComplete)
	}

	view := m.View()
	for _, want := range []string{"TCS", "INFY", "BUY", "SELL", "Next refresh: N/A"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}

	// A new run clears the previous rows.
	m = update(m, stateMsg(refresh.Running))
	if len(m.rows) != 0 || m.counts.Total() != 0 || m.progress.Percent != 0 {
		t.Errorf("run state not reset: rows=%d counts=%+v", len(m.rows), m.counts)
	}
}

func TestModelError(t *testing.T) {
	m := newTestModel(&fakeController{interval: time.Minute})
	m = update(m,
		stateMsg(refresh.Running),
		errorMsg{kind: stream.NetworkError, detail: "connection refused"},
	)
	if m.status != analysis.StatusFailed {
		t.Errorf("status = %q, want %q", m.status, analysis.StatusFailed)
	}
	if !strings.Contains(m.View(), "connection refused") {
		t.Error("view does not show the error detail")
	}
}

func TestModelKeys(t *testing.T) {
	ctrl := &fakeController{interval: 5 * time.Minute}
	m := newTestModel(ctrl)

	if _, cmd := m.Update(key("r")); cmd == nil || ctrl.triggers != 0 {
		t.Fatal("r must defer the trigger to a command")
	}
	m = press(m, "r")
	if ctrl.triggers != 1 {
		t.Errorf("triggers = %d, want 1", ctrl.triggers)
	}

	m = press(m, "a")
	if !ctrl.enabled || ctrl.interval != 5*time.Minute {
		t.Errorf("after a: enabled=%v interval=%s", ctrl.enabled, ctrl.interval)
	}

	m = press(m, "+", "+")
	if ctrl.interval != 7*time.Minute {
		t.Errorf("interval = %s, want 7m", ctrl.interval)
	}
	for range 10 {
		m = press(m, "-")
	}
	if ctrl.interval != time.Minute {
		t.Errorf("interval = %s, want floor of 1m", ctrl.interval)
	}

	m = update(m, countdownMsg(refresh.Countdown{Remaining: 42 * time.Second, Active: true}))
	if !strings.Contains(m.View(), "Next refresh: 42s") {
		t.Error("countdown not rendered")
	}

	m = press(m, "a")
	if ctrl.enabled {
		t.Error("second a did not disable auto-refresh")
	}
	// The orchestrator reports an inactive countdown on disable.
	m = update(m, countdownMsg(refresh.Countdown{}))
	if !strings.Contains(m.View(), "Next refresh: N/A") {
		t.Error("disabled countdown should render N/A")
	}

	if _, cmd := m.Update(key("q")); cmd == nil {
		t.Error("q should return a quit command")
	}
}

func TestModelHistory(t *testing.T) {
	m := newTestModel(&fakeController{interval: time.Minute})
	m = update(m, key("h"))
	if !m.historyMode {
		t.Fatal("h did not enter history mode")
	}
	started := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	m = update(m, historyLoadedMsg{runs: []domain.RunSummary{{
		ID:         "a",
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
		StartDate:  "2008-01-01",
		Rows:       50,
		Status:     domain.RunStatusComplete,
	}}})
	if len(m.historyRuns) != 1 {
		t.Fatalf("historyRuns = %d", len(m.historyRuns))
	}
	if !strings.Contains(m.View(), "2008-01-01") {
		t.Error("history row not rendered")
	}

	m = update(m, historyLoadedMsg{err: errors.New("disk full")})
	if !strings.Contains(m.errDetail, "disk full") {
		t.Errorf("errDetail = %q", m.errDetail)
	}
}

func TestCountdownText(t *testing.T) {
	if got := countdownText(refresh.Countdown{}); got != "N/A" {
		t.Errorf("inactive = %q", got)
	}
	if got := countdownText(refresh.Countdown{Remaining: 1500 * time.Millisecond, Active: true}); got != "2s" {
		t.Errorf("active = %q, want 2s", got)
	}
}

type recordingSender struct{ msgs []tea.Msg }

func (s *recordingSender) Send(msg tea.Msg) { s.msgs = append(s.msgs, msg) }

func TestProgramBridgeForwards(t *testing.T) {
	s := &recordingSender{}
	b := &programBridge{p: s}

	b.OnState(refresh.Running)
	b.OnRow(domain.AnalysisRow{Ticker: "TCS"}, 0, 1)
	b.OnProgress(analysis.Progress(0, 1))
	b.OnWarning(&stream.Error{Kind: stream.StateError, Detail: "index went backwards"})
	b.OnComplete(analysis.Result{})
	b.OnCountdown(refresh.Countdown{Active: true})
	b.OnRunFinished(refresh.RunOutcome{})

	if len(s.msgs) != 7 {
		t.Fatalf("forwarded %d messages, want 7", len(s.msgs))
	}
	if _, ok := s.msgs[1].(rowMsg); !ok {
		t.Errorf("msgs[1] = %T, want rowMsg", s.msgs[1])
	}
	if w, ok := s.msgs[3].(warningMsg); !ok || w.detail != "index went backwards" {
		t.Errorf("msgs[3] = %#v", s.msgs[3])
	}
}
