package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"niftyscan/internal/analysis"
	"niftyscan/internal/domain"
	"niftyscan/internal/refresh"
	"niftyscan/internal/store"
)

// Styles.
var (
	buyStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	sellStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	otherStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	tickerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	colHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4"))
	footerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("8"))
	historyStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("3"))
)

// controller is the part of the refresh orchestrator the UI drives.
type controller interface {
	Trigger() bool
	Enable(interval time.Duration) error
	Disable()
	SetInterval(interval time.Duration) error
	Enabled() bool
	Interval() time.Duration
}

var _ controller = (*refresh.Orchestrator)(nil)

type controlErrMsg struct{ err error }

type historyLoadedMsg struct {
	runs []domain.RunSummary
	err  error
}

// Model.
type model struct {
	ctrl    controller
	history store.RunStore
	logger  *slog.Logger

	serverURL    string
	startDate    string
	historyLimit int
	autoStart    bool

	// Current run.
	rows      []domain.AnalysisRow
	counts    domain.SignalCounts
	progress  domain.ProgressState
	status    string
	errDetail string
	warnings  int
	state     refresh.State
	countdown refresh.Countdown
	lastRun   time.Time

	// History view.
	historyMode bool
	historyRuns []domain.RunSummary

	viewport      viewport.Model
	bar           progress.Model
	ready         bool
	width, height int
}

func initialModel(ctrl controller, history store.RunStore, serverURL, startDate string, historyLimit int, logger *slog.Logger) model {
	return model{
		ctrl:         ctrl,
		history:      history,
		logger:       logger,
		serverURL:    serverURL,
		startDate:    startDate,
		historyLimit: historyLimit,
		status:       "Press r to run the analysis",
		bar:          progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
	}
}

func (m model) Init() tea.Cmd {
	if !m.autoStart {
		return nil
	}
	ctrl := m.ctrl
	return func() tea.Msg {
		if err := ctrl.Enable(ctrl.Interval()); err != nil {
			return controlErrMsg{err: err}
		}
		return nil
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		headerH := 4 // title, status, progress, summary
		footerH := 1
		vpHeight := max(m.height-headerH-footerH, 1)
		m.bar.Width = max(m.width-2, 10)
		if !m.ready {
			m.viewport = viewport.New(m.width, vpHeight)
			m.viewport.MouseWheelEnabled = true
			m.ready = true
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = vpHeight
		}
		m.refreshContent()
		return m, nil

	case stateMsg:
		m.state = refresh.State(msg)
		if m.state == refresh.Running {
			m.resetRun()
		}
		return m, nil

	case rowMsg:
		m.rows = append(m.rows, msg.row)
		m.counts.Add(msg.row.Signal)
		m.refreshContent()
		if m.ready {
			m.viewport.GotoBottom()
		}
		return m, nil

	case progressMsg:
		m.progress = domain.ProgressState(msg)
		m.status = m.progress.Status
		return m, nil

	case completeMsg:
		res := analysis.Result(msg)
		m.counts = res.Counts
		m.progress = res.Progress
		m.status = res.Progress.Status
		return m, nil

	case errorMsg:
		m.status = analysis.StatusFailed
		m.errDetail = fmt.Sprintf("%s: %s", msg.kind, msg.detail)
		return m, nil

	case warningMsg:
		m.warnings++
		m.logger.Warn("stream warning", "detail", msg.detail)
		return m, nil

	case countdownMsg:
		m.countdown = refresh.Countdown(msg)
		return m, nil

	case runDoneMsg:
		m.lastRun = msg.Finished
		if m.historyMode {
			return m, m.loadHistory()
		}
		return m, nil

	case controlErrMsg:
		m.errDetail = msg.err.Error()
		return m, nil

	case historyLoadedMsg:
		if msg.err != nil {
			m.errDetail = "loading history: " + msg.err.Error()
			return m, nil
		}
		m.historyRuns = msg.runs
		m.refreshContent()
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "r":
		return m, m.trigger()
	case "a":
		return m, m.toggleAuto()
	case "+", "=":
		m.changeInterval(time.Minute)
		return m, nil
	case "-":
		m.changeInterval(-time.Minute)
		return m, nil
	case "h":
		m.historyMode = !m.historyMode
		m.refreshContent()
		if m.historyMode {
			return m, m.loadHistory()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// The orchestrator notifies its observer synchronously, and the observer
// sends into this program, so controller calls that start or stop runs must
// happen off the event loop.

func (m model) trigger() tea.Cmd {
	ctrl, logger := m.ctrl, m.logger
	return func() tea.Msg {
		if !ctrl.Trigger() {
			logger.Info("run already in progress")
		}
		return nil
	}
}

func (m model) toggleAuto() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		if ctrl.Enabled() {
			ctrl.Disable()
			return nil
		}
		if err := ctrl.Enable(ctrl.Interval()); err != nil {
			return controlErrMsg{err: err}
		}
		return nil
	}
}

// changeInterval only reschedules; SetInterval never notifies inline.
func (m *model) changeInterval(delta time.Duration) {
	next := m.ctrl.Interval() + delta
	if next < time.Minute {
		next = time.Minute
	}
	if err := m.ctrl.SetInterval(next); err != nil {
		m.errDetail = err.Error()
	}
}

func (m *model) resetRun() {
	m.rows = nil
	m.counts = domain.SignalCounts{}
	m.progress = analysis.StartProgress()
	m.status = m.progress.Status
	m.errDetail = ""
	m.warnings = 0
	m.refreshContent()
}

func (m model) loadHistory() tea.Cmd {
	if m.history == nil {
		return nil
	}
	hs, limit := m.history, m.historyLimit
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		runs, err := hs.ListRuns(ctx, limit)
		return historyLoadedMsg{runs: runs, err: err}
	}
}

func (m *model) refreshContent() {
	if !m.ready {
		return
	}
	if m.historyMode {
		m.viewport.SetContent(renderHistory(m.historyRuns))
		return
	}
	m.viewport.SetContent(renderRows(m.rows))
}

// countdownText is the remaining time until the next scheduled run, or N/A
// when auto-refresh is off.
func countdownText(c refresh.Countdown) string {
	if !c.Active {
		return "N/A"
	}
	return fmt.Sprintf("%ds", int(c.Remaining.Round(time.Second)/time.Second))
}

func (m model) View() string {
	if !m.ready {
		return "Loading..."
	}

	auto := "off"
	if m.ctrl.Enabled() {
		auto = "every " + m.ctrl.Interval().String()
	}
	headerText := fmt.Sprintf(" niftyscan  %s  start: %s    auto-refresh: %s    Next refresh: %s    [%s] ",
		m.serverURL, m.startDate, auto, countdownText(m.countdown), m.state)
	headerBar := headerStyle.Render(padOrTrunc(headerText, m.width))
	if m.historyMode {
		headerBar = historyStyle.Render(padOrTrunc(" Run history  "+headerText, m.width))
	}

	status := " " + m.status
	if m.errDetail != "" {
		status = " " + errorStyle.Render(m.status) + "  " + dimStyle.Render(m.errDetail)
	}

	summary := fmt.Sprintf(" %s %d   %s %d",
		buyStyle.Render("BUY"), m.counts.Buy,
		sellStyle.Render("SELL"), m.counts.Sell)
	if m.counts.Other > 0 {
		summary += fmt.Sprintf("   %s %d", otherStyle.Render("OTHER"), m.counts.Other)
	}
	if m.warnings > 0 {
		summary += "   " + warnStyle.Render(fmt.Sprintf("%d warnings", m.warnings))
	}
	if !m.lastRun.IsZero() {
		summary += dimStyle.Render("   last run " + m.lastRun.Format("15:04:05"))
	}

	footerLeft := " q quit  r run  a auto-refresh  +/- interval  h history  pgup/dn scroll"
	footerRight := fmt.Sprintf("%.0f%% ", m.viewport.ScrollPercent()*100)
	gap := max(m.width-len(footerLeft)-len(footerRight), 0)
	footerBar := footerStyle.Render(padOrTrunc(footerLeft+strings.Repeat(" ", gap)+footerRight, m.width))

	return headerBar + "\n" +
		status + "\n" +
		" " + m.bar.ViewAs(float64(m.progress.Percent)/100) + "\n" +
		summary + "\n" +
		m.viewport.View() + "\n" +
		footerBar
}

var rowColumns = []string{"High=Open%", "High>Open%", "High>Open>Low%", "High=Open>Low%", "Low=Open%", "Low<Open%"}

func renderRows(rows []domain.AnalysisRow) string {
	var b strings.Builder
	b.WriteString(colHeaderStyle.Render(fmt.Sprintf(" %-12s", "Ticker")))
	for _, c := range rowColumns {
		b.WriteString(colHeaderStyle.Render(fmt.Sprintf(" %15s", c)))
	}
	b.WriteString(colHeaderStyle.Render(fmt.Sprintf(" %7s", "Signal")))
	b.WriteString("\n")

	for _, r := range rows {
		b.WriteString(" " + tickerStyle.Render(fmt.Sprintf("%-12s", r.Ticker)))
		for _, v := range []float64{r.HighEqOpen, r.HighGtOpen, r.HighGtOpenGtLow, r.HighEqOpenGtLow, r.LowEqOpen, r.LowLtOpen} {
			fmt.Fprintf(&b, " %15.2f", v)
		}
		b.WriteString(" " + signalStyle(r.Signal).Render(fmt.Sprintf("%7s", r.Signal)))
		b.WriteString("\n")
	}
	return b.String()
}

func renderHistory(runs []domain.RunSummary) string {
	if len(runs) == 0 {
		return dimStyle.Render(" no recorded runs")
	}
	var b strings.Builder
	b.WriteString(colHeaderStyle.Render(fmt.Sprintf(" %-19s  %-10s  %-8s  %5s  %5s  %5s  %7s  %s",
		"Started", "Start", "Status", "Rows", "BUY", "SELL", "Elapsed", "Error")))
	b.WriteString("\n")
	for _, r := range runs {
		status := buyStyle.Render(fmt.Sprintf("%-8s", r.Status))
		if r.Status == domain.RunStatusFailed {
			status = sellStyle.Render(fmt.Sprintf("%-8s", r.Status))
		}
		fmt.Fprintf(&b, " %-19s  %-10s  %s  %5d  %5d  %5d  %7s  %s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.StartDate,
			status,
			r.Rows, r.Counts.Buy, r.Counts.Sell,
			r.FinishedAt.Sub(r.StartedAt).Round(100*time.Millisecond),
			r.Error,
		)
	}
	return b.String()
}

func signalStyle(s domain.Signal) lipgloss.Style {
	switch s.Classify() {
	case domain.ClassBuy:
		return buyStyle
	case domain.ClassSell:
		return sellStyle
	default:
		return otherStyle
	}
}

// padOrTrunc pads s with spaces or truncates it to exactly width cells.
func padOrTrunc(s string, width int) string {
	w := lipgloss.Width(s)
	if w >= width {
		r := []rune(s)
		if len(r) > width {
			return string(r[:width])
		}
		return s
	}
	return s + strings.Repeat(" ", width-w)
}
