package main

import (
	tea "github.com/charmbracelet/bubbletea"

	"niftyscan/internal/analysis"
	"niftyscan/internal/domain"
	"niftyscan/internal/refresh"
	"niftyscan/internal/stream"
)

// Messages delivered to the model from the pipeline and orchestrator
// goroutines.
type (
	rowMsg struct {
		row          domain.AnalysisRow
		index, total int
	}
	progressMsg domain.ProgressState
	completeMsg analysis.Result
	errorMsg    struct {
		kind   stream.Kind
		detail string
	}
	warningMsg   struct{ detail string }
	stateMsg     refresh.State
	countdownMsg refresh.Countdown
	runDoneMsg   refresh.RunOutcome
)

// sender is the subset of *tea.Program the bridge needs.
type sender interface {
	Send(msg tea.Msg)
}

// programBridge forwards pipeline and orchestrator callbacks into the
// bubbletea event loop, which serialises them with key input.
type programBridge struct {
	p sender
}

var (
	_ analysis.Sink        = (*programBridge)(nil)
	_ analysis.WarningSink = (*programBridge)(nil)
	_ refresh.Observer     = (*programBridge)(nil)
)

func (b *programBridge) OnRow(row domain.AnalysisRow, index, total int) {
	b.p.Send(rowMsg{row: row, index: index, total: total})
}

func (b *programBridge) OnProgress(p domain.ProgressState) { b.p.Send(progressMsg(p)) }
func (b *programBridge) OnComplete(res analysis.Result)    { b.p.Send(completeMsg(res)) }

func (b *programBridge) OnError(kind stream.Kind, detail string) {
	b.p.Send(errorMsg{kind: kind, detail: detail})
}

func (b *programBridge) OnWarning(err *stream.Error) { b.p.Send(warningMsg{detail: err.Detail}) }

func (b *programBridge) OnState(s refresh.State)            { b.p.Send(stateMsg(s)) }
func (b *programBridge) OnCountdown(c refresh.Countdown)    { b.p.Send(countdownMsg(c)) }
func (b *programBridge) OnRunFinished(o refresh.RunOutcome) { b.p.Send(runDoneMsg(o)) }
