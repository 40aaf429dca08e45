package main

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"niftyscan/internal/refresh"
)

// runProgram starts a headless program wired to a real orchestrator the way
// main does and returns it with a channel that yields the final model.
func runProgram(t *testing.T, run refresh.RunFunc) (*tea.Program, *refresh.Orchestrator, <-chan tea.Model) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	bridge := &programBridge{}
	orch := refresh.New(run, bridge, refresh.Options{CountdownTick: 10 * time.Millisecond, Logger: logger})
	t.Cleanup(orch.Close)
	if err := orch.SetInterval(time.Hour); err != nil {
		t.Fatal(err)
	}

	m := initialModel(orch, nil, "http://localhost:5000", "2008-01-01", 10, logger)
	p := tea.NewProgram(m, tea.WithInput(nil), tea.WithOutput(io.Discard), tea.WithoutRenderer())
	bridge.p = p
	t.Cleanup(p.Kill)

	done := make(chan tea.Model, 1)
	go func() {
		final, err := p.Run()
		if err != nil {
			t.Errorf("program: %v", err)
		}
		done <- final
	}()
	return p, orch, done
}

func sendWithin(t *testing.T, p *tea.Program, msg tea.Msg) {
	t.Helper()
	sent := make(chan struct{})
	go func() {
		p.Send(msg)
		close(sent)
	}()
	select {
	case <-sent:
	case <-time.After(3 * time.Second):
		t.Fatalf("event loop not accepting messages after %v", msg)
	}
}

func awaitQuit(t *testing.T, p *tea.Program, done <-chan tea.Model) model {
	t.Helper()
	sendWithin(t, p, key("q"))
	select {
	case final := <-done:
		return final.(model)
	case <-time.After(3 * time.Second):
		p.Kill()
		t.Fatal("program did not quit")
		return model{}
	}
}

func TestProgramRunKeyWithOrchestrator(t *testing.T) {
	var runs atomic.Int32
	p, orch, done := runProgram(t, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	sendWithin(t, p, key("r"))
	waitUntil(t, "run", func() bool { return runs.Load() == 1 && !orch.InFlight() })
	settle()

	final := awaitQuit(t, p, done)
	if final.state != refresh.Idle {
		t.Errorf("final state = %v, want idle", final.state)
	}
}

func TestProgramAutoRefreshToggleWithOrchestrator(t *testing.T) {
	var runs atomic.Int32
	p, orch, done := runProgram(t, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	sendWithin(t, p, key("a"))
	waitUntil(t, "enable", func() bool { return orch.Enabled() && runs.Load() == 1 })

	sendWithin(t, p, key("a"))
	waitUntil(t, "disable", func() bool { return !orch.Enabled() })
	settle()

	final := awaitQuit(t, p, done)
	if final.countdown.Active {
		t.Errorf("countdown = %+v, want inactive after disable", final.countdown)
	}
}

// settle lets observer notifications already in flight reach the model.
func settle() { time.Sleep(50 * time.Millisecond) }

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
