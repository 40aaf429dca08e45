// Package refresh schedules periodic analysis runs with a single-flight guard
// and an observational countdown.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the orchestrator's scheduling state.
type State int

const (
	Idle State = iota
	Running
	CountingDown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case CountingDown:
		return "counting-down"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// RunFunc performs one pipeline run.
type RunFunc func(ctx context.Context) error

// Countdown is the time left until the next scheduled run. Active is false
// once auto-refresh is disabled.
type Countdown struct {
	Remaining time.Duration
	Active    bool
}

// RunOutcome describes a finished run.
type RunOutcome struct {
	Started  time.Time
	Finished time.Time
	Err      error
}

// Observer is notified of state changes, countdown ticks, and finished runs.
// Callbacks may arrive from different goroutines.
type Observer interface {
	OnState(s State)
	OnCountdown(c Countdown)
	OnRunFinished(o RunOutcome)
}

// Options configures an Orchestrator.
type Options struct {
	// CountdownTick is the countdown display granularity. Defaults to 1s.
	CountdownTick time.Duration
	Logger        *slog.Logger
}

// ErrInvalidInterval is returned by Enable and SetInterval for a
// non-positive interval.
var ErrInvalidInterval = errors.New("refresh interval must be positive")

// ErrClosed is returned by Enable after Close.
var ErrClosed = errors.New("orchestrator closed")

// session holds everything the orchestrator owns for one enable/disable
// lifecycle.
type session struct {
	enabled  bool
	interval time.Duration
	running  bool
	state    State
	deadline time.Time

	timer         *time.Timer
	countdownStop chan struct{}

	// gen invalidates timer callbacks from replaced schedules.
	gen int
}

// Orchestrator coordinates auto-refresh. At most one run is in flight.
type Orchestrator struct {
	run  RunFunc
	obs  Observer
	tick time.Duration
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	s      session
	closed bool

	// cdMu orders countdown emissions against the final inactive one.
	cdMu sync.Mutex
}

// New creates an idle Orchestrator. obs may be nil.
func New(run RunFunc, obs Observer, opts Options) *Orchestrator {
	if obs == nil {
		obs = nopObserver{}
	}
	if opts.CountdownTick <= 0 {
		opts.CountdownTick = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		run:    run,
		obs:    obs,
		tick:   opts.CountdownTick,
		log:    opts.Logger.With("component", "refresh"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.s.state
}

// Enabled reports whether auto-refresh is on.
func (o *Orchestrator) Enabled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.s.enabled
}

// Interval returns the configured interval.
func (o *Orchestrator) Interval() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.s.interval
}

// InFlight reports whether a run is executing.
func (o *Orchestrator) InFlight() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.s.running
}

// Enable turns auto-refresh on: it runs immediately and then every interval
// measured from now. A previous schedule is replaced.
func (o *Orchestrator) Enable(interval time.Duration) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	o.s.enabled = true
	o.s.interval = interval
	o.scheduleLocked()
	started := o.startLocked()
	o.mu.Unlock()

	o.log.Info("auto-refresh enabled", "interval", interval)
	if started {
		o.launch()
	}
	return nil
}

// SetInterval changes the interval. When enabled the schedule restarts from
// now without an immediate run.
func (o *Orchestrator) SetInterval(interval time.Duration) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.s.interval = interval
	if o.s.enabled {
		o.scheduleLocked()
	}
	return nil
}

// Disable turns auto-refresh off. Pending timers and the countdown are
// cancelled; an in-flight run is allowed to finish but nothing further is
// scheduled.
func (o *Orchestrator) Disable() {
	o.mu.Lock()
	if !o.s.enabled {
		o.mu.Unlock()
		return
	}
	o.s.enabled = false
	o.s.gen++
	o.stopTimersLocked()
	o.s.state = Idle
	o.mu.Unlock()

	o.log.Info("auto-refresh disabled")
	o.cdMu.Lock()
	o.obs.OnCountdown(Countdown{})
	o.cdMu.Unlock()
	o.obs.OnState(Idle)
}

// Trigger starts a run now. It returns false, and does nothing, when a run
// is already in flight.
func (o *Orchestrator) Trigger() bool {
	o.mu.Lock()
	started := o.startLocked()
	o.mu.Unlock()

	if started {
		o.launch()
	}
	return started
}

// startLocked claims the run guard. The caller must call launch when it
// returns true.
func (o *Orchestrator) startLocked() bool {
	if o.closed {
		return false
	}
	if o.s.running {
		o.log.Debug("run already in flight, trigger dropped")
		return false
	}
	o.s.running = true
	o.s.state = Running
	o.wg.Add(1)
	return true
}

func (o *Orchestrator) launch() {
	o.obs.OnState(Running)
	go o.execute()
}

// Close disables auto-refresh, cancels an in-flight run, and waits for it.
// No run starts after Close begins.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	o.Disable()
	o.cancel()
	o.wg.Wait()
}

func (o *Orchestrator) execute() {
	defer o.wg.Done()

	out := RunOutcome{Started: time.Now()}
	out.Err = o.safeRun()
	out.Finished = time.Now()

	o.mu.Lock()
	o.s.running = false
	next := Idle
	if o.s.enabled {
		next = CountingDown
	}
	o.s.state = next
	o.mu.Unlock()

	if out.Err != nil {
		o.log.Warn("run failed", "error", out.Err, "elapsed", out.Finished.Sub(out.Started).Round(time.Millisecond))
	} else {
		o.log.Info("run finished", "elapsed", out.Finished.Sub(out.Started).Round(time.Millisecond))
	}
	o.obs.OnRunFinished(out)
	o.obs.OnState(next)
}

// safeRun keeps a panicking run from taking the scheduler down.
func (o *Orchestrator) safeRun() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("run panicked: %v", r)
		}
	}()
	return o.run(o.ctx)
}

// scheduleLocked installs a fresh interval timer and countdown, replacing
// any previous ones.
func (o *Orchestrator) scheduleLocked() {
	o.stopTimersLocked()
	o.s.gen++
	gen := o.s.gen
	o.s.deadline = time.Now().Add(o.s.interval)
	o.s.timer = time.AfterFunc(o.s.interval, func() { o.onTimer(gen) })
	o.startCountdownLocked()
}

func (o *Orchestrator) onTimer(gen int) {
	o.mu.Lock()
	if gen != o.s.gen || !o.s.enabled {
		o.mu.Unlock()
		return
	}
	o.scheduleLocked()
	started := o.startLocked()
	o.mu.Unlock()

	if started {
		o.launch()
	}
}

func (o *Orchestrator) stopTimersLocked() {
	if o.s.timer != nil {
		o.s.timer.Stop()
		o.s.timer = nil
	}
	if o.s.countdownStop != nil {
		close(o.s.countdownStop)
		o.s.countdownStop = nil
	}
}

// startCountdownLocked reports the remaining time every tick until the
// deadline. It has no say over when the next run starts.
func (o *Orchestrator) startCountdownLocked() {
	stop := make(chan struct{})
	o.s.countdownStop = stop
	deadline := o.s.deadline

	go func() {
		t := time.NewTicker(o.tick)
		defer t.Stop()

		emit := func() bool {
			rem := max(time.Until(deadline).Round(o.tick), 0)
			o.cdMu.Lock()
			defer o.cdMu.Unlock()
			select {
			case <-stop:
				return false
			default:
			}
			o.obs.OnCountdown(Countdown{Remaining: rem, Active: true})
			return rem > 0
		}

		if !emit() {
			return
		}
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				if !emit() {
					return
				}
			}
		}
	}()
}

type nopObserver struct{}

func (nopObserver) OnState(State)            {}
func (nopObserver) OnCountdown(Countdown)    {}
func (nopObserver) OnRunFinished(RunOutcome) {}
