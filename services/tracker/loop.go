package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"stagetrack/errcode"
	"stagetrack/types"
	"stagetrack/x/mathx"
)

// Registers is the read side of the variable store. Values are nominally in
// [0,100] but the loop clamps them anyway.
type Registers interface {
	X() (float64, error)
	Y() (float64, error)
}

// Actuator accepts absolute positions per axis. Implementations must not
// block for long; the loop treats every call as fire-and-forget.
type Actuator interface {
	Command(axis types.Axis, degrees float64) error
}

// Cycle steps, as reported in logs and stats.
const (
	stepReadX       = "read_x"
	stepReadY       = "read_y"
	stepCommandPan  = "command_pan"
	stepCommandTilt = "command_tilt"
	stepPanic       = "panic"
)

// cycleError is a recovered per-cycle failure.
type cycleError struct {
	step string
	err  error
}

func (e *cycleError) Error() string { return e.step + ": " + e.err.Error() }
func (e *cycleError) Unwrap() error { return e.err }
func (e *cycleError) Code() errcode.Code {
	return errcode.CycleFailed
}

var errNonFinite = errors.New("non-finite register value")

// Option customises a Loop.
type Option func(*Loop)

// WithLogger sets the diagnostic logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(lp *Loop) {
		if l != nil {
			lp.log = l
		}
	}
}

// WithStateHook is called with a stats snapshot on every lifecycle transition.
func WithStateHook(fn func(types.LoopStats)) Option {
	return func(lp *Loop) { lp.onState = fn }
}

// WithSeed starts the loop from p, clamped into the configured ranges,
// instead of the axis midpoints.
func WithSeed(p types.PanTilt) Option {
	return func(lp *Loop) { lp.seed = &p }
}

// Loop is one actuation control loop. It is single-use:
// Idle -> Running on Activate, Running -> Stopped on Deactivate.
type Loop struct {
	regs    Registers
	act     Actuator
	log     *slog.Logger
	onState func(types.LoopStats)
	seed    *types.PanTilt

	mu    sync.Mutex
	level types.LoopLevel
	cfg   Config
	stop  chan struct{}
	done  chan struct{}

	// Written only by the loop goroutine; mu guards snapshots.
	commanded types.PanTilt
	cycles    uint64
	failures  uint64
	lastFail  *cycleError
}

// NewLoop wires a loop to its register source and actuator sink.
func NewLoop(regs Registers, act Actuator, opts ...Option) *Loop {
	l := &Loop{
		regs:  regs,
		act:   act,
		log:   slog.Default(),
		level: types.LoopIdle,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Activate validates cfg, seeds both axes at their midpoints (or the WithSeed
// position) and starts the periodic cycle. The first cycle runs immediately;
// each later cycle starts at least cfg.Period after the previous one finished. Cancelling ctx has the
// same effect as Deactivate.
func (l *Loop) Activate(ctx context.Context, cfg Config) error {
	const op = "tracker.activate"
	if err := cfg.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	switch l.level {
	case types.LoopRunning:
		l.mu.Unlock()
		return errcode.New(errcode.AlreadyRunning, op, "loop for "+l.cfg.ActuatorID+" is already running")
	case types.LoopStopped:
		l.mu.Unlock()
		return errcode.New(errcode.Lifecycle, op, "loop was stopped; build a new one")
	}
	l.cfg = cfg
	l.commanded = Seed(cfg)
	if l.seed != nil {
		l.commanded = types.PanTilt{
			Pan:  mathx.Clamp(l.seed.Pan, cfg.Pan.Min, cfg.Pan.Max),
			Tilt: mathx.Clamp(l.seed.Tilt, cfg.Tilt.Min, cfg.Tilt.Max),
		}
	}
	l.level = types.LoopRunning
	snap := l.snapshotLocked()
	l.mu.Unlock()

	l.log.Info("tracker loop activated",
		"actuator", cfg.ActuatorID,
		"period", cfg.Period,
		"smoothing", cfg.Smoothing,
		"pan_min", cfg.Pan.Min, "pan_max", cfg.Pan.Max, "pan_invert", cfg.Pan.Invert,
		"tilt_min", cfg.Tilt.Min, "tilt_max", cfg.Tilt.Max, "tilt_invert", cfg.Tilt.Invert,
	)
	l.notify(snap)

	go l.run(ctx)
	return nil
}

// Deactivate requests a stop at the next cycle boundary. An in-flight cycle
// completes, including its commands. The fixture keeps its last position.
// Calling it when not running is a no-op.
func (l *Loop) Deactivate() {
	l.mu.Lock()
	if l.level != types.LoopRunning {
		l.mu.Unlock()
		return
	}
	l.level = types.LoopStopped
	close(l.stop)
	snap := l.snapshotLocked()
	l.mu.Unlock()

	l.log.Info("tracker loop deactivated", "actuator", snap.ActuatorID, "cycles", snap.Cycles)
	l.notify(snap)
}

// Done is closed once the loop goroutine has exited after a stop.
// It never closes for a loop that was never activated.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Running reports whether the loop is in the Running state.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level == types.LoopRunning
}

func (l *Loop) State() types.LoopLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// Config returns the configuration of the current activation.
func (l *Loop) Config() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

// Commanded returns the last successfully emitted position pair.
func (l *Loop) Commanded() types.PanTilt {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.commanded
}

// Stats returns a snapshot of counters and the current position.
func (l *Loop) Stats() types.LoopStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Loop) snapshotLocked() types.LoopStats {
	s := types.LoopStats{
		ActuatorID: l.cfg.ActuatorID,
		Level:      l.level,
		Cycles:     l.cycles,
		Failures:   l.failures,
		Commanded:  l.commanded,
	}
	if l.lastFail != nil {
		s.LastFailStep = l.lastFail.step
		s.LastError = l.lastFail.err.Error()
	}
	return s
}

func (l *Loop) notify(s types.LoopStats) {
	if l.onState != nil {
		l.onState(s)
	}
}

// -----------------------------------------------------------------------------
// Cycle scheduling
// -----------------------------------------------------------------------------

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)

	l.mu.Lock()
	period := l.cfg.Period
	l.mu.Unlock()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			l.Deactivate()
			return
		}
		if l.stopRequested() {
			return
		}
		l.runCycle()

		timer.Reset(period)
		select {
		case <-ctx.Done():
			l.Deactivate()
			return
		case <-l.stop:
			return
		case <-timer.C:
		}
	}
}

func (l *Loop) stopRequested() bool {
	select {
	case <-l.stop:
		return true
	default:
		return false
	}
}

// runCycle executes one cycle and absorbs any failure.
func (l *Loop) runCycle() {
	l.mu.Lock()
	cfg, prev := l.cfg, l.commanded
	n := l.cycles + 1
	l.mu.Unlock()

	next, err := l.cycle(cfg, prev)
	var ce *cycleError
	if err != nil && !errors.As(err, &ce) {
		ce = &cycleError{step: stepPanic, err: err}
	}

	l.mu.Lock()
	l.cycles = n
	if ce != nil {
		l.failures++
		l.lastFail = ce
	} else {
		l.commanded = next
	}
	l.mu.Unlock()

	if ce != nil {
		l.log.Warn("tracker cycle failed",
			"actuator", cfg.ActuatorID,
			"cycle", n,
			"step", ce.step,
			"err", ce.err,
		)
	}
}

// cycle reads, maps, smooths and commands. It returns the new commanded pair
// only when every step succeeded; the caller commits it.
func (l *Loop) cycle(cfg Config, prev types.PanTilt) (next types.PanTilt, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &cycleError{step: stepPanic, err: fmt.Errorf("%v", r)}
		}
	}()

	x, err := l.regs.X()
	if err == nil && !mathx.Finite(x) {
		err = errNonFinite
	}
	if err != nil {
		return prev, &cycleError{step: stepReadX, err: errcode.Wrap(errcode.ReadFailed, "x", err)}
	}
	y, err := l.regs.Y()
	if err == nil && !mathx.Finite(y) {
		err = errNonFinite
	}
	if err != nil {
		return prev, &cycleError{step: stepReadY, err: errcode.Wrap(errcode.ReadFailed, "y", err)}
	}

	next = Step(cfg, prev, x, y)

	// Both commands are always attempted.
	panErr := l.command(types.AxisPan, next.Pan)
	tiltErr := l.command(types.AxisTilt, next.Tilt)
	switch {
	case panErr != nil && tiltErr != nil:
		return prev, &cycleError{step: stepCommandPan, err: errors.Join(panErr, tiltErr)}
	case panErr != nil:
		return prev, &cycleError{step: stepCommandPan, err: panErr}
	case tiltErr != nil:
		return prev, &cycleError{step: stepCommandTilt, err: tiltErr}
	}
	return next, nil
}

func (l *Loop) command(axis types.Axis, deg float64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("actuator panic: %v", r)
		}
	}()
	if err := l.act.Command(axis, deg); err != nil {
		return errcode.Wrap(errcode.CommandFailed, axis.String(), err)
	}
	return nil
}
