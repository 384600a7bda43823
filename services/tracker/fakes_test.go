package tracker

import (
	"errors"
	"sync"
	"time"

	"stagetrack/types"
)

type fakeRegisters struct {
	mu   sync.Mutex
	x, y float64
	errX error
	errY error
}

func (f *fakeRegisters) set(x, y float64) {
	f.mu.Lock()
	f.x, f.y = x, y
	f.mu.Unlock()
}

func (f *fakeRegisters) X() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.x, f.errX
}

func (f *fakeRegisters) Y() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.y, f.errY
}

type sentCommand struct {
	axis types.Axis
	deg  float64
	at   time.Time
}

type fakeActuator struct {
	mu       sync.Mutex
	sent     []sentCommand
	failNext map[types.Axis]int // number of upcoming calls to fail per axis
	panicPan bool
}

var errSend = errors.New("send refused")

func (f *fakeActuator) Command(axis types.Axis, deg float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if axis == types.AxisPan && f.panicPan {
		f.panicPan = false
		panic("driver exploded")
	}
	f.sent = append(f.sent, sentCommand{axis: axis, deg: deg, at: time.Now()})
	if f.failNext[axis] > 0 {
		f.failNext[axis]--
		return errSend
	}
	return nil
}

func (f *fakeActuator) failOnce(axis types.Axis) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext == nil {
		f.failNext = map[types.Axis]int{}
	}
	f.failNext[axis]++
}

func (f *fakeActuator) commands(axis types.Axis) []sentCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentCommand
	for _, c := range f.sent {
		if c.axis == axis {
			out = append(out, c)
		}
	}
	return out
}

// primed returns a loop seeded for cfg without starting its goroutine, so
// tests can drive runCycle directly.
func primed(cfg Config, regs Registers, act Actuator) *Loop {
	l := NewLoop(regs, act)
	l.cfg = cfg
	l.commanded = Seed(cfg)
	l.level = types.LoopRunning
	return l
}

func referenceConfig() Config {
	return Config{
		ActuatorID: "101",
		Period:     50 * time.Millisecond,
		Pan:        AxisConfig{Min: 0, Max: 540},
		Tilt:       AxisConfig{Min: 0, Max: 270, Invert: true},
		Smoothing:  0.2,
	}
}
