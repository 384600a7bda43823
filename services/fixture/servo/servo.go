// Package servo drives a hobby pan/tilt rig: two RC servos on a PCA9685
// PWM controller reached over I2C.
package servo

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"

	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/pca9685"

	"stagetrack/drivers/i2cdev"
	"stagetrack/errcode"
	"stagetrack/services/fixture"
	"stagetrack/types"
	"stagetrack/x/mathx"
	"stagetrack/x/strx"
	"stagetrack/x/timex"
)

const (
	Type = "servo"

	DefaultDevice   = "/dev/i2c-1"
	DefaultAddress  = 0x40
	DefaultFreqHz   = 50
	DefaultMinUs    = 500.0
	DefaultMaxUs    = 2500.0
	DefaultPanSpan  = 540.0
	DefaultTiltSpan = 270.0
)

func init() { fixture.RegisterBuilder(Type, builder{}) }

type builder struct{}

func (builder) Build(in fixture.BuildInput) (fixture.Actuator, error) {
	var c types.ServoConfig
	if in.Config.Servo != nil {
		c = *in.Config.Servo
	}
	bus, err := i2cdev.Open(strx.Coalesce(c.Device, DefaultDevice))
	if err != nil {
		return nil, errcode.Wrap(errcode.LinkDown, "servo.build", err)
	}
	a, err := New(bus, c, in.Log)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	a.closer = bus
	return a, nil
}

// errBus remembers the last Tx error. The PCA9685 driver's Set path does
// not return one.
type errBus struct {
	drivers.I2C
	mu  sync.Mutex
	err error
}

func (b *errBus) Tx(addr uint16, w, r []byte) error {
	err := b.I2C.Tx(addr, w, r)
	if err != nil {
		b.mu.Lock()
		b.err = err
		b.mu.Unlock()
	}
	return err
}

func (b *errBus) take() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.err
	b.err = nil
	return err
}

type channel struct {
	ch   uint8
	span float64
}

// Actuator converts degrees to a pulse width and writes the OFF count of
// the axis channel (ON is fixed at 0).
type Actuator struct {
	bus    *errBus
	dev    pca9685.Dev
	closer io.Closer
	log    *slog.Logger

	periodNs float64
	minUs    float64
	maxUs    float64
	pan      channel
	tilt     channel

	mu   sync.Mutex
	last [2]uint32
}

func withDefaults(c types.ServoConfig) types.ServoConfig {
	if c.Address == 0 {
		c.Address = DefaultAddress
	}
	if c.FreqHz == 0 {
		c.FreqHz = DefaultFreqHz
	}
	if c.MinPulseUs == 0 {
		c.MinPulseUs = DefaultMinUs
	}
	if c.MaxPulseUs == 0 {
		c.MaxPulseUs = DefaultMaxUs
	}
	if c.PanSpan == 0 {
		c.PanSpan = DefaultPanSpan
	}
	if c.TiltSpan == 0 {
		c.TiltSpan = DefaultTiltSpan
	}
	if c.PanChannel == 0 && c.TiltChannel == 0 {
		c.TiltChannel = 1
	}
	return c
}

// New probes and configures the controller on bus.
func New(bus drivers.I2C, c types.ServoConfig, log *slog.Logger) (*Actuator, error) {
	const op = "servo.new"
	if log == nil {
		log = slog.Default()
	}
	c = withDefaults(c)
	switch {
	case c.PanChannel > 15 || c.TiltChannel > 15:
		return nil, errcode.New(errcode.InvalidConfig, op, "channel must be 0..15")
	case c.PanChannel == c.TiltChannel:
		return nil, errcode.New(errcode.InvalidConfig, op, "pan and tilt share a channel")
	case !(c.MinPulseUs > 0 && c.MaxPulseUs > c.MinPulseUs):
		return nil, errcode.New(errcode.InvalidConfig, op, "pulse range must satisfy 0 < min < max")
	case !(c.PanSpan > 0 && c.TiltSpan > 0):
		return nil, errcode.New(errcode.InvalidConfig, op, "spans must be positive")
	}

	period := timex.PeriodFromHz(c.FreqHz)
	if c.MaxPulseUs*1000 >= float64(period) {
		return nil, errcode.New(errcode.InvalidConfig, op, fmt.Sprintf("max pulse %.0fus does not fit a %dHz frame", c.MaxPulseUs, c.FreqHz))
	}

	eb := &errBus{I2C: bus}
	dev := pca9685.New(eb, c.Address)
	if err := dev.IsConnected(); err != nil {
		return nil, errcode.Wrap(errcode.LinkDown, op, err)
	}
	cerr := dev.Configure(pca9685.PWMConfig{Period: period})
	if err := eb.take(); err != nil {
		return nil, errcode.Wrap(errcode.LinkDown, op, err)
	}
	if cerr != nil {
		return nil, errcode.Wrap(errcode.InvalidConfig, op, cerr)
	}

	log.Info("pca9685 configured",
		"addr", fmt.Sprintf("0x%02x", c.Address),
		"freq_hz", c.FreqHz,
		"pan_ch", c.PanChannel,
		"tilt_ch", c.TiltChannel,
	)
	return &Actuator{
		bus:      eb,
		dev:      dev,
		log:      log,
		periodNs: float64(period),
		minUs:    c.MinPulseUs,
		maxUs:    c.MaxPulseUs,
		pan:      channel{ch: c.PanChannel, span: c.PanSpan},
		tilt:     channel{ch: c.TiltChannel, span: c.TiltSpan},
	}, nil
}

// PulseUs maps degrees within [0,span] onto [minUs,maxUs]; outside is clamped.
func (a *Actuator) PulseUs(axis types.Axis, deg float64) float64 {
	c := a.channel(axis)
	return mathx.MapRange(deg, 0, c.span, a.minUs, a.maxUs)
}

// Ticks converts a pulse width to a 12-bit OFF count.
func (a *Actuator) Ticks(pulseUs float64) uint32 {
	top := a.dev.Top()
	t := math.Round(pulseUs * 1000 / a.periodNs * float64(top+1))
	return uint32(mathx.Clamp(t, 0, float64(top)))
}

func (a *Actuator) channel(axis types.Axis) channel {
	if axis == types.AxisTilt {
		return a.tilt
	}
	return a.pan
}

func (a *Actuator) Command(axis types.Axis, deg float64) error {
	if axis != types.AxisPan && axis != types.AxisTilt {
		return errcode.New(errcode.InvalidParams, "servo.command", "unknown axis")
	}
	ticks := a.Ticks(a.PulseUs(axis, deg))

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last[axis] == ticks {
		return nil
	}
	a.dev.SetPhased(a.channel(axis).ch, 0, ticks)
	if err := a.bus.take(); err != nil {
		// Force a rewrite next time.
		a.last[axis] = math.MaxUint32
		return errcode.Wrap(errcode.LinkDown, "servo.command", err)
	}
	a.last[axis] = ticks
	return nil
}

// Close parks nothing: the rig stays where it was last pointed.
func (a *Actuator) Close() error {
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}
