package tracker

import (
	"fmt"
	"time"

	"stagetrack/errcode"
	"stagetrack/types"
	"stagetrack/x/mathx"
	"stagetrack/x/timex"
)

// AxisConfig bounds one axis in actuator-native units.
type AxisConfig struct {
	Min    float64
	Max    float64
	Invert bool
}

// Mid is the seed position for a fresh activation.
func (a AxisConfig) Mid() float64 { return a.Min + (a.Max-a.Min)/2 }

// Config is immutable for the lifetime of one activation.
type Config struct {
	ActuatorID string
	Period     time.Duration
	Pan        AxisConfig // axis 1
	Tilt       AxisConfig // axis 2
	// Smoothing is the filter's alpha in [0,1); 0 disables smoothing.
	Smoothing float64
}

// DefaultConfig is the reference rig: 540° pan, 270° tilt with tilt mirrored.
func DefaultConfig() Config {
	return Config{
		ActuatorID: "101",
		Period:     50 * time.Millisecond,
		Pan:        AxisConfig{Min: 0, Max: 540},
		Tilt:       AxisConfig{Min: 0, Max: 270, Invert: true},
		Smoothing:  0.2,
	}
}

// FromSection converts the config/tracker payload.
func FromSection(s types.TrackerConfig) Config {
	return Config{
		ActuatorID: s.ActuatorID,
		Period:     timex.Seconds(s.UpdatePeriod),
		Pan:        AxisConfig{Min: s.Pan.Min, Max: s.Pan.Max, Invert: s.Pan.Invert},
		Tilt:       AxisConfig{Min: s.Tilt.Min, Max: s.Tilt.Max, Invert: s.Tilt.Invert},
		Smoothing:  s.Smoothing,
	}
}

// Validate reports the first problem found as an errcode.InvalidConfig error.
func (c Config) Validate() error {
	const op = "tracker.config"
	if c.ActuatorID == "" {
		return errcode.New(errcode.InvalidConfig, op, "actuator_id is required")
	}
	if c.Period <= 0 {
		return errcode.New(errcode.InvalidConfig, op, fmt.Sprintf("update_period must be > 0, got %s", c.Period))
	}
	if err := validateAxis(op, "pan", c.Pan); err != nil {
		return err
	}
	if err := validateAxis(op, "tilt", c.Tilt); err != nil {
		return err
	}
	if !mathx.Finite(c.Smoothing) || c.Smoothing < 0 || c.Smoothing >= 1 {
		return errcode.New(errcode.InvalidConfig, op, fmt.Sprintf("smoothing must be in [0,1), got %v", c.Smoothing))
	}
	return nil
}

func validateAxis(op, name string, a AxisConfig) error {
	if !mathx.Finite(a.Min, a.Max) {
		return errcode.New(errcode.InvalidConfig, op, name+" range must be finite")
	}
	if a.Min >= a.Max {
		return errcode.New(errcode.InvalidConfig, op, fmt.Sprintf("%s range needs min < max, got (%v, %v)", name, a.Min, a.Max))
	}
	return nil
}
