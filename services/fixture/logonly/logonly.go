// Package logonly is a dry-run fixture that only logs what it would send.
package logonly

import (
	"log/slog"
	"sync"

	"stagetrack/services/fixture"
	"stagetrack/types"
)

const Type = "log"

func init() { fixture.RegisterBuilder(Type, builder{}) }

type builder struct{}

func (builder) Build(in fixture.BuildInput) (fixture.Actuator, error) {
	return New(in.ActuatorID, in.Log), nil
}

type Actuator struct {
	id  string
	log *slog.Logger

	mu   sync.Mutex
	last types.PanTilt
}

func New(id string, log *slog.Logger) *Actuator {
	if log == nil {
		log = slog.Default()
	}
	return &Actuator{id: id, log: log}
}

func (a *Actuator) Command(axis types.Axis, deg float64) error {
	a.mu.Lock()
	if axis == types.AxisTilt {
		a.last.Tilt = deg
	} else {
		a.last.Pan = deg
	}
	a.mu.Unlock()
	a.log.Debug("fixture command", "actuator", a.id, "axis", axis.String(), "deg", deg)
	return nil
}

// Last returns the most recent position per axis.
func (a *Actuator) Last() types.PanTilt {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

func (a *Actuator) Close() error { return nil }
