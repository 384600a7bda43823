// Package oscmd drives a lighting console over OSC by sending command-line
// strings, one per axis, to its command address.
package oscmd

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/hypebeast/go-osc/osc"

	"stagetrack/errcode"
	"stagetrack/services/fixture"
	"stagetrack/types"
	"stagetrack/x/strx"
)

const (
	Type = "osc"

	DefaultHost    = "127.0.0.1"
	DefaultPort    = 8001
	DefaultAddress = "/cmd"
	DefaultFormat  = `Fixture %s Attribute "%s" At %.2f`
)

func init() { fixture.RegisterBuilder(Type, builder{}) }

type builder struct{}

func (builder) Build(in fixture.BuildInput) (fixture.Actuator, error) {
	var c types.FixtureOSCConfig
	if in.Config.OSC != nil {
		c = *in.Config.OSC
	}
	return New(in.ActuatorID, c, in.Log)
}

// Sender is the subset of *osc.Client used here.
type Sender interface {
	Send(packet osc.Packet) error
}

type Actuator struct {
	id      string
	address string
	format  string
	client  Sender
	log     *slog.Logger

	sent   atomic.Uint64
	errors atomic.Uint64
}

func New(id string, c types.FixtureOSCConfig, log *slog.Logger) (*Actuator, error) {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	if port < 0 || port > 65535 {
		return nil, errcode.New(errcode.InvalidConfig, "oscmd.new", fmt.Sprintf("port %d out of range", port))
	}
	host := strx.Coalesce(c.Host, DefaultHost)
	return NewWithSender(id, c, osc.NewClient(host, port), log), nil
}

// NewWithSender is New with an explicit transport.
func NewWithSender(id string, c types.FixtureOSCConfig, s Sender, log *slog.Logger) *Actuator {
	if log == nil {
		log = slog.Default()
	}
	return &Actuator{
		id:      id,
		address: strx.Coalesce(c.Address, DefaultAddress),
		format:  strx.Coalesce(c.Format, DefaultFormat),
		client:  s,
		log:     log,
	}
}

// Line renders the console command for one axis.
func (a *Actuator) Line(axis types.Axis, deg float64) string {
	return fmt.Sprintf(a.format, a.id, attribute(axis), deg)
}

func attribute(axis types.Axis) string {
	switch axis {
	case types.AxisPan:
		return "Pan"
	case types.AxisTilt:
		return "Tilt"
	}
	return axis.String()
}

func (a *Actuator) Command(axis types.Axis, deg float64) error {
	if axis != types.AxisPan && axis != types.AxisTilt {
		return errcode.New(errcode.InvalidParams, "oscmd.command", "unknown axis")
	}
	line := a.Line(axis, deg)
	if err := a.client.Send(osc.NewMessage(a.address, line)); err != nil {
		a.errors.Add(1)
		return errors.Join(errcode.LinkDown, err)
	}
	a.sent.Add(1)
	a.log.Debug("osc command sent", "address", a.address, "line", line)
	return nil
}

// Stats reports sent and failed commands.
func (a *Actuator) Stats() (sent, failed uint64) { return a.sent.Load(), a.errors.Load() }

func (a *Actuator) Close() error { return nil }
