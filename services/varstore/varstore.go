// Package varstore holds the console-style variables the tracker reads: named
// last-value registers kept as retained messages on "vars/<name>".
package varstore

import (
	"fmt"

	"stagetrack/bus"
	"stagetrack/errcode"
	"stagetrack/types"
	"stagetrack/x/mathx"
	"stagetrack/x/strx"
	"stagetrack/x/timex"
)

const (
	DefaultNameX = "person1_x"
	DefaultNameY = "person1_y"
	DefaultScale = 100.0
)

// Topic returns the retained topic for a variable.
func Topic(name string) bus.Topic { return bus.T("vars", name) }

// Store reads and writes registers. Writes overwrite in place; a burst of
// writes collapses to the last one.
type Store struct {
	conn  *bus.Connection
	nameX string
	nameY string
	def   float64
	scale float64
}

func New(conn *bus.Connection, cfg types.RegistersConfig) *Store {
	scale := cfg.Scale
	if scale <= 0 {
		scale = DefaultScale
	}
	return &Store{
		conn:  conn,
		nameX: strx.Coalesce(cfg.NameX, DefaultNameX),
		nameY: strx.Coalesce(cfg.NameY, DefaultNameY),
		def:   cfg.Default,
		scale: scale,
	}
}

func (s *Store) NameX() string { return s.nameX }
func (s *Store) NameY() string { return s.nameY }

// Set stores v as-is.
func (s *Store) Set(name string, v float64) {
	s.conn.Publish(s.conn.NewMessage(Topic(name), types.RegisterValue{Value: v, TS: timex.NowMs()}, true))
}

// SetNormalized stores a wire value in [0,1] rescaled to [0,scale]. Out of
// range input is clamped first.
func (s *Store) SetNormalized(name string, v float64) {
	s.Set(name, mathx.Clamp(v, 0, 1)*s.scale)
}

// Get returns the current value, or the configured default if the register
// was never written.
func (s *Store) Get(name string) (float64, error) {
	m, ok := s.conn.Bus().Retained(Topic(name))
	if !ok {
		return s.def, nil
	}
	switch v := m.Payload.(type) {
	case types.RegisterValue:
		return v.Value, nil
	case float64:
		return v, nil
	default:
		return 0, errcode.New(errcode.InvalidPayload, "varstore.get", fmt.Sprintf("%s holds %T", name, m.Payload))
	}
}

// X and Y satisfy tracker.Registers.
func (s *Store) X() (float64, error) { return s.Get(s.nameX) }
func (s *Store) Y() (float64, error) { return s.Get(s.nameY) }
