// Package config loads stagetrack.yaml, applies STAGETRACK_* environment
// overrides and publishes each section as a retained "config/<section>"
// message for the services to pick up.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"stagetrack/bus"
	"stagetrack/errcode"
	"stagetrack/services/oscin"
	"stagetrack/services/tracker"
	"stagetrack/services/varstore"
	"stagetrack/types"
)

const (
	serviceName  = "config"
	configPrefix = "config"
	EnvPrefix    = "STAGETRACK_"
	DefaultPath  = "stagetrack.yaml"
)

// Section names, also the second topic token.
const (
	SectionLog       = "log"
	SectionOSCIn     = "osc_in"
	SectionRegisters = "registers"
	SectionTracker   = "tracker"
	SectionFixture   = "fixture"
	SectionHeartbeat = "heartbeat"
	SectionConsole   = "console"
)

// File is the whole configuration document.
type File struct {
	Log       types.LogConfig       `yaml:"log" envPrefix:"LOG_"`
	OSCIn     types.OSCInConfig     `yaml:"osc_in" envPrefix:"OSC_IN_"`
	Registers types.RegistersConfig `yaml:"registers" envPrefix:"REGISTERS_"`
	Tracker   types.TrackerConfig   `yaml:"tracker" envPrefix:"TRACKER_"`
	Fixture   types.FixtureConfig   `yaml:"fixture" envPrefix:"FIXTURE_"`
	Heartbeat types.HeartbeatConfig `yaml:"heartbeat" envPrefix:"HEARTBEAT_"`
	Console   types.ConsoleConfig   `yaml:"console" envPrefix:"CONSOLE_"`
}

// Defaults is the reference rig: pan 0..540, tilt 0..270 mirrored, alpha 0.2,
// 20 Hz, OSC in on 0.0.0.0:8000, dry-run fixture.
func Defaults() File {
	return File{
		Log: types.LogConfig{Level: "info", Format: "text"},
		OSCIn: types.OSCInConfig{
			Listen:   oscin.DefaultListen,
			AddressX: oscin.DefaultAddressX,
			AddressY: oscin.DefaultAddressY,
		},
		Registers: types.RegistersConfig{
			NameX: varstore.DefaultNameX,
			NameY: varstore.DefaultNameY,
			Scale: varstore.DefaultScale,
		},
		Tracker: types.TrackerConfig{
			ActuatorID:   "101",
			UpdatePeriod: 0.05,
			Smoothing:    0.2,
			Pan:          types.AxisRange{Min: 0, Max: 540},
			Tilt:         types.AxisRange{Min: 0, Max: 270, Invert: true},
			AutoStart:    true,
		},
		Fixture:   types.FixtureConfig{Type: "log"},
		Heartbeat: types.HeartbeatConfig{Interval: 10},
		Console:   types.ConsoleConfig{Prompt: "stagetrack> "},
	}
}

// Load reads path (if non-empty and present), overlays the process
// environment and validates.
func Load(path string) (*File, error) {
	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			data = b
		case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
			// Running without a file is fine; defaults apply.
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return Parse(data, nil)
}

// Parse decodes YAML over Defaults and applies environment overrides. With
// environ nil the process environment is used.
func Parse(data []byte, environ map[string]string) (*File, error) {
	f := Defaults()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, errcode.Wrap(errcode.InvalidConfig, "config.parse", fmt.Errorf("failed to parse config: %w", err))
		}
	}

	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&f, opts); err != nil {
		return nil, errcode.Wrap(errcode.InvalidConfig, "config.env", err)
	}

	if err := Validate(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks what can be checked without opening devices.
func Validate(f *File) error {
	const op = "config.validate"
	if _, err := ParseLevel(f.Log.Level); err != nil {
		return errcode.Wrap(errcode.InvalidConfig, op, err)
	}
	switch f.Log.Format {
	case "", "text", "json":
	default:
		return errcode.New(errcode.InvalidConfig, op, fmt.Sprintf("log.format %q", f.Log.Format))
	}
	if f.Registers.Scale < 0 {
		return errcode.New(errcode.InvalidConfig, op, "registers.scale must not be negative")
	}
	if err := tracker.FromSection(f.Tracker).Validate(); err != nil {
		return err
	}
	if f.Fixture.Type == "" {
		return errcode.New(errcode.InvalidConfig, op, "fixture.type is required")
	}
	if f.Heartbeat.Interval < 0 {
		return errcode.New(errcode.InvalidConfig, op, "heartbeat.interval must not be negative")
	}
	return nil
}

// Sections maps section names to their payloads.
func (f *File) Sections() map[string]any {
	return map[string]any{
		SectionLog:       f.Log,
		SectionOSCIn:     f.OSCIn,
		SectionRegisters: f.Registers,
		SectionTracker:   f.Tracker,
		SectionFixture:   f.Fixture,
		SectionHeartbeat: f.Heartbeat,
		SectionConsole:   f.Console,
	}
}

// Topic returns the retained topic for a section.
func Topic(section string) bus.Topic { return bus.T(configPrefix, section) }

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

// Service owns the active configuration and republishes it on reload.
type Service struct {
	Name string
	path string
	log  *slog.Logger

	mu  sync.Mutex
	cur *File
}

func NewService(path string, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{Name: serviceName, path: path, log: log.With("svc", serviceName)}
}

// Current returns the last loaded configuration, or nil before Start.
func (s *Service) Current() *File {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Start loads the file and publishes it. Services waiting on their
// config/<section> topics see it immediately as retained messages.
func (s *Service) Start(_ context.Context, conn *bus.Connection) error {
	f, err := Load(s.path)
	if err != nil {
		return err
	}
	s.install(conn, f)
	return nil
}

// Use publishes an already loaded configuration.
func (s *Service) Use(conn *bus.Connection, f *File) {
	s.install(conn, f)
}

// Reload re-reads the file. On error the running configuration is kept.
func (s *Service) Reload(conn *bus.Connection) error {
	f, err := Load(s.path)
	if err != nil {
		s.log.Warn("config reload rejected", "path", s.path, "err", err)
		return err
	}
	s.install(conn, f)
	s.log.Info("config reloaded", "path", s.path)
	return nil
}

func (s *Service) install(conn *bus.Connection, f *File) {
	s.mu.Lock()
	s.cur = f
	s.mu.Unlock()
	Publish(conn, f)
}

// Publish sends every section as a retained message.
func Publish(conn *bus.Connection, f *File) {
	for k, v := range f.Sections() {
		conn.Publish(conn.NewMessage(Topic(k), v, true))
	}
}
