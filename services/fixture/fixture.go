// Package fixture builds the actuator sink the tracker drives. Backends live
// in sub-packages and register themselves by type name from init().
package fixture

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"stagetrack/errcode"
	"stagetrack/types"
)

// Actuator accepts absolute positions per axis. Command must be quick and
// must not retain state the caller depends on; a failed call is simply
// retried by the next cycle.
type Actuator interface {
	Command(axis types.Axis, degrees float64) error
	Close() error
}

// BuildInput is handed to a backend builder.
type BuildInput struct {
	ActuatorID string
	Config     types.FixtureConfig
	Log        *slog.Logger
}

// Builder constructs an Actuator from configuration.
type Builder interface {
	Build(in BuildInput) (Actuator, error)
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func(in BuildInput) (Actuator, error)

func (f BuilderFunc) Build(in BuildInput) (Actuator, error) { return f(in) }

var (
	muBuilders sync.RWMutex
	builders   = map[string]Builder{}
)

// RegisterBuilder installs a builder for a backend type.
// It panics on duplicate registration to catch mistakes at start-up.
func RegisterBuilder(typ string, b Builder) {
	muBuilders.Lock()
	defer muBuilders.Unlock()
	if typ == "" {
		panic("fixture: empty backend type for builder")
	}
	if _, exists := builders[typ]; exists {
		panic(fmt.Sprintf("fixture: builder already registered for type %q", typ))
	}
	builders[typ] = b
}

func findBuilder(typ string) (Builder, bool) {
	muBuilders.RLock()
	defer muBuilders.RUnlock()
	b, ok := builders[typ]
	return b, ok
}

// Types lists registered backend names, sorted.
func Types() []string {
	muBuilders.RLock()
	defer muBuilders.RUnlock()
	out := make([]string, 0, len(builders))
	for k := range builders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build looks up cfg.Type and constructs the backend for actuatorID.
func Build(actuatorID string, cfg types.FixtureConfig, log *slog.Logger) (Actuator, error) {
	const op = "fixture.build"
	b, ok := findBuilder(cfg.Type)
	if !ok {
		return nil, errcode.New(errcode.UnknownBackend, op, fmt.Sprintf("no backend %q (have %v)", cfg.Type, Types()))
	}
	if log == nil {
		log = slog.Default()
	}
	a, err := b.Build(BuildInput{
		ActuatorID: actuatorID,
		Config:     cfg,
		Log:        log.With("svc", "fixture", "backend", cfg.Type),
	})
	if err != nil {
		code := errcode.Of(err)
		if code == errcode.Error {
			code = errcode.InvalidConfig
		}
		return nil, errcode.Wrap(code, op, err)
	}
	return a, nil
}
