package types

// ---- Common service state (retained) ----

type ServiceState struct {
	Level  string `json:"level"`  // e.g. "idle", "up", "running", "stopped", "degraded", "error"
	Status string `json:"status"` // freeform short code
	Error  string `json:"error,omitempty"`
	TS     int64  `json:"ts_ms"`
}

// ---- Axes ----

// Axis is one actuator degree of freedom.
type Axis uint8

const (
	AxisPan  Axis = iota // axis 1, horizontal
	AxisTilt             // axis 2, vertical
)

func (a Axis) String() string {
	switch a {
	case AxisPan:
		return "pan"
	case AxisTilt:
		return "tilt"
	default:
		return "axis?"
	}
}

// PanTilt is one absolute position pair in actuator-native units (degrees).
type PanTilt struct {
	Pan  float64 `json:"pan" msgpack:"pan"`
	Tilt float64 `json:"tilt" msgpack:"tilt"`
}

// Get returns the component for axis a.
func (p PanTilt) Get(a Axis) float64 {
	if a == AxisTilt {
		return p.Tilt
	}
	return p.Pan
}

// ---- Control loop telemetry ----

type LoopLevel string

const (
	LoopIdle    LoopLevel = "idle"
	LoopRunning LoopLevel = "running"
	LoopStopped LoopLevel = "stopped"
)

// LoopStats is a point-in-time snapshot of one loop activation.
type LoopStats struct {
	ActuatorID   string    `json:"actuator_id"`
	Level        LoopLevel `json:"level"`
	Cycles       uint64    `json:"cycles"`
	Failures     uint64    `json:"failures"`
	Commanded    PanTilt   `json:"commanded"`
	LastFailStep string    `json:"last_fail_step,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

// LoopControl is the payload of tracker/ctrl requests.
type LoopControl struct {
	Action string `json:"action"` // "start", "stop", "status"
}

// ---- Registers ----

// RegisterValue is what the variable store retains per register.
type RegisterValue struct {
	Value float64 `json:"value"` // rescaled, nominally 0..100
	TS    int64   `json:"ts_ms"`
}

// ---- Fixture commands (published by actuator backends that mirror output) ----

type AxisCommand struct {
	ActuatorID string  `json:"actuator_id" msgpack:"actuator_id"`
	Axis       string  `json:"axis" msgpack:"axis"`
	Degrees    float64 `json:"degrees" msgpack:"degrees"`
	TS         int64   `json:"ts_ms" msgpack:"ts_ms"`
}

// LoopReply answers a tracker/ctrl request.
type LoopReply struct {
	OK    bool      `json:"ok"`
	Error string    `json:"error,omitempty"`
	Stats LoopStats `json:"stats"`
}
