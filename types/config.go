package types

// Section payloads published on "config/<section>". Durations are float
// seconds on the wire, the way operators write them.

type LogConfig struct {
	Level  string `yaml:"level" json:"level" env:"LEVEL"`
	Format string `yaml:"format" json:"format" env:"FORMAT"` // "text" | "json"
}

type OSCInConfig struct {
	Listen   string `yaml:"listen" json:"listen" env:"LISTEN"`
	AddressX string `yaml:"address_x" json:"address_x" env:"ADDRESS_X"`
	AddressY string `yaml:"address_y" json:"address_y" env:"ADDRESS_Y"`
}

type RegistersConfig struct {
	NameX   string  `yaml:"name_x" json:"name_x" env:"NAME_X"`
	NameY   string  `yaml:"name_y" json:"name_y" env:"NAME_Y"`
	Default float64 `yaml:"default" json:"default" env:"DEFAULT"`
	Scale   float64 `yaml:"scale" json:"scale" env:"SCALE"` // wire value * Scale, default 100
}

type AxisRange struct {
	Min    float64 `yaml:"min" json:"min" env:"MIN"`
	Max    float64 `yaml:"max" json:"max" env:"MAX"`
	Invert bool    `yaml:"invert" json:"invert" env:"INVERT"`
}

type TrackerConfig struct {
	ActuatorID   string    `yaml:"actuator_id" json:"actuator_id" env:"ACTUATOR_ID"`
	UpdatePeriod float64   `yaml:"update_period" json:"update_period" env:"UPDATE_PERIOD"`
	Smoothing    float64   `yaml:"smoothing" json:"smoothing" env:"SMOOTHING"`
	Pan          AxisRange `yaml:"pan" json:"pan" envPrefix:"PAN_"`
	Tilt         AxisRange `yaml:"tilt" json:"tilt" envPrefix:"TILT_"`
	AutoStart    bool      `yaml:"auto_start" json:"auto_start" env:"AUTO_START"`
}

// FixtureConfig selects an actuator backend; only the block matching Type is read.
type FixtureConfig struct {
	Type  string             `yaml:"type" json:"type" env:"TYPE"` // "osc", "mqtt", "servo", "log"
	OSC   *FixtureOSCConfig  `yaml:"osc,omitempty" json:"osc,omitempty"`
	MQTT  *FixtureMQTTConfig `yaml:"mqtt,omitempty" json:"mqtt,omitempty"`
	Servo *ServoConfig       `yaml:"servo,omitempty" json:"servo,omitempty"`
}

type FixtureOSCConfig struct {
	Host    string `yaml:"host" json:"host"`
	Port    int    `yaml:"port" json:"port"`
	Address string `yaml:"address" json:"address"` // default "/cmd"
	// Format is a fmt template receiving (fixture id, attribute, degrees).
	Format string `yaml:"format" json:"format"`
}

type FixtureMQTTConfig struct {
	Broker      string `yaml:"broker" json:"broker"`
	ClientID    string `yaml:"client_id" json:"client_id"`
	TopicPrefix string `yaml:"topic_prefix" json:"topic_prefix"`
	QoS         byte   `yaml:"qos" json:"qos"`
	Encoding    string `yaml:"encoding" json:"encoding"` // "json" | "msgpack"
}

type ServoConfig struct {
	Device      string  `yaml:"device" json:"device"` // e.g. /dev/i2c-1
	Address     uint8   `yaml:"address" json:"address"`
	FreqHz      uint32  `yaml:"freq_hz" json:"freq_hz"`
	PanChannel  uint8   `yaml:"pan_channel" json:"pan_channel"`
	TiltChannel uint8   `yaml:"tilt_channel" json:"tilt_channel"`
	MinPulseUs  float64 `yaml:"min_pulse_us" json:"min_pulse_us"`
	MaxPulseUs  float64 `yaml:"max_pulse_us" json:"max_pulse_us"`
	// Degrees covered by the full pulse span, per axis.
	PanSpan  float64 `yaml:"pan_span" json:"pan_span"`
	TiltSpan float64 `yaml:"tilt_span" json:"tilt_span"`
}

type HeartbeatConfig struct {
	Interval float64 `yaml:"interval" json:"interval" env:"INTERVAL"` // seconds
}

type ConsoleConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" env:"ENABLED"`
	Prompt  string `yaml:"prompt" json:"prompt" env:"PROMPT"`
}
