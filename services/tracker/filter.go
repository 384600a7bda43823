package tracker

import (
	"stagetrack/types"
	"stagetrack/x/mathx"
)

// Registers are read on a 0..100 scale.
const (
	regMin = 0.0
	regMax = 100.0
)

// axisTarget maps one clamped register value into the axis range, mirroring
// after the mapping when the axis is inverted.
func axisTarget(a AxisConfig, raw float64) float64 {
	v := mathx.MapRange(mathx.Clamp(raw, regMin, regMax), regMin, regMax, a.Min, a.Max)
	if a.Invert {
		v = mathx.Mirror(v, a.Min, a.Max)
	}
	return v
}

// Target is the unsmoothed command pair for register values (x, y).
func Target(c Config, x, y float64) types.PanTilt {
	return types.PanTilt{
		Pan:  axisTarget(c.Pan, x),
		Tilt: axisTarget(c.Tilt, y),
	}
}

// Step advances the filter one cycle from prev towards the target for (x, y).
// The result always lies within the configured bounds.
func Step(c Config, prev types.PanTilt, x, y float64) types.PanTilt {
	t := Target(c, x, y)
	return types.PanTilt{
		Pan:  mathx.Clamp(mathx.Blend(prev.Pan, t.Pan, c.Smoothing), c.Pan.Min, c.Pan.Max),
		Tilt: mathx.Clamp(mathx.Blend(prev.Tilt, t.Tilt, c.Smoothing), c.Tilt.Min, c.Tilt.Max),
	}
}

// Seed is the commanded position before the first cycle.
func Seed(c Config) types.PanTilt {
	return types.PanTilt{Pan: c.Pan.Mid(), Tilt: c.Tilt.Mid()}
}
