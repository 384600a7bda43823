package tracker

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagetrack/types"
)

func TestStep_NeverLeavesBounds(t *testing.T) {
	cfgs := []Config{
		referenceConfig(),
		{ActuatorID: "a", Period: 1, Pan: AxisConfig{Min: -170, Max: 170, Invert: true}, Tilt: AxisConfig{Min: 30, Max: 90, Invert: true}, Smoothing: 0.7},
		{ActuatorID: "b", Period: 1, Pan: AxisConfig{Min: 10, Max: 20}, Tilt: AxisConfig{Min: -5, Max: 5}},
	}
	inputs := []float64{-1000, -50, -0.0001, 0, 0.5, 33.3, 50, 99.999, 100, 100.0001, 150, 1e9}
	for _, cfg := range cfgs {
		prev := Seed(cfg)
		for _, x := range inputs {
			for _, y := range inputs {
				prev = Step(cfg, prev, x, y)
				require.True(t, prev.Pan >= cfg.Pan.Min && prev.Pan <= cfg.Pan.Max, "pan %v out of %+v", prev.Pan, cfg.Pan)
				require.True(t, prev.Tilt >= cfg.Tilt.Min && prev.Tilt <= cfg.Tilt.Max, "tilt %v out of %+v", prev.Tilt, cfg.Tilt)
			}
		}
	}
}

func TestTarget_Inversion(t *testing.T) {
	cfg := referenceConfig()
	assert.Equal(t, cfg.Tilt.Max, Target(cfg, 0, 0).Tilt)
	assert.Equal(t, cfg.Tilt.Min, Target(cfg, 0, 100).Tilt)

	// Mirroring keeps an offset range inside its own bounds.
	cfg.Tilt = AxisConfig{Min: 30, Max: 90, Invert: true}
	assert.Equal(t, 90.0, Target(cfg, 0, 0).Tilt)
	assert.Equal(t, 30.0, Target(cfg, 0, 100).Tilt)
	assert.InDelta(t, 75.0, Target(cfg, 0, 25).Tilt, 1e-9)

	// Pan is not inverted in the reference rig.
	assert.Equal(t, 0.0, Target(referenceConfig(), 0, 0).Pan)
	assert.Equal(t, 540.0, Target(referenceConfig(), 100, 0).Pan)
}

func TestTarget_ClampsRegistersBeforeMapping(t *testing.T) {
	cfg := referenceConfig()
	assert.Equal(t, Target(cfg, 0, 0), Target(cfg, -25, -25))
	assert.Equal(t, Target(cfg, 100, 100), Target(cfg, 250, 250))
}

func TestStep_MonotonicDamping(t *testing.T) {
	const cycles = 12
	target := types.PanTilt{Pan: 540, Tilt: 270} // registers (100, 0) with tilt mirrored

	distances := map[float64][]float64{}
	for _, alpha := range []float64{0, 0.2, 0.5, 0.9} {
		cfg := referenceConfig()
		cfg.Smoothing = alpha
		prev := Seed(cfg)
		lastDist := math.Inf(1)
		for i := 0; i < cycles; i++ {
			next := Step(cfg, prev, 100, 0)
			d := math.Abs(target.Pan-next.Pan) + math.Abs(target.Tilt-next.Tilt)
			require.LessOrEqual(t, d, lastDist, "alpha=%v cycle=%d moved away from target", alpha, i)
			require.LessOrEqual(t, next.Pan, target.Pan, "alpha=%v overshoot", alpha)
			distances[alpha] = append(distances[alpha], d)
			lastDist = d
			prev = next
		}
	}

	assert.Equal(t, 0.0, distances[0][0], "alpha=0 reaches the target in one cycle")
	for i := 0; i < cycles; i++ {
		assert.Less(t, distances[0.2][i], distances[0.5][i], "cycle %d", i)
		assert.Less(t, distances[0.5][i], distances[0.9][i], "cycle %d", i)
	}
}

func TestSeed_IsMidpoint(t *testing.T) {
	assert.Equal(t, types.PanTilt{Pan: 270, Tilt: 135}, Seed(referenceConfig()))
	cfg := referenceConfig()
	cfg.Tilt = AxisConfig{Min: 30, Max: 90}
	assert.Equal(t, 60.0, Seed(cfg).Tilt)
}
