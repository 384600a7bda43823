package mathx

// MapRange maps x in [inMin,inMax] linearly onto [outMin,outMax].
// The input is clamped first so the result never leaves the output range.
// A degenerate input range yields outMin.
func MapRange(x, inMin, inMax, outMin, outMax float64) float64 {
	if inMax == inMin {
		return outMin
	}
	x = Clamp(x, inMin, inMax)
	return outMin + (x-inMin)*(outMax-outMin)/(inMax-inMin)
}

// Mirror reflects v about the centre of [lo,hi], so lo <-> hi.
func Mirror(v, lo, hi float64) float64 {
	return lo + hi - v
}
