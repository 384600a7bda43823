package mathx

// Blend is a single-pole exponential filter step:
//
//	prev + (target-prev)*(1-alpha)
//
// alpha=0 adopts target immediately; alpha close to 1 barely moves.
func Blend(prev, target, alpha float64) float64 {
	if alpha <= 0 {
		return target
	}
	return prev + (target-prev)*(1-alpha)
}
