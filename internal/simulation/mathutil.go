package simulation

import "math"

// wrapAngle normalizes degrees into [0,360).
func wrapAngle(angle float64) float64 {
	return math.Mod(math.Mod(angle, 360)+360, 360)
}

// roundAngle rounds to 2 decimals and keeps the result below 360.
func roundAngle(angle float64) float64 {
	r := round(angle, 2)
	if r >= 360 {
		r -= 360
	}
	return r
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round(v float64, precision int) float64 {
	factor := math.Pow(10, float64(precision))
	return math.Round(v*factor) / factor
}
