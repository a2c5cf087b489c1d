package simulation

import (
	"math/rand/v2"
	"time"
)

// Source yields uniform values in [0,1).
type Source interface {
	Float64() float64
}

// NewSource returns a PCG-backed source. A zero seed is replaced by the
// current time so every process walks differently.
func NewSource(seed uint64) Source {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// uniform maps a [0,1) draw onto [lo,hi).
func uniform(src Source, lo, hi float64) float64 {
	return lo + (hi-lo)*src.Float64()
}
