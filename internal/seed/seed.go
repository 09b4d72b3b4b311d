// Package seed provides the run's deterministic random number generator.
package seed

import "math/rand/v2"

// New returns a generator whose sequence depends only on seed.
func New(seed int64) *rand.Rand {
	s := uint64(seed)
	return rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))
}
