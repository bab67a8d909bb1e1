// Package rng provides the seeded generator every client uses for spawn decisions during a race.
//
// The generator is mulberry32: one 32-bit state word advanced by a Weyl increment and passed
// through an xorshift-multiply mix. Two generators built from the same seed produce the same
// sequence on every platform, so obstacle layouts match across clients without being sent over
// the network. Draws must be consumed in the same order on every client.
package rng

import "math"

const increment uint32 = 0x6D2B79F5

// Mulberry32 is not safe for concurrent use.
type Mulberry32 struct {
	state uint32
}

func New(seed uint32) *Mulberry32 {
	return &Mulberry32{state: seed}
}

// Reseed resets the state word in place.
func (r *Mulberry32) Reseed(seed uint32) {
	r.state = seed
}

func (r *Mulberry32) Uint32() uint32 {
	r.state += increment
	z := r.state
	z = (z ^ z>>15) * (z | 1)
	z ^= z + (z^z>>7)*(z|61)
	return z ^ z>>14
}

// Float64 returns a value in [0, 1).
func (r *Mulberry32) Float64() float64 {
	return float64(r.Uint32()) / (math.MaxUint32 + 1)
}

// Intn returns a value in [0, n). It panics if n <= 0.
func (r *Mulberry32) Intn(n int) int {
	if n <= 0 {
		panic("rng: invalid argument to Intn")
	}
	return int(r.Float64() * float64(n))
}

// Range returns a value in [lo, hi).
func (r *Mulberry32) Range(lo, hi float64) float64 {
	return lo + r.Float64()*(hi-lo)
}

// Chance reports true with probability p.
func (r *Mulberry32) Chance(p float64) bool {
	return r.Float64() < p
}
