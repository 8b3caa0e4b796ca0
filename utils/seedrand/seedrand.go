// Package seedrand is a string-seeded pseudo random generator built on an
// ARC4 keystream. For a given seed it yields exactly the same float64 sequence
// as the generator every other node on the network uses to shuffle the
// validator matrix, so the arithmetic below deliberately stays in float64.
package seedrand

import "math"

const (
	width       = 256
	chunks      = 6
	significand = 1 << 52
	overflow    = 1 << 53
)

type arc4 struct {
	i, j uint8
	s    [width]uint8
}

func newARC4(key []uint8) *arc4 {
	a := &arc4{}
	if len(key) == 0 {
		key = []uint8{0}
	}
	for i := range a.s {
		a.s[i] = uint8(i)
	}
	var j uint8
	for i := 0; i < width; i++ {
		t := a.s[i]
		j += key[i%len(key)] + t
		a.s[i] = a.s[j]
		a.s[j] = t
	}
	a.next(width) // discard the first bytes of the keystream
	return a
}

// next returns count keystream bytes folded big endian into a float64.
func (a *arc4) next(count int) float64 {
	var r float64
	for ; count > 0; count-- {
		a.i++
		t := a.s[a.i]
		a.j += t
		a.s[a.i] = a.s[a.j]
		a.s[a.j] = t
		r = r*width + float64(a.s[a.s[a.i]+a.s[a.j]])
	}
	return r
}

// mixKey folds the seed string into at most 256 key bytes.
func mixKey(seed string) []uint8 {
	var key []uint8
	var smear uint8
	for j, ch := range []byte(seed) {
		k := j & 0xff
		if k < len(key) {
			smear ^= key[k] * 19
			key[k] = smear + ch
		} else {
			key = append(key, smear+ch)
		}
	}
	return key
}

// Rand generates floats in [0, 1).
type Rand struct {
	a *arc4
}

// New returns a generator seeded with seed.
func New(seed string) *Rand {
	return &Rand{a: newARC4(mixKey(seed))}
}

// Float64 returns the next value in [0, 1) with 53 bits of randomness.
func (r *Rand) Float64() float64 {
	n := r.a.next(chunks)
	d := math.Pow(width, chunks)
	var x uint64
	for n < significand {
		n = (n + float64(x)) * width
		d *= width
		x = uint64(r.a.next(1))
	}
	for n >= overflow {
		n /= 2
		d /= 2
		x >>= 1
	}
	return (n + float64(x)) / d
}

// Shuffle returns a Fisher-Yates permutation of [0, n) driven by r.
func (r *Rand) Shuffle(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := int(math.Floor(r.Float64() * float64(i+1)))
		out[i], out[j] = out[j], out[i]
	}
	return out
}
