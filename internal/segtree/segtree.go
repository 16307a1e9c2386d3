// Package segtree provides the flat-array segment trees backing
// proportional prioritized sampling: a sum tree for drawing indices by
// cumulative priority mass and a min tree for importance-weight
// normalization.
package segtree

import (
	"math"
)

// Tree is a segment tree over float64 leaves with a fixed associative
// operation. Leaves are padded up to a power of two and initialized to
// the operation's identity.
type Tree struct {
	n    int // requested leaf count
	base int // power-of-two leaf count
	op   func(a, b float64) float64
	id   float64
	v    []float64
}

// New creates a tree with n leaves, all set to identity.
func New(n int, op func(a, b float64) float64, identity float64) *Tree {
	base := 1
	for base < n {
		base <<= 1
	}

	t := &Tree{n: n, base: base, op: op, id: identity, v: make([]float64, 2*base)}
	for i := range t.v {
		t.v[i] = identity
	}
	return t
}

// NewSum creates a sum tree with n leaves initialized to zero.
func NewSum(n int) *Tree {
	return New(n, func(a, b float64) float64 { return a + b }, 0)
}

// NewMin creates a min tree with n leaves initialized to +Inf.
func NewMin(n int) *Tree {
	return New(n, math.Min, math.Inf(1))
}

// Len returns the number of leaves.
func (t *Tree) Len() int {
	return t.n
}

// Set assigns leaf i and updates the path to the root.
func (t *Tree) Set(i int, x float64) {
	p := t.base + i
	t.v[p] = x
	for p >>= 1; p >= 1; p >>= 1 {
		t.v[p] = t.op(t.v[2*p], t.v[2*p+1])
	}
}

// Get returns the value of leaf i.
func (t *Tree) Get(i int) float64 {
	return t.v[t.base+i]
}

// Reduce folds the operation over leaves in [lo, hi).
func (t *Tree) Reduce(lo, hi int) float64 {
	res := t.id
	lo += t.base
	hi += t.base
	for lo < hi {
		if lo&1 == 1 {
			res = t.op(res, t.v[lo])
			lo++
		}
		if hi&1 == 1 {
			hi--
			res = t.op(res, t.v[hi])
		}
		lo >>= 1
		hi >>= 1
	}
	return res
}

// Fill sets every leaf to x.
func (t *Tree) Fill(x float64) {
	for i := t.base; i < t.base+t.n; i++ {
		t.v[i] = x
	}
	for i := t.base + t.n; i < 2*t.base; i++ {
		t.v[i] = t.id
	}
	for i := t.base - 1; i >= 1; i-- {
		t.v[i] = t.op(t.v[2*i], t.v[2*i+1])
	}
}

// PrefixIndex descends a sum tree to the leaf where the running prefix
// sum first exceeds target, clamped to [0, size). Only meaningful for
// trees built with NewSum.
func (t *Tree) PrefixIndex(target float64, size int) int {
	p := 1
	for p < t.base {
		left := 2 * p
		if t.v[left] > target {
			p = left
		} else {
			target -= t.v[left]
			p = left + 1
		}
	}

	i := p - t.base
	if i >= size {
		i = size - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}
