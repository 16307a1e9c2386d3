package expreplay

import (
	"fmt"
	"math"

	"github.com/cartridge/expreplay/internal/segtree"
)

// defaultMaxPriority seeds the running max so transitions added without
// an explicit priority are sampled at least as often as any seen so far.
const defaultMaxPriority = 1.0

// PrioritizedBuffer is a replay buffer with proportional prioritized
// sampling: transition i is drawn with probability priority_i^alpha
// divided by the total mass, tracked in a sum segment tree. A min tree
// keeps the normalization term for importance-sampling weights cheap.
type PrioritizedBuffer struct {
	*Buffer

	alpha       float64
	sum         *segtree.Tree
	min         *segtree.Tree
	maxPriority float64
}

// PrioritizedBatch is the result of one prioritized draw. Weights are
// importance-sampling corrections normalized to at most one, and Indices
// identifies the drawn slots for a later UpdatePriorities call.
type PrioritizedBatch struct {
	Batch   Batch
	Weights []float64
	Indices []int
}

// NewPrioritized creates a prioritized buffer. alpha controls how
// strongly priorities skew the draw: zero recovers uniform sampling.
func NewPrioritized(capacity int, schema Schema, alpha float64, opts ...Option) (*PrioritizedBuffer, error) {
	if alpha < 0 || math.IsNaN(alpha) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAlpha, alpha)
	}

	b, err := New(capacity, schema, opts...)
	if err != nil {
		return nil, err
	}

	return &PrioritizedBuffer{
		Buffer:      b,
		alpha:       alpha,
		sum:         segtree.NewSum(capacity),
		min:         segtree.NewMin(capacity),
		maxPriority: defaultMaxPriority,
	}, nil
}

// Add stores a transition at the running maximum priority, so fresh
// experience is sampled promptly.
func (p *PrioritizedBuffer) Add(tr Transition) error {
	p.mu.RLock()
	max := p.maxPriority
	p.mu.RUnlock()
	return p.AddWithPriority(tr, max)
}

// AddBatch stores a batch of transitions, each at the running maximum
// priority. Validation is all-or-nothing: on error nothing is written.
func (p *PrioritizedBuffer) AddBatch(trs []Transition) error {
	for i, tr := range trs {
		if err := p.schema.validate(tr); err != nil {
			return fmt.Errorf("transition %d: %w", i, err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, tr := range trs {
		slot := p.cursor
		p.writeLocked(tr)
		p.setPriorityLocked(slot, p.maxPriority)
	}
	return nil
}

// AddWithPriority stores a transition with an explicit priority. The
// priority must be positive and finite; validation happens before any
// state changes.
func (p *PrioritizedBuffer) AddWithPriority(tr Transition, priority float64) error {
	if err := validPriority(priority); err != nil {
		return err
	}
	if err := p.schema.validate(tr); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	slot := p.cursor
	p.writeLocked(tr)
	p.setPriorityLocked(slot, priority)
	return nil
}

// Sample draws batchSize transitions proportionally to priority^alpha
// using stratified draws over the cumulative mass. beta anneals the
// importance-sampling correction: zero disables it (all weights one),
// one fully compensates the skewed draw. Negative beta is clamped to
// zero.
func (p *PrioritizedBuffer) Sample(batchSize int, beta float64) (*PrioritizedBatch, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBatchSize, batchSize)
	}
	if beta < 0 {
		beta = 0
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.size == 0 {
		return nil, ErrEmptyBuffer
	}

	indices := p.drawProportionalLocked(batchSize)
	weights := p.weightsLocked(indices, beta)

	batch, err := p.gatherLocked(indices)
	if err != nil {
		return nil, err
	}

	return &PrioritizedBatch{Batch: batch, Weights: weights, Indices: indices}, nil
}

// UpdatePriorities reassigns priorities for previously sampled slots,
// typically from fresh TD errors. Indices must be within the stored
// range and priorities positive; nothing changes on error.
func (p *PrioritizedBuffer) UpdatePriorities(indices []int, priorities []float64) error {
	if len(indices) != len(priorities) {
		return fmt.Errorf("expreplay: mismatched lengths: %d indices vs %d priorities", len(indices), len(priorities))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for i, idx := range indices {
		if idx < 0 || idx >= p.size {
			return fmt.Errorf("%w: %d (size %d)", ErrIndexOutOfRange, idx, p.size)
		}
		if err := validPriority(priorities[i]); err != nil {
			return err
		}
	}

	for i, idx := range indices {
		p.setPriorityLocked(idx, priorities[i])
	}
	return nil
}

// MaxPriority returns the largest priority seen since construction or
// the last Clear.
func (p *PrioritizedBuffer) MaxPriority() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.maxPriority
}

// Clear resets the buffer and all priority state.
func (p *PrioritizedBuffer) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.clearLocked()
	p.sum.Fill(0)
	p.min.Fill(math.Inf(1))
	p.maxPriority = defaultMaxPriority
}

func (p *PrioritizedBuffer) setPriorityLocked(slot int, priority float64) {
	if priority > p.maxPriority {
		p.maxPriority = priority
	}
	v := math.Pow(priority, p.alpha)
	p.sum.Set(slot, v)
	p.min.Set(slot, v)
}

// drawProportionalLocked splits the total mass into batchSize strata and
// draws one index from each, so large batches cover the priority range
// evenly.
func (p *PrioritizedBuffer) drawProportionalLocked(batchSize int) []int {
	total := p.sum.Reduce(0, p.size)
	stratum := total / float64(batchSize)

	indices := make([]int, batchSize)
	p.rngMu.Lock()
	for i := range indices {
		mass := (p.rng.Float64() + float64(i)) * stratum
		indices[i] = p.sum.PrefixIndex(mass, p.size)
	}
	p.rngMu.Unlock()
	return indices
}

func (p *PrioritizedBuffer) weightsLocked(indices []int, beta float64) []float64 {
	weights := make([]float64, len(indices))
	if beta == 0 {
		for i := range weights {
			weights[i] = 1
		}
		return weights
	}

	size := float64(p.size)
	invTotal := 1 / p.sum.Reduce(0, p.size)
	pMin := p.min.Reduce(0, p.size) * invTotal
	invMaxWeight := 1 / math.Pow(pMin*size, -beta)

	for i, idx := range indices {
		pSample := p.sum.Get(idx) * invTotal
		weights[i] = math.Pow(pSample*size, -beta) * invMaxWeight
	}
	return weights
}

func validPriority(priority float64) error {
	if priority <= 0 || math.IsNaN(priority) || math.IsInf(priority, 1) {
		return fmt.Errorf("%w: %v", ErrInvalidPriority, priority)
	}
	return nil
}
