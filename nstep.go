package expreplay

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidNStep is returned for a non-positive step count.
	ErrInvalidNStep = errors.New("expreplay: n-step count must be positive")

	// ErrInvalidGamma is returned when the discount factor is outside
	// (0, 1].
	ErrInvalidGamma = errors.New("expreplay: gamma must be in (0, 1]")
)

// NStepConfig configures an n-step return view over sampled indices.
// Field names default to the DefaultSchema layout; RewardField and
// DoneField must be scalars.
type NStepConfig struct {
	Steps        int
	Gamma        float64
	RewardField  string
	DoneField    string
	NextObsField string
}

// NStepBatch holds, per sampled index, the discounted n-step return, the
// residual discount gamma^k for bootstrapping (k is the number of
// lookahead steps actually taken), and the next observation at the final
// step of the walk. Rows align with the indices passed to NStep.
type NStepBatch struct {
	Returns   []float64
	Discounts []float64
	NextObs   [][]float64
}

// NStep computes n-step returns for the given stored indices by walking
// forward through the ring. The walk stops early at a done flag, at the
// newest stored transition, or after cfg.Steps transitions, whichever
// comes first.
func (b *Buffer) NStep(indices []int, cfg NStepConfig) (*NStepBatch, error) {
	if cfg.Steps <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidNStep, cfg.Steps)
	}
	if cfg.Gamma <= 0 || cfg.Gamma > 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGamma, cfg.Gamma)
	}

	rewName := cfg.RewardField
	if rewName == "" {
		rewName = FieldRew
	}
	doneName := cfg.DoneField
	if doneName == "" {
		doneName = FieldDone
	}
	nextObsName := cfg.NextObsField
	if nextObsName == "" {
		nextObsName = FieldNextObs
	}

	rewField, ok := b.schema.Field(rewName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, rewName)
	}
	if !rewField.Scalar() {
		return nil, fmt.Errorf("expreplay: reward field %q is not a scalar", rewName)
	}
	doneField, ok := b.schema.Field(doneName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, doneName)
	}
	if !doneField.Scalar() {
		return nil, fmt.Errorf("expreplay: done field %q is not a scalar", doneName)
	}
	nextObsField, ok := b.schema.Field(nextObsName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, nextObsName)
	}

	rewCol := b.columns[b.schema.index[rewName]]
	doneCol := b.columns[b.schema.index[doneName]]
	nextObsCol := b.columns[b.schema.index[nextObsName]]
	obsLen := nextObsField.Len()

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, i := range indices {
		if i < 0 || i >= b.size {
			return nil, fmt.Errorf("%w: %d (size %d)", ErrIndexOutOfRange, i, b.size)
		}
	}

	out := &NStepBatch{
		Returns:   make([]float64, len(indices)),
		Discounts: make([]float64, len(indices)),
		NextObs:   make([][]float64, len(indices)),
	}

	for ri, start := range indices {
		j := start
		ret := rewCol[j]
		discount := 1.0

		for step := 1; step < cfg.Steps && doneCol[j] == 0; step++ {
			next, ok := b.successorLocked(j)
			if !ok {
				break
			}
			j = next
			discount *= cfg.Gamma
			ret += discount * rewCol[j]
		}

		obs := make([]float64, obsLen)
		copy(obs, nextObsCol[j*obsLen:(j+1)*obsLen])

		out.Returns[ri] = ret
		out.Discounts[ri] = discount
		out.NextObs[ri] = obs
	}

	return out, nil
}

// successorLocked returns the slot written immediately after j, or false
// when j holds the newest stored transition. While filling, slots are in
// insertion order; once full, physical order wraps and the slot at the
// write cursor is the oldest.
func (b *Buffer) successorLocked(j int) (int, bool) {
	if b.size < b.capacity {
		if j+1 >= b.size {
			return 0, false
		}
		return j + 1, true
	}

	next := (j + 1) % b.capacity
	if next == b.cursor {
		return 0, false
	}
	return next, true
}
