package expreplay

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPrioritized_InvalidAlpha(t *testing.T) {
	schema := defaultTestSchema(t)

	_, err := NewPrioritized(16, schema, -0.5)
	assert.ErrorIs(t, err, ErrInvalidAlpha)

	_, err = NewPrioritized(16, schema, math.NaN())
	assert.ErrorIs(t, err, ErrInvalidAlpha)

	_, err = NewPrioritized(0, schema, 0.6)
	assert.ErrorIs(t, err, ErrInvalidCapacity)
}

func TestPrioritizedBuffer_SampleShapes(t *testing.T) {
	schema := defaultTestSchema(t)
	p, err := NewPrioritized(16, schema, 0.6, WithSeed(42))
	require.NoError(t, err)

	for tag := 0; tag < 5; tag++ {
		require.NoError(t, p.Add(tagged(t, schema, float64(tag))))
	}

	res, err := p.Sample(8, 0.4)
	require.NoError(t, err)
	require.Len(t, res.Indices, 8)
	require.Len(t, res.Weights, 8)
	require.Len(t, res.Batch[FieldObs], 8)

	for i, idx := range res.Indices {
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, 5)
		assert.Greater(t, res.Weights[i], 0.0)
		assert.LessOrEqual(t, res.Weights[i], 1.0+1e-9)

		// Rows align with the reported indices.
		assert.Equal(t, float64(idx), res.Batch[FieldObs][i][0])
	}
}

func TestPrioritizedBuffer_SampleEmpty(t *testing.T) {
	schema := defaultTestSchema(t)
	p, err := NewPrioritized(16, schema, 0.6)
	require.NoError(t, err)

	_, err = p.Sample(4, 0.4)
	assert.ErrorIs(t, err, ErrEmptyBuffer)

	_, err = p.Sample(0, 0.4)
	assert.ErrorIs(t, err, ErrInvalidBatchSize)
}

func TestPrioritizedBuffer_EqualPrioritiesGiveUnitWeights(t *testing.T) {
	schema := defaultTestSchema(t)
	p, err := NewPrioritized(16, schema, 0.6, WithSeed(3))
	require.NoError(t, err)

	for tag := 0; tag < 6; tag++ {
		require.NoError(t, p.AddWithPriority(tagged(t, schema, float64(tag)), 1.0))
	}

	res, err := p.Sample(12, 1.0)
	require.NoError(t, err)
	for _, w := range res.Weights {
		assert.InDelta(t, 1.0, w, 1e-9)
	}

	// beta zero disables the correction outright.
	res, err = p.Sample(12, 0)
	require.NoError(t, err)
	for _, w := range res.Weights {
		assert.Equal(t, 1.0, w)
	}
}

func TestPrioritizedBuffer_SampleDistribution(t *testing.T) {
	schema := defaultTestSchema(t)
	p, err := NewPrioritized(16, schema, 0.6, WithSeed(123))
	require.NoError(t, err)

	priorities := []float64{0.1, 1.0, 2.4}
	for tag, prio := range priorities {
		require.NoError(t, p.AddWithPriority(tagged(t, schema, float64(tag)), prio))
	}

	iterations := 2000
	counts := make([]int, len(priorities))
	for i := 0; i < iterations; i++ {
		res, err := p.Sample(1, 0)
		require.NoError(t, err)
		counts[res.Indices[0]]++
	}

	probs := proportionalProbs(priorities, 0.6)
	tolerance := float64(iterations) * 0.05
	for i, prob := range probs {
		expected := float64(iterations) * prob
		assert.InDeltaf(t, expected, float64(counts[i]), tolerance,
			"unexpected sampling frequency for priority %v", priorities[i])
	}
}

func TestPrioritizedBuffer_Weights(t *testing.T) {
	schema := defaultTestSchema(t)
	alpha, beta := 0.6, 0.4
	p, err := NewPrioritized(8, schema, alpha, WithSeed(1))
	require.NoError(t, err)

	priorities := []float64{0.2, 0.8, 1.7}
	for tag, prio := range priorities {
		require.NoError(t, p.AddWithPriority(tagged(t, schema, float64(tag)), prio))
	}

	probs := proportionalProbs(priorities, alpha)
	n := float64(len(priorities))

	pMin := probs[0]
	for _, prob := range probs {
		if prob < pMin {
			pMin = prob
		}
	}
	maxWeight := math.Pow(pMin*n, -beta)

	res, err := p.Sample(6, beta)
	require.NoError(t, err)
	for i, idx := range res.Indices {
		expected := math.Pow(probs[idx]*n, -beta) / maxWeight
		assert.InDelta(t, expected, res.Weights[i], 1e-9)
	}
}

func TestPrioritizedBuffer_UpdatePriorities(t *testing.T) {
	schema := defaultTestSchema(t)
	p, err := NewPrioritized(8, schema, 1.0, WithSeed(5))
	require.NoError(t, err)

	for tag := 0; tag < 3; tag++ {
		require.NoError(t, p.AddWithPriority(tagged(t, schema, float64(tag)), 1.0))
	}

	err = p.UpdatePriorities([]int{0, 1}, []float64{2.0})
	assert.Error(t, err)

	err = p.UpdatePriorities([]int{5}, []float64{2.0})
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	err = p.UpdatePriorities([]int{0}, []float64{-1})
	assert.ErrorIs(t, err, ErrInvalidPriority)

	// Boost index 2 hard; with alpha 1 it should dominate the draw.
	require.NoError(t, p.UpdatePriorities([]int{2}, []float64{100}))
	assert.Equal(t, 100.0, p.MaxPriority())

	hits := 0
	for i := 0; i < 500; i++ {
		res, err := p.Sample(1, 0)
		require.NoError(t, err)
		if res.Indices[0] == 2 {
			hits++
		}
	}
	assert.Greater(t, hits, 450)
}

func TestPrioritizedBuffer_AddWithPriority_Invalid(t *testing.T) {
	schema := defaultTestSchema(t)
	p, err := NewPrioritized(8, schema, 0.6)
	require.NoError(t, err)

	for _, prio := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		err := p.AddWithPriority(tagged(t, schema, 1), prio)
		assert.ErrorIs(t, err, ErrInvalidPriority)
	}
	assert.Equal(t, 0, p.Len())
}

func TestPrioritizedBuffer_AddUsesMaxPriority(t *testing.T) {
	schema := defaultTestSchema(t)
	p, err := NewPrioritized(8, schema, 1.0, WithSeed(11))
	require.NoError(t, err)

	assert.Equal(t, defaultMaxPriority, p.MaxPriority())

	require.NoError(t, p.AddWithPriority(tagged(t, schema, 0), 4.0))
	assert.Equal(t, 4.0, p.MaxPriority())

	// A plain Add inherits the running maximum, so the fresh transition
	// competes evenly with the strongest seen so far.
	require.NoError(t, p.Add(tagged(t, schema, 1)))
	counts := make([]int, 2)
	for i := 0; i < 1000; i++ {
		res, err := p.Sample(1, 0)
		require.NoError(t, err)
		counts[res.Indices[0]]++
	}
	assert.InDelta(t, counts[0], counts[1], 150)
}

func TestPrioritizedBuffer_AddBatchAssignsPriorityMass(t *testing.T) {
	schema := defaultTestSchema(t)
	p, err := NewPrioritized(8, schema, 0.6, WithSeed(17))
	require.NoError(t, err)

	trs := []Transition{
		tagged(t, schema, 0),
		tagged(t, schema, 1),
		tagged(t, schema, 2),
	}
	require.NoError(t, p.AddBatch(trs))
	require.Equal(t, 3, p.Len())

	res, err := p.Sample(4, 0.4)
	require.NoError(t, err)
	seen := make(map[int]bool)
	for i, w := range res.Weights {
		assert.False(t, math.IsNaN(w), "weight %d is NaN", i)
		// Equal priorities fully cancel the correction.
		assert.InDelta(t, 1.0, w, 1e-9)
		seen[res.Indices[i]] = true
	}
	// A stratified draw of 4 over 3 equal-mass slots touches more than
	// one slot.
	assert.Greater(t, len(seen), 1)

	// Batched records inherit the running maximum, like a plain Add.
	require.NoError(t, p.AddWithPriority(tagged(t, schema, 3), 5.0))
	require.NoError(t, p.AddBatch([]Transition{tagged(t, schema, 4)}))
	assert.Equal(t, 5.0, p.MaxPriority())

	hits := 0
	for i := 0; i < 600; i++ {
		res, err := p.Sample(1, 0)
		require.NoError(t, err)
		if res.Indices[0] == 4 {
			hits++
		}
	}
	// Slot 4 carries mass 5^0.6 of a total near 8.25, roughly 190 of
	// 600 draws.
	assert.Greater(t, hits, 100)
}

func TestPrioritizedBuffer_AddBatchAllOrNothing(t *testing.T) {
	schema := defaultTestSchema(t)
	p, err := NewPrioritized(8, schema, 0.6)
	require.NoError(t, err)

	bad := tagged(t, schema, 1)
	bad[FieldAct] = []float64{1, 2}
	err = p.AddBatch([]Transition{tagged(t, schema, 0), bad})
	assert.Error(t, err)
	assert.Equal(t, 0, p.Len())
}

func TestPrioritizedBuffer_Clear(t *testing.T) {
	schema := defaultTestSchema(t)
	p, err := NewPrioritized(8, schema, 0.6, WithSeed(2))
	require.NoError(t, err)

	require.NoError(t, p.AddWithPriority(tagged(t, schema, 0), 9.0))
	p.Clear()

	assert.Equal(t, 0, p.Len())
	assert.Equal(t, defaultMaxPriority, p.MaxPriority())
	_, err = p.Sample(1, 0)
	assert.ErrorIs(t, err, ErrEmptyBuffer)

	require.NoError(t, p.Add(tagged(t, schema, 1)))
	res, err := p.Sample(4, 0.4)
	require.NoError(t, err)
	assert.Len(t, res.Indices, 4)
}

func TestPrioritizedBuffer_OverwriteReplacesPriority(t *testing.T) {
	schema := defaultTestSchema(t)
	p, err := NewPrioritized(2, schema, 1.0, WithSeed(8))
	require.NoError(t, err)

	require.NoError(t, p.AddWithPriority(tagged(t, schema, 0), 100))
	require.NoError(t, p.AddWithPriority(tagged(t, schema, 1), 1))
	// Overwrites slot 0, replacing the dominant priority with a weak one.
	require.NoError(t, p.AddWithPriority(tagged(t, schema, 2), 1))

	hits := 0
	for i := 0; i < 400; i++ {
		res, err := p.Sample(1, 0)
		require.NoError(t, err)
		tr := res.Batch[FieldObs][0][0]
		require.Contains(t, []float64{1, 2}, tr)
		if tr == 2 {
			hits++
		}
	}
	// Both survivors carry equal priority now.
	assert.InDelta(t, 200, hits, 80)
}

// proportionalProbs mirrors the sampler's priority^alpha normalization.
func proportionalProbs(priorities []float64, alpha float64) []float64 {
	total := 0.0
	probs := make([]float64, len(priorities))
	for i, p := range priorities {
		probs[i] = math.Pow(p, alpha)
		total += probs[i]
	}
	for i := range probs {
		probs[i] /= total
	}
	return probs
}
