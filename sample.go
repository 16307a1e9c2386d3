package expreplay

import (
	"fmt"
)

// Sample draws batchSize transitions uniformly at random with
// replacement from the stored range. batchSize may exceed the number of
// stored transitions. Fails with ErrEmptyBuffer when nothing is stored.
func (b *Buffer) Sample(batchSize int) (Batch, error) {
	indices, err := b.SampleIndices(batchSize)
	if err != nil {
		return nil, err
	}
	return b.Gather(indices)
}

// SampleIndices draws batchSize indices independently and uniformly with
// replacement from [0, Len()). Exposed so callers can pair a draw with
// Gather, NStep or priority updates.
func (b *Buffer) SampleIndices(batchSize int) ([]int, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBatchSize, batchSize)
	}

	b.mu.RLock()
	size := b.size
	b.mu.RUnlock()
	if size == 0 {
		return nil, ErrEmptyBuffer
	}

	indices := make([]int, batchSize)
	b.rngMu.Lock()
	for i := range indices {
		indices[i] = b.rng.Intn(size)
	}
	b.rngMu.Unlock()
	return indices, nil
}

// Gather copies the transitions at the given indices into a fresh Batch.
// Row i of every returned field belongs to the transition at indices[i].
func (b *Buffer) Gather(indices []int) (Batch, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.gatherLocked(indices)
}

func (b *Buffer) gatherLocked(indices []int) (Batch, error) {
	for _, i := range indices {
		if i < 0 || i >= b.size {
			return nil, fmt.Errorf("%w: %d (size %d)", ErrIndexOutOfRange, i, b.size)
		}
	}

	batch := make(Batch, len(b.schema.fields))
	for fi, f := range b.schema.fields {
		n := f.Len()
		col := b.columns[fi]
		rows := make([][]float64, len(indices))
		for ri, i := range indices {
			row := make([]float64, n)
			copy(row, col[i*n:(i+1)*n])
			rows[ri] = row
		}
		batch[f.Name] = rows
	}
	return batch, nil
}
