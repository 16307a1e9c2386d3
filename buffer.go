// Package expreplay implements a fixed-capacity experience replay buffer
// for reinforcement-learning training loops. Transitions are stored in
// contiguous per-field columns and overwritten ring-buffer style once the
// buffer is full. Mini-batches are drawn uniformly at random with
// replacement; a prioritized variant weights the draw by per-transition
// priorities.
package expreplay

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Transition is a single experience record: one flat value slice per
// schema field. Scalar fields use a slice of length one.
type Transition map[string][]float64

// Batch holds sampled transitions in columnar form. For every field the
// rows are index-aligned: row i of each field belongs to the same stored
// transition. Rows are freshly allocated copies and never alias the
// buffer's internal storage.
type Batch map[string][][]float64

// Buffer is a fixed-capacity replay buffer. Capacity and schema are set
// at construction and never change; Add overwrites the oldest record once
// the buffer is full. All methods are safe for concurrent use.
type Buffer struct {
	id       string
	schema   Schema
	capacity int

	mu      sync.RWMutex
	size    int
	cursor  int
	columns [][]float64 // one flat column per schema field, capacity*Len each

	rngMu sync.Mutex
	rng   *rand.Rand

	logger zerolog.Logger
}

// New creates a buffer with the given capacity and field schema. Storage
// for every field is allocated up front; no reallocation ever occurs.
func New(capacity int, schema Schema, opts ...Option) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	if len(schema.fields) == 0 {
		return nil, ErrEmptySchema
	}

	b := &Buffer{
		schema:   schema,
		capacity: capacity,
		columns:  make([][]float64, len(schema.fields)),
		logger:   zerolog.Nop(),
	}
	for i, f := range schema.fields {
		b.columns[i] = make([]float64, capacity*f.Len())
	}

	for _, opt := range opts {
		opt(b)
	}
	if b.rng == nil {
		b.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if b.id == "" {
		b.id = uuid.New().String()
	}

	return b, nil
}

// Add stores one transition, overwriting the oldest record when the
// buffer is full. The transition is validated against the schema before
// any column is touched; on error no state changes.
func (b *Buffer) Add(tr Transition) error {
	if err := b.schema.validate(tr); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.writeLocked(tr)
	return nil
}

// AddBatch stores transitions in order. All records are validated before
// any is written, so a failed call leaves the buffer untouched.
func (b *Buffer) AddBatch(trs []Transition) error {
	for i, tr := range trs {
		if err := b.schema.validate(tr); err != nil {
			return fmt.Errorf("transition %d: %w", i, err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, tr := range trs {
		b.writeLocked(tr)
	}
	return nil
}

// writeLocked copies every field into the cursor slot and advances the
// cursor and size. Callers must hold b.mu.
func (b *Buffer) writeLocked(tr Transition) {
	for i, f := range b.schema.fields {
		n := f.Len()
		copy(b.columns[i][b.cursor*n:(b.cursor+1)*n], tr[f.Name])
	}

	b.cursor = (b.cursor + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
		if b.size == b.capacity {
			b.logger.Debug().
				Str("buffer_id", b.id).
				Int("capacity", b.capacity).
				Msg("buffer full, new transitions overwrite the oldest")
		}
	}
}

// Get returns a copy of the stored transition at index i, which must be
// in [0, Len()).
func (b *Buffer) Get(i int) (Transition, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if i < 0 || i >= b.size {
		return nil, fmt.Errorf("%w: %d (size %d)", ErrIndexOutOfRange, i, b.size)
	}

	tr := make(Transition, len(b.schema.fields))
	for fi, f := range b.schema.fields {
		n := f.Len()
		row := make([]float64, n)
		copy(row, b.columns[fi][i*n:(i+1)*n])
		tr[f.Name] = row
	}
	return tr, nil
}

// Len returns the number of currently stored transitions.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Cap returns the buffer's fixed capacity.
func (b *Buffer) Cap() int {
	return b.capacity
}

// Cursor returns the index of the next slot Add will write.
func (b *Buffer) Cursor() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cursor
}

// Full reports whether the buffer has reached capacity. Once full it
// stays full; further adds overwrite the oldest records.
func (b *Buffer) Full() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size == b.capacity
}

// Schema returns the field schema recorded at construction.
func (b *Buffer) Schema() Schema {
	return b.schema
}

// ID returns the buffer's identity, used in logs and checkpoints.
func (b *Buffer) ID() string {
	return b.id
}

// Clear resets size and cursor to zero. Storage is retained so the
// buffer can be refilled without reallocation.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clearLocked()
}

func (b *Buffer) clearLocked() {
	b.size = 0
	b.cursor = 0
	b.logger.Debug().Str("buffer_id", b.id).Msg("buffer cleared")
}

// Stats summarizes a buffer's bookkeeping.
type Stats struct {
	Capacity     int
	Size         int
	Cursor       int
	Full         bool
	Fields       int
	StorageBytes uint64
}

// Stats returns a snapshot of the buffer's bookkeeping and storage
// footprint.
func (b *Buffer) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var bytes uint64
	for _, col := range b.columns {
		bytes += uint64(len(col)) * 8
	}

	return Stats{
		Capacity:     b.capacity,
		Size:         b.size,
		Cursor:       b.cursor,
		Full:         b.size == b.capacity,
		Fields:       len(b.schema.fields),
		StorageBytes: bytes,
	}
}
