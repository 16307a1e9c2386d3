package expreplay

import (
	"fmt"
	"time"
)

// Snapshot is a self-contained copy of a buffer's schema, bookkeeping
// and column storage, sufficient to reconstruct the buffer exactly.
// Checkpoint stores persist snapshots; the buffer itself never retains
// one.
type Snapshot struct {
	ID        string
	Capacity  int
	Size      int
	Cursor    int
	Fields    []FieldSpec
	Columns   map[string][]float64
	CreatedAt time.Time
}

// Snapshot copies the buffer's full state. The copy is independent of
// the live buffer.
func (b *Buffer) Snapshot() *Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := &Snapshot{
		ID:        b.id,
		Capacity:  b.capacity,
		Size:      b.size,
		Cursor:    b.cursor,
		Fields:    b.schema.Fields(),
		Columns:   make(map[string][]float64, len(b.schema.fields)),
		CreatedAt: time.Now().UTC(),
	}
	for i, f := range b.schema.fields {
		col := make([]float64, len(b.columns[i]))
		copy(col, b.columns[i])
		snap.Columns[f.Name] = col
	}
	return snap
}

// FromSnapshot reconstructs a buffer from a snapshot, restoring size,
// cursor and contents exactly. Options apply as in New; the snapshot's
// ID is kept unless overridden with WithID.
func FromSnapshot(snap *Snapshot, opts ...Option) (*Buffer, error) {
	schema, err := NewSchema(snap.Fields...)
	if err != nil {
		return nil, err
	}

	if snap.Size < 0 || snap.Size > snap.Capacity {
		return nil, fmt.Errorf("%w: size %d out of range for capacity %d", ErrInvalidSnapshot, snap.Size, snap.Capacity)
	}
	if snap.Cursor < 0 || snap.Cursor >= snap.Capacity {
		return nil, fmt.Errorf("%w: cursor %d out of range for capacity %d", ErrInvalidSnapshot, snap.Cursor, snap.Capacity)
	}

	b, err := New(snap.Capacity, schema, append([]Option{WithID(snap.ID)}, opts...)...)
	if err != nil {
		return nil, err
	}

	for i, f := range schema.fields {
		col, ok := snap.Columns[f.Name]
		if !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrInvalidSnapshot, f.Name)
		}
		if len(col) != len(b.columns[i]) {
			return nil, fmt.Errorf("%w: column %q has %d elements, want %d", ErrInvalidSnapshot, f.Name, len(col), len(b.columns[i]))
		}
		copy(b.columns[i], col)
	}

	b.size = snap.Size
	b.cursor = snap.Cursor
	return b, nil
}
