package expreplay

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCapacity is returned when a buffer is constructed with a
	// non-positive capacity.
	ErrInvalidCapacity = errors.New("expreplay: capacity must be positive")

	// ErrEmptyBuffer is returned when sampling from a buffer that holds
	// no transitions.
	ErrEmptyBuffer = errors.New("expreplay: buffer is empty")

	// ErrInvalidBatchSize is returned when a sample is requested with a
	// non-positive batch size.
	ErrInvalidBatchSize = errors.New("expreplay: batch size must be positive")

	// ErrEmptySchema is returned when a schema is built without fields.
	ErrEmptySchema = errors.New("expreplay: schema has no fields")

	// ErrInvalidField is returned for unnamed fields or non-positive
	// dimensions.
	ErrInvalidField = errors.New("expreplay: invalid field")

	// ErrDuplicateField is returned when two schema fields share a name.
	ErrDuplicateField = errors.New("expreplay: duplicate field")

	// ErrMissingField is returned when a transition omits a schema field.
	ErrMissingField = errors.New("expreplay: missing field")

	// ErrUnknownField is returned when a transition carries a field the
	// schema does not declare.
	ErrUnknownField = errors.New("expreplay: unknown field")

	// ErrIndexOutOfRange is returned when a gather or priority update
	// references an index outside the stored range.
	ErrIndexOutOfRange = errors.New("expreplay: index out of range")

	// ErrInvalidPriority is returned when a priority is not a positive,
	// finite number.
	ErrInvalidPriority = errors.New("expreplay: priority must be positive and finite")

	// ErrInvalidAlpha is returned when a prioritized buffer is built with
	// a negative exponent.
	ErrInvalidAlpha = errors.New("expreplay: alpha must be non-negative")

	// ErrInvalidSnapshot is returned when a snapshot's bookkeeping or
	// column lengths are inconsistent.
	ErrInvalidSnapshot = errors.New("expreplay: invalid snapshot")
)

// ShapeMismatchError reports a transition field whose element count does
// not match the schema recorded at construction.
type ShapeMismatchError struct {
	Field string
	Want  int
	Got   int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("expreplay: shape mismatch for field %q: want %d elements, got %d", e.Field, e.Want, e.Got)
}
