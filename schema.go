package expreplay

import (
	"fmt"
)

// FieldSpec describes one named field of a transition. Shape lists the
// dimensions of the field's fixed-size array; a nil or empty Shape means
// the field is a scalar.
type FieldSpec struct {
	Name  string
	Shape []int
}

// Len returns the number of elements one record of this field occupies.
// Scalars occupy a single element.
func (f FieldSpec) Len() int {
	n := 1
	for _, d := range f.Shape {
		n *= d
	}
	return n
}

// Scalar reports whether the field holds a single value per record.
func (f FieldSpec) Scalar() bool {
	return f.Len() == 1
}

// Schema is an ordered, immutable set of transition fields. Every buffer
// records its schema at construction and validates all inputs against it.
type Schema struct {
	fields []FieldSpec
	index  map[string]int
}

// NewSchema builds a schema from the given fields. Field names must be
// non-empty and unique, and every dimension must be positive.
func NewSchema(fields ...FieldSpec) (Schema, error) {
	if len(fields) == 0 {
		return Schema{}, ErrEmptySchema
	}

	s := Schema{
		fields: make([]FieldSpec, len(fields)),
		index:  make(map[string]int, len(fields)),
	}

	for i, f := range fields {
		if f.Name == "" {
			return Schema{}, fmt.Errorf("%w: field %d has no name", ErrInvalidField, i)
		}
		if _, exists := s.index[f.Name]; exists {
			return Schema{}, fmt.Errorf("%w: %q", ErrDuplicateField, f.Name)
		}
		for _, d := range f.Shape {
			if d <= 0 {
				return Schema{}, fmt.Errorf("%w: %q has dimension %d", ErrInvalidField, f.Name, d)
			}
		}

		spec := FieldSpec{Name: f.Name}
		if len(f.Shape) > 0 {
			spec.Shape = make([]int, len(f.Shape))
			copy(spec.Shape, f.Shape)
		}
		s.fields[i] = spec
		s.index[f.Name] = i
	}

	return s, nil
}

// DefaultSchema returns the canonical transition layout used by training
// loops: an observation, an action, a scalar reward, the next observation
// and a scalar done flag.
func DefaultSchema(obsDim, actDim int) (Schema, error) {
	if obsDim <= 0 || actDim <= 0 {
		return Schema{}, fmt.Errorf("%w: obsDim %d, actDim %d", ErrInvalidField, obsDim, actDim)
	}
	return NewSchema(
		FieldSpec{Name: FieldObs, Shape: []int{obsDim}},
		FieldSpec{Name: FieldAct, Shape: []int{actDim}},
		FieldSpec{Name: FieldRew},
		FieldSpec{Name: FieldNextObs, Shape: []int{obsDim}},
		FieldSpec{Name: FieldDone},
	)
}

// Field names used by DefaultSchema and the n-step view defaults.
const (
	FieldObs     = "obs"
	FieldAct     = "act"
	FieldRew     = "rew"
	FieldNextObs = "next_obs"
	FieldDone    = "done"
)

// Fields returns a copy of the schema's field specs in declaration order.
func (s Schema) Fields() []FieldSpec {
	out := make([]FieldSpec, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field looks up a field spec by name.
func (s Schema) Field(name string) (FieldSpec, bool) {
	i, ok := s.index[name]
	if !ok {
		return FieldSpec{}, false
	}
	return s.fields[i], true
}

// NumFields returns the number of fields in the schema.
func (s Schema) NumFields() int {
	return len(s.fields)
}

// RowLen returns the total number of elements one transition occupies
// across all fields.
func (s Schema) RowLen() int {
	n := 0
	for _, f := range s.fields {
		n += f.Len()
	}
	return n
}

// validate checks a transition against the schema. Every schema field
// must be present with exactly the declared number of elements, and no
// extra fields are allowed. The transition is not modified.
func (s Schema) validate(tr Transition) error {
	for _, f := range s.fields {
		values, ok := tr[f.Name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrMissingField, f.Name)
		}
		if len(values) != f.Len() {
			return &ShapeMismatchError{Field: f.Name, Want: f.Len(), Got: len(values)}
		}
	}
	if len(tr) != len(s.fields) {
		for name := range tr {
			if _, ok := s.index[name]; !ok {
				return fmt.Errorf("%w: %q", ErrUnknownField, name)
			}
		}
	}
	return nil
}
