// Package interval turns a column of discrete observed values into half-open
// [Value, ValueTo) buckets. Each distinct value becomes the start of a bucket
// that ends where the next larger observed value begins; the last bucket ends
// at a caller-supplied fallback, or at NoUpperBound when none is given.
//
// Example:
//
//	specs, _ := interval.Build([]int{30, 10, 20, 10}, nil)
//	// [{10 20} {20 30} {30 -1}]
package interval

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// NoUpperBound marks the open end of the last bucket when no fallback exists.
const NoUpperBound = -1

// ErrEmptyIntervalInput is returned when Build receives no values.
var ErrEmptyIntervalInput = errors.New("interval: empty input")

// Number is the set of element types a bucket boundary can have.
type Number interface {
	~int | ~int32 | ~int64 | ~float32 | ~float64
}

// Spec is a single [Value, ValueTo) bucket.
type Spec[T Number] struct {
	Value   T
	ValueTo T
}

// String renders the bucket as "[value, value_to)".
func (s Spec[T]) String() string {
	return fmt.Sprintf("[%v, %v)", s.Value, s.ValueTo)
}

// Open reports whether the bucket has no upper bound.
func (s Spec[T]) Open() bool { return s.ValueTo == T(NoUpperBound) }

// Bounded reports whether ValueTo is a usable upper limit. A top bucket whose
// fallback does not exceed its lower bound, such as an unscaled label value,
// is treated as unbounded.
func (s Spec[T]) Bounded() bool { return !s.Open() && s.ValueTo > s.Value }

// MarshalJSON encodes the bucket as a two-element array, the shape query
// templates and downstream consumers receive.
func (s Spec[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]T{s.Value, s.ValueTo})
}

// UnmarshalJSON accepts the two-element array form produced by MarshalJSON.
func (s *Spec[T]) UnmarshalJSON(b []byte) error {
	var pair [2]T
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("interval: decode spec: %w", err)
	}
	s.Value, s.ValueTo = pair[0], pair[1]
	return nil
}

// Build sorts and deduplicates values and pairs each distinct value with the
// next larger one. The last value is paired with *fallback when fallback is
// non-nil, otherwise with NoUpperBound. The input slice is not modified.
func Build[T Number](values []T, fallback *T) ([]Spec[T], error) {
	if len(values) == 0 {
		return nil, ErrEmptyIntervalInput
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	last := T(NoUpperBound)
	if fallback != nil {
		last = *fallback
	}

	out := make([]Spec[T], len(sorted))
	for i, v := range sorted {
		to := last
		if i+1 < len(sorted) {
			to = sorted[i+1]
		}
		out[i] = Spec[T]{Value: v, ValueTo: to}
	}
	return out, nil
}

// Lookup indexes specs by their start value so callers can map each row's
// raw value back onto its bucket.
func Lookup[T Number](specs []Spec[T]) map[T]Spec[T] {
	m := make(map[T]Spec[T], len(specs))
	for _, s := range specs {
		m[s.Value] = s
	}
	return m
}
