// Package interval implements the sharded engine's interval provider: it
// maps a sharding value to a half-open [lower, upper) range and serialises
// that range to and from a file-name-safe string.
package interval

import "fmt"

// Interval is a half-open range [Lower, Upper) over an ordered value type.
type Interval[T any] struct {
	Lower T
	Upper T
}

func (i Interval[T]) String() string {
	return fmt.Sprintf("[%v, %v)", i.Lower, i.Upper)
}

// Provider maps values to intervals and back to names, and knows how to
// widen an interval into the next one in sequence.
type Provider[T any] interface {
	// GetInterval returns the interval containing value.
	GetInterval(value T) Interval[T]
	// NextInterval returns current shifted by factor multiples of the
	// provider's width, in the direction away from the provider's base
	// (both bounds move; the width is unchanged).
	NextInterval(current Interval[T], factor int) Interval[T]
	// Name renders the canonical on-disk name for an interval (used as
	// "<name>.xml").
	Name(iv Interval[T]) string
	// Parse recovers the interval a name was produced from, or reports ok
	// = false if name is not one this provider could have produced.
	Parse(name string) (Interval[T], bool)
}
