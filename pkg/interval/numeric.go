package interval

import (
	"math"
	"strconv"
)

// Int64Provider realises fixed-width integer intervals offset by a base,
// per the width/base formula in the core spec: for width w and base b,
// GetInterval(x) returns the half-open interval containing x where
// diff = |x - b| mod w; if x >= b, lower = x - diff, upper = lower + w;
// otherwise upper = x + (diff == 0 ? w : diff), lower = upper - w.
type Int64Provider struct {
	Width int64
	Base  int64
}

// NewInt64Provider constructs an Int64Provider. Width must be positive.
func NewInt64Provider(width, base int64) *Int64Provider {
	return &Int64Provider{Width: width, Base: base}
}

// GetInterval implements Provider.
func (p *Int64Provider) GetInterval(x int64) Interval[int64] {
	diff := absInt64(x-p.Base) % p.Width
	if x >= p.Base {
		lower := x - diff
		return Interval[int64]{Lower: lower, Upper: lower + p.Width}
	}
	var upper int64
	if diff == 0 {
		upper = x + p.Width
	} else {
		upper = x + diff
	}
	return Interval[int64]{Lower: upper - p.Width, Upper: upper}
}

// NextInterval shifts current by factor widths, away from the base.
func (p *Int64Provider) NextInterval(current Interval[int64], factor int) Interval[int64] {
	step := p.Width * int64(factor)
	if current.Lower >= p.Base {
		return Interval[int64]{Lower: current.Lower + step, Upper: current.Upper + step}
	}
	return Interval[int64]{Lower: current.Lower - step, Upper: current.Upper - step}
}

// Name renders the interval's lower bound in base 10, the canonical
// on-disk shard file name (sans ".xml").
func (p *Int64Provider) Name(iv Interval[int64]) string {
	return strconv.FormatInt(iv.Lower, 10)
}

// Parse recovers the canonical interval for a name produced by Name, by
// parsing the lower bound and re-deriving the interval from it so
// negative bounds round-trip correctly.
func (p *Int64Provider) Parse(name string) (Interval[int64], bool) {
	lower, err := strconv.ParseInt(name, 10, 64)
	if err != nil {
		return Interval[int64]{}, false
	}
	return p.GetInterval(lower), true
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Float64Provider is the floating-point analogue of Int64Provider, for
// tables sharded on a real-valued property.
type Float64Provider struct {
	Width float64
	Base  float64
}

// NewFloat64Provider constructs a Float64Provider. Width must be positive.
func NewFloat64Provider(width, base float64) *Float64Provider {
	return &Float64Provider{Width: width, Base: base}
}

// GetInterval implements Provider.
func (p *Float64Provider) GetInterval(x float64) Interval[float64] {
	diff := math.Mod(math.Abs(x-p.Base), p.Width)
	if x >= p.Base {
		lower := x - diff
		return Interval[float64]{Lower: lower, Upper: lower + p.Width}
	}
	var upper float64
	if diff == 0 {
		upper = x + p.Width
	} else {
		upper = x + diff
	}
	return Interval[float64]{Lower: upper - p.Width, Upper: upper}
}

// NextInterval shifts current by factor widths, away from the base.
func (p *Float64Provider) NextInterval(current Interval[float64], factor int) Interval[float64] {
	step := p.Width * float64(factor)
	if current.Lower >= p.Base {
		return Interval[float64]{Lower: current.Lower + step, Upper: current.Upper + step}
	}
	return Interval[float64]{Lower: current.Lower - step, Upper: current.Upper - step}
}

// Name renders the interval's lower bound using Go's shortest round-trip
// float formatting.
func (p *Float64Provider) Name(iv Interval[float64]) string {
	return strconv.FormatFloat(iv.Lower, 'g', -1, 64)
}

// Parse recovers the canonical interval for a name produced by Name.
func (p *Float64Provider) Parse(name string) (Interval[float64], bool) {
	lower, err := strconv.ParseFloat(name, 64)
	if err != nil {
		return Interval[float64]{}, false
	}
	return p.GetInterval(lower), true
}
