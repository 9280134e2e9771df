// Package idgen implements the two row-id generators the core spec calls
// for: a stateless UUID generator and a stateful integer generator whose
// counter survives engine spin-down by round-tripping through the table's
// engine-metadata element.
package idgen

import (
	"errors"
	"strconv"
	"sync/atomic"

	"github.com/beevik/etree"
	"github.com/google/uuid"
)

// Kind selects which Go representation a Generator should hand back.
// Integer generates all of them from the same counter; UUID supports
// only Kind=String.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindLong
	KindFloat
	KindDouble
)

// ErrUnsupportedKind is returned by a generator asked for a Kind it
// cannot produce (the stateless UUID generator, for any Kind but String).
var ErrUnsupportedKind = errors.New("idgen: unsupported id kind")

// Generator produces new row ids and, for the stateful variants,
// round-trips its internal counter through a table's persisted
// engine-metadata element so state survives a spin-down/spin-up cycle.
type Generator interface {
	Next(kind Kind) (any, error)
	SaveState(meta *etree.Element)
	LoadState(meta *etree.Element)
}

// UUID is the stateless generator: every call produces an independent
// random identifier, so there is nothing to persist.
type UUID struct{}

// Next implements Generator; only KindString is supported.
func (UUID) Next(kind Kind) (any, error) {
	if kind != KindString {
		return nil, ErrUnsupportedKind
	}
	return uuid.NewString(), nil
}

// SaveState is a no-op: UUID carries no state.
func (UUID) SaveState(*etree.Element) {}

// LoadState is a no-op: UUID carries no state.
func (UUID) LoadState(*etree.Element) {}

// maxIDAttr is the attribute name under which the Integer generator's
// counter is persisted on the owning table's engine-metadata element.
const maxIDAttr = "xflat:maxId"

// Integer is the stateful generator: an atomic counter that can be
// rendered as any of int/long/float/double/string, persisted as a
// decimal attribute so a later spin-up resumes from the right value.
type Integer struct {
	counter atomic.Int64
}

// NewInteger creates an Integer generator starting from start (the next
// call to Next returns start+1; pass 0 to start fresh).
func NewInteger(start int64) *Integer {
	g := &Integer{}
	g.counter.Store(start)
	return g
}

// Next allocates the next counter value, rendered as kind.
func (g *Integer) Next(kind Kind) (any, error) {
	v := g.counter.Add(1)
	switch kind {
	case KindInt:
		return int(v), nil
	case KindLong:
		return v, nil
	case KindFloat:
		return float32(v), nil
	case KindDouble:
		return float64(v), nil
	case KindString:
		return strconv.FormatInt(v, 10), nil
	default:
		return nil, ErrUnsupportedKind
	}
}

// SaveState writes the current counter value onto meta as the xflat:maxId
// attribute.
func (g *Integer) SaveState(meta *etree.Element) {
	meta.CreateAttr(maxIDAttr, strconv.FormatInt(g.counter.Load(), 10))
}

// LoadState restores the counter from meta's xflat:maxId attribute, if
// present and parseable; otherwise the generator is left unchanged.
func (g *Integer) LoadState(meta *etree.Element) {
	attr := meta.SelectAttr(maxIDAttr)
	if attr == nil {
		return
	}
	v, err := strconv.ParseInt(attr.Value, 10, 64)
	if err != nil {
		return
	}
	g.counter.Store(v)
}
