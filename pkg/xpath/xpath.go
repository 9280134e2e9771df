// Package xpath describes the interfaces the XFlat core calls into on the
// external XPath query/update compiler. The compiler itself — parsing an
// XPath string into a row matcher or a row mutator — is out of scope for
// the core and lives elsewhere; this package only names the contract.
package xpath

import "github.com/beevik/etree"

// RowMatcher decides whether a row's element tree satisfies a compiled
// query. Implementations must not retain or mutate the element they are
// given.
type RowMatcher interface {
	Matches(row *etree.Element) bool
}

// RowMutator applies a compiled update to a clone of a row's visible
// version, reporting whether anything actually changed so the caller can
// skip installing a new version for a no-op update.
type RowMutator interface {
	Apply(row *etree.Element) (changed bool, err error)
}

// MatchFunc adapts a plain function to RowMatcher, mirroring the
// net/http.HandlerFunc pattern for the common case of a query with no
// state beyond a closure.
type MatchFunc func(row *etree.Element) bool

// Matches implements RowMatcher.
func (f MatchFunc) Matches(row *etree.Element) bool { return f(row) }

// MutateFunc adapts a plain function to RowMutator.
type MutateFunc func(row *etree.Element) (bool, error)

// Apply implements RowMutator.
func (f MutateFunc) Apply(row *etree.Element) (bool, error) { return f(row) }

// MatchAll is a RowMatcher that accepts every row, for deleteAll/
// update(query,...) style operations that mean to touch every row.
// QueryTable treats a nil matcher the same way.
var MatchAll RowMatcher = MatchFunc(func(*etree.Element) bool { return true })

// ValueSelector evaluates a configured XPath shard-property expression
// against a row element and converts the result to T, standing in for the
// combination of the XPath compiler and the value conversion service that
// the sharded engine depends on for routing. A null or non-convertible
// selected value must be reported as an error, never silently defaulted.
type ValueSelector[T any] interface {
	Select(row *etree.Element) (T, error)
	Expression() string
}

// ValueSelectorFunc adapts a plain function to ValueSelector for tests and
// simple configurations.
type ValueSelectorFunc[T any] struct {
	Expr string
	Fn   func(row *etree.Element) (T, error)
}

// Select implements ValueSelector.
func (f ValueSelectorFunc[T]) Select(row *etree.Element) (T, error) { return f.Fn(row) }

// Expression implements ValueSelector.
func (f ValueSelectorFunc[T]) Expression() string { return f.Expr }
