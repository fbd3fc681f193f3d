package mql

import (
	"errors"
	"fmt"

	"github.com/docquery/sql2mongo/plan"
)

// ErrUnsupported is the root of every compile failure caused by a
// relational feature with no pipeline translation. Compilation fails fast,
// no partial pipeline is ever returned next to an error.
var ErrUnsupported = errors.New("unsupported construct")

// UnsupportedError reports a construct with no target equivalent.
type UnsupportedError struct {
	Construct string
}

func (self *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported construct: %s", self.Construct)
}

func (self *UnsupportedError) Unwrap() error { return ErrUnsupported }

func unsupported(format string, args ...interface{}) error {
	return &UnsupportedError{Construct: fmt.Sprintf(format, args...)}
}

// MalformedTreeError reports a structurally invalid predicate tree, ie the
// disallowed nested OR shape. It unwraps to ErrUnsupported since the shape
// is an expressiveness limit of the target, not caller corruption.
type MalformedTreeError struct {
	Reason string
}

func (self *MalformedTreeError) Error() string {
	return fmt.Sprintf("malformed filter tree: %s", self.Reason)
}

func (self *MalformedTreeError) Unwrap() error { return ErrUnsupported }

// TypeMismatchError reports equality or join key operands of incompatible
// stored types that cannot be coerced to a common comparable type.
type TypeMismatchError struct {
	Field string
	LHS   plan.FieldType
	RHS   plan.FieldType
}

func (self *TypeMismatchError) Error() string {
	return fmt.Sprintf(
		"comparison type mismatch on %q: %s vs %s",
		self.Field,
		self.LHS.StoreName(),
		self.RHS.StoreName(),
	)
}

// static is the tri-state compile outcome every predicate compilation
// returns next to its value. staticFull / staticEmpty are control signals,
// they prune provably universal or provably empty sub expressions and are
// never surfaced to the external caller as failures.
type static int

const (
	notStatic static = iota
	staticFull
	staticEmpty
)
