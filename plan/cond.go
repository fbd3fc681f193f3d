package plan

// Predicate trees. Interior nodes connect children with AND/OR plus an
// optional negation, leaves compare an expression against an operand.

const (
	And = iota
	Or
)

// comparison operators
const (
	CmpEq = iota
	CmpGt
	CmpGte
	CmpLt
	CmpLte
	CmpIn
	CmpRange
	CmpIsNull
	CmpStartsWith
	CmpIStartsWith
	CmpEndsWith
	CmpIEndsWith
	CmpContains
	CmpIContains
	CmpRegex
	CmpIRegex
)

// Node is either a *Cond or a *Comparison.
type Node interface {
	isNode()
	Dump() string
}

// Cond is an interior node of the predicate tree. Invariant: a child of an
// Or node must not itself be an Or node with more than one child, the
// compiler rejects that shape.
type Cond struct {
	Connector int
	Negated   bool
	Children  []Node
}

// Comparison is a leaf. RHS carries the operand:
//
//	CmpEq..CmpLte    a *Literal or any expression
//	CmpIn            a *Literal holding a []interface{} value, or a *Subquery
//	CmpRange         a *Literal holding a 2 element []interface{}
//	CmpIsNull        a *Literal holding a bool
//	pattern ops      a *Literal holding a string, or a column valued expression
//
// Synthetic marks a leaf injected by the relational layer to emulate outer
// join negation. Such a leaf has no meaning without join semantics and is
// dropped by the compiler.
type Comparison struct {
	LHS       Expr
	Op        int
	RHS       Expr
	Synthetic bool
}

// Nothing is a leaf that matches no row at all, the relational layer emits
// it for provably empty branches.
type Nothing struct{}

func (self *Cond) isNode()       {}
func (self *Comparison) isNode() {}
func (self *Nothing) isNode()    {}

func CmpName(op int) string {
	switch op {
	case CmpEq:
		return "eq"
	case CmpGt:
		return "gt"
	case CmpGte:
		return "gte"
	case CmpLt:
		return "lt"
	case CmpLte:
		return "lte"
	case CmpIn:
		return "in"
	case CmpRange:
		return "range"
	case CmpIsNull:
		return "isnull"
	case CmpStartsWith:
		return "startswith"
	case CmpIStartsWith:
		return "istartswith"
	case CmpEndsWith:
		return "endswith"
	case CmpIEndsWith:
		return "iendswith"
	case CmpContains:
		return "contains"
	case CmpIContains:
		return "icontains"
	case CmpRegex:
		return "regex"
	case CmpIRegex:
		return "iregex"
	default:
		return "unknown"
	}
}

// NewAnd/NewOr are small helpers for building trees in tests and callers.
func NewAnd(children ...Node) *Cond {
	return &Cond{Connector: And, Children: children}
}

func NewOr(children ...Node) *Cond {
	return &Cond{Connector: Or, Children: children}
}

func NewNot(children ...Node) *Cond {
	return &Cond{Connector: And, Negated: true, Children: children}
}
