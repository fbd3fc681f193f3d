package plan

// Expression nodes form a closed set of variants. The compiler dispatches
// on Kind, there is no way to register new node types from outside, which
// keeps the dispatch exhaustively checkable.

const (
	ExprLiteral = iota
	ExprColumn
	ExprCombined
	ExprCase
	ExprCoalesce
	ExprAggregate
	ExprSubquery
	ExprExists
	ExprRef
	ExprOrder
	ExprStar
)

// combine operators for Combined
const (
	OpAdd = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpPow
	OpBitAnd
	OpBitOr
	OpBitXor
	OpBitLsh
	OpBitRsh
)

// aggregate functions
const (
	AggSum = iota
	AggAvg
	AggMin
	AggMax
	AggCount
	AggStdDevPop
	AggStdDevSamp
	AggVarPop
	AggVarSamp
)

type Expr interface {
	Kind() int
	Dump() string
}

// Literal is a constant value together with its declared storage type. The
// type drives the wire encoding, ie a TypeDate literal holding a time.Time
// is stored as midnight of that day.
type Literal struct {
	Value interface{}
	Ty    FieldType
}

// ColumnRef is a reference to a stored field. Collection is either empty
// or the base collection for base fields, a join alias for joined fields,
// or, inside a correlated subquery, an alias that only resolves in an
// enclosing plan.
type ColumnRef struct {
	Collection string
	Name       string
	Ty         FieldType
}

// Combined is a binary arithmetic/bitwise expression.
type Combined struct {
	Op  int
	LHS Expr
	RHS Expr
}

type CaseBranch struct {
	When *Cond
	Then Expr
}

// Case is a searched CASE expression. Branches are tested in order, the
// default applies when none matches.
type Case struct {
	Branches []CaseBranch
	Default  Expr
}

// Coalesce yields the first non null argument.
type Coalesce struct {
	Args []Expr
}

// Aggregate applies Fn over Operand across the rows of a group. A nil
// Operand means COUNT(*) style whole row counting. Filter restricts the
// aggregated rows, Distinct deduplicates the aggregated values.
type Aggregate struct {
	Fn       int
	Operand  Expr
	Distinct bool
	Filter   *Cond
	Ty       FieldType
}

// Subquery embeds a nested plan used as a scalar (first column of the
// first row) or, under an In comparison, as a value list.
type Subquery struct {
	Plan *Plan
}

// Exists embeds a nested plan used as an existence test.
type Exists struct {
	Plan *Plan
}

// Ref references an already computed output field by its alias. Source,
// when set, is the expression the alias was computed from and is only
// consulted to recover a join alias prefix.
type Ref struct {
	Name   string
	Source Expr
}

// OrderSpec wraps an expression with a sort direction and null placement.
type OrderSpec struct {
	Expr       Expr
	Descending bool
	NullsFirst bool
	NullsLast  bool
}

// Star stands for the whole row, only valid as an aggregate operand or a
// bare projection.
type Star struct{}

func (self *Literal) Kind() int   { return ExprLiteral }
func (self *ColumnRef) Kind() int { return ExprColumn }
func (self *Combined) Kind() int  { return ExprCombined }
func (self *Case) Kind() int      { return ExprCase }
func (self *Coalesce) Kind() int  { return ExprCoalesce }
func (self *Aggregate) Kind() int { return ExprAggregate }
func (self *Subquery) Kind() int  { return ExprSubquery }
func (self *Exists) Kind() int    { return ExprExists }
func (self *Ref) Kind() int       { return ExprRef }
func (self *OrderSpec) Kind() int { return ExprOrder }
func (self *Star) Kind() int      { return ExprStar }

func combineOpName(op int) string {
	switch op {
	case OpAdd:
		return "add"
	case OpSub:
		return "subtract"
	case OpMul:
		return "multiply"
	case OpDiv:
		return "divide"
	case OpMod:
		return "mod"
	case OpPow:
		return "pow"
	case OpBitAnd:
		return "bitAnd"
	case OpBitOr:
		return "bitOr"
	case OpBitXor:
		return "bitXor"
	case OpBitLsh:
		return "lshift"
	case OpBitRsh:
		return "rshift"
	default:
		return "unknown"
	}
}

// CombineOpName is the target operator name for a combine op, except the
// shifts which have no target primitive and are synthesized by the
// compiler.
func CombineOpName(op int) string { return combineOpName(op) }

func AggName(fn int) string {
	switch fn {
	case AggSum:
		return "sum"
	case AggAvg:
		return "avg"
	case AggMin:
		return "min"
	case AggMax:
		return "max"
	case AggCount:
		return "count"
	case AggStdDevPop:
		return "stdDevPop"
	case AggStdDevSamp:
		return "stdDevSamp"
	case AggVarPop:
		return "varPop"
	case AggVarSamp:
		return "varSamp"
	default:
		return "unknown"
	}
}
