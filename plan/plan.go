package plan

// set operations
const (
	SetUnion = iota
	SetIntersect
	SetExcept
)

func SetOpName(op int) string {
	switch op {
	case SetUnion:
		return "union"
	case SetIntersect:
		return "intersect"
	case SetExcept:
		return "except"
	default:
		return "unknown"
	}
}

// SelectColumn is one projected output column. Ty is the declared storage
// type of the result, used by the decode plan for post read conversion.
type SelectColumn struct {
	Alias string
	Expr  Expr
	Ty    FieldType
}

// JoinPair is one equality pair of a join condition. Parent is evaluated
// against the enclosing row, Child names a field of the joined collection.
type JoinPair struct {
	Parent Expr
	Child  *ColumnRef
}

// Join describes one joined collection. Keys must all match for a row
// pair to join, Extra carries any non equality restriction.
//
// The compiled form flattens the looked up array with an unwind, which
// matches SQL semantics only for 1:1 relationships. For 1:many joins the
// row duplication SQL would produce is lost, deduplication is the
// caller's responsibility.
type Join struct {
	Alias      string
	Collection string
	Outer      bool
	Keys       []JoinPair
	Extra      *Cond
}

// Combinator chains sibling plans with a set operation. Only SetUnion is
// compilable, the target has no primitive for the other two.
type Combinator struct {
	Op    int
	All   bool
	Plans []*Plan
}

// Plan is a fully resolved relational query. See the package comment for
// how the pieces map onto pipeline stages.
type Plan struct {
	Collection string
	Columns    []SelectColumn
	Joins      []Join
	Where      *Cond
	GroupBy    []Expr
	Having     *Cond
	OrderBy    []OrderSpec
	Distinct   bool

	// Offset/Bound are the low and high marks of the result window.
	// A nil Bound means unbounded. Offset == *Bound is an empty window.
	Offset int64
	Bound  *int64

	Combinator *Combinator
}

// Limit returns the $limit value derived from the window, or -1 when the
// plan is unbounded.
func (self *Plan) Limit() int64 {
	if self.Bound == nil {
		return -1
	}
	return *self.Bound - self.Offset
}

// EmptyWindow reports whether the requested window provably selects no
// rows.
func (self *Plan) EmptyWindow() bool {
	return self.Bound != nil && *self.Bound == self.Offset
}

// JoinByAlias returns the join registered under alias, if any.
func (self *Plan) JoinByAlias(alias string) *Join {
	for i := range self.Joins {
		if self.Joins[i].Alias == alias {
			return &self.Joins[i]
		}
	}
	return nil
}

func Bound(v int64) *int64 { return &v }
