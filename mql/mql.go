package mql

import (
	"fmt"

	"github.com/docquery/sql2mongo/plan"
	"go.mongodb.org/mongo-driver/bson"
)

// Synthetic field names all start with a double underscore, a prefix
// reserved for the compiler: upstream plans never carry user columns
// named that way. The templates are part of the wire shape and must stay
// stable.
const (
	aggregationTemplate = "__aggregation%d"
	groupAliasTemplate  = "__annotation_group%d"
	orderTemplate       = "__order%d"
	subqueryTemplate    = "__subquery%d"
	parentFieldTemplate = "parent__field__%d"

	// joined group keys cannot contain a literal dot, the alias is glued
	// to the column with this private separator instead
	groupAliasSep = "___"
)

type Config struct {
	Catalog plan.Catalog
}

// Compile turns a relational plan into an executable Query. Compilation is
// synchronous and side effect free, the plan and the catalog are never
// written to. A fresh compiler is built per call, nothing is shared
// between concurrent compilations.
func Compile(x *plan.Plan, config *Config) (*Query, error) {
	g := newQueryCompiler(x, config.Catalog, nil)
	return g.compile()
}

// queryCompiler compiles one plan. For correlated subqueries a child
// compiler is chained to its parent, outer column references captured
// during inner compilation end up in the captures list which later
// becomes the $lookup "let" clause.

type queryCompiler struct {
	query   *plan.Plan
	catalog plan.Catalog
	parent  *queryCompiler

	// baseAlias is an extra name the base collection is known under, used
	// when compiling the inner pipeline of a join lookup.
	baseAlias string

	// working copies, rewritten in place by the aggregation planner
	columns []plan.SelectColumn
	orderBy []plan.OrderSpec
	having  *plan.Cond

	// forceProject builds an explicit $project even for pass through
	// column lists, set for union branches which must agree on shape
	forceProject bool

	captures   []capture
	subqueries []*Query

	aggIdx   int
	groupIdx int
	orderIdx int
	subIdx   int
}

// capture is one outer column bound into a lookup pipeline. col is nil for
// the pre seeded join key entries which are never deduplicated.
type capture struct {
	col   *plan.ColumnRef
	value interface{}
}

func newQueryCompiler(x *plan.Plan, catalog plan.Catalog, parent *queryCompiler) *queryCompiler {
	g := &queryCompiler{
		query:   x,
		catalog: catalog,
		parent:  parent,
	}
	g.columns = append(g.columns, x.Columns...)
	g.orderBy = append(g.orderBy, x.OrderBy...)
	g.having = x.Having
	return g
}

func (self *queryCompiler) letDoc() bson.D {
	out := bson.D{}
	for i, c := range self.captures {
		out = append(out, bson.E{
			Key:   fmt.Sprintf(parentFieldTemplate, i),
			Value: c.value,
		})
	}
	return out
}

// capturedVar registers an outer column and returns the bound variable
// reference compiled in its place. The value side is compiled in the
// parent scope and may recursively capture further up.
func (self *queryCompiler) capturedVar(col *plan.ColumnRef) (string, error) {
	for i, c := range self.captures {
		if c.col != nil && c.col.Collection == col.Collection && c.col.Name == col.Name {
			return fmt.Sprintf("$$"+parentFieldTemplate, i), nil
		}
	}
	if self.parent == nil {
		return "", unsupported("column %s references no known collection", col.Dump())
	}
	value, err := self.parent.genColumn(col)
	if err != nil {
		return "", err
	}
	idx := len(self.captures)
	self.captures = append(self.captures, capture{col: col, value: value})
	return fmt.Sprintf("$$"+parentFieldTemplate, idx), nil
}

func (self *queryCompiler) isBase(collection string) bool {
	return collection == "" ||
		collection == self.query.Collection ||
		(self.baseAlias != "" && collection == self.baseAlias)
}

func (self *queryCompiler) columnType(col *plan.ColumnRef) plan.FieldType {
	if col.Ty != plan.TypeUnknown {
		return col.Ty
	}
	if self.catalog == nil {
		return plan.TypeUnknown
	}
	collection := col.Collection
	if self.isBase(collection) {
		collection = self.query.Collection
	} else if j := self.query.JoinByAlias(collection); j != nil {
		collection = j.Collection
	}
	ty, ok := self.catalog.FieldType(collection, col.Name)
	if !ok {
		return plan.TypeUnknown
	}
	return ty
}

// compile is the orchestrator. The stage order it produces is fixed:
// lookups, subqueries, match, group + post group, having, projection,
// union, extra fields, sort, skip, limit.
func (self *queryCompiler) compile() (*Query, error) {
	q := &Query{
		collection: self.query.Collection,
		offset:     self.query.Offset,
		limit:      self.query.Limit(),
	}

	// empty result window, nothing to execute at all
	if self.query.EmptyWindow() {
		q.empty = true
		q.decode = self.decodePlan()
		return q, nil
	}

	if self.query.Combinator != nil {
		collection, combined, st, err := self.genCombinator()
		if err != nil {
			return nil, err
		}
		if st == staticEmpty {
			q.empty = true
			q.decode = self.decodePlan()
			return q, nil
		}
		q.collection = collection
		q.combinator = combined

		helpers, sortDoc, err := self.genOrdering()
		if err != nil {
			return nil, err
		}
		q.sort = sortDoc
		if len(helpers) > 0 {
			extra, err := self.genAddFieldsDoc(helpers)
			if err != nil {
				return nil, err
			}
			q.extraFields = []bson.D{{{Key: "$addFields", Value: extra}}}
		}
		q.subqueries = self.subqueries
		q.decode = self.decodePlan()
		return q, nil
	}

	aggregation, aggSt, err := self.genAggregation()
	if err != nil {
		return nil, err
	}
	if aggSt == staticEmpty {
		q.empty = true
		q.decode = self.decodePlan()
		return q, nil
	}
	q.aggregation = aggregation

	helpers, sortDoc, err := self.genOrdering()
	if err != nil {
		return nil, err
	}
	q.sort = sortDoc

	if self.query.Distinct {
		if len(helpers) > 0 {
			return nil, unsupported("ordering on a computed expression with distinct")
		}
		distinct, err := self.genDistinct()
		if err != nil {
			return nil, err
		}
		q.aggregation = append(q.aggregation, distinct...)
	} else if self.forceProject || self.needsProject() {
		project, err := self.genProjectDoc(self.columnFields())
		if err != nil {
			return nil, err
		}
		// sorting runs after the projection, so the sort keys and the
		// ordering helpers must be part of the projected shape
		for _, h := range helpers {
			project = dSet(project, h.name, h.value)
		}
		for _, e := range sortDoc {
			if !dHas(project, e.Key) {
				project = dSet(project, e.Key, 1)
			}
		}
		helpers = nil
		q.project = project
	}

	// pass through shape, the helpers ride along as extra fields; paging
	// runs after $sort so they never reach the caller anyway
	if len(helpers) > 0 {
		extra, err := self.genAddFieldsDoc(helpers)
		if err != nil {
			return nil, err
		}
		q.extraFields = []bson.D{{{Key: "$addFields", Value: extra}}}
	}

	lookups, err := self.genLookups()
	if err != nil {
		return nil, err
	}
	q.lookups = lookups

	match, st, err := self.matchCond(self.query.Where)
	if err != nil {
		return nil, err
	}
	switch st {
	case staticEmpty:
		if !self.aggregatesOverWholeInput() {
			q.empty = true
			q.decode = self.decodePlan()
			return q, nil
		}
		// a whole input aggregate still yields its single row, match
		// nothing instead of matching the filter
		q.match = bson.D{{Key: "$expr", Value: false}}
	case notStatic:
		q.match = match
	}

	q.subqueries = self.subqueries
	q.decode = self.decodePlan()
	return q, nil
}

func (self *queryCompiler) columnFields() []fieldExpr {
	out := make([]fieldExpr, 0, len(self.columns))
	for _, col := range self.columns {
		out = append(out, fieldExpr{name: col.Alias, expr: col.Expr})
	}
	return out
}

// needsProject reports whether any output column reshapes the stored
// document. Only base collection columns selected under their own name
// can be decoded straight off the raw documents, a joined column lives
// nested under its lookup alias and must be hoisted by the projection.
func (self *queryCompiler) needsProject() bool {
	for _, col := range self.columns {
		ref, ok := col.Expr.(*plan.ColumnRef)
		if !ok || ref.Name != col.Alias || !self.isBase(ref.Collection) {
			return true
		}
	}
	return false
}

// aggregatesOverWholeInput reports whether the plan aggregates with no
// group key. Such a plan emits exactly one row even over empty input, a
// statically empty filter must not short circuit it.
func (self *queryCompiler) aggregatesOverWholeInput() bool {
	if len(self.query.GroupBy) > 0 {
		return false
	}
	for _, col := range self.query.Columns {
		if containsAggregate(col.Expr) {
			return true
		}
	}
	return false
}
