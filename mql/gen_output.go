package mql

import (
	"github.com/docquery/sql2mongo/plan"
	"go.mongodb.org/mongo-driver/bson"
)

// fieldExpr is one output field to materialize. Either expr or its
// pre-compiled value is set, never both.
type fieldExpr struct {
	name  string
	expr  plan.Expr
	value interface{}
}

// genProjectDoc builds a $project body. A column selected under its own
// stored name projects by inclusion so the server can avoid recomputing
// it, everything else projects its compiled expression. _id is suppressed
// unless explicitly selected, the output shape carries only what the plan
// asked for.
func (self *queryCompiler) genProjectDoc(fields []fieldExpr) (bson.D, error) {
	out := bson.D{}
	for _, f := range fields {
		v, err := self.projectValue(f)
		if err != nil {
			return nil, err
		}
		out = dSet(out, f.name, v)
	}
	if !dHas(out, "_id") {
		out = append(out, bson.E{Key: "_id", Value: 0})
	}
	return out, nil
}

// genAddFieldsDoc builds an $addFields body, used where existing fields
// must survive next to the computed ones.
func (self *queryCompiler) genAddFieldsDoc(fields []fieldExpr) (bson.D, error) {
	out := bson.D{}
	for _, f := range fields {
		if f.expr == nil {
			out = dSet(out, f.name, f.value)
			continue
		}
		v, err := self.genExpr(f.expr)
		if err != nil {
			return nil, err
		}
		out = dSet(out, f.name, v)
	}
	return out, nil
}

// genDistinct deduplicates by grouping on the full projected shape and
// promoting the group key back to the document root.
func (self *queryCompiler) genDistinct() ([]bson.D, error) {
	if len(self.columns) == 0 {
		return nil, unsupported("distinct without an explicit column list")
	}
	ids := bson.D{}
	for _, col := range self.columns {
		v, err := self.genExpr(col.Expr)
		if err != nil {
			return nil, err
		}
		ids = dSet(ids, col.Alias, v)
	}
	return []bson.D{
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: ids}}}},
		{{Key: "$replaceRoot", Value: bson.D{{Key: "newRoot", Value: "$_id"}}}},
	}, nil
}

func (self *queryCompiler) projectValue(f fieldExpr) (interface{}, error) {
	if f.expr == nil {
		return f.value, nil
	}
	switch n := f.expr.(type) {
	case *plan.ColumnRef:
		if self.isBase(n.Collection) && n.Name == f.name {
			return 1, nil
		}
	case *plan.Ref:
		if n.Name == f.name {
			return 1, nil
		}
	}
	return self.genExpr(f.expr)
}
