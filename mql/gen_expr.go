package mql

import (
	"time"

	"github.com/docquery/sql2mongo/plan"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// genExpr compiles a scalar expression into aggregation operator form.
// Aggregate nodes never reach here, the grouping planner rewrites them
// into Ref fields first.
func (self *queryCompiler) genExpr(e plan.Expr) (interface{}, error) {
	switch e.Kind() {
	case plan.ExprLiteral:
		return self.exprLiteral(e.(*plan.Literal)), nil
	case plan.ExprColumn:
		return self.genColumn(e.(*plan.ColumnRef))
	case plan.ExprCombined:
		return self.genCombined(e.(*plan.Combined))
	case plan.ExprCase:
		return self.genCase(e.(*plan.Case))
	case plan.ExprCoalesce:
		return self.genCoalesce(e.(*plan.Coalesce))
	case plan.ExprRef:
		return "$" + e.(*plan.Ref).Name, nil
	case plan.ExprSubquery:
		return self.genSubquery(e.(*plan.Subquery).Plan, wrapNone)
	case plan.ExprExists:
		return self.genExists(e.(*plan.Exists))
	case plan.ExprAggregate:
		return nil, unsupported("aggregate outside of a grouping context")
	case plan.ExprStar:
		return nil, unsupported("star expression outside of count")
	default:
		return nil, unsupported("expression %s", e.Dump())
	}
}

// genColumn resolves a column reference in the current scope. Base
// collection columns read off the document, joined columns read the
// flattened lookup alias, anything else is an outer reference that must
// be captured into the enclosing lookup's let bindings.
func (self *queryCompiler) genColumn(col *plan.ColumnRef) (interface{}, error) {
	if self.isBase(col.Collection) {
		return "$" + col.Name, nil
	}
	if j := self.query.JoinByAlias(col.Collection); j != nil {
		return "$" + j.Alias + "." + col.Name, nil
	}
	return self.capturedVar(col)
}

// literal encodes a literal as a bare BSON value, suitable for the right
// hand side of a match document.
func (self *queryCompiler) literal(l *plan.Literal) interface{} {
	return encodeValue(l.Value, l.Ty)
}

// exprLiteral encodes a literal for operator context. Numbers and
// booleans get the $literal wrap so they cannot be mistaken for
// inclusion flags inside a projection.
func (self *queryCompiler) exprLiteral(l *plan.Literal) interface{} {
	v := encodeValue(l.Value, l.Ty)
	switch v.(type) {
	case int, int32, int64, float64, bool:
		return bson.D{{Key: "$literal", Value: v}}
	default:
		return v
	}
}

// encodeValue maps plan literal values onto their BSON representation.
// Dates are stored as midnight datetimes, times as datetimes on the
// epoch date, durations as integral milliseconds.
func encodeValue(v interface{}, ty plan.FieldType) interface{} {
	switch tv := v.(type) {
	case time.Time:
		switch ty {
		case plan.TypeDate:
			tv = time.Date(tv.Year(), tv.Month(), tv.Day(), 0, 0, 0, 0, time.UTC)
		case plan.TypeTime:
			tv = time.Date(1, time.January, 1,
				tv.Hour(), tv.Minute(), tv.Second(), tv.Nanosecond(), time.UTC)
		}
		return primitive.NewDateTimeFromTime(tv)
	case time.Duration:
		return int64(tv / time.Millisecond)
	case string:
		if ty == plan.TypeDecimal {
			if dec, err := primitive.ParseDecimal128(tv); err == nil {
				return dec
			}
		}
		return tv
	default:
		return v
	}
}

func (self *queryCompiler) genCombined(c *plan.Combined) (interface{}, error) {
	lhs, err := self.genExpr(c.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := self.genExpr(c.RHS)
	if err != nil {
		return nil, err
	}

	switch c.Op {
	case plan.OpBitLsh, plan.OpBitRsh:
		// no shift operator on the server, synthesize via powers of two
		pow := bson.D{{Key: "$pow", Value: bson.A{2, rhs}}}
		if c.Op == plan.OpBitLsh {
			return bson.D{{Key: "$multiply", Value: bson.A{lhs, pow}}}, nil
		}
		return bson.D{{Key: "$floor", Value: bson.D{{
			Key: "$divide", Value: bson.A{lhs, pow},
		}}}}, nil
	}

	var op string
	switch c.Op {
	case plan.OpAdd:
		op = "$add"
	case plan.OpSub:
		op = "$subtract"
	case plan.OpMul:
		op = "$multiply"
	case plan.OpDiv:
		op = "$divide"
	case plan.OpMod:
		op = "$mod"
	case plan.OpPow:
		op = "$pow"
	case plan.OpBitAnd:
		op = "$bitAnd"
	case plan.OpBitOr:
		op = "$bitOr"
	case plan.OpBitXor:
		op = "$bitXor"
	default:
		return nil, unsupported("arithmetic operator %s", plan.CombineOpName(c.Op))
	}
	return bson.D{{Key: op, Value: bson.A{lhs, rhs}}}, nil
}

// genCase folds statically decided branches while building the $switch:
// a branch that can never fire is dropped, a branch that always fires
// becomes the default and truncates everything behind it. The server
// rejects a $switch with zero branches, so a fully folded case reduces
// to a plain expression instead.
func (self *queryCompiler) genCase(c *plan.Case) (interface{}, error) {
	branches := bson.A{}
	var always interface{}
	alwaysHit := false
	for _, b := range c.Branches {
		when, st, err := self.boolExpr(b.When)
		if err != nil {
			return nil, err
		}
		if st == staticEmpty {
			continue
		}
		then, err := self.genExpr(b.Then)
		if err != nil {
			return nil, err
		}
		if st == staticFull {
			always = then
			alwaysHit = true
			break
		}
		branches = append(branches, bson.D{
			{Key: "case", Value: when},
			{Key: "then", Value: then},
		})
	}

	if alwaysHit {
		if len(branches) == 0 {
			return always, nil
		}
		return bson.D{{Key: "$switch", Value: bson.D{
			{Key: "branches", Value: branches},
			{Key: "default", Value: always},
		}}}, nil
	}
	if len(branches) == 0 {
		if c.Default == nil {
			return nil, nil
		}
		return self.genExpr(c.Default)
	}

	doc := bson.D{{Key: "branches", Value: branches}}
	if c.Default != nil {
		dflt, err := self.genExpr(c.Default)
		if err != nil {
			return nil, err
		}
		doc = append(doc, bson.E{Key: "default", Value: dflt})
	}
	return bson.D{{Key: "$switch", Value: doc}}, nil
}

func (self *queryCompiler) genCoalesce(c *plan.Coalesce) (interface{}, error) {
	args := bson.A{}
	for _, a := range c.Args {
		v, err := self.genExpr(a)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return bson.D{{Key: "$ifNull", Value: args}}, nil
}
