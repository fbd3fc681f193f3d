package mql

import (
	"fmt"

	"github.com/docquery/sql2mongo/plan"
	"go.mongodb.org/mongo-driver/bson"
)

// Joins compile to $lookup with a correlated inner pipeline: the parent
// side of every key pair is bound into the let clause, the inner $match
// compares the bound variables against the child fields. The lookup array
// is then flattened with $unwind, which is only sound because the planner
// guarantees at most one child row per parent row.

func (self *queryCompiler) genLookups() ([]bson.D, error) {
	out := []bson.D{}
	for i := range self.query.Joins {
		stages, err := self.genLookup(&self.query.Joins[i])
		if err != nil {
			return nil, err
		}
		out = append(out, stages...)
	}
	return out, nil
}

func (self *queryCompiler) genLookup(join *plan.Join) ([]bson.D, error) {
	child := newQueryCompiler(
		&plan.Plan{Collection: join.Collection},
		self.catalog,
		self,
	)
	child.baseAlias = join.Alias

	conds := bson.A{}
	for _, pair := range join.Keys {
		parentVal, err := self.genExpr(pair.Parent)
		if err != nil {
			return nil, err
		}
		childVal, err := child.genColumn(pair.Child)
		if err != nil {
			return nil, err
		}
		pv, cv, err := self.coerceKeyPair(pair, parentVal, childVal)
		if err != nil {
			return nil, err
		}
		idx := len(child.captures)
		child.captures = append(child.captures, capture{value: pv})
		conds = append(conds, bson.D{{Key: "$eq", Value: bson.A{
			letVar(idx), cv,
		}}})
	}

	if join.Extra != nil {
		extra, st, err := child.boolExpr(join.Extra)
		if err != nil {
			return nil, err
		}
		switch st {
		case staticEmpty:
			conds = append(conds, false)
		case notStatic:
			conds = append(conds, extra)
		}
	}

	var matchExpr interface{}
	switch len(conds) {
	case 0:
		matchExpr = true
	case 1:
		matchExpr = conds[0]
	default:
		matchExpr = bson.D{{Key: "$and", Value: conds}}
	}

	inner := []bson.D{}
	for _, sq := range child.subqueries {
		inner = append(inner, sq.lookupStages()...)
	}
	inner = append(inner, bson.D{{Key: "$match", Value: bson.D{
		{Key: "$expr", Value: matchExpr},
	}}})

	out := []bson.D{{{Key: "$lookup", Value: bson.D{
		{Key: "from", Value: join.Collection},
		{Key: "let", Value: child.letDoc()},
		{Key: "pipeline", Value: inner},
		{Key: "as", Value: join.Alias},
	}}}}

	if join.Outer {
		// keep parent rows with no match: pad the empty array with a
		// null so the $unwind below does not drop the row
		out = append(out, bson.D{{Key: "$set", Value: bson.D{{
			Key: join.Alias,
			Value: bson.D{{Key: "$cond", Value: bson.D{
				{Key: "if", Value: bson.D{{
					Key: "$eq", Value: bson.A{"$" + join.Alias, bson.A{}},
				}}},
				{Key: "then", Value: bson.A{nil}},
				{Key: "else", Value: "$" + join.Alias},
			}}},
		}}}})
	}
	out = append(out, bson.D{{Key: "$unwind", Value: "$" + join.Alias}})
	return out, nil
}

// coerceKeyPair reconciles the stored types of a join key pair. Identical
// or unknown types pass through, a string against an object id is bridged
// with $toString, anything else cannot equal and is a planning error.
func (self *queryCompiler) coerceKeyPair(
	pair plan.JoinPair, parentVal, childVal interface{},
) (interface{}, interface{}, error) {
	var pt plan.FieldType
	if col, ok := pair.Parent.(*plan.ColumnRef); ok {
		pt = self.columnType(col)
	}
	ct := self.columnType(pair.Child)

	if pt == plan.TypeUnknown || ct == plan.TypeUnknown || pt == ct {
		return parentVal, childVal, nil
	}
	stringish := func(t plan.FieldType) bool {
		return t == plan.TypeString || t == plan.TypeObjectId
	}
	if stringish(pt) && stringish(ct) {
		if pt == plan.TypeObjectId {
			parentVal = bson.D{{Key: "$toString", Value: parentVal}}
		}
		if ct == plan.TypeObjectId {
			childVal = bson.D{{Key: "$toString", Value: childVal}}
		}
		return parentVal, childVal, nil
	}
	return nil, nil, &TypeMismatchError{
		Field: pair.Child.Name,
		LHS:   pt,
		RHS:   ct,
	}
}

func letVar(idx int) string {
	return fmt.Sprintf("$$"+parentFieldTemplate, idx)
}
