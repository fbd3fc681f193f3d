package mql

import (
	"fmt"

	"github.com/docquery/sql2mongo/plan"
	"go.mongodb.org/mongo-driver/bson"
)

// Grouping compiles in two phases. Phase one rewrites every aggregate in
// the output, ordering and having trees into a reference to a synthetic
// field and emits the $group computing those fields. Phase two patches
// the aggregates that have no direct accumulator, such as variance and
// distinct counting, with an $addFields over the grouped rows.

type aggSpec struct {
	name string
	acc  bson.D
	// post transforms the grouped value, nil when the accumulator output
	// is already the final value
	post func(ref interface{}) interface{}
}

// genAggregation plans the grouping stages and rewrites the compiler's
// working column, ordering and having copies to read the grouped fields.
// A plan with neither group keys nor aggregates yields no stages.
func (self *queryCompiler) genAggregation() ([]bson.D, static, error) {
	aggs := []*plan.Aggregate{}
	for _, col := range self.columns {
		aggs = collectAggregates(col.Expr, aggs)
	}
	for _, o := range self.orderBy {
		aggs = collectAggregates(o.Expr, aggs)
	}
	for _, e := range condChildExprs(self.having) {
		aggs = collectAggregates(e, aggs)
	}
	aggs = dedupAggregates(aggs)

	if len(aggs) == 0 && len(self.query.GroupBy) == 0 {
		if self.having != nil {
			return nil, notStatic, unsupported("having without grouping")
		}
		return nil, notStatic, nil
	}

	// name the group keys
	type groupKey struct {
		name string
		expr plan.Expr
	}
	keys := []groupKey{}
	for _, k := range self.query.GroupBy {
		var name string
		if col, ok := k.(*plan.ColumnRef); ok {
			if self.isBase(col.Collection) {
				name = col.Name
			} else if j := self.query.JoinByAlias(col.Collection); j != nil {
				name = j.Alias + groupAliasSep + col.Name
			}
		}
		if name == "" {
			name = fmt.Sprintf(groupAliasTemplate, self.groupIdx)
			self.groupIdx++
		}
		keys = append(keys, groupKey{name: name, expr: k})
	}

	// name the aggregates and compile their accumulators
	names := map[*plan.Aggregate]string{}
	specs := []*aggSpec{}
	for _, agg := range aggs {
		name := fmt.Sprintf(aggregationTemplate, self.aggIdx)
		self.aggIdx++
		spec, err := self.genAgg(name, agg)
		if err != nil {
			return nil, notStatic, err
		}
		names[agg] = name
		specs = append(specs, spec)
	}

	// rewrite the working trees against the group output
	rw := func(e plan.Expr) (plan.Expr, bool) {
		if agg, ok := e.(*plan.Aggregate); ok {
			if name, ok := names[agg]; ok {
				return &plan.Ref{Name: name, Source: agg}, true
			}
		}
		for _, k := range keys {
			if k.expr == e {
				return &plan.Ref{Name: k.name, Source: k.expr}, true
			}
			a, aok := e.(*plan.ColumnRef)
			b, bok := k.expr.(*plan.ColumnRef)
			if aok && bok && sameColumn(a, b) {
				return &plan.Ref{Name: k.name, Source: k.expr}, true
			}
		}
		return nil, false
	}
	for i := range self.columns {
		self.columns[i].Expr = rewriteExpr(self.columns[i].Expr, rw)
	}
	for i := range self.orderBy {
		self.orderBy[i].Expr = rewriteExpr(self.orderBy[i].Expr, rw)
	}
	self.having = rewriteCond(self.having, rw)

	var stages []bson.D
	var err error
	if len(keys) > 0 {
		idDoc := bson.D{}
		for _, k := range keys {
			v, err := self.genExpr(k.expr)
			if err != nil {
				return nil, notStatic, err
			}
			idDoc = append(idDoc, bson.E{Key: k.name, Value: v})
		}
		groupDoc := bson.D{{Key: "_id", Value: idDoc}}
		for _, s := range specs {
			groupDoc = append(groupDoc, bson.E{Key: s.name, Value: s.acc})
		}
		stages = append(stages, bson.D{{Key: "$group", Value: groupDoc}})

		restore := bson.D{}
		for _, k := range keys {
			restore = append(restore, bson.E{Key: k.name, Value: "$_id." + k.name})
		}
		for _, s := range specs {
			if s.post != nil {
				restore = append(restore, bson.E{Key: s.name, Value: s.post("$" + s.name)})
			}
		}
		stages = append(stages,
			bson.D{{Key: "$addFields", Value: restore}},
			bson.D{{Key: "$unset", Value: "_id"}},
		)
	} else {
		stages, err = self.genWholeInputGroup(specs)
		if err != nil {
			return nil, notStatic, err
		}
	}

	// having compiles against the grouped fields; subqueries referenced
	// by it must resolve after the group, so their lookups splice in
	// here rather than at the head of the pipeline
	if self.having != nil {
		mark := len(self.subqueries)
		doc, st, err := self.matchCond(self.having)
		if err != nil {
			return nil, notStatic, err
		}
		switch st {
		case staticEmpty:
			return nil, staticEmpty, nil
		case staticFull:
			return stages, notStatic, nil
		}
		for _, sq := range self.subqueries[mark:] {
			stages = append(stages, sq.lookupStages()...)
		}
		self.subqueries = self.subqueries[:mark]
		stages = append(stages, bson.D{{Key: "$match", Value: doc}})
	}
	return stages, notStatic, nil
}

// genWholeInputGroup aggregates with no group key. A single $group with a
// null key loses the row entirely over empty input while the contract is
// one row of default values, so the group runs inside a $facet whose
// result array is then pulled apart field by field.
func (self *queryCompiler) genWholeInputGroup(specs []*aggSpec) ([]bson.D, error) {
	groupDoc := bson.D{{Key: "_id", Value: nil}}
	for _, s := range specs {
		groupDoc = append(groupDoc, bson.E{Key: s.name, Value: s.acc})
	}
	facet := bson.D{{
		Key: "$facet",
		Value: bson.D{{
			Key:   "group",
			Value: bson.A{bson.D{{Key: "$group", Value: groupDoc}}},
		}},
	}}

	fields := bson.D{}
	for _, s := range specs {
		ref := bson.D{{Key: "$getField", Value: bson.D{
			{Key: "input", Value: bson.D{{
				Key: "$arrayElemAt", Value: bson.A{"$group", 0},
			}}},
			{Key: "field", Value: s.name},
		}}}
		var v interface{} = ref
		if s.post != nil {
			v = s.post(ref)
		}
		fields = append(fields, bson.E{Key: s.name, Value: v})
	}
	return []bson.D{
		facet,
		{{Key: "$addFields", Value: fields}},
		{{Key: "$unset", Value: "group"}},
	}, nil
}

// genAgg compiles one aggregate into its accumulator, plus a post group
// transform where the accumulator alone cannot produce the value.
func (self *queryCompiler) genAgg(name string, a *plan.Aggregate) (*aggSpec, error) {
	var operand interface{}
	wholeRow := a.Operand == nil
	if !wholeRow {
		if _, ok := a.Operand.(*plan.Star); ok {
			wholeRow = true
		}
	}
	if !wholeRow {
		v, err := self.genExpr(a.Operand)
		if err != nil {
			return nil, err
		}
		operand = v
	}

	var filter interface{}
	if a.Filter != nil {
		f, st, err := self.boolExpr(a.Filter)
		if err != nil {
			return nil, err
		}
		if st == notStatic || st == staticEmpty {
			filter = f
		}
	}

	if a.Distinct {
		return self.genDistinctAgg(name, a, operand, filter)
	}

	if a.Fn == plan.AggCount {
		var tally interface{}
		if wholeRow {
			tally = 1
		} else {
			// only non null values count
			tally = bson.D{{Key: "$cond", Value: bson.D{
				{Key: "if", Value: bson.D{{Key: "$eq", Value: bson.A{
					bson.D{{Key: "$ifNull", Value: bson.A{operand, nil}}},
					nil,
				}}}},
				{Key: "then", Value: 0},
				{Key: "else", Value: 1},
			}}}
		}
		if filter != nil {
			tally = bson.D{{Key: "$cond", Value: bson.D{
				{Key: "if", Value: filter},
				{Key: "then", Value: tally},
				{Key: "else", Value: 0},
			}}}
		}
		return &aggSpec{
			name: name,
			acc:  bson.D{{Key: "$sum", Value: tally}},
			post: func(ref interface{}) interface{} {
				// empty input leaves the field missing, counting reports 0
				return bson.D{{Key: "$ifNull", Value: bson.A{ref, 0}}}
			},
		}, nil
	}

	if wholeRow {
		return nil, unsupported("%s over the whole row", plan.AggName(a.Fn))
	}
	if filter != nil {
		// null operands are ignored by every accumulator below, filtered
		// rows are mapped to null instead of being removed
		operand = bson.D{{Key: "$cond", Value: bson.D{
			{Key: "if", Value: filter},
			{Key: "then", Value: operand},
			{Key: "else", Value: nil},
		}}}
	}

	switch a.Fn {
	case plan.AggSum:
		return &aggSpec{name: name, acc: bson.D{{Key: "$sum", Value: operand}}}, nil
	case plan.AggAvg:
		return &aggSpec{name: name, acc: bson.D{{Key: "$avg", Value: operand}}}, nil
	case plan.AggMin:
		return &aggSpec{name: name, acc: bson.D{{Key: "$min", Value: operand}}}, nil
	case plan.AggMax:
		return &aggSpec{name: name, acc: bson.D{{Key: "$max", Value: operand}}}, nil
	case plan.AggStdDevPop:
		return &aggSpec{name: name, acc: bson.D{{Key: "$stdDevPop", Value: operand}}}, nil
	case plan.AggStdDevSamp:
		return &aggSpec{name: name, acc: bson.D{{Key: "$stdDevSamp", Value: operand}}}, nil
	case plan.AggVarPop, plan.AggVarSamp:
		// no variance accumulator on the server, square the deviation
		op := "$stdDevPop"
		if a.Fn == plan.AggVarSamp {
			op = "$stdDevSamp"
		}
		return &aggSpec{
			name: name,
			acc:  bson.D{{Key: op, Value: operand}},
			post: func(ref interface{}) interface{} {
				return bson.D{{Key: "$pow", Value: bson.A{ref, 2}}}
			},
		}, nil
	default:
		return nil, unsupported("aggregate %s", plan.AggName(a.Fn))
	}
}

// genDistinctAgg aggregates over the distinct operand values: collect the
// set, then fold it with the matching array operator after the group.
func (self *queryCompiler) genDistinctAgg(
	name string, a *plan.Aggregate, operand, filter interface{},
) (*aggSpec, error) {
	if operand == nil {
		return nil, unsupported("distinct %s over the whole row", plan.AggName(a.Fn))
	}
	if filter != nil {
		operand = bson.D{{Key: "$cond", Value: bson.D{
			{Key: "if", Value: filter},
			{Key: "then", Value: operand},
			{Key: "else", Value: nil},
		}}}
	}
	acc := bson.D{{Key: "$addToSet", Value: operand}}

	if a.Fn == plan.AggCount {
		return &aggSpec{
			name: name,
			acc:  acc,
			post: func(ref interface{}) interface{} {
				// nulls collected by the set stand for non counted rows
				size := bson.D{{Key: "$add", Value: bson.A{
					bson.D{{Key: "$size", Value: ref}},
					bson.D{{Key: "$cond", Value: bson.D{
						{Key: "if", Value: bson.D{{Key: "$in", Value: bson.A{nil, ref}}}},
						{Key: "then", Value: -1},
						{Key: "else", Value: 0},
					}}},
				}}}
				return bson.D{{Key: "$cond", Value: bson.D{
					{Key: "if", Value: bson.D{{Key: "$isArray", Value: ref}}},
					{Key: "then", Value: size},
					{Key: "else", Value: 0},
				}}}
			},
		}, nil
	}

	var fold string
	switch a.Fn {
	case plan.AggSum:
		fold = "$sum"
	case plan.AggAvg:
		fold = "$avg"
	case plan.AggMin:
		fold = "$min"
	case plan.AggMax:
		fold = "$max"
	default:
		return nil, unsupported("distinct %s", plan.AggName(a.Fn))
	}
	return &aggSpec{
		name: name,
		acc:  acc,
		post: func(ref interface{}) interface{} {
			return bson.D{{Key: fold, Value: ref}}
		},
	}, nil
}

func dedupAggregates(aggs []*plan.Aggregate) []*plan.Aggregate {
	seen := map[*plan.Aggregate]bool{}
	out := aggs[:0]
	for _, a := range aggs {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}
