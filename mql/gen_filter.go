package mql

import (
	"regexp"

	"github.com/docquery/sql2mongo/plan"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Predicate compilation runs in one of two modes. matchCond produces a
// classic match document, the server can satisfy those from indexes.
// boolExpr produces aggregation operator form for the places a match
// document cannot go: switch branches, join conditions and aggregate
// filters. Both modes push negation down to the leaves, swapping the
// connector on the way, so no $nor ever appears in the output.

// matchCond compiles a predicate tree into a $match document. A nil tree
// and a tree that statically matches everything both report staticFull
// with a nil document.
func (self *queryCompiler) matchCond(cond *plan.Cond) (bson.D, static, error) {
	if cond == nil {
		return nil, staticFull, nil
	}
	return self.condDoc(cond, false)
}

func (self *queryCompiler) condDoc(cond *plan.Cond, negated bool) (bson.D, static, error) {
	negated = negated != cond.Negated
	connector := cond.Connector
	if negated {
		if connector == plan.And {
			connector = plan.Or
		} else {
			connector = plan.And
		}
	}

	if len(cond.Children) == 0 {
		if negated {
			return nil, staticEmpty, nil
		}
		return nil, staticFull, nil
	}

	if connector == plan.Or {
		return self.orDoc(cond.Children, negated)
	}
	return self.andDoc(cond.Children, negated)
}

func (self *queryCompiler) childDoc(child plan.Node, negated bool) (bson.D, static, error) {
	switch c := child.(type) {
	case *plan.Cond:
		return self.condDoc(c, negated)
	case *plan.Comparison:
		return self.leafMatch(c, negated)
	case *plan.Nothing:
		if negated {
			return nil, staticFull, nil
		}
		return nil, staticEmpty, nil
	default:
		return nil, notStatic, unsupported("predicate node %s", child.Dump())
	}
}

func (self *queryCompiler) andDoc(children []plan.Node, negated bool) (bson.D, static, error) {
	b := &matchBuilder{}
	for _, child := range children {
		doc, st, err := self.childDoc(child, negated)
		if err != nil {
			return nil, notStatic, err
		}
		switch st {
		case staticFull:
			continue
		case staticEmpty:
			return nil, staticEmpty, nil
		}
		b.merge(doc)
	}
	out := b.doc()
	if len(out) == 0 {
		return nil, staticFull, nil
	}
	return out, notStatic, nil
}

func (self *queryCompiler) orDoc(children []plan.Node, negated bool) (bson.D, static, error) {
	branches := bson.A{}
	for _, child := range children {
		if c, ok := child.(*plan.Cond); ok {
			if err := self.checkNestedOr(c, negated); err != nil {
				return nil, notStatic, err
			}
		}
		doc, st, err := self.childDoc(child, negated)
		if err != nil {
			return nil, notStatic, err
		}
		switch st {
		case staticFull:
			return nil, staticFull, nil
		case staticEmpty:
			continue
		}
		branches = append(branches, doc)
	}
	switch len(branches) {
	case 0:
		return nil, staticEmpty, nil
	case 1:
		return branches[0].(bson.D), notStatic, nil
	}
	return bson.D{{Key: "$or", Value: branches}}, notStatic, nil
}

// checkNestedOr rejects an OR child that is itself a multi child OR. The
// relational layer never builds that shape, seeing one means the tree was
// assembled by hand and the merge rules below would silently mangle it.
func (self *queryCompiler) checkNestedOr(child *plan.Cond, negated bool) error {
	connector := child.Connector
	if negated != child.Negated {
		if connector == plan.And {
			connector = plan.Or
		} else {
			connector = plan.And
		}
	}
	if connector == plan.Or && len(child.Children) > 1 {
		return &MalformedTreeError{Reason: "OR nested directly under OR"}
	}
	return nil
}

// matchBuilder accumulates the entries of an AND conjunction. Entries on
// distinct keys coexist in one document, entries on the same key run
// through mergeValues, and pairs that cannot merge fall back to an $and
// list so no condition is ever dropped.
type matchBuilder struct {
	fields fieldSet
	extra  bson.A
}

func (self *matchBuilder) merge(doc bson.D) {
	for _, e := range doc {
		prev, ok := self.fields.get(e.Key)
		if !ok {
			self.fields.put(e.Key, e.Value)
			continue
		}
		merged, ok := mergeValues(prev, e.Value)
		if ok {
			self.fields.put(e.Key, merged)
			continue
		}
		self.extra = append(self.extra, bson.D{{Key: e.Key, Value: e.Value}})
	}
}

func (self *matchBuilder) doc() bson.D {
	out := self.fields.all()
	if len(self.extra) > 0 {
		out = append(out, bson.E{Key: "$and", Value: self.extra})
	}
	return out
}

// mergeValues combines two conditions on the same key of a conjunction.
//
//	scalar  + scalar      -> {$all: [a, b]}
//	scalar  + {$ne: x}    -> {$all: [a], $nin: [x]}
//	{$ne:a} + {$ne: b}    -> {$nin: [a, b]}
//	{$in:A} + {$in: B}    -> {$in: A union B}
//	op doc  + op doc      -> key union when the operator sets are disjoint
//
// plus the follow up forms those produce ($all append, $nin append). The
// second result is false when no rule applies.
func mergeValues(a, b interface{}) (interface{}, bool) {
	aDoc, aOk := asOpDoc(a)
	bDoc, bOk := asOpDoc(b)

	switch {
	case !aOk && !bOk:
		return bson.D{{Key: "$all", Value: bson.A{a, b}}}, true

	case !aOk:
		// scalar + operator doc
		if x, ok := singleOp(bDoc, "$ne"); ok {
			return bson.D{
				{Key: "$all", Value: bson.A{a}},
				{Key: "$nin", Value: bson.A{x}},
			}, true
		}
		if all, ok := dGet(bDoc, "$all"); ok {
			return dSet(append(bson.D{}, bDoc...), "$all", append(asArray(all), a)), true
		}
		return append(bson.D{{Key: "$all", Value: bson.A{a}}}, bDoc...), true

	case !bOk:
		return mergeValues(b, a)
	}

	if x, ok := singleOp(aDoc, "$ne"); ok {
		if y, ok := singleOp(bDoc, "$ne"); ok {
			return bson.D{{Key: "$nin", Value: bson.A{x, y}}}, true
		}
	}
	if x, ok := singleOp(aDoc, "$in"); ok {
		if y, ok := singleOp(bDoc, "$in"); ok {
			return bson.D{{Key: "$in", Value: valueUnion(x.(bson.A), y.(bson.A))}}, true
		}
	}
	if nin, ok := dGet(aDoc, "$nin"); ok {
		if y, ok := singleOp(bDoc, "$ne"); ok {
			rest := dDrop(aDoc, "$nin")
			return append(rest, bson.E{
				Key:   "$nin",
				Value: append(asArray(nin), y),
			}), true
		}
	}
	if disjointKeys(aDoc, bDoc) {
		return append(append(bson.D{}, aDoc...), bDoc...), true
	}
	return nil, false
}

// asOpDoc reports whether v is an operator document, a bson.D whose keys
// all start with $. A plain scalar or an embedded document literal is not
// one.
func asOpDoc(v interface{}) (bson.D, bool) {
	doc, ok := v.(bson.D)
	if !ok || len(doc) == 0 {
		return nil, false
	}
	for _, e := range doc {
		if len(e.Key) == 0 || e.Key[0] != '$' {
			return nil, false
		}
	}
	return doc, true
}

func singleOp(doc bson.D, op string) (interface{}, bool) {
	if len(doc) == 1 && doc[0].Key == op {
		return doc[0].Value, true
	}
	return nil, false
}

func disjointKeys(a, b bson.D) bool {
	for _, ea := range a {
		if dHas(b, ea.Key) {
			return false
		}
	}
	return true
}

func asArray(v interface{}) bson.A {
	if a, ok := v.(bson.A); ok {
		return a
	}
	return bson.A{v}
}

func valueUnion(a, b bson.A) bson.A {
	out := append(bson.A{}, a...)
	for _, v := range b {
		seen := false
		for _, w := range out {
			if w == v {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, v)
		}
	}
	return out
}

// leafMatch compiles one comparison into match document form, falling
// back to an $expr clause when the left side is not a stored field path.
func (self *queryCompiler) leafMatch(c *plan.Comparison, negated bool) (bson.D, static, error) {
	if c.Synthetic {
		return nil, staticFull, nil
	}

	path, simple := self.matchFieldPath(c.LHS)
	if !simple || self.needsExprLeaf(c) {
		expr, st, err := self.leafExpr(c, negated)
		if err != nil || st != notStatic {
			return nil, st, err
		}
		return bson.D{{Key: "$expr", Value: expr}}, notStatic, nil
	}

	switch c.Op {
	case plan.CmpEq:
		v, err := self.rhsValue(c)
		if err != nil {
			return nil, notStatic, err
		}
		if negated {
			return bson.D{{Key: path, Value: bson.D{{Key: "$ne", Value: v}}}}, notStatic, nil
		}
		return bson.D{{Key: path, Value: v}}, notStatic, nil

	case plan.CmpGt, plan.CmpGte, plan.CmpLt, plan.CmpLte:
		v, err := self.rhsValue(c)
		if err != nil {
			return nil, notStatic, err
		}
		op := map[int]string{
			plan.CmpGt:  "$gt",
			plan.CmpGte: "$gte",
			plan.CmpLt:  "$lt",
			plan.CmpLte: "$lte",
		}[c.Op]
		return wrapNegate(path, bson.D{{Key: op, Value: v}}, negated), notStatic, nil

	case plan.CmpIn:
		arr, err := self.rhsValueList(c)
		if err != nil {
			return nil, notStatic, err
		}
		if len(arr) == 0 {
			// IN over an empty list matches nothing
			if negated {
				return nil, staticFull, nil
			}
			return nil, staticEmpty, nil
		}
		op := "$in"
		if negated {
			op = "$nin"
		}
		return bson.D{{Key: path, Value: bson.D{{Key: op, Value: arr}}}}, notStatic, nil

	case plan.CmpRange:
		arr, err := self.rhsValueList(c)
		if err != nil {
			return nil, notStatic, err
		}
		bound := bson.D{
			{Key: "$gte", Value: arr[0]},
			{Key: "$lte", Value: arr[1]},
		}
		return wrapNegate(path, bound, negated), notStatic, nil

	case plan.CmpIsNull:
		want, err := self.rhsBool(c)
		if err != nil {
			return nil, notStatic, err
		}
		if want != negated {
			return bson.D{{Key: path, Value: nil}}, notStatic, nil
		}
		return bson.D{{Key: path, Value: bson.D{{Key: "$ne", Value: nil}}}}, notStatic, nil

	case plan.CmpStartsWith, plan.CmpIStartsWith,
		plan.CmpEndsWith, plan.CmpIEndsWith,
		plan.CmpContains, plan.CmpIContains,
		plan.CmpRegex, plan.CmpIRegex:
		re, err := self.literalRegex(c)
		if err != nil {
			return nil, notStatic, err
		}
		return wrapNegate(path, re, negated), notStatic, nil

	default:
		return nil, notStatic, unsupported("comparison %s in match context", plan.CmpName(c.Op))
	}
}

func wrapNegate(path string, v interface{}, negated bool) bson.D {
	if negated {
		v = bson.D{{Key: "$not", Value: v}}
	}
	return bson.D{{Key: path, Value: v}}
}

// needsExprLeaf reports the comparisons that only exist in operator form
// regardless of the left hand side.
func (self *queryCompiler) needsExprLeaf(c *plan.Comparison) bool {
	if c.Op == plan.CmpIn {
		if _, ok := c.RHS.(*plan.Subquery); ok {
			return true
		}
	}
	switch c.RHS.(type) {
	case *plan.Literal, nil:
		return false
	}
	// column valued or computed right hand sides need $expr
	return true
}

// matchFieldPath resolves an expression to a plain document path if it is
// a base or joined column in the current scope.
func (self *queryCompiler) matchFieldPath(e plan.Expr) (string, bool) {
	col, ok := e.(*plan.ColumnRef)
	if !ok {
		return "", false
	}
	if self.isBase(col.Collection) {
		return col.Name, true
	}
	if j := self.query.JoinByAlias(col.Collection); j != nil {
		return j.Alias + "." + col.Name, true
	}
	return "", false
}

func (self *queryCompiler) rhsValue(c *plan.Comparison) (interface{}, error) {
	lit, ok := c.RHS.(*plan.Literal)
	if !ok {
		return nil, unsupported("non literal operand for %s in match context", plan.CmpName(c.Op))
	}
	return self.literal(lit), nil
}

func (self *queryCompiler) rhsValueList(c *plan.Comparison) (bson.A, error) {
	lit, ok := c.RHS.(*plan.Literal)
	if !ok {
		return nil, unsupported("non literal operand list for %s", plan.CmpName(c.Op))
	}
	raw, ok := lit.Value.([]interface{})
	if !ok {
		return nil, unsupported("operand of %s must be a value list", plan.CmpName(c.Op))
	}
	if c.Op == plan.CmpRange && len(raw) != 2 {
		return nil, unsupported("range operand must have exactly two bounds")
	}
	out := bson.A{}
	for _, v := range raw {
		out = append(out, encodeValue(v, lit.Ty))
	}
	return out, nil
}

func (self *queryCompiler) rhsBool(c *plan.Comparison) (bool, error) {
	lit, ok := c.RHS.(*plan.Literal)
	if !ok {
		return false, unsupported("isnull operand must be a boolean literal")
	}
	b, ok := lit.Value.(bool)
	if !ok {
		return false, unsupported("isnull operand must be a boolean literal")
	}
	return b, nil
}

// literalRegex builds the server side regex for a pattern comparison with
// a constant pattern.
func (self *queryCompiler) literalRegex(c *plan.Comparison) (primitive.Regex, error) {
	lit, ok := c.RHS.(*plan.Literal)
	if !ok {
		return primitive.Regex{}, unsupported("dynamic pattern in match context")
	}
	s, ok := lit.Value.(string)
	if !ok {
		return primitive.Regex{}, unsupported("pattern operand must be a string")
	}
	var options string
	switch c.Op {
	case plan.CmpIStartsWith, plan.CmpIEndsWith, plan.CmpIContains, plan.CmpIRegex:
		options = "i"
	}
	var pattern string
	switch c.Op {
	case plan.CmpStartsWith, plan.CmpIStartsWith:
		pattern = "^" + regexp.QuoteMeta(s)
	case plan.CmpEndsWith, plan.CmpIEndsWith:
		pattern = regexp.QuoteMeta(s) + "$"
	case plan.CmpContains, plan.CmpIContains:
		pattern = regexp.QuoteMeta(s)
	default:
		pattern = s
	}
	return primitive.Regex{Pattern: pattern, Options: options}, nil
}

// boolExpr compiles a predicate tree into aggregation operator form. For
// a statically decided tree the returned expression is the plain boolean
// so callers can embed it anywhere an expression goes.
func (self *queryCompiler) boolExpr(cond *plan.Cond) (interface{}, static, error) {
	if cond == nil {
		return true, staticFull, nil
	}
	return self.nodeExpr(cond, false)
}

func (self *queryCompiler) nodeExpr(node plan.Node, negated bool) (interface{}, static, error) {
	switch n := node.(type) {
	case *plan.Cond:
		return self.condExpr(n, negated)
	case *plan.Comparison:
		return self.leafExpr(n, negated)
	case *plan.Nothing:
		if negated {
			return true, staticFull, nil
		}
		return false, staticEmpty, nil
	default:
		return nil, notStatic, unsupported("predicate node %s", node.Dump())
	}
}

func (self *queryCompiler) condExpr(cond *plan.Cond, negated bool) (interface{}, static, error) {
	negated = negated != cond.Negated
	connector := cond.Connector
	if negated {
		if connector == plan.And {
			connector = plan.Or
		} else {
			connector = plan.And
		}
	}

	parts := bson.A{}
	for _, child := range cond.Children {
		expr, st, err := self.nodeExpr(child, negated)
		if err != nil {
			return nil, notStatic, err
		}
		switch st {
		case staticFull:
			if connector == plan.Or {
				return true, staticFull, nil
			}
			continue
		case staticEmpty:
			if connector == plan.And {
				return false, staticEmpty, nil
			}
			continue
		}
		parts = append(parts, expr)
	}

	switch len(parts) {
	case 0:
		if connector == plan.And {
			return true, staticFull, nil
		}
		return false, staticEmpty, nil
	case 1:
		return parts[0], notStatic, nil
	}
	op := "$and"
	if connector == plan.Or {
		op = "$or"
	}
	return bson.D{{Key: op, Value: parts}}, notStatic, nil
}

func (self *queryCompiler) leafExpr(c *plan.Comparison, negated bool) (interface{}, static, error) {
	if c.Synthetic {
		return true, staticFull, nil
	}

	lhs, err := self.genExpr(c.LHS)
	if err != nil {
		return nil, notStatic, err
	}

	var expr interface{}
	switch c.Op {
	case plan.CmpEq:
		rhs, err := self.genExpr(c.RHS)
		if err != nil {
			return nil, notStatic, err
		}
		expr = bson.D{{Key: "$eq", Value: bson.A{lhs, rhs}}}

	case plan.CmpGt, plan.CmpGte:
		rhs, err := self.genExpr(c.RHS)
		if err != nil {
			return nil, notStatic, err
		}
		op := "$gt"
		if c.Op == plan.CmpGte {
			op = "$gte"
		}
		expr = bson.D{{Key: op, Value: bson.A{lhs, rhs}}}

	case plan.CmpLt, plan.CmpLte:
		rhs, err := self.genExpr(c.RHS)
		if err != nil {
			return nil, notStatic, err
		}
		op := "$lt"
		if c.Op == plan.CmpLte {
			op = "$lte"
		}
		// null sorts below every value in operator comparisons, a plain
		// $lt would admit null and missing fields
		expr = bson.D{{Key: "$and", Value: bson.A{
			bson.D{{Key: op, Value: bson.A{lhs, rhs}}},
			bson.D{{Key: "$ne", Value: bson.A{lhs, nil}}},
		}}}

	case plan.CmpIn:
		if sub, ok := c.RHS.(*plan.Subquery); ok {
			ref, err := self.genSubquery(sub.Plan, wrapValues)
			if err != nil {
				return nil, notStatic, err
			}
			expr = bson.D{{Key: "$in", Value: bson.A{lhs, ref}}}
			break
		}
		arr, err := self.rhsValueList(c)
		if err != nil {
			return nil, notStatic, err
		}
		if len(arr) == 0 {
			if negated {
				return true, staticFull, nil
			}
			return false, staticEmpty, nil
		}
		expr = bson.D{{Key: "$in", Value: bson.A{lhs, arr}}}

	case plan.CmpRange:
		arr, err := self.rhsValueList(c)
		if err != nil {
			return nil, notStatic, err
		}
		expr = bson.D{{Key: "$and", Value: bson.A{
			bson.D{{Key: "$gte", Value: bson.A{lhs, arr[0]}}},
			bson.D{{Key: "$lte", Value: bson.A{lhs, arr[1]}}},
		}}}

	case plan.CmpIsNull:
		want, err := self.rhsBool(c)
		if err != nil {
			return nil, notStatic, err
		}
		op := "$eq"
		if !want {
			op = "$ne"
		}
		expr = bson.D{{Key: op, Value: bson.A{
			bson.D{{Key: "$ifNull", Value: bson.A{lhs, nil}}},
			nil,
		}}}

	case plan.CmpStartsWith, plan.CmpIStartsWith,
		plan.CmpEndsWith, plan.CmpIEndsWith,
		plan.CmpContains, plan.CmpIContains,
		plan.CmpRegex, plan.CmpIRegex:
		expr, err = self.genRegexMatch(c, lhs)
		if err != nil {
			return nil, notStatic, err
		}

	default:
		return nil, notStatic, unsupported("comparison %s", plan.CmpName(c.Op))
	}

	if negated {
		expr = bson.D{{Key: "$not", Value: bson.A{expr}}}
	}
	return expr, notStatic, nil
}

// genRegexMatch builds a $regexMatch for a pattern comparison. A constant
// pattern is escaped and anchored at compile time, a column valued
// pattern is escaped on the server with a $replaceAll chain. The match is
// guarded on string typed input since $regexMatch raises on anything
// else.
func (self *queryCompiler) genRegexMatch(c *plan.Comparison, lhs interface{}) (interface{}, error) {
	var insensitive bool
	switch c.Op {
	case plan.CmpIStartsWith, plan.CmpIEndsWith, plan.CmpIContains, plan.CmpIRegex:
		insensitive = true
	}

	var regex interface{}
	if lit, ok := c.RHS.(*plan.Literal); ok {
		s, ok := lit.Value.(string)
		if !ok {
			return nil, unsupported("pattern operand must be a string")
		}
		switch c.Op {
		case plan.CmpStartsWith, plan.CmpIStartsWith:
			regex = "^" + regexp.QuoteMeta(s)
		case plan.CmpEndsWith, plan.CmpIEndsWith:
			regex = regexp.QuoteMeta(s) + "$"
		case plan.CmpContains, plan.CmpIContains:
			regex = regexp.QuoteMeta(s)
		default:
			regex = s
		}
	} else {
		rhs, err := self.genExpr(c.RHS)
		if err != nil {
			return nil, err
		}
		switch c.Op {
		case plan.CmpStartsWith, plan.CmpIStartsWith:
			regex = bson.D{{Key: "$concat", Value: bson.A{"^", regexEscape(rhs)}}}
		case plan.CmpEndsWith, plan.CmpIEndsWith:
			regex = bson.D{{Key: "$concat", Value: bson.A{regexEscape(rhs), "$"}}}
		case plan.CmpContains, plan.CmpIContains:
			regex = regexEscape(rhs)
		default:
			regex = rhs
		}
	}

	doc := bson.D{
		{Key: "input", Value: lhs},
		{Key: "regex", Value: regex},
	}
	if insensitive {
		doc = append(doc, bson.E{Key: "options", Value: "i"})
	}
	match := bson.D{{Key: "$regexMatch", Value: doc}}

	return bson.D{{Key: "$cond", Value: bson.D{
		{Key: "if", Value: bson.D{{
			Key: "$eq", Value: bson.A{bson.D{{Key: "$type", Value: lhs}}, "string"},
		}}},
		{Key: "then", Value: match},
		{Key: "else", Value: false},
	}}}, nil
}

// regexEscape neutralizes regex metacharacters of a server side string
// expression, one $replaceAll per character, backslash first so the added
// escapes are not escaped again.
func regexEscape(expr interface{}) interface{} {
	out := expr
	for _, c := range []string{
		`\`, `^`, `$`, `.`, `|`, `?`, `*`, `+`, `(`, `)`, `[`, `]`, `{`, `}`,
	} {
		out = bson.D{{Key: "$replaceAll", Value: bson.D{
			{Key: "input", Value: out},
			{Key: "find", Value: c},
			{Key: "replacement", Value: `\` + c},
		}}}
	}
	return out
}
