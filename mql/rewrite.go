package mql

import (
	"github.com/docquery/sql2mongo/plan"
)

// Tree walking and rewriting used by the grouping planner. Walks are
// iterative with an explicit stack and never descend into nested plans,
// a subquery aggregates in its own scope.

// childExprs lists the direct sub expressions of e.
func childExprs(e plan.Expr) []plan.Expr {
	switch n := e.(type) {
	case *plan.Combined:
		return []plan.Expr{n.LHS, n.RHS}
	case *plan.Case:
		out := []plan.Expr{}
		for _, b := range n.Branches {
			out = append(out, condChildExprs(b.When)...)
			out = append(out, b.Then)
		}
		if n.Default != nil {
			out = append(out, n.Default)
		}
		return out
	case *plan.Coalesce:
		return append([]plan.Expr{}, n.Args...)
	case *plan.Aggregate:
		if n.Operand != nil {
			return []plan.Expr{n.Operand}
		}
		return nil
	case *plan.OrderSpec:
		return []plan.Expr{n.Expr}
	default:
		return nil
	}
}

func condChildExprs(c *plan.Cond) []plan.Expr {
	if c == nil {
		return nil
	}
	out := []plan.Expr{}
	stack := []plan.Node{c}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		switch n := node.(type) {
		case *plan.Cond:
			stack = append(stack, n.Children...)
		case *plan.Comparison:
			out = append(out, n.LHS)
			if n.RHS != nil {
				out = append(out, n.RHS)
			}
		}
	}
	return out
}

// collectAggregates appends every aggregate reachable from e, outermost
// only, preserving discovery order.
func collectAggregates(e plan.Expr, out []*plan.Aggregate) []*plan.Aggregate {
	stack := []plan.Expr{e}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if agg, ok := cur.(*plan.Aggregate); ok {
			out = append(out, agg)
			continue
		}
		children := childExprs(cur)
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return out
}

func containsAggregate(e plan.Expr) bool {
	return len(collectAggregates(e, nil)) > 0
}

// rewriter maps an expression to its replacement; the second result
// reports whether a replacement applies.
type rewriter func(plan.Expr) (plan.Expr, bool)

// rewriteExpr returns e with every matched sub expression replaced. The
// input is never mutated, rebuilt nodes are fresh copies.
func rewriteExpr(e plan.Expr, r rewriter) plan.Expr {
	if e == nil {
		return nil
	}
	if repl, ok := r(e); ok {
		return repl
	}
	switch n := e.(type) {
	case *plan.Combined:
		return &plan.Combined{
			Op:  n.Op,
			LHS: rewriteExpr(n.LHS, r),
			RHS: rewriteExpr(n.RHS, r),
		}
	case *plan.Case:
		out := &plan.Case{Default: rewriteExpr(n.Default, r)}
		for _, b := range n.Branches {
			out.Branches = append(out.Branches, plan.CaseBranch{
				When: rewriteCond(b.When, r),
				Then: rewriteExpr(b.Then, r),
			})
		}
		return out
	case *plan.Coalesce:
		out := &plan.Coalesce{}
		for _, a := range n.Args {
			out.Args = append(out.Args, rewriteExpr(a, r))
		}
		return out
	case *plan.OrderSpec:
		return &plan.OrderSpec{
			Expr:       rewriteExpr(n.Expr, r),
			Descending: n.Descending,
			NullsFirst: n.NullsFirst,
			NullsLast:  n.NullsLast,
		}
	default:
		return e
	}
}

func rewriteCond(c *plan.Cond, r rewriter) *plan.Cond {
	if c == nil {
		return nil
	}
	out := &plan.Cond{Connector: c.Connector, Negated: c.Negated}
	for _, child := range c.Children {
		switch n := child.(type) {
		case *plan.Cond:
			out.Children = append(out.Children, rewriteCond(n, r))
		case *plan.Comparison:
			out.Children = append(out.Children, &plan.Comparison{
				LHS:       rewriteExpr(n.LHS, r),
				Op:        n.Op,
				RHS:       rewriteExpr(n.RHS, r),
				Synthetic: n.Synthetic,
			})
		default:
			out.Children = append(out.Children, child)
		}
	}
	return out
}

// sameColumn reports structural equality of two column references.
func sameColumn(a, b *plan.ColumnRef) bool {
	return a.Collection == b.Collection && a.Name == b.Name
}
