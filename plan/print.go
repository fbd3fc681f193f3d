package plan

import (
	"fmt"
	"strings"
)

// Printing the plan out, for testing, debugging, visualization purpose etc ...

func (self *Plan) Print() string {
	buf := &strings.Builder{}
	buf.WriteString("##> Plan\n")
	buf.WriteString(fmt.Sprintf("Collection: %s\n", self.Collection))
	self.printColumns(buf)
	self.printJoins(buf)
	if self.Where != nil {
		buf.WriteString(fmt.Sprintf("Where: %s\n", self.Where.Dump()))
	}
	self.printGroupBy(buf)
	if self.Having != nil {
		buf.WriteString(fmt.Sprintf("Having: %s\n", self.Having.Dump()))
	}
	self.printOrderBy(buf)
	if self.Distinct {
		buf.WriteString("Distinct: true\n")
	}
	if self.Offset != 0 || self.Bound != nil {
		if self.Bound != nil {
			buf.WriteString(fmt.Sprintf("Window: [%d, %d)\n", self.Offset, *self.Bound))
		} else {
			buf.WriteString(fmt.Sprintf("Window: [%d, -)\n", self.Offset))
		}
	}
	if self.Combinator != nil {
		for _, sub := range self.Combinator.Plans {
			buf.WriteString(fmt.Sprintf("##> Combinator(%d, all=%v)\n", self.Combinator.Op, self.Combinator.All))
			buf.WriteString(sub.Print())
		}
	}
	return buf.String()
}

func (self *Plan) printColumns(buf *strings.Builder) {
	for _, col := range self.Columns {
		buf.WriteString(fmt.Sprintf("Column: %s := %s\n", col.Alias, col.Expr.Dump()))
	}
}

func (self *Plan) printJoins(buf *strings.Builder) {
	for _, j := range self.Joins {
		buf.WriteString("##> Join\n")
		buf.WriteString(fmt.Sprintf("Alias: %s\n", j.Alias))
		buf.WriteString(fmt.Sprintf("Collection: %s\n", j.Collection))
		buf.WriteString(fmt.Sprintf("Outer: %v\n", j.Outer))
		for _, k := range j.Keys {
			buf.WriteString(fmt.Sprintf("On: %s == %s\n", k.Parent.Dump(), k.Child.Dump()))
		}
		if j.Extra != nil {
			buf.WriteString(fmt.Sprintf("Extra: %s\n", j.Extra.Dump()))
		}
	}
}

func (self *Plan) printGroupBy(buf *strings.Builder) {
	for _, e := range self.GroupBy {
		buf.WriteString(fmt.Sprintf("GroupBy: %s\n", e.Dump()))
	}
}

func (self *Plan) printOrderBy(buf *strings.Builder) {
	for _, o := range self.OrderBy {
		buf.WriteString(fmt.Sprintf("OrderBy: %s\n", o.Dump()))
	}
}

func (self *Literal) Dump() string {
	return fmt.Sprintf("literal(%v)", self.Value)
}

func (self *ColumnRef) Dump() string {
	if self.Collection == "" {
		return self.Name
	}
	return self.Collection + "." + self.Name
}

func (self *Combined) Dump() string {
	return fmt.Sprintf(
		"%s(%s, %s)",
		combineOpName(self.Op),
		self.LHS.Dump(),
		self.RHS.Dump(),
	)
}

func (self *Case) Dump() string {
	buf := &strings.Builder{}
	buf.WriteString("case(")
	for _, br := range self.Branches {
		buf.WriteString(fmt.Sprintf("[%s => %s]", br.When.Dump(), br.Then.Dump()))
	}
	if self.Default != nil {
		buf.WriteString(fmt.Sprintf("[else => %s]", self.Default.Dump()))
	}
	buf.WriteString(")")
	return buf.String()
}

func (self *Coalesce) Dump() string {
	parts := []string{}
	for _, a := range self.Args {
		parts = append(parts, a.Dump())
	}
	return fmt.Sprintf("coalesce(%s)", strings.Join(parts, ", "))
}

func (self *Aggregate) Dump() string {
	operand := "*"
	if self.Operand != nil {
		operand = self.Operand.Dump()
	}
	distinct := ""
	if self.Distinct {
		distinct = "distinct "
	}
	out := fmt.Sprintf("%s(%s%s)", AggName(self.Fn), distinct, operand)
	if self.Filter != nil {
		out += fmt.Sprintf(" filter(%s)", self.Filter.Dump())
	}
	return out
}

func (self *Subquery) Dump() string {
	return fmt.Sprintf("subquery(%s)", self.Plan.Collection)
}

func (self *Exists) Dump() string {
	return fmt.Sprintf("exists(%s)", self.Plan.Collection)
}

func (self *Ref) Dump() string {
	return fmt.Sprintf("ref(%s)", self.Name)
}

func (self *OrderSpec) Dump() string {
	dir := "asc"
	if self.Descending {
		dir = "desc"
	}
	nulls := ""
	if self.NullsFirst {
		nulls = " nulls-first"
	} else if self.NullsLast {
		nulls = " nulls-last"
	}
	return fmt.Sprintf("%s %s%s", self.Expr.Dump(), dir, nulls)
}

func (self *Star) Dump() string { return "*" }

func (self *Cond) Dump() string {
	conn := "and"
	if self.Connector == Or {
		conn = "or"
	}
	parts := []string{}
	for _, c := range self.Children {
		parts = append(parts, c.Dump())
	}
	out := fmt.Sprintf("%s(%s)", conn, strings.Join(parts, ", "))
	if self.Negated {
		out = "not " + out
	}
	return out
}

func (self *Comparison) Dump() string {
	rhs := "?"
	if self.RHS != nil {
		rhs = self.RHS.Dump()
	}
	return fmt.Sprintf("%s %s %s", self.LHS.Dump(), CmpName(self.Op), rhs)
}

func (self *Nothing) Dump() string { return "nothing" }
