package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fatih/color"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/docquery/sql2mongo/mql"
	"github.com/docquery/sql2mongo/plan"
)

var fDemo = flag.String(
	"demo",
	"filter",
	"which demo plan to compile: filter, join, group, subquery, union, or all",
)

var fOutput = flag.String(
	"output",
	"",
	"specify path to save output file, default write to STDOUT",
)

func oops(stage string, err error) {
	fmt.Fprintf(os.Stderr, "ERROR [%s]]] %s\n", stage, err)
	os.Exit(-1)
}

func catalog() plan.Catalog {
	return plan.MemCatalog{
		"orders": {
			"status":      plan.TypeString,
			"total":       plan.TypeDecimal,
			"customer_id": plan.TypeObjectId,
			"created":     plan.TypeDateTime,
		},
		"customers": {
			"_id":  plan.TypeObjectId,
			"name": plan.TypeString,
			"tier": plan.TypeString,
		},
	}
}

func demoFilter() *plan.Plan {
	return &plan.Plan{
		Collection: "orders",
		Columns: []plan.SelectColumn{
			{Alias: "status", Expr: &plan.ColumnRef{Name: "status"}},
			{Alias: "total", Expr: &plan.ColumnRef{Name: "total"}},
		},
		Where: plan.NewAnd(
			&plan.Comparison{
				LHS: &plan.ColumnRef{Name: "status"},
				Op:  plan.CmpEq,
				RHS: &plan.Literal{Value: "shipped", Ty: plan.TypeString},
			},
			&plan.Comparison{
				LHS: &plan.ColumnRef{Name: "total"},
				Op:  plan.CmpGt,
				RHS: &plan.Literal{Value: 100, Ty: plan.TypeInt},
			},
		),
		OrderBy: []plan.OrderSpec{
			{Expr: &plan.ColumnRef{Name: "total"}, Descending: true},
		},
		Bound: plan.Bound(20),
	}
}

func demoJoin() *plan.Plan {
	return &plan.Plan{
		Collection: "orders",
		Columns: []plan.SelectColumn{
			{Alias: "total", Expr: &plan.ColumnRef{Name: "total"}},
			{Alias: "customer", Expr: &plan.ColumnRef{Collection: "c", Name: "name"}},
		},
		Joins: []plan.Join{{
			Alias:      "c",
			Collection: "customers",
			Keys: []plan.JoinPair{{
				Parent: &plan.ColumnRef{Name: "customer_id"},
				Child:  &plan.ColumnRef{Name: "_id"},
			}},
		}},
		Where: plan.NewAnd(
			&plan.Comparison{
				LHS: &plan.ColumnRef{Collection: "c", Name: "tier"},
				Op:  plan.CmpEq,
				RHS: &plan.Literal{Value: "gold", Ty: plan.TypeString},
			},
		),
	}
}

func demoGroup() *plan.Plan {
	return &plan.Plan{
		Collection: "orders",
		Columns: []plan.SelectColumn{
			{Alias: "status", Expr: &plan.ColumnRef{Name: "status"}},
			{
				Alias: "n",
				Expr:  &plan.Aggregate{Fn: plan.AggCount},
			},
			{
				Alias: "avg_total",
				Expr: &plan.Aggregate{
					Fn:      plan.AggAvg,
					Operand: &plan.ColumnRef{Name: "total"},
				},
			},
		},
		GroupBy: []plan.Expr{&plan.ColumnRef{Name: "status"}},
		Having: plan.NewAnd(
			&plan.Comparison{
				LHS: &plan.Aggregate{Fn: plan.AggCount},
				Op:  plan.CmpGt,
				RHS: &plan.Literal{Value: 10, Ty: plan.TypeInt},
			},
		),
	}
}

func demoSubquery() *plan.Plan {
	inner := &plan.Plan{
		Collection: "customers",
		Columns: []plan.SelectColumn{
			{Alias: "_id", Expr: &plan.ColumnRef{Name: "_id"}},
		},
		Where: plan.NewAnd(
			&plan.Comparison{
				LHS: &plan.ColumnRef{Name: "tier"},
				Op:  plan.CmpEq,
				RHS: &plan.Literal{Value: "gold", Ty: plan.TypeString},
			},
		),
	}
	return &plan.Plan{
		Collection: "orders",
		Columns: []plan.SelectColumn{
			{Alias: "total", Expr: &plan.ColumnRef{Name: "total"}},
		},
		Where: plan.NewAnd(
			&plan.Comparison{
				LHS: &plan.ColumnRef{Name: "customer_id"},
				Op:  plan.CmpIn,
				RHS: &plan.Subquery{Plan: inner},
			},
		),
	}
}

func demoUnion() *plan.Plan {
	left := &plan.Plan{
		Collection: "orders",
		Columns: []plan.SelectColumn{
			{Alias: "label", Expr: &plan.ColumnRef{Name: "status"}},
		},
	}
	right := &plan.Plan{
		Collection: "customers",
		Columns: []plan.SelectColumn{
			{Alias: "label", Expr: &plan.ColumnRef{Name: "tier"}},
		},
	}
	return &plan.Plan{
		Columns: []plan.SelectColumn{
			{Alias: "label", Expr: &plan.ColumnRef{Name: "label"}},
		},
		Combinator: &plan.Combinator{
			Op:    plan.SetUnion,
			Plans: []*plan.Plan{left, right},
		},
	}
}

var demos = []struct {
	name  string
	build func() *plan.Plan
}{
	{"filter", demoFilter},
	{"join", demoJoin},
	{"group", demoGroup},
	{"subquery", demoSubquery},
	{"union", demoUnion},
}

func render(name string, p *plan.Plan) string {
	q, err := mql.Compile(p, &mql.Config{Catalog: catalog()})
	if err != nil {
		oops("compile", err)
	}

	out := ""
	out += color.GreenString("##> demo(%s)\n", name)
	out += p.Print()
	out += color.GreenString("##> pipeline(%s)\n", q.Collection())
	for _, stage := range q.Pipeline() {
		j, err := bson.MarshalExtJSONIndent(stage, false, false, "", "  ")
		if err != nil {
			oops("render", err)
		}
		out += fmt.Sprintf("%s\n", j)
	}
	return out
}

func main() {
	flag.Parse()

	out := ""
	found := false
	for _, d := range demos {
		if *fDemo == "all" || *fDemo == d.name {
			out += render(d.name, d.build())
			found = true
		}
	}
	if !found {
		oops("demo", fmt.Errorf("unknown demo %q", *fDemo))
	}

	if *fOutput == "" {
		fmt.Printf("%s", out)
	} else {
		if err := os.WriteFile(
			*fOutput,
			[]byte(out),
			0644,
		); err != nil {
			oops("save", err)
		}
	}
	os.Exit(0)
}
