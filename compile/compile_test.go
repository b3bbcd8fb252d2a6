// Copyright (C) 2024 The IVM Authors.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package compile

import (
	"testing"

	"github.com/flowsql/ivm/circuit"
	"github.com/flowsql/ivm/sqlast"
	"github.com/flowsql/ivm/zset"
)

func schemasFor() map[string][]string {
	return map[string][]string{
		"orders":    {"id", "customer_id", "amount"},
		"customers": {"id", "name"},
	}
}

func selItems(exprs ...sqlast.Node) []sqlast.SelectItem {
	items := make([]sqlast.SelectItem, len(exprs))
	for i, e := range exprs {
		items[i] = sqlast.SelectItem{Expr: e}
	}
	return items
}

func step(c *circuit.Circuit, in map[string]zset.Set) {
	c.Step(in)
}

func TestCompileSimpleFilterProject(t *testing.T) {
	q := &sqlast.Select{
		Items: selItems(sqlast.Column("id"), sqlast.Column("amount")),
		From:  &sqlast.TableRef{Name: "orders"},
		Where: &sqlast.BinaryExpr{
			Op:    sqlast.OpGt,
			Left:  sqlast.Column("amount"),
			Right: sqlast.IntLit(10),
		},
	}

	c, out, err := Compile(q, schemasFor())
	if err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}

	row := zset.NewRow([]string{"id", "customer_id", "amount"}, []zset.Value{zset.Int(1), zset.Int(9), zset.Float(20)})
	step(c, map[string]zset.Set{
		"orders": zset.FromKeyedEntries(zset.Entry{Key: zset.NewRowKey(zset.Int(1)), Row: row, Weight: 1}),
	})
	result := c.Output(out)
	if result.Len() != 1 {
		t.Fatalf("expected 1 row to pass the filter, got %d", result.Len())
	}

	lowRow := zset.NewRow([]string{"id", "customer_id", "amount"}, []zset.Value{zset.Int(2), zset.Int(9), zset.Float(1)})
	step(c, map[string]zset.Set{
		"orders": zset.FromKeyedEntries(zset.Entry{Key: zset.NewRowKey(zset.Int(2)), Row: lowRow, Weight: 1}),
	})
	if c.Output(out).Len() != 0 {
		t.Fatalf("expected the low-amount row to be filtered out")
	}
}

func TestCompileInnerJoinProjectsBothSides(t *testing.T) {
	q := &sqlast.Select{
		Items: selItems(&sqlast.Star{}),
		From: &sqlast.JoinClause{
			Kind:  sqlast.InnerJoin,
			Left:  &sqlast.TableRef{Name: "orders", Alias: "o"},
			Right: &sqlast.TableRef{Name: "customers", Alias: "c"},
			On: &sqlast.BinaryExpr{
				Op:    sqlast.OpEq,
				Left:  &sqlast.ColumnRef{Table: "o", Name: "customer_id"},
				Right: &sqlast.ColumnRef{Table: "c", Name: "id"},
			},
		},
	}

	c, out, err := Compile(q, schemasFor())
	if err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}

	orderRow := zset.NewRow([]string{"id", "customer_id", "amount"}, []zset.Value{zset.Int(1), zset.Int(9), zset.Float(20)})
	custRow := zset.NewRow([]string{"id", "name"}, []zset.Value{zset.Int(9), zset.Text("acme")})

	step(c, map[string]zset.Set{
		"customers": zset.FromKeyedEntries(zset.Entry{Key: zset.NewRowKey(zset.Int(9)), Row: custRow, Weight: 1}),
	})
	step(c, map[string]zset.Set{
		"orders": zset.FromKeyedEntries(zset.Entry{Key: zset.NewRowKey(zset.Int(1)), Row: orderRow, Weight: 1}),
	})

	result := c.Output(out)
	if result.Len() != 1 {
		t.Fatalf("expected 1 joined row, got %d", result.Len())
	}
	result.Entries(func(e zset.Entry) bool {
		name, ok := e.Row.Get("name")
		if !ok || name.Text() != "acme" {
			t.Fatalf("expected the joined row to carry the customer's name, got %v", e.Row)
		}
		return true
	})
}

func TestCompileAggregateGroupsAndSums(t *testing.T) {
	q := &sqlast.Select{
		Items: []sqlast.SelectItem{
			{Expr: sqlast.Column("customer_id")},
			{Expr: &sqlast.AggExpr{Op: sqlast.AggSum, Arg: sqlast.Column("amount")}, Alias: "total"},
		},
		From:    &sqlast.TableRef{Name: "orders"},
		GroupBy: []sqlast.Node{sqlast.Column("customer_id")},
	}

	c, out, err := Compile(q, schemasFor())
	if err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}

	r1 := zset.NewRow([]string{"id", "customer_id", "amount"}, []zset.Value{zset.Int(1), zset.Int(9), zset.Float(20)})
	r2 := zset.NewRow([]string{"id", "customer_id", "amount"}, []zset.Value{zset.Int(2), zset.Int(9), zset.Float(5)})

	step(c, map[string]zset.Set{
		"orders": zset.FromKeyedEntries(
			zset.Entry{Key: zset.NewRowKey(zset.Int(1)), Row: r1, Weight: 1},
			zset.Entry{Key: zset.NewRowKey(zset.Int(2)), Row: r2, Weight: 1},
		),
	})

	result := c.Output(out)
	if result.Len() != 1 {
		t.Fatalf("expected 1 group, got %d", result.Len())
	}
	result.Entries(func(e zset.Entry) bool {
		total, ok := e.Row.Get("total")
		f, _ := total.AsFloat()
		if !ok || f != 25 {
			t.Fatalf("expected total 25, got %v", e.Row)
		}
		return true
	})
}

func TestCompileRejectsUnknownTable(t *testing.T) {
	q := &sqlast.Select{
		Items: selItems(&sqlast.Star{}),
		From:  &sqlast.TableRef{Name: "ghost"},
	}
	if _, _, err := Compile(q, schemasFor()); err == nil {
		t.Fatalf("expected a compile error for an unknown table")
	}
}

func TestCompileUnionAll(t *testing.T) {
	left := &sqlast.Select{Items: selItems(&sqlast.Star{}), From: &sqlast.TableRef{Name: "orders"}}
	right := &sqlast.Select{Items: selItems(&sqlast.Star{}), From: &sqlast.TableRef{Name: "orders"}}
	q := &sqlast.SetOp{Kind: sqlast.Union, All: true, Left: left, Right: right}

	c, out, err := Compile(q, schemasFor())
	if err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}
	row := zset.NewRow([]string{"id", "customer_id", "amount"}, []zset.Value{zset.Int(1), zset.Int(9), zset.Float(20)})
	step(c, map[string]zset.Set{
		"orders": zset.FromKeyedEntries(zset.Entry{Key: zset.NewRowKey(zset.Int(1)), Row: row, Weight: 1}),
	})
	if c.Output(out).Len() != 1 {
		t.Fatalf("expected the unioned row to appear once per branch feed")
	}
}
