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

package sqlast

import (
	"fmt"
	"strings"
)

// Literal is a constant scalar appearing directly in SQL text.
type Literal struct {
	Kind LiteralKind
	I    int64
	F    float64
	S    string
	B    bool
}

type LiteralKind uint8

const (
	LitNull LiteralKind = iota
	LitInt
	LitFloat
	LitString
	LitBool
)

func IntLit(v int64) *Literal      { return &Literal{Kind: LitInt, I: v} }
func FloatLit(v float64) *Literal  { return &Literal{Kind: LitFloat, F: v} }
func StringLit(v string) *Literal  { return &Literal{Kind: LitString, S: v} }
func BoolLit(v bool) *Literal      { return &Literal{Kind: LitBool, B: v} }
func NullLit() *Literal            { return &Literal{Kind: LitNull} }

func (l *Literal) String() string {
	switch l.Kind {
	case LitNull:
		return "NULL"
	case LitInt:
		return fmt.Sprintf("%d", l.I)
	case LitFloat:
		return fmt.Sprintf("%g", l.F)
	case LitString:
		return "'" + l.S + "'"
	case LitBool:
		return fmt.Sprintf("%t", l.B)
	default:
		return "<literal>"
	}
}
func (l *Literal) walk(Visitor) {}
func (l *Literal) rewrite(Rewriter) Node { return l }

// ColumnRef is a (possibly table-qualified) column reference, e.g.
// `col` or `t.col`.
type ColumnRef struct {
	Table string // "" if unqualified
	Name  string
}

func Column(name string) *ColumnRef           { return &ColumnRef{Name: name} }
func QualifiedColumn(table, name string) *ColumnRef { return &ColumnRef{Table: table, Name: name} }

func (c *ColumnRef) String() string      { return joinPath(c.Table, c.Name) }
func (c *ColumnRef) walk(Visitor)        {}
func (c *ColumnRef) rewrite(Rewriter) Node { return c }

// Star is the unqualified `*` select item.
type Star struct{}

func (s *Star) String() string        { return "*" }
func (s *Star) walk(Visitor)          {}
func (s *Star) rewrite(Rewriter) Node { return s }

// QualifiedStar is `table.*`.
type QualifiedStar struct{ Table string }

func (q *QualifiedStar) String() string        { return q.Table + ".*" }
func (q *QualifiedStar) walk(Visitor)          {}
func (q *QualifiedStar) rewrite(Rewriter) Node { return q }

type BinaryOp uint8

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
	OpConcat
	OpLike
	OpRegexp
)

var binaryOpText = map[BinaryOp]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpMod: "%",
	OpEq: "=", OpNe: "<>", OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">=",
	OpAnd: "AND", OpOr: "OR", OpConcat: "||", OpLike: "LIKE", OpRegexp: "REGEXP",
}

// BinaryExpr is any two-operand infix operator, including the
// comparison operators used in WHERE and ON clauses.
type BinaryExpr struct {
	Op          BinaryOp
	Left, Right Node
}

func (b *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left, binaryOpText[b.Op], b.Right)
}
func (b *BinaryExpr) walk(v Visitor) { Walk(v, b.Left); Walk(v, b.Right) }
func (b *BinaryExpr) rewrite(r Rewriter) Node {
	b.Left = Rewrite(r, b.Left)
	b.Right = Rewrite(r, b.Right)
	return b
}

type UnaryOp uint8

const (
	OpNeg UnaryOp = iota
	OpNot
)

type UnaryExpr struct {
	Op   UnaryOp
	Expr Node
}

func (u *UnaryExpr) String() string {
	if u.Op == OpNot {
		return "(NOT " + u.Expr.String() + ")"
	}
	return "(-" + u.Expr.String() + ")"
}
func (u *UnaryExpr) walk(v Visitor)          { Walk(v, u.Expr) }
func (u *UnaryExpr) rewrite(r Rewriter) Node { u.Expr = Rewrite(r, u.Expr); return u }

// IsNullExpr implements `x IS NULL` / `x IS NOT NULL`.
type IsNullExpr struct {
	Expr Node
	Not  bool
}

func (e *IsNullExpr) String() string {
	if e.Not {
		return e.Expr.String() + " IS NOT NULL"
	}
	return e.Expr.String() + " IS NULL"
}
func (e *IsNullExpr) walk(v Visitor)          { Walk(v, e.Expr) }
func (e *IsNullExpr) rewrite(r Rewriter) Node { e.Expr = Rewrite(r, e.Expr); return e }

// Between implements `x BETWEEN lo AND hi`, used in both WHERE and,
// per spec §4.3, as a two-bound inequality inside ON clauses.
type Between struct {
	Expr, Low, High Node
	Not             bool
}

func (b *Between) String() string {
	return fmt.Sprintf("%s BETWEEN %s AND %s", b.Expr, b.Low, b.High)
}
func (b *Between) walk(v Visitor) { Walk(v, b.Expr); Walk(v, b.Low); Walk(v, b.High) }
func (b *Between) rewrite(r Rewriter) Node {
	b.Expr, b.Low, b.High = Rewrite(r, b.Expr), Rewrite(r, b.Low), Rewrite(r, b.High)
	return b
}

// InExpr implements `x IN (list)` or `x IN (subquery)`.
type InExpr struct {
	Expr     Node
	List     []Node
	Subquery Query
	Not      bool
}

func (e *InExpr) String() string {
	if e.Subquery != nil {
		return e.Expr.String() + " IN (<subquery>)"
	}
	parts := make([]string, len(e.List))
	for i, n := range e.List {
		parts[i] = n.String()
	}
	return e.Expr.String() + " IN (" + strings.Join(parts, ", ") + ")"
}
func (e *InExpr) walk(v Visitor) {
	Walk(v, e.Expr)
	for _, n := range e.List {
		Walk(v, n)
	}
}
func (e *InExpr) rewrite(r Rewriter) Node {
	e.Expr = Rewrite(r, e.Expr)
	for i := range e.List {
		e.List[i] = Rewrite(r, e.List[i])
	}
	return e
}

// ExistsExpr implements `EXISTS (subquery)`.
type ExistsExpr struct {
	Subquery Query
	Not      bool
}

func (e *ExistsExpr) String() string        { return "EXISTS (<subquery>)" }
func (e *ExistsExpr) walk(Visitor)          {}
func (e *ExistsExpr) rewrite(r Rewriter) Node { return e }

// ScalarSubquery is a single-row, single-column subquery used in
// expression position (SELECT item, CASE arm). Per spec §4.4/§9 only
// uncorrelated scalar subqueries are supported.
type ScalarSubquery struct {
	Query Query
}

func (s *ScalarSubquery) String() string        { return "(<scalar subquery>)" }
func (s *ScalarSubquery) walk(Visitor)          {}
func (s *ScalarSubquery) rewrite(r Rewriter) Node { return s }

// Call is a scalar (non-aggregate, non-window) builtin function call.
type Call struct {
	Name string
	Args []Node
}

func (c *Call) String() string {
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		parts[i] = a.String()
	}
	return c.Name + "(" + strings.Join(parts, ", ") + ")"
}
func (c *Call) walk(v Visitor) {
	for _, a := range c.Args {
		Walk(v, a)
	}
}
func (c *Call) rewrite(r Rewriter) Node {
	for i := range c.Args {
		c.Args[i] = Rewrite(r, c.Args[i])
	}
	return c
}

// Cast implements `CAST(expr AS type)`.
type Cast struct {
	Expr Node
	Type string
}

func (c *Cast) String() string        { return fmt.Sprintf("CAST(%s AS %s)", c.Expr, c.Type) }
func (c *Cast) walk(v Visitor)          { Walk(v, c.Expr) }
func (c *Cast) rewrite(r Rewriter) Node { c.Expr = Rewrite(r, c.Expr); return c }

// CaseArm is one `WHEN cond THEN result` pair of a CASE expression.
type CaseArm struct {
	When Node
	Then Node
}

// Case implements both simple (`CASE x WHEN ...`) and searched
// (`CASE WHEN cond ...`) forms; Value is nil for the searched form.
type Case struct {
	Value Node
	Arms  []CaseArm
	Else  Node
}

func (c *Case) String() string { return "CASE ... END" }
func (c *Case) walk(v Visitor) {
	if c.Value != nil {
		Walk(v, c.Value)
	}
	for _, a := range c.Arms {
		Walk(v, a.When)
		Walk(v, a.Then)
	}
	if c.Else != nil {
		Walk(v, c.Else)
	}
}
func (c *Case) rewrite(r Rewriter) Node {
	if c.Value != nil {
		c.Value = Rewrite(r, c.Value)
	}
	for i := range c.Arms {
		c.Arms[i].When = Rewrite(r, c.Arms[i].When)
		c.Arms[i].Then = Rewrite(r, c.Arms[i].Then)
	}
	if c.Else != nil {
		c.Else = Rewrite(r, c.Else)
	}
	return c
}
