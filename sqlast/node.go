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

// Package sqlast is the normalized SQL AST the compiler consumes (see
// spec §6). It deliberately does not include a textual parser: the
// AST here is what a parser would hand the compiler after name
// normalization, exactly as spec.md §1 scopes the textual parser out
// as an external collaborator.
//
// The shape -- a closed Node union walked with a Visitor/Rewriter pair
// -- follows the teacher package's expr.Node design: concrete struct
// types implementing a small interface, switched over with type
// assertions rather than open interface polymorphism, per the "tagged
// variants vs. dynamic dispatch" design note.
package sqlast

import "strings"

// Node is any scalar-expression AST node: literals, column
// references, operators, calls, CASE/CAST, aggregates, window
// functions, and subqueries used in expression position.
type Node interface {
	// String renders the node for diagnostics (CompileError messages).
	String() string
	walk(v Visitor)
	rewrite(r Rewriter) Node
}

// Visitor is implemented by callers of Walk.
type Visitor interface {
	// Visit is called for n; if the returned Visitor is non-nil,
	// Walk recurses into n's children with it.
	Visit(n Node) Visitor
}

// Rewriter is implemented by callers of Rewrite.
type Rewriter interface {
	// Rewrite is applied to each node post-order (children first).
	Rewrite(n Node) Node
}

// Walk traverses the AST rooted at n in depth-first, pre-order.
func Walk(v Visitor, n Node) {
	if n == nil {
		return
	}
	w := v.Visit(n)
	if w != nil {
		n.walk(w)
	}
}

// Rewrite applies r to every node in the tree rooted at n, bottom-up,
// returning the (possibly replaced) root.
func Rewrite(r Rewriter, n Node) Node {
	if n == nil {
		return nil
	}
	n = n.rewrite(r)
	return r.Rewrite(n)
}

// funcVisitor adapts a plain function to Visitor, always recursing.
type funcVisitor func(Node) bool

func (f funcVisitor) Visit(n Node) Visitor {
	if f(n) {
		return f
	}
	return nil
}

// EachColumnRef calls fn for every *ColumnRef reachable from n,
// depth-first. Used by the compiler for free-variable / schema
// resolution and by GROUP BY/ORDER BY ordinal-to-expr mapping.
func EachColumnRef(n Node, fn func(*ColumnRef)) {
	Walk(funcVisitor(func(n Node) bool {
		if c, ok := n.(*ColumnRef); ok {
			fn(c)
		}
		return true
	}), n)
}

// joinPath renders a qualified path like "t.col" or just "col".
func joinPath(parts ...string) string {
	nonEmpty := parts[:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, ".")
}
