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

// Package eval compiles a sqlast expression tree into a Go closure
// once (at circuit-build time, mirroring the teacher's
// expression-to-executable-form compilation idiom), instead of
// re-interpreting the tree on every row. Every compiled Expr embodies
// spec §7's runtime-evaluation-error policy: a division by zero, a
// regex compile failure, or a type coercion failure makes the
// expression evaluate to NULL rather than aborting the step. The
// result is NULL in every context; no 0 is substituted in numeric
// CASE or arithmetic contexts.
package eval

import (
	"fmt"

	"github.com/flowsql/ivm/sqlast"
	"github.com/flowsql/ivm/zset"
)

// Expr is a compiled scalar expression: given one row, produce its
// value. Errors returned are the runtime-evaluation-error cases of
// spec §7; callers apply the null-substitution policy via EvalSafe
// below rather than propagating the error to the step boundary.
type Expr func(row zset.Row) (zset.Value, error)

// Resolver maps a (possibly table-qualified) column reference to the
// row key under which the compiler has arranged for that column's
// value to live at this point in the circuit. Every FROM binder and
// every SELECT projection stage supplies one.
type Resolver interface {
	Resolve(table, name string) (rowKey string, err error)
}

// ResolverFunc adapts a plain function to Resolver.
type ResolverFunc func(table, name string) (string, error)

func (f ResolverFunc) Resolve(table, name string) (string, error) { return f(table, name) }

// Identity is a Resolver for contexts (post-projection rows, group
// keys) where a column reference's Name already is the row key.
var Identity Resolver = ResolverFunc(func(_, name string) (string, error) { return name, nil })

// Compile translates n into an Expr. resolve is consulted for every
// *sqlast.ColumnRef encountered.
func Compile(n sqlast.Node, resolve Resolver) (Expr, error) {
	switch e := n.(type) {
	case *sqlast.Literal:
		v := literalValue(e)
		return func(zset.Row) (zset.Value, error) { return v, nil }, nil

	case *sqlast.ColumnRef:
		key, err := resolve.Resolve(e.Table, e.Name)
		if err != nil {
			return nil, err
		}
		return func(r zset.Row) (zset.Value, error) {
			v, _ := r.Get(key)
			return v, nil
		}, nil

	case *sqlast.BinaryExpr:
		return compileBinary(e, resolve)

	case *sqlast.UnaryExpr:
		inner, err := Compile(e.Expr, resolve)
		if err != nil {
			return nil, err
		}
		if e.Op == sqlast.OpNot {
			return func(r zset.Row) (zset.Value, error) {
				v, err := inner(r)
				if err != nil {
					return zset.Null, err
				}
				t := ToTruth(v)
				switch t {
				case TruthTrue:
					return zset.Bool(false), nil
				case TruthFalse:
					return zset.Bool(true), nil
				default:
					return zset.Null, nil
				}
			}, nil
		}
		return func(r zset.Row) (zset.Value, error) {
			v, err := inner(r)
			if err != nil || v.IsNull() {
				return zset.Null, err
			}
			f, ok := v.AsFloat()
			if !ok {
				return zset.Null, fmt.Errorf("cannot negate non-numeric value")
			}
			if v.Kind() == zset.KindInt {
				return zset.Int(-v.Int()), nil
			}
			return zset.Float(-f), nil
		}, nil

	case *sqlast.IsNullExpr:
		inner, err := Compile(e.Expr, resolve)
		if err != nil {
			return nil, err
		}
		return func(r zset.Row) (zset.Value, error) {
			v, err := inner(r)
			if err != nil {
				return zset.Null, err
			}
			result := v.IsNull()
			if e.Not {
				result = !result
			}
			return zset.Bool(result), nil
		}, nil

	case *sqlast.Between:
		return compileBetween(e, resolve)

	case *sqlast.InExpr:
		return compileIn(e, resolve)

	case *sqlast.Case:
		return compileCase(e, resolve)

	case *sqlast.Cast:
		return compileCast(e, resolve)

	case *sqlast.Call:
		return compileCall(e, resolve)

	case *sqlast.ExistsExpr:
		// EXISTS over a subquery is not evaluated here, and the
		// `compile` package has no pass that rewrites it into
		// something eval can run, so a query using EXISTS fails to
		// compile with this error.
		return nil, fmt.Errorf("EXISTS must be rewritten before evaluation")

	default:
		return nil, fmt.Errorf("eval: unsupported expression %T", n)
	}
}

func literalValue(l *sqlast.Literal) zset.Value {
	switch l.Kind {
	case sqlast.LitInt:
		return zset.Int(l.I)
	case sqlast.LitFloat:
		return zset.Float(l.F)
	case sqlast.LitString:
		return zset.Text(l.S)
	case sqlast.LitBool:
		return zset.Bool(l.B)
	default:
		return zset.Null
	}
}

// EvalSafe runs e over row, applying spec §7's liveness policy: any
// error is swallowed into a NULL result and reported to onError once
// so the circuit step never aborts on a single bad row.
func EvalSafe(e Expr, row zset.Row, onError func(error)) zset.Value {
	v, err := e(row)
	if err != nil {
		if onError != nil {
			onError(err)
		}
		return zset.Null
	}
	return v
}
