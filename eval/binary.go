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

package eval

import (
	"fmt"

	"github.com/flowsql/ivm/sqlast"
	"github.com/flowsql/ivm/zset"
)

func compileBinary(e *sqlast.BinaryExpr, resolve Resolver) (Expr, error) {
	left, err := Compile(e.Left, resolve)
	if err != nil {
		return nil, err
	}
	right, err := Compile(e.Right, resolve)
	if err != nil {
		return nil, err
	}

	switch e.Op {
	case sqlast.OpAnd:
		return func(r zset.Row) (zset.Value, error) {
			lv, err := left(r)
			if err != nil {
				return zset.Null, err
			}
			rv, err := right(r)
			if err != nil {
				return zset.Null, err
			}
			return truthValue(and(ToTruth(lv), ToTruth(rv))), nil
		}, nil
	case sqlast.OpOr:
		return func(r zset.Row) (zset.Value, error) {
			lv, err := left(r)
			if err != nil {
				return zset.Null, err
			}
			rv, err := right(r)
			if err != nil {
				return zset.Null, err
			}
			return truthValue(or(ToTruth(lv), ToTruth(rv))), nil
		}, nil
	}

	return func(r zset.Row) (zset.Value, error) {
		lv, err := left(r)
		if err != nil {
			return zset.Null, err
		}
		rv, err := right(r)
		if err != nil {
			return zset.Null, err
		}
		return evalBinaryValues(e.Op, lv, rv)
	}, nil
}

func evalBinaryValues(op sqlast.BinaryOp, lv, rv zset.Value) (zset.Value, error) {
	switch op {
	case sqlast.OpEq, sqlast.OpNe, sqlast.OpLt, sqlast.OpLe, sqlast.OpGt, sqlast.OpGe:
		if lv.IsNull() || rv.IsNull() {
			return zset.Null, nil // three-valued: comparison with NULL is unknown
		}
		cmp, ok := lv.Compare(rv)
		if !ok {
			if op == sqlast.OpEq {
				return zset.Bool(lv.Equal(rv)), nil
			}
			if op == sqlast.OpNe {
				return zset.Bool(!lv.Equal(rv)), nil
			}
			return zset.Null, nil
		}
		switch op {
		case sqlast.OpEq:
			return zset.Bool(cmp == 0), nil
		case sqlast.OpNe:
			return zset.Bool(cmp != 0), nil
		case sqlast.OpLt:
			return zset.Bool(cmp < 0), nil
		case sqlast.OpLe:
			return zset.Bool(cmp <= 0), nil
		case sqlast.OpGt:
			return zset.Bool(cmp > 0), nil
		case sqlast.OpGe:
			return zset.Bool(cmp >= 0), nil
		}
	case sqlast.OpConcat:
		if lv.IsNull() || rv.IsNull() {
			return zset.Null, nil
		}
		return zset.Text(lv.String() + rv.String()), nil
	case sqlast.OpLike:
		if lv.IsNull() || rv.IsNull() {
			return zset.Null, nil
		}
		return zset.Bool(likeMatch(lv.Text(), rv.Text())), nil
	case sqlast.OpRegexp:
		if lv.IsNull() || rv.IsNull() {
			return zset.Null, nil
		}
		ok, err := regexpMatch(lv.Text(), rv.Text())
		if err != nil {
			return zset.Null, err // runtime evaluation error: regex compile failure
		}
		return zset.Bool(ok), nil
	case sqlast.OpAdd, sqlast.OpSub, sqlast.OpMul, sqlast.OpDiv, sqlast.OpMod:
		if lv.IsNull() || rv.IsNull() {
			return zset.Null, nil
		}
		return arith(op, lv, rv)
	}
	return zset.Null, fmt.Errorf("unsupported binary operator %v", op)
}

func arith(op sqlast.BinaryOp, lv, rv zset.Value) (zset.Value, error) {
	if lv.Kind() == zset.KindInt && rv.Kind() == zset.KindInt {
		a, b := lv.Int(), rv.Int()
		switch op {
		case sqlast.OpAdd:
			return zset.Int(a + b), nil
		case sqlast.OpSub:
			return zset.Int(a - b), nil
		case sqlast.OpMul:
			return zset.Int(a * b), nil
		case sqlast.OpDiv:
			if b == 0 {
				return zset.Null, fmt.Errorf("division by zero")
			}
			return zset.Int(a / b), nil
		case sqlast.OpMod:
			if b == 0 {
				return zset.Null, fmt.Errorf("modulo by zero")
			}
			return zset.Int(a % b), nil
		}
	}
	af, aok := lv.AsFloat()
	bf, bok := rv.AsFloat()
	if !aok || !bok {
		return zset.Null, fmt.Errorf("non-numeric operand to arithmetic operator")
	}
	switch op {
	case sqlast.OpAdd:
		return zset.Float(af + bf), nil
	case sqlast.OpSub:
		return zset.Float(af - bf), nil
	case sqlast.OpMul:
		return zset.Float(af * bf), nil
	case sqlast.OpDiv:
		if bf == 0 {
			return zset.Null, fmt.Errorf("division by zero")
		}
		return zset.Float(af / bf), nil
	case sqlast.OpMod:
		if bf == 0 {
			return zset.Null, fmt.Errorf("modulo by zero")
		}
		return zset.Float(float64(int64(af) % int64(bf))), nil
	}
	return zset.Null, fmt.Errorf("unsupported arithmetic operator %v", op)
}

func compileBetween(e *sqlast.Between, resolve Resolver) (Expr, error) {
	v, err := Compile(e.Expr, resolve)
	if err != nil {
		return nil, err
	}
	lo, err := Compile(e.Low, resolve)
	if err != nil {
		return nil, err
	}
	hi, err := Compile(e.High, resolve)
	if err != nil {
		return nil, err
	}
	return func(r zset.Row) (zset.Value, error) {
		vv, err := v(r)
		if err != nil {
			return zset.Null, err
		}
		lv, err := lo(r)
		if err != nil {
			return zset.Null, err
		}
		hv, err := hi(r)
		if err != nil {
			return zset.Null, err
		}
		if vv.IsNull() || lv.IsNull() || hv.IsNull() {
			return zset.Null, nil
		}
		c1, ok1 := vv.Compare(lv)
		c2, ok2 := vv.Compare(hv)
		if !ok1 || !ok2 {
			return zset.Null, nil
		}
		result := c1 >= 0 && c2 <= 0
		if e.Not {
			result = !result
		}
		return zset.Bool(result), nil
	}, nil
}

func compileIn(e *sqlast.InExpr, resolve Resolver) (Expr, error) {
	v, err := Compile(e.Expr, resolve)
	if err != nil {
		return nil, err
	}
	if e.Subquery != nil {
		return nil, fmt.Errorf("IN (subquery) must be rewritten before evaluation")
	}
	list := make([]Expr, len(e.List))
	for i, n := range e.List {
		list[i], err = Compile(n, resolve)
		if err != nil {
			return nil, err
		}
	}
	return func(r zset.Row) (zset.Value, error) {
		vv, err := v(r)
		if err != nil {
			return zset.Null, err
		}
		if vv.IsNull() {
			return zset.Null, nil
		}
		sawNull := false
		for _, le := range list {
			lv, err := le(r)
			if err != nil {
				return zset.Null, err
			}
			if lv.IsNull() {
				sawNull = true
				continue
			}
			if vv.Equal(lv) {
				return zset.Bool(!e.Not), nil
			}
		}
		if sawNull {
			return zset.Null, nil
		}
		return zset.Bool(e.Not), nil
	}, nil
}

func compileCase(e *sqlast.Case, resolve Resolver) (Expr, error) {
	var value Expr
	if e.Value != nil {
		var err error
		value, err = Compile(e.Value, resolve)
		if err != nil {
			return nil, err
		}
	}
	type arm struct {
		when, then Expr
	}
	arms := make([]arm, len(e.Arms))
	for i, a := range e.Arms {
		w, err := Compile(a.When, resolve)
		if err != nil {
			return nil, err
		}
		t, err := Compile(a.Then, resolve)
		if err != nil {
			return nil, err
		}
		arms[i] = arm{w, t}
	}
	var elseExpr Expr
	if e.Else != nil {
		var err error
		elseExpr, err = Compile(e.Else, resolve)
		if err != nil {
			return nil, err
		}
	}
	return func(r zset.Row) (zset.Value, error) {
		var baseline zset.Value
		if value != nil {
			var err error
			baseline, err = value(r)
			if err != nil {
				return zset.Null, err
			}
		}
		for _, a := range arms {
			wv, err := a.when(r)
			if err != nil {
				return zset.Null, err
			}
			matched := false
			if value != nil {
				matched = !baseline.IsNull() && !wv.IsNull() && baseline.Equal(wv)
			} else {
				matched = Matches(wv)
			}
			if matched {
				return a.then(r)
			}
		}
		if elseExpr != nil {
			return elseExpr(r)
		}
		return zset.Null, nil
	}, nil
}

func compileCast(e *sqlast.Cast, resolve Resolver) (Expr, error) {
	inner, err := Compile(e.Expr, resolve)
	if err != nil {
		return nil, err
	}
	return func(r zset.Row) (zset.Value, error) {
		v, err := inner(r)
		if err != nil {
			return zset.Null, err
		}
		return castValue(v, e.Type)
	}, nil
}
