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

// Package zset implements the weighted-multiset (Z-set) algebra that
// underlies every delta and every integrated state in the engine, and
// the Row/Value scalar model that Z-sets carry.
package zset

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// Kind tags the dynamic type of a Value. Values are a closed union:
// every scalar type the engine understands has exactly one Kind.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindDecimal
	KindText
	KindBool
	KindTimestamp
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "NULL"
	case KindInt:
		return "INT"
	case KindFloat:
		return "FLOAT"
	case KindDecimal:
		return "DECIMAL"
	case KindText:
		return "TEXT"
	case KindBool:
		return "BOOL"
	case KindTimestamp:
		return "TIMESTAMP"
	default:
		return "INVALID"
	}
}

// Value is a scalar row value. It is a tagged union rather than an
// interface so that comparisons and arithmetic never need a type
// assertion on a hot path.
type Value struct {
	kind Kind
	i    int64
	f    float64
	dec  *big.Rat
	s    string
	b    bool
	t    time.Time
}

var Null = Value{kind: KindNull}

func Int(v int64) Value                 { return Value{kind: KindInt, i: v} }
func Float(v float64) Value             { return Value{kind: KindFloat, f: v} }
func Decimal(v *big.Rat) Value          { return Value{kind: KindDecimal, dec: v} }
func Text(v string) Value               { return Value{kind: KindText, s: v} }
func Bool(v bool) Value                 { return Value{kind: KindBool, b: v} }
func Timestamp(v time.Time) Value       { return Value{kind: KindTimestamp, t: v.UTC()} }
func DecimalFromString(s string) Value  { r, _ := new(big.Rat).SetString(s); return Value{kind: KindDecimal, dec: r} }

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsNull() bool   { return v.kind == KindNull }
func (v Value) Int() int64     { return v.i }
func (v Value) Float() float64 { return v.f }
func (v Value) Decimal() *big.Rat {
	if v.dec == nil {
		return new(big.Rat)
	}
	return v.dec
}
func (v Value) Text() string       { return v.s }
func (v Value) Bool() bool         { return v.b }
func (v Value) Time() time.Time    { return v.t }

// AsFloat coerces any numeric kind to a float64, for contexts (window
// aggregates, arithmetic builtins) that operate uniformly over numbers.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	case KindDecimal:
		f, _ := v.Decimal().Float64()
		return f, true
	default:
		return 0, false
	}
}

// Equal implements value equality used by DISTINCT, GROUP BY key
// construction, and expression evaluation's `=` operator outside of
// WHERE's three-valued context.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		// numeric cross-kind equality: 1 = 1.0
		vf, vok := v.AsFloat()
		of, ook := o.AsFloat()
		if vok && ook {
			return vf == of
		}
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindDecimal:
		return v.Decimal().Cmp(o.Decimal()) == 0
	case KindText:
		return v.s == o.s
	case KindBool:
		return v.b == o.b
	case KindTimestamp:
		return v.t.Equal(o.t)
	default:
		return false
	}
}

// Compare orders two non-null values of compatible kinds. ok is false
// when the values cannot be ordered against each other (mismatched,
// non-orderable kinds), which callers treat as an unknown (NULL-like)
// comparison result per three-valued logic.
func (v Value) Compare(o Value) (cmp int, ok bool) {
	if v.IsNull() || o.IsNull() {
		return 0, false
	}
	if v.kind != o.kind {
		vf, vok := v.AsFloat()
		of, ook := o.AsFloat()
		if vok && ook {
			return cmpFloat(vf, of), true
		}
		return 0, false
	}
	switch v.kind {
	case KindInt:
		return cmpInt(v.i, o.i), true
	case KindFloat:
		return cmpFloat(v.f, o.f), true
	case KindDecimal:
		return v.Decimal().Cmp(o.Decimal()), true
	case KindText:
		return strings.Compare(v.s, o.s), true
	case KindBool:
		if v.b == o.b {
			return 0, true
		}
		if !v.b {
			return -1, true
		}
		return 1, true
	case KindTimestamp:
		if v.t.Equal(o.t) {
			return 0, true
		}
		if v.t.Before(o.t) {
			return -1, true
		}
		return 1, true
	default:
		return 0, false
	}
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// String renders v for diagnostics and for row-key construction. It is
// not intended to be a faithful SQL literal formatter.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindDecimal:
		return v.Decimal().RatString()
	case KindText:
		return v.s
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindTimestamp:
		return v.t.Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("<invalid kind %d>", v.kind)
	}
}
