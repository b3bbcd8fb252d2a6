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
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/flowsql/ivm/sqlast"
	"github.com/flowsql/ivm/zset"
)

func castValue(v zset.Value, typ string) (zset.Value, error) {
	if v.IsNull() {
		return zset.Null, nil
	}
	switch strings.ToUpper(typ) {
	case "INT", "INTEGER", "BIGINT":
		switch v.Kind() {
		case zset.KindInt:
			return v, nil
		case zset.KindFloat:
			return zset.Int(int64(v.Float())), nil
		case zset.KindText:
			i, err := strconv.ParseInt(strings.TrimSpace(v.Text()), 10, 64)
			if err != nil {
				return zset.Null, fmt.Errorf("cast to INT: %w", err)
			}
			return zset.Int(i), nil
		case zset.KindBool:
			if v.Bool() {
				return zset.Int(1), nil
			}
			return zset.Int(0), nil
		}
	case "FLOAT", "DOUBLE", "REAL":
		if f, ok := v.AsFloat(); ok {
			return zset.Float(f), nil
		}
		if v.Kind() == zset.KindText {
			f, err := strconv.ParseFloat(strings.TrimSpace(v.Text()), 64)
			if err != nil {
				return zset.Null, fmt.Errorf("cast to FLOAT: %w", err)
			}
			return zset.Float(f), nil
		}
	case "TEXT", "STRING", "VARCHAR":
		return zset.Text(v.String()), nil
	case "BOOL", "BOOLEAN":
		switch v.Kind() {
		case zset.KindBool:
			return v, nil
		case zset.KindInt:
			return zset.Bool(v.Int() != 0), nil
		}
	case "TIMESTAMP", "DATETIME":
		if v.Kind() == zset.KindTimestamp {
			return v, nil
		}
		if v.Kind() == zset.KindText {
			t, err := parseTimestamp(v.Text())
			if err != nil {
				return zset.Null, err
			}
			return zset.Timestamp(t), nil
		}
	}
	return zset.Null, fmt.Errorf("unsupported CAST to %s from %s", typ, v.Kind())
}

func likeMatch(s, pattern string) bool {
	var b strings.Builder
	b.WriteString("(?s)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

func regexpMatch(s, pattern string) (bool, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Errorf("regexp compile failure: %w", err)
	}
	return re.MatchString(s), nil
}

func parseTimestamp(s string) (time.Time, error) {
	layouts := []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999", "2006-01-02 15:04:05", "2006-01-02"}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse timestamp %q", s)
}

func compileCall(c *sqlast.Call, resolve Resolver) (Expr, error) {
	args := make([]Expr, len(c.Args))
	for i, a := range c.Args {
		e, err := Compile(a, resolve)
		if err != nil {
			return nil, err
		}
		args[i] = e
	}
	fn, ok := builtins[strings.ToUpper(c.Name)]
	if !ok {
		return nil, fmt.Errorf("unknown builtin function %s", c.Name)
	}
	return func(r zset.Row) (zset.Value, error) {
		vals := make([]zset.Value, len(args))
		for i, a := range args {
			v, err := a(r)
			if err != nil {
				return zset.Null, err
			}
			vals[i] = v
		}
		return fn(vals)
	}, nil
}

type builtinFunc func(args []zset.Value) (zset.Value, error)

// builtins is the scalar function surface named in spec §6: numeric,
// string, and the SQLite-compatible date/time family.
var builtins = map[string]builtinFunc{
	"ABS": func(a []zset.Value) (zset.Value, error) {
		if a[0].IsNull() {
			return zset.Null, nil
		}
		if a[0].Kind() == zset.KindInt {
			v := a[0].Int()
			if v < 0 {
				v = -v
			}
			return zset.Int(v), nil
		}
		f, _ := a[0].AsFloat()
		return zset.Float(math.Abs(f)), nil
	},
	"ROUND": func(a []zset.Value) (zset.Value, error) {
		if a[0].IsNull() {
			return zset.Null, nil
		}
		f, _ := a[0].AsFloat()
		return zset.Float(math.Round(f)), nil
	},
	"CEIL": func(a []zset.Value) (zset.Value, error) {
		f, _ := a[0].AsFloat()
		return zset.Float(math.Ceil(f)), nil
	},
	"FLOOR": func(a []zset.Value) (zset.Value, error) {
		f, _ := a[0].AsFloat()
		return zset.Float(math.Floor(f)), nil
	},
	"SQRT": func(a []zset.Value) (zset.Value, error) {
		f, _ := a[0].AsFloat()
		if f < 0 {
			return zset.Null, fmt.Errorf("sqrt of negative number")
		}
		return zset.Float(math.Sqrt(f)), nil
	},
	"POWER": func(a []zset.Value) (zset.Value, error) {
		f, _ := a[0].AsFloat()
		g, _ := a[1].AsFloat()
		return zset.Float(math.Pow(f, g)), nil
	},
	"MOD": func(a []zset.Value) (zset.Value, error) {
		return evalBinaryValues(sqlast.OpMod, a[0], a[1])
	},
	"UPPER": func(a []zset.Value) (zset.Value, error) {
		if a[0].IsNull() {
			return zset.Null, nil
		}
		return zset.Text(strings.ToUpper(a[0].Text())), nil
	},
	"LOWER": func(a []zset.Value) (zset.Value, error) {
		if a[0].IsNull() {
			return zset.Null, nil
		}
		return zset.Text(strings.ToLower(a[0].Text())), nil
	},
	"LENGTH": func(a []zset.Value) (zset.Value, error) {
		if a[0].IsNull() {
			return zset.Null, nil
		}
		return zset.Int(int64(len([]rune(a[0].Text())))), nil
	},
	"TRIM": func(a []zset.Value) (zset.Value, error) {
		if a[0].IsNull() {
			return zset.Null, nil
		}
		return zset.Text(strings.TrimSpace(a[0].Text())), nil
	},
	"CONCAT": func(a []zset.Value) (zset.Value, error) {
		var b strings.Builder
		for _, v := range a {
			if v.IsNull() {
				return zset.Null, nil
			}
			b.WriteString(v.String())
		}
		return zset.Text(b.String()), nil
	},
	"SUBSTR": func(a []zset.Value) (zset.Value, error) {
		if a[0].IsNull() {
			return zset.Null, nil
		}
		s := []rune(a[0].Text())
		start := int(a[1].Int())
		if start < 1 {
			start = 1
		}
		if start > len(s)+1 {
			return zset.Text(""), nil
		}
		end := len(s) + 1
		if len(a) > 2 {
			n := int(a[2].Int())
			if start+n < end {
				end = start + n
			}
		}
		return zset.Text(string(s[start-1 : end-1])), nil
	},
	"REPLACE": func(a []zset.Value) (zset.Value, error) {
		if a[0].IsNull() {
			return zset.Null, nil
		}
		return zset.Text(strings.ReplaceAll(a[0].Text(), a[1].Text(), a[2].Text())), nil
	},
	"DATE": func(a []zset.Value) (zset.Value, error) { return dateTimeFunc(a, "2006-01-02") },
	"TIME": func(a []zset.Value) (zset.Value, error) { return dateTimeFunc(a, "15:04:05") },
	"DATETIME": func(a []zset.Value) (zset.Value, error) {
		return dateTimeFunc(a, "2006-01-02 15:04:05")
	},
	"STRFTIME": func(a []zset.Value) (zset.Value, error) {
		if len(a) < 2 || a[0].IsNull() || a[1].IsNull() {
			return zset.Null, nil
		}
		t, err := valueToTime(a[1])
		if err != nil {
			return zset.Null, err
		}
		return zset.Text(strftime(a[0].Text(), t)), nil
	},
	"JULIANDAY": func(a []zset.Value) (zset.Value, error) {
		if len(a) < 1 || a[0].IsNull() {
			return zset.Null, nil
		}
		t, err := valueToTime(a[0])
		if err != nil {
			return zset.Null, err
		}
		const unixEpochJulian = 2440587.5
		return zset.Float(unixEpochJulian + float64(t.Unix())/86400.0), nil
	},
	"UNIXEPOCH": func(a []zset.Value) (zset.Value, error) {
		if len(a) < 1 || a[0].IsNull() {
			return zset.Null, nil
		}
		t, err := valueToTime(a[0])
		if err != nil {
			return zset.Null, err
		}
		return zset.Int(t.Unix()), nil
	},
}

func valueToTime(v zset.Value) (time.Time, error) {
	switch v.Kind() {
	case zset.KindTimestamp:
		return v.Time(), nil
	case zset.KindText:
		if strings.EqualFold(v.Text(), "now") {
			return time.Now().UTC(), nil
		}
		return parseTimestamp(v.Text())
	case zset.KindInt:
		return time.Unix(v.Int(), 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("cannot interpret %s as a timestamp", v.Kind())
	}
}

func dateTimeFunc(a []zset.Value, layout string) (zset.Value, error) {
	if len(a) < 1 || a[0].IsNull() {
		return zset.Null, nil
	}
	t, err := valueToTime(a[0])
	if err != nil {
		return zset.Null, err
	}
	return zset.Text(t.Format(layout)), nil
}

// strftime implements the subset of SQLite's strftime format codes
// that are likely to appear in a view definition.
func strftime(format string, t time.Time) string {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		if format[i] != '%' || i+1 >= len(format) {
			b.WriteByte(format[i])
			continue
		}
		i++
		switch format[i] {
		case 'Y':
			fmt.Fprintf(&b, "%04d", t.Year())
		case 'm':
			fmt.Fprintf(&b, "%02d", int(t.Month()))
		case 'd':
			fmt.Fprintf(&b, "%02d", t.Day())
		case 'H':
			fmt.Fprintf(&b, "%02d", t.Hour())
		case 'M':
			fmt.Fprintf(&b, "%02d", t.Minute())
		case 'S':
			fmt.Fprintf(&b, "%02d", t.Second())
		case 'j':
			fmt.Fprintf(&b, "%03d", t.YearDay())
		case 'w':
			fmt.Fprintf(&b, "%d", int(t.Weekday()))
		case '%':
			b.WriteByte('%')
		default:
			b.WriteByte('%')
			b.WriteByte(format[i])
		}
	}
	return b.String()
}
