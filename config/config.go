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

// Package config loads the YAML documents that declare a running
// engine's sources and views, via sigs.k8s.io/yaml (teacher's own
// config-unmarshaling dependency). Since the engine takes a normalized
// sqlast.Query rather than SQL text (spec.md's non-goals explicitly
// exclude a textual SQL parser), a view's query is itself declared
// declaratively in YAML -- a restricted shape covering one FROM table,
// an optional single equi-join, a conjunction of simple WHERE
// comparisons, optional GROUP BY aggregates, and optional ORDER
// BY/LIMIT -- and this package's job is to translate that declarative
// shape into the sqlast nodes compile.NewBuilder expects, the same
// role teacher's YAML configs play turning a document into Go structs
// consumed by the rest of the system.
package config

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/flowsql/ivm/dbsperr"
	"github.com/flowsql/ivm/sqlast"
	"github.com/flowsql/ivm/zset"
)

// Document is the top-level shape of one YAML config file.
type Document struct {
	Sources []SourceSpec `json:"sources"`
	Views   []ViewSpec   `json:"views"`
}

// SourceSpec declares one source table.
type SourceSpec struct {
	Name    string   `json:"name"`
	Key     []string `json:"key"`
	MaxRows int      `json:"maxRows,omitempty"`
}

// ViewSpec declares one view's query in the restricted declarative
// shape described at the package level.
type ViewSpec struct {
	Name    string       `json:"name"`
	From    string       `json:"from"`
	Join    *JoinSpec    `json:"join,omitempty"`
	Where   []CondSpec   `json:"where,omitempty"`
	Select  []ItemSpec   `json:"select,omitempty"`
	GroupBy []string     `json:"groupBy,omitempty"`
	OrderBy []OrderSpec  `json:"orderBy,omitempty"`
	Limit   *int         `json:"limit,omitempty"`
	Offset  *int         `json:"offset,omitempty"`
	Distinct bool        `json:"distinct,omitempty"`
	MaxRows int          `json:"maxRows,omitempty"`
}

// JoinSpec declares a single equi-join against another table or view.
type JoinSpec struct {
	Kind  string `json:"kind"` // "inner", "left", "right", "full", "cross"
	Table string `json:"table"`
	Alias string `json:"alias,omitempty"`
	On    string `json:"on"` // "left.col = right.col"
}

// CondSpec is one WHERE conjunct: "column op literal".
type CondSpec struct {
	Column string      `json:"column"`
	Op     string      `json:"op"` // =, <>, <, <=, >, >=
	Value  interface{} `json:"value"`
}

// ItemSpec is one SELECT item: either a bare column, "*", or an
// aggregate function over a column.
type ItemSpec struct {
	Column string `json:"column,omitempty"`
	Star   bool   `json:"star,omitempty"`
	Agg    string `json:"agg,omitempty"` // count, count_distinct, sum, avg, min, max, ...
	Alias  string `json:"alias,omitempty"`
}

// OrderSpec is one ORDER BY term.
type OrderSpec struct {
	Column string `json:"column"`
	Desc   bool   `json:"desc,omitempty"`
}

// Load reads and parses a config document from path.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks the document for the structural requirements
// New(Source/View) enforce anyway, surfacing them earlier with the
// file in context.
func (d *Document) Validate() error {
	seen := make(map[string]bool)
	for _, s := range d.Sources {
		if s.Name == "" {
			return dbsperr.Configf("sources", "a source is missing a name")
		}
		if len(s.Key) == 0 {
			return dbsperr.Configf("sources", "source %q has no key columns", s.Name)
		}
		if seen[s.Name] {
			return dbsperr.Configf("sources", "duplicate source name %q", s.Name)
		}
		seen[s.Name] = true
	}
	for _, v := range d.Views {
		if v.Name == "" {
			return dbsperr.Configf("views", "a view is missing a name")
		}
		if v.From == "" {
			return dbsperr.Configf("views", "view %q has no from table", v.Name)
		}
		if seen[v.Name] {
			return dbsperr.Configf("views", "duplicate name %q", v.Name)
		}
		seen[v.Name] = true
	}
	return nil
}

// SourceKeyFunc builds the key function a source.Config needs from a
// SourceSpec's column list.
func SourceKeyFunc(spec SourceSpec) zset.KeyFunc {
	if len(spec.Key) == 1 {
		return zset.SingleColumnKey(spec.Key[0])
	}
	return zset.CompositeKey(spec.Key...)
}

// Query translates a ViewSpec into a sqlast.Query the compile package
// can build a circuit from.
func (v ViewSpec) Query() (sqlast.Query, error) {
	var from sqlast.From = &sqlast.TableRef{Name: v.From}

	if v.Join != nil {
		kind, err := joinKind(v.Join.Kind)
		if err != nil {
			return nil, dbsperr.Configf("views", "view %q: %v", v.Name, err)
		}
		on, err := parseOn(v.Join.On)
		if err != nil {
			return nil, dbsperr.Configf("views", "view %q join.on: %v", v.Name, err)
		}
		from = &sqlast.JoinClause{
			Kind:  kind,
			Left:  from,
			Right: &sqlast.TableRef{Name: v.Join.Table, Alias: v.Join.Alias},
			On:    on,
		}
	}

	var where sqlast.Node
	for _, c := range v.Where {
		cond, err := c.compile()
		if err != nil {
			return nil, dbsperr.Configf("views", "view %q where: %v", v.Name, err)
		}
		if where == nil {
			where = cond
		} else {
			where = &sqlast.BinaryExpr{Op: sqlast.OpAnd, Left: where, Right: cond}
		}
	}

	items, err := selectItems(v.Select)
	if err != nil {
		return nil, dbsperr.Configf("views", "view %q select: %v", v.Name, err)
	}

	groupBy := make([]sqlast.Node, len(v.GroupBy))
	for i, g := range v.GroupBy {
		groupBy[i] = sqlast.Column(g)
	}

	orderBy := make([]sqlast.OrderItem, len(v.OrderBy))
	for i, o := range v.OrderBy {
		orderBy[i] = sqlast.OrderItem{Expr: sqlast.Column(o.Column), Desc: o.Desc}
	}

	return &sqlast.Select{
		Items:    items,
		From:     from,
		Where:    where,
		GroupBy:  groupBy,
		OrderBy:  orderBy,
		Limit:    v.Limit,
		Offset:   v.Offset,
		Distinct: v.Distinct,
	}, nil
}

func selectItems(specs []ItemSpec) ([]sqlast.SelectItem, error) {
	if len(specs) == 0 {
		return []sqlast.SelectItem{{Expr: &sqlast.Star{}}}, nil
	}
	items := make([]sqlast.SelectItem, len(specs))
	for i, s := range specs {
		switch {
		case s.Star:
			items[i] = sqlast.SelectItem{Expr: &sqlast.Star{}}
		case s.Agg != "":
			op, err := aggOp(s.Agg)
			if err != nil {
				return nil, err
			}
			ae := &sqlast.AggExpr{Op: op}
			if s.Column != "" {
				ae.Arg = sqlast.Column(s.Column)
			} else {
				ae.Star = true
			}
			items[i] = sqlast.SelectItem{Expr: ae, Alias: s.Alias}
		default:
			items[i] = sqlast.SelectItem{Expr: sqlast.Column(s.Column), Alias: s.Alias}
		}
	}
	return items, nil
}

func aggOp(name string) (sqlast.AggOp, error) {
	switch name {
	case "count":
		return sqlast.AggCount, nil
	case "count_distinct":
		return sqlast.AggCountDistinct, nil
	case "sum":
		return sqlast.AggSum, nil
	case "avg":
		return sqlast.AggAvg, nil
	case "min":
		return sqlast.AggMin, nil
	case "max":
		return sqlast.AggMax, nil
	case "bit_and":
		return sqlast.AggBitAnd, nil
	case "bit_or":
		return sqlast.AggBitOr, nil
	case "bit_xor":
		return sqlast.AggBitXor, nil
	case "bool_and":
		return sqlast.AggBoolAnd, nil
	case "bool_or":
		return sqlast.AggBoolOr, nil
	default:
		return 0, fmt.Errorf("unknown aggregate %q", name)
	}
}

func joinKind(name string) (sqlast.JoinKind, error) {
	switch name {
	case "", "inner":
		return sqlast.InnerJoin, nil
	case "left":
		return sqlast.LeftJoin, nil
	case "right":
		return sqlast.RightJoin, nil
	case "full":
		return sqlast.FullJoin, nil
	case "cross":
		return sqlast.CrossJoin, nil
	default:
		return 0, fmt.Errorf("unknown join kind %q", name)
	}
}

func (c CondSpec) compile() (sqlast.Node, error) {
	op, err := cmpOp(c.Op)
	if err != nil {
		return nil, err
	}
	lit, err := literal(c.Value)
	if err != nil {
		return nil, err
	}
	return &sqlast.BinaryExpr{Op: op, Left: sqlast.Column(c.Column), Right: lit}, nil
}

func cmpOp(op string) (sqlast.BinaryOp, error) {
	switch op {
	case "=":
		return sqlast.OpEq, nil
	case "<>", "!=":
		return sqlast.OpNe, nil
	case "<":
		return sqlast.OpLt, nil
	case "<=":
		return sqlast.OpLe, nil
	case ">":
		return sqlast.OpGt, nil
	case ">=":
		return sqlast.OpGe, nil
	default:
		return 0, fmt.Errorf("unknown comparison operator %q", op)
	}
}

func literal(v interface{}) (*sqlast.Literal, error) {
	switch t := v.(type) {
	case nil:
		return &sqlast.Literal{Kind: sqlast.LitNull}, nil
	case bool:
		return &sqlast.Literal{Kind: sqlast.LitBool, B: t}, nil
	case string:
		return &sqlast.Literal{Kind: sqlast.LitString, S: t}, nil
	case float64:
		if t == float64(int64(t)) {
			return sqlast.IntLit(int64(t)), nil
		}
		return &sqlast.Literal{Kind: sqlast.LitFloat, F: t}, nil
	case int:
		return sqlast.IntLit(int64(t)), nil
	case int64:
		return sqlast.IntLit(t), nil
	default:
		return nil, fmt.Errorf("unsupported literal value %v (%T)", v, v)
	}
}

// parseOn parses the restricted "left.col = right.col" equality form
// the YAML join.on field uses.
func parseOn(expr string) (sqlast.Node, error) {
	left, right, ok := splitOnce(expr, "=")
	if !ok {
		return nil, fmt.Errorf("join.on must be of the form \"left.col = right.col\", got %q", expr)
	}
	lt, lc, err := splitQualified(left)
	if err != nil {
		return nil, err
	}
	rt, rc, err := splitQualified(right)
	if err != nil {
		return nil, err
	}
	return &sqlast.BinaryExpr{
		Op:    sqlast.OpEq,
		Left:  &sqlast.ColumnRef{Table: lt, Name: lc},
		Right: &sqlast.ColumnRef{Table: rt, Name: rc},
	}, nil
}

func splitOnce(s, sep string) (string, string, bool) {
	for i := 0; i+len(sep) <= len(s); i++ {
		if s[i:i+len(sep)] == sep {
			return trimSpace(s[:i]), trimSpace(s[i+len(sep):]), true
		}
	}
	return "", "", false
}

func splitQualified(s string) (table, col string, err error) {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return s[:i], s[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("expected a qualified column \"table.col\", got %q", s)
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}
