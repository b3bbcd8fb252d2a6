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

// Package compile translates a normalized sqlast.Query into a
// circuit.Circuit, the way teacher's plan/pir package walks an
// expr.Query AST and threads a Step chain through it (plan/pir/build.go).
// Here the "Step chain" is the circuit DAG itself: every FROM term,
// filter, join, aggregate, window, and set operator becomes one circuit
// node, wired by name instead of by chained *pir.Trace value. Compile
// errors are reported as *dbsperr.CompileError carrying the offending
// AST node, mirroring build.go's errorf.
package compile

import (
	"fmt"

	"github.com/flowsql/ivm/circuit"
	"github.com/flowsql/ivm/dbsperr"
	"github.com/flowsql/ivm/eval"
	"github.com/flowsql/ivm/internal/logctx"
	"github.com/flowsql/ivm/ops/agg"
	"github.com/flowsql/ivm/ops/join"
	"github.com/flowsql/ivm/ops/linear"
	"github.com/flowsql/ivm/ops/setops"
	"github.com/flowsql/ivm/ops/topk"
	"github.com/flowsql/ivm/ops/window"
	"github.com/flowsql/ivm/sqlast"
	"github.com/flowsql/ivm/view"
	"github.com/flowsql/ivm/zset"
)

// defaultJoinCapacity bounds a Materialized join side's row cap when
// the caller doesn't specify one. A join side large enough to need
// ExternallyIndexed storage is wired in by the registry, which knows
// the expected cardinality; Compile itself only picks a safe default.
const defaultJoinCapacity = 1 << 17

// Compile translates query into a circuit whose final node is the
// view's result stream. schemas maps every base-table name the query's
// FROM clauses reference to its column list -- the same map view.New
// resolves from each Upstream before calling a Builder.
func Compile(query sqlast.Query, schemas map[string][]string) (*circuit.Circuit, circuit.Stream, error) {
	b := &builder{
		circuit: circuit.New(),
		schemas: schemas,
		named:   make(map[string]boundStream),
		log:     logctx.NewOnce("compile"),
	}
	out, _, err := b.compileQuery(query)
	if err != nil {
		return nil, circuit.Stream{}, err
	}
	return b.circuit, out, nil
}

// NewBuilder adapts Compile to view.Builder, for constructing a View
// whose query is fixed at definition time (the common case: one
// CreateView statement per view).
func NewBuilder(query sqlast.Query) view.Builder {
	return func(schemas map[string][]string) (*circuit.Circuit, circuit.Stream, error) {
		return Compile(query, schemas)
	}
}

type boundStream struct {
	stream  circuit.Stream
	columns []string
}

type builder struct {
	circuit *circuit.Circuit
	schemas map[string][]string
	named   map[string]boundStream // CTE name -> already-compiled query
	seq     int
	log     *logctx.Once
}

func (b *builder) name(prefix string) string {
	b.seq++
	return fmt.Sprintf("%s#%d", prefix, b.seq)
}

func (b *builder) onEvalError(op string) func(error) {
	return func(err error) { b.log.ErrorfOnce(op, "%v", err) }
}

func (b *builder) compileQuery(q sqlast.Query) (circuit.Stream, []string, error) {
	switch n := q.(type) {
	case *sqlast.Select:
		return b.compileSelect(n)
	case *sqlast.SetOp:
		return b.compileSetOp(n)
	default:
		return circuit.Stream{}, nil, dbsperr.Errorf(q, "unsupported query form %T", q)
	}
}

// columnBinding is one FROM-side column's identity as the compiler
// tracks it: alias/name resolve a *sqlast.ColumnRef, flat is the actual
// key the column currently lives under in the physical Row flowing
// through the circuit at this point (renamed when a join needed to
// disambiguate a collision).
type columnBinding struct {
	alias string
	name  string
	flat  string
}

type binder struct {
	cols []columnBinding
}

func newBinderFromSchema(alias string, schemaCols []string) *binder {
	bd := &binder{}
	for _, c := range schemaCols {
		bd.cols = append(bd.cols, columnBinding{alias: alias, name: c, flat: c})
	}
	return bd
}

func (bd *binder) flatNames() map[string]bool {
	m := make(map[string]bool, len(bd.cols))
	for _, c := range bd.cols {
		m[c.flat] = true
	}
	return m
}

func (bd *binder) allFlat() []string {
	out := make([]string, len(bd.cols))
	for i, c := range bd.cols {
		out[i] = c.flat
	}
	return out
}

// resolver implements eval.Resolver by matching table.name /
// unqualified name against the tracked bindings, returning the actual
// row key (flat) to read. An unqualified name matching more than one
// alias is ambiguous and must be qualified.
func (bd *binder) resolver() eval.Resolver {
	return eval.ResolverFunc(func(table, name string) (string, error) {
		var matches []columnBinding
		for _, c := range bd.cols {
			if table != "" {
				if c.alias == table && c.name == name {
					matches = append(matches, c)
				}
			} else if c.name == name {
				matches = append(matches, c)
			}
		}
		switch len(matches) {
		case 0:
			if table != "" {
				return "", fmt.Errorf("unknown column %s.%s", table, name)
			}
			return "", fmt.Errorf("unknown column %q", name)
		case 1:
			return matches[0].flat, nil
		default:
			return "", fmt.Errorf("ambiguous column %q; qualify with a table name", name)
		}
	})
}

// rawCombinedResolver resolves against lb and rb's columns as they
// exist in the raw (pre-merge, pre-rename) rows a Join's own Residual
// evaluator sees -- join.Join.residualOK merges the two sides with
// zset.Row.Merge, which silently lets the right side's value win a
// name collision rather than erroring, so this resolver mirrors that
// exact behavior instead of the disambiguating rename mergeJoin applies
// to the join's *output* row.
func rawCombinedResolver(lb, rb *binder) eval.Resolver {
	return eval.ResolverFunc(func(table, name string) (string, error) {
		var flat string
		found := false
		match := func(c columnBinding) bool {
			if table != "" {
				return c.alias == table && c.name == name
			}
			return c.name == name
		}
		for _, c := range lb.cols {
			if match(c) {
				flat, found = c.flat, true
			}
		}
		for _, c := range rb.cols {
			if match(c) {
				flat, found = c.flat, true
			}
		}
		if !found {
			return "", fmt.Errorf("unknown column %q", name)
		}
		return flat, nil
	})
}

// mergeJoin combines two sides' bindings after a join step. A flat name
// present on both sides is renamed on each side to "alias.name" so the
// physical merged row carries two distinct columns instead of the
// right side silently shadowing the left; see nullAwareRenamingProject.
func mergeJoin(left, right *binder) (merged *binder, leftRename, rightRename map[string]string) {
	leftFlat := left.flatNames()
	rightFlat := right.flatNames()
	leftRename = make(map[string]string)
	rightRename = make(map[string]string)
	merged = &binder{}
	for _, c := range left.cols {
		flat := c.flat
		if rightFlat[flat] {
			flat = c.alias + "." + c.flat
			leftRename[c.flat] = flat
		}
		merged.cols = append(merged.cols, columnBinding{alias: c.alias, name: c.name, flat: flat})
	}
	for _, c := range right.cols {
		flat := c.flat
		if leftFlat[flat] {
			flat = c.alias + "." + c.flat
			rightRename[c.flat] = flat
		}
		merged.cols = append(merged.cols, columnBinding{alias: c.alias, name: c.name, flat: flat})
	}
	return merged, leftRename, rightRename
}

func nullAwareRenamingProject(leftCols, rightCols []string, leftRename, rightRename map[string]string) func(zset.Row, bool, zset.Row, bool) zset.Row {
	outName := func(rename map[string]string, c string) string {
		if nn, ok := rename[c]; ok {
			return nn
		}
		return c
	}
	return func(l zset.Row, lok bool, r zset.Row, rok bool) zset.Row {
		b := zset.RowBuilder{}
		if lok {
			l.Each(func(c string, v zset.Value) bool { b.Add(outName(leftRename, c), v); return true })
		} else {
			for _, c := range leftCols {
				b.Add(outName(leftRename, c), zset.Null)
			}
		}
		if rok {
			r.Each(func(c string, v zset.Value) bool { b.Add(outName(rightRename, c), v); return true })
		} else {
			for _, c := range rightCols {
				b.Add(outName(rightRename, c), zset.Null)
			}
		}
		return b.Row()
	}
}

func wholeRowKey(r zset.Row) zset.RowKey {
	vals := make([]zset.Value, 0, r.Len())
	r.Each(func(_ string, v zset.Value) bool { vals = append(vals, v); return true })
	return zset.NewRowKey(vals...)
}

func defaultAlias(n sqlast.Node) string {
	if c, ok := n.(*sqlast.ColumnRef); ok {
		return c.Name
	}
	return n.String()
}

// nodeFinder is a sqlast.Visitor that reports whether any node in the
// tree satisfies match, used to decide whether a SELECT list needs the
// aggregate or window path.
type nodeFinder struct {
	match func(sqlast.Node) bool
	found bool
}

func (f *nodeFinder) Visit(n sqlast.Node) sqlast.Visitor {
	if f.match(n) {
		f.found = true
	}
	return f
}

func hasAggregate(items []sqlast.SelectItem) bool {
	f := &nodeFinder{match: func(n sqlast.Node) bool { _, ok := n.(*sqlast.AggExpr); return ok }}
	for _, it := range items {
		sqlast.Walk(f, it.Expr)
	}
	return f.found
}

func hasWindow(items []sqlast.SelectItem) bool {
	f := &nodeFinder{match: func(n sqlast.Node) bool { _, ok := n.(*sqlast.WindowExpr); return ok }}
	for _, it := range items {
		sqlast.Walk(f, it.Expr)
	}
	return f.found
}

func (b *builder) compileSelect(s *sqlast.Select) (circuit.Stream, []string, error) {
	for _, cte := range s.With {
		stream, cols, err := b.compileQuery(cte.Query)
		if err != nil {
			return circuit.Stream{}, nil, err
		}
		b.named[cte.Name] = boundStream{stream: stream, columns: cols}
	}

	cur, bd, err := b.compileFrom(s.From)
	if err != nil {
		return circuit.Stream{}, nil, err
	}

	if s.Where != nil {
		pred, err := eval.Compile(s.Where, bd.resolver())
		if err != nil {
			return circuit.Stream{}, nil, dbsperr.Errorf(s.Where, "WHERE: %v", err)
		}
		cur = b.circuit.AddStateless(b.name("filter"), []circuit.Stream{cur}, linear.Filter(pred, b.onEvalError("filter")).Step)
	}

	var outCols []string
	switch {
	case hasAggregate(s.Items) || len(s.GroupBy) > 0:
		cur, outCols, err = b.compileAggregate(s, cur, bd)
	case hasWindow(s.Items):
		cur, outCols, err = b.compileWindowSelect(s, cur, bd)
	default:
		cur, outCols, err = b.compileProject(s.Items, cur, bd)
	}
	if err != nil {
		return circuit.Stream{}, nil, err
	}

	if s.Qualify != nil {
		pred, err := eval.Compile(s.Qualify, eval.Identity)
		if err != nil {
			return circuit.Stream{}, nil, dbsperr.Errorf(s.Qualify, "QUALIFY: %v", err)
		}
		cur = b.circuit.AddStateless(b.name("qualify"), []circuit.Stream{cur}, linear.Filter(pred, b.onEvalError("qualify")).Step)
	}

	if s.Distinct {
		cur = b.circuit.AddStateful(b.name("distinct"), []circuit.Stream{cur}, setops.NewDistinct())
	}

	if len(s.OrderBy) > 0 || s.Limit != nil || s.Offset != nil {
		cur, err = b.compileOrderLimit(s, cur, outCols)
		if err != nil {
			return circuit.Stream{}, nil, err
		}
	}

	return cur, outCols, nil
}

func (b *builder) compileFrom(f sqlast.From) (circuit.Stream, *binder, error) {
	switch n := f.(type) {
	case *sqlast.TableRef:
		return b.compileTableRef(n)
	case *sqlast.DerivedTable:
		return b.compileDerivedTable(n)
	case *sqlast.JoinClause:
		return b.compileJoin(n)
	default:
		return circuit.Stream{}, nil, dbsperr.Errorf(f, "unsupported FROM term %T", f)
	}
}

func (b *builder) compileTableRef(t *sqlast.TableRef) (circuit.Stream, *binder, error) {
	alias := t.Bind()
	if bound, ok := b.named[t.Name]; ok {
		return bound.stream, newBinderFromSchema(alias, bound.columns), nil
	}
	cols, ok := b.schemas[t.Name]
	if !ok {
		return circuit.Stream{}, nil, dbsperr.Errorf(t, "unknown table %q", t.Name)
	}
	s := b.circuit.DeclareInput(t.Name, wholeRowKey)
	return s, newBinderFromSchema(alias, cols), nil
}

func (b *builder) compileDerivedTable(d *sqlast.DerivedTable) (circuit.Stream, *binder, error) {
	s, cols, err := b.compileQuery(d.Query)
	if err != nil {
		return circuit.Stream{}, nil, err
	}
	return s, newBinderFromSchema(d.Alias, cols), nil
}

func (b *builder) compileJoin(j *sqlast.JoinClause) (circuit.Stream, *binder, error) {
	ls, lb, err := b.compileFrom(j.Left)
	if err != nil {
		return circuit.Stream{}, nil, err
	}
	rs, rb, err := b.compileFrom(j.Right)
	if err != nil {
		return circuit.Stream{}, nil, err
	}

	merged, leftRename, rightRename := mergeJoin(lb, rb)

	cfg := join.Config{
		Kind:         j.Kind,
		LeftMode:     join.Materialized,
		RightMode:    join.Materialized,
		LeftCapacity: defaultJoinCapacity,
		RightCapacity: defaultJoinCapacity,
		Project:      nullAwareRenamingProject(lb.allFlat(), rb.allFlat(), leftRename, rightRename),
		OutKey:       wholeRowKey,
	}

	if j.On != nil {
		leftKeys, rightKeys, residual, err := b.splitOn(j.On, lb, rb)
		if err != nil {
			return circuit.Stream{}, nil, err
		}
		cfg.LeftJoinKey = leftKeys
		cfg.RightJoinKey = rightKeys
		if residual != nil {
			re, err := eval.Compile(residual, rawCombinedResolver(lb, rb))
			if err != nil {
				return circuit.Stream{}, nil, dbsperr.Errorf(residual, "ON: %v", err)
			}
			cfg.Residual = re
		}
	}

	op := join.New(cfg)
	s := b.circuit.AddStateful(b.name("join"), []circuit.Stream{ls, rs}, op)
	return s, merged, nil
}

// splitOn walks the ON clause's top-level AND tree, pulling out every
// conjunct of the form "column(left side) = column(right side)" as an
// equality key pair and folding everything else into a residual
// expression evaluated against the merged candidate row -- spec §4.3's
// two-phase narrow-then-filter join strategy.
func (b *builder) splitOn(on sqlast.Node, lb, rb *binder) (leftKeys, rightKeys []eval.Expr, residual sqlast.Node, err error) {
	var conjuncts []sqlast.Node
	flattenAnd(on, &conjuncts)

	var residuals []sqlast.Node
	for _, cj := range conjuncts {
		be, ok := cj.(*sqlast.BinaryExpr)
		if ok && be.Op == sqlast.OpEq {
			if _, lok := asColumnIn(be.Left, lb); lok {
				if _, rok := asColumnIn(be.Right, rb); rok {
					le, err := eval.Compile(be.Left, lb.resolver())
					if err != nil {
						return nil, nil, nil, dbsperr.Errorf(be.Left, "ON: %v", err)
					}
					re, err := eval.Compile(be.Right, rb.resolver())
					if err != nil {
						return nil, nil, nil, dbsperr.Errorf(be.Right, "ON: %v", err)
					}
					leftKeys = append(leftKeys, le)
					rightKeys = append(rightKeys, re)
					continue
				}
			}
			if _, lok := asColumnIn(be.Right, lb); lok {
				if _, rok := asColumnIn(be.Left, rb); rok {
					le, err := eval.Compile(be.Right, lb.resolver())
					if err != nil {
						return nil, nil, nil, dbsperr.Errorf(be.Right, "ON: %v", err)
					}
					re, err := eval.Compile(be.Left, rb.resolver())
					if err != nil {
						return nil, nil, nil, dbsperr.Errorf(be.Left, "ON: %v", err)
					}
					leftKeys = append(leftKeys, le)
					rightKeys = append(rightKeys, re)
					continue
				}
			}
		}
		residuals = append(residuals, cj)
	}
	return leftKeys, rightKeys, andAll(residuals), nil
}

func flattenAnd(n sqlast.Node, out *[]sqlast.Node) {
	if be, ok := n.(*sqlast.BinaryExpr); ok && be.Op == sqlast.OpAnd {
		flattenAnd(be.Left, out)
		flattenAnd(be.Right, out)
		return
	}
	*out = append(*out, n)
}

func andAll(ns []sqlast.Node) sqlast.Node {
	if len(ns) == 0 {
		return nil
	}
	res := ns[0]
	for _, n := range ns[1:] {
		res = &sqlast.BinaryExpr{Op: sqlast.OpAnd, Left: res, Right: n}
	}
	return res
}

func asColumnIn(n sqlast.Node, bd *binder) (string, bool) {
	c, ok := n.(*sqlast.ColumnRef)
	if !ok {
		return "", false
	}
	for _, cb := range bd.cols {
		if c.Table != "" {
			if cb.alias == c.Table && cb.name == c.Name {
				return cb.flat, true
			}
		} else if cb.name == c.Name {
			return cb.flat, true
		}
	}
	return "", false
}

func (b *builder) compileProject(items []sqlast.SelectItem, in circuit.Stream, bd *binder) (circuit.Stream, []string, error) {
	exprs, cols, err := b.compileSelectItems(items, bd)
	if err != nil {
		return circuit.Stream{}, nil, err
	}
	fn := func(r zset.Row) zset.Row {
		out := zset.RowBuilder{}
		for i, e := range exprs {
			v := eval.EvalSafe(e, r, b.onEvalError("project"))
			out.Add(cols[i], v)
		}
		return out.Row()
	}
	s := b.circuit.AddStateless(b.name("project"), []circuit.Stream{in}, linear.Project(wholeRowKey, fn).Step)
	return s, cols, nil
}

func (b *builder) compileSelectItems(items []sqlast.SelectItem, bd *binder) ([]eval.Expr, []string, error) {
	var exprs []eval.Expr
	var cols []string
	for _, it := range items {
		switch e := it.Expr.(type) {
		case *sqlast.Star:
			for _, c := range bd.cols {
				pe, err := eval.Compile(&sqlast.ColumnRef{Table: c.alias, Name: c.name}, bd.resolver())
				if err != nil {
					return nil, nil, dbsperr.Errorf(it.Expr, "SELECT *: %v", err)
				}
				exprs = append(exprs, pe)
				cols = append(cols, c.flat)
			}
		case *sqlast.QualifiedStar:
			for _, c := range bd.cols {
				if c.alias != e.Table {
					continue
				}
				pe, err := eval.Compile(&sqlast.ColumnRef{Table: c.alias, Name: c.name}, bd.resolver())
				if err != nil {
					return nil, nil, dbsperr.Errorf(it.Expr, "SELECT %s.*: %v", e.Table, err)
				}
				exprs = append(exprs, pe)
				cols = append(cols, c.flat)
			}
		default:
			pe, err := eval.Compile(it.Expr, bd.resolver())
			if err != nil {
				return nil, nil, dbsperr.Errorf(it.Expr, "SELECT item: %v", err)
			}
			alias := it.Alias
			if alias == "" {
				alias = defaultAlias(it.Expr)
			}
			exprs = append(exprs, pe)
			cols = append(cols, alias)
		}
	}
	return exprs, cols, nil
}

func specAliases(specs []agg.Spec) []string {
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.Alias
	}
	return out
}

// compileAggregate builds a grouped-or-global aggregation node. The
// SELECT list's non-aggregate items are expected to be exactly the
// GROUP BY columns (already carried forward by the aggregator's
// GroupRow); an aggregate query mixing in other computed scalar
// columns is not yet supported -- see DESIGN.md.
func (b *builder) compileAggregate(s *sqlast.Select, in circuit.Stream, bd *binder) (circuit.Stream, []string, error) {
	groupKeyExprs := make([]eval.Expr, len(s.GroupBy))
	groupCols := make([]string, len(s.GroupBy))
	for i, g := range s.GroupBy {
		e, err := eval.Compile(g, bd.resolver())
		if err != nil {
			return circuit.Stream{}, nil, dbsperr.Errorf(g, "GROUP BY: %v", err)
		}
		groupKeyExprs[i] = e
		groupCols[i] = defaultAlias(g)
	}

	var specs []agg.Spec
	for _, it := range s.Items {
		ae, ok := it.Expr.(*sqlast.AggExpr)
		if !ok {
			grouped := false
			if _, isCol := it.Expr.(*sqlast.ColumnRef); isCol {
				for _, gc := range groupCols {
					grouped = grouped || gc == defaultAlias(it.Expr)
				}
			}
			if grouped {
				continue // a GROUP BY passthrough column, carried by GroupRow
			}
			return circuit.Stream{}, nil, dbsperr.Errorf(it.Expr, "aggregate query SELECT items must be GROUP BY columns or aggregate functions")
		}
		var argExpr eval.Expr
		if !ae.Star {
			var err error
			argExpr, err = eval.Compile(ae.Arg, bd.resolver())
			if err != nil {
				return circuit.Stream{}, nil, dbsperr.Errorf(ae.Arg, "aggregate argument: %v", err)
			}
		}
		alias := it.Alias
		if alias == "" {
			alias = ae.Op.String()
		}
		specs = append(specs, agg.Spec{Alias: alias, Op: ae.Op, Arg: argExpr})
	}

	var groupKeyFn zset.KeyFunc
	var groupRowFn func(zset.Row) zset.Row
	if len(groupKeyExprs) > 0 {
		groupKeyFn = func(r zset.Row) zset.RowKey {
			vals := make([]zset.Value, len(groupKeyExprs))
			for i, e := range groupKeyExprs {
				vals[i], _ = e(r)
			}
			return zset.NewRowKey(vals...)
		}
		groupRowFn = func(r zset.Row) zset.Row {
			rb := zset.RowBuilder{}
			for i, e := range groupKeyExprs {
				v, _ := e(r)
				rb.Add(groupCols[i], v)
			}
			return rb.Row()
		}
	}

	var having eval.Expr
	if s.Having != nil {
		// HAVING is evaluated over the post-aggregation row, whose
		// columns are exactly groupCols followed by the spec aliases;
		// Identity resolves a bare name to itself.
		var err error
		having, err = eval.Compile(s.Having, eval.Identity)
		if err != nil {
			return circuit.Stream{}, nil, dbsperr.Errorf(s.Having, "HAVING: %v", err)
		}
	}

	cfg := agg.Config{
		GroupKey: groupKeyFn,
		GroupRow: groupRowFn,
		Specs:    specs,
		Having:   having,
		OutKey:   wholeRowKey,
	}
	stream := b.circuit.AddStateful(b.name("agg"), []circuit.Stream{in}, agg.New(cfg))
	outCols := append(append([]string{}, groupCols...), specAliases(specs)...)
	return stream, outCols, nil
}

// compileWindowSelect handles a SELECT list combining window function
// items with a passthrough `*`. Mixing window items with other computed
// (non-star) scalar columns in the same SELECT is not yet supported --
// see DESIGN.md.
func (b *builder) compileWindowSelect(s *sqlast.Select, in circuit.Stream, bd *binder) (circuit.Stream, []string, error) {
	var winItems []sqlast.SelectItem
	for _, it := range s.Items {
		if _, ok := it.Expr.(*sqlast.WindowExpr); ok {
			winItems = append(winItems, it)
			continue
		}
		switch it.Expr.(type) {
		case *sqlast.Star, *sqlast.QualifiedStar:
		default:
			return circuit.Stream{}, nil, dbsperr.Errorf(it.Expr, "a SELECT list mixing window functions with computed columns is not yet supported; project those in an outer query instead")
		}
	}

	cur := in
	cols := bd.allFlat()
	resolver := bd.resolver()
	for _, it := range winItems {
		we := it.Expr.(*sqlast.WindowExpr)
		cfg, alias, err := b.windowConfig(we, it.Alias, resolver)
		if err != nil {
			return circuit.Stream{}, nil, err
		}
		cur = b.circuit.AddStateful(b.name("window"), []circuit.Stream{cur}, window.New(cfg))
		cols = append(cols, alias)
	}
	return cur, cols, nil
}

func (b *builder) windowConfig(we *sqlast.WindowExpr, alias string, resolver eval.Resolver) (window.Config, string, error) {
	var partKey zset.KeyFunc
	if len(we.PartitionBy) > 0 {
		exprs := make([]eval.Expr, len(we.PartitionBy))
		for i, p := range we.PartitionBy {
			e, err := eval.Compile(p, resolver)
			if err != nil {
				return window.Config{}, "", dbsperr.Errorf(p, "PARTITION BY: %v", err)
			}
			exprs[i] = e
		}
		partKey = func(r zset.Row) zset.RowKey {
			vals := make([]zset.Value, len(exprs))
			for i, e := range exprs {
				vals[i], _ = e(r)
			}
			return zset.NewRowKey(vals...)
		}
	}

	order := make([]window.OrderTerm, len(we.OrderBy))
	for i, o := range we.OrderBy {
		e, err := eval.Compile(o.Expr, resolver)
		if err != nil {
			return window.Config{}, "", dbsperr.Errorf(o.Expr, "ORDER BY: %v", err)
		}
		order[i] = window.OrderTerm{Expr: e, Desc: o.Desc}
	}

	var arg eval.Expr
	if len(we.Args) > 0 {
		var err error
		arg, err = eval.Compile(we.Args[0], resolver)
		if err != nil {
			return window.Config{}, "", dbsperr.Errorf(we.Args[0], "window argument: %v", err)
		}
	}

	offset := 1
	offsetArg := 1 // LAG/LEAD(expr, n)
	if we.Func == sqlast.WinNTile {
		offsetArg = 0 // NTILE(n)
	}
	if we.Func == sqlast.WinLag || we.Func == sqlast.WinLead || we.Func == sqlast.WinNTile {
		if len(we.Args) > offsetArg {
			if lit, ok := we.Args[offsetArg].(*sqlast.Literal); ok && lit.Kind == sqlast.LitInt {
				offset = int(lit.I)
			}
		}
	}

	if alias == "" {
		alias = b.name("win")
	}

	return window.Config{
		PartitionKey: partKey,
		Order:        order,
		Func:         we.Func,
		Arg:          arg,
		Frame:        we.Frame,
		Offset:       offset,
		Alias:        alias,
	}, alias, nil
}

func (b *builder) compileOrderLimit(s *sqlast.Select, in circuit.Stream, cols []string) (circuit.Stream, error) {
	order := make([]topk.OrderTerm, len(s.OrderBy))
	for i, o := range s.OrderBy {
		expr := o.Expr
		if ord, ok := expr.(*sqlast.Ordinal); ok {
			if ord.N < 1 || ord.N > len(cols) {
				return circuit.Stream{}, dbsperr.Errorf(expr, "ORDER BY ordinal %d out of range", ord.N)
			}
			expr = sqlast.Column(cols[ord.N-1])
		}
		e, err := eval.Compile(expr, eval.Identity)
		if err != nil {
			return circuit.Stream{}, dbsperr.Errorf(expr, "ORDER BY: %v", err)
		}
		order[i] = topk.OrderTerm{Expr: e, Desc: o.Desc}
	}

	limit := 1 << 30
	if s.Limit != nil {
		limit = *s.Limit
	}
	offset := 0
	if s.Offset != nil {
		offset = *s.Offset
	}

	cfg := topk.Config{Order: order, Limit: limit, Offset: offset, OutKey: wholeRowKey}
	return b.circuit.AddStateful(b.name("topk"), []circuit.Stream{in}, topk.New(cfg)), nil
}

func (b *builder) compileSetOp(n *sqlast.SetOp) (circuit.Stream, []string, error) {
	ls, lcols, err := b.compileQuery(n.Left)
	if err != nil {
		return circuit.Stream{}, nil, err
	}
	rs, _, err := b.compileQuery(n.Right)
	if err != nil {
		return circuit.Stream{}, nil, err
	}

	switch n.Kind {
	case sqlast.Union:
		s := b.circuit.AddStateless(b.name("union"), []circuit.Stream{ls, rs}, linear.Union().Step)
		if !n.All {
			s = b.circuit.AddStateful(b.name("distinct"), []circuit.Stream{s}, setops.NewDistinct())
		}
		return s, lcols, nil
	case sqlast.Intersect:
		s := b.circuit.AddStateful(b.name("intersect"), []circuit.Stream{ls, rs}, setops.New(setops.Intersect, n.All))
		return s, lcols, nil
	case sqlast.Except:
		s := b.circuit.AddStateful(b.name("except"), []circuit.Stream{ls, rs}, setops.New(setops.Except, n.All))
		return s, lcols, nil
	default:
		return circuit.Stream{}, nil, dbsperr.Errorf(n, "unsupported set operator")
	}
}
