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

// Package dbsperr defines the closed error taxonomy of spec §7:
// configuration errors (fail construction), compile errors (a view
// stays not-ready), and runtime evaluation errors (logged, never
// thrown across a step boundary). CompileError carries the offending
// AST node the way teacher's plan/pir.errorf does, so a caller can
// print the node alongside the message.
package dbsperr

import (
	"fmt"
	"io"

	"github.com/flowsql/ivm/sqlast"
)

// ConfigError is raised at source/view construction time: an invalid
// source name, a missing key, an unknown join mode. The owning object
// is never created.
type ConfigError struct {
	Field string
	Err   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Err)
}

func Configf(field, format string, args ...any) error {
	return &ConfigError{Field: field, Err: fmt.Sprintf(format, args...)}
}

// CompileError is raised when the SQL AST references a non-existent
// table, an ambiguous column, or an unsupported construct. In carries
// the node the error pertains to, or nil for whole-query errors.
type CompileError struct {
	In  sqlast.Node
	Err string
}

func (e *CompileError) Error() string {
	if e.In == nil {
		return e.Err
	}
	return fmt.Sprintf("in %s: %s", e.In.String(), e.Err)
}

// WriteTo renders the error the way teacher's CompileError.WriteTo
// does: the offending node on its own line, then the message.
func (e *CompileError) WriteTo(dst io.Writer) (int, error) {
	if e.In == nil {
		return fmt.Fprintf(dst, "%s\n", e.Err)
	}
	return fmt.Fprintf(dst, "in expression:\n\t%s\n%s\n", e.In.String(), e.Err)
}

// Errorf builds a CompileError the way teacher's package-private
// errorf helper does, carrying the AST node for WriteTo to print.
func Errorf(n sqlast.Node, format string, args ...any) error {
	return &CompileError{In: n, Err: fmt.Sprintf(format, args...)}
}

// EvalError wraps a runtime evaluation failure (division by zero,
// regex compile failure, type coercion failure). Per spec §7 these
// never propagate across a step boundary: the caller substitutes
// null/zero and logs once per operator; EvalError exists so that
// logging call can describe what happened.
type EvalError struct {
	Op  string
	Err error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("eval error in %s: %s", e.Op, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

func Evalf(op string, err error) error {
	return &EvalError{Op: op, Err: err}
}
