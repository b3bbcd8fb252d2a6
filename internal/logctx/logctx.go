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

// Package logctx is a minimal, dependency-free logging wrapper around
// the standard library's log package. The teacher never imports a
// structured logging library anywhere in its tree, so this stays on
// stdlib log rather than reaching for zerolog/zap/logrus.
package logctx

import "log"

// Logger prefixes every line with a component name ("source:orders",
// "view:pending", "join:left", ...), matching how operators and
// sources/views are named throughout the registry.
type Logger struct {
	prefix string
}

func New(prefix string) Logger {
	return Logger{prefix: prefix}
}

func (l Logger) Warnf(format string, args ...any) {
	log.Printf("WARN ["+l.prefix+"] "+format, args...)
}

func (l Logger) Errorf(format string, args ...any) {
	log.Printf("ERROR ["+l.prefix+"] "+format, args...)
}

// Once wraps a Logger so ErrorfOnce logs only the first message for
// each key argument (callers pass the operator name as the key),
// per spec §7's "runtime evaluation error... logged once per
// operator" contract.
type Once struct {
	Logger
	seen map[string]bool
}

func NewOnce(prefix string) *Once {
	return &Once{Logger: New(prefix), seen: make(map[string]bool)}
}

func (o *Once) ErrorfOnce(key, format string, args ...any) {
	if o.seen[key] {
		return
	}
	o.seen[key] = true
	o.Errorf(format, args...)
}
