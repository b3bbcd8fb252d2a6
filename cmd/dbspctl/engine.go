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

package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowsql/ivm/compile"
	"github.com/flowsql/ivm/config"
	"github.com/flowsql/ivm/registry"
	"github.com/flowsql/ivm/source"
	"github.com/flowsql/ivm/view"
	"github.com/flowsql/ivm/zset"
)

// engine wires a loaded config.Document into live source.Source and
// view.View objects, registered with a shared registry.Registry and
// driven by one registry.Coordinator.
type engine struct {
	sources map[string]*source.Source
	views   map[string]*view.View

	reg   *registry.Registry
	coord *registry.Coordinator

	onDelta func(viewName string, delta zset.Set)
}

func buildEngine(doc *config.Document, onDelta func(string, zset.Set)) (*engine, error) {
	e := &engine{
		sources: make(map[string]*source.Source),
		views:   make(map[string]*view.View),
		reg:     registry.New(prometheus.DefaultRegisterer),
		coord:   registry.NewCoordinator(prometheus.DefaultRegisterer),
		onDelta: onDelta,
	}

	for _, s := range doc.Sources {
		src, err := source.New(source.Config{
			Name:    s.Name,
			Key:     config.SourceKeyFunc(s),
			MaxRows: s.MaxRows,
		})
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", s.Name, err)
		}
		e.sources[s.Name] = src
		src.Subscribe(func(zset.Set) { e.coord.NotifyChange() })
		e.reg.Register(registry.Entry{
			Identity: src.ID(),
			Name:     src.Name(),
			Snapshot: func() registry.Stats {
				snap := src.Snapshot()
				return registry.Stats{Count: snap.Count, Ready: snap.Ready}
			},
		})
	}

	for _, v := range doc.Views {
		ups, err := e.upstreamsFor(v)
		if err != nil {
			return nil, err
		}
		query, err := v.Query()
		if err != nil {
			return nil, err
		}
		vv, err := view.New(view.Config{
			Name:      v.Name,
			Upstreams: ups,
			Build:     compile.NewBuilder(query),
			MaxRows:   v.MaxRows,
		})
		if err != nil {
			return nil, fmt.Errorf("view %q: %w", v.Name, err)
		}
		e.views[v.Name] = vv
		vv.Subscribe(func(d zset.Set) {
			e.coord.NotifyChange()
			if e.onDelta != nil {
				e.onDelta(vv.Name(), d)
			}
		})
		e.reg.Register(registry.Entry{
			Identity: vv.Identity(),
			Name:     vv.Name(),
			Upstreams: upstreamNames(ups),
			Snapshot: func() registry.Stats {
				return registry.Stats{Count: vv.Count(), Ready: vv.Ready()}
			},
		})
	}

	return e, nil
}

func (e *engine) upstreamsFor(v config.ViewSpec) ([]view.Upstream, error) {
	names := []string{v.From}
	if v.Join != nil {
		names = append(names, v.Join.Table)
	}
	ups := make([]view.Upstream, 0, len(names))
	seen := make(map[string]bool)
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		if src, ok := e.sources[n]; ok {
			ups = append(ups, src)
			continue
		}
		if vv, ok := e.views[n]; ok {
			ups = append(ups, vv)
			continue
		}
		return nil, fmt.Errorf("view %q references unknown upstream %q (declare it earlier in the config)", v.Name, n)
	}
	return ups, nil
}

func upstreamNames(ups []view.Upstream) []string {
	out := make([]string, len(ups))
	for i, u := range ups {
		out[i] = u.Name()
	}
	return out
}

// Push routes row into the named source.
func (e *engine) Push(sourceName string, row zset.Row) error {
	src, ok := e.sources[sourceName]
	if !ok {
		return fmt.Errorf("unknown source %q", sourceName)
	}
	src.Push([]zset.Row{row})
	return nil
}
