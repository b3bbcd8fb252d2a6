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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flowsql/ivm/config"
	"github.com/flowsql/ivm/exec"
	"github.com/flowsql/ivm/zset"
)

// pushLine is one line of the NDJSON stream on stdin: which source to
// push into, and the row's columns as a flat JSON object.
type pushLine struct {
	Source string                 `json:"source"`
	Row    map[string]interface{} `json:"row"`
}

func newRunCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load a config and stream NDJSON row pushes from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(cmd.OutOrStdout(), cmd.InOrStdin(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the YAML config declaring sources and views")
	cmd.MarkFlagRequired("config")
	return cmd
}

func runEngine(out io.Writer, in io.Reader, configPath string) error {
	doc, err := config.Load(configPath)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	e, err := buildEngine(doc, func(viewName string, delta zset.Set) {
		printDelta(enc, viewName, delta)
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	loop := exec.New(256)
	go loop.Run(ctx)
	defer loop.Stop()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var pl pushLine
		if err := json.Unmarshal(line, &pl); err != nil {
			fmt.Fprintf(os.Stderr, "dbspctl: skipping malformed line: %v\n", err)
			continue
		}
		row := rowFromJSON(pl.Row)
		ok := loop.ScheduleAndWait(func() {
			if err := e.Push(pl.Source, row); err != nil {
				fmt.Fprintf(os.Stderr, "dbspctl: %v\n", err)
			}
		})
		if !ok {
			break
		}
	}
	return scanner.Err()
}

// deltaEntry is the JSON shape printed for every emitted (row, weight)
// pair of a view's delta.
type deltaEntry struct {
	View   string                 `json:"view"`
	Weight int64                  `json:"weight"`
	Row    map[string]interface{} `json:"row"`
}

func printDelta(enc *json.Encoder, viewName string, delta zset.Set) {
	delta.Entries(func(e zset.Entry) bool {
		enc.Encode(deltaEntry{View: viewName, Weight: e.Weight, Row: jsonFromRow(e.Row)})
		return true
	})
}

func rowFromJSON(m map[string]interface{}) zset.Row {
	b := zset.RowBuilder{}
	for col, v := range m {
		b.Add(col, valueFromJSON(v))
	}
	return b.Row()
}

func valueFromJSON(v interface{}) zset.Value {
	switch t := v.(type) {
	case nil:
		return zset.Null
	case bool:
		return zset.Bool(t)
	case string:
		return zset.Text(t)
	case float64:
		if t == float64(int64(t)) {
			return zset.Int(int64(t))
		}
		return zset.Float(t)
	default:
		return zset.Text(fmt.Sprintf("%v", t))
	}
}

func jsonFromRow(r zset.Row) map[string]interface{} {
	out := make(map[string]interface{}, r.Len())
	r.Each(func(col string, v zset.Value) bool {
		out[col] = jsonFromValue(v)
		return true
	})
	return out
}

func jsonFromValue(v zset.Value) interface{} {
	switch v.Kind() {
	case zset.KindNull:
		return nil
	case zset.KindInt:
		return v.Int()
	case zset.KindFloat:
		return v.Float()
	case zset.KindDecimal:
		f, _ := v.AsFloat()
		return f
	case zset.KindText:
		return v.Text()
	case zset.KindBool:
		return v.Bool()
	case zset.KindTimestamp:
		return v.Time().Format("2006-01-02T15:04:05.999999999Z07:00")
	default:
		return nil
	}
}
