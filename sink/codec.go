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

// Package sink implements the ExternallyIndexed join storage seam
// (ops/join.PagedIndex): each bucket of rows is serialized, zstd-
// compressed, and held off the Go heap's live-object graph until
// probed, the way compr/compression.go wraps klauspost/compress for
// sneller's column pages -- applied here to a join bucket instead of a
// column chunk.
package sink

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/flowsql/ivm/zset"
)

// encodeBucket serializes a bucket's row map to a flat byte slice:
// a row count, then per row its RowKey text and its columns.
func encodeBucket(rows map[zset.RowKey]zset.Row) []byte {
	buf := make([]byte, 0, 256)
	buf = appendUvarint(buf, uint64(len(rows)))
	for k, row := range rows {
		buf = appendString(buf, k.String())
		buf = appendUvarint(buf, uint64(row.Len()))
		row.Each(func(col string, v zset.Value) bool {
			buf = appendString(buf, col)
			buf = appendValue(buf, v)
			return true
		})
	}
	return buf
}

func decodeBucket(buf []byte) (map[zset.RowKey]zset.Row, error) {
	n, buf, err := readUvarint(buf)
	if err != nil {
		return nil, err
	}
	out := make(map[zset.RowKey]zset.Row, n)
	for i := uint64(0); i < n; i++ {
		var keyText string
		keyText, buf, err = readString(buf)
		if err != nil {
			return nil, err
		}
		var ncols uint64
		ncols, buf, err = readUvarint(buf)
		if err != nil {
			return nil, err
		}
		cols := make([]string, ncols)
		vals := make([]zset.Value, ncols)
		for c := uint64(0); c < ncols; c++ {
			cols[c], buf, err = readString(buf)
			if err != nil {
				return nil, err
			}
			vals[c], buf, err = readValue(buf)
			if err != nil {
				return nil, err
			}
		}
		out[zset.KeyFromText(keyText)] = zset.NewRow(cols, vals)
	}
	return out, nil
}

const (
	tagNull byte = iota
	tagInt
	tagFloat
	tagDecimal
	tagText
	tagBool
	tagTimestamp
)

func appendValue(buf []byte, v zset.Value) []byte {
	switch v.Kind() {
	case zset.KindNull:
		return append(buf, tagNull)
	case zset.KindInt:
		buf = append(buf, tagInt)
		return binary.AppendVarint(buf, v.Int())
	case zset.KindFloat:
		buf = append(buf, tagFloat)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(v.Float()))
		return append(buf, b[:]...)
	case zset.KindDecimal:
		buf = append(buf, tagDecimal)
		return appendString(buf, v.Decimal().RatString())
	case zset.KindText:
		buf = append(buf, tagText)
		return appendString(buf, v.Text())
	case zset.KindBool:
		buf = append(buf, tagBool)
		if v.Bool() {
			return append(buf, 1)
		}
		return append(buf, 0)
	case zset.KindTimestamp:
		buf = append(buf, tagTimestamp)
		text, _ := v.Time().UTC().MarshalBinary()
		return appendBytes(buf, text)
	default:
		return append(buf, tagNull)
	}
}

func readValue(buf []byte) (zset.Value, []byte, error) {
	if len(buf) == 0 {
		return zset.Value{}, nil, fmt.Errorf("sink: truncated value")
	}
	tag := buf[0]
	buf = buf[1:]
	switch tag {
	case tagNull:
		return zset.Null, buf, nil
	case tagInt:
		i, n := binary.Varint(buf)
		if n <= 0 {
			return zset.Value{}, nil, fmt.Errorf("sink: bad int")
		}
		return zset.Int(i), buf[n:], nil
	case tagFloat:
		if len(buf) < 8 {
			return zset.Value{}, nil, fmt.Errorf("sink: truncated float")
		}
		bits := binary.BigEndian.Uint64(buf[:8])
		return zset.Float(math.Float64frombits(bits)), buf[8:], nil
	case tagDecimal:
		s, rest, err := readString(buf)
		if err != nil {
			return zset.Value{}, nil, err
		}
		r, ok := new(big.Rat).SetString(s)
		if !ok {
			return zset.Value{}, nil, fmt.Errorf("sink: bad decimal %q", s)
		}
		return zset.Decimal(r), rest, nil
	case tagText:
		s, rest, err := readString(buf)
		if err != nil {
			return zset.Value{}, nil, err
		}
		return zset.Text(s), rest, nil
	case tagBool:
		if len(buf) < 1 {
			return zset.Value{}, nil, fmt.Errorf("sink: truncated bool")
		}
		return zset.Bool(buf[0] != 0), buf[1:], nil
	case tagTimestamp:
		b, rest, err := readBytes(buf)
		if err != nil {
			return zset.Value{}, nil, err
		}
		var t time.Time
		if err := t.UnmarshalBinary(b); err != nil {
			return zset.Value{}, nil, err
		}
		return zset.Timestamp(t), rest, nil
	default:
		return zset.Value{}, nil, fmt.Errorf("sink: unknown value tag %d", tag)
	}
}

func appendUvarint(buf []byte, v uint64) []byte { return binary.AppendUvarint(buf, v) }

func readUvarint(buf []byte) (uint64, []byte, error) {
	v, n := binary.Uvarint(buf)
	if n <= 0 {
		return 0, nil, fmt.Errorf("sink: bad uvarint")
	}
	return v, buf[n:], nil
}

func appendString(buf []byte, s string) []byte { return appendBytes(buf, []byte(s)) }

func readString(buf []byte) (string, []byte, error) {
	b, rest, err := readBytes(buf)
	return string(b), rest, err
}

func appendBytes(buf []byte, b []byte) []byte {
	buf = appendUvarint(buf, uint64(len(b)))
	return append(buf, b...)
}

func readBytes(buf []byte) ([]byte, []byte, error) {
	n, rest, err := readUvarint(buf)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(rest)) < n {
		return nil, nil, fmt.Errorf("sink: truncated bytes")
	}
	return rest[:n], rest[n:], nil
}
