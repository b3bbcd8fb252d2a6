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

package registry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterAndLookup(t *testing.T) {
	r := New(prometheus.NewRegistry())
	err := r.Register(Entry{Identity: "id-1", Name: "orders", Snapshot: func() Stats { return Stats{Count: 3, Ready: true} }})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e, ok := r.Lookup("id-1")
	if !ok {
		t.Fatalf("expected to find the registered entry")
	}
	if e.Snapshot().Count != 3 {
		t.Fatalf("expected snapshot count 3, got %d", e.Snapshot().Count)
	}
}

func TestRegisterRejectsDuplicateIdentity(t *testing.T) {
	r := New(prometheus.NewRegistry())
	entry := Entry{Identity: "dup", Name: "orders"}
	if err := r.Register(entry); err != nil {
		t.Fatalf("unexpected error on first register: %v", err)
	}
	if err := r.Register(entry); err == nil {
		t.Fatalf("expected an error registering a duplicate identity")
	}
}

func TestByNameFindsAcrossReload(t *testing.T) {
	r := New(prometheus.NewRegistry())
	r.Register(Entry{Identity: "old", Name: "orders"})
	r.Register(Entry{Identity: "new", Name: "orders"})
	if len(r.ByName("orders")) != 2 {
		t.Fatalf("expected both identities to be found by name")
	}
}

func TestUnregisterRemovesEntry(t *testing.T) {
	r := New(prometheus.NewRegistry())
	r.Register(Entry{Identity: "id-1", Name: "orders"})
	r.Unregister("id-1")
	if _, ok := r.Lookup("id-1"); ok {
		t.Fatalf("expected the entry to be gone after Unregister")
	}
}
