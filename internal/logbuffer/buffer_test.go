/*
Copyright (C) 2026 Dusan Mitrovic

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logbuffer

import (
	"testing"
	"time"
)

func TestBufferWrapsAtCapacity(t *testing.T) {
	buf := New(3)
	for i, msg := range []string{"a", "b", "c", "d"} {
		buf.Add(LogEntry{Timestamp: time.Now().Add(time.Duration(i) * time.Second), Message: msg})
	}

	all := buf.GetAll()
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	if all[0].Message != "b" || all[2].Message != "d" {
		t.Fatalf("unexpected order: %q .. %q", all[0].Message, all[2].Message)
	}
}

func TestQueryFilters(t *testing.T) {
	buf := New(10)
	buf.Add(LogEntry{Level: "info", Component: "broadcast", Message: "client connected"})
	buf.Add(LogEntry{Level: "error", Component: "encoder", Message: "process exited"})
	buf.Add(LogEntry{Level: "info", Component: "encoder", Message: "process started"})

	got := buf.Query(QueryParams{Component: "encoder"})
	if len(got) != 2 {
		t.Fatalf("expected 2 encoder entries, got %d", len(got))
	}

	got = buf.Query(QueryParams{Level: "error"})
	if len(got) != 1 || got[0].Message != "process exited" {
		t.Fatalf("unexpected error entries: %v", got)
	}

	got = buf.Query(QueryParams{Search: "CONNECTED"})
	if len(got) != 1 {
		t.Fatalf("expected case-insensitive search hit, got %d", len(got))
	}

	got = buf.Query(QueryParams{Component: "encoder", Descending: true, Limit: 1})
	if len(got) != 1 || got[0].Message != "process started" {
		t.Fatalf("unexpected descending result: %v", got)
	}
}

func TestWriterParsesZerologJSON(t *testing.T) {
	buf := New(10)
	w := NewWriter(buf, nil)

	line := []byte(`{"level":"warn","component":"livestream","message":"encoder restart","attempt":2}` + "\n")
	if _, err := w.Write(line); err != nil {
		t.Fatalf("write: %v", err)
	}

	all := buf.GetAll()
	if len(all) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(all))
	}
	entry := all[0]
	if entry.Level != "warn" || entry.Component != "livestream" || entry.Message != "encoder restart" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.Fields["attempt"] != float64(2) {
		t.Fatalf("expected attempt field, got %v", entry.Fields)
	}
}
