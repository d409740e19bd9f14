package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kartikbazzad/bunbase/bunstore/engine"
)

func TestCodec_Records(t *testing.T) {
	when := time.Date(2022, 1, 2, 3, 4, 5, 6_000_000, time.UTC)
	cases := []struct {
		name string
		rec  Record
		line string
	}{
		{"deleted", DeleteRecord("x"), `{"$$deleted":true,"_id":"x"}`},
		{"index created", IndexCreatedRecord(engine.IndexSpec{FieldName: "a", Unique: true}), `{"$$indexCreated":{"fieldName":"a","unique":true}}`},
		{"index removed", IndexRemovedRecord("a"), `{"$$indexRemoved":"a"}`},
		{"date", DocRecord(engine.Document{"_id": "d", "at": when}), `{"_id":"d","at":{"$$date":1641092645006}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			line, err := EncodeRecord(tc.rec)
			if err != nil {
				t.Fatalf("EncodeRecord: %v", err)
			}
			if string(line) != tc.line {
				t.Fatalf("encoded %s, want %s", line, tc.line)
			}
			if _, err := DecodeRecord(line); err != nil {
				t.Fatalf("DecodeRecord: %v", err)
			}
		})
	}

	rec, err := DecodeRecord([]byte(`{"_id":"d","at":{"$$date":1641092645006},"nested":[{"$$date":0}]}`))
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	if at, ok := rec.Doc["at"].(time.Time); !ok || !at.Equal(when) {
		t.Fatalf("at = %#v, want %v", rec.Doc["at"], when)
	}
	if _, ok := rec.Doc["nested"].([]any)[0].(time.Time); !ok {
		t.Fatal("dates inside arrays were not decoded")
	}
}

func TestCodec_RejectsMalformed(t *testing.T) {
	for _, line := range []string{
		`not json`,
		`{"a":1}`,
		`{"$$deleted":true}`,
		`{"$$indexCreated":{"unique":true}}`,
	} {
		if _, err := DecodeRecord([]byte(line)); err == nil {
			t.Errorf("DecodeRecord(%s) should fail", line)
		}
	}
	if _, err := EncodeRecord(Record{}); err == nil {
		t.Error("EncodeRecord of an empty record should fail")
	}
}

func TestDatafile_AppendLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "data.db")
	df := NewDatafile(path, -1, nil)

	snap, err := df.Load()
	if err != nil {
		t.Fatalf("Load on a missing file: %v", err)
	}
	if len(snap.Docs) != 0 {
		t.Fatalf("new datafile has %d documents", len(snap.Docs))
	}

	err = df.Append(
		DocRecord(engine.Document{"_id": "a", "v": 1}),
		DocRecord(engine.Document{"_id": "b", "v": 1}),
		DocRecord(engine.Document{"_id": "a", "v": 2}),
		DeleteRecord("b"),
		IndexCreatedRecord(engine.IndexSpec{FieldName: "v"}),
		IndexCreatedRecord(engine.IndexSpec{FieldName: "w"}),
		IndexRemovedRecord("w"),
	)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := df.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	snap, err = NewDatafile(path, -1, nil).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Docs) != 1 || snap.Docs[0]["v"] != 2.0 {
		t.Fatalf("replayed documents = %v", snap.Docs)
	}
	if len(snap.Indexes) != 1 || snap.Indexes[0].FieldName != "v" {
		t.Fatalf("replayed indexes = %v", snap.Indexes)
	}
}

func TestDatafile_CorruptThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	lines := []string{`{"_id":"a"}`, `{"_id":"b"}`, `{"_id":"c"}`, `{"_id":"d"}`, `garbage`}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := NewDatafile(path, 0.1, nil).Load(); !errors.Is(err, engine.ErrCorrupt) {
		t.Fatalf("20%% corrupt with a 10%% threshold: got %v", err)
	}
	snap, err := NewDatafile(path, 0.25, nil).Load()
	if err != nil {
		t.Fatalf("20%% corrupt with a 25%% threshold: %v", err)
	}
	if len(snap.Docs) != 4 {
		t.Fatalf("loaded %d documents, want 4", len(snap.Docs))
	}
}

func TestDatafile_NegativeThresholdDisablesCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	if err := os.WriteFile(path, []byte("garbage\n{\"_id\":\"a\"}\nmore garbage\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	snap, err := NewDatafile(path, -1, nil).Load()
	if err != nil {
		t.Fatalf("Load with the check disabled: %v", err)
	}
	if len(snap.Docs) != 1 {
		t.Fatalf("loaded %d documents, want 1", len(snap.Docs))
	}
}

func TestReplay_ReinsertAfterDelete(t *testing.T) {
	r := newReplay()
	for _, rec := range []Record{
		DocRecord(engine.Document{"_id": "a", "v": 1}),
		DocRecord(engine.Document{"_id": "b"}),
		DeleteRecord("a"),
		DocRecord(engine.Document{"_id": "a", "v": 2}),
		DeleteRecord("a"),
		DocRecord(engine.Document{"_id": "a", "v": 3}),
	} {
		r.apply(rec)
	}
	snap := r.snapshot()
	if len(snap.Docs) != 2 {
		t.Fatalf("snapshot holds %d documents, want 2: %v", len(snap.Docs), snap.Docs)
	}
	if snap.Docs[0].ID() != "a" || snap.Docs[0]["v"] != 3 || snap.Docs[1].ID() != "b" {
		t.Fatalf("snapshot = %v", snap.Docs)
	}
}

func TestDatafile_CompactAndRecover(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	df := NewDatafile(path, -1, nil)
	docs := []engine.Document{{"_id": "a"}, {"_id": "b"}}
	specs := []engine.IndexSpec{{FieldName: engine.IDField, Unique: true}, {FieldName: "x", Sparse: true}}
	if err := df.Compact(docs, specs); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if n := strings.Count(string(raw), "\n"); n != 3 {
		t.Fatalf("compacted file has %d lines, want 3", n)
	}
	if _, err := os.Stat(path + compactSuffix); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("compaction temporary left behind")
	}

	// A crash between removing the datafile and renaming the temporary.
	if err := os.Rename(path, path+compactSuffix); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	snap, err := NewDatafile(path, -1, nil).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Docs) != 2 {
		t.Fatalf("recovered %d documents, want 2", len(snap.Docs))
	}
}

func TestSQLite_AppendLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.sqlite")
	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	err = db.Append(
		DocRecord(engine.Document{"_id": "a", "v": 1}),
		DocRecord(engine.Document{"_id": "b", "v": 1}),
		DocRecord(engine.Document{"_id": "a", "v": 2}),
		DeleteRecord("b"),
		IndexCreatedRecord(engine.IndexSpec{FieldName: "v", Unique: true}),
	)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := db.Compact(nil, nil); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	db.Close()

	db, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	snap, err := db.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Docs) != 1 || snap.Docs[0]["v"] != 2.0 {
		t.Fatalf("documents = %v", snap.Docs)
	}
	if len(snap.Indexes) != 1 || !snap.Indexes[0].Unique {
		t.Fatalf("indexes = %v", snap.Indexes)
	}
}
