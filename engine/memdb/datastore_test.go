package memdb

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/kartikbazzad/bunbase/bunstore/engine"
)

type outcome struct {
	err     error
	results []any
}

// call runs op and waits for its completion callback.
func call(t *testing.T, op func(done engine.Callback)) outcome {
	t.Helper()
	ch := make(chan outcome, 1)
	op(func(err error, results ...any) { ch <- outcome{err, results} })
	select {
	case o := <-ch:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("operation did not complete")
	}
	return outcome{}
}

func mustCall(t *testing.T, op func(done engine.Callback)) []any {
	t.Helper()
	o := call(t, op)
	if o.err != nil {
		t.Fatalf("unexpected error: %v", o.err)
	}
	return o.results
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id%03d", n)
	}
}

func newMemory(t *testing.T, opts Options) *Datastore {
	t.Helper()
	opts.InMemoryOnly = true
	if opts.IDGenerator == nil {
		opts.IDGenerator = sequentialIDs()
	}
	ds, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { ds.Close() })
	return ds
}

func insertAll(t *testing.T, ds *Datastore, docs ...engine.Document) {
	t.Helper()
	for _, d := range docs {
		mustCall(t, func(done engine.Callback) { ds.Insert(d, done) })
	}
}

func find(t *testing.T, c engine.CursorHandle) []engine.Document {
	t.Helper()
	res := mustCall(t, c.Exec)
	return res[0].([]engine.Document)
}

func TestDatastore_InsertGeneratesID(t *testing.T) {
	ds := newMemory(t, Options{})
	input := engine.Document{"a": 1}
	res := mustCall(t, func(done engine.Callback) { ds.Insert(input, done) })
	if len(res) != 1 {
		t.Fatalf("Insert delivered %d results, want 1", len(res))
	}
	doc := res[0].(engine.Document)
	if doc.ID() != "id001" {
		t.Fatalf("_id = %q, want id001", doc.ID())
	}
	if _, ok := input["_id"]; ok {
		t.Fatal("Insert mutated the caller's document")
	}

	doc["a"] = 2
	if got := ds.GetAllData(); got[0]["a"] != 1 {
		t.Fatal("result shares state with the resident document")
	}
}

func TestDatastore_InsertRejects(t *testing.T) {
	ds := newMemory(t, Options{})
	insertAll(t, ds, engine.Document{"_id": "k"})

	cases := map[string]struct {
		doc  engine.Document
		want error
	}{
		"duplicate id":  {engine.Document{"_id": "k"}, engine.ErrUniqueViolated},
		"dollar field":  {engine.Document{"$x": 1}, engine.ErrInvalidField},
		"dotted field":  {engine.Document{"a.b": 1}, engine.ErrInvalidField},
		"non string id": {engine.Document{"_id": 3}, engine.ErrInvalidField},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			o := call(t, func(done engine.Callback) { ds.Insert(tc.doc, done) })
			if !errors.Is(o.err, tc.want) {
				t.Fatalf("got %v, want %v", o.err, tc.want)
			}
		})
	}
	if n := len(ds.GetAllData()); n != 1 {
		t.Fatalf("rejected inserts left %d documents, want 1", n)
	}
}

func TestDatastore_InsertManyAllOrNothing(t *testing.T) {
	ds := newMemory(t, Options{})
	mustCall(t, func(done engine.Callback) {
		ds.EnsureIndex(engine.IndexSpec{FieldName: "email", Unique: true}, done)
	})

	o := call(t, func(done engine.Callback) {
		ds.InsertMany([]engine.Document{{"email": "a"}, {"email": "b"}, {"email": "a"}}, done)
	})
	if !errors.Is(o.err, engine.ErrUniqueViolated) {
		t.Fatalf("got %v, want ErrUniqueViolated", o.err)
	}
	if n := len(ds.GetAllData()); n != 0 {
		t.Fatalf("failed batch left %d documents", n)
	}

	res := mustCall(t, func(done engine.Callback) {
		ds.InsertMany([]engine.Document{{"email": "a"}, {"email": "b"}}, done)
	})
	if docs := res[0].([]engine.Document); len(docs) != 2 {
		t.Fatalf("InsertMany delivered %d documents, want 2", len(docs))
	}
}

func TestDatastore_FindCursor(t *testing.T) {
	ds := newMemory(t, Options{})
	insertAll(t, ds,
		engine.Document{"_id": "a", "n": 3, "g": "x"},
		engine.Document{"_id": "b", "n": 1, "g": "y"},
		engine.Document{"_id": "c", "n": 2, "g": "x"},
		engine.Document{"_id": "d", "n": 2, "g": "y"},
	)

	base := ds.Find(engine.Query{}, nil)
	sorted := base.Sort(engine.Sort{{Field: "n", Order: 1}, {Field: "g", Order: -1}})
	got := find(t, sorted)
	var order []string
	for _, d := range got {
		order = append(order, d.ID())
	}
	if want := []string{"b", "d", "c", "a"}; !reflect.DeepEqual(order, want) {
		t.Fatalf("sorted order = %v, want %v", order, want)
	}

	page := find(t, sorted.Skip(1).Limit(2))
	if len(page) != 2 || page[0].ID() != "d" || page[1].ID() != "c" {
		t.Fatalf("skip/limit page = %v", page)
	}

	if n := len(find(t, base)); n != 4 {
		t.Fatalf("transformations changed the base cursor: %d results", n)
	}

	if n := len(find(t, ds.Find(engine.Query{"g": "x"}, nil).Skip(5))); n != 0 {
		t.Fatalf("skip past the end returned %d results", n)
	}
}

func TestDatastore_Projection(t *testing.T) {
	ds := newMemory(t, Options{})
	insertAll(t, ds, engine.Document{"_id": "a", "x": 1, "y": 2, "sub": map[string]any{"z": 3, "w": 4}})

	cases := []struct {
		name string
		p    engine.Projection
		want engine.Document
	}{
		{"keep", engine.Projection{"x": 1}, engine.Document{"_id": "a", "x": 1}},
		{"keep without id", engine.Projection{"x": 1, "_id": 0}, engine.Document{"x": 1}},
		{"keep nested", engine.Projection{"sub.z": 1}, engine.Document{"_id": "a", "sub": map[string]any{"z": 3}}},
		{"omit", engine.Projection{"x": 0, "sub": 0}, engine.Document{"_id": "a", "y": 2}},
		{"omit id only", engine.Projection{"_id": 0, "x": 0, "y": 0, "sub": 0}, engine.Document{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := find(t, ds.Find(engine.Query{}, tc.p))
			if len(got) != 1 || !reflect.DeepEqual(got[0], tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}

	o := call(t, ds.Find(engine.Query{}, engine.Projection{"x": 1, "y": 0}).Exec)
	if !errors.Is(o.err, engine.ErrInvalidCursor) {
		t.Fatalf("mixed projection: got %v, want ErrInvalidCursor", o.err)
	}
}

func TestDatastore_NegativeWindow(t *testing.T) {
	ds := newMemory(t, Options{})
	for _, c := range []engine.CursorHandle{
		ds.Find(engine.Query{}, nil).Skip(-1),
		ds.Find(engine.Query{}, nil).Limit(-1),
	} {
		if o := call(t, c.Exec); !errors.Is(o.err, engine.ErrInvalidCursor) {
			t.Fatalf("got %v, want ErrInvalidCursor", o.err)
		}
	}
}

func TestDatastore_FindOneAndCount(t *testing.T) {
	ds := newMemory(t, Options{})
	insertAll(t, ds, engine.Document{"k": 1}, engine.Document{"k": 2}, engine.Document{"k": 2})

	res := mustCall(t, ds.Count(engine.Query{"k": 2}).Exec)
	if res[0] != 2 {
		t.Fatalf("Count = %v, want 2", res[0])
	}

	res = mustCall(t, func(done engine.Callback) { ds.FindOne(engine.Query{"k": 1}, engine.Projection{"_id": 0}, done) })
	if doc := res[0].(engine.Document); !reflect.DeepEqual(doc, engine.Document{"k": 1}) {
		t.Fatalf("FindOne = %v", doc)
	}

	res = mustCall(t, func(done engine.Callback) { ds.FindOne(engine.Query{"k": 9}, nil, done) })
	if doc := res[0].(engine.Document); doc != nil {
		t.Fatalf("FindOne without match = %v, want nil", doc)
	}
}

func TestDatastore_Update(t *testing.T) {
	ds := newMemory(t, Options{})
	insertAll(t, ds,
		engine.Document{"_id": "a", "n": 1, "g": "x"},
		engine.Document{"_id": "b", "n": 2, "g": "x"},
		engine.Document{"_id": "c", "n": 3, "g": "y"},
	)

	res := mustCall(t, func(done engine.Callback) {
		ds.Update(engine.Query{"g": "x"}, engine.Document{"$inc": map[string]any{"n": 10}}, engine.UpdateOptions{}, done)
	})
	if !reflect.DeepEqual(res, []any{1}) {
		t.Fatalf("single update results = %v, want [1]", res)
	}

	res = mustCall(t, func(done engine.Callback) {
		ds.Update(engine.Query{"g": "x"}, engine.Document{"$set": map[string]any{"m": true}},
			engine.UpdateOptions{Multi: true, ReturnUpdatedDocs: true}, done)
	})
	if res[0] != 2 || len(res[1].([]engine.Document)) != 2 {
		t.Fatalf("multi update results = %v", res)
	}

	res = mustCall(t, func(done engine.Callback) {
		ds.Update(engine.Query{"_id": "c"}, engine.Document{"n": 30}, engine.UpdateOptions{ReturnUpdatedDocs: true}, done)
	})
	if doc := res[1].(engine.Document); !reflect.DeepEqual(doc, engine.Document{"_id": "c", "n": 30}) {
		t.Fatalf("replacement = %v", doc)
	}

	res = mustCall(t, func(done engine.Callback) {
		ds.Update(engine.Query{"g": "none"}, engine.Document{"$set": map[string]any{"z": 1}}, engine.UpdateOptions{}, done)
	})
	if res[0] != 0 {
		t.Fatalf("update without match affected %v", res[0])
	}
}

func TestDatastore_Upsert(t *testing.T) {
	ds := newMemory(t, Options{})

	res := mustCall(t, func(done engine.Callback) {
		ds.Update(engine.Query{"name": "ada", "age": engine.Query{"$gt": 1}},
			engine.Document{"$set": map[string]any{"lang": "en"}}, engine.UpdateOptions{Upsert: true}, done)
	})
	if len(res) != 3 || res[0] != 1 || res[2] != true {
		t.Fatalf("upsert results = %v", res)
	}
	doc := res[1].(engine.Document)
	if doc["name"] != "ada" || doc["lang"] != "en" || doc.ID() == "" {
		t.Fatalf("upserted document = %v", doc)
	}

	res = mustCall(t, func(done engine.Callback) {
		ds.Update(engine.Query{"name": "bob"}, engine.Document{"name": "bob", "plain": true}, engine.UpdateOptions{Upsert: true}, done)
	})
	if doc := res[1].(engine.Document); doc["plain"] != true {
		t.Fatalf("plain upsert = %v", doc)
	}

	res = mustCall(t, func(done engine.Callback) {
		ds.Update(engine.Query{"name": "bob"}, engine.Document{"$set": map[string]any{"plain": false}}, engine.UpdateOptions{Upsert: true}, done)
	})
	if len(res) != 1 || res[0] != 1 {
		t.Fatalf("upsert on existing document = %v, want [1]", res)
	}
}

func TestDatastore_UpdateUniqueViolationLeavesState(t *testing.T) {
	ds := newMemory(t, Options{})
	mustCall(t, func(done engine.Callback) { ds.EnsureIndex(engine.IndexSpec{FieldName: "u", Unique: true}, done) })
	insertAll(t, ds, engine.Document{"_id": "a", "u": 1}, engine.Document{"_id": "b", "u": 2})

	o := call(t, func(done engine.Callback) {
		ds.Update(engine.Query{}, engine.Document{"$set": map[string]any{"u": 5}}, engine.UpdateOptions{Multi: true}, done)
	})
	if !errors.Is(o.err, engine.ErrUniqueViolated) {
		t.Fatalf("got %v, want ErrUniqueViolated", o.err)
	}
	if got := ids(ds.GetCandidates(engine.Query{"u": 1})); !got["a"] {
		t.Fatalf("index lost the original value: %v", got)
	}
}

func TestDatastore_Remove(t *testing.T) {
	ds := newMemory(t, Options{})
	insertAll(t, ds, engine.Document{"k": 1}, engine.Document{"k": 1}, engine.Document{"k": 2})

	res := mustCall(t, func(done engine.Callback) { ds.Remove(engine.Query{"k": 1}, engine.RemoveOptions{}, done) })
	if res[0] != 1 {
		t.Fatalf("single remove = %v", res[0])
	}
	res = mustCall(t, func(done engine.Callback) { ds.Remove(engine.Query{}, engine.RemoveOptions{Multi: true}, done) })
	if res[0] != 2 {
		t.Fatalf("multi remove = %v", res[0])
	}
	if n := len(ds.GetAllData()); n != 0 {
		t.Fatalf("%d documents left", n)
	}
}

func TestDatastore_Indexes(t *testing.T) {
	ds := newMemory(t, Options{})
	insertAll(t, ds, engine.Document{"u": 1}, engine.Document{"u": 1})

	o := call(t, func(done engine.Callback) { ds.EnsureIndex(engine.IndexSpec{FieldName: "u", Unique: true}, done) })
	if !errors.Is(o.err, engine.ErrUniqueViolated) {
		t.Fatalf("got %v, want ErrUniqueViolated", o.err)
	}
	if len(ds.Indexes()) != 1 {
		t.Fatalf("failed index was kept: %v", ds.Indexes())
	}

	if o := call(t, func(done engine.Callback) { ds.EnsureIndex(engine.IndexSpec{}, done) }); !errors.Is(o.err, engine.ErrInvalidField) {
		t.Fatalf("index without field: got %v", o.err)
	}

	spec := engine.IndexSpec{FieldName: "u"}
	mustCall(t, func(done engine.Callback) { ds.EnsureIndex(spec, done) })
	mustCall(t, func(done engine.Callback) { ds.EnsureIndex(spec, done) })
	if len(ds.Indexes()) != 2 {
		t.Fatalf("EnsureIndex is not idempotent: %v", ds.Indexes())
	}

	mustCall(t, func(done engine.Callback) { ds.RemoveIndex("u", done) })
	mustCall(t, func(done engine.Callback) { ds.RemoveIndex("u", done) })
	if o := call(t, func(done engine.Callback) { ds.RemoveIndex("_id", done) }); o.err == nil {
		t.Fatal("removing the _id index should fail")
	}
	if len(ds.Indexes()) != 1 {
		t.Fatalf("indexes after removal: %v", ds.Indexes())
	}
}

func TestDatastore_SyncIndexOperations(t *testing.T) {
	ds := newMemory(t, Options{})
	mustCall(t, func(done engine.Callback) { ds.EnsureIndex(engine.IndexSpec{FieldName: "u", Unique: true}, done) })

	a := engine.Document{"_id": "a", "u": 1}
	b := engine.Document{"_id": "b", "u": 2}
	if err := ds.AddToIndexes(a, b); err != nil {
		t.Fatalf("AddToIndexes: %v", err)
	}
	if err := ds.AddToIndexes(engine.Document{"_id": "c", "u": 1}); !errors.Is(err, engine.ErrUniqueViolated) {
		t.Fatalf("AddToIndexes duplicate: got %v", err)
	}
	if n := len(ds.GetAllData()); n != 2 {
		t.Fatalf("failed add left %d documents in the _id index, want 2", n)
	}

	err := ds.UpdateIndexes(engine.BatchUpdate{Pairs: []engine.UpdatePair{
		{Old: a, New: engine.Document{"_id": "a", "u": 3}},
		{Old: b, New: engine.Document{"_id": "b", "u": 3}},
	}})
	if !errors.Is(err, engine.ErrUniqueViolated) {
		t.Fatalf("UpdateIndexes: got %v", err)
	}
	if got := ids(ds.GetCandidates(engine.Query{"u": 2})); !got["b"] {
		t.Fatalf("batch update was not rolled back: %v", got)
	}

	if err := ds.UpdateIndexes(engine.SingleUpdate{Old: a, New: engine.Document{"_id": "a", "u": 7}}); err != nil {
		t.Fatalf("UpdateIndexes single: %v", err)
	}
	if got := ds.GetCandidates(engine.Query{"u": 7}); len(got) != 1 {
		t.Fatalf("GetCandidates(u=7) = %v", got)
	}

	ds.RemoveFromIndexes(b)
	if n := len(ds.GetAllData()); n != 1 {
		t.Fatalf("RemoveFromIndexes left %d documents", n)
	}

	if err := ds.ResetIndexes(engine.Document{"_id": "x", "u": 1}, engine.Document{"_id": "y", "u": 1}); err == nil {
		t.Fatal("ResetIndexes with a duplicate key should fail")
	}
	if n := len(ds.GetAllData()); n != 1 {
		t.Fatalf("failed reset changed the data: %d documents", n)
	}
}

func TestDatastore_GetCandidates(t *testing.T) {
	ds := newMemory(t, Options{})
	mustCall(t, func(done engine.Callback) { ds.EnsureIndex(engine.IndexSpec{FieldName: "n"}, done) })
	for i := 1; i <= 5; i++ {
		insertAll(t, ds, engine.Document{"n": i})
	}

	if got := ds.GetCandidates(engine.Query{"n": 3}); len(got) != 1 {
		t.Fatalf("equality candidates = %d, want 1", len(got))
	}
	if got := ds.GetCandidates(engine.Query{"n": engine.Query{"$in": []any{1, 5}}}); len(got) != 2 {
		t.Fatalf("$in candidates = %d, want 2", len(got))
	}
	if got := ds.GetCandidates(engine.Query{"n": engine.Query{"$gte": 4}}); len(got) != 2 {
		t.Fatalf("range candidates = %d, want 2", len(got))
	}
	if got := ds.GetCandidates(engine.Query{"other": 1}); len(got) != 5 {
		t.Fatalf("unindexed candidates = %d, want 5", len(got))
	}
}

func TestDatastore_Timestamps(t *testing.T) {
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ds := newMemory(t, Options{TimestampData: true, Now: func() time.Time { return clock }})

	res := mustCall(t, func(done engine.Callback) { ds.Insert(engine.Document{"a": 1}, done) })
	doc := res[0].(engine.Document)
	if doc["createdAt"] != clock || doc["updatedAt"] != clock {
		t.Fatalf("timestamps = %v / %v", doc["createdAt"], doc["updatedAt"])
	}

	clock = clock.Add(time.Hour)
	res = mustCall(t, func(done engine.Callback) {
		ds.Update(engine.Query{"_id": doc.ID()}, engine.Document{"b": 2}, engine.UpdateOptions{ReturnUpdatedDocs: true}, done)
	})
	updated := res[1].(engine.Document)
	if updated["createdAt"] != doc["createdAt"] || updated["updatedAt"] != clock {
		t.Fatalf("update timestamps = %v / %v", updated["createdAt"], updated["updatedAt"])
	}
}

func TestDatastore_Schema(t *testing.T) {
	ds := newMemory(t, Options{Schema: `{
		"type": "object",
		"required": ["name"],
		"properties": {"name": {"type": "string"}}
	}`})

	mustCall(t, func(done engine.Callback) { ds.Insert(engine.Document{"name": "ok"}, done) })
	o := call(t, func(done engine.Callback) { ds.Insert(engine.Document{"name": 4}, done) })
	if !errors.Is(o.err, engine.ErrSchemaViolation) {
		t.Fatalf("got %v, want ErrSchemaViolation", o.err)
	}
	o = call(t, func(done engine.Callback) {
		ds.Update(engine.Query{}, engine.Document{"$unset": map[string]any{"name": true}}, engine.UpdateOptions{}, done)
	})
	if !errors.Is(o.err, engine.ErrSchemaViolation) {
		t.Fatalf("update: got %v, want ErrSchemaViolation", o.err)
	}

	if _, err := New(Options{Schema: "{not json"}); !errors.Is(err, engine.ErrSchemaViolation) {
		t.Fatalf("invalid schema: got %v", err)
	}
}

func TestDatastore_Closed(t *testing.T) {
	ds, err := New(Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	insertAll(t, ds, engine.Document{"a": 1})
	if err := ds.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if o := call(t, func(done engine.Callback) { ds.Insert(engine.Document{}, done) }); !errors.Is(o.err, engine.ErrClosed) {
		t.Fatalf("got %v, want ErrClosed", o.err)
	}
}

func TestDatastore_UnknownBackend(t *testing.T) {
	_, err := New(Options{Filename: filepath.Join(t.TempDir(), "x.db"), Backend: "tape"})
	if err == nil {
		t.Fatal("expected an error for an unknown backend")
	}
}

func TestDatastore_ArrayFieldCandidates(t *testing.T) {
	ds := newMemory(t, Options{})
	mustCall(t, func(done engine.Callback) { ds.EnsureIndex(engine.IndexSpec{FieldName: "tags"}, done) })
	insertAll(t, ds,
		engine.Document{"_id": "x", "tags": []any{1, 2}},
		engine.Document{"_id": "y", "tags": []any{7}},
	)

	rng := engine.Query{"tags": map[string]any{"$gt": 0}}
	if got := find(t, ds.Find(rng, nil)); len(got) != 2 {
		t.Fatalf("range find returned %d documents, want 2", len(got))
	}
	if n := mustCall(t, ds.Count(rng).Exec)[0].(int); n != 2 {
		t.Fatalf("range count = %d, want 2", n)
	}
	if got := ds.GetCandidates(engine.Query{"tags": map[string]any{"$lte": 2}}); len(got) != 1 {
		t.Fatalf("range candidates = %v, want x once", got)
	}
	in := engine.Query{"tags": map[string]any{"$in": []any{1, 2}}}
	if got := find(t, ds.Find(in, nil)); len(got) != 1 || got[0].ID() != "x" {
		t.Fatalf("$in find = %v, want x once", got)
	}

	res := mustCall(t, func(done engine.Callback) {
		ds.Update(rng, engine.Document{"$set": map[string]any{"seen": true}}, engine.UpdateOptions{Multi: true}, done)
	})
	if n := res[0].(int); n != 2 {
		t.Fatalf("multi update affected %d, want 2", n)
	}

	res = mustCall(t, func(done engine.Callback) { ds.Remove(rng, engine.RemoveOptions{Multi: true}, done) })
	if n := res[0].(int); n != 2 {
		t.Fatalf("multi remove removed %d, want 2", n)
	}
	if n := len(ds.GetAllData()); n != 0 {
		t.Fatalf("%d documents left", n)
	}
}

func TestDatastore_BatchUpdateRequiresIndexedDocuments(t *testing.T) {
	ds := newMemory(t, Options{})
	mustCall(t, func(done engine.Callback) { ds.EnsureIndex(engine.IndexSpec{FieldName: "u"}, done) })
	a := engine.Document{"_id": "a", "u": 1}
	if err := ds.AddToIndexes(a); err != nil {
		t.Fatalf("AddToIndexes: %v", err)
	}

	err := ds.UpdateIndexes(engine.BatchUpdate{Pairs: []engine.UpdatePair{
		{Old: a, New: engine.Document{"_id": "a", "u": 5}},
		{Old: engine.Document{"_id": "ghost", "u": 9}, New: engine.Document{"_id": "ghost", "u": 6}},
	}})
	if !errors.Is(err, engine.ErrInvalidField) {
		t.Fatalf("UpdateIndexes: got %v, want ErrInvalidField", err)
	}
	if got := ds.GetCandidates(engine.Query{"u": 1}); len(got) != 1 || got[0].ID() != "a" {
		t.Fatalf("u index changed: GetCandidates(u=1) = %v", got)
	}
	for _, u := range []int{5, 6, 9} {
		if got := ds.GetCandidates(engine.Query{"u": u}); len(got) != 0 {
			t.Fatalf("GetCandidates(u=%d) = %v, want none", u, got)
		}
	}
	if all := ds.GetAllData(); len(all) != 1 || all[0]["u"] != 1 {
		t.Fatalf("_id index changed: %v", all)
	}
}
