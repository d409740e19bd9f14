package memdb

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/kartikbazzad/bunbase/bunstore/engine"
)

type indexEntry struct {
	key  any
	docs []engine.Document
}

// Index maps the values of one field to the documents holding them. Entries
// are kept sorted by compareThings so equality and range lookups are binary
// searches. Array values are indexed once per distinct element.
type Index struct {
	spec    engine.IndexSpec
	entries []indexEntry
}

// NewIndex returns an empty index for spec.
func NewIndex(spec engine.IndexSpec) *Index {
	return &Index{spec: spec}
}

// Spec returns the index definition.
func (ix *Index) Spec() engine.IndexSpec { return ix.spec }

func sameDoc(a, b engine.Document) bool {
	if ida, idb := a.ID(), b.ID(); ida != "" || idb != "" {
		return ida == idb
	}
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

// keysFor returns the keys doc is indexed under. ok is false when a sparse
// index skips the document.
func (ix *Index) keysFor(doc engine.Document) (keys []any, ok bool) {
	v, exists := getDotValue(map[string]any(doc), ix.spec.FieldName)
	if !exists && ix.spec.Sparse {
		return nil, false
	}
	arr, isArr := asArray(v)
	if !isArr {
		return []any{v}, true
	}
	for _, e := range arr {
		dup := false
		for _, k := range keys {
			if compareThings(k, e) == 0 {
				dup = true
				break
			}
		}
		if !dup {
			keys = append(keys, e)
		}
	}
	return keys, true
}

func (ix *Index) search(key any) (int, bool) {
	i := sort.Search(len(ix.entries), func(i int) bool {
		return compareThings(ix.entries[i].key, key) >= 0
	})
	return i, i < len(ix.entries) && compareThings(ix.entries[i].key, key) == 0
}

func (ix *Index) insertKey(key any, doc engine.Document) error {
	i, found := ix.search(key)
	if found {
		if ix.spec.Unique {
			return &engine.Error{
				Kind:    engine.KindUniqueViolated,
				Field:   ix.spec.FieldName,
				Key:     key,
				Message: "can't insert key " + describeKey(key) + ", it violates the unique constraint",
			}
		}
		ix.entries[i].docs = append(ix.entries[i].docs, doc)
		return nil
	}
	ix.entries = append(ix.entries, indexEntry{})
	copy(ix.entries[i+1:], ix.entries[i:])
	ix.entries[i] = indexEntry{key: key, docs: []engine.Document{doc}}
	return nil
}

func (ix *Index) removeKey(key any, doc engine.Document) {
	i, found := ix.search(key)
	if !found {
		return
	}
	docs := ix.entries[i].docs
	for j, d := range docs {
		if sameDoc(d, doc) {
			docs = append(docs[:j], docs[j+1:]...)
			break
		}
	}
	if len(docs) == 0 {
		ix.entries = append(ix.entries[:i], ix.entries[i+1:]...)
		return
	}
	ix.entries[i].docs = docs
}

// Insert indexes doc. On a unique violation nothing is left inserted.
func (ix *Index) Insert(doc engine.Document) error {
	keys, ok := ix.keysFor(doc)
	if !ok {
		return nil
	}
	for i, k := range keys {
		if err := ix.insertKey(k, doc); err != nil {
			for _, done := range keys[:i] {
				ix.removeKey(done, doc)
			}
			return err
		}
	}
	return nil
}

// InsertMany indexes docs; either all of them are indexed or none is.
func (ix *Index) InsertMany(docs []engine.Document) error {
	for i, d := range docs {
		if err := ix.Insert(d); err != nil {
			for _, done := range docs[:i] {
				ix.Remove(done)
			}
			return err
		}
	}
	return nil
}

// Remove drops doc from the index. Absent documents are ignored.
func (ix *Index) Remove(doc engine.Document) {
	keys, ok := ix.keysFor(doc)
	if !ok {
		return
	}
	for _, k := range keys {
		ix.removeKey(k, doc)
	}
}

// Update replaces old with updated, restoring old if updated cannot be
// indexed.
func (ix *Index) Update(old, updated engine.Document) error {
	ix.Remove(old)
	if err := ix.Insert(updated); err != nil {
		_ = ix.Insert(old)
		return err
	}
	return nil
}

// UpdateMany applies every pair or none of them.
func (ix *Index) UpdateMany(pairs []engine.UpdatePair) error {
	for _, p := range pairs {
		ix.Remove(p.Old)
	}
	for i, p := range pairs {
		if err := ix.Insert(p.New); err != nil {
			for _, done := range pairs[:i] {
				ix.Remove(done.New)
			}
			for _, q := range pairs {
				_ = ix.Insert(q.Old)
			}
			return err
		}
	}
	return nil
}

// RevertUpdate undoes UpdateMany(pairs) after a later index failed.
func (ix *Index) RevertUpdate(pairs []engine.UpdatePair) {
	reverted := make([]engine.UpdatePair, len(pairs))
	for i, p := range pairs {
		reverted[i] = engine.UpdatePair{Old: p.New, New: p.Old}
	}
	_ = ix.UpdateMany(reverted)
}

// Reset empties the index and indexes docs.
func (ix *Index) Reset(docs []engine.Document) error {
	ix.entries = nil
	return ix.InsertMany(docs)
}

// GetMatching returns the documents indexed under value, or under any
// element of value when it is an array.
func (ix *Index) GetMatching(value any) []engine.Document {
	arr, isArr := asArray(value)
	if !isArr {
		if i, found := ix.search(value); found {
			return append([]engine.Document(nil), ix.entries[i].docs...)
		}
		return nil
	}
	seen := make(map[string]bool)
	var out []engine.Document
	for _, v := range arr {
		i, found := ix.search(v)
		if !found {
			continue
		}
		for _, d := range ix.entries[i].docs {
			if id := d.ID(); id != "" {
				if seen[id] {
					continue
				}
				seen[id] = true
			}
			out = append(out, d)
		}
	}
	return out
}

// GetBetweenBounds returns documents whose key satisfies every bound in
// bounds ($lt, $lte, $gt, $gte).
func (ix *Index) GetBetweenBounds(bounds map[string]any) []engine.Document {
	start := 0
	if v, ok := bounds[opGte]; ok {
		start, _ = ix.search(v)
	}
	if v, ok := bounds[opGt]; ok {
		i, found := ix.search(v)
		if found {
			i++
		}
		if i > start {
			start = i
		}
	}
	// An array document sits under each of its keys; report it once.
	seen := make(map[string]bool)
	var out []engine.Document
	for _, e := range ix.entries[start:] {
		if v, ok := bounds[opLt]; ok && compareThings(e.key, v) >= 0 {
			break
		}
		if v, ok := bounds[opLte]; ok && compareThings(e.key, v) > 0 {
			break
		}
		for _, d := range e.docs {
			if id := d.ID(); id != "" {
				if seen[id] {
					continue
				}
				seen[id] = true
			}
			out = append(out, d)
		}
	}
	return out
}

// GetAll returns every indexed document in key order.
func (ix *Index) GetAll() []engine.Document {
	var out []engine.Document
	for _, e := range ix.entries {
		out = append(out, e.docs...)
	}
	return out
}

// Len is the number of distinct keys.
func (ix *Index) Len() int { return len(ix.entries) }

func describeKey(key any) string {
	switch k := key.(type) {
	case string:
		return "\"" + k + "\""
	case nil:
		return "null"
	}
	return fmt.Sprintf("%v", key)
}
