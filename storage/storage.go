// Package storage persists datastore contents.
//
// Backends store a log of records: document versions, deletion markers and
// index definition changes. Load replays the log into the latest state and
// Compact replaces the log with that state.
package storage

import (
	"github.com/kartikbazzad/bunbase/bunstore/engine"
)

// Record is one persisted change. Exactly one field is set.
type Record struct {
	Doc          engine.Document
	DeletedID    string
	IndexCreated *engine.IndexSpec
	IndexRemoved string
}

// DocRecord persists the current version of doc.
func DocRecord(doc engine.Document) Record { return Record{Doc: doc} }

// DeleteRecord marks the document with id as removed.
func DeleteRecord(id string) Record { return Record{DeletedID: id} }

// IndexCreatedRecord persists an index definition.
func IndexCreatedRecord(spec engine.IndexSpec) Record { return Record{IndexCreated: &spec} }

// IndexRemovedRecord drops an index definition.
func IndexRemovedRecord(field string) Record { return Record{IndexRemoved: field} }

// Snapshot is the replayed state of a backend.
type Snapshot struct {
	Docs    []engine.Document
	Indexes []engine.IndexSpec
}

// Backend is a persistence target for one datastore.
type Backend interface {
	Load() (*Snapshot, error)
	Append(records ...Record) error
	Compact(docs []engine.Document, indexes []engine.IndexSpec) error
	Close() error
}

// replay folds records into a snapshot, keeping documents in first-seen order.
type replay struct {
	order   []string
	seen    map[string]bool
	docs    map[string]engine.Document
	indexes map[string]engine.IndexSpec
	idxOrd  []string
}

func newReplay() *replay {
	return &replay{
		seen:    make(map[string]bool),
		docs:    make(map[string]engine.Document),
		indexes: make(map[string]engine.IndexSpec),
	}
}

func (r *replay) apply(rec Record) {
	switch {
	case rec.Doc != nil:
		id := rec.Doc.ID()
		if !r.seen[id] {
			r.seen[id] = true
			r.order = append(r.order, id)
		}
		r.docs[id] = rec.Doc
	case rec.DeletedID != "":
		delete(r.docs, rec.DeletedID)
	case rec.IndexCreated != nil:
		if _, ok := r.indexes[rec.IndexCreated.FieldName]; !ok {
			r.idxOrd = append(r.idxOrd, rec.IndexCreated.FieldName)
		}
		r.indexes[rec.IndexCreated.FieldName] = *rec.IndexCreated
	case rec.IndexRemoved != "":
		delete(r.indexes, rec.IndexRemoved)
	}
}

func (r *replay) snapshot() *Snapshot {
	snap := &Snapshot{}
	for _, id := range r.order {
		if d, ok := r.docs[id]; ok {
			snap.Docs = append(snap.Docs, d)
		}
	}
	for _, f := range r.idxOrd {
		if spec, ok := r.indexes[f]; ok {
			snap.Indexes = append(snap.Indexes, spec)
		}
	}
	return snap
}

func ioError(op string, err error) error {
	return &engine.Error{Kind: engine.KindIO, Message: op, Err: err}
}
