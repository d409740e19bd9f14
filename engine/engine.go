// Package engine defines the contract between the bunstore facade and the
// embedded storage engine underneath it.
//
// The engine owns matching, indexing and persistence. Everything crossing this
// boundary is opaque to the facade: documents, queries, projections and index
// specs are passed through without inspection.
//
// Asynchronous engine operations complete through a Callback whose first
// argument is the error (nil on success) and whose remaining arguments are the
// success results.
package engine

// IDField is the field every stored document carries, assigned on insertion.
const IDField = "_id"

// Callback is the completion convention for asynchronous engine operations.
type Callback = func(err error, results ...any)

// Document is a stored record. Nested objects are plain map[string]any values.
type Document map[string]any

// ID returns the document identifier, or "" if it has none.
func (d Document) ID() string {
	id, _ := d[IDField].(string)
	return id
}

// Query is a filter expression understood by the engine.
type Query map[string]any

// Projection selects fields to keep (1) or drop (0) in query results.
type Projection map[string]int

// SortField orders results by Field, ascending for a positive Order and
// descending for a negative one.
type SortField struct {
	Field string `json:"field"`
	Order int    `json:"order"`
}

// Sort is an ordered list of sort keys, applied in sequence.
type Sort []SortField

// IndexSpec describes an index over a single (possibly dotted) field.
type IndexSpec struct {
	FieldName string `json:"fieldName"`
	Unique    bool   `json:"unique,omitempty"`
	Sparse    bool   `json:"sparse,omitempty"`
}

// UpdateOptions control Engine.Update.
type UpdateOptions struct {
	Multi             bool `json:"multi,omitempty"`
	Upsert            bool `json:"upsert,omitempty"`
	ReturnUpdatedDocs bool `json:"returnUpdatedDocs,omitempty"`
}

// RemoveOptions control Engine.Remove.
type RemoveOptions struct {
	Multi bool `json:"multi,omitempty"`
}

// UpdatePair is one old/new document couple for index maintenance.
type UpdatePair struct {
	Old Document
	New Document
}

// IndexUpdate is either a SingleUpdate or a BatchUpdate.
type IndexUpdate interface {
	indexUpdate()
}

// SingleUpdate replaces one index-resident document.
type SingleUpdate struct {
	Old Document
	New Document
}

// BatchUpdate replaces several index-resident documents at once. Either every
// pair is applied or none is.
type BatchUpdate struct {
	Pairs []UpdatePair
}

func (SingleUpdate) indexUpdate() {}
func (BatchUpdate) indexUpdate()  {}

// CursorHandle is an engine-side read query. Transformations return a handle
// that reflects the transformation; Exec completes with ([]Document).
type CursorHandle interface {
	Sort(s Sort) CursorHandle
	Skip(n int) CursorHandle
	Limit(n int) CursorHandle
	Projection(p Projection) CursorHandle
	Exec(done Callback)
}

// CountCursorHandle is an engine-side count query; Exec completes with (int).
type CountCursorHandle interface {
	Exec(done Callback)
}

// Engine is the capability set the facade requires.
//
// Completion results per operation:
//
//	LoadDatabase, EnsureIndex, RemoveIndex  ()
//	Insert                                  (Document) or ([]Document) for InsertMany
//	FindOne                                 (Document), nil when nothing matched
//	Update                                  (n) | (n, docs) | (n, doc) | (n, doc, true)
//	Remove                                  (n)
type Engine interface {
	LoadDatabase(done Callback)
	GetAllData() []Document
	ResetIndexes(docs ...Document) error
	EnsureIndex(spec IndexSpec, done Callback)
	RemoveIndex(fieldName string, done Callback)
	AddToIndexes(docs ...Document) error
	RemoveFromIndexes(docs ...Document)
	UpdateIndexes(u IndexUpdate) error
	GetCandidates(q Query) []Document
	Insert(doc Document, done Callback)
	InsertMany(docs []Document, done Callback)
	Count(q Query) CountCursorHandle
	Find(q Query, p Projection) CursorHandle
	FindOne(q Query, p Projection, done Callback)
	Update(q Query, update Document, opts UpdateOptions, done Callback)
	Remove(q Query, opts RemoveOptions, done Callback)
}

// Compactor is implemented by engines that persist to an append-only file.
type Compactor interface {
	CompactDatafile(done Callback)
}
