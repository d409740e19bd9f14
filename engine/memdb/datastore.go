// Package memdb is an in-memory document engine with optional persistence.
//
// Documents live in memory behind a set of sorted-key indexes; every
// mutation is appended to a storage.Backend and replayed on load. Mutations
// and queries run one at a time on a FIFO executor, and their results are
// delivered through completion callbacks.
package memdb

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/kartikbazzad/bunbase/bunstore/engine"
	"github.com/kartikbazzad/bunbase/bunstore/storage"
)

const (
	fieldCreatedAt = "createdAt"
	fieldUpdatedAt = "updatedAt"
)

// Datastore implements engine.Engine.
type Datastore struct {
	opts   Options
	logger *slog.Logger

	mu       sync.RWMutex
	indexes  map[string]*Index
	order    []string // index creation order, _id first
	backend  storage.Backend
	schema   *gojsonschema.Schema
	executor *executor
}

var (
	_ engine.Engine    = (*Datastore)(nil)
	_ engine.Compactor = (*Datastore)(nil)
)

// New creates a datastore. In-memory datastores are ready immediately;
// persistent ones buffer operations until LoadDatabase completes.
func New(opts Options) (*Datastore, error) {
	opts = opts.withDefaults()
	ds := &Datastore{
		opts:    opts,
		logger:  opts.Logger.With("component", "memdb"),
		indexes: make(map[string]*Index),
	}
	ds.addIndexLocked(NewIndex(engine.IndexSpec{FieldName: engine.IDField, Unique: true}))

	if opts.Schema != "" {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(opts.Schema))
		if err != nil {
			return nil, &engine.Error{Kind: engine.KindSchemaViolation, Message: "invalid document schema", Err: err}
		}
		ds.schema = schema
	}

	switch {
	case opts.Storage != nil:
		ds.backend = opts.Storage
	case opts.inMemory():
	case opts.Backend == BackendSQLite:
		db, err := storage.OpenSQLite(opts.Filename)
		if err != nil {
			return nil, err
		}
		ds.backend = db
	case opts.Backend == BackendFile:
		ds.backend = storage.NewDatafile(opts.Filename, opts.CorruptAlertThreshold, opts.Logger)
	default:
		return nil, engine.NewError(engine.KindInvalidField, "unknown storage backend %q", opts.Backend)
	}

	exec, err := newExecutor(opts.CallbackWorkers, ds.backend == nil, ds.logger)
	if err != nil {
		if ds.backend != nil {
			_ = ds.backend.Close()
		}
		return nil, err
	}
	ds.executor = exec

	ds.logger.Info("datastore created",
		"filename", opts.Filename,
		"in_memory", ds.backend == nil,
		"backend", opts.Backend,
	)
	return ds, nil
}

// Close drains queued operations and releases the backend. Operations
// submitted afterwards fail with engine.ErrClosed.
func (ds *Datastore) Close() error {
	ds.executor.close()
	if ds.backend == nil {
		return nil
	}
	return ds.backend.Close()
}

func (ds *Datastore) submit(name string, done engine.Callback, run func() ([]any, error)) {
	ds.executor.push(&task{name: name, run: run, done: done}, false)
}

func (ds *Datastore) addIndexLocked(ix *Index) {
	field := ix.Spec().FieldName
	if _, ok := ds.indexes[field]; !ok {
		ds.order = append(ds.order, field)
	}
	ds.indexes[field] = ix
}

func (ds *Datastore) dropIndexLocked(field string) {
	delete(ds.indexes, field)
	for i, f := range ds.order {
		if f == field {
			ds.order = append(ds.order[:i], ds.order[i+1:]...)
			break
		}
	}
}

func (ds *Datastore) orderedIndexes() []*Index {
	out := make([]*Index, 0, len(ds.order))
	for _, f := range ds.order {
		out = append(out, ds.indexes[f])
	}
	return out
}

func (ds *Datastore) specsLocked() []engine.IndexSpec {
	specs := make([]engine.IndexSpec, 0, len(ds.order))
	for _, ix := range ds.orderedIndexes() {
		specs = append(specs, ix.Spec())
	}
	return specs
}

func (ds *Datastore) persist(records ...storage.Record) error {
	if ds.backend == nil {
		return nil
	}
	return ds.backend.Append(records...)
}

// LoadDatabase replays the backend into memory, compacts it and releases
// the operations buffered while loading. It jumps ahead of those buffered
// operations.
func (ds *Datastore) LoadDatabase(done engine.Callback) {
	ds.executor.push(&task{name: "loadDatabase", done: done, run: func() ([]any, error) {
		if ds.backend == nil {
			ds.executor.setReady()
			return nil, nil
		}
		snap, err := ds.backend.Load()
		if err != nil {
			ds.logger.Error("load failed", "filename", ds.opts.Filename, "error", err)
			return nil, err
		}

		ds.mu.Lock()
		defer ds.mu.Unlock()

		ds.indexes = make(map[string]*Index)
		ds.order = nil
		ds.addIndexLocked(NewIndex(engine.IndexSpec{FieldName: engine.IDField, Unique: true}))
		for _, spec := range snap.Indexes {
			ds.addIndexLocked(NewIndex(spec))
		}
		if err := ds.resetIndexesLocked(snap.Docs); err != nil {
			_ = ds.resetIndexesLocked(nil)
			return nil, err
		}
		if err := ds.backend.Compact(ds.allDataLocked(), ds.specsLocked()); err != nil {
			return nil, err
		}

		ds.logger.Info("datastore loaded", "docs", len(snap.Docs), "indexes", len(ds.order))
		ds.executor.setReady()
		return nil, nil
	}}, true)
}

// CompactDatafile rewrites the backend with the current state.
func (ds *Datastore) CompactDatafile(done engine.Callback) {
	ds.submit("compactDatafile", done, func() ([]any, error) {
		if ds.backend == nil {
			return nil, nil
		}
		ds.mu.RLock()
		defer ds.mu.RUnlock()
		return nil, ds.backend.Compact(ds.allDataLocked(), ds.specsLocked())
	})
}

func (ds *Datastore) allDataLocked() []engine.Document {
	return ds.indexes[engine.IDField].GetAll()
}

// GetAllData returns a copy of every resident document.
func (ds *Datastore) GetAllData() []engine.Document {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return copyDocuments(ds.allDataLocked())
}

// ResetIndexes empties every index and indexes docs. If any index rejects
// docs, the previous contents are restored.
func (ds *Datastore) ResetIndexes(docs ...engine.Document) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.resetIndexesLocked(copyDocuments(docs))
}

func (ds *Datastore) resetIndexesLocked(docs []engine.Document) error {
	saved := make(map[string][]indexEntry, len(ds.indexes))
	for f, ix := range ds.indexes {
		saved[f] = ix.entries
	}
	for _, ix := range ds.orderedIndexes() {
		if err := ix.Reset(docs); err != nil {
			for f, entries := range saved {
				ds.indexes[f].entries = entries
			}
			return err
		}
	}
	return nil
}

// AddToIndexes indexes docs in every index, or in none of them.
func (ds *Datastore) AddToIndexes(docs ...engine.Document) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.addToIndexesLocked(copyDocuments(docs))
}

func (ds *Datastore) addToIndexesLocked(docs []engine.Document) error {
	indexes := ds.orderedIndexes()
	for i, ix := range indexes {
		if err := ix.InsertMany(docs); err != nil {
			for _, done := range indexes[:i] {
				for _, d := range docs {
					done.Remove(d)
				}
			}
			return err
		}
	}
	return nil
}

// RemoveFromIndexes drops docs from every index.
func (ds *Datastore) RemoveFromIndexes(docs ...engine.Document) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.removeFromIndexesLocked(docs)
}

func (ds *Datastore) removeFromIndexesLocked(docs []engine.Document) {
	for _, ix := range ds.orderedIndexes() {
		for _, d := range docs {
			ix.Remove(d)
		}
	}
}

// UpdateIndexes swaps old for new documents in every index, or in none.
// Every Old of a batch must be indexed.
func (ds *Datastore) UpdateIndexes(u engine.IndexUpdate) error {
	var pairs []engine.UpdatePair
	switch v := u.(type) {
	case engine.SingleUpdate:
		pairs = []engine.UpdatePair{{Old: v.Old, New: v.New}}
	case engine.BatchUpdate:
		pairs = v.Pairs
	default:
		return engine.NewError(engine.KindInvalidField, "unsupported index update %T", u)
	}
	copied := make([]engine.UpdatePair, len(pairs))
	for i, p := range pairs {
		copied[i] = engine.UpdatePair{Old: p.Old, New: copyDocument(p.New)}
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()
	if _, batch := u.(engine.BatchUpdate); batch {
		ids := ds.indexes[engine.IDField]
		for _, p := range copied {
			if p.Old == nil || len(ids.GetMatching(p.Old.ID())) == 0 {
				return engine.NewError(engine.KindInvalidField, "batch index update: document %q is not indexed", p.Old.ID())
			}
		}
	}
	return ds.updateIndexesLocked(copied)
}

func (ds *Datastore) updateIndexesLocked(pairs []engine.UpdatePair) error {
	indexes := ds.orderedIndexes()
	for i, ix := range indexes {
		if err := ix.UpdateMany(pairs); err != nil {
			for _, done := range indexes[:i] {
				done.RevertUpdate(pairs)
			}
			return err
		}
	}
	return nil
}

// GetCandidates returns copies of the documents that may match q.
func (ds *Datastore) GetCandidates(q engine.Query) []engine.Document {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return copyDocuments(ds.candidatesLocked(q))
}

// candidatesLocked narrows q to an index lookup when it can: an equality on
// an indexed field first, then $in, then a range, and otherwise every
// document. The result is a superset of the matches.
func (ds *Datastore) candidatesLocked(q engine.Query) []engine.Document {
	fields := make([]string, 0, len(q))
	for f := range q {
		if !strings.HasPrefix(f, "$") {
			fields = append(fields, f)
		}
	}
	sort.Strings(fields)

	for _, f := range fields {
		ix, ok := ds.indexes[f]
		if ok && isPrimitive(q[f]) {
			return ix.GetMatching(q[f])
		}
	}
	for _, f := range fields {
		ix, ok := ds.indexes[f]
		if !ok {
			continue
		}
		if m, isMap := asMap(q[f]); isMap {
			if in, has := m[opIn]; has {
				if _, isArr := asArray(in); isArr {
					return ix.GetMatching(in)
				}
			}
		}
	}
	for _, f := range fields {
		ix, ok := ds.indexes[f]
		if !ok {
			continue
		}
		if m, isMap := asMap(q[f]); isMap && hasRangeOperator(m) {
			return ix.GetBetweenBounds(m)
		}
	}
	return ds.allDataLocked()
}

func hasRangeOperator(m map[string]any) bool {
	for _, op := range []string{opLt, opLte, opGt, opGte} {
		if _, ok := m[op]; ok {
			return true
		}
	}
	return false
}

// matchLocked returns the resident documents matching q, in candidate order.
// limit 0 means unbounded.
func (ds *Datastore) matchLocked(q engine.Query, limit int) ([]engine.Document, error) {
	m, err := Compile(q)
	if err != nil {
		return nil, err
	}
	var out []engine.Document
	for _, d := range ds.candidatesLocked(q) {
		if !m.Matches(map[string]any(d)) {
			continue
		}
		out = append(out, d)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (ds *Datastore) prepareForInsertion(doc engine.Document) (engine.Document, error) {
	d := copyDocument(doc)
	if d == nil {
		d = engine.Document{}
	}
	switch id := d[engine.IDField].(type) {
	case nil:
		d[engine.IDField] = ds.newID()
	case string:
		if id == "" {
			return nil, engine.NewError(engine.KindInvalidField, "_id cannot be empty")
		}
	default:
		return nil, engine.NewError(engine.KindInvalidField, "_id must be a string, got %T", id)
	}
	if ds.opts.TimestampData {
		now := ds.opts.Now()
		if _, ok := d[fieldCreatedAt]; !ok {
			d[fieldCreatedAt] = now
		}
		if _, ok := d[fieldUpdatedAt]; !ok {
			d[fieldUpdatedAt] = now
		}
	}
	if err := checkObject(map[string]any(d)); err != nil {
		return nil, err
	}
	if err := ds.validate(d); err != nil {
		return nil, err
	}
	return d, nil
}

// newID draws identifiers until one is not already taken.
func (ds *Datastore) newID() string {
	ids := ds.indexes[engine.IDField]
	for {
		id := ds.opts.IDGenerator()
		if _, taken := ids.search(id); !taken {
			return id
		}
	}
}

func (ds *Datastore) validate(doc engine.Document) error {
	if ds.schema == nil {
		return nil
	}
	res, err := ds.schema.Validate(gojsonschema.NewGoLoader(map[string]any(doc)))
	if err != nil {
		return &engine.Error{Kind: engine.KindSchemaViolation, Message: "document cannot be validated", Err: err}
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return &engine.Error{Kind: engine.KindSchemaViolation, Message: strings.Join(msgs, "; ")}
}

func (ds *Datastore) insertLocked(docs []engine.Document) ([]engine.Document, error) {
	prepared := make([]engine.Document, 0, len(docs))
	for _, doc := range docs {
		d, err := ds.prepareForInsertion(doc)
		if err != nil {
			return nil, err
		}
		prepared = append(prepared, d)
	}
	if err := ds.addToIndexesLocked(prepared); err != nil {
		return nil, err
	}
	records := make([]storage.Record, len(prepared))
	for i, d := range prepared {
		records[i] = storage.DocRecord(d)
	}
	if err := ds.persist(records...); err != nil {
		ds.removeFromIndexesLocked(prepared)
		return nil, err
	}
	return prepared, nil
}

// Insert stores a copy of doc, generating an _id when it has none. The
// callback receives the stored document.
func (ds *Datastore) Insert(doc engine.Document, done engine.Callback) {
	ds.submit("insert", done, func() ([]any, error) {
		ds.mu.Lock()
		defer ds.mu.Unlock()
		inserted, err := ds.insertLocked([]engine.Document{doc})
		if err != nil {
			return nil, err
		}
		return []any{copyDocument(inserted[0])}, nil
	})
}

// InsertMany stores every document or none of them. The callback receives
// the stored documents.
func (ds *Datastore) InsertMany(docs []engine.Document, done engine.Callback) {
	ds.submit("insertMany", done, func() ([]any, error) {
		ds.mu.Lock()
		defer ds.mu.Unlock()
		inserted, err := ds.insertLocked(docs)
		if err != nil {
			return nil, err
		}
		return []any{copyDocuments(inserted)}, nil
	})
}

// Count returns a handle counting the documents matching q.
func (ds *Datastore) Count(q engine.Query) engine.CountCursorHandle {
	return &countCursor{ds: ds, query: q}
}

// Find returns a cursor over the documents matching q.
func (ds *Datastore) Find(q engine.Query, p engine.Projection) engine.CursorHandle {
	return &Cursor{ds: ds, query: q, projection: p}
}

// FindOne delivers the first document matching q, or a nil Document.
func (ds *Datastore) FindOne(q engine.Query, p engine.Projection, done engine.Callback) {
	c := &Cursor{ds: ds, query: q, projection: p, limit: 1}
	ds.submit("findOne", done, func() ([]any, error) {
		docs, err := c.run()
		if err != nil {
			return nil, err
		}
		if len(docs) == 0 {
			return []any{engine.Document(nil)}, nil
		}
		return []any{docs[0]}, nil
	})
}

// Update modifies the documents matching q. The callback receives the
// number of affected documents, then, with ReturnUpdatedDocs, the updated
// document (or a slice of them when Multi is set), and true when the
// update inserted a new document through Upsert.
func (ds *Datastore) Update(q engine.Query, update engine.Document, opts engine.UpdateOptions, done engine.Callback) {
	ds.submit("update", done, func() ([]any, error) {
		ds.mu.Lock()
		defer ds.mu.Unlock()

		limit := 1
		if opts.Multi {
			limit = 0
		}
		matched, err := ds.matchLocked(q, limit)
		if err != nil {
			return nil, err
		}

		if len(matched) == 0 && opts.Upsert {
			return ds.upsertLocked(q, update)
		}

		pairs := make([]engine.UpdatePair, 0, len(matched))
		for _, old := range matched {
			updated, err := modify(old, update)
			if err != nil {
				return nil, err
			}
			if ds.opts.TimestampData {
				if created, ok := old[fieldCreatedAt]; ok {
					updated[fieldCreatedAt] = created
				}
				updated[fieldUpdatedAt] = ds.opts.Now()
			}
			if err := ds.validate(updated); err != nil {
				return nil, err
			}
			pairs = append(pairs, engine.UpdatePair{Old: old, New: updated})
		}

		if err := ds.updateIndexesLocked(pairs); err != nil {
			return nil, err
		}
		records := make([]storage.Record, len(pairs))
		for i, p := range pairs {
			records[i] = storage.DocRecord(p.New)
		}
		if err := ds.persist(records...); err != nil {
			for _, ix := range ds.orderedIndexes() {
				ix.RevertUpdate(pairs)
			}
			return nil, err
		}

		n := len(pairs)
		if !opts.ReturnUpdatedDocs {
			return []any{n}, nil
		}
		updated := make([]engine.Document, n)
		for i, p := range pairs {
			updated[i] = copyDocument(p.New)
		}
		if opts.Multi {
			return []any{n, updated}, nil
		}
		if n == 0 {
			return []any{n, engine.Document(nil)}, nil
		}
		return []any{n, updated[0]}, nil
	})
}

// upsertLocked inserts update itself when it is a plain document, or the
// result of applying its modifiers to the equality fields of q.
func (ds *Datastore) upsertLocked(q engine.Query, update engine.Document) ([]any, error) {
	toInsert := update
	if checkObject(map[string]any(update)) != nil {
		base := engine.Document(stripOperators(map[string]any(q)))
		modified, err := modify(base, update)
		if err != nil {
			return nil, err
		}
		toInsert = modified
	}
	inserted, err := ds.insertLocked([]engine.Document{toInsert})
	if err != nil {
		return nil, err
	}
	return []any{1, copyDocument(inserted[0]), true}, nil
}

// stripOperators copies m without keys that start with $ or contain a dot.
func stripOperators(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if strings.HasPrefix(k, "$") || strings.Contains(k, ".") {
			continue
		}
		if sub, ok := asMap(v); ok {
			out[k] = stripOperators(sub)
			continue
		}
		out[k] = deepCopy(v)
	}
	return out
}

// Remove deletes the first document matching q, or all of them with Multi.
// The callback receives the number removed.
func (ds *Datastore) Remove(q engine.Query, opts engine.RemoveOptions, done engine.Callback) {
	ds.submit("remove", done, func() ([]any, error) {
		ds.mu.Lock()
		defer ds.mu.Unlock()

		limit := 1
		if opts.Multi {
			limit = 0
		}
		matched, err := ds.matchLocked(q, limit)
		if err != nil {
			return nil, err
		}
		records := make([]storage.Record, len(matched))
		for i, d := range matched {
			records[i] = storage.DeleteRecord(d.ID())
		}
		if err := ds.persist(records...); err != nil {
			return nil, err
		}
		ds.removeFromIndexesLocked(matched)
		return []any{len(matched)}, nil
	})
}

// EnsureIndex creates an index over spec.FieldName. Creating an index that
// already exists is a no-op. A unique index that existing documents violate
// is not created.
func (ds *Datastore) EnsureIndex(spec engine.IndexSpec, done engine.Callback) {
	ds.submit("ensureIndex", done, func() ([]any, error) {
		if spec.FieldName == "" {
			return nil, engine.NewError(engine.KindInvalidField, "cannot create an index without a fieldName")
		}
		ds.mu.Lock()
		defer ds.mu.Unlock()

		if _, ok := ds.indexes[spec.FieldName]; ok {
			return nil, nil
		}
		ix := NewIndex(spec)
		if err := ix.InsertMany(ds.allDataLocked()); err != nil {
			return nil, err
		}
		if err := ds.persist(storage.IndexCreatedRecord(spec)); err != nil {
			return nil, err
		}
		ds.addIndexLocked(ix)
		ds.logger.Debug("index created", "field", spec.FieldName, "unique", spec.Unique, "sparse", spec.Sparse)
		return nil, nil
	})
}

// RemoveIndex drops the index over field. The _id index cannot be removed.
func (ds *Datastore) RemoveIndex(field string, done engine.Callback) {
	ds.submit("removeIndex", done, func() ([]any, error) {
		if field == engine.IDField {
			return nil, engine.NewError(engine.KindInvalidField, "the _id index cannot be removed")
		}
		ds.mu.Lock()
		defer ds.mu.Unlock()

		if _, ok := ds.indexes[field]; !ok {
			return nil, nil
		}
		if err := ds.persist(storage.IndexRemovedRecord(field)); err != nil {
			return nil, err
		}
		ds.dropIndexLocked(field)
		ds.logger.Debug("index removed", "field", field)
		return nil, nil
	})
}

// Indexes lists the index definitions in creation order.
func (ds *Datastore) Indexes() []engine.IndexSpec {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.specsLocked()
}
