// Package bunstore is an embedded document store with an asynchronous API.
//
// Every operation that the underlying engine completes through a callback is
// exposed as an *async.Promise. Read queries can also be composed as
// immutable cursors and executed later:
//
//	s, err := bunstore.Open(bunstore.Options{Filename: "data/users.db", Autoload: true})
//	...
//	docs, err := s.FindWithCursor(engine.Query{"age": engine.Query{"$gt": 18}}, nil).
//		Sort(engine.Sort{{Field: "age", Order: -1}}).
//		Limit(10).
//		Exec().
//		Await()
package bunstore

import (
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kartikbazzad/bunbase/bunstore/async"
	"github.com/kartikbazzad/bunbase/bunstore/engine"
	"github.com/kartikbazzad/bunbase/bunstore/engine/memdb"
	"github.com/kartikbazzad/bunbase/bunstore/internal/logger"
)

// ErrNotCompactable is returned by CompactDatafile when the engine does not
// implement engine.Compactor.
var ErrNotCompactable = errors.New("bunstore: engine does not support compaction")

// Options configures a Store built by Open.
type Options struct {
	// Filename of the datafile. Empty keeps everything in memory.
	Filename     string
	InMemoryOnly bool
	// Backend is "file" (default) or "sqlite".
	Backend               string
	TimestampData         bool
	Schema                string
	CorruptAlertThreshold float64
	CallbackWorkers       int

	// Autoload loads the datafile before Open returns.
	Autoload bool

	Logger     *slog.Logger
	Registerer prometheus.Registerer
}

// Option customizes a Store built by New.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRegisterer registers the store's metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Store) { s.registerer = reg }
}

// Store is the asynchronous facade over one engine.
type Store struct {
	engine     engine.Engine
	logger     *slog.Logger
	registerer prometheus.Registerer
	metrics    *metrics
}

// Open builds a Store over a new memdb datastore.
func Open(opts Options) (*Store, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Get()
	}
	ds, err := memdb.New(memdb.Options{
		Filename:              opts.Filename,
		InMemoryOnly:          opts.InMemoryOnly,
		Backend:               opts.Backend,
		TimestampData:         opts.TimestampData,
		Schema:                opts.Schema,
		CorruptAlertThreshold: opts.CorruptAlertThreshold,
		CallbackWorkers:       opts.CallbackWorkers,
		Logger:                log,
	})
	if err != nil {
		return nil, err
	}

	s := New(ds, WithLogger(log), WithRegisterer(opts.Registerer))
	if opts.Autoload {
		if _, err := s.LoadDatabase().Await(); err != nil {
			_ = ds.Close()
			return nil, err
		}
	}
	return s, nil
}

// New wraps eng. The store owns eng from then on.
func New(eng engine.Engine, opts ...Option) *Store {
	s := &Store{engine: eng}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger = s.logger.With("component", "bunstore")
	s.metrics = newMetrics(s.registerer)
	return s
}

// Close releases the engine when it implements io.Closer.
func (s *Store) Close() error {
	if c, ok := s.engine.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// call wraps an engine operation so its completion is measured and failures
// are logged before the callback runs. Only the first completion counts.
func (s *Store) call(name string, op func(done engine.Callback)) func(done async.Callback) {
	return func(done async.Callback) {
		start := time.Now()
		var settled atomic.Bool
		op(func(err error, results ...any) {
			if !settled.CompareAndSwap(false, true) {
				s.logger.Debug("callback invoked again, ignored", "operation", name)
				return
			}
			s.metrics.observe(name, start, err)
			if err != nil {
				s.logger.Debug("operation rejected", "operation", name, "error", err)
			}
			done(err, results...)
		})
	}
}

// LoadDatabase loads the persisted state. Operations submitted before it
// completes run afterwards.
func (s *Store) LoadDatabase() *async.Promise[async.Void] {
	return async.PromisifyAs(s.call("loadDatabase", s.engine.LoadDatabase), async.Ignore)
}

// GetAllData returns every stored document.
func (s *Store) GetAllData() []engine.Document {
	return s.engine.GetAllData()
}

// ResetIndexes rebuilds every index from docs.
func (s *Store) ResetIndexes(docs ...engine.Document) error {
	return s.engine.ResetIndexes(docs...)
}

// EnsureIndex creates an index. It succeeds when the index already exists.
func (s *Store) EnsureIndex(spec engine.IndexSpec) *async.Promise[async.Void] {
	return async.PromisifyAs(s.call("ensureIndex", func(done engine.Callback) {
		s.engine.EnsureIndex(spec, done)
	}), async.Ignore)
}

// RemoveIndex drops the index over field.
func (s *Store) RemoveIndex(field string) *async.Promise[async.Void] {
	return async.PromisifyAs(s.call("removeIndex", func(done engine.Callback) {
		s.engine.RemoveIndex(field, done)
	}), async.Ignore)
}

// Indexes lists the engine's indexes, or nil when the engine cannot report
// them.
func (s *Store) Indexes() []engine.IndexSpec {
	if l, ok := s.engine.(interface{ Indexes() []engine.IndexSpec }); ok {
		return l.Indexes()
	}
	return nil
}

// AddToIndexes indexes docs in every index.
func (s *Store) AddToIndexes(docs ...engine.Document) error {
	return s.engine.AddToIndexes(docs...)
}

// RemoveFromIndexes drops docs from every index.
func (s *Store) RemoveFromIndexes(docs ...engine.Document) {
	s.engine.RemoveFromIndexes(docs...)
}

// UpdateIndexes replaces documents in every index.
func (s *Store) UpdateIndexes(u engine.IndexUpdate) error {
	return s.engine.UpdateIndexes(u)
}

// GetCandidates returns the documents an index lookup selects for q.
func (s *Store) GetCandidates(q engine.Query) []engine.Document {
	return s.engine.GetCandidates(q)
}

// Insert stores doc and resolves with the stored copy, _id included.
func (s *Store) Insert(doc engine.Document) *async.Promise[engine.Document] {
	return async.PromisifyAs(s.call("insert", func(done engine.Callback) {
		s.engine.Insert(doc, done)
	}), async.Expect[engine.Document])
}

// InsertMany stores all of docs or none of them.
func (s *Store) InsertMany(docs []engine.Document) *async.Promise[[]engine.Document] {
	return async.PromisifyAs(s.call("insertMany", func(done engine.Callback) {
		s.engine.InsertMany(docs, done)
	}), async.Expect[[]engine.Document])
}

// Count resolves with the number of documents matching q.
func (s *Store) Count(q engine.Query) *async.Promise[int] {
	return s.CountWithCursor(q).Exec()
}

// CountWithCursor returns a deferred count.
func (s *Store) CountWithCursor(q engine.Query) *CountCursor {
	return &CountCursor{store: s, query: cloneQuery(q)}
}

// Find resolves with the documents matching q.
func (s *Store) Find(q engine.Query, p engine.Projection) *async.Promise[[]engine.Document] {
	return s.FindWithCursor(q, p).Exec()
}

// FindWithCursor returns a deferred query that can be sorted, paged and
// projected before it runs.
func (s *Store) FindWithCursor(q engine.Query, p engine.Projection) *Cursor {
	return &Cursor{store: s, state: CursorState{
		Query:      cloneQuery(q),
		Projection: cloneProjection(p),
	}}
}

// FindOne resolves with the first match, or a nil Document.
func (s *Store) FindOne(q engine.Query, p engine.Projection) *async.Promise[engine.Document] {
	return async.PromisifyAs(s.call("findOne", func(done engine.Callback) {
		s.engine.FindOne(q, p, done)
	}), async.Expect[engine.Document])
}

// Update modifies the documents matching q. A nil opts means the defaults.
func (s *Store) Update(q engine.Query, update engine.Document, opts *engine.UpdateOptions) *async.Promise[UpdateResult] {
	var o engine.UpdateOptions
	if opts != nil {
		o = *opts
	}
	return async.PromisifyAs(s.call("update", func(done engine.Callback) {
		s.engine.Update(q, update, o, done)
	}), decodeUpdateResult)
}

// Remove deletes the documents matching q and resolves with their number.
func (s *Store) Remove(q engine.Query, opts *engine.RemoveOptions) *async.Promise[int] {
	var o engine.RemoveOptions
	if opts != nil {
		o = *opts
	}
	return async.PromisifyAs(s.call("remove", func(done engine.Callback) {
		s.engine.Remove(q, o, done)
	}), async.Expect[int])
}

// CompactDatafile rewrites persisted state without superseded records.
func (s *Store) CompactDatafile() *async.Promise[async.Void] {
	c, ok := s.engine.(engine.Compactor)
	if !ok {
		return async.Rejected[async.Void](ErrNotCompactable)
	}
	return async.PromisifyAs(s.call("compactDatafile", c.CompactDatafile), async.Ignore)
}
