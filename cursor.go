package bunstore

import (
	"maps"
	"slices"

	"github.com/kartikbazzad/bunbase/bunstore/async"
	"github.com/kartikbazzad/bunbase/bunstore/engine"
)

// CursorState is the plan a Cursor executes.
type CursorState struct {
	Query      engine.Query
	Projection engine.Projection
	Sort       engine.Sort
	Skip       int
	Limit      int
	SkipSet    bool
	LimitSet   bool
}

func (st CursorState) clone() CursorState {
	st.Query = cloneQuery(st.Query)
	st.Projection = cloneProjection(st.Projection)
	st.Sort = slices.Clone(st.Sort)
	return st
}

func cloneQuery(q engine.Query) engine.Query {
	if q == nil {
		return nil
	}
	return maps.Clone(q)
}

func cloneProjection(p engine.Projection) engine.Projection {
	if p == nil {
		return nil
	}
	return maps.Clone(p)
}

// Cursor is a deferred read query. Sort, Skip, Limit and Projection return a
// new Cursor; the receiver never changes, so a base cursor can be shared and
// refined concurrently.
type Cursor struct {
	store *Store
	state CursorState
}

func (c *Cursor) with(fn func(st *CursorState)) *Cursor {
	st := c.state.clone()
	fn(&st)
	return &Cursor{store: c.store, state: st}
}

// Sort orders results by each field in turn.
func (c *Cursor) Sort(s engine.Sort) *Cursor {
	return c.with(func(st *CursorState) { st.Sort = slices.Clone(s) })
}

// Skip drops the first n results.
func (c *Cursor) Skip(n int) *Cursor {
	return c.with(func(st *CursorState) { st.Skip, st.SkipSet = n, true })
}

// Limit caps the number of results.
func (c *Cursor) Limit(n int) *Cursor {
	return c.with(func(st *CursorState) { st.Limit, st.LimitSet = n, true })
}

// Projection replaces the projection.
func (c *Cursor) Projection(p engine.Projection) *Cursor {
	return c.with(func(st *CursorState) { st.Projection = cloneProjection(p) })
}

// State returns a copy of the cursor's plan.
func (c *Cursor) State() CursorState {
	return c.state.clone()
}

// Exec runs the plan on a fresh engine cursor. Each call queries the current
// data again.
func (c *Cursor) Exec() *async.Promise[[]engine.Document] {
	st := c.state
	h := c.store.engine.Find(st.Query, nil)
	if st.Sort != nil {
		h = h.Sort(st.Sort)
	}
	if st.SkipSet {
		h = h.Skip(st.Skip)
	}
	if st.LimitSet {
		h = h.Limit(st.Limit)
	}
	if st.Projection != nil {
		h = h.Projection(st.Projection)
	}
	return async.PromisifyAs(c.store.call("find", h.Exec), async.Expect[[]engine.Document])
}

// CountCursor is a deferred count.
type CountCursor struct {
	store *Store
	query engine.Query
}

// Exec counts the documents matching the query.
func (c *CountCursor) Exec() *async.Promise[int] {
	return async.PromisifyAs(c.store.call("count", c.store.engine.Count(c.query).Exec), async.Expect[int])
}
