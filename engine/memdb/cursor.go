package memdb

import (
	"sort"

	"github.com/kartikbazzad/bunbase/bunstore/engine"
)

// Cursor is a read query against a Datastore. Transformations return a new
// Cursor; the receiver is left unchanged.
type Cursor struct {
	ds         *Datastore
	query      engine.Query
	projection engine.Projection
	sort       engine.Sort
	skip       int
	limit      int
}

var _ engine.CursorHandle = (*Cursor)(nil)

func (c *Cursor) clone() *Cursor {
	cp := *c
	return &cp
}

// Sort orders results by each field in turn.
func (c *Cursor) Sort(s engine.Sort) engine.CursorHandle {
	cp := c.clone()
	cp.sort = append(engine.Sort(nil), s...)
	return cp
}

// Skip drops the first n results.
func (c *Cursor) Skip(n int) engine.CursorHandle {
	cp := c.clone()
	cp.skip = n
	return cp
}

// Limit caps the number of results. Zero means no limit.
func (c *Cursor) Limit(n int) engine.CursorHandle {
	cp := c.clone()
	cp.limit = n
	return cp
}

// Projection selects the fields of each result.
func (c *Cursor) Projection(p engine.Projection) engine.CursorHandle {
	cp := c.clone()
	cp.projection = p
	return cp
}

// Exec runs the query on the datastore's executor and delivers
// ([]engine.Document).
func (c *Cursor) Exec(done engine.Callback) {
	c.ds.submit("find", done, func() ([]any, error) {
		docs, err := c.run()
		if err != nil {
			return nil, err
		}
		return []any{docs}, nil
	})
}

func (c *Cursor) run() ([]engine.Document, error) {
	if c.skip < 0 {
		return nil, engine.NewError(engine.KindInvalidCursor, "skip must not be negative, got %d", c.skip)
	}
	if c.limit < 0 {
		return nil, engine.NewError(engine.KindInvalidCursor, "limit must not be negative, got %d", c.limit)
	}

	c.ds.mu.RLock()
	defer c.ds.mu.RUnlock()

	var docs []engine.Document
	var err error
	if len(c.sort) == 0 && c.limit > 0 {
		docs, err = c.ds.matchLocked(c.query, c.skip+c.limit)
	} else {
		docs, err = c.ds.matchLocked(c.query, 0)
	}
	if err != nil {
		return nil, err
	}

	if len(c.sort) > 0 {
		sortDocuments(docs, c.sort)
	}
	docs = window(docs, c.skip, c.limit)
	return project(docs, c.projection)
}

func sortDocuments(docs []engine.Document, by engine.Sort) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, f := range by {
			a, _ := getDotValue(map[string]any(docs[i]), f.Field)
			b, _ := getDotValue(map[string]any(docs[j]), f.Field)
			c := compareThings(a, b)
			if c == 0 {
				continue
			}
			if f.Order < 0 {
				c = -c
			}
			return c < 0
		}
		return false
	})
}

func window(docs []engine.Document, skip, limit int) []engine.Document {
	if skip >= len(docs) {
		return nil
	}
	docs = docs[skip:]
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs
}

// project copies docs, keeping or omitting the fields named in p. _id is
// kept unless p sets it to 0. Keeping and omitting other fields in the same
// projection is an error.
func project(docs []engine.Document, p engine.Projection) ([]engine.Document, error) {
	if len(p) == 0 {
		return copyDocuments(docs), nil
	}

	keepID := true
	keep, omit := []string{}, []string{}
	for field, v := range p {
		if field == engine.IDField {
			keepID = v != 0
			continue
		}
		if v == 0 {
			omit = append(omit, field)
		} else {
			keep = append(keep, field)
		}
	}
	if len(keep) > 0 && len(omit) > 0 {
		return nil, engine.NewError(engine.KindInvalidCursor, "can't both keep and omit fields except for _id")
	}

	out := make([]engine.Document, 0, len(docs))
	for _, d := range docs {
		var res engine.Document
		if len(omit) > 0 || len(keep) == 0 {
			res = copyDocument(d)
			for _, f := range omit {
				if err := applyModifier("$unset", unsetModifier, res, f, true); err != nil {
					return nil, err
				}
			}
		} else {
			res = engine.Document{}
			for _, f := range keep {
				v, ok := getDotValue(map[string]any(d), f)
				if !ok {
					continue
				}
				if err := applyModifier("$set", setModifier, res, f, v); err != nil {
					return nil, err
				}
			}
			if id, ok := d[engine.IDField]; ok {
				res[engine.IDField] = id
			}
		}
		if !keepID {
			delete(res, engine.IDField)
		}
		out = append(out, res)
	}
	return out, nil
}

type countCursor struct {
	ds    *Datastore
	query engine.Query
}

// Exec counts matching documents and delivers (int).
func (c *countCursor) Exec(done engine.Callback) {
	c.ds.submit("count", done, func() ([]any, error) {
		c.ds.mu.RLock()
		defer c.ds.mu.RUnlock()
		docs, err := c.ds.matchLocked(c.query, 0)
		if err != nil {
			return nil, err
		}
		return []any{len(docs)}, nil
	})
}
