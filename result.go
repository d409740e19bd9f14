package bunstore

import (
	"github.com/kartikbazzad/bunbase/bunstore/async"
	"github.com/kartikbazzad/bunbase/bunstore/engine"
)

// UpdateResult is the outcome of Update.
type UpdateResult struct {
	// NumAffected counts updated documents, or 1 for an upsert insert.
	NumAffected int
	// Affected holds the updated documents when ReturnUpdatedDocs was set,
	// and the inserted document after an upsert.
	Affected []engine.Document
	// Upsert is true when no document matched and one was inserted.
	Upsert bool
}

// decodeUpdateResult reads the engine's update completion: (n), (n, docs),
// (n, doc) or (n, doc, true).
func decodeUpdateResult(v any) (UpdateResult, error) {
	var res UpdateResult
	switch t := v.(type) {
	case nil:
		return res, nil
	case int:
		res.NumAffected = t
		return res, nil
	case async.Results:
		n, ok := t[0].(int)
		if !ok {
			return res, &async.ResultTypeError{Want: "int", Got: t[0]}
		}
		res.NumAffected = n
		switch docs := t[1].(type) {
		case engine.Document:
			if docs != nil {
				res.Affected = []engine.Document{docs}
			}
		case []engine.Document:
			res.Affected = docs
		case nil:
		default:
			return res, &async.ResultTypeError{Want: "engine.Document", Got: t[1]}
		}
		if len(t) > 2 {
			res.Upsert, _ = t[2].(bool)
		}
		return res, nil
	}
	return res, &async.ResultTypeError{Want: "int", Got: v}
}
