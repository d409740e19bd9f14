package storage

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/kartikbazzad/bunbase/bunstore/engine"
)

// Reserved keys of the line format.
const (
	keyDate         = "$$date"
	keyDeleted      = "$$deleted"
	keyIndexCreated = "$$indexCreated"
	keyIndexRemoved = "$$indexRemoved"
)

// EncodeRecord serializes a record as one JSON object. Dates become
// {"$$date": <unix millis>}.
func EncodeRecord(rec Record) ([]byte, error) {
	var v any
	switch {
	case rec.Doc != nil:
		v = encodeValue(map[string]any(rec.Doc))
	case rec.DeletedID != "":
		v = map[string]any{engine.IDField: rec.DeletedID, keyDeleted: true}
	case rec.IndexCreated != nil:
		v = map[string]any{keyIndexCreated: rec.IndexCreated}
	case rec.IndexRemoved != "":
		v = map[string]any{keyIndexRemoved: rec.IndexRemoved}
	default:
		return nil, fmt.Errorf("empty record")
	}
	return json.Marshal(v)
}

// DecodeRecord parses one line written by EncodeRecord.
func DecodeRecord(line []byte) (Record, error) {
	var raw map[string]any
	if err := json.Unmarshal(line, &raw); err != nil {
		return Record{}, err
	}

	if deleted, ok := raw[keyDeleted].(bool); ok && deleted {
		id, _ := raw[engine.IDField].(string)
		if id == "" {
			return Record{}, fmt.Errorf("deletion marker without _id")
		}
		return DeleteRecord(id), nil
	}
	if spec, ok := raw[keyIndexCreated].(map[string]any); ok {
		field, _ := spec["fieldName"].(string)
		if field == "" {
			return Record{}, fmt.Errorf("index record without fieldName")
		}
		unique, _ := spec["unique"].(bool)
		sparse, _ := spec["sparse"].(bool)
		return IndexCreatedRecord(engine.IndexSpec{FieldName: field, Unique: unique, Sparse: sparse}), nil
	}
	if field, ok := raw[keyIndexRemoved].(string); ok {
		return IndexRemovedRecord(field), nil
	}

	doc, _ := decodeValue(raw).(map[string]any)
	if id, _ := doc[engine.IDField].(string); id == "" {
		return Record{}, fmt.Errorf("document without _id")
	}
	return DocRecord(engine.Document(doc)), nil
}

func encodeValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return map[string]any{keyDate: t.UnixMilli()}
	case engine.Document:
		return encodeValue(map[string]any(t))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = encodeValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = encodeValue(e)
		}
		return out
	}
	return v
}

func decodeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 1 {
			if ms, ok := t[keyDate].(float64); ok {
				return time.UnixMilli(int64(ms)).UTC()
			}
		}
		for k, e := range t {
			t[k] = decodeValue(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = decodeValue(e)
		}
		return t
	}
	return v
}
