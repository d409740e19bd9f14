package memdb

import (
	"strings"

	"github.com/kartikbazzad/bunbase/bunstore/engine"
)

type modifierFunc func(obj map[string]any, field string, value any) error

var modifiers map[string]modifierFunc

func init() {
	modifiers = map[string]modifierFunc{
		"$set":      setModifier,
		"$unset":    unsetModifier,
		"$inc":      incModifier,
		"$push":     pushModifier,
		"$addToSet": addToSetModifier,
		"$pop":      popModifier,
		"$pull":     pullModifier,
		"$min":      minMaxModifier(-1),
		"$max":      minMaxModifier(1),
	}
}

// modify applies an update to doc and returns the new document. An update
// without modifiers replaces every field except _id.
func modify(doc engine.Document, update engine.Document) (engine.Document, error) {
	dollar := 0
	for k := range update {
		if strings.HasPrefix(k, "$") {
			dollar++
		}
	}
	if id, ok := update[engine.IDField]; ok && !areThingsEqual(id, doc[engine.IDField]) {
		return nil, engine.NewError(engine.KindInvalidModifier, "you cannot change a document's _id")
	}
	if dollar != 0 && dollar != len(update) {
		return nil, engine.NewError(engine.KindInvalidModifier, "you cannot mix modifiers and normal fields")
	}

	var out engine.Document
	if dollar == 0 {
		out = copyDocument(update)
		if out == nil {
			out = engine.Document{}
		}
		if id, ok := doc[engine.IDField]; ok {
			out[engine.IDField] = id
		}
	} else {
		out = copyDocument(doc)
		for name, arg := range update {
			fn, ok := modifiers[name]
			if !ok {
				return nil, engine.NewError(engine.KindInvalidModifier, "unknown modifier %s", name)
			}
			fields, ok := asMap(arg)
			if !ok {
				return nil, engine.NewError(engine.KindInvalidModifier, "modifier %s's argument must be an object", name)
			}
			for field, value := range fields {
				if err := applyModifier(name, fn, out, field, value); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := checkObject(map[string]any(out)); err != nil {
		return nil, err
	}
	if !areThingsEqual(out[engine.IDField], doc[engine.IDField]) {
		return nil, engine.NewError(engine.KindInvalidModifier, "you cannot change a document's _id")
	}
	return out, nil
}

// applyModifier walks a dotted field, creating intermediate objects except
// for $unset, and applies fn to the last segment.
func applyModifier(name string, fn modifierFunc, obj map[string]any, field string, value any) error {
	parts := strings.Split(field, ".")
	for _, p := range parts[:len(parts)-1] {
		child, ok := obj[p]
		if !ok || child == nil {
			if name == "$unset" {
				return nil
			}
			next := map[string]any{}
			obj[p] = next
			obj = next
			continue
		}
		m, ok := asMap(child)
		if !ok {
			return engine.NewError(engine.KindInvalidModifier, "cannot apply %s through non-object field %q", name, p)
		}
		obj = m
	}
	return fn(obj, parts[len(parts)-1], value)
}

func setModifier(obj map[string]any, field string, value any) error {
	obj[field] = deepCopy(value)
	return nil
}

func unsetModifier(obj map[string]any, field string, _ any) error {
	delete(obj, field)
	return nil
}

func incModifier(obj map[string]any, field string, value any) error {
	inc, ok := toFloat(value)
	if !ok {
		return engine.NewError(engine.KindInvalidModifier, "%v must be a number", value)
	}
	cur, exists := obj[field]
	if !exists {
		obj[field] = value
		return nil
	}
	n, ok := toFloat(cur)
	if !ok {
		return engine.NewError(engine.KindInvalidModifier, "don't use the $inc modifier on non-number fields")
	}
	_, curInt := cur.(int)
	_, incInt := value.(int)
	if curInt && incInt {
		obj[field] = cur.(int) + value.(int)
		return nil
	}
	obj[field] = n + inc
	return nil
}

// eachArgs unpacks {$each: [...], $slice: n} forms.
func eachArgs(name string, value any, allowSlice bool) (items []any, slice *int, err error) {
	m, ok := asMap(value)
	if !ok {
		return []any{deepCopy(value)}, nil, nil
	}
	each, hasEach := m["$each"]
	if !hasEach {
		return []any{deepCopy(value)}, nil, nil
	}
	extra := len(m) - 1
	if s, hasSlice := m["$slice"]; hasSlice && allowSlice {
		extra--
		f, ok := toFloat(s)
		if !ok || f != float64(int(f)) {
			return nil, nil, engine.NewError(engine.KindInvalidModifier, "$slice requires an integer")
		}
		n := int(f)
		slice = &n
	}
	if extra != 0 {
		return nil, nil, engine.NewError(engine.KindInvalidModifier, "can't use another field in conjunction with $each in %s", name)
	}
	arr, ok := asArray(each)
	if !ok {
		return nil, nil, engine.NewError(engine.KindInvalidModifier, "$each requires an array value")
	}
	items = make([]any, len(arr))
	for i, e := range arr {
		items[i] = deepCopy(e)
	}
	return items, slice, nil
}

func arrayField(obj map[string]any, field, name string) ([]any, error) {
	cur, exists := obj[field]
	if !exists || cur == nil {
		return []any{}, nil
	}
	arr, ok := asArray(cur)
	if !ok {
		return nil, engine.NewError(engine.KindInvalidModifier, "can't %s an element on non-array values", name)
	}
	return arr, nil
}

func pushModifier(obj map[string]any, field string, value any) error {
	arr, err := arrayField(obj, field, "$push")
	if err != nil {
		return err
	}
	items, slice, err := eachArgs("$push", value, true)
	if err != nil {
		return err
	}
	arr = append(arr, items...)
	if slice != nil {
		n := *slice
		switch {
		case n == 0:
			arr = []any{}
		case n > 0 && n < len(arr):
			arr = arr[:n]
		case n < 0 && -n < len(arr):
			arr = arr[len(arr)+n:]
		}
	}
	obj[field] = arr
	return nil
}

func addToSetModifier(obj map[string]any, field string, value any) error {
	arr, err := arrayField(obj, field, "$addToSet")
	if err != nil {
		return err
	}
	items, _, err := eachArgs("$addToSet", value, false)
	if err != nil {
		return err
	}
	for _, it := range items {
		present := false
		for _, e := range arr {
			if compareThings(e, it) == 0 {
				present = true
				break
			}
		}
		if !present {
			arr = append(arr, it)
		}
	}
	obj[field] = arr
	return nil
}

func popModifier(obj map[string]any, field string, value any) error {
	cur, ok := asArray(obj[field])
	if !ok {
		return engine.NewError(engine.KindInvalidModifier, "can't $pop an element from non-array values")
	}
	n, ok := toFloat(value)
	if !ok {
		return engine.NewError(engine.KindInvalidModifier, "%v isn't an integer, can't use it with $pop", value)
	}
	if n == 0 || len(cur) == 0 {
		return nil
	}
	if n > 0 {
		obj[field] = cur[:len(cur)-1]
	} else {
		obj[field] = cur[1:]
	}
	return nil
}

func pullModifier(obj map[string]any, field string, value any) error {
	cur, ok := asArray(obj[field])
	if !ok {
		return engine.NewError(engine.KindInvalidModifier, "can't $pull an element from non-array values")
	}
	var m Matcher
	if q, isQuery := asMap(value); isQuery {
		compiled, err := compileField("v", q)
		if err != nil {
			return err
		}
		m = compiled
	}
	kept := make([]any, 0, len(cur))
	for _, e := range cur {
		var hit bool
		if m != nil {
			hit = m.Matches(map[string]any{"v": e})
		} else {
			hit = areThingsEqual(e, value)
		}
		if !hit {
			kept = append(kept, e)
		}
	}
	obj[field] = kept
	return nil
}

func minMaxModifier(dir int) modifierFunc {
	return func(obj map[string]any, field string, value any) error {
		cur, exists := obj[field]
		if !exists || compareThings(value, cur)*dir > 0 {
			obj[field] = deepCopy(value)
		}
		return nil
	}
}
