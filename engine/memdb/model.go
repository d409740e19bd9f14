package memdb

import (
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kartikbazzad/bunbase/bunstore/engine"
)

// deepCopy returns a copy of v with every nested map normalized to
// map[string]any and every nested slice normalized to []any.
func deepCopy(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case engine.Document:
		return copyMap(t)
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	case string, bool, time.Time, float64, int, int64:
		return t
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return v
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = deepCopy(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = deepCopy(iter.Value().Interface())
		}
		return out
	}
	return v
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopy(v)
	}
	return out
}

func copyDocument(d engine.Document) engine.Document {
	if d == nil {
		return nil
	}
	return engine.Document(copyMap(d))
}

func copyDocuments(docs []engine.Document) []engine.Document {
	out := make([]engine.Document, len(docs))
	for i, d := range docs {
		out[i] = copyDocument(d)
	}
	return out
}

// asMap returns v as a field map if it is an object.
func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case engine.Document:
		return t, true
	case engine.Query:
		return t, true
	}
	return nil, false
}

// asArray returns v as a slice if it is an array value. Byte slices are
// scalars.
func asArray(v any) ([]any, bool) {
	if a, ok := v.([]any); ok {
		return a, true
	}
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// checkObject rejects field names the datafile format reserves.
func checkObject(v any) error {
	if m, ok := asMap(v); ok {
		for k, child := range m {
			if strings.HasPrefix(k, "$") {
				return engine.NewError(engine.KindInvalidField, "field names cannot begin with the $ character: %q", k)
			}
			if strings.Contains(k, ".") {
				return engine.NewError(engine.KindInvalidField, "field names cannot contain a '.': %q", k)
			}
			if err := checkObject(child); err != nil {
				return err
			}
		}
		return nil
	}
	if a, ok := asArray(v); ok {
		for _, e := range a {
			if err := checkObject(e); err != nil {
				return err
			}
		}
	}
	return nil
}

// getDotValue resolves a dotted path. Traversing an array with a numeric
// segment selects that element; any other segment maps the rest of the path
// over every element and yields an array.
func getDotValue(v any, path string) (any, bool) {
	return dotValue(v, strings.Split(path, "."))
}

func dotValue(v any, parts []string) (any, bool) {
	if len(parts) == 0 {
		return v, true
	}
	m, ok := asMap(v)
	if !ok {
		return nil, false
	}
	child, exists := m[parts[0]]
	if len(parts) == 1 {
		return child, exists
	}
	if arr, isArr := asArray(child); isArr {
		if i, err := strconv.Atoi(parts[1]); err == nil {
			if i < 0 || i >= len(arr) {
				return nil, false
			}
			return dotValue(arr[i], parts[2:])
		}
		out := make([]any, 0, len(arr))
		for _, e := range arr {
			ev, _ := dotValue(e, parts[1:])
			out = append(out, ev)
		}
		return out, true
	}
	return dotValue(child, parts[1:])
}

// typeRank orders values of different types: nil, numbers, strings,
// booleans, dates, arrays, objects.
func typeRank(v any) int {
	if v == nil {
		return 0
	}
	if _, ok := toFloat(v); ok {
		return 1
	}
	switch v.(type) {
	case string:
		return 2
	case bool:
		return 3
	case time.Time:
		return 4
	}
	if _, ok := asArray(v); ok {
		return 5
	}
	if _, ok := asMap(v); ok {
		return 6
	}
	return 7
}

// compareThings is a total order over document values.
func compareThings(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return compareInts(ra, rb)
	}

	switch ra {
	case 0:
		return 0
	case 1:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		return compareFloats(fa, fb)
	case 2:
		return strings.Compare(a.(string), b.(string))
	case 3:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		default:
			return 1
		}
	case 4:
		return a.(time.Time).Compare(b.(time.Time))
	case 5:
		aa, _ := asArray(a)
		ab, _ := asArray(b)
		for i := 0; i < len(aa) && i < len(ab); i++ {
			if c := compareThings(aa[i], ab[i]); c != 0 {
				return c
			}
		}
		return compareInts(len(aa), len(ab))
	case 6:
		ma, _ := asMap(a)
		mb, _ := asMap(b)
		ka, kb := sortedKeys(ma), sortedKeys(mb)
		for i := 0; i < len(ka) && i < len(kb); i++ {
			if c := compareThings(ma[ka[i]], mb[kb[i]]); c != 0 {
				return c
			}
		}
		return compareInts(len(ka), len(kb))
	}
	return 0
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	case math.IsNaN(a) && !math.IsNaN(b):
		return -1
	case !math.IsNaN(a) && math.IsNaN(b):
		return 1
	}
	return 0
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// areThingsEqual is value equality for matching. Objects compare by content.
func areThingsEqual(a, b any) bool {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return false
	}
	if ra == 7 {
		return reflect.DeepEqual(a, b)
	}
	if ra == 6 {
		ma, _ := asMap(a)
		mb, _ := asMap(b)
		if len(ma) != len(mb) {
			return false
		}
		for k, va := range ma {
			vb, ok := mb[k]
			if !ok || !areThingsEqual(va, vb) {
				return false
			}
		}
		return true
	}
	if ra == 5 {
		aa, _ := asArray(a)
		ab, _ := asArray(b)
		if len(aa) != len(ab) {
			return false
		}
		for i := range aa {
			if !areThingsEqual(aa[i], ab[i]) {
				return false
			}
		}
		return true
	}
	return compareThings(a, b) == 0
}

// isPrimitive reports whether v can be used as an index equality key.
func isPrimitive(v any) bool {
	r := typeRank(v)
	return r <= 4
}
