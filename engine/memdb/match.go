package memdb

import (
	"regexp"
	"strings"
	"time"

	"github.com/kartikbazzad/bunbase/bunstore/engine"
)

// Query operators understood by the matcher.
const (
	opLt        = "$lt"
	opLte       = "$lte"
	opGt        = "$gt"
	opGte       = "$gte"
	opNe        = "$ne"
	opIn        = "$in"
	opNin       = "$nin"
	opRegex     = "$regex"
	opExists    = "$exists"
	opSize      = "$size"
	opElemMatch = "$elemMatch"

	opOr    = "$or"
	opAnd   = "$and"
	opNot   = "$not"
	opWhere = "$where"
)

// Matcher reports whether a document satisfies a compiled query.
type Matcher interface {
	Matches(doc any) bool
}

type andNode []Matcher

func (n andNode) Matches(doc any) bool {
	for _, m := range n {
		if !m.Matches(doc) {
			return false
		}
	}
	return true
}

type orNode []Matcher

func (n orNode) Matches(doc any) bool {
	for _, m := range n {
		if m.Matches(doc) {
			return true
		}
	}
	return false
}

type notNode struct{ inner Matcher }

func (n notNode) Matches(doc any) bool { return !n.inner.Matches(doc) }

type whereNode func(engine.Document) bool

func (n whereNode) Matches(doc any) bool {
	m, ok := asMap(doc)
	if !ok {
		return false
	}
	return n(engine.Document(m))
}

// valuePred tests a single resolved field value.
type valuePred func(v any, exists bool) bool

type fieldNode struct {
	path string
	pred valuePred
	// wholeArray makes array values be tested as a whole instead of
	// element by element.
	wholeArray bool
}

func (n *fieldNode) Matches(doc any) bool {
	v, exists := getDotValue(doc, n.path)
	if arr, ok := asArray(v); ok && !n.wholeArray {
		for _, e := range arr {
			if n.pred(e, true) {
				return true
			}
		}
		return false
	}
	return n.pred(v, exists)
}

// Compile turns a query into a Matcher. A nil or empty query matches every
// document.
func Compile(q engine.Query) (Matcher, error) {
	return compileQuery(q)
}

func compileQuery(q map[string]any) (Matcher, error) {
	nodes := make(andNode, 0, len(q))
	for key, val := range q {
		if strings.HasPrefix(key, "$") {
			m, err := compileLogical(key, val)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, m)
			continue
		}
		m, err := compileField(key, val)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, m)
	}
	return nodes, nil
}

func compileSubQueries(op string, val any) ([]Matcher, error) {
	list, ok := asArray(val)
	if !ok {
		return nil, engine.NewError(engine.KindInvalidQuery, "%s operator used without an array", op)
	}
	out := make([]Matcher, 0, len(list))
	for _, item := range list {
		sub, ok := asMap(item)
		if !ok {
			return nil, engine.NewError(engine.KindInvalidQuery, "element of %s must be an object", op)
		}
		m, err := compileQuery(sub)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func compileLogical(op string, val any) (Matcher, error) {
	switch op {
	case opOr:
		subs, err := compileSubQueries(op, val)
		if err != nil {
			return nil, err
		}
		return orNode(subs), nil
	case opAnd:
		subs, err := compileSubQueries(op, val)
		if err != nil {
			return nil, err
		}
		return andNode(subs), nil
	case opNot:
		sub, ok := asMap(val)
		if !ok {
			return nil, engine.NewError(engine.KindInvalidQuery, "$not operator requires an object")
		}
		m, err := compileQuery(sub)
		if err != nil {
			return nil, err
		}
		return notNode{m}, nil
	case opWhere:
		fn, ok := val.(func(engine.Document) bool)
		if !ok {
			return nil, engine.NewError(engine.KindInvalidQuery, "$where operator requires a func(engine.Document) bool")
		}
		return whereNode(fn), nil
	}
	return nil, engine.NewError(engine.KindInvalidQuery, "unknown logical operator %s", op)
}

func compileField(path string, qv any) (Matcher, error) {
	if _, ok := asArray(qv); ok {
		return &fieldNode{path: path, wholeArray: true, pred: equalPred(qv)}, nil
	}
	if re, ok := qv.(*regexp.Regexp); ok {
		return &fieldNode{path: path, pred: regexPred(re)}, nil
	}

	ops, ok := asMap(qv)
	if !ok || len(ops) == 0 {
		return &fieldNode{path: path, pred: equalPred(qv)}, nil
	}

	dollar := 0
	for k := range ops {
		if strings.HasPrefix(k, "$") {
			dollar++
		}
	}
	if dollar == 0 {
		return &fieldNode{path: path, pred: equalPred(qv)}, nil
	}
	if dollar != len(ops) {
		return nil, engine.NewError(engine.KindInvalidQuery, "cannot mix operators and normal fields in %q", path)
	}

	node := &fieldNode{path: path}
	preds := make([]valuePred, 0, len(ops))
	for op, arg := range ops {
		p, err := comparison(op, arg)
		if err != nil {
			return nil, err
		}
		if op == opSize || op == opElemMatch {
			node.wholeArray = true
		}
		preds = append(preds, p)
	}
	node.pred = func(v any, exists bool) bool {
		for _, p := range preds {
			if !p(v, exists) {
				return false
			}
		}
		return true
	}
	return node, nil
}

func equalPred(qv any) valuePred {
	return func(v any, exists bool) bool {
		return exists && areThingsEqual(v, qv)
	}
}

func regexPred(re *regexp.Regexp) valuePred {
	return func(v any, _ bool) bool {
		s, ok := v.(string)
		return ok && re.MatchString(s)
	}
}

func areComparable(a, b any) bool {
	if _, ok := a.(string); ok {
		_, ok = b.(string)
		return ok
	}
	if _, ok := a.(time.Time); ok {
		_, ok = b.(time.Time)
		return ok
	}
	_, okA := toFloat(a)
	_, okB := toFloat(b)
	return okA && okB
}

func comparison(op string, arg any) (valuePred, error) {
	switch op {
	case opLt, opLte, opGt, opGte:
		return func(v any, _ bool) bool {
			if !areComparable(v, arg) {
				return false
			}
			c := compareThings(v, arg)
			switch op {
			case opLt:
				return c < 0
			case opLte:
				return c <= 0
			case opGt:
				return c > 0
			default:
				return c >= 0
			}
		}, nil
	case opNe:
		return func(v any, exists bool) bool {
			return !exists || !areThingsEqual(v, arg)
		}, nil
	case opIn, opNin:
		list, ok := asArray(arg)
		if !ok {
			return nil, engine.NewError(engine.KindInvalidQuery, "%s operator called with a non-array", op)
		}
		in := func(v any, exists bool) bool {
			if !exists {
				return false
			}
			for _, e := range list {
				if areThingsEqual(v, e) {
					return true
				}
			}
			return false
		}
		if op == opIn {
			return in, nil
		}
		return func(v any, exists bool) bool { return !in(v, exists) }, nil
	case opRegex:
		switch r := arg.(type) {
		case *regexp.Regexp:
			return regexPred(r), nil
		case string:
			re, err := regexp.Compile(r)
			if err != nil {
				return nil, &engine.Error{Kind: engine.KindInvalidQuery, Message: "invalid $regex", Err: err}
			}
			return regexPred(re), nil
		}
		return nil, engine.NewError(engine.KindInvalidQuery, "$regex operator requires a regular expression")
	case opExists:
		want := truthy(arg)
		return func(_ any, exists bool) bool { return exists == want }, nil
	case opSize:
		f, ok := toFloat(arg)
		if !ok || f != float64(int(f)) {
			return nil, engine.NewError(engine.KindInvalidQuery, "$size operator called without an integer")
		}
		return func(v any, _ bool) bool {
			arr, ok := asArray(v)
			return ok && len(arr) == int(f)
		}, nil
	case opElemMatch:
		sub, ok := asMap(arg)
		if !ok {
			return nil, engine.NewError(engine.KindInvalidQuery, "$elemMatch operator requires an object")
		}
		m, err := compileQuery(sub)
		if err != nil {
			return nil, err
		}
		return func(v any, _ bool) bool {
			arr, ok := asArray(v)
			if !ok {
				return false
			}
			for _, e := range arr {
				if m.Matches(e) {
					return true
				}
			}
			return false
		}, nil
	}
	return nil, engine.NewError(engine.KindInvalidQuery, "unknown comparison function %s", op)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	return true
}
