package shell

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/kartikbazzad/bunbase/bunstore/engine"
)

// Command is one parsed shell line.
type Command struct {
	Name string
	Args []string
	Line string
}

// Parse splits line into a command name and its arguments. JSON arguments
// may contain spaces; they end where their brackets or quotes close.
func Parse(line string) (*Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, fmt.Errorf("empty command")
	}

	parts, err := splitArgs(line)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(parts[0], ".") {
		return nil, fmt.Errorf("commands must start with '.'")
	}

	return &Command{
		Name: strings.ToLower(parts[0]),
		Args: parts[1:],
		Line: line,
	}, nil
}

func splitArgs(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		depth   int
		inStr   bool
		escaped bool
	)
	flush := func() {
		if cur.Len() > 0 {
			args = append(args, cur.String())
			cur.Reset()
		}
	}

	for _, r := range line {
		switch {
		case inStr:
			cur.WriteRune(r)
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inStr = false
			}
			continue
		case r == '"':
			inStr = true
		case r == '{' || r == '[':
			depth++
		case r == '}' || r == ']':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced %q", r)
			}
		case (r == ' ' || r == '\t') && depth == 0:
			flush()
			continue
		}
		cur.WriteRune(r)
	}
	if inStr {
		return nil, fmt.Errorf("unterminated string")
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced brackets")
	}
	flush()
	return args, nil
}

// ValidateArgs checks that cmd has at least count arguments.
func ValidateArgs(cmd *Command, count int) error {
	if len(cmd.Args) < count {
		return fmt.Errorf("expected %d argument(s), got %d", count, len(cmd.Args))
	}
	return nil
}

// findArgs are the positional and keyed arguments of .find and friends.
type findArgs struct {
	query      engine.Query
	projection engine.Projection
	sort       engine.Sort
	skip       *int
	limit      *int
}

// parseFindArgs reads up to two positional JSON objects and key=value
// options.
func parseFindArgs(args []string) (*findArgs, error) {
	fa := &findArgs{}
	positional := 0
	for _, arg := range args {
		if strings.HasPrefix(arg, "{") {
			switch positional {
			case 0:
				q, err := parseObject(arg)
				if err != nil {
					return nil, fmt.Errorf("query: %w", err)
				}
				fa.query = engine.Query(q)
			case 1:
				var p engine.Projection
				if err := json.Unmarshal([]byte(arg), &p); err != nil {
					return nil, fmt.Errorf("projection must be an object of 0 and 1 values")
				}
				fa.projection = p
			default:
				return nil, fmt.Errorf("unexpected argument %s", arg)
			}
			positional++
			continue
		}

		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("unexpected argument %s", arg)
		}
		switch strings.ToLower(key) {
		case "sort":
			s, err := parseSort(value)
			if err != nil {
				return nil, err
			}
			fa.sort = s
		case "skip":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("skip must be an integer")
			}
			fa.skip = &n
		case "limit":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("limit must be an integer")
			}
			fa.limit = &n
		default:
			return nil, fmt.Errorf("unknown option %s", key)
		}
	}
	return fa, nil
}

// parseSort accepts a JSON array of {"field","order"} objects or the
// shorthand "a,-b".
func parseSort(value string) (engine.Sort, error) {
	if strings.HasPrefix(value, "[") {
		var s engine.Sort
		if err := json.Unmarshal([]byte(value), &s); err != nil {
			return nil, fmt.Errorf("sort: %w", err)
		}
		return s, nil
	}
	var s engine.Sort
	for _, f := range strings.Split(value, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		order := 1
		switch f[0] {
		case '-':
			order, f = -1, f[1:]
		case '+':
			f = f[1:]
		}
		s = append(s, engine.SortField{Field: f, Order: order})
	}
	if len(s) == 0 {
		return nil, fmt.Errorf("sort needs at least one field")
	}
	return s, nil
}

func parseObject(arg string) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(arg), &m); err != nil || m == nil {
		return nil, fmt.Errorf("expected a JSON object, got %s", arg)
	}
	return m, nil
}

// parseDocuments reads a JSON object or an array of objects.
func parseDocuments(arg string) ([]engine.Document, bool, error) {
	if strings.HasPrefix(arg, "[") {
		var docs []engine.Document
		if err := json.Unmarshal([]byte(arg), &docs); err != nil {
			return nil, true, fmt.Errorf("expected an array of JSON objects")
		}
		for _, d := range docs {
			if d == nil {
				return nil, true, fmt.Errorf("expected an array of JSON objects")
			}
		}
		return docs, true, nil
	}
	m, err := parseObject(arg)
	if err != nil {
		return nil, false, err
	}
	return []engine.Document{m}, false, nil
}
