// Package shell is an interactive prompt over a Store.
package shell

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"

	"github.com/kartikbazzad/bunbase/bunstore"
	"github.com/kartikbazzad/bunbase/bunstore/engine"
)

const prompt = "bunstore> "

var commandNames = []string{
	".help", ".exit", ".pretty", ".insert", ".find", ".findone", ".count",
	".update", ".remove", ".all", ".index", ".dropindex", ".indexes", ".compact",
}

// Shell executes commands against one store.
type Shell struct {
	store  *bunstore.Store
	pretty bool
}

func New(store *bunstore.Store) *Shell {
	return &Shell{store: store}
}

// Run reads commands from the terminal until .exit or end of input. history
// names a file to load and save line history; empty disables it.
func (s *Shell) Run(out io.Writer, history string) error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(in string) []string {
		var c []string
		for _, name := range commandNames {
			if strings.HasPrefix(name, strings.ToLower(in)) {
				c = append(c, name)
			}
		}
		return c
	})
	if history != "" {
		if f, err := os.Open(history); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
		defer func() {
			if f, err := os.Create(history); err == nil {
				line.WriteHistory(f)
				f.Close()
			}
		}()
	}

	fmt.Fprintln(out, "Type '.help' for commands.")
	for {
		input, err := line.Prompt(prompt)
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			fmt.Fprintln(out)
			return nil
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(input) == "" {
			continue
		}
		line.AppendHistory(input)

		if s.ExecuteLine(out, input) {
			return nil
		}
	}
}

// ExecuteLine parses and runs one line, printing its result to out. It
// reports whether the shell should exit.
func (s *Shell) ExecuteLine(out io.Writer, input string) bool {
	cmd, err := Parse(input)
	if err != nil {
		ErrorResult{Err: err.Error()}.Print(out)
		fmt.Fprintln(out)
		return false
	}
	result := s.Execute(cmd)
	if result.IsExit() {
		return true
	}
	result.Print(out)
	fmt.Fprintln(out)
	return false
}

// Execute runs cmd and waits for its result.
func (s *Shell) Execute(cmd *Command) Result {
	var (
		res Result
		err error
	)
	switch cmd.Name {
	case ".help":
		return HelpResult{}
	case ".exit", ".quit":
		return ExitResult{}
	case ".pretty":
		res, err = s.setPretty(cmd)
	case ".insert":
		res, err = s.insert(cmd)
	case ".find":
		res, err = s.find(cmd)
	case ".findone":
		res, err = s.findOne(cmd)
	case ".count":
		res, err = s.count(cmd)
	case ".update":
		res, err = s.update(cmd)
	case ".remove":
		res, err = s.remove(cmd)
	case ".all":
		res = s.docs(s.store.GetAllData())
	case ".index":
		res, err = s.ensureIndex(cmd)
	case ".dropindex":
		res, err = s.dropIndex(cmd)
	case ".indexes":
		res = s.indexes()
	case ".compact":
		_, err = s.store.CompactDatafile().Await()
		res = OKResult{}
	default:
		return ErrorResult{Err: fmt.Sprintf("unknown command: %s", cmd.Name)}
	}
	if err != nil {
		return ErrorResult{Err: err.Error()}
	}
	return res
}

func (s *Shell) docs(docs []engine.Document) DocsResult {
	return DocsResult{Docs: docs, Pretty: s.pretty}
}

func (s *Shell) setPretty(cmd *Command) (Result, error) {
	if err := ValidateArgs(cmd, 1); err != nil {
		return nil, err
	}
	switch strings.ToLower(cmd.Args[0]) {
	case "on":
		s.pretty = true
	case "off":
		s.pretty = false
	default:
		return nil, fmt.Errorf("usage: .pretty on|off")
	}
	return OKResult{}, nil
}

func (s *Shell) insert(cmd *Command) (Result, error) {
	if err := ValidateArgs(cmd, 1); err != nil {
		return nil, err
	}
	docs, many, err := parseDocuments(cmd.Args[0])
	if err != nil {
		return nil, err
	}
	if many {
		inserted, err := s.store.InsertMany(docs).Await()
		if err != nil {
			return nil, err
		}
		return s.docs(inserted), nil
	}
	doc, err := s.store.Insert(docs[0]).Await()
	if err != nil {
		return nil, err
	}
	return s.docs([]engine.Document{doc}), nil
}

func (s *Shell) find(cmd *Command) (Result, error) {
	fa, err := parseFindArgs(cmd.Args)
	if err != nil {
		return nil, err
	}
	cur := s.store.FindWithCursor(fa.query, fa.projection)
	if fa.sort != nil {
		cur = cur.Sort(fa.sort)
	}
	if fa.skip != nil {
		cur = cur.Skip(*fa.skip)
	}
	if fa.limit != nil {
		cur = cur.Limit(*fa.limit)
	}
	docs, err := cur.Exec().Await()
	if err != nil {
		return nil, err
	}
	return s.docs(docs), nil
}

func (s *Shell) findOne(cmd *Command) (Result, error) {
	fa, err := parseFindArgs(cmd.Args)
	if err != nil {
		return nil, err
	}
	doc, err := s.store.FindOne(fa.query, fa.projection).Await()
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return s.docs(nil), nil
	}
	return s.docs([]engine.Document{doc}), nil
}

func (s *Shell) count(cmd *Command) (Result, error) {
	fa, err := parseFindArgs(cmd.Args)
	if err != nil {
		return nil, err
	}
	n, err := s.store.CountWithCursor(fa.query).Exec().Await()
	if err != nil {
		return nil, err
	}
	return OKResult{Detail: fmt.Sprintf("count=%d", n)}, nil
}

func (s *Shell) update(cmd *Command) (Result, error) {
	if err := ValidateArgs(cmd, 2); err != nil {
		return nil, err
	}
	q, err := parseObject(cmd.Args[0])
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	u, err := parseObject(cmd.Args[1])
	if err != nil {
		return nil, fmt.Errorf("update: %w", err)
	}
	opts := engine.UpdateOptions{}
	for _, flag := range cmd.Args[2:] {
		switch strings.ToLower(flag) {
		case "multi":
			opts.Multi = true
		case "upsert":
			opts.Upsert = true
		case "returnupdateddocs":
			opts.ReturnUpdatedDocs = true
		default:
			return nil, fmt.Errorf("unknown flag %s", flag)
		}
	}

	res, err := s.store.Update(engine.Query(q), engine.Document(u), &opts).Await()
	if err != nil {
		return nil, err
	}
	if len(res.Affected) > 0 {
		out := s.docs(res.Affected)
		return updateResult{DocsResult: out, n: res.NumAffected, upsert: res.Upsert}, nil
	}
	return OKResult{Detail: fmt.Sprintf("affected=%d upsert=%t", res.NumAffected, res.Upsert)}, nil
}

type updateResult struct {
	DocsResult
	n      int
	upsert bool
}

func (r updateResult) Print(w io.Writer) {
	fmt.Fprintf(w, "affected=%d upsert=%t\n", r.n, r.upsert)
	r.DocsResult.Print(w)
}

func (s *Shell) remove(cmd *Command) (Result, error) {
	if err := ValidateArgs(cmd, 1); err != nil {
		return nil, err
	}
	q, err := parseObject(cmd.Args[0])
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	opts := engine.RemoveOptions{}
	for _, flag := range cmd.Args[1:] {
		if strings.ToLower(flag) != "multi" {
			return nil, fmt.Errorf("unknown flag %s", flag)
		}
		opts.Multi = true
	}
	n, err := s.store.Remove(engine.Query(q), &opts).Await()
	if err != nil {
		return nil, err
	}
	return OKResult{Detail: fmt.Sprintf("removed=%d", n)}, nil
}

func (s *Shell) ensureIndex(cmd *Command) (Result, error) {
	if err := ValidateArgs(cmd, 1); err != nil {
		return nil, err
	}
	spec := engine.IndexSpec{FieldName: cmd.Args[0]}
	for _, flag := range cmd.Args[1:] {
		switch strings.ToLower(flag) {
		case "unique":
			spec.Unique = true
		case "sparse":
			spec.Sparse = true
		default:
			return nil, fmt.Errorf("unknown flag %s", flag)
		}
	}
	if _, err := s.store.EnsureIndex(spec).Await(); err != nil {
		return nil, err
	}
	return OKResult{}, nil
}

func (s *Shell) dropIndex(cmd *Command) (Result, error) {
	if err := ValidateArgs(cmd, 1); err != nil {
		return nil, err
	}
	if _, err := s.store.RemoveIndex(cmd.Args[0]).Await(); err != nil {
		return nil, err
	}
	return OKResult{}, nil
}

func (s *Shell) indexes() Result {
	var b strings.Builder
	for i, spec := range s.store.Indexes() {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s unique=%t sparse=%t", spec.FieldName, spec.Unique, spec.Sparse)
	}
	return OKResult{Detail: b.String()}
}
