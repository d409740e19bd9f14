package shell

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"github.com/kartikbazzad/bunbase/bunstore/engine"
)

// Result is the output of one command.
type Result interface {
	Print(w io.Writer)
	IsExit() bool
}

type ErrorResult struct {
	Err string
}

func (e ErrorResult) Print(w io.Writer) {
	fmt.Fprintln(w, "ERROR")
	fmt.Fprintln(w, e.Err)
}

func (e ErrorResult) IsExit() bool { return false }

type ExitResult struct{}

func (ExitResult) Print(w io.Writer) {}

func (ExitResult) IsExit() bool { return true }

type OKResult struct {
	Detail string
}

func (o OKResult) Print(w io.Writer) {
	fmt.Fprintln(w, "OK")
	if o.Detail != "" {
		fmt.Fprintln(w, o.Detail)
	}
}

func (OKResult) IsExit() bool { return false }

// DocsResult prints one document per line.
type DocsResult struct {
	Docs   []engine.Document
	Pretty bool
}

func (r DocsResult) Print(w io.Writer) {
	fmt.Fprintln(w, "OK")
	fmt.Fprintf(w, "count=%d\n", len(r.Docs))
	for _, d := range r.Docs {
		var (
			out []byte
			err error
		)
		if r.Pretty {
			out, err = json.MarshalIndent(d, "", "  ")
		} else {
			out, err = json.Marshal(d)
		}
		if err != nil {
			fmt.Fprintf(w, "%v\n", d)
			continue
		}
		fmt.Fprintln(w, string(out))
	}
}

func (DocsResult) IsExit() bool { return false }

type HelpResult struct{}

func (HelpResult) Print(w io.Writer) {
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  .help                                   Show this help message")
	fmt.Fprintln(w, "  .exit                                   Exit the shell")
	fmt.Fprintln(w, "  .pretty on|off                          Toggle JSON formatting")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Documents:")
	fmt.Fprintln(w, "  .insert <doc|[docs]>                    Insert one or many documents")
	fmt.Fprintln(w, "  .find [query] [proj] [sort=..] [skip=n] [limit=n]")
	fmt.Fprintln(w, "  .findone [query] [proj]                 First matching document")
	fmt.Fprintln(w, "  .count [query]                          Count matching documents")
	fmt.Fprintln(w, "  .update <query> <update> [multi] [upsert] [returnupdateddocs]")
	fmt.Fprintln(w, "  .remove <query> [multi]                 Remove matching documents")
	fmt.Fprintln(w, "  .all                                    Every stored document")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Indexes and storage:")
	fmt.Fprintln(w, "  .index <field> [unique] [sparse]        Ensure an index")
	fmt.Fprintln(w, "  .dropindex <field>                      Remove an index")
	fmt.Fprintln(w, "  .indexes                                List indexes")
	fmt.Fprintln(w, "  .compact                                Compact the datafile")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Sort accepts a,-b or a JSON array:")
	fmt.Fprintln(w, `  .find {"age":{"$gt":18}} {"name":1} sort=-age limit=5`)
}

func (HelpResult) IsExit() bool { return false }
