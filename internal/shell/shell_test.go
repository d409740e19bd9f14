package shell

import (
	"strings"
	"testing"

	"github.com/kartikbazzad/bunbase/bunstore"
)

func TestParse(t *testing.T) {
	tests := []struct {
		line    string
		name    string
		args    []string
		wantErr bool
	}{
		{".help", ".help", nil, false},
		{`.FIND {"a": 1, "b": [1, 2]} limit=2`, ".find", []string{`{"a": 1, "b": [1, 2]}`, "limit=2"}, false},
		{`.insert {"s":"a } b"}`, ".insert", []string{`{"s":"a } b"}`}, false},
		{`.insert {"s":"quote \" }"}`, ".insert", []string{`{"s":"quote \" }"}`}, false},
		{"   ", "", nil, true},
		{"find {}", "", nil, true},
		{`.find {"a":1`, "", nil, true},
		{`.find {"a":"x}`, "", nil, true},
		{`.find ]`, "", nil, true},
	}

	for _, tt := range tests {
		cmd, err := Parse(tt.line)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Parse(%q) should error", tt.line)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q): %v", tt.line, err)
			continue
		}
		if cmd.Name != tt.name || strings.Join(cmd.Args, "|") != strings.Join(tt.args, "|") {
			t.Errorf("Parse(%q) = %s %q, want %s %q", tt.line, cmd.Name, cmd.Args, tt.name, tt.args)
		}
	}
}

func TestParseSort(t *testing.T) {
	s, err := parseSort("a,-b,+c")
	if err != nil {
		t.Fatalf("parseSort: %v", err)
	}
	if len(s) != 3 || s[0].Order != 1 || s[1].Field != "b" || s[1].Order != -1 || s[2].Field != "c" {
		t.Fatalf("parseSort = %v", s)
	}

	s, err = parseSort(`[{"field":"x","order":-1}]`)
	if err != nil || len(s) != 1 || s[0].Field != "x" || s[0].Order != -1 {
		t.Fatalf("parseSort(json) = %v, %v", s, err)
	}

	if _, err := parseSort(","); err == nil {
		t.Error("empty sort should error")
	}
}

func TestParseFindArgs(t *testing.T) {
	fa, err := parseFindArgs([]string{`{"a":1}`, `{"a":1,"_id":0}`, "sort=-a", "skip=1", "limit=2"})
	if err != nil {
		t.Fatalf("parseFindArgs: %v", err)
	}
	if fa.query["a"] != 1.0 || fa.projection["_id"] != 0 || *fa.skip != 1 || *fa.limit != 2 || fa.sort[0].Order != -1 {
		t.Fatalf("parseFindArgs = %+v", fa)
	}

	for _, args := range [][]string{
		{"{}", "{}", "{}"},
		{"skip=x"},
		{"limit=x"},
		{"where=1"},
		{"sideways"},
		{`{"a":`},
		{"{}", `{"a":"yes"}`},
	} {
		if _, err := parseFindArgs(args); err == nil {
			t.Errorf("parseFindArgs(%q) should error", args)
		}
	}
}

func newShell(t *testing.T) *Shell {
	t.Helper()
	store, err := bunstore.Open(bunstore.Options{InMemoryOnly: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store)
}

func run(t *testing.T, sh *Shell, line string) string {
	t.Helper()
	var out strings.Builder
	if sh.ExecuteLine(&out, line) {
		t.Fatalf("%s exited the shell", line)
	}
	return out.String()
}

func TestShell_Session(t *testing.T) {
	sh := newShell(t)

	if out := run(t, sh, `.insert [{"n":"a","v":1},{"n":"b","v":2},{"n":"c","v":3}]`); !strings.Contains(out, "count=3") {
		t.Fatalf("insert many:\n%s", out)
	}
	if out := run(t, sh, `.insert {"n":"d","v":4}`); !strings.Contains(out, `"n":"d"`) {
		t.Fatalf("insert:\n%s", out)
	}

	out := run(t, sh, `.find {"v":{"$gte":2}} {"n":1,"_id":0} sort=-v skip=1 limit=2`)
	want := "OK\ncount=2\n{\"n\":\"c\"}\n{\"n\":\"b\"}\n\n"
	if out != want {
		t.Fatalf("find:\n%q\nwant\n%q", out, want)
	}

	if out := run(t, sh, `.count {"v":{"$lt":3}}`); !strings.Contains(out, "count=2") {
		t.Fatalf("count:\n%s", out)
	}
	if out := run(t, sh, `.findone {"n":"zz"}`); !strings.Contains(out, "count=0") {
		t.Fatalf("findone without match:\n%s", out)
	}

	out = run(t, sh, `.update {"n":"a"} {"$set":{"v":10}} returnUpdatedDocs`)
	if !strings.Contains(out, "affected=1 upsert=false") || !strings.Contains(out, `"v":10`) {
		t.Fatalf("update:\n%s", out)
	}
	if out := run(t, sh, `.update {"n":"e"} {"n":"e","v":5} upsert`); !strings.Contains(out, "upsert=true") {
		t.Fatalf("upsert:\n%s", out)
	}

	if out := run(t, sh, ".index n unique"); !strings.HasPrefix(out, "OK") {
		t.Fatalf("index:\n%s", out)
	}
	if out := run(t, sh, ".indexes"); !strings.Contains(out, "n unique=true sparse=false") {
		t.Fatalf("indexes:\n%s", out)
	}
	if out := run(t, sh, `.insert {"n":"a"}`); !strings.HasPrefix(out, "ERROR") {
		t.Fatalf("duplicate insert should fail:\n%s", out)
	}
	if out := run(t, sh, ".dropindex n"); !strings.HasPrefix(out, "OK") {
		t.Fatalf("dropindex:\n%s", out)
	}

	if out := run(t, sh, `.remove {} multi`); !strings.Contains(out, "removed=5") {
		t.Fatalf("remove:\n%s", out)
	}
	if out := run(t, sh, ".all"); !strings.Contains(out, "count=0") {
		t.Fatalf("all:\n%s", out)
	}
	if out := run(t, sh, ".compact"); !strings.HasPrefix(out, "OK") {
		t.Fatalf("compact:\n%s", out)
	}
}

func TestShell_Errors(t *testing.T) {
	sh := newShell(t)

	for _, line := range []string{
		".bogus",
		".insert",
		".insert 42",
		`.insert [{"a":1},3]`,
		`.update {}`,
		`.update {} {"$set":{"a":1}} sideways`,
		`.remove {} twice`,
		".index a clustered",
		".pretty maybe",
		`.find {"a":{"$nope":1}}`,
		".dropindex _id",
		"no-dot",
	} {
		if out := run(t, sh, line); !strings.HasPrefix(out, "ERROR") {
			t.Errorf("%s should fail, got:\n%s", line, out)
		}
	}

	var out strings.Builder
	if !sh.ExecuteLine(&out, ".exit") {
		t.Fatal(".exit should end the session")
	}
}

func TestShell_Pretty(t *testing.T) {
	sh := newShell(t)
	run(t, sh, `.insert {"_id":"x","a":1}`)
	run(t, sh, ".pretty on")
	if out := run(t, sh, ".all"); !strings.Contains(out, "{\n  ") {
		t.Fatalf("pretty output:\n%s", out)
	}
}
