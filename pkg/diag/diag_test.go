package diag

import (
	"os"
	"strings"
	"testing"
)

func TestPrintShowsSourceLineWithoutTerminal(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "diag-*")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	src := []rune("var x: int\nbegin\n  x := q\nend\n")
	Print(f, "test.wit", src, &Diagnostic{Line: 3, Column: 8, Len: 1, Msg: "undeclared identifier 'q'"})

	data, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)

	if !strings.Contains(out, "test.wit:3:8") {
		t.Errorf("position header missing:\n%s", out)
	}
	if !strings.Contains(out, "x := q") {
		t.Errorf("source line missing:\n%s", out)
	}
	if !strings.Contains(out, "       ^") {
		t.Errorf("caret missing or misplaced:\n%s", out)
	}
	if strings.Contains(out, "\033[") {
		t.Errorf("ANSI escapes written to a non-terminal stream:\n%s", out)
	}
}

func TestPrintCaretSpansToken(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "diag-*")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	src := []rune("x := value\n")
	Print(f, "test.wit", src, &Diagnostic{Line: 1, Column: 6, Len: 5, Msg: "undeclared identifier 'value'"})

	data, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "^~~~~") {
		t.Errorf("caret does not span the token:\n%s", data)
	}
}
