package lexer

import (
	"errors"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kirbyfan64/wit/pkg/diag"
	"github.com/kirbyfan64/wit/pkg/token"
)

func tokenize(t *testing.T, src string) []token.Token {
	t.Helper()
	var toks []token.Token
	err := func() (err error) {
		defer diag.Recover(&err)
		toks = Tokenize([]rune(src))
		return nil
	}()
	if err != nil {
		t.Fatalf("Tokenize(%q) failed: %v", src, err)
	}
	return toks
}

func tokenizeErr(t *testing.T, src string) error {
	t.Helper()
	err := func() (err error) {
		defer diag.Recover(&err)
		Tokenize([]rune(src))
		return nil
	}()
	if err == nil {
		t.Fatalf("Tokenize(%q) succeeded; want a diagnostic", src)
	}
	return err
}

func kinds(toks []token.Token) []token.Type {
	out := make([]token.Type, len(toks))
	for i, tok := range toks {
		out[i] = tok.Type
	}
	return out
}

func TestTokenStream(t *testing.T) {
	tests := []struct {
		src  string
		want []token.Type
	}{
		{"var x: int", []token.Type{token.Var, token.Ident, token.Colon, token.Ident, token.EOF}},
		{"begin end", []token.Type{token.Begin, token.End, token.EOF}},
		{"x := y + 1", []token.Type{token.Ident, token.Assign, token.Ident, token.Plus, token.Number, token.EOF}},
		{"a[i] := b * 2", []token.Type{token.Ident, token.LBracket, token.Ident, token.RBracket,
			token.Assign, token.Ident, token.Star, token.Number, token.EOF}},
		{"p := &a", []token.Type{token.Ident, token.Assign, token.Amp, token.Ident, token.EOF}},
		{"x as long", []token.Type{token.Ident, token.As, token.Ident, token.EOF}},
		{"export var t: byte*", []token.Type{token.Export, token.Var, token.Ident, token.Colon,
			token.Ident, token.Star, token.EOF}},
		{"a << 1 >> 2", []token.Type{token.Ident, token.Shl, token.Number, token.Shr, token.Number, token.EOF}},
		{"a <= b >= c < d > e", []token.Type{token.Ident, token.Lte, token.Ident, token.Gte,
			token.Ident, token.Lt, token.Ident, token.Gt, token.Ident, token.EOF}},
		{"a = b != c", []token.Type{token.Ident, token.Eq, token.Ident, token.Neq, token.Ident, token.EOF}},
		{"a / b % c - d", []token.Type{token.Ident, token.Slash, token.Ident, token.Rem,
			token.Ident, token.Minus, token.Ident, token.EOF}},
		{"f(x, y)", []token.Type{token.Ident, token.LParen, token.Ident, token.Comma,
			token.Ident, token.RParen, token.EOF}},
	}
	for _, tc := range tests {
		got := kinds(tokenize(t, tc.src))
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("Tokenize(%q) mismatch (-want +got):\n%s", tc.src, diff)
		}
	}
}

func TestNumberLiterals(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"0", "0"},
		{"42", "42"},
		{"0x10", "16"},
		{"0xff", "255"},
		{"0XFF", "255"},
		// Leading zeros are still decimal, never octal.
		{"010", "10"},
		{"09", "9"},
		{"007", "7"},
	}
	for _, tc := range tests {
		toks := tokenize(t, tc.src)
		if toks[0].Type != token.Number || toks[0].Value != tc.want {
			t.Errorf("Tokenize(%q) = %s %q; want Number %q", tc.src, toks[0].Type, toks[0].Value, tc.want)
		}
	}
}

func TestCharLiterals(t *testing.T) {
	tests := []struct {
		src  string
		want int64
	}{
		{`'a'`, 'a'},
		{`'0'`, '0'},
		{`'\n'`, '\n'},
		{`'\t'`, '\t'},
		{`'\r'`, '\r'},
		{`'\0'`, 0},
		{`'\\'`, '\\'},
		{`'\''`, '\''},
	}
	for _, tc := range tests {
		toks := tokenize(t, tc.src)
		if toks[0].Type != token.CharLit {
			t.Fatalf("Tokenize(%q) = %s; want CharLit", tc.src, toks[0].Type)
		}
		if toks[0].Value != strconv.FormatInt(tc.want, 10) {
			t.Errorf("Tokenize(%q) value = %q; want %d", tc.src, toks[0].Value, tc.want)
		}
	}
}

func TestComments(t *testing.T) {
	src := "x # anything goes here: := begin 'unclosed\n_STDOUT\n# := 1"
	want := []token.Type{token.Ident, token.Assign, token.Number, token.EOF}
	got := kinds(tokenize(t, src))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("comment not skipped (-want +got):\n%s", diff)
	}
}

func TestCommentToggle(t *testing.T) {
	// Two comment blocks; the code between them must survive.
	src := "# one # x # two # := 1"
	want := []token.Type{token.Ident, token.Assign, token.Number, token.EOF}
	got := kinds(tokenize(t, src))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("toggled comments mishandled (-want +got):\n%s", diff)
	}
}

func TestPositions(t *testing.T) {
	toks := tokenize(t, "var x: int\nbegin\n  x := 1\nend")
	tests := []struct {
		idx        int
		line, col  int
	}{
		{0, 1, 1},  // var
		{1, 1, 5},  // x
		{4, 2, 1},  // begin
		{5, 3, 3},  // x
		{6, 3, 5},  // :=
		{7, 3, 8},  // 1
		{8, 4, 1},  // end
	}
	for _, tc := range tests {
		tok := toks[tc.idx]
		if tok.Line != tc.line || tok.Column != tc.col {
			t.Errorf("token %d (%s) at %d:%d; want %d:%d", tc.idx, tok.Type, tok.Line, tok.Column, tc.line, tc.col)
		}
	}
}

func TestLexDiagnostics(t *testing.T) {
	tests := []struct {
		src string
	}{
		{"x := @"},
		{"# never closed"},
		{"c := 'ab"},
		{`c := '\q'`},
		{"x := !y"}, // lone ! is not an operator
	}
	for _, tc := range tests {
		err := tokenizeErr(t, tc.src)
		var d *diag.Diagnostic
		if !errors.As(err, &d) {
			t.Errorf("Tokenize(%q) error = %T; want *diag.Diagnostic", tc.src, err)
		}
	}
}
