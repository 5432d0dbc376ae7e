package parser

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/kirbyfan64/wit/pkg/diag"
	"github.com/kirbyfan64/wit/pkg/lexer"
	"github.com/kirbyfan64/wit/pkg/token"
)

func compile(t *testing.T, src string) (string, error) {
	t.Helper()
	var toks []token.Token
	err := func() (err error) {
		defer diag.Recover(&err)
		toks = lexer.Tokenize([]rune(src))
		return nil
	}()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := Compile(toks, &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func mustCompile(t *testing.T, src string) string {
	t.Helper()
	out, err := compile(t, src)
	if err != nil {
		t.Fatalf("compile failed: %v\nsource:\n%s", err, src)
	}
	return out
}

func wantDiagnostic(t *testing.T, src, msgPart string) *diag.Diagnostic {
	t.Helper()
	_, err := compile(t, src)
	if err == nil {
		t.Fatalf("compile succeeded; want a diagnostic containing %q\nsource:\n%s", msgPart, src)
	}
	var d *diag.Diagnostic
	if !errors.As(err, &d) {
		t.Fatalf("error = %T (%v); want *diag.Diagnostic", err, err)
	}
	if !strings.Contains(d.Msg, msgPart) {
		t.Fatalf("diagnostic %q does not contain %q", d.Msg, msgPart)
	}
	return d
}

func TestConstantFolding(t *testing.T) {
	out := mustCompile(t, "var x: int begin x := 1 + 2 end")
	if !strings.Contains(out, "mov dword [g_x], 3") {
		t.Errorf("folded store missing:\n%s", out)
	}
	for _, op := range []string{"add", "imul", "idiv"} {
		if strings.Contains(out, op) {
			t.Errorf("folded expression still emits %q:\n%s", op, out)
		}
	}
}

func TestFoldingChain(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"2 * 3 + 4 / 2 - 1", "mov dword [g_x], 7"},
		{"1 << 4", "mov dword [g_x], 16"},
		{"-8 >> 1", "mov dword [g_x], -4"}, // arithmetic shift
		{"(1 + 2) * (3 + 4)", "mov dword [g_x], 21"},
		{"10 % 3", "mov dword [g_x], 1"},
		{"3 < 5", "mov dword [g_x], 1"},
		{"3 = 5", "mov dword [g_x], 0"},
		{"-(2 + 3)", "mov dword [g_x], -5"},
	}
	for _, tc := range tests {
		out := mustCompile(t, "var x: int begin x := "+tc.expr+" end")
		if !strings.Contains(out, tc.want) {
			t.Errorf("x := %s: missing %q:\n%s", tc.expr, tc.want, out)
		}
	}
}

func TestPrecedence(t *testing.T) {
	// 2 + 3 * 4 must fold to 14, not 20.
	out := mustCompile(t, "var x: int begin x := 2 + 3 * 4 end")
	if !strings.Contains(out, "mov dword [g_x], 14") {
		t.Errorf("precedence wrong:\n%s", out)
	}
	// Comparisons bind loosest: 1 + 1 = 2 is (1+1) = 2.
	out = mustCompile(t, "var x: int begin x := 1 + 1 = 2 end")
	if !strings.Contains(out, "mov dword [g_x], 1") {
		t.Errorf("comparison precedence wrong:\n%s", out)
	}
}

func TestConstCastMasks(t *testing.T) {
	out := mustCompile(t, "var b: byte begin b := 300 as byte end")
	if !strings.Contains(out, "mov byte [g_b], 44") {
		t.Errorf("const cast not masked to the target size:\n%s", out)
	}
}

func TestCastBindsAboveBinary(t *testing.T) {
	// x as long * 2 must parse as (x as long) * 2: the multiply happens at
	// size 8.
	out := mustCompile(t, "var x: int var l: long begin l := x as long * 2 end")
	if !strings.Contains(out, "imul rbx") && !strings.Contains(out, "imul qword") {
		t.Errorf("multiply not widened to 8 bytes:\n%s", out)
	}
}

func TestComparisonEmitsSetcc(t *testing.T) {
	out := mustCompile(t, "var x, a, b: int begin x := a < b end")
	for _, want := range []string{"cmp", "setl", "movzx"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q:\n%s", want, out)
		}
	}
}

func TestDivisionSavesLiveAccumulator(t *testing.T) {
	// (a + b) holds rax while c / d needs it.
	out := mustCompile(t, "var x, a, b, c, d: int begin x := (a + b) + c / d end")
	if !strings.Contains(out, "push rax") || !strings.Contains(out, "pop rax") {
		t.Errorf("live accumulator not preserved around division:\n%s", out)
	}
}

func TestGlobals(t *testing.T) {
	out := mustCompile(t, "var x: int export var total: long begin x := 0 end")
	for _, want := range []string{"section .bss", "g_x: resd 1", "global total", "total: resq 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "global g_x") {
		t.Errorf("non-exported global leaked a directive:\n%s", out)
	}
}

func TestLocalsGetAFrame(t *testing.T) {
	out := mustCompile(t, "begin var a, b: int a := 1 b := a end")
	for _, want := range []string{"push rbp", "mov rbp, rsp", "sub rsp, 8", "[rbp-4]", "[rbp-8]", "mov rsp, rbp", "pop rbp"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q:\n%s", want, out)
		}
	}
}

func TestNoFrameWithoutLocals(t *testing.T) {
	out := mustCompile(t, "var x: int begin x := 1 end")
	if strings.Contains(out, "rbp") {
		t.Errorf("frame emitted for a program with no locals:\n%s", out)
	}
}

func TestProgramExit(t *testing.T) {
	out := mustCompile(t, "begin end")
	for _, want := range []string{"section .text", "global _start", "_start:", "mov rax, 60", "mov rdi, 0", "syscall"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q:\n%s", want, out)
		}
	}
}

func TestWriteln(t *testing.T) {
	out := mustCompile(t, "begin writeln() end")
	for _, want := range []string{"section .data", "newline: db 10", "mov rsi, newline"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q:\n%s", want, out)
		}
	}
}

func TestNewlineDataOnlyWhenUsed(t *testing.T) {
	out := mustCompile(t, "var x: int begin x := 1 end")
	if strings.Contains(out, "section .data") {
		t.Errorf(".data section emitted without writeln:\n%s", out)
	}
}

func TestDtoi(t *testing.T) {
	out := mustCompile(t, "var n: int begin n := dtoi('7') end")
	if !strings.Contains(out, "sub eax, 48") {
		t.Errorf("missing digit conversion:\n%s", out)
	}
}

func TestEndToEndKitchenSink(t *testing.T) {
	src := `
var buf: int[8]
var p: int*
export var total: long

begin
  var i: int
  var c: char
  i := 2
  buf[0] := 10
  buf[i] := buf[0] * 3
  buf[i + 1] := buf[i] % 7
  p := &buf[0]
  p[3] := p[0] + 1
  c := '9'
  total := (dtoi(c) + buf[2]) as long << 2
  writeln()
end`
	out := mustCompile(t, src)
	if !strings.Contains(out, "_start:") {
		t.Fatalf("no entry point:\n%s", out)
	}
}

func TestAssignTypeMismatch(t *testing.T) {
	wantDiagnostic(t, "var x: int var l: long begin x := l end", "cannot assign long to int")
	wantDiagnostic(t, "var b: byte var c: char begin b := c end", "cannot assign char to byte")
	wantDiagnostic(t, "var p: int* var q: long* begin p := q end", "cannot assign long* to int*")
}

func TestArrayAssignmentRejected(t *testing.T) {
	// Structurally equal array types pass the equality check but have no
	// single-register store; they must be rejected with a diagnostic, not an
	// internal fault.
	wantDiagnostic(t, "var a, b: int[4] begin a := b end", "cannot assign a value of array type")
	wantDiagnostic(t, "var a, b: byte[3] begin a := b end", "cannot assign a value of array type")
}

func TestDivisionByZero(t *testing.T) {
	wantDiagnostic(t, "var x: int begin x := 1 / 0 end", "division by zero")
	wantDiagnostic(t, "var x: int begin x := 1 % 0 end", "division by zero")
}

func TestUndeclaredIdentifier(t *testing.T) {
	d := wantDiagnostic(t, "var x: int\nbegin\n  x := q\nend", "undeclared identifier 'q'")
	if d.Line != 3 || d.Column != 8 {
		t.Errorf("diagnostic at %d:%d; want 3:8", d.Line, d.Column)
	}
}

func TestDuplicateDeclaration(t *testing.T) {
	wantDiagnostic(t, "var x: int var x: long begin end", "already declared")
}

func TestLocalMayShadowGlobal(t *testing.T) {
	mustCompile(t, "var x: int begin var x: long x := 1 as long end")
}

func TestOperatorTypeErrors(t *testing.T) {
	wantDiagnostic(t, "var a: int[4] var x: int begin x := a + 1 end", "not defined for int[4]")
	wantDiagnostic(t, "var p: int* var x: int begin x := p * 2 end", "not defined for int*")
	wantDiagnostic(t, "var p: int* var q: long* var x: int begin x := p + q end", "not defined for")
}

func TestIndexingErrors(t *testing.T) {
	wantDiagnostic(t, "var x, y: int begin x := y[0] end", "cannot be indexed")
	wantDiagnostic(t, "var a: int[4] var p: int* var x: int begin x := a[p] end", "cannot be an index")
}

func TestArrayBoundErrors(t *testing.T) {
	wantDiagnostic(t, "var a: int[0] begin end", "array bound must be a positive constant")
	wantDiagnostic(t, "var n: int var a: int[n] begin end", "array bound must be a positive constant")
}

func TestCallErrors(t *testing.T) {
	wantDiagnostic(t, "begin writeln(1) end", "writeln expects 0 argument(s), got 1")
	wantDiagnostic(t, "var n: int begin n := dtoi(5) end", "argument 1 of dtoi must be char, not int")
	wantDiagnostic(t, "var n: int begin n := dtoi() end", "dtoi expects 1 argument(s), got 0")
}

func TestCastErrors(t *testing.T) {
	wantDiagnostic(t, "var a: int[4] var x: int begin x := a as int end", "cannot cast")
}

func TestAddressOfErrors(t *testing.T) {
	wantDiagnostic(t, "var p: int* begin p := &3 end", "cannot take the address")
}

func TestExportedLocalRejected(t *testing.T) {
	wantDiagnostic(t, "begin export var x: int x := 1 end", "only global variables can be exported")
}

func TestNegateNonBuiltin(t *testing.T) {
	wantDiagnostic(t, "var a: int[4] var p: int* begin p := -(&a[0]) end", "cannot negate")
}

func TestTrailingInput(t *testing.T) {
	wantDiagnostic(t, "begin end begin", "unexpected input after 'end'")
}

func TestTypeNameMisuse(t *testing.T) {
	wantDiagnostic(t, "var x: int begin x := int end", "'int' names a type")
	wantDiagnostic(t, "var x: y begin end", "'y' is not a type")
}
