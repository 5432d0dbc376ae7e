package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/kirbyfan64/wit/pkg/cli"
	"github.com/kirbyfan64/wit/pkg/diag"
	"github.com/kirbyfan64/wit/pkg/lexer"
	"github.com/kirbyfan64/wit/pkg/parser"
	"github.com/kirbyfan64/wit/pkg/token"
)

func main() {
	app := cli.NewApp("wit")
	app.Synopsis = "[options] [input.wit]"
	app.Description = "A single-pass compiler for the wit programming language, emitting x86-64 assembly for Linux. Reads from stdin when no input file is given."

	var outFile, buildFile string
	fs := app.FlagSet
	fs.String(&outFile, "output", "o", "", "Write the generated assembly to <file> instead of stdout.", "file")
	fs.String(&buildFile, "build", "b", "", "Assemble and link an executable at <file> (requires nasm and ld).", "file")

	app.Action = func(args []string) error {
		return compile(args, outFile, buildFile)
	}

	if err := app.Run(os.Args[1:]); err != nil {
		var fault *diag.Fault
		if errors.As(err, &fault) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func compile(args []string, outFile, buildFile string) error {
	filename := "<stdin>"
	var content []byte
	var err error
	switch len(args) {
	case 0:
		content, err = io.ReadAll(os.Stdin)
	case 1:
		filename = args[0]
		content, err = os.ReadFile(filename)
	default:
		return fmt.Errorf("expected at most one input file, got %d", len(args))
	}
	if err != nil {
		return fmt.Errorf("could not read %s: %w", filename, err)
	}

	src := []rune(string(content))
	var asm bytes.Buffer

	toks, err := tokenize(src)
	if err == nil {
		err = parser.Compile(toks, &asm)
	}
	if err != nil {
		diag.Print(os.Stderr, filename, src, err)
		return err
	}

	if buildFile != "" {
		return buildExecutable(buildFile, asm.Bytes())
	}
	if outFile != "" {
		return os.WriteFile(outFile, asm.Bytes(), 0o644)
	}
	_, err = os.Stdout.Write(asm.Bytes())
	return err
}

func tokenize(src []rune) (toks []token.Token, err error) {
	defer diag.Recover(&err)
	return lexer.Tokenize(src), nil
}

func buildExecutable(outFile string, asm []byte) error {
	dir, err := os.MkdirTemp("", "wit-*")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(dir)

	asmPath := filepath.Join(dir, "out.asm")
	objPath := filepath.Join(dir, "out.o")
	if err := os.WriteFile(asmPath, asm, 0o644); err != nil {
		return fmt.Errorf("failed to write assembly: %w", err)
	}

	cmd := exec.Command("nasm", "-f", "elf64", "-o", objPath, asmPath)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("nasm failed: %w\nOutput:\n%s", err, output)
	}
	cmd = exec.Command("ld", "-o", outFile, objPath)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ld failed: %w\nOutput:\n%s", err, output)
	}
	return nil
}
