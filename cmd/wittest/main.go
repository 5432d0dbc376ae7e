// wittest runs the end-to-end compiler test suite: every tests/*.wit file is
// compiled, assembled with nasm, linked with ld and executed, and its output
// is compared against the expectations embedded in the file's comments.
//
// A test file carries its expectations between two '#' marker lines:
//
//	#
//	_STDOUT
//	<expected program output>
//	#
//
// A block starting with _STDERR instead declares that compilation must fail
// and that the diagnostic must contain the block's text.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/go-cmp/cmp"

	"github.com/kirbyfan64/wit/pkg/diag"
	"github.com/kirbyfan64/wit/pkg/lexer"
	"github.com/kirbyfan64/wit/pkg/parser"
)

var (
	testFiles  = flag.String("test-files", "tests/*.wit", "Glob pattern(s) for files to test (space-separated).")
	skipFiles  = flag.String("skip-files", "", "Files to skip (space-separated).")
	outputJSON = flag.String("output", ".test_results.json", "Output file for the JSON test report.")
	timeout    = flag.Duration("timeout", 5*time.Second, "Timeout for each assembled binary.")
	jobs       = flag.Int("j", 4, "Number of parallel test jobs.")
	verbose    = flag.Bool("v", false, "Enable verbose logging.")
)

const (
	cRed    = "\x1b[91m"
	cYellow = "\x1b[93m"
	cGreen  = "\x1b[92m"
	cCyan   = "\x1b[96m"
	cBold   = "\x1b[1m"
	cNone   = "\x1b[0m"
)

type FileTestResult struct {
	File     string        `json:"file"`
	Status   string        `json:"status"` // PASS, FAIL, SKIP, ERROR
	Message  string        `json:"message,omitempty"`
	Diff     string        `json:"diff,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// expectation is what a test file declares about its own behavior.
type expectation struct {
	stdout       string
	stderr       string
	compileFails bool
}

func main() {
	flag.Parse()
	log.SetFlags(0)

	tempDir, err := os.MkdirTemp("", "wittest-*")
	if err != nil {
		log.Fatalf("%s[ERROR]%s Failed to create temp directory: %v\n", cRed, cNone, err)
	}
	defer os.RemoveAll(tempDir)

	files, err := expandGlobPatterns(*testFiles)
	if err != nil {
		log.Fatalf("%s[ERROR]%s Invalid glob pattern(s): %v\n", cRed, cNone, err)
	}
	if len(files) == 0 {
		log.Println("No test files found matching the pattern(s).")
		return
	}

	_, err = exec.LookPath("nasm")
	haveNasm := err == nil
	if !haveNasm {
		log.Printf("%s[WARN]%s nasm not found; runtime checks will be skipped.\n", cYellow, cNone)
	}

	skipList := make(map[string]bool)
	for _, f := range strings.Fields(*skipFiles) {
		skipList[f] = true
	}

	tasks := make(chan string, len(files))
	resultsChan := make(chan *FileTestResult, len(files))
	var wg sync.WaitGroup

	for i := 0; i < *jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for file := range tasks {
				resultsChan <- testFile(file, tempDir, haveNasm)
			}
		}()
	}

	// Feed the workers, skipping files with identical content.
	seenHashes := make(map[uint64]string)
	for _, file := range files {
		if skipList[file] || skipList[filepath.Base(file)] {
			resultsChan <- &FileTestResult{File: file, Status: "SKIP", Message: "Explicitly skipped"}
			continue
		}
		content, err := os.ReadFile(file)
		if err != nil {
			resultsChan <- &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Failed to read file: %v", err)}
			continue
		}
		hash := xxhash.Sum64(content)
		if original, seen := seenHashes[hash]; seen {
			resultsChan <- &FileTestResult{File: file, Status: "SKIP", Message: fmt.Sprintf("Content is identical to %s", original)}
			continue
		}
		seenHashes[hash] = file
		tasks <- file
	}
	close(tasks)

	wg.Wait()
	close(resultsChan)

	var allResults []*FileTestResult
	for result := range resultsChan {
		allResults = append(allResults, result)
	}
	sort.Slice(allResults, func(i, j int) bool { return allResults[i].File < allResults[j].File })

	printSummary(allResults)
	writeJSONReport(allResults)

	for _, r := range allResults {
		if r.Status == "FAIL" || r.Status == "ERROR" {
			os.Exit(1)
		}
	}
}

func testFile(file, tempDir string, haveNasm bool) *FileTestResult {
	start := time.Now()
	content, err := os.ReadFile(file)
	if err != nil {
		return &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Failed to read file: %v", err)}
	}
	exp := parseExpectations(string(content))

	asm, compileErr := compileSource([]rune(string(content)))

	if exp.compileFails {
		if compileErr == nil {
			return &FileTestResult{File: file, Status: "FAIL",
				Message: "Expected a compile error, but compilation succeeded",
				Diff:    fmt.Sprintf("Expected diagnostic containing:\n%s", exp.stderr)}
		}
		want := strings.TrimSpace(exp.stderr)
		if !strings.Contains(compileErr.Error(), want) {
			return &FileTestResult{File: file, Status: "FAIL",
				Message: "Compile error did not match expectation",
				Diff:    cmp.Diff(want, compileErr.Error())}
		}
		return &FileTestResult{File: file, Status: "PASS", Message: "Diagnostic matched", Duration: time.Since(start)}
	}

	if compileErr != nil {
		return &FileTestResult{File: file, Status: "FAIL",
			Message: fmt.Sprintf("Compilation failed: %v", compileErr)}
	}
	if !haveNasm {
		return &FileTestResult{File: file, Status: "SKIP", Message: "Compiled, but nasm is unavailable for runtime checks"}
	}

	// Artifact names derive from the source hash so reruns reuse paths
	// deterministically.
	stem := filepath.Join(tempDir, fmt.Sprintf("%x", xxhash.Sum64(content)))
	if err := os.WriteFile(stem+".asm", asm, 0o644); err != nil {
		return &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Failed to write assembly: %v", err)}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if out, err := exec.CommandContext(ctx, "nasm", "-f", "elf64", "-o", stem+".o", stem+".asm").CombinedOutput(); err != nil {
		return &FileTestResult{File: file, Status: "FAIL",
			Message: "nasm rejected the generated assembly",
			Diff:    string(out)}
	}
	if out, err := exec.CommandContext(ctx, "ld", "-o", stem, stem+".o").CombinedOutput(); err != nil {
		return &FileTestResult{File: file, Status: "FAIL",
			Message: "ld failed to link the object",
			Diff:    string(out)}
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, stem)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		return &FileTestResult{File: file, Status: "FAIL", Message: "Binary timed out"}
	}
	if runErr != nil {
		return &FileTestResult{File: file, Status: "FAIL",
			Message: fmt.Sprintf("Binary exited with an error: %v", runErr),
			Diff:    stderr.String()}
	}
	if diff := cmp.Diff(exp.stdout, stdout.String()); diff != "" {
		return &FileTestResult{File: file, Status: "FAIL",
			Message: "Output mismatch (-want +got)",
			Diff:    diff}
	}
	return &FileTestResult{File: file, Status: "PASS", Message: "Output matched", Duration: time.Since(start)}
}

// compileSource runs the full in-process pipeline.
func compileSource(src []rune) (asm []byte, err error) {
	defer diag.Recover(&err)
	toks := lexer.Tokenize(src)
	var buf bytes.Buffer
	if err := parser.Compile(toks, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// parseExpectations pulls the _STDOUT/_STDERR blocks out of the comment
// sections of a test file. Lines consisting of exactly "#" toggle comments,
// matching the language's comment syntax.
func parseExpectations(src string) expectation {
	var exp expectation
	inComment := false
	mode := ""
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimRight(line, "\r")
		if trimmed == "#" {
			inComment = !inComment
			mode = ""
			continue
		}
		if !inComment {
			continue
		}
		switch trimmed {
		case "_STDOUT":
			mode = "stdout"
		case "_STDERR":
			mode = "stderr"
			exp.compileFails = true
		default:
			switch mode {
			case "stdout":
				exp.stdout += trimmed + "\n"
			case "stderr":
				exp.stderr += trimmed + "\n"
			}
		}
	}
	return exp
}

func printSummary(results []*FileTestResult) {
	var passed, failed, skipped, errored int
	for _, result := range results {
		switch result.Status {
		case "PASS":
			passed++
			if *verbose {
				fmt.Printf("[%sPASS%s] %s%s%s (%v)\n", cGreen, cNone, cCyan, result.File, cNone, result.Duration)
			}
		case "FAIL":
			failed++
			fmt.Printf("[%sFAIL%s] %s%s%s: %s\n", cRed, cNone, cCyan, result.File, cNone, result.Message)
			if result.Diff != "" {
				for _, line := range strings.Split(strings.TrimRight(result.Diff, "\n"), "\n") {
					fmt.Printf("    %s\n", line)
				}
			}
		case "SKIP":
			skipped++
			if *verbose {
				fmt.Printf("[%sSKIP%s] %s%s%s: %s\n", cYellow, cNone, cCyan, result.File, cNone, result.Message)
			}
		case "ERROR":
			errored++
			fmt.Printf("[%sERROR%s] %s%s%s: %s\n", cRed, cNone, cCyan, result.File, cNone, result.Message)
		}
	}
	fmt.Printf("%sTest Summary:%s %s%d Passed%s, %s%d Failed%s, %s%d Skipped%s, %s%d Errored%s, %d Total\n",
		cBold, cNone, cGreen, passed, cNone, cRed, failed, cNone, cYellow, skipped, cNone, cRed, errored, cNone, len(results))
}

func writeJSONReport(results []*FileTestResult) {
	resultsMap := make(map[string]*FileTestResult, len(results))
	for _, r := range results {
		resultsMap[r.File] = r
	}
	jsonData, err := json.MarshalIndent(resultsMap, "", "  ")
	if err != nil {
		log.Printf("%s[ERROR]%s Failed to marshal results to JSON: %v\n", cRed, cNone, err)
		return
	}
	if err := os.WriteFile(*outputJSON, jsonData, 0o644); err != nil {
		log.Printf("%s[ERROR]%s Failed to write JSON report to %s: %v\n", cRed, cNone, *outputJSON, err)
	} else if *verbose {
		fmt.Printf("Full test report saved to %s\n", *outputJSON)
	}
}

func expandGlobPatterns(patterns string) ([]string, error) {
	var allFiles []string
	seen := make(map[string]bool)
	for _, pattern := range strings.Fields(patterns) {
		files, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %s: %w", pattern, err)
		}
		for _, file := range files {
			if !seen[file] {
				if info, err := os.Stat(file); err == nil && info.Mode().IsRegular() {
					allFiles = append(allFiles, file)
					seen[file] = true
				}
			}
		}
	}
	return allFiles, nil
}
