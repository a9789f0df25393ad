// Package compilerexec wraps the real compiler invocation: the
// preprocess-only run that feeds the hash, the dependency-generation
// run that feeds internal/includes, and the real compile that runs on
// a cache miss or fallback path.
package compilerexec

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
)

// Runner executes compiler commands with an overridable process
// launcher, the testability seam tests substitute a fake command
// constructor into.
type Runner struct {
	execCommand func(name string, args ...string) *exec.Cmd
}

// NewRunner returns a Runner that launches real processes.
func NewRunner() *Runner {
	return &Runner{execCommand: exec.Command}
}

// Result captures everything the orchestrator needs from a single
// compiler invocation: its standard streams and exit status. A
// compiler that writes to stdout is itself a reason not to cache, so
// both streams matter, not just stderr.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

func (r *Runner) run(compilerPath string, args []string) (Result, error) {
	cmd := r.execCommand(compilerPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Downstream tools that honor UNCACHED_ERR_FD write their errors
	// straight to the real stderr instead of the captured stream.
	// An environment the launcher already set is kept.
	env := cmd.Env
	if env == nil {
		env = os.Environ()
	}
	cmd.Env = append(env, "UNCACHED_ERR_FD=2")

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		res.ExitCode = 0
		return res, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, fmt.Errorf("compilerexec: launching %s: %w", compilerPath, err)
}

// Preprocess runs the compiler with the given arguments plus -E,
// capturing the preprocessed text on stdout.
func (r *Runner) Preprocess(compilerPath string, args []string) (Result, error) {
	return r.run(compilerPath, append(append([]string{}, args...), "-E"))
}

// GenerateDeps runs the compiler in -M mode to produce a dependency
// file, used when depend mode needs one the build itself didn't emit.
func (r *Runner) GenerateDeps(compilerPath string, args []string, depFile string) (Result, error) {
	full := append(append([]string{}, args...), "-M", "-MF", depFile)
	return r.run(compilerPath, full)
}

// Compile runs the real compile with both streams captured, for the
// cache-miss build; the pass-through fallback uses Exec instead.
func (r *Runner) Compile(compilerPath string, args []string) (Result, error) {
	return r.run(compilerPath, args)
}

// Exec runs the compiler as the "give up and run the real thing,
// passing our streams through untouched" fallback. Unlike Compile,
// stdio is connected directly rather than captured, since the caller
// has already decided not to look at the output.
func Exec(compilerPath string, args []string) int {
	cmd := exec.Command(compilerPath, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), "UNCACHED_ERR_FD=2")
	err := cmd.Run()
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	fmt.Fprintf(os.Stderr, "ccwrap: could not execute %s: %v\n", compilerPath, err)
	return 1
}
