// Package execx shells out to the package manager and link tool.
//
// Subprocesses are treated as an opaque side-effecting interface: a command
// vector and working directory in, exit status and captured output back.
// Everything that shells out goes through Runner so tests can substitute
// FakeRunner and assert on the exact commands an apply would have run.
package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// Cmd is one subprocess invocation.
type Cmd struct {
	// Dir is the working directory; empty means the current directory.
	Dir string

	// Argv is the program and its arguments.
	Argv []string

	// AllowFail tolerates a non-zero exit instead of reporting an error.
	AllowFail bool
}

// String renders the command for logs and error messages.
func (c Cmd) String() string {
	return strings.Join(c.Argv, " ")
}

// Result captures a finished subprocess.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner runs subprocesses.
type Runner interface {
	Run(ctx context.Context, cmd Cmd) (Result, error)
}

// RealRunner implements Runner with os/exec.
type RealRunner struct{}

// NewRealRunner creates a new RealRunner.
func NewRealRunner() *RealRunner {
	return &RealRunner{}
}

// Run executes the command and captures its output. A non-zero exit is an
// error unless the command allows failure; the Result is populated either way.
func (r *RealRunner) Run(ctx context.Context, cmd Cmd) (Result, error) {
	if len(cmd.Argv) == 0 {
		return Result{}, errors.New("empty command")
	}

	c := exec.CommandContext(ctx, cmd.Argv[0], cmd.Argv[1:]...)
	c.Dir = cmd.Dir

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return result, nil
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		if cmd.AllowFail {
			return result, nil
		}
		return result, fmt.Errorf("command %q exited with code %d: %s", cmd.String(), result.ExitCode, strings.TrimSpace(result.Stderr))
	default:
		return result, fmt.Errorf("command %q failed to start: %w", cmd.String(), err)
	}
}

// FakeRunner implements Runner for tests: it records every command and
// returns programmed results.
type FakeRunner struct {
	mu sync.Mutex

	// Calls holds every command run, in order.
	Calls []Cmd

	results map[string]fakeOutcome
}

type fakeOutcome struct {
	result Result
	err    error
}

// NewFakeRunner creates a FakeRunner where every command succeeds.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{results: make(map[string]fakeOutcome)}
}

// SetResult programs the outcome for an exact command line.
func (r *FakeRunner) SetResult(cmdline string, result Result, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[cmdline] = fakeOutcome{result: result, err: err}
}

// Run records the command and returns its programmed outcome, defaulting to
// a clean exit.
func (r *FakeRunner) Run(ctx context.Context, cmd Cmd) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, cmd)

	if outcome, ok := r.results[cmd.String()]; ok {
		if outcome.err != nil && cmd.AllowFail {
			return outcome.result, nil
		}
		return outcome.result, outcome.err
	}
	return Result{}, nil
}

// CommandLines returns every recorded command as a rendered string.
func (r *FakeRunner) CommandLines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines := make([]string, len(r.Calls))
	for i, c := range r.Calls {
		lines[i] = c.String()
	}
	return lines
}
