package execx

import (
	"context"
	"errors"
	"testing"
)

func TestFakeRunnerRecordsCalls(t *testing.T) {
	r := NewFakeRunner()

	res, err := r.Run(context.Background(), Cmd{Dir: "/w", Argv: []string{"pnpm", "add", "lodash"}})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	lines := r.CommandLines()
	if len(lines) != 1 || lines[0] != "pnpm add lodash" {
		t.Errorf("CommandLines() = %v", lines)
	}
}

func TestFakeRunnerProgrammedFailure(t *testing.T) {
	r := NewFakeRunner()
	wantErr := errors.New("registry down")
	r.SetResult("pnpm add lodash", Result{ExitCode: 1, Stderr: "ERR"}, wantErr)

	_, err := r.Run(context.Background(), Cmd{Argv: []string{"pnpm", "add", "lodash"}})
	if !errors.Is(err, wantErr) {
		t.Errorf("error = %v, want programmed error", err)
	}

	// AllowFail swallows the programmed failure
	res, err := r.Run(context.Background(), Cmd{Argv: []string{"pnpm", "add", "lodash"}, AllowFail: true})
	if err != nil {
		t.Errorf("AllowFail Run() error: %v", err)
	}
	if res.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", res.ExitCode)
	}
}

func TestRealRunnerCapturesOutput(t *testing.T) {
	r := NewRealRunner()

	res, err := r.Run(context.Background(), Cmd{Argv: []string{"sh", "-c", "echo out; echo err 1>&2"}})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Stdout != "out\n" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "out\n")
	}
	if res.Stderr != "err\n" {
		t.Errorf("Stderr = %q, want %q", res.Stderr, "err\n")
	}
}

func TestRealRunnerNonZeroExit(t *testing.T) {
	r := NewRealRunner()

	res, err := r.Run(context.Background(), Cmd{Argv: []string{"sh", "-c", "exit 3"}})
	if err == nil {
		t.Fatal("Run() error = nil, want exit error")
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}

	res, err = r.Run(context.Background(), Cmd{Argv: []string{"sh", "-c", "exit 3"}, AllowFail: true})
	if err != nil {
		t.Errorf("AllowFail Run() error: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("AllowFail ExitCode = %d, want 3", res.ExitCode)
	}
}
