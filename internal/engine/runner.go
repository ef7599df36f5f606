package engine

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// Runner starts a compiler process and waits for it.
// A non-zero exit is not an error: it is reported through exitCode.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (output []byte, exitCode int, err error)
}

// ExecRunner runs invocations with os/exec, capturing stdout and stderr into
// one buffer in arrival order. Started processes run to completion.
type ExecRunner struct{}

func (ExecRunner) Run(_ context.Context, inv Invocation) ([]byte, int, error) {
	cmd := exec.Command(inv.Program, inv.Args...)
	cmd.Dir = inv.Dir
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	if err == nil {
		return buf.Bytes(), 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return buf.Bytes(), exitErr.ExitCode(), nil
	}
	return buf.Bytes(), -1, err
}
