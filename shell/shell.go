// Package shell runs one-shot commands through the platform command
// interpreter, capturing their output and enforcing an optional
// deadline.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Request describes a single command execution. Stdin, when non-nil, is
// written to the child's standard input in full and then closed; when
// nil the child sees end-of-input immediately. A zero Timeout means no
// deadline.
type Request struct {
	Command string
	Stdin   *string
	Timeout time.Duration
}

// Result is the outcome of one execution. ExitCode is -1 when the
// process was killed before exiting on its own.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner executes commands sequentially or concurrently; it holds no
// per-execution state.
type Runner struct {
	Log *zap.SugaredLogger

	// Shell overrides the platform command interpreter, e.g. "/bin/bash".
	Shell string
}

// Run executes the request's command line through the interpreter and
// blocks until the process exits or passes its deadline. It returns an
// error only when the process could not be started; abnormal exits are
// reported through Result.ExitCode.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	name, args := interpreter(req.Command)
	if r.Shell != "" {
		name = r.Shell
	}
	cmd := exec.Command(name, args...)
	setProcGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if req.Stdin != nil {
		cmd.Stdin = strings.NewReader(*req.Stdin)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("starting command: %w", err)
	}
	r.logger().Debugw("process started", "PID", cmd.Process.Pid, "Command", req.Command)

	// wait on the process to finish and send the result
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var deadline <-chan time.Time
	if req.Timeout > 0 {
		timer := time.NewTimer(req.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	var waitErr error
	select {
	case waitErr = <-done:
	case <-deadline:
		r.logger().Debugw("deadline exceeded, killing process", "PID", cmd.Process.Pid)
		kill(cmd)
		waitErr = <-done
	case <-ctx.Done():
		kill(cmd)
		waitErr = <-done
	}

	res := Result{
		ExitCode: exitCode(cmd, waitErr),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	r.logger().Debugw("process exited", "PID", cmd.Process.Pid, "ExitCode", res.ExitCode, "DurationMS", res.Duration.Milliseconds())
	return res, nil
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if waitErr == nil {
		return cmd.ProcessState.ExitCode()
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

func (r *Runner) logger() *zap.SugaredLogger {
	if r.Log != nil {
		return r.Log
	}
	return zap.NewNop().Sugar()
}
