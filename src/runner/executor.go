package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"syscall"
	"time"
)

// ExecResult is the outcome of one command.
type ExecResult struct {
	ExitCode int
	// Output is stdout and stderr interleaved in write order.
	Output   []byte
	Duration time.Duration
	TimedOut bool
}

// Executor runs shell commands in an isolated environment.
//
// The environment starts empty. Only the host variables named in Passthrough
// and the variables passed to Execute are visible to the command.
type Executor struct {
	Passthrough []string
	// Stream, when set, receives output as it is produced.
	Stream io.Writer

	getenv func(string) string
}

// NewExecutor creates an Executor that passes the named host variables through.
func NewExecutor(passthrough []string) *Executor {
	return &Executor{Passthrough: passthrough, getenv: os.Getenv}
}

// Execute runs command with "sh -c" in dir. A timeout of zero means none.
//
// A nonzero exit is reported through ExecResult.ExitCode, not as an error.
// Cancellation of ctx kills the whole process group and returns ctx.Err();
// hitting the timeout kills it too but returns a result with TimedOut set.
func (e *Executor) Execute(ctx context.Context, command, dir string, env map[string]string, timeout time.Duration) (*ExecResult, error) {
	if command == "" {
		return nil, fmt.Errorf("command is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("execution cancelled: %w", err)
	}

	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = e.buildEnv(env)

	// Own process group so cancellation reaches grandchildren (pip, pytest workers).
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var output bytes.Buffer
	var w io.Writer = &output
	if e.Stream != nil {
		w = io.MultiWriter(&output, e.Stream)
	}
	cmd.Stdout = w
	cmd.Stderr = w

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start command: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var err error
	timedOut := false
	select {
	case <-ctx.Done():
		killGroup(cmd)
		<-done
		return nil, fmt.Errorf("execution cancelled: %w", ctx.Err())
	case <-deadline:
		killGroup(cmd)
		err = <-done
		timedOut = true
	case err = <-done:
	}

	result := &ExecResult{
		Output:   output.Bytes(),
		Duration: time.Since(start),
		TimedOut: timedOut,
	}
	if timedOut {
		result.ExitCode = -1
		fmt.Fprintf(&output, "\nstep timed out after %s\n", timeout)
		result.Output = output.Bytes()
		return result, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to execute command: %w", err)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	return result, nil
}

func killGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		// Negative pid targets the process group.
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}

// buildEnv merges allowlisted host variables with env, env winning. The result
// is sorted so commands see a stable environment.
func (e *Executor) buildEnv(env map[string]string) []string {
	getenv := e.getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	merged := make(map[string]string, len(e.Passthrough)+len(env))
	for _, name := range e.Passthrough {
		if v := getenv(name); v != "" {
			merged[name] = v
		}
	}
	for k, v := range env {
		merged[k] = v
	}

	result := make([]string, 0, len(merged))
	for k, v := range merged {
		result = append(result, k+"="+v)
	}
	sort.Strings(result)
	return result
}
