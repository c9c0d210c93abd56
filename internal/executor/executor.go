// Package executor spawns Task commands as child processes and captures
// their output under a per-task deadline.
package executor

import (
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/ccjk/daemon/internal/task"
)

const ringBufferLimit = 64 * 1024 // 64 KiB per stream

// killGrace is how long the executor waits between the terminate signal and
// the force-kill.
const killGrace = 5 * time.Second

// Executor runs Task commands via the OS shell, one process group per run
// so a timeout can cancel the entire subtree.
type Executor struct{}

// New returns an Executor. It is stateless and safe for concurrent use by
// any number of task workers.
func New() *Executor {
	return &Executor{}
}

// Execute spawns t.Command, waits for completion or timeout, and returns a
// Result. It never panics: spawn failures and timeouts are reported as
// Result values, not errors, so a task worker's uncaught failure can't
// escape into the orchestrator; recovering from a task worker panic is the
// caller's concern, not this call's. A nil parentEnv defaults to the
// daemon's own environment, so the child always inherits PATH and friends
// even when the caller has no environment of its own to pass.
func (e *Executor) Execute(ctx context.Context, t *task.Task, defaultTimeoutSec int, defaultCwd string, parentEnv []string) *task.Result {
	if parentEnv == nil {
		parentEnv = os.Environ()
	}
	timeout := time.Duration(t.EffectiveTimeoutSec(defaultTimeoutSec)) * time.Second
	cwd := t.EffectiveCwd(defaultCwd)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := shellCommand(runCtx, t.Command)
	cmd.Dir = cwd
	cmd.Env = mergeEnv(parentEnv, t.Env)
	setProcessGroup(cmd)

	stdout := newRingBuffer(ringBufferLimit)
	stderr := newRingBuffer(ringBufferLimit)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Start()
	if err != nil {
		return &task.Result{
			ExitCode:     task.ExitSpawnFailure,
			ErrorMessage: err.Error(),
			StdoutTail:   stdout.String(),
			StderrTail:   stderr.String(),
			DurationMs:   time.Since(start).Milliseconds(),
		}
	}

	waitErr := waitWithTimeout(runCtx, cmd, killGrace)
	duration := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		return &task.Result{
			ExitCode:     task.ExitTimeout,
			ErrorMessage: "timeout after " + timeout.String(),
			StdoutTail:   stdout.String(),
			StderrTail:   stderr.String(),
			DurationMs:   duration.Milliseconds(),
		}
	}

	exitCode := 0
	errMsg := ""
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = task.ExitSpawnFailure
			errMsg = waitErr.Error()
		}
	}

	return &task.Result{
		ExitCode:     exitCode,
		ErrorMessage: errMsg,
		StdoutTail:   stdout.String(),
		StderrTail:   stderr.String(),
		DurationMs:   duration.Milliseconds(),
	}
}

// mergeEnv overlays task-specific env vars onto the parent process
// environment.
func mergeEnv(parent []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return parent
	}
	out := append([]string(nil), parent...)
	for k, v := range extra {
		out = append(out, k+"="+v)
	}
	return out
}
