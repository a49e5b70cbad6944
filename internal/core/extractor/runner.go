package extractor

import (
	"bytes"
	"context"
	"os/exec"
	"time"
)

// Runner executes the extraction tool once and hands back both output
// streams. It exists as an interface so invoker tests can script
// outcomes without spawning processes.
type Runner interface {
	Run(ctx context.Context, tool string, args []string) (stdout, stderr []byte, err error)
}

// execRunner runs the real subprocess under a hard wall-clock budget.
// The child gets its own process group so the deadline kill also
// reaches any helpers it spawned.
type execRunner struct {
	timeout time.Duration
}

func newExecRunner(timeout time.Duration) *execRunner {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &execRunner{timeout: timeout}
}

func (r *execRunner) Run(ctx context.Context, tool string, args []string) ([]byte, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, tool, args...)
	cmd.SysProcAttr = sysProcAttr()
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		// The process was force-killed; report the budget overrun, not
		// the kill signal.
		return stdout.Bytes(), stderr.Bytes(), context.DeadlineExceeded
	}
	return stdout.Bytes(), stderr.Bytes(), err
}
