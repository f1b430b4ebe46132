package dispatch

import (
	"context"
	"io"
	"os/exec"
)

// Process is a started OS process.
type Process interface {
	Wait() error
}

// Launcher starts OS processes. Output (stdout and stderr) goes to out.
type Launcher interface {
	Start(ctx context.Context, out io.Writer, name string, args ...string) (Process, error)
}

// ExecLauncher starts real processes with os/exec. Processes are not tied
// to ctx: a dispatched run keeps running after the dispatcher stops.
type ExecLauncher struct{}

// Start implements Launcher.
func (ExecLauncher) Start(_ context.Context, out io.Writer, name string, args ...string) (Process, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// runCommand starts a process and waits for it.
func runCommand(ctx context.Context, l Launcher, out io.Writer, name string, args ...string) error {
	p, err := l.Start(ctx, out, name, args...)
	if err != nil {
		return err
	}
	return p.Wait()
}
