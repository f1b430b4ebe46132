package dispatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"
)

// ProcessConfig describes how a subprocess executor launches a run.
// The launched command line is: Binary run --run-id N [--db DB] Args...
type ProcessConfig struct {
	Binary   string   // simulation entry point; defaults to the current executable
	DB       string   // run database path as seen by the launched process
	Args     []string // extra arguments after the run id and database
	LogDir   string   // per-run output files go here; empty discards output
	Launcher Launcher // defaults to ExecLauncher
}

func (c ProcessConfig) launcher() Launcher {
	if c.Launcher == nil {
		return ExecLauncher{}
	}
	return c.Launcher
}

func (c ProcessConfig) binary() string {
	if c.Binary != "" {
		return c.Binary
	}
	exe, err := os.Executable()
	if err != nil {
		return os.Args[0]
	}
	return exe
}

func (c ProcessConfig) runArgs(runID int64) []string {
	args := []string{"run", "--run-id", strconv.FormatInt(runID, 10)}
	if c.DB != "" {
		args = append(args, "--db", c.DB)
	}
	return append(args, c.Args...)
}

// output returns the writer for a run's process output and its closer.
// Each run writes its own file once, so the file is appended to, never rotated.
// A file that cannot be opened is logged and the output discarded.
func (c ProcessConfig) output(runID int64) (io.Writer, func()) {
	if c.LogDir == "" {
		return io.Discard, func() {}
	}
	name := filepath.Join(c.LogDir, fmt.Sprintf("run-%d.log", runID))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logrus.WithField("run", runID).Warnf("executor: opening run log: %v", err)
		return io.Discard, func() {}
	}
	return f, func() { _ = f.Close() }
}

// LocalExecutor runs each submission as a subprocess on this host.
type LocalExecutor struct {
	*slots
	cfg ProcessConfig
}

// NewLocalExecutor creates a subprocess executor. Panics if capacity < 0.
func NewLocalExecutor(name string, capacity int, cfg ProcessConfig) *LocalExecutor {
	return &LocalExecutor{slots: newSlots(name, capacity), cfg: cfg}
}

// Submit implements Executor. A launch failure releases the slot and is
// returned unwrapped; it is not a resource shortage.
func (e *LocalExecutor) Submit(ctx context.Context, runID int64) error {
	if err := e.acquire(); err != nil {
		return err
	}
	out, closeOut := e.cfg.output(runID)
	proc, err := e.cfg.launcher().Start(ctx, out, e.cfg.binary(), e.cfg.runArgs(runID)...)
	if err != nil {
		closeOut()
		e.release()
		return fmt.Errorf("executor %s: launching run %d: %w", e.name, runID, err)
	}
	go monitor(e.slots, runID, proc, closeOut)
	return nil
}

// monitor waits for a run's process to exit and frees its slot.
func monitor(s *slots, runID int64, proc Process, closeOut func()) {
	err := proc.Wait()
	closeOut()
	s.release()
	entry := logrus.WithFields(logrus.Fields{"executor": s.name, "run": runID})
	if err != nil {
		entry.Warnf("run process exited: %v", err)
		return
	}
	entry.Debugf("run process exited")
}
