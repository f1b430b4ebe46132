package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// RemoteExecutor runs submissions on another host through the system ssh
// and scp commands.
//
// Preconditions, not checked: passwordless ssh/scp to Target, a writable
// Dir on the remote host, and a compatible runtime on its PATH. The run
// database is not copied; cfg.DB must name a database the remote process can
// open that holds the dispatched runs (see ExecutorSpec.DB).
type RemoteExecutor struct {
	*slots
	target string // [user@]host
	dir    string // remote working directory
	deps   []string
	cfg    ProcessConfig

	initMu      sync.Mutex
	initialised bool
}

// NewRemoteExecutor creates a remote executor. deps are the local files
// copied into dir on first use; the binary is always copied.
func NewRemoteExecutor(name string, capacity int, target, dir string, cfg ProcessConfig, deps ...string) *RemoteExecutor {
	if target == "" || dir == "" {
		panic("NewRemoteExecutor: target and dir are required")
	}
	return &RemoteExecutor{
		slots:  newSlots(name, capacity),
		target: target,
		dir:    dir,
		deps:   deps,
		cfg:    cfg,
	}
}

// Submit implements Executor. A failed one-time initialisation is reported
// as ErrInsufficientResources so the dispatcher retries; the next Submit
// tries to initialise again.
func (e *RemoteExecutor) Submit(ctx context.Context, runID int64) error {
	if err := e.acquire(); err != nil {
		return err
	}
	if err := e.ensureInitialised(ctx); err != nil {
		e.release()
		return fmt.Errorf("%w: %s: remote init: %v", ErrInsufficientResources, e.name, err)
	}

	out, closeOut := e.cfg.output(runID)
	remoteCmd := fmt.Sprintf("cd %s && ./%s %s", shellQuote(e.dir), filepath.Base(e.cfg.binary()),
		strings.Join(quoteAll(e.cfg.runArgs(runID)), " "))
	proc, err := e.cfg.launcher().Start(ctx, out, "ssh", e.target, remoteCmd)
	if err != nil {
		closeOut()
		e.release()
		return fmt.Errorf("executor %s: launching run %d: %w", e.name, runID, err)
	}
	go monitor(e.slots, runID, proc, closeOut)
	return nil
}

func (e *RemoteExecutor) ensureInitialised(ctx context.Context) error {
	e.initMu.Lock()
	defer e.initMu.Unlock()
	if e.initialised {
		return nil
	}
	l := e.cfg.launcher()
	var buf bytes.Buffer
	if err := runCommand(ctx, l, &buf, "ssh", e.target, "mkdir -p "+shellQuote(e.dir)); err != nil {
		return fmt.Errorf("mkdir %s: %w: %s", e.dir, err, strings.TrimSpace(buf.String()))
	}
	buf.Reset()
	files := append([]string{e.cfg.binary()}, e.deps...)
	args := append([]string{"-r"}, files...)
	args = append(args, e.target+":"+path.Clean(e.dir)+"/")
	if err := runCommand(ctx, l, &buf, "scp", args...); err != nil {
		return fmt.Errorf("copy dependencies: %w: %s", err, strings.TrimSpace(buf.String()))
	}
	e.initialised = true
	logrus.Infof("executor %s: provisioned %s:%s (%d files)", e.name, e.target, e.dir, len(files))
	return nil
}

// Initialised reports whether the one-time provisioning has succeeded.
func (e *RemoteExecutor) Initialised() bool {
	e.initMu.Lock()
	defer e.initMu.Unlock()
	return e.initialised
}

func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$`;&|<>*?()[]{}!#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func quoteAll(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = shellQuote(a)
	}
	return out
}
