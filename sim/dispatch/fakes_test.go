package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// fakeProcess exits when finish is called.
type fakeProcess struct {
	done chan struct{}
	once sync.Once
	err  error
}

func (p *fakeProcess) Wait() error {
	<-p.done
	return p.err
}

func (p *fakeProcess) finish() { p.once.Do(func() { close(p.done) }) }

// fakeLauncher records command lines instead of starting processes.
// Commands named in exitImmediately (e.g. the ssh/scp provisioning steps)
// finish as soon as they start.
type fakeLauncher struct {
	mu              sync.Mutex
	calls           []string
	procs           []*fakeProcess
	startErr        map[string]error // keyed by command name
	exitImmediately map[string]bool
	output          string
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{startErr: map[string]error{}, exitImmediately: map[string]bool{}}
}

func (f *fakeLauncher) Start(_ context.Context, out io.Writer, name string, args ...string) (Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, strings.TrimSpace(name+" "+strings.Join(args, " ")))
	if err := f.startErr[name]; err != nil {
		return nil, err
	}
	if f.output != "" {
		fmt.Fprint(out, f.output)
	}
	p := &fakeProcess{done: make(chan struct{})}
	if f.exitImmediately[name] {
		p.finish()
	}
	f.procs = append(f.procs, p)
	return p, nil
}

func (f *fakeLauncher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeLauncher) finishAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.procs {
		p.finish()
	}
}

// staticExecutor reports fixed load numbers; used for selection tests.
type staticExecutor struct {
	name           string
	load, capacity int
}

func (s *staticExecutor) Name() string                        { return s.name }
func (s *staticExecutor) Load() int                           { return s.load }
func (s *staticExecutor) Capacity() int                       { return s.capacity }
func (s *staticExecutor) Submit(context.Context, int64) error { return nil }

// flakyExecutor fails the first failures submissions with err, then accepts.
type flakyExecutor struct {
	mu        sync.Mutex
	failures  int
	err       error
	submitted []int64
}

func (f *flakyExecutor) Name() string  { return "flaky" }
func (f *flakyExecutor) Load() int     { return 0 }
func (f *flakyExecutor) Capacity() int { return 1 }

func (f *flakyExecutor) Submit(_ context.Context, runID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return f.err
	}
	f.submitted = append(f.submitted, runID)
	return nil
}

func (f *flakyExecutor) Submitted() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.submitted...)
}

var errLaunch = errors.New("exec: no such file")
