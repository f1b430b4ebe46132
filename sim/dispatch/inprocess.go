package dispatch

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// RunFunc executes one run to completion in the current process.
type RunFunc func(ctx context.Context, runID int64) error

// InProcessExecutor runs each submitted run on its own goroutine.
type InProcessExecutor struct {
	*slots
	run RunFunc
}

// NewInProcessExecutor creates an executor that calls run for each submission.
// Panics if run is nil or capacity is negative.
func NewInProcessExecutor(name string, capacity int, run RunFunc) *InProcessExecutor {
	if run == nil {
		panic("NewInProcessExecutor: run must not be nil")
	}
	return &InProcessExecutor{slots: newSlots(name, capacity), run: run}
}

// Submit implements Executor. The run outlives ctx cancellation: dispatch is
// fire-and-forget.
func (e *InProcessExecutor) Submit(ctx context.Context, runID int64) error {
	if err := e.acquire(); err != nil {
		return err
	}
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer e.release()
		if err := e.invoke(runCtx, runID); err != nil {
			logrus.WithFields(logrus.Fields{"executor": e.name, "run": runID}).Errorf("run failed: %v", err)
			return
		}
		logrus.WithFields(logrus.Fields{"executor": e.name, "run": runID}).Debugf("run completed")
	}()
	return nil
}

func (e *InProcessExecutor) invoke(ctx context.Context, runID int64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("run %d panicked: %v", runID, r)
		}
	}()
	return e.run(ctx, runID)
}
