package sim

import "context"

// TimeFinishCondition votes to stop once the step index reaches FinishTime.
// Every Scheduler registers one.
type TimeFinishCondition struct {
	FinishTime int64
}

// Name implements Named.
func (TimeFinishCondition) Name() string { return "time" }

// Finished implements FinishCondition.
func (f TimeFinishCondition) Finished(_ context.Context, step int64) (bool, error) {
	return step >= f.FinishTime, nil
}
