// Package trace provides decision-trace recording for dispatch and step analysis.
// This package has no dependencies on sim/ or its other sub-packages; it stores pure data types.
package trace

// CandidateLoad captures one executor's load as seen when a run was assigned.
type CandidateLoad struct {
	Executor string
	Load     int
	Capacity int
}

// DispatchRecord captures a single executor selection for a run.
type DispatchRecord struct {
	RunID      int64
	Seq        int // dispatch order across the trace
	Executor   string
	Reason     string
	Candidates []CandidateLoad // every executor's load at decision time (nil at TraceLevelDecisions)
}

// RetryRecord captures a run put back on the queue after a failed submission.
type RetryRecord struct {
	RunID    int64
	Executor string
	Reason   string
}

// StepRecord captures the outcome of one scheduler step.
type StepRecord struct {
	Step      int64
	Tasks     int
	Failures  int
	Stop      bool
	CommitErr string // empty when the commit was clean
}
