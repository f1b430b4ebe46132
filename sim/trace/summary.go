package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalDispatches      int
	TotalRetries         int
	UniqueExecutors      int
	ExecutorDistribution map[string]int // executor name → count of runs assigned
	Steps                int
	TaskFailures         int
	CommitErrors         int
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		ExecutorDistribution: make(map[string]int),
	}
	if st == nil {
		return summary
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	summary.TotalDispatches = len(st.Dispatches)
	for _, d := range st.Dispatches {
		summary.ExecutorDistribution[d.Executor]++
	}
	summary.UniqueExecutors = len(summary.ExecutorDistribution)
	summary.TotalRetries = len(st.Retries)

	summary.Steps = len(st.Steps)
	for _, s := range st.Steps {
		summary.TaskFailures += s.Failures
		if s.CommitErr != "" {
			summary.CommitErrors++
		}
	}
	return summary
}
