package trace

import "testing"

func TestSummarize_EmptyTrace_ZeroValues(t *testing.T) {
	// GIVEN an empty trace
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelDecisions})

	// WHEN summarized
	summary := Summarize(st)

	// THEN all counts are zero
	if summary.TotalDispatches != 0 || summary.TotalRetries != 0 {
		t.Error("expected 0 dispatches and retries")
	}
	if summary.UniqueExecutors != 0 || len(summary.ExecutorDistribution) != 0 {
		t.Error("expected empty executor distribution")
	}
	if summary.Steps != 0 || summary.TaskFailures != 0 || summary.CommitErrors != 0 {
		t.Error("expected 0 step statistics")
	}
}

func TestSummarize_NilTrace(t *testing.T) {
	if s := Summarize(nil); s == nil || s.ExecutorDistribution == nil {
		t.Error("Summarize(nil) must return a usable zero summary")
	}
}

func TestSummarize_PopulatedTrace_CorrectCounts(t *testing.T) {
	// GIVEN a trace with dispatch, retry and step records
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelDecisions})
	st.RecordDispatch(DispatchRecord{RunID: 1, Executor: "local-0"})
	st.RecordDispatch(DispatchRecord{RunID: 2, Executor: "local-0"})
	st.RecordDispatch(DispatchRecord{RunID: 3, Executor: "remote-1"})
	st.RecordRetry(RetryRecord{RunID: 3, Executor: "local-0", Reason: "insufficient resources"})
	st.RecordStep(StepRecord{Step: 0, Tasks: 4, Failures: 1})
	st.RecordStep(StepRecord{Step: 1, Tasks: 4, Failures: 2, CommitErr: "boom"})

	// WHEN summarized
	summary := Summarize(st)

	// THEN counts match
	if summary.TotalDispatches != 3 {
		t.Errorf("expected 3 dispatches, got %d", summary.TotalDispatches)
	}
	if summary.TotalRetries != 1 {
		t.Errorf("expected 1 retry, got %d", summary.TotalRetries)
	}
	if summary.UniqueExecutors != 2 {
		t.Errorf("expected 2 unique executors, got %d", summary.UniqueExecutors)
	}
	if summary.ExecutorDistribution["local-0"] != 2 {
		t.Errorf("expected local-0 count 2, got %d", summary.ExecutorDistribution["local-0"])
	}
	if summary.Steps != 2 || summary.TaskFailures != 3 || summary.CommitErrors != 1 {
		t.Errorf("unexpected step stats: %+v", summary)
	}
}
