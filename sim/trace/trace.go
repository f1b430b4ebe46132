package trace

import "sync"

// TraceLevel controls the verbosity of decision tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelDecisions captures dispatch assignments, retries and step outcomes.
	TraceLevelDecisions TraceLevel = "decisions"
	// TraceLevelDetailed additionally captures every executor's load per assignment.
	TraceLevelDetailed TraceLevel = "detailed"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelDecisions: true,
	TraceLevelDetailed:  true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// Enabled reports whether any records should be collected.
func (c TraceConfig) Enabled() bool {
	return c.Level != "" && c.Level != TraceLevelNone
}

// Detailed reports whether per-executor candidate loads should be collected.
func (c TraceConfig) Detailed() bool { return c.Level == TraceLevelDetailed }

// SimulationTrace collects decision records. Record methods are safe for
// concurrent use; read the slices only after recording has stopped.
type SimulationTrace struct {
	Config     TraceConfig
	Dispatches []DispatchRecord
	Retries    []RetryRecord
	Steps      []StepRecord

	mu sync.Mutex
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config:     config,
		Dispatches: make([]DispatchRecord, 0),
		Retries:    make([]RetryRecord, 0),
		Steps:      make([]StepRecord, 0),
	}
}

// RecordDispatch appends a dispatch decision record, assigning its Seq.
func (st *SimulationTrace) RecordDispatch(record DispatchRecord) {
	st.mu.Lock()
	defer st.mu.Unlock()
	record.Seq = len(st.Dispatches)
	if !st.Config.Detailed() {
		record.Candidates = nil
	}
	st.Dispatches = append(st.Dispatches, record)
}

// RecordRetry appends a retry record.
func (st *SimulationTrace) RecordRetry(record RetryRecord) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.Retries = append(st.Retries, record)
}

// RecordStep appends a step record.
func (st *SimulationTrace) RecordStep(record StepRecord) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.Steps = append(st.Steps, record)
}
