package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/agentsim/sim"
	"github.com/inference-sim/agentsim/sim/network"
	"github.com/inference-sim/agentsim/sim/state"
	"github.com/inference-sim/agentsim/sim/storage"
	"github.com/inference-sim/agentsim/sim/trace"
)

// runOptions are the engine knobs applied to every run regardless of how it
// was started.
type runOptions struct {
	Workers int
	Seed    int64
	Trace   *trace.SimulationTrace
}

// runSpec is the scenario definition shared by the run and create commands.
type runSpec struct {
	scenario   string
	params     []string
	finishTime int64
}

func (s *runSpec) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.scenario, "scenario", "", fmt.Sprintf("Scenario name (%v)", sim.ScenarioNames()))
	cmd.Flags().StringArrayVar(&s.params, "param", nil, "Scenario parameter as name=value (repeatable)")
	cmd.Flags().Int64Var(&s.finishTime, "finish-time", 100, "Last step index; the run stops once the step reaches it")
}

func (s *runSpec) build() (sim.Run, error) {
	if _, err := sim.LookupScenario(s.scenario); err != nil {
		return sim.Run{}, err
	}
	if s.finishTime < 0 {
		return sim.Run{}, fmt.Errorf("finish time must be >= 0, got %d", s.finishTime)
	}
	params, err := sim.ParseParameters(s.params)
	if err != nil {
		return sim.Run{}, err
	}
	return sim.Run{Scenario: s.scenario, Parameters: params, FinishTime: s.finishTime}, nil
}

func newRunCmd(a *app) *cobra.Command {
	var (
		spec       runSpec
		runID      int64
		seed       int64
		traceLevel string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one simulation, either a stored run (--run-id) or an ad-hoc scenario",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !trace.IsValidTraceLevel(traceLevel) {
				return fmt.Errorf("invalid trace level %q", traceLevel)
			}
			opts := runOptions{Workers: a.settings.Workers, Seed: seed}
			if tc := (trace.TraceConfig{Level: trace.TraceLevel(traceLevel)}); tc.Enabled() {
				opts.Trace = trace.NewSimulationTrace(tc)
			}

			ctx := cmd.Context()
			if runID != 0 {
				if a.settings.DB == "" {
					return errors.New("--run-id requires --db")
				}
			} else if spec.scenario == "" {
				return errors.New("either --run-id or --scenario is required")
			}

			store, err := storage.Open(a.settings.DB)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if runID == 0 {
				run, err := spec.build()
				if err != nil {
					return err
				}
				if runID, err = store.CreateRun(ctx, run); err != nil {
					return err
				}
			}

			start := time.Now()
			env, err := executeRun(ctx, store, runID, opts)
			if err != nil {
				return err
			}
			logrus.Infof("run %d: finished %d steps in %s", runID, env.Scheduler.Step(), time.Since(start))
			printResult(cmd.OutOrStdout(), runID, env, opts.Trace)
			return nil
		},
	}
	spec.addFlags(cmd)
	cmd.Flags().Int64Var(&runID, "run-id", 0, "ID of a stored run to execute (requires --db)")
	cmd.Flags().Int64Var(&seed, "seed", 42, "Seed for the simulation RNG")
	cmd.Flags().StringVar(&traceLevel, "trace-level", "none", "Trace verbosity (none, decisions, detailed)")
	return cmd
}

// executeRun drives a stored run to completion: RUNNING while the scheduler
// steps, then FINISHED or ERROR. Global state is persisted after every step
// and participant state once at the end.
func executeRun(ctx context.Context, store storage.Store, runID int64, opts runOptions) (*sim.Environment, error) {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.State.Terminal() {
		return nil, fmt.Errorf("run %d is already %s", runID, run.State)
	}
	if err := store.UpdateRunState(ctx, runID, sim.RunRunning); err != nil {
		return nil, err
	}

	env, err := simulate(ctx, store, run, opts)
	final := sim.RunFinished
	if err != nil {
		final = sim.RunError
		logrus.WithField("run", runID).Errorf("run failed: %v", err)
	}
	if uerr := store.UpdateRunState(context.WithoutCancel(ctx), runID, final); uerr != nil {
		err = errors.Join(err, uerr)
	}
	return env, err
}

func simulate(ctx context.Context, store storage.Store, run sim.Run, opts runOptions) (*sim.Environment, error) {
	cfg := sim.Config{FinishTime: run.FinishTime, Workers: opts.Workers, Seed: opts.Seed}

	var (
		env        *sim.Environment
		persistErr error
	)
	observer := func(ctx context.Context, s sim.StepSummary) error {
		if opts.Trace != nil {
			opts.Trace.RecordStep(stepRecord(s))
		}
		err := persistGlobals(ctx, store, run.ID, s.Step, env.State)
		if err == nil {
			err = store.UpdateRunProgress(ctx, run.ID, s.Step)
		}
		if err != nil && persistErr == nil {
			persistErr = err
		}
		return err
	}

	env, err := sim.BuildEnvironment(run, cfg, sim.WithStepObserver(observer))
	if err != nil {
		return nil, err
	}
	if err := env.Scheduler.Run(ctx); err != nil {
		return env, err
	}
	if persistErr != nil {
		return env, fmt.Errorf("persisting step state: %w", persistErr)
	}
	return env, persistParticipants(ctx, store, run.ID, env.State)
}

func stepRecord(s sim.StepSummary) trace.StepRecord {
	rec := trace.StepRecord{
		Step:     s.Step,
		Tasks:    s.Initialised.Tasks + s.PreStep.Tasks + s.Main.Tasks + s.Finish.Tasks,
		Failures: s.Initialised.Failures + s.PreStep.Failures + s.Main.Failures + s.Finish.Failures,
		Stop:     s.Finish.Stop,
	}
	if s.CommitErr != nil {
		rec.CommitErr = s.CommitErr.Error()
	}
	return rec
}

func encodeValue(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func persistGlobals(ctx context.Context, store storage.Store, runID, step int64, st *state.Store) error {
	for _, k := range st.Keys() {
		if !k.IsGlobal() {
			continue
		}
		v, err := st.ReadGlobal(k.Name)
		if err != nil {
			return err
		}
		val, err := encodeValue(v)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", k, err)
		}
		if err := store.PutProperty(ctx, storage.Property{
			RunID: runID, Key: k.Name, Step: storage.StepOf(step), Value: val,
		}); err != nil {
			return err
		}
	}
	return nil
}

// persistParticipants stores the final participant-scoped values. Inbox logs
// are skipped.
func persistParticipants(ctx context.Context, store storage.Store, runID int64, st *state.Store) error {
	for _, k := range st.Keys() {
		if k.IsGlobal() || k.Name == network.InboxKey {
			continue
		}
		v, err := st.Read(k.Name, k.Owner)
		if err != nil {
			return err
		}
		val, err := encodeValue(v)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", k, err)
		}
		if err := store.PutProperty(ctx, storage.Property{
			RunID: runID, Key: k.Name, Participant: storage.ParticipantOf(k.Owner), Value: val,
		}); err != nil {
			return err
		}
	}
	return nil
}

func printResult(w io.Writer, runID int64, env *sim.Environment, st *trace.SimulationTrace) {
	fmt.Fprintf(w, "run %d: %d steps\n", runID, env.Scheduler.Step())
	snap := env.State.Snapshot()
	var names []string
	for k := range snap {
		if k.IsGlobal() {
			names = append(names, k.Name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s = %v\n", name, snap[state.Key{Name: name, Owner: state.GlobalOwner}])
	}
	if st != nil {
		s := trace.Summarize(st)
		fmt.Fprintf(w, "trace: steps=%d task_failures=%d commit_errors=%d\n", s.Steps, s.TaskFailures, s.CommitErrors)
	}
}
