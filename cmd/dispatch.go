package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/agentsim/sim"
	"github.com/inference-sim/agentsim/sim/dispatch"
	"github.com/inference-sim/agentsim/sim/storage"
	"github.com/inference-sim/agentsim/sim/trace"
)

func newDispatchCmd(a *app) *cobra.Command {
	var (
		seed       int64
		traceLevel string
	)
	cmd := &cobra.Command{
		Use:   "dispatch [RUN_ID...]",
		Short: "Queue stored runs on the configured executors and wait until all finish",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseRunIDs(args)
			if err != nil {
				return err
			}
			if a.settings.DB == "" {
				return errors.New("dispatch requires --db")
			}
			if !trace.IsValidTraceLevel(traceLevel) {
				return fmt.Errorf("invalid trace level %q", traceLevel)
			}
			cfg, err := dispatch.LoadExecutorConfig(a.settings.Executors)
			if err != nil {
				return err
			}
			store, err := storage.Open(a.settings.DB)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			ctx := cmd.Context()
			proc := dispatch.ProcessConfig{DB: a.settings.DB, Args: []string{
				"--log", a.settings.LogLevel,
				"--workers", strconv.Itoa(a.settings.Workers),
				"--seed", strconv.FormatInt(seed, 10),
			}}
			opts := runOptions{Workers: a.settings.Workers, Seed: seed}
			runInProcess := func(ctx context.Context, runID int64) error {
				_, err := executeRun(ctx, store, runID, opts)
				return err
			}
			executors, err := dispatch.BuildExecutors(cfg, proc, runInProcess)
			if err != nil {
				return err
			}

			st := trace.NewSimulationTrace(trace.TraceConfig{Level: trace.TraceLevel(traceLevel)})
			d := dispatch.NewDispatcher(executors,
				dispatch.WithPollInterval(a.settings.PollInterval),
				dispatch.WithTrace(st),
				dispatch.WithStateHook(func(runID int64, state sim.RunState) {
					recordState(context.WithoutCancel(ctx), store, runID, state)
				}),
			)
			d.Start(ctx)
			for _, id := range ids {
				d.Enqueue(id)
			}
			d.Enqueue(dispatch.EndOfInput)
			if err := d.Shutdown(ctx); err != nil {
				return fmt.Errorf("dispatch interrupted: %w", err)
			}

			if st.Config.Enabled() {
				s := trace.Summarize(st)
				fmt.Fprintf(cmd.OutOrStdout(), "dispatched=%d retries=%d executors=%d\n",
					s.TotalDispatches, s.TotalRetries, s.UniqueExecutors)
			}
			return nil
		},
	}
	cmd.Flags().String("executors", "", "Executor YAML file; empty uses one local executor with capacity 1")
	cmd.Flags().Duration("poll-interval", dispatch.DefaultPollInterval, "How often executors are checked for spare capacity")
	cmd.Flags().Int64Var(&seed, "seed", 42, "Seed passed to every run")
	cmd.Flags().StringVar(&traceLevel, "trace-level", "none", "Trace verbosity (none, decisions, detailed)")
	return cmd
}

func parseRunIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid run id %q: must be a positive integer", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// recordState persists a dispatcher state change. Terminal runs are never
// moved back to READY.
func recordState(ctx context.Context, store storage.Store, runID int64, state sim.RunState) {
	log := logrus.WithField("run", runID)
	if state == sim.RunReady {
		run, err := store.GetRun(ctx, runID)
		if err != nil {
			log.Warnf("dispatch: %v", err)
			return
		}
		if run.State.Terminal() {
			log.Warnf("dispatch: run is already %s", run.State)
			return
		}
	}
	if err := store.UpdateRunState(ctx, runID, state); err != nil {
		log.Warnf("dispatch: recording state %s: %v", state, err)
	}
}
