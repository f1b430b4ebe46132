package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/agentsim/sim"
)

// forEachStore runs fn against every Store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := OpenSQLite(filepath.Join(t.TempDir(), "runs.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		fn(t, s)
	})
}

func TestStore_RunLifecycle(t *testing.T) {
	ctx := context.Background()
	forEachStore(t, func(t *testing.T, s Store) {
		// GIVEN a created run
		id, err := s.CreateRun(ctx, sim.Run{
			Scenario:   "counter",
			Parameters: sim.Parameters{"participants": "3"},
			State:      sim.RunRunning, // ignored: new runs start NOT_STARTED
			FinishTime: 10,
		})
		require.NoError(t, err)
		assert.Positive(t, id)

		// WHEN its state and progress are updated
		require.NoError(t, s.UpdateRunState(ctx, id, sim.RunReady))
		require.NoError(t, s.UpdateRunProgress(ctx, id, 4))

		// THEN GetRun reflects both
		run, err := s.GetRun(ctx, id)
		require.NoError(t, err)
		want := sim.Run{
			ID: id, Scenario: "counter", Parameters: sim.Parameters{"participants": "3"},
			State: sim.RunReady, FinishTime: 10, CurrentStep: 4,
		}
		if diff := cmp.Diff(want, run); diff != "" {
			t.Errorf("GetRun (-want +got):\n%s", diff)
		}

		second, err := s.CreateRun(ctx, sim.Run{Scenario: "gossip"})
		require.NoError(t, err)
		assert.NotEqual(t, id, second)
		got, err := s.GetRun(ctx, second)
		require.NoError(t, err)
		assert.Equal(t, sim.Parameters{}, got.Parameters)
	})
}

func TestStore_MissingRun(t *testing.T) {
	ctx := context.Background()
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.GetRun(ctx, 99)
		assert.True(t, errors.Is(err, ErrRunNotFound))
		assert.True(t, errors.Is(s.UpdateRunState(ctx, 99, sim.RunError), ErrRunNotFound))
		assert.True(t, errors.Is(s.UpdateRunProgress(ctx, 99, 1), ErrRunNotFound))
		assert.True(t, errors.Is(s.PutProperty(ctx, Property{RunID: 99, Key: "k"}), ErrRunNotFound))
		_, err = s.Properties(ctx, 99, PropertyFilter{})
		assert.True(t, errors.Is(err, ErrRunNotFound))
	})
}

func TestStore_InvalidState(t *testing.T) {
	ctx := context.Background()
	forEachStore(t, func(t *testing.T, s Store) {
		id, err := s.CreateRun(ctx, sim.Run{Scenario: "x"})
		require.NoError(t, err)
		assert.Error(t, s.UpdateRunState(ctx, id, "PAUSED"))
	})
}

func TestStore_Properties_UpsertAndFilter(t *testing.T) {
	ctx := context.Background()
	forEachStore(t, func(t *testing.T, s Store) {
		id, err := s.CreateRun(ctx, sim.Run{Scenario: "counter"})
		require.NoError(t, err)

		// GIVEN run-level, step-level and per-participant properties
		puts := []Property{
			{RunID: id, Key: "counter", Step: StepOf(0), Value: "2"},
			{RunID: id, Key: "counter", Step: StepOf(1), Value: "4"},
			{RunID: id, Key: "counter", Step: StepOf(1), Value: "5"}, // replaces the previous
			{RunID: id, Key: "seed", Value: "42"},
			{RunID: id, Key: "score", Step: StepOf(1), Participant: ParticipantOf("a"), Value: "1"},
			{RunID: id, Key: "score", Step: StepOf(1), Participant: ParticipantOf("b"), Value: "3"},
		}
		for _, p := range puts {
			require.NoError(t, s.PutProperty(ctx, p))
		}
		assert.Error(t, s.PutProperty(ctx, Property{RunID: id}), "empty key")

		// WHEN all are listed THEN the order is key, step, participant
		all, err := s.Properties(ctx, id, PropertyFilter{})
		require.NoError(t, err)
		want := []Property{
			{RunID: id, Key: "counter", Step: StepOf(0), Value: "2"},
			{RunID: id, Key: "counter", Step: StepOf(1), Value: "5"},
			{RunID: id, Key: "score", Step: StepOf(1), Participant: ParticipantOf("a"), Value: "1"},
			{RunID: id, Key: "score", Step: StepOf(1), Participant: ParticipantOf("b"), Value: "3"},
			{RunID: id, Key: "seed", Value: "42"},
		}
		if diff := cmp.Diff(want, all); diff != "" {
			t.Errorf("Properties (-want +got):\n%s", diff)
		}

		step1, err := s.Properties(ctx, id, PropertyFilter{Step: StepOf(1)})
		require.NoError(t, err)
		assert.Len(t, step1, 3)

		b, err := s.Properties(ctx, id, PropertyFilter{Key: "score", Participant: ParticipantOf("b")})
		require.NoError(t, err)
		require.Len(t, b, 1)
		assert.Equal(t, "3", b[0].Value)

		none, err := s.Properties(ctx, id, PropertyFilter{Key: "absent"})
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestOpenSQLite_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	id, err := s.CreateRun(ctx, sim.Run{Scenario: "gossip", FinishTime: 3})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// migrations are not re-applied on reopen
	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	run, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "gossip", run.Scenario)
	assert.Equal(t, int64(3), run.FinishTime)
}

func TestOpen_PicksImplementation(t *testing.T) {
	mem, err := Open("")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, mem)

	db, err := Open(filepath.Join(t.TempDir(), "x.db"))
	require.NoError(t, err)
	defer db.Close()
	assert.IsType(t, &SQLiteStore{}, db)
}
