package db

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/potentiostat/internal/experiment"
	"github.com/banshee-data/potentiostat/internal/voltammetry"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	store, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleSession(status experiment.Status) *experiment.Session {
	params := voltammetry.Params{StartVolts: -0.5, EndVolts: 0.5, ScanRate: 0.1, Cycles: 1}
	readings := []voltammetry.Reading{
		{ElapsedSeconds: 0.1, Raw: 16000, AppliedVolts: -0.49, CurrentUA: 1.5, Cycle: 0},
		{ElapsedSeconds: 0.2, Raw: 16010, AppliedVolts: -0.48, CurrentUA: 1.6, Cycle: 0},
		{ElapsedSeconds: 0.3, Raw: 16020, AppliedVolts: -0.47, CurrentUA: 1.7, Cycle: 0},
	}
	return experiment.RestoreSession(uuid.New(), "cv", params, status, readings)
}

func TestArchiveSession_RoundTrip(t *testing.T) {
	store := openTestDB(t)

	s := sampleSession(experiment.StatusCompleted)
	require.NoError(t, store.ArchiveSession(s))

	records, err := store.ListSessions(10)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, s.ID.String(), rec.SessionID)
	assert.Equal(t, "cv", rec.Technique)
	assert.Equal(t, string(experiment.StatusCompleted), rec.Status)
	assert.Equal(t, -0.5, rec.StartVolts)
	assert.Equal(t, 0.5, rec.EndVolts)
	assert.Equal(t, 0.1, rec.ScanRate)
	assert.Equal(t, 1, rec.Cycles)

	samples, err := store.SessionSamples(s.ID.String())
	require.NoError(t, err)
	require.Len(t, samples, 3)
	if diff := cmp.Diff(s.Readings(), samples); diff != "" {
		t.Errorf("archived samples differ from recorded readings (-want +got):\n%s", diff)
	}
}

func TestArchiveSession_RejectsNonTerminal(t *testing.T) {
	store := openTestDB(t)

	for _, status := range []experiment.Status{
		experiment.StatusIdle,
		experiment.StatusConfiguring,
		experiment.StatusRunning,
	} {
		err := store.ArchiveSession(sampleSession(status))
		assert.Errorf(t, err, "status %s must be rejected", status)
	}

	records, err := store.ListSessions(10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestArchiveSession_AcceptsAllTerminalStates(t *testing.T) {
	store := openTestDB(t)

	for _, status := range []experiment.Status{
		experiment.StatusCompleted,
		experiment.StatusStopped,
		experiment.StatusAborted,
		experiment.StatusError,
	} {
		require.NoErrorf(t, store.ArchiveSession(sampleSession(status)), "status %s", status)
	}

	records, err := store.ListSessions(10)
	require.NoError(t, err)
	assert.Len(t, records, 4)
}

func TestSessionSamples_UnknownSession(t *testing.T) {
	store := openTestDB(t)
	samples, err := store.SessionSamples("no-such-id")
	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestListSessions_LimitDefaults(t *testing.T) {
	store := openTestDB(t)
	require.NoError(t, store.ArchiveSession(sampleSession(experiment.StatusCompleted)))

	records, err := store.ListSessions(0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
