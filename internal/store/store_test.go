package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drillops/cerberus/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cerberus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.CreateRun("run-1", "auto", []string{"RIH", "POOH"}, 12))

	run, err := s.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, "running", run.State)
	assert.Equal(t, 12, run.TotalRows)
	assert.Equal(t, 0, run.ProcessedRows)
	assert.Equal(t, []string{"RIH", "POOH"}, run.Modes)
	assert.True(t, run.FinishedAt.IsZero())

	require.NoError(t, s.FinishRun("run-1", "completed", ""))
	run, err = s.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", run.State)
	assert.False(t, run.FinishedAt.IsZero())
}

func TestGetRun_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetRun("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLatestRun_Empty(t *testing.T) {
	s := openTestStore(t)
	_, err := s.LatestRun()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordRow_AdvancesProgress(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.CreateRun("run-1", "auto", []string{"RIH"}, 4))

	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordRow("run-1", model.ResultRow{
			GlobalIndex: i,
			Mode:        model.ModeRIH,
			BatchIndex:  1,
			Values:      map[string]string{"Depth": "1000"},
		}))
	}

	run, err := s.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, 3, run.ProcessedRows, "progress is the highest recorded index plus one")

	rows, err := s.Rows("run-1")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "1000", rows[0].Values["Depth"])
	assert.Equal(t, model.ModeRIH, rows[1].Mode)
}

func TestRecordRow_ReplaceIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.CreateRun("run-1", "auto", []string{"RIH"}, 2))

	row := model.ResultRow{GlobalIndex: 0, Mode: model.ModeRIH, BatchIndex: 1, Values: map[string]string{"v": "a"}}
	require.NoError(t, s.RecordRow("run-1", row))
	row.Values = map[string]string{"v": "b"}
	require.NoError(t, s.RecordRow("run-1", row))

	rows, err := s.Rows("run-1")
	require.NoError(t, err)
	require.Len(t, rows, 1, "a re-collected row replaces, never duplicates")
	assert.Equal(t, "b", rows[0].Values["v"])
}

func TestLatestRun_PicksNewest(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.CreateRun("run-1", "auto", []string{"RIH"}, 2))
	require.NoError(t, s.CreateRun("run-2", "auto", []string{"RIH"}, 2))

	latest, err := s.LatestRun()
	require.NoError(t, err)
	assert.Equal(t, "run-2", latest.ID)
}
