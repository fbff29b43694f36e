package sqlite

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/distortion/internal/calib/basis"
	"github.com/banshee-data/distortion/internal/calib/exposure"
	"github.com/banshee-data/distortion/internal/calib/geom"
	"github.com/banshee-data/distortion/internal/timeutil"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "calib.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func fittedRun(t *testing.T) (*Run, basis.Basis) {
	t.Helper()
	extent := basis.Extent{Width: 640, Height: 480}
	b, err := basis.NewPolynomial(2, extent)
	require.NoError(t, err)
	require.NoError(t, b.SetCoeffs([]geom.Vec2D{
		{X: 0.5, Y: -0.25}, {X: 1.5, Y: 0}, {X: 0, Y: 2}, {X: -0.125, Y: 0.75}, {X: 3, Y: -3},
	}))

	run := NewRun(b, 2, extent, basis.Stats{Rows: 40, Active: 5, Cond: 12.5, RMS: 0.03})
	run.Grid = geom.NewHexGrid(50, 0.02, geom.Vec2D{X: 1, Y: -2})
	run.Radius = 8
	run.Threshold = 1000
	run.Exposures = 4
	run.Notes = "bench A"
	run.Centroids = []exposure.Centroid{
		{Pos: geom.Vec2D{X: 10, Y: 20}, Cog: geom.Vec2D{X: 10.5, Y: 19.75}, Flux: 1200},
		{Pos: geom.Vec2D{X: 60, Y: 20}, Cog: geom.Vec2D{X: 60.25, Y: 20.5}, Flux: 1500},
	}
	return run, b
}

func TestOpen_MigratesSchema(t *testing.T) {
	s := openTestStore(t)
	version, dirty, err := MigrateVersion(s.DB())
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// Reopening an up-to-date database is a no-op.
	require.NoError(t, MigrateUp(s.DB()))
}

func TestMigrateDown(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, MigrateDown(s.DB()))

	var n int
	require.NoError(t, s.DB().QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='calibration_runs'`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestSaveRun_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	run, b := fittedRun(t)
	require.NoError(t, s.SaveRun(run))
	assert.NotEmpty(t, run.RunID)
	assert.NotZero(t, run.CreatedAt)

	got, err := s.GetRun(run.RunID)
	require.NoError(t, err)
	if diff := cmp.Diff(run, got); diff != "" {
		t.Errorf("GetRun mismatch (-want +got):\n%s", diff)
	}

	loaded, err := s.LoadBasis(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, b.Coeffs(), loaded.Coeffs())
	probe := geom.Vec2D{X: 123, Y: 321}
	assert.Equal(t, basis.Eval(b, probe), basis.Eval(loaded, probe))
}

func TestSaveRun_DuplicateID(t *testing.T) {
	s := openTestStore(t)
	run, _ := fittedRun(t)
	require.NoError(t, s.SaveRun(run))

	again, _ := fittedRun(t)
	again.RunID = run.RunID
	require.Error(t, s.SaveRun(again))

	// The failed transaction left no partial rows behind.
	got, err := s.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Len(t, got.Coeffs, 5)
	assert.Len(t, got.Centroids, 2)
}

func TestSaveRun_FailureLeavesRunUntouched(t *testing.T) {
	s := openTestStore(t)
	_, err := s.DB().Exec(`DROP TABLE calibration_centroids`)
	require.NoError(t, err)

	run, _ := fittedRun(t)
	require.Error(t, s.SaveRun(run))
	assert.Empty(t, run.RunID, "no ID for a run that was never stored")
	assert.Zero(t, run.CreatedAt)

	runs, err := s.ListRuns(0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestGetRun_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetRun("missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = s.LatestRun()
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.True(t, errors.Is(s.DeleteRun("missing"), ErrNotFound))
}

func TestListRuns_NewestFirst(t *testing.T) {
	s := openTestStore(t)
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(start)
	s.SetClock(clock)

	var ids []string
	for i := 0; i < 3; i++ {
		run, _ := fittedRun(t)
		require.NoError(t, s.SaveRun(run))
		assert.Equal(t, start.Add(time.Duration(i)*time.Minute).UnixNano(), run.CreatedAt)
		ids = append(ids, run.RunID)
		clock.Advance(time.Minute)
	}

	runs, err := s.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, ids[2], runs[0].RunID)
	assert.Equal(t, ids[0], runs[2].RunID)
	assert.Nil(t, runs[0].Coeffs)

	runs, err = s.ListRuns(2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	latest, err := s.LatestRun()
	require.NoError(t, err)
	assert.Equal(t, ids[2], latest.RunID)
	assert.Len(t, latest.Coeffs, 5)
}

func TestDeleteRun_Cascades(t *testing.T) {
	s := openTestStore(t)
	run, _ := fittedRun(t)
	require.NoError(t, s.SaveRun(run))
	require.NoError(t, s.DeleteRun(run.RunID))

	var n int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM calibration_coeffs`).Scan(&n))
	assert.Equal(t, 0, n)
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM calibration_centroids`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestRunBasis_WrongLength(t *testing.T) {
	run, _ := fittedRun(t)
	run.Coeffs = run.Coeffs[:3]
	_, err := run.Basis()
	assert.True(t, errors.Is(err, basis.ErrPrecondition))

	run.Kind = "spline"
	_, err = run.Basis()
	assert.True(t, errors.Is(err, basis.ErrPrecondition))
}
