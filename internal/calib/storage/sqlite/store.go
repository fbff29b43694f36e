package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/distortion/internal/calib/basis"
	"github.com/banshee-data/distortion/internal/calib/exposure"
	"github.com/banshee-data/distortion/internal/calib/geom"
	"github.com/banshee-data/distortion/internal/timeutil"
)

// ErrNotFound is returned when a run ID has no row.
var ErrNotFound = errors.New("calibration run not found")

// Run is one persisted calibration.
type Run struct {
	RunID        string              `json:"run_id"`
	CreatedAt    int64               `json:"created_at"` // unix nanoseconds
	Kind         basis.Kind          `json:"basis_kind"`
	Param        int                 `json:"basis_param"`
	Extent       basis.Extent        `json:"extent"`
	Grid         geom.Grid           `json:"grid"`
	Radius       int                 `json:"radius"`
	Threshold    float64             `json:"threshold"`
	Differential bool                `json:"differential"`
	Exposures    int                 `json:"exposures"`
	Stats        basis.Stats         `json:"stats"`
	Notes        string              `json:"notes,omitempty"`
	Coeffs       [][2]float64        `json:"coeffs"`
	Centroids    []exposure.Centroid `json:"centroids,omitempty"`
}

// NewRun captures a fitted basis and its settings. The coefficients are
// copied out of b.
func NewRun(b basis.Basis, param int, extent basis.Extent, stats basis.Stats) *Run {
	return &Run{
		Kind:   b.Kind(),
		Param:  param,
		Extent: extent,
		Stats:  stats,
		Coeffs: basis.ExportCoeffs(b),
	}
}

// Basis rebuilds the fitted model stored in the run.
func (r *Run) Basis() (basis.Basis, error) {
	b, err := basis.New(r.Kind, r.Param, r.Extent)
	if err != nil {
		return nil, err
	}
	if err := basis.ImportCoeffs(b, r.Coeffs); err != nil {
		return nil, fmt.Errorf("run %s: %w", r.RunID, err)
	}
	return b, nil
}

// Store reads and writes calibration runs.
type Store struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Open opens or creates the database at path and migrates it to the latest
// schema.
func Open(path string) (*Store, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return NewStore(db), nil
}

// NewStore wraps an already migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, clock: timeutil.RealClock{}}
}

// SetClock replaces the clock used to stamp new runs.
func (s *Store) SetClock(c timeutil.Clock) { s.clock = c }

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// SaveRun inserts run with its coefficients and centroids in one
// transaction. An empty RunID gets a fresh UUID and a zero CreatedAt is set
// to now; both are written back to run only once the transaction commits.
func (s *Store) SaveRun(run *Run) error {
	id, created := run.RunID, run.CreatedAt
	if id == "" {
		id = uuid.New().String()
	}
	if created == 0 {
		created = s.clock.Now().UnixNano()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var notes interface{}
	if run.Notes != "" {
		notes = run.Notes
	}
	_, err = tx.Exec(`
		INSERT INTO calibration_runs (
			run_id, created_at, basis_kind, basis_param, extent_width, extent_height,
			grid_pitch, grid_rotation, grid_offset_x, grid_offset_y,
			radius, threshold, differential, exposures,
			fit_rows, fit_active, fit_cond, fit_rms, notes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, created, string(run.Kind), run.Param, run.Extent.Width, run.Extent.Height,
		run.Grid.Pitch, run.Grid.Rotation, run.Grid.Offset.X, run.Grid.Offset.Y,
		run.Radius, run.Threshold, run.Differential, run.Exposures,
		run.Stats.Rows, run.Stats.Active, run.Stats.Cond, run.Stats.RMS, notes,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	coeff, err := tx.Prepare(`INSERT INTO calibration_coeffs (run_id, idx, cx, cy) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare coeffs: %w", err)
	}
	defer coeff.Close()
	for i, c := range run.Coeffs {
		if _, err := coeff.Exec(id, i, c[0], c[1]); err != nil {
			return fmt.Errorf("insert coeff %d: %w", i, err)
		}
	}

	cog, err := tx.Prepare(`
		INSERT INTO calibration_centroids (run_id, seq, pos_x, pos_y, cog_x, cog_y, flux)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare centroids: %w", err)
	}
	defer cog.Close()
	for i, c := range run.Centroids {
		if _, err := cog.Exec(id, i, c.Pos.X, c.Pos.Y, c.Cog.X, c.Cog.Y, c.Flux); err != nil {
			return fmt.Errorf("insert centroid %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	run.RunID, run.CreatedAt = id, created
	return nil
}

const runColumns = `
	run_id, created_at, basis_kind, basis_param, extent_width, extent_height,
	grid_pitch, grid_rotation, grid_offset_x, grid_offset_y,
	radius, threshold, differential, exposures,
	fit_rows, fit_active, fit_cond, fit_rms, notes`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var kind string
	var notes sql.NullString
	err := row.Scan(
		&r.RunID, &r.CreatedAt, &kind, &r.Param, &r.Extent.Width, &r.Extent.Height,
		&r.Grid.Pitch, &r.Grid.Rotation, &r.Grid.Offset.X, &r.Grid.Offset.Y,
		&r.Radius, &r.Threshold, &r.Differential, &r.Exposures,
		&r.Stats.Rows, &r.Stats.Active, &r.Stats.Cond, &r.Stats.RMS, &notes,
	)
	if err != nil {
		return nil, err
	}
	r.Kind = basis.Kind(kind)
	r.Grid.Kind = geom.GridHex
	r.Notes = notes.String
	return &r, nil
}

// GetRun loads a run with its coefficients and centroids.
func (s *Store) GetRun(runID string) (*Run, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM calibration_runs WHERE run_id = ?`, runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if r.Coeffs, err = s.coeffs(runID); err != nil {
		return nil, err
	}
	if r.Centroids, err = s.centroids(runID); err != nil {
		return nil, err
	}
	return r, nil
}

// ListRuns returns the most recent runs first, without coefficients or
// centroids. limit <= 0 returns every run.
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	q := `SELECT ` + runColumns + ` FROM calibration_runs ORDER BY created_at DESC, run_id`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LatestRun returns the most recently created run in full.
func (s *Store) LatestRun() (*Run, error) {
	var id string
	err := s.db.QueryRow(`SELECT run_id FROM calibration_runs ORDER BY created_at DESC, run_id LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest run: %w", err)
	}
	return s.GetRun(id)
}

// LoadBasis rebuilds the fitted model of a stored run.
func (s *Store) LoadBasis(runID string) (basis.Basis, error) {
	r, err := s.GetRun(runID)
	if err != nil {
		return nil, err
	}
	return r.Basis()
}

// DeleteRun removes a run and its dependent rows.
func (s *Store) DeleteRun(runID string) error {
	res, err := s.db.Exec(`DELETE FROM calibration_runs WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return nil
}

func (s *Store) coeffs(runID string) ([][2]float64, error) {
	rows, err := s.db.Query(`SELECT cx, cy FROM calibration_coeffs WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("query coeffs: %w", err)
	}
	defer rows.Close()

	var out [][2]float64
	for rows.Next() {
		var c [2]float64
		if err := rows.Scan(&c[0], &c[1]); err != nil {
			return nil, fmt.Errorf("scan coeff: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) centroids(runID string) ([]exposure.Centroid, error) {
	rows, err := s.db.Query(`
		SELECT pos_x, pos_y, cog_x, cog_y, flux
		FROM calibration_centroids
		WHERE run_id = ?
		ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("query centroids: %w", err)
	}
	defer rows.Close()

	var out []exposure.Centroid
	for rows.Next() {
		var c exposure.Centroid
		if err := rows.Scan(&c.Pos.X, &c.Pos.Y, &c.Cog.X, &c.Cog.Y, &c.Flux); err != nil {
			return nil, fmt.Errorf("scan centroid: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
