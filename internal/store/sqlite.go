package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("rank run not found")

// Store provides SQLite-backed persistence of the run log
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: a single writer, and ":memory:" stays one database.
	db.SetMaxOpenConns(1)

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	// Run migrations
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("store initialized", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

const rankRunColumns = `
	id, catalog_source, start_time, end_time, catalog_mirrors, candidates,
	probed_ok, probe_failed, ranked, output_path, status, error_message
`

// CreateRankRun inserts a new RankRun and sets its ID
func (s *Store) CreateRankRun(run *RankRun) error {
	const query = `
		INSERT INTO rank_runs (
			catalog_source, start_time, end_time, catalog_mirrors, candidates,
			probed_ok, probe_failed, ranked, output_path, status, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(
		query,
		run.CatalogSource, run.StartTime, run.EndTime, run.CatalogMirrors,
		run.Candidates, run.ProbedOK, run.ProbeFailed, run.Ranked,
		run.OutputPath, run.Status, run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert rank run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	run.ID = id
	return nil
}

// UpdateRankRun updates an existing RankRun by ID
func (s *Store) UpdateRankRun(run *RankRun) error {
	const query = `
		UPDATE rank_runs SET
			catalog_source = ?, start_time = ?, end_time = ?, catalog_mirrors = ?,
			candidates = ?, probed_ok = ?, probe_failed = ?, ranked = ?,
			output_path = ?, status = ?, error_message = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(
		query,
		run.CatalogSource, run.StartTime, run.EndTime, run.CatalogMirrors,
		run.Candidates, run.ProbedOK, run.ProbeFailed, run.Ranked,
		run.OutputPath, run.Status, run.ErrorMessage, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update rank run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, run.ID)
	}

	return nil
}

// GetRankRun retrieves a RankRun by ID
func (s *Store) GetRankRun(id int64) (*RankRun, error) {
	query := "SELECT " + rankRunColumns + " FROM rank_runs WHERE id = ?"

	run, err := scanRankRun(s.db.QueryRow(query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to query rank run: %w", err)
	}

	return run, nil
}

// ListRankRuns retrieves the most recent RankRuns first
func (s *Store) ListRankRuns(limit int) ([]RankRun, error) {
	query := "SELECT " + rankRunColumns + " FROM rank_runs ORDER BY start_time DESC, id DESC"
	var args []interface{}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rank runs: %w", err)
	}
	defer rows.Close()

	var runs []RankRun
	for rows.Next() {
		run, err := scanRankRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rank run: %w", err)
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rank runs: %w", err)
	}

	return runs, nil
}

// PruneRankRuns deletes all but the newest keep runs and returns how many
// rows were removed.
func (s *Store) PruneRankRuns(keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("invalid keep count: %d", keep)
	}

	const query = `
		DELETE FROM rank_runs WHERE id NOT IN (
			SELECT id FROM rank_runs ORDER BY start_time DESC, id DESC LIMIT ?
		)
	`

	result, err := s.db.Exec(query, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune rank runs: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return removed, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRankRun(row rowScanner) (*RankRun, error) {
	run := &RankRun{}
	err := row.Scan(
		&run.ID, &run.CatalogSource, &run.StartTime, &run.EndTime,
		&run.CatalogMirrors, &run.Candidates, &run.ProbedOK, &run.ProbeFailed,
		&run.Ranked, &run.OutputPath, &run.Status, &run.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}
