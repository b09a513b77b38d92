package lut

import (
	"database/sql"
	"time"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SQLiteSink stores entries of every run in one database, table
// lut_entries keyed by run id and index.
type SQLiteSink struct {
	db     *sql.DB
	insert *sql.Stmt
	path   string
}

func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open database %s", path)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS lut_entries
		(
			run_id          TEXT    NOT NULL,
			idx             INTEGER NOT NULL,
			charge          INTEGER NOT NULL,
			state_of_charge REAL    NOT NULL,
			ocv_mv          REAL    NOT NULL,
			loaded_mv       REAL    NOT NULL,
			energy_wh       REAL    NOT NULL,
			at              TEXT    NOT NULL,
			PRIMARY KEY (run_id, idx)
		)
	`)
	if err != nil {
		_ = db.Close()
		return nil, pkgerrors.Wrapf(err, "failed to create table in %s", path)
	}

	stmt, err := db.Prepare(`INSERT INTO lut_entries VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = db.Close()
		return nil, pkgerrors.Wrap(err, "failed to prepare insert")
	}

	logrus.WithField("path", path).Info("storing results in database")

	return &SQLiteSink{db: db, insert: stmt, path: path}, nil
}

func (s *SQLiteSink) Append(e Entry) error {
	_, err := s.insert.Exec(
		e.RunID,
		e.Index,
		e.Charge,
		e.StateOfChargePercent,
		e.OpenCircuitVoltageMillivolts,
		e.LoadedVoltageMillivolts,
		e.EnergyWh,
		e.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to insert entry %d of run %s", e.Index, e.RunID)
	}
	return nil
}

// Entries returns the entries of a run ordered by index.
func (s *SQLiteSink) Entries(runID string) ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT run_id, idx, charge, state_of_charge, ocv_mv, loaded_mv, energy_wh, at
		FROM lut_entries WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to query run %s", runID)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var at string
		err := rows.Scan(&e.RunID, &e.Index, &e.Charge, &e.StateOfChargePercent,
			&e.OpenCircuitVoltageMillivolts, &e.LoadedVoltageMillivolts, &e.EnergyWh, &at)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "failed to scan entry")
		}
		e.At, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "bad timestamp %q", at)
		}
		entries = append(entries, e)
	}

	return entries, pkgerrors.Wrap(rows.Err(), "failed to read entries")
}

// Runs lists the run ids in the database, oldest first.
func (s *SQLiteSink) Runs() ([]string, error) {
	rows, err := s.db.Query(`SELECT run_id FROM lut_entries GROUP BY run_id ORDER BY MIN(at)`)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to query runs")
	}
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, pkgerrors.Wrap(err, "failed to scan run id")
		}
		runs = append(runs, id)
	}

	return runs, pkgerrors.Wrap(rows.Err(), "failed to read runs")
}

func (s *SQLiteSink) Close() error {
	_ = s.insert.Close()
	err := s.db.Close()
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to close database %s", s.path)
	}
	return nil
}
