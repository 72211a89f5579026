/*
 *	Copyright 2025 The GoMLX Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package metrics

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const createMetricsTable = `
	CREATE TABLE IF NOT EXISTS metrics(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts REAL NOT NULL,
		run TEXT NOT NULL,
		name TEXT NOT NULL,
		value REAL NOT NULL,
		step INTEGER NOT NULL,
		epoch INTEGER NOT NULL,
		scope TEXT NOT NULL
	)`

// SQLiteWriter appends points to the table "metrics" of a SQLite database.
type SQLiteWriter struct {
	db *sql.DB
}

// NewSQLiteWriter opens (or creates) the database in path.
func NewSQLiteWriter(path string) (*SQLiteWriter, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening metrics database %q", path)
	}
	if _, err = db.Exec(createMetricsTable); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "creating metrics table in %q", path)
	}
	return &SQLiteWriter{db: db}, nil
}

// Write implements Writer. All points are inserted in one transaction.
func (w *SQLiteWriter) Write(points []Point) error {
	tx, err := w.db.Begin()
	if err != nil {
		return errors.Wrap(err, "starting metrics transaction")
	}
	ts := float64(time.Now().UnixMilli()) / 1000.0
	for _, p := range points {
		_, err = tx.Exec("INSERT INTO metrics(ts, run, name, value, step, epoch, scope) VALUES(?,?,?,?,?,?,?)",
			ts, p.Run, p.Name, p.Value, p.Step, p.Epoch, p.Scope.String())
		if err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "inserting metric %q", p.Name)
		}
	}
	return errors.Wrap(tx.Commit(), "committing metrics")
}

// Close implements Writer.
func (w *SQLiteWriter) Close() error {
	return w.db.Close()
}

// ReadSQLite returns the points of run stored in the database in path, in insertion order.
// If run is empty, points of all runs are returned.
func ReadSQLite(path, run string) ([]Point, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening metrics database %q", path)
	}
	defer func() { _ = db.Close() }()
	query := "SELECT run, name, value, step, epoch, scope FROM metrics"
	var args []any
	if run != "" {
		query += " WHERE run = ?"
		args = append(args, run)
	}
	rows, err := db.Query(query+" ORDER BY id", args...)
	if err != nil {
		return nil, errors.Wrapf(err, "querying metrics from %q", path)
	}
	defer func() { _ = rows.Close() }()
	var points []Point
	for rows.Next() {
		var p Point
		var scope string
		if err = rows.Scan(&p.Run, &p.Name, &p.Value, &p.Step, &p.Epoch, &scope); err != nil {
			return nil, errors.Wrap(err, "reading metrics row")
		}
		if scope == PerEpoch.String() {
			p.Scope = PerEpoch
		}
		points = append(points, p)
	}
	return points, errors.Wrap(rows.Err(), "reading metrics rows")
}
