// Package registry is the ambient SQLite-backed bookkeeping layer
// (SPEC_FULL.md §3.9): it records which cameras belong to the outlet,
// tracks each worker process's last heartbeat, and retains a rolling
// history of recent alerts for operator inspection — none of it is
// invariant-bearing for the presence/alerting logic, which lives entirely
// in the presence and aggregator packages. Grounded on the schema and
// connection-pool settings of internal/state/database.go in the teacher
// repo (single-writer SQLite via WAL mode).
package registry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Registry wraps a single-writer SQLite database recording cameras,
// worker heartbeats, and a rolling alert history.
type Registry struct {
	db *sql.DB
}

// Open opens (creating if necessary) the registry database at path.
func Open(path string) (*Registry, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create registry directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("open registry database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	r := &Registry{db: db}
	if err := r.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize registry schema: %w", err)
	}
	return r, nil
}

func (r *Registry) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS cameras (
		id TEXT PRIMARY KEY,
		outlet_id TEXT NOT NULL,
		source_uri TEXT NOT NULL,
		enabled BOOLEAN DEFAULT 1,
		registered_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS worker_heartbeats (
		process_name TEXT PRIMARY KEY,
		camera_id TEXT,
		last_heartbeat_ts REAL NOT NULL,
		pid INTEGER
	);

	CREATE TABLE IF NOT EXISTS alert_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		outlet_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		camera_id TEXT NOT NULL,
		ts REAL NOT NULL,
		reason TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_alert_history_outlet_ts ON alert_history(outlet_id, ts);
	`
	_, err := r.db.Exec(schema)
	return err
}

// Close releases the database connection.
func (r *Registry) Close() error { return r.db.Close() }

// RegisterCamera upserts one camera's configuration row.
func (r *Registry) RegisterCamera(id, outletID, sourceURI string, enabled bool) error {
	_, err := r.db.Exec(`
		INSERT INTO cameras (id, outlet_id, source_uri, enabled) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET outlet_id=excluded.outlet_id, source_uri=excluded.source_uri, enabled=excluded.enabled
	`, id, outletID, sourceURI, enabled)
	if err != nil {
		return fmt.Errorf("register camera %s: %w", id, err)
	}
	return nil
}

// Heartbeat records that processName (e.g. "capture:cam1", "recognition",
// "aggregator") is alive as of ts, with OS pid for diagnostics.
func (r *Registry) Heartbeat(processName, cameraID string, ts float64, pid int) error {
	_, err := r.db.Exec(`
		INSERT INTO worker_heartbeats (process_name, camera_id, last_heartbeat_ts, pid) VALUES (?, ?, ?, ?)
		ON CONFLICT(process_name) DO UPDATE SET camera_id=excluded.camera_id, last_heartbeat_ts=excluded.last_heartbeat_ts, pid=excluded.pid
	`, processName, cameraID, ts, pid)
	if err != nil {
		return fmt.Errorf("record heartbeat for %s: %w", processName, err)
	}
	return nil
}

// StaleWorkers returns the process names whose last heartbeat is older
// than maxAge seconds before now.
func (r *Registry) StaleWorkers(now float64, maxAge float64) ([]string, error) {
	rows, err := r.db.Query(`SELECT process_name FROM worker_heartbeats WHERE ? - last_heartbeat_ts > ?`, now, maxAge)
	if err != nil {
		return nil, fmt.Errorf("query stale workers: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan stale worker row: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// RecordAlert appends one fired alert to the rolling history.
func (r *Registry) RecordAlert(outletID, targetID, cameraID string, ts float64, reason string) error {
	_, err := r.db.Exec(`
		INSERT INTO alert_history (outlet_id, target_id, camera_id, ts, reason) VALUES (?, ?, ?, ?, ?)
	`, outletID, targetID, cameraID, ts, reason)
	if err != nil {
		return fmt.Errorf("record alert history: %w", err)
	}
	return nil
}

// AlertHistoryEntry is one row of recorded alert history.
type AlertHistoryEntry struct {
	OutletID string
	TargetID string
	CameraID string
	Ts       float64
	Reason   string
}

// RecentAlerts returns the most recent limit alerts for outletID, newest
// first.
func (r *Registry) RecentAlerts(outletID string, limit int) ([]AlertHistoryEntry, error) {
	rows, err := r.db.Query(`
		SELECT outlet_id, target_id, camera_id, ts, reason FROM alert_history
		WHERE outlet_id = ? ORDER BY ts DESC LIMIT ?
	`, outletID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent alerts: %w", err)
	}
	defer rows.Close()

	var entries []AlertHistoryEntry
	for rows.Next() {
		var e AlertHistoryEntry
		if err := rows.Scan(&e.OutletID, &e.TargetID, &e.CameraID, &e.Ts, &e.Reason); err != nil {
			return nil, fmt.Errorf("scan alert history row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
