package sqlite

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection with thread-safe access.
type DB struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// New creates and initializes a new SQLite database connection.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// migrate creates the necessary tables if they don't exist.
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		camera_address TEXT NOT NULL,
		parts_model_path TEXT NOT NULL,
		defects_model_path TEXT NOT NULL,
		confidence_threshold REAL NOT NULL,
		iou_threshold REAL NOT NULL,
		pixel_to_mm_factor REAL DEFAULT 0,
		active INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS analyses (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'completed',
		error TEXT DEFAULT '',
		image_path TEXT DEFAULT '',
		instance_count INTEGER DEFAULT 0,
		capture_ms INTEGER DEFAULT 0,
		infer_ms INTEGER DEFAULT 0,
		elapsed_ms INTEGER DEFAULT 0,
		captured_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS analysis_instances (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		analysis_id TEXT NOT NULL,
		label TEXT NOT NULL,
		confidence REAL DEFAULT 0,
		x1 INTEGER DEFAULT 0,
		y1 INTEGER DEFAULT 0,
		x2 INTEGER DEFAULT 0,
		y2 INTEGER DEFAULT 0,
		area_px REAL DEFAULT 0,
		perimeter_px REAL DEFAULT 0,
		mask_width_px REAL DEFAULT 0,
		mask_height_px REAL DEFAULT 0,
		eccentricity REAL,
		orientation_deg REAL,
		area_mm2 REAL,
		perimeter_mm REAL,
		mask_width_mm REAL,
		mask_height_mm REAL,
		FOREIGN KEY (analysis_id) REFERENCES analyses(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS routine_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		num_angles INTEGER NOT NULL,
		completed_count INTEGER DEFAULT 0,
		total_defects INTEGER DEFAULT 0,
		avg_defects REAL DEFAULT 0,
		total_elapsed_ms INTEGER DEFAULT 0,
		grid_image_path TEXT DEFAULT '',
		failed_angle INTEGER DEFAULT 0,
		started_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS routine_angles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		routine_id TEXT NOT NULL,
		angle_index INTEGER NOT NULL,
		analysis_id TEXT NOT NULL,
		defect_count INTEGER DEFAULT 0,
		elapsed_ms INTEGER DEFAULT 0,
		captured_at DATETIME NOT NULL,
		FOREIGN KEY (routine_id) REFERENCES routine_runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS retained_images (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL UNIQUE,
		path TEXT NOT NULL,
		retained_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_retained_images_retained_at ON retained_images(retained_at);
	CREATE INDEX IF NOT EXISTS idx_analyses_kind ON analyses(kind);
	CREATE INDEX IF NOT EXISTS idx_analyses_captured_at ON analyses(captured_at);
	CREATE INDEX IF NOT EXISTS idx_instances_analysis_id ON analysis_instances(analysis_id);
	CREATE INDEX IF NOT EXISTS idx_routine_angles_routine_id ON routine_angles(routine_id);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying database connection for use by repositories.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Lock acquires a write lock.
func (db *DB) Lock() {
	db.mu.Lock()
}

// Unlock releases the write lock.
func (db *DB) Unlock() {
	db.mu.Unlock()
}

// RLock acquires a read lock.
func (db *DB) RLock() {
	db.mu.RLock()
}

// RUnlock releases the read lock.
func (db *DB) RUnlock() {
	db.mu.RUnlock()
}
