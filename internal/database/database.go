package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB wraps the sqlite handle holding the job log and the sheet sync queue.
type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		// Создаем директорию для БД, если её нет
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", path+dsnParams(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer; one connection also keeps :memory: consistent.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{DB: sqlDB, logger: logger}, nil
}

func dsnParams(path string) string {
	if strings.Contains(path, "?") {
		return ""
	}
	return "?_busy_timeout=5000&_foreign_keys=on"
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            no TEXT NOT NULL DEFAULT '',
            date TEXT,
            category TEXT NOT NULL DEFAULT '',
            requested_by TEXT NOT NULL DEFAULT '',
            ticket_id TEXT NOT NULL DEFAULT '',
            location_id TEXT NOT NULL DEFAULT '',
            coordinates TEXT NOT NULL DEFAULT '',
            detail TEXT NOT NULL DEFAULT '',
            appointment_time TEXT NOT NULL DEFAULT '',
            engineer_1 TEXT NOT NULL DEFAULT '',
            engineer_2 TEXT NOT NULL DEFAULT '',
            engineer_3 TEXT NOT NULL DEFAULT '',
            accepted BOOLEAN NOT NULL DEFAULT 0,
            status TEXT NOT NULL DEFAULT '',
            remarks TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS sync_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            task_type TEXT NOT NULL,
            job_id INTEGER NOT NULL DEFAULT 0,
            payload TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'pending',
            last_error TEXT,
            created_at DATETIME NOT NULL,
            processed_at DATETIME
        )`,

		`CREATE INDEX IF NOT EXISTS idx_jobs_date ON jobs(date)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_no ON jobs(no)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status, created_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}
