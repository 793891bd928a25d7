package results

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrClosed is returned by writes after Close
var ErrClosed = errors.New("results store is closed")

// MemoryPath keeps the ledger in memory for the lifetime of the process
const MemoryPath = ":memory:"

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db *sql.DB

	// writeMu serializes writers and guards closed
	writeMu sync.Mutex
	closed  bool
}

// NewSQLiteStore creates a new SQLite results store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := dbPath
	if dbPath != MemoryPath {
		dsn = fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(60000)", dbPath)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// every pooled connection would get its own empty in-memory database
	if dbPath == MemoryPath {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(8)
		db.SetMaxIdleConns(4)
		db.SetConnMaxLifetime(10 * time.Minute)
	}

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS outcomes (
		run_id TEXT NOT NULL,
		key TEXT NOT NULL,
		status TEXT NOT NULL,
		status_code INTEGER NOT NULL,
		request_id TEXT,
		host_id TEXT,
		version_id TEXT,
		size INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		versions_written INTEGER DEFAULT 0,
		versions_failed INTEGER DEFAULT 0,
		last_error TEXT,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (run_id, key)
	);

	CREATE INDEX IF NOT EXISTS idx_outcomes_status ON outcomes(run_id, status);
	`

	_, err := s.db.Exec(query)
	return err
}

// SaveOutcome inserts one record with retry on SQLITE_BUSY
func (s *SQLiteStore) SaveOutcome(record *Record) error {
	// Serialize writes to avoid SQLITE_BUSY from multiple concurrent writers
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return ErrClosed
	}

	return s.retryOnBusy(func() error {
		return s.saveOutcome(record)
	})
}

func (s *SQLiteStore) saveOutcome(record *Record) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	query := `
	INSERT INTO outcomes
	(run_id, key, status, status_code, request_id, host_id, version_id, size, duration_ms, versions_written, versions_failed, last_error, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(run_id, key) DO UPDATE SET
		status = excluded.status,
		status_code = excluded.status_code,
		request_id = excluded.request_id,
		host_id = excluded.host_id,
		version_id = excluded.version_id,
		versions_written = excluded.versions_written,
		versions_failed = excluded.versions_failed,
		last_error = excluded.last_error
	`

	_, err := s.db.Exec(query,
		record.RunID,
		record.Key,
		record.Status,
		record.StatusCode,
		record.RequestID,
		record.HostID,
		record.VersionID,
		record.Size,
		record.DurationMs,
		record.VersionsWritten,
		record.VersionsFailed,
		record.LastError,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to execute insert: %w", err)
	}
	return nil
}

// retryOnBusy retries the operation if SQLite is busy
func (s *SQLiteStore) retryOnBusy(operation func() error) error {
	const maxRetries = 10
	baseDelay := 50 * time.Millisecond

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err = operation(); err == nil || !isSQLiteBusyError(err) {
			return err
		}
		time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
	}
	return err
}

// isSQLiteBusyError checks if the error is a SQLite busy error
func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	errorStr := err.Error()
	return strings.Contains(errorStr, "database is locked") ||
		strings.Contains(errorStr, "SQLITE_BUSY")
}

// ListOutcomes returns every record of a run in insertion order
func (s *SQLiteStore) ListOutcomes(runID string) ([]*Record, error) {
	query := `
	SELECT run_id, key, status, status_code, request_id, host_id, version_id, size, duration_ms,
		versions_written, versions_failed, last_error, created_at
	FROM outcomes WHERE run_id = ?
	ORDER BY created_at ASC, rowid ASC
	`

	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var record Record
		var requestID, hostID, versionID, lastError sql.NullString

		err := rows.Scan(
			&record.RunID,
			&record.Key,
			&record.Status,
			&record.StatusCode,
			&requestID,
			&hostID,
			&versionID,
			&record.Size,
			&record.DurationMs,
			&record.VersionsWritten,
			&record.VersionsFailed,
			&lastError,
			&record.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		record.RequestID = requestID.String
		record.HostID = hostID.String
		record.VersionID = versionID.String
		record.LastError = lastError.String

		records = append(records, &record)
	}

	return records, rows.Err()
}

// CountByStatus returns the number of records per status for a run
func (s *SQLiteStore) CountByStatus(runID string) (map[Status]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM outcomes WHERE run_id = ? GROUP BY status`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[Status]int{}
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
