package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteDB implements the Database interface using SQLite
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB creates a new SQLite database instance
func NewSQLiteDB(dbPath string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// one writer; sqlite serialises writes anyway
	db.SetMaxOpenConns(1)

	if err := initTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

// initTables creates the necessary tables if they don't exist
func initTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS segments (
			id TEXT PRIMARY KEY,
			camera_id TEXT NOT NULL,
			path TEXT NOT NULL UNIQUE,
			started_at TIMESTAMP NOT NULL,
			closed_at TIMESTAMP,
			deleted_at TIMESTAMP,
			status TEXT NOT NULL,
			size INTEGER DEFAULT 0,
			error_message TEXT
		)
	`)
	if err != nil {
		return err
	}

	// Check if archive_url column exists, if not add it
	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('segments') WHERE name='archive_url'`).Scan(&count)
	if err != nil {
		return err
	}
	if count == 0 {
		if _, err = db.Exec(`ALTER TABLE segments ADD COLUMN archive_url TEXT`); err != nil {
			return err
		}
		log.Println("[catalog] Added archive_url column to segments table")
	}

	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_segments_camera_started ON segments (camera_id, started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_segments_status ON segments (status)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// CreateSegment inserts a segment. A path that is already catalogued (for
// example after the file was deleted and the name reused) is replaced.
func (s *SQLiteDB) CreateSegment(seg Segment) error {
	if seg.ID == "" {
		seg.ID = uuid.NewString()
	}
	if seg.Status == "" {
		seg.Status = StatusRecording
	}
	_, err := s.db.Exec(`
		INSERT INTO segments (id, camera_id, path, started_at, closed_at, deleted_at, status, size, error_message, archive_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			id = excluded.id,
			camera_id = excluded.camera_id,
			started_at = excluded.started_at,
			closed_at = excluded.closed_at,
			deleted_at = excluded.deleted_at,
			status = excluded.status,
			size = excluded.size,
			error_message = excluded.error_message,
			archive_url = excluded.archive_url
	`,
		seg.ID,
		seg.CameraID,
		seg.Path,
		seg.StartedAt.UTC(),
		utcPtr(seg.ClosedAt),
		utcPtr(seg.DeletedAt),
		seg.Status,
		seg.Size,
		nullString(seg.Error),
		nullString(seg.ArchiveURL),
	)
	if err != nil {
		return fmt.Errorf("failed to create segment: %w", err)
	}
	return nil
}

// CloseSegment records the final size of a segment. A non-empty errMsg marks
// it failed.
func (s *SQLiteDB) CloseSegment(path string, closedAt time.Time, size int64, errMsg string) error {
	status := StatusClosed
	if errMsg != "" {
		status = StatusFailed
	}
	res, err := s.db.Exec(`
		UPDATE segments SET closed_at = ?, size = ?, status = ?, error_message = ?
		WHERE path = ? AND status = ?
	`, closedAt.UTC(), size, status, nullString(errMsg), path, StatusRecording)
	if err != nil {
		return fmt.Errorf("failed to close segment: %w", err)
	}
	return expectRow(res, path)
}

// MarkDeleted flags a segment removed by retention.
func (s *SQLiteDB) MarkDeleted(path string, deletedAt time.Time) error {
	res, err := s.db.Exec(`UPDATE segments SET deleted_at = ?, status = ? WHERE path = ?`, deletedAt.UTC(), StatusDeleted, path)
	if err != nil {
		return fmt.Errorf("failed to mark segment deleted: %w", err)
	}
	return expectRow(res, path)
}

// SetArchiveURL stores where the offsite copy of a segment lives.
func (s *SQLiteDB) SetArchiveURL(path, url string) error {
	res, err := s.db.Exec(`UPDATE segments SET archive_url = ? WHERE path = ?`, url, path)
	if err != nil {
		return fmt.Errorf("failed to set archive url: %w", err)
	}
	return expectRow(res, path)
}

// GetSegment returns the segment stored for path, or nil if there is none.
func (s *SQLiteDB) GetSegment(path string) (*Segment, error) {
	row := s.db.QueryRow(`SELECT `+segmentColumns+` FROM segments WHERE path = ?`, path)
	seg, err := scanSegment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get segment: %w", err)
	}
	return seg, nil
}

// ListSegments returns segments ordered by start time, oldest first.
func (s *SQLiteDB) ListSegments(filter SegmentFilter) ([]Segment, error) {
	var where []string
	var args []interface{}
	if filter.CameraID != "" {
		where = append(where, "camera_id = ?")
		args = append(args, filter.CameraID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if !filter.From.IsZero() {
		where = append(where, "started_at >= ?")
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		where = append(where, "started_at <= ?")
		args = append(args, filter.To.UTC())
	}

	query := `SELECT ` + segmentColumns + ` FROM segments`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at ASC, path ASC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	defer rows.Close()

	var segments []Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan segment row: %w", err)
		}
		segments = append(segments, *seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating segment rows: %w", err)
	}
	return segments, nil
}

// CameraStats summarises the segments still on disk per camera.
func (s *SQLiteDB) CameraStats() ([]CameraStats, error) {
	rows, err := s.db.Query(`
		SELECT camera_id, started_at, size, archive_url
		FROM segments
		WHERE status != ?
		ORDER BY camera_id, started_at
	`, StatusDeleted)
	if err != nil {
		return nil, fmt.Errorf("failed to query camera stats: %w", err)
	}
	defer rows.Close()

	var stats []CameraStats
	for rows.Next() {
		var cameraID string
		var startedAt time.Time
		var size int64
		var archiveURL sql.NullString
		if err := rows.Scan(&cameraID, &startedAt, &size, &archiveURL); err != nil {
			return nil, fmt.Errorf("failed to scan camera stats: %w", err)
		}
		if len(stats) == 0 || stats[len(stats)-1].CameraID != cameraID {
			first := startedAt
			stats = append(stats, CameraStats{CameraID: cameraID, OldestStart: &first})
		}
		st := &stats[len(stats)-1]
		last := startedAt
		st.NewestStart = &last
		st.Segments++
		st.TotalBytes += size
		if archiveURL.String != "" {
			st.ArchivedSegs++
		}
	}
	return stats, rows.Err()
}

// CloseDanglingSegments marks segments still "recording" from a previous run
// as failed. Call it before any session starts.
func (s *SQLiteDB) CloseDanglingSegments(at time.Time) (int, error) {
	res, err := s.db.Exec(`
		UPDATE segments SET status = ?, closed_at = ?, error_message = ?
		WHERE status = ?
	`, StatusFailed, at.UTC(), "recorder exited while segment was open", StatusRecording)
	if err != nil {
		return 0, fmt.Errorf("failed to close dangling segments: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Printf("[catalog] Marked %d dangling segments from a previous run as failed", n)
	}
	return int(n), nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

const segmentColumns = `id, camera_id, path, started_at, closed_at, deleted_at, status, size, error_message, archive_url`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSegment(row rowScanner) (*Segment, error) {
	var seg Segment
	var closedAt, deletedAt sql.NullTime
	var errMsg, archiveURL sql.NullString
	if err := row.Scan(&seg.ID, &seg.CameraID, &seg.Path, &seg.StartedAt, &closedAt, &deletedAt,
		&seg.Status, &seg.Size, &errMsg, &archiveURL); err != nil {
		return nil, err
	}
	if closedAt.Valid {
		t := closedAt.Time
		seg.ClosedAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		seg.DeletedAt = &t
	}
	seg.Error = errMsg.String
	seg.ArchiveURL = archiveURL.String
	return &seg, nil
}

func utcPtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// ErrSegmentNotFound is returned by updates that match no catalogued path.
var ErrSegmentNotFound = errors.New("segment not found")

func expectRow(res sql.Result, path string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSegmentNotFound, path)
	}
	return nil
}
