package database

import (
	"time"
)

// SegmentStatus represents the current state of a segment file
type SegmentStatus string

const (
	StatusRecording SegmentStatus = "recording" // Segment is open for writing
	StatusClosed    SegmentStatus = "closed"    // Segment is complete on disk
	StatusFailed    SegmentStatus = "failed"    // Segment was closed after a write error
	StatusDeleted   SegmentStatus = "deleted"   // Segment was removed by retention
)

// Segment is one catalogued segment file.
type Segment struct {
	ID         string        `json:"id"`                   // Unique identifier for the row
	CameraID   string        `json:"cameraId"`             // Camera that recorded the segment
	Path       string        `json:"path"`                 // Absolute path on disk
	StartedAt  time.Time     `json:"startedAt"`            // Segment start (also encoded in the file name)
	ClosedAt   *time.Time    `json:"closedAt"`             // When the file was closed (nil while recording)
	DeletedAt  *time.Time    `json:"deletedAt"`            // When retention removed the file
	Status     SegmentStatus `json:"status"`               // Current status
	Size       int64         `json:"size"`                 // Size in bytes once closed
	ArchiveURL string        `json:"archiveUrl,omitempty"` // Offsite copy, if archived
	Error      string        `json:"error,omitempty"`      // Error message if closing failed
}

// SegmentFilter narrows ListSegments. Zero fields match everything.
type SegmentFilter struct {
	CameraID string
	Status   SegmentStatus
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// CameraStats aggregates the catalog of one camera.
type CameraStats struct {
	CameraID     string     `json:"cameraId"`
	Segments     int        `json:"segments"`
	TotalBytes   int64      `json:"totalBytes"`
	OldestStart  *time.Time `json:"oldestStart"`
	NewestStart  *time.Time `json:"newestStart"`
	ArchivedSegs int        `json:"archived"`
}

// Database defines the interface for catalog operations
type Database interface {
	// Segment lifecycle
	CreateSegment(seg Segment) error
	CloseSegment(path string, closedAt time.Time, size int64, errMsg string) error
	MarkDeleted(path string, deletedAt time.Time) error
	SetArchiveURL(path, url string) error

	// Queries
	GetSegment(path string) (*Segment, error)
	ListSegments(filter SegmentFilter) ([]Segment, error)
	CameraStats() ([]CameraStats, error)

	// Startup recovery
	CloseDanglingSegments(at time.Time) (int, error)

	Close() error
}
