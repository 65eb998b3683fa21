package database

import (
	"errors"
	"log"
	"sync"
	"time"

	"camrec/recording"
)

const catalogQueueSize = 1024

type catalogOp struct {
	name string
	fn   func() error
}

// CatalogObserver records segment lifecycle events in the database. Events
// are queued and written by a single worker so a slow disk never stalls a
// recording session.
type CatalogObserver struct {
	recording.BaseObserver

	db     Database
	ops    chan catalogOp
	wg     sync.WaitGroup
	start  sync.Once
	mu     sync.RWMutex
	closed bool
}

// NewCatalogObserver creates an observer writing to db. Call Start before
// the supervisor starts and Stop after it stopped.
func NewCatalogObserver(db Database) *CatalogObserver {
	return &CatalogObserver{
		db:  db,
		ops: make(chan catalogOp, catalogQueueSize),
	}
}

// Start launches the writer goroutine.
func (c *CatalogObserver) Start() {
	c.start.Do(func() {
		c.wg.Add(1)
		go c.run()
	})
}

// Stop drains queued events and waits for the writer to exit.
func (c *CatalogObserver) Stop() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.ops)
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *CatalogObserver) run() {
	defer c.wg.Done()
	for op := range c.ops {
		if err := op.fn(); err != nil {
			if errors.Is(err, ErrSegmentNotFound) {
				continue
			}
			log.Printf("[catalog] ⚠️ %s: %v", op.name, err)
		}
	}
}

func (c *CatalogObserver) enqueue(name string, fn func() error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		log.Printf("[catalog] dropped %s after stop", name)
		return
	}
	select {
	case c.ops <- catalogOp{name: name, fn: fn}:
	default:
		log.Printf("[catalog] ⚠️ queue full, dropped %s", name)
	}
}

// OnSegmentOpen catalogues a new segment as recording.
func (c *CatalogObserver) OnSegmentOpen(seg recording.SegmentDescriptor) {
	c.enqueue("create "+seg.Path, func() error {
		return c.db.CreateSegment(Segment{
			CameraID:  seg.CameraID,
			Path:      seg.Path,
			StartedAt: seg.StartedAt,
			Status:    StatusRecording,
		})
	})
}

// OnSegmentClose stores the final size, or the close error.
func (c *CatalogObserver) OnSegmentClose(seg recording.SegmentDescriptor, size int64, err error) {
	var msg string
	if err != nil {
		msg = err.Error()
	}
	closedAt := time.Now()
	c.enqueue("close "+seg.Path, func() error {
		return c.db.CloseSegment(seg.Path, closedAt, size, msg)
	})
}

// RecordDeletion marks a file removed by the retention reaper.
func (c *CatalogObserver) RecordDeletion(path string, at time.Time) {
	c.enqueue("delete "+path, func() error {
		return c.db.MarkDeleted(path, at)
	})
}

// RecordArchive stores the offsite URL of an uploaded segment.
func (c *CatalogObserver) RecordArchive(path, url string) {
	c.enqueue("archive "+path, func() error {
		return c.db.SetArchiveURL(path, url)
	})
}
