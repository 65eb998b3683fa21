package storage

import (
	"context"
	"fmt"
	"log"
	"path"
	"path/filepath"
	"sync"

	"camrec/recording"
)

const archiveQueueSize = 256

// Uploader stores a local file under key and returns its URL.
type Uploader interface {
	UploadFile(ctx context.Context, localPath, key string) (string, error)
}

// ArchiveResult reports one upload.
type ArchiveResult struct {
	Segment recording.SegmentDescriptor
	Key     string
	URL     string
	Err     error
}

// Archiver copies closed segments offsite. Uploads run one at a time on a
// background worker; when the queue is full new segments are skipped and
// logged.
type Archiver struct {
	recording.BaseObserver

	uploader Uploader
	prefix   string
	onResult func(ArchiveResult)

	queue  chan recording.SegmentDescriptor
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	cancel context.CancelFunc
}

// NewArchiver creates an archiver. onResult may be nil.
func NewArchiver(uploader Uploader, prefix string, onResult func(ArchiveResult)) *Archiver {
	return &Archiver{
		uploader: uploader,
		prefix:   prefix,
		onResult: onResult,
		queue:    make(chan recording.SegmentDescriptor, archiveQueueSize),
	}
}

// Start launches the upload worker.
func (a *Archiver) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go a.run(ctx)
	log.Printf("[archive] ✅ Archiver started (prefix %q)", a.prefix)
}

// Stop finishes queued uploads and waits for the worker. Cancel ctx passed
// to Start to abandon them instead.
func (a *Archiver) Stop() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	a.wg.Wait()
	if a.cancel != nil {
		a.cancel()
	}
}

// Key returns the object key for a segment: prefix/camera/YYYY-MM-DD/file.
func (a *Archiver) Key(seg recording.SegmentDescriptor) string {
	return path.Join(a.prefix, seg.CameraID, seg.StartedAt.Local().Format("2006-01-02"), filepath.Base(seg.Path))
}

// OnSegmentClose queues cleanly closed segments for upload.
func (a *Archiver) OnSegmentClose(seg recording.SegmentDescriptor, size int64, err error) {
	if err != nil || size == 0 {
		return
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- seg:
	default:
		log.Printf("[archive] ⚠️ queue full, not archiving %s", seg.Path)
	}
}

func (a *Archiver) run(ctx context.Context) {
	defer a.wg.Done()
	for seg := range a.queue {
		res := ArchiveResult{Segment: seg, Key: a.Key(seg)}
		if ctx.Err() != nil {
			res.Err = ctx.Err()
		} else {
			res.URL, res.Err = a.uploader.UploadFile(ctx, seg.Path, res.Key)
		}
		if res.Err != nil {
			res.Err = fmt.Errorf("archive %s: %w", seg.Path, res.Err)
			log.Printf("[archive] ❌ %v", res.Err)
		} else {
			log.Printf("[archive] ✅ %s -> %s", filepath.Base(seg.Path), res.URL)
		}
		if a.onResult != nil {
			a.onResult(res)
		}
	}
}
