package recording

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/nareix/joy4/av"
	"github.com/nareix/joy4/format/ts"
)

const (
	segmentBufferSize = 256 * 1024
	maxNameSuffix     = 1000
)

// MuxerFactory creates the container muxer for a new segment file.
type MuxerFactory func(w io.Writer) av.Muxer

// TSMuxer writes MPEG-TS, the default segment container.
func TSMuxer(w io.Writer) av.Muxer {
	return ts.NewMuxer(w)
}

// SegmentWriterConfig configures a SegmentWriter.
type SegmentWriterConfig struct {
	CameraID string
	Dir      string
	Duration time.Duration
	Streams  []av.CodecData
	Registry *Registry
	NewMuxer MuxerFactory
	Now      func() time.Time

	// Called after a segment file is created and after it is closed.
	OnOpen  func(SegmentDescriptor)
	OnClose func(seg SegmentDescriptor, size int64, err error)
}

// SegmentWriter writes packets unmodified into time-bounded segment files.
// It is owned by a single session goroutine and is not safe for concurrent use.
type SegmentWriter struct {
	cfg SegmentWriterConfig

	current *SegmentDescriptor
	file    *os.File
	buf     *bufio.Writer
	counter *countingWriter
	muxer   av.Muxer
}

// NewSegmentWriter creates a writer. No file is created until the first Write.
func NewSegmentWriter(cfg SegmentWriterConfig) *SegmentWriter {
	if cfg.NewMuxer == nil {
		cfg.NewMuxer = TSMuxer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	return &SegmentWriter{cfg: cfg}
}

// Current returns the open segment, if any.
func (w *SegmentWriter) Current() (SegmentDescriptor, bool) {
	if w.current == nil {
		return SegmentDescriptor{}, false
	}
	return *w.current, true
}

// Size returns the bytes written to the open segment so far.
func (w *SegmentWriter) Size() int64 {
	if w.counter == nil {
		return 0
	}
	return w.counter.n
}

// Write appends pkt to the open segment, opening one first if needed.
func (w *SegmentWriter) Write(pkt av.Packet) error {
	if w.current == nil {
		if err := w.open(w.cfg.Now()); err != nil {
			return err
		}
	}
	if err := w.muxer.WritePacket(pkt); err != nil {
		return fmt.Errorf("write packet to %s: %w", w.current.Path, err)
	}
	return nil
}

// RotateIfDue closes the open segment and opens the next one when the
// segment has been open for at least the configured duration. The next
// packet written lands in the new segment. It reports whether it rotated.
func (w *SegmentWriter) RotateIfDue(now time.Time) (bool, error) {
	if w.current == nil || now.Sub(w.current.StartedAt) < w.cfg.Duration {
		return false, nil
	}
	if err := w.Close(); err != nil {
		return true, err
	}
	return true, w.open(now)
}

// Close finishes the open segment: trailer, buffer flush, fsync, file close.
// The registry entry is removed only after all of that, and it is removed
// even when one of the steps failed since nothing will write the file again.
func (w *SegmentWriter) Close() error {
	if w.current == nil {
		return nil
	}
	seg := *w.current
	var errs []error

	if err := w.muxer.WriteTrailer(); err != nil {
		errs = append(errs, fmt.Errorf("write trailer: %w", err))
	}
	if err := w.buf.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flush: %w", err))
	}
	if err := w.file.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("fsync: %w", err))
	}
	if err := w.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	size := w.counter.n

	w.cfg.Registry.MarkClosed(seg.Path)
	w.current, w.file, w.buf, w.counter, w.muxer = nil, nil, nil, nil, nil

	err := errors.Join(errs...)
	if err != nil {
		err = fmt.Errorf("close segment %s: %w", seg.Path, err)
	}
	seg.Open = false
	if w.cfg.OnClose != nil {
		w.cfg.OnClose(seg, size, err)
	}
	return err
}

func (w *SegmentWriter) open(start time.Time) error {
	if err := os.MkdirAll(w.cfg.Dir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	file, path, err := w.createFile(start)
	if err != nil {
		return err
	}

	seg := SegmentDescriptor{CameraID: w.cfg.CameraID, StartedAt: start, Path: path, Open: true}
	w.cfg.Registry.MarkOpen(seg)

	counter := &countingWriter{w: file}
	buf := bufio.NewWriterSize(counter, segmentBufferSize)
	muxer := w.cfg.NewMuxer(buf)
	if err := muxer.WriteHeader(w.cfg.Streams); err != nil {
		file.Close()
		os.Remove(path)
		w.cfg.Registry.MarkClosed(path)
		return fmt.Errorf("write header to %s: %w", path, err)
	}

	w.current = &seg
	w.file, w.buf, w.counter, w.muxer = file, buf, counter, muxer
	if w.cfg.OnOpen != nil {
		w.cfg.OnOpen(seg)
	}
	return nil
}

// createFile creates the segment file exclusively, adding a numeric suffix
// when a file for the same second already exists.
func (w *SegmentWriter) createFile(start time.Time) (*os.File, string, error) {
	for suffix := 0; suffix < maxNameSuffix; suffix++ {
		path := filepath.Join(w.cfg.Dir, SegmentFileName(w.cfg.CameraID, start, suffix))
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			if abs, aerr := filepath.Abs(path); aerr == nil {
				path = abs
			}
			return file, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("create segment file: %w", err)
		}
		if suffix == 0 {
			log.Printf("[segment %s] %s exists, adding suffix", w.cfg.CameraID, filepath.Base(path))
		}
	}
	return nil, "", fmt.Errorf("create segment file: no free name for %s at %s", w.cfg.CameraID, start.Format(time.RFC3339))
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
