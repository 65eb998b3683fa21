package recording

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"camrec/config"
	"camrec/streaming"

	"github.com/google/uuid"
	"github.com/nareix/joy4/av"
)

// SessionOptions are the settings shared by every camera session.
type SessionOptions struct {
	OutputDir       string
	SegmentDuration time.Duration
	ReconnectDelay  time.Duration
	ConnectTimeout  time.Duration

	NewSource streaming.SourceFactory
	NewMuxer  MuxerFactory
	Registry  *Registry
	Live      *streaming.Hub
	Observer  Observer
	Now       func() time.Time
}

// Session keeps one camera recording until its context is cancelled.
//
// All state changes happen on the goroutine running Run. Other goroutines
// read the latest CameraStatus through Status.
type Session struct {
	camera config.CameraConfig
	opts   SessionOptions
	logTag string

	status atomic.Pointer[CameraStatus]
	runID  string

	// owned by the Run goroutine
	writer *SegmentWriter
}

// NewSession creates an idle session.
func NewSession(camera config.CameraConfig, opts SessionOptions) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Observer == nil {
		opts.Observer = BaseObserver{}
	}
	s := &Session{
		camera: camera,
		opts:   opts,
		logTag: fmt.Sprintf("[session %s]", camera.ID),
	}
	s.status.Store(&CameraStatus{
		ID:        camera.ID,
		Name:      camera.DisplayName(),
		State:     StateIdle,
		UpdatedAt: opts.Now(),
	})
	return s
}

// ID returns the camera id.
func (s *Session) ID() string {
	return s.camera.ID
}

// Status returns the latest published status.
func (s *Session) Status() CameraStatus {
	return *s.status.Load()
}

// update publishes a modified copy of the current status.
func (s *Session) update(fn func(st *CameraStatus)) {
	cur := s.status.Load()
	next := *cur
	fn(&next)
	next.UpdatedAt = s.opts.Now()
	next.Connected = next.State == StateRecording
	s.status.Store(&next)

	if next.State != cur.State {
		log.Printf("%s %s -> %s", s.logTag, cur.State, next.State)
		s.opts.Observer.OnStateChange(s.camera.ID, cur.State, next.State)
	}
}

// Run drives the session until ctx is cancelled. It always returns with the
// session stopped and no segment open.
func (s *Session) Run(ctx context.Context) {
	s.runID = uuid.NewString()
	log.Printf("%s starting (run %s) from %s", s.logTag, s.runID, streaming.RedactURL(s.camera.RTSPURL))
	defer s.finish()

	for ctx.Err() == nil {
		s.update(func(st *CameraStatus) {
			st.State = StateConnecting
			st.AttemptCount++
		})

		src, first, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.fail(newSessionError(KindConnection, err, s.opts.Now()))
		} else {
			err = s.record(ctx, src, first)
			s.disconnect(src)
			if ctx.Err() != nil {
				return
			}
			var serr *SessionError
			if !errors.As(err, &serr) {
				serr = newSessionError(KindConnection, err, s.opts.Now())
			}
			s.fail(serr)
		}

		if !s.backoff(ctx) {
			return
		}
	}
}

// connect opens the source and waits for its first packet, both within
// ConnectTimeout.
func (s *Session) connect(ctx context.Context) (streaming.Source, av.Packet, error) {
	cctx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()

	src := s.opts.NewSource()
	if err := src.Connect(cctx, s.camera.RTSPURL); err != nil {
		src.Close()
		return nil, av.Packet{}, err
	}
	pkt, err := src.ReadPacket(cctx)
	if err != nil {
		src.Close()
		if errors.Is(err, io.EOF) {
			err = errors.New("stream ended before first packet")
		}
		return nil, av.Packet{}, fmt.Errorf("waiting for first packet: %w", err)
	}
	return src, pkt, nil
}

// record writes packets until the source fails or ctx is cancelled. The
// returned error is always a *SessionError, or nil when ctx was cancelled.
func (s *Session) record(ctx context.Context, src streaming.Source, pkt av.Packet) error {
	streams := src.Streams()
	hasVideo := streaming.HasVideo(streams)

	s.writer = NewSegmentWriter(SegmentWriterConfig{
		CameraID: s.camera.ID,
		Dir:      s.opts.OutputDir,
		Duration: s.opts.SegmentDuration,
		Streams:  streams,
		Registry: s.opts.Registry,
		NewMuxer: s.opts.NewMuxer,
		Now:      s.opts.Now,
		OnOpen:   s.segmentOpened,
		OnClose:  s.segmentClosed,
	})
	if s.opts.Live != nil {
		s.opts.Live.SetStreams(s.camera.ID, streams)
	}

	s.update(func(st *CameraStatus) {
		st.State = StateRecording
	})

	for {
		now := s.opts.Now()

		// rotate only where the next segment can start decoding
		if !hasVideo || (pkt.IsKeyFrame && streaming.IsVideoPacket(streams, pkt)) {
			if _, err := s.writer.RotateIfDue(now); err != nil {
				return newSessionError(KindWrite, err, now)
			}
		}
		if err := s.writer.Write(pkt); err != nil {
			return newSessionError(KindWrite, err, now)
		}

		size := len(pkt.Data)
		s.update(func(st *CameraStatus) {
			st.LastFrameAt = &now
			st.BytesWritten += int64(size)
			st.Degraded = false
		})
		if s.opts.Live != nil {
			s.opts.Live.Publish(s.camera.ID, pkt)
		}
		s.opts.Observer.OnPacket(s.camera.ID, size)

		var err error
		pkt, err = src.ReadPacket(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, streaming.ErrStall):
				return newSessionError(KindStall, err, s.opts.Now())
			case errors.Is(err, io.EOF):
				return newSessionError(KindConnection, errors.New("stream ended"), s.opts.Now())
			default:
				return newSessionError(KindConnection, err, s.opts.Now())
			}
		}
	}
}

// disconnect closes the open segment and the source.
func (s *Session) disconnect(src streaming.Source) {
	s.closeSegment()
	if err := src.Close(); err != nil {
		log.Printf("%s close source: %v", s.logTag, err)
	}
	if s.opts.Live != nil {
		s.opts.Live.Reset(s.camera.ID)
	}
}

func (s *Session) closeSegment() {
	if s.writer == nil {
		return
	}
	if err := s.writer.Close(); err != nil {
		log.Printf("%s ❌ %v", s.logTag, err)
	}
	s.writer = nil
}

// fail records err and enters reconnecting. Any open segment is closed
// before the new state is published.
func (s *Session) fail(err *SessionError) {
	s.closeSegment()
	log.Printf("%s ⚠️ %v", s.logTag, err)
	s.opts.Observer.OnSessionError(s.camera.ID, err)
	s.update(func(st *CameraStatus) {
		st.State = StateReconnecting
		st.LastError = err
		if err.Kind == KindWrite {
			st.Degraded = true
		}
	})
}

func (s *Session) backoff(ctx context.Context) bool {
	if s.opts.ReconnectDelay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(s.opts.ReconnectDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Session) finish() {
	s.closeSegment()
	s.markStopped()
	log.Printf("%s stopped after %d attempts", s.logTag, s.Status().AttemptCount)
}

func (s *Session) markStopped() {
	s.update(func(st *CameraStatus) {
		st.State = StateStopped
		st.SegmentPath = ""
	})
}

func (s *Session) segmentOpened(seg SegmentDescriptor) {
	log.Printf("%s recording to %s", s.logTag, seg.Path)
	s.update(func(st *CameraStatus) {
		st.SegmentPath = seg.Path
	})
	s.opts.Observer.OnSegmentOpen(seg)
}

func (s *Session) segmentClosed(seg SegmentDescriptor, size int64, err error) {
	s.update(func(st *CameraStatus) {
		st.SegmentPath = ""
		st.LastSegment = seg.Path
		if err == nil {
			st.SegmentsClosed++
		}
	})
	s.opts.Observer.OnSegmentClose(seg, size, err)
}
