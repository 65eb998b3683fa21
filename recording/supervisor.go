package recording

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"camrec/config"
	"camrec/streaming"
)

const (
	statePersistInterval = 30 * time.Second
	statusLogInterval    = 5 * time.Minute
)

// Options wires the supervisor's collaborators. Zero values fall back to
// RTSP sources, the MPEG-TS muxer and the wall clock.
type Options struct {
	NewSource streaming.SourceFactory
	NewMuxer  MuxerFactory
	Live      *streaming.Hub
	Observers []Observer
	Now       func() time.Time

	// DiskUsage, when set, is reported in every snapshot.
	DiskUsage func(path string) (*DiskUsage, error)

	// StatePath, when set, receives the snapshot every 30 seconds and on stop.
	StatePath string
}

// Supervisor owns one session per enabled camera.
type Supervisor struct {
	cfg      config.Config
	opts     Options
	registry *Registry
	sessions []*Session

	startedAt time.Time
	persist   *StatePersistenceManager
	state     *RecordingState

	mu       sync.Mutex
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	loopDone chan struct{}

	stopOnce   sync.Once
	stopErr    error
	systemOnce sync.Once
	done       chan struct{}
}

// NewSupervisor builds an idle session for every enabled camera, in
// configuration order.
func NewSupervisor(cfg config.Config, opts Options) *Supervisor {
	if opts.NewSource == nil {
		opts.NewSource = streaming.RTSPSourceFactory(cfg.StallTimeout)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	sup := &Supervisor{
		cfg:       cfg,
		opts:      opts,
		registry:  NewRegistry(),
		startedAt: opts.Now(),
		done:      make(chan struct{}),
	}

	sessionOpts := SessionOptions{
		OutputDir:       cfg.OutputDir,
		SegmentDuration: cfg.SegmentDuration,
		ReconnectDelay:  cfg.ReconnectDelay,
		ConnectTimeout:  cfg.ConnectTimeout,
		NewSource:       opts.NewSource,
		NewMuxer:        opts.NewMuxer,
		Registry:        sup.registry,
		Live:            opts.Live,
		Observer:        observers(opts.Observers),
		Now:             opts.Now,
	}
	for _, cam := range cfg.EnabledCameras() {
		sup.sessions = append(sup.sessions, NewSession(cam, sessionOpts))
	}

	if opts.StatePath != "" {
		sup.persist = NewStatePersistenceManager(opts.StatePath)
	}
	return sup
}

// Registry exposes the in-use registry to the retention reaper.
func (s *Supervisor) Registry() *Registry {
	return s.registry
}

// IsOpen reports whether path is a segment currently being written.
func (s *Supervisor) IsOpen(path string) bool {
	return s.registry.IsOpen(path)
}

// Done is closed once StopSystem has completed.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// StartAll launches every session. Calling it again while running is a
// no-op; calling it after StopAll returns ErrSupervisorStopped.
func (s *Supervisor) StartAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSupervisorStopped
	}
	if s.started {
		log.Printf("[Supervisor] Sessions are already running")
		return nil
	}

	if s.persist != nil {
		state, err := s.persist.LoadState()
		if err != nil {
			log.Printf("[Supervisor] ⚠️ ignoring previous state: %v", err)
			state = &RecordingState{Cameras: make(map[string]CameraState), SystemStarted: s.startedAt}
		}
		ids := make([]string, len(s.sessions))
		for i, sess := range s.sessions {
			ids[i] = sess.ID()
		}
		s.persist.CleanupOldStates(state, ids)
		s.state = state
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true

	for _, sess := range s.sessions {
		s.wg.Add(1)
		go func(sess *Session) {
			defer s.wg.Done()
			sess.Run(runCtx)
		}(sess)
	}

	s.loopDone = make(chan struct{})
	go s.statusLoop(runCtx)

	log.Printf("[Supervisor] ✅ Started %d camera sessions", len(s.sessions))
	return nil
}

// StopAll stops every session and waits up to the shutdown timeout for their
// segments to close. Only the first call does any work; later calls return nil.
func (s *Supervisor) StopAll() error {
	first := false
	s.stopOnce.Do(func() {
		first = true
		s.stopErr = s.stopAll()
	})
	if !first {
		return nil
	}
	return s.stopErr
}

func (s *Supervisor) stopAll() error {
	s.mu.Lock()
	s.stopped = true
	cancel, started := s.cancel, s.started
	s.mu.Unlock()

	if !started {
		for _, sess := range s.sessions {
			sess.markStopped()
		}
		log.Printf("[Supervisor] Stopped before start")
		return nil
	}

	log.Printf("[Supervisor] Stopping %d camera sessions", len(s.sessions))
	cancel()

	waitDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waitDone)
	}()

	var err error
	select {
	case <-waitDone:
		log.Printf("[Supervisor] ✅ All camera sessions stopped")
	case <-time.After(s.cfg.ShutdownTimeout):
		err = fmt.Errorf("sessions did not stop within %s", s.cfg.ShutdownTimeout)
		log.Printf("[Supervisor] ❌ %v", err)
	}

	<-s.loopDone
	s.saveState()
	return err
}

// StopSystem stops all sessions and then closes Done. Idempotent.
func (s *Supervisor) StopSystem() error {
	err := s.StopAll()
	s.systemOnce.Do(func() {
		log.Printf("[Supervisor] System stop requested")
		close(s.done)
	})
	return err
}

// StatusSnapshot returns the current status of every camera.
func (s *Supervisor) StatusSnapshot() Snapshot {
	snap := Snapshot{
		TakenAt:   s.opts.Now(),
		StartedAt: s.startedAt,
		Cameras:   make([]CameraStatus, len(s.sessions)),
	}
	for i, sess := range s.sessions {
		st := sess.Status()
		snap.Cameras[i] = st
		if st.State == StateRecording {
			snap.Recording++
		}
		if st.Degraded {
			snap.Degraded++
		}
	}
	if s.opts.DiskUsage != nil {
		if du, err := s.opts.DiskUsage(s.cfg.OutputDir); err == nil {
			snap.Disk = du
		}
	}
	return snap
}

func (s *Supervisor) statusLoop(ctx context.Context) {
	defer close(s.loopDone)

	persistTicker := time.NewTicker(statePersistInterval)
	defer persistTicker.Stop()
	logTicker := time.NewTicker(statusLogInterval)
	defer logTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-persistTicker.C:
			s.saveState()
		case <-logTicker.C:
			snap := s.StatusSnapshot()
			log.Printf("[Supervisor] 📹 %d active recordings of %d cameras", snap.Recording, len(snap.Cameras))
			for _, cam := range snap.Cameras {
				if cam.State != StateRecording {
					log.Printf("[Supervisor]   %s is %s after %d attempts", cam.ID, cam.State, cam.AttemptCount)
				}
			}
		}
	}
}

func (s *Supervisor) saveState() {
	if s.persist == nil || s.state == nil {
		return
	}
	s.persist.ApplySnapshot(s.state, s.StatusSnapshot())
	if err := s.persist.SaveState(s.state); err != nil {
		log.Printf("[Supervisor] ⚠️ failed to save state: %v", err)
	}
}
