package recording

import (
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"camrec/config"
	"camrec/streaming"

	"github.com/nareix/joy4/av"
	"github.com/stretchr/testify/require"
)

type fakeCodec struct {
	typ av.CodecType
}

func (c fakeCodec) Type() av.CodecType { return c.typ }

var videoStreams = []av.CodecData{fakeCodec{typ: av.H264}}

// rawMuxer writes packet payloads back to back so tests can read them.
type rawMuxer struct {
	w io.Writer
}

func newRawMuxer(w io.Writer) av.Muxer { return &rawMuxer{w: w} }

func (m *rawMuxer) WriteHeader([]av.CodecData) error { return nil }
func (m *rawMuxer) WritePacket(pkt av.Packet) error {
	_, err := m.w.Write(pkt.Data)
	return err
}
func (m *rawMuxer) WriteTrailer() error { return nil }

// failingMuxers fails WritePacket for the first n muxers it creates.
type failingMuxers struct {
	mu      sync.Mutex
	failing int
}

func (f *failingMuxers) New(w io.Writer) av.Muxer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing > 0 {
		f.failing--
		return &brokenMuxer{}
	}
	return newRawMuxer(w)
}

type brokenMuxer struct{ rawMuxer }

func (m *brokenMuxer) WritePacket(av.Packet) error { return errors.New("no space left on device") }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type step struct {
	pkt    av.Packet
	err    error
	before func()
}

// fakeSource replays scripted steps, then blocks until the caller gives up.
type fakeSource struct {
	connectErr error
	hang       bool
	streams    []av.CodecData
	steps      []step

	mu     sync.Mutex
	idx    int
	closed bool
}

func (s *fakeSource) Connect(ctx context.Context, uri string) error {
	if s.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.connectErr
}

func (s *fakeSource) Streams() []av.CodecData { return s.streams }

func (s *fakeSource) ReadPacket(ctx context.Context) (av.Packet, error) {
	s.mu.Lock()
	if s.idx < len(s.steps) {
		st := s.steps[s.idx]
		s.idx++
		s.mu.Unlock()
		if st.before != nil {
			st.before()
		}
		return st.pkt, st.err
	}
	s.mu.Unlock()
	<-ctx.Done()
	return av.Packet{}, ctx.Err()
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// sourceQueue hands out scripted sources in order, then fallback forever.
type sourceQueue struct {
	mu       sync.Mutex
	sources  []*fakeSource
	fallback func() *fakeSource
	made     int
}

func (q *sourceQueue) Factory() streaming.SourceFactory {
	return func() streaming.Source {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.made++
		if len(q.sources) > 0 {
			s := q.sources[0]
			q.sources = q.sources[1:]
			return s
		}
		if q.fallback != nil {
			return q.fallback()
		}
		return &fakeSource{connectErr: errors.New("connection refused")}
	}
}

// hostSource behaves according to the host of the URI it connects to:
// "bad" refuses, "hang" blocks, anything else streams a packet per millisecond.
type hostSource struct {
	host string
	seq  byte
}

func (s *hostSource) Connect(ctx context.Context, uri string) error {
	u, err := url.Parse(uri)
	if err != nil {
		return err
	}
	s.host = u.Hostname()
	switch s.host {
	case "bad":
		return errors.New("connection refused")
	case "hang":
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (s *hostSource) Streams() []av.CodecData { return videoStreams }

func (s *hostSource) ReadPacket(ctx context.Context) (av.Packet, error) {
	select {
	case <-ctx.Done():
		return av.Packet{}, ctx.Err()
	case <-time.After(time.Millisecond):
	}
	s.seq++
	return av.Packet{IsKeyFrame: true, Data: []byte{s.seq}}, nil
}

func (s *hostSource) Close() error { return nil }

func hostSourceFactory() streaming.Source { return &hostSource{} }

func keyframe(b byte) av.Packet {
	return av.Packet{IsKeyFrame: true, Data: []byte{b}}
}

func testSessionOptions(t *testing.T, factory streaming.SourceFactory) SessionOptions {
	t.Helper()
	return SessionOptions{
		OutputDir:       t.TempDir(),
		SegmentDuration: time.Hour,
		ReconnectDelay:  time.Millisecond,
		ConnectTimeout:  time.Second,
		NewSource:       factory,
		NewMuxer:        newRawMuxer,
		Registry:        NewRegistry(),
	}
}

func testCamera(id string) config.CameraConfig {
	return config.CameraConfig{ID: id, Name: "Camera " + id, RTSPURL: "rtsp://good/" + id, Enabled: true}
}

// runSession starts s and returns a stop function that cancels it and waits.
func runSession(t *testing.T, s *Session) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	stop := func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("session %s did not stop", s.ID())
		}
	}
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return stop
}

func listSegments(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*"+SegmentExt))
	require.NoError(t, err)
	sort.Strings(matches)
	return matches
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}
