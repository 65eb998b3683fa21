package streaming

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/nareix/joy4/av"
	"github.com/nareix/joy4/format/rtsp"
)

const defaultDialTimeout = 10 * time.Second

// RTSPSource reads packets from an RTSP camera with joy4.
//
// joy4's ReadPacket blocks on the socket, so a reader goroutine pumps packets
// into a channel and ReadPacket waits on that channel with a stall timer.
// Closing the client unblocks the reader.
type RTSPSource struct {
	StallTimeout time.Duration

	mu      sync.Mutex
	uri     string
	client  *rtsp.Client
	streams []av.CodecData
	packets chan readResult
	done    chan struct{}
	once    sync.Once
}

type readResult struct {
	pkt av.Packet
	err error
}

type dialResult struct {
	client  *rtsp.Client
	streams []av.CodecData
	err     error
}

// NewRTSPSource creates an unconnected RTSP source.
func NewRTSPSource(stallTimeout time.Duration) *RTSPSource {
	return &RTSPSource{StallTimeout: stallTimeout}
}

// RTSPSourceFactory returns a SourceFactory producing RTSP sources.
func RTSPSourceFactory(stallTimeout time.Duration) SourceFactory {
	return func() Source { return NewRTSPSource(stallTimeout) }
}

// Connect dials the camera and fetches its codec data. The dial honours the
// context deadline; cancellation abandons the dial and closes the client once
// it returns.
func (s *RTSPSource) Connect(ctx context.Context, uri string) error {
	timeout := defaultDialTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
		if timeout <= 0 {
			return fmt.Errorf("connect %s: %w", RedactURL(uri), context.DeadlineExceeded)
		}
	}

	ch := make(chan dialResult, 1)
	go func() {
		client, err := rtsp.DialTimeout(uri, timeout)
		if err != nil {
			ch <- dialResult{err: err}
			return
		}
		streams, err := client.Streams()
		if err != nil {
			client.Close()
			ch <- dialResult{err: fmt.Errorf("describe: %w", err)}
			return
		}
		ch <- dialResult{client: client, streams: streams}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.client != nil {
				r.client.Close()
			}
		}()
		return fmt.Errorf("connect %s: %w", RedactURL(uri), ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("connect %s: %w", RedactURL(uri), r.err)
		}
		s.mu.Lock()
		s.uri = uri
		s.client = r.client
		s.streams = r.streams
		s.packets = make(chan readResult, 64)
		s.done = make(chan struct{})
		s.mu.Unlock()
		go s.pump(r.client, s.packets, s.done)
		return nil
	}
}

func (s *RTSPSource) pump(client *rtsp.Client, out chan<- readResult, done <-chan struct{}) {
	for {
		pkt, err := client.ReadPacket()
		if err == nil {
			// the hub and the segment writer keep references past the next read
			pkt.Data = append([]byte(nil), pkt.Data...)
		}
		select {
		case out <- readResult{pkt: pkt, err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

// Streams returns the codec data negotiated on connect.
func (s *RTSPSource) Streams() []av.CodecData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams
}

// ReadPacket returns the next packet, ErrStall after StallTimeout of silence,
// io.EOF at end of stream, or ctx.Err() when the caller gives up.
func (s *RTSPSource) ReadPacket(ctx context.Context) (av.Packet, error) {
	s.mu.Lock()
	packets := s.packets
	s.mu.Unlock()
	if packets == nil {
		return av.Packet{}, ErrNotConnected
	}

	timer := time.NewTimer(s.StallTimeout)
	defer timer.Stop()

	select {
	case r := <-packets:
		if r.err == io.EOF {
			return av.Packet{}, io.EOF
		}
		if r.err != nil {
			return av.Packet{}, fmt.Errorf("read packet: %w", r.err)
		}
		return r.pkt, nil
	case <-timer.C:
		return av.Packet{}, ErrStall
	case <-ctx.Done():
		return av.Packet{}, ctx.Err()
	}
}

// Close tears down the connection. Safe to call more than once.
func (s *RTSPSource) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		client, done := s.client, s.done
		s.mu.Unlock()
		if done != nil {
			close(done)
		}
		if client != nil {
			if err = client.Close(); err != nil {
				log.Printf("[rtsp] close %s: %v", RedactURL(s.uri), err)
			}
		}
	})
	return err
}
