package streaming

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/nareix/joy4/av"
)

// ErrNoFeed is returned by Subscribe when the camera is not currently
// delivering packets.
var ErrNoFeed = errors.New("no live feed for camera")

const subscriberBuffer = 256

// Hub fans out live packets per camera to preview subscribers. Publishing
// never blocks: a subscriber that falls behind loses packets.
type Hub struct {
	feeds map[string]*feed
	mutex sync.RWMutex
}

type feed struct {
	codecs      []av.CodecData
	subscribers map[*Subscriber]struct{}
	mutex       sync.RWMutex
}

// Subscriber receives packets of one camera feed. C is closed when the feed
// is reset or the codecs change.
type Subscriber struct {
	C      chan av.Packet
	Codecs []av.CodecData

	dropped atomic.Int64
}

// Dropped returns how many packets were skipped because C was full.
func (s *Subscriber) Dropped() int64 {
	return s.dropped.Load()
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		feeds: make(map[string]*feed),
	}
}

func (h *Hub) getOrCreate(id string) *feed {
	h.mutex.RLock()
	f, ok := h.feeds[id]
	h.mutex.RUnlock()
	if ok {
		return f
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	if f, ok = h.feeds[id]; ok {
		return f
	}
	f = &feed{subscribers: make(map[*Subscriber]struct{})}
	h.feeds[id] = f
	return f
}

func (h *Hub) get(id string) (*feed, bool) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	f, ok := h.feeds[id]
	return f, ok
}

// SetStreams announces the codecs of a freshly connected camera. Existing
// subscribers are dropped since their muxer headers no longer match.
func (h *Hub) SetStreams(id string, codecs []av.CodecData) {
	f := h.getOrCreate(id)
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.closeSubscribers()
	f.codecs = codecs
}

// Publish hands pkt to every subscriber of the camera without blocking.
func (h *Hub) Publish(id string, pkt av.Packet) {
	f, ok := h.get(id)
	if !ok {
		return
	}
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	for sub := range f.subscribers {
		select {
		case sub.C <- pkt:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Subscribe registers a new preview client for the camera.
func (h *Hub) Subscribe(id string) (*Subscriber, error) {
	f, ok := h.get(id)
	if !ok {
		return nil, ErrNoFeed
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if len(f.codecs) == 0 {
		return nil, ErrNoFeed
	}
	sub := &Subscriber{
		C:      make(chan av.Packet, subscriberBuffer),
		Codecs: f.codecs,
	}
	f.subscribers[sub] = struct{}{}
	return sub, nil
}

// Unsubscribe removes a subscriber. Unknown subscribers are ignored.
func (h *Hub) Unsubscribe(id string, sub *Subscriber) {
	f, ok := h.get(id)
	if !ok {
		return
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if _, ok := f.subscribers[sub]; ok {
		delete(f.subscribers, sub)
		close(sub.C)
	}
}

// Reset marks the camera as offline and disconnects its subscribers.
func (h *Hub) Reset(id string) {
	f, ok := h.get(id)
	if !ok {
		return
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.closeSubscribers()
	f.codecs = nil
}

// Subscribers returns the number of preview clients attached to a camera.
func (h *Hub) Subscribers(id string) int {
	f, ok := h.get(id)
	if !ok {
		return 0
	}
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return len(f.subscribers)
}

// Live lists the cameras currently delivering packets.
func (h *Hub) Live() []string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	var ids []string
	for id, f := range h.feeds {
		f.mutex.RLock()
		if len(f.codecs) > 0 {
			ids = append(ids, id)
		}
		f.mutex.RUnlock()
	}
	sort.Strings(ids)
	return ids
}

func (f *feed) closeSubscribers() {
	for sub := range f.subscribers {
		close(sub.C)
		delete(f.subscribers, sub)
	}
}
