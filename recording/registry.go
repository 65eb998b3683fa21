package recording

import (
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SegmentDescriptor describes one segment file.
type SegmentDescriptor struct {
	CameraID  string    `json:"camera_id"`
	StartedAt time.Time `json:"started_at"`
	Path      string    `json:"path"`
	Open      bool      `json:"open"`
}

// Registry tracks which segment files are open for writing.
//
// Writers replace the whole map under a mutex; readers load the current map
// through an atomic pointer and never lock, so the reaper can ask IsOpen
// while sessions rotate.
type Registry struct {
	mu   sync.Mutex
	open atomic.Pointer[map[string]SegmentDescriptor]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := make(map[string]SegmentDescriptor)
	r.open.Store(&empty)
	return r
}

// IsOpen reports whether path is currently open for writing.
func (r *Registry) IsOpen(path string) bool {
	_, ok := (*r.open.Load())[normalizePath(path)]
	return ok
}

// Open returns the open descriptors ordered by path.
func (r *Registry) Open() []SegmentDescriptor {
	m := *r.open.Load()
	out := make([]SegmentDescriptor, 0, len(m))
	for _, d := range m {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// MarkOpen records d as open. It must be called before the first byte of the
// file is written.
func (r *Registry) MarkOpen(d SegmentDescriptor) {
	d.Path = normalizePath(d.Path)
	d.Open = true
	r.update(func(m map[string]SegmentDescriptor) { m[d.Path] = d })
}

// MarkClosed drops path from the registry. It must only be called once the
// file is flushed and closed.
func (r *Registry) MarkClosed(path string) {
	path = normalizePath(path)
	r.update(func(m map[string]SegmentDescriptor) { delete(m, path) })
}

func (r *Registry) update(fn func(map[string]SegmentDescriptor)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := *r.open.Load()
	next := make(map[string]SegmentDescriptor, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	fn(next)
	r.open.Store(&next)
}

func normalizePath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
