package recording

import "time"

// State of a camera session.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateRecording    State = "recording"
	StateReconnecting State = "reconnecting"
	StateStopped      State = "stopped"
)

// CameraStatus is an immutable view of one session. A session publishes a
// fresh value on every change; readers never see a partially updated one.
type CameraStatus struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	State          State         `json:"state"`
	Connected      bool          `json:"connected"`
	SegmentPath    string        `json:"segment_path,omitempty"`
	LastSegment    string        `json:"last_segment,omitempty"`
	AttemptCount   int           `json:"attempt_count"`
	LastFrameAt    *time.Time    `json:"last_frame_at,omitempty"`
	LastError      *SessionError `json:"last_error,omitempty"`
	Degraded       bool          `json:"degraded"`
	SegmentsClosed int           `json:"segments_closed"`
	BytesWritten   int64         `json:"bytes_written"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// DiskUsage of the output directory's filesystem.
type DiskUsage struct {
	Path        string  `json:"path"`
	TotalBytes  uint64  `json:"total_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// Snapshot is the system status at one instant. It is built fresh on every
// call and never modified afterwards.
type Snapshot struct {
	TakenAt   time.Time      `json:"taken_at"`
	StartedAt time.Time      `json:"started_at"`
	Cameras   []CameraStatus `json:"cameras"`
	Recording int            `json:"recording"`
	Degraded  int            `json:"degraded"`
	Disk      *DiskUsage     `json:"disk,omitempty"`
}

// Camera returns the status of one camera from the snapshot.
func (s Snapshot) Camera(id string) (CameraStatus, bool) {
	for _, c := range s.Cameras {
		if c.ID == id {
			return c, true
		}
	}
	return CameraStatus{}, false
}

// Observer receives session events. Calls come from the session goroutine
// and must not block for long.
type Observer interface {
	OnStateChange(cameraID string, from, to State)
	OnSessionError(cameraID string, err *SessionError)
	OnSegmentOpen(seg SegmentDescriptor)
	OnSegmentClose(seg SegmentDescriptor, size int64, err error)
	OnPacket(cameraID string, size int)
}

// BaseObserver implements Observer with no-ops, for embedding.
type BaseObserver struct{}

func (BaseObserver) OnStateChange(string, State, State) {}
func (BaseObserver) OnSessionError(string, *SessionError) {}
func (BaseObserver) OnSegmentOpen(SegmentDescriptor) {}
func (BaseObserver) OnSegmentClose(SegmentDescriptor, int64, error) {}
func (BaseObserver) OnPacket(string, int) {}

type observers []Observer

func (o observers) OnStateChange(id string, from, to State) {
	for _, ob := range o {
		ob.OnStateChange(id, from, to)
	}
}

func (o observers) OnSessionError(id string, err *SessionError) {
	for _, ob := range o {
		ob.OnSessionError(id, err)
	}
}

func (o observers) OnSegmentOpen(seg SegmentDescriptor) {
	for _, ob := range o {
		ob.OnSegmentOpen(seg)
	}
}

func (o observers) OnSegmentClose(seg SegmentDescriptor, size int64, err error) {
	for _, ob := range o {
		ob.OnSegmentClose(seg, size, err)
	}
}

func (o observers) OnPacket(id string, size int) {
	for _, ob := range o {
		ob.OnPacket(id, size)
	}
}
