package metrics

import (
	"net/http"
	"sync"

	"camrec/cron"
	"camrec/recording"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder exposes recording activity as Prometheus metrics. It is fed as a
// session observer and by the retention reaper.
type Recorder struct {
	recording.BaseObserver

	registry *prometheus.Registry

	mu     sync.Mutex
	states map[string]recording.State

	sessionState    *prometheus.GaugeVec
	attempts        *prometheus.CounterVec
	sessionErrors   *prometheus.CounterVec
	packets         *prometheus.CounterVec
	bytesIn         *prometheus.CounterVec
	segmentsOpened  *prometheus.CounterVec
	segmentsClosed  *prometheus.CounterVec
	segmentBytes    *prometheus.HistogramVec
	reaperDeleted   prometheus.Counter
	reaperFreed     prometheus.Counter
	reaperErrors    prometheus.Counter
	reaperSkipped   prometheus.Gauge
	archiveUploads  *prometheus.CounterVec
	diskFreeBytes   prometheus.Gauge
	diskUsedPercent prometheus.Gauge
}

var allStates = []recording.State{
	recording.StateIdle,
	recording.StateConnecting,
	recording.StateRecording,
	recording.StateReconnecting,
	recording.StateStopped,
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		states:   make(map[string]recording.State),
	}

	r.sessionState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "camrec_session_state",
		Help: "Current session state (1 for the active state)",
	}, []string{"camera_id", "state"})
	r.attempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "camrec_connect_attempts_total",
		Help: "Connection attempts per camera",
	}, []string{"camera_id"})
	r.sessionErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "camrec_session_errors_total",
		Help: "Session errors by kind",
	}, []string{"camera_id", "kind"})
	r.packets = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "camrec_packets_total",
		Help: "Packets written to segments",
	}, []string{"camera_id"})
	r.bytesIn = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "camrec_packet_bytes_total",
		Help: "Payload bytes written to segments",
	}, []string{"camera_id"})
	r.segmentsOpened = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "camrec_segments_opened_total",
		Help: "Segment files opened",
	}, []string{"camera_id"})
	r.segmentsClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "camrec_segments_closed_total",
		Help: "Segment files closed, by result",
	}, []string{"camera_id", "result"})
	r.segmentBytes = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "camrec_segment_size_bytes",
		Help:    "Size of closed segments",
		Buckets: prometheus.ExponentialBuckets(1<<20, 4, 8),
	}, []string{"camera_id"})
	r.reaperDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "camrec_reaper_deleted_files_total",
		Help: "Recordings deleted by retention",
	})
	r.reaperFreed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "camrec_reaper_freed_bytes_total",
		Help: "Bytes freed by retention",
	})
	r.reaperErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "camrec_reaper_errors_total",
		Help: "Files retention failed to delete",
	})
	r.reaperSkipped = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "camrec_reaper_skipped_open_files",
		Help: "Expired files kept on the last run because they were still being written",
	})
	r.archiveUploads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "camrec_archive_uploads_total",
		Help: "Offsite archive uploads, by result",
	}, []string{"result"})
	r.diskFreeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "camrec_disk_free_bytes",
		Help: "Free bytes on the recordings filesystem",
	})
	r.diskUsedPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "camrec_disk_used_percent",
		Help: "Used percentage of the recordings filesystem",
	})

	reg.MustRegister(
		r.sessionState, r.attempts, r.sessionErrors, r.packets, r.bytesIn,
		r.segmentsOpened, r.segmentsClosed, r.segmentBytes,
		r.reaperDeleted, r.reaperFreed, r.reaperErrors, r.reaperSkipped,
		r.archiveUploads, r.diskFreeBytes, r.diskUsedPercent,
	)
	return r
}

// Registry returns the Prometheus registry backing the recorder.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the metrics in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) OnStateChange(cameraID string, from, to recording.State) {
	r.mu.Lock()
	r.states[cameraID] = to
	r.mu.Unlock()
	for _, s := range allStates {
		v := 0.0
		if s == to {
			v = 1
		}
		r.sessionState.WithLabelValues(cameraID, string(s)).Set(v)
	}
	if to == recording.StateConnecting {
		r.attempts.WithLabelValues(cameraID).Inc()
	}
}

func (r *Recorder) OnSessionError(cameraID string, err *recording.SessionError) {
	r.sessionErrors.WithLabelValues(cameraID, string(err.Kind)).Inc()
}

func (r *Recorder) OnSegmentOpen(seg recording.SegmentDescriptor) {
	r.segmentsOpened.WithLabelValues(seg.CameraID).Inc()
}

func (r *Recorder) OnSegmentClose(seg recording.SegmentDescriptor, size int64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.segmentsClosed.WithLabelValues(seg.CameraID, result).Inc()
	r.segmentBytes.WithLabelValues(seg.CameraID).Observe(float64(size))
}

func (r *Recorder) OnPacket(cameraID string, size int) {
	r.packets.WithLabelValues(cameraID).Inc()
	r.bytesIn.WithLabelValues(cameraID).Add(float64(size))
}

// ObserveReaper records the outcome of a retention run. Dry runs only update
// the skipped gauge.
func (r *Recorder) ObserveReaper(rep cron.Report) {
	r.reaperSkipped.Set(float64(rep.SkippedOpen))
	if rep.DryRun {
		return
	}
	r.reaperDeleted.Add(float64(rep.Deleted))
	r.reaperFreed.Add(float64(rep.FreedBytes))
	r.reaperErrors.Add(float64(rep.Errors))
}

// ObserveArchive counts one archive upload.
func (r *Recorder) ObserveArchive(err error) {
	if err != nil {
		r.archiveUploads.WithLabelValues("error").Inc()
		return
	}
	r.archiveUploads.WithLabelValues("ok").Inc()
}

// ObserveDisk updates the disk gauges.
func (r *Recorder) ObserveDisk(du *recording.DiskUsage) {
	if du == nil {
		return
	}
	r.diskFreeBytes.Set(float64(du.FreeBytes))
	r.diskUsedPercent.Set(du.UsedPercent)
}

// State returns the last state seen for a camera.
func (r *Recorder) State(cameraID string) (recording.State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[cameraID]
	return s, ok
}
