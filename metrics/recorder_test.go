package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"camrec/cron"
	"camrec/recording"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderSessionMetrics(t *testing.T) {
	r := NewRecorder()

	r.OnStateChange("cam1", recording.StateIdle, recording.StateConnecting)
	r.OnStateChange("cam1", recording.StateConnecting, recording.StateRecording)
	r.OnPacket("cam1", 100)
	r.OnPacket("cam1", 50)
	r.OnSessionError("cam1", &recording.SessionError{Kind: recording.KindStall})
	r.OnStateChange("cam1", recording.StateRecording, recording.StateReconnecting)
	r.OnStateChange("cam1", recording.StateReconnecting, recording.StateConnecting)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.attempts.WithLabelValues("cam1")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.packets.WithLabelValues("cam1")))
	assert.Equal(t, 150.0, testutil.ToFloat64(r.bytesIn.WithLabelValues("cam1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.sessionErrors.WithLabelValues("cam1", "stall")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.sessionState.WithLabelValues("cam1", "connecting")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.sessionState.WithLabelValues("cam1", "recording")))

	st, ok := r.State("cam1")
	require.True(t, ok)
	assert.Equal(t, recording.StateConnecting, st)
}

func TestRecorderSegmentsAndReaper(t *testing.T) {
	r := NewRecorder()
	seg := recording.SegmentDescriptor{CameraID: "cam1", Path: "/rec/a.ts"}

	r.OnSegmentOpen(seg)
	r.OnSegmentClose(seg, 4096, nil)
	r.OnSegmentClose(seg, 10, errors.New("disk full"))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.segmentsOpened.WithLabelValues("cam1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.segmentsClosed.WithLabelValues("cam1", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.segmentsClosed.WithLabelValues("cam1", "error")))

	r.ObserveReaper(cron.Report{DryRun: true, Deleted: 5, FreedBytes: 100, SkippedOpen: 1})
	assert.Equal(t, 0.0, testutil.ToFloat64(r.reaperDeleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.reaperSkipped))

	r.ObserveReaper(cron.Report{Deleted: 2, FreedBytes: 2048, Errors: 1})
	assert.Equal(t, 2.0, testutil.ToFloat64(r.reaperDeleted))
	assert.Equal(t, 2048.0, testutil.ToFloat64(r.reaperFreed))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.reaperErrors))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.reaperSkipped))

	r.ObserveArchive(nil)
	r.ObserveArchive(errors.New("timeout"))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.archiveUploads.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.archiveUploads.WithLabelValues("error")))

	r.ObserveDisk(&recording.DiskUsage{FreeBytes: 1 << 30, UsedPercent: 42.5})
	r.ObserveDisk(nil)
	assert.Equal(t, 42.5, testutil.ToFloat64(r.diskUsedPercent))
}

func TestRecorderHandler(t *testing.T) {
	r := NewRecorder()
	r.OnPacket("cam1", 10)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `camrec_packets_total{camera_id="cam1"} 1`), body)
}
