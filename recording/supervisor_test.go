package recording

import (
	"context"
	"os"
	"testing"
	"time"

	"camrec/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, cams ...config.CameraConfig) config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.OutputDir = t.TempDir()
	cfg.Cameras = cams
	cfg.ReconnectDelay = time.Millisecond
	cfg.ConnectTimeout = time.Second
	cfg.ShutdownTimeout = 5 * time.Second
	return cfg
}

func camera(id, host string, enabled bool) config.CameraConfig {
	return config.CameraConfig{ID: id, Name: id, RTSPURL: "rtsp://" + host + "/stream1", Enabled: enabled}
}

func TestSupervisorStartsEnabledCamerasInOrder(t *testing.T) {
	cfg := testConfig(t,
		camera("cam2", "good", true),
		camera("cam1", "good", true),
		camera("off", "good", false),
	)
	sup := NewSupervisor(cfg, Options{NewSource: hostSourceFactory, NewMuxer: newRawMuxer})

	snap := sup.StatusSnapshot()
	require.Len(t, snap.Cameras, 2)
	assert.Equal(t, "cam2", snap.Cameras[0].ID)
	assert.Equal(t, "cam1", snap.Cameras[1].ID)
	for _, c := range snap.Cameras {
		assert.Equal(t, StateIdle, c.State)
	}
	_, ok := snap.Camera("off")
	assert.False(t, ok)
}

func TestSupervisorStopAllIsIdempotent(t *testing.T) {
	cfg := testConfig(t, camera("cam1", "good", true), camera("cam2", "good", true))
	sup := NewSupervisor(cfg, Options{NewSource: hostSourceFactory, NewMuxer: newRawMuxer})

	require.NoError(t, sup.StartAll(context.Background()))
	require.NoError(t, sup.StartAll(context.Background()), "second start is a no-op")

	require.Eventually(t, func() bool {
		return sup.StatusSnapshot().Recording == 2
	}, 5*time.Second, 5*time.Millisecond)
	assert.Len(t, sup.Registry().Open(), 2)

	require.NoError(t, sup.StopAll())
	first := sup.StatusSnapshot()
	require.NoError(t, sup.StopAll())
	second := sup.StatusSnapshot()

	for _, snap := range []Snapshot{first, second} {
		for _, c := range snap.Cameras {
			assert.Equal(t, StateStopped, c.State)
			assert.Empty(t, c.SegmentPath)
		}
	}
	assert.Equal(t, first.Cameras, second.Cameras)
	assert.Empty(t, sup.Registry().Open())

	assert.ErrorIs(t, sup.StartAll(context.Background()), ErrSupervisorStopped)
}

func TestSupervisorStopSystem(t *testing.T) {
	cfg := testConfig(t, camera("cam1", "good", true))
	sup := NewSupervisor(cfg, Options{NewSource: hostSourceFactory, NewMuxer: newRawMuxer})
	require.NoError(t, sup.StartAll(context.Background()))

	select {
	case <-sup.Done():
		t.Fatal("done before stop")
	default:
	}

	require.NoError(t, sup.StopSystem())
	require.NoError(t, sup.StopSystem())
	require.NoError(t, sup.StopAll())

	select {
	case <-sup.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed")
	}
	assert.Equal(t, StateStopped, sup.StatusSnapshot().Cameras[0].State)
}

func TestSupervisorStopBeforeStart(t *testing.T) {
	cfg := testConfig(t, camera("cam1", "good", true))
	sup := NewSupervisor(cfg, Options{NewSource: hostSourceFactory, NewMuxer: newRawMuxer})

	require.NoError(t, sup.StopAll())
	require.NoError(t, sup.StopAll())
	assert.Equal(t, StateStopped, sup.StatusSnapshot().Cameras[0].State)
	assert.ErrorIs(t, sup.StartAll(context.Background()), ErrSupervisorStopped)
}

func TestSupervisorIsolatesFailingCameras(t *testing.T) {
	cfg := testConfig(t,
		camera("bad", "bad", true),
		camera("hang", "hang", true),
		camera("good", "good", true),
	)
	cfg.ConnectTimeout = 50 * time.Millisecond
	sup := NewSupervisor(cfg, Options{NewSource: hostSourceFactory, NewMuxer: newRawMuxer})
	require.NoError(t, sup.StartAll(context.Background()))
	defer sup.StopAll()

	require.Eventually(t, func() bool {
		snap := sup.StatusSnapshot()
		bad, _ := snap.Camera("bad")
		hang, _ := snap.Camera("hang")
		good, _ := snap.Camera("good")
		return bad.AttemptCount >= 10 && hang.AttemptCount >= 3 && good.BytesWritten >= 50
	}, 10*time.Second, 10*time.Millisecond)

	snap := sup.StatusSnapshot()
	good, _ := snap.Camera("good")
	assert.Equal(t, StateRecording, good.State)
	assert.Equal(t, 1, good.AttemptCount)
	assert.Nil(t, good.LastError)

	bad, _ := snap.Camera("bad")
	assert.NotEqual(t, StateStopped, bad.State)
	require.NotNil(t, bad.LastError)
	assert.Equal(t, KindConnection, bad.LastError.Kind)
	assert.Equal(t, 1, snap.Recording)

	start := time.Now()
	require.NoError(t, sup.StopAll())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSupervisorSnapshotIncludesDiskUsage(t *testing.T) {
	cfg := testConfig(t, camera("cam1", "good", true))
	var asked string
	sup := NewSupervisor(cfg, Options{
		NewSource: hostSourceFactory,
		NewMuxer:  newRawMuxer,
		DiskUsage: func(path string) (*DiskUsage, error) {
			asked = path
			return &DiskUsage{Path: path, TotalBytes: 100, UsedBytes: 40, FreeBytes: 60, UsedPercent: 40}, nil
		},
	})

	snap := sup.StatusSnapshot()
	require.NotNil(t, snap.Disk)
	assert.Equal(t, cfg.OutputDir, asked)
	assert.Equal(t, uint64(60), snap.Disk.FreeBytes)
	assert.False(t, snap.TakenAt.IsZero())
}

func TestSupervisorPersistsStateOnStop(t *testing.T) {
	cfg := testConfig(t, camera("cam1", "good", true))
	statePath := cfg.StatePath()
	sup := NewSupervisor(cfg, Options{NewSource: hostSourceFactory, NewMuxer: newRawMuxer, StatePath: statePath})
	require.NoError(t, sup.StartAll(context.Background()))
	require.Eventually(t, func() bool {
		return sup.StatusSnapshot().Recording == 1
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, sup.StopAll())

	_, err := os.Stat(statePath)
	require.NoError(t, err)

	state, err := NewStatePersistenceManager(statePath).LoadState()
	require.NoError(t, err)
	assert.Equal(t, 1, state.TotalRestarts)
	require.Contains(t, state.Cameras, "cam1")
	assert.Equal(t, StateStopped, state.Cameras["cam1"].State)
	assert.Equal(t, 1, state.Cameras["cam1"].SegmentsClosed)
	assert.NotEmpty(t, state.Cameras["cam1"].LastSegment)
}
