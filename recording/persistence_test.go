package recording

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatePersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "recording_state.json")
	spm := NewStatePersistenceManager(path)

	state, err := spm.LoadState()
	require.NoError(t, err)
	assert.Equal(t, 0, state.TotalRestarts)
	assert.Empty(t, state.Cameras)

	frame := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	spm.ApplySnapshot(state, Snapshot{Cameras: []CameraStatus{
		{ID: "cam1", Name: "Front", State: StateRecording, SegmentPath: "/rec/cam1_a.ts", AttemptCount: 3, LastFrameAt: &frame},
		{ID: "cam2", Name: "Back", State: StateReconnecting, LastError: &SessionError{Kind: KindStall, Message: "stalled", At: frame}},
	}})
	require.NoError(t, spm.SaveState(state))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file must be renamed away")

	loaded, err := spm.LoadState()
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.TotalRestarts)
	assert.Equal(t, "/rec/cam1_a.ts", loaded.Cameras["cam1"].LastSegment)
	assert.Equal(t, 3, loaded.Cameras["cam1"].AttemptCount)
	require.NotNil(t, loaded.Cameras["cam2"].LastError)
	assert.Equal(t, KindStall, loaded.Cameras["cam2"].LastError.Kind)

	// a later snapshot without an open segment keeps the last known one
	spm.ApplySnapshot(loaded, Snapshot{Cameras: []CameraStatus{{ID: "cam1", State: StateStopped}}})
	assert.Equal(t, "/rec/cam1_a.ts", loaded.Cameras["cam1"].LastSegment)

	spm.CleanupOldStates(loaded, []string{"cam1"})
	assert.NotContains(t, loaded.Cameras, "cam2")
}

func TestStatePersistenceRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recording_state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := NewStatePersistenceManager(path).LoadState()
	assert.Error(t, err)
}
